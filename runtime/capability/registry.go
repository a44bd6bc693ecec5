package capability

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry errors. Callers discriminate with errors.Is.
var (
	// ErrDuplicateID indicates a registration with an identifier already in
	// the catalog.
	ErrDuplicateID = errors.New("capability already registered")
	// ErrNotFound indicates a lookup for an unregistered identifier.
	ErrNotFound = errors.New("capability not found")
	// ErrInvalidCapability indicates a definition that does not satisfy the
	// capability contract.
	ErrInvalidCapability = errors.New("invalid capability definition")
)

// Registry is the catalog of capability definitions, keyed by unique
// identifier and indexed by category. It is an explicitly constructed value
// owned by the top-level orchestrator; there is no package-level instance.
//
// The catalog is read-mostly: lookups and filters may run concurrently with
// capability invocations. Mutation (Register, Unregister, Clear) is expected
// during setup and teardown windows.
type Registry struct {
	mu    sync.RWMutex
	byID  map[ID]*entry
	byCat map[Category][]ID
}

type entry struct {
	def    Definition
	schema *jsonschema.Schema
}

// NewRegistry constructs an empty capability catalog.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[ID]*entry),
		byCat: make(map[Category][]ID),
	}
}

// Register adds a definition to the catalog. It returns ErrDuplicateID when
// the identifier is already present and ErrInvalidCapability when the
// definition does not satisfy the contract (missing identifier, missing
// Execute, self-referential dependency, or a parameter schema that does not
// compile).
func (r *Registry) Register(def Definition) error {
	id := def.Metadata.ID
	if id == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidCapability)
	}
	if def.Handler.Execute == nil {
		return fmt.Errorf("%w: capability %q has no execute function", ErrInvalidCapability, id)
	}
	for _, dep := range def.Metadata.Dependencies {
		if dep == id {
			return fmt.Errorf("%w: capability %q depends on itself", ErrInvalidCapability, id)
		}
	}
	schema, err := compileParameterSchema(id, def.Metadata.ParameterSchema)
	if err != nil {
		return fmt.Errorf("%w: capability %q parameter schema: %v", ErrInvalidCapability, id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}
	r.byID[id] = &entry{def: def, schema: schema}
	cat := def.Metadata.Category
	r.byCat[cat] = append(r.byCat[cat], id)
	return nil
}

// Unregister removes a single definition from the catalog. Removing an
// absent identifier is a no-op.
func (r *Registry) Unregister(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	cat := e.def.Metadata.Category
	ids := r.byCat[cat]
	for i, other := range ids {
		if other == id {
			r.byCat[cat] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byCat[cat]) == 0 {
		delete(r.byCat, cat)
	}
}

// Clear resets the catalog. Safe to call when empty; callers use it before
// re-registration so hot reload does not trip duplicate-id failures.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[ID]*entry)
	r.byCat = make(map[Category][]ID)
}

// Has reports whether an identifier is registered.
func (r *Registry) Has(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Get returns a snapshot of the metadata registered under id. It returns
// ErrNotFound when the identifier is absent.
func (r *Registry) Get(id ID) (Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return cloneMetadata(e.def.Metadata), nil
}

// Create instantiates the capability registered under id, bound to the given
// execution context. Each instance owns its execution history and rollback
// stack; instances are never shared across concurrent invocations.
func (r *Registry) Create(id ID, cctx *Context) (*Instance, error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return newInstance(e.def, e.schema, cctx), nil
}

// ByMode returns metadata snapshots for all capabilities available in mode,
// sorted by identifier.
func (r *Registry) ByMode(mode Mode) []Metadata {
	return r.filter(func(m Metadata) bool { return m.AvailableIn(mode) })
}

// ByCategory returns metadata snapshots for all capabilities in the given
// category, sorted by identifier.
func (r *Registry) ByCategory(cat Category) []Metadata {
	return r.filter(func(m Metadata) bool { return m.Category == cat })
}

// ByRiskLevel returns metadata snapshots for all capabilities at the given
// risk level, sorted by identifier.
func (r *Registry) ByRiskLevel(level RiskLevel) []Metadata {
	return r.filter(func(m Metadata) bool { return m.Risk == level })
}

// Search returns metadata snapshots for capabilities whose identifier, name,
// description or category contains query, case-insensitively. An empty query
// matches nothing.
func (r *Registry) Search(query string) []Metadata {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	return r.filter(func(m Metadata) bool {
		return strings.Contains(strings.ToLower(string(m.ID)), q) ||
			strings.Contains(strings.ToLower(m.Name), q) ||
			strings.Contains(strings.ToLower(m.Description), q) ||
			strings.Contains(strings.ToLower(string(m.Category)), q)
	})
}

// IDs returns all registered identifiers, sorted.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len reports the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) filter(keep func(Metadata) bool) []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Metadata
	for _, e := range r.byID {
		if keep(e.def.Metadata) {
			out = append(out, cloneMetadata(e.def.Metadata))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// cloneMetadata returns a deep-enough copy so catalog queries never expose
// registered state to mutation.
func cloneMetadata(m Metadata) Metadata {
	out := m
	if m.Modes != nil {
		out.Modes = make(map[Mode]bool, len(m.Modes))
		for k, v := range m.Modes {
			out.Modes[k] = v
		}
	}
	if m.Approval != nil {
		out.Approval = make(map[Mode]ApprovalRequirement, len(m.Approval))
		for k, v := range m.Approval {
			out.Approval[k] = v
		}
	}
	out.Permissions = append([]string(nil), m.Permissions...)
	out.Dependencies = append([]ID(nil), m.Dependencies...)
	return out
}

// compileParameterSchema compiles the JSON-Schema-shaped parameter object so
// instances validate parameters without recompiling per call. A nil schema is
// allowed and disables schema validation.
func compileParameterSchema(id ID, schema map[string]any) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("inline://capability/%s.json", id)
	if err := c.AddResource(url, normalizeSchemaDoc(schema)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// normalizeSchemaDoc converts typed Go values (e.g. []string for "required")
// into the plain decoded-JSON shapes the schema compiler expects.
func normalizeSchemaDoc(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeSchemaDoc(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeSchemaDoc(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case int:
		return float64(t)
	default:
		return v
	}
}
