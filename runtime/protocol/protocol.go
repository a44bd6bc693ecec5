// Package protocol versions, validates, and migrates the structured messages
// exchanged between the extension host and its UI surface. Both sides stamp
// outgoing envelopes with their protocol version, migrate older message
// shapes forward on receipt, and negotiate a mutually supported version via a
// handshake exchange.
package protocol

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"goa.design/agentcore/runtime/telemetry"
)

// Protocol version bounds. Version 1 introduced the typed envelope; version 2
// renamed the chat "content" field to "text".
const (
	// CurrentVersion is the version stamped on outgoing messages.
	CurrentVersion = 2
	// MinSupportedVersion is the oldest version migration can start from for
	// versioned messages. Unversioned (pre-v1) messages are migrated from 0.
	MinSupportedVersion = 1
)

type (
	// Message is a wire envelope: a version, a type discriminator, and typed
	// payload fields. Envelopes are dynamic maps because the two processes
	// evolve independently; validation re-establishes the typing.
	Message map[string]any

	// FieldKind is a closed set of primitive wire field types.
	FieldKind string

	// Field declares one required envelope field.
	Field struct {
		// Name is the field key in the envelope.
		Name string
		// Kind is the required primitive type.
		Kind FieldKind
	}

	// Schema declares the required fields of one message type.
	Schema struct {
		// Required lists fields that must be present with the declared kind.
		Required []Field
	}

	// ValidationResult reports the outcome of schema validation. Unknown
	// message types are flagged, not rejected, so newer counterparts can add
	// types without breaking older receivers.
	ValidationResult struct {
		// Valid reports whether the envelope satisfies its schema.
		Valid bool
		// Errors lists one message per violation. The first error names the
		// offending field and whether it is missing or mistyped.
		Errors []string
		// Warning is "unknown_type" when the message type has no registered
		// schema.
		Warning string
	}

	// ProcessResult is the outcome of processing one incoming envelope.
	// Message is nil whenever validation failed: invalid envelopes are never
	// forwarded to business logic.
	ProcessResult struct {
		Valid   bool
		Errors  []string
		Message Message
	}

	// MigrationFunc transforms a message from one version to the next.
	MigrationFunc func(Message) Message

	// Protocol is one side of the envelope exchange. It wraps outgoing
	// messages, validates and migrates incoming ones, and tracks the
	// version negotiated by the most recent handshake.
	Protocol struct {
		current      int
		minSupported int
		peerType     string

		mu         sync.RWMutex
		schemas    map[string]Schema
		migrations map[int]MigrationFunc
		negotiated *int

		logger telemetry.Logger
	}

	// Option configures a Protocol.
	Option func(*Protocol)
)

// Wire field kinds.
const (
	KindString  FieldKind = "string"
	KindNumber  FieldKind = "number"
	KindBoolean FieldKind = "boolean"
	KindObject  FieldKind = "object"
	KindArray   FieldKind = "array"
)

// WithLogger sets the logger used for deprecation and unknown-type warnings.
func WithLogger(l telemetry.Logger) Option {
	return func(p *Protocol) { p.logger = l }
}

// WithVersions overrides the version bounds. Used by tests and by embedders
// that pin an older protocol.
func WithVersions(current, minSupported int) Option {
	return func(p *Protocol) {
		p.current = current
		p.minSupported = minSupported
	}
}

// New constructs a protocol instance identifying itself as peerType (for
// example "extension" or "webview"). Built-in message schemas and the
// pre-registered migration chain are installed; register more with
// RegisterSchema and RegisterMigrationHandler.
func New(peerType string, opts ...Option) *Protocol {
	p := &Protocol{
		current:      CurrentVersion,
		minSupported: MinSupportedVersion,
		peerType:     peerType,
		schemas:      builtinSchemas(),
		migrations:   make(map[int]MigrationFunc),
		logger:       telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	// Pre-registered chain: unversioned envelopes used a "messageType"
	// discriminator, and v1 chat envelopes carried "content" instead of
	// "text".
	p.RegisterMigrationHandler(0, migrateV0MessageType)
	p.RegisterMigrationHandler(1, migrateV1ChatContent)
	return p
}

// Version returns a message's version and whether one is present.
func (m Message) Version() (int, bool) {
	v, ok := m["version"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Type returns the message type discriminator.
func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

// clone returns a shallow copy so migrations never mutate the caller's map.
func (m Message) clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Wrap stamps the current protocol version on an outgoing message when the
// message does not already carry one.
func (p *Protocol) Wrap(m Message) Message {
	if _, ok := m.Version(); ok {
		return m
	}
	out := m.clone()
	out["version"] = p.current
	return out
}

// IsVersionSupported reports whether the message's version falls within
// [minSupported, current]. Unversioned messages are not supported directly;
// they must be migrated first.
func (p *Protocol) IsVersionSupported(m Message) bool {
	v, ok := m.Version()
	if !ok {
		return false
	}
	return v >= p.minSupported && v <= p.current
}

// RegisterSchema declares the required fields for a message type, replacing
// any previous declaration.
func (p *Protocol) RegisterSchema(msgType string, schema Schema) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemas[msgType] = schema
}

// RegisterMigrationHandler registers the transform taking messages from
// fromVersion to fromVersion+1. Migration applies handlers in ascending
// version order.
func (p *Protocol) RegisterMigrationHandler(fromVersion int, fn MigrationFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.migrations[fromVersion] = fn
}

// Validate checks a message against the schema registered for its type. A
// type with no schema yields a valid result flagged "unknown_type" and a
// logged warning: unknown types are forward-compatible, not errors.
func (p *Protocol) Validate(ctx context.Context, m Message) ValidationResult {
	msgType := m.Type()
	p.mu.RLock()
	schema, known := p.schemas[msgType]
	p.mu.RUnlock()
	if !known {
		p.logger.Warn(ctx, "message type has no registered schema", "type", msgType, "peer", p.peerType)
		return ValidationResult{Valid: true, Warning: "unknown_type"}
	}
	var errs []string
	for _, f := range schema.Required {
		v, present := m[f.Name]
		if !present {
			errs = append(errs, fmt.Sprintf("field %q is missing", f.Name))
			continue
		}
		if !kindMatches(v, f.Kind) {
			errs = append(errs, fmt.Sprintf("field %q has wrong type: expected %s", f.Name, f.Kind))
		}
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Migrate brings a message up to the current version. Unversioned messages
// run the full chain from version 0 and log a deprecation warning. Messages
// already at the current version are returned unchanged with no log.
// Intermediate versions apply only the remaining steps.
func (p *Protocol) Migrate(ctx context.Context, m Message) Message {
	v, versioned := m.Version()
	if versioned && v == p.current {
		return m
	}
	if versioned && (v > p.current || v < 0) {
		// Cannot migrate forward from the future; the version check in
		// ProcessIncoming rejects these.
		return m
	}
	if !versioned {
		v = 0
		p.logger.Warn(ctx, "received unversioned message, migrating from v0",
			"type", m.Type(), "peer", p.peerType)
	}
	out := m.clone()
	p.mu.RLock()
	steps := make([]int, 0, len(p.migrations))
	for from := range p.migrations {
		if from >= v && from < p.current {
			steps = append(steps, from)
		}
	}
	sort.Ints(steps)
	fns := make([]MigrationFunc, len(steps))
	for i, from := range steps {
		fns[i] = p.migrations[from]
	}
	p.mu.RUnlock()
	for _, fn := range fns {
		out = fn(out)
	}
	out["version"] = p.current
	return out
}

// ProcessIncoming migrates then validates one incoming envelope. The result's
// Message is nil whenever validation reports at least one error or the
// version (after migration) falls outside the supported window.
func (p *Protocol) ProcessIncoming(ctx context.Context, m Message) ProcessResult {
	migrated := p.Migrate(ctx, m)
	if !p.IsVersionSupported(migrated) {
		v, _ := migrated.Version()
		return ProcessResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("unsupported protocol version %d (supported %d..%d)", v, p.minSupported, p.current)},
		}
	}
	res := p.Validate(ctx, migrated)
	if !res.Valid {
		return ProcessResult{Valid: false, Errors: res.Errors}
	}
	return ProcessResult{Valid: true, Message: migrated}
}

// kindMatches checks one decoded JSON value against a declared field kind.
func kindMatches(v any, kind FieldKind) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case KindBoolean:
		_, ok := v.(bool)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	case KindArray:
		_, ok := v.([]any)
		return ok
	default:
		return false
	}
}

// builtinSchemas declares the control-plane message types both sides exchange.
func builtinSchemas() map[string]Schema {
	return map[string]Schema{
		"chat": {Required: []Field{
			{Name: "text", Kind: KindString},
			{Name: "role", Kind: KindString},
		}},
		"toolResult": {Required: []Field{
			{Name: "toolUseId", Kind: KindString},
			{Name: "result", Kind: KindObject},
		}},
		"approvalRequest": {Required: []Field{
			{Name: "capability", Kind: KindString},
			{Name: "strategy", Kind: KindString},
		}},
		"approvalResponse": {Required: []Field{
			{Name: "capability", Kind: KindString},
			{Name: "approved", Kind: KindBoolean},
		}},
		"modeChange": {Required: []Field{
			{Name: "mode", Kind: KindString},
		}},
		TypeHandshake: {Required: []Field{
			{Name: "version", Kind: KindNumber},
			{Name: "minVersion", Kind: KindNumber},
			{Name: "clientType", Kind: KindString},
		}},
		TypeHandshakeResponse: {Required: []Field{
			{Name: "version", Kind: KindNumber},
			{Name: "compatible", Kind: KindBoolean},
		}},
	}
}

// migrateV0MessageType renames the pre-v1 "messageType" discriminator to
// "type".
func migrateV0MessageType(m Message) Message {
	if t, ok := m["messageType"]; ok {
		if _, exists := m["type"]; !exists {
			m["type"] = t
		}
		delete(m, "messageType")
	}
	return m
}

// migrateV1ChatContent renames the v1 chat "content" field to "text".
func migrateV1ChatContent(m Message) Message {
	if m.Type() != "chat" {
		return m
	}
	if c, ok := m["content"]; ok {
		if _, exists := m["text"]; !exists {
			m["text"] = c
		}
		delete(m, "content")
	}
	return m
}
