package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"goa.design/agentcore/runtime/capability"
)

// Restrictions is the user-configured restriction surface consumed by the
// engine. It is read once at engine construction and treated as immutable for
// the lifetime of the engine; reloading requires constructing a new engine.
type Restrictions struct {
	// AlwaysApprove lists capability types that require confirmation even in
	// autonomous mode.
	AlwaysApprove []capability.ID `yaml:"always_approve"`
	// NeverExecute lists capability types that are blocked outright.
	NeverExecute []capability.ID `yaml:"never_execute"`
	// MaxOperationsPerTask caps the number of operations one task may issue.
	// Zero means unlimited.
	MaxOperationsPerTask int `yaml:"max_operations_per_task"`
	// MaxFilesPerBatch caps the number of files touched by one batch. Zero
	// means unlimited.
	MaxFilesPerBatch int `yaml:"max_files_per_batch"`
	// AllowedPaths lists workspace-relative path prefixes operations may
	// touch. Only enforced in autonomous mode, and only when non-empty.
	AllowedPaths []string `yaml:"allowed_paths"`
	// BlockedPaths lists path prefixes operations may never touch, in any
	// mode.
	BlockedPaths []string `yaml:"blocked_paths"`
}

// LoadRestrictions reads a YAML restrictions file from the host configuration
// store.
func LoadRestrictions(path string) (Restrictions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Restrictions{}, fmt.Errorf("read restrictions: %w", err)
	}
	var r Restrictions
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Restrictions{}, fmt.Errorf("decode restrictions: %w", err)
	}
	return r, nil
}

// idSet builds a lookup set from a capability type list.
func idSet(ids []capability.ID) map[capability.ID]struct{} {
	out := make(map[capability.ID]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

// normalizePrefixes trims surrounding whitespace and trailing separators so
// prefix matching is stable.
func normalizePrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, strings.TrimSuffix(p, "/"))
	}
	return out
}
