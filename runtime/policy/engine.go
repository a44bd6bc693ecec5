package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"goa.design/agentcore/runtime/capability"
	"goa.design/agentcore/runtime/telemetry"
)

// Engine errors. Callers discriminate with errors.Is.
var (
	// ErrOperationBlocked indicates a capability type the user listed in
	// never_execute. Blocked operations are a hard failure: they are never
	// executed and never merely reported as a validation error.
	ErrOperationBlocked = errors.New("operation blocked by user restrictions")
	// ErrInvalidMode indicates a mode transition to a value outside the mode
	// enum. Invalid transitions are rejected, not ignored.
	ErrInvalidMode = errors.New("invalid operating mode")
)

type (
	// OperationContext carries the per-invocation facts the engine needs to
	// compute a verdict. Verdicts are value snapshots: a mode change after a
	// verdict was computed does not affect the in-flight invocation.
	OperationContext struct {
		// PlanApproved reports whether the action belongs to a plan the user
		// already approved.
		PlanApproved bool
		// Paths lists the workspace-relative paths the operation will touch.
		Paths []string
		// BatchSize is the number of files touched by the batch this
		// operation belongs to. Zero when not a batch.
		BatchSize int
		// OperationCount is the number of operations the current task has
		// already issued, including this one.
		OperationCount int
	}

	// Engine is the three-tier mode policy engine. The current mode is the
	// only mutable field; per-mode configuration and user restrictions are
	// fixed at construction.
	Engine struct {
		mu      sync.RWMutex
		mode    capability.Mode
		configs map[capability.Mode]ModeConfig

		restrictions  Restrictions
		alwaysApprove map[capability.ID]struct{}
		neverExecute  map[capability.ID]struct{}
		allowedPaths  []string
		blockedPaths  []string

		logger telemetry.Logger
	}

	// Option configures an Engine.
	Option func(*Engine)
)

// WithLogger sets the logger used for mode-change notifications and verdict
// diagnostics. Defaults to the noop logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithModeConfigs replaces the built-in per-mode configuration.
func WithModeConfigs(configs map[capability.Mode]ModeConfig) Option {
	return func(e *Engine) { e.configs = configs }
}

// NewEngine constructs a policy engine with the given user restrictions. The
// initial mode is assistant, the most conservative.
func NewEngine(r Restrictions, opts ...Option) *Engine {
	e := &Engine{
		mode:          capability.ModeAssistant,
		configs:       defaultModeConfigs(),
		restrictions:  r,
		alwaysApprove: idSet(r.AlwaysApprove),
		neverExecute:  idSet(r.NeverExecute),
		allowedPaths:  normalizePrefixes(r.AllowedPaths),
		blockedPaths:  normalizePrefixes(r.BlockedPaths),
		logger:        telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the current operating mode.
func (e *Engine) Mode() capability.Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// ModeConfig returns the configuration of the given mode and whether the mode
// is known.
func (e *Engine) ModeConfig(mode capability.Mode) (ModeConfig, bool) {
	cfg, ok := e.configs[mode]
	return cfg, ok
}

// SetMode transitions the engine to mode. It returns ErrInvalidMode when the
// value is outside the mode enum. Successful transitions are logged; verdicts
// computed before the transition are unaffected.
func (e *Engine) SetMode(ctx context.Context, mode capability.Mode) error {
	if !capability.ValidMode(mode) {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	e.mu.Lock()
	prev := e.mode
	e.mode = mode
	e.mu.Unlock()
	e.logger.Info(ctx, "operating mode changed", "from", string(prev), "to", string(mode))
	return nil
}

// IsCapabilityAvailable reports whether the capability type's mode flag is
// enabled for the current mode.
func (e *Engine) IsCapabilityAvailable(id capability.ID) bool {
	mode := e.Mode()
	cfg, ok := e.configs[mode]
	if !ok {
		return false
	}
	return cfg.Flags[flagFor(id)]
}

// ApprovalStrategy computes the approval verdict for one capability
// invocation. It returns ErrOperationBlocked for capability types in
// never_execute. Otherwise:
//
//   - autonomous: "always" when the type is in always_approve, else "none";
//   - agent: "always" for high-risk types even when the plan was approved,
//     "none" for members of an approved plan, else "per_plan";
//   - assistant: "per_action", unconditionally.
func (e *Engine) ApprovalStrategy(id capability.ID, opCtx OperationContext) (ApprovalStrategy, error) {
	if _, blocked := e.neverExecute[id]; blocked {
		return "", fmt.Errorf("%w: %q", ErrOperationBlocked, id)
	}
	switch e.Mode() {
	case capability.ModeAutonomous:
		if _, ok := e.alwaysApprove[id]; ok {
			return ApprovalAlways, nil
		}
		return ApprovalNone, nil
	case capability.ModeAgent:
		if HighRisk(id) {
			return ApprovalAlways, nil
		}
		if opCtx.PlanApproved {
			return ApprovalNone, nil
		}
		return ApprovalPerPlan, nil
	default:
		return ApprovalPerAction, nil
	}
}

// ValidateOperation aggregates the availability check, path-restriction
// checks, and batch/task limits into one result. It returns a hard error only
// for blocked operations; every other failure is reported in the error list.
func (e *Engine) ValidateOperation(id capability.ID, opCtx OperationContext) (capability.ValidationResult, error) {
	if _, blocked := e.neverExecute[id]; blocked {
		return capability.ValidationResult{}, fmt.Errorf("%w: %q", ErrOperationBlocked, id)
	}
	var errs []string
	if !e.IsCapabilityAvailable(id) {
		errs = append(errs, fmt.Sprintf("capability %q is not available in %s mode", id, e.Mode()))
	}
	for _, p := range opCtx.Paths {
		if err := e.ValidatePath(p); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if max := e.restrictions.MaxFilesPerBatch; max > 0 && opCtx.BatchSize > max {
		errs = append(errs, fmt.Sprintf("batch size %d exceeds limit %d", opCtx.BatchSize, max))
	}
	if max := e.restrictions.MaxOperationsPerTask; max > 0 && opCtx.OperationCount > max {
		errs = append(errs, fmt.Sprintf("operation count %d exceeds per-task limit %d", opCtx.OperationCount, max))
	}
	return capability.ValidationResult{Valid: len(errs) == 0, Errors: errs}, nil
}

// ValidatePath enforces the configured path restrictions. A path matching a
// blocked prefix is rejected in every mode, even when it also matches an
// allowed prefix. In autonomous mode only, a non-empty allow-list additionally
// requires the path to match one of its prefixes.
func (e *Engine) ValidatePath(p string) error {
	cleaned := strings.TrimSuffix(strings.TrimSpace(p), "/")
	for _, prefix := range e.blockedPaths {
		if hasPathPrefix(cleaned, prefix) {
			return fmt.Errorf("path %q is blocked by restriction %q", p, prefix)
		}
	}
	if e.Mode() == capability.ModeAutonomous && len(e.allowedPaths) > 0 {
		for _, prefix := range e.allowedPaths {
			if hasPathPrefix(cleaned, prefix) {
				return nil
			}
		}
		return fmt.Errorf("path %q is outside the allowed paths", p)
	}
	return nil
}

// hasPathPrefix matches on whole path segments so a prefix of "secrets" does
// not match "secrets2/file".
func hasPathPrefix(p, prefix string) bool {
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}
