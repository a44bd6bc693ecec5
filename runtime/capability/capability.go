// Package capability defines the catalog of actions the assistant core can
// perform on behalf of a model-driven session. A capability is a data-driven
// unit: a metadata record describing risk, mode availability, approval
// requirements and rollback support, plus a small set of functions satisfying
// the execution contract. Dispatch is by function value, not inheritance.
package capability

import (
	"context"
	"time"
)

type (
	// ID is the strong type for globally unique capability identifiers
	// (for example "file_create" or "git_push"). Use this type in maps and
	// APIs to avoid mixing with free-form strings.
	ID string

	// Category groups related capabilities for catalog browsing
	// (for example "filesystem", "git", "shell").
	Category string

	// RiskLevel is a coarse risk signal for policy decisions.
	RiskLevel string

	// Mode identifies one of the three operating modes the core runs in.
	// Modes govern how much human approval an action needs before it
	// executes.
	Mode string

	// ApprovalRequirement is a capability's declared approval need for one
	// operating mode.
	ApprovalRequirement string

	// RollbackStrategy names how a capability undoes a completed execution.
	RollbackStrategy string

	// Rollback describes a capability's compensating-undo support.
	Rollback struct {
		// Supported reports whether the capability can undo an execution.
		Supported bool
		// Strategy names the undo mechanism. RollbackNone when Supported is false.
		Strategy RollbackStrategy
	}

	// Constraints bound a single capability execution.
	Constraints struct {
		// MaxConcurrent caps parallel executions within one batch. Zero means
		// no declared limit.
		MaxConcurrent int
		// Timeout bounds one execution attempt. Zero means no declared limit.
		Timeout time.Duration
		// Retryable reports whether failed executions may be retried.
		Retryable bool
		// MaxRetries caps execution attempts when Retryable is true.
		MaxRetries int
	}

	// Metadata is the static description of a capability. It is immutable
	// after registration; catalog queries return copies.
	Metadata struct {
		// ID is the unique capability identifier within a registry.
		ID ID
		// Name is the human-readable capability name.
		Name string
		// Category groups the capability in the catalog.
		Category Category
		// Description documents the capability for planners and tooling.
		Description string
		// Version is the semantic version of the capability contract.
		Version string
		// Risk classifies the blast radius of the capability.
		Risk RiskLevel
		// Modes reports availability per operating mode. A missing entry
		// means unavailable.
		Modes map[Mode]bool
		// Approval declares the approval requirement per operating mode.
		Approval map[Mode]ApprovalRequirement
		// HighRiskApproval overrides Approval when the capability is
		// classified high risk. Empty means no override.
		HighRiskApproval ApprovalRequirement
		// Constraints bound execution attempts.
		Constraints Constraints
		// Permissions lists permission tags the host must grant before the
		// capability executes.
		Permissions []string
		// Rollback describes compensating-undo support.
		Rollback Rollback
		// Dependencies lists capability identifiers this capability depends
		// on. Must not contain the capability's own ID.
		Dependencies []ID
		// ParameterSchema is the JSON-Schema-shaped object describing the
		// capability's parameters ({"type": "object", "properties": ...,
		// "required": [...]}). Compiled at registration time.
		ParameterSchema map[string]any
	}

	// Result is the outcome of a successful execution or rollback.
	Result struct {
		// Output carries the capability-specific result value.
		Output any
		// Message is an optional human-readable summary.
		Message string
	}

	// ValidationResult aggregates parameter validation findings. Validation
	// is pure: it never performs side effects.
	ValidationResult struct {
		// Valid reports whether the parameters passed all checks.
		Valid bool
		// Errors lists one message per violation.
		Errors []string
	}

	// RollbackPoint captures enough state to undo one execution. Ownership is
	// exclusive to the instance that created it and it is consumed at most
	// once by Rollback.
	RollbackPoint struct {
		// ID uniquely identifies the point.
		ID string
		// Capability is the identifier of the capability that produced the point.
		Capability ID
		// CreatedAt records when the point was captured.
		CreatedAt time.Time
		// State is the capability-specific undo payload (for a file-creation
		// capability, typically just the target path).
		State any
	}

	// Context carries the injected collaborators a capability execution may
	// use. Concrete capabilities own all host-specific I/O; the core only
	// threads this value through.
	Context struct {
		// Workspace is the root directory all file-addressing parameters are
		// resolved against.
		Workspace string
		// Values holds host-injected collaborators keyed by name.
		Values map[string]any
	}

	// Handler is the executable contract of a capability. Execute is
	// required; the remaining functions are optional refinements.
	Handler struct {
		// Execute is the sole side-effecting entry point.
		Execute func(ctx context.Context, params map[string]any, cctx *Context) (*Result, error)
		// Validate adds capability-specific parameter checks on top of the
		// base schema and path rules. Nil means base validation only.
		Validate func(params map[string]any) *ValidationResult
		// CreateRollbackPoint captures undo state before an execution. Nil
		// when rollback is unsupported.
		CreateRollbackPoint func(ctx context.Context, params map[string]any) (*RollbackPoint, error)
		// Rollback consumes a previously captured point. Nil when rollback is
		// unsupported.
		Rollback func(ctx context.Context, point *RollbackPoint) (*Result, error)
	}

	// Definition pairs capability metadata with its handler. Definitions are
	// what callers register; instances are created per invocation.
	Definition struct {
		Metadata Metadata
		Handler  Handler
	}
)

// Operating modes, most conservative first.
const (
	// ModeAssistant requires explicit approval for every action.
	ModeAssistant Mode = "assistant"
	// ModeAgent approves whole plans; high-risk actions still need explicit
	// approval.
	ModeAgent Mode = "agent"
	// ModeAutonomous executes without approval except for actions the user
	// listed in alwaysApprove.
	ModeAutonomous Mode = "autonomous"
)

// ValidMode reports whether m is one of the three operating modes.
func ValidMode(m Mode) bool {
	switch m {
	case ModeAssistant, ModeAgent, ModeAutonomous:
		return true
	default:
		return false
	}
}

// Risk levels, ordered by severity.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Approval requirements a capability may declare per mode.
const (
	ApprovalNone    ApprovalRequirement = "none"
	ApprovalBatch   ApprovalRequirement = "batch"
	ApprovalAlways  ApprovalRequirement = "always"
	ApprovalPerPlan ApprovalRequirement = "per_plan"
)

// Rollback strategies.
const (
	RollbackBackup       RollbackStrategy = "backup"
	RollbackTransaction  RollbackStrategy = "transaction"
	RollbackCompensating RollbackStrategy = "compensating"
	RollbackNone         RollbackStrategy = "none"
)

// String returns the string representation of the identifier.
func (id ID) String() string {
	return string(id)
}

// AvailableIn reports whether the capability is enabled for the given mode.
func (m Metadata) AvailableIn(mode Mode) bool {
	return m.Modes[mode]
}

// Value returns the named collaborator, or nil when absent.
func (c *Context) Value(name string) any {
	if c == nil || c.Values == nil {
		return nil
	}
	return c.Values[name]
}
