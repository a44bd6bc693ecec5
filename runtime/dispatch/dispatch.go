// Package dispatch turns assembled tool calls into capability executions. A
// Dispatcher threads each call through the policy engine, asks the host for
// approval when the active mode requires it, and hands validated invocations
// to the execution engine. Results come back as tool result parts ready to be
// appended to the model transcript.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"goa.design/agentcore/runtime/capability"
	"goa.design/agentcore/runtime/execute"
	"goa.design/agentcore/runtime/model"
	"goa.design/agentcore/runtime/policy"
	"goa.design/agentcore/runtime/telemetry"
)

var (
	// ErrCapabilityUnavailable indicates the requested capability is not
	// usable in the current operating mode.
	ErrCapabilityUnavailable = errors.New("capability not available in current mode")

	// ErrApprovalDenied indicates the host declined the invocation.
	ErrApprovalDenied = errors.New("approval denied")
)

type (
	// Approver decides whether an invocation that requires approval may
	// proceed. Implementations typically prompt the user; hosts running
	// pre-approved plans can return true unconditionally.
	Approver interface {
		Approve(ctx context.Context, req ApprovalRequest) (bool, error)
	}

	// ApproverFunc adapts a function to the Approver interface.
	ApproverFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

	// ApprovalRequest describes the invocation awaiting a decision.
	ApprovalRequest struct {
		// Capability is the identifier of the capability to invoke.
		Capability capability.ID
		// Parameters carries the decoded tool call arguments.
		Parameters map[string]any
		// Strategy is the approval granularity the active mode demands.
		Strategy policy.ApprovalStrategy
	}

	// Dispatcher routes tool calls to capability executions.
	Dispatcher struct {
		registry *capability.Registry
		policy   *policy.Engine
		engine   *execute.Engine
		approver Approver
		logger   telemetry.Logger
	}

	// Option configures a Dispatcher.
	Option func(*Dispatcher)
)

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	return f(ctx, req)
}

// WithApprover sets the approval hook. Without one, any invocation whose
// strategy is not "none" is denied.
func WithApprover(a Approver) Option {
	return func(d *Dispatcher) { d.approver = a }
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l telemetry.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher wires a registry, a policy engine and an execution engine
// into a tool call dispatcher.
func NewDispatcher(r *capability.Registry, p *policy.Engine, e *execute.Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: r,
		policy:   p,
		engine:   e,
		logger:   telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes one tool call under the active policy. The returned tool
// result part always carries the call's tool-use ID; failures are reported
// both as a non-nil error and as an IsError result so callers can feed the
// outcome back to the model without special-casing.
func (d *Dispatcher) Dispatch(ctx context.Context, call model.ToolCall, cctx *capability.Context, opCtx policy.OperationContext) (model.ToolResultPart, error) {
	res, err := d.dispatch(ctx, call, cctx, opCtx)
	if err != nil {
		d.logger.Warn(ctx, "tool call failed", "capability", string(call.Name), "tool_use_id", call.ID, "err", err)
		return model.ToolResultPart{
			ToolUseID: call.ID,
			Content:   err.Error(),
			IsError:   true,
		}, err
	}
	content := any(res.Message)
	if res.Output != nil {
		content = res.Output
	}
	return model.ToolResultPart{ToolUseID: call.ID, Content: content}, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, call model.ToolCall, cctx *capability.Context, opCtx policy.OperationContext) (*capability.Result, error) {
	if !d.policy.IsCapabilityAvailable(call.Name) {
		return nil, fmt.Errorf("%w: %q in mode %s", ErrCapabilityUnavailable, call.Name, d.policy.Mode())
	}

	vr, err := d.policy.ValidateOperation(call.Name, opCtx)
	if err != nil {
		return nil, err
	}
	if !vr.Valid {
		return nil, fmt.Errorf("operation rejected: %v", vr.Errors)
	}

	strategy, err := d.policy.ApprovalStrategy(call.Name, opCtx)
	if err != nil {
		return nil, err
	}
	if strategy != policy.ApprovalNone {
		if err := d.requestApproval(ctx, call, strategy); err != nil {
			return nil, err
		}
	}

	inst, err := d.registry.Create(call.Name, cctx)
	if err != nil {
		return nil, err
	}
	if pv := inst.Validate(call.Parameters); !pv.Valid {
		return nil, fmt.Errorf("invalid parameters for %q: %v", call.Name, pv.Errors)
	}

	return d.engine.ExecuteWithRetry(ctx, inst, call.Parameters)
}

func (d *Dispatcher) requestApproval(ctx context.Context, call model.ToolCall, strategy policy.ApprovalStrategy) error {
	if d.approver == nil {
		return fmt.Errorf("%w: no approver configured for strategy %s", ErrApprovalDenied, strategy)
	}
	ok, err := d.approver.Approve(ctx, ApprovalRequest{
		Capability: call.Name,
		Parameters: call.Parameters,
		Strategy:   strategy,
	})
	if err != nil {
		return fmt.Errorf("approval request for %q: %w", call.Name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrApprovalDenied, call.Name)
	}
	return nil
}
