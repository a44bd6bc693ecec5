package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/runtime/capability"
	"goa.design/agentcore/runtime/execute"
	"goa.design/agentcore/runtime/model"
	"goa.design/agentcore/runtime/policy"
)

func approveAll(_ context.Context, _ ApprovalRequest) (bool, error) { return true, nil }

func denyAll(_ context.Context, _ ApprovalRequest) (bool, error) { return false, nil }

func newRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	r := capability.NewRegistry()
	err := r.Register(capability.Definition{
		Metadata: capability.Metadata{
			ID:          "file_read",
			Name:        "Read file",
			Description: "Reads a workspace file",
			Modes: map[capability.Mode]bool{
				capability.ModeAssistant:  true,
				capability.ModeAgent:      true,
				capability.ModeAutonomous: true,
			},
			ParameterSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"path"},
			},
		},
		Handler: capability.Handler{
			Execute: func(_ context.Context, params map[string]any, _ *capability.Context) (*capability.Result, error) {
				return &capability.Result{Output: "contents of " + params["path"].(string)}, nil
			},
		},
	})
	require.NoError(t, err)
	return r
}

func newDispatcher(t *testing.T, r policy.Restrictions, opts ...Option) (*Dispatcher, *policy.Engine) {
	t.Helper()
	pe := policy.NewEngine(r)
	d := NewDispatcher(newRegistry(t), pe, execute.NewEngine(), opts...)
	return d, pe
}

func readCall() model.ToolCall {
	return model.ToolCall{
		ID:         "toolu_1",
		Name:       "file_read",
		Parameters: map[string]any{"path": "src/main.go"},
	}
}

func TestDispatchApprovedExecution(t *testing.T) {
	t.Parallel()

	var requests []ApprovalRequest
	d, _ := newDispatcher(t, policy.Restrictions{}, WithApprover(ApproverFunc(
		func(_ context.Context, req ApprovalRequest) (bool, error) {
			requests = append(requests, req)
			return true, nil
		})))

	part, err := d.Dispatch(context.Background(), readCall(), &capability.Context{Workspace: "/ws"}, policy.OperationContext{})
	require.NoError(t, err)
	assert.Equal(t, "toolu_1", part.ToolUseID)
	assert.False(t, part.IsError)
	assert.Equal(t, "contents of src/main.go", part.Content)

	// Assistant mode asks per action.
	require.Len(t, requests, 1)
	assert.Equal(t, capability.ID("file_read"), requests[0].Capability)
	assert.Equal(t, policy.ApprovalPerAction, requests[0].Strategy)
}

func TestDispatchApprovalDenied(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, policy.Restrictions{}, WithApprover(ApproverFunc(denyAll)))

	part, err := d.Dispatch(context.Background(), readCall(), nil, policy.OperationContext{})
	require.ErrorIs(t, err, ErrApprovalDenied)
	assert.True(t, part.IsError)
	assert.Equal(t, "toolu_1", part.ToolUseID)
}

func TestDispatchNoApproverConfigured(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, policy.Restrictions{})

	_, err := d.Dispatch(context.Background(), readCall(), nil, policy.OperationContext{})
	require.ErrorIs(t, err, ErrApprovalDenied)
}

func TestDispatchAutonomousSkipsApproval(t *testing.T) {
	t.Parallel()

	d, pe := newDispatcher(t, policy.Restrictions{}, WithApprover(ApproverFunc(
		func(_ context.Context, _ ApprovalRequest) (bool, error) {
			t.Fatal("approver must not be consulted")
			return false, nil
		})))
	require.NoError(t, pe.SetMode(context.Background(), capability.ModeAutonomous))

	part, err := d.Dispatch(context.Background(), readCall(), nil, policy.OperationContext{})
	require.NoError(t, err)
	assert.False(t, part.IsError)
}

func TestDispatchBlockedCapability(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, policy.Restrictions{
		NeverExecute: []capability.ID{"file_read"},
	}, WithApprover(ApproverFunc(approveAll)))

	part, err := d.Dispatch(context.Background(), readCall(), nil, policy.OperationContext{})
	require.ErrorIs(t, err, policy.ErrOperationBlocked)
	assert.True(t, part.IsError)
}

func TestDispatchUnavailableInMode(t *testing.T) {
	t.Parallel()

	// Shell capabilities need the execute permission, which assistant mode
	// does not grant.
	d, _ := newDispatcher(t, policy.Restrictions{}, WithApprover(ApproverFunc(approveAll)))
	call := model.ToolCall{ID: "toolu_2", Name: "shell_exec", Parameters: map[string]any{}}

	_, err := d.Dispatch(context.Background(), call, nil, policy.OperationContext{})
	require.ErrorIs(t, err, ErrCapabilityUnavailable)
}

func TestDispatchUnknownCapability(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, policy.Restrictions{}, WithApprover(ApproverFunc(approveAll)))
	call := model.ToolCall{ID: "toolu_3", Name: "file_stat", Parameters: map[string]any{}}

	part, err := d.Dispatch(context.Background(), call, nil, policy.OperationContext{})
	require.ErrorIs(t, err, capability.ErrNotFound)
	assert.True(t, part.IsError)
}

func TestDispatchInvalidParameters(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, policy.Restrictions{}, WithApprover(ApproverFunc(approveAll)))
	call := model.ToolCall{ID: "toolu_4", Name: "file_read", Parameters: map[string]any{}}

	part, err := d.Dispatch(context.Background(), call, nil, policy.OperationContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid parameters")
	assert.True(t, part.IsError)
}

func TestDispatchBlockedPath(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, policy.Restrictions{
		BlockedPaths: []string{"secrets"},
	}, WithApprover(ApproverFunc(approveAll)))

	_, err := d.Dispatch(context.Background(), readCall(), nil, policy.OperationContext{
		Paths: []string{"secrets/key.pem"},
	})
	require.Error(t, err)
}

func TestDispatchApproverError(t *testing.T) {
	t.Parallel()

	boom := errors.New("approval channel closed")
	d, _ := newDispatcher(t, policy.Restrictions{}, WithApprover(ApproverFunc(
		func(_ context.Context, _ ApprovalRequest) (bool, error) {
			return false, boom
		})))

	_, err := d.Dispatch(context.Background(), readCall(), nil, policy.OperationContext{})
	require.ErrorIs(t, err, boom)
}
