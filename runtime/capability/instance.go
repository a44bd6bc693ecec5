package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrRollbackUnsupported indicates a rollback request against a capability
// whose metadata declares no rollback support.
var ErrRollbackUnsupported = errors.New("capability does not support rollback")

// maxRollbackPoints bounds the per-instance rollback stack. The oldest point
// is pruned when the bound is exceeded; there is no time-based expiry.
const maxRollbackPoints = 32

type (
	// ExecutionStatus classifies one history record.
	ExecutionStatus string

	// HistoryRecord is one append-only entry in an instance's execution
	// history.
	HistoryRecord struct {
		// ID uniquely identifies the record.
		ID string
		// Params are the parameters the attempt ran with.
		Params map[string]any
		// Result is the outcome of a successful attempt. Nil on failure.
		Result *Result
		// Err is the failure message of a failed attempt. Empty on success.
		Err string
		// Status is StatusSuccess or StatusFailure.
		Status ExecutionStatus
		// Timestamp records when the attempt finished.
		Timestamp time.Time
	}

	// Instance is a capability bound to one invocation scope. It owns an
	// append-only execution history and a stack of rollback points
	// (most-recent-last). Both are instance-local: concurrent invocations of
	// the same capability identifier each get their own instance, so no
	// cross-instance locking is needed.
	Instance struct {
		def    Definition
		schema *jsonschema.Schema
		cctx   *Context

		history  []HistoryRecord
		rollback []*RollbackPoint
	}
)

// Execution statuses.
const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailure ExecutionStatus = "failure"
)

func newInstance(def Definition, schema *jsonschema.Schema, cctx *Context) *Instance {
	return &Instance{def: def, schema: schema, cctx: cctx}
}

// Metadata returns the capability's static metadata.
func (i *Instance) Metadata() Metadata {
	return cloneMetadata(i.def.Metadata)
}

// Validate checks params against the base rules (schema, workspace-relative
// non-traversing paths) and the capability's own Validate function when one
// is declared. It is pure and safe to call before any side effect occurs.
func (i *Instance) Validate(params map[string]any) ValidationResult {
	errs := i.baseValidate(params)
	if i.def.Handler.Validate != nil {
		if extra := i.def.Handler.Validate(params); extra != nil && !extra.Valid {
			errs = append(errs, extra.Errors...)
		}
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Execute runs the capability's side-effecting entry point. It performs no
// retry or rollback orchestration; see the execute package for that.
func (i *Instance) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	res, err := i.def.Handler.Execute(ctx, params, i.cctx)
	if err != nil {
		return nil, fmt.Errorf("capability %s: %w", i.def.Metadata.ID, err)
	}
	return res, nil
}

// CreateRollbackPoint captures undo state for the upcoming execution. It
// returns nil when the capability does not support rollback. The returned
// point is stamped with an identifier and the owning capability.
func (i *Instance) CreateRollbackPoint(ctx context.Context, params map[string]any) (*RollbackPoint, error) {
	if !i.def.Metadata.Rollback.Supported || i.def.Handler.CreateRollbackPoint == nil {
		return nil, nil
	}
	point, err := i.def.Handler.CreateRollbackPoint(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("capability %s: create rollback point: %w", i.def.Metadata.ID, err)
	}
	if point == nil {
		return nil, nil
	}
	if point.ID == "" {
		point.ID = uuid.NewString()
	}
	point.Capability = i.def.Metadata.ID
	if point.CreatedAt.IsZero() {
		point.CreatedAt = time.Now().UTC()
	}
	return point, nil
}

// Rollback consumes a previously captured point. It returns
// ErrRollbackUnsupported when the capability's metadata declares no rollback.
func (i *Instance) Rollback(ctx context.Context, point *RollbackPoint) (*Result, error) {
	if !i.def.Metadata.Rollback.Supported || i.def.Handler.Rollback == nil {
		return nil, fmt.Errorf("capability %s: %w", i.def.Metadata.ID, ErrRollbackUnsupported)
	}
	res, err := i.def.Handler.Rollback(ctx, point)
	if err != nil {
		return nil, fmt.Errorf("capability %s: rollback: %w", i.def.Metadata.ID, err)
	}
	return res, nil
}

// PushRollbackPoint appends a point to the instance stack, pruning the oldest
// entry when the bound is exceeded.
func (i *Instance) PushRollbackPoint(point *RollbackPoint) {
	if point == nil {
		return
	}
	i.rollback = append(i.rollback, point)
	if len(i.rollback) > maxRollbackPoints {
		i.rollback = i.rollback[len(i.rollback)-maxRollbackPoints:]
	}
}

// PopRollbackPoint removes and returns the most recent point, or nil when the
// stack is empty.
func (i *Instance) PopRollbackPoint() *RollbackPoint {
	if len(i.rollback) == 0 {
		return nil
	}
	point := i.rollback[len(i.rollback)-1]
	i.rollback = i.rollback[:len(i.rollback)-1]
	return point
}

// RollbackDepth reports the number of points on the stack.
func (i *Instance) RollbackDepth() int {
	return len(i.rollback)
}

// RecordSuccess appends a success record to the execution history.
func (i *Instance) RecordSuccess(params map[string]any, result *Result) {
	i.history = append(i.history, HistoryRecord{
		ID:        uuid.NewString(),
		Params:    params,
		Result:    result,
		Status:    StatusSuccess,
		Timestamp: time.Now().UTC(),
	})
}

// RecordFailure appends a failure record to the execution history.
func (i *Instance) RecordFailure(params map[string]any, err error) {
	rec := HistoryRecord{
		ID:        uuid.NewString(),
		Params:    params,
		Status:    StatusFailure,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		rec.Err = err.Error()
	}
	i.history = append(i.history, rec)
}

// History returns a copy of the append-only execution history.
func (i *Instance) History() []HistoryRecord {
	return append([]HistoryRecord(nil), i.history...)
}
