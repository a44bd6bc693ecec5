package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/agentcore/runtime/telemetry"
)

type (
	// EventKind is the closed set of provider wire events the assembler
	// consumes. Provider adapters translate their SDK's streaming events into
	// these before handing them to the Assembler.
	EventKind string

	// Event is one provider wire event.
	Event struct {
		// Kind discriminates the event.
		Kind EventKind
		// Index identifies the content block the event belongs to. Tool-use
		// start, input delta and block stop events for the same tool call
		// share an index.
		Index int
		// ID is the tool-use identifier on EventToolUseStart.
		ID string
		// Name is the tool name on EventToolUseStart.
		Name string
		// Text is the text delta on EventText.
		Text string
		// Delta is the raw partial-JSON fragment on EventToolInputDelta.
		Delta string
		// Usage is the usage delta on EventUsage.
		Usage *TokenUsage
		// StopReason is the termination reason on EventStop.
		StopReason string
		// Err is the provider error message on EventError.
		Err string
	}

	// StreamError is a provider error event or transport failure that aborted
	// a streaming operation.
	StreamError struct {
		// Provider names the provider whose stream failed.
		Provider string
		// Message is the provider's error message.
		Message string
	}

	// Assembler is the streaming state machine that reconstructs tool calls
	// from wire events. Text deltas are forwarded immediately; tool input
	// fragments accumulate per content block until the block stops, at which
	// point the buffered JSON is parsed and the complete tool call emitted.
	// Malformed tool input never aborts the stream: it yields empty
	// parameters and a logged warning.
	//
	// One Assembler serves one streaming response; it is not safe for
	// concurrent use.
	Assembler struct {
		emit   func(Chunk) error
		logger telemetry.Logger

		blocks map[int]*toolAccum
		usage  TokenUsage
	}

	// AssemblerOption configures an Assembler.
	AssemblerOption func(*Assembler)

	toolAccum struct {
		id        string
		name      string
		fragments []string
	}
)

// Wire event kinds.
const (
	EventText           EventKind = "text"
	EventToolUseStart   EventKind = "tool_use_start"
	EventToolInputDelta EventKind = "tool_input_delta"
	EventBlockStop      EventKind = "content_block_stop"
	EventUsage          EventKind = "usage_delta"
	EventStop           EventKind = "stop"
	EventError          EventKind = "error"
)

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("stream error: %s", e.Message)
	}
	return fmt.Sprintf("%s stream error: %s", e.Provider, e.Message)
}

// WithAssemblerLogger sets the logger used for malformed-input warnings.
func WithAssemblerLogger(l telemetry.Logger) AssemblerOption {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler constructs an assembler that delivers chunks through emit.
// Emit returning an error aborts the stream (typically on cancellation).
func NewAssembler(emit func(Chunk) error, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		emit:   emit,
		logger: telemetry.NewNoopLogger(),
		blocks: make(map[int]*toolAccum),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle consumes one wire event. It returns a *StreamError on provider error
// events, and propagates emit errors so cancellation stops event processing.
// Any tool call emitted before an error remains valid and is not retracted.
func (a *Assembler) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventText:
		if ev.Text == "" {
			return nil
		}
		return a.emit(Chunk{Type: ChunkTypeText, Text: ev.Text})

	case EventToolUseStart:
		if ev.ID == "" {
			return fmt.Errorf("tool use block missing id")
		}
		if ev.Name == "" {
			return fmt.Errorf("tool use block %q missing name", ev.ID)
		}
		a.blocks[ev.Index] = &toolAccum{id: ev.ID, name: ev.Name}
		return nil

	case EventToolInputDelta:
		acc := a.blocks[ev.Index]
		if acc == nil || ev.Delta == "" {
			return nil
		}
		acc.fragments = append(acc.fragments, ev.Delta)
		return a.emit(Chunk{
			Type: ChunkTypeToolCallDelta,
			ToolCallDelta: &ToolCallDelta{
				ID:    acc.id,
				Name:  toolName(acc.name),
				Delta: ev.Delta,
			},
		})

	case EventBlockStop:
		acc := a.blocks[ev.Index]
		if acc == nil {
			return nil
		}
		delete(a.blocks, ev.Index)
		params := a.decodeInput(ctx, acc)
		return a.emit(Chunk{
			Type: ChunkTypeToolCall,
			ToolCall: &ToolCall{
				ID:         acc.id,
				Name:       toolName(acc.name),
				Parameters: params,
			},
		})

	case EventUsage:
		if ev.Usage == nil {
			return nil
		}
		a.usage.InputTokens += ev.Usage.InputTokens
		a.usage.OutputTokens += ev.Usage.OutputTokens
		a.usage.TotalTokens = a.usage.InputTokens + a.usage.OutputTokens
		running := a.usage
		return a.emit(Chunk{Type: ChunkTypeUsage, UsageDelta: &running})

	case EventStop:
		a.blocks = make(map[int]*toolAccum)
		return a.emit(Chunk{Type: ChunkTypeStop, StopReason: ev.StopReason})

	case EventError:
		return &StreamError{Message: ev.Err}

	default:
		return nil
	}
}

// Usage returns the running token totals accumulated from usage deltas.
func (a *Assembler) Usage() TokenUsage {
	return a.usage
}

// decodeInput parses the accumulated partial-JSON fragments of one tool call.
// An empty buffer yields empty parameters; malformed JSON yields empty
// parameters and a logged warning rather than an aborted stream.
func (a *Assembler) decodeInput(ctx context.Context, acc *toolAccum) map[string]any {
	joined := strings.TrimSpace(strings.Join(acc.fragments, ""))
	if joined == "" {
		return map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(joined), &params); err != nil {
		a.logger.Warn(ctx, "malformed tool input JSON, using empty parameters",
			"tool", acc.name, "tool_use_id", acc.id, "err", err)
		return map[string]any{}
	}
	if params == nil {
		return map[string]any{}
	}
	return params
}
