// Package model provides the provider-agnostic contract for LLM clients and
// the streaming assembler that reconstructs tool calls from chunked wire
// events. Provider adapters (Anthropic, OpenAI) translate these normalized
// types into vendor-specific formats and delegate event parsing to the
// Assembler.
package model

import (
	"context"
	"errors"

	"goa.design/agentcore/runtime/capability"
)

type (
	// ConversationRole identifies the author of a chat message.
	ConversationRole string

	// ChunkType is a closed set of streaming event kinds surfaced to callers.
	ChunkType string

	// ToolChoiceMode controls how the model may use the advertised tools.
	ToolChoiceMode string

	// Client is the contract the core uses to invoke LLM calls.
	// Implementations wrap provider SDKs and translate Request/Response to
	// provider-specific formats. Clients should be safe for concurrent use.
	Client interface {
		// Complete sends a completion request and returns the full response.
		Complete(ctx context.Context, req Request) (Response, error)

		// Stream sends a completion request and returns a Streamer that
		// yields incremental chunks (text, tool calls, usage deltas). The
		// returned Streamer must be closed by callers. Providers that do not
		// support streaming return ErrStreamingUnsupported.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Successive calls to Recv
	// return Chunk values until io.EOF. Implementations release underlying
	// resources when Close is invoked.
	Streamer interface {
		// Recv returns the next chunk from the stream.
		Recv() (Chunk, error)
		// Close closes the stream.
		Close() error
		// Metadata returns provider-specific stream metadata such as token
		// usage or a request identifier. Contents are provider-defined.
		Metadata() map[string]any
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		// Model is the provider-specific model identifier.
		Model string
		// System is the system prompt prepended to the conversation.
		System string
		// Messages is the ordered chat history.
		Messages []*Message
		// Tools describes the tool schemas exposed for function calling.
		Tools []*ToolDefinition
		// ToolChoice constrains how the model may use tools. Nil means auto.
		ToolChoice *ToolChoice
		// MaxTokens caps the number of completion tokens.
		MaxTokens int
		// Temperature controls sampling randomness.
		Temperature float32
		// Stream indicates the caller prefers streaming output.
		Stream bool
	}

	// Response wraps the generated content and any tool calls from the model.
	Response struct {
		// Content contains the assistant messages returned by the model.
		Content []Message
		// ToolCalls lists tool invocations requested by the model.
		ToolCalls []ToolCall
		// Usage reports token usage when the provider supplies it.
		Usage TokenUsage
		// StopReason explains why generation stopped. Provider-specific.
		StopReason string
	}

	// Message is one chat message.
	Message struct {
		// Role is the message author.
		Role ConversationRole
		// Parts is the ordered message content.
		Parts []Part
	}

	// Part is one unit of message content. Implementations: TextPart,
	// ToolUsePart, ToolResultPart.
	Part interface{ isPart() }

	// TextPart is plain message text.
	TextPart struct {
		Text string
	}

	// ToolUsePart records an assistant tool invocation inside the transcript.
	ToolUsePart struct {
		ID    string
		Name  capability.ID
		Input map[string]any
	}

	// ToolResultPart carries a tool result back to the model.
	ToolResultPart struct {
		ToolUseID string
		Content   any
		IsError   bool
	}

	// ToolDefinition describes a tool schema passed to model providers. The
	// input schema is a JSON-Schema-shaped object with "type": "object",
	// "properties" and "required" members.
	ToolDefinition struct {
		// Name is the identifier presented to the model.
		Name capability.ID
		// Description documents the tool for prompting purposes.
		Description string
		// InputSchema is the JSON Schema describing the tool's parameters.
		InputSchema map[string]any
	}

	// ToolChoice constrains provider tool use.
	ToolChoice struct {
		// Mode is auto, none, any, or tool.
		Mode ToolChoiceMode
		// Name is the forced tool when Mode is ToolChoiceModeTool.
		Name capability.ID
	}

	// ToolCall is a structured invocation request reconstructed from the
	// model's output.
	ToolCall struct {
		// ID is the provider-issued tool-use identifier.
		ID string
		// Name identifies which capability should be invoked.
		Name capability.ID
		// Parameters carries the decoded JSON arguments.
		Parameters map[string]any
	}

	// ToolCallDelta is an incremental fragment of a tool call's JSON input.
	ToolCallDelta struct {
		ID    string
		Name  capability.ID
		Delta string
	}

	// Chunk represents one streaming event surfaced to callers. Type
	// indicates which payload field is populated.
	Chunk struct {
		// Type is the chunk kind.
		Type ChunkType
		// Text is the text delta when Type is ChunkTypeText.
		Text string
		// ToolCall is the assembled invocation when Type is ChunkTypeToolCall.
		ToolCall *ToolCall
		// ToolCallDelta is the input fragment when Type is ChunkTypeToolCallDelta.
		ToolCallDelta *ToolCallDelta
		// UsageDelta reports running token usage when Type is ChunkTypeUsage.
		UsageDelta *TokenUsage
		// StopReason explains termination when Type is ChunkTypeStop.
		StopReason string
	}

	// TokenUsage records token counts reported by the provider.
	TokenUsage struct {
		// InputTokens counts prompt tokens.
		InputTokens int
		// OutputTokens counts completion tokens.
		OutputTokens int
		// TotalTokens is the aggregate count.
		TotalTokens int
	}
)

// Conversation roles.
const (
	ConversationRoleSystem    ConversationRole = "system"
	ConversationRoleUser      ConversationRole = "user"
	ConversationRoleAssistant ConversationRole = "assistant"
)

// Chunk kinds.
const (
	ChunkTypeText          ChunkType = "text"
	ChunkTypeToolCall      ChunkType = "tool_call"
	ChunkTypeToolCallDelta ChunkType = "tool_call_delta"
	ChunkTypeUsage         ChunkType = "usage"
	ChunkTypeStop          ChunkType = "stop"
)

// Tool choice modes.
const (
	ToolChoiceModeAuto ToolChoiceMode = "auto"
	ToolChoiceModeNone ToolChoiceMode = "none"
	ToolChoiceModeAny  ToolChoiceMode = "any"
	ToolChoiceModeTool ToolChoiceMode = "tool"
)

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// ErrStreamingUnsupported indicates the model provider does not implement
// streaming for the requested model/parameters.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited indicates the provider throttled the request. Callers may
// back off and retry.
var ErrRateLimited = errors.New("model: rate limited")
