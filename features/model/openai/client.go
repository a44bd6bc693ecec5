// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates core requests into ChatCompletion calls
// using github.com/sashabaranov/go-openai and maps responses back to the
// generic model structures. Streaming tool-call reconstruction is delegated
// to model.Assembler.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"goa.design/agentcore/runtime/capability"
	"goa.design/agentcore/runtime/model"
	"goa.design/agentcore/runtime/telemetry"
)

// ChatClient captures the subset of the go-openai client used by the adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (
		*openai.ChatCompletionStream, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
	// Logger receives stream diagnostics (malformed tool input warnings).
	Logger telemetry.Logger
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat   ChatClient
	model  string
	logger telemetry.Logger
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel, logger: logger}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	request, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	response, err := c.chat.CreateChatCompletion(ctx, *request)
	if err != nil {
		return model.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(response), nil
}

// Stream renders a streaming chat completion. Indexed tool-call argument
// deltas are reassembled into complete tool calls by the shared assembler.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	request, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	request.Stream = true
	request.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	stream, err := c.chat.CreateChatCompletionStream(ctx, *request)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion stream: %w", err)
	}
	return newOpenAIStreamer(ctx, stream, c.logger), nil
}

func (c *Client) prepareRequest(req model.Request) (*openai.ChatCompletionRequest, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		if m == nil {
			continue
		}
		// Join only text parts; tool transcripts are re-encoded separately by
		// higher layers when needed.
		var text string
		for _, p := range m.Parts {
			if tp, ok := p.(model.TextPart); ok && tp.Text != "" {
				text += tp.Text
			}
		}
		if text == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: text})
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	request := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       tools,
	}
	if req.ToolChoice != nil {
		tc := req.ToolChoice
		switch tc.Mode {
		case "", model.ToolChoiceModeAuto:
			// Auto is the provider default; omit ToolChoice.
		case model.ToolChoiceModeNone:
			request.ToolChoice = "none"
		case model.ToolChoiceModeAny:
			request.ToolChoice = "required"
		case model.ToolChoiceModeTool:
			if tc.Name == "" {
				return nil, fmt.Errorf("openai: tool choice mode %q requires a tool name", tc.Mode)
			}
			if !hasToolDefinition(req.Tools, tc.Name) {
				return nil, fmt.Errorf("openai: tool choice name %q does not match any tool", tc.Name)
			}
			request.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: string(tc.Name)},
			}
		default:
			return nil, fmt.Errorf("openai: unsupported tool choice mode %q", tc.Mode)
		}
	}
	return &request, nil
}

func hasToolDefinition(defs []*model.ToolDefinition, name capability.ID) bool {
	for _, def := range defs {
		if def != nil && def.Name == name {
			return true
		}
	}
	return false
}

func encodeTools(defs []*model.ToolDefinition) ([]openai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		params, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool %s schema: %w", def.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(def.Name),
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools, nil
}

func translateResponse(resp openai.ChatCompletionResponse) model.Response {
	messages := make([]model.Message, 0, len(resp.Choices))
	toolCalls := make([]model.ToolCall, 0)
	for _, choice := range resp.Choices {
		msg := choice.Message
		if msg.Content != "" {
			messages = append(messages, model.Message{
				Role:  model.ConversationRole(msg.Role),
				Parts: []model.Part{model.TextPart{Text: msg.Content}},
			})
		}
		for _, call := range msg.ToolCalls {
			toolCalls = append(toolCalls, model.ToolCall{
				ID:         call.ID,
				Name:       capability.ID(call.Function.Name),
				Parameters: parseToolArguments(call.Function.Arguments),
			})
		}
	}
	usage := model.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	stop := ""
	if len(resp.Choices) > 0 {
		stop = string(resp.Choices[0].FinishReason)
	}
	return model.Response{
		Content:    messages,
		ToolCalls:  toolCalls,
		Usage:      usage,
		StopReason: stop,
	}
}

func parseToolArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload == nil {
		return map[string]any{}
	}
	return payload
}
