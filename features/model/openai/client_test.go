package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/runtime/model"
)

type stubChatClient struct {
	lastRequest openai.ChatCompletionRequest
	resp        openai.ChatCompletionResponse
	err         error
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastRequest = request
	return s.resp, s.err
}

func (s *stubChatClient) CreateChatCompletionStream(_ context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	s.lastRequest = request
	return nil, errors.New("not implemented in stub")
}

func userRequest(text string) model.Request {
	return model.Request{
		Messages: []*model.Message{
			{
				Role:  model.ConversationRoleUser,
				Parts: []model.Part{model.TextPart{Text: text}},
			},
		},
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Options{DefaultModel: "gpt-4o"})
	require.Error(t, err)

	_, err = New(Options{Client: &stubChatClient{}})
	require.Error(t, err)

	cl, err := New(Options{Client: &stubChatClient{}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)
	assert.NotNil(t, cl)
}

func TestCompleteText(t *testing.T) {
	t.Parallel()

	stub := &stubChatClient{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{
					Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "hello back"},
					FinishReason: openai.FinishReasonStop,
				},
			},
			Usage: openai.Usage{PromptTokens: 9, CompletionTokens: 4, TotalTokens: 13},
		},
	}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), userRequest("hello"))
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hello back", resp.Content[0].Parts[0].(model.TextPart).Text)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 9, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
	assert.Equal(t, 13, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o", stub.lastRequest.Model)
}

func TestCompleteToolCalls(t *testing.T) {
	t.Parallel()

	stub := &stubChatClient{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role: "assistant",
						ToolCalls: []openai.ToolCall{
							{
								ID:   "call-1",
								Type: openai.ToolTypeFunction,
								Function: openai.FunctionCall{
									Name:      "file_read",
									Arguments: `{"path":"a.txt"}`,
								},
							},
						},
					},
					FinishReason: openai.FinishReasonToolCalls,
				},
			},
		},
	}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), userRequest("read it"))
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	call := resp.ToolCalls[0]
	assert.Equal(t, "call-1", call.ID)
	assert.Equal(t, "file_read", string(call.Name))
	assert.Equal(t, map[string]any{"path": "a.txt"}, call.Parameters)
	assert.Equal(t, "tool_calls", resp.StopReason)
}

func TestCompleteMalformedToolArguments(t *testing.T) {
	t.Parallel()

	stub := &stubChatClient{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role: "assistant",
						ToolCalls: []openai.ToolCall{
							{
								ID:       "call-1",
								Function: openai.FunctionCall{Name: "file_read", Arguments: "<<garbage>>"},
							},
						},
					},
				},
			},
		},
	}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), userRequest("read it"))
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, map[string]any{}, resp.ToolCalls[0].Parameters)
}

func TestPrepareRequestSystemPromptAndTools(t *testing.T) {
	t.Parallel()

	stub := &stubChatClient{}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	req := userRequest("hi")
	req.System = "be terse"
	req.Tools = []*model.ToolDefinition{
		{
			Name:        "file_read",
			Description: "Read a file",
			InputSchema: map[string]any{"type": "object"},
		},
	}

	_, err = cl.Complete(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, stub.lastRequest.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, stub.lastRequest.Messages[0].Role)
	assert.Equal(t, "be terse", stub.lastRequest.Messages[0].Content)
	require.Len(t, stub.lastRequest.Tools, 1)
	assert.Equal(t, "file_read", stub.lastRequest.Tools[0].Function.Name)
}

func TestPrepareRequestToolChoice(t *testing.T) {
	t.Parallel()

	stub := &stubChatClient{}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	req := userRequest("hi")
	req.Tools = []*model.ToolDefinition{
		{Name: "file_read", Description: "Read a file", InputSchema: map[string]any{"type": "object"}},
	}
	req.ToolChoice = &model.ToolChoice{Mode: model.ToolChoiceModeAny}

	_, err = cl.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "required", stub.lastRequest.ToolChoice)

	req.ToolChoice = &model.ToolChoice{Mode: model.ToolChoiceModeTool, Name: "file_read"}
	_, err = cl.Complete(context.Background(), req)
	require.NoError(t, err)
	tc, ok := stub.lastRequest.ToolChoice.(openai.ToolChoice)
	require.True(t, ok)
	assert.Equal(t, "file_read", tc.Function.Name)

	req.ToolChoice = &model.ToolChoice{Mode: model.ToolChoiceModeTool, Name: "missing"}
	_, err = cl.Complete(context.Background(), req)
	require.Error(t, err)
}

func TestPrepareRequestRequiresMessages(t *testing.T) {
	t.Parallel()

	cl, err := New(Options{Client: &stubChatClient{}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{})
	require.Error(t, err)
}

func TestCompleteWrapsClientError(t *testing.T) {
	t.Parallel()

	boom := errors.New("upstream down")
	cl, err := New(Options{Client: &stubChatClient{err: boom}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), userRequest("hi"))
	require.ErrorIs(t, err, boom)
}
