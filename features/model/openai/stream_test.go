package openai

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/runtime/model"
)

func intp(i int) *int { return &i }

func TestTranslateDeltaText(t *testing.T) {
	t.Parallel()

	open := map[int]bool{}
	events := translateDelta(openai.ChatCompletionStreamChoice{
		Delta: openai.ChatCompletionStreamChoiceDelta{Content: "hel"},
	}, open)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventText, events[0].Kind)
	assert.Equal(t, "hel", events[0].Text)
	assert.Empty(t, open)
}

func TestTranslateDeltaToolCallOpensOnce(t *testing.T) {
	t.Parallel()

	open := map[int]bool{}
	first := translateDelta(openai.ChatCompletionStreamChoice{
		Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{
				{
					Index:    intp(0),
					ID:       "call-1",
					Function: openai.FunctionCall{Name: "file_read", Arguments: `{"path":`},
				},
			},
		},
	}, open)
	require.Len(t, first, 2)
	assert.Equal(t, model.EventToolUseStart, first[0].Kind)
	assert.Equal(t, "call-1", first[0].ID)
	assert.Equal(t, "file_read", first[0].Name)
	assert.Equal(t, model.EventToolInputDelta, first[1].Kind)
	assert.Equal(t, `{"path":`, first[1].Delta)
	assert.True(t, open[0])

	// Later fragments for the same index only carry argument deltas.
	second := translateDelta(openai.ChatCompletionStreamChoice{
		Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{
				{
					Index:    intp(0),
					ID:       "call-1",
					Function: openai.FunctionCall{Name: "file_read", Arguments: `"a.txt"}`},
				},
			},
		},
	}, open)
	require.Len(t, second, 1)
	assert.Equal(t, model.EventToolInputDelta, second[0].Kind)
	assert.Equal(t, `"a.txt"}`, second[0].Delta)
}

func TestTranslateDeltaParallelToolCalls(t *testing.T) {
	t.Parallel()

	open := map[int]bool{}
	events := translateDelta(openai.ChatCompletionStreamChoice{
		Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{
				{Index: intp(0), ID: "call-1", Function: openai.FunctionCall{Name: "file_read"}},
				{Index: intp(1), ID: "call-2", Function: openai.FunctionCall{Name: "file_write"}},
			},
		},
	}, open)
	require.Len(t, events, 2)
	assert.Equal(t, 0, events[0].Index)
	assert.Equal(t, 1, events[1].Index)
	assert.True(t, open[0])
	assert.True(t, open[1])
}

func TestTranslateDeltaNilIndexDefaultsToZero(t *testing.T) {
	t.Parallel()

	open := map[int]bool{}
	events := translateDelta(openai.ChatCompletionStreamChoice{
		Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{
				{ID: "call-1", Function: openai.FunctionCall{Name: "file_read"}},
			},
		},
	}, open)
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].Index)
	assert.True(t, open[0])
}

func TestTranslateDeltaArgumentsWithoutStart(t *testing.T) {
	t.Parallel()

	// Fragments that never announce an ID or name still yield input deltas;
	// the assembler decides whether anyone is listening on that index.
	open := map[int]bool{}
	events := translateDelta(openai.ChatCompletionStreamChoice{
		Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{
				{Index: intp(2), Function: openai.FunctionCall{Arguments: `{}`}},
			},
		},
	}, open)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventToolInputDelta, events[0].Kind)
	assert.Equal(t, 2, events[0].Index)
	assert.False(t, open[2])
}
