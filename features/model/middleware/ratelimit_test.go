package middleware

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/runtime/model"
)

type fakeClient struct {
	completeCalls int
	streamCalls   int
	err           error
}

func (f *fakeClient) Complete(_ context.Context, _ model.Request) (model.Response, error) {
	f.completeCalls++
	return model.Response{StopReason: "end_turn"}, f.err
}

func (f *fakeClient) Stream(_ context.Context, _ model.Request) (model.Streamer, error) {
	f.streamCalls++
	return nil, f.err
}

func smallRequest() model.Request {
	return model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
		},
	}
}

func TestNewAdaptiveRateLimiterDefaults(t *testing.T) {
	t.Parallel()

	l := NewAdaptiveRateLimiter(0, 0)
	assert.Equal(t, float64(60000), l.CurrentTPM())

	// maxTPM below initialTPM is clamped: successful calls never raise the
	// budget past the initial value.
	l = NewAdaptiveRateLimiter(1000, 500)
	for range 100 {
		l.observe(nil)
	}
	assert.Equal(t, float64(1000), l.CurrentTPM())
}

func TestBackoffHalvesBudget(t *testing.T) {
	t.Parallel()

	l := NewAdaptiveRateLimiter(60000, 120000)
	l.observe(fmt.Errorf("%w: too many requests", model.ErrRateLimited))
	assert.Equal(t, float64(30000), l.CurrentTPM())
	l.observe(model.ErrRateLimited)
	assert.Equal(t, float64(15000), l.CurrentTPM())
}

func TestBackoffFloor(t *testing.T) {
	t.Parallel()

	l := NewAdaptiveRateLimiter(1000, 1000)
	for range 20 {
		l.observe(model.ErrRateLimited)
	}
	// Floor is 10% of the initial budget.
	assert.Equal(t, float64(100), l.CurrentTPM())
}

func TestProbeRecoversTowardMax(t *testing.T) {
	t.Parallel()

	l := NewAdaptiveRateLimiter(1000, 2000)
	l.observe(model.ErrRateLimited)
	require.Equal(t, float64(500), l.CurrentTPM())

	// Each success recovers 5% of the initial budget.
	l.observe(nil)
	assert.Equal(t, float64(550), l.CurrentTPM())

	for range 1000 {
		l.observe(nil)
	}
	assert.Equal(t, float64(2000), l.CurrentTPM())
}

func TestUnrelatedErrorsLeaveBudgetAlone(t *testing.T) {
	t.Parallel()

	l := NewAdaptiveRateLimiter(1000, 2000)
	l.observe(errors.New("connection reset"))
	assert.Equal(t, float64(1000), l.CurrentTPM())
}

func TestCallbacksFire(t *testing.T) {
	t.Parallel()

	l := NewAdaptiveRateLimiter(1000, 2000)
	var backoffs, probes []float64
	l.SetCallbacks(
		func(tpm float64) { backoffs = append(backoffs, tpm) },
		func(tpm float64) { probes = append(probes, tpm) },
	)

	l.observe(model.ErrRateLimited)
	l.observe(nil)

	require.Len(t, backoffs, 1)
	assert.Equal(t, float64(500), backoffs[0])
	require.Len(t, probes, 1)
	assert.Equal(t, float64(550), probes[0])
}

func TestMiddlewareWrapsCompleteAndStream(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{}
	l := NewAdaptiveRateLimiter(60000, 60000)
	client := l.Middleware()(fake)
	require.NotNil(t, client)

	resp, err := client.Complete(context.Background(), smallRequest())
	require.NoError(t, err)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 1, fake.completeCalls)

	_, err = client.Stream(context.Background(), smallRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.streamCalls)
}

func TestMiddlewareObservesRateLimitErrors(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{err: fmt.Errorf("%w: 429", model.ErrRateLimited)}
	l := NewAdaptiveRateLimiter(60000, 60000)
	client := l.Middleware()(fake)

	_, err := client.Complete(context.Background(), smallRequest())
	require.ErrorIs(t, err, model.ErrRateLimited)
	assert.Equal(t, float64(30000), l.CurrentTPM())
}

func TestMiddlewareRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{}
	// A tiny budget forces the limiter to block on the fixed per-request
	// estimate, so a cancelled context surfaces before the client is called.
	l := NewAdaptiveRateLimiter(1, 1)
	client := l.Middleware()(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Complete(ctx, smallRequest())
	require.Error(t, err)
	assert.Equal(t, 0, fake.completeCalls)
}

func TestMiddlewareNilClient(t *testing.T) {
	t.Parallel()

	l := NewAdaptiveRateLimiter(1000, 1000)
	assert.Nil(t, l.Middleware()(nil))
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	// Empty request keeps a minimal flat charge.
	assert.Equal(t, 500, estimateTokens(model.Request{}))

	// Text and string tool results count at roughly 3 characters per token
	// plus the fixed buffer. Non-string tool result content is ignored.
	req := model.Request{
		System: "abcdef",
		Messages: []*model.Message{
			{
				Role:  model.ConversationRoleUser,
				Parts: []model.Part{model.TextPart{Text: "abcdef"}},
			},
			{
				Role: model.ConversationRoleUser,
				Parts: []model.Part{
					model.ToolResultPart{ToolUseID: "t1", Content: "abc"},
					model.ToolResultPart{ToolUseID: "t2", Content: map[string]any{}},
				},
			},
		},
	}
	assert.Equal(t, 15/3+500, estimateTokens(req))
}
