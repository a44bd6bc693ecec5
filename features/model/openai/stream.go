package openai

import (
	"context"
	"errors"
	"io"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"goa.design/agentcore/runtime/model"
	"goa.design/agentcore/runtime/telemetry"
)

// openaiStreamer adapts a Chat Completions stream to model.Streamer. OpenAI
// streams tool calls as indexed argument fragments; the streamer translates
// them into the assembler's wire events so reconstruction lives in one place.
type openaiStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *openai.ChatCompletionStream

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newOpenAIStreamer(ctx context.Context, stream *openai.ChatCompletionStream, logger telemetry.Logger) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &openaiStreamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		chunks: make(chan model.Chunk, 32),
	}
	go s.run(logger)
	return s
}

func (s *openaiStreamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return model.Chunk{}, err
	}
}

func (s *openaiStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *openaiStreamer) Metadata() map[string]any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	if len(s.metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *openaiStreamer) run(logger telemetry.Logger) {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	assembler := model.NewAssembler(s.emitChunk, model.WithAssemblerLogger(logger))
	open := make(map[int]bool)
	stopReason := ""

	finish := func() error {
		for idx := range open {
			if err := assembler.Handle(s.ctx, model.Event{Kind: model.EventBlockStop, Index: idx}); err != nil {
				return err
			}
		}
		open = make(map[int]bool)
		return nil
	}

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			if err := finish(); err == nil {
				_ = assembler.Handle(s.ctx, model.Event{Kind: model.EventStop, StopReason: stopReason})
			}
			s.recordUsage(assembler.Usage())
			s.setErr(nil)
			return
		}
		if err != nil {
			s.setErr(&model.StreamError{Provider: "openai", Message: err.Error()})
			return
		}
		if resp.Usage != nil {
			ev := model.Event{Kind: model.EventUsage, Usage: &model.TokenUsage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			}}
			if err := assembler.Handle(s.ctx, ev); err != nil {
				s.setErr(err)
				return
			}
		}
		for _, choice := range resp.Choices {
			for _, ev := range translateDelta(choice, open) {
				if err := assembler.Handle(s.ctx, ev); err != nil {
					s.setErr(err)
					return
				}
			}
			if choice.FinishReason != "" {
				stopReason = string(choice.FinishReason)
				if err := finish(); err != nil {
					s.setErr(err)
					return
				}
			}
		}
	}
}

// translateDelta converts one streamed choice delta into wire events. A tool
// call fragment carrying an ID and function name opens a block; argument
// fragments accumulate under the call's index.
func translateDelta(choice openai.ChatCompletionStreamChoice, open map[int]bool) []model.Event {
	var events []model.Event
	if choice.Delta.Content != "" {
		events = append(events, model.Event{Kind: model.EventText, Text: choice.Delta.Content})
	}
	for _, call := range choice.Delta.ToolCalls {
		idx := 0
		if call.Index != nil {
			idx = *call.Index
		}
		if call.ID != "" && call.Function.Name != "" && !open[idx] {
			open[idx] = true
			events = append(events, model.Event{
				Kind:  model.EventToolUseStart,
				Index: idx,
				ID:    call.ID,
				Name:  call.Function.Name,
			})
		}
		if call.Function.Arguments != "" {
			events = append(events, model.Event{
				Kind:  model.EventToolInputDelta,
				Index: idx,
				Delta: call.Function.Arguments,
			})
		}
	}
	return events
}

func (s *openaiStreamer) emitChunk(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *openaiStreamer) recordUsage(usage model.TokenUsage) {
	if usage == (model.TokenUsage{}) {
		return
	}
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata["usage"] = usage
	s.metaMu.Unlock()
}

func (s *openaiStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *openaiStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
