package anthropic

import (
	"context"
	"errors"
	"io"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/agentcore/runtime/model"
	"goa.design/agentcore/runtime/telemetry"
)

// anthropicStreamer adapts an Anthropic Messages streaming stream to the
// model.Streamer interface. Low-level event parsing is delegated to
// model.Assembler; this type only translates SDK events into the assembler's
// wire-event union and pumps chunks to the caller.
type anthropicStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any

	toolNameMap map[string]string
	logger      telemetry.Logger
}

func newAnthropicStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string, logger telemetry.Logger) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	as := &anthropicStreamer{
		ctx:         cctx,
		cancel:      cancel,
		stream:      stream,
		chunks:      make(chan model.Chunk, 32),
		toolNameMap: nameMap,
		logger:      logger,
	}
	go as.run()
	return as
}

func (s *anthropicStreamer) Recv() (model.Chunk, error) {
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

func (s *anthropicStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *anthropicStreamer) Metadata() map[string]any {
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

func (s *anthropicStreamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	assembler := model.NewAssembler(s.emitChunk, model.WithAssemblerLogger(s.logger))

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(&model.StreamError{Provider: "anthropic", Message: err.Error()})
			} else if err := s.ctx.Err(); err != nil {
				s.setErr(err)
			} else {
				s.setErr(nil)
			}
			return
		}
		for _, ev := range s.translate(s.stream.Current()) {
			if err := assembler.Handle(s.ctx, ev); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					s.setErr(err)
					return
				}
				var streamErr *model.StreamError
				if errors.As(err, &streamErr) && streamErr.Provider == "" {
					streamErr.Provider = "anthropic"
				}
				s.setErr(err)
				return
			}
		}
		s.recordUsage(assembler.Usage())
	}
}

// translate converts one Anthropic SDK streaming event into assembler wire
// events. Tool names are mapped back to canonical capability identifiers
// through the reverse sanitization map; hallucinated names pass through.
func (s *anthropicStreamer) translate(event sdk.MessageStreamEventUnion) []model.Event {
	switch ev := event.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			name := toolUse.Name
			if canonical, ok := s.toolNameMap[name]; ok {
				name = canonical
			}
			return []model.Event{{
				Kind:  model.EventToolUseStart,
				Index: int(ev.Index),
				ID:    toolUse.ID,
				Name:  name,
			}}
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			return []model.Event{{Kind: model.EventText, Index: int(ev.Index), Text: delta.Text}}
		case sdk.InputJSONDelta:
			return []model.Event{{Kind: model.EventToolInputDelta, Index: int(ev.Index), Delta: delta.PartialJSON}}
		default:
			return nil
		}
	case sdk.ContentBlockStopEvent:
		return []model.Event{{Kind: model.EventBlockStop, Index: int(ev.Index)}}
	case sdk.MessageDeltaEvent:
		out := []model.Event{{
			Kind: model.EventUsage,
			Usage: &model.TokenUsage{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
			},
		}}
		if ev.Delta.StopReason != "" {
			s.setStopReason(string(ev.Delta.StopReason))
		}
		return out
	case sdk.MessageStopEvent:
		return []model.Event{{Kind: model.EventStop, StopReason: s.stopReason()}}
	default:
		return nil
	}
}

func (s *anthropicStreamer) emitChunk(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *anthropicStreamer) recordUsage(usage model.TokenUsage) {
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

func (s *anthropicStreamer) setStopReason(reason string) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata["stop_reason"] = reason
	s.metaMu.Unlock()
}

func (s *anthropicStreamer) stopReason() string {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	reason, _ := s.metadata["stop_reason"].(string)
	return reason
}

func (s *anthropicStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *anthropicStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
