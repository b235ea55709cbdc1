package gateway

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// DeltaKind describes the kind of a content Delta.
type DeltaKind string

const (
	DeltaKindText     DeltaKind = "text"
	DeltaKindThinking DeltaKind = "thinking"
	DeltaKindToolCall DeltaKind = "tool_call"
)

// Delta is one fragment of streamed model output. The variant set is closed:
// text, thinking, and tool-call fragments.
type Delta interface {
	DeltaKind() DeltaKind
}

// TextDelta streams user-visible answer text.
type TextDelta struct {
	Text string
}

func (TextDelta) DeltaKind() DeltaKind { return DeltaKindText }

// ThinkingDelta streams reasoning text.
type ThinkingDelta struct {
	Text string
}

func (ThinkingDelta) DeltaKind() DeltaKind { return DeltaKindThinking }

// ToolCallDelta streams tool call construction. Fragments belonging to the
// same call share the same ID; ArgsFragment pieces concatenate into the
// call's JSON argument document.
type ToolCallDelta struct {
	ID           string
	Name         string
	ArgsFragment string
}

func (ToolCallDelta) DeltaKind() DeltaKind { return DeltaKindToolCall }

// Stream yields deltas from one model invocation. Next returns io.EOF after
// the final delta; any other error terminates the invocation.
type Stream interface {
	Next(ctx context.Context) (Delta, error)
}

// ErrStreamClosed is returned by ChanStream.Send after CloseSend or Fail.
var ErrStreamClosed = errors.New("delta stream closed")

// ChanStream is a bounded-channel Stream implementation for in-process
// gateways. The producer calls Send / CloseSend / Fail; the consumer calls
// Next. Cancellation is a signal propagated through the channel, not an
// exception thrown across goroutines.
type ChanStream struct {
	ch chan Delta

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

var _ Stream = (*ChanStream)(nil)

// NewChanStream creates a stream with the given buffer size (minimum 1).
func NewChanStream(buffer int) *ChanStream {
	if buffer < 1 {
		buffer = 1
	}
	return &ChanStream{
		ch:   make(chan Delta, buffer),
		done: make(chan struct{}),
	}
}

// Send delivers one delta, blocking while the buffer is full. It fails once
// the stream is closed or the context is cancelled.
func (s *ChanStream) Send(ctx context.Context, d Delta) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- d:
		return nil
	}
}

// CloseSend marks normal completion. Pending deltas are still delivered.
func (s *ChanStream) CloseSend() {
	s.close(nil)
}

// Fail terminates the stream with an error surfaced to the consumer after
// pending deltas are drained.
func (s *ChanStream) Fail(err error) {
	if err == nil {
		err = errors.New("stream failed with nil error")
	}
	s.close(err)
}

func (s *ChanStream) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}

// Next returns the next delta, io.EOF on normal completion, or the failure
// error.
func (s *ChanStream) Next(ctx context.Context) (Delta, error) {
	select {
	case d := <-s.ch:
		return d, nil
	default:
	}
	select {
	case d := <-s.ch:
		return d, nil
	case <-s.done:
		// Drain anything buffered before reporting completion.
		select {
		case d := <-s.ch:
			return d, nil
		default:
		}
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
