package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/burattino/pkg/chat"
	"github.com/go-go-golems/burattino/pkg/events"
	"github.com/go-go-golems/burattino/pkg/hooks"
)

// DispatcherConfig tunes parallel tool execution.
type DispatcherConfig struct {
	// DefaultTimeout bounds each call unless the definition overrides it.
	DefaultTimeout time.Duration
	// MaxParallel caps concurrently running calls. Zero means unbounded.
	MaxParallel int
}

const defaultCallTimeout = 5 * time.Minute

// Dispatcher executes the tool calls of one assistant message in parallel
// and returns results aligned with the request order.
type Dispatcher struct {
	cfg   DispatcherConfig
	hooks *hooks.Chain
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherConfig(cfg DispatcherConfig) DispatcherOption {
	return func(d *Dispatcher) { d.cfg = cfg }
}

func WithHooks(chain *hooks.Chain) DispatcherOption {
	return func(d *Dispatcher) { d.hooks = chain }
}

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		cfg: DispatcherConfig{DefaultTimeout: defaultCallTimeout},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.DefaultTimeout <= 0 {
		d.cfg.DefaultTimeout = defaultCallTimeout
	}
	if d.hooks == nil {
		d.hooks = hooks.NewChain()
	}
	return d
}

// Dispatch runs every call against the snapshot and returns one result per
// call, in call order, regardless of completion order. Failures of any kind
// become failed results rather than errors; the returned slice always has
// len(calls) entries. Cancelling ctx marks not-yet-finished calls as
// interrupted.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	snap *Snapshot,
	calls []chat.ToolUse,
	ec *ExecContext,
) []chat.ToolResult {
	results := make([]chat.ToolResult, len(calls))

	group := &errgroup.Group{}
	if d.cfg.MaxParallel > 0 {
		group.SetLimit(d.cfg.MaxParallel)
	}

	for i, call := range calls {
		i, call := i, call
		group.Go(func() error {
			results[i] = d.runOne(ctx, snap, call, ec)
			return nil
		})
	}
	// Goroutines never return errors; failures live in the result slice.
	_ = group.Wait()

	return results
}

func (d *Dispatcher) runOne(
	ctx context.Context,
	snap *Snapshot,
	call chat.ToolUse,
	ec *ExecContext,
) chat.ToolResult {
	if err := ctx.Err(); err != nil {
		return failedResult(call, FailureInterrupted, "call not started: run interrupted")
	}

	ev, err := d.hooks.Dispatch(ctx, &hooks.PreActing{Call: call})
	if err != nil {
		d.notifyError(ctx, "pre_acting", err)
		return failedResult(call, FailureExecution, err.Error())
	}
	call = ev.(*hooks.PreActing).Call

	def, ok := snap.Get(call.Name)
	if !ok {
		return failedResult(call, FailureNotFound, fmt.Sprintf("unknown tool %q", call.Name))
	}

	if m := missing(ec, def.Requires); len(m) > 0 {
		return failedResult(call, FailureMissingContext,
			fmt.Sprintf("tool %q requires unavailable context %s", call.Name, m[0]))
	}

	_, _ = d.hooks.Dispatch(ctx, &hooks.PreCall{Call: call})
	_, _ = d.hooks.Dispatch(ctx, &hooks.ActingChunk{Call: call, Stage: hooks.ActingStageStart})
	events.PublishEventToContext(ctx, events.NewToolCallExecuteEvent(
		newEventMetadata(), toolCallEvent(call)))

	result := d.execute(ctx, def, call, ec)

	ev, err = d.hooks.Dispatch(ctx, &hooks.PostActing{Call: call, Result: result})
	if err != nil {
		d.notifyError(ctx, "post_acting", err)
		result = failedResult(call, FailureExecution, err.Error())
	} else {
		result = ev.(*hooks.PostActing).Result
	}

	_, _ = d.hooks.Dispatch(ctx, &hooks.PostCall{Call: call, Result: result})
	_, _ = d.hooks.Dispatch(ctx, &hooks.ActingChunk{Call: call, Stage: hooks.ActingStageEnd})
	events.PublishEventToContext(ctx, events.NewToolCallExecutionResultEvent(
		newEventMetadata(), toolResultEvent(result)))

	return result
}

// execute runs the tool function under its timeout with panic containment.
func (d *Dispatcher) execute(
	ctx context.Context,
	def Definition,
	call chat.ToolUse,
	ec *ExecContext,
) chat.ToolResult {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = d.cfg.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	inv := Invocation{
		Call:    call,
		Args:    def.mergedArgs(call.Args),
		Context: ec,
	}

	value, err := func() (value any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("tool %s panicked: %v", def.Name, r)
			}
		}()
		return def.Fn(callCtx, inv)
	}()

	if err != nil {
		kind := FailureExecution
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			kind = FailureInterrupted
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			kind = FailureTimeout
		}
		log.Debug().Str("tool", def.Name).Str("kind", string(kind)).Err(err).
			Msg("tool call failed")
		return failedResult(call, kind, err.Error())
	}

	return chat.ToolResult{
		ID:     call.ID,
		Name:   call.Name,
		Blocks: resultBlocks(value),
	}
}

func (d *Dispatcher) notifyError(ctx context.Context, stage string, err error) {
	_, _ = d.hooks.Dispatch(ctx, &hooks.Error{Stage: stage, Err: err})
}

func failedResult(call chat.ToolUse, kind FailureKind, msg string) chat.ToolResult {
	return chat.ToolResult{
		ID:          call.ID,
		Name:        call.Name,
		Blocks:      []chat.Block{chat.NewTextBlock(msg)},
		Failed:      true,
		FailureKind: string(kind),
	}
}

// resultBlocks converts a tool's return value into result content blocks.
func resultBlocks(value any) []chat.Block {
	switch v := value.(type) {
	case nil:
		return nil
	case []chat.Block:
		return v
	case chat.Block:
		return []chat.Block{v}
	case string:
		return []chat.Block{chat.NewTextBlock(v)}
	case []byte:
		return []chat.Block{chat.NewTextBlock(string(v))}
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return []chat.Block{chat.NewTextBlock(fmt.Sprintf("%v", v))}
		}
		return []chat.Block{chat.NewStructuredDataBlock(json.RawMessage(raw))}
	}
}

func newEventMetadata() events.EventMetadata {
	return events.EventMetadata{ID: uuid.New()}
}

func toolCallEvent(call chat.ToolUse) events.ToolCall {
	input, _ := json.Marshal(call.Args)
	return events.ToolCall{ID: call.ID, Name: call.Name, Input: string(input)}
}

func toolResultEvent(result chat.ToolResult) events.ToolResult {
	text := ""
	for _, b := range result.Blocks {
		if s, ok := b.Payload[chat.PayloadKeyText].(string); ok {
			text += s
		}
	}
	return events.ToolResult{ID: result.ID, Result: text, Failed: result.Failed}
}
