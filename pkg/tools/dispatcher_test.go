package tools

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/burattino/pkg/chat"
	"github.com/go-go-golems/burattino/pkg/hooks"
)

func echoTool(name string, delay time.Duration) Definition {
	return Definition{
		Name: name,
		Fn: func(ctx context.Context, inv Invocation) (any, error) {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return name, nil
		},
	}
}

func resultText(r chat.ToolResult) string {
	out := ""
	for _, b := range r.Blocks {
		if s, ok := b.Payload[chat.PayloadKeyText].(string); ok {
			out += s
		}
	}
	return out
}

func TestDispatchPreservesRequestOrder(t *testing.T) {
	reg := NewRegistry()
	// Completion order is inverted on purpose: the first request finishes last.
	require.NoError(t, reg.Register(echoTool("slow", 80*time.Millisecond)))
	require.NoError(t, reg.Register(echoTool("medium", 40*time.Millisecond)))
	require.NoError(t, reg.Register(echoTool("fast", 0)))

	calls := []chat.ToolUse{
		{ID: "c-1", Name: "slow"},
		{ID: "c-2", Name: "medium"},
		{ID: "c-3", Name: "fast"},
	}

	d := NewDispatcher()
	results := d.Dispatch(context.Background(), reg.Snapshot(), calls, NewExecContext())

	require.Len(t, results, 3)
	assert.Equal(t, "c-1", results[0].ID)
	assert.Equal(t, "c-2", results[1].ID)
	assert.Equal(t, "c-3", results[2].ID)
	assert.Equal(t, "slow", resultText(results[0]))
	assert.Equal(t, "fast", resultText(results[2]))
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("known", 0)))

	calls := []chat.ToolUse{
		{ID: "c-1", Name: "known"},
		{ID: "c-2", Name: "missing"},
	}

	d := NewDispatcher()
	results := d.Dispatch(context.Background(), reg.Snapshot(), calls, NewExecContext())

	require.Len(t, results, 2)
	assert.False(t, results[0].Failed)
	assert.True(t, results[1].Failed)
	assert.Equal(t, string(FailureNotFound), results[1].FailureKind)
	assert.Contains(t, resultText(results[1]), "missing")
}

func TestDispatchToolError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name: "broken",
		Fn: func(_ context.Context, _ Invocation) (any, error) {
			return nil, errors.New("backend unavailable")
		},
	}))

	d := NewDispatcher()
	results := d.Dispatch(context.Background(), reg.Snapshot(),
		[]chat.ToolUse{{ID: "c-1", Name: "broken"}}, NewExecContext())

	require.Len(t, results, 1)
	assert.True(t, results[0].Failed)
	assert.Equal(t, string(FailureExecution), results[0].FailureKind)
	assert.Contains(t, resultText(results[0]), "backend unavailable")
}

func TestDispatchPanicBecomesFailedResult(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name: "panicky",
		Fn: func(_ context.Context, _ Invocation) (any, error) {
			panic("nil map write")
		},
	}))

	d := NewDispatcher()
	results := d.Dispatch(context.Background(), reg.Snapshot(),
		[]chat.ToolUse{{ID: "c-1", Name: "panicky"}}, NewExecContext())

	require.Len(t, results, 1)
	assert.True(t, results[0].Failed)
	assert.Equal(t, string(FailureExecution), results[0].FailureKind)
	assert.Contains(t, resultText(results[0]), "panicked")
}

func TestDispatchTimeout(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name:    "sleepy",
		Timeout: 20 * time.Millisecond,
		Fn: func(ctx context.Context, _ Invocation) (any, error) {
			select {
			case <-time.After(time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	d := NewDispatcher()
	results := d.Dispatch(context.Background(), reg.Snapshot(),
		[]chat.ToolUse{{ID: "c-1", Name: "sleepy"}}, NewExecContext())

	require.Len(t, results, 1)
	assert.True(t, results[0].Failed)
	assert.Equal(t, string(FailureTimeout), results[0].FailureKind)
}

func TestDispatchMissingContext(t *testing.T) {
	type db struct{}

	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name:     "query",
		Requires: []ContextType{CtxType[*db]()},
		Fn:       noopFn,
	}))

	d := NewDispatcher()
	results := d.Dispatch(context.Background(), reg.Snapshot(),
		[]chat.ToolUse{{ID: "c-1", Name: "query"}}, NewExecContext())

	require.Len(t, results, 1)
	assert.True(t, results[0].Failed)
	assert.Equal(t, string(FailureMissingContext), results[0].FailureKind)

	ec := NewExecContext()
	Provide(ec, &db{})
	results = d.Dispatch(context.Background(), reg.Snapshot(),
		[]chat.ToolUse{{ID: "c-1", Name: "query"}}, ec)
	assert.False(t, results[0].Failed)
}

func TestDispatchMergesPresets(t *testing.T) {
	var seen map[string]any
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name:    "search",
		Presets: map[string]any{"api_key": "preset", "region": "eu"},
		Fn: func(_ context.Context, inv Invocation) (any, error) {
			seen = inv.Args
			return "ok", nil
		},
	}))

	d := NewDispatcher()
	calls := []chat.ToolUse{{
		ID:   "c-1",
		Name: "search",
		Args: map[string]any{"query": "golems", "api_key": "model-supplied"},
	}}
	d.Dispatch(context.Background(), reg.Snapshot(), calls, NewExecContext())

	require.NotNil(t, seen)
	assert.Equal(t, "golems", seen["query"])
	assert.Equal(t, "model-supplied", seen["api_key"], "call args win on overlapping keys")
	assert.Equal(t, "eu", seen["region"], "presets fill gaps the call left open")
}

func TestDispatchHooksRewriteCallAndResult(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("real", 0)))

	chain := hooks.NewChain()
	chain.Register(1, hooks.OnPreActing(func(_ context.Context, ev *hooks.PreActing) error {
		if ev.Call.Name == "alias" {
			ev.Call.Name = "real"
		}
		return nil
	}))
	chain.Register(1, hooks.OnPostActing(func(_ context.Context, ev *hooks.PostActing) error {
		ev.Result.Blocks = append(ev.Result.Blocks, chat.NewTextBlock(" (reviewed)"))
		return nil
	}))

	d := NewDispatcher(WithHooks(chain))
	results := d.Dispatch(context.Background(), reg.Snapshot(),
		[]chat.ToolUse{{ID: "c-1", Name: "alias"}}, NewExecContext())

	require.Len(t, results, 1)
	assert.False(t, results[0].Failed)
	assert.Equal(t, "real (reviewed)", resultText(results[0]))
}

func TestDispatchHookFailureFailsCall(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("real", 0)))

	chain := hooks.NewChain()
	chain.Register(1, hooks.OnPreActing(func(_ context.Context, _ *hooks.PreActing) error {
		return errors.New("policy denied")
	}))

	d := NewDispatcher(WithHooks(chain))
	results := d.Dispatch(context.Background(), reg.Snapshot(),
		[]chat.ToolUse{{ID: "c-1", Name: "real"}}, NewExecContext())

	require.Len(t, results, 1)
	assert.True(t, results[0].Failed)
	assert.Equal(t, string(FailureExecution), results[0].FailureKind)
	assert.Contains(t, resultText(results[0]), "policy denied")
}

func TestDispatchCancelledContext(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("fast", 0)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher()
	results := d.Dispatch(ctx, reg.Snapshot(),
		[]chat.ToolUse{{ID: "c-1", Name: "fast"}, {ID: "c-2", Name: "fast"}},
		NewExecContext())

	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Failed)
		assert.Equal(t, string(FailureInterrupted), r.FailureKind)
	}
}

func TestDispatchCancelledMidBatchMixedResults(t *testing.T) {
	// Of five parallel calls, two finish before cancellation and three are
	// still running. The result list must stay full length and in request
	// order, with the stragglers marked interrupted.
	var fastDone, slowStarted sync.WaitGroup
	fastDone.Add(2)
	slowStarted.Add(3)

	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name: "fast",
		Fn: func(_ context.Context, _ Invocation) (any, error) {
			defer fastDone.Done()
			return "done", nil
		},
	}))
	require.NoError(t, reg.Register(Definition{
		Name: "slow",
		Fn: func(ctx context.Context, _ Invocation) (any, error) {
			slowStarted.Done()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		fastDone.Wait()
		slowStarted.Wait()
		cancel()
	}()

	calls := []chat.ToolUse{
		{ID: "c-1", Name: "slow"},
		{ID: "c-2", Name: "fast"},
		{ID: "c-3", Name: "slow"},
		{ID: "c-4", Name: "fast"},
		{ID: "c-5", Name: "slow"},
	}

	d := NewDispatcher()
	results := d.Dispatch(ctx, reg.Snapshot(), calls, NewExecContext())

	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, calls[i].ID, r.ID)
	}
	assert.False(t, results[1].Failed)
	assert.False(t, results[3].Failed)
	for _, i := range []int{0, 2, 4} {
		assert.True(t, results[i].Failed)
		assert.Equal(t, string(FailureInterrupted), results[i].FailureKind)
	}
}

func TestDispatchMaxParallel(t *testing.T) {
	var running, peak atomic.Int32
	track := Definition{
		Name: "counter",
		Fn: func(_ context.Context, _ Invocation) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return "ok", nil
		},
	}

	reg := NewRegistry()
	require.NoError(t, reg.Register(track))

	calls := make([]chat.ToolUse, 6)
	for i := range calls {
		calls[i] = chat.ToolUse{ID: string(rune('a' + i)), Name: "counter"}
	}

	d := NewDispatcher(WithDispatcherConfig(DispatcherConfig{MaxParallel: 2}))
	results := d.Dispatch(context.Background(), reg.Snapshot(), calls, NewExecContext())

	require.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestResultBlocksConversion(t *testing.T) {
	assert.Nil(t, resultBlocks(nil))

	blocks := resultBlocks("plain")
	require.Len(t, blocks, 1)
	assert.Equal(t, chat.BlockKindText, blocks[0].Kind)

	blocks = resultBlocks(map[string]any{"count": 3})
	require.Len(t, blocks, 1)
	assert.Equal(t, chat.BlockKindStructuredData, blocks[0].Kind)
}
