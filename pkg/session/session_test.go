package session

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/burattino/pkg/chat"
	"github.com/go-go-golems/burattino/pkg/hooks"
	"github.com/go-go-golems/burattino/pkg/memory"
	"github.com/go-go-golems/burattino/pkg/tools"
)

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	reg.DefineGroup("web", "network tools")
	require.NoError(t, reg.Register(tools.Definition{
		Name:  "fetch",
		Group: "web",
		Fn:    func(_ context.Context, _ tools.Invocation) (any, error) { return "ok", nil },
	}))
	require.NoError(t, reg.Register(tools.Definition{
		Name: "clock",
		Fn:   func(_ context.Context, _ tools.Invocation) (any, error) { return "now", nil },
	}))
	return reg
}

func TestCaptureRestoreRoundTrip(t *testing.T) {
	mem := memory.NewInMemory()
	require.NoError(t, mem.Append(chat.NewUserMessage("hello")))
	require.NoError(t, mem.Append(chat.NewAssistantMessage("bot", chat.NewTextBlock("hi there"))))

	reg := testRegistry(t)
	require.NoError(t, reg.SetGroupActive("web", false))

	chain := hooks.NewChain()
	chain.Register(1, func(_ context.Context, ev hooks.Event) (hooks.Event, error) { return ev, nil })

	st := Capture("sess-1", mem, reg, chain)
	assert.Equal(t, "sess-1", st.SessionID)
	assert.Len(t, st.Messages, 2)
	assert.Len(t, st.Tools, 2)
	assert.Len(t, st.Hooks, 1)

	var buf bytes.Buffer
	require.NoError(t, st.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, st.SessionID, loaded.SessionID)

	freshMem := memory.NewInMemory()
	freshReg := testRegistry(t)
	missing, err := Restore(loaded, freshMem, freshReg)
	require.NoError(t, err)
	assert.Empty(t, missing)

	msgs := freshMem.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text())
	assert.Equal(t, "hi there", msgs[1].Text())

	// Group visibility travels with the state.
	assert.NotContains(t, freshReg.Snapshot().Names(), "fetch")
	assert.Contains(t, freshReg.Snapshot().Names(), "clock")
}

func TestRestoreReportsMissingTools(t *testing.T) {
	mem := memory.NewInMemory()
	st := Capture("sess-2", mem, testRegistry(t), nil)

	freshReg := tools.NewRegistry()
	missing, err := Restore(st, memory.NewInMemory(), freshReg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fetch", "clock"}, missing)
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	st := &State{Version: 99}
	_, err := Restore(st, memory.NewInMemory(), nil)
	assert.Error(t, err)

	_, err = Restore(nil, memory.NewInMemory(), nil)
	assert.Error(t, err)
}

func TestRestoreClearsExistingMemory(t *testing.T) {
	mem := memory.NewInMemory()
	require.NoError(t, mem.Append(chat.NewUserMessage("stale")))

	st := Capture("sess-3", memory.NewInMemory(), nil, nil)
	_, err := Restore(st, mem, nil)
	require.NoError(t, err)
	assert.Zero(t, mem.Len())
}
