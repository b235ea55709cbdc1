package gateway

import (
	"encoding/json"
	"strings"

	"github.com/go-go-golems/burattino/pkg/chat"
	"github.com/google/uuid"
)

// Accumulator folds an ordered delta stream into content blocks: contiguous
// same-kind text and thinking deltas concatenate into single blocks, while
// tool-call fragments sharing an id merge into the tool_use block created at
// the id's first appearance, regardless of interleaving.
type Accumulator struct {
	blocks    []chat.Block
	lastKind  DeltaKind
	callIndex map[string]int
	callArgs  map[string]*strings.Builder

	textSoFar     strings.Builder
	thinkingSoFar strings.Builder
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		callIndex: make(map[string]int),
		callArgs:  make(map[string]*strings.Builder),
	}
}

// Add folds one delta into the in-progress message.
func (a *Accumulator) Add(d Delta) {
	switch v := d.(type) {
	case TextDelta:
		a.textSoFar.WriteString(v.Text)
		if a.lastKind == DeltaKindText && len(a.blocks) > 0 {
			last := &a.blocks[len(a.blocks)-1]
			if s, ok := last.Payload[chat.PayloadKeyText].(string); ok {
				last.Payload[chat.PayloadKeyText] = s + v.Text
				return
			}
		}
		a.blocks = append(a.blocks, chat.NewTextBlock(v.Text))
		a.lastKind = DeltaKindText
	case ThinkingDelta:
		a.thinkingSoFar.WriteString(v.Text)
		if a.lastKind == DeltaKindThinking && len(a.blocks) > 0 {
			last := &a.blocks[len(a.blocks)-1]
			if s, ok := last.Payload[chat.PayloadKeyText].(string); ok {
				last.Payload[chat.PayloadKeyText] = s + v.Text
				return
			}
		}
		a.blocks = append(a.blocks, chat.NewThinkingBlock(v.Text))
		a.lastKind = DeltaKindThinking
	case ToolCallDelta:
		idx, seen := a.callIndex[v.ID]
		if !seen {
			idx = len(a.blocks)
			a.callIndex[v.ID] = idx
			a.callArgs[v.ID] = &strings.Builder{}
			a.blocks = append(a.blocks, chat.NewToolUseBlock(v.ID, v.Name, nil))
		}
		if v.Name != "" {
			a.blocks[idx].Payload[chat.PayloadKeyName] = v.Name
		}
		a.callArgs[v.ID].WriteString(v.ArgsFragment)
		a.lastKind = DeltaKindToolCall
	}
}

// Empty reports whether no delta contributed any content yet.
func (a *Accumulator) Empty() bool {
	return len(a.blocks) == 0
}

// TextSoFar returns the concatenated answer text received so far.
func (a *Accumulator) TextSoFar() string {
	return a.textSoFar.String()
}

// ThinkingSoFar returns the concatenated reasoning text received so far.
func (a *Accumulator) ThinkingSoFar() string {
	return a.thinkingSoFar.String()
}

// Message finalizes the accumulated blocks into an assistant message.
// Tool-call argument fragments are parsed as JSON; an unparseable document
// is kept verbatim so the dispatcher can report it as an execution failure
// instead of silently dropping the call.
func (a *Accumulator) Message(role chat.Role, name string) chat.Message {
	blocks := make([]chat.Block, len(a.blocks))
	copy(blocks, a.blocks)
	for id, idx := range a.callIndex {
		raw := a.callArgs[id].String()
		if raw == "" {
			blocks[idx].Payload[chat.PayloadKeyArgs] = map[string]any{}
			continue
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			blocks[idx].Payload[chat.PayloadKeyArgs] = raw
			continue
		}
		blocks[idx].Payload[chat.PayloadKeyArgs] = args
	}
	return chat.Message{
		ID:     uuid.NewString(),
		Role:   role,
		Name:   name,
		Blocks: blocks,
	}
}
