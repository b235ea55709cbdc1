package chat

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Convenience constructors for commonly used Block and Message shapes.

// NewTextBlock returns a text content block.
func NewTextBlock(text string) Block {
	return Block{
		ID:      uuid.NewString(),
		Kind:    BlockKindText,
		Payload: map[string]any{PayloadKeyText: text},
	}
}

// NewThinkingBlock returns a reasoning/thinking content block.
func NewThinkingBlock(text string) Block {
	return Block{
		ID:      uuid.NewString(),
		Kind:    BlockKindThinking,
		Payload: map[string]any{PayloadKeyText: text},
	}
}

// NewToolUseBlock returns a block requesting invocation of a tool.
// id correlates the eventual tool_result block; name is the tool name;
// args holds the structured input.
func NewToolUseBlock(id string, name string, args map[string]any) Block {
	return Block{
		ID:   id,
		Kind: BlockKindToolUse,
		Payload: map[string]any{
			PayloadKeyID:   id,
			PayloadKeyName: name,
			PayloadKeyArgs: args,
		},
	}
}

// NewToolResultBlock returns a block carrying the outcome of a tool call.
// The id must match the corresponding tool_use block.
func NewToolResultBlock(id string, name string, content []Block, failed bool) Block {
	return Block{
		ID:   uuid.NewString(),
		Kind: BlockKindToolResult,
		Payload: map[string]any{
			PayloadKeyID:     id,
			PayloadKeyName:   name,
			PayloadKeyBlocks: content,
			PayloadKeyFailed: failed,
		},
	}
}

// NewMediaBlock returns a block referencing non-text content by media type
// and either a URL or inline content.
func NewMediaBlock(mediaType string, url string, content []byte) Block {
	payload := map[string]any{PayloadKeyMediaType: mediaType}
	if url != "" {
		payload[PayloadKeyURL] = url
	}
	if len(content) > 0 {
		payload[PayloadKeyContent] = content
	}
	return Block{
		ID:      uuid.NewString(),
		Kind:    BlockKindMedia,
		Payload: payload,
	}
}

// NewStructuredDataBlock returns a block carrying a machine-parseable payload.
func NewStructuredDataBlock(data any) Block {
	return Block{
		ID:      uuid.NewString(),
		Kind:    BlockKindStructuredData,
		Payload: map[string]any{PayloadKeyData: data},
	}
}

// NewUserMessage builds a user message from text.
func NewUserMessage(text string) Message {
	return Message{
		ID:     uuid.NewString(),
		Role:   RoleUser,
		Blocks: []Block{NewTextBlock(text)},
	}
}

// NewSystemMessage builds a system directive message.
func NewSystemMessage(text string) Message {
	return Message{
		ID:     uuid.NewString(),
		Role:   RoleSystem,
		Blocks: []Block{NewTextBlock(text)},
	}
}

// NewAssistantMessage builds an assistant message from pre-assembled blocks.
func NewAssistantMessage(name string, blocks ...Block) Message {
	return Message{
		ID:     uuid.NewString(),
		Role:   RoleAssistant,
		Name:   name,
		Blocks: blocks,
	}
}

// NewToolMessage builds a role=tool message from tool_result blocks.
func NewToolMessage(blocks ...Block) Message {
	return Message{
		ID:     uuid.NewString(),
		Role:   RoleTool,
		Blocks: blocks,
	}
}

// ToolUse is the extracted view of a tool_use block.
type ToolUse struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is the extracted view of a tool_result block.
type ToolResult struct {
	ID     string
	Name   string
	Blocks []Block
	Failed bool
	// FailureKind carries the dispatcher's failure classification when
	// Failed is true; empty otherwise.
	FailureKind string
}

// Block converts the view back into a tool_result content block.
func (r ToolResult) Block() Block {
	b := NewToolResultBlock(r.ID, r.Name, r.Blocks, r.Failed)
	if r.FailureKind != "" {
		b.Payload[PayloadKeyFailureKind] = r.FailureKind
	}
	return b
}

// ToolUses extracts all tool_use blocks from a message, preserving order.
func ToolUses(m *Message) []ToolUse {
	if m == nil {
		return nil
	}
	var calls []ToolUse
	for _, b := range m.Blocks {
		if b.Kind != BlockKindToolUse {
			continue
		}
		id, _ := b.Payload[PayloadKeyID].(string)
		if id == "" {
			continue
		}
		name, _ := b.Payload[PayloadKeyName].(string)
		calls = append(calls, ToolUse{ID: id, Name: name, Args: coerceArgs(b.Payload[PayloadKeyArgs])})
	}
	return calls
}

// ToolResults extracts all tool_result blocks from a message, preserving order.
func ToolResults(m *Message) []ToolResult {
	if m == nil {
		return nil
	}
	var results []ToolResult
	for _, b := range m.Blocks {
		if b.Kind != BlockKindToolResult {
			continue
		}
		id, _ := b.Payload[PayloadKeyID].(string)
		name, _ := b.Payload[PayloadKeyName].(string)
		failed, _ := b.Payload[PayloadKeyFailed].(bool)
		kind, _ := b.Payload[PayloadKeyFailureKind].(string)
		blocks, _ := b.Payload[PayloadKeyBlocks].([]Block)
		results = append(results, ToolResult{ID: id, Name: name, Blocks: blocks, Failed: failed, FailureKind: kind})
	}
	return results
}

// coerceArgs normalizes the args payload into a map. Providers may deliver
// arguments as a map, a JSON string, or raw JSON bytes.
func coerceArgs(raw any) map[string]any {
	var args map[string]any
	switch v := raw.(type) {
	case nil:
	case map[string]any:
		args = v
	case string:
		_ = json.Unmarshal([]byte(v), &args)
	case json.RawMessage:
		_ = json.Unmarshal(v, &args)
	case []byte:
		_ = json.Unmarshal(v, &args)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}
