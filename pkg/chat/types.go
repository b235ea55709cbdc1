package chat

// Role identifies the originator class of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// BlockKind enumerates the closed set of content block variants. Consumers
// switch exhaustively over these; adding a kind is a compile-visible change
// to this set, not a new subclass.
type BlockKind string

const (
	BlockKindText           BlockKind = "text"
	BlockKindThinking       BlockKind = "thinking"
	BlockKindToolUse        BlockKind = "tool_use"
	BlockKindToolResult     BlockKind = "tool_result"
	BlockKindMedia          BlockKind = "media"
	BlockKindStructuredData BlockKind = "structured_data"
)

// Standard keys used in Block.Payload maps.
const (
	PayloadKeyText        = "text"
	PayloadKeyID          = "id"
	PayloadKeyName        = "name"
	PayloadKeyArgs        = "args"
	PayloadKeyBlocks      = "blocks"
	PayloadKeyFailed      = "failed"
	PayloadKeyFailureKind = "failure_kind"
	PayloadKeyMediaType   = "media_type"
	PayloadKeyURL         = "url"
	PayloadKeyContent     = "content"
	PayloadKeyData        = "data"
)

// Block is a single atomic unit of content within a Message.
type Block struct {
	ID       string         `json:"id,omitempty" yaml:"id,omitempty"`
	Kind     BlockKind      `json:"kind" yaml:"kind"`
	Payload  map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Message is an ordered list of Blocks with a role and originator name.
//
// Messages are immutable once appended to a Memory; the streaming
// accumulator's in-progress message is the only mutable-until-finalized
// instance in the system.
type Message struct {
	ID       string         `json:"id,omitempty" yaml:"id,omitempty"`
	Role     Role           `json:"role" yaml:"role"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Blocks   []Block        `json:"blocks" yaml:"blocks"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a deep copy of the Message suitable for mutation without
// affecting the original. Payload and Metadata maps are copied one level
// deep; reference-typed values inside remain shared.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := &Message{
		ID:       m.ID,
		Role:     m.Role,
		Name:     m.Name,
		Metadata: cloneMap(m.Metadata),
	}
	if len(m.Blocks) == 0 {
		return out
	}
	out.Blocks = make([]Block, len(m.Blocks))
	for i := range m.Blocks {
		b := m.Blocks[i]
		b.Payload = cloneMap(b.Payload)
		b.Metadata = cloneMap(b.Metadata)
		out.Blocks[i] = b
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// AppendBlock appends a Block to the message.
func (m *Message) AppendBlock(b Block) {
	m.Blocks = append(m.Blocks, b)
}

// BlocksByKind returns the message's blocks of the requested kinds, in order.
func (m *Message) BlocksByKind(kinds ...BlockKind) []Block {
	lookup := map[BlockKind]bool{}
	for _, k := range kinds {
		lookup[k] = true
	}
	ret := make([]Block, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		if lookup[b.Kind] {
			ret = append(ret, b)
		}
	}
	return ret
}

// Text concatenates the text payloads of all text blocks in the message.
func (m *Message) Text() string {
	out := ""
	for _, b := range m.Blocks {
		if b.Kind != BlockKindText {
			continue
		}
		if s, ok := b.Payload[PayloadKeyText].(string); ok {
			out += s
		}
	}
	return out
}
