package memory

import (
	"sync"

	"github.com/go-go-golems/burattino/pkg/chat"
	"github.com/pkg/errors"
)

// Memory is an append-only ordered store of conversation messages.
//
// Single-writer contract: during a run, only the ReAct engine appends, and
// only after a message is fully assembled. Tools and hooks hand values back
// to the engine rather than writing here directly.
type Memory interface {
	Append(msg chat.Message) error
	Messages() []chat.Message
	Clear()
}

// InMemory is the default in-process Memory implementation.
type InMemory struct {
	mu   sync.RWMutex
	msgs []chat.Message
}

var _ Memory = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{}
}

// Append stores a deep copy of the message so later mutation of the caller's
// value cannot corrupt history.
func (m *InMemory) Append(msg chat.Message) error {
	if msg.Role == "" {
		return errors.New("message role cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, *msg.Clone())
	return nil
}

// Messages returns the ordered history. The slice is a copy; the messages it
// holds are treated as immutable by all consumers.
func (m *InMemory) Messages() []chat.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]chat.Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

// Clear removes all messages.
func (m *InMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = nil
}

// Len returns the number of stored messages.
func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.msgs)
}
