package react

import "sync"

// Interrupt is a cooperative stop handle. Triggering it cancels the run's
// context so in-flight tool calls are asked to stop, but never tears down a
// step mid-write: the engine honors the interrupt at iteration boundaries
// and before memory appends, so the conversation stays consistent.
type Interrupt struct {
	mu        sync.Mutex
	triggered bool
	reason    string
	done      chan struct{}
}

func NewInterrupt() *Interrupt {
	return &Interrupt{done: make(chan struct{})}
}

// Trigger requests a stop. The first call wins; later calls are no-ops.
func (i *Interrupt) Trigger(reason string) {
	if i == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.triggered {
		return
	}
	i.triggered = true
	i.reason = reason
	if i.done != nil {
		close(i.done)
	}
}

// Triggered reports whether a stop was requested and the recorded reason.
func (i *Interrupt) Triggered() (string, bool) {
	if i == nil {
		return "", false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.reason, i.triggered
}

// Done returns a channel closed when the interrupt fires. A nil Interrupt
// returns a nil channel, which never becomes ready.
func (i *Interrupt) Done() <-chan struct{} {
	if i == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.done
}
