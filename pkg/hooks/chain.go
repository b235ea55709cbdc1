package hooks

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// HandlerFunc processes a lifecycle event. For mutating kinds the returned
// event replaces the input for the next handler; it must keep the same kind.
// For notify kinds the return value is ignored.
type HandlerFunc func(ctx context.Context, ev Event) (Event, error)

type registration struct {
	priority int
	seq      int
	handler  HandlerFunc
}

// Chain holds hook registrations and dispatches events through them in
// ascending priority order, registration order breaking ties.
type Chain struct {
	mu      sync.RWMutex
	regs    []registration
	nextSeq int
}

func NewChain() *Chain {
	return &Chain{}
}

// Register adds a handler at the given priority. Lower priorities run first.
func (c *Chain) Register(priority int, h HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs = append(c.regs, registration{priority: priority, seq: c.nextSeq, handler: h})
	c.nextSeq++
}

// Len returns the number of registered handlers.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.regs)
}

func (c *Chain) ordered() []registration {
	c.mu.RLock()
	out := make([]registration, len(c.regs))
	copy(out, c.regs)
	c.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Dispatch runs ev through every registered handler. Mutating events are
// threaded through the handlers as a pipeline and the final event is
// returned; a handler error or a kind change aborts the pipeline. Notify
// events are delivered to every handler regardless of failures, which are
// logged and discarded.
func (c *Chain) Dispatch(ctx context.Context, ev Event) (Event, error) {
	kind := ev.HookKind()
	if !kind.Mutating() {
		for _, reg := range c.ordered() {
			if _, err := reg.handler(ctx, ev); err != nil {
				log.Warn().Err(err).Str("kind", string(kind)).Msg("notify hook failed")
			}
		}
		return ev, nil
	}

	for _, reg := range c.ordered() {
		out, err := reg.handler(ctx, ev)
		if err != nil {
			return nil, errors.Wrapf(err, "hook chain failed on %s", kind)
		}
		if out == nil {
			return nil, errors.Errorf("hook chain on %s returned nil event", kind)
		}
		if out.HookKind() != kind {
			return nil, errors.Errorf("hook chain on %s returned event of kind %s", kind, out.HookKind())
		}
		ev = out
	}
	return ev, nil
}

// Registration describes a registered handler for session snapshots.
type Registration struct {
	Priority int `yaml:"priority"`
	Seq      int `yaml:"seq"`
}

// Snapshot lists the registered handlers in dispatch order. Handler
// functions themselves are not serializable; the snapshot records shape only.
func (c *Chain) Snapshot() []Registration {
	regs := c.ordered()
	out := make([]Registration, len(regs))
	for i, r := range regs {
		out[i] = Registration{Priority: r.priority, Seq: r.seq}
	}
	return out
}
