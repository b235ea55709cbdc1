package hooks

import (
	"github.com/go-go-golems/burattino/pkg/chat"
	"github.com/go-go-golems/burattino/pkg/gateway"
)

// Kind enumerates the closed set of lifecycle event variants a hook can
// receive. Mutating kinds flow through the chain as a strict pipeline;
// notify kinds are delivered for side effects only.
type Kind string

const (
	KindPreReasoning   Kind = "pre_reasoning"
	KindPostReasoning  Kind = "post_reasoning"
	KindPreActing      Kind = "pre_acting"
	KindPostActing     Kind = "post_acting"
	KindReasoningChunk Kind = "reasoning_chunk"
	KindActingChunk    Kind = "acting_chunk"
	KindPreCall        Kind = "pre_call"
	KindPostCall       Kind = "post_call"
	KindError          Kind = "error"
)

// Mutating reports whether hooks may rewrite events of this kind. A failure
// inside a mutating hook terminates the current call; notify failures are
// logged and swallowed.
func (k Kind) Mutating() bool {
	switch k {
	case KindPreReasoning, KindPostReasoning, KindPreActing, KindPostActing:
		return true
	case KindReasoningChunk, KindActingChunk, KindPreCall, KindPostCall, KindError:
		return false
	}
	return false
}

// Event is the closed variant set passed through the chain. Each concrete
// type corresponds to exactly one Kind.
type Event interface {
	HookKind() Kind
}

// PreReasoning fires before each model invocation. Hooks may rewrite the
// generation options; the history is read-only context.
type PreReasoning struct {
	History   []chat.Message
	Options   gateway.Options
	Iteration int
}

func (*PreReasoning) HookKind() Kind { return KindPreReasoning }

// PostReasoning fires on the assembled assistant message before it is
// appended to memory. Hooks may rewrite the message.
type PostReasoning struct {
	Message   chat.Message
	Iteration int
}

func (*PostReasoning) HookKind() Kind { return KindPostReasoning }

// PreActing fires per tool call before execution. Hooks may rewrite the call.
type PreActing struct {
	Call chat.ToolUse
}

func (*PreActing) HookKind() Kind { return KindPreActing }

// PostActing fires per tool call after execution. Hooks may rewrite the
// result, e.g. converting unsupported content types to text for a
// non-multimodal consumer.
type PostActing struct {
	Call   chat.ToolUse
	Result chat.ToolResult
}

func (*PostActing) HookKind() Kind { return KindPostActing }

// ReasoningChunk is delivered once per streamed delta (notify-only).
type ReasoningChunk struct {
	Delta     gateway.Delta
	Iteration int
}

func (*ReasoningChunk) HookKind() Kind { return KindReasoningChunk }

// ActingStage marks the phase of an ActingChunk notification.
type ActingStage string

const (
	ActingStageStart ActingStage = "start"
	ActingStageEnd   ActingStage = "end"
)

// ActingChunk reports tool execution progress (notify-only).
type ActingChunk struct {
	Call  chat.ToolUse
	Stage ActingStage
}

func (*ActingChunk) HookKind() Kind { return KindActingChunk }

// PreCall is the notify-only companion of PreActing, fired with the final
// (possibly rewritten) call just before execution.
type PreCall struct {
	Call chat.ToolUse
}

func (*PreCall) HookKind() Kind { return KindPreCall }

// PostCall is the notify-only companion of PostActing, fired with the final
// result after the mutating chain ran.
type PostCall struct {
	Call   chat.ToolUse
	Result chat.ToolResult
}

func (*PostCall) HookKind() Kind { return KindPostCall }

// Error reports a failure observed during the run (notify-only).
type Error struct {
	Stage string
	Err   error
}

func (*Error) HookKind() Kind { return KindError }

var (
	_ Event = (*PreReasoning)(nil)
	_ Event = (*PostReasoning)(nil)
	_ Event = (*PreActing)(nil)
	_ Event = (*PostActing)(nil)
	_ Event = (*ReasoningChunk)(nil)
	_ Event = (*ActingChunk)(nil)
	_ Event = (*PreCall)(nil)
	_ Event = (*PostCall)(nil)
	_ Event = (*Error)(nil)
)
