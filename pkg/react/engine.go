package react

import (
	"context"
	"encoding/json"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/burattino/pkg/chat"
	"github.com/go-go-golems/burattino/pkg/events"
	"github.com/go-go-golems/burattino/pkg/gateway"
	"github.com/go-go-golems/burattino/pkg/hooks"
	"github.com/go-go-golems/burattino/pkg/memory"
	"github.com/go-go-golems/burattino/pkg/tools"
)

// State describes where a run ended.
type State string

const (
	StateTerminated  State = "terminated"
	StateInterrupted State = "interrupted"
)

// StopReason explains why the loop stopped.
type StopReason string

const (
	StopFinalAnswer   StopReason = "final_answer"
	StopMaxIterations StopReason = "max_iterations"
	StopInterrupted   StopReason = "interrupted"
)

const defaultMaxIterations = 10

// Config holds per-run settings. The struct is copied into the engine at
// construction; changing a Config afterwards has no effect on running loops.
type Config struct {
	// MaxIterations bounds reason/act cycles. Exhausting the budget is not
	// an error; the last assistant message is returned as the best effort.
	MaxIterations int
	Options       gateway.Options
	Structured    *StructuredOutput
	AssistantName string
	RunID         string
	SessionID     string
}

// Engine drives the reason/act loop against a model gateway, a conversation
// memory, and a tool registry.
type Engine struct {
	gw         gateway.Gateway
	mem        memory.Memory
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	chain      *hooks.Chain
	execCtx    *tools.ExecContext
	cfg        Config
}

type Option func(*Engine)

func WithRegistry(r *tools.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

func WithDispatcher(d *tools.Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

func WithHooks(chain *hooks.Chain) Option {
	return func(e *Engine) { e.chain = chain }
}

func WithExecContext(ec *tools.ExecContext) Option {
	return func(e *Engine) { e.execCtx = ec }
}

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func WithMaxIterations(n int) Option {
	return func(e *Engine) { e.cfg.MaxIterations = n }
}

func WithOptions(opts gateway.Options) Option {
	return func(e *Engine) { e.cfg.Options = opts }
}

func WithStructured(s *StructuredOutput) Option {
	return func(e *Engine) { e.cfg.Structured = s }
}

func WithAssistantName(name string) Option {
	return func(e *Engine) { e.cfg.AssistantName = name }
}

func New(gw gateway.Gateway, mem memory.Memory, opts ...Option) *Engine {
	e := &Engine{
		gw:  gw,
		mem: mem,
		cfg: Config{MaxIterations: defaultMaxIterations},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.MaxIterations <= 0 {
		e.cfg.MaxIterations = defaultMaxIterations
	}
	if e.registry == nil {
		e.registry = tools.NewRegistry()
	}
	if e.chain == nil {
		e.chain = hooks.NewChain()
	}
	if e.dispatcher == nil {
		e.dispatcher = tools.NewDispatcher(tools.WithHooks(e.chain))
	}
	if e.execCtx == nil {
		e.execCtx = tools.NewExecContext()
	}
	return e
}

// Registry exposes the engine's tool registry for registration and group
// toggles. Changes apply from the next iteration's snapshot.
func (e *Engine) Registry() *tools.Registry {
	return e.registry
}

// Hooks exposes the engine's hook chain.
func (e *Engine) Hooks() *hooks.Chain {
	return e.chain
}

// RunResult is the outcome of one run.
type RunResult struct {
	// Message is the final assistant message, or the last one produced
	// when the run stopped on max iterations or interrupt.
	Message chat.Message
	// Structured holds the validated payload when structured output was
	// requested and satisfied.
	Structured json.RawMessage
	// StructuredErr reports a validation failure that survived all
	// retries. The run itself still terminates normally.
	StructuredErr   error
	State           State
	StopReason      StopReason
	Iterations      int
	InterruptReason string
}

// RunPrompt appends a user message and runs the loop.
func (e *Engine) RunPrompt(ctx context.Context, prompt string, interrupt *Interrupt) (*RunResult, error) {
	if err := e.mem.Append(chat.NewUserMessage(prompt)); err != nil {
		return nil, errors.Wrap(err, "could not append prompt")
	}
	return e.Run(ctx, interrupt)
}

// Run executes reason/act cycles over the current memory contents until the
// model answers without tool calls, the iteration budget runs out, or an
// interrupt lands at a boundary. interrupt may be nil.
//
// Triggering the interrupt cancels the run's context, so in-flight tool
// calls and streams are asked to stop; their partial output is then
// discarded at the next boundary.
func (e *Engine) Run(ctx context.Context, interrupt *Interrupt) (*RunResult, error) {
	runID := e.cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	if interrupt != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-interrupt.Done():
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	var lastAssistant *chat.Message
	retriesLeft := 0
	if s := e.cfg.Structured; s != nil {
		retriesLeft = s.retries()
	}

	for iter := 1; iter <= e.cfg.MaxIterations; iter++ {
		if reason, ok := runInterrupted(ctx, interrupt); ok {
			return e.interruptedResult(ctx, runID, iter-1, reason, lastAssistant), nil
		}

		meta := e.metadata(runID, iter)
		events.PublishEventToContext(ctx, events.NewStartEvent(meta))
		log.Debug().Str("run_id", runID).Int("iteration", iter).Msg("reasoning step")

		snap := e.registry.Snapshot()
		schemas, options := e.stepRequest(snap)

		ev, err := e.chain.Dispatch(ctx, &hooks.PreReasoning{
			History:   e.mem.Messages(),
			Options:   options,
			Iteration: iter,
		})
		if err != nil {
			events.PublishEventToContext(ctx, events.NewErrorEvent(meta, err))
			return nil, err
		}
		options = ev.(*hooks.PreReasoning).Options

		msg, err := e.reason(ctx, meta, gateway.Request{
			Messages: e.mem.Messages(),
			Tools:    schemas,
			Options:  options,
		})
		if err != nil {
			if reason, ok := runInterrupted(ctx, interrupt); ok {
				return e.interruptedResult(ctx, runID, iter-1, reason, lastAssistant), nil
			}
			events.PublishEventToContext(ctx, events.NewErrorEvent(meta, err))
			return nil, &GatewayError{Err: err}
		}

		pev, err := e.chain.Dispatch(ctx, &hooks.PostReasoning{Message: msg, Iteration: iter})
		if err != nil {
			events.PublishEventToContext(ctx, events.NewErrorEvent(meta, err))
			return nil, err
		}
		msg = pev.(*hooks.PostReasoning).Message

		// The assembled message is discarded on interrupt so memory never
		// records a step the user stopped.
		if reason, ok := runInterrupted(ctx, interrupt); ok {
			return e.interruptedResult(ctx, runID, iter, reason, lastAssistant), nil
		}

		if err := e.mem.Append(msg); err != nil {
			return nil, errors.Wrap(err, "could not append assistant message")
		}
		lastAssistant = &msg

		calls := chat.ToolUses(&msg)

		if s := e.cfg.Structured; s != nil && s.Mode == ModeForcedChoice {
			res, done := e.handleForcedChoice(ctx, meta, s, msg, calls, &retriesLeft, iter)
			if done {
				return res, nil
			}
			continue
		}

		if len(calls) == 0 {
			if s := e.cfg.Structured; s != nil && s.Mode == ModePromptedRetry {
				payload, verr := validateFinal(s, &msg)
				if verr != nil && retriesLeft > 0 && iter < e.cfg.MaxIterations {
					retriesLeft--
					correction := chat.NewUserMessage(
						"The answer must be a JSON document matching the required schema. " +
							"Validation failed: " + verr.Error())
					if err := e.mem.Append(correction); err != nil {
						return nil, errors.Wrap(err, "could not append correction")
					}
					continue
				}
				events.PublishEventToContext(ctx, events.NewFinalEvent(meta, msg.Text()))
				return &RunResult{
					Message:       msg,
					Structured:    payload,
					StructuredErr: verr,
					State:         StateTerminated,
					StopReason:    StopFinalAnswer,
					Iterations:    iter,
				}, nil
			}
			events.PublishEventToContext(ctx, events.NewFinalEvent(meta, msg.Text()))
			return &RunResult{
				Message:    msg,
				State:      StateTerminated,
				StopReason: StopFinalAnswer,
				Iterations: iter,
			}, nil
		}

		for _, c := range calls {
			input, _ := json.Marshal(c.Args)
			events.PublishEventToContext(ctx, events.NewToolCallEvent(meta,
				events.ToolCall{ID: c.ID, Name: c.Name, Input: string(input)}))
		}

		results := e.dispatcher.Dispatch(ctx, snap, calls, e.execCtx)
		blocks := make([]chat.Block, len(results))
		for i, r := range results {
			blocks[i] = r.Block()
		}
		toolMsg := chat.NewToolMessage(blocks...)

		// Same boundary rule as above: an interrupt that landed during tool
		// execution discards the results instead of appending them.
		if reason, ok := runInterrupted(ctx, interrupt); ok {
			return e.interruptedResult(ctx, runID, iter, reason, lastAssistant), nil
		}
		if err := e.mem.Append(toolMsg); err != nil {
			return nil, errors.Wrap(err, "could not append tool results")
		}
	}

	// Budget exhausted. Surface the last assistant message as a best
	// effort rather than failing the run.
	res := &RunResult{
		State:      StateTerminated,
		StopReason: StopMaxIterations,
		Iterations: e.cfg.MaxIterations,
	}
	if lastAssistant != nil {
		res.Message = *lastAssistant
	}
	events.PublishEventToContext(ctx, events.NewFinalEvent(
		e.metadata(runID, e.cfg.MaxIterations), res.Message.Text()))
	return res, nil
}

// reason performs one model invocation and folds the stream into a message.
func (e *Engine) reason(ctx context.Context, meta events.EventMetadata, req gateway.Request) (chat.Message, error) {
	stream, err := e.gw.Invoke(ctx, req)
	if err != nil {
		return chat.Message{}, err
	}
	acc := gateway.NewAccumulator()
	for {
		d, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return chat.Message{}, err
		}
		acc.Add(d)
		switch v := d.(type) {
		case gateway.TextDelta:
			events.PublishEventToContext(ctx,
				events.NewPartialCompletionEvent(meta, v.Text, acc.TextSoFar()))
		case gateway.ThinkingDelta:
			events.PublishEventToContext(ctx,
				events.NewThinkingPartialEvent(meta, v.Text, acc.ThinkingSoFar()))
		}
		_, _ = e.chain.Dispatch(ctx, &hooks.ReasoningChunk{Delta: d, Iteration: meta.Iteration})
	}
	return acc.Message(chat.RoleAssistant, e.cfg.AssistantName), nil
}

// stepRequest computes the tool schemas and options for one invocation.
// Forced-choice structured output replaces the ordinary tools with the
// single synthetic emit tool for every step of the run.
func (e *Engine) stepRequest(snap *tools.Snapshot) ([]gateway.ToolSchema, gateway.Options) {
	options := e.cfg.Options
	if s := e.cfg.Structured; s != nil && s.Mode == ModeForcedChoice {
		emit := gateway.ToolSchema{
			Name:        s.toolName(),
			Description: s.toolDescription(),
			Parameters:  s.Schema,
		}
		return []gateway.ToolSchema{emit}, options.WithForcedTool(s.toolName())
	}
	return snap.Schemas(), options
}

// handleForcedChoice evaluates the emit call of a forced-choice step. The
// emit tool never reaches the dispatcher; the engine validates its arguments
// and synthesizes the closing tool result so every tool_use stays paired.
func (e *Engine) handleForcedChoice(
	ctx context.Context,
	meta events.EventMetadata,
	s *StructuredOutput,
	msg chat.Message,
	calls []chat.ToolUse,
	retriesLeft *int,
	iter int,
) (*RunResult, bool) {
	var emit *chat.ToolUse
	for i := range calls {
		if calls[i].Name == s.toolName() {
			emit = &calls[i]
			break
		}
	}

	var payload json.RawMessage
	var verr error
	if emit == nil {
		verr = &StructuredOutputError{
			Cause: "model did not call " + s.toolName(),
			Raw:   msg.Text(),
		}
	} else {
		raw, err := json.Marshal(emit.Args)
		if err != nil {
			verr = &StructuredOutputError{Cause: err.Error()}
		} else if err := s.validate(raw); err != nil {
			verr = err
		} else {
			payload = raw
		}
	}

	if emit != nil {
		text, failed := "accepted", false
		if verr != nil {
			text, failed = verr.Error(), true
		}
		result := chat.ToolResult{
			ID:     emit.ID,
			Name:   emit.Name,
			Blocks: []chat.Block{chat.NewTextBlock(text)},
			Failed: failed,
		}
		if err := e.mem.Append(chat.NewToolMessage(result.Block())); err != nil {
			log.Warn().Err(err).Msg("could not append synthesized tool result")
		}
	}

	if verr == nil {
		events.PublishEventToContext(ctx, events.NewFinalEvent(meta, string(payload)))
		return &RunResult{
			Message:    msg,
			Structured: payload,
			State:      StateTerminated,
			StopReason: StopFinalAnswer,
			Iterations: iter,
		}, true
	}

	if *retriesLeft > 0 && iter < e.cfg.MaxIterations {
		*retriesLeft--
		if emit == nil {
			// No tool_use to anchor feedback to; correct via a user turn.
			correction := chat.NewUserMessage(
				"Call " + s.toolName() + " with arguments matching the required schema.")
			if err := e.mem.Append(correction); err != nil {
				log.Warn().Err(err).Msg("could not append correction")
			}
		}
		return nil, false
	}

	return &RunResult{
		Message:       msg,
		StructuredErr: verr,
		State:         StateTerminated,
		StopReason:    StopFinalAnswer,
		Iterations:    iter,
	}, true
}

func validateFinal(s *StructuredOutput, msg *chat.Message) (json.RawMessage, error) {
	raw, ok := extractCandidate(msg)
	if !ok {
		return nil, &StructuredOutputError{Cause: "final answer contains no JSON document"}
	}
	if err := s.validate(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (e *Engine) interruptedResult(
	ctx context.Context,
	runID string,
	iterations int,
	reason string,
	lastAssistant *chat.Message,
) *RunResult {
	msg := chat.NewAssistantMessage(e.cfg.AssistantName)
	if lastAssistant != nil {
		msg = *lastAssistant
	}
	events.PublishEventToContext(ctx,
		events.NewInterruptEvent(e.metadata(runID, iterations), reason, msg.Text()))
	log.Debug().Str("run_id", runID).Str("reason", reason).Msg("run interrupted")
	return &RunResult{
		Message:         msg,
		State:           StateInterrupted,
		StopReason:      StopInterrupted,
		Iterations:      iterations,
		InterruptReason: reason,
	}
}

func (e *Engine) metadata(runID string, iteration int) events.EventMetadata {
	return events.EventMetadata{
		ID:        uuid.New(),
		RunID:     runID,
		SessionID: e.cfg.SessionID,
		Iteration: iteration,
	}
}

// runInterrupted treats context cancellation and explicit interrupts the
// same way: a cooperative stop observed at the next boundary. The explicit
// interrupt is checked first so its reason is not masked by the context
// cancellation it caused.
func runInterrupted(ctx context.Context, i *Interrupt) (string, bool) {
	if reason, ok := i.Triggered(); ok {
		return reason, true
	}
	if err := ctx.Err(); err != nil {
		return err.Error(), true
	}
	return "", false
}
