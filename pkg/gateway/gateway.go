package gateway

import (
	"context"

	"github.com/go-go-golems/burattino/pkg/chat"
)

// Gateway abstracts a model backend. Implementations translate the request
// into their provider's wire format and deliver output as a stream of
// content deltas, buffered or incremental.
type Gateway interface {
	// Invoke starts one model invocation. The returned Stream yields deltas
	// until completion (io.EOF) or error. Tool-call deltas must carry a
	// stable per-call id constant across fragments of the same call.
	Invoke(ctx context.Context, req Request) (Stream, error)
}

// Request carries everything one model invocation needs.
type Request struct {
	Messages []chat.Message
	Tools    []ToolSchema
	Options  Options
}

// ToolSchema is the model-visible description of one invocable tool.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoice controls how the model may pick tools for a step.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide.
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone forbids tool calls.
	ToolChoiceNone ToolChoice = "none"
	// ToolChoiceRequired forces at least one tool call.
	ToolChoiceRequired ToolChoice = "required"
	// ToolChoiceForced forces a call to the single tool named in
	// Options.ForcedTool.
	ToolChoiceForced ToolChoice = "forced"
)

// Options are per-invocation generation parameters. The struct is treated
// as immutable; the With* setters return modified copies.
type Options struct {
	Model       string     `json:"model,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	TopP        *float64   `json:"top_p,omitempty"`
	MaxTokens   *int       `json:"max_tokens,omitempty"`
	ToolChoice  ToolChoice `json:"tool_choice,omitempty"`
	ForcedTool  string     `json:"forced_tool,omitempty"`
}

func (o Options) WithModel(model string) Options {
	o.Model = model
	return o
}

func (o Options) WithTemperature(t float64) Options {
	o.Temperature = &t
	return o
}

func (o Options) WithTopP(p float64) Options {
	o.TopP = &p
	return o
}

func (o Options) WithMaxTokens(n int) Options {
	o.MaxTokens = &n
	return o
}

func (o Options) WithToolChoice(tc ToolChoice) Options {
	o.ToolChoice = tc
	return o
}

func (o Options) WithForcedTool(name string) Options {
	o.ToolChoice = ToolChoiceForced
	o.ForcedTool = name
	return o
}
