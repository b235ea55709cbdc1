package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/burattino/pkg/chat"
	"github.com/go-go-golems/burattino/pkg/events"
	"github.com/go-go-golems/burattino/pkg/gateway"
	"github.com/go-go-golems/burattino/pkg/memory"
	"github.com/go-go-golems/burattino/pkg/react"
	"github.com/go-go-golems/burattino/pkg/session"
	"github.com/go-go-golems/burattino/pkg/tools"
)

var (
	flagPrompt        string
	flagMaxIterations int
	flagLogLevel      string
	flagSessionFile   string
	flagStructured    bool
)

var rootCmd = &cobra.Command{
	Use:   "burattino-chat",
	Short: "Run a scripted reason/act conversation against the demo gateway",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lvl, err := zerolog.ParseLevel(flagLogLevel)
		if err != nil {
			return errors.Wrapf(err, "bad log level %s", flagLogLevel)
		}
		zerolog.SetGlobalLevel(lvl)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return nil
	},
	RunE: runChat,
}

func main() {
	rootCmd.Flags().StringVarP(&flagPrompt, "prompt", "p", "what is 21*2 and what time is it?", "user prompt")
	rootCmd.Flags().IntVar(&flagMaxIterations, "max-iterations", 10, "reason/act iteration budget")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "zerolog level")
	rootCmd.Flags().StringVar(&flagSessionFile, "session-file", "", "write the finished session state to this file")
	rootCmd.Flags().BoolVar(&flagStructured, "structured", false, "force a schema-shaped final answer")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mem := memory.NewInMemory()
	reg := tools.NewRegistry()
	if err := registerDemoTools(reg); err != nil {
		return err
	}

	sinks, cleanup, err := buildSinks(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx = events.WithEventSinks(ctx, sinks...)

	opts := []react.Option{
		react.WithRegistry(reg),
		react.WithMaxIterations(flagMaxIterations),
		react.WithAssistantName("burattino"),
	}
	if flagStructured {
		opts = append(opts, react.WithStructured(&react.StructuredOutput{
			Mode: react.ModeForcedChoice,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"answer": map[string]any{"type": "string"},
				},
				"required": []any{"answer"},
			},
		}))
	}

	eng := react.New(newDemoGateway(flagStructured), mem, opts...)

	interrupt := react.NewInterrupt()
	go func() {
		<-ctx.Done()
		interrupt.Trigger("signal received")
	}()

	res, err := eng.RunPrompt(ctx, flagPrompt, interrupt)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("state: %s (%s), %d iteration(s)\n", res.State, res.StopReason, res.Iterations)
	if len(res.Structured) > 0 {
		fmt.Printf("structured: %s\n", res.Structured)
	} else {
		fmt.Printf("answer: %s\n", res.Message.Text())
	}
	if res.StructuredErr != nil {
		fmt.Printf("structured output failed: %v\n", res.StructuredErr)
	}

	if flagSessionFile != "" {
		if err := saveSession(mem, reg, eng); err != nil {
			return err
		}
		log.Info().Str("file", flagSessionFile).Msg("session state written")
	}
	return nil
}

func saveSession(mem memory.Memory, reg *tools.Registry, eng *react.Engine) error {
	f, err := os.Create(flagSessionFile)
	if err != nil {
		return errors.Wrap(err, "could not create session file")
	}
	defer func() { _ = f.Close() }()
	st := session.Capture("", mem, reg, eng.Hooks())
	return st.Save(f)
}

func registerDemoTools(reg *tools.Registry) error {
	calc := tools.Definition{
		Name:        "calculator",
		Description: "Evaluate a simple arithmetic expression",
		Params: []tools.ParamSpec{
			{Name: "expression", Type: "string", Description: "expression like 21*2", Required: true},
		},
		Fn: func(_ context.Context, inv tools.Invocation) (any, error) {
			expr, _ := inv.Args["expression"].(string)
			result, err := evalExpression(expr)
			if err != nil {
				return nil, err
			}
			return map[string]any{"expression": expr, "result": result}, nil
		},
	}
	clock := tools.Definition{
		Name:        "clock",
		Description: "Return the current time",
		Fn: func(_ context.Context, _ tools.Invocation) (any, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	}
	if err := reg.Register(calc); err != nil {
		return err
	}
	return reg.Register(clock)
}

// evalExpression handles the handful of forms the demo script produces.
func evalExpression(expr string) (float64, error) {
	cleaned := strings.ReplaceAll(expr, " ", "")
	for _, op := range []string{"*", "+", "-", "/"} {
		parts := strings.SplitN(cleaned, op, 2)
		if len(parts) != 2 {
			continue
		}
		var a, b float64
		if _, err := fmt.Sscanf(parts[0], "%g", &a); err != nil {
			continue
		}
		if _, err := fmt.Sscanf(parts[1], "%g", &b); err != nil {
			continue
		}
		switch op {
		case "*":
			return a * b, nil
		case "+":
			return a + b, nil
		case "-":
			return a - b, nil
		case "/":
			if b == 0 {
				return 0, errors.New("division by zero")
			}
			return a / b, nil
		}
	}
	return 0, errors.Errorf("cannot evaluate %q", expr)
}

// buildSinks wires a console sink plus a watermill sink whose messages are
// drained by a logging subscriber.
func buildSinks(ctx context.Context) ([]events.EventSink, func(), error) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	topic := "chat-events"
	msgs, err := pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not subscribe to event topic")
	}
	go drainEvents(msgs)

	manager := events.NewPublisherManager()
	manager.SubscribePublisher(topic, pubsub)

	sinks := []events.EventSink{
		&consoleSink{},
		&busSink{manager: manager},
	}
	cleanup := func() { _ = pubsub.Close() }
	return sinks, cleanup, nil
}

// busSink fans events out through the publisher manager, which stamps the
// sequence number consumers use for ordering.
type busSink struct {
	manager *events.PublisherManager
}

func (b *busSink) PublishEvent(ev events.Event) error {
	return b.manager.Publish(ev)
}

func drainEvents(msgs <-chan *message.Message) {
	for msg := range msgs {
		log.Debug().
			Str("sequence_number", msg.Metadata.Get("sequence_number")).
			Msg("event on bus")
		msg.Ack()
	}
}

// consoleSink renders a terse line per event for interactive runs.
type consoleSink struct{}

func (c *consoleSink) PublishEvent(ev events.Event) error {
	switch e := ev.(type) {
	case *events.EventStart:
		fmt.Printf("-- step %d\n", e.Metadata().Iteration)
	case *events.EventPartialCompletion:
		fmt.Print(e.Delta)
	case *events.EventToolCall:
		fmt.Printf("\n[tool call] %s(%s)\n", e.ToolCall.Name, e.ToolCall.Input)
	case *events.EventToolCallExecutionResult:
		fmt.Printf("[tool result] %s failed=%v\n", e.ToolResult.ID, e.ToolResult.Failed)
	case *events.EventFinal:
		fmt.Println()
	case *events.EventInterrupt:
		fmt.Printf("\n[interrupted] %s\n", e.Reason)
	case *events.EventError:
		fmt.Printf("\n[error] %s\n", e.ErrorString)
	}
	return nil
}

// demoGateway scripts a deterministic conversation so the loop can be
// exercised without a provider backend. The first step requests both demo
// tools; the second step folds their results into an answer.
type demoGateway struct {
	structured bool
	step       int
}

func newDemoGateway(structured bool) *demoGateway {
	return &demoGateway{structured: structured}
}

func (g *demoGateway) Invoke(ctx context.Context, req gateway.Request) (gateway.Stream, error) {
	g.step++
	stream := gateway.NewChanStream(8)

	go func() {
		defer stream.CloseSend()
		send := func(d gateway.Delta) {
			if err := stream.Send(ctx, d); err != nil {
				log.Debug().Err(err).Msg("demo stream send failed")
			}
		}

		if g.structured {
			args, _ := json.Marshal(map[string]any{"answer": "42, right on time"})
			send(gateway.ToolCallDelta{ID: "emit-1", Name: req.Options.ForcedTool, ArgsFragment: string(args)})
			return
		}

		switch g.step {
		case 1:
			send(gateway.ThinkingDelta{Text: "need the product and the clock"})
			send(gateway.ToolCallDelta{ID: "call-1", Name: "calculator", ArgsFragment: `{"expression":`})
			send(gateway.ToolCallDelta{ID: "call-1", ArgsFragment: `"21*2"}`})
			send(gateway.ToolCallDelta{ID: "call-2", Name: "clock", ArgsFragment: `{}`})
		default:
			answer := summarizeResults(req.Messages)
			for _, word := range strings.SplitAfter(answer, " ") {
				send(gateway.TextDelta{Text: word})
			}
		}
	}()

	return stream, nil
}

func summarizeResults(msgs []chat.Message) string {
	var parts []string
	for i := range msgs {
		for _, r := range chat.ToolResults(&msgs[i]) {
			for _, b := range r.Blocks {
				if s, ok := b.Payload[chat.PayloadKeyText].(string); ok && s != "" {
					parts = append(parts, s)
					continue
				}
				if d, ok := b.Payload[chat.PayloadKeyData]; ok {
					raw, _ := json.Marshal(d)
					parts = append(parts, string(raw))
				}
			}
		}
	}
	if len(parts) == 0 {
		return "I could not gather any tool results."
	}
	return "Here is what I found: " + strings.Join(parts, "; ")
}
