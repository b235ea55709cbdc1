package react

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/go-go-golems/burattino/pkg/chat"
)

// StructuredMode selects the enforcement strategy for schema-shaped output.
type StructuredMode string

const (
	// ModeForcedChoice advertises a single synthetic tool carrying the
	// schema and forces the model to call it. Ordinary tools are hidden
	// while the mode is active.
	ModeForcedChoice StructuredMode = "forced_choice"
	// ModePromptedRetry lets the run proceed normally and validates the
	// final answer, feeding validation errors back for bounded retries.
	ModePromptedRetry StructuredMode = "prompted_retry"
)

const defaultStructuredRetries = 2

// StructuredOutput configures schema enforcement for a run's final answer.
type StructuredOutput struct {
	Mode        StructuredMode
	Name        string
	Description string
	Schema      map[string]any
	// MaxRetries bounds the extra attempts granted after a validation
	// failure. Zero means the package default.
	MaxRetries int
}

func (s *StructuredOutput) retries() int {
	if s.MaxRetries > 0 {
		return s.MaxRetries
	}
	return defaultStructuredRetries
}

func (s *StructuredOutput) toolName() string {
	if s.Name != "" {
		return s.Name
	}
	return "emit_result"
}

func (s *StructuredOutput) toolDescription() string {
	if s.Description != "" {
		return s.Description
	}
	return "Deliver the final answer in the required structure."
}

// ShapeOf derives a structured output schema from a Go type.
func ShapeOf[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	var v T
	schema := reflector.Reflect(&v)
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal reflected schema")
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "could not decode reflected schema")
	}
	return out, nil
}

// validate checks raw JSON against the configured schema.
func (s *StructuredOutput) validate(raw []byte) error {
	schemaLoader := gojsonschema.NewGoLoader(s.Schema)
	docLoader := gojsonschema.NewBytesLoader(raw)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return &StructuredOutputError{Cause: err.Error(), Raw: string(raw)}
	}
	if result.Valid() {
		return nil
	}
	reasons := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		reasons = append(reasons, e.String())
	}
	return &StructuredOutputError{Cause: strings.Join(reasons, "; "), Raw: string(raw)}
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// extractCandidate pulls the JSON document out of a final assistant message.
// Preference order: structured_data block, fenced json code block, the whole
// text.
func extractCandidate(m *chat.Message) ([]byte, bool) {
	for _, b := range m.BlocksByKind(chat.BlockKindStructuredData) {
		data := b.Payload[chat.PayloadKeyData]
		switch v := data.(type) {
		case json.RawMessage:
			return v, true
		case []byte:
			return v, true
		case string:
			return []byte(v), true
		default:
			raw, err := json.Marshal(v)
			if err == nil {
				return raw, true
			}
		}
	}

	text := strings.TrimSpace(m.Text())
	if text == "" {
		return nil, false
	}
	if match := fencedJSON.FindStringSubmatch(text); match != nil {
		return []byte(strings.TrimSpace(match[1])), true
	}
	return []byte(text), true
}

// DecodeStructured unmarshals a run's structured payload into T.
func DecodeStructured[T any](res *RunResult) (T, error) {
	var out T
	if res == nil || len(res.Structured) == 0 {
		return out, errors.New("run produced no structured payload")
	}
	if err := json.Unmarshal(res.Structured, &out); err != nil {
		return out, errors.Wrap(err, "could not decode structured payload")
	}
	return out, nil
}
