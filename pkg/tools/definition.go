package tools

import (
	"context"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/go-go-golems/burattino/pkg/chat"
	"github.com/go-go-golems/burattino/pkg/gateway"
)

// FailureKind classifies why a tool call produced a failed result.
type FailureKind string

const (
	FailureNotFound       FailureKind = "not_found"
	FailureExecution      FailureKind = "execution"
	FailureTimeout        FailureKind = "timeout"
	FailureMissingContext FailureKind = "missing_context"
	FailureInterrupted    FailureKind = "interrupted"
)

// ParamSpec declares one parameter of a tool. Parameters are declared
// explicitly rather than derived from the implementation's signature, so the
// advertised schema is stable and reviewable.
type ParamSpec struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty"`
	Enum        []any  `yaml:"enum,omitempty"`
	// Schema, when set, replaces the generated property schema entirely.
	Schema map[string]any `yaml:"schema,omitempty"`
}

func (p ParamSpec) propertySchema() map[string]any {
	if p.Schema != nil {
		return p.Schema
	}
	prop := map[string]any{"type": p.Type}
	if p.Description != "" {
		prop["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		prop["enum"] = p.Enum
	}
	return prop
}

// Invocation carries everything a tool function receives for one call.
type Invocation struct {
	// Call is the originating request, after hook rewrites.
	Call chat.ToolUse
	// Args are the call arguments merged with the definition's presets.
	Args map[string]any
	// Context provides typed runtime dependencies.
	Context *ExecContext
}

// Func is the implementation of a tool. The returned value is converted to
// result content blocks; a returned error marks the result failed.
type Func func(ctx context.Context, inv Invocation) (any, error)

// Definition describes a registered tool.
type Definition struct {
	Name        string
	Description string
	Params      []ParamSpec
	Fn          Func
	// Group assigns the tool to a named group for bulk visibility toggles.
	// Tools without a group are always visible.
	Group string
	// Presets are argument defaults injected at dispatch time. Preset
	// parameters are hidden from the advertised schema; a model-supplied
	// value of the same name wins over the preset.
	Presets map[string]any
	// Requires lists the typed dependencies the tool resolves from the
	// ExecContext. Missing entries fail the call before execution.
	Requires []ContextType
	// Timeout overrides the dispatcher's default per-call timeout.
	Timeout time.Duration
}

// Schema builds the tool schema advertised to the model. Preset parameters
// are excluded so the model never sees keys it cannot influence.
func (d Definition) Schema() gateway.ToolSchema {
	props := map[string]any{}
	var required []string
	for _, p := range d.Params {
		if _, isPreset := d.Presets[p.Name]; isPreset {
			continue
		}
		props[p.Name] = p.propertySchema()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	params := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return gateway.ToolSchema{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  params,
	}
}

// mergedArgs fills gaps in the caller's arguments with presets. Call args
// win on overlapping keys.
func (d Definition) mergedArgs(args map[string]any) map[string]any {
	merged := make(map[string]any, len(args)+len(d.Presets))
	for k, v := range d.Presets {
		merged[k] = v
	}
	for k, v := range args {
		merged[k] = v
	}
	return merged
}

// ReflectSchema derives a JSON schema map from a Go struct, for tools whose
// argument shape is easier to express as a type than as ParamSpecs.
func ReflectSchema(v any) (map[string]any, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(v)
	return schemaToMap(schema)
}
