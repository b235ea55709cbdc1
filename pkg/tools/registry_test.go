package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFn(_ context.Context, _ Invocation) (any, error) {
	return "ok", nil
}

func TestRegisterAndSnapshot(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{Name: "alpha", Fn: noopFn}))
	require.NoError(t, reg.Register(Definition{Name: "beta", Fn: noopFn}))

	snap := reg.Snapshot()
	assert.Equal(t, []string{"alpha", "beta"}, snap.Names())

	_, ok := snap.Get("alpha")
	assert.True(t, ok)
	_, ok = snap.Get("gamma")
	assert.False(t, ok)
}

func TestRegisterRejectsIncomplete(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(Definition{Fn: noopFn}))
	assert.Error(t, reg.Register(Definition{Name: "no-fn"}))
}

func TestGroupToggleAffectsNewSnapshotsOnly(t *testing.T) {
	reg := NewRegistry()
	reg.DefineGroup("web", "network access tools")
	require.NoError(t, reg.Register(Definition{Name: "fetch", Fn: noopFn, Group: "web"}))
	require.NoError(t, reg.Register(Definition{Name: "clock", Fn: noopFn}))

	before := reg.Snapshot()
	require.NoError(t, reg.SetGroupActive("web", false))
	after := reg.Snapshot()

	assert.Equal(t, []string{"clock", "fetch"}, before.Names(),
		"existing snapshot keeps the view it was taken with")
	assert.Equal(t, []string{"clock"}, after.Names())

	require.NoError(t, reg.SetGroupActive("web", true))
	assert.Equal(t, []string{"clock", "fetch"}, reg.Snapshot().Names())
}

func TestSetGroupActiveUnknownGroup(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.SetGroupActive("nope", false))
}

func TestImplicitGroupStartsActive(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{Name: "fetch", Fn: noopFn, Group: "web"}))
	assert.Equal(t, []string{"fetch"}, reg.Snapshot().Names())
}

func TestUnregister(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{Name: "alpha", Fn: noopFn}))
	reg.Unregister("alpha")
	reg.Unregister("never-there")
	assert.Zero(t, reg.Snapshot().Len())
}

func TestSchemaHidesPresetParams(t *testing.T) {
	def := Definition{
		Name:        "search",
		Description: "full text search",
		Fn:          noopFn,
		Params: []ParamSpec{
			{Name: "query", Type: "string", Required: true},
			{Name: "api_key", Type: "string", Required: true},
		},
		Presets: map[string]any{"api_key": "secret"},
	}

	schema := def.Schema()
	props, ok := schema.Parameters["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.NotContains(t, props, "api_key")

	required, ok := schema.Parameters["required"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"query"}, required)
}

func TestParamSpecEnumAndOverride(t *testing.T) {
	enum := ParamSpec{Name: "unit", Type: "string", Enum: []any{"c", "f"}}
	prop := enum.propertySchema()
	assert.Equal(t, []any{"c", "f"}, prop["enum"])

	override := ParamSpec{Name: "filter", Schema: map[string]any{"type": "array"}}
	assert.Equal(t, map[string]any{"type": "array"}, override.propertySchema())
}

func TestExecContextProvideResolve(t *testing.T) {
	type store struct{ name string }

	ec := NewExecContext()
	Provide(ec, &store{name: "primary"})

	got, err := ResolveAs[*store](ec)
	require.NoError(t, err)
	assert.Equal(t, "primary", got.name)

	_, err = ResolveAs[string](ec)
	assert.Error(t, err)

	assert.True(t, ec.Has(CtxType[*store]()))
	assert.False(t, ec.Has(CtxType[int]()))
}

func TestReflectSchema(t *testing.T) {
	type args struct {
		City string `json:"city" jsonschema:"required"`
		Days int    `json:"days,omitempty"`
	}
	m, err := ReflectSchema(&args{})
	require.NoError(t, err)
	assert.Equal(t, "object", m["type"])
	props, ok := m["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "city")
}
