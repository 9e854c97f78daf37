package model_test

import (
	"math/big"
	"testing"

	"github.com/CZERTAINLY/Trainer/internal/model"
	"github.com/stretchr/testify/require"
)

func TestValueOf(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    any
		then     model.Value
	}{
		{"int", 3, model.Int(3)},
		{"int64", int64(-4), model.Int(-4)},
		{"big int", big.NewInt(5), model.Int(5)},
		{"float", 0.5, model.Float(0.5)},
		{"string", "SGD", model.String("SGD")},
		{"bool", true, model.Bool(true)},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			v, err := model.ValueOf(tc.given)
			require.NoError(t, err)
			require.Equal(t, tc.then, v)
		})
	}

	_, err := model.ValueOf(nil)
	require.Error(t, err)
	_, err = model.ValueOf(uint64(1 << 63))
	require.Error(t, err)
	_, err = model.ValueOf([]int{1})
	require.Error(t, err)
}

func TestValue_Coercion(t *testing.T) {
	t.Parallel()

	i, err := model.Text(" 12 ").AsInt()
	require.NoError(t, err)
	require.Equal(t, int64(12), i)
	i, err = model.Float(4).AsInt()
	require.NoError(t, err)
	require.Equal(t, int64(4), i)
	_, err = model.Float(4.5).AsInt()
	require.Error(t, err)
	_, err = model.String("12").AsInt()
	require.Error(t, err)

	f, err := model.Text("1e-3").AsFloat()
	require.NoError(t, err)
	require.InDelta(t, 0.001, f, 1e-12)
	_, err = model.Text("Inf").AsFloat()
	require.Error(t, err)
	_, err = model.Bool(true).AsFloat()
	require.Error(t, err)

	b, err := model.Text("true").AsBool()
	require.NoError(t, err)
	require.True(t, b)
	_, err = model.Int(1).AsBool()
	require.Error(t, err)

	s, err := model.Text("AdamW").AsString()
	require.NoError(t, err)
	require.Equal(t, "AdamW", s)
	_, err = model.Int(1).AsString()
	require.Error(t, err)
}

func TestParameterSet(t *testing.T) {
	t.Parallel()
	base := model.ParameterSet{"epochs": model.Int(100), "amp": model.Bool(true)}
	clone := base.Clone()
	clone["epochs"] = model.Int(1)
	require.Equal(t, model.Int(100), base["epochs"])

	merged := base.Merge(model.ParameterSet{"epochs": model.Text("7"), "lr0": model.Float(0.1)})
	require.Equal(t, model.Text("7"), merged["epochs"])
	require.Equal(t, model.Bool(true), merged["amp"])
	require.Equal(t, model.Float(0.1), merged["lr0"])
	require.Len(t, base, 2)

	_, err := model.ParamsFromMap(map[string]any{"epochs": nil})
	require.ErrorIs(t, err, model.ErrInvalidParameter)
}

func TestParseAssignment(t *testing.T) {
	t.Parallel()
	name, v, err := model.ParseAssignment("lr0=0.01")
	require.NoError(t, err)
	require.Equal(t, "lr0", name)
	require.Equal(t, model.Text("0.01"), v)

	name, v, err = model.ParseAssignment("optimizer=a=b")
	require.NoError(t, err)
	require.Equal(t, "optimizer", name)
	require.Equal(t, model.Text("a=b"), v)

	for _, s := range []string{"epochs", "=1", ""} {
		_, _, err := model.ParseAssignment(s)
		require.Error(t, err, s)
	}
}

func TestSchema_Defaults(t *testing.T) {
	t.Parallel()
	schema := model.DefaultSchema()
	defaults := schema.Defaults()
	require.Len(t, defaults, len(schema.Params)+len(schema.Flags))
	require.Equal(t, model.Int(100), defaults["epochs"])
	require.Equal(t, model.Bool(true), defaults["cos_lr"])

	require.Equal(t, "yolov8n.pt", model.ModelSource("yolov8n.pt", " "))
	require.Equal(t, "/w/best.pt", model.ModelSource("yolov8n.pt", "/w/best.pt"))
}

func TestRunState(t *testing.T) {
	t.Parallel()
	for s := model.StateIdle; s <= model.StateStopped; s++ {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var got model.RunState
		require.NoError(t, got.UnmarshalText(text))
		require.Equal(t, s, got)
	}
	require.True(t, model.StateStopping.Active())
	require.False(t, model.StateStopping.Terminal())
	require.True(t, model.StateFailed.Terminal())
	require.False(t, model.StateIdle.Active())

	var s model.RunState
	require.Error(t, s.UnmarshalText([]byte("paused")))
}
