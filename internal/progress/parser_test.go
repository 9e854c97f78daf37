package progress_test

import (
	"testing"

	"github.com/CZERTAINLY/Trainer/internal/model"
	"github.com/CZERTAINLY/Trainer/internal/progress"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	p := progress.Default()

	var testCases = []struct {
		scenario string
		given    string
		then     []model.ProgressEvent
	}{
		{"epoch", "Epoch 3/100", []model.ProgressEvent{model.Epoch(3, 100)}},
		{"epoch of", "epoch 7 of 10 done", []model.ProgressEvent{model.Epoch(7, 10)}},
		{"epoch over total", "Epoch 11/10", nil},
		{"epoch zero", "Epoch 0/10", nil},
		{"map50", "mAP50: 0.812", []model.ProgressEvent{model.Metric("mAP50", 0.812)}},
		{"map50-95", "mAP50-95: 0.5", []model.ProgressEvent{model.Metric("mAP50-95", 0.5)}},
		{"case insensitive", "LOSS: 1.25", []model.ProgressEvent{model.Metric("loss", 1.25)}},
		{"exponent", "loss: 1e-3", []model.ProgressEvent{model.Metric("loss", 0.001)}},
		{"random text", "Downloading https://example.com/yolov8n.pt", nil},
		{"empty", "", nil},
		{"malformed number", "loss: 1.2.3 precision: 0.9", []model.ProgressEvent{model.Metric("precision", 0.9)}},
		{"dot only", "recall: .", nil},
		{"prefixed label", "box_loss: 1.234", []model.ProgressEvent{model.Metric("loss", 1.234)}},
		{"first of several losses", "train/box_loss: 0.9 val/cls_loss: 0.4", []model.ProgressEvent{model.Metric("loss", 0.9)}},
		{"map50-95 before map50", "mAP50-95: 0.6 mAP50: 0.8", []model.ProgressEvent{model.Metric("mAP50", 0.8), model.Metric("mAP50-95", 0.6)}},
		{
			"several matches",
			"Epoch 2/5 loss: 0.5 precision: 0.7 recall: 0.6 mAP50: 0.4 mAP50-95: 0.2",
			[]model.ProgressEvent{
				model.Epoch(2, 5),
				model.Metric("loss", 0.5),
				model.Metric("precision", 0.7),
				model.Metric("recall", 0.6),
				model.Metric("mAP50", 0.4),
				model.Metric("mAP50-95", 0.2),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			require.Equal(t, tc.then, p.Parse(tc.given))
		})
	}
}

func TestParse_Stateless(t *testing.T) {
	t.Parallel()
	p := progress.Default()
	// a line split in two must not produce an event from either half
	require.Empty(t, p.Parse("Epoch 3"))
	require.Empty(t, p.Parse("/100"))
	require.Equal(t, []model.ProgressEvent{model.Epoch(3, 100)}, p.Parse("Epoch 3/100"))
}

func TestNewRule(t *testing.T) {
	t.Parallel()

	r, err := progress.NewRule("", model.RuleKindMetric, `(?P<name>\w+)=(?P<value>[\d.]+)`)
	require.NoError(t, err)
	p := progress.New(r)
	require.Equal(t, []model.ProgressEvent{model.Metric("fitness", 0.75)}, p.Parse("fitness=0.75"))

	r, err = progress.NewRule("iter", model.RuleKindEpoch, `(?P<total>\d+) total, at (?P<current>\d+)`)
	require.NoError(t, err)
	require.Equal(t, []model.ProgressEvent{model.Epoch(4, 9)}, progress.New(r).Parse("9 total, at 4"))

	r, err = progress.NewRule("lr", "", `lr=([\d.]+)`)
	require.NoError(t, err)
	require.Equal(t, model.RuleKindMetric, r.Kind)

	var testCases = []struct {
		scenario string
		kind     string
		pattern  string
	}{
		{"bad regexp", model.RuleKindMetric, `(`},
		{"no value group", model.RuleKindMetric, `loss`},
		{"one epoch group", model.RuleKindEpoch, `Epoch (\d+)`},
		{"bad kind", "histogram", `(\d+)`},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := progress.NewRule("x", tc.kind, tc.pattern)
			require.Error(t, err)
		})
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	p, err := progress.FromConfig(nil)
	require.NoError(t, err)
	require.Len(t, p.Rules(), len(progress.DefaultRules()))

	cfg := &model.Parser{
		Rules: []model.Rule{{Name: "box_loss", Kind: model.RuleKindMetric, Pattern: `box_loss\s+([\d.]+)`}},
	}
	p, err = progress.FromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, p.Rules(), len(progress.DefaultRules())+1)
	require.Equal(t,
		[]model.ProgressEvent{model.Epoch(1, 2), model.Metric("box_loss", 1.5)},
		p.Parse("Epoch 1/2 box_loss 1.5"),
	)

	cfg.Replace = true
	p, err = progress.FromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, p.Rules(), 1)
	require.Equal(t, []model.ProgressEvent{model.Metric("box_loss", 1.5)}, p.Parse("Epoch 1/2 box_loss 1.5"))

	_, err = progress.FromConfig(&model.Parser{Rules: []model.Rule{
		{Name: "a", Kind: model.RuleKindMetric, Pattern: `(`},
		{Name: "b", Kind: model.RuleKindEpoch, Pattern: `x`},
	}})
	require.Error(t, err)
}
