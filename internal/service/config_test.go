package service_test

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/Trainer/internal/model"
	"github.com/CZERTAINLY/Trainer/internal/process"
	"github.com/CZERTAINLY/Trainer/internal/service"

	"github.com/stretchr/testify/require"
)

func TestProcessOptions(t *testing.T) {
	t.Parallel()

	opts, err := service.ProcessOptions(nil)
	require.NoError(t, err)
	require.Equal(t, process.Options{}, opts)

	opts, err = service.ProcessOptions(&model.Supervisor{GracePeriod: "1m", DrainTimeout: "2s"})
	require.NoError(t, err)
	require.Equal(t, process.Options{GracePeriod: time.Minute, DrainTimeout: 2 * time.Second}, opts)

	_, err = service.ProcessOptions(&model.Supervisor{GracePeriod: "soon"})
	require.Error(t, err)
	_, err = service.ProcessOptions(&model.Supervisor{DrainTimeout: "5"})
	require.Error(t, err)
}

func TestNewRequest(t *testing.T) {
	t.Parallel()
	cfg := model.Config{
		Model:   "yolo11s.pt",
		Dataset: "helmet/data.yaml",
		Params:  map[string]any{"epochs": 3, "optimizer": "SGD"},
		Flags:   map[string]bool{"amp": false},
	}
	req, err := service.NewRequest(cfg)
	require.NoError(t, err)
	require.Equal(t, "yolo11s.pt", req.Model)
	require.Equal(t, "helmet/data.yaml", req.Dataset)
	require.Equal(t, model.Int(3), req.Params["epochs"])
	require.Equal(t, model.String("SGD"), req.Params["optimizer"])
	require.Equal(t, model.Bool(false), req.Params["amp"])
	// everything else comes from the schema defaults
	require.Equal(t, model.Int(768), req.Params["imgsz"])

	cfg.Params["epochs"] = nil
	_, err = service.NewRequest(cfg)
	require.ErrorIs(t, err, model.ErrInvalidParameter)
}

func TestNewOrchestrator(t *testing.T) {
	t.Parallel()
	cfg := model.DefaultConfig(t.Context())

	o, err := service.NewOrchestrator(cfg)
	require.NoError(t, err)
	require.Equal(t, model.StateIdle, o.State())
	require.NoError(t, o.Close(t.Context()))

	bad := cfg
	bad.Version = 1
	_, err = service.NewOrchestrator(bad)
	require.Error(t, err)

	bad = cfg
	bad.Parser = &model.Parser{Rules: []model.Rule{{Name: "x", Kind: model.RuleKindEpoch, Pattern: `(\d+)`}}}
	_, err = service.NewOrchestrator(bad)
	require.Error(t, err)

	bad = cfg
	bad.Supervisor = &model.Supervisor{GracePeriod: "forever"}
	_, err = service.NewOrchestrator(bad)
	require.Error(t, err)
}
