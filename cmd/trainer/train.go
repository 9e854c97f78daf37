package main

import (
	"fmt"

	"github.com/CZERTAINLY/Trainer/internal/jobspec"
	"github.com/CZERTAINLY/Trainer/internal/model"
	"github.com/CZERTAINLY/Trainer/internal/service"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var (
	flagSet         []string // values of --set
	flagCustomModel string   // value of --custom-model
)

func init() {
	for _, cmd := range []*cobra.Command{trainCmd, scriptCmd} {
		cmd.Flags().StringArrayVar(&flagSet, "set", nil, "override a parameter, name=value, can be repeated")
		cmd.Flags().StringVar(&flagCustomModel, "custom-model", "", "path to custom weights, wins over --model")
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run command reads the configuration and trains once or on a schedule",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return service.Run(cmdContext(cmd), config, nil)
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "train runs one training job with the parameters overridden by --set",
	RunE: func(cmd *cobra.Command, _ []string) error {
		overrides, err := parseOverrides()
		if err != nil {
			return err
		}
		cfg := config
		cfg.Model = model.ModelSource(cfg.Model, flagCustomModel)
		cfg.Service.Mode = model.ServiceModeManual
		return service.Run(cmdContext(cmd), cfg, overrides)
	},
}

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "script prints the training script without running it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		overrides, err := parseOverrides()
		if err != nil {
			return err
		}
		req, err := service.NewRequest(config)
		if err != nil {
			return err
		}
		builder, err := jobspec.NewBuilder(model.DefaultSchema(), config.Python)
		if err != nil {
			return err
		}
		spec, err := builder.Build(req.Params.Merge(overrides), model.ModelSource(req.Model, flagCustomModel), req.Dataset)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(spec.Script)
		return err
	},
}

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "params prints the parameter schema and the built-in models",
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		err := enc.Encode(struct {
			Schema model.Schema `yaml:"schema"`
			Models []string     `yaml:"models"`
		}{
			Schema: model.DefaultSchema(),
			Models: model.BuiltinModels,
		})
		if err != nil {
			return err
		}
		return enc.Close()
	},
}

func parseOverrides() (model.ParameterSet, error) {
	ret := make(model.ParameterSet, len(flagSet))
	for _, s := range flagSet {
		name, value, err := model.ParseAssignment(s)
		if err != nil {
			return nil, fmt.Errorf("parsing --set: %w", err)
		}
		ret[name] = value
	}
	return ret, nil
}

