package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/CZERTAINLY/Trainer/internal/envcheck"
	"github.com/CZERTAINLY/Trainer/internal/model"
	"github.com/CZERTAINLY/Trainer/internal/results"

	"github.com/spf13/cobra"
)

var (
	flagRequirements string // value of --requirements
	flagInstallDir   string // value of --dir
)

var errNotReady = errors.New("environment is not ready")

func init() {
	envInstallCmd.Flags().StringVar(&flagRequirements, "requirements", "requirements.txt", "pip requirements file")
	envInstallCmd.Flags().StringVar(&flagInstallDir, "dir", ".", "directory pip runs in")
	envCmd.AddCommand(envCheckCmd)
	envCmd.AddCommand(envInstallCmd)
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "env inspects and prepares the Python environment",
}

var envCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "check reports the interpreter, the packages and CUDA",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmdContext(cmd)
		report, err := envcheck.New(config.Python, 4).Check(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.Ready() {
			return errNotReady
		}
		return nil
	},
}

var envInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "install runs pip on a requirements file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmdContext(cmd)
		out := cmd.OutOrStdout()
		status, err := envcheck.New(config.Python, 1).Install(ctx, flagInstallDir, flagRequirements, func(line model.LogLine) {
			_, _ = fmt.Fprintln(out, line.Text)
		})
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "requirements installed", "code", status.Code, "duration", status.Stopped.Sub(status.Started))
		return nil
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results <dir>",
	Short: "results summarizes a finished training directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := results.Load(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
