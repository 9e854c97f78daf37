package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CZERTAINLY/Trainer/internal/api"
	"github.com/CZERTAINLY/Trainer/internal/service"

	"github.com/spf13/cobra"
)

var (
	flagListen      string   // value of --listen
	flagCORSOrigins []string // values of --cors-origin
)

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", ":8080", "address of the HTTP API")
	serveCmd.Flags().StringArrayVar(&flagCORSOrigins, "cors-origin", nil, "origin allowed to call the API, can be repeated")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve exposes the orchestrator over an HTTP API",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := cmdContext(cmd)
	orch, err := service.NewOrchestrator(config)
	if err != nil {
		return err
	}
	req, err := service.NewRequest(config)
	if err != nil {
		return err
	}

	err = api.New(orch, req, flagCORSOrigins...).Serve(ctx, flagListen)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if cerr := orch.Close(closeCtx); cerr != nil {
		err = errors.Join(err, fmt.Errorf("closing orchestrator: %w", cerr))
	}
	return err
}
