package main

import (
	"context"
	"errors"
	"net/http"

	httpapi "github.com/fyrsmithlabs/aceql/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. Runs are served on POST /api/v1/runs, the playbook
on /api/v1/playbook and Prometheus metrics on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	orch, err := a.newOrchestrator(ctx)
	if err != nil {
		return err
	}
	cur, err := a.newCurator()
	if err != nil {
		return err
	}

	srv, err := httpapi.NewServer(httpapi.Services{
		Runner:    orch,
		Playbooks: a.playbooks,
		Curator:   cur,
		Scrubber:  a.scrubber,
	}, a.logger, &httpapi.Config{Host: a.cfg.Server.Host, Port: a.cfg.Server.Port})
	if err != nil {
		return err
	}
	return runServer(ctx, a, srv)
}

// runServer blocks until the server fails or ctx is cancelled, then shuts
// down within the configured timeout.
func runServer(ctx context.Context, a *app, srv *httpapi.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
