package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/kirikou/kirikou/internal/logging"
	"github.com/kirikou/kirikou/internal/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "run the chat HTTP endpoint",
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}
	logger := logging.WithFields("command", "serve")

	deps, err := newComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	exec, err := deps.executor()
	if err != nil {
		return err
	}

	srv := server.NewServer(cfg.Server, exec, deps.limiter(),
		server.WithLogger(logger),
		server.WithHealthCheck(deps.ping),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	if err := srv.Shutdown(context.Background()); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}
