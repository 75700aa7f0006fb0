package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/kirikou/kirikou/internal/config"
	"github.com/kirikou/kirikou/internal/logging"
)

const version = "0.2.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := &cli.Command{
		Name:    "kirikou",
		Usage:   "retrieval-augmented assistant for the KNUST Institute of Distance Learning",
		Version: version,
		Flags:   config.GetFlags(os.Args, os.Stderr),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logging.InitLogger(cmd.Bool("verbose"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			ingestCommand(),
			askCommand(),
			{
				Name:  "config",
				Usage: "print the effective configuration",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					config.NewConfiguration(cmd).PrintConfig(os.Stdout)
					return nil
				},
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = logging.GetLogger().Sync()
		os.Exit(1)
	}
	_ = logging.GetLogger().Sync()
}

func loadConfiguration(cmd *cli.Command) (*config.Configuration, error) {
	cfg := config.NewConfiguration(cmd)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Verbose {
		cfg.PrintConfig(os.Stderr)
	}
	return cfg, nil
}
