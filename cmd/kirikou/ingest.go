package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kirikou/kirikou/internal/logging"
	"github.com/kirikou/kirikou/internal/memory"
)

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "load documents into the knowledge base",
		ArgsUsage: "FILE [FILE...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "re-embed documents even if unchanged"},
		},
		Action: runIngest,
	}
}

func runIngest(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("no source files given")
	}
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}
	logger := logging.WithFields("command", "ingest")

	var sources []memory.Source
	for _, path := range cmd.Args().Slice() {
		loaded, err := memory.LoadSources(path)
		if err != nil {
			return err
		}
		logger.Infow("Loaded sources", "file", path, "count", len(loaded))
		sources = append(sources, loaded...)
	}

	deps, err := newComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	manifest, err := memory.NewSQLiteManifest(cfg.Memory.ManifestPath)
	if err != nil {
		return err
	}
	defer manifest.Close()

	pool := memory.NewPool(deps.embedder, cfg.Memory)
	defer func() {
		if err := pool.Shutdown(30 * time.Second); err != nil {
			logger.Warnw("Embedding pool did not drain", "error", err)
		}
	}()

	ingester := memory.NewIngester(deps.store, pool, manifest, cfg.Memory, logger)
	report, err := ingester.Ingest(ctx, sources, cmd.Bool("force"))
	if err != nil {
		return err
	}

	metrics := pool.GetMetrics()
	fmt.Fprintf(os.Stdout, "ingested %d, skipped %d, %d chunks in %s (%d embedding batches, avg %s)\n",
		report.Ingested, report.Skipped, report.Chunks, report.Duration.Round(time.Millisecond),
		metrics.TotalBatches, metrics.AverageLatency.Round(time.Millisecond))
	return nil
}
