package main

import (
	"context"
	"time"

	"github.com/keagan/clipcannon/internal/config"
	"github.com/keagan/clipcannon/internal/pipeline"
	"github.com/keagan/clipcannon/internal/server"
	"github.com/keagan/clipcannon/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	serveAddr   string
	queueSize   int
	serveRescan bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker pool and the HTTP admin surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)
		if serveAddr == "" {
			serveAddr = cfg.Server.Addr
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.machine.Resume(ctx); err != nil {
			log.Error().Err(err).Msg("resume failed, continuing with fresh state")
		}

		pool := pipeline.NewPool(log.Logger, a.orch.RunVideo, cfg.Concurrency, queueSize, a.metrics.ObserveReport)
		pool.Start(ctx)
		defer pool.Stop()

		srv := server.New(log.Logger, server.Deps{
			Queue:         pool,
			Records:       a.records,
			Claims:        a.machine,
			Creators:      a.creators,
			Library:       a.catalog,
			Seen:          a.seen,
			Metrics:       a.metrics,
			AllowlistPath: cfg.AllowlistPath,
		})

		if serveRescan && !cfg.Pipeline.AutoPipeline {
			if _, _, err := pipeline.Rescan(ctx, log.Logger, a.catalog, a.seen, pool); err != nil {
				return err
			}
		}

		ticker := pipeline.NewTicker(log.Logger)
		defer ticker.Stop()
		if cfg.Pipeline.AutoPipeline {
			ticker.Every(ctx, "library-poll", cfg.Pipeline.PollInterval, func(ctx context.Context, _ time.Time) {
				if _, _, err := pipeline.Rescan(ctx, log.Logger, a.catalog, a.seen, pool); err != nil {
					log.Error().Err(err).Msg("library poll failed")
				}
			})
		}
		ticker.Every(ctx, "temp-cleanup", cfg.Pipeline.CleanupInterval, func(_ context.Context, at time.Time) {
			removed, err := util.RemoveOlderThan(cfg.TempDir, tempMaxAge, at, cfg.StateDir)
			if err != nil {
				log.Warn().Err(err).Msg("temp cleanup failed")
				return
			}
			log.Debug().Int("removed", len(removed)).Msg("temp cleanup done")
		})
		// clips rendered while publishing was off go out once it is on
		ticker.Every(ctx, "pending-publish", cfg.Pipeline.PollInterval, func(ctx context.Context, _ time.Time) {
			if _, err := a.machine.SubmitPending(ctx); err != nil {
				log.Error().Err(err).Msg("submitting rendered clips failed")
			}
		})

		return srv.Run(ctx, serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().IntVar(&queueSize, "queue", 64, "videos that may wait for a worker")
	serveCmd.Flags().BoolVar(&serveRescan, "rescan", false, "queue every unseen library video at startup")
}
