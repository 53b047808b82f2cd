package main

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/keagan/clipcannon/internal/brand"
	"github.com/keagan/clipcannon/internal/config"
	"github.com/keagan/clipcannon/internal/ffmpeg"
	"github.com/keagan/clipcannon/internal/fusion"
	"github.com/keagan/clipcannon/internal/library"
	"github.com/keagan/clipcannon/internal/metrics"
	"github.com/keagan/clipcannon/internal/pipeline"
	"github.com/keagan/clipcannon/internal/publish"
	"github.com/keagan/clipcannon/internal/ranker"
	"github.com/keagan/clipcannon/internal/scoring"
	"github.com/keagan/clipcannon/internal/seen"
	"github.com/keagan/clipcannon/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// app holds everything a long-running command needs.
type app struct {
	cfg       *config.Config
	creators  *config.Registry
	catalog   *library.Catalog
	seen      seen.Store
	records   publish.Store
	scheduler *publish.TimerScheduler
	machine   *publish.Machine
	orch      *pipeline.Orchestrator
	metrics   *metrics.Metrics

	closers []func() error
}

// openDB connects and migrates when a Postgres URL is configured; nil otherwise.
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg.Storage.PostgresURL == "" {
		return nil, nil
	}
	db, err := storage.Open(ctx, cfg.Storage.PostgresURL)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openSeen picks the SQL seen store when a database is available, the flat file otherwise.
func openSeen(logger zerolog.Logger, cfg *config.Config, db *sql.DB) (seen.Store, func() error, error) {
	if db != nil {
		return storage.NewPostgresSeen(db), func() error { return nil }, nil
	}
	f, err := seen.OpenFile(logger, cfg.SeenPath())
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// newCatalog is the read-only library view; listing never probes media.
func newCatalog(cfg *config.Config) *library.Catalog {
	return library.NewCatalog(log.Logger, cfg.LibraryDir, nil)
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	logger := log.Logger
	a := &app{cfg: cfg, creators: cfg.Registry(), metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, db.Close)
	}
	projection := storage.NewProjection(logger, db)
	for _, cr := range a.creators.List() {
		if err := projection.UpsertCreator(ctx, cr); err != nil {
			logger.Warn().Err(err).Str("creator", cr.ID).Msg("creator not recorded")
		}
	}

	exec, err := ffmpeg.New(logger, cfg.FFmpeg.Config)
	if err != nil {
		return nil, err
	}

	var closeSeen func() error
	a.seen, closeSeen, err = openSeen(logger, cfg, db)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeSeen)

	store, err := publish.OpenFileStore(cfg.PublishStorePath())
	if err != nil {
		return nil, err
	}
	a.records = store
	a.closers = append(a.closers, store.Close)

	a.scheduler = publish.NewTimerScheduler(logger)
	a.closers = append(a.closers, func() error { a.scheduler.Stop(); return nil })

	outbox := filepath.Clean(cfg.OutboxDir)
	a.machine = publish.NewMachine(logger, cfg.Publish, store,
		publish.NewOutbox(outbox), publish.NewOutboxClaims(outbox), a.scheduler,
		publish.WithObserver(a.metrics),
		publish.WithObserver(projection),
	)

	fuser, err := fusion.New(logger, cfg.Fusion)
	if err != nil {
		return nil, err
	}
	scorer, err := scoring.NewScorer(logger, cfg.Scoring)
	if err != nil {
		return nil, err
	}
	sentiment, err := scoring.NewLexiconSentiment(nil, nil)
	if err != nil {
		return nil, err
	}

	var capability ranker.Capability
	if cfg.UseLLM() {
		capability = ranker.NewOpenAI(logger, cfg.Ranker.LLM)
	} else {
		logger.Info().Msg("no LLM configured, ranking deterministically")
	}

	a.catalog = library.NewCatalog(logger, cfg.LibraryDir, exec)
	renderer := library.NewRenderer(logger, exec, brand.NewRegistry(cfg.Brands...), a.creators,
		filepath.Join(cfg.WorkDir, "clips"), library.RenderSettings{
			Preset: cfg.FFmpeg.Preset,
			CRF:    cfg.FFmpeg.CRF,
			Width:  cfg.FFmpeg.Width,
			Height: cfg.FFmpeg.Height,
		})

	a.orch, err = pipeline.New(logger, pipeline.Deps{
		Catalog:     a.catalog,
		Signals:     library.NewMediaSignals(logger, exec, cfg.FFmpeg.SceneThreshold, cfg.FFmpeg.PeakWindow),
		Seen:        a.seen,
		Creators:    a.creators,
		Fuser:       fuser,
		Scorer:      scorer,
		Sentiment:   sentiment,
		Ranker:      ranker.New(logger, capability, cfg.Ranker.Config),
		Renderer:    renderer,
		Machine:     a.machine,
		Quota:       pipeline.NewQuota(nil),
		Recorder:    projection,
		Normalize:   cfg.Signals.Options(),
		Timeouts:    cfg.Pipeline.Timeouts,
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	if !cfg.Publish.Enabled {
		logger.Warn().Msg("publishing disabled, clips are rendered but not uploaded")
	}
	return a, nil
}

// Close releases stores and stops scheduled work, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
