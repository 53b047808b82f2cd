package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/keagan/clipcannon/internal/config"
	"github.com/keagan/clipcannon/internal/metrics"
	"github.com/keagan/clipcannon/internal/pipeline"
	"github.com/keagan/clipcannon/internal/publish"
	"github.com/keagan/clipcannon/internal/seen"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

// Queue accepts videos for background processing.
type Queue interface {
	Enqueue(videoID string) error
	Len() int
}

// Records reads publish records.
type Records interface {
	Get(ctx context.Context, clipID string) (publish.Record, error)
	List(ctx context.Context, states ...publish.State) ([]publish.Record, error)
}

// ClaimChecks redelivers a claim check for one clip.
type ClaimChecks interface {
	HandleClaimCheck(ctx context.Context, clipID string) (publish.Record, error)
}

// CreatorAdmin lists and toggles allowlisted creators.
type CreatorAdmin interface {
	List() []config.Creator
	SetEnabled(id string, enabled bool) error
}

// Library lists the videos available for processing.
type Library interface {
	List() ([]pipeline.SourceVideo, error)
}

// Deps are the collaborators behind the HTTP surface. Metrics may be nil.
type Deps struct {
	Queue    Queue
	Records  Records
	Claims   ClaimChecks
	Creators CreatorAdmin
	Library  Library
	Seen     seen.Store
	Metrics  *metrics.Metrics
	// AllowlistPath, when set, persists creator toggles.
	AllowlistPath string
}

// Server exposes health, metrics, admin and publish-record endpoints.
type Server struct {
	logger zerolog.Logger
	deps   Deps
}

func New(logger zerolog.Logger, deps Deps) *Server {
	return &Server{
		logger: logger.With().Str("component", "http").Logger(),
		deps:   deps,
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(s.logger))
	if s.deps.Metrics != nil {
		r.Use(metrics.RequestMiddleware(s.deps.Metrics))
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			s.deps.Metrics.Handler(func() { s.refreshGauges(r.Context()) }).ServeHTTP(w, r)
		})
	}

	r.Get("/healthz", s.health)
	r.Route("/admin", func(r chi.Router) {
		r.Get("/ping", s.ping)
		r.Get("/creators", s.listCreators)
		r.Post("/creators/{creatorID}/enable", s.toggleCreator(true))
		r.Post("/creators/{creatorID}/disable", s.toggleCreator(false))
		r.Post("/rescan", s.rescan)
	})
	r.Post("/videos/{videoID}", s.enqueueVideo)
	r.Route("/clips/{clipID}", func(r chi.Router) {
		r.Get("/", s.getClip)
		r.Post("/claim-check", s.claimCheck)
	})
	return r
}

// Run serves on addr until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Routes(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info().Str("addr", addr).Msg("server starting")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

func (s *Server) refreshGauges(ctx context.Context) {
	if s.deps.Queue != nil {
		s.deps.Metrics.SetQueueDepth(s.deps.Queue.Len())
	}
	if s.deps.Records != nil {
		pending, err := s.deps.Records.List(ctx, publish.StateClaimPending)
		if err != nil {
			s.logger.Warn().Err(err).Msg("claim pending gauge not refreshed")
			return
		}
		s.deps.Metrics.SetClaimPending(len(pending))
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) listCreators(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Creators == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Creators.List())
}

func (s *Server) toggleCreator(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Creators == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		id := chi.URLParam(r, "creatorID")
		if err := s.deps.Creators.SetEnabled(id, enabled); err != nil {
			if errors.Is(err, config.ErrUnknownCreator) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			s.logger.Error().Err(err).Str("creator", id).Msg("toggle creator failed")
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if s.deps.AllowlistPath != "" {
			if saver, ok := s.deps.Creators.(interface{ Save(string) error }); ok {
				if err := saver.Save(s.deps.AllowlistPath); err != nil {
					s.logger.Error().Err(err).Msg("allowlist not persisted")
				}
			}
		}
		s.logger.Info().Str("creator", id).Bool("enabled", enabled).Msg("creator toggled")
		writeJSON(w, http.StatusOK, map[string]any{"creator": id, "enabled": enabled})
	}
}

// rescan queues every library video the seen store has not admitted yet.
func (s *Server) rescan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Library == nil || s.deps.Queue == nil || s.deps.Seen == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	queued, skipped, err := pipeline.Rescan(r.Context(), s.logger, s.deps.Library, s.deps.Seen, s.deps.Queue)
	if err != nil {
		s.logger.Error().Err(err).Msg("rescan failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued, "skipped": skipped})
}

func (s *Server) enqueueVideo(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	videoID := chi.URLParam(r, "videoID")
	if videoID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.deps.Queue.Enqueue(videoID); err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrPoolStopped) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Debug().Str("video_id", videoID).Msg("video queued")
	writeJSON(w, http.StatusAccepted, map[string]string{"video_id": videoID, "status": "queued"})
}

func (s *Server) getClip(w http.ResponseWriter, r *http.Request) {
	if s.deps.Records == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	rec, err := s.deps.Records.Get(r.Context(), chi.URLParam(r, "clipID"))
	if err != nil {
		s.writeRecordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// claimCheck is the webhook-style redelivery of a delayed claim check.
func (s *Server) claimCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.Claims == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	clipID := chi.URLParam(r, "clipID")
	rec, err := s.deps.Claims.HandleClaimCheck(r.Context(), clipID)
	if err != nil {
		var checkErr *publish.ClaimCheckError
		if errors.As(err, &checkErr) {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "record": rec})
			return
		}
		s.writeRecordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeRecordError(w http.ResponseWriter, err error) {
	if errors.Is(err, publish.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.logger.Error().Err(err).Msg("publish record lookup failed")
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
