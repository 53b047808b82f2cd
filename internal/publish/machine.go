package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UploadError is returned by uploaders. Transient failures are retried with backoff.
type UploadError struct {
	ClipID    string
	Transient bool
	Err       error
}

func (e *UploadError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("upload of clip %s failed (%s): %v", e.ClipID, kind, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ClaimCheckError means the claim status could not be determined.
type ClaimCheckError struct {
	ClipID   string
	RemoteID string
	Err      error
}

func (e *ClaimCheckError) Error() string {
	return fmt.Sprintf("claim check for clip %s (remote %s) failed: %v", e.ClipID, e.RemoteID, e.Err)
}

func (e *ClaimCheckError) Unwrap() error { return e.Err }

// UploadRequest is what an Uploader needs to put one clip on a platform.
type UploadRequest struct {
	ClipID      string
	VideoID     string
	Creator     string
	Title       string
	Description string
	Artifact    string
	Visibility  Visibility
}

// Uploader talks to a video platform.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (remoteID string, err error)
	SetVisibility(ctx context.Context, remoteID string, v Visibility) error
}

// ClaimChecker reports the copyright-claim status of an uploaded video.
type ClaimChecker interface {
	Check(ctx context.Context, remoteID string) (ClaimStatus, error)
}

// Observer is notified after every committed transition.
// A claim-spike auto-pause policy plugs in here.
type Observer interface {
	OnTransition(rec Record, t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(rec Record, t Transition)

func (f ObserverFunc) OnTransition(rec Record, t Transition) { f(rec, t) }

// Config controls uploads and the claim window
type Config struct {
	// Enabled is the safe-mode switch; when false records stay in rendered and nothing is uploaded.
	Enabled       bool          `yaml:"enabled"`
	Platform      string        `yaml:"platform"`
	MaxAttempts   int           `yaml:"max_attempts"`
	Backoff       time.Duration `yaml:"backoff"`
	CleanWindow   time.Duration `yaml:"clean_window"`
	ClaimRetry    time.Duration `yaml:"claim_retry"`
	ClaimAttempts int           `yaml:"claim_attempts"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	ClaimTimeout  time.Duration `yaml:"claim_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Platform:      "youtube",
		MaxAttempts:   3,
		Backoff:       30 * time.Second,
		CleanWindow:   24 * time.Hour,
		ClaimRetry:    15 * time.Minute,
		ClaimAttempts: 5,
		UploadTimeout: 10 * time.Minute,
		ClaimTimeout:  30 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Platform == "" {
		return errors.New("publish.platform is required")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("publish.max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.ClaimAttempts < 1 {
		return fmt.Errorf("publish.claim_attempts must be at least 1, got %d", c.ClaimAttempts)
	}
	if c.Backoff < 0 || c.ClaimRetry <= 0 {
		return errors.New("publish.backoff must be >= 0 and publish.claim_retry > 0")
	}
	if c.CleanWindow <= 0 {
		return errors.New("publish.clean_window must be positive")
	}
	return nil
}

// Request asks for one rendered clip to be published.
type Request struct {
	ClipID      string
	VideoID     string
	Creator     string
	Title       string
	Description string
	Artifact    string
}

// Option customises a Machine.
type Option func(*Machine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithSleep replaces the context-aware sleep used between upload attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Machine) { m.sleep = sleep }
}

func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

// Machine drives publish records through their lifecycle.
// Every operation is safe to repeat: duplicate submits and claim-check deliveries are no-ops.
type Machine struct {
	logger    zerolog.Logger
	config    Config
	store     Store
	uploader  Uploader
	claims    ClaimChecker
	scheduler Scheduler
	observers []Observer
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var errNotOwner = errors.New("record is not in rendered")

func NewMachine(logger zerolog.Logger, cfg Config, store Store, uploader Uploader, claims ClaimChecker, scheduler Scheduler, opts ...Option) *Machine {
	m := &Machine{
		logger:    logger.With().Str("component", "publish-machine").Logger(),
		config:    cfg,
		store:     store,
		uploader:  uploader,
		claims:    claims,
		scheduler: scheduler,
		now:       time.Now,
		sleep:     sleepContext,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the record store for read paths.
func (m *Machine) Store() Store {
	return m.store
}

// Enabled reports whether uploads are switched on.
func (m *Machine) Enabled() bool {
	return m.config.Enabled
}

// Submit creates the record for a clip and, when publishing is enabled, uploads it.
// Only the caller that moves the record out of rendered uploads; every other caller
// gets the current record back.
func (m *Machine) Submit(ctx context.Context, req Request) (Record, error) {
	if strings.TrimSpace(req.ClipID) == "" {
		return Record{}, errors.New("clip id is required")
	}
	if strings.TrimSpace(req.Artifact) == "" {
		return Record{}, fmt.Errorf("clip %s has no rendered artifact", req.ClipID)
	}

	now := m.now()
	rec, created, err := m.store.Create(ctx, Record{
		ClipID:      req.ClipID,
		VideoID:     req.VideoID,
		Creator:     req.Creator,
		Platform:    m.config.Platform,
		Title:       req.Title,
		Description: req.Description,
		Artifact:    req.Artifact,
		State:       StateRendered,
		Visibility:  VisibilityPrivate,
		ClaimStatus: ClaimUnknown,
		CreatedAt:   now,
		UpdatedAt:   now,
		History:     []Transition{{To: StateRendered, At: now}},
	})
	if err != nil {
		return Record{}, fmt.Errorf("failed to create publish record: %w", err)
	}
	if created {
		m.notify(rec, rec.History)
	}

	if !m.config.Enabled {
		m.logger.Info().Str("clip_id", rec.ClipID).Msg("publishing disabled, clip left in rendered")
		return rec, nil
	}

	rec, err = m.update(ctx, req.ClipID, func(r *Record) error {
		if r.State != StateRendered {
			return errNotOwner
		}
		return r.transition(StateUploading, m.now(), "")
	})
	if err != nil {
		if errors.Is(err, errNotOwner) || errors.Is(err, ErrTerminal) {
			m.logger.Debug().Str("clip_id", req.ClipID).Str("state", string(rec.State)).Msg("clip already submitted")
			return rec, nil
		}
		return rec, err
	}

	return m.upload(ctx, rec)
}

func (m *Machine) upload(ctx context.Context, rec Record) (Record, error) {
	log := m.logger.With().Str("clip_id", rec.ClipID).Logger()
	req := UploadRequest{
		ClipID:      rec.ClipID,
		VideoID:     rec.VideoID,
		Creator:     rec.Creator,
		Title:       rec.Title,
		Description: rec.Description,
		Artifact:    rec.Artifact,
		Visibility:  VisibilityUnlisted,
	}

	var remoteID string
	var lastErr error
	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		if _, err := m.update(ctx, rec.ClipID, func(r *Record) error {
			r.Attempts = attempt
			r.UpdatedAt = m.now()
			return nil
		}); err != nil {
			return rec, err
		}

		uploadCtx, cancel := m.withTimeout(ctx, m.config.UploadTimeout)
		remoteID, lastErr = m.uploader.Upload(uploadCtx, req)
		cancel()
		if lastErr == nil {
			break
		}

		transient := true
		var uploadErr *UploadError
		if errors.As(lastErr, &uploadErr) {
			transient = uploadErr.Transient
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Bool("transient", transient).Msg("upload attempt failed")

		if !transient || attempt == m.config.MaxAttempts || ctx.Err() != nil {
			break
		}
		if err := m.sleep(ctx, m.config.Backoff*time.Duration(1<<(attempt-1))); err != nil {
			lastErr = err
			break
		}
	}

	if lastErr != nil {
		failed, err := m.fail(ctx, rec.ClipID, lastErr)
		if err != nil {
			return failed, err
		}
		return failed, lastErr
	}

	uploadedAt := m.now()
	flipAt := uploadedAt.Add(m.config.CleanWindow)
	rec, err := m.update(ctx, rec.ClipID, func(r *Record) error {
		r.RemoteVideoID = remoteID
		r.Visibility = VisibilityUnlisted
		r.UploadedAt = &uploadedAt
		r.Error = ""
		if err := r.transition(StateUploadedUnlisted, uploadedAt, "remote "+remoteID); err != nil {
			return err
		}
		r.ScheduledFlipAt = &flipAt
		r.ClaimStatus = ClaimUnknown
		return r.transition(StateClaimPending, uploadedAt, "")
	})
	if err != nil {
		return rec, err
	}

	log.Info().Str("remote_id", remoteID).Time("flip_at", flipAt).Msg("clip uploaded unlisted, claim check scheduled")
	m.scheduler.Schedule(rec.ClipID, flipAt, m.claimCheckTask)
	return rec, nil
}

func (m *Machine) fail(ctx context.Context, clipID string, cause error) (Record, error) {
	m.logger.Error().Err(cause).Str("clip_id", clipID).Msg("publish failed")
	return m.update(ctx, clipID, func(r *Record) error {
		r.Error = cause.Error()
		return r.transition(StateFailed, m.now(), "")
	})
}

// HandleClaimCheck runs the delayed claim check for a clip. It may be delivered any number of
// times; only a claim_pending record whose window has elapsed is acted on.
func (m *Machine) HandleClaimCheck(ctx context.Context, clipID string) (Record, error) {
	unlock := m.lockClip(clipID)
	defer unlock()

	rec, err := m.store.Get(ctx, clipID)
	if err != nil {
		return Record{}, err
	}
	log := m.logger.With().Str("clip_id", clipID).Logger()

	if rec.State != StateClaimPending {
		log.Debug().Str("state", string(rec.State)).Msg("claim check ignored")
		return rec, nil
	}
	if rec.ScheduledFlipAt != nil && m.now().Before(*rec.ScheduledFlipAt) {
		log.Debug().Time("flip_at", *rec.ScheduledFlipAt).Msg("claim check delivered early, rescheduling")
		m.scheduler.Schedule(clipID, *rec.ScheduledFlipAt, m.claimCheckTask)
		return rec, nil
	}

	checkCtx, cancel := m.withTimeout(ctx, m.config.ClaimTimeout)
	status, err := m.claims.Check(checkCtx, rec.RemoteVideoID)
	cancel()
	if err != nil {
		return m.retryClaim(ctx, rec, err)
	}

	switch status {
	case ClaimClean:
		flipCtx, cancel := m.withTimeout(ctx, m.config.ClaimTimeout)
		err := m.uploader.SetVisibility(flipCtx, rec.RemoteVideoID, VisibilityPublic)
		cancel()
		if err != nil {
			return m.retryClaim(ctx, rec, fmt.Errorf("visibility flip failed: %w", err))
		}
		rec, err = m.update(ctx, clipID, func(r *Record) error {
			r.ClaimStatus = ClaimClean
			r.Visibility = VisibilityPublic
			r.Error = ""
			return r.transition(StatePublic, m.now(), "")
		})
		if err == nil {
			log.Info().Str("remote_id", rec.RemoteVideoID).Msg("clip is clean, now public")
		}
		return rec, err

	case ClaimClaimed, ClaimStruck:
		next := StateClaimed
		if status == ClaimStruck {
			next = StateStruck
		}
		rec, err = m.update(ctx, clipID, func(r *Record) error {
			r.ClaimStatus = status
			return r.transition(next, m.now(), "")
		})
		if err == nil {
			log.Warn().Str("remote_id", rec.RemoteVideoID).Str("claim_status", string(status)).Msg("clip received a claim, left unlisted")
		}
		return rec, err

	default:
		return m.retryClaim(ctx, rec, fmt.Errorf("claim status %q not yet determined", status))
	}
}

// retryClaim records a failed check and reschedules it until the attempt budget runs out.
// An exhausted record stays claim_pending and unlisted for an operator to resolve.
func (m *Machine) retryClaim(ctx context.Context, rec Record, cause error) (Record, error) {
	checkErr := &ClaimCheckError{ClipID: rec.ClipID, RemoteID: rec.RemoteVideoID, Err: cause}

	updated, err := m.update(ctx, rec.ClipID, func(r *Record) error {
		r.ClaimAttempts++
		r.ClaimStatus = ClaimUnknown
		r.Error = checkErr.Error()
		r.UpdatedAt = m.now()
		return nil
	})
	if err != nil {
		return updated, err
	}

	log := m.logger.With().Str("clip_id", rec.ClipID).Int("claim_attempts", updated.ClaimAttempts).Logger()
	if updated.ClaimAttempts < m.config.ClaimAttempts {
		next := m.now().Add(m.config.ClaimRetry)
		log.Warn().Err(cause).Time("retry_at", next).Msg("claim check failed, retrying")
		m.scheduler.Schedule(rec.ClipID, next, m.claimCheckTask)
	} else {
		log.Error().Err(cause).Msg("claim check attempts exhausted, clip left unlisted")
	}
	return updated, checkErr
}

// Resume restores in-flight work after a restart. Claim checks are rescheduled for
// claim_pending records, and uploads interrupted mid-flight are failed rather than repeated.
func (m *Machine) Resume(ctx context.Context) (int, error) {
	pending, err := m.store.List(ctx, StateClaimPending)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, rec := range pending {
		if rec.ClaimAttempts >= m.config.ClaimAttempts {
			continue
		}
		at := m.now()
		if rec.ScheduledFlipAt != nil && rec.ScheduledFlipAt.After(at) {
			at = *rec.ScheduledFlipAt
		}
		m.scheduler.Schedule(rec.ClipID, at, m.claimCheckTask)
		resumed++
	}

	interrupted, err := m.store.List(ctx, StateUploading)
	if err != nil {
		return resumed, err
	}
	for _, rec := range interrupted {
		if _, err := m.fail(ctx, rec.ClipID, errors.New("upload interrupted")); err != nil {
			return resumed, err
		}
	}

	m.logger.Info().Int("claim_checks", resumed).Int("interrupted", len(interrupted)).Msg("publish state resumed")
	return resumed, nil
}

// SubmitPending uploads records left in rendered while publishing was disabled.
// It is a no-op in safe mode. Failed uploads are recorded on their records and counted out.
func (m *Machine) SubmitPending(ctx context.Context) (int, error) {
	if !m.config.Enabled {
		return 0, nil
	}
	pending, err := m.store.List(ctx, StateRendered)
	if err != nil {
		return 0, err
	}
	submitted := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return submitted, err
		}
		out, err := m.Submit(ctx, rec.request())
		if err != nil {
			m.logger.Warn().Err(err).Str("clip_id", rec.ClipID).Msg("pending clip not published")
			continue
		}
		if out.State != StateRendered {
			submitted++
		}
	}
	m.logger.Info().Int("pending", len(pending)).Int("submitted", submitted).Msg("rendered clips submitted")
	return submitted, nil
}

func (r Record) request() Request {
	return Request{
		ClipID:      r.ClipID,
		VideoID:     r.VideoID,
		Creator:     r.Creator,
		Title:       r.Title,
		Description: r.Description,
		Artifact:    r.Artifact,
	}
}

func (m *Machine) claimCheckTask(ctx context.Context, clipID string) {
	if _, err := m.HandleClaimCheck(ctx, clipID); err != nil {
		var checkErr *ClaimCheckError
		if !errors.As(err, &checkErr) {
			m.logger.Error().Err(err).Str("clip_id", clipID).Msg("scheduled claim check failed")
		}
	}
}

// update wraps Store.Update and notifies observers of the transitions it committed.
func (m *Machine) update(ctx context.Context, clipID string, fn func(*Record) error) (Record, error) {
	before := 0
	rec, err := m.store.Update(ctx, clipID, func(r *Record) error {
		before = len(r.History)
		return fn(r)
	})
	if err != nil {
		return rec, err
	}
	if len(rec.History) > before {
		m.notify(rec, rec.History[before:])
	}
	return rec, nil
}

func (m *Machine) notify(rec Record, ts []Transition) {
	for _, t := range ts {
		for _, o := range m.observers {
			o.OnTransition(rec, t)
		}
	}
}

func (m *Machine) lockClip(clipID string) func() {
	m.locksMu.Lock()
	mu, ok := m.locks[clipID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[clipID] = mu
	}
	m.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (m *Machine) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
