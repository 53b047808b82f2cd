package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/keagan/clipcannon/internal/clips"
	"github.com/keagan/clipcannon/internal/config"
	"github.com/keagan/clipcannon/internal/fusion"
	"github.com/keagan/clipcannon/internal/publish"
	"github.com/keagan/clipcannon/internal/ranker"
	"github.com/keagan/clipcannon/internal/scoring"
	"github.com/keagan/clipcannon/internal/seen"
	"github.com/keagan/clipcannon/internal/signals"
	"github.com/rs/zerolog"
)

// shortsMax is the longest clip a shorts-only creator will accept, in seconds.
const shortsMax = 60.0

// Deps wires the orchestrator to its collaborators.
type Deps struct {
	Catalog   Catalog
	Signals   SignalSource
	Seen      seen.Store
	Creators  Creators
	Fuser     *fusion.Fuser
	Scorer    *scoring.Scorer
	Sentiment scoring.SentimentSource
	Ranker    *ranker.Ranker
	Renderer  Renderer
	Machine   *publish.Machine
	Quota     *Quota
	Recorder  Recorder

	Normalize   signals.Options
	Timeouts    config.Timeouts
	Concurrency int
}

// Orchestrator drives one video at a time from admission to publish records.
type Orchestrator struct {
	logger zerolog.Logger
	deps   Deps

	mu       sync.Mutex
	clipLock map[string]*sync.Mutex
}

// New checks that every required collaborator is present
func New(logger zerolog.Logger, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Catalog == nil:
		return nil, fmt.Errorf("catalog is required")
	case deps.Signals == nil:
		return nil, fmt.Errorf("signal source is required")
	case deps.Seen == nil:
		return nil, fmt.Errorf("seen store is required")
	case deps.Creators == nil:
		return nil, fmt.Errorf("creator registry is required")
	case deps.Fuser == nil || deps.Scorer == nil || deps.Ranker == nil:
		return nil, fmt.Errorf("fuser, scorer and ranker are required")
	}
	if deps.Quota == nil {
		deps.Quota = NewQuota(nil)
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = 1
	}
	return &Orchestrator{
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		deps:     deps,
		clipLock: make(map[string]*sync.Mutex),
	}, nil
}

// ProcessVideo admits a video and turns it into ranked clip specs.
// Stage-fatal failures are returned as *StageError.
func (o *Orchestrator) ProcessVideo(ctx context.Context, videoID string) ([]clips.Spec, error) {
	specs, _, err := o.process(ctx, videoID)
	return specs, err
}

func (o *Orchestrator) process(ctx context.Context, videoID string) ([]clips.Spec, bool, error) {
	log := o.logger.With().Str("video_id", videoID).Logger()
	fail := func(stage string, err error) ([]clips.Spec, bool, error) {
		log.Error().Err(err).Str("stage", stage).Msg("video run aborted")
		return nil, false, &StageError{VideoID: videoID, Stage: stage, Err: err}
	}

	lookupCtx, cancel := withTimeout(ctx, o.deps.Timeouts.Lookup)
	video, err := o.deps.Catalog.Lookup(lookupCtx, videoID)
	cancel()
	if err != nil {
		return fail(StageLookup, err)
	}

	creator, ok := o.deps.Creators.Get(video.Creator)
	if !ok {
		return fail(StageAdmission, fmt.Errorf("%s: %w", video.Creator, ErrUnknownCreator))
	}
	if !creator.Enabled {
		return fail(StageAdmission, fmt.Errorf("%s: %w", creator.ID, ErrCreatorDisabled))
	}
	dailyCap := o.deps.Creators.DailyCap(creator)
	if o.deps.Quota.Remaining(creator.ID, dailyCap) == 0 {
		return fail(StageAdmission, fmt.Errorf("%s: %w", creator.ID, ErrDailyCapReached))
	}

	seenCtx, cancel := withTimeout(ctx, o.deps.Timeouts.Seen)
	admitted, err := o.deps.Seen.Admit(seenCtx, videoID)
	cancel()
	if err != nil {
		return fail(StageAdmission, fmt.Errorf("seen store: %w", err))
	}
	if !admitted {
		log.Info().Msg("video already admitted, skipping")
		return nil, false, &StageError{VideoID: videoID, Stage: StageAdmission, Err: ErrAlreadySeen}
	}

	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.UpsertVideo(ctx, video); err != nil {
			log.Warn().Err(err).Msg("video not recorded")
		}
	}

	signalCtx, cancel := withTimeout(ctx, o.deps.Timeouts.Signals)
	raw, err := o.deps.Signals.Collect(signalCtx, video)
	cancel()
	if err != nil {
		return fail(StageSignals, err)
	}

	norm, err := signals.Normalize(raw, o.deps.Normalize)
	if err != nil {
		return fail(StageNormalize, err)
	}
	if norm.Quality.Degraded() {
		log.Warn().Str("quality", norm.Quality.String()).Msg("fusing on degraded signals")
	}

	cands := o.deps.Fuser.Fuse(norm, video.Duration)
	log.Info().Int("candidates", len(cands)).Msg("fusion complete")
	if len(cands) == 0 {
		return []clips.Spec{}, false, nil
	}

	o.importSentiment(ctx, log, cands)

	scored, absorbed := o.deps.Scorer.ScoreAll(cands, norm)
	if len(absorbed) > 0 {
		log.Warn().Int("neutralized", len(absorbed)).Msg("some candidates scored with neutral inputs")
	}

	eligible := o.filter(log, creator, scored)
	if err := ctx.Err(); err != nil {
		return fail(StageScore, err)
	}

	k := o.deps.Quota.Remaining(creator.ID, dailyCap)
	result := o.deps.Ranker.Select(ctx, eligible, k)
	if result.Err != nil {
		log.Warn().Err(result.Err).Msg("ranking capability unavailable, used fallback")
	}

	granted := o.deps.Quota.Reserve(creator.ID, dailyCap, len(result.Clips))
	selected := result.Clips[:granted]

	specs := make([]clips.Spec, 0, len(selected))
	for _, sel := range selected {
		specs = append(specs, clips.NewSpec(video.ID, creator.ID, sel))
	}

	log.Info().
		Int("selected", len(specs)).
		Bool("fallback", result.Fallback).
		Int("quota_used", o.deps.Quota.Used(creator.ID)).
		Msg("video processed")
	return specs, result.Fallback, nil
}

// importSentiment fills Affect from the sentiment source. Failures leave the neutral value.
func (o *Orchestrator) importSentiment(ctx context.Context, log zerolog.Logger, cands []clips.Candidate) {
	neutral := o.deps.Scorer.Neutral()
	for i := range cands {
		if o.deps.Sentiment == nil || cands[i].Snippet == "" {
			cands[i].Affect = neutral
			continue
		}
		sctx, cancel := withTimeout(ctx, o.deps.Timeouts.Sentiment)
		affect, err := o.deps.Sentiment.Sentiment(sctx, cands[i].Snippet)
		cancel()
		if err != nil {
			log.Warn().Err(err).Float64("start", cands[i].Start).Msg("sentiment unavailable, using neutral")
			affect = neutral
		}
		cands[i].Affect = affect
	}
}

func (o *Orchestrator) filter(log zerolog.Logger, creator config.Creator, scored []clips.Candidate) []clips.Candidate {
	out := scored[:0:0]
	for _, c := range scored {
		if o.deps.Scorer.DropFlagged() && c.Flags.Any() {
			log.Info().Float64("start", c.Start).Msg("dropping flagged candidate")
			continue
		}
		if creator.ShortsOnly && c.Duration() > shortsMax {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Publish renders a clip and hands it to the publish machine.
// A clip that already has a record is returned as is, except a record still in
// rendered, which is submitted once publishing is enabled.
func (o *Orchestrator) Publish(ctx context.Context, spec clips.Spec) (publish.Record, error) {
	if o.deps.Machine == nil || o.deps.Renderer == nil {
		return publish.Record{}, fmt.Errorf("publishing is not configured")
	}
	if err := spec.Validate(); err != nil {
		return publish.Record{}, err
	}

	unlock := o.lockClip(spec.ClipID)
	defer unlock()

	log := o.logger.With().Str("clip_id", spec.ClipID).Str("video_id", spec.VideoID).Logger()

	rec, err := o.deps.Machine.Store().Get(ctx, spec.ClipID)
	if err == nil {
		if rec.State == publish.StateRendered && o.deps.Machine.Enabled() {
			// rendered while publishing was off; the stored artifact is reused
			log.Info().Msg("submitting clip rendered in safe mode")
			return o.deps.Machine.Submit(ctx, publish.Request{
				ClipID:      rec.ClipID,
				VideoID:     rec.VideoID,
				Creator:     rec.Creator,
				Title:       rec.Title,
				Description: rec.Description,
				Artifact:    rec.Artifact,
			})
		}
		log.Debug().Str("state", string(rec.State)).Msg("clip already has a publish record")
		return rec, nil
	}
	if !errors.Is(err, publish.ErrNotFound) {
		return publish.Record{}, err
	}

	artifact := spec.Artifact
	if artifact == "" {
		lookupCtx, cancel := withTimeout(ctx, o.deps.Timeouts.Lookup)
		video, err := o.deps.Catalog.Lookup(lookupCtx, spec.VideoID)
		cancel()
		if err != nil {
			return publish.Record{}, &RenderError{ClipID: spec.ClipID, Err: err}
		}

		renderCtx, cancel := withTimeout(ctx, o.deps.Timeouts.Render)
		artifact, err = o.deps.Renderer.Render(renderCtx, video, spec)
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("render failed")
			return publish.Record{}, &RenderError{ClipID: spec.ClipID, Err: err}
		}
	}

	if o.deps.Recorder != nil {
		recorded := spec
		recorded.Artifact = artifact
		if err := o.deps.Recorder.UpsertClip(ctx, recorded); err != nil {
			log.Warn().Err(err).Msg("clip not recorded")
		}
	}

	return o.deps.Machine.Submit(ctx, publish.Request{
		ClipID:      spec.ClipID,
		VideoID:     spec.VideoID,
		Creator:     spec.Creator,
		Title:       spec.Title,
		Description: spec.Reason,
		Artifact:    artifact,
	})
}

// PublishMany publishes specs with bounded concurrency. Outcomes are in input order
// and one clip's failure never affects another.
func (o *Orchestrator) PublishMany(ctx context.Context, specs []clips.Spec) []Outcome {
	outcomes := make([]Outcome, len(specs))
	sem := make(chan struct{}, o.deps.Concurrency)
	var wg sync.WaitGroup

	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec clips.Spec) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i] = Outcome{Spec: spec, Err: ctx.Err()}
				return
			}
			rec, err := o.Publish(ctx, spec)
			if err != nil {
				o.logger.Warn().Err(err).Str("clip_id", spec.ClipID).Msg("clip publish failed")
			}
			outcomes[i] = Outcome{Spec: spec, Record: rec, Err: err}
		}(i, spec)
	}

	wg.Wait()
	return outcomes
}

// RunVideo processes a video and publishes every selected clip.
func (o *Orchestrator) RunVideo(ctx context.Context, videoID string) (Report, error) {
	specs, fallback, err := o.process(ctx, videoID)
	report := Report{VideoID: videoID, Specs: specs, Fallback: fallback}
	if err != nil {
		return report, err
	}
	report.Outcomes = o.PublishMany(ctx, specs)

	o.logger.Info().
		Str("video_id", videoID).
		Int("clips", len(specs)).
		Int("failed", report.Failed()).
		Msg("video run complete")
	return report, nil
}

func (o *Orchestrator) lockClip(clipID string) func() {
	o.mu.Lock()
	l, ok := o.clipLock[clipID]
	if !ok {
		l = &sync.Mutex{}
		o.clipLock[clipID] = l
	}
	o.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
