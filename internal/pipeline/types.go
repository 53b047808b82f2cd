package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/keagan/clipcannon/internal/clips"
	"github.com/keagan/clipcannon/internal/config"
	"github.com/keagan/clipcannon/internal/publish"
	"github.com/keagan/clipcannon/internal/signals"
)

// SourceVideo is one long-form upload from an allowlisted creator.
// Duration is in seconds; zero means unknown.
type SourceVideo struct {
	ID             string  `json:"id"`
	Creator        string  `json:"creator"`
	Title          string  `json:"title,omitempty"`
	Duration       float64 `json:"duration_s"`
	MediaPath      string  `json:"media_path"`
	TranscriptPath string  `json:"transcript_path,omitempty"`
}

// Catalog resolves video ids to source videos.
type Catalog interface {
	Lookup(ctx context.Context, videoID string) (SourceVideo, error)
}

// SignalSource runs the external analyzers for a video. Individual analyzer
// failures come back as empty streams; an error means nothing could be collected.
type SignalSource interface {
	Collect(ctx context.Context, video SourceVideo) (signals.Raw, error)
}

// Renderer produces the clip artifact and returns its path.
type Renderer interface {
	Render(ctx context.Context, video SourceVideo, spec clips.Spec) (string, error)
}

// Recorder mirrors admitted videos and clip specs into a reporting store.
// Its failures are logged and never abort a run.
type Recorder interface {
	UpsertVideo(ctx context.Context, v SourceVideo) error
	UpsertClip(ctx context.Context, s clips.Spec) error
}

// Creators is the admission view of the allowlist.
type Creators interface {
	Get(id string) (config.Creator, bool)
	DailyCap(cr config.Creator) int
}

var (
	ErrAlreadySeen     = errors.New("video already admitted")
	ErrCreatorDisabled = errors.New("creator disabled")
	ErrUnknownCreator  = config.ErrUnknownCreator
	ErrDailyCapReached = errors.New("creator daily clip cap reached")
)

// Stage names reported in StageError
const (
	StageLookup    = "lookup"
	StageAdmission = "admission"
	StageSignals   = "signals"
	StageNormalize = "normalize"
	StageFuse      = "fuse"
	StageScore     = "score"
	StageRank      = "rank"
)

// StageError is a failure that aborted one video's run.
type StageError struct {
	VideoID string
	Stage   string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("video %s: %s stage: %v", e.VideoID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// RenderError is a per-clip render failure; sibling clips are unaffected.
type RenderError struct {
	ClipID string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render clip %s: %v", e.ClipID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Outcome is the result of publishing one clip.
type Outcome struct {
	Spec   clips.Spec     `json:"spec"`
	Record publish.Record `json:"record"`
	Err    error          `json:"-"`
}

// Report summarises a full run for one video.
type Report struct {
	VideoID  string       `json:"video_id"`
	Specs    []clips.Spec `json:"specs"`
	Outcomes []Outcome    `json:"outcomes"`
	Fallback bool         `json:"ranking_fallback"`
}

// Failed counts outcomes that ended in an error.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
