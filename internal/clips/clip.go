package clips

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// namespace for deterministic clip ids
var clipNamespace = uuid.MustParse("6b1f5c1e-8d0a-4b7e-9c57-3f1a2d9e4c10")

// Components are the per-factor scores of a candidate, each in [0,1].
type Components struct {
	Keyword   float64 `json:"keyword"`
	Energy    float64 `json:"energy"`
	Sentiment float64 `json:"sentiment"`
	Pace      float64 `json:"pace"`
	Cohesion  float64 `json:"cohesion"`
	LengthFit float64 `json:"length_fit"`
}

// Flags carries content-safety markers found in the snippet.
type Flags struct {
	Banned bool `json:"banned,omitempty"`
	NSFW   bool `json:"nsfw,omitempty"`
}

// Any reports whether any safety flag is set.
func (f Flags) Any() bool {
	return f.Banned || f.NSFW
}

// Candidate is a time-bounded excerpt proposed as a potential highlight.
// Start and End are seconds from the beginning of the source video.
type Candidate struct {
	Start      float64    `json:"start_s"`
	End        float64    `json:"end_s"`
	Snippet    string     `json:"transcript_snippet"`
	Components Components `json:"component_scores"`
	Score      float64    `json:"composite_score"`
	// Affect is the externally imported sentiment magnitude, set before scoring.
	Affect float64 `json:"affect"`
	Flags  Flags   `json:"flags"`
}

// Duration returns the window length in seconds.
func (c Candidate) Duration() float64 {
	return c.End - c.Start
}

// Overlap returns the length of the intersection of two candidates, in seconds.
func (c Candidate) Overlap(o Candidate) float64 {
	return math.Max(0, math.Min(c.End, o.End)-math.Max(c.Start, o.Start))
}

// Selected is a candidate promoted by the ranker, with a proposed title.
type Selected struct {
	Candidate
	Title  string `json:"title"`
	Reason string `json:"reason,omitempty"`
	Rank   int    `json:"rank"`
}

// Spec is the unit handed from clip selection to rendering and publishing.
type Spec struct {
	ClipID   string  `json:"clip_id"`
	VideoID  string  `json:"video_id"`
	Creator  string  `json:"creator"`
	Start    float64 `json:"start_s"`
	End      float64 `json:"end_s"`
	Snippet  string  `json:"transcript_snippet"`
	Title    string  `json:"title"`
	Reason   string  `json:"reason,omitempty"`
	Score    float64 `json:"composite_score"`
	Artifact string  `json:"artifact,omitempty"`
}

// NewSpec builds the spec for a selected clip of a video.
func NewSpec(videoID, creator string, sel Selected) Spec {
	return Spec{
		ClipID:  ClipID(videoID, sel.Start, sel.End),
		VideoID: videoID,
		Creator: creator,
		Start:   sel.Start,
		End:     sel.End,
		Snippet: sel.Snippet,
		Title:   sel.Title,
		Reason:  sel.Reason,
		Score:   sel.Score,
	}
}

// Validate checks the bounds and identity of a spec.
func (s Spec) Validate() error {
	if s.ClipID == "" {
		return fmt.Errorf("clip id is required")
	}
	if s.Start < 0 || s.End <= s.Start {
		return fmt.Errorf("invalid clip bounds %.3f-%.3f", s.Start, s.End)
	}
	return nil
}

// ClipID derives a stable clip id from the video and millisecond-rounded bounds,
// so re-processing the same video yields the same idempotency key.
func ClipID(videoID string, start, end float64) string {
	key := fmt.Sprintf("%s|%d|%d", videoID, int64(math.Round(start*1000)), int64(math.Round(end*1000)))
	return uuid.NewSHA1(clipNamespace, []byte(key)).String()
}
