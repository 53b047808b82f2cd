package signals

import (
	"fmt"
	"strings"
)

// SceneCut marks a visual scene boundary, in seconds from the start of the video.
type SceneCut struct {
	At float64 `json:"at"`
}

// Segment is a transcript segment with its time bounds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Peak is one audio-energy sample. Intensity is on an arbitrary non-negative scale;
// fusion and scoring only ever compare it relative to the loudest sample of the same video.
type Peak struct {
	At        float64 `json:"at"`
	Intensity float64 `json:"intensity"`
}

// Raw bundles the unprocessed outputs of the external analyzers for one video.
type Raw struct {
	Scenes   []SceneCut
	Segments []Segment
	Peaks    []Peak
}

// Stream names used in quality flags and gap errors.
const (
	StreamScenes     = "scenes"
	StreamTranscript = "transcript"
	StreamAudio      = "audio"
)

// Quality records which streams were missing when a video was normalized.
type Quality struct {
	Missing []string `json:"missing,omitempty"`
}

// Degraded reports whether fusion will run on fewer than all three streams.
func (q Quality) Degraded() bool {
	return len(q.Missing) > 0
}

// Has reports whether the named stream is present.
func (q Quality) Has(stream string) bool {
	for _, m := range q.Missing {
		if m == stream {
			return false
		}
	}
	return true
}

// String returns full, no_audio, transcript_only, scene_only, or a "+"-joined list of missing streams.
func (q Quality) String() string {
	switch {
	case !q.Degraded():
		return "full"
	case len(q.Missing) == 1 && q.Missing[0] == StreamAudio:
		return "no_audio"
	case !q.Has(StreamScenes) && q.Has(StreamTranscript):
		return "transcript_only"
	case !q.Has(StreamTranscript) && q.Has(StreamScenes):
		return "scene_only"
	}
	return "missing:" + strings.Join(q.Missing, "+")
}

// Normalized holds the three time-ordered, deduplicated sequences for one video.
type Normalized struct {
	Scenes   []SceneCut
	Segments []Segment
	Peaks    []Peak
	Quality  Quality
}

// MaxIntensity returns the loudest peak, or 0 when there is no audio stream.
func (n Normalized) MaxIntensity() float64 {
	max := 0.0
	for _, p := range n.Peaks {
		if p.Intensity > max {
			max = p.Intensity
		}
	}
	return max
}

// Extent returns the furthest timestamp seen in any stream.
func (n Normalized) Extent() float64 {
	end := 0.0
	for _, s := range n.Scenes {
		if s.At > end {
			end = s.At
		}
	}
	for _, s := range n.Segments {
		if s.End > end {
			end = s.End
		}
	}
	for _, p := range n.Peaks {
		if p.At > end {
			end = p.At
		}
	}
	return end
}

// SignalGapError is returned when a required stream is empty and no degraded mode applies.
type SignalGapError struct {
	Missing []string
}

func (e *SignalGapError) Error() string {
	return fmt.Sprintf("signal gap: missing %s", strings.Join(e.Missing, ", "))
}
