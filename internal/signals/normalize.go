package signals

import (
	"sort"
	"strings"
)

// DefaultEpsilon is the collapse distance for near-duplicate events, in seconds.
const DefaultEpsilon = 0.25

// Options configures Normalize.
type Options struct {
	// Epsilon collapses events closer than this many seconds to one.
	Epsilon float64
	// AllowDegraded lets fusion continue on a subset of streams, reported via Quality.
	AllowDegraded bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Epsilon:       DefaultEpsilon,
		AllowDegraded: true,
	}
}

// Normalize aligns raw analyzer output onto one ascending, deduplicated time axis.
//
// Scenes and transcript segments are the boundary streams: when both are empty there is
// nothing to open a window from and a SignalGapError is returned regardless of options.
// Otherwise an empty stream is reported in Quality, or fails when AllowDegraded is false.
func Normalize(raw Raw, opts Options) (Normalized, error) {
	if opts.Epsilon < 0 {
		opts.Epsilon = 0
	}

	out := Normalized{
		Scenes:   normalizeScenes(raw.Scenes, opts.Epsilon),
		Segments: normalizeSegments(raw.Segments, opts.Epsilon),
		Peaks:    normalizePeaks(raw.Peaks, opts.Epsilon),
	}

	var missing []string
	if len(out.Scenes) == 0 {
		missing = append(missing, StreamScenes)
	}
	if len(out.Segments) == 0 {
		missing = append(missing, StreamTranscript)
	}
	if len(out.Peaks) == 0 {
		missing = append(missing, StreamAudio)
	}

	if len(out.Scenes) == 0 && len(out.Segments) == 0 {
		return Normalized{}, &SignalGapError{Missing: missing}
	}
	if len(missing) > 0 && !opts.AllowDegraded {
		return Normalized{}, &SignalGapError{Missing: missing}
	}

	out.Quality = Quality{Missing: missing}
	return out, nil
}

func normalizeScenes(in []SceneCut, eps float64) []SceneCut {
	cuts := make([]SceneCut, 0, len(in))
	for _, c := range in {
		if c.At < 0 {
			continue
		}
		cuts = append(cuts, c)
	}
	sort.SliceStable(cuts, func(i, j int) bool { return cuts[i].At < cuts[j].At })

	out := make([]SceneCut, 0, len(cuts))
	for _, c := range cuts {
		if len(out) > 0 && c.At-out[len(out)-1].At <= eps {
			continue
		}
		out = append(out, c)
	}
	return out
}

func normalizeSegments(in []Segment, eps float64) []Segment {
	segs := make([]Segment, 0, len(in))
	for _, s := range in {
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End <= s.Start {
			continue
		}
		s.Text = strings.TrimSpace(s.Text)
		segs = append(segs, s)
	}
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].Start != segs[j].Start {
			return segs[i].Start < segs[j].Start
		}
		return segs[i].End < segs[j].End
	})

	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if s.Start-last.Start <= eps {
				if s.End > last.End {
					last.End = s.End
				}
				if s.Text != "" && s.Text != last.Text {
					last.Text = strings.TrimSpace(last.Text + " " + s.Text)
				}
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func normalizePeaks(in []Peak, eps float64) []Peak {
	peaks := make([]Peak, 0, len(in))
	for _, p := range in {
		if p.At < 0 || p.Intensity < 0 {
			continue
		}
		peaks = append(peaks, p)
	}
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].At < peaks[j].At })

	out := make([]Peak, 0, len(peaks))
	for _, p := range peaks {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if p.At-last.At <= eps {
				if p.Intensity > last.Intensity {
					last.Intensity = p.Intensity
				}
				continue
			}
		}
		out = append(out, p)
	}
	return out
}
