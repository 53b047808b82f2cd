package fusion

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/keagan/clipcannon/internal/clips"
	"github.com/keagan/clipcannon/internal/signals"
	"github.com/rs/zerolog"
)

// Config configures hotspot fusion. All fields are required; DefaultConfig documents the defaults.
type Config struct {
	// EnergyThreshold is the normalized intensity (relative to the loudest peak) an audio rise must reach.
	EnergyThreshold float64 `yaml:"energy_threshold"`
	// CoincidenceWindow is how far a peak may sit from a boundary and still count as coinciding.
	CoincidenceWindow time.Duration `yaml:"coincidence_window"`
	// OverlapFraction of the shorter window above which two windows are merged.
	OverlapFraction float64       `yaml:"overlap_fraction"`
	MinDuration     time.Duration `yaml:"min_duration"`
	MaxDuration     time.Duration `yaml:"max_duration"`
}

func DefaultConfig() Config {
	return Config{
		EnergyThreshold:   0.6,
		CoincidenceWindow: 1500 * time.Millisecond,
		OverlapFraction:   0.30,
		MinDuration:       5 * time.Second,
		MaxDuration:       60 * time.Second,
	}
}

// Validate rejects configurations fusion cannot honour.
func (c Config) Validate() error {
	if c.EnergyThreshold < 0 || c.EnergyThreshold > 1 {
		return fmt.Errorf("energy_threshold must be within [0,1], got %v", c.EnergyThreshold)
	}
	if c.CoincidenceWindow < 0 {
		return fmt.Errorf("coincidence_window must not be negative")
	}
	if c.OverlapFraction <= 0 || c.OverlapFraction > 1 {
		return fmt.Errorf("overlap_fraction must be within (0,1], got %v", c.OverlapFraction)
	}
	if c.MinDuration <= 0 {
		return fmt.Errorf("min_duration must be positive")
	}
	if c.MaxDuration < c.MinDuration {
		return fmt.Errorf("max_duration (%v) must not be below min_duration (%v)", c.MaxDuration, c.MinDuration)
	}
	return nil
}

// Fuser merges normalized signals into non-overlapping candidate windows.
type Fuser struct {
	logger zerolog.Logger
	config Config
}

// New creates a fuser after validating its configuration
func New(logger zerolog.Logger, cfg Config) (*Fuser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fusion config: %w", err)
	}
	return &Fuser{
		logger: logger.With().Str("component", "hotspot-fuser").Logger(),
		config: cfg,
	}, nil
}

// window is a raw candidate span in seconds
type window struct {
	start, end float64
}

func (w window) length() float64 { return w.end - w.start }

func (w window) overlap(o window) float64 {
	return math.Max(0, math.Min(w.end, o.end)-math.Max(w.start, o.start))
}

// Fuse produces ascending, non-overlapping candidates with snippets populated and scores unset.
// A non-positive duration is replaced by the furthest signal timestamp.
// The result depends only on its inputs.
func (f *Fuser) Fuse(norm signals.Normalized, duration float64) []clips.Candidate {
	if duration <= 0 {
		duration = norm.Extent()
	}
	if duration <= 0 {
		return nil
	}

	open := f.openingBoundaries(norm, duration)
	raw := f.windows(open, duration)
	resolved := f.resolve(raw)

	minLen := f.config.MinDuration.Seconds()
	candidates := make([]clips.Candidate, 0, len(resolved))
	for _, w := range resolved {
		if w.length() < minLen {
			continue
		}
		candidates = append(candidates, clips.Candidate{
			Start:   w.start,
			End:     w.end,
			Snippet: snippet(norm.Segments, w),
		})
	}

	f.logger.Debug().
		Int("boundaries", len(open)).
		Int("raw_windows", len(raw)).
		Int("candidates", len(candidates)).
		Str("quality", norm.Quality.String()).
		Msg("fusion complete")

	return candidates
}

// openingBoundaries collects scene cuts and segment starts inside [0, duration)
// that coincide with an audio-energy rise.
func (f *Fuser) openingBoundaries(norm signals.Normalized, duration float64) []float64 {
	points := make([]float64, 0, len(norm.Scenes)+len(norm.Segments))
	for _, s := range norm.Scenes {
		points = append(points, s.At)
	}
	for _, s := range norm.Segments {
		points = append(points, s.Start)
	}
	sort.Float64s(points)

	gated := norm.Quality.Has(signals.StreamAudio) && norm.MaxIntensity() > 0

	out := make([]float64, 0, len(points))
	for _, p := range points {
		if p < 0 || p >= duration {
			continue
		}
		if len(out) > 0 && p == out[len(out)-1] {
			continue
		}
		if gated && !f.risesNear(norm.Peaks, norm.MaxIntensity(), p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// risesNear reports whether a peak within the coincidence window reaches the threshold
// and is louder than the sample before it.
func (f *Fuser) risesNear(peaks []signals.Peak, maxIntensity, at float64) bool {
	win := f.config.CoincidenceWindow.Seconds()
	i := sort.Search(len(peaks), func(i int) bool { return peaks[i].At >= at-win })
	for ; i < len(peaks) && peaks[i].At <= at+win; i++ {
		if peaks[i].Intensity/maxIntensity < f.config.EnergyThreshold {
			continue
		}
		if i == 0 || peaks[i].Intensity > peaks[i-1].Intensity {
			return true
		}
	}
	return false
}

// windows closes each opening boundary at the first later boundary at least MinDuration away,
// at the MaxDuration cap, or at the end of the video.
func (f *Fuser) windows(open []float64, duration float64) []window {
	minLen := f.config.MinDuration.Seconds()
	maxLen := f.config.MaxDuration.Seconds()

	out := make([]window, 0, len(open))
	for i, b := range open {
		end := math.Min(b+maxLen, duration)
		for _, next := range open[i+1:] {
			if next-b >= minLen {
				end = math.Min(end, next)
				break
			}
		}
		if end > b {
			out = append(out, window{start: b, end: end})
		}
	}
	return out
}

// resolve merges heavily overlapping windows and trims lightly overlapping ones
// so the result is ascending and non-overlapping.
func (f *Fuser) resolve(raw []window) []window {
	sorted := make([]window, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].start != sorted[j].start {
			return sorted[i].start < sorted[j].start
		}
		return sorted[i].end < sorted[j].end
	})

	maxLen := f.config.MaxDuration.Seconds()
	out := make([]window, 0, len(sorted))
	for _, w := range sorted {
		if len(out) == 0 {
			out = append(out, w)
			continue
		}

		last := out[len(out)-1]
		ov := last.overlap(w)
		if ov <= 0 {
			out = append(out, w)
			continue
		}

		shorter := math.Min(last.length(), w.length())
		if ov > f.config.OverlapFraction*shorter {
			// input is sorted by start and trims only move starts forward,
			// so last.start is already the earliest start of the union
			merged := window{start: last.start, end: math.Max(last.end, w.end)}
			if merged.length() > maxLen {
				merged.end = merged.start + maxLen
			}
			out[len(out)-1] = merged
			continue
		}

		w.start = last.end
		if w.end > w.start {
			out = append(out, w)
		}
	}
	return out
}

// snippet concatenates the text of every segment intersecting the window.
func snippet(segments []signals.Segment, w window) string {
	var parts []string
	for _, s := range segments {
		if s.Start >= w.end {
			break
		}
		if s.End <= w.start || s.Text == "" {
			continue
		}
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}
