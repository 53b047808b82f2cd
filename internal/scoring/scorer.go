package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/keagan/clipcannon/internal/clips"
	"github.com/keagan/clipcannon/internal/signals"
	"github.com/rs/zerolog"
)

// ScoringInputError reports components that could not be evaluated and fell back to the neutral value.
type ScoringInputError struct {
	Start      float64
	End        float64
	Components []string
	Reason     string
}

func (e *ScoringInputError) Error() string {
	return fmt.Sprintf("candidate %.2f-%.2f: %s (%s defaulted to neutral)",
		e.Start, e.End, e.Reason, strings.Join(e.Components, ", "))
}

// Scorer computes the six component scores and the weighted composite for candidates.
type Scorer struct {
	logger   zerolog.Logger
	config   Config
	keywords []*regexp.Regexp
	banned   []*regexp.Regexp
	nsfw     []*regexp.Regexp
}

// NewScorer validates the config and compiles its patterns
func NewScorer(logger zerolog.Logger, cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}

	keywords, _ := compileAll(cfg.Keywords)
	banned, _ := compileAll(cfg.BanWords)
	nsfw, _ := compileAll(cfg.NSFWWords)

	return &Scorer{
		logger:   logger.With().Str("component", "candidate-scorer").Logger(),
		config:   cfg,
		keywords: keywords,
		banned:   banned,
		nsfw:     nsfw,
	}, nil
}

// DropFlagged reports whether flagged candidates should be excluded from ranking.
func (s *Scorer) DropFlagged() bool {
	return s.config.DropFlagged
}

// Neutral is the value substituted for inputs that could not be measured.
func (s *Scorer) Neutral() float64 {
	return s.config.Neutral
}

// Score fills the components, composite and safety flags of one candidate.
// The returned error is a *ScoringInputError when neutral defaults were applied;
// the candidate is fully scored either way.
func (s *Scorer) Score(c clips.Candidate, norm signals.Normalized) (clips.Candidate, error) {
	var inputErr error
	text := strings.TrimSpace(c.Snippet)

	comp := clips.Components{
		Energy:    energyScore(c, norm),
		Sentiment: clamp01(c.Affect),
		Pace:      s.paceScore(text, c.Duration()),
		LengthFit: s.lengthFitScore(c.Duration()),
	}

	if text == "" {
		comp.Keyword = s.config.Neutral
		comp.Cohesion = s.config.Neutral
		inputErr = &ScoringInputError{
			Start:      c.Start,
			End:        c.End,
			Components: []string{"keyword", "cohesion"},
			Reason:     "empty transcript snippet",
		}
	} else {
		comp.Keyword = s.keywordScore(text)
		comp.Cohesion = s.cohesionScore(c, norm.Segments)
	}

	w := s.config.Weights
	c.Components = comp
	c.Score = w.Keyword*comp.Keyword +
		w.Energy*comp.Energy +
		w.Sentiment*comp.Sentiment +
		w.Pace*comp.Pace +
		w.Cohesion*comp.Cohesion +
		w.LengthFit*comp.LengthFit

	c.Flags = clips.Flags{
		Banned: matchesAny(s.banned, text),
		NSFW:   matchesAny(s.nsfw, text),
	}

	return c, inputErr
}

// ScoreAll scores every candidate and returns them best first (ties by earlier start).
// Scoring input errors are absorbed and returned for reporting.
func (s *Scorer) ScoreAll(cands []clips.Candidate, norm signals.Normalized) ([]clips.Candidate, []error) {
	scored := make([]clips.Candidate, 0, len(cands))
	var absorbed []error

	for _, c := range cands {
		sc, err := s.Score(c, norm)
		if err != nil {
			s.logger.Warn().Err(err).Float64("start", c.Start).Msg("scoring input incomplete, using neutral components")
			absorbed = append(absorbed, err)
		}

		s.logger.Debug().
			Float64("start", sc.Start).
			Float64("end", sc.End).
			Float64("score", sc.Score).
			Float64("keyword", sc.Components.Keyword).
			Float64("energy", sc.Components.Energy).
			Float64("pace", sc.Components.Pace).
			Msg("scored candidate")

		scored = append(scored, sc)
	}

	clips.SortByScore(scored)
	return scored, absorbed
}

func (s *Scorer) keywordScore(text string) float64 {
	hits := 0
	for _, re := range s.keywords {
		hits += len(re.FindAllStringIndex(text, -1))
	}
	return clamp01(float64(hits) / s.config.KeywordSaturation)
}

// energyScore is the loudest peak inside the window relative to the loudest peak of the video.
func energyScore(c clips.Candidate, norm signals.Normalized) float64 {
	maxIntensity := norm.MaxIntensity()
	if maxIntensity <= 0 {
		return 0
	}
	best := 0.0
	for _, p := range norm.Peaks {
		if p.At < c.Start {
			continue
		}
		if p.At > c.End {
			break
		}
		if p.Intensity > best {
			best = p.Intensity
		}
	}
	return clamp01(best / maxIntensity)
}

// paceScore is 1 inside the target words-per-second band with a Gaussian falloff outside it.
func (s *Scorer) paceScore(text string, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	wps := float64(len(strings.Fields(text))) / duration

	var dist float64
	switch {
	case wps < s.config.Pace.MinWPS:
		dist = s.config.Pace.MinWPS - wps
	case wps > s.config.Pace.MaxWPS:
		dist = wps - s.config.Pace.MaxWPS
	default:
		return 1
	}
	sigma := s.config.Pace.Sigma
	return math.Exp(-(dist * dist) / (2 * sigma * sigma))
}

// cohesionScore gives half credit for each edge of the window that does not cut through a segment.
func (s *Scorer) cohesionScore(c clips.Candidate, segments []signals.Segment) float64 {
	tol := s.config.CohesionTolerance.Seconds()
	score := 0.0
	if !cutsThrough(segments, c.Start, tol) {
		score += 0.5
	}
	if !cutsThrough(segments, c.End, tol) {
		score += 0.5
	}
	return score
}

func cutsThrough(segments []signals.Segment, at, tol float64) bool {
	for _, seg := range segments {
		if seg.Start >= at {
			break
		}
		if seg.Start < at-tol && seg.End > at+tol {
			return true
		}
	}
	return false
}

// lengthFitScore peaks at the ideal duration and reaches zero at the edges of the acceptable range.
func (s *Scorer) lengthFitScore(duration float64) float64 {
	min := s.config.Length.Min.Seconds()
	ideal := s.config.Length.Ideal.Seconds()
	max := s.config.Length.Max.Seconds()

	switch {
	case duration <= min || duration >= max:
		return 0
	case duration <= ideal:
		return (duration - min) / (ideal - min)
	default:
		return (max - duration) / (max - ideal)
	}
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
