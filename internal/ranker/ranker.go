package ranker

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/keagan/clipcannon/internal/clips"
	"github.com/keagan/clipcannon/pkg/util"
	"github.com/rs/zerolog"
)

// Choice is a candidate offered to a ranking capability under a short stable id.
type Choice struct {
	ID string
	clips.Candidate
}

// Pick is one candidate chosen by a ranking capability.
type Pick struct {
	ID     string
	Title  string
	Reason string
}

// Capability reorders and prunes candidates and proposes titles.
// Implementations are free to be nondeterministic; Ranker bounds them with a deterministic fallback.
type Capability interface {
	Rank(ctx context.Context, choices []Choice, k int) ([]Pick, error)
}

// RankingUnavailableError explains why the capability's answer was not used.
type RankingUnavailableError struct {
	Reason string
	Err    error
}

func (e *RankingUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ranking unavailable: %s: %v", e.Reason, e.Err)
	}
	return "ranking unavailable: " + e.Reason
}

func (e *RankingUnavailableError) Unwrap() error { return e.Err }

// Config configures selection
type Config struct {
	// CandidateMultiplier sets N = multiplier × K candidates offered to the capability.
	CandidateMultiplier int           `yaml:"candidate_multiplier"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxTitleWords       int           `yaml:"max_title_words"`
	MaxTitleChars       int           `yaml:"max_title_chars"`
}

func DefaultConfig() Config {
	return Config{
		CandidateMultiplier: 3,
		Timeout:             45 * time.Second,
		MaxTitleWords:       8,
		MaxTitleChars:       60,
	}
}

// Result is the outcome of Select.
type Result struct {
	Clips []clips.Selected
	// Fallback is true when the deterministic path produced the result.
	Fallback bool
	// Err is the *RankingUnavailableError that forced the fallback, if any.
	Err error
}

// Ranker selects the top-K candidates of one video.
type Ranker struct {
	logger     zerolog.Logger
	capability Capability
	config     Config
}

// New creates a ranker. A nil capability means every selection uses the fallback.
func New(logger zerolog.Logger, capability Capability, cfg Config) *Ranker {
	def := DefaultConfig()
	if cfg.CandidateMultiplier < 1 {
		cfg.CandidateMultiplier = def.CandidateMultiplier
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTitleWords <= 0 {
		cfg.MaxTitleWords = def.MaxTitleWords
	}
	if cfg.MaxTitleChars <= 0 {
		cfg.MaxTitleChars = def.MaxTitleChars
	}
	return &Ranker{
		logger:     logger.With().Str("component", "ranker").Logger(),
		capability: capability,
		config:     cfg,
	}
}

// Select returns exactly min(k, len(cands)) clips, each drawn from cands with a non-empty title.
// The capability is bounded by the configured timeout; any failure falls back to top-K by score.
func (r *Ranker) Select(ctx context.Context, cands []clips.Candidate, k int) Result {
	if k <= 0 || len(cands) == 0 {
		return Result{Clips: []clips.Selected{}, Fallback: r.capability == nil}
	}

	ordered := make([]clips.Candidate, len(cands))
	copy(ordered, cands)
	clips.SortByScore(ordered)

	if k > len(ordered) {
		k = len(ordered)
	}
	n := k * r.config.CandidateMultiplier
	if n > len(ordered) {
		n = len(ordered)
	}

	choices := make([]Choice, n)
	for i := 0; i < n; i++ {
		choices[i] = Choice{ID: fmt.Sprintf("c%d", i), Candidate: ordered[i]}
	}

	if r.capability == nil {
		return Result{Clips: r.fallback(ordered, k), Fallback: true}
	}

	selected, err := r.fromCapability(ctx, choices, k)
	if err != nil {
		r.logger.Warn().Err(err).Int("k", k).Msg("ranking capability unavailable, using deterministic fallback")
		return Result{Clips: r.fallback(ordered, k), Fallback: true, Err: err}
	}

	r.logger.Debug().Int("k", k).Int("offered", n).Msg("ranking capability selected clips")
	return Result{Clips: selected}
}

func (r *Ranker) fromCapability(ctx context.Context, choices []Choice, k int) ([]clips.Selected, error) {
	rankCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	picks, err := r.capability.Rank(rankCtx, choices, k)
	if err != nil {
		reason := "capability error"
		if rankCtx.Err() != nil {
			reason = "timeout"
		}
		return nil, &RankingUnavailableError{Reason: reason, Err: err}
	}
	if len(picks) == 0 {
		return nil, &RankingUnavailableError{Reason: "empty selection"}
	}

	byID := make(map[string]Choice, len(choices))
	for _, c := range choices {
		byID[c.ID] = c
	}

	used := make(map[string]bool, len(picks))
	selected := make([]clips.Selected, 0, k)
	for _, p := range picks {
		choice, ok := byID[strings.TrimSpace(p.ID)]
		if !ok {
			return nil, &RankingUnavailableError{Reason: fmt.Sprintf("unknown candidate id %q", p.ID)}
		}
		if used[choice.ID] {
			return nil, &RankingUnavailableError{Reason: fmt.Sprintf("duplicate candidate id %q", p.ID)}
		}
		used[choice.ID] = true

		if len(selected) == k {
			continue
		}
		title := r.cleanTitle(p.Title)
		if title == "" {
			title = r.SynthesizeTitle(choice.Candidate)
		}
		selected = append(selected, clips.Selected{
			Candidate: choice.Candidate,
			Title:     title,
			Reason:    strings.TrimSpace(p.Reason),
		})
	}

	// a pruned answer is topped up from the remaining offered candidates by score
	for _, c := range choices {
		if len(selected) == k {
			break
		}
		if used[c.ID] {
			continue
		}
		selected = append(selected, clips.Selected{Candidate: c.Candidate, Title: r.SynthesizeTitle(c.Candidate)})
	}

	for i := range selected {
		selected[i].Rank = i + 1
	}
	return selected, nil
}

// fallback takes the first k of the score-ordered candidates.
func (r *Ranker) fallback(ordered []clips.Candidate, k int) []clips.Selected {
	out := make([]clips.Selected, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, clips.Selected{
			Candidate: ordered[i],
			Title:     r.SynthesizeTitle(ordered[i]),
			Rank:      i + 1,
		})
	}
	return out
}

// SynthesizeTitle derives a title from the leading clause of the snippet.
func (r *Ranker) SynthesizeTitle(c clips.Candidate) string {
	clause := c.Snippet
	if i := strings.IndexAny(clause, ".!?;:,\n"); i >= 0 {
		clause = clause[:i]
	}
	if title := r.cleanTitle(clause); title != "" {
		return title
	}
	return "Highlight at " + util.FormatClock(c.Start)
}

// cleanTitle trims punctuation, limits words and characters, and capitalises the first letter.
func (r *Ranker) cleanTitle(s string) string {
	words := strings.Fields(s)
	if len(words) > r.config.MaxTitleWords {
		words = words[:r.config.MaxTitleWords]
	}

	title := ""
	for _, w := range words {
		next := w
		if title != "" {
			next = title + " " + w
		}
		if utf8.RuneCountInString(next) > r.config.MaxTitleChars {
			break
		}
		title = next
	}
	if title == "" && len(words) > 0 {
		title = string([]rune(words[0])[:min(r.config.MaxTitleChars, utf8.RuneCountInString(words[0]))])
	}

	title = strings.Trim(title, " \t\"'`-–—")
	if title == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(first)) + title[size:]
}
