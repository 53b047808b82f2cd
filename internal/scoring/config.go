package scoring

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// Weights for the six component scores. They must sum to 1.
type Weights struct {
	Keyword   float64 `yaml:"keyword"`
	Energy    float64 `yaml:"energy"`
	Sentiment float64 `yaml:"sentiment"`
	Pace      float64 `yaml:"pace"`
	Cohesion  float64 `yaml:"cohesion"`
	LengthFit float64 `yaml:"length_fit"`
}

// Sum returns the total of all weights
func (w Weights) Sum() float64 {
	return w.Keyword + w.Energy + w.Sentiment + w.Pace + w.Cohesion + w.LengthFit
}

// PaceConfig is the target speaking rate band, in words per second.
type PaceConfig struct {
	MinWPS float64 `yaml:"min_wps"`
	MaxWPS float64 `yaml:"max_wps"`
	Sigma  float64 `yaml:"sigma"`
}

// LengthConfig shapes the triangular length-fit score.
type LengthConfig struct {
	Min   time.Duration `yaml:"min"`
	Ideal time.Duration `yaml:"ideal"`
	Max   time.Duration `yaml:"max"`
}

// Config configures the candidate scorer
type Config struct {
	Weights Weights `yaml:"weights"`
	// Keywords are case-insensitive regular expressions for high-value terms.
	Keywords []string `yaml:"keywords"`
	// KeywordSaturation is the number of keyword hits that scores 1.
	KeywordSaturation float64 `yaml:"keyword_saturation"`
	// Neutral is used for keyword and cohesion when the snippet is empty.
	Neutral           float64       `yaml:"neutral"`
	Pace              PaceConfig    `yaml:"pace"`
	Length            LengthConfig  `yaml:"length"`
	CohesionTolerance time.Duration `yaml:"cohesion_tolerance"`
	BanWords          []string      `yaml:"ban_words"`
	NSFWWords         []string      `yaml:"nsfw_words"`
	// DropFlagged removes candidates with safety flags before ranking.
	DropFlagged bool `yaml:"drop_flagged"`
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Keyword:   0.20,
			Energy:    0.20,
			Sentiment: 0.15,
			Pace:      0.15,
			Cohesion:  0.10,
			LengthFit: 0.20,
		},
		Keywords: []string{
			`\b(wtf|no way|omg|bro|dude|holy|let'?s go+|insane|crazy|what|yo+)\b`,
			`\b(lmao|lmfao|lol+|hahaha+|haha|rofl)\b`,
		},
		KeywordSaturation: 3,
		Neutral:           0.5,
		Pace: PaceConfig{
			MinWPS: 2,
			MaxWPS: 4,
			Sigma:  1,
		},
		Length: LengthConfig{
			Min:   15 * time.Second,
			Ideal: 30 * time.Second,
			Max:   60 * time.Second,
		},
		CohesionTolerance: 500 * time.Millisecond,
		BanWords:          []string{`\b(kys|suicide)\b`},
		NSFWWords:         []string{`\b(nsfw|porn)\b`},
		DropFlagged:       true,
	}
}

// Validate checks weights, ranges and that every pattern compiles.
func (c Config) Validate() error {
	if math.Abs(c.Weights.Sum()-1) > 1e-6 {
		return fmt.Errorf("scoring weights must sum to 1, got %.6f", c.Weights.Sum())
	}
	for name, w := range map[string]float64{
		"keyword": c.Weights.Keyword, "energy": c.Weights.Energy, "sentiment": c.Weights.Sentiment,
		"pace": c.Weights.Pace, "cohesion": c.Weights.Cohesion, "length_fit": c.Weights.LengthFit,
	} {
		if w < 0 {
			return fmt.Errorf("weight %s must not be negative", name)
		}
	}
	if c.Neutral < 0 || c.Neutral > 1 {
		return fmt.Errorf("neutral must be within [0,1]")
	}
	if c.KeywordSaturation <= 0 {
		return fmt.Errorf("keyword_saturation must be positive")
	}
	if c.Pace.MinWPS < 0 || c.Pace.MaxWPS < c.Pace.MinWPS || c.Pace.Sigma <= 0 {
		return fmt.Errorf("invalid pace band %.2f-%.2f (sigma %.2f)", c.Pace.MinWPS, c.Pace.MaxWPS, c.Pace.Sigma)
	}
	if !(c.Length.Min < c.Length.Ideal && c.Length.Ideal < c.Length.Max) {
		return fmt.Errorf("length range must satisfy min < ideal < max")
	}
	if _, err := compileAll(c.Keywords); err != nil {
		return fmt.Errorf("keywords: %w", err)
	}
	if _, err := compileAll(c.BanWords); err != nil {
		return fmt.Errorf("ban_words: %w", err)
	}
	if _, err := compileAll(c.NSFWWords); err != nil {
		return fmt.Errorf("nsfw_words: %w", err)
	}
	return nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
