package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/keagan/clipcannon/internal/brand"
	"github.com/keagan/clipcannon/internal/ffmpeg"
	"github.com/keagan/clipcannon/internal/fusion"
	"github.com/keagan/clipcannon/internal/publish"
	"github.com/keagan/clipcannon/internal/ranker"
	"github.com/keagan/clipcannon/internal/scoring"
	"github.com/keagan/clipcannon/internal/signals"
	"github.com/keagan/clipcannon/pkg/util"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	// Core settings
	WorkDir     string `yaml:"work_dir"`
	TempDir     string `yaml:"temp_dir"`
	StateDir    string `yaml:"state_dir"`
	LibraryDir  string `yaml:"library_dir"`
	OutboxDir   string `yaml:"outbox_dir"`
	Concurrency int    `yaml:"concurrency"`

	Signals  SignalsConfig  `yaml:"signals"`
	Fusion   fusion.Config  `yaml:"fusion"`
	Scoring  scoring.Config `yaml:"scoring"`
	Ranker   RankerConfig   `yaml:"ranker"`
	Publish  publish.Config `yaml:"publish"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg"`
	Brands   []brand.Preset `yaml:"brands"`

	// Creators listed inline; the allowlist file is merged over them by id.
	AllowlistPath string    `yaml:"allowlist_path"`
	Creators      []Creator `yaml:"creators"`

	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

type SignalsConfig struct {
	Epsilon       float64 `yaml:"epsilon"`
	AllowDegraded bool    `yaml:"allow_degraded"`
}

// Options converts to normalizer options
func (s SignalsConfig) Options() signals.Options {
	return signals.Options{Epsilon: s.Epsilon, AllowDegraded: s.AllowDegraded}
}

type RankerConfig struct {
	ranker.Config `yaml:",inline"`
	// Enabled allows the LLM path; it is only taken when an API key is configured.
	Enabled bool                `yaml:"enabled"`
	LLM     ranker.OpenAIConfig `yaml:"llm"`
}

type PipelineConfig struct {
	// DailyCap is the per-creator clip budget per UTC day unless a creator overrides it.
	DailyCap int      `yaml:"daily_cap"`
	Timeouts Timeouts `yaml:"timeouts"`

	// AutoPipeline makes serve poll the library for unseen videos every PollInterval.
	AutoPipeline    bool          `yaml:"auto_pipeline"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Timeouts bounds every call the orchestrator makes to an external collaborator.
type Timeouts struct {
	Lookup    time.Duration `yaml:"lookup"`
	Signals   time.Duration `yaml:"signals"`
	Sentiment time.Duration `yaml:"sentiment"`
	Render    time.Duration `yaml:"render"`
	Seen      time.Duration `yaml:"seen"`
}

type FFmpegConfig struct {
	ffmpeg.Config  `yaml:",inline"`
	Preset         string  `yaml:"preset"`
	CRF            int     `yaml:"crf"`
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	SceneThreshold float64 `yaml:"scene_threshold"`
	PeakWindow     float64 `yaml:"peak_window"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	// PostgresURL enables the SQL projection and seen store when set.
	PostgresURL string `yaml:"postgres_url"`
}

type LoggingConfig struct {
	JSON bool `yaml:"json"`
}

// Load reads configuration from file or returns defaults, then applies the
// creator allowlist, .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := cfg.loadAllowlist(); err != nil {
		return nil, err
	}

	// A missing .env is normal outside development.
	_ = LoadEnv()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, data)
}

// Validate checks every section that carries its own rules.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Signals.Epsilon < 0 {
		return fmt.Errorf("signals.epsilon must not be negative")
	}
	if err := c.Fusion.Validate(); err != nil {
		return fmt.Errorf("fusion: %w", err)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if err := c.Publish.Validate(); err != nil {
		return err
	}
	if c.Pipeline.DailyCap <= 0 {
		return fmt.Errorf("pipeline.daily_cap must be positive")
	}
	if c.Pipeline.PollInterval < 0 || c.Pipeline.CleanupInterval < 0 {
		return fmt.Errorf("pipeline intervals must not be negative")
	}
	if c.Pipeline.AutoPipeline && c.Pipeline.PollInterval == 0 {
		return fmt.Errorf("pipeline.auto_pipeline needs a poll_interval")
	}
	if c.Ranker.CandidateMultiplier < 1 {
		return fmt.Errorf("ranker.candidate_multiplier must be at least 1")
	}
	seen := make(map[string]bool)
	for _, cr := range c.Creators {
		if cr.ID == "" {
			return fmt.Errorf("creator without id")
		}
		if seen[cr.ID] {
			return fmt.Errorf("duplicate creator %q", cr.ID)
		}
		seen[cr.ID] = true
		if cr.MaxDaily < 0 {
			return fmt.Errorf("creator %q: max_daily must not be negative", cr.ID)
		}
	}
	return nil
}

// UseLLM reports whether ranking should call the chat completions endpoint.
func (c *Config) UseLLM() bool {
	return c.Ranker.Enabled && c.Ranker.LLM.APIKey != ""
}

// SeenPath is where the flat-file seen store lives
func (c *Config) SeenPath() string {
	return filepath.Join(c.StateDir, "seen_videos.txt")
}

// PublishStorePath is where publish records are persisted
func (c *Config) PublishStorePath() string {
	return filepath.Join(c.StateDir, "publish.json")
}

func defaultConfig() *Config {
	return &Config{
		WorkDir:     "./work",
		TempDir:     "./tmp",
		StateDir:    "./tmp/state",
		LibraryDir:  "./library",
		OutboxDir:   "./outbox",
		Concurrency: 2,
		Signals: SignalsConfig{
			Epsilon:       signals.DefaultEpsilon,
			AllowDegraded: true,
		},
		Fusion:  fusion.DefaultConfig(),
		Scoring: scoring.DefaultConfig(),
		Ranker: RankerConfig{
			Config:  ranker.DefaultConfig(),
			Enabled: true,
			LLM: ranker.OpenAIConfig{
				Model:       ranker.DefaultModel,
				Temperature: ranker.DefaultTemperature,
				MaxRetries:  2,
			},
		},
		Publish: publish.DefaultConfig(),
		Pipeline: PipelineConfig{
			DailyCap: 8,
			Timeouts: Timeouts{
				Lookup:    30 * time.Second,
				Signals:   10 * time.Minute,
				Sentiment: 30 * time.Second,
				Render:    10 * time.Minute,
				Seen:      5 * time.Second,
			},
			PollInterval:    10 * time.Minute,
			CleanupInterval: 6 * time.Hour,
		},
		FFmpeg: FFmpegConfig{
			Preset:         ffmpeg.DefaultPreset,
			CRF:            ffmpeg.DefaultCRF,
			Width:          ffmpeg.DefaultWidth,
			Height:         ffmpeg.DefaultHeight,
			SceneThreshold: 0.3,
			PeakWindow:     ffmpeg.DefaultPeakWindow,
		},
		AllowlistPath: "config/allowlist.yaml",
		Server:        ServerConfig{Addr: ":8080"},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".clipcannon", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Default returns the built-in configuration
func Default() *Config {
	return defaultConfig()
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
