package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/keagan/clipcannon/internal/brand"
	"github.com/keagan/clipcannon/pkg/util"
	"gopkg.in/yaml.v3"
)

// ErrUnknownCreator is returned for ids missing from the allowlist.
var ErrUnknownCreator = errors.New("creator not in allowlist")

// Creator is one allowlisted channel
type Creator struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Platform      string `yaml:"platform"`
	SourceURL     string `yaml:"source_url"`
	LicenseType   string `yaml:"license_type"`
	PostChannelID string `yaml:"post_channel_id"`
	BrandPreset   string `yaml:"brand_preset"`
	// MaxDaily overrides pipeline.daily_cap when positive.
	MaxDaily   int  `yaml:"max_daily"`
	ShortsOnly bool `yaml:"shorts_only"`
	Enabled    bool `yaml:"enabled"`
}

func defaultCreator() Creator {
	return Creator{
		Platform:    "youtube",
		BrandPreset: brand.DefaultPreset,
		ShortsOnly:  true,
		Enabled:     true,
	}
}

// UnmarshalYAML applies defaults for keys the entry leaves out.
func (c *Creator) UnmarshalYAML(value *yaml.Node) error {
	type raw Creator
	r := raw(defaultCreator())
	if err := value.Decode(&r); err != nil {
		return err
	}
	*c = Creator(r)
	return nil
}

type allowlistFile struct {
	Creators []Creator `yaml:"creators"`
}

func (c *Config) loadAllowlist() error {
	if c.AllowlistPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.AllowlistPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read allowlist: %w", err)
	}

	var file allowlistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse allowlist %s: %w", c.AllowlistPath, err)
	}

	index := make(map[string]int, len(c.Creators))
	for i, cr := range c.Creators {
		index[cr.ID] = i
	}
	for _, cr := range file.Creators {
		if i, ok := index[cr.ID]; ok {
			c.Creators[i] = cr
			continue
		}
		index[cr.ID] = len(c.Creators)
		c.Creators = append(c.Creators, cr)
	}
	return nil
}

// Registry is the live, concurrency-safe view of the creator allowlist.
type Registry struct {
	mu       sync.RWMutex
	creators map[string]Creator
	dailyCap int
}

// NewRegistry indexes creators by id. dailyCap applies to creators without MaxDaily.
func NewRegistry(creators []Creator, dailyCap int) *Registry {
	r := &Registry{
		creators: make(map[string]Creator, len(creators)),
		dailyCap: dailyCap,
	}
	for _, cr := range creators {
		r.creators[cr.ID] = cr
	}
	return r
}

// Registry builds the allowlist registry for this config
func (c *Config) Registry() *Registry {
	return NewRegistry(c.Creators, c.Pipeline.DailyCap)
}

// Get returns the creator with the given id
func (r *Registry) Get(id string) (Creator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cr, ok := r.creators[id]
	return cr, ok
}

// DailyCap returns the effective clip budget for a creator.
func (r *Registry) DailyCap(cr Creator) int {
	if cr.MaxDaily > 0 {
		return cr.MaxDaily
	}
	return r.dailyCap
}

// List returns all creators sorted by id
func (r *Registry) List() []Creator {
	r.mu.RLock()
	out := make([]Creator, 0, len(r.creators))
	for _, cr := range r.creators {
		out = append(out, cr)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetEnabled toggles admission for a creator. Work already admitted is unaffected.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cr, ok := r.creators[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownCreator)
	}
	cr.Enabled = enabled
	r.creators[id] = cr
	return nil
}

// Save writes the registry back as an allowlist file
func (r *Registry) Save(path string) error {
	data, err := yaml.Marshal(allowlistFile{Creators: r.List()})
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, data)
}
