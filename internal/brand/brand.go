package brand

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultPreset is used when a creator names no preset or an unknown one.
const DefaultPreset = "default"

// Corner names where a watermark is anchored
type Corner string

const (
	TopLeft     Corner = "top_left"
	TopRight    Corner = "top_right"
	BottomLeft  Corner = "bottom_left"
	BottomRight Corner = "bottom_right"
)

// Preset describes the branding applied to a creator's renders
type Preset struct {
	Name      string  `yaml:"name"`
	Watermark string  `yaml:"watermark"`
	Position  Corner  `yaml:"position"`
	Opacity   float64 `yaml:"opacity"`
	Margin    int     `yaml:"margin"`
}

// Overlay returns ffmpeg overlay x/y expressions for the preset's corner.
func (p Preset) Overlay() (x, y string) {
	m := p.Margin
	if m < 0 {
		m = 0
	}
	switch p.Position {
	case TopLeft:
		return fmt.Sprintf("%d", m), fmt.Sprintf("%d", m)
	case BottomLeft:
		return fmt.Sprintf("%d", m), fmt.Sprintf("H-h-%d", m)
	case BottomRight:
		return fmt.Sprintf("W-w-%d", m), fmt.Sprintf("H-h-%d", m)
	default:
		return fmt.Sprintf("W-w-%d", m), fmt.Sprintf("%d", m)
	}
}

// Registry manages brand presets
type Registry struct {
	mu      sync.RWMutex
	presets map[string]Preset
}

// NewRegistry creates a registry holding the given presets plus an
// unbranded default if none was supplied.
func NewRegistry(presets ...Preset) *Registry {
	r := &Registry{presets: make(map[string]Preset)}
	r.Register(Preset{Name: DefaultPreset, Position: TopRight, Opacity: 0.8, Margin: 24})
	for _, p := range presets {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a preset
func (r *Registry) Register(p Preset) {
	if p.Name == "" {
		return
	}
	if p.Opacity <= 0 || p.Opacity > 1 {
		p.Opacity = 1
	}
	r.mu.Lock()
	r.presets[p.Name] = p
	r.mu.Unlock()
}

// Get retrieves a preset by name
func (r *Registry) Get(name string) (Preset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[name]
	return p, ok
}

// Resolve returns the named preset, falling back to the default.
func (r *Registry) Resolve(name string) Preset {
	if p, ok := r.Get(name); ok {
		return p
	}
	p, _ := r.Get(DefaultPreset)
	return p
}

// List returns all registered preset names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
