package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/keagan/clipcannon/internal/ffmpeg"
	"github.com/keagan/clipcannon/internal/pipeline"
	"github.com/keagan/clipcannon/pkg/util"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrVideoNotFound is returned when no media file matches a video id.
var ErrVideoNotFound = errors.New("video not found in library")

var mediaExtensions = []string{".mp4", ".mkv", ".mov", ".webm"}

// Prober reads media metadata
type Prober interface {
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
}

// videoMeta is the optional <id>.yaml sidecar
type videoMeta struct {
	Title    string  `yaml:"title"`
	Duration float64 `yaml:"duration_s"`
}

// Catalog serves videos from a directory laid out as <dir>/<creator>/<id>.<ext>,
// with an optional <id>.yaml sidecar and a Whisper <id>.json transcript.
type Catalog struct {
	logger zerolog.Logger
	dir    string
	probe  Prober
}

// NewCatalog creates a catalog over dir. probe may be nil when sidecars carry durations.
func NewCatalog(logger zerolog.Logger, dir string, probe Prober) *Catalog {
	return &Catalog{
		logger: logger.With().Str("component", "library").Logger(),
		dir:    dir,
		probe:  probe,
	}
}

// Lookup finds a video by id across all creator directories.
func (c *Catalog) Lookup(ctx context.Context, videoID string) (pipeline.SourceVideo, error) {
	if videoID == "" || strings.ContainsAny(videoID, `/\`) || videoID == "." || videoID == ".." {
		return pipeline.SourceVideo{}, fmt.Errorf("invalid video id %q", videoID)
	}

	creators, err := c.creatorDirs()
	if err != nil {
		return pipeline.SourceVideo{}, err
	}
	for _, creator := range creators {
		for _, ext := range mediaExtensions {
			media := filepath.Join(c.dir, creator, videoID+ext)
			if util.FileExists(media) {
				return c.describe(ctx, creator, videoID, media)
			}
		}
	}
	return pipeline.SourceVideo{}, fmt.Errorf("%s: %w", videoID, ErrVideoNotFound)
}

// List returns every video in the library, ordered by creator then id.
// Durations are taken from sidecars only; List never probes.
func (c *Catalog) List() ([]pipeline.SourceVideo, error) {
	creators, err := c.creatorDirs()
	if err != nil {
		return nil, err
	}

	var out []pipeline.SourceVideo
	for _, creator := range creators {
		entries, err := os.ReadDir(filepath.Join(c.dir, creator))
		if err != nil {
			return nil, fmt.Errorf("read creator dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !isMedia(e.Name()) {
				continue
			}
			id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			v := c.base(creator, id, filepath.Join(c.dir, creator, e.Name()))
			if meta, err := c.readMeta(creator, id); err == nil {
				v.Title, v.Duration = meta.Title, meta.Duration
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *Catalog) describe(ctx context.Context, creator, id, media string) (pipeline.SourceVideo, error) {
	v := c.base(creator, id, media)

	meta, err := c.readMeta(creator, id)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return pipeline.SourceVideo{}, err
	}
	v.Title = meta.Title
	v.Duration = meta.Duration

	if v.Duration <= 0 && c.probe != nil {
		info, err := c.probe.ProbeVideo(ctx, media)
		if err != nil {
			// fusion infers the duration from signals when it is unknown
			c.logger.Warn().Err(err).Str("video_id", id).Msg("probe failed, duration unknown")
		} else {
			v.Duration = info.Duration.Seconds()
		}
	}
	return v, nil
}

func (c *Catalog) base(creator, id, media string) pipeline.SourceVideo {
	v := pipeline.SourceVideo{
		ID:        id,
		Creator:   creator,
		MediaPath: media,
	}
	transcript := filepath.Join(c.dir, creator, id+".json")
	if util.FileExists(transcript) {
		v.TranscriptPath = transcript
	}
	return v
}

func (c *Catalog) readMeta(creator, id string) (videoMeta, error) {
	var meta videoMeta
	data, err := os.ReadFile(filepath.Join(c.dir, creator, id+".yaml"))
	if err != nil {
		return meta, err
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse metadata for %s: %w", id, err)
	}
	return meta, nil
}

func (c *Catalog) creatorDirs() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read library %s: %w", c.dir, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func isMedia(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, m := range mediaExtensions {
		if ext == m {
			return true
		}
	}
	return false
}
