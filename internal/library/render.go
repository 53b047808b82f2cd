package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/keagan/clipcannon/internal/brand"
	"github.com/keagan/clipcannon/internal/clips"
	"github.com/keagan/clipcannon/internal/ffmpeg"
	"github.com/keagan/clipcannon/internal/pipeline"
	"github.com/keagan/clipcannon/pkg/util"
	"github.com/rs/zerolog"
)

// ShortRenderer encodes one excerpt
type ShortRenderer interface {
	RenderShort(ctx context.Context, opts ffmpeg.ShortOptions) error
}

// RenderSettings are the encoder knobs shared by every clip
type RenderSettings struct {
	Preset string
	CRF    int
	Width  int
	Height int
}

// Renderer writes branded vertical shorts to <outDir>/<creator>/<clip id>.mp4.
type Renderer struct {
	logger   zerolog.Logger
	exec     ShortRenderer
	brands   *brand.Registry
	creators pipeline.Creators
	outDir   string
	settings RenderSettings
}

func NewRenderer(logger zerolog.Logger, exec ShortRenderer, brands *brand.Registry, creators pipeline.Creators, outDir string, settings RenderSettings) *Renderer {
	if brands == nil {
		brands = brand.NewRegistry()
	}
	return &Renderer{
		logger:   logger.With().Str("component", "clip-renderer").Logger(),
		exec:     exec,
		brands:   brands,
		creators: creators,
		outDir:   outDir,
		settings: settings,
	}
}

var _ pipeline.Renderer = (*Renderer)(nil)

// Render encodes the clip unless an artifact for it already exists.
func (r *Renderer) Render(ctx context.Context, video pipeline.SourceVideo, spec clips.Spec) (string, error) {
	if video.MediaPath == "" {
		return "", fmt.Errorf("video %s has no media to render from", video.ID)
	}

	output := filepath.Join(r.outDir, spec.Creator, spec.ClipID+".mp4")
	if util.FileExists(output) {
		r.logger.Debug().Str("clip_id", spec.ClipID).Msg("artifact already rendered")
		return output, nil
	}
	if err := util.EnsureDir(filepath.Dir(output)); err != nil {
		return "", err
	}

	presetName := brand.DefaultPreset
	if r.creators != nil {
		if cr, ok := r.creators.Get(spec.Creator); ok {
			presetName = cr.BrandPreset
		}
	}
	preset := r.brands.Resolve(presetName)

	opts := ffmpeg.ShortOptions{
		Input:  video.MediaPath,
		Output: output,
		Start:  seconds(spec.Start),
		End:    seconds(spec.End),
		Width:  r.settings.Width,
		Height: r.settings.Height,
		CRF:    r.settings.CRF,
		Preset: r.settings.Preset,
	}
	if preset.Watermark != "" {
		x, y := preset.Overlay()
		opts.Watermark = &ffmpeg.Watermark{Path: preset.Watermark, X: x, Y: y, Opacity: preset.Opacity}
	}

	// write to a temp name so an interrupted encode never looks finished
	final := opts.Output
	opts.Output = final + ".part.mp4"
	if err := r.exec.RenderShort(ctx, opts); err != nil {
		util.CleanupFiles(opts.Output)
		return "", err
	}
	if err := os.Rename(opts.Output, final); err != nil {
		return "", fmt.Errorf("finalize render: %w", err)
	}

	r.logger.Info().
		Str("clip_id", spec.ClipID).
		Str("brand", preset.Name).
		Str("output", final).
		Msg("clip rendered")
	return final, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
