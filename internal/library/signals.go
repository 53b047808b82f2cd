package library

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keagan/clipcannon/internal/ffmpeg"
	"github.com/keagan/clipcannon/internal/pipeline"
	"github.com/keagan/clipcannon/internal/signals"
	"github.com/rs/zerolog"
)

// Analyzer runs the media passes
type Analyzer interface {
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	DetectScenes(ctx context.Context, input string, threshold float64) ([]time.Duration, error)
	DetectAudioPeaks(ctx context.Context, input string, window float64) ([]ffmpeg.AudioPeak, error)
}

// MediaSignals collects scene cuts, audio peaks and the transcript concurrently.
// A failing analyzer contributes an empty stream; normalization reports the gap.
// Sources the probe reports as silent skip the energy pass.
type MediaSignals struct {
	logger         zerolog.Logger
	analyzer       Analyzer
	sceneThreshold float64
	peakWindow     float64
}

func NewMediaSignals(logger zerolog.Logger, analyzer Analyzer, sceneThreshold, peakWindow float64) *MediaSignals {
	return &MediaSignals{
		logger:         logger.With().Str("component", "signal-collector").Logger(),
		analyzer:       analyzer,
		sceneThreshold: sceneThreshold,
		peakWindow:     peakWindow,
	}
}

var _ pipeline.SignalSource = (*MediaSignals)(nil)

// Collect runs every analyzer for the video.
func (m *MediaSignals) Collect(ctx context.Context, video pipeline.SourceVideo) (signals.Raw, error) {
	if video.MediaPath == "" && video.TranscriptPath == "" {
		return signals.Raw{}, fmt.Errorf("video %s has neither media nor transcript", video.ID)
	}

	log := m.logger.With().Str("video_id", video.ID).Logger()
	var raw signals.Raw
	var wg sync.WaitGroup

	media := video.MediaPath != "" && m.analyzer != nil
	hasAudio := media
	if media {
		if info, err := m.analyzer.ProbeVideo(ctx, video.MediaPath); err != nil {
			log.Warn().Err(err).Msg("probe failed, running every pass")
		} else if !info.HasAudio {
			log.Info().Msg("source has no audio track, skipping energy pass")
			hasAudio = false
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			cuts, err := m.analyzer.DetectScenes(ctx, video.MediaPath, m.sceneThreshold)
			if err != nil {
				log.Warn().Err(err).Msg("scene detection failed")
				return
			}
			raw.Scenes = make([]signals.SceneCut, len(cuts))
			for i, d := range cuts {
				raw.Scenes[i] = signals.SceneCut{At: d.Seconds()}
			}
		}()
	}

	if hasAudio {
		wg.Add(1)
		go func() {
			defer wg.Done()
			peaks, err := m.analyzer.DetectAudioPeaks(ctx, video.MediaPath, m.peakWindow)
			if err != nil {
				log.Warn().Err(err).Msg("audio energy analysis failed")
				return
			}
			raw.Peaks = make([]signals.Peak, len(peaks))
			for i, p := range peaks {
				raw.Peaks[i] = signals.Peak{At: p.At, Intensity: p.Intensity}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		segments, err := signals.LoadTranscript(video.TranscriptPath)
		if err != nil {
			log.Warn().Err(err).Msg("transcript unavailable")
			return
		}
		raw.Segments = segments
	}()

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return signals.Raw{}, err
	}

	log.Info().
		Int("scenes", len(raw.Scenes)).
		Int("segments", len(raw.Segments)).
		Int("peaks", len(raw.Peaks)).
		Msg("signals collected")
	return raw, nil
}
