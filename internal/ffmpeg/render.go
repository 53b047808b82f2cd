package ffmpeg

import (
	"context"
	"fmt"

	"github.com/keagan/clipcannon/pkg/util"
)

// RenderShort cuts [Start, End) from the input and renders it as a vertical short:
// cover-scaled and center-cropped, loudness normalized, optionally watermarked.
func (e *Executor) RenderShort(ctx context.Context, opts ShortOptions) error {
	args, err := buildShortArgs(opts)
	if err != nil {
		return fmt.Errorf("invalid render options: %w", err)
	}

	e.logger.Info().
		Str("input", opts.Input).
		Str("output", opts.Output).
		Dur("start", opts.Start).
		Dur("end", opts.End).
		Bool("watermark", opts.Watermark != nil).
		Msg("rendering short")

	runOpts := RunOptions{
		Args:            args,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("render output")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	e.logger.Info().Str("output", opts.Output).Msg("render completed")
	return nil
}

func buildShortArgs(opts ShortOptions) ([]string, error) {
	if opts.Input == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if opts.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	duration := opts.End - opts.Start
	if opts.Start < 0 || duration <= 0 {
		return nil, fmt.Errorf("invalid excerpt: end must be after start")
	}
	if opts.CRF < 0 || opts.CRF > 51 {
		return nil, fmt.Errorf("CRF must be between 0 and 51")
	}

	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	crf := opts.CRF
	if crf == 0 {
		crf = DefaultCRF
	}
	preset := opts.Preset
	if preset == "" {
		preset = DefaultPreset
	}
	audioBitrate := opts.AudioBitrate
	if audioBitrate == "" {
		audioBitrate = DefaultAudioBitrate
	}

	args := []string{
		"-ss", util.FormatDuration(opts.Start),
		"-t", util.FormatDuration(duration),
		"-i", opts.Input,
	}

	video := NewFilterBuilder().ScaleToCover(width, height).CenterCrop(width, height).Build()
	audio := NewFilterBuilder().Loudnorm().Build()

	if wm := opts.Watermark; wm != nil && wm.Path != "" {
		x, y := wm.X, wm.Y
		if x == "" {
			x = "W-w-24"
		}
		if y == "" {
			y = "24"
		}
		logo := "[1:v]format=rgba"
		if wm.Opacity > 0 && wm.Opacity < 1 {
			logo += fmt.Sprintf(",colorchannelmixer=aa=%.2f", wm.Opacity)
		}
		graph := fmt.Sprintf("[0:v]%s[base];%s[logo];[base][logo]overlay=%s:%s[v]", video, logo, x, y)
		args = append(args,
			"-i", wm.Path,
			"-filter_complex", graph,
			"-map", "[v]",
			"-map", "0:a?",
		)
	} else {
		args = append(args, "-vf", video)
	}

	args = append(args,
		"-af", audio,
		"-c:v", DefaultVideoCodec,
		"-preset", preset,
		"-crf", fmt.Sprintf("%d", crf),
		"-pix_fmt", "yuv420p",
		"-c:a", DefaultAudioCodec,
		"-b:a", audioBitrate,
		"-movflags", "+faststart",
		opts.Output,
	)
	return args, nil
}
