package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DetectScenes finds scene changes in video using ffmpeg scene detection
func (e *Executor) DetectScenes(ctx context.Context, input string, threshold float64) ([]time.Duration, error) {
	e.logger.Info().
		Str("input", input).
		Float64("threshold", threshold).
		Msg("detecting scene changes")

	output, err := e.analyze(ctx, "scene detection", []string{
		"-i", input,
		"-an",
		"-vf", fmt.Sprintf("select='gt(scene,%f)',showinfo", threshold),
		"-f", "null",
		"-",
	})
	if err != nil {
		return nil, err
	}

	scenes := parseSceneOutput(output)
	e.logger.Info().Int("scenes", len(scenes)).Msg("scene detection complete")
	return scenes, nil
}

// analyze runs an ffmpeg pass into the null muxer and returns everything it logged.
// The null muxer's own complaints are not failures.
func (e *Executor) analyze(ctx context.Context, name string, args []string) (string, error) {
	var stderrBuf bytes.Buffer
	var mu sync.Mutex

	opts := RunOptions{
		Args: args,
		LogHandler: func(line string) {
			mu.Lock()
			stderrBuf.WriteString(line + "\n")
			mu.Unlock()
		},
	}

	err := e.Run(ctx, opts)

	mu.Lock()
	output := stderrBuf.String()
	mu.Unlock()

	e.logger.Debug().Str("pass", name).Int("bytes", len(output)).Msg("analysis output captured")

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !strings.Contains(err.Error(), "Conversion failed") &&
			!strings.Contains(err.Error(), "Invalid return value") &&
			!strings.Contains(err.Error(), "Output file is empty") {
			return "", fmt.Errorf("%s failed: %w", name, err)
		}
	}
	return output, nil
}

// parseSceneOutput extracts scene change timestamps from ffmpeg output
func parseSceneOutput(output string) []time.Duration {
	var scenes []time.Duration

	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "showinfo") || !strings.Contains(line, "pts_time:") {
			continue
		}
		if seconds, ok := ptsTime(line); ok {
			scenes = append(scenes, time.Duration(seconds*float64(time.Second)))
		}
	}

	return scenes
}

func ptsTime(line string) (float64, bool) {
	parts := strings.SplitN(line, "pts_time:", 2)
	if len(parts) != 2 {
		return 0, false
	}
	fields := strings.Fields(strings.TrimSpace(parts[1]))
	if len(fields) == 0 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return seconds, true
}
