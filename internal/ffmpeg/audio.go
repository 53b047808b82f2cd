package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultPeakWindow is the length of one energy sample, in seconds.
const DefaultPeakWindow = 0.5

const peakSampleRate = 16000

// DetectAudioPeaks measures RMS energy over fixed windows and returns the local maxima
// of the envelope. Silence (-inf dB) has zero intensity and never peaks.
func (e *Executor) DetectAudioPeaks(ctx context.Context, input string, window float64) ([]AudioPeak, error) {
	if window <= 0 {
		window = DefaultPeakWindow
	}
	e.logger.Info().
		Str("input", input).
		Float64("window", window).
		Msg("measuring audio energy")

	samples := int(math.Round(window * peakSampleRate))
	output, err := e.analyze(ctx, "audio energy", []string{
		"-i", input,
		"-vn",
		"-af", fmt.Sprintf(
			"aresample=%d,asetnsamples=n=%d:p=0,astats=metadata=1:reset=1,ametadata=print:key=lavfi.astats.Overall.RMS_level",
			peakSampleRate, samples),
		"-f", "null",
		"-",
	})
	if err != nil {
		return nil, err
	}

	envelope := parseEnergyOutput(output)
	peaks := pickPeaks(envelope)
	e.logger.Info().Int("samples", len(envelope)).Int("peaks", len(peaks)).Msg("audio energy complete")
	return peaks, nil
}

// parseEnergyOutput pairs each ametadata pts_time line with the RMS level that follows it.
func parseEnergyOutput(output string) []AudioPeak {
	var envelope []AudioPeak
	at := -1.0

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "pts_time:") && !strings.Contains(line, "showinfo") {
			if seconds, ok := ptsTime(line); ok {
				at = seconds
			}
			continue
		}
		idx := strings.Index(line, "RMS_level=")
		if idx < 0 || at < 0 {
			continue
		}
		value := strings.TrimSpace(line[idx+len("RMS_level="):])
		envelope = append(envelope, AudioPeak{At: at, Intensity: dbToLinear(value)})
		at = -1
	}
	return envelope
}

func dbToLinear(value string) float64 {
	db, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsInf(db, -1) || math.IsNaN(db) {
		return 0
	}
	return math.Min(1, math.Pow(10, db/20))
}

// pickPeaks keeps samples louder than the previous one and at least as loud as the next.
func pickPeaks(envelope []AudioPeak) []AudioPeak {
	var peaks []AudioPeak
	for i, s := range envelope {
		if s.Intensity <= 0 {
			continue
		}
		if i > 0 && envelope[i-1].Intensity >= s.Intensity {
			continue
		}
		if i+1 < len(envelope) && envelope[i+1].Intensity > s.Intensity {
			continue
		}
		peaks = append(peaks, s)
	}
	return peaks
}
