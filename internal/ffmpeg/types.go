package ffmpeg

import "time"

// VideoInfo is what the pipeline needs to know about a source before analysis.
// Duration is zero when the container does not report one.
type VideoInfo struct {
	FilePath string
	Duration time.Duration
	HasVideo bool
	HasAudio bool
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame      int
	FPS        float64
	Bitrate    string
	Time       string
	Speed      string
	Percentage float64
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}

// ProgressFunc is a callback for progress updates during ffmpeg operations.
type ProgressFunc func(*Progress)

// Default encoding settings for vertical shorts
const (
	DefaultCRF          = 21
	DefaultPreset       = "veryfast"
	DefaultVideoCodec   = "libx264"
	DefaultAudioCodec   = "aac"
	DefaultAudioBitrate = "128k"
	DefaultWidth        = 1080
	DefaultHeight       = 1920
)

// AudioPeak is a local maximum of the audio energy envelope.
// Intensity is linear RMS amplitude in [0,1].
type AudioPeak struct {
	At        float64
	Intensity float64
}

// Watermark is an image composited over a render.
// X and Y are ffmpeg overlay expressions such as "W-w-24".
type Watermark struct {
	Path    string
	X       string
	Y       string
	Opacity float64
}

// ShortOptions configures a vertical short render of one excerpt
type ShortOptions struct {
	Input        string
	Output       string
	Start        time.Duration
	End          time.Duration
	Width        int
	Height       int
	CRF          int
	Preset       string
	AudioBitrate string
	Watermark    *Watermark
	ProgressFunc ProgressFunc
}
