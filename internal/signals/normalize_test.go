package signals

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSortsAndCollapses(t *testing.T) {
	raw := Raw{
		Scenes: []SceneCut{{At: 12.0}, {At: 3.0}, {At: 3.1}, {At: -1}, {At: 12.2}, {At: 40}},
		Segments: []Segment{
			{Start: 10, End: 14, Text: " second "},
			{Start: 0, End: 4, Text: "first"},
			{Start: 0.1, End: 5, Text: "first"},
			{Start: 20, End: 20, Text: "zero length"},
		},
		Peaks: []Peak{{At: 5, Intensity: 0.2}, {At: 1, Intensity: 0.5}, {At: 1.2, Intensity: 0.9}, {At: 7, Intensity: -1}},
	}

	norm, err := Normalize(raw, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []SceneCut{{At: 3.0}, {At: 12.0}, {At: 40}}, norm.Scenes)
	assert.Equal(t, []Segment{
		{Start: 0, End: 5, Text: "first"},
		{Start: 10, End: 14, Text: "second"},
	}, norm.Segments)
	assert.Equal(t, []Peak{{At: 1, Intensity: 0.9}, {At: 5, Intensity: 0.2}}, norm.Peaks)
	assert.False(t, norm.Quality.Degraded())
	assert.Equal(t, "full", norm.Quality.String())
}

func TestNormalizeDegradedModes(t *testing.T) {
	tests := []struct {
		name    string
		raw     Raw
		quality string
	}{
		{
			name:    "transcript only",
			raw:     Raw{Segments: []Segment{{Start: 0, End: 3, Text: "hi"}}, Peaks: []Peak{{At: 1, Intensity: 1}}},
			quality: "transcript_only",
		},
		{
			name:    "scene only",
			raw:     Raw{Scenes: []SceneCut{{At: 2}}, Peaks: []Peak{{At: 1, Intensity: 1}}},
			quality: "scene_only",
		},
		{
			name:    "no audio",
			raw:     Raw{Scenes: []SceneCut{{At: 2}}, Segments: []Segment{{Start: 0, End: 3, Text: "hi"}}},
			quality: "no_audio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			norm, err := Normalize(tt.raw, DefaultOptions())
			require.NoError(t, err)
			assert.True(t, norm.Quality.Degraded())
			assert.Equal(t, tt.quality, norm.Quality.String())
		})
	}
}

func TestNormalizeSignalGap(t *testing.T) {
	t.Run("no boundary streams", func(t *testing.T) {
		_, err := Normalize(Raw{Peaks: []Peak{{At: 1, Intensity: 1}}}, DefaultOptions())
		var gap *SignalGapError
		require.True(t, errors.As(err, &gap))
		assert.Equal(t, []string{StreamScenes, StreamTranscript}, gap.Missing)
	})

	t.Run("strict mode", func(t *testing.T) {
		opts := DefaultOptions()
		opts.AllowDegraded = false
		_, err := Normalize(Raw{Scenes: []SceneCut{{At: 2}}}, opts)
		var gap *SignalGapError
		require.True(t, errors.As(err, &gap))
		assert.Equal(t, []string{StreamTranscript, StreamAudio}, gap.Missing)
	})
}

func TestParseTranscript(t *testing.T) {
	data := []byte(`{"text":"hello world","segments":[{"start":0.0,"end":1.5,"text":" hello"},{"start":1.5,"end":1.0,"text":"world"}]}`)
	segs, err := ParseTranscript(data)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, 1.5, segs[1].End)

	_, err = ParseTranscript([]byte("not json"))
	assert.Error(t, err)

	segs, err = LoadTranscript("")
	assert.NoError(t, err)
	assert.Nil(t, segs)
}
