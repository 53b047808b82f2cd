package signals

import (
	"encoding/json"
	"fmt"
	"os"
)

// whisperTranscript matches the Whisper / WhisperX JSON output structure
type whisperTranscript struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// LoadTranscript reads transcript segments from a Whisper-style JSON file.
// A missing file yields no segments so the caller can degrade to scene-only fusion.
func LoadTranscript(path string) ([]Segment, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript %s: %w", path, err)
	}

	return ParseTranscript(data)
}

// ParseTranscript decodes Whisper-style JSON into segments.
func ParseTranscript(data []byte) ([]Segment, error) {
	var tr whisperTranscript
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse transcript: %w", err)
	}

	segments := make([]Segment, 0, len(tr.Segments))
	for _, s := range tr.Segments {
		end := s.End
		if end < s.Start {
			end = s.Start
		}
		segments = append(segments, Segment{Start: s.Start, End: end, Text: s.Text})
	}
	return segments, nil
}
