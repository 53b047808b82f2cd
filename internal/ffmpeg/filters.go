package ffmpeg

import (
	"fmt"
	"strings"
)

// FilterBuilder builds the comma-joined filter chains of a short render
type FilterBuilder struct {
	filters []string
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make([]string, 0),
	}
}

// ScaleToCover scales so the frame covers width×height, keeping aspect ratio
func (fb *FilterBuilder) ScaleToCover(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", width, height))
	return fb
}

// CenterCrop crops to width×height around the frame center
func (fb *FilterBuilder) CenterCrop(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("crop=%d:%d", width, height))
	return fb
}

// Loudnorm adds EBU R128 loudness normalization
func (fb *FilterBuilder) Loudnorm() *FilterBuilder {
	fb.filters = append(fb.filters, "loudnorm=I=-16:TP=-1.5:LRA=11")
	return fb
}

// Build returns the complete filter string joined with commas
func (fb *FilterBuilder) Build() string {
	if len(fb.filters) == 0 {
		return ""
	}
	return strings.Join(fb.filters, ",")
}
