// Package transcribe defines the speech-to-text provider interface and the
// backend registry used by the lecture pipeline.
package transcribe

import (
	"errors"
	"strings"
	"time"
)

// Typed failures surfaced to the pipeline. Backends wrap their own causes;
// callers match with errors.Is.
var (
	ErrPermissionDenied      = errors.New("speech recognition permission denied")
	ErrRecognizerUnavailable = errors.New("speech recognizer unavailable")
	ErrEmptyResult           = errors.New("transcription produced no text")
)

// Provider converts a finished audio recording into text. This is the
// narrow interface the pipeline consumes; Registry implements it.
type Provider interface {
	Transcribe(audioPath string) (string, error)
}

// Segment is a single transcribed span with timing.
type Segment struct {
	Start    time.Duration
	End      time.Duration
	Text     string
	Language string
	Score    float64 // confidence 0.0–1.0
}

// Transcript is a complete transcription result.
type Transcript struct {
	Segments []Segment
	Language string
	Duration time.Duration
	Model    string
	Backend  string
}

// FullText joins all segment texts into the flat transcript string stored
// on a note.
func (t *Transcript) FullText() string {
	parts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		if s := strings.TrimSpace(seg.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Options configures a transcription request.
type Options struct {
	Language   string // "" = auto-detect
	Model      string // backend-specific model name
	Timestamps bool
}

// HealthStatus reports backend health.
type HealthStatus struct {
	OK      bool
	Backend string
	Message string
	Latency time.Duration
}

// Backend is the interface speech-to-text backends implement.
type Backend interface {
	Name() string
	TranscribeFile(filePath string, opts Options) (*Transcript, error)
	HealthCheck() (*HealthStatus, error)
}
