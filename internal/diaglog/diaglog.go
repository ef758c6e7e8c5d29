// Package diaglog provides structured NDJSON diagnostic logging for
// lectured. Activated by LECTURED_DEBUG=true. When the env var is absent,
// all Log calls are no-ops and no file is created.
package diaglog

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// ── Component labels ─────────────────────────────────────────────────────────

const (
	ComponentCaptureSession = "capture-session"
	ComponentLevelMeter     = "level-meter"
	ComponentPipeline       = "pipeline"
	ComponentCollection     = "collection"
	ComponentNoteStore      = "note-store"
	ComponentTranscriber    = "transcriber"
	ComponentStateFeed      = "state-feed"
	ComponentPlayback       = "playback"
	ComponentCore           = "lectured-core"
)

// ── Event names ──────────────────────────────────────────────────────────────

const (
	EventRecordingStart       = "recording_start"
	EventRecordingStop        = "recording_stop"
	EventRecordingInterrupted = "recording_interrupted"
	EventAutosaveArmed        = "autosave_armed"
	EventAutosaveFired        = "autosave_fired"
	EventTranscribeStart      = "transcribe_start"
	EventTranscribeDone       = "transcribe_done"
	EventTranscribeFailed     = "transcribe_failed"
	EventTranscribeRetry      = "transcribe_retry"
	EventSummaryStart         = "summary_start"
	EventSummaryDone          = "summary_done"
	EventExportPDF            = "export_pdf"
	EventStoreLoad            = "store_load"
	EventStoreSave            = "store_save"
	EventStoreExternalChange  = "store_external_change"
	EventPlaybackStart        = "playback_start"
	EventPlaybackStop         = "playback_stop"
	EventPlaybackFinished     = "playback_finished"
	EventFeedClientConnect    = "feed_client_connect"
	EventFeedClientGone       = "feed_client_gone"
	EventNoteDeleted          = "note_deleted"
)

// ── LogEntry ─────────────────────────────────────────────────────────────────

// LogEntry is one structured event record written as a single JSON line.
type LogEntry struct {
	Timestamp string      `json:"ts"`                   // RFC3339Nano
	Component string      `json:"component"`            // see Component* constants
	Event     string      `json:"event"`                // see Event* constants
	SessionID string      `json:"session_id,omitempty"` // capture session UUID
	NoteID    string      `json:"note_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Payload   interface{} `json:"payload,omitempty"` // redacted before write
}

// ── Logger ───────────────────────────────────────────────────────────────────

// Logger writes LogEntry values to a rolling NDJSON file. When debug mode is
// disabled every Log call is a no-op.
type Logger struct {
	rw      *rollingWriter
	mu      sync.Mutex
	enabled bool
}

// New opens (or creates) the NDJSON log file at path. If debug mode is
// disabled, path is ignored and a no-op logger is returned.
func New(path string) (*Logger, error) {
	if !IsDebugEnabled() {
		return &Logger{enabled: false}, nil
	}
	rw, err := newRollingWriter(path, 10*1024*1024)
	if err != nil {
		return nil, err
	}
	return &Logger{rw: rw, enabled: true}, nil
}

// Log serialises entry to JSON, appends a newline, and writes to the rolling
// file. Sensitive payload fields are redacted before serialisation.
func (l *Logger) Log(entry LogEntry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Payload != nil {
		entry.Payload = Redact(entry.Payload)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.rw.Write(data)
}

// Close flushes and closes the underlying file. Safe on nil/disabled logger.
func (l *Logger) Close() error {
	if l == nil || !l.enabled || l.rw == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rw.close()
}

// IsDebugEnabled reports whether LECTURED_DEBUG is set to "true".
func IsDebugEnabled() bool {
	return os.Getenv("LECTURED_DEBUG") == "true"
}

// NewNoOp returns a logger where every Log call is a no-op. Use as a safe
// fallback when New fails (e.g., disk full, permissions error).
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}
