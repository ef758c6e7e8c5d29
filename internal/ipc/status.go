// Package ipc carries commands and status between lectured-core and its
// control clients through files in ~/.cache/lectured. Writes are atomic so
// readers never observe a torn snapshot.
package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// StatusSnapshot represents the daemon state at a point in time.
type StatusSnapshot struct {
	Recording      bool      `json:"recording"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	InputLevel     float64   `json:"input_level"` // smoothed, [0,1]
	NoteCount      int       `json:"note_count"`
	OpenNoteID     string    `json:"open_note_id,omitempty"`
	Transcribing   bool      `json:"transcribing"`
	Summarizing    bool      `json:"summarizing"`
	LastAction     string    `json:"last_action"`
	LastError      string    `json:"last_error"`
	Timestamp      time.Time `json:"timestamp"`
}

// WriteStatus persists the snapshot to ~/.cache/lectured/status.json using
// an atomic write.
func WriteStatus(status *StatusSnapshot) error {
	cacheDir := filepath.Join(os.Getenv("HOME"), ".cache", "lectured")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}
	return atomicWriteJSON(filepath.Join(cacheDir, "status.json"), status)
}

// StatusPath returns the status snapshot file location.
func StatusPath() string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "lectured", "status.json")
}

// ReadStatus loads the most recent snapshot.
func ReadStatus() (*StatusSnapshot, error) {
	data, err := os.ReadFile(StatusPath())
	if err != nil {
		return nil, err
	}

	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// atomicWriteJSON writes data to a file atomically using temp file + rename.
func atomicWriteJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}

	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil // Prevent defer cleanup

	return os.Rename(tmpPath, path)
}
