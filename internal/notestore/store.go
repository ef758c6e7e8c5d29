// Package notestore persists the lecture note collection as a single JSON
// file. Writes are atomic (temp file + rename) so a crash mid-write can
// never corrupt the existing file.
package notestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tiroq/lectured/internal/note"
)

// Store is the interface the collection controller persists through.
type Store interface {
	Load() ([]note.LectureNote, error)
	Save(notes []note.LectureNote) error
}

// FileStore keeps the whole collection in one JSON file. There is exactly
// one writer path: read the full list, mutate in memory, write the full
// list back.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path (e.g. <root>/lectures.json).
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the note collection. A missing file is an empty collection,
// not an error.
func (s *FileStore) Load() ([]note.LectureNote, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []note.LectureNote{}, nil
		}
		return nil, fmt.Errorf("read note store: %w", err)
	}

	var notes []note.LectureNote
	if err := json.Unmarshal(data, &notes); err != nil {
		return nil, fmt.Errorf("decode note store: %w", err)
	}

	// Empty transcript strings are normalized to absent on load, so the
	// rest of the system only ever sees the canonical form.
	for i := range notes {
		if !notes[i].HasTranscript() {
			notes[i].TranscriptText = ""
		}
	}
	return notes, nil
}

// Save writes the full collection atomically using temp file + rename.
func (s *FileStore) Save(notes []note.LectureNote) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "lectures-*.tmp")
	if err != nil {
		return fmt.Errorf("create store temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(notes); err != nil {
		return fmt.Errorf("encode note store: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync note store: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close note store temp: %w", err)
	}
	tmpFile = nil // prevent defer cleanup

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename note store: %w", err)
	}
	return nil
}
