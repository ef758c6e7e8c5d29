// Package integration exercises cross-package flows: recording results
// turning into persisted notes, the per-note pipeline writing back through
// the collection, and the file-based control interface.
package integration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tiroq/lectured/internal/collection"
	"github.com/tiroq/lectured/internal/ipc"
	"github.com/tiroq/lectured/internal/notestore"
	"github.com/tiroq/lectured/internal/pipeline"
	"github.com/tiroq/lectured/internal/summary"
	"github.com/tiroq/lectured/testutil"
)

type stubTranscriber struct{ text string }

func (s *stubTranscriber) Transcribe(audioPath string) (string, error) { return s.text, nil }

type stubPlayer struct{}

func (stubPlayer) Play(audioPath string, onFinished func()) error { return nil }
func (stubPlayer) Stop()                                          {}

// TestRecordingBecomesPersistedNote walks a note from creation through edit,
// transcription, and summary, verifying every step survives a store reload.
func TestRecordingBecomesPersistedNote(t *testing.T) {
	dir := t.TempDir()
	notesPath := filepath.Join(dir, "lectures.json")
	audioDir := filepath.Join(dir, "recordings")
	if err := os.MkdirAll(audioDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	store := notestore.NewFileStore(notesPath)
	coll := collection.New(store, audioDir, nil)
	if err := coll.LoadNotes(); err != nil {
		t.Fatalf("LoadNotes: %v", err)
	}

	// A finished recording lands in the audio dir and becomes a note.
	audioPath := filepath.Join(audioDir, "Recording-2026-01-15T10-00-00Z.wav")
	if err := os.WriteFile(audioPath, []byte("RIFFfake"), 0644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	created, err := coll.AddNote(audioPath, "")
	if err != nil {
		t.Fatalf("AddNote: %v", err)
	}

	// Open the note in the pipeline and run it through its workflows.
	pipe := pipeline.New(pipeline.Config{
		Note:          created,
		AudioPath:     coll.AbsoluteAudioPath(created),
		Transcriber:   &stubTranscriber{text: "The lecture covered sorting. Quicksort was compared to mergesort."},
		Summarizer:    summary.NewHeuristic(),
		Player:        stubPlayer{},
		Persist:       coll.Persist,
		AutosaveDelay: 30 * time.Millisecond,
	})
	defer pipe.Close()

	pipe.UpdateTitle("Algorithms, week 3")
	pipe.Transcribe()
	testutil.AssertEventually(t, func() bool {
		st := pipe.State()
		return !st.IsTranscribing && st.TranscriptText != ""
	}, 2*time.Second, 10*time.Millisecond, "transcription never completed")

	pipe.GenerateSummary()
	testutil.AssertEventually(t, func() bool {
		st := pipe.State()
		return !st.IsSummarizing && st.Summary != nil
	}, 2*time.Second, 10*time.Millisecond, "summary never completed")

	pipe.Close()

	// Everything must survive a cold reload from disk.
	reloaded, err := notestore.NewFileStore(notesPath).Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded) != 1 {
		t.Fatalf("expected 1 persisted note, got %d", len(reloaded))
	}
	got := reloaded[0]
	if got.ID != created.ID {
		t.Errorf("note identity changed across persist")
	}
	if got.Title != "Algorithms, week 3" {
		t.Errorf("title = %q", got.Title)
	}
	if got.TranscriptText == "" {
		t.Error("transcript was not persisted")
	}
}

// TestDeleteRemovesNoteAndAudio verifies the collection removes both the
// entry and its recording file.
func TestDeleteRemovesNoteAndAudio(t *testing.T) {
	dir := t.TempDir()
	audioDir := filepath.Join(dir, "recordings")
	if err := os.MkdirAll(audioDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	store := notestore.NewFileStore(filepath.Join(dir, "lectures.json"))
	coll := collection.New(store, audioDir, nil)
	if err := coll.LoadNotes(); err != nil {
		t.Fatalf("LoadNotes: %v", err)
	}

	audioPath := filepath.Join(audioDir, "Recording-2026-01-16T09-00-00Z.wav")
	if err := os.WriteFile(audioPath, []byte("RIFFfake"), 0644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	created, err := coll.AddNote(audioPath, "partial transcript")
	if err != nil {
		t.Fatalf("AddNote: %v", err)
	}

	if err := coll.DeleteNotes([]uuid.UUID{created.ID}); err != nil {
		t.Fatalf("DeleteNotes: %v", err)
	}
	if len(coll.Notes()) != 0 {
		t.Errorf("note still listed after delete")
	}
	if _, err := os.Stat(audioPath); !os.IsNotExist(err) {
		t.Error("audio file still exists after delete")
	}
}

// TestControlFileRoundTrip drives the daemon-facing command and status files
// the way lecturedctl does.
func TestControlFileRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := ipc.WriteCommand(ipc.CmdToggle); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	cmd, err := ipc.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd != ipc.CmdToggle {
		t.Errorf("command = %q", cmd)
	}

	// The daemon answers with a status snapshot.
	snap := &ipc.StatusSnapshot{
		Recording:  true,
		NoteCount:  3,
		LastAction: "recording_started",
		Timestamp:  time.Now(),
	}
	if err := ipc.WriteStatus(snap); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	got, err := ipc.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if !got.Recording || got.NoteCount != 3 {
		t.Errorf("status round trip lost fields: %+v", got)
	}

	// A second read sees no pending command.
	cmd, err = ipc.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd != "" {
		t.Errorf("command not cleared: %q", cmd)
	}
}
