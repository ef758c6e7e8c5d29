// Package collection owns the in-memory lecture note list: loading,
// search/filter views, and bulk persistence through the note store.
package collection

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tiroq/lectured/internal/diaglog"
	"github.com/tiroq/lectured/internal/fileutil"
	"github.com/tiroq/lectured/internal/note"
	"github.com/tiroq/lectured/internal/notestore"
)

// Controller is the single owner of the canonical note list. All mutations
// run through it and every list mutation is followed by a full-collection
// persist attempt.
type Controller struct {
	store    notestore.Store
	audioDir string
	logger   *diaglog.Logger

	mu        sync.Mutex
	notes     []note.LectureNote
	filter    note.Filter
	lastError string

	onChange func()

	// now is injectable for tests.
	now func() time.Time
}

// New creates a controller persisting through store; audio files live under
// audioDir and note records reference them relative to it.
func New(store notestore.Store, audioDir string, logger *diaglog.Logger) *Controller {
	return &Controller{
		store:    store,
		audioDir: audioDir,
		logger:   logger,
		now:      time.Now,
	}
}

// OnChange registers a callback invoked after every collection mutation.
// Used by the state feed; must not call back into the controller.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// LoadNotes loads all notes from the store, sorted newest-first. A load
// failure leaves an empty collection and a surfaced error: the app stays
// usable with zero notes rather than crashing.
func (c *Controller) LoadNotes() error {
	loaded, err := c.store.Load()

	c.mu.Lock()
	if err != nil {
		c.notes = []note.LectureNote{}
		c.lastError = fmt.Sprintf("Failed to load notes: %v", err)
	} else {
		note.SortByDateDesc(loaded)
		c.notes = loaded
		c.lastError = ""
	}
	count := len(c.notes)
	c.mu.Unlock()

	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCollection,
		Event:     diaglog.EventStoreLoad,
		Payload:   map[string]interface{}{"count": count, "error": errString(err)},
	})

	c.notifyChange()
	return err
}

// AddNote creates a note for a finished recording and persists the
// collection. audioPath may be absolute; it is stored relative to the
// audio root.
func (c *Controller) AddNote(audioPath, transcriptText string) (note.LectureNote, error) {
	n := note.New(fileutil.RelativeToRoot(c.audioDir, audioPath), transcriptText, c.now())

	c.mu.Lock()
	c.notes = append([]note.LectureNote{n}, c.notes...)
	note.SortByDateDesc(c.notes)
	c.mu.Unlock()

	err := c.persistAll()
	c.notifyChange()
	if err != nil {
		return n, err
	}
	return n, nil
}

// ApplyUpdated replaces the note with a matching id, or inserts it when
// absent, then re-sorts. This is how pipeline edits flow back.
func (c *Controller) ApplyUpdated(updated note.LectureNote) {
	c.mu.Lock()
	c.applyUpdatedLocked(updated)
	c.mu.Unlock()
	c.notifyChange()
}

func (c *Controller) applyUpdatedLocked(updated note.LectureNote) {
	replaced := false
	for i := range c.notes {
		if c.notes[i].ID == updated.ID {
			c.notes[i] = updated
			replaced = true
			break
		}
	}
	if !replaced {
		c.notes = append([]note.LectureNote{updated}, c.notes...)
	}
	note.SortByDateDesc(c.notes)
}

// Persist applies the updated note and writes the full collection. On
// failure the in-memory change is kept and the error surfaced: a repeat
// edit or retry will attempt the save again.
func (c *Controller) Persist(updated note.LectureNote) error {
	c.mu.Lock()
	c.applyUpdatedLocked(updated)
	c.mu.Unlock()

	err := c.persistAll()
	c.notifyChange()
	return err
}

// DeleteNotes removes each identified note and its audio file (best
// effort), then persists the remaining collection.
func (c *Controller) DeleteNotes(ids []uuid.UUID) error {
	doomed := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}

	c.mu.Lock()
	kept := c.notes[:0]
	var removed []note.LectureNote
	for _, n := range c.notes {
		if doomed[n.ID] {
			removed = append(removed, n)
		} else {
			kept = append(kept, n)
		}
	}
	c.notes = kept
	c.mu.Unlock()

	// Audio removal is best-effort: a missing or locked file never blocks
	// removal of the note itself.
	for _, n := range removed {
		_ = os.Remove(filepath.Join(c.audioDir, n.AudioFilePath))
		c.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentCollection,
			Event:     diaglog.EventNoteDeleted,
			NoteID:    n.ID.String(),
		})
	}

	err := c.persistAll()
	c.notifyChange()
	return err
}

// Notes returns a snapshot of the full collection, newest-first.
func (c *Controller) Notes() []note.LectureNote {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]note.LectureNote, len(c.notes))
	copy(out, c.notes)
	return out
}

// Get returns the note with the given id.
func (c *Controller) Get(id uuid.UUID) (note.LectureNote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.notes {
		if n.ID == id {
			return n, true
		}
	}
	return note.LectureNote{}, false
}

// SetFilter updates the list-view filter criteria.
func (c *Controller) SetFilter(f note.Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
	c.notifyChange()
}

// FilteredNotes recomputes the filtered view on read: a case-insensitive
// title substring match AND an optional has-transcript requirement.
func (c *Controller) FilteredNotes() []note.LectureNote {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]note.LectureNote, 0, len(c.notes))
	for _, n := range c.notes {
		if c.filter.Matches(n) {
			out = append(out, n)
		}
	}
	return out
}

// LastError returns the most recent surfaced load/save error, empty when
// the last operation succeeded.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// AudioDir returns the audio root notes reference their recordings against.
func (c *Controller) AudioDir() string {
	return c.audioDir
}

// AbsoluteAudioPath resolves a note's relative audio path.
func (c *Controller) AbsoluteAudioPath(n note.LectureNote) string {
	return filepath.Join(c.audioDir, n.AudioFilePath)
}

// persistAll writes the full collection back to the store.
func (c *Controller) persistAll() error {
	c.mu.Lock()
	snapshot := make([]note.LectureNote, len(c.notes))
	copy(snapshot, c.notes)
	c.mu.Unlock()

	err := c.store.Save(snapshot)

	c.mu.Lock()
	if err != nil {
		c.lastError = fmt.Sprintf("Failed to save notes: %v", err)
	} else {
		c.lastError = ""
	}
	c.mu.Unlock()

	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCollection,
		Event:     diaglog.EventStoreSave,
		Payload:   map[string]interface{}{"count": len(snapshot), "error": errString(err)},
	})
	return err
}

func (c *Controller) notifyChange() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
