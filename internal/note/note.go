// Package note defines the lecture note model shared by the store,
// collection, and pipeline packages.
package note

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LectureNote is one recorded lecture: a title, a creation timestamp, a
// reference to the audio file (relative to the audio root), and an optional
// transcript. ID and Date are immutable after creation.
type LectureNote struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	Date           time.Time `json:"date"`
	AudioFilePath  string    `json:"audioFilePath"`
	TranscriptText string    `json:"transcriptText,omitempty"`
}

// New creates a note for a finished recording. The title defaults to
// "Lecture – <date>"; transcript may be empty.
func New(audioFilePath, transcriptText string, now time.Time) LectureNote {
	return LectureNote{
		ID:             uuid.New(),
		Title:          "Lecture – " + now.Format("Jan 2, 2006"),
		Date:           now,
		AudioFilePath:  audioFilePath,
		TranscriptText: transcriptText,
	}
}

// HasTranscript reports whether the note carries a non-empty transcript.
// An empty transcript string means "absent".
func (n LectureNote) HasTranscript() bool {
	return strings.TrimSpace(n.TranscriptText) != ""
}

// SortByDateDesc sorts notes newest-first in place. Display order never
// depends on insertion order.
func SortByDateDesc(notes []LectureNote) {
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].Date.After(notes[j].Date)
	})
}

// Filter holds the list-view filter criteria. Zero value matches everything.
type Filter struct {
	Query              string // case-insensitive substring match on title
	OnlyWithTranscript bool
}

// Matches reports whether the note passes both filter criteria (AND).
func (f Filter) Matches(n LectureNote) bool {
	if f.OnlyWithTranscript && !n.HasTranscript() {
		return false
	}
	if f.Query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(n.Title), strings.ToLower(f.Query))
}
