// Package pipeline orchestrates a single open lecture note: edits with
// debounced autosave, transcription, summary generation, playback, and
// export. It holds a working copy of the note and reports changes back
// through a persist callback; it never owns the canonical list.
package pipeline

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/lectured/internal/diaglog"
	"github.com/tiroq/lectured/internal/export"
	"github.com/tiroq/lectured/internal/note"
	"github.com/tiroq/lectured/internal/playback"
	"github.com/tiroq/lectured/internal/summary"
	"github.com/tiroq/lectured/internal/transcribe"
)

// DefaultAutosaveDelay is the debounce window for edit autosaves: only the
// last edit inside the window is persisted.
const DefaultAutosaveDelay = 500 * time.Millisecond

// Precondition failures, checked locally before any provider call.
var (
	ErrEmptyTranscript  = errors.New("transcript is empty")
	ErrAudioFileMissing = errors.New("audio file is missing")
)

// PersistFunc writes the updated note back through the hosting collection
// controller.
type PersistFunc func(note.LectureNote) error

// State is a snapshot of the controller's UI-facing fields.
type State struct {
	Note           note.LectureNote
	TitleText      string
	TranscriptText string
	Summary        *summary.Result
	IsTranscribing bool
	IsSummarizing  bool
	IsExporting    bool
	IsPlaying      bool
	ErrorMessage   string
	LastExportPath string
}

// Controller drives the per-note workflows. All state mutations are
// serialized by the controller's mutex; background work reports back by
// re-entering through it.
type Controller struct {
	transcriber transcribe.Provider
	summarizer  summary.Provider
	exporter    export.Provider
	player      playback.Provider
	persist     PersistFunc
	logger      *diaglog.Logger

	audioPath     string // absolute path to the note's recording
	autosaveDelay time.Duration

	mu            sync.Mutex
	state         State
	autosaveTimer *time.Timer
	onChange      func(State)
}

// Config wires a Controller's collaborators.
type Config struct {
	Note          note.LectureNote
	AudioPath     string // absolute path to the note's recording
	Transcriber   transcribe.Provider
	Summarizer    summary.Provider
	Exporter      export.Provider
	Player        playback.Provider
	Persist       PersistFunc
	Logger        *diaglog.Logger
	AutosaveDelay time.Duration // 0 = DefaultAutosaveDelay
}

// New opens a note in the pipeline.
func New(cfg Config) *Controller {
	if cfg.AutosaveDelay <= 0 {
		cfg.AutosaveDelay = DefaultAutosaveDelay
	}
	return &Controller{
		transcriber:   cfg.Transcriber,
		summarizer:    cfg.Summarizer,
		exporter:      cfg.Exporter,
		player:        cfg.Player,
		persist:       cfg.Persist,
		logger:        cfg.Logger,
		audioPath:     cfg.AudioPath,
		autosaveDelay: cfg.AutosaveDelay,
		state: State{
			Note:           cfg.Note,
			TitleText:      cfg.Note.Title,
			TranscriptText: cfg.Note.TranscriptText,
		},
	}
}

// OnChange registers the state subscriber, invoked with a snapshot after
// every mutation. Must not call back into the controller.
func (p *Controller) OnChange(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// State returns a snapshot of the current state.
func (p *Controller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Note returns the current working copy.
func (p *Controller) Note() note.LectureNote {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Note
}

// Close cancels any pending autosave and stops playback. Pending edits are
// flushed through one final persist.
func (p *Controller) Close() {
	p.mu.Lock()
	pending := p.autosaveTimer != nil
	if pending {
		p.autosaveTimer.Stop()
		p.autosaveTimer = nil
	}
	n := p.state.Note
	playing := p.state.IsPlaying
	p.state.IsPlaying = false
	p.mu.Unlock()

	if playing {
		p.player.Stop()
	}
	if pending {
		_ = p.persist(n)
	}
}

// ── Edits and autosave ───────────────────────────────────────────────────────

// UpdateTitle applies a title edit immediately and schedules a debounced
// autosave.
func (p *Controller) UpdateTitle(text string) {
	p.mu.Lock()
	p.state.TitleText = text
	p.state.Note.Title = text
	p.scheduleAutosaveLocked()
	p.mu.Unlock()
	p.notify()
}

// UpdateTranscript applies a transcript edit immediately, invalidates any
// previously computed summary (now stale), and schedules a debounced
// autosave. Empty text is normalized to an absent transcript.
func (p *Controller) UpdateTranscript(text string) {
	p.mu.Lock()
	p.state.TranscriptText = text
	p.state.Note.TranscriptText = strings.TrimSpace(text)
	p.state.Summary = nil
	p.scheduleAutosaveLocked()
	p.mu.Unlock()
	p.notify()
}

// scheduleAutosaveLocked cancels any pending autosave and arms a new one:
// only the last edit within the window is written.
func (p *Controller) scheduleAutosaveLocked() {
	if p.autosaveTimer != nil {
		p.autosaveTimer.Stop()
	}
	p.autosaveTimer = time.AfterFunc(p.autosaveDelay, p.autosaveFire)
	p.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		Event:     diaglog.EventAutosaveArmed,
		NoteID:    p.state.Note.ID.String(),
	})
}

// autosaveFire persists the working copy once the debounce window expires.
func (p *Controller) autosaveFire() {
	p.mu.Lock()
	p.autosaveTimer = nil
	n := p.state.Note
	p.mu.Unlock()

	err := p.persist(n)

	p.mu.Lock()
	if err != nil {
		p.state.ErrorMessage = "Failed to save note: " + err.Error()
	}
	p.mu.Unlock()

	p.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		Event:     diaglog.EventAutosaveFired,
		NoteID:    n.ID.String(),
		Reason:    errString(err),
	})
	p.notify()
}

// ── Transcription ────────────────────────────────────────────────────────────

// Transcribe runs speech-to-text over the note's recording. A call while a
// transcription is already in flight is a no-op. On success the transcript
// replaces the working copy's text, any stale summary is cleared, and the
// note is persisted; on failure the transcript is left unchanged and the
// error surfaced. The busy flag clears on every path.
func (p *Controller) Transcribe() {
	p.mu.Lock()
	if p.state.IsTranscribing {
		p.mu.Unlock()
		return
	}
	p.state.IsTranscribing = true
	p.state.ErrorMessage = ""
	noteID := p.state.Note.ID
	audioPath := p.audioPath
	p.mu.Unlock()
	p.notify()

	p.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		Event:     diaglog.EventTranscribeStart,
		NoteID:    noteID.String(),
	})

	go func() {
		text, err := p.transcriber.Transcribe(audioPath)

		var toPersist *note.LectureNote
		p.mu.Lock()
		if err != nil {
			p.state.ErrorMessage = userMessage(err)
		} else {
			p.state.Note.TranscriptText = text
			p.state.TranscriptText = text
			p.state.Summary = nil
			n := p.state.Note
			toPersist = &n
		}
		p.state.IsTranscribing = false
		p.mu.Unlock()

		// Transcription result is applied before the persist that follows
		// it; the two are sequenced, never concurrent.
		if toPersist != nil {
			if perr := p.persist(*toPersist); perr != nil {
				p.mu.Lock()
				p.state.ErrorMessage = "Failed to save note: " + perr.Error()
				p.mu.Unlock()
			}
		}

		event := diaglog.EventTranscribeDone
		if err != nil {
			event = diaglog.EventTranscribeFailed
		}
		p.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentPipeline,
			Event:     event,
			NoteID:    noteID.String(),
			Reason:    errString(err),
		})
		p.notify()
	}()
}

// ── Summary ──────────────────────────────────────────────────────────────────

// GenerateSummary computes a study summary from the current transcript. An
// empty transcript is a local precondition failure: the provider is never
// called. A call while a summary is already in flight is a no-op.
func (p *Controller) GenerateSummary() {
	p.mu.Lock()
	if p.state.IsSummarizing {
		p.mu.Unlock()
		return
	}
	text := strings.TrimSpace(p.state.TranscriptText)
	if text == "" {
		p.state.ErrorMessage = "Transcript is empty. Transcribe or type notes first."
		p.mu.Unlock()
		p.notify()
		return
	}
	p.state.IsSummarizing = true
	p.state.ErrorMessage = ""
	noteID := p.state.Note.ID
	p.mu.Unlock()
	p.notify()

	p.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		Event:     diaglog.EventSummaryStart,
		NoteID:    noteID.String(),
	})

	go func() {
		result, err := p.summarizer.Summarize(text)

		p.mu.Lock()
		if err != nil {
			p.state.ErrorMessage = "Failed to generate summary: " + err.Error()
		} else {
			p.state.Summary = &result
		}
		p.state.IsSummarizing = false
		p.mu.Unlock()

		p.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentPipeline,
			Event:     diaglog.EventSummaryDone,
			NoteID:    noteID.String(),
			Reason:    errString(err),
		})
		p.notify()
	}()
}

// ── Sharing and export ───────────────────────────────────────────────────────

// ShareTranscript returns the raw transcript text for the caller to
// present. Fails fast when the transcript is empty.
func (p *Controller) ShareTranscript() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text := strings.TrimSpace(p.state.TranscriptText)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// ShareAudio returns the recording's location. Fails fast when the file is
// missing.
func (p *Controller) ShareAudio() (string, error) {
	if _, err := os.Stat(p.audioPath); err != nil {
		return "", ErrAudioFileMissing
	}
	return p.audioPath, nil
}

// ExportPDF renders the transcript into a PDF document. Fails fast on an
// empty transcript; rendering is non-instant, so it runs in the background
// behind a busy flag and the result lands in State.LastExportPath.
func (p *Controller) ExportPDF() error {
	p.mu.Lock()
	if p.state.IsExporting {
		p.mu.Unlock()
		return nil
	}
	text := strings.TrimSpace(p.state.TranscriptText)
	if text == "" {
		p.mu.Unlock()
		return ErrEmptyTranscript
	}
	p.state.IsExporting = true
	p.state.ErrorMessage = ""
	title := p.state.TitleText
	date := p.state.Note.Date
	noteID := p.state.Note.ID
	p.mu.Unlock()
	p.notify()

	go func() {
		path, err := p.exporter.RenderDocument(title, date, text)

		p.mu.Lock()
		if err != nil {
			p.state.ErrorMessage = "Failed to export PDF: " + err.Error()
		} else {
			p.state.LastExportPath = path
		}
		p.state.IsExporting = false
		p.mu.Unlock()

		p.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentPipeline,
			Event:     diaglog.EventExportPDF,
			NoteID:    noteID.String(),
			Reason:    errString(err),
		})
		p.notify()
	}()
	return nil
}

// ── Playback ─────────────────────────────────────────────────────────────────

// TogglePlayback starts or stops playback of the note's recording.
// Playback failures surface as inline errors; the playing flag auto-clears
// when the audio finishes on its own.
func (p *Controller) TogglePlayback() {
	p.mu.Lock()
	playing := p.state.IsPlaying
	noteID := p.state.Note.ID
	p.mu.Unlock()

	if playing {
		p.player.Stop()
		p.mu.Lock()
		p.state.IsPlaying = false
		p.mu.Unlock()
		p.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentPipeline,
			Event:     diaglog.EventPlaybackStop,
			NoteID:    noteID.String(),
		})
		p.notify()
		return
	}

	err := p.player.Play(p.audioPath, func() {
		p.mu.Lock()
		p.state.IsPlaying = false
		p.mu.Unlock()
		p.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentPipeline,
			Event:     diaglog.EventPlaybackFinished,
			NoteID:    noteID.String(),
		})
		p.notify()
	})

	p.mu.Lock()
	if err != nil {
		p.state.ErrorMessage = "Unable to play audio."
	} else {
		p.state.IsPlaying = true
	}
	p.mu.Unlock()

	p.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		Event:     diaglog.EventPlaybackStart,
		NoteID:    noteID.String(),
		Reason:    errString(err),
	})
	p.notify()
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (p *Controller) notify() {
	p.mu.Lock()
	fn := p.onChange
	snapshot := p.state
	p.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}

// userMessage converts typed transcription failures into the inline
// messages shown next to the transcript.
func userMessage(err error) string {
	switch {
	case errors.Is(err, transcribe.ErrPermissionDenied):
		return "Speech recognition permission is required."
	case errors.Is(err, transcribe.ErrRecognizerUnavailable):
		return "Speech recognizer is currently unavailable."
	case errors.Is(err, transcribe.ErrEmptyResult):
		return "No transcription result was produced."
	default:
		return err.Error()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
