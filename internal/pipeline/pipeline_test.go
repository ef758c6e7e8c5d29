package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tiroq/lectured/internal/diaglog"
	"github.com/tiroq/lectured/internal/note"
	"github.com/tiroq/lectured/internal/summary"
	"github.com/tiroq/lectured/internal/transcribe"
	"github.com/tiroq/lectured/testutil"
)

// fakeTranscriber returns a canned result after an optional delay.
type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	delay time.Duration
	calls int
}

func (f *fakeTranscriber) Transcribe(audioPath string) (string, error) {
	f.mu.Lock()
	f.calls++
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return f.text, f.err
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSummarizer counts invocations.
type fakeSummarizer struct {
	mu     sync.Mutex
	result summary.Result
	err    error
	calls  int
}

func (f *fakeSummarizer) Summarize(text string) (summary.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeExporter records render requests.
type fakeExporter struct {
	mu    sync.Mutex
	path  string
	err   error
	calls int
}

func (f *fakeExporter) RenderDocument(title string, date time.Time, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.path, f.err
}

func (f *fakeExporter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePlayer simulates playback completion on demand.
type fakePlayer struct {
	mu         sync.Mutex
	err        error
	playing    bool
	onFinished func()
}

func (f *fakePlayer) Play(audioPath string, onFinished func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.playing = true
	f.onFinished = onFinished
	return nil
}

func (f *fakePlayer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
	f.onFinished = nil
}

func (f *fakePlayer) finish() {
	f.mu.Lock()
	fn := f.onFinished
	f.playing = false
	f.onFinished = nil
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// persistRecorder captures every persisted note in order.
type persistRecorder struct {
	mu    sync.Mutex
	notes []note.LectureNote
	err   error
}

func (r *persistRecorder) persist(n note.LectureNote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return r.err
}

func (r *persistRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

func (r *persistRecorder) last() note.LectureNote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notes[len(r.notes)-1]
}

type fixtures struct {
	transcriber *fakeTranscriber
	summarizer  *fakeSummarizer
	exporter    *fakeExporter
	player      *fakePlayer
	persister   *persistRecorder
}

func newTestPipeline(t *testing.T, n note.LectureNote, audioPath string) (*Controller, *fixtures) {
	t.Helper()
	f := &fixtures{
		transcriber: &fakeTranscriber{text: "transcribed text"},
		summarizer:  &fakeSummarizer{result: summary.Result{Summary: "sum", KeyPoints: []string{"kp"}}},
		exporter:    &fakeExporter{path: "/exports/out.pdf"},
		player:      &fakePlayer{},
		persister:   &persistRecorder{},
	}
	p := New(Config{
		Note:          n,
		AudioPath:     audioPath,
		Transcriber:   f.transcriber,
		Summarizer:    f.summarizer,
		Exporter:      f.exporter,
		Player:        f.player,
		Persist:       f.persister.persist,
		Logger:        diaglog.NewNoOp(),
		AutosaveDelay: 30 * time.Millisecond,
	})
	return p, f
}

func testNote(transcript string) note.LectureNote {
	return note.New("a.wav", transcript, time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC))
}

func TestAutosaveDebounce(t *testing.T) {
	p, f := newTestPipeline(t, testNote(""), "/audio/a.wav")

	// Three rapid edits inside the debounce window persist exactly once,
	// with the final value.
	p.UpdateTitle("A")
	p.UpdateTitle("AB")
	p.UpdateTitle("ABC")

	testutil.AssertEventually(t, func() bool {
		return f.persister.count() > 0
	}, 2*time.Second, 10*time.Millisecond, "autosave should fire")

	time.Sleep(100 * time.Millisecond)

	if f.persister.count() != 1 {
		t.Errorf("expected a single debounced save, got %d", f.persister.count())
	}
	if f.persister.last().Title != "ABC" {
		t.Errorf("expected the final edit, got %q", f.persister.last().Title)
	}
}

func TestAutosaveRearmedByLaterEdit(t *testing.T) {
	p, f := newTestPipeline(t, testNote(""), "/audio/a.wav")

	p.UpdateTitle("first")
	testutil.AssertEventually(t, func() bool {
		return f.persister.count() == 1
	}, 2*time.Second, 10*time.Millisecond, "first autosave")

	p.UpdateTitle("second")
	testutil.AssertEventually(t, func() bool {
		return f.persister.count() == 2
	}, 2*time.Second, 10*time.Millisecond, "second autosave")

	if f.persister.last().Title != "second" {
		t.Errorf("expected latest edit, got %q", f.persister.last().Title)
	}
}

func TestTranscriptEditInvalidatesSummary(t *testing.T) {
	p, f := newTestPipeline(t, testNote("original text"), "/audio/a.wav")

	p.GenerateSummary()
	testutil.AssertEventually(t, func() bool {
		return p.State().Summary != nil
	}, 2*time.Second, 10*time.Millisecond, "summary should be generated")
	if f.summarizer.callCount() != 1 {
		t.Fatalf("expected one summarize call, got %d", f.summarizer.callCount())
	}

	p.UpdateTranscript("edited text")

	if p.State().Summary != nil {
		t.Error("transcript edit must clear the stale summary")
	}
}

func TestTranscriptEditNormalizesEmpty(t *testing.T) {
	p, _ := newTestPipeline(t, testNote("text"), "/audio/a.wav")

	p.UpdateTranscript("   \n ")

	if p.Note().TranscriptText != "" {
		t.Errorf("whitespace transcript should normalize to empty, got %q", p.Note().TranscriptText)
	}
}

func TestTranscribeSuccessPersists(t *testing.T) {
	p, f := newTestPipeline(t, testNote(""), "/audio/a.wav")

	p.Transcribe()

	testutil.AssertEventually(t, func() bool {
		return f.persister.count() > 0
	}, 2*time.Second, 10*time.Millisecond, "transcription should persist")

	st := p.State()
	if st.IsTranscribing {
		t.Error("busy flag should clear")
	}
	if st.TranscriptText != "transcribed text" {
		t.Errorf("transcript not applied: %q", st.TranscriptText)
	}
	// The persisted note must already carry the new transcript: apply and
	// persist are sequenced.
	if f.persister.last().TranscriptText != "transcribed text" {
		t.Errorf("persisted note missing transcript: %q", f.persister.last().TranscriptText)
	}
}

func TestTranscribeBusyIsNoOp(t *testing.T) {
	p, f := newTestPipeline(t, testNote(""), "/audio/a.wav")
	f.transcriber.delay = 100 * time.Millisecond

	p.Transcribe()
	p.Transcribe() // in-flight: ignored
	p.Transcribe() // in-flight: ignored

	testutil.AssertEventually(t, func() bool {
		return !p.State().IsTranscribing && f.transcriber.callCount() > 0
	}, 2*time.Second, 10*time.Millisecond, "transcription should finish")

	if f.transcriber.callCount() != 1 {
		t.Errorf("duplicate invocations must be ignored, got %d calls", f.transcriber.callCount())
	}
}

func TestTranscribeFailureKeepsTranscript(t *testing.T) {
	n := testNote("existing transcript")
	p, f := newTestPipeline(t, n, "/audio/a.wav")
	f.transcriber.err = transcribe.ErrRecognizerUnavailable
	f.transcriber.text = ""

	p.Transcribe()

	testutil.AssertEventually(t, func() bool {
		return !p.State().IsTranscribing && p.State().ErrorMessage != ""
	}, 2*time.Second, 10*time.Millisecond, "failure should surface")

	st := p.State()
	if st.TranscriptText != "existing transcript" {
		t.Errorf("failed transcription must not clobber the transcript: %q", st.TranscriptText)
	}
	if st.ErrorMessage != "Speech recognizer is currently unavailable." {
		t.Errorf("unexpected error message: %q", st.ErrorMessage)
	}
	if f.persister.count() != 0 {
		t.Error("failed transcription must not persist")
	}
}

func TestTranscribePermissionMessage(t *testing.T) {
	p, f := newTestPipeline(t, testNote(""), "/audio/a.wav")
	f.transcriber.err = transcribe.ErrPermissionDenied
	f.transcriber.text = ""

	p.Transcribe()

	testutil.AssertEventually(t, func() bool {
		return p.State().ErrorMessage != ""
	}, 2*time.Second, 10*time.Millisecond, "failure should surface")

	if got := p.State().ErrorMessage; got != "Speech recognition permission is required." {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestGenerateSummaryEmptyTranscript(t *testing.T) {
	p, f := newTestPipeline(t, testNote(""), "/audio/a.wav")

	p.GenerateSummary()

	if f.summarizer.callCount() != 0 {
		t.Error("provider must not be called for an empty transcript")
	}
	if got := p.State().ErrorMessage; got != "Transcript is empty. Transcribe or type notes first." {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestGenerateSummaryBusyIsNoOp(t *testing.T) {
	p, f := newTestPipeline(t, testNote("some text"), "/audio/a.wav")

	p.GenerateSummary()
	testutil.AssertEventually(t, func() bool {
		return !p.State().IsSummarizing
	}, 2*time.Second, 10*time.Millisecond, "summary should finish")

	calls := f.summarizer.callCount()
	if calls != 1 {
		t.Errorf("expected one summarize call, got %d", calls)
	}
}

func TestShareTranscriptEmpty(t *testing.T) {
	p, _ := newTestPipeline(t, testNote(""), "/audio/a.wav")

	if _, err := p.ShareTranscript(); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("expected ErrEmptyTranscript, got %v", err)
	}
}

func TestShareTranscriptReturnsText(t *testing.T) {
	p, _ := newTestPipeline(t, testNote("  the text  "), "/audio/a.wav")

	text, err := p.ShareTranscript()
	if err != nil {
		t.Fatalf("ShareTranscript: %v", err)
	}
	if text != "the text" {
		t.Errorf("expected trimmed text, got %q", text)
	}
}

func TestShareAudioMissingFile(t *testing.T) {
	p, _ := newTestPipeline(t, testNote("x"), filepath.Join(t.TempDir(), "missing.wav"))

	if _, err := p.ShareAudio(); !errors.Is(err, ErrAudioFileMissing) {
		t.Errorf("expected ErrAudioFileMissing, got %v", err)
	}
}

func TestShareAudioExistingFile(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, _ := newTestPipeline(t, testNote("x"), audio)

	path, err := p.ShareAudio()
	if err != nil {
		t.Fatalf("ShareAudio: %v", err)
	}
	if path != audio {
		t.Errorf("path mismatch: %q", path)
	}
}

func TestExportPDFEmptyTranscript(t *testing.T) {
	p, f := newTestPipeline(t, testNote(""), "/audio/a.wav")

	if err := p.ExportPDF(); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("expected ErrEmptyTranscript, got %v", err)
	}
	if f.exporter.callCount() != 0 {
		t.Error("exporter must not run for an empty transcript")
	}
}

func TestExportPDFRecordsPath(t *testing.T) {
	p, f := newTestPipeline(t, testNote("text"), "/audio/a.wav")

	if err := p.ExportPDF(); err != nil {
		t.Fatalf("ExportPDF: %v", err)
	}

	testutil.AssertEventually(t, func() bool {
		return !p.State().IsExporting && p.State().LastExportPath != ""
	}, 2*time.Second, 10*time.Millisecond, "export should finish")

	if got := p.State().LastExportPath; got != "/exports/out.pdf" {
		t.Errorf("export path not recorded: %q", got)
	}
	if f.exporter.callCount() != 1 {
		t.Errorf("expected one render call, got %d", f.exporter.callCount())
	}
}

func TestTogglePlayback(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, f := newTestPipeline(t, testNote("x"), audio)

	p.TogglePlayback()
	if !p.State().IsPlaying {
		t.Fatal("expected playing state")
	}

	// Natural completion clears the flag.
	f.player.finish()
	if p.State().IsPlaying {
		t.Error("finish should clear the playing flag")
	}

	// Toggle off stops the player.
	p.TogglePlayback()
	if !p.State().IsPlaying {
		t.Fatal("expected playing state after restart")
	}
	p.TogglePlayback()
	if p.State().IsPlaying {
		t.Error("toggle off should stop playback")
	}
}

func TestPlaybackFailureSurfaces(t *testing.T) {
	p, f := newTestPipeline(t, testNote("x"), "/audio/a.wav")
	f.player.err = errors.New("no player")

	p.TogglePlayback()

	if p.State().IsPlaying {
		t.Error("failed playback must not set the playing flag")
	}
	if got := p.State().ErrorMessage; got != "Unable to play audio." {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestCloseFlushesPendingAutosave(t *testing.T) {
	p, f := newTestPipeline(t, testNote(""), "/audio/a.wav")

	p.UpdateTitle("unsaved edit")
	p.Close()

	if f.persister.count() != 1 {
		t.Fatalf("expected pending edit flushed on close, got %d saves", f.persister.count())
	}
	if f.persister.last().Title != "unsaved edit" {
		t.Errorf("flushed note missing edit: %q", f.persister.last().Title)
	}
}
