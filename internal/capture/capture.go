// Package capture manages one live audio recording session: lifecycle
// (start/stop/interrupt), output file allocation, and smoothed input-level
// metering for live UI feedback.
package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tiroq/lectured/internal/diaglog"
	"github.com/tiroq/lectured/internal/fileutil"
)

// Session lifecycle failures. State-machine misuse is checked before any
// side effect occurs.
var (
	ErrPermissionDenied    = errors.New("microphone permission is required to record")
	ErrConfigurationFailed = errors.New("unable to configure the capture backend")
	ErrAlreadyRecording    = errors.New("recording is already in progress")
	ErrNotRecording        = errors.New("no active recording to stop")
)

// State is the session's lifecycle state. Stopped and Interrupted are
// transient: both return the session to Idle.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// Result describes a successfully finished recording.
type Result struct {
	OutputPath string
	StartedAt  time.Time
	Duration   time.Duration
}

// Backend is the capture device abstraction. The process owns a single
// backend; a second concurrent start is refused by the session guard rather
// than queued.
type Backend interface {
	// CheckPermission reports whether microphone access is granted.
	CheckPermission() error
	// Configure prepares the device. Called once per Start.
	Configure(noiseReduction bool) error
	// Start begins writing captured audio to path.
	Start(path string) error
	// Stop finishes the recording and returns the completed file.
	Stop() (Result, error)
	// Abort discards the in-progress recording without a result.
	Abort()
	// Level returns the most recent input level, normalized to [0,1].
	Level() float64
	// OnInterrupt registers a callback fired when the device is lost while
	// recording (e.g. another audio session claims it).
	OnInterrupt(fn func(reason string))
}

// Session is the recording state machine: Idle → Recording → Idle. It owns
// the output path naming, the level meter, and interruption handling.
type Session struct {
	backend  Backend
	audioDir string
	logger   *diaglog.Logger
	meter    *LevelMeter

	mu        sync.Mutex
	state     State
	sessionID string
	startTime time.Time
	outPath   string

	onLevel       func(float64)
	onInterrupted func(reason string)

	// now is injectable for tests.
	now func() time.Time
}

// NewSession creates an idle session writing recordings into audioDir.
func NewSession(backend Backend, audioDir string, logger *diaglog.Logger) *Session {
	s := &Session{
		backend:  backend,
		audioDir: audioDir,
		logger:   logger,
		state:    StateIdle,
		now:      time.Now,
	}
	s.meter = NewLevelMeter(DefaultMeterInterval, DefaultSmoothing)
	backend.OnInterrupt(s.handleInterrupt)
	return s
}

// OnLevel registers the live level callback, invoked at the meter cadence
// with EMA-smoothed values in [0,1]. Consumed only for UI feedback.
func (s *Session) OnLevel(fn func(float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLevel = fn
}

// OnInterrupted registers a callback fired after an external interruption
// has forced the session back to Idle.
func (s *Session) OnInterrupted(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInterrupted = fn
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRecording reports whether a recording is in progress.
func (s *Session) IsRecording() bool {
	return s.State() == StateRecording
}

// Elapsed returns how long the current recording has been running, or zero
// when idle.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return 0
	}
	return s.now().Sub(s.startTime)
}

// Start begins a new recording. Fails with ErrAlreadyRecording when not
// idle, ErrPermissionDenied without microphone access, and
// ErrConfigurationFailed when the backend cannot be configured. On success
// the session allocates a timestamp-named output file and begins emitting
// level samples.
func (s *Session) Start(noiseReduction bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrAlreadyRecording
	}

	if err := s.backend.CheckPermission(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err := s.backend.Configure(noiseReduction); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationFailed, err)
	}

	start := s.now()
	path := filepath.Join(s.audioDir, fileutil.RecordingFilename(start))
	if err := os.MkdirAll(s.audioDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationFailed, err)
	}

	if err := s.backend.Start(path); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationFailed, err)
	}

	s.state = StateRecording
	s.sessionID = uuid.NewString()
	s.startTime = start
	s.outPath = path

	s.meter.Start(s.backend.Level, s.emitLevel)

	s.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCaptureSession,
		Event:     diaglog.EventRecordingStart,
		SessionID: s.sessionID,
		Payload:   map[string]interface{}{"path": path},
	})
	return nil
}

// Stop finishes the current recording and returns the completed file's
// location. Fails with ErrNotRecording when idle. Level sampling stops.
func (s *Session) Stop() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return Result{}, ErrNotRecording
	}

	s.meter.Stop()

	result, err := s.backend.Stop()
	sessionID := s.sessionID
	s.state = StateIdle
	s.sessionID = ""
	s.outPath = ""
	if err != nil {
		return Result{}, fmt.Errorf("stop capture: %w", err)
	}

	s.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCaptureSession,
		Event:     diaglog.EventRecordingStop,
		SessionID: sessionID,
		Payload: map[string]interface{}{
			"path":        result.OutputPath,
			"duration_ms": result.Duration.Milliseconds(),
		},
	})
	return result, nil
}

// PauseMetering suspends level callbacks without affecting the recording
// itself. Used when the recording view goes away.
func (s *Session) PauseMetering() {
	s.meter.Stop()
}

// ResumeMetering restarts level callbacks for an in-progress recording.
func (s *Session) ResumeMetering() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return
	}
	s.meter.Start(s.backend.Level, s.emitLevel)
}

// emitLevel forwards a smoothed meter sample to the registered callback.
func (s *Session) emitLevel(level float64) {
	s.mu.Lock()
	fn := s.onLevel
	s.mu.Unlock()
	if fn != nil {
		fn(level)
	}
}

// handleInterrupt forces the session back to Idle and discards the
// in-progress file. No partial-file recovery is attempted: the external
// event is outside our control and the data loss is accepted.
func (s *Session) handleInterrupt(reason string) {
	s.mu.Lock()

	if s.state != StateRecording {
		s.mu.Unlock()
		return
	}

	s.meter.Stop()
	s.backend.Abort()

	partial := s.outPath
	sessionID := s.sessionID
	s.state = StateIdle
	s.sessionID = ""
	s.outPath = ""

	onInterrupted := s.onInterrupted
	s.mu.Unlock()

	if partial != "" {
		_ = os.Remove(partial)
	}

	s.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCaptureSession,
		Event:     diaglog.EventRecordingInterrupted,
		SessionID: sessionID,
		Reason:    reason,
	})

	if onInterrupted != nil {
		onInterrupted(reason)
	}
}
