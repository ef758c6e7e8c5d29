// Package playback plays a note's recording through an external player
// process and reports completion.
package playback

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
)

// ErrAlreadyPlaying is returned when Play is called while a playback
// process is still running.
var ErrAlreadyPlaying = errors.New("playback already in progress")

// Provider starts and stops audio playback. The onFinished callback fires
// exactly once when the audio ends on its own; Stop suppresses it.
type Provider interface {
	Play(audioPath string, onFinished func()) error
	Stop()
}

// ExecPlayer shells out to a system audio player. The zero command picks a
// platform default (afplay on macOS, ffplay elsewhere).
type ExecPlayer struct {
	command string
	args    []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
}

// NewExecPlayer creates a player using command (empty = platform default)
// with extra args prepended before the audio path.
func NewExecPlayer(command string, args ...string) *ExecPlayer {
	if command == "" {
		if runtime.GOOS == "darwin" {
			command = "afplay"
		} else {
			command = "ffplay"
			args = append([]string{"-nodisp", "-autoexit", "-loglevel", "quiet"}, args...)
		}
	}
	return &ExecPlayer{command: command, args: args}
}

// Play starts the player process for audioPath. It fails fast if the file
// is missing or a playback is already running.
func (p *ExecPlayer) Play(audioPath string, onFinished func()) error {
	if _, err := os.Stat(audioPath); err != nil {
		return fmt.Errorf("audio file unavailable: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return ErrAlreadyPlaying
	}

	args := append(append([]string{}, p.args...), audioPath)
	cmd := exec.Command(p.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	p.cmd = cmd
	p.stopped = false

	go func() {
		_ = cmd.Wait()

		p.mu.Lock()
		wasStopped := p.stopped
		p.cmd = nil
		p.mu.Unlock()

		if !wasStopped && onFinished != nil {
			onFinished()
		}
	}()

	return nil
}

// Stop kills the playback process if one is running. The completion
// callback does not fire for a stopped playback.
func (p *ExecPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return
	}
	p.stopped = true
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}
