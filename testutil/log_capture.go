package testutil

import (
	"bytes"
	"log"
	"strings"
	"sync"
)

// LogCapture is an io.Writer that collects log output so tests can assert
// on what a component logged. Attach it with Logger or pass it to log.New.
type LogCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogCapture creates an empty capture.
func NewLogCapture() *LogCapture {
	return &LogCapture{}
}

// Write implements io.Writer.
func (lc *LogCapture) Write(p []byte) (int, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.buf.Write(p)
}

// Logger returns a standard logger that writes into the capture.
func (lc *LogCapture) Logger(prefix string) *log.Logger {
	return log.New(lc, prefix, log.LstdFlags)
}

// String returns all captured output.
func (lc *LogCapture) String() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.buf.String()
}

// Reset clears the capture buffer.
func (lc *LogCapture) Reset() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.buf.Reset()
}

// Contains reports whether the captured output contains substr.
func (lc *LogCapture) Contains(substr string) bool {
	return strings.Contains(lc.String(), substr)
}

// Count returns how many times substr appears in the captured output.
func (lc *LogCapture) Count(substr string) int {
	return strings.Count(lc.String(), substr)
}

// Lines returns the captured output split into lines.
func (lc *LogCapture) Lines() []string {
	content := strings.TrimSpace(lc.String())
	if content == "" {
		return []string{}
	}
	return strings.Split(content, "\n")
}

// LastLine returns the final captured line, or "" when nothing was logged.
func (lc *LogCapture) LastLine() string {
	lines := lc.Lines()
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
