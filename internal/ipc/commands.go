package ipc

import (
	"os"
	"path/filepath"
	"strings"
)

// Command represents user commands from control clients to the daemon.
type Command string

const (
	CmdStart      Command = "start"      // start recording immediately
	CmdStop       Command = "stop"       // stop recording and create a note
	CmdToggle     Command = "toggle"     // start if idle, stop if recording
	CmdTranscribe Command = "transcribe" // transcribe the open note's recording
	CmdSummarize  Command = "summarize"  // summarize the open note's transcript
	CmdExport     Command = "export"     // export the open note as PDF
	CmdQuit       Command = "quit"       // shutdown daemon
)

// WriteCommand writes a command to ~/.cache/lectured/cmd.txt.
func WriteCommand(cmd Command) error {
	cacheDir := filepath.Join(os.Getenv("HOME"), ".cache", "lectured")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cacheDir, "cmd.txt"), []byte(string(cmd)), 0644)
}

// ReadCommand reads and clears ~/.cache/lectured/cmd.txt.
// Returns empty string if no command is pending.
func ReadCommand() (Command, error) {
	cmdPath := filepath.Join(os.Getenv("HOME"), ".cache", "lectured", "cmd.txt")

	data, err := os.ReadFile(cmdPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	// Clear the file immediately to prevent re-execution
	if err := os.WriteFile(cmdPath, []byte(""), 0644); err != nil {
		return "", err
	}

	cmd := Command(strings.TrimSpace(string(data)))
	switch cmd {
	case CmdStart, CmdStop, CmdToggle, CmdTranscribe, CmdSummarize, CmdExport, CmdQuit:
		return cmd, nil
	default:
		// Unknown or empty command - ignore it
		return "", nil
	}
}
