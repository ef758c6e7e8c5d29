package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/tiroq/lectured/internal/autoupdate"
	"github.com/tiroq/lectured/internal/config"
	"github.com/tiroq/lectured/internal/export"
	"github.com/tiroq/lectured/internal/fileutil"
	"github.com/tiroq/lectured/internal/ipc"
	"github.com/tiroq/lectured/internal/note"
	"github.com/tiroq/lectured/internal/notestore"
	"github.com/tiroq/lectured/internal/summary"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		cmdStatus()
	case "start":
		sendCommand(ipc.CmdStart)
	case "stop":
		sendCommand(ipc.CmdStop)
	case "toggle":
		sendCommand(ipc.CmdToggle)
	case "transcribe":
		sendCommand(ipc.CmdTranscribe)
	case "summarize":
		sendCommand(ipc.CmdSummarize)
	case "export":
		sendCommand(ipc.CmdExport)
	case "quit":
		sendCommand(ipc.CmdQuit)
	case "list":
		cmdList()
	case "export-text":
		cmdExportText(os.Args[2:])
	case "watch":
		cmdWatch()
	case "update":
		cmdUpdate(os.Args[2:])
	case "version":
		fmt.Println("lecturedctl " + Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: lecturedctl <command>

Commands:
  status      show daemon status
  start       start recording
  stop        stop recording and create a note
  toggle      start or stop recording
  transcribe  transcribe the open note's recording
  summarize   summarize the open note's transcript
  export      export the open note as PDF
  list        list saved lecture notes
  export-text write a note's transcript as .txt (--markdown for .md)
  watch       stream live state changes from the daemon
  update      check for a newer release (--install to apply)
  quit        shut down the daemon
  version     print version`)
}

func sendCommand(cmd ipc.Command) {
	if err := ipc.WriteCommand(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("sent: %s\n", cmd)
}

func cmdStatus() {
	status, err := ipc.ReadStatus()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("daemon not running (no status file)")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	state := "idle"
	if status.Recording {
		state = fmt.Sprintf("recording (%ds, level %.2f)", status.ElapsedSeconds, status.InputLevel)
	}
	fmt.Printf("state:       %s\n", state)
	fmt.Printf("notes:       %d\n", status.NoteCount)
	if status.OpenNoteID != "" {
		fmt.Printf("open note:   %s\n", status.OpenNoteID)
	}
	if status.Transcribing {
		fmt.Println("transcribing: yes")
	}
	if status.Summarizing {
		fmt.Println("summarizing:  yes")
	}
	if status.LastAction != "" {
		fmt.Printf("last action: %s\n", status.LastAction)
	}
	if status.LastError != "" {
		fmt.Printf("last error:  %s\n", status.LastError)
	}
	fmt.Printf("updated:     %s\n", status.Timestamp.Format(time.RFC3339))

	// Stale status usually means the daemon died without cleanup
	if time.Since(status.Timestamp) > 10*time.Second {
		fmt.Println("warning: status is stale; the daemon may not be running")
	}
}

func cmdList() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	store := notestore.NewFileStore(cfg.NotesPath())
	notes, err := store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(notes) == 0 {
		fmt.Println("no notes")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tTITLE\tTRANSCRIPT\tID")
	for _, n := range notes {
		transcript := "-"
		if n.HasTranscript() {
			transcript = fmt.Sprintf("%d chars", len(n.TranscriptText))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			n.Date.Format("2006-01-02 15:04"), n.Title, transcript, n.ID)
	}
	w.Flush()
}

// cmdExportText writes a note's transcript to the export directory as plain
// text, or as markdown with a generated summary when --markdown is given.
// The note is selected by ID or unambiguous ID prefix.
func cmdExportText(args []string) {
	markdown := false
	idPrefix := ""
	for _, a := range args {
		if a == "--markdown" {
			markdown = true
			continue
		}
		idPrefix = a
	}
	if idPrefix == "" {
		fmt.Fprintln(os.Stderr, "usage: lecturedctl export-text <note-id> [--markdown]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	notes, err := notestore.NewFileStore(cfg.NotesPath()).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	path, err := exportTranscript(notes, idPrefix, cfg.ExportDir(), markdown)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", path)
}

// exportTranscript renders the matching note's transcript into outDir and
// returns the written path.
func exportTranscript(notes []note.LectureNote, idPrefix, outDir string, asMarkdown bool) (string, error) {
	var match *note.LectureNote
	prefix := strings.ToLower(idPrefix)
	for i := range notes {
		if strings.HasPrefix(notes[i].ID.String(), prefix) {
			if match != nil {
				return "", fmt.Errorf("note id %q is ambiguous", idPrefix)
			}
			match = &notes[i]
		}
	}
	if match == nil {
		return "", fmt.Errorf("no note matches id %q", idPrefix)
	}
	if !match.HasTranscript() {
		return "", fmt.Errorf("note %q has no transcript; transcribe it first", match.Title)
	}

	name := fileutil.SanitizeForFilename(match.Title)
	if asMarkdown {
		path := filepath.Join(outDir, name+".md")
		sum, err := summary.NewHeuristic().Summarize(match.TranscriptText)
		if err != nil {
			sum = summary.Result{}
		}
		if err := export.WriteMarkdown(path, match.Title, match.Date, match.TranscriptText, sum.Summary, sum.KeyPoints); err != nil {
			return "", err
		}
		return path, nil
	}

	path := filepath.Join(outDir, name+".txt")
	if err := export.WriteText(path, match.Title, match.Date, match.TranscriptText); err != nil {
		return "", err
	}
	return path, nil
}

// cmdUpdate checks GitHub for a newer release. With --install it downloads
// the platform archive and replaces the binaries next to this executable.
func cmdUpdate(args []string) {
	install := false
	for _, a := range args {
		if a == "--install" {
			install = true
		}
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	checker := autoupdate.NewChecker("tiroq", "lectured", Version, filepath.Dir(exe))
	available, release, err := checker.IsUpdateAvailable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if !available {
		fmt.Printf("lecturedctl %s is up to date\n", Version)
		return
	}

	fmt.Printf("update available: %s (current %s)\n", release.TagName, Version)
	if !install {
		fmt.Println("run 'lecturedctl update --install' to apply")
		return
	}

	fmt.Println("downloading and installing ...")
	if err := checker.DownloadAndInstall(release); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("installed; restart lectured-core to pick up the new version")
}

// cmdWatch connects to the daemon's state feed and prints events until
// interrupted.
func cmdWatch() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	url := "ws://" + cfg.FeedAddr + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to %s: %v\n", url, err)
		fmt.Fprintln(os.Stderr, "hint: is lectured-core running?")
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("watching %s (Ctrl-C to stop)\n", url)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed") {
				fmt.Fprintf(os.Stderr, "feed closed: %v\n", err)
			}
			return
		}
		fmt.Println(string(msg))
	}
}
