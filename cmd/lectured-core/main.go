package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"github.com/tiroq/lectured/internal/capture"
	"github.com/tiroq/lectured/internal/collection"
	"github.com/tiroq/lectured/internal/config"
	"github.com/tiroq/lectured/internal/diaglog"
	"github.com/tiroq/lectured/internal/export"
	"github.com/tiroq/lectured/internal/ipc"
	"github.com/tiroq/lectured/internal/note"
	"github.com/tiroq/lectured/internal/notestore"
	"github.com/tiroq/lectured/internal/pidfile"
	"github.com/tiroq/lectured/internal/pipeline"
	"github.com/tiroq/lectured/internal/playback"
	"github.com/tiroq/lectured/internal/statefeed"
	"github.com/tiroq/lectured/internal/summary"
	"github.com/tiroq/lectured/internal/transcribe"
	"github.com/tiroq/lectured/internal/transcribe/whisperapi"
	"github.com/tiroq/lectured/internal/transcribe/whispercli"
)

const logPrefix = "[lectured-core]"

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"

	outLog *log.Logger
	errLog *log.Logger

	cfg        *config.Config
	diagLogger *diaglog.Logger

	session    *capture.Session
	coll       *collection.Controller
	registry   *transcribe.Registry
	summarizer summary.Provider
	exporter   export.Provider
	player     playback.Provider
	feed       *statefeed.Server

	// Open-note pipeline; at most one note is open at a time.
	openMu   sync.Mutex
	openPipe *pipeline.Controller

	// Status fields written to status.json.
	statusMu   sync.Mutex
	inputLevel float64
	lastAction string
	lastErr    string

	quitChan = make(chan struct{}, 1)
)

func main() {
	// Local env file carries optional secrets (API tokens, license keys).
	_ = godotenv.Load()

	// --export-diag subcommand: read log, write bundle, exit.
	if len(os.Args) > 1 && os.Args[1] == "--export-diag" {
		logPath := os.Getenv("LECTURED_LOG_PATH")
		if logPath == "" {
			logPath = "/tmp/lectured-debug.log"
		}
		diaglog.Version = Version
		path, n, err := diaglog.Export(logPath, ".")
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			if os.IsNotExist(err) {
				fmt.Fprintln(os.Stderr, "hint: run with LECTURED_DEBUG=true to enable logging")
				os.Exit(1)
			}
			os.Exit(2)
		}
		fmt.Printf("Wrote: %s (%d lines)\n", path, n)
		os.Exit(0)
	}

	// Recover from any panics and log them
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "PANIC in lectured-core: %v\n", r)
			if errLog != nil {
				errLog.Printf("PANIC: %v", r)
			}
			os.Exit(1)
		}
	}()

	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	outLog.Println("===========================================")
	outLog.Println("Starting Lectured Core v" + Version + "...")
	outLog.Printf("PID: %d", os.Getpid())
	outLog.Printf("Timestamp: %s", time.Now().Format(time.RFC3339))
	outLog.Println("===========================================")

	// Check for duplicate instances
	pidFilePath := pidfile.GetPIDFilePath("lectured-core")
	pf, err := pidfile.New(pidFilePath)
	if err != nil {
		errLog.Printf("Failed to create PID file: %v", err)
		errLog.Println("Another instance of lectured-core may already be running.")
		errLog.Printf("If you're sure no other instance is running, remove: %s", pidFilePath)
		os.Exit(1)
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			errLog.Printf("Warning: failed to remove PID file: %v", err)
		}
	}()
	outLog.Printf("PID file created: %s (PID %d)", pidFilePath, os.Getpid())

	outLog.Println("[STARTUP] Loading configuration...")
	cfg, err = config.Load()
	if err != nil {
		errLog.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}
	outLog.Printf("[STARTUP] Storage: %s (autosave=%dms, feed=%s)",
		cfg.StorageDir, cfg.AutosaveDelayMS, cfg.FeedAddr)

	logPath := os.Getenv("LECTURED_LOG_PATH")
	if logPath == "" {
		logPath = "/tmp/lectured-debug.log"
	}
	diagLogger, err = diaglog.New(logPath)
	if err != nil {
		errLog.Printf("[STARTUP] WARNING: could not open diagnostic log at %s: %v (continuing)", logPath, err)
		diagLogger = diaglog.NewNoOp()
	}
	defer func() { _ = diagLogger.Close() }()
	diaglog.Version = Version

	if key := os.Getenv("UNIDOC_LICENSE_API_KEY"); key != "" {
		if err := export.SetLicenseKey(key); err != nil {
			errLog.Printf("[STARTUP] WARNING: PDF license key rejected: %v (export disabled)", err)
		} else {
			outLog.Println("[STARTUP] PDF export licensed")
		}
	} else {
		outLog.Println("[STARTUP] UNIDOC_LICENSE_API_KEY not set - PDF export will fail until configured")
	}

	// Speech-to-text registry
	outLog.Println("[STARTUP] Configuring transcription backends...")
	registry = buildRegistry(cfg)
	for _, name := range registry.Backends() {
		b, _ := registry.Get(name)
		if b == nil {
			continue
		}
		hs, err := b.HealthCheck()
		switch {
		case err != nil:
			errLog.Printf("[STARTUP] Transcription health check error (backend=%s): %v", name, err)
		case !hs.OK:
			errLog.Printf("[STARTUP] WARNING: transcription backend %s unhealthy: %s", name, hs.Message)
		default:
			outLog.Printf("[STARTUP] Transcription backend %s healthy (latency=%s)", name, hs.Latency)
		}
	}

	// Note store and collection
	outLog.Println("[STARTUP] Loading note collection...")
	if err := os.MkdirAll(cfg.AudioDir(), 0755); err != nil {
		errLog.Printf("Failed to create audio directory: %v", err)
		os.Exit(1)
	}
	store := notestore.NewFileStore(cfg.NotesPath())
	coll = collection.New(store, cfg.AudioDir(), diagLogger)
	if err := coll.LoadNotes(); err != nil {
		errLog.Printf("[STARTUP] WARNING: %s", coll.LastError())
	}
	outLog.Printf("[STARTUP] Loaded %d notes from %s", len(coll.Notes()), cfg.NotesPath())

	storeWatcher, err := store.Watch(func() {
		diagLogger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentNoteStore,
			Event:     diaglog.EventStoreExternalChange,
		})
		if err := coll.LoadNotes(); err != nil {
			errLog.Printf("Reload after external change failed: %v", err)
		}
	})
	if err != nil {
		errLog.Printf("[STARTUP] WARNING: store watcher unavailable: %v", err)
	} else {
		defer func() { _ = storeWatcher.Close() }()
	}

	// State feed for UI clients
	feed = statefeed.NewServer(cfg.FeedAddr)
	feed.SetLogger(diagLogger)
	if err := feed.Start(); err != nil {
		errLog.Printf("[STARTUP] WARNING: state feed unavailable: %v", err)
	} else {
		outLog.Printf("[STARTUP] State feed listening on ws://%s/feed", cfg.FeedAddr)
		defer func() { _ = feed.Close() }()
	}
	coll.OnChange(broadcastCollection)

	// Capture session
	outLog.Println("[STARTUP] Initializing capture session...")
	backend := capture.NewPCMBackend(capture.PCMConfig{
		Command:            cfg.Capture.Command,
		Args:               cfg.Capture.Args,
		NoiseReductionArgs: cfg.Capture.NoiseReductionArgs,
		SampleRate:         cfg.Capture.SampleRate,
		Channels:           cfg.Capture.Channels,
	})
	session = capture.NewSession(backend, cfg.AudioDir(), diagLogger)
	session.OnLevel(func(level float64) {
		statusMu.Lock()
		inputLevel = level
		statusMu.Unlock()
		feed.Broadcast("recording", map[string]interface{}{
			"recording": true,
			"level":     level,
		})
	})
	session.OnInterrupted(func(reason string) {
		setLastError("Recording interrupted: " + reason)
		errLog.Printf("Recording interrupted: %s", reason)
		broadcastRecording()
	})

	summarizer = summary.NewHeuristic()
	exporter = export.NewPDFExporter(cfg.ExportDir())
	player = playback.NewExecPlayer(cfg.Playback.Command, cfg.Playback.Args...)

	if err := writeStatus(); err != nil {
		errLog.Printf("Failed to write initial status: %v", err)
	}

	outLog.Println("[STARTUP] Starting command file watcher...")
	go watchCommands()

	statusTicker := time.NewTicker(1 * time.Second)
	defer statusTicker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	outLog.Println("===========================================")
	outLog.Println("[RUNNING] Lectured Core is running")

	for {
		select {
		case <-statusTicker.C:
			if err := writeStatus(); err != nil {
				errLog.Printf("Failed to write status: %v", err)
			}

		case <-sigChan:
			shutdown("signal")
			return

		case <-quitChan:
			shutdown("quit command")
			return
		}
	}
}

// buildRegistry registers the configured transcription backends.
func buildRegistry(cfg *config.Config) *transcribe.Registry {
	r := transcribe.NewRegistry(transcribe.Options{
		Language:   cfg.Transcription.Language,
		Timestamps: false,
	})

	wants := func(name string) bool {
		return cfg.Transcription.Primary == name || cfg.Transcription.Fallback == name
	}

	if wants("whisper_api") {
		c := whisperapi.NewClient(whisperapi.Config{
			BaseURL:        cfg.Transcription.Remote.BaseURL,
			Token:          cfg.Transcription.Remote.Token,
			TimeoutSeconds: cfg.Transcription.Remote.TimeoutSeconds,
			Retries:        cfg.Transcription.Remote.Retries,
			Model:          cfg.Transcription.Remote.Model,
		})
		c.SetLogger(diagLogger)
		r.Register("whisper_api", c)
	}
	if wants("whisper_cli") {
		b := whispercli.NewBackend(whispercli.Config{
			BinaryPath:     cfg.Transcription.CLI.BinaryPath,
			ModelPath:      cfg.Transcription.CLI.ModelPath,
			Model:          cfg.Transcription.CLI.Model,
			Threads:        cfg.Transcription.CLI.Threads,
			TimeoutSeconds: cfg.Transcription.CLI.TimeoutSeconds,
		})
		r.Register("whisper_cli", b)
	}

	r.SetPrimary(cfg.Transcription.Primary)
	if cfg.Transcription.Fallback != "" {
		r.SetFallback(cfg.Transcription.Fallback)
	}
	return r
}

// startRecording begins a capture session.
func startRecording() {
	if err := session.Start(cfg.Capture.NoiseReduction); err != nil {
		setLastError(err.Error())
		errLog.Printf("Failed to start recording: %v", err)
		return
	}
	setLastAction("recording_started")
	outLog.Println("Recording started")
	broadcastRecording()
}

// stopRecording finishes the capture session, creates a note for the
// recording, and opens it in the pipeline.
func stopRecording() {
	result, err := session.Stop()
	if err != nil {
		setLastError(err.Error())
		errLog.Printf("Failed to stop recording: %v", err)
		return
	}
	outLog.Printf("Recording stopped: %s (%s)", result.OutputPath, result.Duration)

	n, err := coll.AddNote(result.OutputPath, "")
	if err != nil {
		setLastError(coll.LastError())
		errLog.Printf("Failed to persist new note: %v", err)
	}
	setLastAction("note_created")
	openNote(n)
	broadcastRecording()
}

// openNote closes any currently open note and opens n in the pipeline.
func openNote(n note.LectureNote) {
	openMu.Lock()
	defer openMu.Unlock()

	if openPipe != nil {
		openPipe.Close()
	}
	openPipe = pipeline.New(pipeline.Config{
		Note:          n,
		AudioPath:     coll.AbsoluteAudioPath(n),
		Transcriber:   registry,
		Summarizer:    summarizer,
		Exporter:      exporter,
		Player:        player,
		Persist:       coll.Persist,
		Logger:        diagLogger,
		AutosaveDelay: time.Duration(cfg.AutosaveDelayMS) * time.Millisecond,
	})
	openPipe.OnChange(func(st pipeline.State) {
		if st.ErrorMessage != "" {
			setLastError(st.ErrorMessage)
		}
		feed.Broadcast("note", map[string]interface{}{
			"note_id":      st.Note.ID.String(),
			"title":        st.TitleText,
			"transcribing": st.IsTranscribing,
			"summarizing":  st.IsSummarizing,
			"exporting":    st.IsExporting,
			"playing":      st.IsPlaying,
			"error":        st.ErrorMessage,
			"export_path":  st.LastExportPath,
		})
	})
	outLog.Printf("Note opened: %s (%s)", n.Title, n.ID)
}

func currentPipe() *pipeline.Controller {
	openMu.Lock()
	defer openMu.Unlock()
	return openPipe
}

func shutdown(reason string) {
	outLog.Println("===========================================")
	outLog.Printf("[SHUTDOWN] Shutting down (%s) at %s", reason, time.Now().Format(time.RFC3339))

	if session.IsRecording() {
		outLog.Println("[SHUTDOWN] Recording is active - stopping before shutdown...")
		stopRecording()
	}

	openMu.Lock()
	if openPipe != nil {
		openPipe.Close()
		openPipe = nil
	}
	openMu.Unlock()

	if err := writeStatus(); err != nil {
		errLog.Printf("Failed to write final status: %v", err)
	}
	outLog.Println("[SHUTDOWN] Shutting down gracefully")
	outLog.Println("===========================================")
}

// broadcastRecording pushes the recording state to feed clients.
func broadcastRecording() {
	statusMu.Lock()
	level := inputLevel
	statusMu.Unlock()
	feed.Broadcast("recording", map[string]interface{}{
		"recording": session.IsRecording(),
		"level":     level,
	})
}

// broadcastCollection pushes collection changes to feed clients.
func broadcastCollection() {
	feed.Broadcast("collection", map[string]interface{}{
		"count":      len(coll.Notes()),
		"last_error": coll.LastError(),
	})
}

func setLastAction(action string) {
	statusMu.Lock()
	lastAction = action
	lastErr = ""
	statusMu.Unlock()
}

func setLastError(msg string) {
	statusMu.Lock()
	lastErr = msg
	statusMu.Unlock()
}

// writeStatus updates the status.json file.
func writeStatus() error {
	statusMu.Lock()
	level := inputLevel
	action := lastAction
	errMsg := lastErr
	statusMu.Unlock()

	status := ipc.StatusSnapshot{
		Recording:      session.IsRecording(),
		ElapsedSeconds: int(session.Elapsed().Seconds()),
		InputLevel:     level,
		NoteCount:      len(coll.Notes()),
		LastAction:     action,
		LastError:      errMsg,
		Timestamp:      time.Now(),
	}

	if pipe := currentPipe(); pipe != nil {
		st := pipe.State()
		status.OpenNoteID = st.Note.ID.String()
		status.Transcribing = st.IsTranscribing
		status.Summarizing = st.IsSummarizing
		if st.ErrorMessage != "" && errMsg == "" {
			status.LastError = st.ErrorMessage
		}
	}

	return ipc.WriteStatus(&status)
}

// watchCommands monitors cmd.txt for control commands.
func watchCommands() {
	cmdPath := filepath.Join(os.Getenv("HOME"), ".cache", "lectured", "cmd.txt")
	cmdDir := filepath.Dir(cmdPath)
	_ = os.MkdirAll(cmdDir, 0755)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errLog.Printf("fsnotify not available, falling back to polling: %v", err)
		watchCommandsWithPolling(cmdPath)
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			errLog.Printf("Failed to close watcher: %v", err)
		}
	}()

	if err := watcher.Add(cmdDir); err != nil {
		errLog.Printf("Failed to watch command directory, falling back to polling: %v", err)
		watchCommandsWithPolling(cmdPath)
		return
	}

	outLog.Println("Command watcher started (using fsnotify)")

	// Fallback polling ticker in case fsnotify misses events
	pollTicker := time.NewTicker(1 * time.Second)
	defer pollTicker.Stop()

	lastCheckTime := time.Now()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				outLog.Println("fsnotify watcher closed, switching to polling")
				watchCommandsWithPolling(cmdPath)
				return
			}

			if event.Name == cmdPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
				// Small delay to ensure write is complete
				time.Sleep(50 * time.Millisecond)

				cmd, err := ipc.ReadCommand()
				if err != nil || cmd == "" {
					continue
				}
				handleCommand(cmd)
				lastCheckTime = time.Now()
			}

		case <-pollTicker.C:
			if fileInfo, err := os.Stat(cmdPath); err == nil {
				if fileInfo.ModTime().After(lastCheckTime) {
					time.Sleep(50 * time.Millisecond)

					cmd, err := ipc.ReadCommand()
					if err == nil && cmd != "" {
						handleCommand(cmd)
						lastCheckTime = time.Now()
					}
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				outLog.Println("fsnotify error channel closed, switching to polling")
				watchCommandsWithPolling(cmdPath)
				return
			}
			errLog.Printf("File watcher error: %v", err)
		}
	}
}

// watchCommandsWithPolling is a pure polling-based fallback.
func watchCommandsWithPolling(cmdPath string) {
	outLog.Println("Command watcher started (using polling fallback, 1s interval)")

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	lastCheckTime := time.Now()

	for range ticker.C {
		fileInfo, err := os.Stat(cmdPath)
		if err != nil {
			continue
		}
		if fileInfo.ModTime().After(lastCheckTime) {
			time.Sleep(50 * time.Millisecond)

			cmd, err := ipc.ReadCommand()
			if err == nil && cmd != "" {
				handleCommand(cmd)
			}
			lastCheckTime = time.Now()
		}
	}
}

// handleCommand processes control commands.
func handleCommand(cmd ipc.Command) {
	outLog.Printf("Received command: %s", cmd)

	switch cmd {
	case ipc.CmdStart:
		startRecording()

	case ipc.CmdStop:
		stopRecording()

	case ipc.CmdToggle:
		if session.IsRecording() {
			stopRecording()
		} else {
			startRecording()
		}

	case ipc.CmdTranscribe:
		if pipe := currentPipe(); pipe != nil {
			pipe.Transcribe()
			setLastAction("transcribe_requested")
		} else {
			setLastError("No open note to transcribe.")
		}

	case ipc.CmdSummarize:
		if pipe := currentPipe(); pipe != nil {
			pipe.GenerateSummary()
			setLastAction("summary_requested")
		} else {
			setLastError("No open note to summarize.")
		}

	case ipc.CmdExport:
		if pipe := currentPipe(); pipe != nil {
			if err := pipe.ExportPDF(); err != nil {
				setLastError("Export failed: " + err.Error())
			} else {
				setLastAction("export_requested")
			}
		} else {
			setLastError("No open note to export.")
		}

	case ipc.CmdQuit:
		outLog.Println("Quit command received - shutting down")
		select {
		case quitChan <- struct{}{}:
		default:
		}

	default:
		errLog.Printf("Unknown command: %s", cmd)
	}

	if err := writeStatus(); err != nil {
		errLog.Printf("Failed to write status after command: %v", err)
	}
}

// initLogging sets up log files with rotation support.
func initLogging() error {
	logDir := "/tmp"

	outLogPath := filepath.Join(logDir, "lectured-core.out.log")
	errLogPath := filepath.Join(logDir, "lectured-core.err.log")

	if err := rotateLogIfNeeded(outLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate out log: %v\n", err)
	}
	if err := rotateLogIfNeeded(errLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate err log: %v\n", err)
	}

	outFile, err := os.OpenFile(outLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	errFile, err := os.OpenFile(errLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	outLog = log.New(outFile, logPrefix+" ", log.LstdFlags)
	errLog = log.New(errFile, logPrefix+" ERROR: ", log.LstdFlags)
	return nil
}

// rotateLogIfNeeded rotates a log file if it exceeds maxSize bytes.
func rotateLogIfNeeded(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	oldPath := logPath + ".old"
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old log: %w", err)
	}
	return os.Rename(logPath, oldPath)
}
