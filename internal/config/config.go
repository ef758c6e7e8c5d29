// Package config loads the lectured application configuration from
// ~/.config/lectured/config.json, falling back to the bundled default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// CaptureConfig configures the audio capture backend.
type CaptureConfig struct {
	Command            string   `json:"command"`              // produces s16le PCM on stdout
	Args               []string `json:"args"`                 //
	NoiseReduction     bool     `json:"noise_reduction"`      // request noise reduction on start
	NoiseReductionArgs []string `json:"noise_reduction_args"` // appended when noise reduction is on
	SampleRate         int      `json:"sample_rate"`          // default 44100
	Channels           int      `json:"channels"`             // default 1
}

// RemoteTranscriptionConfig configures the Whisper HTTP API backend.
type RemoteTranscriptionConfig struct {
	BaseURL        string `json:"base_url"`
	Token          string `json:"token"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Retries        int    `json:"retries"`
}

// CLITranscriptionConfig configures the local whisper CLI backend.
type CLITranscriptionConfig struct {
	BinaryPath     string `json:"binary_path"`
	ModelPath      string `json:"model_path"`
	Model          string `json:"model"`
	Threads        int    `json:"threads"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// TranscriptionConfig selects and configures speech-to-text backends.
type TranscriptionConfig struct {
	Primary  string                    `json:"primary"`  // "whisper_api" | "whisper_cli"
	Fallback string                    `json:"fallback"` // optional
	Language string                    `json:"language"` // "" = auto-detect
	Remote   RemoteTranscriptionConfig `json:"remote"`
	CLI      CLITranscriptionConfig    `json:"cli"`
}

// PlaybackConfig configures the external audio player.
type PlaybackConfig struct {
	Command string   `json:"command"` // "" = platform default
	Args    []string `json:"args"`
}

// Config is the full application configuration.
type Config struct {
	StorageDir      string              `json:"storage_dir"`       // default ~/.local/share/lectured
	NotesFilename   string              `json:"notes_filename"`    // default lectures.json
	AudioDirName    string              `json:"audio_dir_name"`    // default recordings
	ExportDirName   string              `json:"export_dir_name"`   // default exports
	AutosaveDelayMS int                 `json:"autosave_delay_ms"` // default 500
	FeedAddr        string              `json:"feed_addr"`         // default 127.0.0.1:8760
	Capture         CaptureConfig       `json:"capture"`
	Transcription   TranscriptionConfig `json:"transcription"`
	Playback        PlaybackConfig      `json:"playback"`
}

// Load reads configuration from ~/.config/lectured/config.json.
// Falls back to configs/default-config.json if the user config doesn't
// exist; defaults are applied either way.
func Load() (*Config, error) {
	configDir := filepath.Join(os.Getenv("HOME"), ".config", "lectured")
	userConfigPath := filepath.Join(configDir, "config.json")

	data, err := os.ReadFile(userConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			defaultPath := "configs/default-config.json"
			data, err = os.ReadFile(defaultPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}

			// Create user config directory for future saves
			if err := os.MkdirAll(configDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create config directory: %w", err)
			}
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes configuration to ~/.config/lectured/config.json.
func Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	configDir := filepath.Join(os.Getenv("HOME"), ".config", "lectured")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configDir, "config.json"), data, 0644)
}

func (c *Config) applyDefaults() {
	if c.StorageDir == "" {
		c.StorageDir = filepath.Join(os.Getenv("HOME"), ".local", "share", "lectured")
	}
	if c.NotesFilename == "" {
		c.NotesFilename = "lectures.json"
	}
	if c.AudioDirName == "" {
		c.AudioDirName = "recordings"
	}
	if c.ExportDirName == "" {
		c.ExportDirName = "exports"
	}
	if c.AutosaveDelayMS <= 0 {
		c.AutosaveDelayMS = 500
	}
	if c.FeedAddr == "" {
		c.FeedAddr = "127.0.0.1:8760"
	}
	if c.Capture.SampleRate <= 0 {
		c.Capture.SampleRate = 44100
	}
	if c.Capture.Channels <= 0 {
		c.Capture.Channels = 1
	}
	if c.Capture.Command == "" {
		if runtime.GOOS == "darwin" {
			c.Capture.Command = "ffmpeg"
			c.Capture.Args = []string{"-f", "avfoundation", "-i", ":0", "-ac", "1", "-ar", "44100", "-f", "s16le", "-loglevel", "quiet", "-"}
		} else {
			c.Capture.Command = "arecord"
			c.Capture.Args = []string{"-q", "-f", "S16_LE", "-r", "44100", "-c", "1", "-t", "raw"}
		}
	}
	if c.Transcription.Primary == "" {
		c.Transcription.Primary = "whisper_api"
	}
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.AutosaveDelayMS < 50 || c.AutosaveDelayMS > 10000 {
		return fmt.Errorf("autosave_delay_ms must be between 50 and 10000, got %d", c.AutosaveDelayMS)
	}
	switch c.Transcription.Primary {
	case "whisper_api", "whisper_cli":
	default:
		return fmt.Errorf("unknown transcription backend %q", c.Transcription.Primary)
	}
	if fb := c.Transcription.Fallback; fb != "" && fb != "whisper_api" && fb != "whisper_cli" {
		return fmt.Errorf("unknown transcription fallback %q", fb)
	}
	return nil
}

// NotesPath returns the full path of the note store file.
func (c *Config) NotesPath() string {
	return filepath.Join(c.StorageDir, c.NotesFilename)
}

// AudioDir returns the directory recordings are written to.
func (c *Config) AudioDir() string {
	return filepath.Join(c.StorageDir, c.AudioDirName)
}

// ExportDir returns the directory rendered exports are written to.
func (c *Config) ExportDir() string {
	return filepath.Join(c.StorageDir, c.ExportDirName)
}
