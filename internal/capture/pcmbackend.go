package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// PCMConfig configures the exec-based capture backend. The command must
// write 16-bit little-endian PCM to stdout until terminated, e.g.
//
//	ffmpeg -f avfoundation -i :0 -ac 1 -ar 44100 -f s16le -   (macOS)
//	arecord -q -f S16_LE -r 44100 -c 1 -t raw                 (Linux)
type PCMConfig struct {
	Command            string
	Args               []string
	NoiseReductionArgs []string // appended when noise reduction is requested
	SampleRate         int      // default 44100
	Channels           int      // default 1
}

// PCMBackend captures audio by running an external command and streaming
// its raw PCM output into a WAV file, computing input levels from the
// sample stream as it goes. One backend instance is the process-wide
// capture resource.
type PCMBackend struct {
	cfg PCMConfig

	mu             sync.Mutex
	cmd            *exec.Cmd
	wav            *wavWriter
	path           string
	startedAt      time.Time
	stopping       bool
	noiseReduction bool
	readerDone     chan struct{}
	onInterrupt    func(reason string)

	level atomic.Uint64 // math.Float64bits of the latest normalized level
}

// NewPCMBackend creates the backend; defaults are applied on first use.
func NewPCMBackend(cfg PCMConfig) *PCMBackend {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &PCMBackend{cfg: cfg}
}

// CheckPermission reports whether capture is possible. Exec-based capture
// has no portable permission API; denial surfaces when the capture command
// itself fails, which the session reports as a configuration failure.
func (b *PCMBackend) CheckPermission() error {
	return nil
}

// Configure verifies the capture command exists and stores the noise
// reduction preference for the next Start.
func (b *PCMBackend) Configure(noiseReduction bool) error {
	if b.cfg.Command == "" {
		return fmt.Errorf("no capture command configured")
	}
	if _, err := exec.LookPath(b.cfg.Command); err != nil {
		return fmt.Errorf("capture command %q not found: %w", b.cfg.Command, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.noiseReduction = noiseReduction
	return nil
}

// Start launches the capture command writing into path.
func (b *PCMBackend) Start(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmd != nil {
		return fmt.Errorf("capture already running")
	}

	args := append([]string{}, b.cfg.Args...)
	if b.noiseReduction {
		args = append(args, b.cfg.NoiseReductionArgs...)
	}

	wav, err := newWAVWriter(path, b.cfg.SampleRate, b.cfg.Channels)
	if err != nil {
		return err
	}

	cmd := exec.Command(b.cfg.Command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		wav.Close()
		return fmt.Errorf("capture stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		wav.Close()
		return fmt.Errorf("start capture command: %w", err)
	}

	b.cmd = cmd
	b.wav = wav
	b.path = path
	b.startedAt = time.Now()
	b.stopping = false
	b.readerDone = make(chan struct{})
	b.level.Store(math.Float64bits(0))

	go b.readLoop(stdout, b.readerDone)
	return nil
}

// readLoop drains PCM from the capture process, appending to the WAV file
// and updating the meter level per chunk.
func (b *PCMBackend) readLoop(r io.Reader, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			b.mu.Lock()
			if b.wav != nil {
				_, _ = b.wav.Write(chunk)
			}
			b.mu.Unlock()
			b.level.Store(math.Float64bits(NormalizeDB(rmsDB(chunk))))
		}
		if err != nil {
			break
		}
	}

	// Process ended. If nobody asked it to stop, the device was lost.
	b.mu.Lock()
	interrupted := !b.stopping && b.cmd != nil
	fn := b.onInterrupt
	b.mu.Unlock()

	if interrupted && fn != nil {
		fn("capture process exited unexpectedly")
	}
}

// Stop terminates the capture command, finalizes the WAV file, and returns
// the completed recording.
func (b *PCMBackend) Stop() (Result, error) {
	b.mu.Lock()
	if b.cmd == nil {
		b.mu.Unlock()
		return Result{}, fmt.Errorf("capture not running")
	}
	b.stopping = true
	cmd := b.cmd
	done := b.readerDone
	b.mu.Unlock()

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()
	<-done

	b.mu.Lock()
	defer b.mu.Unlock()

	result := Result{
		OutputPath: b.path,
		StartedAt:  b.startedAt,
		Duration:   time.Since(b.startedAt),
	}
	err := b.wav.Close()
	b.cmd = nil
	b.wav = nil
	b.path = ""
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// Abort kills the capture command and discards the writer. The caller owns
// removal of the partial file.
func (b *PCMBackend) Abort() {
	b.mu.Lock()
	if b.cmd == nil {
		b.mu.Unlock()
		return
	}
	b.stopping = true
	cmd := b.cmd
	wav := b.wav
	b.cmd = nil
	b.wav = nil
	b.path = ""
	b.mu.Unlock()

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()
	if wav != nil {
		_ = wav.Close()
	}
}

// Level returns the latest normalized input level in [0,1].
func (b *PCMBackend) Level() float64 {
	return math.Float64frombits(b.level.Load())
}

// OnInterrupt registers the device-loss callback.
func (b *PCMBackend) OnInterrupt(fn func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onInterrupt = fn
}

// rmsDB computes the RMS power of a 16-bit LE PCM chunk in dBFS.
func rmsDB(chunk []byte) float64 {
	samples := len(chunk) / 2
	if samples == 0 {
		return -60
	}
	var sum float64
	for i := 0; i+1 < len(chunk); i += 2 {
		s := int16(binary.LittleEndian.Uint16(chunk[i : i+2]))
		v := float64(s) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(samples))
	if rms <= 0 {
		return -60
	}
	return 20 * math.Log10(rms)
}
