package capture

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultMeterInterval is the level sampling cadence.
	DefaultMeterInterval = 50 * time.Millisecond
	// DefaultSmoothing is the EMA factor applied to raw levels so the UI
	// shows continuous rather than jumpy feedback.
	DefaultSmoothing = 0.2
)

// LevelMeter polls a level source at a fixed cadence and smooths readings
// with an exponential moving average. Polling runs off the capture path so
// metering can never block the recording itself.
type LevelMeter struct {
	interval  time.Duration
	smoothing float64

	mu      sync.Mutex
	stop    chan struct{}
	current float64
}

// NewLevelMeter creates a meter with the given cadence and EMA factor.
func NewLevelMeter(interval time.Duration, smoothing float64) *LevelMeter {
	if interval <= 0 {
		interval = DefaultMeterInterval
	}
	if smoothing <= 0 || smoothing > 1 {
		smoothing = DefaultSmoothing
	}
	return &LevelMeter{interval: interval, smoothing: smoothing}
}

// Start begins polling source, delivering smoothed values to onLevel. Any
// previous polling loop is stopped first.
func (m *LevelMeter) Start(source func() float64, onLevel func(float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()
	m.current = 0
	stop := make(chan struct{})
	m.stop = stop

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				raw := clamp01(source())

				m.mu.Lock()
				m.current = m.current + m.smoothing*(raw-m.current)
				level := m.current
				m.mu.Unlock()

				onLevel(level)
			}
		}
	}()
}

// Stop halts polling. Safe to call when not running.
func (m *LevelMeter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *LevelMeter) stopLocked() {
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// Smooth applies one EMA step; exposed for tests and for backends that
// pre-smooth their own metering.
func (m *LevelMeter) Smooth(prev, raw float64) float64 {
	return prev + m.smoothing*(raw-prev)
}

// NormalizeDB maps a power reading in dBFS to [0,1], clamping at -60 dB.
func NormalizeDB(power float64) float64 {
	const minDB = -60.0
	if power < minDB {
		power = minDB
	}
	if power > 0 {
		power = 0
	}
	return (power - minDB) / -minDB
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
