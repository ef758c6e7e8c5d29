package capture

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/tiroq/lectured/testutil"
)

func TestSmoothEMA(t *testing.T) {
	m := NewLevelMeter(DefaultMeterInterval, 0.2)

	got := m.Smooth(0.5, 1.0)
	if math.Abs(got-0.6) > 1e-9 {
		t.Errorf("Smooth(0.5, 1.0) = %v, want 0.6", got)
	}

	got = m.Smooth(0.5, 0.5)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("steady input should be unchanged, got %v", got)
	}
}

func TestNormalizeDB(t *testing.T) {
	tests := []struct {
		db       float64
		expected float64
	}{
		{0, 1.0},
		{-60, 0.0},
		{-30, 0.5},
		{-100, 0.0}, // clamped at the floor
		{10, 1.0},   // clamped at the ceiling
	}

	for _, tt := range tests {
		got := NormalizeDB(tt.db)
		if math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("NormalizeDB(%v) = %v, want %v", tt.db, got, tt.expected)
		}
	}
}

func TestMeterDeliversSmoothedLevels(t *testing.T) {
	m := NewLevelMeter(5*time.Millisecond, 0.2)

	var mu sync.Mutex
	var levels []float64

	m.Start(func() float64 { return 1.0 }, func(level float64) {
		mu.Lock()
		levels = append(levels, level)
		mu.Unlock()
	})
	defer m.Stop()

	testutil.AssertEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) >= 3
	}, 2*time.Second, 5*time.Millisecond, "meter should deliver samples")

	mu.Lock()
	defer mu.Unlock()

	// With a constant 1.0 source and EMA 0.2 starting at 0 the series must
	// be strictly increasing towards 1.
	if levels[0] <= 0 || levels[0] >= 1 {
		t.Errorf("first sample out of range: %v", levels[0])
	}
	for i := 1; i < 3; i++ {
		if levels[i] <= levels[i-1] {
			t.Errorf("levels should rise towards the source: %v", levels[:3])
		}
	}
}

func TestMeterStopHaltsDelivery(t *testing.T) {
	m := NewLevelMeter(5*time.Millisecond, 0.2)

	var n int
	var mu sync.Mutex

	m.Start(func() float64 { return 0.5 }, func(float64) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	testutil.AssertEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n > 0
	}, 2*time.Second, 5*time.Millisecond, "meter should start delivering")

	m.Stop()
	mu.Lock()
	after := n
	mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	final := n
	mu.Unlock()
	if final > after+1 {
		t.Errorf("deliveries continued after Stop: %d -> %d", after, final)
	}
}

func TestClampedSource(t *testing.T) {
	m := NewLevelMeter(5*time.Millisecond, 1.0)

	var mu sync.Mutex
	var last float64

	m.Start(func() float64 { return 5.0 }, func(level float64) {
		mu.Lock()
		last = level
		mu.Unlock()
	})
	defer m.Stop()

	testutil.AssertEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last > 0
	}, 2*time.Second, 5*time.Millisecond, "meter should deliver")

	mu.Lock()
	defer mu.Unlock()
	if last > 1.0 {
		t.Errorf("levels must be clamped to [0,1], got %v", last)
	}
}
