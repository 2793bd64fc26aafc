package backoff

import (
	"testing"
	"time"
)

func TestDelayMidpointIsExactDoubling(t *testing.T) {
	// With random pinned to 0.5 the jitter term is exactly zero.
	opts := Options{Random: func() float64 { return 0.5 }}

	want := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	for attempt, expected := range want {
		if got := Delay(attempt, opts); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", attempt, expected, got)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	base := 500 * time.Millisecond
	for _, random := range []float64{0, 0.25, 0.75, 0.999} {
		opts := Options{Base: base, JitterRatio: 0.2, Random: func() float64 { return random }}
		got := Delay(2, opts)

		lo := time.Duration(float64(base) * 4 * 0.8)
		hi := time.Duration(float64(base) * 4 * 1.2)
		if got < lo || got > hi {
			t.Errorf("random=%v: delay %v outside [%v, %v]", random, got, lo, hi)
		}
	}
}

func TestDelayNegativeAttempt(t *testing.T) {
	opts := Options{Random: func() float64 { return 0.5 }}
	if got := Delay(-3, opts); got != 500*time.Millisecond {
		t.Errorf("negative attempt should clamp to 0, got %v", got)
	}
}

func TestDouble(t *testing.T) {
	tests := []struct {
		cur, max, want time.Duration
	}{
		{time.Second, 30 * time.Second, 2 * time.Second},
		{20 * time.Second, 30 * time.Second, 30 * time.Second},
		{time.Second, 0, 2 * time.Second}, // no cap
	}
	for _, tc := range tests {
		if got := Double(tc.cur, tc.max); got != tc.want {
			t.Errorf("Double(%v, %v) = %v, want %v", tc.cur, tc.max, got, tc.want)
		}
	}
}
