package measure

import (
	"math"
	"testing"

	"github.com/verilab/flickerlab/signal"
)

func TestDetectorRisingEdgeFrequency(t *testing.T) {
	d := NewDetector(nil)

	// Perfect 10 Hz visibility: rises at 0, 100, 200, ... ms
	for i := 0; i < 20; i++ {
		base := float64(i) * 100
		d.Observe("s1", base, true)
		d.Observe("s1", base+50, false)
	}

	got := d.ActualFrequency("s1")
	if math.Abs(got-10.0) > 1e-9 {
		t.Errorf("ActualFrequency = %v, want 10.0", got)
	}
}

func TestDetectorZeroUntilTwoRises(t *testing.T) {
	d := NewDetector(nil)

	if d.ActualFrequency("s1") != 0 {
		t.Error("frequency should be 0 before any observation")
	}

	d.Observe("s1", 0, true)
	if d.ActualFrequency("s1") != 0 {
		t.Error("frequency should be 0 after a single rise")
	}

	d.Observe("s1", 50, false)
	d.Observe("s1", 100, true)
	if d.ActualFrequency("s1") == 0 {
		t.Error("frequency should be set after the second rise")
	}
}

func TestDetectorHistoryBounded(t *testing.T) {
	d := NewDetector(nil)

	// 30 rises with drifting intervals; FIFO must stay at 10 and keep
	// only the newest intervals
	at := 0.0
	for i := 0; i < 30; i++ {
		d.Observe("s1", at, true)
		d.Observe("s1", at+10, false)
		at += 100 + float64(i) // interval grows each cycle
	}

	if n := d.HistoryLen("s1"); n != 10 {
		t.Fatalf("history length = %d, want 10", n)
	}

	// The oldest retained interval corresponds to cycle 19->20, i.e.
	// interval 100+19; the average must exceed the frequency implied by
	// the newest interval and stay below the one implied by the oldest
	tr := d.Tracker("s1")
	newest := 1000.0 / (100 + 28)
	oldest := 1000.0 / (100 + 19)
	if tr.Avg < newest || tr.Avg > oldest {
		t.Errorf("avg %v outside retained window [%v, %v]", tr.Avg, newest, oldest)
	}
}

func TestDetectorEdgeCallbackOrder(t *testing.T) {
	type ev struct {
		id   string
		at   float64
		edge Edge
	}
	var got []ev
	d := NewDetector(func(id string, at float64, e Edge) {
		got = append(got, ev{id, at, e})
	})

	d.Observe("s1", 0, true)
	d.Observe("s1", 16, true) // no transition
	d.Observe("s1", 33, false)
	d.Observe("s1", 50, true)

	want := []ev{
		{"s1", 0, EdgeRise},
		{"s1", 33, EdgeFall},
		{"s1", 50, EdgeRise},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDetectorReset(t *testing.T) {
	d := NewDetector(nil)
	d.Observe("s1", 0, true)
	d.Observe("s1", 100, false)
	d.Reset()

	if d.Tracker("s1") != nil {
		t.Error("trackers should be discarded on reset")
	}
	if d.ActualFrequency("s1") != 0 {
		t.Error("frequency should be 0 after reset")
	}
}

func TestFallbackEstimate(t *testing.T) {
	tests := []struct {
		fps, target, want float64
	}{
		{60, 10, 10},  // 60/round(6) = 10
		{60, 8, 7.5},  // 60/round(7.5) = 60/8
		{60, 0, 0},
		{0, 10, 0},
		{60, 100, 60}, // round(0.6) = 1
		{60, 200, 0},  // round(0.3) = 0
	}
	for _, tt := range tests {
		got := FallbackEstimate(tt.fps, tt.target)
		if math.Abs(got-tt.want) > 0.001 {
			t.Errorf("FallbackEstimate(%v, %v) = %v, want %v", tt.fps, tt.target, got, tt.want)
		}
	}
}

// TestSquareWaveMeasuredFrequency drives the detector from the signal
// generator at an exact 60 fps cadence: a 10 Hz square target over 1 s
// must produce 10 rising edges and an average within half a hertz.
func TestSquareWaveMeasuredFrequency(t *testing.T) {
	rises := 0
	d := NewDetector(func(id string, at float64, e Edge) {
		if e == EdgeRise {
			rises++
		}
	})

	const frameMs = 1000.0 / 60.0
	for frame := 0; frame < 60; frame++ {
		elapsed := float64(frame) * frameMs
		s := signal.Evaluate(elapsed, 10, signal.WaveSquare)
		d.Observe("s1", elapsed, s.Visible)
	}

	if rises != 10 {
		t.Errorf("rising edges = %d, want 10", rises)
	}
	if got := d.ActualFrequency("s1"); math.Abs(got-10.0) > 0.5 {
		t.Errorf("avg frequency = %v, want 10.0 +-0.5", got)
	}
}

// TestQuantizationConvergence checks that finer refresh rates drive the
// measured square-wave frequency toward the configured value.
func TestQuantizationConvergence(t *testing.T) {
	const target = 7.0 // deliberately not a divisor of common refresh rates

	errAt := func(fps float64) float64 {
		d := NewDetector(nil)
		frameMs := 1000.0 / fps
		for frame := 0; float64(frame)*frameMs < 5000; frame++ {
			elapsed := float64(frame) * frameMs
			s := signal.Evaluate(elapsed, target, signal.WaveSquare)
			d.Observe("s1", elapsed, s.Visible)
		}
		return math.Abs(d.ActualFrequency("s1") - target)
	}

	coarse := errAt(60)
	fine := errAt(960)
	if fine > coarse+1e-9 {
		t.Errorf("error did not shrink with refresh rate: 60fps=%v 960fps=%v", coarse, fine)
	}
	if fine > 0.1 {
		t.Errorf("error at 960fps = %v, want < 0.1", fine)
	}
}
