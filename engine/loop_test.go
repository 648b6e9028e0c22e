package engine

import (
	"encoding/json"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verilab/flickerlab/export"
	"github.com/verilab/flickerlab/measure"
	"github.com/verilab/flickerlab/signal"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakePresenter counts applies and lets tests control how the fullscreen
// exit settles
type fakePresenter struct {
	applies   atomic.Int32
	exitDelay time.Duration
	exits     atomic.Int32
}

func (p *fakePresenter) Apply(states map[string]signal.Sample, stats Stats) {
	p.applies.Add(1)
}

func (p *fakePresenter) ExitFullscreen() <-chan struct{} {
	p.exits.Add(1)
	done := make(chan struct{})
	if p.exitDelay == 0 {
		close(done)
		return done
	}
	go func() {
		time.Sleep(p.exitDelay)
		close(done)
	}()
	return done
}

type memDeliverer struct {
	artifacts []export.Artifact
}

func (m *memDeliverer) Deliver(a export.Artifact) error {
	m.artifacts = append(m.artifacts, a)
	return nil
}

// tickUntil drives the controller at an exact cadence from the run start,
// bypassing the real-time loop goroutine
func tickUntil(c *Controller, rs *runState, clock *MockTimeProvider, frameMs float64, totalMs float64) {
	steps := int(totalMs / frameMs)
	for i := 0; i <= steps; i++ {
		clock.SetTime(epoch.Add(time.Duration(float64(i) * frameMs * float64(time.Millisecond))))
		c.step(rs, clock.Now())
	}
}

func TestControllerWritesStatePerItem(t *testing.T) {
	clock := NewMockTimeProvider(epoch)
	cfg := Config{
		Items: []Item{
			{ID: "s1", Stimulus: true, Frequency: 10, Waveform: signal.WaveSquare},
			{ID: "label1", Stimulus: false},
			{ID: "nofreq", Stimulus: true, Frequency: 0},
		},
	}
	c := NewController(cfg, clock, nil, nil, nil, nil)
	rs := c.beginRun(clock.Now())

	// t=0: square phase 0 visible; advance to 60 ms: phase 1 hidden
	c.step(rs, clock.Now())
	clock.Advance(60 * time.Millisecond)
	c.step(rs, clock.Now())

	states := c.States()
	if len(states) != 3 {
		t.Fatalf("wrote %d states, want one per item", len(states))
	}
	if states["s1"].Visible {
		t.Error("s1 should be in its off half-period at 60 ms")
	}
	if st := states["label1"]; !st.Visible || st.Brightness != 1 {
		t.Errorf("non-stimulus item state = %+v, want steady bright", st)
	}
	if st := states["nofreq"]; !st.Visible || st.Brightness != 1 {
		t.Errorf("frequency-less stimulus state = %+v, want steady bright", st)
	}
}

func TestControllerMeasuresTenHertz(t *testing.T) {
	clock := NewMockTimeProvider(epoch)
	cfg := Config{
		Items: []Item{{ID: "s1", Stimulus: true, Frequency: 10, Waveform: signal.WaveSquare}},
	}
	c := NewController(cfg, clock, nil, nil, nil, nil)
	rs := c.beginRun(clock.Now())

	// Exact 60 fps for 2 seconds
	tickUntil(c, rs, clock, 1000.0/60.0, 2000)

	got := c.detector.ActualFrequency("s1")
	if math.Abs(got-10.0) > 0.5 {
		t.Errorf("measured frequency = %v, want 10.0 +-0.5", got)
	}

	stats := c.Stats()
	if stats.FrameRate < 59 || stats.FrameRate > 61 {
		t.Errorf("frame rate = %v, want about 60", stats.FrameRate)
	}
	if hz := stats.ActualFrequencies["s1"]; math.Abs(hz-10.0) > 0.5 {
		t.Errorf("stats frequency = %v, want about 10", hz)
	}
	if !stats.IsRunning {
		t.Error("stats should report running")
	}
}

func TestControllerFallbackBeforeEdges(t *testing.T) {
	clock := NewMockTimeProvider(epoch)
	cfg := Config{
		// 0.4 Hz target: no two rising edges inside the first window
		Items: []Item{{ID: "slow", Stimulus: true, Frequency: 0.4, Waveform: signal.WaveSquare}},
	}
	c := NewController(cfg, clock, nil, nil, nil, nil)
	rs := c.beginRun(clock.Now())

	tickUntil(c, rs, clock, 1000.0/60.0, 1100)

	stats := c.Stats()
	want := measure.FallbackEstimate(stats.FrameRate, 0.4)
	if got := stats.ActualFrequencies["slow"]; math.Abs(got-want) > 0.01 {
		t.Errorf("displayed frequency = %v, want fallback %v", got, want)
	}
}

func TestControllerDurationStopsExactlyOnce(t *testing.T) {
	clock := NewMockTimeProvider(epoch)
	cfg := Config{
		Items:    []Item{{ID: "s1", Stimulus: true, Frequency: 10, Waveform: signal.WaveSquare}},
		Duration: 5 * time.Second,
	}
	c := NewController(cfg, clock, nil, nil, nil, nil)
	rs := c.beginRun(clock.Now())
	if c.backstop != nil {
		c.backstop.Stop() // test drives time manually
	}

	stops := 0

	// Tick past the deadline several times; the latch must admit one signal
	for i := 0; i <= 10; i++ {
		clock.SetTime(epoch.Add(5*time.Second + time.Duration(i)*16*time.Millisecond))
		before := rs.latch.Load()
		c.step(rs, clock.Now())
		if !before && rs.latch.Load() {
			stops++
		}
	}

	if stops != 1 {
		t.Errorf("latch transitioned %d times, want exactly 1", stops)
	}
	select {
	case <-rs.stopChan:
	default:
		t.Error("stop signal was not issued")
	}

	// The backstop path must respect the same latch
	if rs.latch.CompareAndSwap(false, true) {
		t.Error("latch should already be set")
	}
}

func TestControllerStopBeforeDuration(t *testing.T) {
	clock := NewMockTimeProvider(epoch)
	cfg := Config{
		Items:    []Item{{ID: "s1", Stimulus: true, Frequency: 10, Waveform: signal.WaveSquare}},
		Duration: 5 * time.Second,
	}
	c := NewController(cfg, clock, nil, nil, nil, nil)
	rs := c.beginRun(clock.Now())

	tickUntil(c, rs, clock, 1000.0/60.0, 500)
	rs.signalStop()
	c.shutdown()

	if c.IsRunning() {
		t.Error("controller should not be running after shutdown")
	}
	if len(c.States()) != 0 {
		t.Error("stimulation states must be cleared on stop")
	}
	if c.detector.Tracker("s1") != nil {
		t.Error("edge trackers must be discarded on stop")
	}
}

func TestControllerFinalizeRacesFullscreenExit(t *testing.T) {
	clock := NewMockTimeProvider(epoch)
	p := &fakePresenter{exitDelay: 5 * time.Second} // never settles in time
	cfg := Config{
		Items:           []Item{{ID: "s1", Stimulus: true, Frequency: 10}},
		FinalizeTimeout: 50 * time.Millisecond,
	}
	c := NewController(cfg, clock, p, nil, nil, nil)
	rs := c.beginRun(clock.Now())
	c.step(rs, clock.Now())

	done := make(chan struct{})
	go func() {
		c.shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("finalization blocked on a hung fullscreen exit")
	}
	if p.exits.Load() != 1 {
		t.Errorf("fullscreen exit requested %d times, want 1", p.exits.Load())
	}
}

func TestControllerRecordsSessionEndToEnd(t *testing.T) {
	clock := NewMockTimeProvider(epoch)
	del := &memDeliverer{}
	sess := measure.NewSession(del, nil, clock.Now)
	sess.Prepare(export.Environment{Browser: "tty", Mode: "fullscreen"},
		[]export.StimMeta{{StimID: "s1", Wave: "square", FCfg: 10}}, 1, "e2e")

	cfg := Config{
		Items: []Item{{ID: "s1", Stimulus: true, Frequency: 10, Waveform: signal.WaveSquare}},
	}
	c := NewController(cfg, clock, nil, sess, nil, nil)
	rs := c.beginRun(clock.Now())

	if sess.State() != measure.SessionRecording {
		t.Fatal("prepared session should transition to recording at run start")
	}

	const frameMs = 1000.0 / 60.0
	frames := 0
	for i := 0; float64(i)*frameMs < 1000; i++ {
		clock.SetTime(epoch.Add(time.Duration(float64(i) * frameMs * float64(time.Millisecond))))
		c.step(rs, clock.Now())
		frames++
	}

	rs.signalStop()
	c.shutdown()

	if sess.State() != measure.SessionIdle {
		t.Fatal("session must be finalized to Idle on stop")
	}
	if len(del.artifacts) != 1 {
		t.Fatalf("delivered %d artifacts, want 1", len(del.artifacts))
	}

	var doc struct {
		Frames  []export.Frame  `json:"frames"`
		Toggles []export.Toggle `json:"toggles"`
	}
	if err := json.Unmarshal(del.artifacts[0].Payload, &doc); err != nil {
		t.Fatalf("payload: %v", err)
	}

	if len(doc.Frames) != frames {
		t.Errorf("exported %d frames, want %d", len(doc.Frames), frames)
	}

	// 10 Hz square over 1 s at exact 60 fps: 10 rises, 10 falls
	rises := 0
	for _, tg := range doc.Toggles {
		if tg.Edge == "rise" {
			rises++
		}
	}
	if rises != 10 {
		t.Errorf("exported %d rises, want 10", rises)
	}

	// Each toggle's t_ms coincides with a recorded frame boundary interval
	fi := 0
	for _, tg := range doc.Toggles {
		for fi < len(doc.Frames) && doc.Frames[fi].TMs < tg.TMs {
			fi++
		}
		if fi == len(doc.Frames) {
			t.Fatalf("toggle at %v ms beyond last frame", tg.TMs)
		}
	}
}

func TestControllerRealLoopStartStop(t *testing.T) {
	p := &fakePresenter{}
	cfg := Config{
		Items:        []Item{{ID: "s1", Stimulus: true, Frequency: 10, Waveform: signal.WaveSquare}},
		TickInterval: 5 * time.Millisecond,
	}
	c := NewController(cfg, nil, p, nil, nil, nil)

	if !c.Start() {
		t.Fatal("start failed")
	}
	if c.Start() {
		t.Error("second start should be rejected while running")
	}

	time.Sleep(100 * time.Millisecond)
	c.Stop()
	c.Stop() // idempotent

	if c.IsRunning() {
		t.Error("controller still running after stop")
	}
	if p.applies.Load() == 0 {
		t.Error("presenter was never applied")
	}
}

func TestControllerRealLoopDurationBackstop(t *testing.T) {
	cfg := Config{
		Items:        []Item{{ID: "s1", Stimulus: true, Frequency: 10, Waveform: signal.WaveSquare}},
		TickInterval: 5 * time.Millisecond,
		Duration:     80 * time.Millisecond,
	}
	c := NewController(cfg, nil, nil, nil, nil, nil)

	if !c.Start() {
		t.Fatal("start failed")
	}

	deadline := time.After(3 * time.Second)
	for c.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("duration never stopped the run")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestControllerRegistryFollowsRunLifecycle(t *testing.T) {
	clock := NewMockTimeProvider(epoch)
	cfg := Config{
		Items: []Item{{ID: "s1", Stimulus: true, Frequency: 10, Waveform: signal.WaveSquare}},
	}
	c := NewController(cfg, clock, nil, nil, nil, nil)
	reg := c.Registry()

	rs := c.beginRun(clock.Now())
	if !reg.BoolValues()["engine.running"] {
		t.Error("engine.running flag not set at run start")
	}

	tickUntil(c, rs, clock, 1000.0/60, 1100)

	gauges := reg.FloatValues()
	if hz, ok := gauges["stim.s1.hz"]; !ok || hz == 0 {
		t.Errorf("stim.s1.hz gauge = %v (present %t), want a measured value", hz, ok)
	}
	if gauges["engine.fps"] < 59 || gauges["engine.fps"] > 61 {
		t.Errorf("engine.fps gauge = %v, want ~60", gauges["engine.fps"])
	}
	if counts := reg.IntValues(); counts["engine.ticks"] == 0 {
		t.Error("engine.ticks counter never advanced")
	}

	c.finalize()

	if reg.BoolValues()["engine.running"] {
		t.Error("engine.running flag still set after finalize")
	}
	if _, ok := reg.FloatValues()["stim.s1.hz"]; ok {
		t.Error("per-stimulus gauge survived finalize")
	}
	// The presented snapshot outlives the registry gauges
	if len(c.Stats().ActualFrequencies) == 0 {
		t.Error("stats snapshot lost its frequencies on finalize")
	}
}
