package engine

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verilab/flickerlab/core"
	"github.com/verilab/flickerlab/measure"
	"github.com/verilab/flickerlab/signal"
	"github.com/verilab/flickerlab/status"
)

// Item is one canvas element supplied by the configuration layer.
// Non-stimulus items (labels, fixation crosses) render steady and are not
// measured.
type Item struct {
	ID        string
	Stimulus  bool
	Label     string
	Frequency float64 // Hz, <= 0 means unset
	Waveform  signal.Waveform
}

// Presenter draws the per-tick stimulation states. ExitFullscreen starts
// the asynchronous fullscreen teardown and returns a channel closed when
// the operation settles; the controller races it against a fixed timeout.
type Presenter interface {
	Apply(states map[string]signal.Sample, stats Stats)
	ExitFullscreen() <-chan struct{}
}

// Stats is the read-only view exposed to the UI layer
type Stats struct {
	ActualFrequencies map[string]float64 `json:"actual_frequencies"`
	FrameRate         float64            `json:"frame_rate"`
	IsRunning         bool               `json:"is_running"`
}

// Config carries everything the frame loop needs for one run
type Config struct {
	Items []Item

	// Duration bounds the run; 0 means run until stopped
	Duration time.Duration

	// TickInterval is the target refresh period, default 1/60 s
	TickInterval time.Duration

	// FinalizeTimeout bounds the wait for fullscreen exit on stop, default 1 s
	FinalizeTimeout time.Duration

	// OnEdge is called for each detected transition, e.g. to pulse a
	// hardware trigger line. May be nil.
	OnEdge func(stimID string, edge measure.Edge)

	// OnStats is called once per closed stats window. May be nil.
	OnStats func(Stats)
}

// runState is the per-run control block; a fresh one is allocated on every
// start so stale backstop timers can never touch a later run
type runState struct {
	stopChan chan struct{}
	stopOnce sync.Once

	// one-shot latch shared by the per-tick duration check and the coarse
	// backstop timer, guaranteeing a single stop signal per run
	latch atomic.Bool
}

func (rs *runState) signalStop() {
	rs.stopOnce.Do(func() {
		close(rs.stopChan)
	})
}

// Controller advances the stimulation once per display refresh while
// running. All run state is owned by the loop goroutine; cross-goroutine
// reads go through the stats snapshot and the status registry.
type Controller struct {
	log       *log.Logger
	clock     TimeSource
	presenter Presenter
	session   *measure.Session
	reg       *status.Registry

	cfg      Config
	detector *measure.Detector
	states   map[string]signal.Sample

	running atomic.Bool
	run     atomic.Pointer[runState]
	wg      sync.WaitGroup

	backstop *time.Timer

	runStart       time.Time
	frameCount     uint64
	windowStart    time.Time
	framesInWindow int

	statTicks   *atomic.Int64
	statFPS     *status.AtomicFloat
	statRunning *atomic.Bool

	statsMu sync.RWMutex
	stats   Stats
}

// NewController wires a frame loop. session, presenter and reg may be nil;
// logger defaults to the process logger.
func NewController(cfg Config, clock TimeSource, presenter Presenter, session *measure.Session, reg *status.Registry, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	if clock == nil {
		clock = NewTimeProvider()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second / 60
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = time.Second
	}
	if reg == nil {
		reg = status.NewRegistry()
	}

	c := &Controller{
		log:         logger,
		clock:       clock,
		presenter:   presenter,
		session:     session,
		reg:         reg,
		cfg:         cfg,
		states:      make(map[string]signal.Sample),
		statTicks:   reg.Ints.Get("engine.ticks"),
		statFPS:     reg.Floats.Get("engine.fps"),
		statRunning: reg.Bools.Get("engine.running"),
		stats:       Stats{ActualFrequencies: make(map[string]float64)},
	}
	c.detector = measure.NewDetector(c.handleEdge)
	return c
}

// Registry exposes the metric registry backing this controller
func (c *Controller) Registry() *status.Registry {
	return c.reg
}

// IsRunning reports whether a run is active
func (c *Controller) IsRunning() bool {
	return c.running.Load()
}

// Start begins a run. Returns false if one is already active.
func (c *Controller) Start() bool {
	if !c.running.CompareAndSwap(false, true) {
		return false
	}

	rs := c.beginRun(c.clock.Now())

	c.wg.Add(1)
	core.Go(func() {
		defer c.wg.Done()
		c.runLoop(rs)
	})
	return true
}

// Stop issues the stop signal for the active run and waits for the loop to
// finalize. Safe to call repeatedly and from any goroutine.
func (c *Controller) Stop() {
	rs := c.run.Load()
	if rs == nil {
		return
	}
	rs.signalStop()
	c.wg.Wait()
}

// Wait blocks until the active run has finalized
func (c *Controller) Wait() {
	c.wg.Wait()
}

// beginRun resets all per-run bookkeeping. Split from Start so tests can
// drive ticks without the real-time loop goroutine.
func (c *Controller) beginRun(now time.Time) *runState {
	rs := &runState{stopChan: make(chan struct{})}
	c.run.Store(rs)

	c.runStart = now
	c.windowStart = now
	c.framesInWindow = 0
	c.frameCount = 0
	c.detector.Reset()
	c.states = make(map[string]signal.Sample)
	c.statRunning.Store(true)

	if c.session != nil && c.session.State() == measure.SessionPrepared {
		c.session.Start(now)
	}

	// Coarse backstop: fires the same latched stop signal if the per-tick
	// duration check is starved. Captures this run's state only.
	if c.cfg.Duration > 0 {
		c.backstop = time.AfterFunc(c.cfg.Duration, func() {
			if rs.latch.CompareAndSwap(false, true) {
				c.log.Printf("engine: duration backstop fired")
				rs.signalStop()
			}
		})
	}

	c.setStats(func(s *Stats) {
		s.IsRunning = true
		s.FrameRate = 0
		s.ActualFrequencies = make(map[string]float64)
	})
	c.log.Printf("engine: run started (%d items, duration %v)", len(c.cfg.Items), c.cfg.Duration)
	return rs
}

// runLoop drives ticks on the real clock with drift-corrected deadlines
func (c *Controller) runLoop(rs *runState) {
	interval := c.cfg.TickInterval
	deadline := c.clock.Now().Add(interval)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	defer timer.Stop()

	for {
		select {
		case <-rs.stopChan:
			c.shutdown()
			return
		default:
		}

		now := c.clock.Now()
		if !now.Before(deadline) {
			c.step(rs, now)

			deadline = deadline.Add(interval)
			if now.Sub(deadline) > 2*interval {
				// Fell too far behind; resynchronize instead of bursting
				deadline = now.Add(interval)
			}
		}

		sleep := deadline.Sub(c.clock.Now())
		if sleep > 0 {
			timer.Reset(sleep)
			select {
			case <-timer.C:
			case <-rs.stopChan:
				c.shutdown()
				return
			}
		}
	}
}

// step executes one tick at the given time. Any failure here must degrade,
// never halt the loop.
func (c *Controller) step(rs *runState, now time.Time) {
	elapsed := now.Sub(c.runStart)

	if c.cfg.Duration > 0 && elapsed >= c.cfg.Duration {
		if rs.latch.CompareAndSwap(false, true) {
			rs.signalStop()
		}
		return
	}

	elapsedMs := float64(elapsed) / float64(time.Millisecond)

	for _, item := range c.cfg.Items {
		if !item.Stimulus {
			c.states[item.ID] = signal.Sample{Visible: true, Brightness: 1}
			continue
		}
		s := signal.Evaluate(elapsedMs, item.Frequency, item.Waveform)
		if item.Frequency > 0 {
			// Edge detection records toggles before the frame advances,
			// so each toggle lands inside the current frame interval
			c.detector.Observe(item.ID, elapsedMs, s.Visible)
		}
		c.states[item.ID] = s
	}

	if c.session != nil {
		c.session.RecordFrame(now)
	}

	c.frameCount++
	c.statTicks.Store(int64(c.frameCount))

	c.framesInWindow++
	if windowElapsed := now.Sub(c.windowStart); windowElapsed >= time.Second {
		fps := float64(c.framesInWindow) * 1000 /
			(float64(windowElapsed) / float64(time.Millisecond))
		c.framesInWindow = 0
		c.windowStart = now
		c.closeStatsWindow(fps)
	}

	if c.presenter != nil {
		c.presenter.Apply(c.states, c.Stats())
	}
}

// handleEdge bridges detector transitions to the session and external hooks
func (c *Controller) handleEdge(stimID string, atMs float64, edge measure.Edge) {
	if c.session != nil {
		ts := c.runStart.Add(time.Duration(atMs * float64(time.Millisecond)))
		c.session.RecordToggle(stimID, ts, edge)
	}
	if c.cfg.OnEdge != nil {
		c.cfg.OnEdge(stimID, edge)
	}
}

// closeStatsWindow refreshes the displayed frequencies at the end of each
// rolling 1-second window, preferring measured averages and falling back
// to the refresh-quantization estimate before enough edges exist
func (c *Controller) closeStatsWindow(fps float64) {
	c.statFPS.Set(fps)
	if c.session != nil {
		c.session.SetRefreshHz(fps)
	}

	freqs := make(map[string]float64, len(c.cfg.Items))
	for _, item := range c.cfg.Items {
		if !item.Stimulus || item.Frequency <= 0 {
			continue
		}
		hz := c.detector.ActualFrequency(item.ID)
		if hz == 0 {
			hz = measure.FallbackEstimate(fps, item.Frequency)
		}
		freqs[item.ID] = hz
		c.reg.Floats.Get("stim." + item.ID + ".hz").Set(hz)
	}

	c.setStats(func(s *Stats) {
		s.FrameRate = fps
		s.ActualFrequencies = freqs
	})

	if c.cfg.OnStats != nil {
		c.cfg.OnStats(c.Stats())
	}
}

// shutdown cancels timers, races the fullscreen exit against the finalize
// timeout and completes the stop sequence. Runs once per run, always on
// the loop goroutine.
func (c *Controller) shutdown() {
	if c.backstop != nil {
		c.backstop.Stop()
		c.backstop = nil
	}

	if c.presenter != nil {
		select {
		case <-c.presenter.ExitFullscreen():
		case <-time.After(c.cfg.FinalizeTimeout):
			c.log.Printf("engine: fullscreen exit timed out, finalizing anyway")
		}
	}

	c.finalize()
}

// finalize clears run state and completes a recording session exactly once
func (c *Controller) finalize() {
	if c.session != nil && c.session.State() == measure.SessionRecording {
		c.session.Finish()
	}

	c.detector.Reset()
	c.states = make(map[string]signal.Sample)

	// Per-stimulus gauges follow the run; the snapshot in Stats persists
	for _, item := range c.cfg.Items {
		if item.Stimulus && item.Frequency > 0 {
			c.reg.Floats.Drop("stim." + item.ID + ".hz")
		}
	}
	c.statRunning.Store(false)
	c.running.Store(false)

	c.setStats(func(s *Stats) {
		s.IsRunning = false
	})
	c.log.Printf("engine: run stopped after %d frames", c.frameCount)
}

// Stats returns a point-in-time copy of the read-only stats view
func (c *Controller) Stats() Stats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()

	out := Stats{
		FrameRate:         c.stats.FrameRate,
		IsRunning:         c.stats.IsRunning,
		ActualFrequencies: make(map[string]float64, len(c.stats.ActualFrequencies)),
	}
	for k, v := range c.stats.ActualFrequencies {
		out.ActualFrequencies[k] = v
	}
	return out
}

// States returns a copy of the current per-item visual states.
// The states map is owned by the loop goroutine; call this from the
// presenter callback or while no run is active.
func (c *Controller) States() map[string]signal.Sample {
	out := make(map[string]signal.Sample, len(c.states))
	for k, v := range c.states {
		out[k] = v
	}
	return out
}

func (c *Controller) setStats(mutate func(*Stats)) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	mutate(&c.stats)
}
