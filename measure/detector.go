package measure

import "math"

// historySize bounds the rising-edge interval FIFO per stimulus
const historySize = 10

// Tracker holds the per-stimulus edge state and frequency estimate.
// Trackers are created lazily on the first tick that touches a stimulus
// and discarded when the run stops.
type Tracker struct {
	Visible bool

	lastOnTime  float64
	lastOffTime float64
	hasLastOn   bool
	hasLastOff  bool

	// instantaneous and smoothed frequency in Hz
	Inst float64
	Avg  float64

	// most recent instantaneous frequencies, oldest first
	history []float64
}

// EdgeFunc receives each detected transition with its run-elapsed time in ms
type EdgeFunc func(stimID string, atMs float64, edge Edge)

// Detector consumes per-stimulus visibility sequences and maintains
// frequency estimates. Owned by the frame loop; not safe for concurrent use.
type Detector struct {
	trackers map[string]*Tracker
	onEdge   EdgeFunc
}

// NewDetector creates a detector; onEdge may be nil when nothing records edges
func NewDetector(onEdge EdgeFunc) *Detector {
	return &Detector{
		trackers: make(map[string]*Tracker),
		onEdge:   onEdge,
	}
}

// Observe feeds one tick's visibility for a stimulus, detecting edges and
// updating the smoothed frequency on each rise.
func (d *Detector) Observe(stimID string, nowMs float64, visible bool) {
	tr, ok := d.trackers[stimID]
	if !ok {
		tr = &Tracker{}
		d.trackers[stimID] = tr
	}

	switch {
	case visible && !tr.Visible:
		if tr.hasLastOn {
			interval := nowMs - tr.lastOnTime
			if interval > 0 {
				tr.Inst = 1000.0 / interval
				tr.history = append(tr.history, tr.Inst)
				if len(tr.history) > historySize {
					tr.history = tr.history[1:]
				}
				tr.Avg = mean(tr.history)
			}
		}
		tr.lastOnTime = nowMs
		tr.hasLastOn = true
		if d.onEdge != nil {
			d.onEdge(stimID, nowMs, EdgeRise)
		}

	case !visible && tr.Visible:
		tr.lastOffTime = nowMs
		tr.hasLastOff = true
		if d.onEdge != nil {
			d.onEdge(stimID, nowMs, EdgeFall)
		}
	}

	tr.Visible = visible
}

// ActualFrequency returns the smoothed measured frequency for a stimulus,
// 0 until at least two rising edges have been observed
func (d *Detector) ActualFrequency(stimID string) float64 {
	if tr, ok := d.trackers[stimID]; ok {
		return tr.Avg
	}
	return 0
}

// Tracker returns the tracker for a stimulus, nil if never observed
func (d *Detector) Tracker(stimID string) *Tracker {
	return d.trackers[stimID]
}

// HistoryLen reports the current FIFO depth for a stimulus
func (d *Detector) HistoryLen(stimID string) int {
	if tr, ok := d.trackers[stimID]; ok {
		return len(tr.history)
	}
	return 0
}

// Reset discards all trackers; called when the run stops
func (d *Detector) Reset() {
	d.trackers = make(map[string]*Tracker)
}

// FallbackEstimate approximates the achievable frequency from refresh-rate
// quantization before enough edges have accumulated: the display can only
// toggle on frame boundaries, so the nominal frequency snaps to
// frameRate / round(frameRate / target).
func FallbackEstimate(frameRate, targetHz float64) float64 {
	if frameRate <= 0 || targetHz <= 0 {
		return 0
	}
	cycle := math.Round(frameRate / targetHz)
	if cycle <= 0 {
		return 0
	}
	return frameRate / cycle
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
