package audio

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"
)

const sampleRateHz = 44100

// Cues plays short marker tones at run boundaries so the operator can
// align the recording with external equipment. A failed speaker init
// degrades to silence; playback never blocks the caller.
type Cues struct {
	ready atomic.Bool
}

// NewCues initializes the speaker. The returned error is informational;
// the Cues value is usable (silently) either way.
func NewCues() (*Cues, error) {
	c := &Cues{}
	sr := beep.SampleRate(sampleRateHz)
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return c, fmt.Errorf("speaker init: %w", err)
	}
	c.ready.Store(true)
	return c, nil
}

// RunStart plays the high start marker
func (c *Cues) RunStart() {
	c.tone(880, 120*time.Millisecond)
}

// RunStop plays the low stop marker
func (c *Cues) RunStop() {
	c.tone(440, 120*time.Millisecond)
}

func (c *Cues) tone(freqHz float64, d time.Duration) {
	if !c.ready.Load() {
		return
	}
	sr := beep.SampleRate(sampleRateHz)
	sine, err := generators.SineTone(sr, freqHz)
	if err != nil {
		return
	}
	speaker.Play(beep.Take(sr.N(d), sine))
}

// Close releases the speaker
func (c *Cues) Close() {
	if c.ready.CompareAndSwap(true, false) {
		speaker.Close()
	}
}
