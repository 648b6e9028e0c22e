package signal

import "math"

// Waveform selects the brightness modulation function for a stimulus
type Waveform uint8

const (
	WaveSquare Waveform = iota
	WaveSine
)

// String returns the wire name used in exported measurement documents
func (w Waveform) String() string {
	switch w {
	case WaveSquare:
		return "square"
	case WaveSine:
		return "sine"
	default:
		return "unknown"
	}
}

// ParseWaveform maps a config string to a Waveform, defaulting to square
func ParseWaveform(s string) Waveform {
	if s == "sine" {
		return WaveSine
	}
	return WaveSquare
}

// Sample is the visual state of one stimulus at one instant
type Sample struct {
	Visible    bool
	Brightness float64 // 0..1
}

// Evaluate computes the stimulus state at elapsedMs since run start.
// A missing or non-positive frequency yields a steady fully-bright target,
// which is excluded from frequency measurement.
// Pure function, called once per stimulus per tick.
func Evaluate(elapsedMs, freqHz float64, wave Waveform) Sample {
	if freqHz <= 0 {
		return Sample{Visible: true, Brightness: 1}
	}

	switch wave {
	case WaveSine:
		period := 1000.0 / freqHz
		frac := math.Mod(elapsedMs, period) / period
		brightness := (math.Sin(frac*2*math.Pi) + 1) / 2
		return Sample{Visible: brightness > 0.5, Brightness: brightness}

	default: // square
		halfPeriod := 500.0 / freqHz
		phase := int(math.Floor(elapsedMs/halfPeriod)) % 2
		if phase == 0 {
			return Sample{Visible: true, Brightness: 1}
		}
		return Sample{Visible: false, Brightness: 0}
	}
}
