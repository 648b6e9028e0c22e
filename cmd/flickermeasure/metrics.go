package main

import (
	"math"
	"sort"

	"github.com/verilab/flickerlab/export"
)

// Missing metric values are NaN; the report renders them as a dash.

// FrameStats summarizes frame-interval stability after warmup.
// DtValues keeps the post-warmup intervals for the distribution chart.
type FrameStats struct {
	Variance  float64
	P95       float64
	DropRatio float64
	DtValues  []float64
}

// StimResult is the per-stimulus verdict for one measurement
type StimResult struct {
	Source     string
	StimID     string
	FCfg       float64
	FMeas      float64
	AbsErr     float64
	JitterStd  float64
	Usable     bool
	HasVerdict bool
}

// RunResult aggregates one measurement's analysis
type RunResult struct {
	Measurement Measurement
	FrameStats  FrameStats
	Stims       []StimResult
}

// analyzeMeasurement computes frame and stimulus metrics for one export.
// warmupS trims the unstable ramp-up, windowS sizes the jitter window and
// epsilon is the usability threshold on absolute frequency error.
func analyzeMeasurement(m Measurement, warmupS, windowS, epsilon float64) RunResult {
	fs := computeFrameStats(m.Doc.Frames, warmupS, m.Doc.RefreshHz)

	warmupMs := warmupS * 1000
	rises := make(map[string][]float64)
	for _, tg := range m.Doc.Toggles {
		if tg.TMs < warmupMs || tg.Edge != "rise" {
			continue
		}
		rises[tg.StimID] = append(rises[tg.StimID], tg.TMs)
	}

	configured := make(map[string]float64, len(m.Doc.Stims))
	for _, st := range m.Doc.Stims {
		configured[st.StimID] = st.FCfg
	}

	var results []StimResult
	for stimID, times := range rises {
		fCfg, hasCfg := configured[stimID]
		if !hasCfg {
			fCfg = math.NaN()
		}

		fMeas, jitter := freqMetrics(times, windowS)
		absErr := math.NaN()
		if !math.IsNaN(fMeas) && !math.IsNaN(fCfg) {
			absErr = math.Abs(fMeas - fCfg)
		}

		r := StimResult{
			Source:    m.Path,
			StimID:    stimID,
			FCfg:      fCfg,
			FMeas:     fMeas,
			AbsErr:    absErr,
			JitterStd: jitter,
		}
		if !math.IsNaN(absErr) {
			r.Usable = absErr < epsilon
			r.HasVerdict = true
		}
		results = append(results, r)
	}

	// Configured stimuli that never toggled still get a placeholder row
	for _, st := range m.Doc.Stims {
		if _, ok := rises[st.StimID]; ok {
			continue
		}
		results = append(results, StimResult{
			Source:    m.Path,
			StimID:    st.StimID,
			FCfg:      st.FCfg,
			FMeas:     math.NaN(),
			AbsErr:    math.NaN(),
			JitterStd: math.NaN(),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].StimID < results[j].StimID })

	return RunResult{Measurement: m, FrameStats: fs, Stims: results}
}

// computeFrameStats derives dt variance, p95 and drop ratio; the drop
// threshold is 1.5 refresh periods, so it needs a known refresh rate
func computeFrameStats(frames []export.Frame, warmupS, refreshHz float64) FrameStats {
	warmupMs := warmupS * 1000
	var dts []float64
	for _, f := range frames {
		if f.TMs >= warmupMs {
			dts = append(dts, f.DtMs)
		}
	}

	fs := FrameStats{Variance: math.NaN(), P95: math.NaN(), DropRatio: math.NaN()}
	if len(dts) == 0 {
		return fs
	}
	fs.DtValues = dts

	fs.Variance = 0
	if len(dts) > 1 {
		fs.Variance = popVariance(dts)
	}
	fs.P95 = percentile(dts, 95)

	if refreshHz > 0 {
		threshold := 1.5 * (1000.0 / refreshHz)
		drops := 0
		for _, dt := range dts {
			if dt > threshold {
				drops++
			}
		}
		fs.DropRatio = float64(drops) / float64(len(dts))
	}
	return fs
}

// freqMetrics estimates the achieved frequency from rise times: the mean
// period between consecutive rises, plus the windowed jitter of the
// instantaneous frequencies
func freqMetrics(riseTimes []float64, windowS float64) (fMeas, jitter float64) {
	fMeas, jitter = math.NaN(), math.NaN()
	if len(riseTimes) < 2 {
		return
	}

	var periods, midpoints []float64
	for i := 1; i < len(riseTimes); i++ {
		delta := riseTimes[i] - riseTimes[i-1]
		if delta <= 0 {
			// Alternation is not enforced upstream; skip degenerate pairs
			continue
		}
		periods = append(periods, delta)
		midpoints = append(midpoints, (riseTimes[i]+riseTimes[i-1])*0.5)
	}
	if len(periods) == 0 {
		return
	}

	meanPeriod := meanOf(periods)
	if meanPeriod > 0 {
		fMeas = 1000.0 / meanPeriod
	}

	jitter = windowedJitter(periods, midpoints, windowS*1000)
	return
}

// windowedJitter averages the stddev of instantaneous frequencies over a
// sliding time window, tracking short-term instability rather than drift
func windowedJitter(periods, midpoints []float64, windowMs float64) float64 {
	freqs := make([]float64, 0, len(periods))
	for _, p := range periods {
		if p > 0 {
			freqs = append(freqs, 1000.0/p)
		}
	}
	if len(freqs) < 2 {
		return math.NaN()
	}

	var stds []float64
	left := 0
	for right := range freqs {
		for left < right && midpoints[right]-midpoints[left] > windowMs {
			left++
		}
		if right-left+1 >= 2 {
			stds = append(stds, popStddev(freqs[left:right+1]))
		}
	}
	if len(stds) == 0 {
		return math.NaN()
	}
	return meanOf(stds)
}

func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(rank)
	upper := lower + 1
	if upper > len(sorted)-1 {
		upper = len(sorted) - 1
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func meanOf(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func popVariance(vals []float64) float64 {
	m := meanOf(vals)
	var sum float64
	for _, v := range vals {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(vals))
}

func popStddev(vals []float64) float64 {
	return math.Sqrt(popVariance(vals))
}
