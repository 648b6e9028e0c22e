package main

import (
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// generatePlots renders the overview charts into dir and returns the file
// names that were produced. Charts without backing data are skipped and a
// failed render only loses that chart, so the textual report still lands.
func generatePlots(runs []RunResult, dir string, logger *log.Logger) []string {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Printf("plots: %v", err)
		return nil
	}

	charts := []struct {
		name string
		draw func([]RunResult, string) (bool, error)
	}{
		{"freq_error.png", drawFreqError},
		{"jitter_box.png", drawJitterBox},
		{"frame_hist.png", drawFrameHist},
	}

	var generated []string
	for _, ch := range charts {
		ok, err := ch.draw(runs, filepath.Join(dir, ch.name))
		if err != nil {
			logger.Printf("plots: %s: %v", ch.name, err)
			continue
		}
		if !ok {
			logger.Printf("plots: no data for %s, skipped", ch.name)
			continue
		}
		generated = append(generated, ch.name)
	}
	return generated
}

// errPoints pairs line points with symmetric error bars
type errPoints struct {
	plotter.XYs
	plotter.YErrors
}

// drawFreqError plots mean absolute error against configured frequency,
// one series per measurement, error bars at one population stddev
func drawFreqError(runs []RunResult, path string) (bool, error) {
	grouped := make(map[string]map[float64][]float64)
	for _, run := range runs {
		label := runLabel(run)
		for _, st := range run.Stims {
			if math.IsNaN(st.FCfg) || math.IsNaN(st.AbsErr) {
				continue
			}
			if grouped[label] == nil {
				grouped[label] = make(map[float64][]float64)
			}
			grouped[label][st.FCfg] = append(grouped[label][st.FCfg], st.AbsErr)
		}
	}
	if len(grouped) == 0 {
		return false, nil
	}

	p := plot.New()
	p.Title.Text = "Configured frequency vs absolute error"
	p.X.Label.Text = "f_cfg (Hz)"
	p.Y.Label.Text = "abs err (Hz)"
	p.Add(plotter.NewGrid())

	labels := make([]string, 0, len(grouped))
	for l := range grouped {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	for i, label := range labels {
		freqMap := grouped[label]
		freqs := make([]float64, 0, len(freqMap))
		for f := range freqMap {
			freqs = append(freqs, f)
		}
		sort.Float64s(freqs)

		pts := make(plotter.XYs, len(freqs))
		errs := make(plotter.YErrors, len(freqs))
		for j, f := range freqs {
			vals := freqMap[f]
			pts[j] = plotter.XY{X: f, Y: meanOf(vals)}
			spread := 0.0
			if len(vals) > 1 {
				spread = popStddev(vals)
			}
			errs[j].Low, errs[j].High = spread, spread
		}

		line, scatter, err := plotter.NewLinePoints(pts)
		if err != nil {
			return false, err
		}
		line.Color = plotutil.Color(i)
		scatter.Color = plotutil.Color(i)

		bars, err := plotter.NewYErrorBars(errPoints{pts, errs})
		if err != nil {
			return false, err
		}
		bars.Color = plotutil.Color(i)

		p.Add(line, scatter, bars)
		p.Legend.Add(label, line, scatter)
	}

	return true, p.Save(7*vg.Inch, 4*vg.Inch, path)
}

// drawJitterBox draws one jitter box per recording agent
func drawJitterBox(runs []RunResult, path string) (bool, error) {
	grouped := make(map[string][]float64)
	for _, run := range runs {
		agent := run.Measurement.Doc.Browser
		if agent == "" {
			agent = "unknown"
		}
		for _, st := range run.Stims {
			if !math.IsNaN(st.JitterStd) {
				grouped[agent] = append(grouped[agent], st.JitterStd)
			}
		}
	}
	if len(grouped) == 0 {
		return false, nil
	}

	p := plot.New()
	p.Title.Text = "Frequency jitter per agent"
	p.Y.Label.Text = "jitter std (Hz)"

	labels := make([]string, 0, len(grouped))
	for l := range grouped {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	for i, label := range labels {
		box, err := plotter.NewBoxPlot(vg.Points(30), float64(i), plotter.Values(grouped[label]))
		if err != nil {
			return false, err
		}
		p.Add(box)
	}
	p.NominalX(labels...)

	return true, p.Save(6*vg.Inch, 4*vg.Inch, path)
}

// drawFrameHist draws the pooled frame-interval distribution
func drawFrameHist(runs []RunResult, path string) (bool, error) {
	var dts plotter.Values
	for _, run := range runs {
		dts = append(dts, run.FrameStats.DtValues...)
	}
	if len(dts) == 0 {
		return false, nil
	}

	p := plot.New()
	p.Title.Text = "Frame interval distribution"
	p.X.Label.Text = "dt (ms)"
	p.Y.Label.Text = "frames"

	hist, err := plotter.NewHist(dts, 40)
	if err != nil {
		return false, err
	}
	p.Add(hist)

	return true, p.Save(6*vg.Inch, 4*vg.Inch, path)
}

func runLabel(run RunResult) string {
	return strings.TrimSuffix(filepath.Base(run.Measurement.Path), ".json")
}
