package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// writeSummaryCSV emits one row per stimulus per measurement
func writeSummaryCSV(runs []RunResult, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"file", "stim_id", "f_cfg", "f_meas", "abs_err",
		"jitter_std", "dt_variance", "dt_p95", "drop_ratio", "usable"}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, run := range runs {
		for _, st := range run.Stims {
			usable := ""
			if st.HasVerdict {
				usable = fmt.Sprintf("%t", st.Usable)
			}
			row := []string{
				filepath.Base(st.Source),
				st.StimID,
				csvNum(st.FCfg),
				csvNum(st.FMeas),
				csvNum(st.AbsErr),
				csvNum(st.JitterStd),
				csvNum(run.FrameStats.Variance),
				csvNum(run.FrameStats.P95),
				csvNum(run.FrameStats.DropRatio),
				usable,
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// writeReport renders the Markdown overview; plotNames are chart files
// relative to the plots/ directory next to the report
func writeReport(runs []RunResult, summaryName string, outDir string, plotNames []string, inputBytes uint64) (string, error) {
	path := filepath.Join(outDir, "report.md")

	var b strings.Builder
	b.WriteString("# Stimulus measurement report\n\n")
	fmt.Fprintf(&b, "- Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Summary table: `%s` (%d measurements, %s of input)\n\n",
		summaryName, len(runs), humanize.Bytes(inputBytes))

	if len(plotNames) > 0 {
		b.WriteString("## Charts\n\n")
		for _, name := range plotNames {
			fmt.Fprintf(&b, "![%s](plots/%s)\n\n", strings.TrimSuffix(name, ".png"), name)
		}
	}

	b.WriteString("## Metrics\n\n")
	b.WriteString("| file | stim | f_cfg (Hz) | f_meas (Hz) | err (Hz) | jitter std (Hz) | dt var | dt p95 | drop ratio |\n")
	b.WriteString("| --- | --- | --- | --- | --- | --- | --- | --- | --- |\n")

	rows := 0
	for _, run := range runs {
		name := strings.TrimSuffix(filepath.Base(run.Measurement.Path), ".json")
		for _, st := range run.Stims {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
				name, st.StimID,
				mdNum(st.FCfg), mdNum(st.FMeas), mdNum(st.AbsErr), mdNum(st.JitterStd),
				mdNum(run.FrameStats.Variance), mdNum(run.FrameStats.P95),
				mdNum(run.FrameStats.DropRatio))
			rows++
		}
	}
	if rows == 0 {
		b.WriteString("| - | - | - | - | - | - | - | - | - |\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func csvNum(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return fmt.Sprintf("%g", v)
}

func mdNum(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.4g", v)
}
