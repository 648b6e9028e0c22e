// Command flickermeasure analyzes exported measurement documents offline:
// achieved stimulus frequencies, frame-interval stability and a usability
// verdict per stimulus.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

var (
	outFlag     = flag.String("o", "out", "Output directory for summary and report")
	epsilonFlag = flag.Float64("epsilon", 0.2, "Frequency error threshold for the usability verdict (Hz)")
	warmupFlag  = flag.Float64("warmup", 2.0, "Warmup trim in seconds")
	windowFlag  = flag.Float64("window", 1.0, "Jitter sliding window in seconds")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] measurement.json|dir ...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := log.New(os.Stderr, "flickermeasure: ", 0)

	paths, err := discoverMeasurements(flag.Args())
	if err != nil {
		logger.Fatal(err)
	}
	if len(paths) == 0 {
		logger.Fatal("no measurement files found")
	}

	var runs []RunResult
	var inputBytes uint64
	for _, path := range paths {
		m, err := loadMeasurement(path)
		if err != nil {
			logger.Printf("skipping: %v", err)
			continue
		}
		if len(m.Doc.Frames) == 0 {
			logger.Printf("%s has no frame records; frame metrics will be missing", path)
		}
		if len(m.Doc.Toggles) == 0 {
			logger.Printf("%s has no toggle events; frequencies cannot be estimated", path)
		}
		if info, err := os.Stat(path); err == nil {
			inputBytes += uint64(info.Size())
		}
		runs = append(runs, analyzeMeasurement(m, *warmupFlag, *windowFlag, *epsilonFlag))
	}
	if len(runs) == 0 {
		logger.Fatal("no usable measurements")
	}

	if err := os.MkdirAll(*outFlag, 0o755); err != nil {
		logger.Fatal(err)
	}

	summaryPath := filepath.Join(*outFlag, "summary.csv")
	if err := writeSummaryCSV(runs, summaryPath); err != nil {
		logger.Fatal(err)
	}

	plotNames := generatePlots(runs, filepath.Join(*outFlag, "plots"), logger)

	reportPath, err := writeReport(runs, filepath.Base(summaryPath), *outFlag, plotNames, inputBytes)
	if err != nil {
		logger.Fatal(err)
	}

	logger.Printf("analyzed %d measurements -> %s, %s, %d charts",
		len(runs), summaryPath, reportPath, len(plotNames))
}
