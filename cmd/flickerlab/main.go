package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/verilab/flickerlab/audio"
	"github.com/verilab/flickerlab/config"
	"github.com/verilab/flickerlab/core"
	"github.com/verilab/flickerlab/engine"
	"github.com/verilab/flickerlab/export"
	"github.com/verilab/flickerlab/measure"
	"github.com/verilab/flickerlab/render"
	"github.com/verilab/flickerlab/server"
	"github.com/verilab/flickerlab/store"
	"github.com/verilab/flickerlab/trigger"
)

const appVersion = "1.0.0"

var (
	configFlag   = flag.String("config", "", "Run configuration JSON (required)")
	outFlag      = flag.String("out", "measurements", "Export directory")
	dbFlag       = flag.String("db", "", "Optional sqlite archive path")
	labelFlag    = flag.String("label", "", "Export label; wall-clock suffix when empty")
	durationFlag = flag.Float64("duration", -1, "Override run duration in seconds (0 = until stopped)")
	validateFlag = flag.Bool("validate", false, "Record a validation session and export it")
	listenFlag   = flag.String("listen", "", "Stats feed listen address, e.g. :8077")
	triggerFlag  = flag.String("trigger", "", "DLP-IO8-G serial device for hardware markers")
	baudFlag     = flag.Int("baud", 115200, "Trigger device baud rate")
	markFlag     = flag.String("mark", "", "Stimulus id mapped to trigger line 1")
	silentFlag   = flag.Bool("silent", false, "Disable start/stop cue tones")
)

func main() {
	// Panic recovery: restore the terminal before printing the trace
	defer func() {
		if r := recover(); r != nil {
			core.HandleCrash(r)
		}
	}()

	flag.Parse()
	if *configFlag == "" {
		fmt.Fprintln(os.Stderr, "flickerlab: -config is required")
		flag.Usage()
		os.Exit(2)
	}

	doc, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flickerlab: %v\n", err)
		os.Exit(1)
	}

	durationS := doc.DurationS
	if *durationFlag >= 0 {
		durationS = *durationFlag
	}

	writer, err := export.NewFileWriter(*outFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flickerlab: %v\n", err)
		os.Exit(1)
	}

	// The terminal owns stdout once fullscreen is up; diagnostics go to a
	// log file next to the exports
	logFile, err := os.OpenFile(filepath.Join(writer.Dir(), "flickerlab.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flickerlab: open log: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := log.New(logFile, "", log.LstdFlags|log.Lmicroseconds)

	targets := make([]render.Target, 0, len(doc.Stimuli))
	for _, st := range doc.Stimuli {
		targets = append(targets, render.Target{ID: st.ID, Label: st.Text, Frequency: st.Frequency})
	}

	screen, err := render.New(targets, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flickerlab: %v\n", err)
		os.Exit(1)
	}
	core.SetCrashHook(screen.EmergencyReset)

	// Delivery chain: always to disk, optionally into the sqlite archive
	deliverers := []measure.Deliverer{writer}
	if *dbFlag != "" {
		archive := store.NewArchive(*dbFlag)
		if err := archive.Init(context.Background()); err != nil {
			logger.Printf("archive unavailable, file-only delivery: %v", err)
		} else {
			defer archive.Close()
			deliverers = append(deliverers, archive)
		}
	}

	var session *measure.Session
	if *validateFlag {
		session = measure.NewSession(multiDeliverer(deliverers), logger, nil)
		session.Prepare(buildEnvironment(screen), doc.StimMetas(), durationS, *labelFlag)
	}

	var cues *audio.Cues
	if !*silentFlag {
		if cues, err = audio.NewCues(); err != nil {
			logger.Printf("audio unavailable, continuing silent: %v", err)
		}
		defer cues.Close()
	}

	var markerHook func(string, measure.Edge)
	if *triggerFlag != "" {
		out, err := trigger.Open(*triggerFlag, *baudFlag, logger)
		if err != nil {
			logger.Printf("trigger unavailable, continuing without markers: %v", err)
		} else {
			defer out.Close()
			markerHook = buildMarkerHook(out, *markFlag)

			watchCtx, stopWatch := context.WithCancel(context.Background())
			defer stopWatch()
			core.Go(func() { out.Watch(watchCtx, 30*time.Second) })
		}
	}

	cfg := engine.Config{
		Items:    doc.Items(),
		Duration: time.Duration(durationS * float64(time.Second)),
		OnEdge:   markerHook,
	}

	var hub *server.Hub
	if *listenFlag != "" {
		hub = server.NewHub(logger)
		cfg.OnStats = func(s engine.Stats) { hub.BroadcastJSON(s) }
	}

	ctrl := engine.NewController(cfg, engine.NewTimeProvider(), screen, session, nil, logger)

	if hub != nil {
		server.NewService(ctrl, hub, logger).Start(*listenFlag)
	}

	core.Go(func() { screen.WatchInput(ctrl.Stop) })

	if cues != nil {
		cues.RunStart()
	}
	ctrl.Start()
	ctrl.Wait()
	if cues != nil {
		cues.RunStop()
	}

	core.SetCrashHook(nil)
	fmt.Printf("flickerlab: run complete, exports in %s\n", writer.Dir())
}

// multiDeliverer fans one artifact out to every delivery target
type multiDeliverer []measure.Deliverer

func (m multiDeliverer) Deliver(a export.Artifact) error {
	var firstErr error
	for _, d := range m {
		if err := d.Deliver(a); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildEnvironment captures the machine descriptors for the export metadata
func buildEnvironment(screen *render.Screen) export.Environment {
	agent := os.Getenv("TERM")
	if agent == "" {
		agent = "terminal"
	}
	commit := ""
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				commit = setting.Value
				break
			}
		}
	}
	return export.Environment{
		Commit:     commit,
		Browser:    agent,
		OS:         runtime.GOOS,
		Mode:       "fullscreen",
		Resolution: screen.Resolution(),
		AppVersion: appVersion,
	}
}

// buildMarkerHook maps stimulus edges onto trigger line 1; markID narrows
// the marker to one stimulus, empty marks them all
func buildMarkerHook(out *trigger.Output, markID string) func(string, measure.Edge) {
	return func(stimID string, edge measure.Edge) {
		if markID != "" && stimID != markID {
			return
		}
		if edge == measure.EdgeRise {
			out.Set("1")
		} else {
			out.Unset("1")
		}
	}
}
