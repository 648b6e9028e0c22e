package render

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/gdamore/tcell/v2"

	"github.com/verilab/flickerlab/engine"
	"github.com/verilab/flickerlab/signal"
)

// Target is one drawable patch on the stimulation screen
type Target struct {
	ID        string
	Label     string
	Frequency float64
}

// Screen renders stimulation states fullscreen on a terminal.
// Apply runs on the frame loop goroutine; ExitFullscreen tears the
// terminal down asynchronously so the engine can race it with a timeout.
type Screen struct {
	log     *log.Logger
	ts      tcell.Screen
	targets []Target

	exitOnce sync.Once
	exitDone chan struct{}
}

// New initializes the terminal in fullscreen alternate-screen mode
func New(targets []Target, logger *log.Logger) (*Screen, error) {
	if logger == nil {
		logger = log.Default()
	}

	ts, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("create screen: %w", err)
	}
	if err := ts.Init(); err != nil {
		return nil, fmt.Errorf("init screen: %w", err)
	}
	ts.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack))
	ts.HideCursor()
	ts.Clear()

	return &Screen{
		log:      logger,
		ts:       ts,
		targets:  targets,
		exitDone: make(chan struct{}),
	}, nil
}

// NewWithScreen wraps an existing tcell screen; used by tests
func NewWithScreen(ts tcell.Screen, targets []Target, logger *log.Logger) *Screen {
	if logger == nil {
		logger = log.Default()
	}
	return &Screen{
		log:      logger,
		ts:       ts,
		targets:  targets,
		exitDone: make(chan struct{}),
	}
}

// Resolution reports the current terminal size for the export metadata
func (s *Screen) Resolution() string {
	w, h := s.ts.Size()
	return fmt.Sprintf("%dx%d", w, h)
}

// WatchInput polls terminal events and invokes stop on ESC, 'q' or Ctrl+C.
// Runs until the event stream ends at screen teardown.
func (s *Screen) WatchInput(stop func()) {
	for {
		ev := s.ts.PollEvent()
		if ev == nil {
			return
		}
		switch ev := ev.(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyEscape, ev.Key() == tcell.KeyCtrlC:
				stop()
			case ev.Key() == tcell.KeyRune && ev.Rune() == 'q':
				stop()
			}
		case *tcell.EventResize:
			s.ts.Sync()
		}
	}
}

// Apply draws one tick's stimulation states
func (s *Screen) Apply(states map[string]signal.Sample, stats engine.Stats) {
	w, h := s.ts.Size()
	s.drawStatusLine(w, stats)

	n := len(s.targets)
	if n == 0 || w < 4 || h < 4 {
		s.ts.Show()
		return
	}

	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols
	cellW := w / cols
	cellH := (h - 1) / rows

	for i, target := range s.targets {
		st, ok := states[target.ID]
		if !ok {
			continue
		}
		x0 := (i % cols) * cellW
		y0 := 1 + (i/cols)*cellH
		s.drawPatch(x0, y0, cellW, cellH, target, st, stats)
	}

	s.ts.Show()
}

// drawPatch fills one grid cell with the target's brightness and caption
func (s *Screen) drawPatch(x0, y0, w, h int, target Target, st signal.Sample, stats engine.Stats) {
	level := int32(math.Round(st.Brightness * 255))
	style := tcell.StyleDefault.
		Foreground(tcell.NewRGBColor(level, level, level)).
		Background(tcell.ColorBlack)

	// One-cell gutter between patches, one caption row at the bottom
	for y := y0; y < y0+h-1; y++ {
		for x := x0; x < x0+w-1; x++ {
			s.ts.SetContent(x, y, '█', nil, style)
		}
	}

	caption := target.Label
	if caption == "" {
		caption = target.ID
	}
	if hz, ok := stats.ActualFrequencies[target.ID]; ok && hz > 0 {
		caption = fmt.Sprintf("%s %.2fHz", caption, hz)
	} else if target.Frequency > 0 {
		caption = fmt.Sprintf("%s %.1fHz", caption, target.Frequency)
	}
	captionStyle := tcell.StyleDefault.Foreground(tcell.ColorGray).Background(tcell.ColorBlack)
	s.putString(x0, y0+h-1, caption, w-1, captionStyle)
}

// drawStatusLine renders the fps readout in the top row
func (s *Screen) drawStatusLine(w int, stats engine.Stats) {
	line := fmt.Sprintf(" %.1f fps ", stats.FrameRate)
	if !stats.IsRunning {
		line = " stopped "
	}
	style := tcell.StyleDefault.Foreground(tcell.ColorGray).Background(tcell.ColorBlack)
	s.putString(0, 0, line, w, style)
}

func (s *Screen) putString(x, y int, text string, maxW int, style tcell.Style) {
	for i, r := range text {
		if i >= maxW {
			break
		}
		s.ts.SetContent(x+i, y, r, nil, style)
	}
}

// ExitFullscreen starts the asynchronous terminal teardown. The returned
// channel closes when the screen has been restored; safe to call more
// than once, teardown happens exactly once.
func (s *Screen) ExitFullscreen() <-chan struct{} {
	s.exitOnce.Do(func() {
		go func() {
			s.ts.Fini()
			close(s.exitDone)
		}()
	})
	return s.exitDone
}

// EmergencyReset restores the terminal synchronously, for crash handling
func (s *Screen) EmergencyReset() {
	s.ts.Fini()
}
