package measure

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/verilab/flickerlab/export"
)

// SessionState is the lifecycle phase of a measurement session
type SessionState uint8

const (
	SessionIdle SessionState = iota
	SessionPrepared
	SessionRecording
)

// String returns a readable state name for diagnostics
func (s SessionState) String() string {
	switch s {
	case SessionPrepared:
		return "Prepared"
	case SessionRecording:
		return "Recording"
	default:
		return "Idle"
	}
}

// Deliverer receives completed measurement artifacts
type Deliverer interface {
	Deliver(export.Artifact) error
}

// Session records frames and visibility toggles during one validation run
// and exports them on finish. All methods are precondition-guarded no-ops
// when called out of order; the single frame-loop goroutine is the only
// mutator, so no locking is needed.
type Session struct {
	log     *log.Logger
	deliver Deliverer
	now     func() time.Time

	state SessionState
	id    string

	env      export.Environment
	baseName string
	stims    []export.StimMeta

	startTime    time.Time
	lastFrame    time.Time
	frameCounter int
	frames       []export.Frame
	toggles      []export.Toggle

	// last completed export, retained for manual re-delivery
	lastArtifact *export.Artifact
}

// NewSession creates an idle session. deliver may be nil (capture only);
// now defaults to time.Now when nil.
func NewSession(deliver Deliverer, logger *log.Logger, now func() time.Time) *Session {
	if logger == nil {
		logger = log.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Session{
		log:     logger,
		deliver: deliver,
		now:     now,
	}
}

// State returns the current lifecycle phase
func (s *Session) State() SessionState {
	return s.state
}

// ID returns the identifier assigned at Prepare, empty while Idle
func (s *Session) ID() string {
	return s.id
}

// BaseName returns the filename stem derived at Prepare
func (s *Session) BaseName() string {
	return s.baseName
}

// Prepare captures the environment for an upcoming recording and derives
// the export filename stem. Valid from Idle or Prepared (a second call
// fully overwrites the first); ignored while Recording.
func (s *Session) Prepare(env export.Environment, stims []export.StimMeta, durationS float64, label string) {
	if s.state == SessionRecording {
		s.log.Printf("session: prepare ignored while recording")
		return
	}

	now := s.now()
	s.id = uuid.New().String()
	s.env = env
	s.env.Date = export.DateStamp(now)
	s.env.DurationS = durationS
	s.baseName = export.BaseName(s.env, label, now)

	s.stims = make([]export.StimMeta, len(stims))
	copy(s.stims, stims)

	s.frames = nil
	s.toggles = nil
	s.frameCounter = 0
	s.startTime = time.Time{}
	s.lastFrame = time.Time{}
	s.state = SessionPrepared

	s.log.Printf("session %s: prepared %q (%d stims, %gs)", s.id, s.baseName, len(stims), durationS)
}

// Start moves a prepared session into Recording with the given run start
// timestamp. Ignored in any other state.
func (s *Session) Start(startTime time.Time) {
	if s.state != SessionPrepared {
		s.log.Printf("session: start ignored in state %s", s.state)
		return
	}
	s.startTime = startTime
	s.lastFrame = startTime
	s.frameCounter = 0
	s.state = SessionRecording
	s.log.Printf("session %s: recording", s.id)
}

// RecordFrame appends one frame record. No-op unless Recording.
// The first frame of a session always carries dt_ms = 0.
func (s *Session) RecordFrame(ts time.Time) {
	if s.state != SessionRecording {
		return
	}
	s.frames = append(s.frames, export.Frame{
		FrameIndex: s.frameCounter,
		TMs:        float64(ts.Sub(s.startTime)) / float64(time.Millisecond),
		DtMs:       float64(ts.Sub(s.lastFrame)) / float64(time.Millisecond),
	})
	s.frameCounter++
	s.lastFrame = ts
}

// RecordToggle appends one visibility transition. No-op unless Recording.
func (s *Session) RecordToggle(stimID string, ts time.Time, edge Edge) {
	if s.state != SessionRecording {
		return
	}
	s.toggles = append(s.toggles, export.Toggle{
		StimID: stimID,
		TMs:    float64(ts.Sub(s.startTime)) / float64(time.Millisecond),
		Edge:   edge.String(),
	})
}

// SetRefreshHz records the measured refresh rate into the environment
// descriptor once the frame loop has a stable estimate. The filename stem
// keeps its prepare-time placeholder; only the payload field updates.
// Ignored while Idle.
func (s *Session) SetRefreshHz(hz float64) {
	if s.state == SessionIdle {
		return
	}
	s.env.RefreshHz = hz
}

// Counts reports recorded frames and toggles so far
func (s *Session) Counts() (frames, toggles int) {
	return len(s.frames), len(s.toggles)
}

// Finish exports the captured data, attempts delivery, retains the artifact
// for manual re-delivery and returns the session to Idle. A session that was
// never prepared is cleared without producing a file.
func (s *Session) Finish() {
	if s.id == "" {
		s.log.Printf("session: finish without prepare, nothing to export")
		s.clear()
		return
	}

	doc := export.Document{
		Environment: s.env,
		Stims:       s.stims,
		Frames:      s.frames,
		Toggles:     s.toggles,
	}

	artifact, err := export.Format(s.baseName, doc)
	if err != nil {
		s.log.Printf("session %s: export failed: %v", s.id, err)
		s.clear()
		return
	}

	if s.deliver != nil {
		if err := s.deliver.Deliver(artifact); err != nil {
			s.log.Printf("session %s: delivery failed, artifact retained: %v", s.id, err)
		}
	}
	s.lastArtifact = &artifact

	s.log.Printf("session %s: finished %s (%d frames, %d toggles)",
		s.id, artifact.Name, len(doc.Frames), len(doc.Toggles))
	s.clear()
}

// Reset discards the session without exporting
func (s *Session) Reset() {
	if s.state != SessionIdle {
		s.log.Printf("session %s: reset from state %s", s.id, s.state)
	}
	s.clear()
}

// ManualDownload re-delivers the last completed export, if any
func (s *Session) ManualDownload() {
	if s.lastArtifact == nil {
		s.log.Printf("session: no completed export to re-deliver")
		return
	}
	if s.deliver == nil {
		s.log.Printf("session: no delivery target configured")
		return
	}
	if err := s.deliver.Deliver(*s.lastArtifact); err != nil {
		s.log.Printf("session: re-delivery of %s failed: %v", s.lastArtifact.Name, err)
	}
}

// LastArtifact returns the most recent completed export, nil if none
func (s *Session) LastArtifact() *export.Artifact {
	return s.lastArtifact
}

func (s *Session) clear() {
	s.state = SessionIdle
	s.id = ""
	s.env = export.Environment{}
	s.baseName = ""
	s.stims = nil
	s.frames = nil
	s.toggles = nil
	s.frameCounter = 0
	s.startTime = time.Time{}
	s.lastFrame = time.Time{}
}
