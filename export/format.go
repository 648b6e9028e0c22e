package export

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// Environment describes the machine and run conditions of one measurement.
// Field names are fixed by the offline analysis tool.
type Environment struct {
	Date       string  `json:"date"`
	Commit     string  `json:"commit"`
	Browser    string  `json:"browser"`
	OS         string  `json:"os"`
	RefreshHz  float64 `json:"refresh_hz"`
	Mode       string  `json:"mode"`
	Resolution string  `json:"resolution"`
	DurationS  float64 `json:"duration_s"`
	AppVersion string  `json:"app_version"`
}

// StimMeta is the per-run configuration of one stimulus
type StimMeta struct {
	StimID string  `json:"stim_id"`
	Wave   string  `json:"wave"`
	FCfg   float64 `json:"f_cfg"`
	Label  string  `json:"label"`
}

// Frame is one display refresh observed while recording
type Frame struct {
	FrameIndex int     `json:"frame_index"`
	TMs        float64 `json:"t_ms"`
	DtMs       float64 `json:"dt_ms"`
}

// Toggle is one visibility transition observed while recording
type Toggle struct {
	StimID string  `json:"stim_id"`
	TMs    float64 `json:"t_ms"`
	Edge   string  `json:"edge"`
}

// Document is the full measurement wire format
type Document struct {
	Environment
	Stims   []StimMeta `json:"stims"`
	Frames  []Frame    `json:"frames"`
	Toggles []Toggle   `json:"toggles"`
}

// Artifact is a named, serialized measurement ready for delivery
type Artifact struct {
	Name    string
	Payload []byte
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Sanitize collapses filesystem-hostile characters so environment strings
// can be embedded in filenames
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = unsafeChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "unknown"
	}
	return s
}

// RefreshSegment renders the refresh-rate filename segment, "unkhz" when
// the rate has not been measured yet
func RefreshSegment(hz float64) string {
	if hz <= 0 {
		return "unkhz"
	}
	return fmt.Sprintf("%dhz", int(math.Round(hz)))
}

// BaseName derives the deterministic part of a measurement filename from
// the environment. When label is empty the suffix falls back to wall-clock
// time, which is the only non-deterministic input.
func BaseName(env Environment, label string, now time.Time) string {
	suffix := Sanitize(label)
	if label == "" {
		suffix = strftime.Format("%H%M%S", now)
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s",
		env.Date,
		Sanitize(env.Browser),
		RefreshSegment(env.RefreshHz),
		Sanitize(env.Mode),
		suffix,
	)
}

// DateStamp renders the date field for the environment descriptor
func DateStamp(now time.Time) string {
	return strftime.Format("%Y%m%d", now)
}

// round4 keeps timing floats compact without losing sub-frame resolution
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Format serializes a measurement document under the given base name.
// Timing fields are rounded to 4 decimal places; the transform is pure.
func Format(name string, doc Document) (Artifact, error) {
	out := doc
	out.Stims = make([]StimMeta, len(doc.Stims))
	copy(out.Stims, doc.Stims)

	out.Frames = make([]Frame, len(doc.Frames))
	for i, f := range doc.Frames {
		out.Frames[i] = Frame{
			FrameIndex: f.FrameIndex,
			TMs:        round4(f.TMs),
			DtMs:       round4(f.DtMs),
		}
	}

	out.Toggles = make([]Toggle, len(doc.Toggles))
	for i, tg := range doc.Toggles {
		out.Toggles[i] = Toggle{
			StimID: tg.StimID,
			TMs:    round4(tg.TMs),
			Edge:   tg.Edge,
		}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return Artifact{}, fmt.Errorf("marshal measurement: %w", err)
	}

	return Artifact{Name: name + ".json", Payload: payload}, nil
}
