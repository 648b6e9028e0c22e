package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Firefox 126.0", "Firefox-126.0"},
		{"  term/tty ", "term-tty"},
		{"ok_name-1.2", "ok_name-1.2"},
		{"///", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRefreshSegment(t *testing.T) {
	if got := RefreshSegment(0); got != "unkhz" {
		t.Errorf("RefreshSegment(0) = %q, want unkhz", got)
	}
	if got := RefreshSegment(59.94); got != "60hz" {
		t.Errorf("RefreshSegment(59.94) = %q, want 60hz", got)
	}
}

func TestBaseNameDeterministic(t *testing.T) {
	env := Environment{
		Date:      "20260115",
		Browser:   "tty vt100",
		Mode:      "fullscreen",
		RefreshHz: 60,
	}
	now := time.Date(2026, 1, 15, 10, 30, 5, 0, time.UTC)

	withLabel := BaseName(env, "pilot run", now)
	if withLabel != "20260115_tty-vt100_60hz_fullscreen_pilot-run" {
		t.Errorf("unexpected base name %q", withLabel)
	}
	// Labeled names must not depend on the clock
	if withLabel != BaseName(env, "pilot run", now.Add(3*time.Hour)) {
		t.Error("labeled base name should be clock-independent")
	}

	unlabeled := BaseName(env, "", now)
	if !strings.HasSuffix(unlabeled, "_103005") {
		t.Errorf("unlabeled suffix should be wall-clock time, got %q", unlabeled)
	}
}

func TestFormatRoundsAndNames(t *testing.T) {
	doc := Document{
		Environment: Environment{Date: "20260115", Browser: "tty", Mode: "fullscreen"},
		Stims:       []StimMeta{{StimID: "s1", Wave: "square", FCfg: 10, Label: "left"}},
		Frames: []Frame{
			{FrameIndex: 0, TMs: 0, DtMs: 0},
			{FrameIndex: 1, TMs: 16.66666666, DtMs: 16.66666666},
		},
		Toggles: []Toggle{{StimID: "s1", TMs: 50.000049, Edge: "rise"}},
	}

	art, err := Format("base", doc)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if art.Name != "base.json" {
		t.Errorf("artifact name = %q, want base.json", art.Name)
	}

	var parsed map[string]any
	if err := json.Unmarshal(art.Payload, &parsed); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}

	// Wire format compatibility: the offline tool reads these exact keys
	for _, key := range []string{"date", "commit", "browser", "os", "refresh_hz",
		"mode", "resolution", "duration_s", "app_version", "stims", "frames", "toggles"} {
		if _, ok := parsed[key]; !ok {
			t.Errorf("payload missing key %q", key)
		}
	}

	frames := parsed["frames"].([]any)
	second := frames[1].(map[string]any)
	if second["t_ms"].(float64) != 16.6667 {
		t.Errorf("t_ms not rounded to 4 decimals: %v", second["t_ms"])
	}

	toggles := parsed["toggles"].([]any)
	first := toggles[0].(map[string]any)
	if first["t_ms"].(float64) != 50.0 {
		t.Errorf("toggle t_ms not rounded: %v", first["t_ms"])
	}
	if first["edge"].(string) != "rise" {
		t.Errorf("edge = %v", first["edge"])
	}

	// Source document must be untouched
	if doc.Frames[1].TMs == 16.6667 {
		t.Error("Format mutated its input")
	}
}

func TestFormatEmptyArrays(t *testing.T) {
	art, err := Format("empty", Document{})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	s := string(art.Payload)
	if strings.Contains(s, `"frames":null`) || strings.Contains(s, `"toggles":null`) {
		t.Errorf("empty arrays should serialize as [], got %s", s)
	}
}

func TestFileWriterDeliver(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}

	art := Artifact{Name: "m.json", Payload: []byte(`{}`)}
	if err := w.Deliver(art); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out", "m.json"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{}` {
		t.Errorf("payload mismatch: %s", data)
	}

	if err := w.Deliver(Artifact{}); err == nil {
		t.Error("unnamed artifact should fail delivery")
	}
}
