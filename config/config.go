// Package config reads the run configuration handed over by the layout
// editor: the stimulus list and the global run settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/verilab/flickerlab/engine"
	"github.com/verilab/flickerlab/export"
	"github.com/verilab/flickerlab/signal"
)

// Stimulus is one configured canvas element
type Stimulus struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"` // "stimulus" or "label"
	Text      string  `json:"text"`
	Frequency float64 `json:"frequency"`
}

// Document is the run configuration file
type Document struct {
	Stimuli   []Stimulus `json:"stimuli"`
	DurationS float64    `json:"duration_s"` // 0 means run until stopped
	Waveform  string     `json:"waveform"`   // "square" or "sine"
}

// Load reads and decodes a run configuration
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	for i, st := range doc.Stimuli {
		if st.ID == "" {
			return nil, fmt.Errorf("config %s: stimulus %d has no id", path, i)
		}
	}
	return &doc, nil
}

// Items maps the configured stimuli to frame-loop items. An invalid
// frequency is not fatal: the item degrades to an always-visible target.
func (d *Document) Items() []engine.Item {
	wave := signal.ParseWaveform(d.Waveform)
	items := make([]engine.Item, 0, len(d.Stimuli))
	for _, st := range d.Stimuli {
		freq := st.Frequency
		if freq < 0 {
			freq = 0
		}
		items = append(items, engine.Item{
			ID:        st.ID,
			Stimulus:  st.Type != "label",
			Label:     st.Text,
			Frequency: freq,
			Waveform:  wave,
		})
	}
	return items
}

// StimMetas builds the export metadata for all measurable stimuli
func (d *Document) StimMetas() []export.StimMeta {
	wave := signal.ParseWaveform(d.Waveform)
	var out []export.StimMeta
	for _, st := range d.Stimuli {
		if st.Type == "label" {
			continue
		}
		out = append(out, export.StimMeta{
			StimID: st.ID,
			Wave:   wave.String(),
			FCfg:   st.Frequency,
			Label:  st.Text,
		})
	}
	return out
}
