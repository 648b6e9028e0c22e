package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/verilab/flickerlab/core"
	"github.com/verilab/flickerlab/engine"
)

// Service hosts the websocket feed and a one-shot stats endpoint
type Service struct {
	log  *log.Logger
	hub  *Hub
	ctrl *engine.Controller
}

// NewService wires the HTTP surface for one controller. hub may be nil,
// in which case a fresh one is created.
func NewService(ctrl *engine.Controller, hub *Hub, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Service{
		log:  logger,
		hub:  hub,
		ctrl: ctrl,
	}
}

// Start begins serving on addr. Failure to bind is logged and degrades to
// no feed; it never blocks the stimulation run.
func (s *Service) Start(addr string) {
	core.Go(s.hub.Run)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/metrics", s.handleMetrics)

	core.Go(func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			s.log.Printf("server: listen %s: %v", addr, err)
		}
	})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.ctrl.Stats()); err != nil {
		s.log.Printf("server: stats encode: %v", err)
	}
}

// handleMetrics serves a snapshot of the controller's metric registry:
// counters, gauges and flags the frame loop maintains per tick
func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	reg := s.ctrl.Registry()
	snap := struct {
		Flags  map[string]bool    `json:"flags"`
		Counts map[string]int64   `json:"counts"`
		Gauges map[string]float64 `json:"gauges"`
		Total  int                `json:"total"`
	}{
		Flags:  reg.BoolValues(),
		Counts: reg.IntValues(),
		Gauges: reg.FloatValues(),
		Total:  reg.TotalCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.log.Printf("server: metrics encode: %v", err)
	}
}
