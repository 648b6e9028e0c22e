package status

import "sync/atomic"

// Registry is the central metrics facade for the stimulation engine.
// The frame loop caches pointers at start and writes directly to atomics;
// the metrics endpoint snapshots them without locks.
type Registry struct {
	Bools  *MetricMap[atomic.Bool]
	Ints   *MetricMap[atomic.Int64]
	Floats *MetricMap[AtomicFloat]
}

// NewRegistry creates an initialized Registry
func NewRegistry() *Registry {
	return &Registry{
		Bools:  NewMetricMap[atomic.Bool](),
		Ints:   NewMetricMap[atomic.Int64](),
		Floats: NewMetricMap[AtomicFloat](),
	}
}

// FloatValues returns a point-in-time copy of all float gauges, served
// by the metrics endpoint
func (r *Registry) FloatValues() map[string]float64 {
	out := make(map[string]float64, r.Floats.Count())
	r.Floats.Range(func(key string, ptr *AtomicFloat) {
		out[key] = ptr.Get()
	})
	return out
}

// IntValues returns a point-in-time copy of all counters
func (r *Registry) IntValues() map[string]int64 {
	out := make(map[string]int64, r.Ints.Count())
	r.Ints.Range(func(key string, ptr *atomic.Int64) {
		out[key] = ptr.Load()
	})
	return out
}

// BoolValues returns a point-in-time copy of all flags
func (r *Registry) BoolValues() map[string]bool {
	out := make(map[string]bool, r.Bools.Count())
	r.Bools.Range(func(key string, ptr *atomic.Bool) {
		out[key] = ptr.Load()
	})
	return out
}

// TotalCount returns total metrics across all types
func (r *Registry) TotalCount() int {
	return r.Bools.Count() + r.Ints.Count() + r.Floats.Count()
}
