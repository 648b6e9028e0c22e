package status

import (
	"math"
	"sync/atomic"
)

// AtomicFloat is a lock-free float64 gauge stored as raw bits.
// The zero value reads as 0.0 and is ready to use.
type AtomicFloat struct {
	bits atomic.Uint64
}

// Set stores val atomically
func (f *AtomicFloat) Set(val float64) {
	f.bits.Store(math.Float64bits(val))
}

// Get loads the value atomically
func (f *AtomicFloat) Get() float64 {
	return math.Float64frombits(f.bits.Load())
}
