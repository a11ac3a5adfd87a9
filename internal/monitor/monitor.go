// Package monitor keeps a bounded, ordered history of system observations
// taken during walks. The history is what model building fits against: each
// observation pairs the commanded pitches with whatever centroids were
// measurable at the time.
package monitor

import (
	"math"
	"sync"
	"time"

	"github.com/photoncontrols/skywalker/internal/modelfit"
)

// Observation is one snapshot of pitches and measured centroids. A missing
// centroid is NaN; NoCentroid supplies it.
type Observation struct {
	Time      time.Time
	Pitch1    float64
	Pitch2    float64
	Centroid1 float64
	Centroid2 float64
}

// NoCentroid marks a centroid that could not be measured.
func NoCentroid() float64 { return math.NaN() }

// Monitor is a drop-oldest history with a fixed capacity.
type Monitor struct {
	mu  sync.Mutex
	cap int
	obs []Observation
}

const defaultCapacity = 1024

// New returns a Monitor holding at most capacity observations; capacity
// <= 0 means 1024.
func New(capacity int) *Monitor {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Monitor{cap: capacity}
}

// Record appends an observation, dropping the oldest once full.
func (m *Monitor) Record(obs Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obs.Time.IsZero() {
		obs.Time = time.Now()
	}
	m.obs = append(m.obs, obs)
	if len(m.obs) > m.cap {
		m.obs = m.obs[len(m.obs)-m.cap:]
	}
}

// Len returns the number of held observations.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.obs)
}

// Clear drops the history.
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = nil
}

// Observations returns a copy of the history, oldest first.
func (m *Monitor) Observations() []Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Observation, len(m.obs))
	copy(out, m.obs)
	return out
}

// FirstMirrorSamples returns the (first pitch, first centroid) pairs with a
// measured centroid, ready for fitting.
func (m *Monitor) FirstMirrorSamples() []modelfit.Sample {
	return m.samples(func(o Observation) (float64, float64) {
		return o.Pitch1, o.Centroid1
	})
}

// SecondMirrorSamples returns the (second pitch, second centroid) pairs
// with a measured centroid.
func (m *Monitor) SecondMirrorSamples() []modelfit.Sample {
	return m.samples(func(o Observation) (float64, float64) {
		return o.Pitch2, o.Centroid2
	})
}

func (m *Monitor) samples(pick func(Observation) (float64, float64)) []modelfit.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]modelfit.Sample, 0, len(m.obs))
	for _, o := range m.obs {
		pitch, centroid := pick(o)
		if math.IsNaN(centroid) {
			continue
		}
		out = append(out, modelfit.Sample{Pitch: pitch, Centroid: centroid})
	}
	return out
}
