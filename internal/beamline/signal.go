package beamline

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Event describes a value change on a Signal.
type Event struct {
	Name string
	Old  float64
	New  float64
	Time time.Time
}

type subscriber struct {
	id int
	fn func(Event)
}

// Signal is a single scalar process variable. Reads sample the stored value
// plus optional uniform noise; writes store the exact value and notify
// subscribers in registration order.
type Signal struct {
	name  string
	noise float64

	mu    sync.Mutex
	value float64
	ts    time.Time
	subs  []subscriber
	next  int
}

// NewSignal returns a Signal holding initial. noise is the half-width of
// the uniform readback noise; zero disables it.
func NewSignal(name string, initial, noise float64) *Signal {
	return &Signal{name: name, noise: noise, value: initial, ts: time.Now()}
}

func (s *Signal) Name() string { return s.name }

// Get returns a noisy sample of the current value.
func (s *Signal) Get() float64 {
	s.mu.Lock()
	v := s.value
	s.mu.Unlock()
	return v + s.sampleNoise()
}

// Setpoint returns the stored value without readback noise.
func (s *Signal) Setpoint() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Read returns a timestamped noisy sample.
func (s *Signal) Read() Reading {
	s.mu.Lock()
	v, ts := s.value, s.ts
	s.mu.Unlock()
	return Reading{Value: v + s.sampleNoise(), Time: ts}
}

// Put stores v and notifies subscribers. Subscribers run on the calling
// goroutine after the value is visible to readers.
func (s *Signal) Put(v float64) {
	s.mu.Lock()
	old := s.value
	s.value = v
	s.ts = time.Now()
	ev := Event{Name: s.name, Old: old, New: v, Time: s.ts}
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.fn(ev)
	}
}

// Subscribe registers fn to run on every Put. It returns an id for
// Unsubscribe.
func (s *Signal) Subscribe(fn func(Event)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (s *Signal) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Signal) sampleNoise() float64 {
	if s.noise == 0 {
		return 0
	}
	return (2*rand.Float64() - 1) * s.noise
}
