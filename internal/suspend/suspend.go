// Package suspend gates alignment work on the accelerator beam rate. A
// Suspender subscribes to the rate PV; when the rate falls below the floor,
// Wait blocks every caller until the rate has recovered and stayed up for
// the resume delay. Walks call Wait before anything that needs beam, so a
// dropped beam pauses the run instead of failing it.
package suspend

import (
	"context"
	"sync"
	"time"

	"github.com/photoncontrols/skywalker/internal/beamline"
)

type state int

const (
	stateOK state = iota
	stateSuspended
	stateResuming
)

// Suspender watches one rate signal.
type Suspender struct {
	sig    *beamline.Signal
	floor  float64
	resume time.Duration

	mu          sync.Mutex
	st          state
	gen         int
	okCh        chan struct{}
	timer       *time.Timer
	subID       int
	closed      bool
	suspensions int
	suspendedAt time.Time
	downtime    time.Duration
}

// New returns a Suspender on sig with the given floor in Hz. resume is how
// long the rate must hold above the floor before suspended work releases.
// The suspender is live immediately; Close detaches it.
func New(sig *beamline.Signal, floor float64, resume time.Duration) *Suspender {
	s := &Suspender{
		sig:    sig,
		floor:  floor,
		resume: resume,
		okCh:   make(chan struct{}),
	}
	if sig.Setpoint() >= floor {
		s.st = stateOK
		close(s.okCh)
	} else {
		s.st = stateSuspended
		s.suspendedAt = time.Now()
		s.suspensions = 1
	}
	s.subID = sig.Subscribe(s.onRate)
	return s
}

// Close detaches the suspender from the signal. A suspended Wait stays
// blocked; callers should be gone before Close.
func (s *Suspender) Close() {
	s.sig.Unsubscribe(s.subID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Suspended reports whether work is currently gated.
func (s *Suspender) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st != stateOK
}

// Suspensions returns how many times the beam has dropped below the floor.
func (s *Suspender) Suspensions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspensions
}

// Downtime returns the total time spent suspended, including resume
// delays.
func (s *Suspender) Downtime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != stateOK {
		return s.downtime + time.Since(s.suspendedAt)
	}
	return s.downtime
}

// Wait blocks until the beam is usable or ctx is cancelled.
func (s *Suspender) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		ch := s.okCh
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		// The beam may have dropped again between the release and now.
		if !s.Suspended() {
			return nil
		}
	}
}

func (s *Suspender) onRate(ev beamline.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if ev.New < s.floor {
		switch s.st {
		case stateOK:
			s.st = stateSuspended
			s.gen++
			s.okCh = make(chan struct{})
			s.suspensions++
			s.suspendedAt = time.Now()
		case stateResuming:
			// Recovery did not hold.
			s.st = stateSuspended
			s.gen++
			s.stopTimerLocked()
		}
		return
	}

	if s.st != stateSuspended {
		return
	}
	if s.resume <= 0 {
		s.releaseLocked()
		return
	}
	s.st = stateResuming
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.resume, func() { s.onResumeTimer(gen) })
}

func (s *Suspender) onResumeTimer(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.st != stateResuming || s.gen != gen {
		return
	}
	s.releaseLocked()
}

func (s *Suspender) releaseLocked() {
	s.st = stateOK
	s.gen++
	s.stopTimerLocked()
	s.downtime += time.Since(s.suspendedAt)
	close(s.okCh)
}

func (s *Suspender) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
