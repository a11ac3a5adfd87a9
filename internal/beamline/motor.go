package beamline

import (
	"context"
	"sync"
	"time"
)

// MoveStatus tracks one motor move. It completes when the motor reaches the
// target, the context is cancelled, or the move is interrupted.
type MoveStatus struct {
	target float64
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Target returns the commanded position.
func (st *MoveStatus) Target() float64 { return st.target }

// Done returns a channel closed when the move has settled.
func (st *MoveStatus) Done() <-chan struct{} { return st.done }

// Err returns the move outcome. It is nil while the move is still in
// flight and nil after a successful completion; use Done or Wait to tell
// the two apart.
func (st *MoveStatus) Err() error {
	select {
	case <-st.done:
	default:
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Wait blocks until the move settles or ctx is cancelled.
func (st *MoveStatus) Wait(ctx context.Context) error {
	select {
	case <-st.done:
		return st.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (st *MoveStatus) finish(err error) {
	st.mu.Lock()
	st.err = err
	st.mu.Unlock()
	close(st.done)
}

type moveOp struct {
	st   *MoveStatus
	stop chan struct{}
	once sync.Once
}

func (op *moveOp) interrupt() {
	op.once.Do(func() { close(op.stop) })
}

// Motor is a positioner with a finite travel time. While a move is in
// flight the readback keeps its last settled value; an interrupted move
// settles at the interpolated position along the commanded path.
type Motor struct {
	name   string
	sig    *Signal
	travel time.Duration

	mu       sync.Mutex
	setpoint float64
	active   *moveOp
}

// NewMotor returns a Motor at initial. noise is the readback noise
// half-width and travel the duration of a full move; zero travel makes
// moves complete synchronously.
func NewMotor(name string, initial, noise float64, travel time.Duration) *Motor {
	return &Motor{
		name:     name,
		sig:      NewSignal(name, initial, noise),
		travel:   travel,
		setpoint: initial,
	}
}

func (m *Motor) Name() string { return m.name }

// Position returns a noisy readback sample.
func (m *Motor) Position() float64 { return m.sig.Get() }

// Setpoint returns the last commanded target.
func (m *Motor) Setpoint() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setpoint
}

// Read returns a timestamped readback sample.
func (m *Motor) Read() Reading { return m.sig.Read() }

// Subscribe registers fn to run whenever the readback settles at a new
// position.
func (m *Motor) Subscribe(fn func(Event)) int { return m.sig.Subscribe(fn) }

// Unsubscribe removes a subscription.
func (m *Motor) Unsubscribe(id int) { m.sig.Unsubscribe(id) }

// Move commands the motor to target and returns a status for the move. Any
// move already in flight is interrupted first and settles at its
// interpolated position. Cancelling ctx interrupts the new move the same
// way.
func (m *Motor) Move(ctx context.Context, target float64) *MoveStatus {
	st := &MoveStatus{target: target, done: make(chan struct{})}
	for {
		m.mu.Lock()
		if m.active != nil {
			prev := m.active
			m.mu.Unlock()
			prev.interrupt()
			<-prev.st.done
			continue
		}
		m.setpoint = target
		if m.travel <= 0 {
			m.mu.Unlock()
			m.sig.Put(target)
			st.finish(nil)
			return st
		}
		op := &moveOp{st: st, stop: make(chan struct{})}
		m.active = op
		start := m.sig.Setpoint()
		m.mu.Unlock()
		go m.run(ctx, op, start, target)
		return st
	}
}

// Stop interrupts the in-flight move, if any, and waits for the motor to
// settle.
func (m *Motor) Stop() {
	m.mu.Lock()
	op := m.active
	m.mu.Unlock()
	if op == nil {
		return
	}
	op.interrupt()
	<-op.st.done
}

func (m *Motor) run(ctx context.Context, op *moveOp, start, target float64) {
	began := time.Now()
	timer := time.NewTimer(m.travel)
	defer timer.Stop()

	var pos float64
	var err error
	select {
	case <-timer.C:
		pos = target
	case <-ctx.Done():
		pos, err = m.partial(start, target, began), ctx.Err()
	case <-op.stop:
		pos, err = m.partial(start, target, began), ErrMoveInterrupted
	}

	m.mu.Lock()
	if m.active == op {
		m.active = nil
	}
	m.mu.Unlock()
	m.sig.Put(pos)
	op.st.finish(err)
}

func (m *Motor) partial(start, target float64, began time.Time) float64 {
	frac := float64(time.Since(began)) / float64(m.travel)
	if frac > 1 {
		frac = 1
	}
	return start + (target-start)*frac
}
