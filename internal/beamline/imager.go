package beamline

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// InOutState is the position of a removable screen.
type InOutState string

const (
	StateIn      InOutState = "IN"
	StateOut     InOutState = "OUT"
	StateUnknown InOutState = "UNKNOWN"
)

// StateEvent describes a screen state transition.
type StateEvent struct {
	Name string
	Old  InOutState
	New  InOutState
	Time time.Time
}

// Point is a centroid position on a sensor, in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ImagerSpec configures a YAG screen imager.
type ImagerSpec struct {
	Name string  `json:"name,omitempty"`
	X    float64 `json:"x"` // horizontal position, m
	Z    float64 `json:"z"` // position along the beamline, m

	// Pixels and Size describe the sensor: width and height in pixels and
	// in metres.
	Pixels [2]int     `json:"pixels"`
	Size   [2]float64 `json:"size"`

	// Invert flips the sign of the pixel projection for cameras mounted
	// mirror-imaged.
	Invert bool `json:"invert"`

	XNoise        float64       `json:"xNoise"`
	CentroidNoise float64       `json:"centroidNoise"` // px
	Travel        time.Duration `json:"travel"`
	ActuateDelay  time.Duration `json:"actuateDelay"`
}

type stateSub struct {
	id int
	fn func(StateEvent)
}

// Imager is a YAG screen with a camera. The screen starts OUT; while IN it
// blocks the beam for everything downstream. Centroids come from a bound
// source function, normally the beam transport closure installed by
// TwoMirrorSystem.
type Imager struct {
	name string
	spec ImagerSpec

	X *Motor
	Z *Motor

	mu       sync.Mutex
	state    InOutState
	centroid func() (Point, error)
	subs     []stateSub
	next     int
}

// NewImager returns an Imager with its screen OUT. The sensor must have
// positive pixel and physical dimensions; the centroid projection divides
// by both.
func NewImager(name string, spec ImagerSpec) *Imager {
	if spec.Pixels[0] <= 0 || spec.Pixels[1] <= 0 {
		panic(fmt.Errorf("imager %s: sensor %dx%d px; want positive dimensions", name, spec.Pixels[0], spec.Pixels[1]))
	}
	if spec.Size[0] <= 0 || spec.Size[1] <= 0 {
		panic(fmt.Errorf("imager %s: sensor %vx%v m; want positive dimensions", name, spec.Size[0], spec.Size[1]))
	}
	return &Imager{
		name:  name,
		spec:  spec,
		X:     NewMotor(name+"_x", spec.X, spec.XNoise, spec.Travel),
		Z:     NewMotor(name+"_z", spec.Z, 0, 0),
		state: StateOut,
	}
}

func (im *Imager) Name() string { return im.name }

// Read returns the imager's motor readbacks. The screen state and centroid
// have their own accessors.
func (im *Imager) Read() map[string]Reading {
	return map[string]Reading{
		im.X.Name(): im.X.Read(),
		im.Z.Name(): im.Z.Read(),
	}
}

// State returns the current screen position.
func (im *Imager) State() InOutState {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.state
}

// Blocks reports whether the screen obstructs downstream devices.
func (im *Imager) Blocks() bool { return im.State() == StateIn }

// Insert drives the screen into the beam. Inserting an inserted screen is
// a no-op.
func (im *Imager) Insert(ctx context.Context) error {
	return im.setState(ctx, StateIn)
}

// Remove drives the screen out of the beam. Removing a removed screen is a
// no-op.
func (im *Imager) Remove(ctx context.Context) error {
	return im.setState(ctx, StateOut)
}

func (im *Imager) setState(ctx context.Context, target InOutState) error {
	im.mu.Lock()
	if im.state == target {
		im.mu.Unlock()
		return nil
	}
	im.mu.Unlock()

	if im.spec.ActuateDelay > 0 {
		timer := time.NewTimer(im.spec.ActuateDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	im.mu.Lock()
	old := im.state
	if old == target {
		im.mu.Unlock()
		return nil
	}
	im.state = target
	ev := StateEvent{Name: im.name, Old: old, New: target, Time: time.Now()}
	subs := make([]stateSub, len(im.subs))
	copy(subs, im.subs)
	im.mu.Unlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
	return nil
}

// SubscribeState registers fn to run on every screen transition.
func (im *Imager) SubscribeState(fn func(StateEvent)) int {
	im.mu.Lock()
	defer im.mu.Unlock()
	id := im.next
	im.next++
	im.subs = append(im.subs, stateSub{id: id, fn: fn})
	return id
}

// UnsubscribeState removes a state subscription.
func (im *Imager) UnsubscribeState(id int) {
	im.mu.Lock()
	defer im.mu.Unlock()
	for i, sub := range im.subs {
		if sub.id == id {
			im.subs = append(im.subs[:i], im.subs[i+1:]...)
			return
		}
	}
}

// BindCentroid installs the function that produces raw centroids for this
// imager.
func (im *Imager) BindCentroid(fn func() (Point, error)) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.centroid = fn
}

// Centroid returns the beam centroid on the sensor. The screen must be IN;
// measurement noise is added to the raw centroid. The value is not clamped
// to the sensor, so a centroid outside [0, width) still reports where the
// beam would land.
func (im *Imager) Centroid() (Point, error) {
	im.mu.Lock()
	st := im.state
	fn := im.centroid
	im.mu.Unlock()

	if st != StateIn {
		return Point{}, fmt.Errorf("%s: %w", im.name, ErrScreenOut)
	}
	if fn == nil {
		return Point{}, fmt.Errorf("%s: no centroid source bound", im.name)
	}
	p, err := fn()
	if err != nil {
		return Point{}, fmt.Errorf("%s: %w", im.name, err)
	}
	if n := im.spec.CentroidNoise; n != 0 {
		p.X += (2*rand.Float64() - 1) * n
		p.Y += (2*rand.Float64() - 1) * n
	}
	return p, nil
}

// WidthPx returns the sensor width in pixels.
func (im *Imager) WidthPx() int { return im.spec.Pixels[0] }

// HeightPx returns the sensor height in pixels.
func (im *Imager) HeightPx() int { return im.spec.Pixels[1] }

// WidthM returns the sensor width in metres.
func (im *Imager) WidthM() float64 { return im.spec.Size[0] }

// MetersPerPixel returns the horizontal pixel pitch.
func (im *Imager) MetersPerPixel() float64 {
	return im.spec.Size[0] / float64(im.spec.Pixels[0])
}

// CenterColumn returns the column a centred beam lands on.
func (im *Imager) CenterColumn() float64 {
	return math.Floor(float64(im.spec.Pixels[0]) / 2)
}

// CenterRow returns the row a centred beam lands on.
func (im *Imager) CenterRow() float64 {
	return math.Floor(float64(im.spec.Pixels[1]) / 2)
}

// Inverted reports whether the pixel projection is flipped.
func (im *Imager) Inverted() bool { return im.spec.Invert }
