package beamline

import (
	"sort"
)

// SystemConfig describes a complete two-mirror system. Zero-value device
// names fall back to the canonical und/m1h/m2h/y1/y2.
type SystemConfig struct {
	Name    string     `json:"name"`
	Source  SourceSpec `json:"source"`
	Mirror1 MirrorSpec `json:"mirror1"`
	Mirror2 MirrorSpec `json:"mirror2"`
	Imager1 ImagerSpec `json:"imager1"`
	Imager2 ImagerSpec `json:"imager2"`
}

// DefaultConfig returns the nominal hard x-ray offset mirror geometry. At
// these positions the beam reflects off both mirrors and lands dead centre
// on both imagers, so walks that start here converge immediately.
func DefaultConfig() SystemConfig {
	sensor := [2]int{1392, 1040}
	size := [2]float64{0.0076, 0.0062}
	return SystemConfig{
		Name:   "hxr",
		Source: SourceSpec{Name: "und", X: 0, XP: 0, Rate: 120},
		Mirror1: MirrorSpec{
			Name: "m1h", X: 0, Z: 90.510, Pitch: 0.0014,
			PitchLow: -0.005, PitchHigh: 0.005,
		},
		Mirror2: MirrorSpec{
			Name: "m2h", X: 0.0317324, Z: 101.843, Pitch: 0.0014,
			PitchLow: -0.005, PitchHigh: 0.005,
		},
		Imager1: ImagerSpec{
			Name: "y1", X: 0.0317324, Z: 103.660,
			Pixels: sensor, Size: size,
		},
		Imager2: ImagerSpec{
			Name: "y2", X: 0.0317324, Z: 375.000,
			Pixels: sensor, Size: size,
		},
	}
}

// TwoMirrorSystem is the full simulated beamline: source, both mirrors and
// both imagers, with centroid sources bound to the beam transport. Imager1
// sits between the second mirror and Imager2, so an inserted first screen
// blocks the second.
type TwoMirrorSystem struct {
	name string

	Source  *Source
	Mirror1 *Mirror
	Mirror2 *Mirror
	Imager1 *Imager
	Imager2 *Imager

	devices map[string]Device
}

// NewTwoMirrorSystem builds the system described by cfg and wires each
// imager's centroid to the transport math.
func NewTwoMirrorSystem(cfg SystemConfig) *TwoMirrorSystem {
	sys := &TwoMirrorSystem{
		name:    orName(cfg.Name, "hxr"),
		Source:  NewSource(orName(cfg.Source.Name, "und"), cfg.Source),
		Mirror1: NewMirror(orName(cfg.Mirror1.Name, "m1h"), cfg.Mirror1),
		Mirror2: NewMirror(orName(cfg.Mirror2.Name, "m2h"), cfg.Mirror2),
		Imager1: NewImager(orName(cfg.Imager1.Name, "y1"), cfg.Imager1),
		Imager2: NewImager(orName(cfg.Imager2.Name, "y2"), cfg.Imager2),
	}

	sys.Imager1.BindCentroid(func() (Point, error) {
		return sys.centroidAt(sys.Imager1, nil)
	})
	sys.Imager2.BindCentroid(func() (Point, error) {
		return sys.centroidAt(sys.Imager2, sys.Imager1)
	})

	sys.devices = make(map[string]Device)
	for _, dev := range []Device{
		sys.Source, sys.Mirror1, sys.Mirror2, sys.Imager1, sys.Imager2,
	} {
		sys.devices[dev.Name()] = dev
	}
	return sys
}

func orName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

func (sys *TwoMirrorSystem) Name() string { return sys.name }

// Device looks up a device by name.
func (sys *TwoMirrorSystem) Device(name string) (Device, bool) {
	dev, ok := sys.devices[name]
	return dev, ok
}

// DeviceNames returns the device names in sorted order.
func (sys *TwoMirrorSystem) DeviceNames() []string {
	names := make([]string, 0, len(sys.devices))
	for name := range sys.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BeamX returns the true horizontal beam position at z, after both
// bounces. It reads motor setpoints rather than noisy readbacks, so it is
// only for tests and drills; measurements go through the imagers.
func (sys *TwoMirrorSystem) BeamX(z float64) float64 {
	return TwoBounce(
		sys.Mirror1.Pitch.Setpoint(), sys.Mirror2.Pitch.Setpoint(),
		sys.Source.X.Setpoint(), sys.Source.XP.Setpoint(),
		sys.Mirror1.X.Setpoint(), sys.Mirror1.Z.Setpoint(),
		sys.Mirror2.X.Setpoint(), sys.Mirror2.Z.Setpoint(),
		z,
	)
}

// centroidAt computes the raw centroid on im. upstream, when non-nil, is
// checked for an inserted screen shadowing im.
func (sys *TwoMirrorSystem) centroidAt(im *Imager, upstream *Imager) (Point, error) {
	if !sys.Source.Live() {
		return Point{}, ErrBeamLost
	}
	if upstream != nil && upstream.Blocks() {
		return Point{}, ErrBeamBlocked
	}
	x := TwoBounce(
		sys.Mirror1.Pitch.Position(), sys.Mirror2.Pitch.Position(),
		sys.Source.X.Get(), sys.Source.XP.Get(),
		sys.Mirror1.X.Position(), sys.Mirror1.Z.Position(),
		sys.Mirror2.X.Position(), sys.Mirror2.Z.Position(),
		im.Z.Position(),
	)
	col := PixelColumn(x, im.X.Position(), im.WidthPx(), im.WidthM(), im.Inverted())
	return Point{X: col, Y: im.CenterRow()}, nil
}
