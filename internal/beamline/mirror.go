package beamline

import (
	"context"
	"time"
)

// MirrorSpec configures a flat offset mirror.
type MirrorSpec struct {
	Name  string  `json:"name,omitempty"`
	X     float64 `json:"x"`     // horizontal translation, m
	Z     float64 `json:"z"`     // position along the beamline, m
	Pitch float64 `json:"pitch"` // grazing angle, rad

	// PitchLow and PitchHigh bound the pitch motor. Both zero disables
	// clamping.
	PitchLow  float64 `json:"pitchLow"`
	PitchHigh float64 `json:"pitchHigh"`

	XNoise     float64       `json:"xNoise"`
	PitchNoise float64       `json:"pitchNoise"`
	Travel     time.Duration `json:"travel"`
}

// Mirror is a flat grazing-incidence mirror. The alignment only ever drives
// Pitch; X and Z are static survey positions exposed as motors so the
// transport math reads them like everything else.
type Mirror struct {
	name string
	spec MirrorSpec

	X     *Motor
	Z     *Motor
	Pitch *Motor
}

// NewMirror returns a Mirror at the positions in spec.
func NewMirror(name string, spec MirrorSpec) *Mirror {
	return &Mirror{
		name:  name,
		spec:  spec,
		X:     NewMotor(name+"_x", spec.X, spec.XNoise, spec.Travel),
		Z:     NewMotor(name+"_z", spec.Z, 0, 0),
		Pitch: NewMotor(name+"_pitch", spec.Pitch, spec.PitchNoise, spec.Travel),
	}
}

func (mr *Mirror) Name() string { return mr.name }

// Read returns the mirror's motor readbacks.
func (mr *Mirror) Read() map[string]Reading {
	return map[string]Reading{
		mr.X.Name():     mr.X.Read(),
		mr.Z.Name():     mr.Z.Read(),
		mr.Pitch.Name(): mr.Pitch.Read(),
	}
}

// PitchLimits returns the pitch bounds. ok is false when clamping is
// disabled.
func (mr *Mirror) PitchLimits() (low, high float64, ok bool) {
	if mr.spec.PitchLow == 0 && mr.spec.PitchHigh == 0 {
		return 0, 0, false
	}
	return mr.spec.PitchLow, mr.spec.PitchHigh, true
}

// ClampPitch returns target limited to the pitch bounds.
func (mr *Mirror) ClampPitch(target float64) float64 {
	low, high, ok := mr.PitchLimits()
	if !ok {
		return target
	}
	if target < low {
		return low
	}
	if target > high {
		return high
	}
	return target
}

// MovePitch commands the pitch motor to the clamped target.
func (mr *Mirror) MovePitch(ctx context.Context, target float64) *MoveStatus {
	return mr.Pitch.Move(ctx, mr.ClampPitch(target))
}

// Blocks reports whether the mirror obstructs the beam for downstream
// devices. Grazing mirrors always pass the beam on.
func (mr *Mirror) Blocks() bool { return false }

// Insert is accepted and ignored: a grazing mirror has no screen to drive
// in, so code that sequences screens can treat mirrors uniformly.
func (mr *Mirror) Insert(context.Context) error { return nil }

// Remove is accepted and ignored, like Insert.
func (mr *Mirror) Remove(context.Context) error { return nil }
