package beamline_test

import (
	"context"
	"testing"

	"github.com/photoncontrols/skywalker/internal/beamline"
)

func testMirrorSpec() beamline.MirrorSpec {
	return beamline.MirrorSpec{
		Z: 90.510, Pitch: 0.0014,
		PitchLow: -0.005, PitchHigh: 0.005,
	}
}

func TestMirrorClampPitch(t *testing.T) {
	mr := beamline.NewMirror("m1h", testMirrorSpec())
	tests := []struct {
		name   string
		target float64
		want   float64
	}{
		{
			name:   "inside limits",
			target: 0.0014,
			want:   0.0014,
		},
		{
			name:   "below low",
			target: -0.02,
			want:   -0.005,
		},
		{
			name:   "above high",
			target: 0.02,
			want:   0.005,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := mr.ClampPitch(test.target); got != test.want {
				t.Errorf("ClampPitch(%v) = %v; want %v", test.target, got, test.want)
			}
		})
	}
}

func TestMirrorLimitsDisabled(t *testing.T) {
	spec := testMirrorSpec()
	spec.PitchLow, spec.PitchHigh = 0, 0
	mr := beamline.NewMirror("m1h", spec)

	if _, _, ok := mr.PitchLimits(); ok {
		t.Error("PitchLimits() ok = true; want false with no bounds")
	}
	if got := mr.ClampPitch(0.02); got != 0.02 {
		t.Errorf("ClampPitch(0.02) = %v; want unclamped 0.02", got)
	}
}

func TestMirrorPassesBeam(t *testing.T) {
	ctx := context.Background()
	mr := beamline.NewMirror("m1h", testMirrorSpec())

	if mr.Blocks() {
		t.Error("Blocks() = true; mirrors never block")
	}
	// Insertion commands are accepted and ignored.
	if err := mr.Insert(ctx); err != nil {
		t.Errorf("Insert() = %v; want nil", err)
	}
	if err := mr.Remove(ctx); err != nil {
		t.Errorf("Remove() = %v; want nil", err)
	}
	if mr.Blocks() {
		t.Error("Blocks() = true after insert; mirrors never block")
	}
}

func TestMirrorRead(t *testing.T) {
	mr := beamline.NewMirror("m1h", testMirrorSpec())
	readings := mr.Read()
	for _, field := range []string{"m1h_x", "m1h_z", "m1h_pitch"} {
		if _, ok := readings[field]; !ok {
			t.Errorf("Read() is missing field %q", field)
		}
	}
	if got := readings["m1h_pitch"].Value; got != 0.0014 {
		t.Errorf("Read()[m1h_pitch] = %v; want 0.0014", got)
	}
}
