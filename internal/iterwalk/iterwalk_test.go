package iterwalk_test

import (
	"errors"
	"math"
	"testing"

	"github.com/photoncontrols/skywalker/internal/beamline"
	"github.com/photoncontrols/skywalker/internal/iterwalk"
	"github.com/photoncontrols/skywalker/internal/utils"
)

const (
	nominalPitch  = 0.0014
	nominalOffset = 0.0317324
	pitchTol      = 1e-8
)

func nominalGeometry() iterwalk.Geometry {
	return iterwalk.Geometry{
		M1Z: 90.510, M2Z: 101.843,
		Y1Z: 103.660, Y2Z: 375.000,
		M2X: nominalOffset,
	}
}

func TestAlpha1Nominal(t *testing.T) {
	g := nominalGeometry()
	// Goal on the beam axis: the current pitch is already the answer.
	got, err := g.Alpha1(nominalPitch, nominalOffset)
	if err != nil {
		t.Fatalf("Alpha1() = %v", err)
	}
	if !utils.FloatEquals(got, nominalPitch, pitchTol) {
		t.Errorf("Alpha1() = %v; want %v", got, nominalPitch)
	}
}

func TestAlpha2Nominal(t *testing.T) {
	g := nominalGeometry()
	got, err := g.Alpha2(nominalPitch, nominalOffset)
	if err != nil {
		t.Fatalf("Alpha2() = %v", err)
	}
	if !utils.FloatEquals(got, nominalPitch, pitchTol) {
		t.Errorf("Alpha2() = %v; want %v", got, nominalPitch)
	}
}

func TestSolveNominal(t *testing.T) {
	s := &iterwalk.Solver{Geometry: nominalGeometry()}
	sol, err := s.Solve(nominalPitch, nominalPitch, nominalOffset, nominalOffset)
	if err != nil {
		t.Fatalf("Solve() = %v", err)
	}
	if !utils.FloatEquals(sol.Alpha1, nominalPitch, pitchTol) {
		t.Errorf("Solve() Alpha1 = %v; want %v", sol.Alpha1, nominalPitch)
	}
	if !utils.FloatEquals(sol.Alpha2, nominalPitch, pitchTol) {
		t.Errorf("Solve() Alpha2 = %v; want %v", sol.Alpha2, nominalPitch)
	}
	if sol.Sweeps < 1 || sol.Sweeps > 50 {
		t.Errorf("Solve() took %d sweeps; want a handful", sol.Sweeps)
	}
}

func TestSolveLandsOnGoals(t *testing.T) {
	g := nominalGeometry()
	s := &iterwalk.Solver{Geometry: g}

	// Off-centre goals: +50 px on the first imager, -30 px on the second.
	mpp := 0.0076 / 1392
	goalX1 := nominalOffset + 50*mpp
	goalX2 := nominalOffset - 30*mpp
	sol, err := s.Solve(nominalPitch, nominalPitch, goalX1, goalX2)
	if err != nil {
		t.Fatalf("Solve() = %v", err)
	}

	// Check against the transport. The solver's closed form keeps the
	// second-order mirror-intercept terms the sim's linear transport
	// drops, so agreement is to a fraction of a pixel, not exact.
	at1 := beamline.TwoBounce(sol.Alpha1, sol.Alpha2, g.X0, g.XP0,
		g.M1X, g.M1Z, g.M2X, g.M2Z, g.Y1Z)
	at2 := beamline.TwoBounce(sol.Alpha1, sol.Alpha2, g.X0, g.XP0,
		g.M1X, g.M1Z, g.M2X, g.M2Z, g.Y2Z)
	if got := math.Abs(at1 - goalX1); got > 2e-6 {
		t.Errorf("first imager misses goal by %v m", got)
	}
	if got := math.Abs(at2 - goalX2); got > 4e-5 {
		t.Errorf("second imager misses goal by %v m", got)
	}
}

func TestSolveDirection(t *testing.T) {
	g := nominalGeometry()
	s := &iterwalk.Solver{Geometry: g}
	mpp := 0.0076 / 1392

	// More first-mirror pitch lands the beam at lower x downstream, so a
	// higher first goal takes less pitch, and the second mirror follows
	// down to hold the far imager.
	sol, err := s.Solve(nominalPitch, nominalPitch, nominalOffset+50*mpp, nominalOffset)
	if err != nil {
		t.Fatalf("Solve() = %v", err)
	}
	if sol.Alpha1 >= nominalPitch {
		t.Errorf("Alpha1 = %v; want below %v", sol.Alpha1, nominalPitch)
	}
	if sol.Alpha2 >= nominalPitch {
		t.Errorf("Alpha2 = %v; want below %v", sol.Alpha2, nominalPitch)
	}

	// Raising only the far goal raises both.
	sol, err = s.Solve(nominalPitch, nominalPitch, nominalOffset, nominalOffset+50*mpp)
	if err != nil {
		t.Fatalf("Solve() = %v", err)
	}
	if sol.Alpha1 <= nominalPitch {
		t.Errorf("Alpha1 = %v; want above %v", sol.Alpha1, nominalPitch)
	}
	if sol.Alpha2 <= nominalPitch {
		t.Errorf("Alpha2 = %v; want above %v", sol.Alpha2, nominalPitch)
	}
}

func TestSolveDegenerateGeometry(t *testing.T) {
	g := nominalGeometry()
	g.Y1Z = g.M2Z // imager on the mirror: no leverage
	s := &iterwalk.Solver{Geometry: g}
	_, err := s.Solve(nominalPitch, nominalPitch, nominalOffset, nominalOffset)
	if !errors.Is(err, iterwalk.ErrNoSolution) {
		t.Errorf("Solve() error = %v; want %v", err, iterwalk.ErrNoSolution)
	}
}

func TestGeometryValidate(t *testing.T) {
	if err := nominalGeometry().Validate(); err != nil {
		t.Errorf("Validate() = %v; want nil", err)
	}
	g := nominalGeometry()
	g.Y2Z = g.M1Z - 1
	if err := g.Validate(); err == nil {
		t.Error("Validate() = nil for out-of-order devices; want error")
	}
}

func TestGoalX(t *testing.T) {
	spec := beamline.ImagerSpec{
		X: nominalOffset, Z: 103.660,
		Pixels: [2]int{1392, 1040},
		Size:   [2]float64{0.0076, 0.0062},
	}
	im := beamline.NewImager("y1", spec)

	if got := iterwalk.GoalX(im, 696); got != nominalOffset {
		t.Errorf("GoalX(696) = %v; want %v", got, nominalOffset)
	}
	want := nominalOffset + 100*0.0076/1392
	if got := iterwalk.GoalX(im, 796); !utils.FloatEquals(got, want, 1e-12) {
		t.Errorf("GoalX(796) = %v; want %v", got, want)
	}

	// Projection and goal conversion are inverses.
	for _, pix := range []float64{0, 123.5, 696, 1391} {
		x := iterwalk.GoalX(im, pix)
		back := beamline.PixelColumn(x, spec.X, 1392, 0.0076, false)
		if !utils.FloatEquals(back, pix, 1e-9) {
			t.Errorf("PixelColumn(GoalX(%v)) = %v; want %v", pix, back, pix)
		}
	}

	spec.Invert = true
	inv := beamline.NewImager("y1i", spec)
	wantInv := nominalOffset - 100*0.0076/1392
	if got := iterwalk.GoalX(inv, 796); !utils.FloatEquals(got, wantInv, 1e-12) {
		t.Errorf("inverted GoalX(796) = %v; want %v", got, wantInv)
	}
}

func TestPixelDelta(t *testing.T) {
	if got := iterwalk.PixelDelta(650.5, 696); got != -45.5 {
		t.Errorf("PixelDelta(650.5, 696) = %v; want -45.5", got)
	}
	if got := iterwalk.PixelDelta(700, 696); got != 4 {
		t.Errorf("PixelDelta(700, 696) = %v; want 4", got)
	}
}
