// Package iterwalk computes flat-mirror pitches that land the beam on goal
// pixels of the two alignment imagers. The per-mirror solutions are closed
// form; because each mirror's move disturbs the other imager, Solve sweeps
// the pair until the coupled solution settles.
package iterwalk

import (
	"errors"
	"fmt"
	"math"

	"github.com/photoncontrols/skywalker/internal/beamline"
)

// ErrNoSolution is returned when the geometry admits no real pitch for the
// requested goal.
var ErrNoSolution = errors.New("no pitch solution for goal")

// Geometry is the static survey of the system: source ray, mirror and
// imager positions. Lengths in metres, angles in radians.
type Geometry struct {
	X0  float64 // source position
	XP0 float64 // source pointing
	M1Z float64
	M2Z float64
	Y1Z float64
	Y2Z float64
	M1X float64
	M2X float64
}

// GeometryOf snapshots the survey positions of sys. It reads setpoints;
// survey positions do not jitter.
func GeometryOf(sys *beamline.TwoMirrorSystem) Geometry {
	return Geometry{
		X0:  sys.Source.X.Setpoint(),
		XP0: sys.Source.XP.Setpoint(),
		M1Z: sys.Mirror1.Z.Setpoint(),
		M2Z: sys.Mirror2.Z.Setpoint(),
		Y1Z: sys.Imager1.Z.Setpoint(),
		Y2Z: sys.Imager2.Z.Setpoint(),
		M1X: sys.Mirror1.X.Setpoint(),
		M2X: sys.Mirror2.X.Setpoint(),
	}
}

// Validate checks that the devices are ordered along the beamline and that
// the imagers do not sit on the second mirror.
func (g Geometry) Validate() error {
	if !(g.M1Z < g.M2Z && g.M2Z < g.Y1Z && g.Y1Z < g.Y2Z) {
		return fmt.Errorf("device z out of order: m1 %v, m2 %v, y1 %v, y2 %v",
			g.M1Z, g.M2Z, g.Y1Z, g.Y2Z)
	}
	return nil
}

// Alpha1 returns the first-mirror pitch that lands the beam at goalX on the
// first imager, holding the second mirror at a2. The expression is the
// small-angle closed form of the double-bounce geometry; of the two
// quadratic roots the one continuous with the nominal alignment is taken.
func (g Geometry) Alpha1(a2, goalX float64) (float64, error) {
	x0, xp0 := g.X0, g.XP0
	d2, d4, d5 := g.M1Z, g.M2Z, g.Y1Z
	m1hdx, m2hdx := g.M1X, g.M2X
	x := goalX

	disc := a2*a2*d2*d2 - 8*a2*a2*d2*d4 + 6*a2*a2*d2*d5 +
		8*a2*a2*d4*d4 - 8*a2*a2*d4*d5 + a2*a2*d5*d5 -
		4*a2*d2*d4*xp0 + 4*a2*d2*d5*xp0 + 2*a2*d2*m2hdx -
		2*a2*d2*x + 8*a2*d4*m1hdx - 8*a2*d4*m2hdx + 4*a2*d4*x -
		4*a2*d4*x0 - 8*a2*d5*m1hdx + 6*a2*d5*m2hdx - 2*a2*d5*x +
		4*a2*d5*x0 + m2hdx*m2hdx - 2*m2hdx*x + x*x
	if disc < 0 {
		return 0, fmt.Errorf("%w: first imager discriminant %v", ErrNoSolution, disc)
	}
	a1 := (-a2*d2 + 4*a2*d4 - 3*a2*d5 + 2*d4*xp0 - 2*d5*xp0 - m2hdx + x -
		math.Sqrt(disc)) / (4 * (d4 - d5))
	if math.IsNaN(a1) || math.IsInf(a1, 0) {
		return 0, fmt.Errorf("%w: first imager pitch not finite", ErrNoSolution)
	}
	return a1, nil
}

// Alpha2 returns the second-mirror pitch that lands the beam at goalX on
// the second imager, holding the first mirror at a1.
func (g Geometry) Alpha2(a1, goalX float64) (float64, error) {
	x0, xp0 := g.X0, g.XP0
	d2, d4, d6 := g.M1Z, g.M2Z, g.Y2Z
	m1hdx, m2hdx := g.M1X, g.M2X
	x := goalX

	disc := 4*a1*a1*d2*d2 - 32*a1*a1*d2*d4 + 24*a1*a1*d2*d6 +
		32*a1*a1*d4*d4 - 32*a1*a1*d4*d6 + 4*a1*a1*d6*d6 +
		16*a1*d2*d4*xp0 - 12*a1*d2*d6*xp0 - 8*a1*d2*m1hdx +
		4*a1*d2*x + 4*a1*d2*x0 - 32*a1*d4*d4*xp0 +
		32*a1*d4*d6*xp0 + 32*a1*d4*m1hdx - 16*a1*d4*m2hdx -
		16*a1*d4*x0 - 4*a1*d6*d6*xp0 - 24*a1*d6*m1hdx +
		16*a1*d6*m2hdx - 4*a1*d6*x + 12*a1*d6*x0 + 8*d4*d4*xp0*xp0 -
		8*d4*d6*xp0*xp0 - 16*d4*m1hdx*xp0 + 8*d4*m2hdx*xp0 +
		8*d4*x0*xp0 + d6*d6*xp0*xp0 + 12*d6*m1hdx*xp0 -
		8*d6*m2hdx*xp0 + 2*d6*x*xp0 - 6*d6*x0*xp0 + 4*m1hdx*m1hdx -
		4*m1hdx*x - 4*m1hdx*x0 + x*x + 2*x*x0 + x0*x0
	if disc < 0 {
		return 0, fmt.Errorf("%w: second imager discriminant %v", ErrNoSolution, disc)
	}
	a2 := (-2*a1*d2 + 8*a1*d4 - 6*a1*d6 - 4*d4*xp0 + 3*d6*xp0 + 2*m1hdx -
		x - x0 + math.Sqrt(disc)) / (4 * (d4 - d6))
	if math.IsNaN(a2) || math.IsInf(a2, 0) {
		return 0, fmt.Errorf("%w: second imager pitch not finite", ErrNoSolution)
	}
	return a2, nil
}

// GoalX converts a goal pixel on im to the horizontal beam position that
// lands there. It is the exact inverse of the sensor projection, including
// the camera inversion.
func GoalX(im *beamline.Imager, goalPixel float64) float64 {
	sign := 1.0
	if im.Inverted() {
		sign = -1
	}
	return im.X.Setpoint() + sign*(goalPixel-im.CenterColumn())*im.MetersPerPixel()
}

// PixelDelta returns how far a measured centroid sits from its goal, in
// pixels. Positive means the centroid is on the higher-column side.
func PixelDelta(measured, goal float64) float64 {
	return measured - goal
}

// Solution is a converged pitch pair.
type Solution struct {
	Alpha1 float64
	Alpha2 float64
	Sweeps int
}

// Solver iterates the coupled closed-form solutions to a fixed point.
type Solver struct {
	Geometry Geometry

	// MaxSweeps bounds the iteration; zero means 200.
	MaxSweeps int

	// Epsilon is the pitch change below which the pair counts as settled;
	// zero means 1e-12 rad.
	Epsilon float64
}

const (
	defaultMaxSweeps = 200
	defaultEpsilon   = 1e-12
)

// Solve starts from the current pitches and returns the pair that lands
// the beam at goalX1 and goalX2 on the two imagers.
func (s *Solver) Solve(a1, a2, goalX1, goalX2 float64) (Solution, error) {
	maxSweeps := s.MaxSweeps
	if maxSweeps <= 0 {
		maxSweeps = defaultMaxSweeps
	}
	eps := s.Epsilon
	if eps <= 0 {
		eps = defaultEpsilon
	}

	for sweep := 1; sweep <= maxSweeps; sweep++ {
		next1, err := s.Geometry.Alpha1(a2, goalX1)
		if err != nil {
			return Solution{}, err
		}
		next2, err := s.Geometry.Alpha2(next1, goalX2)
		if err != nil {
			return Solution{}, err
		}
		settled := math.Abs(next1-a1) < eps && math.Abs(next2-a2) < eps
		a1, a2 = next1, next2
		if settled {
			return Solution{Alpha1: a1, Alpha2: a2, Sweeps: sweep}, nil
		}
	}
	return Solution{}, fmt.Errorf("pitch solution did not settle in %d sweeps", maxSweeps)
}
