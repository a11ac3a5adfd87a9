package skywalker

import (
	"fmt"
	"time"

	"github.com/photoncontrols/skywalker/internal/beamline"
	"github.com/photoncontrols/skywalker/internal/measure"
	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
	"github.com/photoncontrols/skywalker/pkg/api/walkmode"
)

// Params configures one alignment run. The zero value walks in iter mode
// to the centre of both sensors with the stock tolerances.
type Params struct {
	// Mode selects the pitch strategy; empty means iter.
	Mode walkmode.Mode

	// Goal1 and Goal2 are the goal pixels on the two imagers. Zero or
	// negative means the sensor centre.
	Goal1 float64
	Goal2 float64

	// Tolerance is the convergence window around each goal, in pixels.
	Tolerance float64

	// Averages is the number of centroid reads per measurement.
	Averages int

	// MaxWalks bounds the walk loop. Build mode ignores it and runs its
	// sweep to the end.
	MaxWalks int

	// SampleDelay paces centroid reads inside a burst.
	SampleDelay time.Duration

	// FilterK is the MAD multiplier for the measurement outlier filter.
	FilterK float64

	// Settle is the pause after mirror moves before the next measurement.
	Settle time.Duration

	// ModelMinPoints and ModelMinR2 gate when a fitted model is trusted
	// to steer.
	ModelMinPoints int
	ModelMinR2     float64

	// BuildSweepPoints and BuildSweepWidth shape the build-mode sweep:
	// points per mirror across a symmetric width in radians.
	BuildSweepPoints int
	BuildSweepWidth  float64
}

const (
	defaultTolerance      = 2.0
	defaultAverages       = 20
	defaultMaxWalks       = 10
	defaultFilterK        = 3.0
	defaultModelMinPoints = 5
	defaultModelMinR2     = 0.95
	defaultSweepPoints    = 5
	defaultSweepWidth     = 5e-6
)

func (p Params) withDefaults(sys *beamline.TwoMirrorSystem) Params {
	if p.Mode == walkmode.None {
		p.Mode = walkmode.Iter
	}
	if p.Goal1 <= 0 {
		p.Goal1 = sys.Imager1.CenterColumn()
	}
	if p.Goal2 <= 0 {
		p.Goal2 = sys.Imager2.CenterColumn()
	}
	if p.Tolerance <= 0 {
		p.Tolerance = defaultTolerance
	}
	if p.Averages <= 0 {
		p.Averages = defaultAverages
	}
	if p.MaxWalks <= 0 {
		p.MaxWalks = defaultMaxWalks
	}
	if p.FilterK <= 0 {
		p.FilterK = defaultFilterK
	}
	if p.ModelMinPoints <= 0 {
		p.ModelMinPoints = defaultModelMinPoints
	}
	if p.ModelMinR2 <= 0 {
		p.ModelMinR2 = defaultModelMinR2
	}
	if p.BuildSweepPoints <= 1 {
		p.BuildSweepPoints = defaultSweepPoints
	}
	if p.BuildSweepWidth <= 0 {
		p.BuildSweepWidth = defaultSweepWidth
	}
	return p
}

// validate assumes withDefaults has run.
func (p Params) validate(sys *beamline.TwoMirrorSystem) error {
	if _, err := walkmode.Parse(string(p.Mode)); err != nil {
		return err
	}
	if w := float64(sys.Imager1.WidthPx()); p.Goal1 >= w {
		return fmt.Errorf("goal %v off the first sensor (%v px wide)", p.Goal1, w)
	}
	if w := float64(sys.Imager2.WidthPx()); p.Goal2 >= w {
		return fmt.Errorf("goal %v off the second sensor (%v px wide)", p.Goal2, w)
	}
	return nil
}

func (p Params) measureConfig() measure.Config {
	return measure.Config{
		Averages: p.Averages,
		Delay:    p.SampleDelay,
		FilterK:  p.FilterK,
	}
}

func (p Params) api() alignmentrun.Params {
	return alignmentrun.Params{
		Mode:      p.Mode,
		Goal1:     p.Goal1,
		Goal2:     p.Goal2,
		Tolerance: p.Tolerance,
		Averages:  p.Averages,
		MaxWalks:  p.MaxWalks,
	}
}
