// Package measure turns single centroid reads into averaged measurements.
// Each measurement is a paced burst of reads on one imager; a MAD filter
// drops stray reads before averaging when the MedianFilter flag is on.
package measure

import (
	"context"
	"time"

	"github.com/photoncontrols/skywalker/internal/beamline"
	"github.com/photoncontrols/skywalker/internal/centroidstats"
	"github.com/photoncontrols/skywalker/internal/featureflags"
)

// Config controls a measurement burst.
type Config struct {
	// Averages is the number of centroid reads per measurement.
	Averages int

	// Delay paces consecutive reads.
	Delay time.Duration

	// FilterK is the MAD multiplier for the outlier filter.
	FilterK float64
}

// Default matches the walk parameters: 20 reads, unpaced, 3 MADs.
func Default() Config {
	return Config{Averages: 20, FilterK: 3}
}

func (c Config) withDefaults() Config {
	if c.Averages <= 0 {
		c.Averages = 20
	}
	if c.FilterK <= 0 {
		c.FilterK = 3
	}
	return c
}

// Measurement is one averaged centroid on one imager.
type Measurement struct {
	Imager  string                `json:"imager"`
	Stats   centroidstats.Summary `json:"stats"`
	Dropped int                   `json:"dropped"` // reads removed by the filter
	Time    time.Time             `json:"time"`
}

// Centroid returns the filtered mean position in pixels.
func (m Measurement) Centroid() float64 { return m.Stats.Mean }

// Take reads a burst of centroids from im. The screen must already be IN
// and seeing beam; any read error aborts the burst so the caller can sort
// the beam out and retry.
func Take(ctx context.Context, im *beamline.Imager, cfg Config) (Measurement, error) {
	cfg = cfg.withDefaults()
	samples := make([]float64, 0, cfg.Averages)
	for i := 0; i < cfg.Averages; i++ {
		if i > 0 && cfg.Delay > 0 {
			timer := time.NewTimer(cfg.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return Measurement{}, ctx.Err()
			}
		}
		p, err := im.Centroid()
		if err != nil {
			return Measurement{}, err
		}
		samples = append(samples, p.X)
	}

	kept := samples
	if featureflags.MedianFilter.Enabled() {
		kept = centroidstats.FilterOutliers(samples, cfg.FilterK)
	}
	return Measurement{
		Imager:  im.Name(),
		Stats:   centroidstats.Summarise(kept),
		Dropped: len(samples) - len(kept),
		Time:    time.Now(),
	}, nil
}

// Pair measures both imagers for one walk. The first screen is inserted
// for its burst and removed before the second screen measures, since an
// inserted first screen shadows the second. On return the first screen is
// OUT and the second IN; the caller parks the screens when the run ends.
func Pair(ctx context.Context, im1, im2 *beamline.Imager, cfg Config) (Measurement, Measurement, error) {
	if err := im1.Insert(ctx); err != nil {
		return Measurement{}, Measurement{}, err
	}
	m1, err := Take(ctx, im1, cfg)
	if err != nil {
		return Measurement{}, Measurement{}, err
	}
	if err := im1.Remove(ctx); err != nil {
		return Measurement{}, Measurement{}, err
	}

	if err := im2.Insert(ctx); err != nil {
		return Measurement{}, Measurement{}, err
	}
	m2, err := Take(ctx, im2, cfg)
	if err != nil {
		return Measurement{}, Measurement{}, err
	}
	return m1, m2, nil
}
