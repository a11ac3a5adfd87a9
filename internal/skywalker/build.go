package skywalker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/photoncontrols/skywalker/internal/beamline"
	"github.com/photoncontrols/skywalker/internal/modelfit"
	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
	"github.com/photoncontrols/skywalker/pkg/api/walkmode"
)

// build sweeps each mirror on its own across a small pitch window, fits a
// line through pitch versus centroid on its paired imager, and stores the
// two models on the engine. The other mirror holds still during each
// sweep so the fit stays clean.
func (r *runState) build(ctx context.Context) alignmentrun.RunStop {
	sys := r.e.sys
	base1 := sys.Mirror1.Pitch.Setpoint()
	base2 := sys.Mirror2.Pitch.Setpoint()

	samples1, err := r.sweep(ctx, sys.Mirror1, base1, false)
	if err != nil {
		r.restore(ctx, base1, base2)
		return r.fail(ctx, err)
	}
	if err := moveOne(ctx, sys.Mirror1, base1); err != nil {
		return r.fail(ctx, err)
	}
	samples2, err := r.sweep(ctx, sys.Mirror2, base2, true)
	if err != nil {
		r.restore(ctx, base1, base2)
		return r.fail(ctx, err)
	}
	if err := moveOne(ctx, sys.Mirror2, base2); err != nil {
		return r.fail(ctx, err)
	}

	model1, err := modelfit.Fit(sys.Mirror1.Name(), sys.Imager1.Name(), samples1)
	if err != nil {
		return r.fail(ctx, err)
	}
	model2, err := modelfit.Fit(sys.Mirror2.Name(), sys.Imager2.Name(), samples2)
	if err != nil {
		return r.fail(ctx, err)
	}
	p := r.params
	if !model1.Trustworthy(p.ModelMinPoints, p.ModelMinR2) {
		return r.fail(ctx, fmt.Errorf("%w: %s fit r2=%.4f n=%d",
			errNoModel, model1.Mirror, model1.R2, model1.N))
	}
	if !model2.Trustworthy(p.ModelMinPoints, p.ModelMinR2) {
		return r.fail(ctx, fmt.Errorf("%w: %s fit r2=%.4f n=%d",
			errNoModel, model2.Mirror, model2.R2, model2.N))
	}

	r.e.mu.Lock()
	r.e.model1, r.e.has1 = model1, true
	r.e.model2, r.e.has2 = model2, true
	r.e.mu.Unlock()

	slog.InfoContext(ctx, "Built centroid models",
		slog.Float64("slope1", model1.Slope),
		slog.Float64("r2_1", model1.R2),
		slog.Float64("slope2", model2.Slope),
		slog.Float64("r2_2", model2.R2))
	r.e.transcriptf("built models: %s/%s slope %.4e px/rad (r2 %.4f), %s/%s slope %.4e px/rad (r2 %.4f)",
		model1.Mirror, model1.Imager, model1.Slope, model1.R2,
		model2.Mirror, model2.Imager, model2.Slope, model2.R2)
	return r.stop(alignmentrun.StatusCompleted, "")
}

// sweep steps mr across the configured window and pairs each commanded
// pitch with the centroid seen on its imager. second selects which of the
// pair measurement feeds the samples.
func (r *runState) sweep(ctx context.Context, mr *beamline.Mirror, base float64, second bool) ([]modelfit.Sample, error) {
	p := r.params
	samples := make([]modelfit.Sample, 0, p.BuildSweepPoints)
	for i := 0; i < p.BuildSweepPoints; i++ {
		frac := float64(i) / float64(p.BuildSweepPoints-1)
		target := mr.ClampPitch(base - p.BuildSweepWidth/2 + p.BuildSweepWidth*frac)
		if err := moveOne(ctx, mr, target); err != nil {
			return nil, err
		}
		if err := sleepCtx(ctx, p.Settle); err != nil {
			return nil, err
		}
		m1, m2, err := r.measurePair(ctx)
		if err != nil {
			return nil, err
		}
		r.walks++
		pitch1 := r.e.sys.Mirror1.Pitch.Setpoint()
		pitch2 := r.e.sys.Mirror2.Pitch.Setpoint()
		r.observe(pitch1, pitch2, m1, m2)
		r.e.record(ctx, alignmentrun.NewWalkEventDocument(
			r.walkEvent(r.walks, walkmode.Build, m1, m2, pitch1, pitch2, false)))
		c := m1.Centroid()
		if second {
			c = m2.Centroid()
		}
		samples = append(samples, modelfit.Sample{Pitch: target, Centroid: c})
		r.e.transcriptf("sweep %s %d/%d: pitch %.6e rad, centroid %.2f px",
			mr.Name(), i+1, p.BuildSweepPoints, target, c)
	}
	return samples, nil
}

func moveOne(ctx context.Context, mr *beamline.Mirror, target float64) error {
	st := mr.MovePitch(ctx, target)
	return st.Wait(ctx)
}

// restore makes a best effort to put both mirrors back where the run
// found them, on a fresh deadline so a cancelled run still restores.
func (r *runState) restore(ctx context.Context, base1, base2 float64) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := r.e.moveMirrors(rctx, base1, base2); err != nil {
		slog.WarnContext(ctx, "Failed to restore mirror pitches", slog.Any("error", err))
	}
}
