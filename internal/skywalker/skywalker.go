// Package skywalker drives alignment runs. A run measures both imagers,
// decides pitch corrections for both mirrors, moves them together and goes
// again, until the beam sits inside tolerance on both goals or a budget
// runs out. Every run emits start/walk/stop documents through its
// Recorder.
package skywalker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/photoncontrols/skywalker/internal/beamline"
	"github.com/photoncontrols/skywalker/internal/featureflags"
	"github.com/photoncontrols/skywalker/internal/iterwalk"
	"github.com/photoncontrols/skywalker/internal/log"
	"github.com/photoncontrols/skywalker/internal/measure"
	"github.com/photoncontrols/skywalker/internal/modelfit"
	"github.com/photoncontrols/skywalker/internal/monitor"
	"github.com/photoncontrols/skywalker/internal/suspend"
	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
	"github.com/photoncontrols/skywalker/pkg/api/walkmode"
)

// errNoModel aborts model-driven walks when nothing trustworthy is fitted.
var errNoModel = errors.New("no trustworthy model to steer with")

// Recorder receives every document a run emits.
type Recorder interface {
	Record(ctx context.Context, doc alignmentrun.Document) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, doc alignmentrun.Document) error

func (f RecorderFunc) Record(ctx context.Context, doc alignmentrun.Document) error {
	return f(ctx, doc)
}

// Engine aligns one two-mirror system. It may serve many runs over its
// lifetime; the monitor history and fitted models carry over between runs.
type Engine struct {
	sys        *beamline.TwoMirrorSystem
	recorder   Recorder
	susp       *suspend.Suspender
	mon        *monitor.Monitor
	transcript io.Writer

	mu     sync.Mutex
	model1 modelfit.Model
	model2 modelfit.Model
	has1   bool
	has2   bool
}

type (
	Option interface{ set(*Engine) }
	option func(*Engine) // option implements Option.
)

func (o option) set(e *Engine) { o(e) }

// WithRecorder sets the document sink for every run.
func WithRecorder(r Recorder) Option {
	return option(func(e *Engine) { e.recorder = r })
}

// WithSuspender gates walks on the given beam-rate suspender.
func WithSuspender(s *suspend.Suspender) Option {
	return option(func(e *Engine) { e.susp = s })
}

// WithMonitor supplies the observation history to record into and fit
// models from.
func WithMonitor(m *monitor.Monitor) Option {
	return option(func(e *Engine) { e.mon = m })
}

// WithTranscript routes the operator-facing progress lines to w.
func WithTranscript(w io.Writer) Option {
	return option(func(e *Engine) { e.transcript = w })
}

// New returns an Engine for sys.
func New(sys *beamline.TwoMirrorSystem, options ...Option) *Engine {
	e := &Engine{sys: sys}
	for _, o := range options {
		o.set(e)
	}
	if e.mon == nil {
		e.mon = monitor.New(0)
	}
	return e
}

// Models returns the latest fitted models for the two mirror/imager pairs.
// ok is false until both have been fitted at least once.
func (e *Engine) Models() (first, second modelfit.Model, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model1, e.model2, e.has1 && e.has2
}

// AdoptModels installs previously fitted models, as after a restart when
// the build history lives in a model store rather than in this process.
func (e *Engine) AdoptModels(first, second modelfit.Model) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model1, e.model2 = first, second
	e.has1, e.has2 = true, true
}

// Align performs one run. The returned error covers only runs that could
// not start (bad parameters or geometry); once walking, the outcome is in
// the RunStop status.
func (e *Engine) Align(ctx context.Context, params Params) (alignmentrun.RunStop, error) {
	params = params.withDefaults(e.sys)
	if err := params.validate(e.sys); err != nil {
		return alignmentrun.RunStop{}, err
	}
	geom := iterwalk.GeometryOf(e.sys)
	if err := geom.Validate(); err != nil {
		return alignmentrun.RunStop{}, err
	}

	key := alignmentrun.NewKey(e.sys.Name())
	ctx = log.ContextWithAttrs(ctx,
		slog.String("run_id", key.RunID),
		slog.String("mode", string(params.Mode)))
	slog.InfoContext(ctx, "Starting alignment run",
		slog.String("beamline", key.Beamline),
		slog.Float64("goal1", params.Goal1),
		slog.Float64("goal2", params.Goal2),
		slog.Float64("tolerance", params.Tolerance))

	e.record(ctx, alignmentrun.NewRunStartDocument(alignmentrun.RunStart{
		Key:           key,
		Time:          time.Now().UTC(),
		Params:        params.api(),
		InitialPitch1: e.sys.Mirror1.Pitch.Setpoint(),
		InitialPitch2: e.sys.Mirror2.Pitch.Setpoint(),
	}))
	e.transcriptf("run %s: mode %s, goals y1 %.2f px y2 %.2f px, tolerance %.2f px",
		key.RunID, params.Mode, params.Goal1, params.Goal2, params.Tolerance)

	r := &runState{
		e:      e,
		key:    key,
		params: params,
		solver: &iterwalk.Solver{Geometry: geom},
		cfg:    params.measureConfig(),
	}
	var stop alignmentrun.RunStop
	if params.Mode == walkmode.Build {
		stop = r.build(ctx)
	} else {
		stop = r.walk(ctx)
	}

	e.parkScreens(ctx)
	e.record(ctx, alignmentrun.NewRunStopDocument(stop))
	slog.InfoContext(ctx, "Alignment run finished",
		slog.String("status", string(stop.Status)),
		slog.Int("walks", stop.Walks))
	return stop, nil
}

// runState carries one run through its walks.
type runState struct {
	e      *Engine
	key    alignmentrun.Key
	params Params
	solver *iterwalk.Solver
	cfg    measure.Config

	walks  int
	delta1 float64
	delta2 float64
}

func (r *runState) walk(ctx context.Context) alignmentrun.RunStop {
	p := r.params
	for walkN := 1; walkN <= p.MaxWalks; walkN++ {
		m1, m2, err := r.measurePair(ctx)
		if err != nil {
			return r.fail(ctx, err)
		}
		r.walks = walkN
		pitch1 := r.e.sys.Mirror1.Pitch.Setpoint()
		pitch2 := r.e.sys.Mirror2.Pitch.Setpoint()
		r.observe(pitch1, pitch2, m1, m2)

		if r.converged() {
			r.e.record(ctx, alignmentrun.NewWalkEventDocument(
				r.walkEvent(walkN, p.Mode, m1, m2, pitch1, pitch2, true)))
			r.e.transcriptf("converged after %d walk(s): y1 %.2f px (delta %+.2f), y2 %.2f px (delta %+.2f)",
				walkN, m1.Centroid(), r.delta1, m2.Centroid(), r.delta2)
			return r.stop(alignmentrun.StatusCompleted, "")
		}
		r.e.transcriptf("walk %d/%d: y1 %.2f px (delta %+.2f), y2 %.2f px (delta %+.2f)",
			walkN, p.MaxWalks, m1.Centroid(), r.delta1, m2.Centroid(), r.delta2)

		strategy, err := r.chooseStrategy(ctx)
		if err != nil {
			return r.fail(ctx, err)
		}
		target1, target2, err := r.targets(ctx, strategy, pitch1, pitch2)
		if err != nil {
			return r.fail(ctx, err)
		}
		target1 = r.clampTarget(ctx, r.e.sys.Mirror1, target1)
		target2 = r.clampTarget(ctx, r.e.sys.Mirror2, target2)
		r.e.transcriptf("walk %d [%s]: moving %s pitch to %.6e rad, %s pitch to %.6e rad",
			walkN, strategy, r.e.sys.Mirror1.Name(), target1, r.e.sys.Mirror2.Name(), target2)

		if err := r.e.moveMirrors(ctx, target1, target2); err != nil {
			return r.fail(ctx, err)
		}
		if err := sleepCtx(ctx, p.Settle); err != nil {
			return r.fail(ctx, err)
		}
		r.e.record(ctx, alignmentrun.NewWalkEventDocument(
			r.walkEvent(walkN, strategy, m1, m2, target1, target2, false)))
	}
	r.e.transcriptf("gave up after %d walks: y1 delta %+.2f px, y2 delta %+.2f px",
		p.MaxWalks, r.delta1, r.delta2)
	return r.stop(alignmentrun.StatusErrorMaxWalks,
		fmt.Sprintf("no convergence in %d walks", p.MaxWalks))
}

// targets computes the next pitch pair with the given strategy.
func (r *runState) targets(ctx context.Context, strategy walkmode.Mode, pitch1, pitch2 float64) (float64, float64, error) {
	p := r.params
	switch strategy {
	case walkmode.Iter:
		sol, err := r.solver.Solve(pitch1, pitch2,
			iterwalk.GoalX(r.e.sys.Imager1, p.Goal1),
			iterwalk.GoalX(r.e.sys.Imager2, p.Goal2))
		if err != nil {
			return 0, 0, err
		}
		return sol.Alpha1, sol.Alpha2, nil
	case walkmode.Model:
		// Relative correction: back each delta out through the fitted
		// slope. Intercepts go stale as the other mirror moves; slopes
		// do not.
		model1, model2, ok := r.e.Models()
		if !ok {
			return 0, 0, errNoModel
		}
		if model1.Slope == 0 || model2.Slope == 0 {
			return 0, 0, fmt.Errorf("%w: flat slope", errNoModel)
		}
		return pitch1 - r.delta1/model1.Slope, pitch2 - r.delta2/model2.Slope, nil
	}
	return 0, 0, fmt.Errorf("no targets for strategy %q", strategy)
}

// chooseStrategy picks how this walk computes its targets, refitting the
// models from the monitor history first.
func (r *runState) chooseStrategy(ctx context.Context) (walkmode.Mode, error) {
	p := r.params
	switch p.Mode {
	case walkmode.Iter:
		return walkmode.Iter, nil
	case walkmode.Model:
		if r.e.trustedModels(ctx, p.ModelMinPoints, p.ModelMinR2) {
			return walkmode.Model, nil
		}
		if featureflags.ModelFallback.Enabled() {
			slog.WarnContext(ctx, "No trustworthy model; falling back to geometry solver")
			r.e.transcriptf("no trustworthy model; falling back to geometry solver")
			return walkmode.Iter, nil
		}
		return walkmode.None, errNoModel
	case walkmode.Auto:
		if r.e.trustedModels(ctx, p.ModelMinPoints, p.ModelMinR2) {
			return walkmode.Model, nil
		}
		return walkmode.Iter, nil
	}
	return walkmode.None, fmt.Errorf("unsupported walk mode %q", p.Mode)
}

// measurePair measures both imagers, waiting out beam drops between
// attempts when a suspender is wired.
func (r *runState) measurePair(ctx context.Context) (measure.Measurement, measure.Measurement, error) {
	const maxRetries = 10
	var zero measure.Measurement
	for attempt := 0; ; attempt++ {
		if r.e.susp != nil {
			if err := r.e.susp.Wait(ctx); err != nil {
				return zero, zero, err
			}
		}
		m1, m2, err := measure.Pair(ctx, r.e.sys.Imager1, r.e.sys.Imager2, r.cfg)
		if err == nil {
			return m1, m2, nil
		}
		if !beamline.IsBeamUnavailable(err) || r.e.susp == nil || attempt >= maxRetries {
			return zero, zero, err
		}
		slog.WarnContext(ctx, "Beam unavailable during measurement; waiting",
			slog.Any("error", err))
		r.e.transcriptf("beam unavailable (%v); waiting for recovery", err)
	}
}

func (r *runState) observe(pitch1, pitch2 float64, m1, m2 measure.Measurement) {
	r.e.mon.Record(monitor.Observation{
		Pitch1:    pitch1,
		Pitch2:    pitch2,
		Centroid1: m1.Centroid(),
		Centroid2: m2.Centroid(),
	})
	r.delta1 = iterwalk.PixelDelta(m1.Centroid(), r.params.Goal1)
	r.delta2 = iterwalk.PixelDelta(m2.Centroid(), r.params.Goal2)
}

func (r *runState) converged() bool {
	return math.Abs(r.delta1) <= r.params.Tolerance &&
		math.Abs(r.delta2) <= r.params.Tolerance
}

func (r *runState) walkEvent(walkN int, strategy walkmode.Mode, m1, m2 measure.Measurement, pitch1, pitch2 float64, converged bool) alignmentrun.WalkEvent {
	return alignmentrun.WalkEvent{
		Key:       r.key,
		Walk:      walkN,
		Time:      time.Now().UTC(),
		Mode:      strategy,
		First:     summaryOf(m1),
		Second:    summaryOf(m2),
		Delta1:    r.delta1,
		Delta2:    r.delta2,
		Pitch1:    pitch1,
		Pitch2:    pitch2,
		Converged: converged,
	}
}

func (r *runState) fail(ctx context.Context, err error) alignmentrun.RunStop {
	status := r.statusFor(err)
	slog.ErrorContext(ctx, "Alignment run failed",
		slog.Any("error", err),
		slog.String("status", string(status)))
	r.e.transcriptf("run failed: %v", err)
	return r.stop(status, err.Error())
}

func (r *runState) statusFor(err error) alignmentrun.Status {
	suspended := r.e.susp != nil && r.e.susp.Suspended()
	switch {
	case errors.Is(err, errNoModel),
		errors.Is(err, modelfit.ErrDegenerate),
		errors.Is(err, modelfit.ErrInsufficientData):
		return alignmentrun.StatusErrorNoModel
	case beamline.IsBeamUnavailable(err):
		return alignmentrun.StatusErrorBeamLost
	case errors.Is(err, context.DeadlineExceeded):
		if suspended {
			return alignmentrun.StatusErrorBeamLost
		}
		return alignmentrun.StatusErrorTimeout
	default:
		return alignmentrun.StatusErrorOther
	}
}

func (r *runState) stop(status alignmentrun.Status, errMsg string) alignmentrun.RunStop {
	var suspensions int
	var downtime time.Duration
	if r.e.susp != nil {
		suspensions = r.e.susp.Suspensions()
		downtime = r.e.susp.Downtime()
	}
	return alignmentrun.RunStop{
		Key:         r.key,
		Time:        time.Now().UTC(),
		Status:      status,
		Walks:       r.walks,
		FinalDelta1: r.delta1,
		FinalDelta2: r.delta2,
		FinalPitch1: r.e.sys.Mirror1.Pitch.Setpoint(),
		FinalPitch2: r.e.sys.Mirror2.Pitch.Setpoint(),
		Suspensions: suspensions,
		Downtime:    downtime,
		Error:       errMsg,
	}
}

func (r *runState) clampTarget(ctx context.Context, mr *beamline.Mirror, target float64) float64 {
	clamped := mr.ClampPitch(target)
	if clamped != target {
		slog.WarnContext(ctx, "Pitch target clamped to limits",
			slog.String("mirror", mr.Name()),
			slog.Float64("target", target),
			slog.Float64("clamped", clamped))
		r.e.transcriptf("%s pitch target %.6e rad clamped to %.6e rad",
			mr.Name(), target, clamped)
	}
	return clamped
}

// trustedModels reports whether there are models fit to steer with. Built
// models keep precedence: the monitor history mixes walks where both
// mirrors moved, so a refit from it cannot certify what a clean
// single-mirror sweep already has.
func (e *Engine) trustedModels(ctx context.Context, minPoints int, minR2 float64) bool {
	m1, m2, ok := e.Models()
	if ok && m1.Trustworthy(minPoints, minR2) && m2.Trustworthy(minPoints, minR2) {
		return true
	}
	return e.refitModels(ctx, minPoints, minR2)
}

// refitModels refits both models from the monitor history and reports
// whether both are trustworthy.
func (e *Engine) refitModels(ctx context.Context, minPoints int, minR2 float64) bool {
	trust1 := e.refitOne(ctx, e.sys.Mirror1.Name(), e.sys.Imager1.Name(),
		e.mon.FirstMirrorSamples(), minPoints, minR2, &e.model1, &e.has1)
	trust2 := e.refitOne(ctx, e.sys.Mirror2.Name(), e.sys.Imager2.Name(),
		e.mon.SecondMirrorSamples(), minPoints, minR2, &e.model2, &e.has2)
	return trust1 && trust2
}

func (e *Engine) refitOne(ctx context.Context, mirror, imager string, samples []modelfit.Sample, minPoints int, minR2 float64, dst *modelfit.Model, has *bool) bool {
	m, err := modelfit.Fit(mirror, imager, samples)
	if err != nil {
		if !errors.Is(err, modelfit.ErrInsufficientData) {
			slog.WarnContext(ctx, "Model fit failed", slog.Any("error", err))
		}
		return false
	}
	e.mu.Lock()
	*dst, *has = m, true
	e.mu.Unlock()
	return m.Trustworthy(minPoints, minR2)
}

// moveMirrors drives both pitch motors together; the first failure aborts
// the other move.
func (e *Engine) moveMirrors(ctx context.Context, target1, target2 float64) error {
	g, gctx := errgroup.WithContext(ctx)
	st1 := e.sys.Mirror1.MovePitch(gctx, target1)
	st2 := e.sys.Mirror2.MovePitch(gctx, target2)
	g.Go(func() error { return st1.Wait(gctx) })
	g.Go(func() error { return st2.Wait(gctx) })
	return g.Wait()
}

// parkScreens pulls both screens out at the end of a run, on a fresh
// deadline so a cancelled run still parks.
func (e *Engine) parkScreens(ctx context.Context) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := e.sys.Imager1.Remove(pctx); err != nil {
		slog.WarnContext(ctx, "Failed to park first screen", slog.Any("error", err))
	}
	if err := e.sys.Imager2.Remove(pctx); err != nil {
		slog.WarnContext(ctx, "Failed to park second screen", slog.Any("error", err))
	}
}

func (e *Engine) record(ctx context.Context, doc alignmentrun.Document) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, doc); err != nil {
		slog.ErrorContext(ctx, "Failed to record run document",
			slog.Any("error", err),
			slog.String("kind", string(doc.Kind)))
	}
}

func (e *Engine) transcriptf(format string, args ...any) {
	if e.transcript == nil {
		return
	}
	fmt.Fprintf(e.transcript, format+"\n", args...)
}

func summaryOf(m measure.Measurement) alignmentrun.MeasurementSummary {
	st := m.Stats.ReplaceNaNs(0)
	return alignmentrun.MeasurementSummary{
		Imager:  m.Imager,
		Mean:    st.Mean,
		StdErr:  st.StdErr(),
		Min:     st.Min(),
		Max:     st.Max(),
		Samples: st.Size,
		Dropped: m.Dropped,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
