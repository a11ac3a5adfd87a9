// Package worker turns alignment request messages into engine runs. It
// owns request decoding, the fan-out of run documents to the configured
// sinks, and persistence of models fitted by build runs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"gocloud.dev/pubsub"

	"github.com/photoncontrols/skywalker/internal/beamline"
	"github.com/photoncontrols/skywalker/internal/featureflags"
	"github.com/photoncontrols/skywalker/internal/log"
	"github.com/photoncontrols/skywalker/internal/modelfit"
	"github.com/photoncontrols/skywalker/internal/modelstore"
	"github.com/photoncontrols/skywalker/internal/notification"
	"github.com/photoncontrols/skywalker/internal/runstore"
	"github.com/photoncontrols/skywalker/internal/skywalker"
	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
	"github.com/photoncontrols/skywalker/pkg/api/walkmode"
)

// Request is one alignment request, decoded from message metadata. Zero
// values defer to the engine defaults.
type Request struct {
	Beamline              string
	Mode                  walkmode.Mode
	Goal1                 float64
	Goal2                 float64
	Tolerance             float64
	Averages              int
	MaxWalks              int
	ResultsBucketOverride string
}

// ParseRequest decodes a request from msg.Metadata. Missing fields are
// fine; fields that are present but unparseable are not.
func ParseRequest(msg *pubsub.Message) (Request, error) {
	md := msg.Metadata
	mode, err := walkmode.Parse(md["mode"])
	if err != nil {
		return Request{}, err
	}
	req := Request{
		Beamline:              md["beamline"],
		Mode:                  mode,
		ResultsBucketOverride: md["results_bucket_override"],
	}
	if req.Goal1, err = floatField(md, "goal1"); err != nil {
		return Request{}, err
	}
	if req.Goal2, err = floatField(md, "goal2"); err != nil {
		return Request{}, err
	}
	if req.Tolerance, err = floatField(md, "tolerance"); err != nil {
		return Request{}, err
	}
	if req.Averages, err = intField(md, "averages"); err != nil {
		return Request{}, err
	}
	if req.MaxWalks, err = intField(md, "max_walks"); err != nil {
		return Request{}, err
	}
	return req, nil
}

func floatField(md map[string]string, key string) (float64, error) {
	v := md[key]
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", key, v, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("bad %s %q: not finite", key, v)
	}
	return f, nil
}

func intField(md map[string]string, key string) (int, error) {
	v := md[key]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", key, v, err)
	}
	return n, nil
}

// Stores holds the persistence destinations for a worker. Either may be
// nil to disable that kind of persistence.
type Stores struct {
	Runs   *runstore.RunStore
	Models *modelstore.ModelStore
}

// sink fans run documents out to the live recorders and then the run
// store. The store half is gated by the SaveRuns feature flag and may be
// swapped for the duration of one request to honour a results bucket
// override; the worker handles messages serially, so the swap needs no
// locking.
type sink struct {
	runs *runstore.RunStore
	live []skywalker.Recorder
}

// Record implements the engine's Recorder interface.
func (s *sink) Record(ctx context.Context, doc alignmentrun.Document) error {
	for _, r := range s.live {
		// Live recorders are best effort; a dead websocket client or a
		// metrics hiccup must not cost the persisted document.
		_ = r.Record(ctx, doc)
	}
	if s.runs != nil && featureflags.SaveRuns.Enabled() {
		return s.runs.Record(ctx, doc)
	}
	return nil
}

// Worker serves alignment requests for one beamline. It owns the engine,
// so models fitted by one request steer later ones.
type Worker struct {
	// RunTimeout bounds each run when positive. A run that overruns it is
	// stopped and reported through its RunStop status.
	RunTimeout time.Duration

	sys    *beamline.TwoMirrorSystem
	stores Stores
	topic  *pubsub.Topic
	sink   *sink
	engine *skywalker.Engine
}

// New builds a worker for sys. Run documents go to stores.Runs and to the
// live recorders, the event hub and metrics typically; models fitted by
// build runs go to stores.Models, and models already there are adopted so
// a restart does not need a fresh build run. A non-nil topic receives a
// completion notification per run. Engine options are passed through,
// except that the recorder is the worker's own.
func New(ctx context.Context, sys *beamline.TwoMirrorSystem, stores Stores, live []skywalker.Recorder, topic *pubsub.Topic, opts ...skywalker.Option) *Worker {
	s := &sink{runs: stores.Runs, live: live}
	opts = append(opts, skywalker.WithRecorder(s))
	w := &Worker{
		sys:    sys,
		stores: stores,
		topic:  topic,
		sink:   s,
		engine: skywalker.New(sys, opts...),
	}
	w.adoptStoredModels(ctx)
	return w
}

// HandleMessage runs the alignment a message asks for. Malformed requests
// and requests for other beamlines are acked and dropped; a returned error
// means the message was not acked and will be redelivered.
func (w *Worker) HandleMessage(ctx context.Context, msg *pubsub.Message) error {
	req, err := ParseRequest(msg)
	if err != nil {
		slog.WarnContext(ctx, "Dropping malformed request", "error", err)
		msg.Ack()
		return nil
	}
	if req.Beamline != "" && req.Beamline != w.sys.Name() {
		slog.WarnContext(ctx, "Dropping request for another beamline",
			log.LabelAttr("beamline", req.Beamline),
			log.LabelAttr("serving", w.sys.Name()))
		msg.Ack()
		return nil
	}

	LogRequest(ctx, req)

	if req.ResultsBucketOverride != "" {
		orig := w.sink.runs
		w.sink.runs = runstore.New(req.ResultsBucketOverride, runstore.ConstructPath())
		defer func() { w.sink.runs = orig }()
	}

	if w.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.RunTimeout)
		defer cancel()
	}

	stop, err := w.engine.Align(ctx, skywalker.Params{
		Mode:      req.Mode,
		Goal1:     req.Goal1,
		Goal2:     req.Goal2,
		Tolerance: req.Tolerance,
		Averages:  req.Averages,
		MaxWalks:  req.MaxWalks,
	})
	if err != nil {
		LogRunError(ctx, req, err)
		return err
	}
	LogRunResult(ctx, stop)

	if req.Mode == walkmode.Build && stop.Status == alignmentrun.StatusCompleted {
		w.saveModels(ctx)
	}

	if w.topic != nil {
		if err := notification.PublishAlignmentCompletion(ctx, w.topic, stop); err != nil {
			return err
		}
	}

	msg.Ack()
	return nil
}

// saveModels persists the engine's current models. Failures are logged but
// do not fail the request; the engine keeps steering from memory.
func (w *Worker) saveModels(ctx context.Context) {
	if w.stores.Models == nil {
		return
	}
	m1, m2, ok := w.engine.Models()
	if !ok {
		return
	}
	for _, m := range []modelfit.Model{m1, m2} {
		if err := w.stores.Models.Save(ctx, w.sys.Name(), m); err != nil {
			slog.WarnContext(ctx, "Failed to persist centroid model",
				log.LabelAttr("mirror", m.Mirror),
				"error", err)
		}
	}
}

func (w *Worker) adoptStoredModels(ctx context.Context) {
	if w.stores.Models == nil {
		return
	}
	name := w.sys.Name()
	m1, err1 := w.stores.Models.Load(ctx, name, w.sys.Mirror1.Name(), w.sys.Imager1.Name())
	m2, err2 := w.stores.Models.Load(ctx, name, w.sys.Mirror2.Name(), w.sys.Imager2.Name())
	if err1 != nil || err2 != nil {
		// Nothing stored yet is the normal first-boot case.
		if (err1 != nil && !errors.Is(err1, modelstore.ErrNotFound)) ||
			(err2 != nil && !errors.Is(err2, modelstore.ErrNotFound)) {
			slog.WarnContext(ctx, "Failed to load stored centroid models",
				log.LabelAttr("beamline", name),
				"error", errors.Join(err1, err2))
		}
		return
	}
	w.engine.AdoptModels(m1, m2)
	slog.InfoContext(ctx, "Adopted stored centroid models",
		log.LabelAttr("beamline", name))
}
