// Package metrics exposes alignment run activity as Prometheus metrics.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
)

var (
	recorderMetrics sync.Once

	runsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "skywalker",
			Subsystem: "worker",
			Name:      "runs_started_total",
			Help:      "Number of alignment runs started",
		})
	runsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skywalker",
			Subsystem: "worker",
			Name:      "runs_finished_total",
			Help:      "Number of alignment runs finished, by terminal status",
		}, []string{"status"})
	walksPerRun = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "skywalker",
			Subsystem: "worker",
			Name:      "walks_per_run",
			Help:      "Walks taken by finished alignment runs",
			Buckets:   prometheus.LinearBuckets(1, 1, 15),
		})
	beamDowntime = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "skywalker",
			Subsystem: "worker",
			Name:      "beam_downtime_seconds_total",
			Help:      "Time alignment runs spent suspended waiting for beam",
		})
	walkDelta = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "skywalker",
			Subsystem: "worker",
			Name:      "walk_delta_pixels",
			Help:      "Centroid distance from goal after the most recent walk",
		}, []string{"imager"})
)

// Recorder feeds run documents into the process metrics. It implements the
// engine's Recorder interface and never returns an error.
type Recorder struct{}

// NewRecorder returns the metrics recorder, registering the collectors on
// first use.
func NewRecorder() *Recorder {
	recorderMetrics.Do(func() {
		prometheus.MustRegister(runsStarted)
		prometheus.MustRegister(runsFinished)
		prometheus.MustRegister(walksPerRun)
		prometheus.MustRegister(beamDowntime)
		prometheus.MustRegister(walkDelta)
	})
	return &Recorder{}
}

// Record implements the Recorder interface.
func (r *Recorder) Record(_ context.Context, doc alignmentrun.Document) error {
	switch doc.Kind {
	case alignmentrun.KindRunStart:
		if doc.RunStart != nil {
			runsStarted.Inc()
		}
	case alignmentrun.KindWalkEvent:
		if we := doc.WalkEvent; we != nil {
			walkDelta.WithLabelValues(we.First.Imager).Set(we.Delta1)
			walkDelta.WithLabelValues(we.Second.Imager).Set(we.Delta2)
		}
	case alignmentrun.KindRunStop:
		if rs := doc.RunStop; rs != nil {
			runsFinished.WithLabelValues(string(rs.Status)).Inc()
			walksPerRun.Observe(float64(rs.Walks))
			beamDowntime.Add(rs.Downtime.Seconds())
		}
	}
	return nil
}
