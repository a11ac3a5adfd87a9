package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
)

func TestRecordCountsRunDocuments(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	key := alignmentrun.Key{Beamline: "hxr", RunID: "run-metrics-1"}

	beforeStarted := testutil.ToFloat64(runsStarted)
	beforeFinished := testutil.ToFloat64(runsFinished.WithLabelValues("completed"))
	beforeDowntime := testutil.ToFloat64(beamDowntime)

	if err := r.Record(ctx, alignmentrun.NewRunStartDocument(alignmentrun.RunStart{
		Key:  key,
		Time: time.Now().UTC(),
	})); err != nil {
		t.Fatalf("Record(run start) = %v; want no error", err)
	}
	if err := r.Record(ctx, alignmentrun.NewWalkEventDocument(alignmentrun.WalkEvent{
		Key:    key,
		Walk:   1,
		First:  alignmentrun.MeasurementSummary{Imager: "y1", Mean: 708.5},
		Second: alignmentrun.MeasurementSummary{Imager: "y2", Mean: 693.0},
		Delta1: 12.5,
		Delta2: -3.0,
	})); err != nil {
		t.Fatalf("Record(walk event) = %v; want no error", err)
	}
	if err := r.Record(ctx, alignmentrun.NewRunStopDocument(alignmentrun.RunStop{
		Key:      key,
		Status:   alignmentrun.StatusCompleted,
		Walks:    4,
		Downtime: 1500 * time.Millisecond,
	})); err != nil {
		t.Fatalf("Record(run stop) = %v; want no error", err)
	}

	if got := testutil.ToFloat64(runsStarted) - beforeStarted; got != 1 {
		t.Errorf("runs started delta = %v; want 1", got)
	}
	if got := testutil.ToFloat64(runsFinished.WithLabelValues("completed")) - beforeFinished; got != 1 {
		t.Errorf("completed runs delta = %v; want 1", got)
	}
	if got := testutil.ToFloat64(walkDelta.WithLabelValues("y1")); got != 12.5 {
		t.Errorf("y1 walk delta = %v; want 12.5", got)
	}
	if got := testutil.ToFloat64(walkDelta.WithLabelValues("y2")); got != -3.0 {
		t.Errorf("y2 walk delta = %v; want -3.0", got)
	}
	if got := testutil.ToFloat64(beamDowntime) - beforeDowntime; got != 1.5 {
		t.Errorf("beam downtime delta = %v; want 1.5", got)
	}
}

func TestRecordIgnoresPayloadlessDocuments(t *testing.T) {
	r := NewRecorder()
	before := testutil.ToFloat64(runsStarted)
	if err := r.Record(context.Background(), alignmentrun.Document{Kind: alignmentrun.KindRunStart}); err != nil {
		t.Fatalf("Record() = %v; want no error", err)
	}
	if got := testutil.ToFloat64(runsStarted) - before; got != 0 {
		t.Errorf("runs started delta = %v; want 0 for a payloadless document", got)
	}
}
