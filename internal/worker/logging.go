package worker

import (
	"context"
	"log/slog"

	"github.com/photoncontrols/skywalker/internal/log"
	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
)

/*
NOTE: These strings are referenced externally by infrastructure for dashboard
reporting / alerting purposes, and so should be changed with care.
*/
const alignmentCompleteLogMsg = "Alignment completed successfully"
const maxWalksErrorLogMsg = "Alignment error - max walks"
const beamLostErrorLogMsg = "Alignment error - beam lost"
const timeoutErrorLogMsg = "Alignment error - timeout"
const noModelErrorLogMsg = "Alignment error - no model"
const otherErrorLogMsg = "Alignment error - other"
const runErrorLogMsg = "Alignment run failed"
const gotRequestLogMsg = "Got request"

// LogRunError indicates the run could not be carried out at all, which
// means no RunStop document exists and the outcome is only in the logs.
func LogRunError(ctx context.Context, req Request, err error) {
	slog.ErrorContext(ctx, runErrorLogMsg,
		log.LabelAttr("beamline", req.Beamline),
		log.LabelAttr("mode", string(req.Mode)),
		"error", err)
}

// LogRunResult reports how a finished run ended. Every terminal status maps
// to its own log message so dashboards can count outcomes by message alone.
func LogRunResult(ctx context.Context, stop alignmentrun.RunStop) {
	labels := []any{
		log.LabelAttr("beamline", stop.Key.Beamline),
		log.LabelAttr("run_id", stop.Key.RunID),
		log.LabelAttr("status", string(stop.Status)),
		slog.Int("walks", stop.Walks),
		slog.Float64("final_delta1", stop.FinalDelta1),
		slog.Float64("final_delta2", stop.FinalDelta2),
	}

	switch stop.Status {
	case alignmentrun.StatusCompleted:
		slog.InfoContext(ctx, alignmentCompleteLogMsg, labels...)
	case alignmentrun.StatusErrorMaxWalks:
		slog.WarnContext(ctx, maxWalksErrorLogMsg, labels...)
	case alignmentrun.StatusErrorBeamLost:
		slog.WarnContext(ctx, beamLostErrorLogMsg, labels...)
	case alignmentrun.StatusErrorTimeout:
		slog.WarnContext(ctx, timeoutErrorLogMsg, labels...)
	case alignmentrun.StatusErrorNoModel:
		slog.WarnContext(ctx, noModelErrorLogMsg, labels...)
	case alignmentrun.StatusErrorOther:
		slog.WarnContext(ctx, otherErrorLogMsg, labels...)
	}
}

// LogRequest records that an alignment request was received by the worker.
func LogRequest(ctx context.Context, req Request) {
	slog.InfoContext(ctx, gotRequestLogMsg,
		log.LabelAttr("beamline", req.Beamline),
		log.LabelAttr("mode", string(req.Mode)),
		slog.Float64("goal1", req.Goal1),
		slog.Float64("goal2", req.Goal2),
		slog.Float64("tolerance", req.Tolerance),
		slog.Int("max_walks", req.MaxWalks),
		log.LabelAttr("results_bucket_override", req.ResultsBucketOverride),
	)
}
