package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/gcppubsub"
	_ "gocloud.dev/pubsub/kafkapubsub"

	"github.com/photoncontrols/skywalker/cmd/walkerd/leaseextender"
	"github.com/photoncontrols/skywalker/internal/beamline"
	"github.com/photoncontrols/skywalker/internal/beamlineconfig"
	"github.com/photoncontrols/skywalker/internal/eventstream"
	"github.com/photoncontrols/skywalker/internal/featureflags"
	"github.com/photoncontrols/skywalker/internal/log"
	"github.com/photoncontrols/skywalker/internal/metrics"
	"github.com/photoncontrols/skywalker/internal/modelstore"
	"github.com/photoncontrols/skywalker/internal/monitor"
	"github.com/photoncontrols/skywalker/internal/runstore"
	"github.com/photoncontrols/skywalker/internal/skywalker"
	"github.com/photoncontrols/skywalker/internal/suspend"
	"github.com/photoncontrols/skywalker/internal/worker"
)

const (
	// Runs suspend when the machine rate drops below rateFloor Hz and
	// resume rateResume after it comes back.
	rateFloor  = 1.0
	rateResume = 2 * time.Second

	// Observations kept for model refits.
	monitorCapacity = 512
)

type config struct {
	subURL            string
	notificationTopic string
	resultsBucket     string
	modelsBucket      string
	beamlineConfig    string
	features          string
	runTimeout        string
	httpAddr          string
	enableProfiler    string
	loggerEnv         string
}

func configFromEnv() config {
	return config{
		subURL:            os.Getenv("SKYWALKER_WORKER_SUBSCRIPTION"),
		notificationTopic: os.Getenv("SKYWALKER_NOTIFICATION_TOPIC"),
		resultsBucket:     os.Getenv("SKYWALKER_ALIGNMENT_RESULTS"),
		modelsBucket:      os.Getenv("SKYWALKER_BEAM_MODELS"),
		beamlineConfig:    os.Getenv("SKYWALKER_BEAMLINE_CONFIG"),
		features:          os.Getenv("SKYWALKER_FEATURE_FLAGS"),
		runTimeout:        os.Getenv("SKYWALKER_RUN_TIMEOUT"),
		httpAddr:          os.Getenv("SKYWALKER_HTTP_ADDR"),
		enableProfiler:    os.Getenv("SKYWALKER_ENABLE_PROFILER"),
		loggerEnv:         os.Getenv("LOGGER_ENV"),
	}
}

func messageLoop(ctx context.Context, subURL string, w *worker.Worker) error {
	sub, err := pubsub.OpenSubscription(ctx, subURL)
	if err != nil {
		return err
	}

	ext, err := leaseextender.New(ctx, subURL, sub)
	if err != nil {
		return fmt.Errorf("failed to create lease extender: %w", err)
	}

	slog.InfoContext(ctx, "Listening for alignment requests...")
	for {
		msg, err := sub.Receive(ctx)
		if err != nil {
			// All subsequent receive calls will return the same error, so we bail out.
			return fmt.Errorf("error receiving message: %w", err)
		}

		lease, err := ext.Start(ctx, msg, nil)
		if err != nil {
			slog.WarnContext(ctx, "Failed to start lease extension", "error", err)
		}
		handleErr := w.HandleMessage(ctx, msg)
		if lease != nil {
			if err := lease.Stop(); err != nil {
				slog.WarnContext(ctx, "Lease extension failed", "error", err)
			}
		}
		if handleErr != nil {
			slog.ErrorContext(ctx, "Failed to process message", "error", handleErr)
		}
	}
}

func main() {
	_ = godotenv.Load()
	env := configFromEnv()

	log.Initialize(env.loggerEnv)

	if err := featureflags.Update(env.features); err != nil {
		slog.Error("Failed to parse feature flags", "error", err)
		os.Exit(1)
	}

	blCfg := beamline.DefaultConfig()
	if env.beamlineConfig != "" {
		var err error
		blCfg, err = beamlineconfig.Load(env.beamlineConfig)
		if err != nil {
			slog.Error("Failed to load beamline config", "error", err)
			os.Exit(1)
		}
	}
	sys, err := beamlineconfig.Build(blCfg)
	if err != nil {
		slog.Error("Failed to build beamline", "error", err)
		os.Exit(1)
	}

	stores := worker.Stores{}
	if env.resultsBucket != "" {
		stores.Runs = runstore.New(env.resultsBucket, runstore.ConstructPath())
	}
	if env.modelsBucket != "" {
		stores.Models, err = modelstore.New(env.modelsBucket)
		if err != nil {
			slog.Error("Failed to create model store", "error", err)
			os.Exit(1)
		}
	}

	var runTimeout time.Duration
	if env.runTimeout != "" {
		runTimeout, err = time.ParseDuration(env.runTimeout)
		if err != nil {
			slog.Error("Failed to parse run timeout", "error", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	var notificationTopic *pubsub.Topic
	if env.notificationTopic != "" {
		notificationTopic, err = pubsub.OpenTopic(ctx, env.notificationTopic)
		if err != nil {
			slog.Error("Failed to open notification topic", "error", err)
			os.Exit(1)
		}
		defer notificationTopic.Shutdown(ctx)
	}

	hub := eventstream.NewHub()
	if env.httpAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/events", hub)
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			slog.Info("Serving events and metrics", "addr", env.httpAddr)
			if err := http.ListenAndServe(env.httpAddr, mux); err != nil {
				slog.Error("Event server stopped", "error", err)
			}
		}()
	}

	// If configured, start a webserver so that Go's pprof can be accessed
	// for debugging and profiling.
	if env.enableProfiler != "" {
		go func() {
			slog.Info("Starting profiler")
			http.ListenAndServe(":6060", nil)
		}()
	}

	susp := suspend.New(sys.Source.Rate, rateFloor, rateResume)
	defer susp.Close()

	transcript := log.NewWriter(ctx, slog.Default(), slog.LevelInfo)
	defer transcript.Close()

	w := worker.New(ctx, sys, stores,
		[]skywalker.Recorder{hub, metrics.NewRecorder()},
		notificationTopic,
		skywalker.WithSuspender(susp),
		skywalker.WithMonitor(monitor.New(monitorCapacity)),
		skywalker.WithTranscript(transcript),
	)
	w.RunTimeout = runTimeout

	// Log the configuration of the worker at startup so we can observe it.
	slog.Info("Starting walkerd",
		"beamline", sys.Name(),
		"subscription", env.subURL,
		"results_bucket", env.resultsBucket,
		"models_bucket", env.modelsBucket,
		"topic_notification", env.notificationTopic,
		"http_addr", env.httpAddr,
		"run_timeout", runTimeout.String(),
		"features", fmt.Sprintf("%v", featureflags.State()))

	if err := messageLoop(ctx, env.subURL, w); err != nil {
		slog.Error("Error encountered", "error", err)
	}
}
