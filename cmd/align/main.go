package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/photoncontrols/skywalker/internal/beamline"
	"github.com/photoncontrols/skywalker/internal/beamlineconfig"
	"github.com/photoncontrols/skywalker/internal/featureflags"
	"github.com/photoncontrols/skywalker/internal/log"
	"github.com/photoncontrols/skywalker/internal/modelfit"
	"github.com/photoncontrols/skywalker/internal/modelstore"
	"github.com/photoncontrols/skywalker/internal/runstore"
	"github.com/photoncontrols/skywalker/internal/skywalker"
	"github.com/photoncontrols/skywalker/internal/suspend"
	"github.com/photoncontrols/skywalker/internal/utils"
	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
	"github.com/photoncontrols/skywalker/pkg/api/walkmode"
)

var (
	mode          walkmode.Mode
	goal1         = flag.Float64("goal1", 0, "goal pixel on the first imager (0 means the sensor centre)")
	goal2         = flag.Float64("goal2", 0, "goal pixel on the second imager (0 means the sensor centre)")
	tolerance     = flag.Float64("tolerance", 0, "convergence window around each goal, in pixels")
	averages      = flag.Int("averages", 0, "centroid reads per measurement")
	maxWalks      = flag.Int("max-walks", 0, "walk budget before giving up")
	timeout       = flag.Duration("timeout", 0, "bound on the whole run, including beam-drop waits")
	configPath    = flag.String("config", "", "beamline config YAML; defaults to the stock HOMS geometry")
	printConfig   = flag.Bool("print-config", false, "print the effective beamline config as YAML and exit")
	resultsUpload = flag.String("upload", "", "bucket path for uploading run documents")
	modelsBucket  = flag.String("models", "", "bucket path for loading and saving fitted models")
	quiet         = flag.Bool("quiet", false, "suppress the walk transcript on stdout")
	listModes     = flag.Bool("list-modes", false, "prints out a list of available walk modes")
	features      = flag.String("features", "", "override features that are enabled/disabled by default")
	listFeatures  = flag.Bool("list-features", false, "list available features that can be toggled")
	help          = flag.Bool("help", false, "print help on available options")
	perturb       = utils.CommaSeparatedFlags("perturb", nil,
		"comma-separated device=offset pairs applied before the run, e.g. m1h=0.0002,und=-1e-5")
)

// Runs suspend when the machine rate drops below rateFloor Hz and resume
// rateResume after it comes back.
const (
	rateFloor  = 1.0
	rateResume = 2 * time.Second
)

func printWalkModes() {
	fmt.Println("Available walk modes:")
	for _, m := range walkmode.SupportedModes {
		fmt.Println(m)
	}
	fmt.Println()
}

func printFeatureFlags() {
	fmt.Printf("Feature List\n\n")
	fmt.Printf("%-30s %s\n", "Name", "Default")
	fmt.Printf("----------------------------------------\n")

	// print features in sorted order
	state := featureflags.State()
	sortedFeatures := maps.Keys(state)
	slices.Sort(sortedFeatures)

	// print Off/On rather than 'false' and 'true'
	stateStrings := map[bool]string{false: "Off", true: "On"}
	for _, feature := range sortedFeatures {
		fmt.Printf("%-30s %s\n", feature, stateStrings[state[feature]])
	}

	fmt.Println()
}

// adoptModels seeds the engine with both stored models, when both exist.
func adoptModels(ctx context.Context, engine *skywalker.Engine, ms *modelstore.ModelStore, sys *beamline.TwoMirrorSystem) {
	m1, err1 := ms.Load(ctx, sys.Name(), sys.Mirror1.Name(), sys.Imager1.Name())
	m2, err2 := ms.Load(ctx, sys.Name(), sys.Mirror2.Name(), sys.Imager2.Name())
	if err1 != nil || err2 != nil {
		return
	}
	engine.AdoptModels(m1, m2)
	slog.InfoContext(ctx, "Adopted stored centroid models")
}

// applyPerturbations offsets the named devices before the run, so a walk
// can start from a reproducible misalignment. Mirrors get a pitch offset,
// the source a pointing offset.
func applyPerturbations(ctx context.Context, sys *beamline.TwoMirrorSystem, pairs []string) error {
	for _, pair := range pairs {
		name, field, found := strings.Cut(pair, "=")
		if !found {
			return fmt.Errorf("bad perturbation %q; want device=offset", pair)
		}
		offset, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return fmt.Errorf("bad perturbation offset %q: %w", field, err)
		}
		dev, ok := sys.Device(name)
		if !ok {
			if suggestion, ok := beamlineconfig.SuggestDevice(sys, name); ok {
				return fmt.Errorf("unknown device %q (did you mean %q?)", name, suggestion)
			}
			return fmt.Errorf("unknown device %q", name)
		}
		switch d := dev.(type) {
		case *beamline.Mirror:
			if err := d.MovePitch(ctx, d.Pitch.Setpoint()+offset).Wait(ctx); err != nil {
				return fmt.Errorf("perturbing %s: %w", name, err)
			}
		case *beamline.Source:
			d.XP.Put(d.XP.Setpoint() + offset)
		default:
			return fmt.Errorf("device %q cannot be perturbed", name)
		}
	}
	return nil
}

func saveModels(ctx context.Context, engine *skywalker.Engine, ms *modelstore.ModelStore, sys *beamline.TwoMirrorSystem) {
	m1, m2, ok := engine.Models()
	if !ok {
		return
	}
	for _, m := range []modelfit.Model{m1, m2} {
		if err := ms.Save(ctx, sys.Name(), m); err != nil {
			slog.ErrorContext(ctx, "Upload error", "error", err)
		}
	}
}

func main() {
	log.Initialize(os.Getenv("LOGGER_ENV"))

	flag.TextVar(&mode, "mode", walkmode.Iter, fmt.Sprintf("walk mode. Can be %s", walkmode.SupportedModesStrings))
	perturb.InitFlag()
	flag.Parse()

	if err := featureflags.Update(*features); err != nil {
		slog.Error("Failed to parse flags", "error", err)
		return
	}

	if *help {
		flag.Usage()
		return
	}

	if *listModes {
		printWalkModes()
		return
	}

	if *listFeatures {
		printFeatureFlags()
		return
	}

	cfg := beamline.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = beamlineconfig.Load(*configPath)
		if err != nil {
			slog.Error("Failed to load beamline config", "error", err)
			os.Exit(1)
		}
	}
	if *printConfig {
		out, err := beamlineconfig.Dump(cfg)
		if err != nil {
			slog.Error("Failed to render beamline config", "error", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}
	sys, err := beamlineconfig.Build(cfg)
	if err != nil {
		slog.Error("Failed to build beamline", "error", err)
		os.Exit(1)
	}

	ctx := log.ContextWithAttrs(context.Background(), slog.String("beamline", sys.Name()))
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	if err := applyPerturbations(ctx, sys, perturb.Values); err != nil {
		slog.ErrorContext(ctx, "Failed to apply perturbations", "error", err)
		os.Exit(1)
	}

	susp := suspend.New(sys.Source.Rate, rateFloor, rateResume)
	defer susp.Close()

	opts := []skywalker.Option{skywalker.WithSuspender(susp)}
	if !*quiet {
		opts = append(opts, skywalker.WithTranscript(os.Stdout))
	}
	if *resultsUpload != "" {
		opts = append(opts, skywalker.WithRecorder(
			runstore.New(*resultsUpload, runstore.ConstructPath())))
	}

	var ms *modelstore.ModelStore
	if *modelsBucket != "" {
		ms, err = modelstore.New(*modelsBucket)
		if err != nil {
			slog.Error("Failed to create model store", "error", err)
			os.Exit(1)
		}
	}

	engine := skywalker.New(sys, opts...)
	if ms != nil {
		adoptModels(ctx, engine, ms, sys)
	}

	stop, err := engine.Align(ctx, skywalker.Params{
		Mode:      mode,
		Goal1:     *goal1,
		Goal2:     *goal2,
		Tolerance: *tolerance,
		Averages:  *averages,
		MaxWalks:  *maxWalks,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Alignment could not start", "error", err)
		os.Exit(1)
	}

	if mode == walkmode.Build && stop.Status == alignmentrun.StatusCompleted && ms != nil {
		saveModels(ctx, engine, ms, sys)
	}

	if stop.Status != alignmentrun.StatusCompleted {
		slog.WarnContext(ctx, "Alignment did not complete",
			"status", string(stop.Status),
			"walks", stop.Walks,
			"error", stop.Error)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "Alignment completed",
		"walks", stop.Walks,
		"final_delta1", stop.FinalDelta1,
		"final_delta2", stop.FinalDelta2,
		"downtime", stop.Downtime.String())
}
