// Package log configures structured logging for the skywalker tools.
//
// Zap provides the core; log/slog is the front door. Initialize must be
// called once at process start, before the first logging statement. After
// that every package logs through slog.InfoContext and friends, and
// attributes attached to a context with ContextWithAttrs are appended to
// each record logged through that context.
package log

import (
	golog "log"
	"log/slog"
	"strings"

	"github.com/blendle/zapdriver"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
)

// Env selects a logging configuration.
type Env string

const (
	// EnvDev is the human-readable console configuration.
	EnvDev Env = "dev"

	// EnvProd is the JSON configuration understood by Stackdriver.
	EnvProd Env = "prod"
)

func (e Env) String() string {
	return string(e)
}

var activeEnv = EnvDev

// Initialize sets up the process-wide logger and installs it as the slog
// default. Pass "prod" for the production configuration; anything else
// selects the development configuration.
func Initialize(env string) *slog.Logger {
	var (
		core *zap.Logger
		err  error
	)
	switch Env(strings.ToLower(env)) {
	case EnvProd:
		activeEnv = EnvProd
		config := zapdriver.NewProductionConfig()
		// Never sample: a dropped record during a walk is a gap in the
		// alignment history.
		config.Sampling = nil
		core, err = config.Build(zapdriver.WrapCore())
	default:
		activeEnv = EnvDev
		core, err = zap.NewDevelopment()
	}
	if err != nil {
		golog.Panic(err)
	}
	zap.RedirectStdLog(core)

	logger := slog.New(NewContextHandler(zapslog.NewHandler(core.Core(), &zapslog.HandlerOptions{
		AddSource: true,
	})))
	slog.SetDefault(logger)
	return logger
}

// LabelAttr returns an attribute that Stackdriver treats as a label when
// running with the prod configuration. In dev it is an ordinary string
// attribute.
func LabelAttr(key, value string) slog.Attr {
	if activeEnv == EnvProd {
		return slog.String("labels."+key, value)
	}
	return slog.String(key, value)
}
