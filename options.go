package flagfile

import (
	"log/slog"
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matt-riley/flagfile/internal/logging"
	"github.com/matt-riley/flagfile/internal/watch"
)

type options struct {
	configPath      string
	autoReload      bool
	reloadDebounce  time.Duration
	defaultContext  EvaluationContext
	logger          *slog.Logger
	strict          bool
	fallbacks       map[string]bool
	onError         func(error)
	onConfigUpdate  func(*FlagsConfig)
	onFlagEvaluated func(EvaluationResult, EvaluationContext)
	registerer      prometheus.Registerer
	tolerateErrors  bool
}

func defaultOptions() options {
	return options{
		autoReload:     true,
		reloadDebounce: watch.DefaultDebounce,
		logger:         logging.Discard(),
	}
}

type Option func(*options)

// WithConfigPath loads this file instead of searching the default locations.
func WithConfigPath(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithAutoReload controls whether the file is watched for changes. It is on
// by default.
func WithAutoReload(enabled bool) Option {
	return func(o *options) {
		o.autoReload = enabled
	}
}

func WithReloadDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reloadDebounce = d
		}
	}
}

// WithDefaultContext sets attributes merged into every evaluation. Fields set
// on the evaluation's own context win.
func WithDefaultContext(evalCtx EvaluationContext) Option {
	return func(o *options) {
		evalCtx.CustomAttributes = maps.Clone(evalCtx.CustomAttributes)
		o.defaultContext = evalCtx
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStrict makes evaluating an unknown flag an error, reported through
// OnError, instead of a quiet disabled result.
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// WithFallbacks sets the values returned when the client has no configuration
// or evaluation fails. Flags without a fallback resolve to false.
func WithFallbacks(fallbacks map[string]bool) Option {
	return func(o *options) {
		o.fallbacks = maps.Clone(fallbacks)
	}
}

func WithOnError(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithOnConfigUpdate is called after every successful load, the initial one
// included.
func WithOnConfigUpdate(fn func(*FlagsConfig)) Option {
	return func(o *options) {
		o.onConfigUpdate = fn
	}
}

func WithOnFlagEvaluated(fn func(EvaluationResult, EvaluationContext)) Option {
	return func(o *options) {
		o.onFlagEvaluated = fn
	}
}

// WithMetrics registers the client's Prometheus collectors with reg:
// flagfile_flag_evaluations_total, flagfile_config_loads_total,
// flagfile_watch_events_total and the active configuration gauges. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTolerateLoadErrors lets New succeed when the initial load fails. The
// client then serves fallbacks until a reload succeeds.
func WithTolerateLoadErrors(tolerate bool) Option {
	return func(o *options) {
		o.tolerateErrors = tolerate
	}
}
