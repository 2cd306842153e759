// Package engine holds the active flag configuration and evaluates flags
// against it.
//
// The configuration lives in an immutable [Snapshot] published through an
// atomic pointer. Evaluations load the pointer once and never block; loads
// build a new snapshot off to the side and swap it in only when it is fully
// valid, so a failed reload leaves the previous configuration serving.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/flagfile/internal/core"
	"github.com/matt-riley/flagfile/internal/logging"
	"github.com/matt-riley/flagfile/internal/source"
	"github.com/matt-riley/flagfile/internal/tracing"
)

const (
	reasonNotInitialized = "client not initialized"
	reasonFlagNotFound   = "flag not found"
)

// Recorder receives evaluation and load outcomes. *metrics.Metrics satisfies
// it.
type Recorder interface {
	RecordEvaluation(reason string, enabled bool)
	RecordLoad(err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvaluation(string, bool) {}
func (nopRecorder) RecordLoad(error)              {}

// Snapshot is one loaded configuration. It is never modified after it has
// been published; callers only see it through its read-only accessors.
type Snapshot struct {
	id       string
	loadedAt time.Time
	config   *core.FlagsConfig
}

// ID identifies the load that produced the snapshot.
func (s *Snapshot) ID() string { return s.id }

// LoadedAt is when the snapshot became active.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Config returns the snapshot's configuration.
func (s *Snapshot) Config() *core.FlagsConfig { return detach(s.config) }

// detach copies the FlagsConfig header so that assigning through the returned
// pointer cannot reach the engine's copy. The shared name slice and flag map
// are never written after validation.
func detach(cfg *core.FlagsConfig) *core.FlagsConfig {
	c := *cfg
	return &c
}

type Engine struct {
	current atomic.Pointer[Snapshot]
	loadMu  sync.Mutex

	strict    bool
	logger    *slog.Logger
	recorder  Recorder
	tracer    trace.Tracer
	now       func() time.Time
	evaluator *core.Evaluator
}

type Option func(*Engine)

// WithStrict makes evaluations of unknown flags, or any evaluation before the
// first load, return a *core.FlagNotFoundError.
func WithStrict(strict bool) Option {
	return func(e *Engine) {
		e.strict = strict
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(e *Engine) {
		if recorder != nil {
			e.recorder = recorder
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New returns an engine with no configuration loaded.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:   logging.Discard(),
		recorder: nopRecorder{},
		tracer:   tracing.Tracer(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.evaluator = core.NewEvaluator(
		core.WithEvaluatorLogger(e.logger),
		core.WithClock(e.now),
	)
	return e
}

// Load decodes a YAML document and makes it the active configuration.
func (e *Engine) Load(ctx context.Context, data []byte) (*Snapshot, error) {
	return e.load(ctx, "bytes", func() (*core.FlagsConfig, error) {
		return source.Decode(data)
	})
}

// LoadTree validates an already parsed tree and makes it active.
func (e *Engine) LoadTree(ctx context.Context, tree any) (*Snapshot, error) {
	return e.load(ctx, "tree", func() (*core.FlagsConfig, error) {
		return core.Validate(tree)
	})
}

// LoadFile reads path and makes its configuration active.
func (e *Engine) LoadFile(ctx context.Context, path string) (*Snapshot, error) {
	return e.load(ctx, path, func() (*core.FlagsConfig, error) {
		return source.ReadFile(path)
	})
}

// Replace makes an already validated configuration active.
func (e *Engine) Replace(ctx context.Context, cfg *core.FlagsConfig) (*Snapshot, error) {
	return e.load(ctx, "replace", func() (*core.FlagsConfig, error) {
		if cfg == nil {
			return nil, errors.New("configuration is nil")
		}
		return detach(cfg), nil
	})
}

func (e *Engine) load(ctx context.Context, origin string, build func() (*core.FlagsConfig, error)) (*Snapshot, error) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	ctx, span := e.tracer.Start(ctx, "flagfile.engine.load",
		trace.WithAttributes(attribute.String("flagfile.source", origin)),
	)
	defer span.End()

	fail := func(err error) (*Snapshot, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.recorder.RecordLoad(err)
		e.logger.WarnContext(ctx, "flag configuration load failed",
			slog.String("source", origin),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("load flag configuration: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	cfg, err := build()
	if err != nil {
		return fail(err)
	}

	snapshot := &Snapshot{
		id:       uuid.NewString(),
		loadedAt: e.now(),
		config:   cfg,
	}
	previous := e.current.Swap(snapshot)

	span.SetAttributes(
		attribute.Int("flagfile.flags", cfg.Len()),
		attribute.String("flagfile.snapshot_id", snapshot.id),
	)
	e.recorder.RecordLoad(nil)

	attrs := []any{
		slog.String("source", origin),
		slog.Int("flags", cfg.Len()),
		slog.String("snapshot", snapshot.id),
	}
	if previous != nil {
		attrs = append(attrs, slog.String("previous_snapshot", previous.id))
	}
	e.logger.InfoContext(ctx, "flag configuration loaded", attrs...)

	return snapshot, nil
}

// Clear drops the active configuration, returning the engine to its
// uninitialized state.
func (e *Engine) Clear() {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	e.current.Store(nil)
}

// Evaluate decides flagName for evalCtx against the active snapshot.
//
// In non-strict mode the error is always nil: an unknown flag or a missing
// configuration yields a disabled result whose Kind says why. In strict mode
// both cases return a *core.FlagNotFoundError alongside that result.
func (e *Engine) Evaluate(flagName string, evalCtx core.EvaluationContext) (core.EvaluationResult, error) {
	snapshot := e.current.Load()
	if snapshot == nil {
		result := e.unresolved(flagName, core.ReasonNotInitialized, reasonNotInitialized, "")
		if e.strict {
			return result, &core.FlagNotFoundError{FlagName: flagName}
		}
		return result, nil
	}

	result, ok := e.evaluator.EvaluateIn(snapshot.config, flagName, evalCtx)
	if !ok {
		e.logger.Warn("flag not found", slog.String("flag", flagName), slog.String("snapshot", snapshot.id))
		result := e.unresolved(flagName, core.ReasonFlagNotFound, reasonFlagNotFound, snapshot.id)
		if e.strict {
			return result, &core.FlagNotFoundError{FlagName: flagName}
		}
		return result, nil
	}

	result.Metadata.SnapshotID = snapshot.id
	e.recorder.RecordEvaluation(string(result.Kind), result.Enabled)
	return result, nil
}

func (e *Engine) unresolved(flagName string, kind core.ReasonKind, reason, snapshotID string) core.EvaluationResult {
	e.recorder.RecordEvaluation(string(kind), false)
	return core.EvaluationResult{
		FlagName: flagName,
		Enabled:  false,
		Reason:   reason,
		Kind:     kind,
		Metadata: core.EvaluationMetadata{Timestamp: e.now(), SnapshotID: snapshotID},
	}
}

// IsEnabled is Evaluate reduced to a boolean. Errors count as disabled.
func (e *Engine) IsEnabled(flagName string, evalCtx core.EvaluationContext) bool {
	result, err := e.Evaluate(flagName, evalCtx)
	if err != nil {
		return false
	}
	return result.Enabled
}

// EvaluateAll evaluates every flag of the active snapshot in configuration
// order.
func (e *Engine) EvaluateAll(evalCtx core.EvaluationContext) []core.EvaluationResult {
	snapshot := e.current.Load()
	if snapshot == nil {
		return []core.EvaluationResult{}
	}

	results := e.evaluator.EvaluateFlags(snapshot.config, evalCtx)
	for i := range results {
		results[i].Metadata.SnapshotID = snapshot.id
		e.recorder.RecordEvaluation(string(results[i].Kind), results[i].Enabled)
	}
	return results
}

// FlagNames lists flag names in configuration order.
func (e *Engine) FlagNames() []string {
	return e.Config().Names()
}

// FlagConfig returns a copy of one flag's configuration.
func (e *Engine) FlagConfig(flagName string) (core.FlagConfig, bool) {
	return e.Config().Get(flagName)
}

// Config returns the active configuration, or an empty one before the first
// load.
func (e *Engine) Config() *core.FlagsConfig {
	snapshot := e.current.Load()
	if snapshot == nil {
		return &core.FlagsConfig{}
	}
	return detach(snapshot.config)
}

// Snapshot returns the active snapshot or nil.
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

// Ready reports whether a configuration has been loaded.
func (e *Engine) Ready() bool {
	return e.current.Load() != nil
}

// SnapshotStats reports the active configuration for metrics collection.
func (e *Engine) SnapshotStats() (flags int, loadedAt time.Time, ok bool) {
	snapshot := e.current.Load()
	if snapshot == nil {
		return 0, time.Time{}, false
	}
	return snapshot.config.Len(), snapshot.loadedAt, true
}
