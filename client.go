package flagfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matt-riley/flagfile/internal/engine"
	"github.com/matt-riley/flagfile/internal/logging"
	"github.com/matt-riley/flagfile/internal/metrics"
	"github.com/matt-riley/flagfile/internal/source"
	"github.com/matt-riley/flagfile/internal/watch"
)

const (
	reasonFallback        = "client not initialized, using fallback"
	reasonEvaluationError = "error evaluating flag: "
)

// ErrClientClosed is returned by Reload after Close.
var ErrClientClosed = errors.New("flagfile: client closed")

// Client evaluates flags from a local file. It is safe for concurrent use.
type Client struct {
	engine *engine.Engine
	opts   options
	path   string

	metrics        *metrics.Metrics
	detachSnapshot func()

	closed    atomic.Bool
	closeOnce sync.Once
	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// New finds and loads the flag file and, unless auto reload is disabled,
// starts watching it. The watcher outlives ctx; call Close to stop it.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{opts: o}

	engineOpts := []engine.Option{
		engine.WithStrict(o.strict),
		engine.WithLogger(logging.Component(o.logger, "engine")),
	}
	if o.registerer != nil {
		m, err := metrics.Register(o.registerer)
		if err != nil {
			return nil, err
		}
		c.metrics = m
		engineOpts = append(engineOpts, engine.WithRecorder(m))
	}
	c.engine = engine.New(engineOpts...)

	path, err := source.Find(o.configPath)
	switch {
	case err == nil:
		c.path = path
		if err := c.load(ctx); err != nil {
			if !o.tolerateErrors {
				return nil, err
			}
			c.handleError(err)
		}
	case o.tolerateErrors:
		c.handleError(err)
		if o.configPath != "" {
			// The file may appear later; keep watching where it was expected.
			if abs, absErr := filepath.Abs(o.configPath); absErr == nil {
				c.path = abs
			}
		}
	default:
		return nil, err
	}

	if o.registerer != nil {
		detach, err := metrics.AttachSnapshotSource(o.registerer, c.engine)
		if err != nil {
			o.logger.Warn("snapshot metrics not registered", slog.String("error", err.Error()))
		}
		c.detachSnapshot = detach
	}
	if o.autoReload && c.path != "" {
		c.startWatcher(ctx)
	}
	return c, nil
}

func (c *Client) startWatcher(ctx context.Context) {
	watchOpts := []watch.Option{
		watch.WithDebounce(c.opts.reloadDebounce),
		watch.WithLogger(logging.Component(c.opts.logger, "watch")),
		watch.OnError(c.notifyError),
	}
	if c.metrics != nil {
		watchOpts = append(watchOpts, watch.OnEvent(c.metrics.IncWatchEvents))
	}

	w, err := watch.New(c.path, c.reloadWatched, watchOpts...)
	if err != nil {
		c.handleError(fmt.Errorf("start file watcher: %w", err))
		return
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.stopWatch = cancel
	c.watchDone = make(chan struct{})

	runErr := make(chan error, 1)
	go func() {
		defer close(c.watchDone)
		if err := w.Run(watchCtx); err != nil {
			c.opts.logger.Warn("file watcher stopped", slog.String("path", c.path), slog.String("error", err.Error()))
			runErr <- err
		}
	}()

	select {
	case <-w.Ready():
	case err := <-runErr:
		c.notifyError(fmt.Errorf("start file watcher: %w", err))
	}
}

func (c *Client) load(ctx context.Context) error {
	snapshot, err := c.engine.LoadFile(ctx, c.path)
	if err != nil {
		return err
	}
	c.configUpdated(snapshot.Config())
	return nil
}

// reloadWatched is the watcher's reload hook. The watcher reports its
// failures itself.
func (c *Client) reloadWatched(ctx context.Context) error {
	if c.closed.Load() {
		return nil
	}
	return c.load(ctx)
}

// Reload reads the flag file again. On failure the previous configuration
// stays active and OnError is called.
func (c *Client) Reload(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.path == "" {
		err := &ConfigParseError{Message: "no flag configuration file to reload", Err: source.ErrNotFound}
		c.handleError(err)
		return err
	}
	if err := c.load(ctx); err != nil {
		c.handleError(err)
		return err
	}
	return nil
}

// Evaluate decides flagName for evalCtx merged over the default context.
// It never fails: without a configuration, or when strict evaluation errors,
// the flag's fallback value is returned.
func (c *Client) Evaluate(flagName string, evalCtx EvaluationContext) EvaluationResult {
	merged := c.mergeContext(evalCtx)

	var result EvaluationResult
	if c.closed.Load() || !c.engine.Ready() {
		result = c.fallback(flagName, ReasonNotInitialized, reasonFallback)
	} else {
		evaluated, err := c.engine.Evaluate(flagName, merged)
		if err != nil {
			c.handleError(err)
			result = c.fallback(flagName, ReasonError, reasonEvaluationError+err.Error())
		} else {
			result = evaluated
		}
	}

	c.flagEvaluated(result, merged)
	return result
}

func (c *Client) IsEnabled(flagName string, evalCtx EvaluationContext) bool {
	return c.Evaluate(flagName, evalCtx).Enabled
}

// FlagNames lists the configured flags in file order.
func (c *Client) FlagNames() []string {
	return c.engine.FlagNames()
}

func (c *Client) FlagConfig(flagName string) (FlagConfig, bool) {
	return c.engine.FlagConfig(flagName)
}

// Config returns the active configuration. It must not be modified.
func (c *Client) Config() *FlagsConfig {
	return c.engine.Config()
}

// Path is the resolved flag file, or empty when none was found.
func (c *Client) Path() string {
	return c.path
}

// Ready reports whether a configuration is loaded and the client is open.
func (c *Client) Ready() bool {
	return !c.closed.Load() && c.engine.Ready()
}

// Close stops the watcher and drops the configuration. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.stopWatch != nil {
			c.stopWatch()
			<-c.watchDone
		}
		c.engine.Clear()
		if c.detachSnapshot != nil {
			c.detachSnapshot()
		}
		c.opts.logger.Debug("flag client closed", slog.String("path", c.path))
	})
	return nil
}

func (c *Client) mergeContext(evalCtx EvaluationContext) EvaluationContext {
	merged := c.opts.defaultContext
	if evalCtx.UserID != "" {
		merged.UserID = evalCtx.UserID
	}
	if evalCtx.Email != "" {
		merged.Email = evalCtx.Email
	}
	if evalCtx.Environment != "" {
		merged.Environment = evalCtx.Environment
	}
	if seed := evalCtx.HashSeed(); seed != "" {
		merged = merged.WithHashSeed(seed)
	}

	switch {
	case len(evalCtx.CustomAttributes) == 0:
	case len(merged.CustomAttributes) == 0:
		merged.CustomAttributes = evalCtx.CustomAttributes
	default:
		attrs := maps.Clone(merged.CustomAttributes)
		maps.Copy(attrs, evalCtx.CustomAttributes)
		merged.CustomAttributes = attrs
	}
	return merged
}

func (c *Client) fallback(flagName string, kind ReasonKind, reason string) EvaluationResult {
	return EvaluationResult{
		FlagName: flagName,
		Enabled:  c.opts.fallbacks[flagName],
		Reason:   reason,
		Kind:     kind,
		Metadata: EvaluationMetadata{Timestamp: time.Now()},
	}
}

func (c *Client) handleError(err error) {
	c.opts.logger.Error("flag client error", slog.String("error", err.Error()))
	c.notifyError(err)
}

func (c *Client) notifyError(err error) {
	if c.opts.onError == nil {
		return
	}
	defer c.recoverCallback("OnError")
	c.opts.onError(err)
}

func (c *Client) configUpdated(cfg *FlagsConfig) {
	if c.opts.onConfigUpdate == nil {
		return
	}
	defer c.recoverCallback("OnConfigUpdate")
	c.opts.onConfigUpdate(cfg)
}

func (c *Client) flagEvaluated(result EvaluationResult, evalCtx EvaluationContext) {
	if c.opts.onFlagEvaluated == nil {
		return
	}
	defer c.recoverCallback("OnFlagEvaluated")
	c.opts.onFlagEvaluated(result, evalCtx)
}

func (c *Client) recoverCallback(name string) {
	if r := recover(); r != nil {
		c.opts.logger.Error("flag client callback panicked",
			slog.String("callback", name),
			slog.String("panic", fmt.Sprint(r)),
		)
	}
}
