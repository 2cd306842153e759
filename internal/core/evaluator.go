package core

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/matt-riley/flagfile/internal/logging"
)

// AnonymousIdentifier is the rollout identifier used when the context has
// neither a user ID nor an email. All anonymous callers share its bucket.
const AnonymousIdentifier = "anonymous"

type Evaluator struct {
	logger *slog.Logger
	now    func() time.Time
}

type EvaluatorOption func(*Evaluator)

func WithEvaluatorLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the source of EvaluationMetadata.Timestamp.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEvaluator = NewEvaluator()

// EvaluateFlag evaluates flag with a silent evaluator.
func EvaluateFlag(flagName string, flag FlagConfig, context EvaluationContext) EvaluationResult {
	return defaultEvaluator.Evaluate(flagName, flag, context)
}

// Evaluate decides flag for context. The first applicable tier wins:
// environment override, global disable, targeting rules, rollout, and
// finally enabled for everyone. It never fails; broken rules simply do not
// match.
func (e *Evaluator) Evaluate(flagName string, flag FlagConfig, context EvaluationContext) EvaluationResult {
	result := EvaluationResult{
		FlagName: flagName,
		Metadata: EvaluationMetadata{Timestamp: e.now()},
	}

	if context.Environment != "" {
		if enabled, ok := flag.Environments[context.Environment]; ok {
			result.Enabled = enabled
			result.Kind = ReasonEnvironmentOverride
			result.Reason = "environment override: " + context.Environment
			return e.done(result)
		}
	}

	if !flag.Enabled {
		result.Kind = ReasonDisabled
		result.Reason = "disabled globally"
		return e.done(result)
	}

	for index, rule := range flag.Targeting {
		if !e.ruleMatches(flagName, index, rule, context) {
			continue
		}
		matched := index
		result.Enabled = rule.Enabled
		result.Kind = ReasonTargetingMatch
		result.Reason = fmt.Sprintf("matched targeting rule #%d", index+1)
		if rule.Description != "" {
			result.Reason += ": " + rule.Description
		}
		result.Metadata.MatchedRuleIndex = &matched
		return e.done(result)
	}

	if flag.Rollout != nil {
		identifier := rolloutIdentifier(context)
		seed := flag.Rollout.Seed
		if seed == "" {
			seed = context.hashSeed
		}
		bucket := Bucket(flagName, identifier, seed)
		result.Enabled = float64(bucket) < flag.Rollout.Percentage
		result.Kind = ReasonRollout
		result.Reason = fmt.Sprintf("rollout %s%% (bucket %d)", strconv.FormatFloat(flag.Rollout.Percentage, 'f', -1, 64), bucket)
		result.Metadata.RolloutBucket = &bucket
		return e.done(result)
	}

	result.Enabled = true
	result.Kind = ReasonDefault
	result.Reason = "enabled for all users"
	return e.done(result)
}

// EvaluateIn evaluates the named flag from cfg without copying its
// configuration. ok is false when cfg has no such flag.
func (e *Evaluator) EvaluateIn(cfg *FlagsConfig, flagName string, context EvaluationContext) (EvaluationResult, bool) {
	flag, ok := cfg.lookup(flagName)
	if !ok {
		return EvaluationResult{}, false
	}
	return e.Evaluate(flagName, flag, context), true
}

// EvaluateFlags evaluates every flag in cfg, in document order.
func (e *Evaluator) EvaluateFlags(cfg *FlagsConfig, context EvaluationContext) []EvaluationResult {
	results := make([]EvaluationResult, 0, cfg.Len())
	if cfg == nil {
		return results
	}
	for _, name := range cfg.names {
		results = append(results, e.Evaluate(name, cfg.flags[name], context))
	}
	return results
}

func (e *Evaluator) ruleMatches(flagName string, index int, rule TargetingRule, context EvaluationContext) (matched bool) {
	attribute, ok := resolveAttribute(rule.Attribute, context)
	if !ok {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("targeting rule panicked",
				slog.String("flag", flagName),
				slog.Int("rule", index),
				slog.Any("panic", r),
			)
			matched = false
		}
	}()

	matched, err := matchRule(rule, attribute)
	if err != nil {
		e.logger.Warn("targeting rule evaluation failed",
			slog.String("flag", flagName),
			slog.Int("rule", index),
			slog.String("operator", string(rule.Operator)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return matched
}

func (e *Evaluator) done(result EvaluationResult) EvaluationResult {
	e.logger.Debug("flag evaluated",
		slog.String("flag", result.FlagName),
		slog.Bool("enabled", result.Enabled),
		slog.String("kind", string(result.Kind)),
		slog.String("reason", result.Reason),
	)
	return result
}

func resolveAttribute(name string, context EvaluationContext) (any, bool) {
	switch name {
	case AttributeUserID:
		return context.UserID, context.UserID != ""
	case AttributeEmail:
		return context.Email, context.Email != ""
	case AttributeEnvironment:
		return context.Environment, context.Environment != ""
	}

	value, ok := context.CustomAttributes[name]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

func rolloutIdentifier(context EvaluationContext) string {
	switch {
	case context.UserID != "":
		return context.UserID
	case context.Email != "":
		return context.Email
	default:
		return AnonymousIdentifier
	}
}
