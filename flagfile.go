// Package flagfile evaluates boolean feature flags defined in a YAML file
// kept next to the code.
//
// A [Client] finds and loads the flag file, optionally reloads it when it
// changes, and answers evaluations locally without any network calls:
//
//	client, err := flagfile.New(ctx, flagfile.WithDefaultContext(flagfile.EvaluationContext{
//		Environment: "production",
//	}))
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	if client.IsEnabled("new-checkout", flagfile.EvaluationContext{UserID: user.ID}) {
//		// ...
//	}
package flagfile

import "github.com/matt-riley/flagfile/internal/core"

type (
	EvaluationContext  = core.EvaluationContext
	EvaluationResult   = core.EvaluationResult
	EvaluationMetadata = core.EvaluationMetadata
	ReasonKind         = core.ReasonKind
	FlagConfig         = core.FlagConfig
	FlagsConfig        = core.FlagsConfig
	RolloutConfig      = core.RolloutConfig
	TargetingRule      = core.TargetingRule
	Operator           = core.Operator

	ValidationError   = core.ValidationError
	ConfigParseError  = core.ConfigParseError
	FlagNotFoundError = core.FlagNotFoundError
)

const (
	ReasonEnvironmentOverride = core.ReasonEnvironmentOverride
	ReasonDisabled            = core.ReasonDisabled
	ReasonTargetingMatch      = core.ReasonTargetingMatch
	ReasonRollout             = core.ReasonRollout
	ReasonDefault             = core.ReasonDefault
	ReasonFlagNotFound        = core.ReasonFlagNotFound
	ReasonNotInitialized      = core.ReasonNotInitialized
	ReasonError               = core.ReasonError
)

var (
	ErrInvalidConfig = core.ErrInvalidConfig
	ErrConfigParse   = core.ErrConfigParse
	ErrFlagNotFound  = core.ErrFlagNotFound
)

// Bucket exposes the rollout hash so that other services can check which
// bucket an identifier lands in.
func Bucket(flagName, identifier, seed string) int {
	return core.Bucket(flagName, identifier, seed)
}
