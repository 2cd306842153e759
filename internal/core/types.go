package core

import (
	"iter"
	"maps"
	"regexp"
	"slices"
	"time"
)

type Operator string

const (
	OperatorEquals             Operator = "equals"
	OperatorNotEquals          Operator = "not_equals"
	OperatorIn                 Operator = "in"
	OperatorNotIn              Operator = "not_in"
	OperatorContains           Operator = "contains"
	OperatorNotContains        Operator = "not_contains"
	OperatorStartsWith         Operator = "starts_with"
	OperatorEndsWith           Operator = "ends_with"
	OperatorGreaterThan        Operator = "greater_than"
	OperatorLessThan           Operator = "less_than"
	OperatorGreaterThanOrEqual Operator = "greater_than_or_equal"
	OperatorLessThanOrEqual    Operator = "less_than_or_equal"
	OperatorMatchesRegex       Operator = "matches_regex"
)

var operators = []Operator{
	OperatorEquals,
	OperatorNotEquals,
	OperatorIn,
	OperatorNotIn,
	OperatorContains,
	OperatorNotContains,
	OperatorStartsWith,
	OperatorEndsWith,
	OperatorGreaterThan,
	OperatorLessThan,
	OperatorGreaterThanOrEqual,
	OperatorLessThanOrEqual,
	OperatorMatchesRegex,
}

// Operators returns every supported targeting operator in declaration order.
func Operators() []Operator {
	return slices.Clone(operators)
}

// Valid reports whether op is one of the supported operators.
func (op Operator) Valid() bool {
	return slices.Contains(operators, op)
}

// TakesValues reports whether op reads the rule's Values list instead of Value.
func (op Operator) TakesValues() bool {
	return op == OperatorIn || op == OperatorNotIn
}

// Well-known context attribute names. Any other attribute name is looked up
// in EvaluationContext.CustomAttributes.
const (
	AttributeUserID      = "userId"
	AttributeEmail       = "email"
	AttributeEnvironment = "environment"
)

type RolloutConfig struct {
	Percentage float64 `json:"percentage" yaml:"percentage"`
	Seed       string  `json:"seed,omitempty" yaml:"seed,omitempty"`
}

type TargetingRule struct {
	Attribute   string   `json:"attribute" yaml:"attribute"`
	Operator    Operator `json:"operator" yaml:"operator"`
	Value       any      `json:"value,omitempty" yaml:"value,omitempty"`
	Values      []any    `json:"values,omitempty" yaml:"values,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`

	// pattern is set by Validate for matches_regex rules.
	pattern *regexp.Regexp
}

type FlagConfig struct {
	Enabled      bool            `json:"enabled" yaml:"enabled"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	Rollout      *RolloutConfig  `json:"rollout,omitempty" yaml:"rollout,omitempty"`
	Targeting    []TargetingRule `json:"targeting,omitempty" yaml:"targeting,omitempty"`
	Environments map[string]bool `json:"environments,omitempty" yaml:"environments,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a deep copy of f. Compiled regex patterns are shared; they are
// safe for concurrent use.
func (f FlagConfig) Clone() FlagConfig {
	out := f
	if f.Rollout != nil {
		rollout := *f.Rollout
		out.Rollout = &rollout
	}
	if f.Targeting != nil {
		out.Targeting = make([]TargetingRule, len(f.Targeting))
		for i, rule := range f.Targeting {
			rule.Values = slices.Clone(rule.Values)
			out.Targeting[i] = rule
		}
	}
	out.Environments = maps.Clone(f.Environments)
	out.Metadata = cloneMetadata(f.Metadata)
	return out
}

func cloneMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneMetadata(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// FlagsConfig is an immutable, validated set of flags. Flag order follows the
// source document. Build one with Validate or NewFlagsConfig; the zero value
// is an empty configuration.
type FlagsConfig struct {
	names []string
	flags map[string]FlagConfig
}

// NewFlagsConfig validates flags (in the order given by names) and returns the
// resulting configuration. It exists for callers that build configurations in
// code rather than from a document.
func NewFlagsConfig(names []string, flags map[string]FlagConfig) (*FlagsConfig, error) {
	tree := NewMap()
	for _, name := range names {
		flag, ok := flags[name]
		if !ok {
			return nil, &ValidationError{Field: "flagName", Value: name, Message: "flag '" + name + "' has no configuration"}
		}
		if _, dup := tree.Get(name); dup {
			return nil, &ValidationError{Field: "flagName", Value: name, Message: "flag '" + name + "' is defined more than once"}
		}
		tree.Set(name, flagToTree(flag))
	}
	return Validate(tree)
}

// Len returns the number of flags.
func (c *FlagsConfig) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

// Names returns flag names in document order.
func (c *FlagsConfig) Names() []string {
	if c == nil {
		return []string{}
	}
	return slices.Clone(c.names)
}

// Get returns a copy of the named flag's configuration.
func (c *FlagsConfig) Get(name string) (FlagConfig, bool) {
	if c == nil {
		return FlagConfig{}, false
	}
	flag, ok := c.flags[name]
	if !ok {
		return FlagConfig{}, false
	}
	return flag.Clone(), true
}

// lookup returns the stored flag without copying. Only evaluation code, which
// never writes to it, may use it.
func (c *FlagsConfig) lookup(name string) (FlagConfig, bool) {
	if c == nil {
		return FlagConfig{}, false
	}
	flag, ok := c.flags[name]
	return flag, ok
}

// All iterates over copies of every flag in document order.
func (c *FlagsConfig) All() iter.Seq2[string, FlagConfig] {
	return func(yield func(string, FlagConfig) bool) {
		if c == nil {
			return
		}
		for _, name := range c.names {
			if !yield(name, c.flags[name].Clone()) {
				return
			}
		}
	}
}

// EvaluationContext carries the attributes a flag is evaluated against. Empty
// strings are treated as absent.
type EvaluationContext struct {
	UserID           string         `json:"userId,omitempty"`
	Email            string         `json:"email,omitempty"`
	Environment      string         `json:"environment,omitempty"`
	CustomAttributes map[string]any `json:"customAttributes,omitempty"`

	hashSeed string
}

// WithHashSeed returns a copy of c whose rollout bucketing uses seed when the
// flag itself does not set one. Intended for deterministic tests.
func (c EvaluationContext) WithHashSeed(seed string) EvaluationContext {
	c.hashSeed = seed
	return c
}

// HashSeed returns the seed override set by WithHashSeed.
func (c EvaluationContext) HashSeed() string {
	return c.hashSeed
}

// ReasonKind is the stable, machine-readable category of an evaluation
// result. Reason strings may change wording; kinds do not.
type ReasonKind string

const (
	ReasonEnvironmentOverride ReasonKind = "environment_override"
	ReasonDisabled            ReasonKind = "disabled"
	ReasonTargetingMatch      ReasonKind = "targeting_match"
	ReasonRollout             ReasonKind = "rollout"
	ReasonDefault             ReasonKind = "default"
	ReasonFlagNotFound        ReasonKind = "flag_not_found"
	ReasonNotInitialized      ReasonKind = "not_initialized"
	ReasonError               ReasonKind = "error"
)

type EvaluationMetadata struct {
	Timestamp        time.Time `json:"timestamp"`
	MatchedRuleIndex *int      `json:"matchedRuleIndex,omitempty"`
	RolloutBucket    *int      `json:"rolloutBucket,omitempty"`
	SnapshotID       string    `json:"snapshotId,omitempty"`
}

type EvaluationResult struct {
	FlagName string             `json:"flagName"`
	Enabled  bool               `json:"enabled"`
	Reason   string             `json:"reason"`
	Kind     ReasonKind         `json:"kind"`
	Metadata EvaluationMetadata `json:"metadata"`
}
