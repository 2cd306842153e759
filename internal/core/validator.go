package core

import (
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"
)

const (
	MaxFlagNameLength    = 100
	MaxDescriptionLength = 500
)

var flagNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Validate checks a raw configuration tree and converts it into an immutable
// FlagsConfig. Mappings in raw are *Map or map[string]any, sequences are
// []any. The first violation is returned as a *ValidationError and nothing
// else is produced.
func Validate(raw any) (*FlagsConfig, error) {
	top, ok := asMapping(raw)
	if !ok {
		return nil, &ValidationError{Field: "config", Value: raw, Message: "config must be a mapping of flag names to flag configurations"}
	}

	names := top.keys()
	cfg := &FlagsConfig{
		names: make([]string, 0, len(names)),
		flags: make(map[string]FlagConfig, len(names)),
	}
	for _, name := range names {
		if err := validateFlagName(name); err != nil {
			return nil, err
		}
		if _, dup := cfg.flags[name]; dup {
			return nil, &ValidationError{Field: "flagName", Value: name, Message: fmt.Sprintf("flag name '%s' is defined more than once", name)}
		}

		body, _ := top.get(name)
		flag, err := validateFlag(name, body)
		if err != nil {
			return nil, err
		}
		cfg.names = append(cfg.names, name)
		cfg.flags[name] = flag
	}

	return cfg, nil
}

func validateFlagName(name string) error {
	if name == "" {
		return &ValidationError{Field: "flagName", Value: name, Message: "flag name must be a non-empty string"}
	}
	if !flagNamePattern.MatchString(name) {
		return &ValidationError{
			Field:   "flagName",
			Value:   name,
			Message: fmt.Sprintf("flag name '%s' must contain only lowercase letters, numbers, underscores, and hyphens", name),
		}
	}
	if len(name) > MaxFlagNameLength {
		return &ValidationError{
			Field:   "flagName",
			Value:   name,
			Message: fmt.Sprintf("flag name '%s' exceeds maximum length of %d", name, MaxFlagNameLength),
		}
	}
	return nil
}

func validateFlag(name string, body any) (FlagConfig, error) {
	fields, ok := asMapping(body)
	if !ok {
		return FlagConfig{}, flagError(name, name, body, "config must be a mapping")
	}

	var flag FlagConfig

	enabled, present := fields.get("enabled")
	enabledBool, isBool := enabled.(bool)
	if !present || !isBool {
		return FlagConfig{}, flagError(name, name+".enabled", enabled, "'enabled' must be a boolean")
	}
	flag.Enabled = enabledBool

	if value, ok := fields.get("description"); ok {
		description, err := validateDescription(name, name+".description", value)
		if err != nil {
			return FlagConfig{}, err
		}
		flag.Description = description
	}

	if value, ok := fields.get("rollout"); ok {
		rollout, err := validateRollout(name, value)
		if err != nil {
			return FlagConfig{}, err
		}
		flag.Rollout = rollout
	}

	if value, ok := fields.get("targeting"); ok {
		rules, err := validateTargeting(name, value)
		if err != nil {
			return FlagConfig{}, err
		}
		flag.Targeting = rules
	}

	if value, ok := fields.get("environments"); ok {
		environments, err := validateEnvironments(name, value)
		if err != nil {
			return FlagConfig{}, err
		}
		flag.Environments = environments
	}

	if value, ok := fields.get("metadata"); ok {
		if _, isMapping := asMapping(value); !isMapping {
			return FlagConfig{}, flagError(name, name+".metadata", value, "metadata must be a mapping")
		}
		flag.Metadata = toPlain(value).(map[string]any)
	}

	return flag, nil
}

func validateDescription(flagName, field string, value any) (string, error) {
	description, ok := value.(string)
	if !ok {
		return "", flagError(flagName, field, value, "description must be a string")
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return "", flagError(flagName, field, value, fmt.Sprintf("description exceeds maximum length of %d", MaxDescriptionLength))
	}
	return description, nil
}

func validateRollout(flagName string, value any) (*RolloutConfig, error) {
	field := flagName + ".rollout"
	fields, ok := asMapping(value)
	if !ok {
		return nil, flagError(flagName, field, value, "rollout must be a mapping")
	}

	raw, _ := fields.get("percentage")
	percentage, ok := asNumber(raw)
	if !ok {
		return nil, flagError(flagName, field+".percentage", raw, "rollout.percentage must be a number")
	}
	if math.IsNaN(percentage) || math.IsInf(percentage, 0) || percentage < 0 || percentage > 100 {
		return nil, flagError(flagName, field+".percentage", raw, "rollout.percentage must be between 0 and 100")
	}

	rollout := &RolloutConfig{Percentage: percentage}
	if raw, ok := fields.get("seed"); ok {
		seed, isString := raw.(string)
		if !isString {
			return nil, flagError(flagName, field+".seed", raw, "rollout.seed must be a string")
		}
		rollout.Seed = seed
	}

	return rollout, nil
}

func validateTargeting(flagName string, value any) ([]TargetingRule, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, flagError(flagName, flagName+".targeting", value, "targeting must be a list")
	}

	rules := make([]TargetingRule, 0, len(items))
	for index, item := range items {
		rule, err := validateRule(flagName, index, item)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func validateRule(flagName string, index int, value any) (TargetingRule, error) {
	field := fmt.Sprintf("%s.targeting[%d]", flagName, index)
	fields, ok := asMapping(value)
	if !ok {
		return TargetingRule{}, flagError(flagName, field, value, fmt.Sprintf("targeting rule %d must be a mapping", index))
	}

	var rule TargetingRule

	attribute, _ := fields.get("attribute")
	attributeName, isString := attribute.(string)
	if !isString || attributeName == "" {
		return TargetingRule{}, flagError(flagName, field+".attribute", attribute, fmt.Sprintf("targeting rule %d attribute must be a non-empty string", index))
	}
	rule.Attribute = attributeName

	rawOperator, _ := fields.get("operator")
	operatorName, _ := rawOperator.(string)
	operator := Operator(operatorName)
	if !operator.Valid() {
		return TargetingRule{}, flagError(flagName, field+".operator", rawOperator, fmt.Sprintf("targeting rule %d has invalid operator '%v'", index, rawOperator))
	}
	rule.Operator = operator

	if operator.TakesValues() {
		raw, _ := fields.get("values")
		values, isList := raw.([]any)
		if !isList || len(values) == 0 {
			return TargetingRule{}, flagError(flagName, field+".values", raw, fmt.Sprintf("targeting rule %d with operator '%s' requires a non-empty 'values' list", index, operator))
		}
		for i, item := range values {
			if !isScalar(item) {
				return TargetingRule{}, flagError(flagName, fmt.Sprintf("%s.values[%d]", field, i), item, fmt.Sprintf("targeting rule %d values must be strings, numbers, or booleans", index))
			}
		}
		rule.Values = append([]any(nil), values...)
	} else {
		raw, present := fields.get("value")
		if !present || !isScalar(raw) {
			return TargetingRule{}, flagError(flagName, field+".value", raw, fmt.Sprintf("targeting rule %d with operator '%s' requires a string, number, or boolean 'value'", index, operator))
		}
		rule.Value = raw
	}

	enabled, present := fields.get("enabled")
	enabledBool, isBool := enabled.(bool)
	if !present || !isBool {
		return TargetingRule{}, flagError(flagName, field+".enabled", enabled, fmt.Sprintf("targeting rule %d 'enabled' must be a boolean", index))
	}
	rule.Enabled = enabledBool

	if raw, ok := fields.get("description"); ok {
		description, err := validateDescription(flagName, field+".description", raw)
		if err != nil {
			return TargetingRule{}, err
		}
		rule.Description = description
	}

	if operator == OperatorMatchesRegex {
		pattern, err := regexp.Compile(stringForm(rule.Value))
		if err != nil {
			return TargetingRule{}, flagError(flagName, field+".value", rule.Value, fmt.Sprintf("targeting rule %d has invalid regex pattern: %v", index, err))
		}
		rule.pattern = pattern
	}

	return rule, nil
}

func validateEnvironments(flagName string, value any) (map[string]bool, error) {
	field := flagName + ".environments"
	fields, ok := asMapping(value)
	if !ok {
		return nil, flagError(flagName, field, value, "environments must be a mapping")
	}

	environments := make(map[string]bool, len(fields.keys()))
	for _, env := range fields.keys() {
		raw, _ := fields.get(env)
		enabled, isBool := raw.(bool)
		if !isBool {
			return nil, flagError(flagName, field+"."+env, raw, fmt.Sprintf("environment '%s' value must be a boolean", env))
		}
		environments[env] = enabled
	}
	return environments, nil
}

func flagError(flagName, field string, value any, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("flag '%s': %s", flagName, message),
	}
}

func isScalar(value any) bool {
	switch value.(type) {
	case string, bool:
		return true
	}
	_, ok := asNumber(value)
	return ok
}

// flagToTree turns a FlagConfig built in code back into a raw tree so that it
// goes through exactly the same checks as a parsed document.
func flagToTree(flag FlagConfig) map[string]any {
	tree := map[string]any{"enabled": flag.Enabled}
	if flag.Description != "" {
		tree["description"] = flag.Description
	}
	if flag.Rollout != nil {
		rollout := map[string]any{"percentage": flag.Rollout.Percentage}
		if flag.Rollout.Seed != "" {
			rollout["seed"] = flag.Rollout.Seed
		}
		tree["rollout"] = rollout
	}
	if flag.Targeting != nil {
		rules := make([]any, 0, len(flag.Targeting))
		for _, rule := range flag.Targeting {
			item := map[string]any{
				"attribute": rule.Attribute,
				"operator":  string(rule.Operator),
				"enabled":   rule.Enabled,
			}
			if rule.Value != nil {
				item["value"] = rule.Value
			}
			if rule.Values != nil {
				item["values"] = append([]any(nil), rule.Values...)
			}
			if rule.Description != "" {
				item["description"] = rule.Description
			}
			rules = append(rules, item)
		}
		tree["targeting"] = rules
	}
	if flag.Environments != nil {
		environments := make(map[string]any, len(flag.Environments))
		for env, enabled := range flag.Environments {
			environments[env] = enabled
		}
		tree["environments"] = environments
	}
	if flag.Metadata != nil {
		tree["metadata"] = cloneMetadata(flag.Metadata)
	}
	return tree
}
