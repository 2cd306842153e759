package core

import (
	"fmt"
	"regexp"
	"strings"
)

// matchRule reports whether rule matches attribute, which has already been
// resolved from the context and is known to be present.
func matchRule(rule TargetingRule, attribute any) (bool, error) {
	switch rule.Operator {
	case OperatorEquals:
		return valuesEqual(attribute, rule.Value), nil
	case OperatorNotEquals:
		return !valuesEqual(attribute, rule.Value), nil
	case OperatorIn:
		return valueIn(attribute, rule.Values), nil
	case OperatorNotIn:
		return !valueIn(attribute, rule.Values), nil
	case OperatorContains:
		return strings.Contains(lower(attribute), lower(rule.Value)), nil
	case OperatorNotContains:
		return !strings.Contains(lower(attribute), lower(rule.Value)), nil
	case OperatorStartsWith:
		return strings.HasPrefix(lower(attribute), lower(rule.Value)), nil
	case OperatorEndsWith:
		return strings.HasSuffix(lower(attribute), lower(rule.Value)), nil
	case OperatorGreaterThan:
		return compareNumbers(attribute, rule.Value, func(a, b float64) bool { return a > b })
	case OperatorLessThan:
		return compareNumbers(attribute, rule.Value, func(a, b float64) bool { return a < b })
	case OperatorGreaterThanOrEqual:
		return compareNumbers(attribute, rule.Value, func(a, b float64) bool { return a >= b })
	case OperatorLessThanOrEqual:
		return compareNumbers(attribute, rule.Value, func(a, b float64) bool { return a <= b })
	case OperatorMatchesRegex:
		pattern := rule.pattern
		if pattern == nil {
			compiled, err := regexp.Compile(stringForm(rule.Value))
			if err != nil {
				return false, fmt.Errorf("compile pattern: %w", err)
			}
			pattern = compiled
		}
		return pattern.MatchString(stringForm(attribute)), nil
	default:
		return false, fmt.Errorf("unknown operator %q", rule.Operator)
	}
}

func lower(value any) string {
	return strings.ToLower(stringForm(value))
}

func compareNumbers(attribute, ruleValue any, cmp func(a, b float64) bool) (bool, error) {
	left, err := coerceNumber(attribute)
	if err != nil {
		return false, fmt.Errorf("attribute: %w", err)
	}
	right, err := coerceNumber(ruleValue)
	if err != nil {
		return false, fmt.Errorf("rule value: %w", err)
	}
	return cmp(left, right), nil
}
