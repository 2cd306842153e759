package core

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestValidateAcceptsFullConfig(t *testing.T) {
	tree := NewMap()
	checkout := NewMap()
	checkout.Set("enabled", true)
	checkout.Set("description", "New checkout flow")
	checkout.Set("rollout", map[string]any{"percentage": 25, "seed": "checkout-v2"})
	checkout.Set("targeting", []any{
		map[string]any{"attribute": "email", "operator": "ends_with", "value": "@company.com", "enabled": true},
		map[string]any{"attribute": "country", "operator": "in", "values": []any{"US", "CA"}, "enabled": false, "description": "not yet"},
		map[string]any{"attribute": "userId", "operator": "matches_regex", "value": `^qa-\d+$`, "enabled": true},
	})
	checkout.Set("environments", map[string]any{"development": true, "production": false})
	checkout.Set("metadata", map[string]any{"owner": "payments", "tags": []any{"q3"}})
	tree.Set("zeta", map[string]any{"enabled": false})
	tree.Set("new-checkout", checkout)

	cfg, err := Validate(tree)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := cfg.Names(); !slices.Equal(got, []string{"zeta", "new-checkout"}) {
		t.Fatalf("Names() = %v, want document order", got)
	}

	flag, ok := cfg.Get("new-checkout")
	if !ok {
		t.Fatal("Get(new-checkout) ok = false")
	}
	if !flag.Enabled || flag.Description != "New checkout flow" {
		t.Fatalf("flag = %+v", flag)
	}
	if flag.Rollout == nil || flag.Rollout.Percentage != 25 || flag.Rollout.Seed != "checkout-v2" {
		t.Fatalf("Rollout = %+v", flag.Rollout)
	}
	if len(flag.Targeting) != 3 || flag.Targeting[1].Operator != OperatorIn || len(flag.Targeting[1].Values) != 2 {
		t.Fatalf("Targeting = %+v", flag.Targeting)
	}
	if flag.Targeting[2].pattern == nil {
		t.Fatal("matches_regex rule pattern was not compiled")
	}
	if flag.Environments["development"] != true || flag.Environments["production"] != false {
		t.Fatalf("Environments = %v", flag.Environments)
	}
	if flag.Metadata["owner"] != "payments" {
		t.Fatalf("Metadata = %v", flag.Metadata)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name      string
		raw       any
		wantField string
		wantMsg   string
	}{
		{
			name:      "top level not a mapping",
			raw:       []any{"a"},
			wantField: "config",
		},
		{
			name:      "uppercase flag name",
			raw:       map[string]any{"NewUI": map[string]any{"enabled": true}},
			wantField: "flagName",
			wantMsg:   "must contain only lowercase letters",
		},
		{
			name:      "flag name with space and capitals",
			raw:       map[string]any{"Invalid Flag": map[string]any{"enabled": true}},
			wantField: "flagName",
			wantMsg:   "must contain only lowercase letters",
		},
		{
			name:      "flag name too long",
			raw:       map[string]any{strings.Repeat("a", 101): map[string]any{"enabled": true}},
			wantField: "flagName",
			wantMsg:   "exceeds maximum length of 100",
		},
		{
			name:      "empty flag name",
			raw:       map[string]any{"": map[string]any{"enabled": true}},
			wantField: "flagName",
		},
		{
			name:      "flag body not a mapping",
			raw:       map[string]any{"a": true},
			wantField: "a",
		},
		{
			name:      "missing enabled",
			raw:       map[string]any{"a": map[string]any{"description": "x"}},
			wantField: "a.enabled",
			wantMsg:   "flag 'a': 'enabled' must be a boolean",
		},
		{
			name:      "string enabled",
			raw:       map[string]any{"a": map[string]any{"enabled": "true"}},
			wantField: "a.enabled",
		},
		{
			name:      "description too long",
			raw:       map[string]any{"a": map[string]any{"enabled": true, "description": strings.Repeat("x", 501)}},
			wantField: "a.description",
		},
		{
			name:      "rollout over one hundred",
			raw:       map[string]any{"a": map[string]any{"enabled": true, "rollout": map[string]any{"percentage": 101}}},
			wantField: "a.rollout.percentage",
			wantMsg:   "between 0 and 100",
		},
		{
			name:      "rollout negative",
			raw:       map[string]any{"a": map[string]any{"enabled": true, "rollout": map[string]any{"percentage": -1}}},
			wantField: "a.rollout.percentage",
		},
		{
			name:      "rollout percentage as string",
			raw:       map[string]any{"a": map[string]any{"enabled": true, "rollout": map[string]any{"percentage": "50"}}},
			wantField: "a.rollout.percentage",
		},
		{
			name:      "rollout percentage as bool",
			raw:       map[string]any{"a": map[string]any{"enabled": true, "rollout": map[string]any{"percentage": true}}},
			wantField: "a.rollout.percentage",
		},
		{
			name:      "rollout seed not a string",
			raw:       map[string]any{"a": map[string]any{"enabled": true, "rollout": map[string]any{"percentage": 5, "seed": 3}}},
			wantField: "a.rollout.seed",
		},
		{
			name:      "targeting not a list",
			raw:       map[string]any{"a": map[string]any{"enabled": true, "targeting": map[string]any{}}},
			wantField: "a.targeting",
		},
		{
			name: "unknown operator",
			raw: map[string]any{"a": map[string]any{"enabled": true, "targeting": []any{
				map[string]any{"attribute": "x", "operator": "between", "value": 1, "enabled": true},
			}}},
			wantField: "a.targeting[0].operator",
			wantMsg:   "invalid operator 'between'",
		},
		{
			name: "empty attribute",
			raw: map[string]any{"a": map[string]any{"enabled": true, "targeting": []any{
				map[string]any{"attribute": "", "operator": "equals", "value": 1, "enabled": true},
			}}},
			wantField: "a.targeting[0].attribute",
		},
		{
			name: "in without values",
			raw: map[string]any{"a": map[string]any{"enabled": true, "targeting": []any{
				map[string]any{"attribute": "x", "operator": "in", "value": "US", "enabled": true},
			}}},
			wantField: "a.targeting[0].values",
		},
		{
			name: "in with empty values",
			raw: map[string]any{"a": map[string]any{"enabled": true, "targeting": []any{
				map[string]any{"attribute": "x", "operator": "not_in", "values": []any{}, "enabled": true},
			}}},
			wantField: "a.targeting[0].values",
		},
		{
			name: "values entry not scalar",
			raw: map[string]any{"a": map[string]any{"enabled": true, "targeting": []any{
				map[string]any{"attribute": "x", "operator": "in", "values": []any{"ok", []any{"nested"}}, "enabled": true},
			}}},
			wantField: "a.targeting[0].values[1]",
		},
		{
			name: "equals without value",
			raw: map[string]any{"a": map[string]any{"enabled": true, "targeting": []any{
				map[string]any{"attribute": "x", "operator": "equals", "enabled": true},
			}}},
			wantField: "a.targeting[0].value",
		},
		{
			name: "rule enabled missing",
			raw: map[string]any{"a": map[string]any{"enabled": true, "targeting": []any{
				map[string]any{"attribute": "x", "operator": "equals", "value": 1},
			}}},
			wantField: "a.targeting[0].enabled",
		},
		{
			name: "second rule reported by index",
			raw: map[string]any{"a": map[string]any{"enabled": true, "targeting": []any{
				map[string]any{"attribute": "x", "operator": "equals", "value": 1, "enabled": true},
				"not a rule",
			}}},
			wantField: "a.targeting[1]",
		},
		{
			name: "invalid regex",
			raw: map[string]any{"a": map[string]any{"enabled": true, "targeting": []any{
				map[string]any{"attribute": "x", "operator": "matches_regex", "value": "(", "enabled": true},
			}}},
			wantField: "a.targeting[0].value",
			wantMsg:   "invalid regex pattern",
		},
		{
			name:      "environment value not bool",
			raw:       map[string]any{"a": map[string]any{"enabled": true, "environments": map[string]any{"prod": "yes"}}},
			wantField: "a.environments.prod",
		},
		{
			name:      "metadata not a mapping",
			raw:       map[string]any{"a": map[string]any{"enabled": true, "metadata": "owner"}},
			wantField: "a.metadata",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Validate(tt.raw)
			if err == nil {
				t.Fatalf("Validate() = %v, want error", cfg)
			}
			if cfg != nil {
				t.Fatalf("Validate() returned config alongside error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("errors.Is(err, ErrInvalidConfig) = false for %v", err)
			}
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("error %T is not a *ValidationError", err)
			}
			if validationErr.Field != tt.wantField {
				t.Fatalf("Field = %q, want %q (message %q)", validationErr.Field, tt.wantField, validationErr.Message)
			}
			if tt.wantMsg != "" && !strings.Contains(validationErr.Message, tt.wantMsg) {
				t.Fatalf("Message = %q, want it to contain %q", validationErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestValidateBoundaries(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{name: "empty config", raw: map[string]any{}},
		{name: "name at max length", raw: map[string]any{strings.Repeat("a", 100): map[string]any{"enabled": true}}},
		{name: "description at max length", raw: map[string]any{"a": map[string]any{"enabled": true, "description": strings.Repeat("é", 500)}}},
		{name: "zero percent", raw: map[string]any{"a": map[string]any{"enabled": true, "rollout": map[string]any{"percentage": 0}}}},
		{name: "hundred percent float", raw: map[string]any{"a": map[string]any{"enabled": true, "rollout": map[string]any{"percentage": 100.0}}}},
		{name: "empty targeting", raw: map[string]any{"a": map[string]any{"enabled": true, "targeting": []any{}}}},
		{name: "digits underscores hyphens", raw: map[string]any{"a_1-b": map[string]any{"enabled": false}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Validate(tt.raw); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

func TestNewFlagsConfig(t *testing.T) {
	cfg, err := NewFlagsConfig([]string{"b", "a"}, map[string]FlagConfig{
		"a": {Enabled: true, Rollout: &RolloutConfig{Percentage: 10}},
		"b": {Enabled: true, Targeting: []TargetingRule{
			{Attribute: "plan", Operator: OperatorIn, Values: []any{"pro"}, Enabled: true},
			{Attribute: "email", Operator: OperatorMatchesRegex, Value: `@x\.com$`, Enabled: true},
		}},
	})
	if err != nil {
		t.Fatalf("NewFlagsConfig() error = %v", err)
	}
	if got := cfg.Names(); !slices.Equal(got, []string{"b", "a"}) {
		t.Fatalf("Names() = %v, want [b a]", got)
	}
	flag, _ := cfg.Get("b")
	if flag.Targeting[1].pattern == nil {
		t.Fatal("regex pattern not compiled by NewFlagsConfig")
	}

	if _, err := NewFlagsConfig([]string{"a"}, map[string]FlagConfig{"a": {Enabled: true, Rollout: &RolloutConfig{Percentage: 150}}}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("NewFlagsConfig(150%%) error = %v, want ErrInvalidConfig", err)
	}
	if _, err := NewFlagsConfig([]string{"missing"}, nil); err == nil {
		t.Fatal("NewFlagsConfig(missing) error = nil")
	}
	if _, err := NewFlagsConfig([]string{"a", "a"}, map[string]FlagConfig{"a": {}}); err == nil {
		t.Fatal("NewFlagsConfig(duplicate) error = nil")
	}
}

func TestFlagsConfigReturnsCopies(t *testing.T) {
	cfg, err := Validate(map[string]any{"a": map[string]any{
		"enabled":      true,
		"targeting":    []any{map[string]any{"attribute": "x", "operator": "in", "values": []any{"1"}, "enabled": true}},
		"environments": map[string]any{"prod": true},
		"metadata":     map[string]any{"nested": map[string]any{"k": "v"}},
	}})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	flag, _ := cfg.Get("a")
	flag.Targeting[0].Values[0] = "changed"
	flag.Environments["prod"] = false
	flag.Metadata["nested"].(map[string]any)["k"] = "changed"
	names := cfg.Names()
	names[0] = "changed"

	again, _ := cfg.Get("a")
	if again.Targeting[0].Values[0] != "1" || !again.Environments["prod"] || again.Metadata["nested"].(map[string]any)["k"] != "v" {
		t.Fatalf("stored flag was mutated through a copy: %+v", again)
	}
	if cfg.Names()[0] != "a" {
		t.Fatal("stored names were mutated through a copy")
	}

	count := 0
	for name, flag := range cfg.All() {
		count++
		if name != "a" || !flag.Enabled {
			t.Fatalf("All() yielded %q %+v", name, flag)
		}
	}
	if count != 1 {
		t.Fatalf("All() yielded %d flags, want 1", count)
	}

	var empty *FlagsConfig
	if empty.Len() != 0 || len(empty.Names()) != 0 {
		t.Fatal("nil FlagsConfig is not empty")
	}
}
