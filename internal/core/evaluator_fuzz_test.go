package core

import (
	"strings"
	"testing"
)

func FuzzValuesEqualSymmetry(f *testing.F) {
	f.Add(int64(1), uint64(1), float64(1), "1")
	f.Add(int64(-1), uint64(2), float64(-1), "")
	f.Add(int64(9007199254740993), uint64(9007199254740992), float64(9007199254740992), "snowflake")

	f.Fuzz(func(t *testing.T, i int64, u uint64, fl float64, value string) {
		if valuesEqual(i, u) != valuesEqual(u, i) {
			t.Fatalf("valuesEqual symmetry failed for int/uint: %d, %d", i, u)
		}
		if valuesEqual(i, fl) != valuesEqual(fl, i) {
			t.Fatalf("valuesEqual symmetry failed for int/float: %d, %f", i, fl)
		}
		if valuesEqual(value, fl) != valuesEqual(fl, value) {
			t.Fatalf("valuesEqual symmetry failed for string/float: %q, %f", value, fl)
		}

		operator := Operators()[int(u%uint64(len(operators)))]
		if u%17 == 0 {
			operator = Operator("unknown")
		}

		attribute := value
		if attribute == "" {
			attribute = "attr"
		}

		rule := TargetingRule{Attribute: attribute, Operator: operator, Value: value, Enabled: true}
		if operator.TakesValues() {
			rule.Values = []any{value, i, u, fl}
		}

		flag := FlagConfig{
			Enabled:   u%11 != 0,
			Targeting: []TargetingRule{rule},
			Rollout:   &RolloutConfig{Percentage: float64(u % 101)},
		}

		ctx := EvaluationContext{
			UserID:           value,
			CustomAttributes: map[string]any{attribute: fl},
		}

		got := EvaluateFlag("fuzz-flag", flag, ctx)
		if got.Reason == "" || got.Kind == "" {
			t.Fatalf("EvaluateFlag() returned empty reason: %+v", got)
		}
	})
}

func FuzzBucket(f *testing.F) {
	f.Add("new-checkout", "user-42", "")
	f.Add("", "", "custom")
	f.Add("flag", "ünïcödé", "seed:with:colons")

	f.Fuzz(func(t *testing.T, flag, identifier, seed string) {
		bucket := Bucket(flag, identifier, seed)
		if bucket < 0 || bucket > 99 {
			t.Fatalf("Bucket(%q, %q, %q) = %d, out of range", flag, identifier, seed, bucket)
		}
		if again := Bucket(flag, identifier, seed); again != bucket {
			t.Fatalf("Bucket() not deterministic: %d then %d", bucket, again)
		}
		if seed == "" && Bucket(flag, identifier, DefaultSeed) != bucket {
			t.Fatal("empty seed does not behave like DefaultSeed")
		}
	})
}

func FuzzValidate(f *testing.F) {
	f.Add("a", true, 50.0, "equals", "x")
	f.Add("Bad Name", false, 101.0, "in", "")
	f.Add(strings.Repeat("z", 101), true, -1.0, "matches_regex", "(")

	f.Fuzz(func(t *testing.T, name string, enabled bool, percentage float64, operator, value string) {
		raw := map[string]any{
			name: map[string]any{
				"enabled": enabled,
				"rollout": map[string]any{"percentage": percentage},
				"targeting": []any{
					map[string]any{"attribute": "x", "operator": operator, "value": value, "values": []any{value}, "enabled": true},
				},
			},
		}

		cfg, err := Validate(raw)
		if err != nil {
			if cfg != nil {
				t.Fatal("Validate() returned both config and error")
			}
			return
		}
		if cfg.Len() != 1 {
			t.Fatalf("Len() = %d, want 1", cfg.Len())
		}
		flag, _ := cfg.Get(name)
		if flag.Rollout.Percentage < 0 || flag.Rollout.Percentage > 100 {
			t.Fatalf("accepted percentage %v", flag.Rollout.Percentage)
		}
		EvaluateFlag(name, flag, EvaluationContext{UserID: value})
	})
}
