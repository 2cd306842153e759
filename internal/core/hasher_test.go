package core

import (
	"fmt"
	"testing"
)

// Buckets pinned against the reference SDKs. Changing any of these breaks
// cross-language rollout agreement.
func TestBucketConformance(t *testing.T) {
	tests := []struct {
		flag       string
		identifier string
		seed       string
		want       int
	}{
		{flag: "f", identifier: "user-123", want: 2},
		{flag: "test_flag", identifier: "user-123", want: 45},
		{flag: "new-checkout", identifier: "user-42", want: 75},
		{flag: "new-checkout", identifier: "user-42", seed: "devbolt", want: 75},
		{flag: "new-checkout", identifier: "user-42", seed: "custom", want: 7},
		{flag: "beta", identifier: "anonymous", want: 63},
		{flag: "rollout-flag", identifier: "a@x.com", want: 36},
		{flag: "rollout-flag", identifier: "user-1", want: 31},
		{flag: "rollout-flag", identifier: "user-2", want: 57},
		{flag: "rollout-flag", identifier: "user-3", want: 67},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s/%s", tt.flag, tt.identifier, tt.seed), func(t *testing.T) {
			if got := Bucket(tt.flag, tt.identifier, tt.seed); got != tt.want {
				t.Fatalf("Bucket() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsInRolloutBoundaries(t *testing.T) {
	for i := range 200 {
		id := fmt.Sprintf("user-%d", i)
		if IsInRollout("edge", id, 0, "") {
			t.Fatalf("IsInRollout(0%%) = true for %s", id)
		}
		if !IsInRollout("edge", id, 100, "") {
			t.Fatalf("IsInRollout(100%%) = false for %s", id)
		}
	}
}

func TestIsInRolloutMonotonic(t *testing.T) {
	for i := range 200 {
		id := fmt.Sprintf("user-%d", i)
		seen := false
		for pct := 0.0; pct <= 100; pct += 5 {
			in := IsInRollout("grow", id, pct, "")
			if seen && !in {
				t.Fatalf("%s left the rollout when percentage rose to %v", id, pct)
			}
			seen = seen || in
		}
	}
}

func TestBucketDistribution(t *testing.T) {
	enabled := 0
	used := make(map[int]struct{})
	for i := range 1000 {
		id := fmt.Sprintf("user-%d", i)
		bucket := Bucket("test_flag", id, "")
		if bucket < 0 || bucket > 99 {
			t.Fatalf("Bucket() = %d, out of range", bucket)
		}
		used[bucket] = struct{}{}
		if IsInRollout("test_flag", id, 50, "") {
			enabled++
		}
	}

	if enabled != 518 {
		t.Fatalf("enabled = %d, want 518", enabled)
	}
	if len(used) != 100 {
		t.Fatalf("distinct buckets = %d, want 100", len(used))
	}
}
