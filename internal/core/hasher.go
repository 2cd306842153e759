package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// DefaultSeed namespaces rollout hashes when neither the flag nor the context
// supplies a seed. Every SDK uses the same literal so that buckets agree
// across implementations.
const DefaultSeed = "devbolt"

// Bucket maps (flagName, identifier, seed) to a stable integer in [0, 99].
//
// The hash input is "{seed}:{flagName}:{identifier}" with an empty seed
// replaced by DefaultSeed. The first four bytes of its SHA-256 digest (the
// first eight hex characters) are read as a big-endian uint32 and reduced
// modulo 100.
func Bucket(flagName, identifier, seed string) int {
	if seed == "" {
		seed = DefaultSeed
	}
	sum := sha256.Sum256([]byte(seed + ":" + flagName + ":" + identifier))
	return int(binary.BigEndian.Uint32(sum[:4]) % 100)
}

// IsInRollout reports whether identifier falls inside percentage for the
// flag. 0 and 100 short-circuit without hashing.
func IsInRollout(flagName, identifier string, percentage float64, seed string) bool {
	if percentage <= 0 {
		return false
	}
	if percentage >= 100 {
		return true
	}
	return float64(Bucket(flagName, identifier, seed)) < percentage
}
