// Package rng derives independent, reproducible random streams from (run seed, tick, stream).
package rng

import (
	"encoding/binary"
	"math/rand/v2"
)

// Named streams. Each subsystem draws from its own stream so adding draws in
// one place never shifts the sequence seen by another.
const (
	StreamAI    uint64 = 7
	StreamSpawn uint64 = 42
)

const (
	tickMul   = 0x9E3779B97F4A7C15
	streamMul = 0xD2B74407B1CE6E93

	entityMul       = 0xA24BAED4963EE407
	entityStreamMul = 0x9E3779B185EBCA87
)

// Mix folds the three inputs into the 64-bit seed of a stream.
func Mix(seed, tick, stream uint64) uint64 {
	return seed ^ (tick * tickMul) ^ (stream * streamMul)
}

// Derive returns the generator for (seed, tick, stream). Equal inputs always
// produce equal sequences; the generator shares no state with any other.
func Derive(seed, tick, stream uint64) *rand.Rand {
	return rand.New(rand.NewChaCha8(expand(Mix(seed, tick, stream))))
}

// ForEntity returns a per-entity generator that does not depend on processing order.
func ForEntity(seed, entityID, stream uint64) *rand.Rand {
	s := seed ^ (entityID * entityMul) ^ (stream * entityStreamMul)
	return rand.New(rand.NewChaCha8(expand(s)))
}

// expand stretches a 64-bit seed into a ChaCha8 key with splitmix64.
func expand(s uint64) [32]byte {
	var key [32]byte
	for i := 0; i < 4; i++ {
		s += 0x9E3779B97F4A7C15
		z := s
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		z ^= z >> 31
		binary.LittleEndian.PutUint64(key[i*8:], z)
	}
	return key
}

// IntRange draws uniformly from [lo, hi).
func IntRange(r *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.IntN(hi-lo)
}
