package engine

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// Roller produces a pair of six-sided dice.
type Roller interface {
	Roll() (int, int)
}

// RandomRoller rolls with a PCG source seeded from crypto/rand.
type RandomRoller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomRoller returns a roller seeded from crypto/rand.
func NewRandomRoller() *RandomRoller {
	var b [16]byte
	_, _ = crand.Read(b[:])
	src := rand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:]))
	return &RandomRoller{rng: rand.New(src)}
}

// NewSeededRoller returns a deterministic roller.
func NewSeededRoller(seed uint64) *RandomRoller {
	return &RandomRoller{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *RandomRoller) Roll() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(6) + 1, r.rng.IntN(6) + 1
}

// FixedRoller replays a scripted sequence of rolls, repeating the last pair once the
// script runs out. Used by simulations and tests.
type FixedRoller struct {
	mu    sync.Mutex
	pairs [][2]int
	next  int
}

// NewFixedRoller scripts the given pairs.
func NewFixedRoller(pairs ...[2]int) *FixedRoller {
	return &FixedRoller{pairs: pairs}
}

// Push appends pairs to the script.
func (r *FixedRoller) Push(pairs ...[2]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs = append(r.pairs, pairs...)
}

func (r *FixedRoller) Roll() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pairs) == 0 {
		return 2, 3
	}
	i := r.next
	if i >= len(r.pairs) {
		i = len(r.pairs) - 1
	} else {
		r.next++
	}
	return r.pairs[i][0], r.pairs[i][1]
}
