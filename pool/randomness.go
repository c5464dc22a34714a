package pool

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// EntropyInput is the pool state a RandomnessSource may mix into its output.
type EntropyInput struct {
	Pool    Address
	Round   uint64
	Players []Address
}

// RandomnessSource yields the bytes a winner index is derived from.
type RandomnessSource interface {
	Entropy(in EntropyInput) ([]byte, error)
}

// ChainedSource hashes the previous output together with the clock and the
// pool state, the way a block hash chains its parent. The chain is seeded from
// crypto/rand on first use so outputs are not known to callers ahead of the
// call. The zero value is ready to use.
type ChainedSource struct {
	mu   sync.Mutex
	prev []byte
	now  func() time.Time
}

// NewChainedSource returns a ChainedSource reading the wall clock.
func NewChainedSource() *ChainedSource {
	return &ChainedSource{now: time.Now}
}

func (s *ChainedSource) Entropy(in EntropyInput) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prev == nil {
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("pool: seed entropy: %w", err)
		}
		s.prev = seed
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(s.prev)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(now().UnixNano()))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], in.Round)
	h.Write(buf[:])
	h.Write([]byte(in.Pool))
	for _, p := range in.Players {
		h.Write([]byte(p))
	}

	s.prev = h.Sum(nil)
	out := make([]byte, len(s.prev))
	copy(out, s.prev)
	return out, nil
}

// FixedSource always returns the same bytes. Useful for deterministic selection.
type FixedSource []byte

func (f FixedSource) Entropy(EntropyInput) ([]byte, error) {
	out := make([]byte, len(f))
	copy(out, f)
	return out, nil
}

// IndexSource selects the given index (modulo the player count).
func IndexSource(i uint64) FixedSource {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], i)
	return FixedSource(buf[:])
}

func selectIndex(entropy []byte, n int) int {
	idx := new(big.Int).SetBytes(entropy)
	idx.Mod(idx, big.NewInt(int64(n)))
	return int(idx.Int64())
}
