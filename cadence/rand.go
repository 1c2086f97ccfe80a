package cadence

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
)

// NewSampler returns a Sampler seeded from crypto/rand, suitable for
// production use. Tests should construct rand.New with a fixed source
// instead.
func NewSampler() (Sampler, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	seed := int64(binary.LittleEndian.Uint64(b[:]))
	return rand.New(rand.NewSource(seed)), nil
}
