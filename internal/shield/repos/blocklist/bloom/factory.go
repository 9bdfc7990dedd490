package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-shield/internal/shield/repos/blocklist"
)

type factory struct {
	sizer blocklist.BloomSizer
}

// NewFactory returns a BloomFactory that sizes filters with the standard
// capacity and FP rate formulas.
func NewFactory() blocklist.BloomFactory { return NewFactoryWithSizer(NewSizer()) }

// NewFactoryWithSizer returns a BloomFactory that asks s for filter
// dimensions. A nil sizer falls back to the standard formulas.
func NewFactoryWithSizer(s blocklist.BloomSizer) blocklist.BloomFactory {
	if s == nil {
		s = NewSizer()
	}
	return factory{sizer: s}
}

// New constructs a BloomFilter sized for the given capacity and target
// false-positive rate.
func (f factory) New(capacity uint64, fpRate float64) blocklist.BloomFilter {
	m, k := f.sizer.Size(capacity, fpRate)
	return &filter{bf: bitsbloom.New(uint(m), uint(k))}
}
