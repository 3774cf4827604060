package belief

import (
	"errors"
	"fmt"

	"fairprice-bot/internal/instrument"
)

var ErrKeyMismatch = errors.New("belief key sets differ")

// Set holds one belief per instrument. Published sets are treated as
// immutable snapshots; use Clone before modifying a received set.
type Set map[instrument.Key]Belief

// NullSet returns a set of null beliefs centered on the given means.
func NullSet(means map[instrument.Key]float64) Set {
	out := make(Set, len(means))
	for k, m := range means {
		out[k] = Null(m)
	}
	return out
}

func (s Set) Keys() []instrument.Key {
	keys := make([]instrument.Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	instrument.Sort(keys)
	return keys
}

func (s Set) Means() map[instrument.Key]float64 {
	out := make(map[instrument.Key]float64, len(s))
	for k, b := range s {
		out[k] = b.Mean
	}
	return out
}

func (s Set) Stddevs() map[instrument.Key]float64 {
	out := make(map[instrument.Key]float64, len(s))
	for k, b := range s {
		out[k] = b.Stddev()
	}
	return out
}

func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, b := range s {
		out[k] = b
	}
	return out
}

// AllNull reports whether no member carries information.
func (s Set) AllNull() bool {
	for _, b := range s {
		if !b.IsNull() {
			return false
		}
	}
	return true
}

// PadNull returns a copy of s with a null belief for every key in keys that s
// lacks, centered on means[key]. It makes identity padding explicit before
// fusing sets over different instruments.
func (s Set) PadNull(keys []instrument.Key, means map[instrument.Key]float64) Set {
	out := s.Clone()
	for _, k := range keys {
		if _, ok := out[k]; !ok {
			out[k] = Null(means[k])
		}
	}
	return out
}

// FuseSets fuses a and b element-wise. Both must cover the same keys.
func FuseSets(a, b Set) (Set, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%d vs %d keys: %w", len(a), len(b), ErrKeyMismatch)
	}
	out := make(Set, len(a))
	for k, ba := range a {
		bb, ok := b[k]
		if !ok {
			return nil, fmt.Errorf("missing %s: %w", k, ErrKeyMismatch)
		}
		out[k] = FusePair(ba, bb)
	}
	return out, nil
}
