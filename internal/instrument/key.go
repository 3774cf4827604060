package instrument

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInvalidKey = errors.New("invalid instrument key")

// Key identifies a tradable pair on a venue. Keys are comparable and totally
// ordered by venue, base, quote.
type Key struct {
	Venue string
	Base  string
	Quote string
}

func New(venue, base, quote string) Key {
	return Key{
		Venue: strings.ToLower(strings.TrimSpace(venue)),
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// Parse reads the "venue:BASE/QUOTE" form produced by String.
func Parse(s string) (Key, error) {
	venue, pair, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Key{}, fmt.Errorf("%q: missing venue: %w", s, ErrInvalidKey)
	}
	base, quote, ok := strings.Cut(pair, "/")
	if !ok {
		return Key{}, fmt.Errorf("%q: missing quote: %w", s, ErrInvalidKey)
	}
	key := New(venue, base, quote)
	if key.Venue == "" || key.Base == "" || key.Quote == "" {
		return Key{}, fmt.Errorf("%q: empty component: %w", s, ErrInvalidKey)
	}
	return key, nil
}

func (k Key) String() string {
	return k.Venue + ":" + k.Base + "/" + k.Quote
}

func (k Key) Symbol() string {
	return k.Base + "/" + k.Quote
}

func (k Key) Compare(o Key) int {
	if c := strings.Compare(k.Venue, o.Venue); c != 0 {
		return c
	}
	if c := strings.Compare(k.Base, o.Base); c != 0 {
		return c
	}
	return strings.Compare(k.Quote, o.Quote)
}

func (k Key) Less(o Key) bool {
	return k.Compare(o) < 0
}

func Sort(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// SameSet reports whether a and b hold the same keys, ignoring order.
func SameSet(a, b []Key) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[Key]int, len(a))
	for _, k := range a {
		seen[k]++
	}
	for _, k := range b {
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}
