// Package scoring combines reputations and maps combined scores to display
// tiers.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

// Default flair template ids of the destination community.
const (
	DefaultLowCategory        = "3c680234-4a4d-11eb-8124-0edd2b620987"
	DefaultMiddleCategory     = "2624bc6a-4a4d-11eb-8b7c-0e6968d78889"
	DefaultHighCategory       = "0467e0de-4a4d-11eb-9453-0e4e6fcf2865"
	DefaultPrivilegedCategory = "51524056-4a4d-11eb-814b-0e7b734c1fd5"
)

// ErrInvalidPolicy is returned for tier tables that are empty, overlapping or
// reference malformed category ids.
var ErrInvalidPolicy = errors.New("invalid tier policy")

// Tier is one band of the policy. Min is the inclusive lower bound; the
// lowest band is unbounded below regardless of its Min.
type Tier struct {
	Name     string `koanf:"name"`
	Category string `koanf:"category"`
	Min      int    `koanf:"min"`
}

// Policy is a static tier table. Bands are contiguous by construction: each
// band ends right before the next band's Min.
type Policy struct {
	bands      []Tier
	privileged Tier
}

// Option applies a configuration option to a Policy.
type Option func(*Policy)

// WithBands replaces the score bands.
func WithBands(bands ...Tier) Option {
	return func(p *Policy) {
		p.bands = append([]Tier(nil), bands...)
	}
}

// WithPrivilegedTier sets the override tier for moderators and couriers.
func WithPrivilegedTier(t Tier) Option {
	return func(p *Policy) {
		p.privileged = t
	}
}

// NewPolicy builds a validated policy. Without options it reproduces the
// destination community's published bands.
func NewPolicy(opts ...Option) (*Policy, error) {
	p := &Policy{
		bands: []Tier{
			{Name: "low", Category: DefaultLowCategory, Min: math.MinInt},
			{Name: "middle", Category: DefaultMiddleCategory, Min: 49},
			{Name: "high", Category: DefaultHighCategory, Min: 99},
		},
		privileged: Tier{Name: "privileged", Category: DefaultPrivilegedCategory},
	}
	for _, opt := range opts {
		opt(p)
	}

	if len(p.bands) == 0 {
		return nil, fmt.Errorf("%w: no bands", ErrInvalidPolicy)
	}
	sort.SliceStable(p.bands, func(i, j int) bool { return p.bands[i].Min < p.bands[j].Min })
	for i := 1; i < len(p.bands); i++ {
		if p.bands[i].Min == p.bands[i-1].Min {
			return nil, fmt.Errorf("%w: bands %q and %q share lower bound %d",
				ErrInvalidPolicy, p.bands[i-1].Name, p.bands[i].Name, p.bands[i].Min)
		}
	}
	p.bands[0].Min = math.MinInt

	for _, t := range append([]Tier{p.privileged}, p.bands...) {
		if _, err := uuid.Parse(t.Category); err != nil {
			return nil, fmt.Errorf("%w: tier %q category %q: %v", ErrInvalidPolicy, t.Name, t.Category, err)
		}
	}
	return p, nil
}

// MustPolicy is NewPolicy for static tables known to be valid.
func MustPolicy(opts ...Option) *Policy {
	p, err := NewPolicy(opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Assign returns the tier for score. Privileged users always map to the
// privileged tier.
func (p *Policy) Assign(score int, privileged bool) Tier {
	if privileged {
		return p.privileged
	}
	tier := p.bands[0]
	for _, b := range p.bands[1:] {
		if score < b.Min {
			break
		}
		tier = b
	}
	return tier
}

// Bands returns a copy of the score bands in ascending order.
func (p *Policy) Bands() []Tier {
	return append([]Tier(nil), p.bands...)
}

// Combine adds the source contribution to the destination's existing score.
// Both are non-negative; the sum saturates at math.MaxInt.
func Combine(source, destination int) int {
	if source > math.MaxInt-destination {
		return math.MaxInt
	}
	return source + destination
}
