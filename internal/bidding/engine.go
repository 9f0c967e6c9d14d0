// Package bidding computes tiered bid increments and validates bid amounts.
// Every function is pure; results must match the auction service's own rules.
package bidding

import (
	"math"
	"sort"
)

// Tier maps a price lower bound (inclusive) to the increment applied from it.
type Tier struct {
	LowerBound float64 `mapstructure:"lower_bound" json:"lowerBound"`
	Increment  float64 `mapstructure:"increment" json:"increment"`
}

// DefaultTiers is the increment schedule used by the auction service.
var DefaultTiers = []Tier{
	{LowerBound: 0, Increment: 25},
	{LowerBound: 100, Increment: 50},
	{LowerBound: 500, Increment: 100},
	{LowerBound: 1000, Increment: 250},
	{LowerBound: 5000, Increment: 500},
	{LowerBound: 10000, Increment: 1000},
}

const (
	DefaultMaxProxyIterations = 100

	// Bids above DefaultImplausibleFactor x current price are treated as typos.
	DefaultImplausibleFactor = 10.0

	// Suggestion offered when a bid is rejected as implausible.
	DefaultImplausibleSuggestionFactor = 2.0

	suggestionCount = 5
)

type Engine struct {
	tiers                       []Tier
	maxProxyIterations          int
	implausibleFactor           float64
	implausibleSuggestionFactor float64
}

type Option func(*Engine)

// WithTiers replaces the increment schedule. Tiers are sorted by lower bound;
// an empty slice keeps the default schedule.
func WithTiers(tiers []Tier) Option {
	return func(e *Engine) {
		if len(tiers) == 0 {
			return
		}
		sorted := make([]Tier, len(tiers))
		copy(sorted, tiers)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].LowerBound < sorted[j].LowerBound })
		e.tiers = sorted
	}
}

func WithMaxProxyIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxProxyIterations = n
		}
	}
}

func WithImplausibleFactor(factor, suggestionFactor float64) Option {
	return func(e *Engine) {
		if factor > 0 && !math.IsInf(factor, 0) {
			e.implausibleFactor = factor
		}
		if suggestionFactor > 0 && !math.IsInf(suggestionFactor, 0) {
			e.implausibleSuggestionFactor = suggestionFactor
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		tiers:                       DefaultTiers,
		maxProxyIterations:          DefaultMaxProxyIterations,
		implausibleFactor:           DefaultImplausibleFactor,
		implausibleSuggestionFactor: DefaultImplausibleSuggestionFactor,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// Default returns the engine configured with the stock schedule and limits.
func Default() *Engine {
	return defaultEngine
}

func (e *Engine) Tiers() []Tier {
	out := make([]Tier, len(e.tiers))
	copy(out, e.tiers)
	return out
}

func (e *Engine) MaxProxyIterations() int {
	return e.maxProxyIterations
}

// CalculateIncrement returns the increment for the tier containing currentPrice.
// Negative and NaN prices fall into the first tier.
func (e *Engine) CalculateIncrement(currentPrice float64) float64 {
	increment := e.tiers[0].Increment
	if math.IsNaN(currentPrice) {
		return increment
	}
	for _, tier := range e.tiers {
		if currentPrice < tier.LowerBound {
			break
		}
		increment = tier.Increment
	}
	return increment
}

// CalculateMinimumBid is max(currentPrice + increment, minPreBid).
func (e *Engine) CalculateMinimumBid(currentPrice, minPreBid float64) float64 {
	next := currentPrice + e.CalculateIncrement(currentPrice)
	if minPreBid > next {
		return minPreBid
	}
	return next
}

// SuggestedBidAmounts returns the quick-pick ladder: the minimum bid followed by
// the minimum plus 2, 4, 6 and 8 increments. It is nil unless ValidPrices holds.
func (e *Engine) SuggestedBidAmounts(currentPrice, minPreBid float64) []float64 {
	if !ValidPrices(currentPrice, minPreBid) {
		return nil
	}
	minimum := e.CalculateMinimumBid(currentPrice, minPreBid)
	increment := e.CalculateIncrement(currentPrice)

	amounts := make([]float64, 0, suggestionCount)
	amounts = append(amounts, minimum)
	for i := 1; i < suggestionCount; i++ {
		amounts = append(amounts, minimum+float64(2*i)*increment)
	}
	return amounts
}

func CalculateIncrement(currentPrice float64) float64 {
	return defaultEngine.CalculateIncrement(currentPrice)
}

func CalculateMinimumBid(currentPrice, minPreBid float64) float64 {
	return defaultEngine.CalculateMinimumBid(currentPrice, minPreBid)
}

func SuggestedBidAmounts(currentPrice, minPreBid float64) []float64 {
	return defaultEngine.SuggestedBidAmounts(currentPrice, minPreBid)
}

// ValidPrices reports whether both prices are finite and not negative.
func ValidPrices(currentPrice, minPreBid float64) bool {
	return isFinite(currentPrice) && isFinite(minPreBid) && currentPrice >= 0 && minPreBid >= 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
