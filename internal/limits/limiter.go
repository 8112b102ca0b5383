// Package limits implements stake limits for open trades that account for
// correlation between pairs.
//
// A user holding BTC/USDT and BTC/USDC positions carries the same directional
// risk twice. Pairs sharing a base asset are treated as one correlated group
// and their open stake is capped in aggregate.
package limits

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerTradeLimitExceeded is returned when a single stake is above the
	// per-trade maximum.
	ErrPerTradeLimitExceeded = errors.New("limits: per-trade stake limit exceeded")

	// ErrPerPairLimitExceeded is returned when a trade would push the open
	// stake on one pair beyond the per-pair maximum.
	ErrPerPairLimitExceeded = errors.New("limits: per-pair exposure limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a trade would push the
	// aggregate open stake across pairs with the same base asset beyond the
	// correlated maximum.
	ErrCorrelatedLimitExceeded = errors.New("limits: correlated exposure limit exceeded")
)

// Limiter enforces exposure limits. A zero limit disables that check.
type Limiter struct {
	// MaxPerTrade caps the stake of a single trade.
	MaxPerTrade decimal.Decimal

	// MaxPerPair caps the summed stake of pending trades on one pair.
	MaxPerPair decimal.Decimal

	// MaxCorrelated caps the summed stake of pending trades across all
	// pairs sharing the target's base asset.
	MaxCorrelated decimal.Decimal
}

// NewLimiter creates a limiter with the given limits.
func NewLimiter(maxPerTrade, maxPerPair, maxCorrelated decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPerTrade:   maxPerTrade,
		MaxPerPair:    maxPerPair,
		MaxCorrelated: maxCorrelated,
	}
}

// CheckLimit validates whether opening a trade respects the limits.
//
// Parameters:
//   - targetPair: canonical pair (BASE/QUOTE) of the new trade
//   - stake: amount of the new trade
//   - existing: canonical pair → open stake for this user
//
// Returns nil if the trade is within limits, or the violated limit.
func (l *Limiter) CheckLimit(targetPair string, stake decimal.Decimal, existing map[string]decimal.Decimal) error {
	// 1. Per-trade limit.
	if l.MaxPerTrade.IsPositive() && stake.GreaterThan(l.MaxPerTrade) {
		return ErrPerTradeLimitExceeded
	}

	// 2. Per-pair limit.
	newExposure := existing[targetPair].Add(stake)
	if l.MaxPerPair.IsPositive() && newExposure.GreaterThan(l.MaxPerPair) {
		return ErrPerPairLimitExceeded
	}

	// 3. Correlated exposure: sum across pairs sharing the base asset.
	if !l.MaxCorrelated.IsPositive() {
		return nil
	}
	base := baseAsset(targetPair)
	total := newExposure
	for p, exposure := range existing {
		if p == targetPair {
			continue // already counted via newExposure above
		}
		if baseAsset(p) == base {
			total = total.Add(exposure)
		}
	}
	if total.GreaterThan(l.MaxCorrelated) {
		return ErrCorrelatedLimitExceeded
	}
	return nil
}

// baseAsset returns the part of a canonical pair before the slash.
func baseAsset(pair string) string {
	if i := strings.IndexByte(pair, '/'); i >= 0 {
		return pair[:i]
	}
	return pair
}
