// Package bonus implements the offer engine: bonus calculation, claim
// eligibility, the daily spin wheel, wagering and expiry.
package bonus

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
)

// DefaultSpinCooldown applies to spin offers without an explicit cooldown.
const DefaultSpinCooldown = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// ErrNoPrizes is returned when a spin offer has no prize with positive weight.
var ErrNoPrizes = errors.New("bonus: offer has no spin prizes")

// CalculateBonus returns amount × bonus_percentage/100 plus the flat
// bonus_amount, capped at max_amount when the offer sets one.
func CalculateBonus(amount decimal.Decimal, o *model.Offer) decimal.Decimal {
	bonus := decimal.Zero
	if amount.IsPositive() && o.BonusPercentage.IsPositive() {
		bonus = amount.Mul(o.BonusPercentage).Div(hundred)
	}
	if o.BonusAmount.IsPositive() {
		bonus = bonus.Add(o.BonusAmount)
	}
	if o.MaxAmount.Valid && bonus.GreaterThan(o.MaxAmount.Decimal) {
		bonus = o.MaxAmount.Decimal
	}
	return bonus
}

// HasClaimedOffer reports whether any of the user's bonuses came from offerID.
func HasClaimedOffer(bonuses []model.UserBonus, offerID string) bool {
	for _, b := range bonuses {
		if b.OfferID == offerID {
			return true
		}
	}
	return false
}

// FirstDepositOffer returns the first active first-deposit offer.
func FirstDepositOffer(offers []model.Offer) (model.Offer, bool) {
	for _, o := range offers {
		if o.Type == model.OfferFirstDeposit && o.IsActive {
			return o, true
		}
	}
	return model.Offer{}, false
}

// OffersByType returns the offers of one type, in input order.
func OffersByType(offers []model.Offer, offerType string) []model.Offer {
	out := []model.Offer{}
	for _, o := range offers {
		if o.Type == offerType {
			out = append(out, o)
		}
	}
	return out
}

// ActiveOffers returns the offers claimable at now.
func ActiveOffers(offers []model.Offer, now time.Time) []model.Offer {
	out := []model.Offer{}
	for i := range offers {
		if offers[i].ValidAt(now) {
			out = append(out, offers[i])
		}
	}
	return out
}

// SpinCooldown returns the offer's cooldown between spins.
func SpinCooldown(o *model.Offer) time.Duration {
	if o.SpinCooldownHours <= 0 {
		return DefaultSpinCooldown
	}
	return time.Duration(o.SpinCooldownHours) * time.Hour
}

// CanSpin reports whether a user may spin again: always when there is no
// prior spin, otherwise once cooldown has passed since it.
func CanSpin(last *model.DailySpin, cooldown time.Duration, now time.Time) bool {
	if last == nil {
		return true
	}
	return !now.Before(last.SpunAt.Add(cooldown))
}

// NextSpinAt is when the next spin opens; zero when one is open already.
func NextSpinAt(last *model.DailySpin, cooldown time.Duration, now time.Time) time.Time {
	if CanSpin(last, cooldown, now) {
		return time.Time{}
	}
	return last.SpunAt.Add(cooldown)
}

// PickPrize selects a prize index by weight. roll is uniform in [0,1).
// Prizes with a non-positive weight are never picked.
func PickPrize(prizes []model.SpinPrize, roll float64) (int, error) {
	total := 0
	for _, p := range prizes {
		if p.Weight > 0 {
			total += p.Weight
		}
	}
	if total == 0 {
		return 0, ErrNoPrizes
	}

	if roll < 0 {
		roll = 0
	}
	target := int(roll * float64(total))
	if target >= total {
		target = total - 1
	}
	for i, p := range prizes {
		if p.Weight <= 0 {
			continue
		}
		if target < p.Weight {
			return i, nil
		}
		target -= p.Weight
	}
	return 0, ErrNoPrizes // unreachable with total > 0
}
