package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
)

// settleWallet applies a trade's profit/loss to the wallet and releases its
// stake from the locked balance (never below zero). Returns balances before
// and after.
func settleWallet(w *model.Wallet, stake, profitLoss decimal.Decimal, now time.Time) (before, after decimal.Decimal) {
	before = w.Balance
	after = w.Balance.Add(profitLoss)

	locked := w.LockedBalance.Sub(stake)
	if locked.IsNegative() {
		locked = decimal.Zero
	}

	w.Balance = after
	w.LockedBalance = locked
	w.UpdatedAt = now
	return before, after
}

// newUserBonus builds the bonus row for a claim. Offers without a wagering
// requirement unlock immediately.
func newUserBonus(req *BonusClaimRequest, offer *model.Offer) model.UserBonus {
	ub := model.UserBonus{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		OfferID:          offer.ID,
		BonusAmount:      req.BonusAmount,
		WageringRequired: req.BonusAmount.Mul(offer.WageringMultiplier),
		WageringProgress: decimal.Zero,
		Status:           model.BonusActive,
		IsCredited:       true,
		ClaimedAt:        req.Now,
	}

	if ub.WageringRequired.IsPositive() {
		ub.LockedAmount = req.BonusAmount
		ub.UnlockedAmount = decimal.Zero
	} else {
		now := req.Now
		ub.LockedAmount = decimal.Zero
		ub.UnlockedAmount = req.BonusAmount
		ub.Status = model.BonusCompleted
		ub.CompletedAt = &now
	}

	if offer.ExpiryDays > 0 {
		exp := req.Now.AddDate(0, 0, offer.ExpiryDays)
		ub.ExpiresAt = &exp
	}
	return ub
}

// applyWagering spreads volume over active bonuses in the given order
// (oldest first). Each bonus absorbs at most its remaining requirement.
// Returns the indexes of bonuses that changed and of those completed.
func applyWagering(bonuses []model.UserBonus, volume decimal.Decimal, now time.Time) (changed, completed []int) {
	remaining := volume
	for i := range bonuses {
		if !remaining.IsPositive() {
			break
		}
		b := &bonuses[i]
		if b.Status != model.BonusActive {
			continue
		}

		need := b.WageringRequired.Sub(b.WageringProgress)
		if !need.IsPositive() {
			continue
		}

		take := decimal.Min(need, remaining)
		b.WageringProgress = b.WageringProgress.Add(take)
		remaining = remaining.Sub(take)
		changed = append(changed, i)

		if b.WageringProgress.GreaterThanOrEqual(b.WageringRequired) {
			t := now
			b.Status = model.BonusCompleted
			b.UnlockedAmount = b.UnlockedAmount.Add(b.LockedAmount)
			b.LockedAmount = decimal.Zero
			b.CompletedAt = &t
			completed = append(completed, i)
		}
	}
	return changed, completed
}

func depositDescription(d *model.Deposit) string {
	if d.Reference != "" {
		return "Deposit " + d.Reference
	}
	return "Deposit"
}
