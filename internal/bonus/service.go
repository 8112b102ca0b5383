package bonus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/metrics"
	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
	"github.com/pawanbishnoiii/vk1-sub001/internal/store"
)

var (
	ErrOfferNotFound    = errors.New("offer not found")
	ErrBonusNotFound    = errors.New("bonus not found")
	ErrDepositNotFound  = errors.New("deposit not found")
	ErrDepositRequired  = errors.New("offer requires a deposit")
	ErrDepositNotUsable = errors.New("offer does not take a deposit")
	ErrNotFirstDeposit  = errors.New("offer only applies to the first deposit")
	ErrBelowMinimum     = errors.New("amount is below the offer minimum")
	ErrNothingToClaim   = errors.New("offer yields no bonus for this amount")
	ErrNotSpinOffer     = errors.New("offer is not a daily spin")
	ErrIsSpinOffer      = errors.New("daily spin offers are claimed by spinning")
)

// SpinResult is the outcome of one spin.
type SpinResult struct {
	Prize      model.SpinPrize `json:"prize"`
	PrizeIndex int             `json:"prizeIndex"`
	SpinID     string          `json:"spinId"`
	NewBalance decimal.Decimal `json:"newBalance"`
	NextSpinAt time.Time       `json:"nextSpinAt"`
}

// SpinStatus tells a client whether the wheel is open.
type SpinStatus struct {
	CanSpin    bool             `json:"canSpin"`
	NextSpinAt *time.Time       `json:"nextSpinAt,omitempty"`
	LastSpin   *model.DailySpin `json:"lastSpin,omitempty"`
}

// Service runs claims and spins. Amounts and prizes are always computed
// here; clients only name the offer.
type Service struct {
	store store.Store

	// Rand returns a uniform value in [0,1) for prize selection.
	Rand func() float64
	Now  func() time.Time
}

// NewService creates a bonus service.
func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		Rand:  rand.Float64,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Claim credits the bonus for offerID. Deposit offers are computed from
// the stored amount of depositID, which must be one of userID's deposits
// that has not backed a claim yet. Trade bonuses take no deposit and pay
// only their flat amount.
func (s *Service) Claim(ctx context.Context, userID, offerID, depositID string) (*store.BonusClaimResult, error) {
	offer, err := s.offer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.Type == model.OfferDailySpin {
		return nil, ErrIsSpinOffer
	}

	depositAmount := decimal.Zero
	switch {
	case offer.Type == model.OfferTrade && depositID != "":
		return nil, ErrDepositNotUsable
	case offer.Type != model.OfferTrade:
		if depositID == "" {
			return nil, ErrDepositRequired
		}
		dep, err := s.deposit(ctx, userID, depositID, offer.Type == model.OfferFirstDeposit)
		if err != nil {
			return nil, err
		}
		depositAmount = dep.Amount
	}
	if offer.MinAmount.Valid && depositAmount.LessThan(offer.MinAmount.Decimal) {
		return nil, fmt.Errorf("%w (%s)", ErrBelowMinimum, offer.MinAmount.Decimal.StringFixed(2))
	}

	amount := CalculateBonus(depositAmount, offer)
	if !amount.IsPositive() {
		return nil, ErrNothingToClaim
	}

	now := s.Now()
	res, err := s.store.ClaimBonus(ctx, &store.BonusClaimRequest{
		UserID:      userID,
		OfferID:     offerID,
		DepositID:   depositID,
		BonusAmount: amount,
		Now:         now,
	})
	if err != nil {
		return nil, err
	}

	metrics.BonusClaims.WithLabelValues(offer.Type).Inc()
	slog.Info("bonus claimed",
		"user_id", userID,
		"offer_id", offerID,
		"bonus_id", res.UserBonus.ID,
		"deposit_id", depositID,
		"amount", amount.String(),
		"wagering_required", res.UserBonus.WageringRequired.String(),
	)

	s.notify(ctx, userID, "Bonus credited",
		fmt.Sprintf("%s: %s has been added to your wallet.", offer.Title, amount.StringFixed(2)), now)
	return res, nil
}

// Spin picks a prize from the offer's weighted table and credits it.
func (s *Service) Spin(ctx context.Context, userID, offerID string) (*SpinResult, error) {
	offer, err := s.offer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.Type != model.OfferDailySpin {
		return nil, ErrNotSpinOffer
	}

	now := s.Now()
	if !offer.ValidAt(now) {
		return nil, store.ErrOfferUnavailable
	}
	cooldown := SpinCooldown(offer)
	last, err := s.store.LastSpin(ctx, userID, offerID)
	if err != nil {
		return nil, fmt.Errorf("load last spin: %w", err)
	}
	if !CanSpin(last, cooldown, now) {
		return nil, store.ErrSpinCooldown
	}

	idx, err := PickPrize(offer.SpinPrizes, s.Rand())
	if err != nil {
		return nil, err
	}
	prize := offer.SpinPrizes[idx]

	// The store re-checks the cooldown under lock.
	res, err := s.store.ClaimSpinPrize(ctx, &store.SpinClaimRequest{
		UserID:   userID,
		OfferID:  offerID,
		Prize:    prize,
		Index:    idx,
		Cooldown: cooldown,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}

	metrics.SpinsTotal.Inc()
	slog.Info("daily spin", "user_id", userID, "offer_id", offerID, "prize", prize.Label, "amount", prize.Amount.String())

	if prize.Amount.IsPositive() {
		s.notify(ctx, userID, "Spin prize",
			fmt.Sprintf("You won %s on the daily spin!", prize.Label), now)
	}

	return &SpinResult{
		Prize:      prize,
		PrizeIndex: idx,
		SpinID:     res.Spin.ID,
		NewBalance: res.NewBalance,
		NextSpinAt: now.Add(cooldown),
	}, nil
}

// SpinStatus reports whether userID may spin offerID now.
func (s *Service) SpinStatus(ctx context.Context, userID, offerID string) (*SpinStatus, error) {
	offer, err := s.offer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.Type != model.OfferDailySpin {
		return nil, ErrNotSpinOffer
	}

	last, err := s.store.LastSpin(ctx, userID, offerID)
	if err != nil {
		return nil, fmt.Errorf("load last spin: %w", err)
	}
	now := s.Now()
	cooldown := SpinCooldown(offer)
	st := &SpinStatus{
		CanSpin:  offer.ValidAt(now) && CanSpin(last, cooldown, now),
		LastSpin: last,
	}
	if next := NextSpinAt(last, cooldown, now); !next.IsZero() {
		st.NextSpinAt = &next
	}
	return st, nil
}

// ExpireBonuses marks every active bonus past its expiry as expired.
func (s *Service) ExpireBonuses(ctx context.Context) (int, error) {
	n, err := s.store.ExpireBonuses(ctx, s.Now())
	if err != nil {
		return 0, fmt.Errorf("expire bonuses: %w", err)
	}
	if n > 0 {
		slog.Info("bonuses expired", "count", n)
	}
	return n, nil
}

// Cancel moves an active bonus to cancelled.
func (s *Service) Cancel(ctx context.Context, bonusID string) error {
	err := s.store.CancelBonus(ctx, bonusID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrBonusNotFound
	}
	if err != nil {
		return err
	}
	slog.Info("bonus cancelled", "bonus_id", bonusID)
	return nil
}

// CancelOwn cancels one of userID's active bonuses.
func (s *Service) CancelOwn(ctx context.Context, userID, bonusID string) error {
	bonuses, err := s.store.ListUserBonuses(ctx, userID)
	if err != nil {
		return err
	}
	for _, b := range bonuses {
		if b.ID == bonusID {
			return s.Cancel(ctx, bonusID)
		}
	}
	return ErrBonusNotFound
}

// MarkAnimationShown records that the claim animation was played.
func (s *Service) MarkAnimationShown(ctx context.Context, userID, bonusID string) error {
	err := s.store.MarkBonusAnimationShown(ctx, userID, bonusID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrBonusNotFound
	}
	return err
}

// Offers lists offers; activeOnly keeps only those claimable now.
func (s *Service) Offers(ctx context.Context, activeOnly bool) ([]model.Offer, error) {
	offers, err := s.store.ListOffers(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	if activeOnly {
		return ActiveOffers(offers, s.Now()), nil
	}
	return offers, nil
}

// UserBonuses lists the bonuses claimed by userID.
func (s *Service) UserBonuses(ctx context.Context, userID string) ([]model.UserBonus, error) {
	bonuses, err := s.store.ListUserBonuses(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bonuses == nil {
		bonuses = []model.UserBonus{}
	}
	return bonuses, nil
}

// Deposits lists userID's deposits, oldest first.
func (s *Service) Deposits(ctx context.Context, userID string) ([]model.Deposit, error) {
	deps, err := s.store.ListDeposits(ctx, userID)
	if err != nil {
		return nil, err
	}
	if deps == nil {
		deps = []model.Deposit{}
	}
	return deps, nil
}

func (s *Service) offer(ctx context.Context, offerID string) (*model.Offer, error) {
	if offerID == "" {
		return nil, ErrOfferNotFound
	}
	o, err := s.store.GetOffer(ctx, offerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load offer: %w", err)
	}
	return o, nil
}

// deposit loads one of userID's unclaimed deposits. With first set it must
// also be the user's earliest deposit. The store re-checks the claim under
// lock.
func (s *Service) deposit(ctx context.Context, userID, depositID string, first bool) (*model.Deposit, error) {
	dep, err := s.store.GetDeposit(ctx, depositID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDepositNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load deposit: %w", err)
	}
	if dep.UserID != userID {
		return nil, ErrDepositNotFound
	}
	if dep.Claimed() {
		return nil, store.ErrDepositClaimed
	}
	if first {
		deps, err := s.store.ListDeposits(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list deposits: %w", err)
		}
		if len(deps) == 0 || deps[0].ID != dep.ID {
			return nil, ErrNotFirstDeposit
		}
	}
	return dep, nil
}

func (s *Service) notify(ctx context.Context, userID, title, msg string, now time.Time) {
	n := &model.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      model.NotificationBonus,
		Title:     title,
		Message:   msg,
		CreatedAt: now,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		slog.Warn("bonus notification failed", "user_id", userID, "err", err)
	}
}
