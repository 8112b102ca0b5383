package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A single mutex serialises every mutation, which gives the same
// all-or-nothing semantics the PostgreSQL transactions provide.
type MemoryStore struct {
	mu            sync.RWMutex
	trades        map[string]*model.Trade
	wallets       map[string]*model.Wallet
	ledger        []model.Transaction
	offers        map[string]*model.Offer
	bonuses       []model.UserBonus
	claims        []model.BonusClaim
	deposits      []model.Deposit
	spins         []model.DailySpin
	notifications []model.Notification
	settings      model.PlatformSettings
	profiles      map[string]*model.Profile
	channels      map[string]*model.SocialChannel
}

// NewMemoryStore creates a new in-memory store seeded with default settings.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades:   make(map[string]*model.Trade),
		wallets:  make(map[string]*model.Wallet),
		offers:   make(map[string]*model.Offer),
		settings: model.DefaultSettings(),
		profiles: make(map[string]*model.Profile),
		channels: make(map[string]*model.SocialChannel),
	}
}

// --- Trades ---

func (s *MemoryStore) OpenTrade(_ context.Context, t *model.Trade, check ExposureCheck) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trades[t.ID]; exists {
		return nil, fmt.Errorf("trade %s already exists", t.ID)
	}
	w, ok := s.wallets[t.UserID]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", t.UserID, ErrNotFound)
	}
	if check != nil {
		if err := check(s.exposureLocked(t.UserID)); err != nil {
			return nil, err
		}
	}
	if w.Available().LessThan(t.Amount) {
		return nil, ErrInsufficientBalance
	}

	w.LockedBalance = w.LockedBalance.Add(t.Amount)
	w.UpdatedAt = t.CreatedAt

	copy := *t
	s.trades[t.ID] = &copy

	wc := *w
	return &wc, nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	copy := *t
	return &copy, nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, userID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListDueTrades(_ context.Context, now time.Time, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.Status == model.TradeStatusPending && !t.ExpiresAt().After(now) {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt().Before(result[j].ExpiresAt())
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) OpenExposure(_ context.Context, userID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exposureLocked(userID), nil
}

func (s *MemoryStore) exposureLocked(userID string) map[string]decimal.Decimal {
	exposure := make(map[string]decimal.Decimal)
	for _, t := range s.trades {
		if t.UserID == userID && t.Status == model.TradeStatusPending {
			exposure[t.Pair] = exposure[t.Pair].Add(t.Amount)
		}
	}
	return exposure
}

func (s *MemoryStore) SetExpectedResult(_ context.Context, tradeID, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[tradeID]
	if !ok {
		return fmt.Errorf("trade %s: %w", tradeID, ErrNotFound)
	}
	if t.Status != model.TradeStatusPending {
		return ErrTradeNotPending
	}
	t.ExpectedResult = result
	return nil
}

func (s *MemoryStore) ApplySettlement(_ context.Context, st *Settlement) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[st.TradeID]
	if !ok {
		return nil, fmt.Errorf("trade %s: %w", st.TradeID, ErrNotFound)
	}
	if t.Status != model.TradeStatusPending {
		return nil, &AlreadySettledError{TradeID: t.ID, Status: t.Status}
	}
	w, ok := s.wallets[st.UserID]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", st.UserID, ErrNotFound)
	}

	// All checks passed; nothing below can fail.
	settledAt := st.SettledAt
	t.Status = st.Status
	t.ProfitLoss = decimal.NewNullDecimal(st.ProfitLoss)
	t.ExitPrice = decimal.NewNullDecimal(st.ExitPrice)
	t.SettledAt = &settledAt

	before, after := settleWallet(w, t.Amount, st.ProfitLoss, st.SettledAt)

	tx := st.Transaction
	tx.UserID = st.UserID
	tx.Amount = st.ProfitLoss
	tx.BalanceBefore = before
	tx.BalanceAfter = after
	tx.ReferenceID = st.TradeID
	tx.CreatedAt = st.SettledAt
	s.ledger = append(s.ledger, tx)

	s.notifications = append(s.notifications, st.Notification)

	wc := *w
	return &wc, nil
}

// --- Wallets & ledger ---

func (s *MemoryStore) CreateWallet(_ context.Context, w *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.wallets[w.UserID]; exists {
		return fmt.Errorf("wallet for user %s already exists", w.UserID)
	}
	copy := *w
	s.wallets[w.UserID] = &copy
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", userID, ErrNotFound)
	}
	copy := *w
	return &copy, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].UserID == userID {
			result = append(result, s.ledger[i])
			if limit > 0 && len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (s *MemoryStore) RecordDeposit(_ context.Context, d *model.Deposit) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.depositLocked(d.ID) >= 0 {
		return nil, fmt.Errorf("deposit %s already exists", d.ID)
	}
	w, ok := s.wallets[d.UserID]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", d.UserID, ErrNotFound)
	}

	before := w.Balance
	w.Balance = w.Balance.Add(d.Amount)
	w.UpdatedAt = d.CreatedAt

	dep := *d
	dep.BonusClaimID = ""
	s.deposits = append(s.deposits, dep)
	s.ledger = append(s.ledger, model.Transaction{
		ID:            uuid.New().String(),
		UserID:        d.UserID,
		Type:          model.TxDeposit,
		Amount:        d.Amount,
		BalanceBefore: before,
		BalanceAfter:  w.Balance,
		ReferenceID:   d.ID,
		Description:   depositDescription(d),
		CreatedAt:     d.CreatedAt,
	})

	wc := *w
	return &wc, nil
}

func (s *MemoryStore) GetDeposit(_ context.Context, id string) (*model.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.depositLocked(id)
	if i < 0 {
		return nil, fmt.Errorf("deposit %s: %w", id, ErrNotFound)
	}
	copy := s.deposits[i]
	return &copy, nil
}

func (s *MemoryStore) ListDeposits(_ context.Context, userID string) ([]model.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Deposit
	for _, d := range s.deposits {
		if d.UserID == userID {
			result = append(result, d)
		}
	}
	return result, nil
}

func (s *MemoryStore) depositLocked(id string) int {
	for i := range s.deposits {
		if s.deposits[i].ID == id {
			return i
		}
	}
	return -1
}

// --- Offers & bonuses ---

func (s *MemoryStore) CreateOffer(_ context.Context, o *model.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.offers[o.ID]; exists {
		return fmt.Errorf("offer %s already exists", o.ID)
	}
	copy := *o
	s.offers[o.ID] = &copy
	return nil
}

func (s *MemoryStore) GetOffer(_ context.Context, id string) (*model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", id, ErrNotFound)
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) ListOffers(_ context.Context, activeOnly bool) ([]model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offers := make([]model.Offer, 0, len(s.offers))
	for _, o := range s.offers {
		if activeOnly && !o.IsActive {
			continue
		}
		offers = append(offers, *o)
	}
	sort.Slice(offers, func(i, j int) bool {
		return offers[i].CreatedAt.Before(offers[j].CreatedAt)
	})
	return offers, nil
}

func (s *MemoryStore) SetOfferActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.offers[id]
	if !ok {
		return fmt.Errorf("offer %s: %w", id, ErrNotFound)
	}
	o.IsActive = active
	return nil
}

func (s *MemoryStore) ListUserBonuses(_ context.Context, userID string) ([]model.UserBonus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.UserBonus
	for _, b := range s.bonuses {
		if b.UserID == userID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *MemoryStore) ClaimBonus(_ context.Context, req *BonusClaimRequest) (*BonusClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[req.OfferID]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", req.OfferID, ErrNotFound)
	}
	if !offer.ValidAt(req.Now) {
		return nil, ErrOfferUnavailable
	}
	if offer.OneTimeOnly {
		for _, b := range s.bonuses {
			if b.UserID == req.UserID && b.OfferID == req.OfferID {
				return nil, ErrAlreadyClaimed
			}
		}
	}
	w, ok := s.wallets[req.UserID]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", req.UserID, ErrNotFound)
	}
	dep := -1
	depositAmount := decimal.Zero
	if req.DepositID != "" {
		dep = s.depositLocked(req.DepositID)
		if dep < 0 || s.deposits[dep].UserID != req.UserID {
			return nil, fmt.Errorf("deposit %s: %w", req.DepositID, ErrNotFound)
		}
		if s.deposits[dep].Claimed() {
			return nil, ErrDepositClaimed
		}
		depositAmount = s.deposits[dep].Amount
	}

	ub := newUserBonus(req, offer)
	claimID := uuid.New().String()
	s.bonuses = append(s.bonuses, ub)
	s.claims = append(s.claims, model.BonusClaim{
		ID:            claimID,
		UserID:        req.UserID,
		OfferID:       req.OfferID,
		UserBonusID:   ub.ID,
		DepositID:     req.DepositID,
		DepositAmount: depositAmount,
		BonusAmount:   req.BonusAmount,
		ClaimedAt:     req.Now,
	})
	if dep >= 0 {
		s.deposits[dep].BonusClaimID = claimID
	}

	before := w.Balance
	w.Balance = w.Balance.Add(req.BonusAmount)
	w.UpdatedAt = req.Now

	s.ledger = append(s.ledger, model.Transaction{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Type:          model.TxBonus,
		Amount:        req.BonusAmount,
		BalanceBefore: before,
		BalanceAfter:  w.Balance,
		ReferenceID:   ub.ID,
		Description:   offer.Title,
		CreatedAt:     req.Now,
	})

	return &BonusClaimResult{UserBonus: ub, Amount: req.BonusAmount, NewBalance: w.Balance}, nil
}

func (s *MemoryStore) RecordWagering(_ context.Context, userID string, volume decimal.Decimal, now time.Time) ([]model.UserBonus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Bonuses are appended in claim order, so this view is oldest first.
	var idx []int
	var view []model.UserBonus
	for i, b := range s.bonuses {
		if b.UserID == userID && b.Status == model.BonusActive {
			idx = append(idx, i)
			view = append(view, b)
		}
	}

	changed, completed := applyWagering(view, volume, now)
	for _, c := range changed {
		s.bonuses[idx[c]] = view[c]
	}

	var done []model.UserBonus
	for _, c := range completed {
		done = append(done, view[c])
	}
	return done, nil
}

func (s *MemoryStore) ExpireBonuses(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.bonuses {
		b := &s.bonuses[i]
		if b.Status == model.BonusActive && b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
			b.Status = model.BonusExpired
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CancelBonus(_ context.Context, bonusID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.bonuses {
		if s.bonuses[i].ID == bonusID {
			if s.bonuses[i].Status != model.BonusActive {
				return fmt.Errorf("active bonus %s: %w", bonusID, ErrNotFound)
			}
			s.bonuses[i].Status = model.BonusCancelled
			return nil
		}
	}
	return fmt.Errorf("bonus %s: %w", bonusID, ErrNotFound)
}

func (s *MemoryStore) MarkBonusAnimationShown(_ context.Context, userID, bonusID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.bonuses {
		if s.bonuses[i].ID == bonusID && s.bonuses[i].UserID == userID {
			s.bonuses[i].AnimationShown = true
			return nil
		}
	}
	return fmt.Errorf("bonus %s: %w", bonusID, ErrNotFound)
}

func (s *MemoryStore) LastSpin(_ context.Context, userID, offerID string) (*model.DailySpin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastSpinLocked(userID, offerID), nil
}

func (s *MemoryStore) lastSpinLocked(userID, offerID string) *model.DailySpin {
	var last *model.DailySpin
	for i := range s.spins {
		sp := s.spins[i]
		if sp.UserID != userID || sp.OfferID != offerID {
			continue
		}
		if last == nil || sp.SpunAt.After(last.SpunAt) {
			last = &sp
		}
	}
	return last
}

func (s *MemoryStore) ClaimSpinPrize(_ context.Context, req *SpinClaimRequest) (*SpinClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[req.OfferID]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", req.OfferID, ErrNotFound)
	}
	if !offer.ValidAt(req.Now) {
		return nil, ErrOfferUnavailable
	}
	if last := s.lastSpinLocked(req.UserID, req.OfferID); last != nil && req.Now.Before(last.SpunAt.Add(req.Cooldown)) {
		return nil, ErrSpinCooldown
	}
	w, ok := s.wallets[req.UserID]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", req.UserID, ErrNotFound)
	}

	spin := model.DailySpin{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		OfferID:     req.OfferID,
		PrizeLabel:  req.Prize.Label,
		PrizeAmount: req.Prize.Amount,
		PrizeIndex:  req.Index,
		SpunAt:      req.Now,
	}
	s.spins = append(s.spins, spin)

	if req.Prize.Amount.IsPositive() {
		before := w.Balance
		w.Balance = w.Balance.Add(req.Prize.Amount)
		w.UpdatedAt = req.Now
		s.ledger = append(s.ledger, model.Transaction{
			ID:            uuid.New().String(),
			UserID:        req.UserID,
			Type:          model.TxSpinPrize,
			Amount:        req.Prize.Amount,
			BalanceBefore: before,
			BalanceAfter:  w.Balance,
			ReferenceID:   spin.ID,
			Description:   req.Prize.Label,
			CreatedAt:     req.Now,
		})
	}

	return &SpinClaimResult{Spin: spin, NewBalance: w.Balance}, nil
}

// --- Notifications ---

func (s *MemoryStore) CreateNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].UserID == userID {
			result = append(result, s.notifications[i])
			if limit > 0 && len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, nt := range s.notifications {
		if nt.UserID == userID && !nt.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].UserID == userID {
			s.notifications[i].IsRead = true
			return nil
		}
	}
	return fmt.Errorf("notification %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].UserID == userID {
			s.notifications[i].IsRead = true
		}
	}
	return nil
}

// --- Platform ---

func (s *MemoryStore) GetSettings(_ context.Context) (*model.PlatformSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copy := s.settings
	return &copy, nil
}

func (s *MemoryStore) UpdateSettings(_ context.Context, ps *model.PlatformSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = *ps
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.profiles[p.UserID] = &copy
	return nil
}

func (s *MemoryStore) ListSocialChannels(_ context.Context, visibleOnly bool) ([]model.SocialChannel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]model.SocialChannel, 0, len(s.channels))
	for _, c := range s.channels {
		if visibleOnly && !c.IsVisible {
			continue
		}
		channels = append(channels, *c)
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].SortOrder != channels[j].SortOrder {
			return channels[i].SortOrder < channels[j].SortOrder
		}
		return channels[i].Name < channels[j].Name
	})
	return channels, nil
}

func (s *MemoryStore) UpsertSocialChannel(_ context.Context, c *model.SocialChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *c
	s.channels[c.ID] = &copy
	return nil
}

func (s *MemoryStore) SetSocialChannelVisible(_ context.Context, id string, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return fmt.Errorf("social channel %s: %w", id, ErrNotFound)
	}
	c.IsVisible = visible
	return nil
}
