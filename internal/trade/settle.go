package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/mailer"
	"github.com/pawanbishnoiii/vk1-sub001/internal/metrics"
	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
	"github.com/pawanbishnoiii/vk1-sub001/internal/pricefeed"
	"github.com/pawanbishnoiii/vk1-sub001/internal/store"
)

var (
	ErrValidation     = errors.New("tradeId and userId are required")
	ErrTradeNotFound  = errors.New("trade not found")
	ErrWalletNotFound = errors.New("wallet not found")
)

var (
	hundred   = decimal.NewFromInt(100)
	exitUp    = decimal.RequireFromString("1.01")
	exitDown  = decimal.RequireFromString("0.99")
	mailAfter = 15 * time.Second
)

// ResultState tells which of the three settlement answers a Result carries.
type ResultState int

const (
	// Settled: this call resolved the trade.
	Settled ResultState = iota
	// AlreadyProcessed: the trade was resolved earlier; nothing changed.
	AlreadyProcessed
	// StillActive: the trade has not expired yet; nothing changed.
	StillActive
)

// Result is the outcome of one settlement attempt.
type Result struct {
	State      ResultState
	TradeID    string
	Status     string
	Won        bool
	ProfitLoss decimal.Decimal
	ExitPrice  decimal.Decimal
	NewBalance decimal.Decimal
	Remaining  int // whole seconds, rounded up
	EndTime    time.Time
}

// ProcessedResponse is returned for a trade that was already resolved.
type ProcessedResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ActiveResponse is returned for a trade whose timer is still running.
type ActiveResponse struct {
	Message   string    `json:"message"`
	Remaining int       `json:"remaining"`
	EndTime   time.Time `json:"endTime"`
}

// SettledResponse is returned when the call resolved the trade.
type SettledResponse struct {
	Success    bool            `json:"success"`
	Won        bool            `json:"won"`
	ProfitLoss decimal.Decimal `json:"profitLoss"`
	NewBalance decimal.Decimal `json:"newBalance"`
	TradeID    string          `json:"tradeId"`
}

// Response returns the JSON body for r.
func (r *Result) Response() any {
	switch r.State {
	case AlreadyProcessed:
		return ProcessedResponse{Message: "Trade already processed", Status: r.Status}
	case StillActive:
		return ActiveResponse{Message: "Trade still active", Remaining: r.Remaining, EndTime: r.EndTime}
	default:
		return SettledResponse{
			Success:    true,
			Won:        r.Won,
			ProfitLoss: r.ProfitLoss,
			NewBalance: r.NewBalance,
			TradeID:    r.TradeID,
		}
	}
}

// SettledEvent is pushed to the owner's WebSocket connections.
type SettledEvent struct {
	TradeID    string          `json:"tradeId"`
	Pair       string          `json:"pair"`
	Status     string          `json:"status"`
	ProfitLoss decimal.Decimal `json:"profitLoss"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

// Mailer sends a templated email to a user.
type Mailer interface {
	Send(ctx context.Context, userID, emailType string, data map[string]any) error
}

// Broadcaster pushes messages to WebSocket clients.
type Broadcaster interface {
	Broadcast(msg pricefeed.Message)
	SendToUser(userID string, msg pricefeed.Message)
}

// Settler resolves expired trades. The write path is a single
// Store.ApplySettlement call; everything after it is best-effort.
type Settler struct {
	store store.Store
	mail  Mailer      // optional
	hub   Broadcaster // optional

	// Rand returns a uniform value in [0,100). Replaced in tests.
	Rand func() float64
	// Now is the settlement clock.
	Now func() time.Time

	wg sync.WaitGroup
}

// NewSettler creates a settler. mail and hub may be nil.
func NewSettler(st store.Store, mail Mailer, hub Broadcaster) *Settler {
	return &Settler{
		store: st,
		mail:  mail,
		hub:   hub,
		Rand:  func() float64 { return rand.Float64() * 100 },
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Wait blocks until background emails have finished.
func (s *Settler) Wait() {
	s.wg.Wait()
}

// Settle resolves tradeID for userID if its timer has run out and it is
// still pending. Calling it again on a resolved trade changes nothing.
func (s *Settler) Settle(ctx context.Context, tradeID, userID string) (*Result, error) {
	if tradeID == "" || userID == "" {
		return nil, ErrValidation
	}

	t, err := s.store.GetTrade(ctx, tradeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load trade: %w", err)
	}
	if t.UserID != userID {
		return nil, ErrTradeNotFound
	}

	if t.Status != model.TradeStatusPending {
		return &Result{State: AlreadyProcessed, TradeID: t.ID, Status: t.Status}, nil
	}

	now := s.Now()
	end := t.ExpiresAt()
	if now.Before(end) {
		return &Result{
			State:     StillActive,
			TradeID:   t.ID,
			Status:    t.Status,
			Remaining: int(math.Ceil(end.Sub(now).Seconds())),
			EndTime:   end,
		}, nil
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	start := time.Now()
	won := s.decide(t, settings.WinRate)
	pct := settings.ProfitPercentage
	if t.ProfitPercentage.Valid && t.ProfitPercentage.Decimal.IsPositive() {
		pct = t.ProfitPercentage.Decimal
	}
	pl := ProfitLoss(t.Amount, won, pct, settings.LossPercentage)
	exit := SyntheticExitPrice(t.EntryPrice, t.TradeType, won)

	st := buildSettlement(t, won, pl, exit, now)
	w, err := s.store.ApplySettlement(ctx, st)

	var already *store.AlreadySettledError
	switch {
	case errors.As(err, &already):
		// Lost the race to a concurrent settlement.
		return &Result{State: AlreadyProcessed, TradeID: t.ID, Status: already.Status}, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrWalletNotFound
	case err != nil:
		metrics.SettlementErrors.Inc()
		return nil, fmt.Errorf("apply settlement: %w", err)
	}

	metrics.TradesSettled.WithLabelValues(st.Status).Inc()
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())

	slog.Info("trade settled",
		"trade_id", t.ID,
		"user_id", t.UserID,
		"pair", t.Pair,
		"status", st.Status,
		"profit_loss", pl.String(),
		"new_balance", w.Balance.String(),
		"forced", t.ExpectedResult != "",
	)

	res := &Result{
		State:      Settled,
		TradeID:    t.ID,
		Status:     st.Status,
		Won:        won,
		ProfitLoss: pl,
		ExitPrice:  exit,
		NewBalance: w.Balance,
	}
	s.afterSettle(ctx, t, res)
	return res, nil
}

// decide honours a forced outcome, otherwise draws against the win rate.
func (s *Settler) decide(t *model.Trade, winRate decimal.Decimal) bool {
	switch t.ExpectedResult {
	case model.ExpectedWin:
		return true
	case model.ExpectedLoss:
		return false
	}
	return decimal.NewFromFloat(s.Rand()).LessThan(winRate)
}

// afterSettle runs the side effects that must never fail a settlement.
func (s *Settler) afterSettle(ctx context.Context, t *model.Trade, res *Result) {
	completed, err := s.store.RecordWagering(ctx, t.UserID, t.Amount, s.Now())
	if err != nil {
		slog.Warn("record wagering failed", "trade_id", t.ID, "user_id", t.UserID, "err", err)
	}
	for _, b := range completed {
		n := &model.Notification{
			ID:        uuid.New().String(),
			UserID:    t.UserID,
			Type:      model.NotificationBonus,
			Title:     "Bonus unlocked",
			Message:   fmt.Sprintf("Wagering complete: %s bonus is now unlocked.", b.BonusAmount.StringFixed(2)),
			CreatedAt: s.Now(),
		}
		if err := s.store.CreateNotification(ctx, n); err != nil {
			slog.Warn("bonus unlock notification failed", "bonus_id", b.ID, "err", err)
		}
	}

	if s.hub != nil {
		s.hub.SendToUser(t.UserID, pricefeed.Message{
			Type: pricefeed.MsgTradeSettled,
			Data: SettledEvent{
				TradeID:    res.TradeID,
				Pair:       t.Pair,
				Status:     res.Status,
				ProfitLoss: res.ProfitLoss,
				ExitPrice:  res.ExitPrice,
				NewBalance: res.NewBalance,
			},
		})
	}

	if s.mail == nil {
		return
	}
	data := map[string]any{
		"won":        res.Won,
		"pair":       t.Pair,
		"tradeType":  strings.ToUpper(t.TradeType),
		"amount":     t.Amount.StringFixed(2),
		"profitLoss": signed(res.ProfitLoss),
		"newBalance": res.NewBalance.StringFixed(2),
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mailAfter)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		err := s.mail.Send(mctx, t.UserID, mailer.TypeTradeResult, data)
		switch {
		case err == nil:
		case errors.Is(err, mailer.ErrSMTPDisabled), errors.Is(err, mailer.ErrNoRecipient):
			slog.Debug("trade result email skipped", "trade_id", t.ID, "reason", err)
		default:
			slog.Warn("trade result email failed", "trade_id", t.ID, "err", err)
		}
	}()
}

// ProfitLoss returns amount × profitPct/100 on a win and
// −(amount × lossPct/100) on a loss.
func ProfitLoss(amount decimal.Decimal, won bool, profitPct, lossPct decimal.Decimal) decimal.Decimal {
	if won {
		return amount.Mul(profitPct).Div(hundred)
	}
	return amount.Mul(lossPct).Div(hundred).Neg()
}

// SyntheticExitPrice moves the entry price 1% in the direction that makes
// the recorded outcome consistent with the trade direction.
func SyntheticExitPrice(entry decimal.Decimal, tradeType string, won bool) decimal.Decimal {
	up := won
	if tradeType == model.TradeTypeSell {
		up = !won
	}
	if up {
		return entry.Mul(exitUp)
	}
	return entry.Mul(exitDown)
}

func buildSettlement(t *model.Trade, won bool, pl, exit decimal.Decimal, now time.Time) *store.Settlement {
	status, txType, title := model.TradeStatusLost, model.TxTradeLoss, "Trade lost"
	if won {
		status, txType, title = model.TradeStatusWon, model.TxTradeWin, "Trade won!"
	}
	verb := "lost"
	if won {
		verb = "won"
	}

	return &store.Settlement{
		TradeID:    t.ID,
		UserID:     t.UserID,
		Status:     status,
		ProfitLoss: pl,
		ExitPrice:  exit,
		SettledAt:  now,
		Transaction: model.Transaction{
			ID:          uuid.New().String(),
			Type:        txType,
			Description: fmt.Sprintf("%s trade on %s %s", strings.ToUpper(t.TradeType), t.Pair, verb),
		},
		Notification: model.Notification{
			ID:     uuid.New().String(),
			UserID: t.UserID,
			Type:   model.NotificationTradeResult,
			Title:  title,
			Message: fmt.Sprintf("Your %s trade on %s for %s %s (%s).",
				strings.ToUpper(t.TradeType), t.Pair, t.Amount.StringFixed(2), verb, signed(pl)),
			CreatedAt: now,
		},
	}
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}
