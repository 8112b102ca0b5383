// Package trade provides the HTTP handlers and business logic for opening
// timed binary trades, settling them and reading wallets and the ledger.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/auth"
	"github.com/pawanbishnoiii/vk1-sub001/internal/httputil"
	"github.com/pawanbishnoiii/vk1-sub001/internal/limits"
	"github.com/pawanbishnoiii/vk1-sub001/internal/metrics"
	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
	"github.com/pawanbishnoiii/vk1-sub001/internal/pair"
	"github.com/pawanbishnoiii/vk1-sub001/internal/pricefeed"
	"github.com/pawanbishnoiii/vk1-sub001/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// PriceSource provides the last traded price of a canonical pair.
type PriceSource interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// Options tunes trade opening.
type Options struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	Hub         Broadcaster // optional
}

// Service handles trade operations. Exposure limits are checked inside
// Store.OpenTrade under the wallet lock, so they hold across instances.
type Service struct {
	store   store.Store
	pairs   *pair.Set
	prices  PriceSource
	limiter *limits.Limiter
	settler *Settler
	opts    Options
}

// NewService creates a new trade service.
func NewService(st store.Store, pairs *pair.Set, prices PriceSource, limiter *limits.Limiter, settler *Settler, opts Options) *Service {
	return &Service{
		store:   st,
		pairs:   pairs,
		prices:  prices,
		limiter: limiter,
		settler: settler,
		opts:    opts,
	}
}

// --- Request/Response types ---

// OpenTradeRequest is the JSON body for POST /trades.
type OpenTradeRequest struct {
	Pair      string          `json:"pair"`      // BTC/USDT, btcusdt, ...
	TradeType string          `json:"tradeType"` // "buy" or "sell"
	Amount    decimal.Decimal `json:"amount"`
	Duration  int             `json:"duration"` // seconds
}

// SettleRequest is the JSON body for POST /trades/settle.
type SettleRequest struct {
	TradeID string `json:"tradeId"`
	UserID  string `json:"userId"`
}

// WalletResponse is the body of GET /wallet.
type WalletResponse struct {
	model.Wallet
	Available decimal.Decimal `json:"available"`
}

// --- HTTP Handlers ---

// OpenTrade handles POST /api/v1/trades
func (s *Service) OpenTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req OpenTradeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	p, err := s.pairs.Lookup(req.Pair)
	if err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tradeType := strings.ToLower(strings.TrimSpace(req.TradeType))
	if tradeType != model.TradeTypeBuy && tradeType != model.TradeTypeSell {
		httputil.WriteError(w, "tradeType must be buy or sell", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		httputil.WriteError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	duration := time.Duration(req.Duration) * time.Second
	if duration < s.opts.MinDuration || duration > s.opts.MaxDuration {
		httputil.WriteError(w, "duration must be between "+
			strconv.Itoa(int(s.opts.MinDuration.Seconds()))+" and "+
			strconv.Itoa(int(s.opts.MaxDuration.Seconds()))+" seconds", http.StatusBadRequest)
		return
	}

	entry, ok := s.prices.Price(p.String())
	if !ok {
		httputil.WriteError(w, "no live price for "+p.String(), http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		httputil.WriteError(w, "failed to load platform settings", http.StatusInternalServerError)
		return
	}

	now := s.settler.Now()
	t := &model.Trade{
		ID:               uuid.New().String(),
		UserID:           userID,
		Pair:             p.String(),
		TradeType:        tradeType,
		Amount:           req.Amount,
		EntryPrice:       entry,
		Duration:         req.Duration,
		TimerStartedAt:   now,
		Status:           model.TradeStatusPending,
		ProfitPercentage: decimal.NewNullDecimal(settings.ProfitPercentage),
		CreatedAt:        now,
	}
	end := now.Add(duration)
	t.EndTime = &end

	check := func(exposure map[string]decimal.Decimal) error {
		return s.limiter.CheckLimit(t.Pair, t.Amount, exposure)
	}
	wallet, err := s.store.OpenTrade(ctx, t, check)
	switch {
	case isLimitError(err):
		metrics.LimitRejections.WithLabelValues(limitLabel(err)).Inc()
		httputil.WriteError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, store.ErrInsufficientBalance):
		httputil.WriteError(w, "insufficient balance", http.StatusConflict)
		return
	case errors.Is(err, store.ErrNotFound):
		httputil.WriteError(w, "wallet not found", http.StatusNotFound)
		return
	case err != nil:
		httputil.WriteError(w, "failed to open trade", http.StatusInternalServerError)
		return
	}

	metrics.TradesOpened.WithLabelValues(t.Pair, t.TradeType).Inc()
	slog.Info("trade opened",
		"trade_id", t.ID,
		"user_id", userID,
		"pair", t.Pair,
		"type", t.TradeType,
		"amount", t.Amount.String(),
		"entry_price", entry.String(),
		"duration", t.Duration,
		"locked_balance", wallet.LockedBalance.String(),
	)

	if s.opts.Hub != nil {
		s.opts.Hub.SendToUser(userID, pricefeed.Message{Type: pricefeed.MsgTradeOpened, Data: t})
	}

	httputil.WriteJSON(w, http.StatusCreated, t)
}

// ListTrades handles GET /api/v1/trades
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	trades, err := s.store.ListTradesByUser(r.Context(), userID, listLimit(r))
	if err != nil {
		httputil.WriteError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	httputil.WriteJSON(w, http.StatusOK, trades)
}

// GetTrade handles GET /api/v1/trades/{tradeID}
func (s *Service) GetTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	t, err := s.store.GetTrade(r.Context(), chi.URLParam(r, "tradeID"))
	if err != nil || t.UserID != userID {
		httputil.WriteError(w, "trade not found", http.StatusNotFound)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

// GetWallet handles GET /api/v1/wallet
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	wallet, err := s.store.GetWallet(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		httputil.WriteError(w, "wallet not found", http.StatusNotFound)
		return
	}
	if err != nil {
		httputil.WriteError(w, "failed to load wallet", http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, WalletResponse{Wallet: *wallet, Available: wallet.Available()})
}

// ListTransactions handles GET /api/v1/transactions
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	txs, err := s.store.ListTransactions(r.Context(), userID, listLimit(r))
	if err != nil {
		httputil.WriteError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	httputil.WriteJSON(w, http.StatusOK, txs)
}

// Settle handles POST /api/v1/trades/settle
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req SettleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID != "" && req.UserID != caller {
		httputil.WriteError(w, "cannot settle another user's trade", http.StatusForbidden)
		return
	}

	res, err := s.settler.Settle(r.Context(), req.TradeID, req.UserID)
	switch {
	case errors.Is(err, ErrValidation):
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrTradeNotFound), errors.Is(err, ErrWalletNotFound):
		httputil.WriteError(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		slog.Error("settlement failed", "trade_id", req.TradeID, "err", err)
		httputil.WriteError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res.Response())
}

func listLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func limitLabel(err error) string {
	switch {
	case errors.Is(err, limits.ErrPerTradeLimitExceeded):
		return "per_trade"
	case errors.Is(err, limits.ErrPerPairLimitExceeded):
		return "per_pair"
	case errors.Is(err, limits.ErrCorrelatedLimitExceeded):
		return "correlated"
	default:
		return "unknown"
	}
}

func isLimitError(err error) bool {
	return errors.Is(err, limits.ErrPerTradeLimitExceeded) ||
		errors.Is(err, limits.ErrPerPairLimitExceeded) ||
		errors.Is(err, limits.ErrCorrelatedLimitExceeded)
}
