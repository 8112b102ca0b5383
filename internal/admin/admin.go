// Package admin serves the operator API: platform settings, outcome
// overrides, offers, broadcast notifications, social channels and email.
// Every route is expected to sit behind auth.AdminOnly.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/bonus"
	"github.com/pawanbishnoiii/vk1-sub001/internal/httputil"
	"github.com/pawanbishnoiii/vk1-sub001/internal/mailer"
	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
	"github.com/pawanbishnoiii/vk1-sub001/internal/notify"
	"github.com/pawanbishnoiii/vk1-sub001/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Mailer sends one templated email.
type Mailer interface {
	Send(ctx context.Context, userID, emailType string, data map[string]any) error
}

// Handler holds the admin endpoints.
type Handler struct {
	store   store.Store
	bonuses *bonus.Service
	notes   *notify.Service
	mail    Mailer
	Now     func() time.Time
}

// NewHandler creates the admin handler.
func NewHandler(st store.Store, bonuses *bonus.Service, notes *notify.Service, mail Mailer) *Handler {
	return &Handler{
		store:   st,
		bonuses: bonuses,
		notes:   notes,
		mail:    mail,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Routes mounts the admin endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.UpdateSettings)
	r.Put("/trades/{tradeID}/override", h.OverrideTrade)
	r.Post("/offers", h.CreateOffer)
	r.Put("/offers/{offerID}/active", h.SetOfferActive)
	r.Post("/notifications", h.SendNotification)
	r.Post("/social-channels", h.UpsertSocialChannel)
	r.Put("/social-channels/{channelID}/visible", h.SetChannelVisible)
	r.Post("/emails", h.SendEmail)
	r.Post("/bonuses/{bonusID}/cancel", h.CancelBonus)
	r.Post("/deposits", h.RecordDeposit)
}

// --- Settings ---

// GetSettings handles GET /admin/settings. The SMTP password is never returned.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ps, err := h.store.GetSettings(r.Context())
	if err != nil {
		slog.Error("load settings", "err", err)
		httputil.WriteError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	ps.SMTP.Password = ""
	httputil.WriteJSON(w, http.StatusOK, ps)
}

// UpdateSettings handles PUT /admin/settings. The body is merged onto the
// stored settings, so omitted fields keep their values. An empty SMTP
// password keeps the stored one.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	current, err := h.store.GetSettings(r.Context())
	if err != nil {
		httputil.WriteError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	password := current.SMTP.Password

	req := *current
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SMTP.Password == "" {
		req.SMTP.Password = password
	}
	if msg := validateSettings(&req); msg != "" {
		httputil.WriteError(w, msg, http.StatusBadRequest)
		return
	}

	if err := h.store.UpdateSettings(r.Context(), &req); err != nil {
		slog.Error("update settings", "err", err)
		httputil.WriteError(w, "failed to update settings", http.StatusInternalServerError)
		return
	}

	slog.Info("platform settings updated",
		"win_rate", req.WinRate.String(),
		"profit_percentage", req.ProfitPercentage.String(),
		"loss_percentage", req.LossPercentage.String(),
		"smtp_enabled", req.SMTP.Enabled,
	)
	req.SMTP.Password = ""
	httputil.WriteJSON(w, http.StatusOK, req)
}

func validateSettings(ps *model.PlatformSettings) string {
	switch {
	case ps.WinRate.IsNegative() || ps.WinRate.GreaterThan(hundred):
		return "win_rate must be between 0 and 100"
	case !ps.ProfitPercentage.IsPositive():
		return "profit_percentage must be positive"
	case !ps.LossPercentage.IsPositive() || ps.LossPercentage.GreaterThan(hundred):
		return "loss_percentage must be above 0 and at most 100"
	case ps.SMTP.Enabled && (ps.SMTP.Host == "" || ps.SMTP.FromEmail == ""):
		return "smtp host and from_email are required when smtp is enabled"
	case ps.SMTP.Port < 0 || ps.SMTP.Port > 65535:
		return "smtp port out of range"
	}
	return ""
}

// --- Trades ---

// OverrideRequest pins the outcome of a pending trade.
type OverrideRequest struct {
	Result string `json:"result"`
}

// OverrideTrade handles PUT /admin/trades/{tradeID}/override.
func (h *Handler) OverrideTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	var req OverrideRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Result != model.ExpectedWin && req.Result != model.ExpectedLoss {
		httputil.WriteError(w, `result must be "win" or "loss"`, http.StatusBadRequest)
		return
	}

	err := h.store.SetExpectedResult(r.Context(), tradeID, req.Result)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.WriteError(w, "trade not found", http.StatusNotFound)
		return
	case errors.Is(err, store.ErrTradeNotPending):
		httputil.WriteError(w, "trade is already settled", http.StatusConflict)
		return
	case err != nil:
		slog.Error("override trade", "trade_id", tradeID, "err", err)
		httputil.WriteError(w, "failed to override trade", http.StatusInternalServerError)
		return
	}

	slog.Info("trade outcome overridden", "trade_id", tradeID, "result", req.Result)
	t, err := h.store.GetTrade(r.Context(), tradeID)
	if err != nil {
		httputil.WriteError(w, "failed to load trade", http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

// --- Offers ---

// OfferRequest is the body of POST /admin/offers. IsActive defaults to true.
type OfferRequest struct {
	model.Offer
	IsActive *bool `json:"is_active"`
}

// CreateOffer handles POST /admin/offers.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req OfferRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	o := req.Offer
	o.IsActive = req.IsActive == nil || *req.IsActive
	if msg := validateOffer(&o); msg != "" {
		httputil.WriteError(w, msg, http.StatusBadRequest)
		return
	}

	now := h.Now()
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.ValidFrom.IsZero() {
		o.ValidFrom = now
	}
	if o.Type == model.OfferDailySpin && o.SpinCooldownHours == 0 {
		o.SpinCooldownHours = int(bonus.DefaultSpinCooldown / time.Hour)
	}
	o.CreatedAt = now

	if err := h.store.CreateOffer(r.Context(), &o); err != nil {
		slog.Error("create offer", "offer_id", o.ID, "err", err)
		httputil.WriteError(w, "failed to create offer", http.StatusInternalServerError)
		return
	}
	slog.Info("offer created", "offer_id", o.ID, "type", o.Type, "active", o.IsActive)
	httputil.WriteJSON(w, http.StatusCreated, o)
}

func validateOffer(o *model.Offer) string {
	if strings.TrimSpace(o.Title) == "" {
		return "title is required"
	}
	switch o.Type {
	case model.OfferFirstDeposit, model.OfferDeposit, model.OfferTrade:
		if !o.BonusPercentage.IsPositive() && !o.BonusAmount.IsPositive() {
			return "bonus_percentage or bonus_amount must be positive"
		}
	case model.OfferDailySpin:
		total := 0
		for _, p := range o.SpinPrizes {
			if p.Weight < 0 || p.Amount.IsNegative() {
				return "spin prizes need non-negative amounts and weights"
			}
			total += p.Weight
		}
		if total == 0 {
			return "daily_spin offers need at least one weighted prize"
		}
	default:
		return "unknown offer type"
	}
	if o.BonusPercentage.IsNegative() || o.BonusAmount.IsNegative() || o.WageringMultiplier.IsNegative() {
		return "amounts must not be negative"
	}
	if o.MinAmount.Valid && o.MaxAmount.Valid && o.MaxAmount.Decimal.LessThan(o.MinAmount.Decimal) {
		return "max_amount must not be below min_amount"
	}
	if o.ValidUntil != nil && !o.ValidFrom.IsZero() && o.ValidUntil.Before(o.ValidFrom) {
		return "valid_until must be after valid_from"
	}
	if o.SpinCooldownHours < 0 || o.ExpiryDays < 0 {
		return "spin_cooldown_hours and expiry_days must not be negative"
	}
	return ""
}

// ActiveRequest toggles an offer.
type ActiveRequest struct {
	Active bool `json:"active"`
}

// SetOfferActive handles PUT /admin/offers/{offerID}/active.
func (h *Handler) SetOfferActive(w http.ResponseWriter, r *http.Request) {
	offerID := chi.URLParam(r, "offerID")

	var req ActiveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	err := h.store.SetOfferActive(r.Context(), offerID, req.Active)
	if errors.Is(err, store.ErrNotFound) {
		httputil.WriteError(w, "offer not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("toggle offer", "offer_id", offerID, "err", err)
		httputil.WriteError(w, "failed to update offer", http.StatusInternalServerError)
		return
	}
	slog.Info("offer toggled", "offer_id", offerID, "active", req.Active)
	w.WriteHeader(http.StatusNoContent)
}

// CancelBonus handles POST /admin/bonuses/{bonusID}/cancel.
func (h *Handler) CancelBonus(w http.ResponseWriter, r *http.Request) {
	if err := h.bonuses.Cancel(r.Context(), chi.URLParam(r, "bonusID")); err != nil {
		httputil.WriteError(w, err.Error(), bonus.StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Deposits ---

// DepositRequest is the body of POST /admin/deposits.
type DepositRequest struct {
	UserID    string          `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// DepositResponse carries the recorded deposit. Its id is what a deposit
// bonus claim names.
type DepositResponse struct {
	Deposit    model.Deposit   `json:"deposit"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

// RecordDeposit handles POST /admin/deposits: an approved deposit is
// credited, the user is notified and a deposit_approved email is attempted.
func (h *Handler) RecordDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" || !req.Amount.IsPositive() {
		httputil.WriteError(w, "userId and a positive amount are required", http.StatusBadRequest)
		return
	}

	dep := model.Deposit{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Amount:    req.Amount,
		Reference: strings.TrimSpace(req.Reference),
		CreatedAt: h.Now(),
	}
	wallet, err := h.store.RecordDeposit(r.Context(), &dep)
	if errors.Is(err, store.ErrNotFound) {
		httputil.WriteError(w, "wallet not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("record deposit", "user_id", req.UserID, "err", err)
		httputil.WriteError(w, "failed to record deposit", http.StatusInternalServerError)
		return
	}
	slog.Info("deposit recorded", "deposit_id", dep.ID, "user_id", dep.UserID, "amount", dep.Amount.String())

	amount := dep.Amount.StringFixed(2)
	if _, err := h.notes.Notify(r.Context(), dep.UserID, model.NotificationDeposit,
		"Deposit approved", "Your deposit of "+amount+" has been credited."); err != nil {
		slog.Warn("deposit notification failed", "deposit_id", dep.ID, "err", err)
	}
	err = h.mail.Send(r.Context(), dep.UserID, mailer.TypeDepositApproved, map[string]any{
		"amount":    amount,
		"reference": dep.Reference,
	})
	if err != nil && !errors.Is(err, mailer.ErrSMTPDisabled) {
		slog.Warn("deposit email failed", "deposit_id", dep.ID, "err", err)
	}

	httputil.WriteJSON(w, http.StatusCreated, DepositResponse{Deposit: dep, NewBalance: wallet.Balance})
}

// --- Notifications ---

// NotificationRequest targets one user or, with several ids, many.
type NotificationRequest struct {
	UserID  string   `json:"userId"`
	UserIDs []string `json:"userIds"`
	Type    string   `json:"type"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
}

// NotificationResponse reports how many notifications were created.
type NotificationResponse struct {
	Sent int `json:"sent"`
}

// SendNotification handles POST /admin/notifications.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	users := req.UserIDs
	if req.UserID != "" {
		users = append([]string{req.UserID}, users...)
	}
	if len(users) == 0 {
		httputil.WriteError(w, "userId or userIds is required", http.StatusBadRequest)
		return
	}

	sent := 0
	for _, userID := range users {
		if _, err := h.notes.Notify(r.Context(), userID, req.Type, req.Title, req.Message); err != nil {
			if sent == 0 {
				httputil.WriteError(w, err.Error(), http.StatusBadRequest)
				return
			}
			slog.Warn("notification skipped", "user_id", userID, "err", err)
			continue
		}
		sent++
	}
	httputil.WriteJSON(w, http.StatusCreated, NotificationResponse{Sent: sent})
}

// --- Social channels ---

// UpsertSocialChannel handles POST /admin/social-channels.
func (h *Handler) UpsertSocialChannel(w http.ResponseWriter, r *http.Request) {
	var c model.SocialChannel
	if err := httputil.DecodeJSON(r, &c); err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(c.Name) == "" || !strings.HasPrefix(c.URL, "https://") {
		httputil.WriteError(w, "name and an https url are required", http.StatusBadRequest)
		return
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if err := h.store.UpsertSocialChannel(r.Context(), &c); err != nil {
		slog.Error("upsert social channel", "channel_id", c.ID, "err", err)
		httputil.WriteError(w, "failed to save social channel", http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

// VisibleRequest toggles a social channel.
type VisibleRequest struct {
	Visible bool `json:"visible"`
}

// SetChannelVisible handles PUT /admin/social-channels/{channelID}/visible.
func (h *Handler) SetChannelVisible(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "channelID")

	var req VisibleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	err := h.store.SetSocialChannelVisible(r.Context(), id, req.Visible)
	if errors.Is(err, store.ErrNotFound) {
		httputil.WriteError(w, "social channel not found", http.StatusNotFound)
		return
	}
	if err != nil {
		httputil.WriteError(w, "failed to update social channel", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Email ---

// EmailRequest is the body of POST /admin/emails.
type EmailRequest struct {
	UserID    string         `json:"userId"`
	EmailType string         `json:"emailType"`
	Data      map[string]any `json:"data"`
}

// EmailResponse reports whether the email left the building. Delivered is
// false when SMTP is disabled.
type EmailResponse struct {
	Success   bool   `json:"success"`
	Delivered bool   `json:"delivered"`
	Message   string `json:"message,omitempty"`
}

// SendEmail handles POST /admin/emails.
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.EmailType == "" {
		httputil.WriteError(w, "userId and emailType are required", http.StatusBadRequest)
		return
	}

	err := h.mail.Send(r.Context(), req.UserID, req.EmailType, req.Data)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, EmailResponse{Success: true, Delivered: true})
	case errors.Is(err, mailer.ErrSMTPDisabled):
		httputil.WriteJSON(w, http.StatusOK, EmailResponse{Success: true, Message: "smtp is disabled"})
	case errors.Is(err, mailer.ErrUnknownType), errors.Is(err, mailer.ErrNoRecipient):
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		httputil.WriteError(w, "user profile not found", http.StatusNotFound)
	default:
		httputil.WriteError(w, err.Error(), http.StatusInternalServerError)
	}
}
