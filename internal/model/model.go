// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade statuses. A trade moves pending → won|lost exactly once.
const (
	TradeStatusPending = "pending"
	TradeStatusWon     = "won"
	TradeStatusLost    = "lost"
)

// Trade directions.
const (
	TradeTypeBuy  = "buy"
	TradeTypeSell = "sell"
)

// Forced outcomes an admin may pin on a pending trade.
const (
	ExpectedWin  = "win"
	ExpectedLoss = "loss"
)

// Trade is one timed binary position on a crypto pair.
type Trade struct {
	ID               string              `json:"id" db:"id"`
	UserID           string              `json:"user_id" db:"user_id"`
	Pair             string              `json:"pair" db:"pair"`
	TradeType        string              `json:"trade_type" db:"trade_type"` // "buy" or "sell"
	Amount           decimal.Decimal     `json:"amount" db:"amount"`
	EntryPrice       decimal.Decimal     `json:"entry_price" db:"entry_price"`
	ExitPrice        decimal.NullDecimal `json:"exit_price" db:"exit_price"`
	Duration         int                 `json:"duration" db:"duration"` // seconds
	TimerStartedAt   time.Time           `json:"timer_started_at" db:"timer_started_at"`
	EndTime          *time.Time          `json:"end_time,omitempty" db:"end_time"`
	Status           string              `json:"status" db:"status"`
	ExpectedResult   string              `json:"expected_result,omitempty" db:"expected_result"`
	ProfitLoss       decimal.NullDecimal `json:"profit_loss" db:"profit_loss"`
	ProfitPercentage decimal.NullDecimal `json:"profit_percentage" db:"profit_percentage"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
	SettledAt        *time.Time          `json:"settled_at,omitempty" db:"settled_at"`
}

// ExpiresAt returns the explicit end time if set, else timer start + duration.
func (t *Trade) ExpiresAt() time.Time {
	if t.EndTime != nil && !t.EndTime.IsZero() {
		return *t.EndTime
	}
	return t.TimerStartedAt.Add(time.Duration(t.Duration) * time.Second)
}

// Wallet holds a user's funds. LockedBalance is the stake reserved by open trades.
type Wallet struct {
	UserID        string          `json:"user_id" db:"user_id"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	LockedBalance decimal.Decimal `json:"locked_balance" db:"locked_balance"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Available is the balance not reserved by open trades.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.LockedBalance)
}

// Ledger transaction types.
const (
	TxTradeWin  = "trade_win"
	TxTradeLoss = "trade_loss"
	TxBonus     = "bonus"
	TxSpinPrize = "spin_prize"
	TxDeposit   = "deposit"
)

// Transaction is an immutable ledger entry. Once created it is never modified.
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Type          string          `json:"type" db:"type"`
	Amount        decimal.Decimal `json:"amount" db:"amount"` // signed
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	ReferenceID   string          `json:"reference_id" db:"reference_id"`
	Description   string          `json:"description" db:"description"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Offer types.
const (
	OfferFirstDeposit = "first_deposit"
	OfferDeposit      = "deposit_bonus"
	OfferTrade        = "trade_bonus"
	OfferDailySpin    = "daily_spin"
)

// SpinPrize is one slot of a daily-spin wheel.
type SpinPrize struct {
	Label  string          `json:"label" yaml:"label"`
	Amount decimal.Decimal `json:"amount" yaml:"amount"`
	Weight int             `json:"weight" yaml:"weight"`
}

// Offer is a bonus rule template.
type Offer struct {
	ID                 string              `json:"id" db:"id"`
	Title              string              `json:"title" db:"title"`
	Description        string              `json:"description" db:"description"`
	Type               string              `json:"type" db:"type"`
	BonusPercentage    decimal.Decimal     `json:"bonus_percentage" db:"bonus_percentage"`
	BonusAmount        decimal.Decimal     `json:"bonus_amount" db:"bonus_amount"` // flat, zero = none
	MinAmount          decimal.NullDecimal `json:"min_amount" db:"min_amount"`
	MaxAmount          decimal.NullDecimal `json:"max_amount" db:"max_amount"`
	WageringMultiplier decimal.Decimal     `json:"wagering_multiplier" db:"wagering_multiplier"`
	ValidFrom          time.Time           `json:"valid_from" db:"valid_from"`
	ValidUntil         *time.Time          `json:"valid_until,omitempty" db:"valid_until"`
	OneTimeOnly        bool                `json:"one_time_only" db:"one_time_only"`
	IsActive           bool                `json:"is_active" db:"is_active"`
	SpinCooldownHours  int                 `json:"spin_cooldown_hours" db:"spin_cooldown_hours"`
	SpinPrizes         []SpinPrize         `json:"spin_prizes,omitempty" db:"spin_prizes"`
	ExpiryDays         int                 `json:"expiry_days" db:"expiry_days"` // 0 = never
	CreatedAt          time.Time           `json:"created_at" db:"created_at"`
}

// ValidAt reports whether the offer is active and inside its validity window.
func (o *Offer) ValidAt(now time.Time) bool {
	if !o.IsActive {
		return false
	}
	if now.Before(o.ValidFrom) {
		return false
	}
	if o.ValidUntil != nil && now.After(*o.ValidUntil) {
		return false
	}
	return true
}

// UserBonus statuses.
const (
	BonusActive    = "active"
	BonusCompleted = "completed"
	BonusExpired   = "expired"
	BonusCancelled = "cancelled"
)

// UserBonus is a claimed offer for one user.
type UserBonus struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	OfferID          string          `json:"offer_id" db:"offer_id"`
	BonusAmount      decimal.Decimal `json:"bonus_amount" db:"bonus_amount"`
	LockedAmount     decimal.Decimal `json:"locked_amount" db:"locked_amount"`
	UnlockedAmount   decimal.Decimal `json:"unlocked_amount" db:"unlocked_amount"`
	WageringRequired decimal.Decimal `json:"wagering_required" db:"wagering_required"`
	WageringProgress decimal.Decimal `json:"wagering_progress" db:"wagering_progress"`
	Status           string          `json:"status" db:"status"`
	IsCredited       bool            `json:"is_credited" db:"is_credited"`
	AnimationShown   bool            `json:"animation_shown" db:"animation_shown"`
	ClaimedAt        time.Time       `json:"claimed_at" db:"claimed_at"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// BonusClaim is the audit record of a single claim.
type BonusClaim struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	OfferID       string          `json:"offer_id" db:"offer_id"`
	UserBonusID   string          `json:"user_bonus_id" db:"user_bonus_id"`
	DepositID     string          `json:"deposit_id,omitempty" db:"deposit_id"`
	DepositAmount decimal.Decimal `json:"deposit_amount" db:"deposit_amount"`
	BonusAmount   decimal.Decimal `json:"bonus_amount" db:"bonus_amount"`
	ClaimedAt     time.Time       `json:"claimed_at" db:"claimed_at"`
}

// Deposit is an approved credit of outside funds. A deposit backs at most
// one bonus claim; BonusClaimID is set once it has.
type Deposit struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	Reference    string          `json:"reference,omitempty" db:"reference"`
	BonusClaimID string          `json:"bonus_claim_id,omitempty" db:"bonus_claim_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Claimed reports whether the deposit already backs a bonus claim.
func (d *Deposit) Claimed() bool { return d.BonusClaimID != "" }

// DailySpin records one spin of a daily-spin offer.
type DailySpin struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	OfferID     string          `json:"offer_id" db:"offer_id"`
	PrizeLabel  string          `json:"prize_label" db:"prize_label"`
	PrizeAmount decimal.Decimal `json:"prize_amount" db:"prize_amount"`
	PrizeIndex  int             `json:"prize_index" db:"prize_index"`
	SpunAt      time.Time       `json:"spun_at" db:"spun_at"`
}

// Notification types.
const (
	NotificationTradeResult = "trade_result"
	NotificationBonus       = "bonus"
	NotificationSystem      = "system"
	NotificationDeposit     = "deposit"
	NotificationWithdrawal  = "withdrawal"
)

// Notification is a user-scoped message. Only IsRead ever changes.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Type      string    `json:"type" db:"type"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	IsRead    bool      `json:"is_read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SocialChannel is display metadata for an external chat link.
type SocialChannel struct {
	ID        string `json:"id" db:"id" yaml:"id"`
	Name      string `json:"name" db:"name" yaml:"name"`
	Platform  string `json:"platform" db:"platform" yaml:"platform"` // telegram, whatsapp, discord...
	URL       string `json:"url" db:"url" yaml:"url"`
	Icon      string `json:"icon" db:"icon" yaml:"icon"`
	SortOrder int    `json:"sort_order" db:"sort_order" yaml:"sort_order"`
	IsVisible bool   `json:"is_visible" db:"is_visible" yaml:"is_visible"`
}

// SMTPSettings configures outbound email.
type SMTPSettings struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`
	Username  string `json:"username" yaml:"username"`
	Password  string `json:"password,omitempty" yaml:"password"`
	FromEmail string `json:"from_email" yaml:"from_email"`
	FromName  string `json:"from_name" yaml:"from_name"`
}

// PlatformSettings are the admin-tunable globals.
type PlatformSettings struct {
	WinRate          decimal.Decimal `json:"win_rate" yaml:"win_rate"`                   // percent
	ProfitPercentage decimal.Decimal `json:"profit_percentage" yaml:"profit_percentage"` // percent
	LossPercentage   decimal.Decimal `json:"loss_percentage" yaml:"loss_percentage"`     // percent
	SMTP             SMTPSettings    `json:"smtp" yaml:"smtp"`
}

// DefaultSettings returns the house defaults: 45% win rate, 80% payout, full stake lost.
func DefaultSettings() PlatformSettings {
	return PlatformSettings{
		WinRate:          decimal.NewFromInt(45),
		ProfitPercentage: decimal.NewFromInt(80),
		LossPercentage:   decimal.NewFromInt(100),
		SMTP:             SMTPSettings{Port: 587},
	}
}

// Profile carries the contact details used to address email.
type Profile struct {
	UserID      string `json:"user_id" db:"user_id"`
	Email       string `json:"email" db:"email"`
	DisplayName string `json:"display_name" db:"display_name"`
}
