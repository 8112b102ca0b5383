// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInsufficientBalance is returned when available funds cannot cover a stake.
	ErrInsufficientBalance = errors.New("store: insufficient balance")

	// ErrOfferUnavailable is returned when an offer is inactive or outside its window.
	ErrOfferUnavailable = errors.New("store: offer is not available")

	// ErrAlreadyClaimed is returned when a one-time offer was already claimed.
	ErrAlreadyClaimed = errors.New("store: offer already claimed")

	// ErrDepositClaimed is returned when a deposit already backs a bonus claim.
	ErrDepositClaimed = errors.New("store: deposit already backs a bonus claim")

	// ErrSpinCooldown is returned when a spin is attempted before the cooldown elapsed.
	ErrSpinCooldown = errors.New("store: spin cooldown has not elapsed")

	// ErrTradeNotPending is returned when a pending-only mutation hits a resolved trade.
	ErrTradeNotPending = errors.New("store: trade is not pending")

	// ErrAlreadySettled matches any *AlreadySettledError via errors.Is.
	ErrAlreadySettled = errors.New("store: trade already settled")
)

// AlreadySettledError reports that a trade was resolved before this attempt.
type AlreadySettledError struct {
	TradeID string
	Status  string
}

func (e *AlreadySettledError) Error() string {
	return fmt.Sprintf("store: trade %s already settled as %s", e.TradeID, e.Status)
}

func (e *AlreadySettledError) Unwrap() error { return ErrAlreadySettled }

// Settlement is the full effect of resolving one trade. ApplySettlement
// applies it atomically: either every write lands or none does.
type Settlement struct {
	TradeID      string
	UserID       string
	Status       string // won or lost
	ProfitLoss   decimal.Decimal
	ExitPrice    decimal.Decimal
	SettledAt    time.Time
	Transaction  model.Transaction  // ID, Type, Description; balances filled by the store
	Notification model.Notification // fully populated by the caller
}

// BonusClaimRequest is the input to the atomic bonus claim. DepositID,
// when set, names a deposit of UserID that has not backed a claim yet; the
// claim records that deposit's stored amount.
type BonusClaimRequest struct {
	UserID      string
	OfferID     string
	DepositID   string
	BonusAmount decimal.Decimal
	Now         time.Time
}

// BonusClaimResult is what a successful claim produced.
type BonusClaimResult struct {
	UserBonus  model.UserBonus
	Amount     decimal.Decimal
	NewBalance decimal.Decimal
}

// SpinClaimRequest is the input to the atomic spin-prize claim.
type SpinClaimRequest struct {
	UserID   string
	OfferID  string
	Prize    model.SpinPrize
	Index    int
	Cooldown time.Duration
	Now      time.Time
}

// SpinClaimResult is what a successful spin produced.
type SpinClaimResult struct {
	Spin       model.DailySpin
	NewBalance decimal.Decimal
}

// ExposureCheck vets a new stake against the user's open stake per pair.
// OpenTrade calls it while holding the wallet lock; a non-nil error aborts
// the open and is returned unchanged.
type ExposureCheck func(exposure map[string]decimal.Decimal) error

// TradeStore persists trades and applies their wallet effects.
type TradeStore interface {
	// OpenTrade inserts a pending trade and locks its stake in the wallet.
	// check may be nil.
	OpenTrade(ctx context.Context, t *model.Trade, check ExposureCheck) (*model.Wallet, error)

	// GetTrade retrieves a trade by its ID.
	GetTrade(ctx context.Context, id string) (*model.Trade, error)

	// ListTradesByUser returns a user's trades, newest first.
	ListTradesByUser(ctx context.Context, userID string, limit int) ([]model.Trade, error)

	// ListDueTrades returns pending trades whose end time is at or before now.
	ListDueTrades(ctx context.Context, now time.Time, limit int) ([]model.Trade, error)

	// OpenExposure returns the summed stake of a user's pending trades per pair.
	OpenExposure(ctx context.Context, userID string) (map[string]decimal.Decimal, error)

	// SetExpectedResult pins the outcome of a pending trade.
	SetExpectedResult(ctx context.Context, tradeID, result string) error

	// ApplySettlement resolves a pending trade and adjusts the wallet in one
	// transaction. Returns *AlreadySettledError if the trade is not pending.
	ApplySettlement(ctx context.Context, s *Settlement) (*model.Wallet, error)
}

// WalletStore exposes wallets and the immutable ledger.
type WalletStore interface {
	CreateWallet(ctx context.Context, w *model.Wallet) error
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)

	// RecordDeposit inserts an approved deposit, credits the wallet and
	// writes the ledger entry atomically.
	RecordDeposit(ctx context.Context, d *model.Deposit) (*model.Wallet, error)
	GetDeposit(ctx context.Context, id string) (*model.Deposit, error)

	// ListDeposits returns a user's deposits, oldest first.
	ListDeposits(ctx context.Context, userID string) ([]model.Deposit, error)
}

// BonusStore persists offers, claimed bonuses and spins.
type BonusStore interface {
	CreateOffer(ctx context.Context, o *model.Offer) error
	GetOffer(ctx context.Context, id string) (*model.Offer, error)
	ListOffers(ctx context.Context, activeOnly bool) ([]model.Offer, error)
	SetOfferActive(ctx context.Context, id string, active bool) error

	ListUserBonuses(ctx context.Context, userID string) ([]model.UserBonus, error)

	// ClaimBonus verifies eligibility, creates the user bonus, credits the
	// wallet and writes the ledger entry atomically.
	ClaimBonus(ctx context.Context, req *BonusClaimRequest) (*BonusClaimResult, error)

	// RecordWagering adds turnover to active bonuses, completing those that
	// reach their requirement. Returns the bonuses completed by this call.
	RecordWagering(ctx context.Context, userID string, volume decimal.Decimal, now time.Time) ([]model.UserBonus, error)

	// ExpireBonuses marks active bonuses past their expiry as expired.
	ExpireBonuses(ctx context.Context, now time.Time) (int, error)

	CancelBonus(ctx context.Context, bonusID string) error
	MarkBonusAnimationShown(ctx context.Context, userID, bonusID string) error

	LastSpin(ctx context.Context, userID, offerID string) (*model.DailySpin, error)

	// ClaimSpinPrize re-checks the cooldown, records the spin and credits
	// the prize atomically.
	ClaimSpinPrize(ctx context.Context, req *SpinClaimRequest) (*SpinClaimResult, error)
}

// NotificationStore persists user notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
}

// PlatformStore holds settings, profiles and social channel metadata.
type PlatformStore interface {
	GetSettings(ctx context.Context) (*model.PlatformSettings, error)
	UpdateSettings(ctx context.Context, s *model.PlatformSettings) error

	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	UpsertProfile(ctx context.Context, p *model.Profile) error

	ListSocialChannels(ctx context.Context, visibleOnly bool) ([]model.SocialChannel, error)
	UpsertSocialChannel(ctx context.Context, c *model.SocialChannel) error
	SetSocialChannelVisible(ctx context.Context, id string, visible bool) error
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	TradeStore
	WalletStore
	BonusStore
	NotificationStore
	PlatformStore
}
