// Package seed loads offers, social channels, platform settings and demo
// accounts from a YAML file into a store. Applying the same file twice is
// safe: existing offers and wallets are left alone.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
	"github.com/pawanbishnoiii/vk1-sub001/internal/store"
)

// Offer is an offer entry in YAML.
type Offer struct {
	ID                 string            `yaml:"id"`
	Title              string            `yaml:"title"`
	Description        string            `yaml:"description"`
	Type               string            `yaml:"type"`
	BonusPercentage    decimal.Decimal   `yaml:"bonus_percentage"`
	BonusAmount        decimal.Decimal   `yaml:"bonus_amount"`
	MinAmount          *decimal.Decimal  `yaml:"min_amount"`
	MaxAmount          *decimal.Decimal  `yaml:"max_amount"`
	WageringMultiplier decimal.Decimal   `yaml:"wagering_multiplier"`
	ValidDays          int               `yaml:"valid_days"` // 0 = open-ended
	OneTimeOnly        bool              `yaml:"one_time_only"`
	IsActive           *bool             `yaml:"is_active"`
	SpinCooldownHours  int               `yaml:"spin_cooldown_hours"`
	SpinPrizes         []model.SpinPrize `yaml:"spin_prizes"`
	ExpiryDays         int               `yaml:"expiry_days"`
}

// Account is a demo user with a wallet and a profile.
type Account struct {
	UserID      string          `yaml:"user_id"`
	Email       string          `yaml:"email"`
	DisplayName string          `yaml:"display_name"`
	Balance     decimal.Decimal `yaml:"balance"`
}

// File is the top-level YAML structure. Settings is nil when the file has
// no settings block; fields missing from the block keep their defaults.
type File struct {
	Settings       *model.PlatformSettings `yaml:"-"`
	RawSettings    *yaml.Node              `yaml:"settings"`
	Offers         []Offer                 `yaml:"offers"`
	SocialChannels []model.SocialChannel   `yaml:"social_channels"`
	Accounts       []Account               `yaml:"accounts"`
}

// Load reads a seed file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates seed YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if f.RawSettings != nil {
		ps := model.DefaultSettings()
		if err := f.RawSettings.Decode(&ps); err != nil {
			return nil, fmt.Errorf("parse seed settings: %w", err)
		}
		f.Settings = &ps
	}
	for i, o := range f.Offers {
		if o.ID == "" || o.Title == "" || o.Type == "" {
			return nil, fmt.Errorf("seed offer #%d: id, title and type are required", i+1)
		}
	}
	for i, c := range f.SocialChannels {
		if c.ID == "" || c.URL == "" {
			return nil, fmt.Errorf("seed social channel #%d: id and url are required", i+1)
		}
	}
	for i, a := range f.Accounts {
		if a.UserID == "" {
			return nil, fmt.Errorf("seed account #%d: user_id is required", i+1)
		}
	}
	return &f, nil
}

// Offer converts a YAML entry into an offer valid from now.
func (o Offer) Offer(now time.Time) model.Offer {
	out := model.Offer{
		ID:                 o.ID,
		Title:              o.Title,
		Description:        o.Description,
		Type:               o.Type,
		BonusPercentage:    o.BonusPercentage,
		BonusAmount:        o.BonusAmount,
		WageringMultiplier: o.WageringMultiplier,
		ValidFrom:          now,
		OneTimeOnly:        o.OneTimeOnly,
		IsActive:           o.IsActive == nil || *o.IsActive,
		SpinCooldownHours:  o.SpinCooldownHours,
		SpinPrizes:         o.SpinPrizes,
		ExpiryDays:         o.ExpiryDays,
		CreatedAt:          now,
	}
	if o.MinAmount != nil {
		out.MinAmount = decimal.NewNullDecimal(*o.MinAmount)
	}
	if o.MaxAmount != nil {
		out.MaxAmount = decimal.NewNullDecimal(*o.MaxAmount)
	}
	if o.ValidDays > 0 {
		until := now.AddDate(0, 0, o.ValidDays)
		out.ValidUntil = &until
	}
	return out
}

// Apply writes f into st.
func Apply(ctx context.Context, st store.Store, f *File, now time.Time) error {
	if f.Settings != nil {
		if err := st.UpdateSettings(ctx, f.Settings); err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}
	}

	created := 0
	for _, so := range f.Offers {
		_, err := st.GetOffer(ctx, so.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("seed offer %s: %w", so.ID, err)
		}
		o := so.Offer(now)
		if err := st.CreateOffer(ctx, &o); err != nil {
			return fmt.Errorf("seed offer %s: %w", so.ID, err)
		}
		created++
	}

	for i := range f.SocialChannels {
		if err := st.UpsertSocialChannel(ctx, &f.SocialChannels[i]); err != nil {
			return fmt.Errorf("seed social channel %s: %w", f.SocialChannels[i].ID, err)
		}
	}

	for _, a := range f.Accounts {
		if err := st.UpsertProfile(ctx, &model.Profile{UserID: a.UserID, Email: a.Email, DisplayName: a.DisplayName}); err != nil {
			return fmt.Errorf("seed profile %s: %w", a.UserID, err)
		}
		_, err := st.GetWallet(ctx, a.UserID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("seed wallet %s: %w", a.UserID, err)
		}
		if err := st.CreateWallet(ctx, &model.Wallet{UserID: a.UserID, Balance: a.Balance, UpdatedAt: now}); err != nil {
			return fmt.Errorf("seed wallet %s: %w", a.UserID, err)
		}
	}

	slog.Info("seed applied",
		"offers_created", created,
		"social_channels", len(f.SocialChannels),
		"accounts", len(f.Accounts),
		"settings", f.Settings != nil,
	)
	return nil
}
