package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: wallets, settings, offers and unread counts.
// Writes go to the primary store and invalidate the cache; reads check Redis
// first then fall back to the primary. Everything else passes through.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) OpenTrade(ctx context.Context, t *model.Trade, check ExposureCheck) (*model.Wallet, error) {
	w, err := s.Store.OpenTrade(ctx, t, check)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, walletKey(t.UserID))
	return w, nil
}

func (s *CachedStore) ApplySettlement(ctx context.Context, st *Settlement) (*model.Wallet, error) {
	w, err := s.Store.ApplySettlement(ctx, st)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, walletKey(st.UserID), unreadKey(st.UserID))
	return w, nil
}

func (s *CachedStore) RecordDeposit(ctx context.Context, d *model.Deposit) (*model.Wallet, error) {
	w, err := s.Store.RecordDeposit(ctx, d)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, walletKey(d.UserID))
	return w, nil
}

func (s *CachedStore) ClaimBonus(ctx context.Context, req *BonusClaimRequest) (*BonusClaimResult, error) {
	res, err := s.Store.ClaimBonus(ctx, req)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, walletKey(req.UserID))
	return res, nil
}

func (s *CachedStore) ClaimSpinPrize(ctx context.Context, req *SpinClaimRequest) (*SpinClaimResult, error) {
	res, err := s.Store.ClaimSpinPrize(ctx, req)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, walletKey(req.UserID))
	return res, nil
}

func (s *CachedStore) CreateOffer(ctx context.Context, o *model.Offer) error {
	if err := s.Store.CreateOffer(ctx, o); err != nil {
		return err
	}
	s.rdb.Del(ctx, offersKey(true), offersKey(false))
	return nil
}

func (s *CachedStore) SetOfferActive(ctx context.Context, id string, active bool) error {
	if err := s.Store.SetOfferActive(ctx, id, active); err != nil {
		return err
	}
	s.rdb.Del(ctx, offersKey(true), offersKey(false))
	return nil
}

func (s *CachedStore) UpdateSettings(ctx context.Context, ps *model.PlatformSettings) error {
	if err := s.Store.UpdateSettings(ctx, ps); err != nil {
		return err
	}
	s.rdb.Del(ctx, settingsKey)
	return nil
}

func (s *CachedStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if err := s.Store.CreateNotification(ctx, n); err != nil {
		return err
	}
	s.rdb.Del(ctx, unreadKey(n.UserID))
	return nil
}

func (s *CachedStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	if err := s.Store.MarkNotificationRead(ctx, userID, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, unreadKey(userID))
	return nil
}

func (s *CachedStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	if err := s.Store.MarkAllNotificationsRead(ctx, userID); err != nil {
		return err
	}
	s.rdb.Del(ctx, unreadKey(userID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	if s.getJSON(ctx, walletKey(userID), &w) {
		return &w, nil
	}

	wp, err := s.Store.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, walletKey(userID), wp)
	return wp, nil
}

func (s *CachedStore) GetSettings(ctx context.Context) (*model.PlatformSettings, error) {
	var ps model.PlatformSettings
	if s.getJSON(ctx, settingsKey, &ps) {
		return &ps, nil
	}

	psp, err := s.Store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, settingsKey, psp)
	return psp, nil
}

func (s *CachedStore) ListOffers(ctx context.Context, activeOnly bool) ([]model.Offer, error) {
	var offers []model.Offer
	if s.getJSON(ctx, offersKey(activeOnly), &offers) {
		return offers, nil
	}

	offers, err := s.Store.ListOffers(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, offersKey(activeOnly), offers)
	return offers, nil
}

func (s *CachedStore) CountUnread(ctx context.Context, userID string) (int, error) {
	if v, err := s.rdb.Get(ctx, unreadKey(userID)).Result(); err == nil {
		if n, err := strconv.Atoi(v); err == nil {
			return n, nil
		}
	}

	n, err := s.Store.CountUnread(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.rdb.Set(ctx, unreadKey(userID), n, s.ttl)
	return n, nil
}

// --- Cache helpers ---

func (s *CachedStore) getJSON(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) setJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const settingsKey = "settings:platform"

func walletKey(uid string) string { return fmt.Sprintf("wallet:%s", uid) }
func unreadKey(uid string) string { return fmt.Sprintf("notifications:unread:%s", uid) }
func offersKey(activeOnly bool) string {
	if activeOnly {
		return "offers:active"
	}
	return "offers:all"
}
