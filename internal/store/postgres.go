package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Every operation that touches a wallet locks the wallet row first
// (SELECT ... FOR UPDATE), which serialises writers per user.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Trades ---

const tradeColumns = `id, user_id, pair, trade_type,
	amount::TEXT, entry_price::TEXT, exit_price::TEXT,
	duration, timer_started_at, end_time, status, expected_result,
	profit_loss::TEXT, profit_percentage::TEXT, created_at, settled_at`

func (s *PostgresStore) OpenTrade(ctx context.Context, t *model.Trade, check ExposureCheck) (*model.Wallet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := lockWallet(ctx, tx, t.UserID)
	if err != nil {
		return nil, err
	}
	// Other opens for this user wait on the wallet row, so the sum is stable.
	if check != nil {
		exposure, err := openExposure(ctx, tx, t.UserID)
		if err != nil {
			return nil, err
		}
		if err := check(exposure); err != nil {
			return nil, err
		}
	}
	if w.Available().LessThan(t.Amount) {
		return nil, ErrInsufficientBalance
	}

	w.LockedBalance = w.LockedBalance.Add(t.Amount)
	w.UpdatedAt = t.CreatedAt
	if err := writeWallet(ctx, tx, w); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO trades (id, user_id, pair, trade_type, amount, entry_price, duration,
		                     timer_started_at, end_time, status, expected_result, profit_percentage, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10, $11, $12::NUMERIC, $13)`,
		t.ID, t.UserID, t.Pair, t.TradeType,
		t.Amount.String(), t.EntryPrice.String(), t.Duration,
		t.TimerStartedAt, t.EndTime, t.Status, t.ExpectedResult,
		nullDecText(t.ProfitPercentage), t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert trade %s: %w", t.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit open trade: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", id, notFound(err))
	}
	return t, nil
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) ListDueTrades(ctx context.Context, now time.Time, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE status = 'pending'
		   AND COALESCE(end_time, timer_started_at + duration * INTERVAL '1 second') <= $1
		 ORDER BY COALESCE(end_time, timer_started_at + duration * INTERVAL '1 second')
		 LIMIT $2`,
		now, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) OpenExposure(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	return openExposure(ctx, s.pool, userID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func openExposure(ctx context.Context, q querier, userID string) (map[string]decimal.Decimal, error) {
	rows, err := q.Query(ctx,
		`SELECT pair, COALESCE(SUM(amount), 0)::TEXT
		 FROM trades
		 WHERE user_id = $1 AND status = 'pending'
		 GROUP BY pair`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exposure := make(map[string]decimal.Decimal)
	for rows.Next() {
		var pair, sumS string
		if err := rows.Scan(&pair, &sumS); err != nil {
			return nil, err
		}
		exposure[pair] = parseDec(sumS)
	}
	return exposure, rows.Err()
}

func (s *PostgresStore) SetExpectedResult(ctx context.Context, tradeID, result string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades SET expected_result = $2 WHERE id = $1 AND status = 'pending'`,
		tradeID, result)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetTrade(ctx, tradeID); err != nil {
			return err
		}
		return ErrTradeNotPending
	}
	return nil
}

func (s *PostgresStore) ApplySettlement(ctx context.Context, st *Settlement) (*model.Wallet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var status, amountS string
	err = tx.QueryRow(ctx,
		`SELECT status, amount::TEXT FROM trades WHERE id = $1 FOR UPDATE`, st.TradeID).
		Scan(&status, &amountS)
	if err != nil {
		return nil, fmt.Errorf("lock trade %s: %w", st.TradeID, notFound(err))
	}
	if status != model.TradeStatusPending {
		return nil, &AlreadySettledError{TradeID: st.TradeID, Status: status}
	}

	w, err := lockWallet(ctx, tx, st.UserID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE trades
		 SET status = $2, profit_loss = $3::NUMERIC, exit_price = $4::NUMERIC, settled_at = $5
		 WHERE id = $1`,
		st.TradeID, st.Status, st.ProfitLoss.String(), st.ExitPrice.String(), st.SettledAt)
	if err != nil {
		return nil, fmt.Errorf("update trade %s: %w", st.TradeID, err)
	}

	before, after := settleWallet(w, parseDec(amountS), st.ProfitLoss, st.SettledAt)
	if err := writeWallet(ctx, tx, w); err != nil {
		return nil, err
	}

	entry := st.Transaction
	entry.UserID = st.UserID
	entry.Amount = st.ProfitLoss
	entry.BalanceBefore = before
	entry.BalanceAfter = after
	entry.ReferenceID = st.TradeID
	entry.CreatedAt = st.SettledAt
	if err := insertTransaction(ctx, tx, &entry); err != nil {
		return nil, err
	}
	if err := insertNotification(ctx, tx, &st.Notification); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settlement %s: %w", st.TradeID, err)
	}
	return w, nil
}

// --- Wallets & ledger ---

func (s *PostgresStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (user_id, balance, locked_balance, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)`,
		w.UserID, w.Balance.String(), w.LockedBalance.String(), w.UpdatedAt)
	return err
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	var balance, locked string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance::TEXT, locked_balance::TEXT, updated_at
		 FROM wallets WHERE user_id = $1`, userID).
		Scan(&w.UserID, &balance, &locked, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", userID, notFound(err))
	}
	w.Balance = parseDec(balance)
	w.LockedBalance = parseDec(locked)
	return &w, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, amount::TEXT, balance_before::TEXT, balance_after::TEXT,
		        reference_id, description, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var amount, before, after string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &amount, &before, &after,
			&t.ReferenceID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount = parseDec(amount)
		t.BalanceBefore = parseDec(before)
		t.BalanceAfter = parseDec(after)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

const depositColumns = `id, user_id, amount::TEXT, reference, COALESCE(bonus_claim_id, ''), created_at`

func (s *PostgresStore) RecordDeposit(ctx context.Context, d *model.Deposit) (*model.Wallet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := lockWallet(ctx, tx, d.UserID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO deposits (id, user_id, amount, reference, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5)`,
		d.ID, d.UserID, d.Amount.String(), d.Reference, d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert deposit: %w", err)
	}

	before := w.Balance
	w.Balance = w.Balance.Add(d.Amount)
	w.UpdatedAt = d.CreatedAt
	if err := writeWallet(ctx, tx, w); err != nil {
		return nil, err
	}

	err = insertTransaction(ctx, tx, &model.Transaction{
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
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) GetDeposit(ctx context.Context, id string) (*model.Deposit, error) {
	d, err := scanDeposit(s.pool.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get deposit %s: %w", id, notFound(err))
	}
	return d, nil
}

func (s *PostgresStore) ListDeposits(ctx context.Context, userID string) ([]model.Deposit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []model.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *d)
	}
	return deposits, rows.Err()
}

func lockDeposit(ctx context.Context, tx pgx.Tx, id string) (*model.Deposit, error) {
	return scanDeposit(tx.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, id))
}

func scanDeposit(row rowScanner) (*model.Deposit, error) {
	var d model.Deposit
	var amount string
	if err := row.Scan(&d.ID, &d.UserID, &amount, &d.Reference, &d.BonusClaimID, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Amount = parseDec(amount)
	return &d, nil
}

// --- Offers & bonuses ---

const offerColumns = `id, title, description, type,
	bonus_percentage::TEXT, bonus_amount::TEXT, min_amount::TEXT, max_amount::TEXT,
	wagering_multiplier::TEXT, valid_from, valid_until, one_time_only, is_active,
	spin_cooldown_hours, spin_prizes::TEXT, expiry_days, created_at`

func (s *PostgresStore) CreateOffer(ctx context.Context, o *model.Offer) error {
	prizes, err := json.Marshal(o.SpinPrizes)
	if err != nil {
		return fmt.Errorf("encode spin prizes: %w", err)
	}
	if o.SpinPrizes == nil {
		prizes = []byte("[]")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO offers (id, title, description, type, bonus_percentage, bonus_amount,
		                     min_amount, max_amount, wagering_multiplier, valid_from, valid_until,
		                     one_time_only, is_active, spin_cooldown_hours, spin_prizes, expiry_days, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		         $10, $11, $12, $13, $14, $15::JSONB, $16, $17)`,
		o.ID, o.Title, o.Description, o.Type,
		o.BonusPercentage.String(), o.BonusAmount.String(),
		nullDecText(o.MinAmount), nullDecText(o.MaxAmount), o.WageringMultiplier.String(),
		o.ValidFrom, o.ValidUntil, o.OneTimeOnly, o.IsActive,
		o.SpinCooldownHours, string(prizes), o.ExpiryDays, o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetOffer(ctx context.Context, id string) (*model.Offer, error) {
	o, err := scanOffer(s.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get offer %s: %w", id, notFound(err))
	}
	return o, nil
}

func (s *PostgresStore) ListOffers(ctx context.Context, activeOnly bool) ([]model.Offer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE (NOT $1 OR is_active) ORDER BY created_at`,
		activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

func (s *PostgresStore) SetOfferActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE offers SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("offer %s: %w", id, ErrNotFound)
	}
	return nil
}

const bonusColumns = `id, user_id, offer_id, bonus_amount::TEXT, locked_amount::TEXT,
	unlocked_amount::TEXT, wagering_required::TEXT, wagering_progress::TEXT,
	status, is_credited, animation_shown, claimed_at, expires_at, completed_at`

func (s *PostgresStore) ListUserBonuses(ctx context.Context, userID string) ([]model.UserBonus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bonusColumns+` FROM user_bonuses WHERE user_id = $1 ORDER BY claimed_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBonuses(rows)
}

func (s *PostgresStore) ClaimBonus(ctx context.Context, req *BonusClaimRequest) (*BonusClaimResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// The wallet lock serialises claims per user, so the one-time check
	// below cannot race another claim.
	w, err := lockWallet(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}

	offer, err := scanOffer(tx.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, req.OfferID))
	if err != nil {
		return nil, fmt.Errorf("get offer %s: %w", req.OfferID, notFound(err))
	}
	if !offer.ValidAt(req.Now) {
		return nil, ErrOfferUnavailable
	}
	if offer.OneTimeOnly {
		var claimed bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_bonuses WHERE user_id = $1 AND offer_id = $2)`,
			req.UserID, req.OfferID).Scan(&claimed)
		if err != nil {
			return nil, err
		}
		if claimed {
			return nil, ErrAlreadyClaimed
		}
	}

	ub := newUserBonus(req, offer)
	_, err = tx.Exec(ctx,
		`INSERT INTO user_bonuses (id, user_id, offer_id, bonus_amount, locked_amount, unlocked_amount,
		                           wagering_required, wagering_progress, status, is_credited,
		                           animation_shown, claimed_at, expires_at, completed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		         $9, $10, $11, $12, $13, $14)`,
		ub.ID, ub.UserID, ub.OfferID, ub.BonusAmount.String(), ub.LockedAmount.String(),
		ub.UnlockedAmount.String(), ub.WageringRequired.String(), ub.WageringProgress.String(),
		ub.Status, ub.IsCredited, ub.AnimationShown, ub.ClaimedAt, ub.ExpiresAt, ub.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user bonus: %w", err)
	}

	claimID := uuid.New().String()
	var depositID *string
	depositAmount := decimal.Zero
	if req.DepositID != "" {
		dep, err := lockDeposit(ctx, tx, req.DepositID)
		if err != nil {
			return nil, fmt.Errorf("lock deposit %s: %w", req.DepositID, notFound(err))
		}
		if dep.UserID != req.UserID {
			return nil, fmt.Errorf("deposit %s: %w", req.DepositID, ErrNotFound)
		}
		if dep.Claimed() {
			return nil, ErrDepositClaimed
		}
		depositID = &dep.ID
		depositAmount = dep.Amount
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO bonus_claims (id, user_id, offer_id, user_bonus_id, deposit_id, deposit_amount, bonus_amount, claimed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		claimID, req.UserID, req.OfferID, ub.ID, depositID,
		depositAmount.String(), req.BonusAmount.String(), req.Now)
	if err != nil {
		return nil, fmt.Errorf("insert bonus claim: %w", err)
	}
	if depositID != nil {
		_, err = tx.Exec(ctx, `UPDATE deposits SET bonus_claim_id = $2 WHERE id = $1`, *depositID, claimID)
		if err != nil {
			return nil, fmt.Errorf("mark deposit claimed: %w", err)
		}
	}

	before := w.Balance
	w.Balance = w.Balance.Add(req.BonusAmount)
	w.UpdatedAt = req.Now
	if err := writeWallet(ctx, tx, w); err != nil {
		return nil, err
	}

	err = insertTransaction(ctx, tx, &model.Transaction{
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
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit bonus claim: %w", err)
	}
	return &BonusClaimResult{UserBonus: ub, Amount: req.BonusAmount, NewBalance: w.Balance}, nil
}

func (s *PostgresStore) RecordWagering(ctx context.Context, userID string, volume decimal.Decimal, now time.Time) ([]model.UserBonus, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT `+bonusColumns+` FROM user_bonuses
		 WHERE user_id = $1 AND status = 'active'
		 ORDER BY claimed_at
		 FOR UPDATE`, userID)
	if err != nil {
		return nil, err
	}
	bonuses, err := scanBonuses(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	changed, completed := applyWagering(bonuses, volume, now)
	for _, i := range changed {
		b := bonuses[i]
		_, err := tx.Exec(ctx,
			`UPDATE user_bonuses
			 SET wagering_progress = $2::NUMERIC, locked_amount = $3::NUMERIC,
			     unlocked_amount = $4::NUMERIC, status = $5, completed_at = $6
			 WHERE id = $1`,
			b.ID, b.WageringProgress.String(), b.LockedAmount.String(),
			b.UnlockedAmount.String(), b.Status, b.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("update bonus %s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit wagering: %w", err)
	}

	var done []model.UserBonus
	for _, i := range completed {
		done = append(done, bonuses[i])
	}
	return done, nil
}

func (s *PostgresStore) ExpireBonuses(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_bonuses SET status = 'expired'
		 WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CancelBonus(ctx context.Context, bonusID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_bonuses SET status = 'cancelled' WHERE id = $1 AND status = 'active'`, bonusID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("active bonus %s: %w", bonusID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) MarkBonusAnimationShown(ctx context.Context, userID, bonusID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_bonuses SET animation_shown = TRUE WHERE id = $1 AND user_id = $2`, bonusID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bonus %s: %w", bonusID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) LastSpin(ctx context.Context, userID, offerID string) (*model.DailySpin, error) {
	sp, err := lastSpin(ctx, s.pool, userID, offerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sp, err
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lastSpin(ctx context.Context, q queryRower, userID, offerID string) (*model.DailySpin, error) {
	var sp model.DailySpin
	var amount string
	err := q.QueryRow(ctx,
		`SELECT id, user_id, offer_id, prize_label, prize_amount::TEXT, prize_index, spun_at
		 FROM daily_spins WHERE user_id = $1 AND offer_id = $2
		 ORDER BY spun_at DESC LIMIT 1`, userID, offerID).
		Scan(&sp.ID, &sp.UserID, &sp.OfferID, &sp.PrizeLabel, &amount, &sp.PrizeIndex, &sp.SpunAt)
	if err != nil {
		return nil, err
	}
	sp.PrizeAmount = parseDec(amount)
	return &sp, nil
}

func (s *PostgresStore) ClaimSpinPrize(ctx context.Context, req *SpinClaimRequest) (*SpinClaimResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := lockWallet(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}

	offer, err := scanOffer(tx.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, req.OfferID))
	if err != nil {
		return nil, fmt.Errorf("get offer %s: %w", req.OfferID, notFound(err))
	}
	if !offer.ValidAt(req.Now) {
		return nil, ErrOfferUnavailable
	}

	last, err := lastSpin(ctx, tx, req.UserID, req.OfferID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if last != nil && req.Now.Before(last.SpunAt.Add(req.Cooldown)) {
		return nil, ErrSpinCooldown
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
	_, err = tx.Exec(ctx,
		`INSERT INTO daily_spins (id, user_id, offer_id, prize_label, prize_amount, prize_index, spun_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		spin.ID, spin.UserID, spin.OfferID, spin.PrizeLabel, spin.PrizeAmount.String(),
		spin.PrizeIndex, spin.SpunAt)
	if err != nil {
		return nil, fmt.Errorf("insert spin: %w", err)
	}

	if req.Prize.Amount.IsPositive() {
		before := w.Balance
		w.Balance = w.Balance.Add(req.Prize.Amount)
		w.UpdatedAt = req.Now
		if err := writeWallet(ctx, tx, w); err != nil {
			return nil, err
		}
		err = insertTransaction(ctx, tx, &model.Transaction{
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
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit spin: %w", err)
	}
	return &SpinClaimResult{Spin: spin, NewBalance: w.Balance}, nil
}

// --- Notifications ---

func (s *PostgresStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	return insertNotification(ctx, s.pool, n)
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, title, message, is_read, created_at
		 FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&n)
	return n, err
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	return err
}

// --- Platform ---

// Settings live as one JSONB value per key; missing keys keep their defaults.
const (
	settingWinRate = "win_rate"
	settingProfit  = "profit_percentage"
	settingLoss    = "loss_percentage"
	settingSMTP    = "smtp"
)

func (s *PostgresStore) GetSettings(ctx context.Context) (*model.PlatformSettings, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value::TEXT FROM platform_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ps := model.DefaultSettings()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		var target any
		switch key {
		case settingWinRate:
			target = &ps.WinRate
		case settingProfit:
			target = &ps.ProfitPercentage
		case settingLoss:
			target = &ps.LossPercentage
		case settingSMTP:
			target = &ps.SMTP
		default:
			continue
		}
		if err := json.Unmarshal([]byte(value), target); err != nil {
			return nil, fmt.Errorf("decode setting %s: %w", key, err)
		}
	}
	return &ps, rows.Err()
}

func (s *PostgresStore) UpdateSettings(ctx context.Context, ps *model.PlatformSettings) error {
	values := map[string]any{
		settingWinRate: ps.WinRate,
		settingProfit:  ps.ProfitPercentage,
		settingLoss:    ps.LossPercentage,
		settingSMTP:    ps.SMTP,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for key, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode setting %s: %w", key, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO platform_settings (key, value, updated_at)
			 VALUES ($1, $2::JSONB, NOW())
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
			key, string(data))
		if err != nil {
			return fmt.Errorf("upsert setting %s: %w", key, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, email, display_name FROM profiles WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.Email, &p.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, notFound(err))
	}
	return &p, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, p *model.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (user_id, email, display_name) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email, display_name = EXCLUDED.display_name`,
		p.UserID, p.Email, p.DisplayName)
	return err
}

func (s *PostgresStore) ListSocialChannels(ctx context.Context, visibleOnly bool) ([]model.SocialChannel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, platform, url, icon, sort_order, is_visible
		 FROM social_channels WHERE (NOT $1 OR is_visible)
		 ORDER BY sort_order, name`, visibleOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SocialChannel
	for rows.Next() {
		var c model.SocialChannel
		if err := rows.Scan(&c.ID, &c.Name, &c.Platform, &c.URL, &c.Icon, &c.SortOrder, &c.IsVisible); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertSocialChannel(ctx context.Context, c *model.SocialChannel) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO social_channels (id, name, platform, url, icon, sort_order, is_visible)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, platform = EXCLUDED.platform,
		     url = EXCLUDED.url, icon = EXCLUDED.icon, sort_order = EXCLUDED.sort_order,
		     is_visible = EXCLUDED.is_visible`,
		c.ID, c.Name, c.Platform, c.URL, c.Icon, c.SortOrder, c.IsVisible)
	return err
}

func (s *PostgresStore) SetSocialChannelVisible(ctx context.Context, id string, visible bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE social_channels SET is_visible = $2 WHERE id = $1`, id, visible)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("social channel %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Helpers ---

func lockWallet(ctx context.Context, tx pgx.Tx, userID string) (*model.Wallet, error) {
	var balance, locked string
	w := model.Wallet{UserID: userID}
	err := tx.QueryRow(ctx,
		`SELECT balance::TEXT, locked_balance::TEXT, updated_at
		 FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).
		Scan(&balance, &locked, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("lock wallet %s: %w", userID, notFound(err))
	}
	w.Balance = parseDec(balance)
	w.LockedBalance = parseDec(locked)
	return &w, nil
}

func writeWallet(ctx context.Context, tx pgx.Tx, w *model.Wallet) error {
	_, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = $2::NUMERIC, locked_balance = $3::NUMERIC, updated_at = $4
		 WHERE user_id = $1`,
		w.UserID, w.Balance.String(), w.LockedBalance.String(), w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update wallet %s: %w", w.UserID, err)
	}
	return nil
}

func insertTransaction(ctx context.Context, q execer, t *model.Transaction) error {
	_, err := q.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, balance_before, balance_after,
		                           reference_id, description, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)`,
		t.ID, t.UserID, t.Type, t.Amount.String(), t.BalanceBefore.String(), t.BalanceAfter.String(),
		t.ReferenceID, t.Description, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func insertNotification(ctx context.Context, q execer, n *model.Notification) error {
	_, err := q.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.IsRead, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func scanTrade(row rowScanner) (*model.Trade, error) {
	var t model.Trade
	var amount, entry string
	var exit, pl, pct *string
	if err := row.Scan(&t.ID, &t.UserID, &t.Pair, &t.TradeType,
		&amount, &entry, &exit,
		&t.Duration, &t.TimerStartedAt, &t.EndTime, &t.Status, &t.ExpectedResult,
		&pl, &pct, &t.CreatedAt, &t.SettledAt); err != nil {
		return nil, err
	}
	t.Amount = parseDec(amount)
	t.EntryPrice = parseDec(entry)
	t.ExitPrice = parseNullDec(exit)
	t.ProfitLoss = parseNullDec(pl)
	t.ProfitPercentage = parseNullDec(pct)
	return &t, nil
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func scanOffer(row rowScanner) (*model.Offer, error) {
	var o model.Offer
	var pct, flat, mult, prizes string
	var minA, maxA *string
	if err := row.Scan(&o.ID, &o.Title, &o.Description, &o.Type,
		&pct, &flat, &minA, &maxA,
		&mult, &o.ValidFrom, &o.ValidUntil, &o.OneTimeOnly, &o.IsActive,
		&o.SpinCooldownHours, &prizes, &o.ExpiryDays, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.BonusPercentage = parseDec(pct)
	o.BonusAmount = parseDec(flat)
	o.MinAmount = parseNullDec(minA)
	o.MaxAmount = parseNullDec(maxA)
	o.WageringMultiplier = parseDec(mult)
	if err := json.Unmarshal([]byte(prizes), &o.SpinPrizes); err != nil {
		return nil, fmt.Errorf("decode spin prizes: %w", err)
	}
	return &o, nil
}

func scanBonuses(rows pgx.Rows) ([]model.UserBonus, error) {
	var out []model.UserBonus
	for rows.Next() {
		var b model.UserBonus
		var amount, locked, unlocked, req, prog string
		if err := rows.Scan(&b.ID, &b.UserID, &b.OfferID, &amount, &locked,
			&unlocked, &req, &prog,
			&b.Status, &b.IsCredited, &b.AnimationShown, &b.ClaimedAt, &b.ExpiresAt, &b.CompletedAt); err != nil {
			return nil, err
		}
		b.BonusAmount = parseDec(amount)
		b.LockedAmount = parseDec(locked)
		b.UnlockedAmount = parseDec(unlocked)
		b.WageringRequired = parseDec(req)
		b.WageringProgress = parseDec(prog)
		out = append(out, b)
	}
	return out, rows.Err()
}

func parseDec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func parseNullDec(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(parseDec(*s))
}

func nullDecText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

// limitOrAll maps a non-positive limit to NULL, which LIMIT treats as "no limit".
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
