package trade_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/mailer"
	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
	"github.com/pawanbishnoiii/vk1-sub001/internal/store"
	"github.com/pawanbishnoiii/vk1-sub001/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newSettler(ms *store.MemoryStore, roll float64) *trade.Settler {
	s := trade.NewSettler(ms, nil, nil)
	s.Rand = func() float64 { return roll }
	s.Now = func() time.Time { return t0 }
	return s
}

func seedWallet(t *testing.T, ms *store.MemoryStore, userID string, balance float64) {
	t.Helper()
	err := ms.CreateWallet(context.Background(), &model.Wallet{UserID: userID, Balance: d(balance), UpdatedAt: t0})
	if err != nil {
		t.Fatalf("failed to seed wallet: %v", err)
	}
}

// seedTrade opens a trade through the store so its stake is locked.
// startedAgo is how long before t0 the timer started.
func seedTrade(t *testing.T, ms *store.MemoryStore, id, userID string, amount float64, startedAgo time.Duration, expected string) *model.Trade {
	t.Helper()
	tr := &model.Trade{
		ID:             id,
		UserID:         userID,
		Pair:           "BTC/USDT",
		TradeType:      model.TradeTypeBuy,
		Amount:         d(amount),
		EntryPrice:     d(60000),
		Duration:       60,
		TimerStartedAt: t0.Add(-startedAgo),
		Status:         model.TradeStatusPending,
		ExpectedResult: expected,
		CreatedAt:      t0.Add(-startedAgo),
	}
	if _, err := ms.OpenTrade(context.Background(), tr, nil); err != nil {
		t.Fatalf("failed to seed trade: %v", err)
	}
	return tr
}

func walletOf(t *testing.T, ms *store.MemoryStore, userID string) *model.Wallet {
	t.Helper()
	w, err := ms.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	return w
}

func TestSettle_ForcedWin(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "alice", 5000)
	seedTrade(t, ms, "t1", "alice", 1000, 2*time.Minute, model.ExpectedWin)

	res, err := newSettler(ms, 99).Settle(context.Background(), "t1", "alice")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.State != trade.Settled || !res.Won {
		t.Fatalf("expected settled win, got state=%d won=%v", res.State, res.Won)
	}
	if !res.ProfitLoss.Equal(d(800)) {
		t.Errorf("profitLoss = %s, want 800", res.ProfitLoss)
	}
	if !res.NewBalance.Equal(d(5800)) {
		t.Errorf("newBalance = %s, want 5800", res.NewBalance)
	}

	w := walletOf(t, ms, "alice")
	if !w.LockedBalance.IsZero() {
		t.Errorf("locked balance should be released, got %s", w.LockedBalance)
	}

	got, _ := ms.GetTrade(context.Background(), "t1")
	if got.Status != model.TradeStatusWon {
		t.Errorf("status = %s, want won", got.Status)
	}
	if !got.ExitPrice.Decimal.Equal(d(60600)) {
		t.Errorf("exit price = %s, want 60600", got.ExitPrice.Decimal)
	}

	txs, _ := ms.ListTransactions(context.Background(), "alice", 0)
	if len(txs) != 1 || txs[0].Type != model.TxTradeWin {
		t.Fatalf("expected one trade_win transaction, got %+v", txs)
	}
	if !txs[0].BalanceBefore.Equal(d(5000)) || !txs[0].BalanceAfter.Equal(d(5800)) {
		t.Errorf("ledger balances = %s -> %s", txs[0].BalanceBefore, txs[0].BalanceAfter)
	}

	unread, _ := ms.CountUnread(context.Background(), "alice")
	if unread != 1 {
		t.Errorf("unread = %d, want 1", unread)
	}
}

func TestSettle_ForcedLossLosesFullStake(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "bob", 2000)
	seedTrade(t, ms, "t2", "bob", 500, 2*time.Minute, model.ExpectedLoss)

	res, err := newSettler(ms, 0).Settle(context.Background(), "t2", "bob")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Won {
		t.Fatal("forced loss must not win")
	}
	if !res.ProfitLoss.Equal(d(-500)) {
		t.Errorf("profitLoss = %s, want -500", res.ProfitLoss)
	}
	if !res.NewBalance.Equal(d(1500)) {
		t.Errorf("newBalance = %s, want 1500", res.NewBalance)
	}
}

func TestSettle_RandomDrawAgainstWinRate(t *testing.T) {
	tests := []struct {
		roll float64
		won  bool
	}{
		{0, true},
		{44.99, true},
		{45, false},
		{99.9, false},
	}
	for _, tc := range tests {
		ms := store.NewMemoryStore()
		seedWallet(t, ms, "u", 1000)
		seedTrade(t, ms, "t", "u", 100, 2*time.Minute, "")

		res, err := newSettler(ms, tc.roll).Settle(context.Background(), "t", "u")
		if err != nil {
			t.Fatalf("roll %v: %v", tc.roll, err)
		}
		if res.Won != tc.won {
			t.Errorf("roll %v: won = %v, want %v", tc.roll, res.Won, tc.won)
		}
	}
}

func TestSettle_UsesAdminLossPercentage(t *testing.T) {
	ms := store.NewMemoryStore()
	ps := model.DefaultSettings()
	ps.LossPercentage = d(50)
	ms.UpdateSettings(context.Background(), &ps)
	seedWallet(t, ms, "u", 1000)
	seedTrade(t, ms, "t", "u", 200, 2*time.Minute, model.ExpectedLoss)

	res, err := newSettler(ms, 0).Settle(context.Background(), "t", "u")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !res.ProfitLoss.Equal(d(-100)) {
		t.Errorf("profitLoss = %s, want -100", res.ProfitLoss)
	}
}

func TestSettle_IdempotentOnResolvedTrade(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "alice", 1000)
	seedTrade(t, ms, "t1", "alice", 100, 2*time.Minute, model.ExpectedWin)
	s := newSettler(ms, 0)

	if _, err := s.Settle(context.Background(), "t1", "alice"); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	before := walletOf(t, ms, "alice")

	res, err := s.Settle(context.Background(), "t1", "alice")
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if res.State != trade.AlreadyProcessed || res.Status != model.TradeStatusWon {
		t.Fatalf("expected already processed/won, got state=%d status=%s", res.State, res.Status)
	}
	resp, ok := res.Response().(trade.ProcessedResponse)
	if !ok || resp.Message != "Trade already processed" {
		t.Errorf("unexpected response %#v", res.Response())
	}

	after := walletOf(t, ms, "alice")
	if !after.Balance.Equal(before.Balance) {
		t.Errorf("second settle changed balance: %s -> %s", before.Balance, after.Balance)
	}
	txs, _ := ms.ListTransactions(context.Background(), "alice", 0)
	if len(txs) != 1 {
		t.Errorf("expected exactly one ledger entry, got %d", len(txs))
	}
}

func TestSettle_ConcurrentAttemptsSettleOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "alice", 1000)
	seedTrade(t, ms, "t1", "alice", 100, 2*time.Minute, model.ExpectedWin)
	s := newSettler(ms, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	settled := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Settle(context.Background(), "t1", "alice")
			if err != nil {
				t.Errorf("settle: %v", err)
				return
			}
			if res.State == trade.Settled {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if settled != 1 {
		t.Errorf("settled %d times, want 1", settled)
	}
	if w := walletOf(t, ms, "alice"); !w.Balance.Equal(d(1080)) {
		t.Errorf("balance = %s, want 1080", w.Balance)
	}
}

func TestSettle_StillActive(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "alice", 1000)
	seedTrade(t, ms, "t1", "alice", 100, 10500*time.Millisecond, model.ExpectedWin)

	res, err := newSettler(ms, 0).Settle(context.Background(), "t1", "alice")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.State != trade.StillActive {
		t.Fatalf("expected still active, got %d", res.State)
	}
	// 60s duration, 10.5s elapsed: 49.5s left, rounded up.
	if res.Remaining != 50 {
		t.Errorf("remaining = %d, want 50", res.Remaining)
	}
	if !res.EndTime.Equal(t0.Add(49500 * time.Millisecond)) {
		t.Errorf("endTime = %s", res.EndTime)
	}

	got, _ := ms.GetTrade(context.Background(), "t1")
	if got.Status != model.TradeStatusPending {
		t.Error("active trade must stay pending")
	}
	if w := walletOf(t, ms, "alice"); !w.LockedBalance.Equal(d(100)) {
		t.Errorf("stake must stay locked, got %s", w.LockedBalance)
	}
}

func TestSettle_ExplicitEndTimeWins(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "alice", 1000)
	tr := &model.Trade{
		ID: "t1", UserID: "alice", Pair: "ETH/USDT", TradeType: model.TradeTypeBuy,
		Amount: d(10), EntryPrice: d(3000), Duration: 60,
		TimerStartedAt: t0.Add(-time.Hour), Status: model.TradeStatusPending, CreatedAt: t0.Add(-time.Hour),
	}
	end := t0.Add(5 * time.Second)
	tr.EndTime = &end
	ms.OpenTrade(context.Background(), tr, nil)

	res, err := newSettler(ms, 0).Settle(context.Background(), "t1", "alice")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.State != trade.StillActive || res.Remaining != 5 {
		t.Errorf("expected active with 5s left, got state=%d remaining=%d", res.State, res.Remaining)
	}
}

func TestSettle_Errors(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "alice", 1000)
	seedTrade(t, ms, "t1", "alice", 100, 2*time.Minute, "")
	s := newSettler(ms, 0)

	tests := []struct {
		name    string
		tradeID string
		userID  string
		want    error
	}{
		{"missing trade id", "", "alice", trade.ErrValidation},
		{"missing user id", "t1", "", trade.ErrValidation},
		{"unknown trade", "nope", "alice", trade.ErrTradeNotFound},
		{"other user's trade", "t1", "mallory", trade.ErrTradeNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Settle(context.Background(), tc.tradeID, tc.userID)
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}

	got, _ := ms.GetTrade(context.Background(), "t1")
	if got.Status != model.TradeStatusPending {
		t.Error("rejected calls must not mutate the trade")
	}
}

func TestSettle_RecordsWagering(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedWallet(t, ms, "alice", 1000)
	ms.CreateOffer(ctx, &model.Offer{
		ID: "o1", Title: "Welcome", Type: model.OfferFirstDeposit,
		BonusAmount: d(50), WageringMultiplier: d(2), IsActive: true, ValidFrom: t0.Add(-time.Hour),
	})
	if _, err := ms.ClaimBonus(ctx, &store.BonusClaimRequest{UserID: "alice", OfferID: "o1", BonusAmount: d(50), Now: t0}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	seedTrade(t, ms, "t1", "alice", 100, 2*time.Minute, model.ExpectedLoss)

	if _, err := newSettler(ms, 0).Settle(ctx, "t1", "alice"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	bonuses, _ := ms.ListUserBonuses(ctx, "alice")
	if len(bonuses) != 1 {
		t.Fatalf("expected one bonus, got %d", len(bonuses))
	}
	b := bonuses[0]
	if b.Status != model.BonusCompleted || !b.UnlockedAmount.Equal(d(50)) {
		t.Errorf("bonus should be unlocked after 100 volume, got status=%s unlocked=%s", b.Status, b.UnlockedAmount)
	}

	// Settlement notification plus the unlock notification.
	if n, _ := ms.CountUnread(ctx, "alice"); n != 2 {
		t.Errorf("unread = %d, want 2", n)
	}
}

type recordingMailer struct {
	mu    sync.Mutex
	calls []map[string]any
	err   error
}

func (m *recordingMailer) Send(_ context.Context, _, emailType string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emailType != mailer.TypeTradeResult {
		return mailer.ErrUnknownType
	}
	m.calls = append(m.calls, data)
	return m.err
}

func TestSettle_EmailIsBestEffort(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "alice", 1000)
	seedTrade(t, ms, "t1", "alice", 100, 2*time.Minute, model.ExpectedWin)

	rm := &recordingMailer{err: errors.New("smtp down")}
	s := trade.NewSettler(ms, rm, nil)
	s.Now = func() time.Time { return t0 }

	res, err := s.Settle(context.Background(), "t1", "alice")
	if err != nil {
		t.Fatalf("mail failure must not fail settlement: %v", err)
	}
	s.Wait()

	if res.State != trade.Settled {
		t.Fatalf("expected settled, got %d", res.State)
	}
	if len(rm.calls) != 1 {
		t.Fatalf("expected one email, got %d", len(rm.calls))
	}
	if rm.calls[0]["won"] != true || rm.calls[0]["pair"] != "BTC/USDT" {
		t.Errorf("unexpected email data %v", rm.calls[0])
	}
}

func TestProfitLoss_Sign(t *testing.T) {
	for _, amt := range []float64{1, 10.5, 1000, 123456.78} {
		win := trade.ProfitLoss(d(amt), true, d(80), d(100))
		if !win.IsPositive() || !win.Equal(d(amt).Mul(d(0.8))) {
			t.Errorf("win on %v = %s", amt, win)
		}
		loss := trade.ProfitLoss(d(amt), false, d(80), d(100))
		if !loss.IsNegative() || !loss.Abs().Equal(d(amt)) {
			t.Errorf("loss on %v = %s", amt, loss)
		}
	}
}

func TestSyntheticExitPrice(t *testing.T) {
	tests := []struct {
		tradeType string
		won       bool
		want      decimal.Decimal
	}{
		{model.TradeTypeBuy, true, d(101)},
		{model.TradeTypeBuy, false, d(99)},
		{model.TradeTypeSell, true, d(99)},
		{model.TradeTypeSell, false, d(101)},
	}
	for _, tc := range tests {
		got := trade.SyntheticExitPrice(d(100), tc.tradeType, tc.won)
		if !got.Equal(tc.want) {
			t.Errorf("%s won=%v: got %s, want %s", tc.tradeType, tc.won, got, tc.want)
		}
	}
}

// failingStore rejects settlement of the listed trades.
type failingStore struct {
	*store.MemoryStore
	fail map[string]bool
}

func (f *failingStore) ApplySettlement(ctx context.Context, st *store.Settlement) (*model.Wallet, error) {
	if f.fail[st.TradeID] {
		return nil, errors.New("ledger unavailable")
	}
	return f.MemoryStore.ApplySettlement(ctx, st)
}

func TestSweeper_ParksFailingTrades(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "alice", 1000)
	seedWallet(t, ms, "bob", 1000)
	// The two broken trades expire first and fill a batch of two.
	seedTrade(t, ms, "broken-1", "alice", 100, 5*time.Minute, model.ExpectedWin)
	seedTrade(t, ms, "broken-2", "alice", 100, 4*time.Minute, model.ExpectedWin)
	seedTrade(t, ms, "healthy", "bob", 100, 2*time.Minute, model.ExpectedWin)

	fs := &failingStore{MemoryStore: ms, fail: map[string]bool{"broken-1": true, "broken-2": true}}
	settler := trade.NewSettler(fs, nil, nil)
	settler.Rand = func() float64 { return 0 }
	now := t0
	settler.Now = func() time.Time { return now }
	sw := trade.NewSweeper(settler, fs, 2)

	if n, _ := sw.Sweep(context.Background()); n != 0 {
		t.Fatalf("first sweep settled %d, want 0", n)
	}
	if sw.Parked() != 2 {
		t.Fatalf("parked = %d, want 2", sw.Parked())
	}

	// The parked trades are paged past.
	if n, _ := sw.Sweep(context.Background()); n != 1 {
		t.Fatalf("second sweep settled %d, want 1", n)
	}
	if got, _ := ms.GetTrade(context.Background(), "healthy"); got.Status != model.TradeStatusWon {
		t.Errorf("healthy trade status = %s, want won", got.Status)
	}

	// Once the park expires and the store recovers, they settle.
	delete(fs.fail, "broken-1")
	delete(fs.fail, "broken-2")
	if n, _ := sw.Sweep(context.Background()); n != 0 {
		t.Errorf("sweep inside the park window settled %d, want 0", n)
	}
	now = t0.Add(time.Minute)
	if n, _ := sw.Sweep(context.Background()); n != 2 {
		t.Errorf("sweep after the park window settled %d, want 2", n)
	}
	if sw.Parked() != 0 {
		t.Errorf("parked = %d after recovery, want 0", sw.Parked())
	}
}

func TestSweeper_SettlesOnlyDueTrades(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "alice", 1000)
	seedWallet(t, ms, "bob", 1000)
	seedTrade(t, ms, "due-1", "alice", 100, 2*time.Minute, model.ExpectedWin)
	seedTrade(t, ms, "due-2", "bob", 100, 61*time.Second, model.ExpectedLoss)
	seedTrade(t, ms, "running", "alice", 100, 10*time.Second, "")

	sw := trade.NewSweeper(newSettler(ms, 0), ms, 10)
	n, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("settled %d, want 2", n)
	}

	running, _ := ms.GetTrade(context.Background(), "running")
	if running.Status != model.TradeStatusPending {
		t.Error("running trade must not be settled")
	}

	// Nothing left to do.
	if n, _ := sw.Sweep(context.Background()); n != 0 {
		t.Errorf("second sweep settled %d, want 0", n)
	}
}
