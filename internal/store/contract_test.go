package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// runStoreContract runs the behaviour every Store implementation must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("TradeLifecycle", func(t *testing.T) { testTradeLifecycle(t, newStore(t)) })
	t.Run("SettlementRace", func(t *testing.T) { testSettlementRace(t, newStore(t)) })
	t.Run("BonusClaim", func(t *testing.T) { testBonusClaim(t, newStore(t)) })
	t.Run("DepositBackedClaim", func(t *testing.T) { testDepositBackedClaim(t, newStore(t)) })
	t.Run("Wagering", func(t *testing.T) { testWagering(t, newStore(t)) })
	t.Run("SpinCooldown", func(t *testing.T) { testSpinCooldown(t, newStore(t)) })
	t.Run("Notifications", func(t *testing.T) { testNotifications(t, newStore(t)) })
	t.Run("Platform", func(t *testing.T) { testPlatform(t, newStore(t)) })
}

func mustWallet(t *testing.T, st Store, userID, balance string) {
	t.Helper()
	if err := st.CreateWallet(context.Background(), &model.Wallet{UserID: userID, Balance: d(balance), UpdatedAt: base}); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
}

func newTrade(userID, amount string, started time.Time) *model.Trade {
	return &model.Trade{
		ID:               uuid.New().String(),
		UserID:           userID,
		Pair:             "BTC/USDT",
		TradeType:        model.TradeTypeBuy,
		Amount:           d(amount),
		EntryPrice:       d("60000"),
		Duration:         60,
		TimerStartedAt:   started,
		Status:           model.TradeStatusPending,
		ProfitPercentage: decimal.NewNullDecimal(d("80")),
		CreatedAt:        started,
	}
}

func settlementFor(tr *model.Trade, status string, pl string, at time.Time) *Settlement {
	return &Settlement{
		TradeID:     tr.ID,
		UserID:      tr.UserID,
		Status:      status,
		ProfitLoss:  d(pl),
		ExitPrice:   d("60600"),
		SettledAt:   at,
		Transaction: model.Transaction{ID: uuid.New().String(), Type: model.TxTradeWin, Description: "BTC/USDT buy"},
		Notification: model.Notification{
			ID: uuid.New().String(), UserID: tr.UserID, Type: model.NotificationTradeResult,
			Title: "Trade won!", Message: "You won", CreatedAt: at,
		},
	}
}

func testTradeLifecycle(t *testing.T, st Store) {
	ctx := context.Background()
	mustWallet(t, st, "u1", "1000")

	tr := newTrade("u1", "400", base)
	w, err := st.OpenTrade(ctx, tr, nil)
	if err != nil {
		t.Fatalf("open trade: %v", err)
	}
	if !w.LockedBalance.Equal(d("400")) || !w.Balance.Equal(d("1000")) {
		t.Fatalf("wallet after open = %s/%s, want 1000/400", w.Balance, w.LockedBalance)
	}

	if _, err := st.OpenTrade(ctx, newTrade("u1", "700", base), nil); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("over-stake: got %v, want ErrInsufficientBalance", err)
	}
	if _, err := st.OpenTrade(ctx, newTrade("ghost", "1", base), nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("no wallet: got %v, want ErrNotFound", err)
	}

	exp, err := st.OpenExposure(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !exp["BTC/USDT"].Equal(d("400")) {
		t.Errorf("exposure = %v, want 400 on BTC/USDT", exp)
	}

	errLimit := errors.New("over limit")
	var seen map[string]decimal.Decimal
	_, err = st.OpenTrade(ctx, newTrade("u1", "100", base), func(exposure map[string]decimal.Decimal) error {
		seen = exposure
		return errLimit
	})
	if !errors.Is(err, errLimit) {
		t.Errorf("rejected by check: got %v, want the check's error", err)
	}
	if !seen["BTC/USDT"].Equal(d("400")) {
		t.Errorf("check saw exposure %v, want 400 on BTC/USDT", seen)
	}
	if w, _ := st.GetWallet(ctx, "u1"); !w.LockedBalance.Equal(d("400")) {
		t.Errorf("rejected open locked %s, want 400", w.LockedBalance)
	}

	if due, _ := st.ListDueTrades(ctx, base.Add(30*time.Second), 10); len(due) != 0 {
		t.Errorf("due before expiry: %d trades", len(due))
	}
	due, err := st.ListDueTrades(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != tr.ID {
		t.Fatalf("due at expiry = %v, want [%s]", due, tr.ID)
	}

	if err := st.SetExpectedResult(ctx, tr.ID, model.ExpectedWin); err != nil {
		t.Fatalf("set expected result: %v", err)
	}
	got, err := st.GetTrade(ctx, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ExpectedResult != model.ExpectedWin {
		t.Errorf("expected_result = %q", got.ExpectedResult)
	}
	if !got.ProfitPercentage.Valid || !got.ProfitPercentage.Decimal.Equal(d("80")) {
		t.Errorf("profit_percentage = %v, want 80", got.ProfitPercentage)
	}

	at := base.Add(61 * time.Second)
	w, err = st.ApplySettlement(ctx, settlementFor(tr, model.TradeStatusWon, "320", at))
	if err != nil {
		t.Fatalf("apply settlement: %v", err)
	}
	if !w.Balance.Equal(d("1320")) || !w.LockedBalance.IsZero() {
		t.Errorf("wallet after settle = %s/%s, want 1320/0", w.Balance, w.LockedBalance)
	}

	got, _ = st.GetTrade(ctx, tr.ID)
	if got.Status != model.TradeStatusWon || !got.ProfitLoss.Decimal.Equal(d("320")) || got.SettledAt == nil {
		t.Errorf("settled trade = %+v", got)
	}
	if !got.ExitPrice.Valid || !got.ExitPrice.Decimal.Equal(d("60600")) {
		t.Errorf("exit price = %v", got.ExitPrice)
	}

	txs, err := st.ListTransactions(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(txs))
	}
	if !txs[0].BalanceBefore.Equal(d("1000")) || !txs[0].BalanceAfter.Equal(d("1320")) || txs[0].ReferenceID != tr.ID {
		t.Errorf("ledger entry = %+v", txs[0])
	}
	if n, _ := st.CountUnread(ctx, "u1"); n != 1 {
		t.Errorf("unread = %d, want 1", n)
	}

	_, err = st.ApplySettlement(ctx, settlementFor(tr, model.TradeStatusLost, "-400", at))
	var already *AlreadySettledError
	if !errors.As(err, &already) || already.Status != model.TradeStatusWon {
		t.Fatalf("second settlement: got %v, want AlreadySettledError(won)", err)
	}
	if !errors.Is(err, ErrAlreadySettled) {
		t.Error("AlreadySettledError must match ErrAlreadySettled")
	}
	if w, _ := st.GetWallet(ctx, "u1"); !w.Balance.Equal(d("1320")) {
		t.Errorf("second settlement changed balance to %s", w.Balance)
	}

	if err := st.SetExpectedResult(ctx, tr.ID, model.ExpectedLoss); !errors.Is(err, ErrTradeNotPending) {
		t.Errorf("override settled trade: got %v, want ErrTradeNotPending", err)
	}
	if err := st.SetExpectedResult(ctx, "missing", model.ExpectedLoss); !errors.Is(err, ErrNotFound) {
		t.Errorf("override missing trade: got %v, want ErrNotFound", err)
	}
	if _, err := st.GetTrade(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing trade: got %v", err)
	}
	if due, _ := st.ListDueTrades(ctx, at.Add(time.Hour), 10); len(due) != 0 {
		t.Errorf("settled trade still due")
	}
	if list, _ := st.ListTradesByUser(ctx, "u1", 10); len(list) != 1 {
		t.Errorf("ListTradesByUser = %d trades, want 1", len(list))
	}
}

func testSettlementRace(t *testing.T, st Store) {
	ctx := context.Background()
	mustWallet(t, st, "u1", "1000")
	tr := newTrade("u1", "100", base)
	if _, err := st.OpenTrade(ctx, tr, nil); err != nil {
		t.Fatal(err)
	}

	const n = 6
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := st.ApplySettlement(ctx, settlementFor(tr, model.TradeStatusWon, "80", base.Add(time.Minute)))
			errs <- err
		}()
	}

	wins := 0
	for i := 0; i < n; i++ {
		err := <-errs
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadySettled):
		default:
			t.Errorf("unexpected settlement error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d settlements succeeded, want exactly 1", wins)
	}
	w, _ := st.GetWallet(ctx, "u1")
	if !w.Balance.Equal(d("1080")) || !w.LockedBalance.IsZero() {
		t.Errorf("wallet = %s/%s, want 1080/0", w.Balance, w.LockedBalance)
	}
	if txs, _ := st.ListTransactions(ctx, "u1", 0); len(txs) != 1 {
		t.Errorf("ledger has %d entries, want 1", len(txs))
	}
}

func testBonusClaim(t *testing.T, st Store) {
	ctx := context.Background()
	mustWallet(t, st, "u1", "100")

	welcome := &model.Offer{
		ID: "welcome", Title: "Welcome", Type: model.OfferFirstDeposit,
		BonusPercentage: d("100"), MaxAmount: decimal.NewNullDecimal(d("10000")),
		OneTimeOnly: true, IsActive: true, ValidFrom: base.Add(-time.Hour), ExpiryDays: 7, CreatedAt: base,
	}
	closed := &model.Offer{
		ID: "closed", Title: "Closed", Type: model.OfferDeposit,
		BonusAmount: d("10"), IsActive: false, ValidFrom: base.Add(-time.Hour), CreatedAt: base.Add(time.Second),
	}
	for _, o := range []*model.Offer{welcome, closed} {
		if err := st.CreateOffer(ctx, o); err != nil {
			t.Fatalf("create offer %s: %v", o.ID, err)
		}
	}

	if active, _ := st.ListOffers(ctx, true); len(active) != 1 {
		t.Errorf("active offers = %d, want 1", len(active))
	}

	if _, err := st.RecordDeposit(ctx, &model.Deposit{ID: "dep-1", UserID: "u1", Amount: d("500"), CreatedAt: base}); err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	res, err := st.ClaimBonus(ctx, &BonusClaimRequest{
		UserID: "u1", OfferID: "welcome", DepositID: "dep-1", BonusAmount: d("500"), Now: base,
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !res.NewBalance.Equal(d("1100")) || !res.Amount.Equal(d("500")) {
		t.Errorf("claim result = %+v", res)
	}
	// No wagering requirement: unlocked at once.
	if res.UserBonus.Status != model.BonusCompleted || !res.UserBonus.UnlockedAmount.Equal(d("500")) {
		t.Errorf("bonus = %+v", res.UserBonus)
	}
	if res.UserBonus.ExpiresAt == nil || !res.UserBonus.ExpiresAt.Equal(base.AddDate(0, 0, 7)) {
		t.Errorf("expires_at = %v", res.UserBonus.ExpiresAt)
	}

	_, err = st.ClaimBonus(ctx, &BonusClaimRequest{UserID: "u1", OfferID: "welcome", BonusAmount: d("500"), Now: base})
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("second claim: got %v, want ErrAlreadyClaimed", err)
	}
	_, err = st.ClaimBonus(ctx, &BonusClaimRequest{UserID: "u1", OfferID: "closed", BonusAmount: d("10"), Now: base})
	if !errors.Is(err, ErrOfferUnavailable) {
		t.Errorf("inactive offer: got %v, want ErrOfferUnavailable", err)
	}
	_, err = st.ClaimBonus(ctx, &BonusClaimRequest{UserID: "u1", OfferID: "nope", BonusAmount: d("10"), Now: base})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing offer: got %v, want ErrNotFound", err)
	}

	w, _ := st.GetWallet(ctx, "u1")
	if !w.Balance.Equal(d("1100")) {
		t.Errorf("balance = %s, want 1100 (rejected claims credit nothing)", w.Balance)
	}

	if err := st.SetOfferActive(ctx, "closed", true); err != nil {
		t.Fatal(err)
	}
	if active, _ := st.ListOffers(ctx, true); len(active) != 2 {
		t.Errorf("active offers after toggle = %d, want 2", len(active))
	}
	if err := st.SetOfferActive(ctx, "nope", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("toggle missing offer: got %v", err)
	}
}

func testDepositBackedClaim(t *testing.T, st Store) {
	ctx := context.Background()
	mustWallet(t, st, "u1", "0")
	mustWallet(t, st, "u2", "0")
	offer := &model.Offer{
		ID: "reload", Title: "Reload", Type: model.OfferDeposit,
		BonusAmount: d("20"), IsActive: true, ValidFrom: base.Add(-time.Hour), CreatedAt: base,
	}
	if err := st.CreateOffer(ctx, offer); err != nil {
		t.Fatal(err)
	}

	w, err := st.RecordDeposit(ctx, &model.Deposit{ID: "dep-1", UserID: "u1", Amount: d("200"), Reference: "bank-77", CreatedAt: base})
	if err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	if !w.Balance.Equal(d("200")) {
		t.Errorf("balance after deposit = %s, want 200", w.Balance)
	}
	if _, err := st.RecordDeposit(ctx, &model.Deposit{ID: "dep-1", UserID: "u1", Amount: d("200"), CreatedAt: base}); err == nil {
		t.Error("duplicate deposit id was accepted")
	}
	if _, err := st.RecordDeposit(ctx, &model.Deposit{ID: "dep-x", UserID: "ghost", Amount: d("1"), CreatedAt: base}); !errors.Is(err, ErrNotFound) {
		t.Errorf("deposit without wallet: got %v, want ErrNotFound", err)
	}
	txs, _ := st.ListTransactions(ctx, "u1", 0)
	if len(txs) != 1 || txs[0].Type != model.TxDeposit || txs[0].ReferenceID != "dep-1" || !txs[0].BalanceAfter.Equal(d("200")) {
		t.Errorf("deposit ledger = %+v", txs)
	}

	res, err := st.ClaimBonus(ctx, &BonusClaimRequest{UserID: "u1", OfferID: "reload", DepositID: "dep-1", BonusAmount: d("20"), Now: base})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !res.NewBalance.Equal(d("220")) {
		t.Errorf("balance after claim = %s, want 220", res.NewBalance)
	}
	dep, err := st.GetDeposit(ctx, "dep-1")
	if err != nil {
		t.Fatal(err)
	}
	if !dep.Claimed() || !dep.Amount.Equal(d("200")) || dep.Reference != "bank-77" {
		t.Errorf("deposit after claim = %+v", dep)
	}

	// The same deposit cannot back a second claim, another user cannot
	// borrow it, and an unknown id is rejected.
	rejected := []struct {
		name string
		req  BonusClaimRequest
		want error
	}{
		{"reused", BonusClaimRequest{UserID: "u1", OfferID: "reload", DepositID: "dep-1", BonusAmount: d("20"), Now: base}, ErrDepositClaimed},
		{"other user", BonusClaimRequest{UserID: "u2", OfferID: "reload", DepositID: "dep-1", BonusAmount: d("20"), Now: base}, ErrNotFound},
		{"unknown", BonusClaimRequest{UserID: "u1", OfferID: "reload", DepositID: "forged", BonusAmount: d("20"), Now: base}, ErrNotFound},
	}
	for _, tc := range rejected {
		req := tc.req
		if _, err := st.ClaimBonus(ctx, &req); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
	for user, want := range map[string]string{"u1": "220", "u2": "0"} {
		w, _ := st.GetWallet(ctx, user)
		if !w.Balance.Equal(d(want)) {
			t.Errorf("%s balance = %s, want %s", user, w.Balance, want)
		}
	}

	// Concurrent claims on one deposit: exactly one lands.
	if _, err := st.RecordDeposit(ctx, &model.Deposit{ID: "dep-2", UserID: "u1", Amount: d("100"), CreatedAt: base.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.ClaimBonus(ctx, &BonusClaimRequest{UserID: "u1", OfferID: "reload", DepositID: "dep-2", BonusAmount: d("20"), Now: base.Add(time.Minute)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrDepositClaimed):
			t.Errorf("concurrent claim: unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("concurrent claims succeeded %d times, want 1", ok)
	}
	w, _ = st.GetWallet(ctx, "u1")
	if !w.Balance.Equal(d("340")) {
		t.Errorf("balance = %s, want 340", w.Balance)
	}

	deps, err := st.ListDeposits(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 2 || deps[0].ID != "dep-1" || deps[1].ID != "dep-2" {
		t.Errorf("deposits = %+v", deps)
	}
	if deps, _ := st.ListDeposits(ctx, "u2"); len(deps) != 0 {
		t.Errorf("u2 deposits = %+v", deps)
	}
}

func testWagering(t *testing.T, st Store) {
	ctx := context.Background()
	mustWallet(t, st, "u1", "0")
	offer := &model.Offer{
		ID: "reload", Title: "Reload", Type: model.OfferDeposit,
		BonusAmount: d("50"), WageringMultiplier: d("2"), IsActive: true,
		ValidFrom: base.Add(-time.Hour), ExpiryDays: 1, CreatedAt: base,
	}
	if err := st.CreateOffer(ctx, offer); err != nil {
		t.Fatal(err)
	}

	claim := func(at time.Time) model.UserBonus {
		res, err := st.ClaimBonus(ctx, &BonusClaimRequest{UserID: "u1", OfferID: "reload", BonusAmount: d("50"), Now: at})
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		return res.UserBonus
	}
	first := claim(base)
	second := claim(base.Add(time.Minute))
	third := claim(base.Add(2 * time.Minute))
	if first.Status != model.BonusActive || !first.LockedAmount.Equal(d("50")) || !first.WageringRequired.Equal(d("100")) {
		t.Fatalf("bonus with wagering = %+v", first)
	}

	// 150 completes the oldest (100) and half of the next.
	done, err := st.RecordWagering(ctx, "u1", d("150"), base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 || done[0].ID != first.ID {
		t.Fatalf("completed = %v, want [%s]", done, first.ID)
	}

	bonuses, _ := st.ListUserBonuses(ctx, "u1")
	byID := map[string]model.UserBonus{}
	for _, b := range bonuses {
		byID[b.ID] = b
	}
	if b := byID[first.ID]; b.Status != model.BonusCompleted || !b.UnlockedAmount.Equal(d("50")) || !b.LockedAmount.IsZero() {
		t.Errorf("first = %+v", b)
	}
	if b := byID[second.ID]; b.Status != model.BonusActive || !b.WageringProgress.Equal(d("50")) {
		t.Errorf("second = %+v", b)
	}

	if err := st.CancelBonus(ctx, second.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := st.CancelBonus(ctx, second.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel twice: got %v, want ErrNotFound", err)
	}
	if err := st.MarkBonusAnimationShown(ctx, "u1", third.ID); err != nil {
		t.Errorf("animation shown: %v", err)
	}
	if err := st.MarkBonusAnimationShown(ctx, "someone-else", third.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("animation shown by other user: got %v", err)
	}

	// Only the third is still active; it expires a day after its claim.
	n, err := st.ExpireBonuses(ctx, base.Add(12*time.Hour))
	if err != nil || n != 0 {
		t.Errorf("expire early = %d, %v", n, err)
	}
	n, err = st.ExpireBonuses(ctx, base.Add(25*time.Hour))
	if err != nil || n != 1 {
		t.Errorf("expire = %d, %v; want 1", n, err)
	}
	bonuses, _ = st.ListUserBonuses(ctx, "u1")
	for _, b := range bonuses {
		if b.ID == third.ID && (b.Status != model.BonusExpired || !b.AnimationShown) {
			t.Errorf("third = %+v", b)
		}
	}
}

func testSpinCooldown(t *testing.T, st Store) {
	ctx := context.Background()
	mustWallet(t, st, "u1", "0")
	prizes := []model.SpinPrize{{Label: "10", Amount: d("10"), Weight: 1}, {Label: "none", Amount: d("0"), Weight: 1}}
	if err := st.CreateOffer(ctx, &model.Offer{
		ID: "wheel", Title: "Wheel", Type: model.OfferDailySpin, IsActive: true,
		ValidFrom: base.Add(-time.Hour), SpinCooldownHours: 24, SpinPrizes: prizes, CreatedAt: base,
	}); err != nil {
		t.Fatal(err)
	}

	o, err := st.GetOffer(ctx, "wheel")
	if err != nil {
		t.Fatal(err)
	}
	if len(o.SpinPrizes) != 2 || !o.SpinPrizes[0].Amount.Equal(d("10")) {
		t.Errorf("spin prizes = %+v", o.SpinPrizes)
	}

	if last, err := st.LastSpin(ctx, "u1", "wheel"); err != nil || last != nil {
		t.Fatalf("LastSpin before any spin = %v, %v", last, err)
	}

	spin := func(at time.Time, idx int) (*SpinClaimResult, error) {
		return st.ClaimSpinPrize(ctx, &SpinClaimRequest{
			UserID: "u1", OfferID: "wheel", Prize: prizes[idx], Index: idx, Cooldown: 24 * time.Hour, Now: at,
		})
	}

	res, err := spin(base, 0)
	if err != nil {
		t.Fatalf("first spin: %v", err)
	}
	if !res.NewBalance.Equal(d("10")) {
		t.Errorf("balance after spin = %s", res.NewBalance)
	}
	if _, err := spin(base.Add(23*time.Hour), 0); !errors.Is(err, ErrSpinCooldown) {
		t.Errorf("spin in cooldown: got %v", err)
	}
	res, err = spin(base.Add(24*time.Hour), 1)
	if err != nil {
		t.Fatalf("spin after cooldown: %v", err)
	}
	if !res.NewBalance.Equal(d("10")) {
		t.Errorf("zero prize changed balance to %s", res.NewBalance)
	}

	last, err := st.LastSpin(ctx, "u1", "wheel")
	if err != nil || last == nil || last.PrizeIndex != 1 {
		t.Errorf("LastSpin = %+v, %v", last, err)
	}
	if txs, _ := st.ListTransactions(ctx, "u1", 0); len(txs) != 1 {
		t.Errorf("ledger has %d entries, want 1 (zero prizes write none)", len(txs))
	}
}

func testNotifications(t *testing.T, st Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		n := &model.Notification{
			ID: uuid.New().String(), UserID: "u1", Type: model.NotificationSystem,
			Title: "t", Message: "m", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.CreateNotification(ctx, n); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.ID)
	}
	other := &model.Notification{ID: uuid.New().String(), UserID: "u2", Type: model.NotificationBonus, Title: "t", Message: "m", CreatedAt: base}
	if err := st.CreateNotification(ctx, other); err != nil {
		t.Fatal(err)
	}

	list, err := st.ListNotifications(ctx, "u1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != ids[2] {
		t.Errorf("newest first: got %d items, first %v", len(list), list)
	}

	if n, _ := st.CountUnread(ctx, "u1"); n != 3 {
		t.Errorf("unread = %d, want 3", n)
	}
	if err := st.MarkNotificationRead(ctx, "u1", ids[0]); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkNotificationRead(ctx, "u1", ids[0]); err != nil {
		t.Errorf("mark read twice: %v", err)
	}
	if n, _ := st.CountUnread(ctx, "u1"); n != 2 {
		t.Errorf("unread = %d, want 2", n)
	}
	if err := st.MarkNotificationRead(ctx, "u1", other.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("mark other user's notification: got %v", err)
	}
	if err := st.MarkAllNotificationsRead(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := st.CountUnread(ctx, "u1"); n != 0 {
		t.Errorf("unread after mark all = %d", n)
	}
	if n, _ := st.CountUnread(ctx, "u2"); n != 1 {
		t.Errorf("other user's unread = %d, want 1", n)
	}
}

func testPlatform(t *testing.T, st Store) {
	ctx := context.Background()

	ps, err := st.GetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ps.WinRate.Equal(d("45")) || !ps.ProfitPercentage.Equal(d("80")) || !ps.LossPercentage.Equal(d("100")) {
		t.Errorf("default settings = %+v", ps)
	}

	ps.WinRate = d("30.5")
	ps.SMTP = model.SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 465, Password: "pw", FromEmail: "a@example.com"}
	if err := st.UpdateSettings(ctx, ps); err != nil {
		t.Fatal(err)
	}
	got, _ := st.GetSettings(ctx)
	if !got.WinRate.Equal(d("30.5")) || got.SMTP.Host != "smtp.example.com" || got.SMTP.Password != "pw" {
		t.Errorf("updated settings = %+v", got)
	}

	if _, err := st.GetProfile(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing profile: got %v", err)
	}
	if err := st.UpsertProfile(ctx, &model.Profile{UserID: "u1", Email: "a@example.com", DisplayName: "A"}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertProfile(ctx, &model.Profile{UserID: "u1", Email: "b@example.com", DisplayName: "B"}); err != nil {
		t.Fatal(err)
	}
	if p, _ := st.GetProfile(ctx, "u1"); p == nil || p.Email != "b@example.com" {
		t.Errorf("profile = %+v", p)
	}

	for _, c := range []model.SocialChannel{
		{ID: "tg", Name: "Telegram", Platform: "telegram", URL: "https://t.me/x", SortOrder: 2, IsVisible: true},
		{ID: "wa", Name: "WhatsApp", Platform: "whatsapp", URL: "https://wa.me/x", SortOrder: 1, IsVisible: true},
		{ID: "dc", Name: "Discord", Platform: "discord", URL: "https://discord.gg/x", SortOrder: 3, IsVisible: false},
	} {
		if err := st.UpsertSocialChannel(ctx, &c); err != nil {
			t.Fatal(err)
		}
	}
	visible, _ := st.ListSocialChannels(ctx, true)
	if len(visible) != 2 || visible[0].ID != "wa" {
		t.Errorf("visible channels = %+v", visible)
	}
	if err := st.SetSocialChannelVisible(ctx, "dc", true); err != nil {
		t.Fatal(err)
	}
	if all, _ := st.ListSocialChannels(ctx, true); len(all) != 3 {
		t.Errorf("visible after toggle = %d, want 3", len(all))
	}
	if err := st.SetSocialChannelVisible(ctx, "nope", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("toggle missing channel: got %v", err)
	}
}
