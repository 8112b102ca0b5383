package limits

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckLimit_WithinLimits(t *testing.T) {
	limiter := NewLimiter(d(1000), d(2000), d(5000))

	err := limiter.CheckLimit("BTC/USDT", d(100), nil)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_PerTradeExceeded(t *testing.T) {
	limiter := NewLimiter(d(1000), d(2000), d(5000))

	err := limiter.CheckLimit("BTC/USDT", d(1000.01), nil)
	if err != ErrPerTradeLimitExceeded {
		t.Errorf("expected ErrPerTradeLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_PerPairExceeded(t *testing.T) {
	limiter := NewLimiter(d(1000), d(2000), d(5000))

	// Existing 1950 + new 100 = 2050 > 2000.
	existing := map[string]decimal.Decimal{
		"BTC/USDT": d(1950),
	}

	err := limiter.CheckLimit("BTC/USDT", d(100), existing)
	if err != ErrPerPairLimitExceeded {
		t.Errorf("expected ErrPerPairLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_PerPairAtLimit(t *testing.T) {
	limiter := NewLimiter(d(1000), d(2000), d(5000))

	existing := map[string]decimal.Decimal{
		"BTC/USDT": d(1900),
	}

	err := limiter.CheckLimit("BTC/USDT", d(100), existing)
	if err != nil {
		t.Errorf("exposure equal to the limit should pass, got %v", err)
	}
}

func TestCheckLimit_CorrelatedExceeded(t *testing.T) {
	limiter := NewLimiter(d(1000), d(2000), d(3000))

	existing := map[string]decimal.Decimal{
		"BTC/USDT": d(1500), // same base asset
		"BTC/USDC": d(1400), // same base asset
	}

	// total = 200 + 1500 + 1400 = 3100 > 3000
	err := limiter.CheckLimit("BTC/BUSD", d(200), existing)
	if err != ErrCorrelatedLimitExceeded {
		t.Errorf("expected ErrCorrelatedLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_OtherBaseAssetsIgnored(t *testing.T) {
	limiter := NewLimiter(d(1000), d(2000), d(3000))

	existing := map[string]decimal.Decimal{
		"BTC/USDT": d(1500), // correlated with target
		"ETH/USDT": d(1900), // different base asset
	}

	// Correlated total = 500 + 1500 = 2000 < 3000.
	err := limiter.CheckLimit("BTC/USDC", d(500), existing)
	if err != nil {
		t.Errorf("other base assets should be ignored, got %v", err)
	}
}

func TestCheckLimit_ZeroDisables(t *testing.T) {
	limiter := NewLimiter(decimal.Zero, decimal.Zero, decimal.Zero)

	existing := map[string]decimal.Decimal{
		"BTC/USDT": d(1_000_000),
	}

	err := limiter.CheckLimit("BTC/USDT", d(1_000_000), existing)
	if err != nil {
		t.Errorf("zero limits should disable checks, got %v", err)
	}
}

func TestBaseAsset(t *testing.T) {
	tests := map[string]string{
		"BTC/USDT": "BTC",
		"ETH/BTC":  "ETH",
		"SOLUSDT":  "SOLUSDT",
	}
	for in, want := range tests {
		if got := baseAsset(in); got != want {
			t.Errorf("baseAsset(%q) = %q, want %q", in, got, want)
		}
	}
}
