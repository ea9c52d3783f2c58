package fpmath_test

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"StackFutures/internal/fpmath"
)

// ============================================================================
// Test: Bps / RatioBps
// ============================================================================

func TestBps_Floor(t *testing.T) {
	// 999 * 100 / 10000 = 9.99 -> truncates to 9
	got, err := fpmath.Bps(999, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 9 {
		t.Errorf("got %d, want 9", got)
	}
}

func TestBps_FullRate(t *testing.T) {
	got, err := fpmath.Bps(1_000_000, 10_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1_000_000 {
		t.Errorf("got %d, want 1_000_000", got)
	}
}

func TestBps_OverflowOnHugeRate(t *testing.T) {
	// rate > 10000 bps on MaxUint64 pushes the quotient past uint64
	_, err := fpmath.Bps(math.MaxUint64, 65_535)
	if !errors.Is(err, fpmath.ErrMathOverflow) {
		t.Errorf("got %v, want ErrMathOverflow", err)
	}
}

func TestRatioBps_ZeroDenominator(t *testing.T) {
	_, err := fpmath.RatioBpsU64(100, 0)
	if !errors.Is(err, fpmath.ErrMathOverflow) {
		t.Errorf("got %v, want ErrMathOverflow", err)
	}
}

func TestRatioBps_Basic(t *testing.T) {
	// 50/200 = 25% = 2500 bps
	got, err := fpmath.RatioBpsU64(50, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2500 {
		t.Errorf("got %d, want 2500", got)
	}
}

// ============================================================================
// Test: Scale
// ============================================================================

func TestScale_ShrinkTruncates(t *testing.T) {
	got := fpmath.Scale(big.NewInt(1_999_999), 6, 3)
	if got.Int64() != 1_999 {
		t.Errorf("got %d, want 1_999", got.Int64())
	}
}

func TestScale_Grow(t *testing.T) {
	got := fpmath.Scale(big.NewInt(42), 2, 6)
	if got.Int64() != 420_000 {
		t.Errorf("got %d, want 420_000", got.Int64())
	}
}

func TestScale_NoOp(t *testing.T) {
	got := fpmath.Scale(big.NewInt(7), 6, 6)
	if got.Int64() != 7 {
		t.Errorf("got %d, want 7", got.Int64())
	}
}

// ============================================================================
// Test: NotionalQuote / PnLQuote
// ============================================================================

// Concrete scenario: price_decimals=6, quote_decimals=6, size=1.0 unit,
// nav=100.0 => notional = 100.0 in quote units.
func TestNotionalQuote_Concrete(t *testing.T) {
	notional := fpmath.NotionalQuote(1_000_000, 100_000000, 6, 6)
	if notional.Int64() != 100_000000 {
		t.Errorf("got %d, want 100_000000", notional.Int64())
	}
}

func TestPnLQuote_ZeroWhenFlat(t *testing.T) {
	pnl := fpmath.PnLQuote(1_000_000, 100_000000, 100_000000, 6, 6)
	if pnl.Sign() != 0 {
		t.Errorf("flat NAV should have zero pnl, got %s", pnl)
	}
}

// NAV 100.0 -> 110.0 on 1.0 unit => long pnl = +10.0 quote units.
func TestPnLQuote_LongGain(t *testing.T) {
	pnl := fpmath.PnLQuote(1_000_000, 100_000000, 110_000000, 6, 6)
	if pnl.Int64() != 10_000000 {
		t.Errorf("got %d, want 10_000000", pnl.Int64())
	}
}

func TestPnLQuote_ShortIsNegationOfLong(t *testing.T) {
	cases := []struct {
		entry, close uint64
	}{
		{100_000000, 110_000000},
		{110_000000, 100_000000},
		{100_000000, 100_000000},
		{1, 200_000000},
	}
	for _, c := range cases {
		long := fpmath.PnLQuote(3_500_000, c.entry, c.close, 6, 6)
		short := new(big.Int).Neg(fpmath.PnLQuote(3_500_000, c.entry, c.close, 6, 6))
		sum := new(big.Int).Add(long, short)
		if sum.Sign() != 0 {
			t.Errorf("entry=%d close=%d: long+short = %s, want 0", c.entry, c.close, sum)
		}
	}
}

func TestPnLQuote_PrecisionMismatch(t *testing.T) {
	// price_decimals=2, quote_decimals=6: 1.0 unit, entry 100.00, close 101.50
	pnl := fpmath.PnLQuote(1_000_000, 10000, 10150, 2, 6)
	if pnl.Int64() != 1_500000 {
		t.Errorf("got %d, want 1_500000", pnl.Int64())
	}
}

// ============================================================================
// Test: ClampBig / narrowing
// ============================================================================

func TestClampBig(t *testing.T) {
	lo, hi := big.NewInt(0), big.NewInt(100)

	if got := fpmath.ClampBig(big.NewInt(-5), lo, hi); got.Int64() != 0 {
		t.Errorf("below: got %d, want 0", got.Int64())
	}
	if got := fpmath.ClampBig(big.NewInt(500), lo, hi); got.Int64() != 100 {
		t.Errorf("above: got %d, want 100", got.Int64())
	}
	if got := fpmath.ClampBig(big.NewInt(42), lo, hi); got.Int64() != 42 {
		t.Errorf("inside: got %d, want 42", got.Int64())
	}
}

func TestToUint64_RejectsNegative(t *testing.T) {
	_, err := fpmath.ToUint64(big.NewInt(-1))
	if !errors.Is(err, fpmath.ErrMathOverflow) {
		t.Errorf("got %v, want ErrMathOverflow", err)
	}
}

func TestToUint64_RejectsTooWide(t *testing.T) {
	wide := new(big.Int).Lsh(big.NewInt(1), 64)
	_, err := fpmath.ToUint64(wide)
	if !errors.Is(err, fpmath.ErrMathOverflow) {
		t.Errorf("got %v, want ErrMathOverflow", err)
	}
}

func TestToInt64_Bounds(t *testing.T) {
	if _, err := fpmath.ToInt64(big.NewInt(math.MaxInt64)); err != nil {
		t.Errorf("MaxInt64 should narrow cleanly: %v", err)
	}
	over := new(big.Int).Add(big.NewInt(math.MaxInt64), big.NewInt(1))
	if _, err := fpmath.ToInt64(over); !errors.Is(err, fpmath.ErrMathOverflow) {
		t.Errorf("got %v, want ErrMathOverflow", err)
	}
}
