// Package fpmath implements the overflow-checked fixed-point arithmetic the
// risk engine settles with. All monetary quantities are non-negative integers
// scaled by their decimal precision; PnL is signed. Intermediate products run
// through big.Int so a size*nav product can never silently wrap, and every
// narrowing back to a machine word is bounds-checked.
package fpmath

import (
	"errors"
	"math"
	"math/big"
	"sync"
)

// UnitDecimals is the precision of position size units (1e6 = 1.0 unit).
const UnitDecimals = 6

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
const BpsDenominator = 10_000

// ErrMathOverflow signals that a checked multiply, divide, or narrowing
// overflowed. It indicates a parameter/precision misconfiguration rather
// than a transient condition.
var ErrMathOverflow = errors.New("math overflow")

var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// Bps computes floor(amount * rateBps / 10000). Division truncates toward
// zero. Fails with ErrMathOverflow when the quotient does not fit in uint64,
// which can only happen for rates above 10000 bps on very large amounts.
func Bps(amount uint64, rateBps uint16) (uint64, error) {
	prod := getBig()
	prod.SetUint64(amount)
	prod.Mul(prod, big.NewInt(int64(rateBps)))
	prod.Quo(prod, big.NewInt(BpsDenominator))
	out, err := ToUint64(prod)
	putBig(prod)
	return out, err
}

// BpsBig is the wide variant of Bps, for amounts already held as big.Int.
// The rate is uint32 so callers can pass saturation-free sums of two
// uint16 rates (maintenance margin + buffer). The result is a fresh big.Int.
func BpsBig(amount *big.Int, rateBps uint32) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(rateBps)))
	return out.Quo(out, big.NewInt(BpsDenominator))
}

// RatioBps computes floor(num * 10000 / denom). Fails with ErrMathOverflow
// when denom is zero; callers pass max(denom, 1) where a zero denominator has
// a defined meaning.
func RatioBps(num, denom *big.Int) (uint64, error) {
	if denom.Sign() == 0 {
		return 0, ErrMathOverflow
	}
	scaled := new(big.Int).Mul(num, big.NewInt(BpsDenominator))
	scaled.Quo(scaled, denom)
	return ToUint64(scaled)
}

// RatioBpsU64 is RatioBps over plain uint64 operands.
func RatioBpsU64(num, denom uint64) (uint64, error) {
	return RatioBps(new(big.Int).SetUint64(num), new(big.Int).SetUint64(denom))
}

// Scale rescales amount from fromDec decimal places to toDec: it divides
// (truncating toward zero) when shrinking precision and multiplies when
// growing it.
func Scale(amount *big.Int, fromDec, toDec uint32) *big.Int {
	out := new(big.Int).Set(amount)
	switch {
	case fromDec == toDec:
		return out
	case fromDec > toDec:
		return out.Quo(out, pow10(fromDec-toDec))
	default:
		return out.Mul(out, pow10(toDec-fromDec))
	}
}

func pow10(p uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p)), nil)
}

// NotionalQuote computes size * nav rescaled into settlement-asset precision:
// notional = scale(size*nav, UnitDecimals+priceDec, quoteDec).
func NotionalQuote(size, nav uint64, priceDec, quoteDec uint8) *big.Int {
	prod := new(big.Int).SetUint64(size)
	prod.Mul(prod, new(big.Int).SetUint64(nav))
	return Scale(prod, UnitDecimals+uint32(priceDec), uint32(quoteDec))
}

// PnLQuote computes the long side's signed PnL in settlement-asset precision:
// sign(close-entry) * scale(size*|close-entry|, UnitDecimals+priceDec, quoteDec).
// The short side's PnL is the exact negation.
func PnLQuote(size, entryNav, closeNav uint64, priceDec, quoteDec uint8) *big.Int {
	var mag uint64
	neg := closeNav < entryNav
	if neg {
		mag = entryNav - closeNav
	} else {
		mag = closeNav - entryNav
	}
	scaled := NotionalQuote(size, mag, priceDec, quoteDec)
	if neg {
		scaled.Neg(scaled)
	}
	return scaled
}

// ClampBig clamps x into [lo, hi], returning a fresh big.Int.
func ClampBig(x, lo, hi *big.Int) *big.Int {
	if x.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if x.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return new(big.Int).Set(x)
}

var (
	maxUint64Big = new(big.Int).SetUint64(math.MaxUint64)
	maxInt64Big  = big.NewInt(math.MaxInt64)
	minInt64Big  = big.NewInt(math.MinInt64)
)

// ToUint64 narrows a wide intermediate to uint64, failing with
// ErrMathOverflow instead of truncating.
func ToUint64(v *big.Int) (uint64, error) {
	if v.Sign() < 0 || v.Cmp(maxUint64Big) > 0 {
		return 0, ErrMathOverflow
	}
	return v.Uint64(), nil
}

// ToInt64 narrows a wide signed intermediate to int64, failing with
// ErrMathOverflow instead of truncating.
func ToInt64(v *big.Int) (int64, error) {
	if v.Cmp(minInt64Big) < 0 || v.Cmp(maxInt64Big) > 0 {
		return 0, ErrMathOverflow
	}
	return v.Int64(), nil
}
