package engine

import (
	"math/big"

	"github.com/google/uuid"

	"StackFutures/internal/event"
	"StackFutures/internal/fpmath"
	"StackFutures/internal/vault"
)

// equities returns the long side's signed PnL and both sides' equity (vault
// balance adjusted by signed PnL) at the market's last validated NAV.
func equities(d *Deal, m *Market) (pnlLong, longEq, shortEq *big.Int) {
	pnlLong = fpmath.PnLQuote(d.Size, d.EntryNav, m.LastNav, m.PriceDecimals, m.QuoteDecimals)
	longEq = new(big.Int).SetUint64(d.LongMargin)
	longEq.Add(longEq, pnlLong)
	shortEq = new(big.Int).SetUint64(d.ShortMargin)
	shortEq.Sub(shortEq, pnlLong)
	return pnlLong, longEq, shortEq
}

// Liquidate fully liquidates a deal whose maintenance margin (plus buffer) is
// breached on either side, or whose pool-implied leverage exceeds the market
// cap (an empty pool counts as maximally over-levered). The liquidator bounty
// is a share of the pool, drawn from the long vault first and then the short
// vault (a fixed tie-break policy, not a fairness claim). Settlement then
// proceeds exactly as in CloseDeal over the reduced pool.
//
// If either side's payout lands at exactly zero the pool was insolvent for
// that side, and the market is paused (socialized-loss floor) until
// governance intervenes.
func (e *Engine) Liquidate(dealID uuid.UUID, liquidatorDest, longDest, shortDest vault.ID) error {
	d, err := e.Deal(dealID)
	if err != nil {
		return err
	}
	m, err := e.Market(d.MarketID)
	if err != nil {
		return err
	}
	if !d.IsOpen {
		return ErrNotOpen
	}
	if m.Paused {
		return ErrMarketPaused
	}
	if err := e.ensurePriceFresh(m); err != nil {
		return err
	}
	if err := e.checkPayoutOwners(d, longDest, shortDest); err != nil {
		return err
	}

	notional := fpmath.NotionalQuote(d.Size, m.LastNav, m.PriceDecimals, m.QuoteDecimals)
	mmRequired := fpmath.BpsBig(notional, uint32(m.MaintenanceMarginBps)+uint32(m.MMBufferBps))

	pnlLong, longEq, shortEq := equities(d, m)

	longBal, shortBal := d.LongMargin, d.ShortMargin
	pool := new(big.Int).SetUint64(longBal)
	pool.Add(pool, new(big.Int).SetUint64(shortBal))

	overLev := true // empty pool is maximally over-levered
	if pool.Sign() > 0 {
		levBps, err := fpmath.RatioBps(notional, pool)
		if err != nil {
			return err
		}
		overLev = levBps > uint64(m.MaxLeverageBps)
	}

	if longEq.Cmp(mmRequired) >= 0 && shortEq.Cmp(mmRequired) >= 0 && !overLev {
		return ErrNotLiquidatable
	}

	bountyBig := fpmath.BpsBig(pool, uint32(m.LiquidatorBps))
	if bountyBig.Cmp(pool) > 0 {
		bountyBig.Set(pool) // liquidator rate above 100% cannot draw past the pool
	}
	bounty, err := fpmath.ToUint64(bountyBig)
	if err != nil {
		return err
	}
	takeLong := bounty
	if takeLong > longBal {
		takeLong = longBal
	}
	takeShort := bounty - takeLong
	if takeShort > shortBal {
		takeShort = shortBal
	}

	// Settle the remaining pool with the same clamp as CloseDeal.
	newLongBal := longBal - takeLong
	newShortBal := shortBal - takeShort
	longPayout, shortPayout, err := settlement(newLongBal, newShortBal, pnlLong)
	if err != nil {
		return err
	}

	batch := []vault.Transfer{
		{Amount: takeLong, From: d.LongVault, To: liquidatorDest, Custody: d.custody},
		{Amount: takeShort, From: d.ShortVault, To: liquidatorDest, Custody: d.custody},
	}
	batch = append(batch, settleTransfers(d, newLongBal, newShortBal, longPayout, longDest, shortDest)...)
	if err := e.ledger.ApplyBatch(batch); err != nil {
		return err
	}

	depleted := longPayout == 0 || shortPayout == 0

	e.closeVaults(d)
	d.IsOpen = false

	if depleted {
		m.Paused = true
	}

	e.sink.Emit(&event.DealLiquidated{
		DealID:     d.ID,
		MarketID:   d.MarketID,
		BountyPaid: bounty,
		CloseNav:   m.LastNav,
	})
	return nil
}

// LiquidateToIM partially liquidates: it moves just enough from the healthy
// side's vault to restore the deficient side to initial margin, paying the
// liquidator a bounty on the deficit. maxBountyTake bounds the total amount
// drawn from the healthy vault, protecting it from being drained past what
// the cure needs. The deal stays open; if either side is still below initial
// margin after the transfer, the market is paused (socialized-loss floor).
func (e *Engine) LiquidateToIM(dealID uuid.UUID, liquidatorDest vault.ID, maxBountyTake uint64) error {
	d, err := e.Deal(dealID)
	if err != nil {
		return err
	}
	m, err := e.Market(d.MarketID)
	if err != nil {
		return err
	}
	if !d.IsOpen {
		return ErrNotOpen
	}
	if m.Paused {
		return ErrMarketPaused
	}
	if err := e.ensurePriceFresh(m); err != nil {
		return err
	}

	notional := fpmath.NotionalQuote(d.Size, m.LastNav, m.PriceDecimals, m.QuoteDecimals)
	imRequired := fpmath.BpsBig(notional, uint32(m.InitialMarginBps))

	_, longEq, shortEq := equities(d, m)

	var deficitBig *big.Int
	var healthyVault, deficientVault vault.ID
	switch {
	case longEq.Cmp(imRequired) < 0:
		deficitBig = new(big.Int).Sub(imRequired, longEq)
		healthyVault, deficientVault = d.ShortVault, d.LongVault
	case shortEq.Cmp(imRequired) < 0:
		deficitBig = new(big.Int).Sub(imRequired, shortEq)
		healthyVault, deficientVault = d.LongVault, d.ShortVault
	default:
		return ErrNotLiquidatable
	}

	deficit, err := fpmath.ToUint64(deficitBig)
	if err != nil {
		return err
	}
	bounty, err := fpmath.Bps(deficit, m.LiquidatorBps)
	if err != nil {
		return err
	}

	takeTotal, err := fpmath.ToUint64(new(big.Int).Add(
		new(big.Int).SetUint64(deficit), new(big.Int).SetUint64(bounty)))
	if err != nil {
		return err
	}
	if takeTotal > maxBountyTake {
		takeTotal = maxBountyTake
	}
	bountyPaid := bounty
	if bountyPaid > takeTotal {
		bountyPaid = takeTotal
	}
	deficitTake := takeTotal - bountyPaid

	if err := e.ledger.ApplyBatch([]vault.Transfer{
		{Amount: bountyPaid, From: healthyVault, To: liquidatorDest, Custody: d.custody},
		{Amount: deficitTake, From: healthyVault, To: deficientVault, Custody: d.custody},
	}); err != nil {
		return err
	}
	d.refreshBalances(e.ledger)

	// If the cure fell short (caller cap or thin healthy vault), stop the
	// market until governance intervenes.
	_, longEq2, shortEq2 := equities(d, m)
	if longEq2.Cmp(imRequired) < 0 || shortEq2.Cmp(imRequired) < 0 {
		m.Paused = true
	}
	return nil
}
