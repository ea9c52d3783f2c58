package engine

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"StackFutures/internal/event"
	"StackFutures/internal/fpmath"
	"StackFutures/internal/vault"
)

// dealNamespace seeds deterministic deal IDs so a (market, long, short,
// client order id) tuple always maps to the same deal.
var dealNamespace = uuid.MustParse("8f1c7a52-1f39-47d1-9be6-446655440031")

// Deal is one bilateral position. Size stays > 0 for the lifetime of an open
// deal and IsOpen transitions open -> closed exactly once; a closed deal is
// never reopened.
type Deal struct {
	ID            uuid.UUID
	MarketID      string
	Long          ID
	Short         ID
	ClientOrderID uint64

	Size     uint64 // position size, UnitDecimals fixed-point
	EntryNav uint64
	IsOpen   bool

	LongVault  vault.ID
	ShortVault vault.ID
	// Cached vault balances, refreshed after every balance-affecting op.
	LongMargin  uint64
	ShortMargin uint64

	custody vault.Custody
}

// DealKey derives the deterministic deal ID for a deal tuple.
func DealKey(marketID string, long, short ID, clientOrderID uint64) uuid.UUID {
	seed := fmt.Sprintf("%s|%s|%s|%d", marketID, long, short, clientOrderID)
	return uuid.NewSHA1(dealNamespace, []byte(seed))
}

// OpenDealRequest carries the open parameters. Source vaults must be owned by
// the respective parties; deposits are quote-asset amounts.
type OpenDealRequest struct {
	ClientOrderID uint64
	Long          ID
	Short         ID
	LongSource    vault.ID
	ShortSource   vault.ID
	LongCustody   vault.Custody
	ShortCustody  vault.Custody
	Size          uint64
	LongDeposit   uint64
	ShortDeposit  uint64
}

// OpenDeal opens a bilateral deal at the market's last validated NAV. Both
// deposits must cover initial margin plus each side's half of the open fee
// (integer floor split; an odd fee unit is lost, not reimbursed), and the
// total effective margin after fees must keep notional/margin leverage within
// the market cap.
func (e *Engine) OpenDeal(marketID string, req OpenDealRequest) (*Deal, error) {
	m, err := e.Market(marketID)
	if err != nil {
		return nil, err
	}
	if m.Paused {
		return nil, ErrMarketPaused
	}
	if req.Size == 0 {
		return nil, ErrZeroSize
	}
	if err := e.ensurePriceFresh(m); err != nil {
		return nil, err
	}

	dealID := DealKey(marketID, req.Long, req.Short, req.ClientOrderID)
	if _, exists := e.deals[dealID]; exists {
		return nil, ErrAlreadyOpen
	}

	if req.LongCustody.Owner() != vault.Owner(req.Long) ||
		req.ShortCustody.Owner() != vault.Owner(req.Short) {
		return nil, ErrUnauthorized
	}

	entryNav := m.LastNav
	notional := fpmath.NotionalQuote(req.Size, entryNav, m.PriceDecimals, m.QuoteDecimals)

	feeTotal := fpmath.BpsBig(notional, uint32(m.FeeBps))
	feeEach := new(big.Int).Quo(feeTotal, big.NewInt(2))
	imEach := fpmath.BpsBig(notional, uint32(m.InitialMarginBps))

	required := new(big.Int).Add(imEach, feeEach)
	if new(big.Int).SetUint64(req.LongDeposit).Cmp(required) < 0 ||
		new(big.Int).SetUint64(req.ShortDeposit).Cmp(required) < 0 {
		return nil, ErrInsufficientMargin
	}

	// Leverage cap at open, on total effective margin after fees.
	effective := new(big.Int).SetUint64(req.LongDeposit)
	effective.Add(effective, new(big.Int).SetUint64(req.ShortDeposit))
	effective.Sub(effective, feeTotal)
	if effective.Sign() <= 0 {
		return nil, ErrInsufficientMargin
	}
	levBps, err := fpmath.RatioBps(notional, effective)
	if err != nil {
		return nil, err
	}
	if levBps > uint64(m.MaxLeverageBps) {
		return nil, ErrLeverageTooHigh
	}

	feeEach64, err := fpmath.ToUint64(feeEach)
	if err != nil {
		return nil, err
	}
	notional64, err := fpmath.ToUint64(notional)
	if err != nil {
		return nil, err
	}

	owner := vault.Owner("deal:" + dealID.String())
	custody := e.ledger.IssueCustody(owner)
	longVault := e.ledger.OpenVault(owner)
	shortVault := e.ledger.OpenVault(owner)

	batch := []vault.Transfer{
		{Amount: req.LongDeposit, From: req.LongSource, To: longVault, Custody: req.LongCustody},
		{Amount: req.ShortDeposit, From: req.ShortSource, To: shortVault, Custody: req.ShortCustody},
		{Amount: feeEach64, From: longVault, To: m.FeeVault, Custody: custody},
		{Amount: feeEach64, From: shortVault, To: m.FeeVault, Custody: custody},
	}
	if err := e.ledger.ApplyBatch(batch); err != nil {
		// Nothing moved; reclaim the fresh empty vaults.
		_ = e.ledger.Release(longVault, custody)
		_ = e.ledger.Release(shortVault, custody)
		return nil, err
	}

	d := &Deal{
		ID:            dealID,
		MarketID:      marketID,
		Long:          req.Long,
		Short:         req.Short,
		ClientOrderID: req.ClientOrderID,
		Size:          req.Size,
		EntryNav:      entryNav,
		IsOpen:        true,
		LongVault:     longVault,
		ShortVault:    shortVault,
		custody:       custody,
	}
	d.refreshBalances(e.ledger)
	e.deals[dealID] = d

	e.sink.Emit(&event.DealOpened{
		DealID:        d.ID,
		MarketID:      d.MarketID,
		Long:          string(d.Long),
		Short:         string(d.Short),
		Size:          d.Size,
		EntryNav:      d.EntryNav,
		NotionalQuote: notional64,
		LongDeposit:   req.LongDeposit,
		ShortDeposit:  req.ShortDeposit,
		OpenFeeEach:   feeEach64,
	})

	return d, nil
}

func (d *Deal) refreshBalances(l *vault.Ledger) {
	d.LongMargin, _ = l.Balance(d.LongVault)
	d.ShortMargin, _ = l.Balance(d.ShortVault)
}

// AddMarginLong moves amount from the long party's source vault into the
// long margin vault. The caller must be the deal's long party.
func (e *Engine) AddMarginLong(dealID uuid.UUID, caller ID, source vault.ID, custody vault.Custody, amount uint64) error {
	return e.addMargin(dealID, caller, source, custody, amount, true)
}

// AddMarginShort is the short-side counterpart of AddMarginLong.
func (e *Engine) AddMarginShort(dealID uuid.UUID, caller ID, source vault.ID, custody vault.Custody, amount uint64) error {
	return e.addMargin(dealID, caller, source, custody, amount, false)
}

func (e *Engine) addMargin(dealID uuid.UUID, caller ID, source vault.ID, custody vault.Custody, amount uint64, long bool) error {
	d, err := e.Deal(dealID)
	if err != nil {
		return err
	}
	if !d.IsOpen {
		return ErrNotOpen
	}

	party, target := d.Short, d.ShortVault
	if long {
		party, target = d.Long, d.LongVault
	}
	if caller != party || custody.Owner() != vault.Owner(party) {
		return ErrUnauthorized
	}

	if err := e.ledger.ApplyBatch([]vault.Transfer{
		{Amount: amount, From: source, To: target, Custody: custody},
	}); err != nil {
		return err
	}
	d.refreshBalances(e.ledger)
	return nil
}

// settlement computes each side's payout from the current pool: the long side
// receives its vault balance adjusted by PnL, clamped into [0, pool]; the
// short side receives the exact remainder, so payouts always sum to the pool.
// Narrowing a payout past uint64 fails with ErrMathOverflow rather than
// truncating.
func settlement(longBal, shortBal uint64, pnlLong *big.Int) (longPayout, shortPayout uint64, err error) {
	pool := new(big.Int).SetUint64(longBal)
	pool.Add(pool, new(big.Int).SetUint64(shortBal))

	desired := new(big.Int).SetUint64(longBal)
	desired.Add(desired, pnlLong)

	lp := fpmath.ClampBig(desired, big.NewInt(0), pool)
	sp := new(big.Int).Sub(pool, lp)

	if longPayout, err = fpmath.ToUint64(lp); err != nil {
		return 0, 0, err
	}
	if shortPayout, err = fpmath.ToUint64(sp); err != nil {
		return 0, 0, err
	}
	return longPayout, shortPayout, nil
}

// settleTransfers drains both margin vaults so the long side receives
// longPayout and the short side the remainder, preferring each side's own
// vault and topping up from the counterparty's.
func settleTransfers(d *Deal, longBal, shortBal, longPayout uint64, longDest, shortDest vault.ID) []vault.Transfer {
	fromLong := longPayout
	if fromLong > longBal {
		fromLong = longBal
	}
	fromShort := longPayout - fromLong

	ts := make([]vault.Transfer, 0, 4)
	ts = append(ts,
		vault.Transfer{Amount: fromLong, From: d.LongVault, To: longDest, Custody: d.custody},
		vault.Transfer{Amount: fromShort, From: d.ShortVault, To: longDest, Custody: d.custody},
		vault.Transfer{Amount: longBal - fromLong, From: d.LongVault, To: shortDest, Custody: d.custody},
		vault.Transfer{Amount: shortBal - fromShort, From: d.ShortVault, To: shortDest, Custody: d.custody},
	)
	return ts
}

// CloseDeal settles the deal at the current NAV, drains both vaults to the
// parties' payout destinations, and releases the emptied vaults. No value is
// created or destroyed by settlement: payouts sum exactly to the pool.
func (e *Engine) CloseDeal(dealID uuid.UUID, longDest, shortDest vault.ID) error {
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

	longBal, shortBal := d.LongMargin, d.ShortMargin
	pnlLong := fpmath.PnLQuote(d.Size, d.EntryNav, m.LastNav, m.PriceDecimals, m.QuoteDecimals)
	longPayout, shortPayout, err := settlement(longBal, shortBal, pnlLong)
	if err != nil {
		return err
	}

	batch := settleTransfers(d, longBal, shortBal, longPayout, longDest, shortDest)
	if err := e.ledger.ApplyBatch(batch); err != nil {
		return err
	}

	e.closeVaults(d)
	d.IsOpen = false

	e.sink.Emit(&event.DealClosed{
		DealID:      d.ID,
		MarketID:    d.MarketID,
		LongPayout:  longPayout,
		ShortPayout: shortPayout,
		CloseNav:    m.LastNav,
	})
	return nil
}

// checkPayoutOwners requires payout destinations to be owned by the deal's
// parties, so settlement funds can only land with the counterparties.
func (e *Engine) checkPayoutOwners(d *Deal, longDest, shortDest vault.ID) error {
	lo, err := e.ledger.OwnerOf(longDest)
	if err != nil {
		return err
	}
	so, err := e.ledger.OwnerOf(shortDest)
	if err != nil {
		return err
	}
	if lo != vault.Owner(d.Long) || so != vault.Owner(d.Short) {
		return ErrUnauthorized
	}
	return nil
}

// closeVaults releases both drained margin vaults and zeroes the cache.
func (e *Engine) closeVaults(d *Deal) {
	_ = e.ledger.Release(d.LongVault, d.custody)
	_ = e.ledger.Release(d.ShortVault, d.custody)
	d.LongMargin, d.ShortMargin = 0, 0
}
