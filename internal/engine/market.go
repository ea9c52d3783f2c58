package engine

import (
	"time"

	"StackFutures/internal/event"
	"StackFutures/internal/vault"
)

// Market holds the risk and fee parameters of one market, its admin set, the
// last validated NAV, and the market-scoped fee vault. One market exists per
// (governance authority, settlement asset, synthetic reference) tuple; it is
// created once and never deleted.
type Market struct {
	ID              string
	Authority       ID
	SettlementAsset string
	ReferenceID     string
	OracleAuthority ID

	PriceDecimals uint8
	QuoteDecimals uint8

	InitialMarginBps     uint16
	MaintenanceMarginBps uint16
	FeeBps               uint16
	LiquidatorBps        uint16
	PriceStaleSeconds    uint32

	MaxLeverageBps   uint16
	MaxNavJumpBps    uint16
	MaxConfidenceBps uint16 // 0 = confidence gate disabled
	MMBufferBps      uint16

	LastNav             uint64 // 0 = no price yet; gates all trading
	LastTs              int64  // unix seconds of last validated NAV
	Paused              bool
	CircuitBreakerUntil int64 // unix seconds; in the future = lockout

	AdminThreshold int
	admins         map[ID]struct{}

	// At most one pending timelocked change; a new proposal overwrites an
	// unexecuted one.
	pending *PendingChange

	FeeVault vault.ID
	custody  vault.Custody
}

// PendingChange is a timelocked parameter change awaiting execution.
type PendingChange struct {
	Params UpdateParams
	ETA    int64 // unix seconds after which Execute succeeds
}

// InitParams are the market creation parameters.
type InitParams struct {
	SettlementAsset string
	QuoteDecimals   uint8
	ReferenceID     string
	OracleAuthority ID
	PriceDecimals   uint8

	InitialMarginBps     uint16
	MaintenanceMarginBps uint16
	FeeBps               uint16
	LiquidatorBps        uint16
	PriceStaleSeconds    uint32

	MaxLeverageBps   uint16
	MaxNavJumpBps    uint16
	MaxConfidenceBps *uint16 // nil = disabled
	MMBufferBps      *uint16 // nil = 1% default
	AdminThreshold   *int    // nil = 1
	Admins           []ID    // deduplicated; sentinel entries dropped
}

// UpdateParams applies any subset of fields atomically; nil fields are left
// unchanged.
type UpdateParams struct {
	OracleAuthority      *ID     `json:"oracle_authority,omitempty"`
	InitialMarginBps     *uint16 `json:"initial_margin_bps,omitempty"`
	MaintenanceMarginBps *uint16 `json:"maintenance_margin_bps,omitempty"`
	FeeBps               *uint16 `json:"fee_bps,omitempty"`
	LiquidatorBps        *uint16 `json:"liquidator_bps,omitempty"`
	PriceStaleSeconds    *uint32 `json:"price_stale_seconds,omitempty"`
	MaxLeverageBps       *uint16 `json:"max_leverage_bps,omitempty"`
	MaxNavJumpBps        *uint16 `json:"max_nav_jump_bps,omitempty"`
	MaxConfidenceBps     *uint16 `json:"max_confidence_bps,omitempty"`
	MMBufferBps          *uint16 `json:"mm_buffer_bps,omitempty"`
	AdminThreshold       *int    `json:"admin_threshold,omitempty"`
}

// InitMarket creates a market. The caller becomes the governance authority
// and is seeded into the admin set.
func (e *Engine) InitMarket(caller ID, marketID string, p InitParams) (*Market, error) {
	if _, exists := e.markets[marketID]; exists {
		return nil, ErrMarketExists
	}

	m := &Market{
		ID:              marketID,
		Authority:       caller,
		SettlementAsset: p.SettlementAsset,
		ReferenceID:     p.ReferenceID,
		OracleAuthority: p.OracleAuthority,
		PriceDecimals:   p.PriceDecimals,
		QuoteDecimals:   p.QuoteDecimals,

		InitialMarginBps:     p.InitialMarginBps,
		MaintenanceMarginBps: p.MaintenanceMarginBps,
		FeeBps:               p.FeeBps,
		LiquidatorBps:        p.LiquidatorBps,
		PriceStaleSeconds:    p.PriceStaleSeconds,

		MaxLeverageBps: p.MaxLeverageBps,
		MaxNavJumpBps:  p.MaxNavJumpBps,

		MMBufferBps:    100, // 1% default
		AdminThreshold: 1,
		admins:         make(map[ID]struct{}),
	}

	if p.MaxConfidenceBps != nil {
		m.MaxConfidenceBps = *p.MaxConfidenceBps
	}
	if p.MMBufferBps != nil {
		m.MMBufferBps = *p.MMBufferBps
	}
	if p.AdminThreshold != nil {
		m.AdminThreshold = *p.AdminThreshold
	}

	m.admins[caller] = struct{}{}
	for _, a := range p.Admins {
		if a == NilID {
			continue
		}
		m.admins[a] = struct{}{}
	}

	owner := vault.Owner("market:" + marketID)
	m.custody = e.ledger.IssueCustody(owner)
	m.FeeVault = e.ledger.OpenVault(owner)

	e.markets[marketID] = m

	e.sink.Emit(&event.MarketInitialized{
		MarketID:         m.ID,
		SettlementAsset:  m.SettlementAsset,
		ReferenceID:      m.ReferenceID,
		InitialMarginBps: m.InitialMarginBps,
		MaintMarginBps:   m.MaintenanceMarginBps,
		FeeBps:           m.FeeBps,
		LiquidatorBps:    m.LiquidatorBps,
		PriceDecimals:    m.PriceDecimals,
		QuoteDecimals:    m.QuoteDecimals,
	})

	return m, nil
}

// authorized is the governance predicate: the governance authority passes
// outright; otherwise the authenticated signer set must contain at least
// AdminThreshold distinct, non-sentinel admin members.
func (m *Market) authorized(caller ID, signers []ID) error {
	if caller == m.Authority {
		return nil
	}
	seen := make(map[ID]struct{}, len(signers))
	hits := 0
	for _, s := range signers {
		if s == NilID {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := m.admins[s]; ok {
			hits++
		}
	}
	if hits < m.AdminThreshold {
		return ErrNotEnoughSigners
	}
	return nil
}

// Admins returns the current admin set (copy).
func (m *Market) Admins() []ID {
	out := make([]ID, 0, len(m.admins))
	for a := range m.admins {
		out = append(out, a)
	}
	return out
}

// HasPendingChange reports whether a timelocked proposal is outstanding.
func (m *Market) HasPendingChange() bool { return m.pending != nil }

// PendingChangeETA returns the pending proposal's effective-at timestamp.
func (m *Market) PendingChangeETA() (int64, bool) {
	if m.pending == nil {
		return 0, false
	}
	return m.pending.ETA, true
}

func (m *Market) apply(p UpdateParams) {
	if p.OracleAuthority != nil {
		m.OracleAuthority = *p.OracleAuthority
	}
	if p.InitialMarginBps != nil {
		m.InitialMarginBps = *p.InitialMarginBps
	}
	if p.MaintenanceMarginBps != nil {
		m.MaintenanceMarginBps = *p.MaintenanceMarginBps
	}
	if p.FeeBps != nil {
		m.FeeBps = *p.FeeBps
	}
	if p.LiquidatorBps != nil {
		m.LiquidatorBps = *p.LiquidatorBps
	}
	if p.PriceStaleSeconds != nil {
		m.PriceStaleSeconds = *p.PriceStaleSeconds
	}
	if p.MaxLeverageBps != nil {
		m.MaxLeverageBps = *p.MaxLeverageBps
	}
	if p.MaxNavJumpBps != nil {
		m.MaxNavJumpBps = *p.MaxNavJumpBps
	}
	if p.MaxConfidenceBps != nil {
		m.MaxConfidenceBps = *p.MaxConfidenceBps
	}
	if p.MMBufferBps != nil {
		m.MMBufferBps = *p.MMBufferBps
	}
	if p.AdminThreshold != nil {
		m.AdminThreshold = *p.AdminThreshold
	}
}

// PauseMarket toggles the pause flag. While paused, NAV posting and all
// trading/liquidation operations are rejected with ErrMarketPaused.
func (e *Engine) PauseMarket(caller ID, signers []ID, marketID string, paused bool) error {
	m, err := e.Market(marketID)
	if err != nil {
		return err
	}
	if err := m.authorized(caller, signers); err != nil {
		return err
	}
	m.Paused = paused
	return nil
}

// UpdateMarketParams applies a parameter update immediately.
func (e *Engine) UpdateMarketParams(caller ID, signers []ID, marketID string, p UpdateParams) error {
	m, err := e.Market(marketID)
	if err != nil {
		return err
	}
	if err := m.authorized(caller, signers); err != nil {
		return err
	}
	m.apply(p)
	return nil
}

// ProposeMarketParams stores a timelocked parameter change effective after
// delay. A new proposal silently discards any unexecuted prior one.
func (e *Engine) ProposeMarketParams(caller ID, signers []ID, marketID string, p UpdateParams, delay time.Duration) error {
	m, err := e.Market(marketID)
	if err != nil {
		return err
	}
	if err := m.authorized(caller, signers); err != nil {
		return err
	}
	m.pending = &PendingChange{Params: p, ETA: e.now() + int64(delay/time.Second)}
	return nil
}

// ExecuteMarketParams applies the pending timelocked change once its ETA has
// passed, then clears the pending slot.
func (e *Engine) ExecuteMarketParams(caller ID, signers []ID, marketID string) error {
	m, err := e.Market(marketID)
	if err != nil {
		return err
	}
	if err := m.authorized(caller, signers); err != nil {
		return err
	}
	if m.pending == nil {
		return ErrNoPendingParams
	}
	if e.now() < m.pending.ETA {
		return ErrTimelockNotExpired
	}
	m.apply(m.pending.Params)
	m.pending = nil
	return nil
}

// RotateAuthority replaces the governance authority. The admin set swaps the
// old authority for the new one, so the current authority always counts as a
// co-signer.
func (e *Engine) RotateAuthority(caller ID, signers []ID, marketID string, newAuthority ID) error {
	m, err := e.Market(marketID)
	if err != nil {
		return err
	}
	if err := m.authorized(caller, signers); err != nil {
		return err
	}
	delete(m.admins, m.Authority)
	m.Authority = newAuthority
	if newAuthority != NilID {
		m.admins[newAuthority] = struct{}{}
	}
	return nil
}
