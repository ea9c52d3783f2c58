package service

import (
	"github.com/google/uuid"

	"StackFutures/internal/engine"
	"StackFutures/internal/vault"
)

// MarketSnapshot is a read-only copy of a market's state, safe to hand out
// while the writer keeps mutating the engine.
type MarketSnapshot struct {
	ID              string    `json:"id"`
	Authority       engine.ID `json:"authority"`
	SettlementAsset string    `json:"settlement_asset"`
	ReferenceID     string    `json:"reference_id"`
	OracleAuthority engine.ID `json:"oracle_authority"`

	PriceDecimals uint8 `json:"price_decimals"`
	QuoteDecimals uint8 `json:"quote_decimals"`

	InitialMarginBps     uint16 `json:"initial_margin_bps"`
	MaintenanceMarginBps uint16 `json:"maintenance_margin_bps"`
	FeeBps               uint16 `json:"fee_bps"`
	LiquidatorBps        uint16 `json:"liquidator_bps"`
	PriceStaleSeconds    uint32 `json:"price_stale_seconds"`
	MaxLeverageBps       uint16 `json:"max_leverage_bps"`
	MaxNavJumpBps        uint16 `json:"max_nav_jump_bps"`
	MaxConfidenceBps     uint16 `json:"max_confidence_bps"`
	MMBufferBps          uint16 `json:"mm_buffer_bps"`

	LastNav             uint64 `json:"last_nav"`
	LastTs              int64  `json:"last_ts"`
	Paused              bool   `json:"paused"`
	CircuitBreakerUntil int64  `json:"circuit_breaker_until"`

	AdminThreshold   int         `json:"admin_threshold"`
	Admins           []engine.ID `json:"admins"`
	HasPendingChange bool        `json:"has_pending_change"`
	PendingETA       int64       `json:"pending_eta,omitempty"`

	FeeVaultBalance uint64 `json:"fee_vault_balance"`
}

// DealSnapshot is a read-only copy of a deal's state.
type DealSnapshot struct {
	ID            uuid.UUID `json:"id"`
	MarketID      string    `json:"market_id"`
	Long          engine.ID `json:"long"`
	Short         engine.ID `json:"short"`
	ClientOrderID uint64    `json:"client_order_id"`
	Size          uint64    `json:"size"`
	EntryNav      uint64    `json:"entry_nav"`
	IsOpen        bool      `json:"is_open"`
	LongVault     vault.ID  `json:"long_vault"`
	ShortVault    vault.ID  `json:"short_vault"`
	LongMargin    uint64    `json:"long_margin"`
	ShortMargin   uint64    `json:"short_margin"`
}

// GetMarket returns a snapshot of one market.
func (s *Service) GetMarket(marketID string) (MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.engine.Market(marketID)
	if err != nil {
		return MarketSnapshot{}, err
	}

	snap := MarketSnapshot{
		ID:              m.ID,
		Authority:       m.Authority,
		SettlementAsset: m.SettlementAsset,
		ReferenceID:     m.ReferenceID,
		OracleAuthority: m.OracleAuthority,

		PriceDecimals: m.PriceDecimals,
		QuoteDecimals: m.QuoteDecimals,

		InitialMarginBps:     m.InitialMarginBps,
		MaintenanceMarginBps: m.MaintenanceMarginBps,
		FeeBps:               m.FeeBps,
		LiquidatorBps:        m.LiquidatorBps,
		PriceStaleSeconds:    m.PriceStaleSeconds,
		MaxLeverageBps:       m.MaxLeverageBps,
		MaxNavJumpBps:        m.MaxNavJumpBps,
		MaxConfidenceBps:     m.MaxConfidenceBps,
		MMBufferBps:          m.MMBufferBps,

		LastNav:             m.LastNav,
		LastTs:              m.LastTs,
		Paused:              m.Paused,
		CircuitBreakerUntil: m.CircuitBreakerUntil,

		AdminThreshold:   m.AdminThreshold,
		Admins:           m.Admins(),
		HasPendingChange: m.HasPendingChange(),
	}
	if eta, ok := m.PendingChangeETA(); ok {
		snap.PendingETA = eta
	}
	if bal, err := s.engine.Ledger().Balance(m.FeeVault); err == nil {
		snap.FeeVaultBalance = bal
	}
	return snap, nil
}

// GetDeal returns a snapshot of one deal.
func (s *Service) GetDeal(dealID uuid.UUID) (DealSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.engine.Deal(dealID)
	if err != nil {
		return DealSnapshot{}, err
	}
	return DealSnapshot{
		ID:            d.ID,
		MarketID:      d.MarketID,
		Long:          d.Long,
		Short:         d.Short,
		ClientOrderID: d.ClientOrderID,
		Size:          d.Size,
		EntryNav:      d.EntryNav,
		IsOpen:        d.IsOpen,
		LongVault:     d.LongVault,
		ShortVault:    d.ShortVault,
		LongMargin:    d.LongMargin,
		ShortMargin:   d.ShortMargin,
	}, nil
}

// GetBalance returns a vault's current balance.
func (s *Service) GetBalance(v vault.ID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Ledger().Balance(v)
}
