// Package event defines the notifications the engine emits for observability
// and indexing. Nothing inside the engine consumes them.
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// Type discriminator for event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeMarketInitialized
	TypeNavPosted
	TypeDealOpened
	TypeDealClosed
	TypeDealLiquidated
)

func (t Type) String() string {
	switch t {
	case TypeMarketInitialized:
		return "MarketInitialized"
	case TypeNavPosted:
		return "NavPosted"
	case TypeDealOpened:
		return "DealOpened"
	case TypeDealClosed:
		return "DealClosed"
	case TypeDealLiquidated:
		return "DealLiquidated"
	default:
		return "Unknown"
	}
}

// Event is the interface all notification payloads implement.
type Event interface {
	// Key returns a stable dedup key for the event log.
	Key() string

	// EventType returns the discriminator.
	EventType() Type

	// Market returns the market the event belongs to.
	Market() string
}

// MarketInitialized is emitted once when governance creates a market.
type MarketInitialized struct {
	MarketID         string `json:"market_id"`
	SettlementAsset  string `json:"settlement_asset"`
	ReferenceID      string `json:"reference_id"`
	InitialMarginBps uint16 `json:"im_bps"`
	MaintMarginBps   uint16 `json:"mm_bps"`
	FeeBps           uint16 `json:"fee_bps"`
	LiquidatorBps    uint16 `json:"liq_bps"`
	PriceDecimals    uint8  `json:"price_decimals"`
	QuoteDecimals    uint8  `json:"quote_decimals"`
}

func (e *MarketInitialized) Key() string     { return fmt.Sprintf("%s:init", e.MarketID) }
func (e *MarketInitialized) EventType() Type { return TypeMarketInitialized }
func (e *MarketInitialized) Market() string  { return e.MarketID }

// NavPosted is emitted for every validated NAV update.
type NavPosted struct {
	MarketID string `json:"market_id"`
	Nav      uint64 `json:"nav"`
	Ts       int64  `json:"ts"` // unix seconds
}

func (e *NavPosted) Key() string     { return fmt.Sprintf("%s:nav:%d", e.MarketID, e.Ts) }
func (e *NavPosted) EventType() Type { return TypeNavPosted }
func (e *NavPosted) Market() string  { return e.MarketID }

// DealOpened carries the computed notional and fees of a freshly opened deal.
type DealOpened struct {
	DealID        uuid.UUID `json:"deal_id"`
	MarketID      string    `json:"market_id"`
	Long          string    `json:"long"`
	Short         string    `json:"short"`
	Size          uint64    `json:"size"`
	EntryNav      uint64    `json:"entry_nav"`
	NotionalQuote uint64    `json:"notional_quote"`
	LongDeposit   uint64    `json:"long_deposit"`
	ShortDeposit  uint64    `json:"short_deposit"`
	OpenFeeEach   uint64    `json:"open_fee_each"`
}

func (e *DealOpened) Key() string     { return fmt.Sprintf("%s:open", e.DealID) }
func (e *DealOpened) EventType() Type { return TypeDealOpened }
func (e *DealOpened) Market() string  { return e.MarketID }

// DealClosed carries the settled payouts of a closed deal.
type DealClosed struct {
	DealID      uuid.UUID `json:"deal_id"`
	MarketID    string    `json:"market_id"`
	LongPayout  uint64    `json:"long_payout"`
	ShortPayout uint64    `json:"short_payout"`
	CloseNav    uint64    `json:"close_nav"`
}

func (e *DealClosed) Key() string     { return fmt.Sprintf("%s:close", e.DealID) }
func (e *DealClosed) EventType() Type { return TypeDealClosed }
func (e *DealClosed) Market() string  { return e.MarketID }

// DealLiquidated is emitted for a full liquidation.
type DealLiquidated struct {
	DealID     uuid.UUID `json:"deal_id"`
	MarketID   string    `json:"market_id"`
	BountyPaid uint64    `json:"bounty_paid"`
	CloseNav   uint64    `json:"close_nav"`
}

func (e *DealLiquidated) Key() string     { return fmt.Sprintf("%s:liquidate", e.DealID) }
func (e *DealLiquidated) EventType() Type { return TypeDealLiquidated }
func (e *DealLiquidated) Market() string  { return e.MarketID }

// Sink receives events emitted by the engine. Implementations must not fail:
// emission happens after an operation's state changes have committed.
type Sink interface {
	Emit(evt Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(evt Event)

func (f SinkFunc) Emit(evt Event) { f(evt) }
