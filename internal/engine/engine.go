// Package engine implements the cash-settled bilateral synthetic-futures risk
// engine: market configuration and governance, NAV ingestion with staleness,
// jump-limit, and confidence gating, bilateral deal lifecycle, and full and
// partial liquidation with bounty distribution.
//
// Every operation is all-or-nothing: balance movements are staged as a single
// vault transfer batch and validated before anything is applied, and engine
// state is only mutated after the batch commits. The engine holds no internal
// locks; operations on the same market or deal must be serialized by the
// caller (the service layer runs single-writer).
package engine

import (
	"time"

	"github.com/google/uuid"

	"StackFutures/internal/event"
	"StackFutures/internal/vault"
)

// ID identifies a party or authority. Identity verification (signatures) is
// an external collaborator's job; the engine only compares identities.
type ID string

// NilID is the sentinel empty identity. Sentinel entries in admin sets are
// ignored by the multisig predicate.
const NilID ID = ""

// Clock is the time source. A regression against a market's last print
// surfaces as ErrClockWentBackwards on price-dependent paths.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Engine owns all markets and deals and coordinates the settlement ledger.
type Engine struct {
	clock  Clock
	ledger *vault.Ledger
	sink   event.Sink

	markets map[string]*Market
	deals   map[uuid.UUID]*Deal
}

func New(clock Clock, ledger *vault.Ledger, sink event.Sink) *Engine {
	if sink == nil {
		sink = event.SinkFunc(func(event.Event) {})
	}
	return &Engine{
		clock:   clock,
		ledger:  ledger,
		sink:    sink,
		markets: make(map[string]*Market),
		deals:   make(map[uuid.UUID]*Deal),
	}
}

// Ledger exposes the settlement ledger for funding vaults in integration
// layers and tests.
func (e *Engine) Ledger() *vault.Ledger { return e.ledger }

// Market returns a market by ID.
func (e *Engine) Market(marketID string) (*Market, error) {
	m, ok := e.markets[marketID]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return m, nil
}

// Deal returns a deal by ID.
func (e *Engine) Deal(dealID uuid.UUID) (*Deal, error) {
	d, ok := e.deals[dealID]
	if !ok {
		return nil, ErrDealNotFound
	}
	return d, nil
}

func (e *Engine) now() int64 { return e.clock.Now().Unix() }
