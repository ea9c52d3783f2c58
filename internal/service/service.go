// Package service serializes all engine operations behind a single writer
// and fans completed events out to persistence and publishing. The engine
// itself holds no locks; every mutating call runs under the service mutex,
// so validation, vault moves, and event emission of one operation are never
// interleaved with another.
package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StackFutures/internal/engine"
	"StackFutures/internal/event"
	"StackFutures/internal/observability"
	"StackFutures/internal/vault"
)

// Output is one committed event with its service-assigned sequence. Batch
// carries the transfer-journal entries the operation applied; operations that
// move funds without emitting an event (margin top-ups, partial liquidation)
// produce a journal-only Output with a nil Event, which is persisted but
// never published.
type Output struct {
	Sequence int64
	Event    event.Event
	Batch    []vault.Applied
	Ts       time.Time
}

// Service owns the engine. Persist sends are blocking (backpressure: the
// writer stalls until the persistence worker drains, so no committed event is
// lost); publish sends are non-blocking and drop on a full channel, since
// subscribers can rebuild from the event log.
type Service struct {
	mu      sync.Mutex
	engine  *engine.Engine
	log     zerolog.Logger
	metrics *observability.Metrics

	sequence    int64
	persistChan chan<- Output
	publishChan chan<- Output

	// Events emitted by the engine during the operation currently holding
	// the mutex; flushed on success, discarded on failure.
	pending []event.Event
}

// New builds a service around a fresh engine. startSequence is the next
// sequence to assign, normally recovered from the event log.
func New(
	clock engine.Clock,
	startSequence int64,
	persistChan, publishChan chan<- Output,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Service {
	s := &Service{
		log:         log,
		metrics:     metrics,
		sequence:    startSequence,
		persistChan: persistChan,
		publishChan: publishChan,
	}
	s.engine = engine.New(clock, vault.NewLedger(), s)
	return s
}

// Engine exposes the underlying engine for recovery replay. Callers must not
// invoke it after the service starts accepting traffic.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Emit implements event.Sink. The engine only emits while an operation holds
// the service mutex.
func (s *Service) Emit(evt event.Event) {
	s.pending = append(s.pending, evt)
}

// run executes one engine operation under the writer mutex: on success the
// buffered events are sequenced and fanned out, on failure they are dropped
// with the operation's partial emissions (the engine emits only after its
// state changes commit, so a failed op has none).
func (s *Service) run(op string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.pending = s.pending[:0]

	err := fn()
	if err != nil {
		if applied := s.engine.Ledger().DrainJournal(); len(applied) > 0 {
			s.log.Error().Str("op", op).Int("transfers", len(applied)).
				Msg("rejected operation applied ledger transfers")
		}
		s.metrics.OpsRejected.WithLabelValues(op, reason(err)).Inc()
		s.log.Debug().Str("op", op).Err(err).Msg("operation rejected")
		return err
	}

	now := time.Now()
	emitted := len(s.pending)
	applied := s.engine.Ledger().DrainJournal()
	for _, evt := range s.pending {
		out := Output{Sequence: s.sequence, Event: evt, Batch: applied, Ts: now}
		applied = nil
		s.sequence++

		select {
		case s.persistChan <- out:
		default:
			s.metrics.PersistBackpressure.Inc()
			s.persistChan <- out
		}

		select {
		case s.publishChan <- out:
		default:
			s.metrics.PublishDrops.Inc()
		}

		s.record(evt)
	}

	// Fund movements with no event of their own still reach the journal.
	if len(applied) > 0 {
		out := Output{Sequence: s.sequence, Batch: applied, Ts: now}
		s.sequence++

		select {
		case s.persistChan <- out:
		default:
			s.metrics.PersistBackpressure.Inc()
			s.persistChan <- out
		}
	}
	s.pending = s.pending[:0]

	s.metrics.OpsApplied.WithLabelValues(op).Inc()
	s.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	s.log.Info().Str("op", op).Int("events", emitted).Msg("operation applied")
	return nil
}

// record updates domain gauges and counters from a committed event.
func (s *Service) record(evt event.Event) {
	switch e := evt.(type) {
	case *event.NavPosted:
		s.metrics.NavPosted.WithLabelValues(e.MarketID).Inc()
		s.metrics.LastNav.WithLabelValues(e.MarketID).Set(float64(e.Nav))
	case *event.DealOpened:
		s.metrics.DealsOpened.WithLabelValues(e.MarketID).Inc()
		s.metrics.FeesCollected.WithLabelValues(e.MarketID).Add(float64(2 * e.OpenFeeEach))
	case *event.DealClosed:
		s.metrics.DealsClosed.WithLabelValues(e.MarketID).Inc()
	case *event.DealLiquidated:
		outcome := "solvent"
		if m, err := s.engine.Market(e.MarketID); err == nil && m.Paused {
			outcome = "depleted"
		}
		s.metrics.LiquidationsFull.WithLabelValues(e.MarketID, outcome).Inc()
		s.metrics.LiquidationBounty.WithLabelValues(e.MarketID).Add(float64(e.BountyPaid))
	}
}

// syncMarketGauges refreshes paused/timelock gauges after governance ops.
func (s *Service) syncMarketGauges(marketID string) {
	m, err := s.engine.Market(marketID)
	if err != nil {
		return
	}
	paused := 0.0
	if m.Paused {
		paused = 1.0
	}
	pending := 0.0
	if m.HasPendingChange() {
		pending = 1.0
	}
	s.metrics.MarketPaused.WithLabelValues(marketID).Set(paused)
	s.metrics.PendingTimelocks.WithLabelValues(marketID).Set(pending)
}

// reason maps an engine error to a stable rejection label.
func reason(err error) string {
	for _, r := range []struct {
		err  error
		name string
	}{
		{engine.ErrMathOverflow, "math_overflow"},
		{engine.ErrMarketPaused, "market_paused"},
		{engine.ErrCircuitBreaker, "circuit_breaker"},
		{engine.ErrPriceNotSet, "price_not_set"},
		{engine.ErrPriceStale, "price_stale"},
		{engine.ErrClockWentBackwards, "clock_went_backwards"},
		{engine.ErrUnauthorized, "unauthorized"},
		{engine.ErrNotEnoughSigners, "not_enough_signers"},
		{engine.ErrZeroSize, "zero_size"},
		{engine.ErrNotOpen, "not_open"},
		{engine.ErrAlreadyOpen, "already_open"},
		{engine.ErrMarketExists, "market_exists"},
		{engine.ErrMarketNotFound, "market_not_found"},
		{engine.ErrDealNotFound, "deal_not_found"},
		{engine.ErrInsufficientMargin, "insufficient_margin"},
		{engine.ErrLeverageTooHigh, "leverage_too_high"},
		{engine.ErrNotLiquidatable, "not_liquidatable"},
		{engine.ErrOracleConfidenceTooWide, "confidence_too_wide"},
		{engine.ErrPriceJumpTooLarge, "price_jump_too_large"},
		{engine.ErrNoPendingParams, "no_pending_params"},
		{engine.ErrTimelockNotExpired, "timelock_not_expired"},
		{vault.ErrInsufficientBalance, "insufficient_balance"},
		{vault.ErrInvalidCustody, "invalid_custody"},
		{vault.ErrVaultNotFound, "vault_not_found"},
	} {
		if errors.Is(err, r.err) {
			return r.name
		}
	}
	return "internal"
}

// ============================================================================
// Governance & oracle operations
// ============================================================================

func (s *Service) InitMarket(caller engine.ID, marketID string, p engine.InitParams) error {
	return s.run("init_market", func() error {
		_, err := s.engine.InitMarket(caller, marketID, p)
		if err == nil {
			s.syncMarketGauges(marketID)
		}
		return err
	})
}

func (s *Service) PostNAV(caller engine.ID, marketID string, nav uint64, confidence *uint64) error {
	return s.run("post_nav", func() error {
		err := s.engine.PostNAV(caller, marketID, nav, confidence)
		if errors.Is(err, engine.ErrPriceJumpTooLarge) {
			s.metrics.BreakerTrips.WithLabelValues(marketID).Inc()
		}
		return err
	})
}

func (s *Service) PauseMarket(caller engine.ID, signers []engine.ID, marketID string, paused bool) error {
	return s.run("pause_market", func() error {
		err := s.engine.PauseMarket(caller, signers, marketID, paused)
		if err == nil {
			s.syncMarketGauges(marketID)
		}
		return err
	})
}

func (s *Service) UpdateMarketParams(caller engine.ID, signers []engine.ID, marketID string, p engine.UpdateParams) error {
	return s.run("update_params", func() error {
		return s.engine.UpdateMarketParams(caller, signers, marketID, p)
	})
}

func (s *Service) ProposeMarketParams(caller engine.ID, signers []engine.ID, marketID string, p engine.UpdateParams, delay time.Duration) error {
	return s.run("propose_params", func() error {
		err := s.engine.ProposeMarketParams(caller, signers, marketID, p, delay)
		if err == nil {
			s.syncMarketGauges(marketID)
		}
		return err
	})
}

func (s *Service) ExecuteMarketParams(caller engine.ID, signers []engine.ID, marketID string) error {
	return s.run("execute_params", func() error {
		err := s.engine.ExecuteMarketParams(caller, signers, marketID)
		if err == nil {
			s.syncMarketGauges(marketID)
		}
		return err
	})
}

func (s *Service) RotateAuthority(caller engine.ID, signers []engine.ID, marketID string, newAuthority engine.ID) error {
	return s.run("rotate_authority", func() error {
		return s.engine.RotateAuthority(caller, signers, marketID, newAuthority)
	})
}

// ============================================================================
// Deal operations
// ============================================================================

func (s *Service) OpenDeal(marketID string, req engine.OpenDealRequest) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.run("open_deal", func() error {
		d, err := s.engine.OpenDeal(marketID, req)
		if err != nil {
			return err
		}
		id = d.ID
		return nil
	})
	return id, err
}

func (s *Service) AddMarginLong(dealID uuid.UUID, caller engine.ID, source vault.ID, custody vault.Custody, amount uint64) error {
	return s.run("add_margin", func() error {
		return s.engine.AddMarginLong(dealID, caller, source, custody, amount)
	})
}

func (s *Service) AddMarginShort(dealID uuid.UUID, caller engine.ID, source vault.ID, custody vault.Custody, amount uint64) error {
	return s.run("add_margin", func() error {
		return s.engine.AddMarginShort(dealID, caller, source, custody, amount)
	})
}

func (s *Service) CloseDeal(dealID uuid.UUID, longDest, shortDest vault.ID) error {
	return s.run("close_deal", func() error {
		return s.engine.CloseDeal(dealID, longDest, shortDest)
	})
}

func (s *Service) Liquidate(dealID uuid.UUID, liquidatorDest, longDest, shortDest vault.ID) error {
	return s.run("liquidate", func() error {
		err := s.engine.Liquidate(dealID, liquidatorDest, longDest, shortDest)
		if err == nil {
			if d, derr := s.engine.Deal(dealID); derr == nil {
				s.syncMarketGauges(d.MarketID)
			}
		}
		return err
	})
}

func (s *Service) LiquidateToIM(dealID uuid.UUID, liquidatorDest vault.ID, maxBountyTake uint64) error {
	return s.run("liquidate_to_im", func() error {
		err := s.engine.LiquidateToIM(dealID, liquidatorDest, maxBountyTake)
		if err == nil {
			if d, derr := s.engine.Deal(dealID); derr == nil {
				s.syncMarketGauges(d.MarketID)
				s.metrics.LiquidationsPartial.WithLabelValues(d.MarketID).Inc()
			}
		}
		return err
	})
}

// ============================================================================
// Vault operations
// ============================================================================

// OpenVault creates a vault for an external party and returns its id together
// with the party's custody token.
func (s *Service) OpenVault(owner engine.ID) (vault.ID, vault.Custody) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.engine.Ledger()
	return l.OpenVault(vault.Owner(owner)), l.IssueCustody(vault.Owner(owner))
}

// Deposit credits external funds into a vault.
func (s *Service) Deposit(v vault.ID, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Ledger().Deposit(v, amount)
}

// Custody returns the party's capability token. The token is stable per
// owner, so the API layer can resolve it from an authenticated identity.
func (s *Service) Custody(owner engine.ID) vault.Custody {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Ledger().IssueCustody(vault.Owner(owner))
}
