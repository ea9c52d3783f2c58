package engine

import (
	"StackFutures/internal/event"
	"StackFutures/internal/fpmath"
)

// breakerCooloffSeconds is the lockout window started by a rejected NAV jump.
const breakerCooloffSeconds = 300

// PostNAV validates and stores a NAV update from the market's oracle
// authority. nav is scaled by the market's price decimals; confidence, when
// supplied, is an absolute width in the same scale.
//
// A jump beyond MaxNavJumpBps rejects the NAV (it is not stored) and trips
// the circuit breaker for a cool-off window, so a single bad print cannot
// immediately force insolvent liquidations.
func (e *Engine) PostNAV(caller ID, marketID string, nav uint64, confidence *uint64) error {
	m, err := e.Market(marketID)
	if err != nil {
		return err
	}
	if m.Paused {
		return ErrMarketPaused
	}
	if caller != m.OracleAuthority {
		return ErrUnauthorized
	}

	now := e.now()
	if now < m.CircuitBreakerUntil {
		return ErrCircuitBreaker
	}

	if m.MaxConfidenceBps > 0 && confidence != nil {
		confBps, err := fpmath.RatioBpsU64(*confidence, max64(nav, 1))
		if err != nil {
			return err
		}
		if confBps > uint64(m.MaxConfidenceBps) {
			return ErrOracleConfidenceTooWide
		}
	}

	if m.LastNav != 0 {
		var diff uint64
		if nav > m.LastNav {
			diff = nav - m.LastNav
		} else {
			diff = m.LastNav - nav
		}
		jumpBps, err := fpmath.RatioBpsU64(diff, max64(m.LastNav, 1))
		if err != nil {
			return err
		}
		if jumpBps > uint64(m.MaxNavJumpBps) {
			m.CircuitBreakerUntil = now + breakerCooloffSeconds
			return ErrPriceJumpTooLarge
		}
	}

	m.LastNav = nav
	m.LastTs = now

	e.sink.Emit(&event.NavPosted{MarketID: m.ID, Nav: nav, Ts: now})
	return nil
}

// ensurePriceFresh gates every trading and liquidation path on a usable
// price: no active breaker window, a NAV present, no clock regression, and
// the NAV younger than the staleness bound.
func (e *Engine) ensurePriceFresh(m *Market) error {
	now := e.now()
	if now < m.CircuitBreakerUntil {
		return ErrCircuitBreaker
	}
	if m.LastNav == 0 {
		return ErrPriceNotSet
	}
	age := now - m.LastTs
	if age < 0 {
		return ErrClockWentBackwards
	}
	if uint64(age) > uint64(m.PriceStaleSeconds) {
		return ErrPriceStale
	}
	return nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
