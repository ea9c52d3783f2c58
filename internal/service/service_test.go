package service

import (
	"testing"

	"github.com/rs/zerolog"

	"StackFutures/internal/engine"
	"StackFutures/internal/event"
	"StackFutures/internal/observability"
	"StackFutures/internal/vault"
)

// Prometheus collectors register globally; one Metrics per test binary.
var testMetrics = observability.NewMetrics()

// ============================================================================
// Fan-out: events and transfer journals through the output channels
// ============================================================================

func newTestService(t *testing.T) (*Service, chan Output, chan Output) {
	t.Helper()
	persistChan := make(chan Output, 256)
	publishChan := make(chan Output, 256)
	svc := New(engine.SystemClock{}, 0, persistChan, publishChan, testMetrics, zerolog.Nop())
	return svc, persistChan, publishChan
}

func initTestMarket(t *testing.T, svc *Service, marketID string) {
	t.Helper()
	err := svc.InitMarket("gov", marketID, engine.InitParams{
		SettlementAsset:      "USD",
		QuoteDecimals:        6,
		ReferenceID:          "ref",
		OracleAuthority:      "oracle",
		PriceDecimals:        6,
		InitialMarginBps:     1000,
		MaintenanceMarginBps: 500,
		FeeBps:               100,
		LiquidatorBps:        50,
		PriceStaleSeconds:    60,
		MaxLeverageBps:       50000,
		MaxNavJumpBps:        1000,
		Admins:               []engine.ID{"gov"},
	})
	if err != nil {
		t.Fatalf("init market: %v", err)
	}
}

func fundedVault(t *testing.T, svc *Service, owner engine.ID, amount uint64) vault.ID {
	t.Helper()
	v, _ := svc.OpenVault(owner)
	if err := svc.Deposit(v, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return v
}

func drain(ch chan Output) []Output {
	var outs []Output
	for {
		select {
		case out := <-ch:
			outs = append(outs, out)
		default:
			return outs
		}
	}
}

func TestOpenDealCarriesTransferJournal(t *testing.T) {
	svc, persistChan, publishChan := newTestService(t)
	initTestMarket(t, svc, "GOLD-2026H")

	longV := fundedVault(t, svc, "alice", 10_500000)
	shortV := fundedVault(t, svc, "bob", 10_500000)
	if err := svc.PostNAV("oracle", "GOLD-2026H", 100_000000, nil); err != nil {
		t.Fatalf("post nav: %v", err)
	}
	drain(persistChan)
	drain(publishChan)

	_, err := svc.OpenDeal("GOLD-2026H", engine.OpenDealRequest{
		ClientOrderID: 1,
		Long:          "alice",
		Short:         "bob",
		LongSource:    longV,
		ShortSource:   shortV,
		LongCustody:   svc.Custody("alice"),
		ShortCustody:  svc.Custody("bob"),
		Size:          1_000000,
		LongDeposit:   10_500000,
		ShortDeposit:  10_500000,
	})
	if err != nil {
		t.Fatalf("open deal: %v", err)
	}

	outs := drain(persistChan)
	if len(outs) != 1 {
		t.Fatalf("persist outputs: got %d, want 1", len(outs))
	}
	if _, ok := outs[0].Event.(*event.DealOpened); !ok {
		t.Fatalf("event: got %T, want *event.DealOpened", outs[0].Event)
	}
	if len(outs[0].Batch) == 0 {
		t.Fatal("deal open moved funds but the output carries no journal entries")
	}
	var total uint64
	for _, a := range outs[0].Batch {
		total += a.Amount
	}
	// Two deposits in full: margin plus each side's fee share.
	if total != 21_000000 {
		t.Errorf("journaled amount: got %d, want 21_000000", total)
	}

	// The published copy carries the same batch; publishing is lossy, the
	// journal of record is the persisted one.
	pubs := drain(publishChan)
	if len(pubs) != 1 {
		t.Fatalf("publish outputs: got %d, want 1", len(pubs))
	}
}

func TestAddMarginEmitsJournalOnlyOutput(t *testing.T) {
	svc, persistChan, publishChan := newTestService(t)
	initTestMarket(t, svc, "OIL-2026H")

	longV := fundedVault(t, svc, "alice", 15_000000)
	shortV := fundedVault(t, svc, "bob", 10_500000)
	if err := svc.PostNAV("oracle", "OIL-2026H", 100_000000, nil); err != nil {
		t.Fatalf("post nav: %v", err)
	}

	dealID, err := svc.OpenDeal("OIL-2026H", engine.OpenDealRequest{
		ClientOrderID: 1,
		Long:          "alice",
		Short:         "bob",
		LongSource:    longV,
		ShortSource:   shortV,
		LongCustody:   svc.Custody("alice"),
		ShortCustody:  svc.Custody("bob"),
		Size:          1_000000,
		LongDeposit:   10_500000,
		ShortDeposit:  10_500000,
	})
	if err != nil {
		t.Fatalf("open deal: %v", err)
	}
	drain(persistChan)
	drain(publishChan)

	if err := svc.AddMarginLong(dealID, "alice", longV, svc.Custody("alice"), 2_000000); err != nil {
		t.Fatalf("add margin: %v", err)
	}

	outs := drain(persistChan)
	if len(outs) != 1 {
		t.Fatalf("persist outputs: got %d, want 1", len(outs))
	}
	if outs[0].Event != nil {
		t.Fatalf("margin top-up emitted event %T, want journal-only output", outs[0].Event)
	}
	if len(outs[0].Batch) != 1 {
		t.Fatalf("journal entries: got %d, want 1", len(outs[0].Batch))
	}
	if outs[0].Batch[0].Amount != 2_000000 {
		t.Errorf("journaled amount: got %d, want 2_000000", outs[0].Batch[0].Amount)
	}
	if outs[0].Batch[0].From != longV {
		t.Error("journal entry should debit the margin source vault")
	}

	// Journal-only outputs are persisted, never published.
	if pubs := drain(publishChan); len(pubs) != 0 {
		t.Errorf("publish outputs: got %d, want 0", len(pubs))
	}
}

func TestRejectedOperationProducesNoOutput(t *testing.T) {
	svc, persistChan, publishChan := newTestService(t)
	initTestMarket(t, svc, "FX-2026H")

	// Wrong oracle authority: rejected before any state change.
	if err := svc.PostNAV("mallory", "FX-2026H", 100_000000, nil); err == nil {
		t.Fatal("post nav by non-authority should fail")
	}
	if outs := drain(persistChan); len(outs) != 1 {
		// Only InitMarket's own event is in flight.
		t.Fatalf("persist outputs: got %d, want 1 (market init)", len(outs))
	}
	_ = drain(publishChan)
}

func TestSequenceAdvancesAcrossJournalOnlyOutputs(t *testing.T) {
	svc, persistChan, publishChan := newTestService(t)
	initTestMarket(t, svc, "CU-2026H")

	longV := fundedVault(t, svc, "alice", 15_000000)
	shortV := fundedVault(t, svc, "bob", 10_500000)
	if err := svc.PostNAV("oracle", "CU-2026H", 100_000000, nil); err != nil {
		t.Fatalf("post nav: %v", err)
	}

	dealID, err := svc.OpenDeal("CU-2026H", engine.OpenDealRequest{
		ClientOrderID: 1,
		Long:          "alice",
		Short:         "bob",
		LongSource:    longV,
		ShortSource:   shortV,
		LongCustody:   svc.Custody("alice"),
		ShortCustody:  svc.Custody("bob"),
		Size:          1_000000,
		LongDeposit:   10_500000,
		ShortDeposit:  10_500000,
	})
	if err != nil {
		t.Fatalf("open deal: %v", err)
	}
	if err := svc.AddMarginLong(dealID, "alice", longV, svc.Custody("alice"), 1_000000); err != nil {
		t.Fatalf("add margin: %v", err)
	}
	if err := svc.PostNAV("oracle", "CU-2026H", 101_000000, nil); err != nil {
		t.Fatalf("post nav: %v", err)
	}

	outs := drain(persistChan)
	for i := 1; i < len(outs); i++ {
		if outs[i].Sequence != outs[i-1].Sequence+1 {
			t.Fatalf("sequence gap: %d then %d", outs[i-1].Sequence, outs[i].Sequence)
		}
	}
	_ = drain(publishChan)
}
