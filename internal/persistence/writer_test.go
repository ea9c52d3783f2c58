package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"StackFutures/internal/testutil"
)

// ============================================================================
// Event log writer (requires Postgres; skipped otherwise)
// ============================================================================

func setupWriter(t *testing.T) *EventLogWriter {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := NewMigrator(db, "../../migrations", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	return NewEventLogWriter(db)
}

func row(seq int64, eventType, marketID string) EventRow {
	return EventRow{
		Sequence:  seq,
		EventType: eventType,
		EventKey:  "k",
		MarketID:  marketID,
		Payload:   []byte(`{"nav":100000000}`),
		Ts:        time.Now().UnixNano(),
	}
}

func TestWriteEventBatchAndLastSequence(t *testing.T) {
	w := setupWriter(t)
	ctx := context.Background()

	last, err := w.LastSequence(ctx)
	if err != nil {
		t.Fatalf("last sequence on empty log: %v", err)
	}
	if last != -1 {
		t.Fatalf("last sequence = %d on empty log, want -1", last)
	}

	batch := []EventRow{
		row(0, "nav_posted", "GOLD-2026H"),
		row(1, "deal_opened", "GOLD-2026H"),
		row(2, "nav_posted", "OIL-2026H"),
	}
	if err := w.WriteEventBatch(ctx, batch); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	last, err = w.LastSequence(ctx)
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 2 {
		t.Fatalf("last sequence = %d, want 2", last)
	}
}

func TestWriteEventBatchIdempotent(t *testing.T) {
	w := setupWriter(t)
	ctx := context.Background()

	if err := w.WriteEventBatch(ctx, []EventRow{row(0, "nav_posted", "GOLD-2026H")}); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Replaying the same sequence plus one new row must not error and must
	// only add the new row.
	replay := []EventRow{
		row(0, "nav_posted", "GOLD-2026H"),
		row(1, "deal_opened", "GOLD-2026H"),
	}
	if err := w.WriteEventBatch(ctx, replay); err != nil {
		t.Fatalf("replay write: %v", err)
	}

	last, err := w.LastSequence(ctx)
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 1 {
		t.Fatalf("last sequence = %d after replay, want 1", last)
	}
}

func TestWriteEventBatchEmpty(t *testing.T) {
	w := setupWriter(t)

	if err := w.WriteEventBatch(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if err := w.WriteJournalBatch(context.Background(), nil); err != nil {
		t.Fatalf("empty journal batch: %v", err)
	}
}

func journalRow(seq int64, entry int, amount int64) JournalRow {
	return JournalRow{
		Sequence:  seq,
		Entry:     entry,
		FromVault: "aec2b1be-4f8b-43c8-a9dc-4b7f6e3c1111",
		ToVault:   "aec2b1be-4f8b-43c8-a9dc-4b7f6e3c2222",
		FromOwner: "alice",
		ToOwner:   "deal:GOLD-2026H",
		Amount:    amount,
		Ts:        time.Now().UnixNano(),
	}
}

func TestWriteJournalBatchIdempotent(t *testing.T) {
	w := setupWriter(t)
	ctx := context.Background()

	first := []JournalRow{
		journalRow(0, 0, 10_000000),
		journalRow(0, 1, 500000),
	}
	if err := w.WriteJournalBatch(ctx, first); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Replaying the batch plus one new entry skips the duplicates.
	replay := append(first, journalRow(1, 0, 2_000000))
	if err := w.WriteJournalBatch(ctx, replay); err != nil {
		t.Fatalf("replay write: %v", err)
	}

	var count int
	if err := w.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_log.journal`,
	).Scan(&count); err != nil {
		t.Fatalf("count journal rows: %v", err)
	}
	if count != 3 {
		t.Fatalf("journal rows = %d after replay, want 3", count)
	}
}

func TestLastSequenceCountsJournalOnlyWrites(t *testing.T) {
	w := setupWriter(t)
	ctx := context.Background()

	if err := w.WriteEventBatch(ctx, []EventRow{row(0, "deal_opened", "GOLD-2026H")}); err != nil {
		t.Fatalf("write event: %v", err)
	}
	// A margin top-up journals transfers without an event row; its sequence
	// must still advance recovery.
	if err := w.WriteJournalBatch(ctx, []JournalRow{journalRow(5, 0, 1_000000)}); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	last, err := w.LastSequence(ctx)
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 5 {
		t.Fatalf("last sequence = %d, want 5", last)
	}
}
