package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// EventLogWriter appends committed engine events to Postgres using multi-row
// INSERT with ON CONFLICT DO NOTHING, so replaying an already-written
// sequence range is harmless.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is one row in event_log.events.
type EventRow struct {
	Sequence  int64
	EventType string
	EventKey  string
	MarketID  string
	Payload   []byte // JSON-encoded event payload
	Ts        int64  // unix nanoseconds at commit
}

// JournalRow is one row in event_log.journal: a single applied vault
// transfer, keyed by the committing operation's sequence and its position
// inside the operation's batch.
type JournalRow struct {
	Sequence  int64
	Entry     int
	FromVault string
	ToVault   string
	FromOwner string
	ToOwner   string
	Amount    int64
	Ts        int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events inside one statement. Rows whose
// sequence already exists are skipped.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, event_key, market_id, payload, ts)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)

	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, e.Sequence, e.EventType, e.EventKey, e.MarketID, e.Payload, e.Ts)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes transfer-journal rows inside one statement. Rows
// whose (sequence, entry) pair already exists are skipped.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(sequence, entry, from_vault, to_vault, from_owner, to_owner, amount, ts)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*8)

	for i, j := range journals {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args, j.Sequence, j.Entry, j.FromVault, j.ToVault, j.FromOwner, j.ToOwner, j.Amount, j.Ts)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence, entry) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest persisted sequence across the event log
// and the transfer journal, or -1 when both are empty. Journal-only
// sequences (operations that moved funds without emitting an event) must
// count too, or a restart would reuse them and the conflict clause would
// silently drop the new rows. The service resumes numbering from the value
// after this one.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `
		SELECT GREATEST(
			(SELECT MAX(sequence) FROM event_log.events),
			(SELECT MAX(sequence) FROM event_log.journal)
		)`,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// MarshalEventPayload serializes an event payload to JSON for storage.
func MarshalEventPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
