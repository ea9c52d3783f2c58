package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"StackFutures/internal/observability"
	"StackFutures/internal/service"
)

// Worker drains the persist channel and batch-writes the event log to
// Postgres. The service uses BLOCKING sends into this channel, so when the
// worker falls behind the writer stalls instead of losing committed events.
type Worker struct {
	writer       *EventLogWriter
	inputChan    <-chan service.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan service.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the channel
// closes; either way the final partial batch is flushed.
func (w *Worker) Run(ctx context.Context) error {
	events := make([]EventRow, 0, w.batchSize)
	journals := make([]JournalRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(events)+len(journals) > 0 {
				if err := w.flush(context.Background(), events, journals); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(events)+len(journals) > 0 {
					if err := w.flush(context.Background(), events, journals); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			if out.Event != nil {
				row, err := toRow(out)
				if err != nil {
					// Marshal failures are programming errors; the event is
					// already committed in memory, so log loudly and move on.
					w.log.Error().Err(err).Int64("sequence", out.Sequence).Msg("event marshal failed")
					w.metrics.PersistErrors.WithLabelValues("marshal").Inc()
					continue
				}
				events = append(events, row)
			}
			journals = append(journals, journalRows(out)...)

			if len(events)+len(journals) >= w.batchSize {
				if err := w.flushWithRetry(ctx, events, journals); err != nil {
					return err
				}
				events = events[:0]
				journals = journals[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(events)+len(journals) > 0 {
				if err := w.flushWithRetry(ctx, events, journals); err != nil {
					return err
				}
				events = events[:0]
				journals = journals[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func toRow(out service.Output) (EventRow, error) {
	payload, err := MarshalEventPayload(out.Event)
	if err != nil {
		return EventRow{}, err
	}
	return EventRow{
		Sequence:  out.Sequence,
		EventType: out.Event.EventType().String(),
		EventKey:  out.Event.Key(),
		MarketID:  out.Event.Market(),
		Payload:   payload,
		Ts:        out.Ts.UnixNano(),
	}, nil
}

// journalRows expands an output's applied transfers into journal rows keyed
// by (sequence, batch position).
func journalRows(out service.Output) []JournalRow {
	if len(out.Batch) == 0 {
		return nil
	}
	rows := make([]JournalRow, 0, len(out.Batch))
	for i, t := range out.Batch {
		rows = append(rows, JournalRow{
			Sequence:  out.Sequence,
			Entry:     i,
			FromVault: t.From.String(),
			ToVault:   t.To.String(),
			FromOwner: string(t.FromOwner),
			ToOwner:   string(t.ToOwner),
			Amount:    int64(t.Amount),
			Ts:        out.Ts.UnixNano(),
		})
	}
	return rows
}

// flushWithRetry retries with exponential backoff and never drops a batch:
// it returns only on success or on cancellation (after one final attempt
// with a background context).
func (w *Worker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(events)).
				Int("journals", len(journals)).
				Msg("persistence retry")
			w.metrics.PersistRetry.Inc()

			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), events, journals); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, events, journals); err != nil {
			w.metrics.PersistErrors.WithLabelValues("write").Inc()
			continue
		}
		if attempt > 0 {
			w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
		}
		return nil
	}
}

// flush writes events before journal rows; a crash between the two replays
// the batch on restart and the conflict clauses absorb the overlap.
func (w *Worker) flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	start := time.Now()
	if err := w.writer.WriteEventBatch(ctx, events); err != nil {
		return err
	}
	if err := w.writer.WriteJournalBatch(ctx, journals); err != nil {
		return err
	}
	w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
	w.metrics.PersistBatchSize.Observe(float64(len(events) + len(journals)))
	w.metrics.PersistEventsWritten.Add(float64(len(events)))
	w.metrics.PersistJournalsWritten.Add(float64(len(journals)))
	return nil
}
