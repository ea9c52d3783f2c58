// Package publish moves committed events out to NATS JetStream and feeds
// oracle NAV updates back in.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"StackFutures/internal/service"
)

// OutboundPublisher publishes committed events for downstream consumers.
// Subjects follow the pattern {prefix}.{event_type}.{market_id}. Publishing
// is best-effort: the event log in Postgres is the source of truth, so a
// failed publish is logged and skipped, never retried at the cost of
// blocking the drain.
type OutboundPublisher struct {
	js        jetstream.JetStream
	prefix    string
	inputChan <-chan service.Output
	log       zerolog.Logger
}

// wireEvent is the published envelope.
type wireEvent struct {
	Sequence  int64       `json:"sequence"`
	EventType string      `json:"event_type"`
	EventKey  string      `json:"event_key"`
	MarketID  string      `json:"market_id"`
	Payload   interface{} `json:"payload"`
	Ts        time.Time   `json:"ts"`
}

func NewOutboundPublisher(js jetstream.JetStream, prefix string, inputChan <-chan service.Output, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		prefix:    prefix,
		inputChan: inputChan,
		log:       log,
	}
}

// Run drains the publish channel until ctx is cancelled or the channel
// closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				op.log.Warn().Err(err).Int64("sequence", out.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out service.Output) error {
	data, err := json.Marshal(wireEvent{
		Sequence:  out.Sequence,
		EventType: out.Event.EventType().String(),
		EventKey:  out.Event.Key(),
		MarketID:  out.Event.Market(),
		Payload:   out.Event,
		Ts:        out.Ts,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", op.prefix, out.Event.EventType(), out.Event.Market())
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, prefix string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}

// EnsureNavStream creates the inbound oracle print stream covering the
// configured NAV subjects.
func EnsureNavStream(ctx context.Context, js jetstream.JetStream, name string, subjects []string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create nav stream: %w", err)
	}
	return nil
}
