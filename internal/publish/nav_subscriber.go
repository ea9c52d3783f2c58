package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"StackFutures/internal/engine"
	"StackFutures/internal/service"
)

// NavSubscriber consumes oracle NAV prints from JetStream and posts them
// into the engine. Each configured subject gets its own durable consumer
// with explicit ACK; a print the engine rejects (jump, breaker, stale
// market) is ACKed anyway, since redelivering it cannot make it valid.
type NavSubscriber struct {
	js        jetstream.JetStream
	svc       *service.Service
	log       zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// navMessage is the inbound oracle print.
type navMessage struct {
	MarketID   string  `json:"market_id"`
	Oracle     string  `json:"oracle"`
	Nav        uint64  `json:"nav"`
	Confidence *uint64 `json:"confidence,omitempty"`
}

func NewNavSubscriber(js jetstream.JetStream, svc *service.Service, log zerolog.Logger) *NavSubscriber {
	return &NavSubscriber{js: js, svc: svc, log: log}
}

// Subscribe creates one durable consumer per subject on the given stream.
func (ns *NavSubscriber) Subscribe(ctx context.Context, stream string, subjects []string) error {
	for i, subject := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
			Durable:       fmt.Sprintf("stack-nav-%d", i),
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			return fmt.Errorf("create nav consumer for %s: %w", subject, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			ns.handle(msg)
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", subject, err)
		}

		ns.consumers = append(ns.consumers, cc)
		ns.log.Info().Str("subject", subject).Msg("subscribed to nav feed")
	}
	return nil
}

func (ns *NavSubscriber) handle(msg jetstream.Msg) {
	var nav navMessage
	if err := json.Unmarshal(msg.Data(), &nav); err != nil {
		ns.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("malformed nav message")
		msg.Ack() // poison message, do not redeliver
		return
	}

	if err := ns.svc.PostNAV(engine.ID(nav.Oracle), nav.MarketID, nav.Nav, nav.Confidence); err != nil {
		ns.log.Debug().
			Err(err).
			Str("market", nav.MarketID).
			Uint64("nav", nav.Nav).
			Msg("nav print rejected")
	}
	msg.Ack()
}

// Stop drains all consumers.
func (ns *NavSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
}
