package ingestion

import (
	"context"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/domain"
	"StableLedger/internal/instruction"
	"StableLedger/internal/observability"
	"StableLedger/internal/price"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// SubscriberConfig names the inbound stream and its durable consumer.
type SubscriberConfig struct {
	Stream   string
	Consumer string
	Subject  string
}

func DefaultSubscriberConfig(stream string) SubscriberConfig {
	return SubscriberConfig{
		Stream:   stream,
		Consumer: "ledger-instructions",
		Subject:  InstructionSubjects,
	}
}

// NATSSubscriber feeds JetStream instructions into the settlement core.
// A single durable consumer keeps stream order, which is the order the
// core sees. Messages are acked only once the resulting event is durable;
// rejected and duplicate instructions are acked straight away.
type NATSSubscriber struct {
	js       jetstream.JetStream
	submit   chan<- core.Submission
	prices   price.Source
	acks     *AckTracker
	metrics  *observability.Metrics
	logger   zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewNATSSubscriber(
	js jetstream.JetStream,
	submit chan<- core.Submission,
	prices price.Source,
	acks *AckTracker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		submit:  submit,
		prices:  prices,
		acks:    acks,
		metrics: metrics,
		logger:  logger,
	}
}

// Subscribe creates the durable consumer and starts delivery.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, cfg SubscriberConfig) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.Consumer,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.Consumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ns.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.Consumer, err)
	}
	ns.consumer = cc
	ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.Consumer).Msg("subscribed")
	return nil
}

func (ns *NATSSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	ins, err := ParseMessage(msg.Subject(), msg.Data())
	if err != nil {
		// Malformed payloads never get better on redelivery
		ns.reject("parse", err, msg.Subject())
		_ = msg.Term()
		return
	}

	if err := FillPrice(ctx, ins, ns.prices); err != nil {
		ns.logger.Warn().Err(err).Str("key", ins.IdempotencyKey()).Msg("price lookup failed")
		_ = msg.NakWithDelay(time.Second)
		return
	}

	res, err := core.Submit(ctx, ns.submit, ins)
	if err != nil {
		_ = msg.Nak()
		return
	}

	switch {
	case res.Err != nil:
		reason := "internal"
		if code, ok := domain.CodeOf(res.Err); ok {
			reason = code.String()
		}
		ns.countRejected(reason)
		_ = msg.Ack()
	case res.Duplicate || res.Output == nil:
		_ = msg.Ack()
	default:
		ns.acks.Add(res.Output.Envelope.Sequence, func() { _ = msg.Ack() })
	}
}

func (ns *NATSSubscriber) reject(reason string, err error, subject string) {
	ns.logger.Warn().Err(err).Str("subject", subject).Msg("dropping inbound message")
	ns.countRejected(reason)
}

func (ns *NATSSubscriber) countRejected(reason string) {
	if ns.metrics != nil {
		ns.metrics.IngestRejected.WithLabelValues("nats", reason).Inc()
	}
}

// Stop stops delivery. In-flight handlers finish on their own.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// EnsureStreams creates the inbound and outbound streams if missing.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, inbound, receiptsPrefix string) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      inbound,
			Subjects:  []string{InstructionSubjects},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      inbound + "_RECEIPTS",
			Subjects:  []string{receiptsPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("stableledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}

// PublishInstruction sends ins to its inbound subject. Used by tools and
// tests that drive the ledger through the broker.
func PublishInstruction(ctx context.Context, js jetstream.JetStream, ins instruction.Instruction) error {
	data, err := instruction.Encode(ins)
	if err != nil {
		return err
	}
	subject := InstructionSubjectPrefix + ins.Type().String() + "." + subjectToken(ins.Partition())
	if _, err := js.Publish(ctx, subject, data, jetstream.WithMsgID(ins.Type().String()+":"+ins.IdempotencyKey())); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
