package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"StableLedger/internal/core"
	"StableLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher turns durable core outputs into receipts on
// <prefix>.<instruction>.<partition>. It also releases held inbound acks.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	prefix    string
	acks      *AckTracker
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// Receipt is the outbound record of one applied instruction.
type Receipt struct {
	Sequence       int64             `json:"sequence"`
	Instruction    string            `json:"instruction"`
	IdempotencyKey string            `json:"idempotency_key"`
	Partition      string            `json:"partition"`
	SourceSequence int64             `json:"source_sequence,omitempty"`
	TimestampUs    int64             `json:"timestamp_us"`
	StateHash      string            `json:"state_hash"`
	PrevHash       string            `json:"prev_hash"`
	Journals       int               `json:"journals"`
	Position       *PositionReceipt  `json:"position,omitempty"`
	Liquidation    *LiquidationEntry `json:"liquidation,omitempty"`
	Paused         *bool             `json:"paused,omitempty"`
}

// Quantities are decimal strings so consumers keep the full uint64 range.
type PositionReceipt struct {
	Owner               string `json:"owner"`
	CollateralDeposited string `json:"collateral_deposited"`
	StablecoinMinted    string `json:"stablecoin_minted"`
	Status              string `json:"status"`
}

type LiquidationEntry struct {
	Liquidator       string `json:"liquidator"`
	DebtRepaid       string `json:"debt_repaid"`
	CollateralSeized string `json:"collateral_seized"`
	Price            string `json:"price"`
}

func NewOutboundPublisher(
	js jetstream.JetStream,
	inputChan <-chan core.CoreOutput,
	prefix string,
	acks *AckTracker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		prefix:    prefix,
		acks:      acks,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until ctx is cancelled or the input closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if op.acks != nil {
				op.acks.Committed(seq)
			}
			if op.js == nil {
				continue
			}
			if err := op.publish(ctx, output); err != nil {
				// Non-fatal: consumers can read the event log directly
				op.logger.Warn().Err(err).Int64("sequence", seq).Msg("receipt publish failed")
				continue
			}
			if op.metrics != nil {
				op.metrics.IngestPublished.WithLabelValues(output.Envelope.Type.String()).Inc()
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, output core.CoreOutput) error {
	r := BuildReceipt(output)
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	subject := ReceiptSubject(op.prefix, r.Instruction, r.Partition)
	msgID := "receipt:" + strconv.FormatInt(r.Sequence, 10)
	_, err = op.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	return err
}

// BuildReceipt summarizes one output.
func BuildReceipt(output core.CoreOutput) Receipt {
	env := output.Envelope
	r := Receipt{
		Sequence:       env.Sequence,
		Instruction:    env.Type.String(),
		IdempotencyKey: env.IdempotencyKey,
		Partition:      env.Partition,
		SourceSequence: env.SourceSequence,
		TimestampUs:    env.Timestamp.UnixMicro(),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
	}
	if output.Batch != nil {
		r.Journals = len(output.Batch.Journals)
	}
	if p := output.Position; p != nil {
		r.Position = &PositionReceipt{
			Owner:               p.Owner.String(),
			CollateralDeposited: strconv.FormatUint(p.CollateralDeposited, 10),
			StablecoinMinted:    strconv.FormatUint(p.StablecoinMinted, 10),
			Status:              p.Status.String(),
		}
	}
	if l := output.Liquidation; l != nil {
		r.Liquidation = &LiquidationEntry{
			Liquidator:       l.Liquidator.String(),
			DebtRepaid:       strconv.FormatUint(l.DebtRepaid, 10),
			CollateralSeized: strconv.FormatUint(l.CollateralSeized, 10),
			Price:            strconv.FormatUint(l.Price, 10),
		}
	}
	if g := output.Governance; g != nil {
		paused := g.Paused
		r.Paused = &paused
	}
	return r
}

// ReceiptSubject builds <prefix>.<instruction>.<partition>.
func ReceiptSubject(prefix, instructionName, partition string) string {
	return prefix + "." + instructionName + "." + subjectToken(partition)
}

// subjectToken makes s safe as a single subject token.
func subjectToken(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}
