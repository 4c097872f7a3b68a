package ingestion

import (
	"context"

	"StableLedger/internal/core"
	"StableLedger/internal/domain"
	"StableLedger/internal/instruction"
	"StableLedger/internal/observability"
	"StableLedger/internal/price"

	"github.com/rs/zerolog"
)

// GRPCIngestService is the synchronous submission path behind the RPC and
// HTTP surfaces. It shares the core's input channel with the NATS
// subscriber, so both paths are totally ordered.
type GRPCIngestService struct {
	submit  chan<- core.Submission
	prices  price.Source
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewGRPCIngestService(
	submit chan<- core.Submission,
	prices price.Source,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *GRPCIngestService {
	return &GRPCIngestService{submit: submit, prices: prices, metrics: metrics, logger: logger}
}

// SubmitRaw decodes a wire payload of the named type and submits it.
func (s *GRPCIngestService) SubmitRaw(ctx context.Context, typeName string, payload []byte) (core.Result, error) {
	t, err := instruction.ParseType(typeName)
	if err != nil {
		s.countRejected("unknown_type")
		return core.Result{}, domain.Wrap(domain.ErrInvalidParameter, "%v", err)
	}
	ins, err := instruction.Decode(t, payload)
	if err != nil {
		s.countRejected("parse")
		if _, ok := domain.CodeOf(err); ok {
			return core.Result{}, err
		}
		return core.Result{}, domain.Wrap(domain.ErrInvalidParameter, "%v", err)
	}
	return s.Submit(ctx, ins)
}

// Submit fills a missing price and waits for the core's verdict. A
// non-nil error means the core never answered; instruction rejections
// come back in Result.Err.
func (s *GRPCIngestService) Submit(ctx context.Context, ins instruction.Instruction) (core.Result, error) {
	if err := FillPrice(ctx, ins, s.prices); err != nil {
		return core.Result{}, err
	}
	res, err := core.Submit(ctx, s.submit, ins)
	if err != nil {
		return res, err
	}
	if res.Err != nil {
		reason := "internal"
		if code, ok := domain.CodeOf(res.Err); ok {
			reason = code.String()
		}
		s.countRejected(reason)
		s.logger.Debug().Err(res.Err).Str("instruction", ins.Type().String()).Msg("rpc instruction rejected")
	}
	return res, nil
}

func (s *GRPCIngestService) countRejected(reason string) {
	if s.metrics != nil {
		s.metrics.IngestRejected.WithLabelValues("rpc", reason).Inc()
	}
}
