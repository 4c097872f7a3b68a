package server

import (
	"bytes"
	"context"
	"encoding/json"

	"StableLedger/internal/core"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/query"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "stableledger.v1.Ledger"

// --- Messages ---

type SubmitRequest struct {
	Instruction string          `json:"instruction"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type SubmitResponse struct {
	Applied   bool               `json:"applied"`
	Duplicate bool               `json:"duplicate"`
	Receipt   *ingestion.Receipt `json:"receipt,omitempty"`
}

type GetGovernanceRequest struct{}

type GetPositionRequest struct {
	Owner string `json:"owner"`
	Price uint64 `json:"price,omitempty,string"`
}

type GetBalancesRequest struct {
	Owner string `json:"owner"`
}

type ListJournalsRequest struct {
	Owner          string `json:"owner"`
	PageSize       int    `json:"page_size,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type ListLiquidationsRequest struct {
	Account        string `json:"account"`
	PageSize       int    `json:"page_size,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type ListLiquidationsResponse struct {
	Liquidations []query.LiquidationEntry `json:"liquidations"`
}

type VerifyIntegrityRequest struct{}

type GetEventLogInfoRequest struct{}

type GetEventLogInfoResponse struct {
	LastSequence int64 `json:"last_sequence"`
	Empty        bool  `json:"empty"`
}

// --- Dependencies ---

// Submitter applies wire-format instructions.
type Submitter interface {
	SubmitRaw(ctx context.Context, typeName string, payload []byte) (core.Result, error)
}

// Reader serves the read models.
type Reader interface {
	GetGovernance(ctx context.Context) (*query.GovernanceResponse, error)
	GetPosition(ctx context.Context, owner uuid.UUID, atPrice uint64) (*query.PositionResponse, error)
	GetBalances(ctx context.Context, owner uuid.UUID) (*query.BalancesResponse, error)
	GetJournalHistory(ctx context.Context, owner uuid.UUID, limit int, beforeSequence int64) ([]query.JournalHistoryEntry, error)
	GetLiquidationHistory(ctx context.Context, id uuid.UUID, limit int, beforeSequence int64) ([]query.LiquidationEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// EventLog reports the durable log tip.
type EventLog interface {
	GetLatestSequence(ctx context.Context) (int64, bool, error)
}

// LedgerServer is the stableledger.v1.Ledger service.
type LedgerServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetGovernance(context.Context, *GetGovernanceRequest) (*query.GovernanceResponse, error)
	GetPosition(context.Context, *GetPositionRequest) (*query.PositionResponse, error)
	GetBalances(context.Context, *GetBalancesRequest) (*query.BalancesResponse, error)
	ListJournals(context.Context, *ListJournalsRequest) (*ListJournalsResponse, error)
	ListLiquidations(context.Context, *ListLiquidationsRequest) (*ListLiquidationsResponse, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
	GetEventLogInfo(context.Context, *GetEventLogInfoRequest) (*GetEventLogInfoResponse, error)
}

// ledgerService implements LedgerServer. Every method returns a gRPC
// status error so the gateway and gRPC callers see the same codes.
type ledgerService struct {
	submitter Submitter
	reader    Reader
	eventLog  EventLog
}

func NewLedgerService(submitter Submitter, reader Reader, eventLog EventLog) LedgerServer {
	return &ledgerService{submitter: submitter, reader: reader, eventLog: eventLog}
}

func (s *ledgerService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.Instruction == "" {
		return nil, status.Error(codes.InvalidArgument, "instruction is required")
	}
	if p := bytes.TrimSpace(req.Payload); len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return nil, status.Error(codes.InvalidArgument, "payload is required")
	}
	res, err := s.submitter.SubmitRaw(ctx, req.Instruction, req.Payload)
	if err != nil {
		return nil, toStatus(err)
	}
	if res.Err != nil {
		return nil, toStatus(res.Err)
	}
	resp := &SubmitResponse{Applied: res.Output != nil, Duplicate: res.Duplicate}
	if res.Output != nil {
		r := ingestion.BuildReceipt(*res.Output)
		resp.Receipt = &r
	}
	return resp, nil
}

func (s *ledgerService) GetGovernance(ctx context.Context, _ *GetGovernanceRequest) (*query.GovernanceResponse, error) {
	g, err := s.reader.GetGovernance(ctx)
	return g, toStatus(err)
}

func (s *ledgerService) GetPosition(ctx context.Context, req *GetPositionRequest) (*query.PositionResponse, error) {
	owner, err := parseID("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	p, err := s.reader.GetPosition(ctx, owner, req.Price)
	return p, toStatus(err)
}

func (s *ledgerService) GetBalances(ctx context.Context, req *GetBalancesRequest) (*query.BalancesResponse, error) {
	owner, err := parseID("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	b, err := s.reader.GetBalances(ctx, owner)
	return b, toStatus(err)
}

func (s *ledgerService) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error) {
	owner, err := parseID("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	entries, err := s.reader.GetJournalHistory(ctx, owner, req.PageSize, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListJournalsResponse{Journals: entries}, nil
}

func (s *ledgerService) ListLiquidations(ctx context.Context, req *ListLiquidationsRequest) (*ListLiquidationsResponse, error) {
	id, err := parseID("account", req.Account)
	if err != nil {
		return nil, err
	}
	entries, err := s.reader.GetLiquidationHistory(ctx, id, req.PageSize, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListLiquidationsResponse{Liquidations: entries}, nil
}

func (s *ledgerService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	r, err := s.reader.VerifyIntegrity(ctx)
	return r, toStatus(err)
}

func (s *ledgerService) GetEventLogInfo(ctx context.Context, _ *GetEventLogInfoRequest) (*GetEventLogInfoResponse, error) {
	seq, ok, err := s.eventLog.GetLatestSequence(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if !ok {
		return &GetEventLogInfoResponse{LastSequence: -1, Empty: true}, nil
	}
	return &GetEventLogInfoResponse{LastSequence: seq}, nil
}

func parseID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return id, nil
}

// --- Service descriptor ---

// unary adapts a typed method to grpc.MethodHandler.
func unary[Req any, Resp any](method string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", LedgerServer.Submit),
		unary("GetGovernance", LedgerServer.GetGovernance),
		unary("GetPosition", LedgerServer.GetPosition),
		unary("GetBalances", LedgerServer.GetBalances),
		unary("ListJournals", LedgerServer.ListJournals),
		unary("ListLiquidations", LedgerServer.ListLiquidations),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
		unary("GetEventLogInfo", LedgerServer.GetEventLogInfo),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stableledger/v1/ledger.proto",
}

// RegisterLedgerServer registers srv on s.
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

// LedgerClient calls the service over a connection using the JSON codec.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func (c *LedgerClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *LedgerClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	out := new(SubmitResponse)
	if err := c.invoke(ctx, "Submit", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) GetPosition(ctx context.Context, in *GetPositionRequest, opts ...grpc.CallOption) (*query.PositionResponse, error) {
	out := new(query.PositionResponse)
	if err := c.invoke(ctx, "GetPosition", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) GetEventLogInfo(ctx context.Context, in *GetEventLogInfoRequest, opts ...grpc.CallOption) (*GetEventLogInfoResponse, error) {
	out := new(GetEventLogInfoResponse)
	if err := c.invoke(ctx, "GetEventLogInfo", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
