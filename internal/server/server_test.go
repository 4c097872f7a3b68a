package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/domain"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/observability"
	"StableLedger/internal/price"
	"StableLedger/internal/query"
	"StableLedger/internal/state"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var (
	testAuthority = uuid.MustParse("a0000000-0000-4000-8000-000000000001")
	testOwner     = uuid.MustParse("b0000000-0000-4000-8000-000000000002")
)

type fakeReader struct {
	lastPrice uint64
	lastPage  int
}

func (f *fakeReader) GetGovernance(context.Context) (*query.GovernanceResponse, error) {
	return &query.GovernanceResponse{Authority: testAuthority, CollateralRatio: 150, RatioScale: 100, AsOfSequence: 0}, nil
}

func (f *fakeReader) GetPosition(_ context.Context, owner uuid.UUID, atPrice uint64) (*query.PositionResponse, error) {
	f.lastPrice = atPrice
	if owner != testOwner {
		return nil, fmt.Errorf("position %s: %w", owner, domain.ErrNotFound)
	}
	return &query.PositionResponse{Owner: owner, CollateralDeposited: 14, StablecoinMinted: 1_000, Status: "Open", AsOfSequence: 2}, nil
}

func (f *fakeReader) GetBalances(_ context.Context, owner uuid.UUID) (*query.BalancesResponse, error) {
	return &query.BalancesResponse{Owner: owner}, nil
}

func (f *fakeReader) GetJournalHistory(_ context.Context, _ uuid.UUID, limit int, _ int64) ([]query.JournalHistoryEntry, error) {
	f.lastPage = limit
	return []query.JournalHistoryEntry{{Sequence: 2}}, nil
}

func (f *fakeReader) GetLiquidationHistory(context.Context, uuid.UUID, int, int64) ([]query.LiquidationEntry, error) {
	return nil, nil
}

func (f *fakeReader) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true, LatestSequence: 2, ProjectedSequence: 2}, nil
}

type fakeEventLog struct {
	seq int64
	ok  bool
}

func (f fakeEventLog) GetLatestSequence(context.Context) (int64, bool, error) {
	return f.seq, f.ok, nil
}

type downSubmitter struct{}

func (downSubmitter) SubmitRaw(context.Context, string, []byte) (core.Result, error) {
	return core.Result{}, fmt.Errorf("%w: queue full", core.ErrCoreUnavailable)
}

// liveSubmitter runs a settlement core behind the ingest service with a
// fixed price of 110.
func liveSubmitter(t *testing.T) Submitter {
	t.Helper()
	persistCh := make(chan core.CoreOutput, 64)
	cfg := core.DefaultConfig()
	cfg.Governance = state.GovernanceParams{RatioScale: 100, LiquidationBonusBps: 1_000}
	c := core.NewSettlementCore(cfg, persistCh, nil, nil, nil)

	input := make(chan core.Submission, 4)
	r := core.NewRunner(c, input, 0, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return ingestion.NewGRPCIngestService(input, price.NewStaticSource(price.RawPrice{Value: 110}), metrics, zerolog.Nop())
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"nil", nil, codes.OK},
		{"rejection", domain.Wrap(domain.ErrInsufficientCollateral, "need %d", 5), codes.FailedPrecondition},
		{"already initialized", domain.ErrAlreadyInitialized, codes.AlreadyExists},
		{"unauthorized", domain.ErrUnauthorized, codes.PermissionDenied},
		{"overflow", domain.ErrArithmeticOverflow, codes.OutOfRange},
		{"not found", fmt.Errorf("position: %w", domain.ErrNotFound), codes.NotFound},
		{"core down", core.ErrCoreUnavailable, codes.Unavailable},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"status passthrough", status.Error(codes.Aborted, "x"), codes.Aborted},
		{"other", errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.code, status.Code(toStatus(tc.err)))
		})
	}

	st := status.Convert(toStatus(domain.ErrStalePrice))
	require.True(t, strings.HasPrefix(st.Message(), "StalePrice: "), st.Message())
}

func postInstruction(t *testing.T, srv *httptest.Server, name, payload string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/instructions/"+name, "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func getJSON(t *testing.T, srv *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestGateway_SubmitFlow(t *testing.T) {
	svc := NewLedgerService(liveSubmitter(t), &fakeReader{}, fakeEventLog{})
	srv := httptest.NewServer(NewGatewayMux(svc))
	defer srv.Close()

	ts := "1700000000000000"
	code, body := postInstruction(t, srv, "initialize",
		`{"request_id":"`+uuid.NewString()+`","payer":"`+testAuthority.String()+`","collateral_ratio":150,"sequence":0,"timestamp_us":`+ts+`}`)
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, true, body["applied"])

	code, body = postInstruction(t, srv, "deposit_collateral",
		`{"request_id":"`+uuid.NewString()+`","owner":"`+testOwner.String()+`","amount":14,"sequence":0,"timestamp_us":`+ts+`}`)
	require.Equal(t, http.StatusOK, code, body)

	mint := `{"request_id":"` + uuid.NewString() + `","owner":"` + testOwner.String() + `","amount":1000,"sequence":0,"timestamp_us":` + ts + `}`
	code, body = postInstruction(t, srv, "mint_stablecoin", mint)
	require.Equal(t, http.StatusOK, code, body)
	receipt, ok := body["receipt"].(map[string]any)
	require.True(t, ok, body)
	require.Equal(t, float64(2), receipt["sequence"])
	require.Equal(t, "mint_stablecoin", receipt["instruction"])

	// Same request id again
	code, body = postInstruction(t, srv, "mint_stablecoin", mint)
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, true, body["duplicate"])
	require.Equal(t, false, body["applied"])
	require.Nil(t, body["receipt"])

	code, body = postInstruction(t, srv, "mint_stablecoin",
		`{"request_id":"`+uuid.NewString()+`","owner":"`+testOwner.String()+`","amount":5000,"sequence":0,"timestamp_us":`+ts+`}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "FailedPrecondition", body["code"])
	require.True(t, strings.HasPrefix(body["message"].(string), "InsufficientCollateral"), body["message"])

	code, body = postInstruction(t, srv, "open_perp", `{}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "InvalidArgument", body["code"])
}

func TestGateway_Reads(t *testing.T) {
	reader := &fakeReader{}
	svc := NewLedgerService(downSubmitter{}, reader, fakeEventLog{})
	srv := httptest.NewServer(NewGatewayMux(svc))
	defer srv.Close()

	code, body := getJSON(t, srv, "/v1/positions/"+testOwner.String()+"?price=110")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "1000", body["stablecoin_minted"])
	require.Equal(t, uint64(110), reader.lastPrice)

	code, _ = getJSON(t, srv, "/v1/positions/"+uuid.NewString())
	require.Equal(t, http.StatusNotFound, code)

	code, body = getJSON(t, srv, "/v1/positions/not-a-uuid")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "InvalidArgument", body["code"])

	code, _ = getJSON(t, srv, "/v1/positions/"+testOwner.String()+"?price=-1")
	require.Equal(t, http.StatusBadRequest, code)

	code, body = getJSON(t, srv, "/v1/positions/"+testOwner.String()+"/journals?page_size=25")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["journals"], 1)
	require.Equal(t, 25, reader.lastPage)

	code, _ = getJSON(t, srv, "/v1/positions/"+testOwner.String()+"/journals?page_size=abc")
	require.Equal(t, http.StatusBadRequest, code)

	code, body = getJSON(t, srv, "/v1/governance")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "150", body["collateral_ratio"])

	code, body = getJSON(t, srv, "/v1/admin/integrity")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["is_healthy"])

	code, body = getJSON(t, srv, "/v1/admin/event-log")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["empty"])
	require.Equal(t, float64(-1), body["last_sequence"])

	code, body = postInstruction(t, srv, "deposit_collateral", `{"amount":1}`)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "Unavailable", body["code"])

	code, body = postInstruction(t, srv, "deposit_collateral", `null`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "InvalidArgument", body["code"])
}

func TestGRPC_OverBufconn(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reader := &fakeReader{}
	s := NewGRPCServer("", "", &ServerDeps{
		Submitter: downSubmitter{},
		Reader:    reader,
		EventLog:  fakeEventLog{seq: 7, ok: true},
		Logger:    zerolog.Nop(),
	})
	s.SetServing(true)

	lis := bufconn.Listen(1 << 20)
	serveCtx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeGRPC(serveCtx, lis) }()
	t.Cleanup(func() {
		stop()
		<-done
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := NewLedgerClient(conn)

	pos, err := client.GetPosition(ctx, &GetPositionRequest{Owner: testOwner.String(), Price: 100})
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), pos.StablecoinMinted)
	require.Equal(t, uint64(100), reader.lastPrice)

	_, err = client.GetPosition(ctx, &GetPositionRequest{Owner: uuid.NewString()})
	require.Equal(t, codes.NotFound, status.Code(err))

	info, err := client.GetEventLogInfo(ctx, &GetEventLogInfoRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(7), info.LastSequence)
	require.False(t, info.Empty)

	_, err = client.Submit(ctx, &SubmitRequest{Instruction: "deposit_collateral", Payload: json.RawMessage(`{}`)})
	require.Equal(t, codes.Unavailable, status.Code(err))

	_, err = client.Submit(ctx, &SubmitRequest{Instruction: "deposit_collateral"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Submit(ctx, &SubmitRequest{Instruction: "deposit_collateral", Payload: json.RawMessage(" null ")})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.GetStatus())
}
