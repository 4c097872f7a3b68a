package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxBodyBytes = 1 << 20

type handlerFunc func(r *http.Request, params map[string]string) (any, error)

// NewGatewayMux exposes the ledger service as HTTP/JSON. Handlers call the
// service in-process, so both transports share validation and status codes.
func NewGatewayMux(svc LedgerServer) *runtime.ServeMux {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handle  handlerFunc
	}{
		{http.MethodPost, "/v1/instructions/{type}", func(r *http.Request, p map[string]string) (any, error) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "read body: %v", err)
			}
			return svc.Submit(r.Context(), &SubmitRequest{Instruction: p["type"], Payload: body})
		}},
		{http.MethodGet, "/v1/governance", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.GetGovernance(r.Context(), &GetGovernanceRequest{})
		}},
		{http.MethodGet, "/v1/positions/{owner}", func(r *http.Request, p map[string]string) (any, error) {
			px, err := queryUint(r, "price")
			if err != nil {
				return nil, err
			}
			return svc.GetPosition(r.Context(), &GetPositionRequest{Owner: p["owner"], Price: px})
		}},
		{http.MethodGet, "/v1/positions/{owner}/balances", func(r *http.Request, p map[string]string) (any, error) {
			return svc.GetBalances(r.Context(), &GetBalancesRequest{Owner: p["owner"]})
		}},
		{http.MethodGet, "/v1/positions/{owner}/journals", func(r *http.Request, p map[string]string) (any, error) {
			size, before, err := pageParams(r)
			if err != nil {
				return nil, err
			}
			return svc.ListJournals(r.Context(), &ListJournalsRequest{Owner: p["owner"], PageSize: size, BeforeSequence: before})
		}},
		{http.MethodGet, "/v1/accounts/{id}/liquidations", func(r *http.Request, p map[string]string) (any, error) {
			size, before, err := pageParams(r)
			if err != nil {
				return nil, err
			}
			return svc.ListLiquidations(r.Context(), &ListLiquidationsRequest{Account: p["id"], PageSize: size, BeforeSequence: before})
		}},
		{http.MethodGet, "/v1/admin/integrity", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.VerifyIntegrity(r.Context(), &VerifyIntegrityRequest{})
		}},
		{http.MethodGet, "/v1/admin/event-log", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.GetEventLogInfo(r.Context(), &GetEventLogInfoRequest{})
		}},
	}

	for _, rt := range routes {
		handle := rt.handle
		// Patterns are static, so registration cannot fail at runtime.
		if err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			resp, err := handle(r, params)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		}); err != nil {
			panic(err)
		}
	}
	return mux
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(toStatus(err))
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{Code: st.Code().String(), Message: st.Message()})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func queryUint(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s: %q", name, raw)
	}
	return v, nil
}

func pageParams(r *http.Request) (int, int64, error) {
	q := r.URL.Query()
	var size int
	var before int64
	if raw := q.Get("page_size"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, status.Errorf(codes.InvalidArgument, "invalid page_size: %q", raw)
		}
		size = v
	}
	if raw := q.Get("before_sequence"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, 0, status.Errorf(codes.InvalidArgument, "invalid before_sequence: %q", raw)
		}
		before = v
	}
	return size, before, nil
}
