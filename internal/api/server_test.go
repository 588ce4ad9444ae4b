package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"IntentForge/internal/agent"
	"IntentForge/internal/auth"
	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/intent"
	"IntentForge/internal/operation"
	"IntentForge/internal/registry"
)

const testAccount = "0x1111111111111111111111111111111111111111"

type testEnv struct {
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := registry.Default()
	ag := agent.New(intent.NewCompiler(reg), nil)
	queue := operation.NewMemoryQueue(16)
	svc := operation.NewService(operation.NewMemoryStore(), queue)
	t.Cleanup(func() { _ = svc.Close() })

	server := NewServer(":0", ag, svc, WithCatalog(reg), WithExecutableChains([]uint64{1}))
	return &testEnv{handler: server.Handler()}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (e *testEnv) compileTransfer(t *testing.T) *intent.PreparedTransaction {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/intents/compile", agent.CompileRequest{
		Kind:    "transfer",
		Params:  map[string]any{"token": "USDC", "to": "0x2222222222222222222222222222222222222222", "amount": "1.5"},
		Chain:   "1",
		Account: testAccount,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("compile status: got %d body %s", rec.Code, rec.Body.String())
	}
	return decode[*intent.PreparedTransaction](t, rec)
}

func TestCompileIntent(t *testing.T) {
	env := newTestEnv(t)
	ptx := env.compileTransfer(t)
	if ptx.ChainID != 1 || len(ptx.Steps) != 1 {
		t.Fatalf("unexpected prepared transaction: %+v", ptx)
	}
	if ptx.HumanReadable.Kind != intent.KindTransfer {
		t.Fatalf("unexpected kind: %s", ptx.HumanReadable.Kind)
	}
}

func TestCompileErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name   string
		req    agent.CompileRequest
		status int
	}{
		{
			name:   "unknown kind",
			req:    agent.CompileRequest{Kind: "stake", Chain: "1", Account: testAccount},
			status: http.StatusBadRequest,
		},
		{
			name:   "unsupported chain",
			req:    agent.CompileRequest{Kind: "transfer", Chain: "999999", Account: testAccount},
			status: http.StatusUnprocessableEntity,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/intents/compile", tc.req)
			if rec.Code != tc.status {
				t.Fatalf("status: got %d want %d body %s", rec.Code, tc.status, rec.Body.String())
			}
			body := decode[errorResponse](t, rec)
			if body.Code == "" || body.Message == "" {
				t.Fatalf("error body incomplete: %+v", body)
			}
		})
	}
}

func TestCompileRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/intents/compile", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
	if body := decode[errorResponse](t, rec); body.Code != xerrors.CodeParam {
		t.Fatalf("unexpected code: %s", body.Code)
	}
}

func TestPlanWithoutResolver(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/intents/plan", agent.PlanRequest{Message: "swap 1 eth", Chain: "1", Account: testAccount})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestOperationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ptx := env.compileTransfer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/operations", operation.SubmitRequest{Prepared: ptx, Account: testAccount})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status: got %d body %s", rec.Code, rec.Body.String())
	}
	submitted := decode[operation.Record](t, rec)
	if submitted.ID == "" || submitted.Status != operation.StatusPending {
		t.Fatalf("unexpected record: %+v", submitted)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/operations/"+submitted.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status: got %d", rec.Code)
	}
	if detail := decode[operation.Record](t, rec); detail.Kind != intent.KindTransfer || detail.ChainID != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/operations?status=pending&kind=TRANSFER&chain=eth&account=0X"+strings.ToUpper(testAccount[2:]), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status: got %d body %s", rec.Code, rec.Body.String())
	}
	if list := decode[[]operation.Record](t, rec); len(list) != 1 || list[0].ID != submitted.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/operations?status=confirmed,failed", nil)
	if list := decode[[]operation.Record](t, rec); len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	rec = env.do(t, http.MethodPost, "/api/v1/operations/"+submitted.ID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status: got %d body %s", rec.Code, rec.Body.String())
	}
	if cancelled := decode[operation.Record](t, rec); cancelled.Status != operation.StatusCancelled {
		t.Fatalf("unexpected status after cancel: %s", cancelled.Status)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/operations/"+submitted.ID+"/retry", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("retry of cancelled operation: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/operations/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status: got %d", rec.Code)
	}
	if stats := decode[operation.Stats](t, rec); stats.Total != 1 || stats.Cancelled != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	ptx := env.compileTransfer(t)

	cases := []struct {
		name   string
		req    operation.SubmitRequest
		status int
	}{
		{name: "missing prepared", req: operation.SubmitRequest{Account: testAccount}, status: http.StatusBadRequest},
		{name: "bad account", req: operation.SubmitRequest{Prepared: ptx, Account: "bob"}, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/operations", tc.req)
			if rec.Code != tc.status {
				t.Fatalf("status: got %d want %d body %s", rec.Code, tc.status, rec.Body.String())
			}
		})
	}
}

func TestOperationNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/operations/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d", rec.Code)
	}
	if body := decode[errorResponse](t, rec); body.Code != operation.CodeOperationNotFound {
		t.Fatalf("unexpected code: %s", body.Code)
	}
}

func TestListQueryValidation(t *testing.T) {
	env := newTestEnv(t)
	for _, query := range []string{"status=done", "kind=stake", "limit=-1", "offset=x", "order=sideways", "chain=nowhere", "since=yesterday"} {
		t.Run(query, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/operations?"+query, nil)
			if rec.Code != http.StatusBadRequest && rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status: got %d body %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestChainsAndHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/chains", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("chains status: got %d", rec.Code)
	}
	chains := decode[[]struct {
		ID         uint64 `json:"id"`
		Name       string `json:"name"`
		Explorer   string `json:"explorer"`
		Executable bool   `json:"executable"`
	}](t, rec)
	if len(chains) == 0 {
		t.Fatalf("expected chains")
	}
	for _, chain := range chains {
		if chain.Executable != (chain.ID == 1) {
			t.Fatalf("unexpected executable flag for chain %d", chain.ID)
		}
	}

	rec = env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "intentforge_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[xerrors.Code]int{
		xerrors.CodeParam:                 http.StatusBadRequest,
		xerrors.CodeChainConfig:           http.StatusUnprocessableEntity,
		operation.CodeOperationNotFound:   http.StatusNotFound,
		operation.CodeOperationConflict:   http.StatusConflict,
		operation.CodeOperationFinished:   http.StatusConflict,
		xerrors.CodeStorageFailure:        http.StatusInternalServerError,
		agent.CodeResolverFailure:         http.StatusBadGateway,
		xerrors.CodeInitializationFailure: http.StatusServiceUnavailable,
	}
	for code, want := range cases {
		if got := statusFor(code); got != want {
			t.Fatalf("statusFor(%s): got %d want %d", code, got, want)
		}
	}
}

func TestAuthProtectsOperationRoutes(t *testing.T) {
	authSvc, err := auth.NewService(auth.Config{
		Mode:   auth.ModeToken,
		Tokens: []auth.Token{{Name: "viewer", Secret: "viewer-secret", Permissions: []string{auth.PermissionOperationsRead}}},
	})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	svc := operation.NewService(operation.NewMemoryStore(), operation.NewMemoryQueue(1))
	t.Cleanup(func() { _ = svc.Close() })
	handler := NewServer(":0", nil, svc, WithAuth(authSvc)).Handler()

	cases := []struct {
		name   string
		method string
		target string
		token  string
		status int
	}{
		{name: "anonymous list", method: http.MethodGet, target: "/api/v1/operations", status: http.StatusUnauthorized},
		{name: "viewer list", method: http.MethodGet, target: "/api/v1/operations", token: "viewer-secret", status: http.StatusOK},
		{name: "viewer cancel", method: http.MethodPost, target: "/api/v1/operations/x/cancel", token: "viewer-secret", status: http.StatusForbidden},
		{name: "health is public", method: http.MethodGet, target: "/healthz", status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status: got %d want %d body %s", rec.Code, tc.status, rec.Body.String())
			}
		})
	}
}
