package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"

	"IntentForge/internal/agent"
	"IntentForge/internal/auth"
	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/intent"
	"IntentForge/internal/observability/metrics"
	"IntentForge/internal/operation"
	"IntentForge/internal/registry"
	"IntentForge/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Server 负责暴露 REST 接口：意图编译、规划以及操作的提交与管理。
type Server struct {
	addr       string
	agent      *agent.Agent
	operations *operation.Service
	catalog    *registry.Registry
	executable map[uint64]struct{}
	auth       *auth.Service
	logger     *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithCatalog 提供链信息，用于 /api/v1/chains 以及按链名过滤操作。
func WithCatalog(reg registry.Registry) Option {
	return func(s *Server) {
		s.catalog = &reg
	}
}

// WithAuth 为业务路由启用令牌认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithExecutableChains 标记已配置签名端的链。
func WithExecutableChains(chainIDs []uint64) Option {
	return func(s *Server) {
		s.executable = make(map[uint64]struct{}, len(chainIDs))
		for _, id := range chainIDs {
			s.executable[id] = struct{}{}
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ag *agent.Agent, operations *operation.Service, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		agent:      ag,
		operations: operations,
		logger:     logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/intents/compile", "compile", s.handleCompile, auth.PermissionIntents)
	s.route(mux, "POST /api/v1/intents/plan", "plan", s.handlePlan, auth.PermissionIntents)
	s.route(mux, "POST /api/v1/operations", "operations_submit", s.handleSubmitOperation, auth.PermissionOperationsWrite)
	s.route(mux, "GET /api/v1/operations", "operations_list", s.handleListOperations, auth.PermissionOperationsRead)
	s.route(mux, "GET /api/v1/operations/stats", "operations_stats", s.handleOperationStats, auth.PermissionOperationsRead)
	s.route(mux, "GET /api/v1/operations/{id}", "operations_detail", s.handleOperationDetail, auth.PermissionOperationsRead)
	s.route(mux, "POST /api/v1/operations/{id}/cancel", "operations_cancel", s.handleCancelOperation, auth.PermissionOperationsWrite)
	s.route(mux, "POST /api/v1/operations/{id}/retry", "operations_retry", s.handleRetryOperation, auth.PermissionOperationsWrite)
	s.route(mux, "GET /api/v1/chains", "chains", s.handleChains)
	s.route(mux, "GET /healthz", "healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// route 注册路由；传入权限时要求调用方通过认证。
func (s *Server) route(mux *http.ServeMux, pattern, name string, handler http.HandlerFunc, perms ...string) {
	var h http.Handler = handler
	if len(perms) > 0 && s.auth != nil {
		h = s.auth.Require(perms...)(h)
	}
	mux.Handle(pattern, instrument(name, h))
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "Agent 未初始化"))
		return
	}
	var req agent.CompileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	prepared, err := s.agent.Compile(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prepared)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "Agent 未初始化"))
		return
	}
	var req agent.PlanRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	plan, err := s.agent.Plan(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleSubmitOperation(w http.ResponseWriter, r *http.Request) {
	if s.operations == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "操作服务未初始化"))
		return
	}
	var req operation.SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.operations.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	if s.operations == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "操作服务未初始化"))
		return
	}
	opts, err := s.parseListQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := s.operations.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []*operation.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleOperationStats(w http.ResponseWriter, r *http.Request) {
	if s.operations == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "操作服务未初始化"))
		return
	}
	opts, err := s.parseListQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.operations.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleOperationDetail(w http.ResponseWriter, r *http.Request) {
	s.withOperation(w, r, s.operations.Get, http.StatusOK)
}

func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	s.withOperation(w, r, s.operations.Cancel, http.StatusOK)
}

func (s *Server) handleRetryOperation(w http.ResponseWriter, r *http.Request) {
	s.withOperation(w, r, s.operations.Retry, http.StatusAccepted)
}

// withOperation 解析路径中的操作 ID 并调用 fn。
func (s *Server) withOperation(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*operation.Record, error), status int) {
	if s.operations == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "操作服务未初始化"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeParam, "缺少操作 ID"))
		return
	}
	rec, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, rec)
}

type chainView struct {
	registry.ChainInfo
	Executable bool `json:"executable"`
}

func (s *Server) handleChains(w http.ResponseWriter, _ *http.Request) {
	views := []chainView{}
	if s.catalog != nil {
		for _, info := range s.catalog.ChainList() {
			_, ok := s.executable[info.ID]
			views = append(views, chainView{ChainInfo: info, Executable: ok})
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseListQuery 将查询参数转换为操作过滤条件。
func (s *Server) parseListQuery(r *http.Request) ([]operation.ListOption, error) {
	query := r.URL.Query()
	var opts []operation.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := cast.ToIntE(raw)
		if err != nil || limit <= 0 {
			return nil, xerrors.New(xerrors.CodeParam, "limit 必须为正整数")
		}
		opts = append(opts, operation.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := cast.ToIntE(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.New(xerrors.CodeParam, "offset 必须为非负整数")
		}
		opts = append(opts, operation.WithOffset(offset))
	}
	if values := splitList(query["status"]); len(values) > 0 {
		statuses := make([]operation.Status, 0, len(values))
		for _, value := range values {
			status, err := operation.ParseStatus(value)
			if err != nil {
				return nil, err
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, operation.WithStatuses(statuses...))
	}
	if values := splitList(query["kind"]); len(values) > 0 {
		kinds := make([]intent.Kind, 0, len(values))
		for _, value := range values {
			kind, err := intent.ParseKind(value)
			if err != nil {
				return nil, err
			}
			kinds = append(kinds, kind)
		}
		opts = append(opts, operation.WithKinds(kinds...))
	}
	if raw := strings.TrimSpace(query.Get("chain")); raw != "" {
		chainID, err := s.resolveChain(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, operation.WithChainID(chainID))
	}
	if raw := strings.TrimSpace(query.Get("account")); raw != "" {
		opts = append(opts, operation.WithAccount(raw))
	}
	if raw := query.Get("since"); raw != "" {
		ts, err := parseUnix(raw, "since")
		if err != nil {
			return nil, err
		}
		opts = append(opts, operation.WithUpdatedSince(ts))
	}
	if raw := query.Get("until"); raw != "" {
		ts, err := parseUnix(raw, "until")
		if err != nil {
			return nil, err
		}
		opts = append(opts, operation.WithUpdatedUntil(ts))
	}
	switch strings.ToLower(strings.TrimSpace(query.Get("order"))) {
	case "", "desc":
	case "asc":
		opts = append(opts, operation.WithSortOrder(operation.SortByUpdatedAsc))
	default:
		return nil, xerrors.New(xerrors.CodeParam, "order 仅支持 asc 或 desc")
	}
	return opts, nil
}

func (s *Server) resolveChain(raw string) (uint64, error) {
	if s.catalog != nil {
		return s.catalog.ResolveChain(raw)
	}
	chainID, err := cast.ToUint64E(raw)
	if err != nil || chainID == 0 {
		return 0, xerrors.Newf(xerrors.CodeParam, "无法识别的链: %s", raw)
	}
	return chainID, nil
}

func parseUnix(raw, field string) (time.Time, error) {
	seconds, err := cast.ToInt64E(raw)
	if err != nil || seconds < 0 {
		return time.Time{}, xerrors.Newf(xerrors.CodeParam, "%s 必须为 Unix 秒级时间戳", field)
	}
	return time.Unix(seconds, 0), nil
}

// splitList 同时支持重复参数与逗号分隔。
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeParam, err, "请求体解析失败")
	}
	return nil
}

type errorResponse struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.Any("error", err), slog.String("code", string(code)))
	}
	writeJSON(w, status, errorResponse{Code: code, Message: xerrors.Describe(err)})
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeParam, xerrors.CodeInvalidArgument, registry.CodeUnknownToken:
		return http.StatusBadRequest
	case xerrors.CodeChainConfig, registry.CodeUnsupportedChain, registry.CodeUnknownProtocol, registry.CodeProtocolNotDeployed:
		return http.StatusUnprocessableEntity
	case xerrors.CodeNotFound, operation.CodeOperationNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, operation.CodeOperationConflict, operation.CodeOperationFinished:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case agent.CodeResolverFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 记录每个路由的请求量与耗时。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
