package agent

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/intent"
	"IntentForge/internal/llm"
	"IntentForge/pkg/logger"
)

// CodeResolverFailure 表示意图解析服务调用失败。
const CodeResolverFailure xerrors.Code = "RESOLVER_FAILED"

func init() {
	xerrors.Register(CodeResolverFailure, xerrors.Attributes{
		Message:   "intent resolver failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// PlanRequest 描述一次自然语言规划请求。
type PlanRequest struct {
	Message string        `json:"message"`
	Chain   string        `json:"chain"`
	Account string        `json:"account"`
	History []llm.Message `json:"history,omitempty"`
}

// CompileRequest 跳过意图解析，直接编译结构化参数。
type CompileRequest struct {
	Kind    string         `json:"kind"`
	Params  map[string]any `json:"params"`
	Chain   string         `json:"chain"`
	Account string         `json:"account"`
}

// IntentError 是单个意图的编译失败信息。
type IntentError struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// PlannedIntent 汇总一个意图及其编译结果，Prepared 与 Error 二选一。
type PlannedIntent struct {
	Kind     intent.Kind                 `json:"kind"`
	Params   map[string]any              `json:"params"`
	Prepared *intent.PreparedTransaction `json:"prepared,omitempty"`
	Error    *IntentError                `json:"error,omitempty"`
}

// Plan 是规划结果：大模型回复加上每个意图的编译结果。
type Plan struct {
	Reply   string          `json:"reply"`
	ChainID uint64          `json:"chainId"`
	Account string          `json:"account"`
	Intents []PlannedIntent `json:"intents"`
}

// CompileObserver 接收每次编译的结果，常用于指标统计。
type CompileObserver func(kind intent.Kind, err error)

// Agent 协调意图解析与编译，是系统的业务核心。
type Agent struct {
	compiler   *intent.Compiler
	resolver   llm.Resolver
	llmTimeout time.Duration
	observer   CompileObserver
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLLMTimeout 设置调用意图解析服务的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithCompileObserver 注册编译结果的观察者。
func WithCompileObserver(observer CompileObserver) Option {
	return func(a *Agent) {
		a.observer = observer
	}
}

// New 创建一个 Agent。resolver 可以为空，此时只支持 Compile。
func New(compiler *intent.Compiler, resolver llm.Resolver, opts ...Option) *Agent {
	ag := &Agent{
		compiler: compiler,
		resolver: resolver,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Plan 调用意图解析服务，并逐个编译返回的意图。单个意图的编译失败
// 记录在对应条目中，不会中断整个规划。
func (a *Agent) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	if a.compiler == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置意图编译器")
	}
	if a.resolver == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置意图解析服务")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息不能为空")
	}

	chainID, err := a.resolveChain(req.Chain)
	if err != nil {
		return nil, err
	}
	account, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}

	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	reg := a.compiler.Registry()
	resolution, err := a.resolver.Resolve(llmCtx, llm.Request{
		Message:   req.Message,
		ChainID:   chainID,
		ChainName: reg.ChainName(chainID),
		Account:   account.Hex(),
		Tokens:    reg.TokenSymbols(chainID),
		History:   req.History,
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "意图解析超时")
		}
		return nil, xerrors.Wrap(CodeResolverFailure, err, "意图解析失败")
	}

	plan := &Plan{
		Reply:   resolution.Reply,
		ChainID: chainID,
		Account: account.Hex(),
		Intents: make([]PlannedIntent, 0, len(resolution.Intents)),
	}
	for _, item := range resolution.Intents {
		plan.Intents = append(plan.Intents, a.compileIntent(item.Kind, item.Params, chainID, account))
	}
	logger.Named("agent").Info("意图规划完成",
		"chain_id", chainID,
		"intents", len(plan.Intents),
	)
	return plan, nil
}

// Compile 直接编译一个结构化意图，失败时返回错误。
func (a *Agent) Compile(ctx context.Context, req CompileRequest) (*intent.PreparedTransaction, error) {
	if a.compiler == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置意图编译器")
	}
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "请求已取消")
	}
	kind, err := intent.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	chainID, err := a.resolveChain(req.Chain)
	if err != nil {
		return nil, err
	}
	account, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	ptx, err := a.compiler.Compile(kind, req.Params, chainID, account)
	a.observe(kind, err)
	return ptx, err
}

func (a *Agent) compileIntent(kind intent.Kind, params map[string]any, chainID uint64, account common.Address) PlannedIntent {
	item := PlannedIntent{Kind: kind, Params: params}
	ptx, err := a.compiler.Compile(kind, params, chainID, account)
	a.observe(kind, err)
	if err != nil {
		item.Error = &IntentError{Code: xerrors.CodeOf(err), Message: xerrors.Describe(err)}
		return item
	}
	item.Prepared = ptx
	return item
}

func (a *Agent) observe(kind intent.Kind, err error) {
	if a.observer != nil {
		a.observer(kind, err)
	}
}

// resolveChain 接受链名、别名或十进制链 ID。
func (a *Agent) resolveChain(chain string) (uint64, error) {
	id, err := a.compiler.Registry().ResolveChain(chain)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeChainConfig, err, "链配置不受支持")
	}
	return id, nil
}

func parseAccount(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeParam, "账户地址无效")
	}
	return common.HexToAddress(raw), nil
}
