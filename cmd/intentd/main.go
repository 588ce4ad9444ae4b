package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"IntentForge/internal/agent"
	"IntentForge/internal/api"
	"IntentForge/internal/auth"
	"IntentForge/internal/config"
	"IntentForge/internal/intent"
	"IntentForge/internal/llm"
	"IntentForge/internal/llm/anthropic"
	"IntentForge/internal/llm/openai"
	"IntentForge/internal/observability/alerting"
	"IntentForge/internal/observability/metrics"
	"IntentForge/internal/operation"
	"IntentForge/internal/registry"
	"IntentForge/internal/web3/provider"
	"IntentForge/pkg/logger"
)

// main 是 intentd 守护进程的入口。
func main() {
	configFlag := flag.String("config", filepath.Join("configs", "intentd.json"), "配置文件路径")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.ResolvePath(*configFlag)); err != nil {
		log.Fatalf("intentd 运行失败: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("intentd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	reg, err := registry.Load(cfg.Web3.RegistryOverlay)
	if err != nil {
		return err
	}
	compiler := intent.NewCompiler(reg, intent.WithDeadline(cfg.Runtime.Deadline()))

	resolver, err := createResolver(cfg)
	if err != nil {
		return err
	}
	agentOpts := []agent.Option{
		agent.WithCompileObserver(func(kind intent.Kind, err error) {
			outcome := ""
			if err != nil {
				outcome = "error"
			}
			metrics.ObservePlan(string(kind), outcome)
		}),
	}
	if timeout := cfg.LLM.Timeout(); timeout > 0 {
		agentOpts = append(agentOpts, agent.WithLLMTimeout(timeout))
	}
	ag := agent.New(compiler, resolver, agentOpts...)

	// 未配置链端点时只提供编译与规划能力，提交的操作会因缺少签名端被拒绝。
	var chains *provider.Registry
	if cfg.Web3.ChainConfig != "" {
		chains, err = provider.NewRegistry(ctx, cfg.Web3)
		if err != nil {
			return err
		}
		defer chains.Close()
		for _, snapshot := range chains.Snapshots(ctx) {
			lg.Info("链连接就绪",
				slog.Uint64("chain_id", snapshot.ChainID),
				slog.Uint64("block", snapshot.BlockNumber),
				slog.String("notes", snapshot.Notes),
			)
		}
	} else {
		lg.Warn("未配置链端点，操作执行不可用")
	}

	store, err := createStore(ctx, cfg)
	if err != nil {
		return err
	}
	queue, err := createQueue(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return err
	}

	service := operation.NewService(store, queue, operation.WithChainFilter(func(chainID uint64) bool {
		_, err := chains.Wallet(chainID)
		return err == nil
	}))
	defer func() {
		if err := service.Close(); err != nil {
			lg.Error("关闭操作服务失败", slog.Any("error", err))
		}
	}()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerts.Webhook != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerts.Webhook})
	}
	processor := operation.NewProcessor(chains.NewEngine, store, queue,
		operation.WithWorkerCount(cfg.Runtime.Workers),
		operation.WithExecutionTimeout(cfg.Runtime.ExecutionTimeout()),
		operation.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
		operation.WithFinishObserver(func(rec *operation.Record, duration time.Duration) {
			metrics.ObserveExecution(rec.ChainID, string(rec.Status), duration)
		}),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("操作处理器异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	authSvc, err := createAuth(cfg)
	if err != nil {
		return err
	}
	server := api.NewServer(cfg.Server.Address, ag, service,
		api.WithCatalog(reg),
		api.WithExecutableChains(chains.ChainIDs()),
		api.WithAuth(authSvc),
	)
	lg.Info("intentd 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("store", cfg.Storage.Operations.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("llm", cfg.LLM.Provider),
		slog.String("auth", string(authSvc.Mode())),
		slog.Int("workers", cfg.Runtime.Workers),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createResolver(cfg *config.Config) (llm.Resolver, error) {
	switch cfg.LLM.Provider {
	case "none":
		return nil, nil
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:    cfg.LLM.Anthropic.APIKey,
			BaseURL:   cfg.LLM.Anthropic.BaseURL,
			Model:     cfg.LLM.Anthropic.Model,
			MaxTokens: cfg.LLM.Anthropic.MaxTokens,
			Timeout:   cfg.LLM.Anthropic.Timeout(),
		})
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createStore(ctx context.Context, cfg *config.Config) (operation.Store, error) {
	storeCfg := cfg.Storage.Operations
	switch storeCfg.Driver {
	case "", "memory":
		return operation.NewMemoryStore(), nil
	case "mysql":
		return operation.NewMySQLStore(ctx, operation.MySQLConfig{
			DSN:             storeCfg.DSN,
			MaxOpenConns:    storeCfg.MaxOpenConns,
			MaxIdleConns:    storeCfg.MaxIdleConns,
			ConnMaxLifetime: storeCfg.ConnMaxLifetime(),
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", storeCfg.Driver)
	}
}

func createQueue(ctx context.Context, cfg *config.Config) (operation.Queue, error) {
	queueCfg := cfg.Queue
	switch queueCfg.Driver {
	case "", "memory":
		return operation.NewMemoryQueue(queueCfg.Buffer), nil
	case "redis":
		return operation.NewRedisQueue(ctx, operation.RedisQueueConfig{
			Address:   queueCfg.Redis.Address,
			Password:  queueCfg.Redis.Password,
			DB:        queueCfg.Redis.DB,
			Key:       queueCfg.Redis.Key,
			BlockWait: time.Duration(queueCfg.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return operation.NewRabbitMQQueue(operation.RabbitMQConfig{
			URL:      queueCfg.RabbitMQ.URL,
			Queue:    queueCfg.RabbitMQ.Queue,
			Prefetch: queueCfg.RabbitMQ.Prefetch,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", queueCfg.Driver)
	}
}

func createAuth(cfg *config.Config) (*auth.Service, error) {
	mode, err := auth.ParseMode(cfg.Auth.Mode)
	if err != nil {
		return nil, err
	}
	tokens := make([]auth.Token, 0, len(cfg.Auth.Tokens))
	for _, token := range cfg.Auth.Tokens {
		tokens = append(tokens, auth.Token{Name: token.Name, Secret: token.Token, Permissions: token.Permissions})
	}
	return auth.NewService(auth.Config{Mode: mode, Tokens: tokens})
}
