package operation

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/execution"
	"IntentForge/internal/observability/alerting"
	"IntentForge/pkg/logger"
)

// EngineFactory 为指定链构造执行引擎。
type EngineFactory func(chainID uint64, opts ...execution.Option) (*execution.Engine, error)

// FinishObserver 在每个操作结束后被调用，常用于指标统计。
type FinishObserver func(rec *Record, duration time.Duration)

// Processor 负责从队列消费操作并驱动执行引擎。
type Processor struct {
	engines     EngineFactory
	store       Store
	consumer    Consumer
	workerCount int
	timeout     time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	observer    FinishObserver
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithExecutionTimeout 限制单个操作从领取到结束的时间。
func WithExecutionTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.timeout = timeout
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithFinishObserver 注册操作结束的观察者。
func WithFinishObserver(observer FinishObserver) ProcessorOption {
	return func(p *Processor) {
		p.observer = observer
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(engines EngineFactory, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		engines:     engines,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("processor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动处理循环，阻塞直到 ctx 结束或队列出错。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置操作消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 执行一个操作。跳过的操作与执行失败都不返回错误；只有存储故障会返回
// 错误，由队列决定是否重投。
func (p *Processor) Handle(ctx context.Context, operationID string) error {
	if p.store == nil || p.engines == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	rec, err := p.store.Claim(ctx, operationID)
	if err != nil {
		if stdErrors.Is(err, ErrOperationNotFound) || stdErrors.Is(err, ErrOperationFinished) || stdErrors.Is(err, ErrOperationConflict) {
			p.logger.Debug("跳过操作", slog.String("operation_id", operationID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取操作失败", slog.Any("error", err), slog.String("operation_id", operationID))
		p.emitAlert(ctx, &Record{ID: operationID}, CodeOperationProcessing, err, "claim")
		return err
	}
	started := time.Now()

	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var engine *execution.Engine
	progress := func(state execution.State) {
		latest, err := p.store.UpdateProgress(ctx, rec.ID, state)
		if err != nil {
			p.logger.Warn("保存执行进度失败", slog.Any("error", err), slog.String("operation_id", rec.ID))
			return
		}
		if latest.CancelRequested && engine != nil && !state.Status.Terminal() {
			_ = engine.Cancel()
		}
	}
	engine, err = p.engines(rec.ChainID, execution.WithObserver(progress))
	if err != nil {
		return p.finish(ctx, rec, started, execution.State{Status: execution.StatusSendError, Error: xerrors.Describe(err)}, err)
	}
	state, execErr := engine.Execute(runCtx, rec.Prepared)
	return p.finish(ctx, rec, started, state, execErr)
}

func (p *Processor) finish(ctx context.Context, rec *Record, started time.Time, state execution.State, execErr error) error {
	outcome := Outcome{Status: StatusFor(state), Execution: state}
	if execErr != nil {
		outcome.ErrorCode = xerrors.CodeOf(execErr)
		if outcome.ErrorCode == xerrors.CodeUnknown {
			outcome.ErrorCode = CodeOperationProcessing
		}
		outcome.LastError = state.Error
		if outcome.LastError == "" {
			outcome.LastError = xerrors.Describe(execErr)
		}
		if !outcome.Status.Finished() {
			outcome.Status = StatusFailed
		}
	} else if outcome.Status == StatusCancelled {
		outcome.ErrorCode = xerrors.CodeCancelled
	} else if outcome.Status != StatusConfirmed {
		outcome.Status = StatusFailed
		outcome.ErrorCode = CodeOperationProcessing
		outcome.LastError = "执行未到达终态"
	}

	if err := p.store.MarkFinished(ctx, rec.ID, outcome); err != nil {
		p.logger.Error("写入操作结果失败", slog.Any("error", err), slog.String("operation_id", rec.ID))
		return err
	}

	rec.Status = outcome.Status
	rec.Execution = state.Clone()
	rec.TxHashes = txHashes(state)
	rec.ErrorCode = string(outcome.ErrorCode)
	rec.LastError = outcome.LastError
	duration := time.Since(started)

	audit := logger.Audit().Info
	if execErr != nil {
		audit = logger.Audit().Warn
	}
	audit("操作执行结束",
		slog.String("operation_id", rec.ID),
		slog.String("kind", string(rec.Kind)),
		slog.Uint64("chain_id", rec.ChainID),
		slog.String("status", string(rec.Status)),
		slog.String("error_code", rec.ErrorCode),
		slog.String("error", rec.LastError),
		slog.Int("attempts", rec.Attempts),
		slog.Any("tx_hashes", rec.TxHashes),
		slog.Duration("duration", duration),
	)

	if execErr != nil && xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, rec, outcome.ErrorCode, execErr, string(rec.Status))
	}
	if p.observer != nil {
		p.observer(cloneRecord(rec), duration)
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, rec *Record, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || rec == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = xerrors.Describe(cause)
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if err, ok := xerrors.From(cause); ok {
		for key, value := range err.Metadata() {
			metadata[key] = value
		}
	}
	if len(rec.TxHashes) > 0 {
		metadata["last_tx_hash"] = rec.TxHashes[len(rec.TxHashes)-1]
	}
	event := alerting.Event{
		Code:        code,
		Message:     message,
		Severity:    xerrors.SeverityOf(cause),
		OperationID: rec.ID,
		ChainID:     rec.ChainID,
		Attempts:    rec.Attempts,
		Metadata:    metadata,
		OccurredAt:  time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("operation_id", rec.ID),
			slog.String("stage", stage),
		)
	}
}
