package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/clock"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/config"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/exchange"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/executor"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/monitor"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/orchestrator"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/ratelimit"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/store"
)

// App 聚合核心依赖并驱动执行引擎生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store

	limiter *ratelimit.Limiter
	clock   *clock.Synchronizer
	client  *exchange.Client
	orch    *orchestrator.Orchestrator
	monitor *monitor.Service
}

// New 创建 App 实例并完成内部组件装配。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) (*App, error) {
	limiter := ratelimit.NewLimiter(cfg.RateLimit, logger)

	// 先建客户端再建同步器：服务器时间通过同一客户端获取。
	client, err := exchange.NewClient(cfg.Exchange, limiter, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	sync := clock.NewSynchronizer(client.ServerTime, cfg.TimeSync.Interval, logger)
	client.SetClock(sync)

	orch := orchestrator.New(cfg.Orchestrator, logger)

	monitorSvc, err := monitor.NewService(store, logger)
	if err != nil {
		return nil, err
	}
	orch.AddListener(monitorSvc.Listener())

	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		limiter: limiter,
		clock:   sync,
		client:  client,
		orch:    orch,
		monitor: monitorSvc,
	}, nil
}

// Orchestrator 返回编排器，供策略层提交执行器。
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Submit 根据配置创建并准入一个执行器，返回其标识。
func (a *App) Submit(ctx context.Context, kind executor.Kind, cfg executor.Config) (string, error) {
	if cfg.Adapter == nil {
		cfg.Adapter = a.client
	}
	exec, err := executor.New(kind, cfg, a.logger)
	if err != nil {
		return "", err
	}
	if err := a.orch.Submit(ctx, exec); err != nil {
		return "", err
	}
	return exec.ID(), nil
}

// Run 驱动后台循环（时间同步、执行器回收、状态快照）直到退出信号，
// 然后在宽限期内取消所有执行器。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("执行引擎已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.String("market", a.cfg.Exchange.Market),
		zap.Int("max_concurrent", a.cfg.Orchestrator.MaxConcurrent),
	)

	go a.clock.Run(ctx)
	go a.orch.Run(ctx)

	snapshotInterval := a.cfg.Orchestrator.ReapInterval * 20
	if snapshotInterval < time.Second {
		snapshotInterval = time.Second
	}
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return a.shutdown()
		case <-ticker.C:
			snapCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := a.monitor.RecordSnapshot(snapCtx, a.orch.Status()); err != nil {
				a.logger.Warn("持久化编排器快照失败", zap.Error(err))
			}
			cancel()
		}
	}
}

func (a *App) shutdown() error {
	grace := a.cfg.Orchestrator.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := a.orch.CancelAll(ctx, "shutdown"); err != nil {
		a.logger.Error("停机时仍有执行器未终止", zap.Error(err))
		return err
	}

	status := a.orch.Status()
	a.logger.Info("全部执行器已终止",
		zap.Int("completed", status.CompletedCount),
		zap.Int("failed", status.FailedCount),
		zap.Int("cancelled", status.CancelledCount),
	)
	return nil
}
