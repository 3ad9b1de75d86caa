// Package orchestrator 负责执行器的准入、启动、监督与回收，
// 是执行层唯一的顶层协调者。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/config"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/executor"
)

// ErrCapacity 表示运行中的执行器数量已达上限，新执行器被拒绝准入。
var ErrCapacity = errors.New("orchestrator: 并发执行器数量已达上限")

// ErrNotFound 表示指定执行器不存在或已被回收。
var ErrNotFound = errors.New("orchestrator: 执行器不存在")

// Status 为编排器的聚合状态快照。
type Status struct {
	RunningCount   int                `json:"running_count"`
	CompletedCount int                `json:"completed_count"`
	FailedCount    int                `json:"failed_count"`
	CancelledCount int                `json:"cancelled_count"`
	Active         []executor.Summary `json:"active_summaries"`
}

// Orchestrator 维护活跃执行器集合并做并发准入控制。
// 每个执行器在独立 goroutine 中自我驱动，编排器不会阻塞在
// 任何单个执行器的 I/O 上。
type Orchestrator struct {
	cfg    config.OrchestratorConfig
	logger *zap.Logger

	mu        sync.Mutex
	active    map[string]executor.Executor
	completed int
	failed    int
	cancelled int
	listeners []executor.Listener

	wg sync.WaitGroup
}

// New 创建编排器。
func New(cfg config.OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 500 * time.Millisecond
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger,
		active: make(map[string]executor.Executor),
	}
}

// AddListener 注册事件监听器，接收所有执行器转发来的生命周期事件。
func (o *Orchestrator) AddListener(listener executor.Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, listener)
}

// Submit 对执行器做准入控制：活跃数量已达上限时拒绝，
// 否则立即在独立 goroutine 中启动。
func (o *Orchestrator) Submit(ctx context.Context, exec executor.Executor) error {
	o.mu.Lock()
	if len(o.active) >= o.cfg.MaxConcurrent {
		o.mu.Unlock()
		return fmt.Errorf("%w: max_concurrent=%d", ErrCapacity, o.cfg.MaxConcurrent)
	}
	o.active[exec.ID()] = exec
	o.mu.Unlock()

	exec.AddListener(o.forward)

	o.logger.Info("执行器已准入",
		zap.String("executor_id", exec.ID()),
		zap.String("kind", string(exec.Kind())),
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		exec.Run(ctx)
	}()

	return nil
}

// Run 周期性回收终态执行器，直到 ctx 被取消。
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Reap()
		}
	}
}

// Reap 将到达终态的执行器移出活跃集合并归入分类计数。
func (o *Orchestrator) Reap() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for id, exec := range o.active {
		state := exec.State()
		if !state.Terminal() {
			continue
		}
		delete(o.active, id)
		switch state {
		case executor.StateCompleted:
			o.completed++
		case executor.StateFailed:
			o.failed++
		case executor.StateCancelled:
			o.cancelled++
		}
		o.logger.Info("回收执行器",
			zap.String("executor_id", id),
			zap.String("state", string(state)),
		)
	}
}

// Status 返回聚合状态快照。
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	active := make([]executor.Executor, 0, len(o.active))
	for _, exec := range o.active {
		active = append(active, exec)
	}
	status := Status{
		CompletedCount: o.completed,
		FailedCount:    o.failed,
		CancelledCount: o.cancelled,
	}
	o.mu.Unlock()

	for _, exec := range active {
		summary := exec.Summary()
		if summary.State == executor.StateRunning {
			status.RunningCount++
		}
		status.Active = append(status.Active, summary)
	}
	return status
}

// StopExecutor 请求取消指定执行器。
func (o *Orchestrator) StopExecutor(id, reason string) error {
	o.mu.Lock()
	exec, ok := o.active[id]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	exec.Cancel(reason)
	return nil
}

// CancelAll 向所有活跃执行器发出取消请求，并在 ctx 限定的时间内
// 等待它们到达终态。用于紧急停机。
func (o *Orchestrator) CancelAll(ctx context.Context, reason string) error {
	o.mu.Lock()
	active := make([]executor.Executor, 0, len(o.active))
	for _, exec := range o.active {
		active = append(active, exec)
	}
	o.mu.Unlock()

	if len(active) == 0 {
		return nil
	}

	o.logger.Warn("取消全部执行器",
		zap.Int("count", len(active)),
		zap.String("reason", reason),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, exec := range active {
		group.Go(func() error {
			exec.Cancel(reason)
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				if exec.State().Terminal() {
					return nil
				}
				select {
				case <-groupCtx.Done():
					return fmt.Errorf("orchestrator: 等待执行器 %s 终止超时: %w", exec.ID(), groupCtx.Err())
				case <-ticker.C:
				}
			}
		})
	}

	err := group.Wait()
	o.Reap()
	return err
}

// Wait 阻塞直到所有已启动的执行器 goroutine 退出。
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// forward 把单个执行器的事件转发给编排器级监听器。
func (o *Orchestrator) forward(event executor.Event) {
	o.mu.Lock()
	listeners := make([]executor.Listener, len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}
