package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/exchange"
)

// 连续下单失败达到该次数后，调度类执行器判定为失败。
const maxPlaceFailures = 3

// DCAExecutor 定投执行器：按固定时间间隔分 N 批等量建仓，
// 无视价格波动，将成交聚合为一个逻辑仓位。
type DCAExecutor struct {
	*base
}

// NewDCAExecutor 创建定投执行器。
func NewDCAExecutor(cfg Config, logger *zap.Logger) (*DCAExecutor, error) {
	if cfg.NumOrders <= 0 {
		return nil, fmt.Errorf("%w: dca 订单数量必须大于0", ErrInvalidConfig)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: dca 下单间隔必须为正", ErrInvalidConfig)
	}
	b, err := newBase(KindDCA, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &DCAExecutor{base: b}, nil
}

var _ Executor = (*DCAExecutor)(nil)

// Run 驱动执行器直至终态。
func (e *DCAExecutor) Run(ctx context.Context) {
	if err := e.transitionRunning(); err != nil {
		e.logger.Warn("启动被拒绝", zap.Error(err))
		return
	}
	go e.watchBarrier(ctx)

	batch := e.cfg.Size / float64(e.cfg.NumOrders)
	placeFailures := 0

	for i := 0; i < e.cfg.NumOrders; i++ {
		if e.stopRequested() || ctx.Err() != nil {
			break
		}

		remaining := e.cfg.Size - e.filledSize()
		size := batch
		if remaining < size {
			size = remaining
		}
		if size <= 0 {
			break
		}

		orderID, err := e.cfg.Adapter.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol: e.cfg.Symbol,
			Side:   e.cfg.entrySide(),
			Size:   size,
			Price:  e.cfg.Price,
			Type:   e.cfg.OrderType,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			placeFailures++
			e.logger.Warn("定投下单失败",
				zap.Int("batch", i+1),
				zap.Int("consecutive", placeFailures),
				zap.Error(err),
			)
			if placeFailures >= maxPlaceFailures {
				e.fail("placement_failed", err)
				return
			}
			continue
		}
		placeFailures = 0
		e.logger.Info("定投下单",
			zap.Int("batch", i+1),
			zap.Int("total", e.cfg.NumOrders),
			zap.Float64("size", size),
			zap.String("order_id", orderID),
		)

		rec := e.newRecord(orderID, e.cfg.Price)
		if _, err := e.monitorOrder(ctx, rec, zeroTime); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			e.fail("poll_failed", err)
			return
		}

		if i < e.cfg.NumOrders-1 {
			if !e.sleepInterval(ctx, e.cfg.Interval) {
				break
			}
		}
	}

	e.afterSchedule(ctx, "dca")
}
