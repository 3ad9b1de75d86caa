package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/exchange"
)

// TWAPExecutor 时间加权平均执行器：在固定总时长内均匀分批建仓，
// 根据剩余时间动态调整批次间隔。
type TWAPExecutor struct {
	*base
	interval time.Duration
}

// NewTWAPExecutor 创建 TWAP 执行器。
func NewTWAPExecutor(cfg Config, logger *zap.Logger) (*TWAPExecutor, error) {
	if cfg.NumOrders <= 0 {
		return nil, fmt.Errorf("%w: twap 订单数量必须大于0", ErrInvalidConfig)
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("%w: twap 总时长必须为正", ErrInvalidConfig)
	}
	b, err := newBase(KindTWAP, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &TWAPExecutor{
		base:     b,
		interval: cfg.Duration / time.Duration(cfg.NumOrders),
	}, nil
}

var _ Executor = (*TWAPExecutor)(nil)

// Run 驱动执行器直至终态。
func (e *TWAPExecutor) Run(ctx context.Context) {
	if err := e.transitionRunning(); err != nil {
		e.logger.Warn("启动被拒绝", zap.Error(err))
		return
	}
	go e.watchBarrier(ctx)

	batch := e.cfg.Size / float64(e.cfg.NumOrders)
	start := time.Now()
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
			e.logger.Warn("TWAP 下单失败",
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
		e.logger.Info("TWAP 下单",
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

		// 根据剩余时间重新分配间隔，落后时加速、超前时放缓。
		ordersRemaining := e.cfg.NumOrders - i - 1
		if ordersRemaining > 0 {
			timeRemaining := e.cfg.Duration - time.Since(start)
			if timeRemaining > 0 {
				wait := timeRemaining / time.Duration(ordersRemaining)
				if wait > 2*e.interval {
					wait = 2 * e.interval
				}
				if !e.sleepInterval(ctx, wait) {
					break
				}
			}
		}
	}

	e.afterSchedule(ctx, "twap")
}
