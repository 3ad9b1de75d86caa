package executor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/exchange"
)

// OrderExecutor 执行单笔订单：下单、轮询至终态或超时；
// 若配置了退出屏障，成交后继续监控直到屏障触发并平仓。
type OrderExecutor struct {
	*base
}

// NewOrderExecutor 创建单订单执行器。
func NewOrderExecutor(cfg Config, logger *zap.Logger) (*OrderExecutor, error) {
	b, err := newBase(KindOrder, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &OrderExecutor{base: b}, nil
}

var _ Executor = (*OrderExecutor)(nil)

// Run 驱动执行器直至终态。
func (e *OrderExecutor) Run(ctx context.Context) {
	if err := e.transitionRunning(); err != nil {
		e.logger.Warn("启动被拒绝", zap.Error(err))
		return
	}
	go e.watchBarrier(ctx)

	orderID, err := e.cfg.Adapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: e.cfg.Symbol,
		Side:   e.cfg.entrySide(),
		Size:   e.cfg.Size,
		Price:  e.cfg.Price,
		Type:   e.cfg.OrderType,
	})
	if err != nil {
		if ctx.Err() != nil {
			e.cancelled("shutdown")
			return
		}
		e.fail("order_rejected", err)
		return
	}
	e.logger.Info("下单成功", zap.String("order_id", orderID))
	rec := e.newRecord(orderID, e.cfg.Price)

	var deadline time.Time
	if e.cfg.OrderTimeout > 0 {
		deadline = time.Now().Add(e.cfg.OrderTimeout)
	}

	status, err := e.monitorOrder(ctx, rec, deadline)
	switch {
	case errors.Is(err, errOrderTimeout):
		e.handleTimeout(ctx)
		return
	case err != nil && ctx.Err() != nil:
		e.shutdown()
		return
	case err != nil:
		e.fail("poll_failed", err)
		return
	}

	if e.stopRequested() {
		e.finishFromStop(ctx)
		return
	}

	switch status {
	case exchange.StatusFilled:
		if e.bar != nil {
			e.awaitExit(ctx)
			return
		}
		e.complete("order_filled")
	case exchange.StatusCancelled:
		e.cancelled("order_cancelled")
	case exchange.StatusRejected:
		e.fail("order_rejected", errors.New("交易所拒绝订单"))
	default:
		e.fail("poll_failed", errors.New("订单监控意外结束"))
	}
}

// handleTimeout 处理等待成交超时：先撤单（失败仅记录，订单可能已消失），
// 零成交则取消；有部分成交则交由屏障接管或按部分成交完成。
func (e *OrderExecutor) handleTimeout(ctx context.Context) {
	e.cancelOpenOrders(ctx)

	if e.filledSize() <= 0 {
		e.cancelled("timeout")
		return
	}

	if e.bar != nil {
		e.awaitExit(ctx)
		return
	}
	e.complete("timeout_partial_fill")
}
