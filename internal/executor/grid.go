package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/exchange"
)

// GridExecutor 网格执行器：在价格区间内均匀挂限价单，
// 某一档成交后在同一价位补挂，维持区间内的敞口，
// 直到被取消或退出屏障触发。
type GridExecutor struct {
	*base
	step  float64
	batch float64
}

// NewGridExecutor 创建网格执行器。
func NewGridExecutor(cfg Config, logger *zap.Logger) (*GridExecutor, error) {
	if cfg.GridLevels <= 0 {
		return nil, fmt.Errorf("%w: 网格档位数量必须大于0", ErrInvalidConfig)
	}
	if cfg.GridLower <= 0 || cfg.GridUpper <= cfg.GridLower {
		return nil, fmt.Errorf("%w: 网格区间无效 [%f, %f]", ErrInvalidConfig, cfg.GridLower, cfg.GridUpper)
	}
	// 网格只用限价单挂档。
	cfg.OrderType = exchange.OrderTypeLimit
	if cfg.Price <= 0 {
		cfg.Price = cfg.GridLower
	}

	b, err := newBase(KindGrid, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &GridExecutor{
		base:  b,
		step:  (cfg.GridUpper - cfg.GridLower) / float64(cfg.GridLevels),
		batch: cfg.Size / float64(cfg.GridLevels),
	}, nil
}

var _ Executor = (*GridExecutor)(nil)

// levelPrice 返回第 i 档的挂单价。买方从下界向上铺，卖方从上界向下铺。
func (e *GridExecutor) levelPrice(i int) float64 {
	if e.cfg.entrySide() == exchange.OrderSideBuy {
		return e.cfg.GridLower + float64(i)*e.step
	}
	return e.cfg.GridUpper - float64(i)*e.step
}

// Run 驱动执行器直至终态。网格没有自然完成点，
// 只会因取消或屏障触发而结束。
func (e *GridExecutor) Run(ctx context.Context) {
	if err := e.transitionRunning(); err != nil {
		e.logger.Warn("启动被拒绝", zap.Error(err))
		return
	}
	go e.watchBarrier(ctx)

	placeFailures := 0
	for i := 0; i < e.cfg.GridLevels; i++ {
		if e.stopRequested() || ctx.Err() != nil {
			break
		}
		price := e.levelPrice(i)
		if err := e.placeLevel(ctx, price); err != nil {
			if ctx.Err() != nil {
				break
			}
			placeFailures++
			e.logger.Warn("网格挂单失败",
				zap.Int("level", i+1),
				zap.Float64("price", price),
				zap.Error(err),
			)
			if placeFailures >= maxPlaceFailures {
				e.fail("placement_failed", err)
				return
			}
			continue
		}
		placeFailures = 0
	}

	e.pollLadder(ctx)

	if ctx.Err() != nil && !e.stopRequested() {
		e.shutdown()
		return
	}
	e.finishFromStop(ctx)
}

func (e *GridExecutor) placeLevel(ctx context.Context, price float64) error {
	orderID, err := e.cfg.Adapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: e.cfg.Symbol,
		Side:   e.cfg.entrySide(),
		Size:   e.batch,
		Price:  price,
		Type:   exchange.OrderTypeLimit,
	})
	if err != nil {
		return err
	}
	e.newRecord(orderID, price)
	e.logger.Info("网格挂单",
		zap.Float64("price", price),
		zap.Float64("size", e.batch),
		zap.String("order_id", orderID),
	)
	return nil
}

// pollLadder 轮询所有在挂订单；某档成交后在同一价位补挂。
// 单次遍历内串行处理，保证每个子订单的增量记账不被并发访问。
func (e *GridExecutor) pollLadder(ctx context.Context) {
	pollErrors := 0
	ticker := time.NewTicker(e.cfg.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		records := make([]*orderRecord, len(e.records))
		copy(records, e.records)
		e.mu.Unlock()

		pruned := false
		for _, rec := range records {
			if rec.lastStatus.Terminal() {
				continue
			}
			if e.stopRequested() || ctx.Err() != nil {
				return
			}

			st, err := e.cfg.Adapter.OrderStatus(ctx, rec.orderID, e.cfg.Symbol)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if errors.Is(err, exchange.ErrOrderNotFound) {
					continue
				}
				pollErrors++
				if pollErrors >= maxPollErrors {
					e.fail("poll_failed", fmt.Errorf("executor: 网格轮询连续失败: %w", err))
					return
				}
				continue
			}
			pollErrors = 0
			if st == nil {
				continue
			}

			e.applyFill(rec, st)

			if st.Status.Terminal() {
				pruned = true
			}

			// 成交的档位在同一价位补挂，维持网格敞口。
			if st.Status == exchange.StatusFilled {
				if err := e.placeLevel(ctx, rec.price); err != nil && ctx.Err() == nil {
					e.logger.Warn("网格补挂失败", zap.Float64("price", rec.price), zap.Error(err))
				}
			}
		}

		// 聚合值已累加完毕，终态记录退出轮询集合，
		// 长时间运行的网格不会随补挂次数线性膨胀。
		if pruned {
			e.dropTerminalRecords()
		}
	}
}

func (e *GridExecutor) dropTerminalRecords() {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.records[:0]
	for _, rec := range e.records {
		if !rec.lastStatus.Terminal() {
			kept = append(kept, rec)
		}
	}
	e.records = kept
}
