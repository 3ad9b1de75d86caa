package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/barrier"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/exchange"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/indicator"
)

// 连续轮询失败达到该次数后，执行器判定为失败。
const maxPollErrors = 5

// 波动率刷新间隔（barrier tick 次数），仅 atr/volatility 模式使用。
const volRefreshTicks = 60

var errOrderTimeout = errors.New("executor: 等待成交超时")

// zeroTime 表示不设截止时间。
var zeroTime time.Time

// base 承载所有执行器变体共享的生命周期、成交记账与屏障集成逻辑。
type base struct {
	id     string
	kind   Kind
	cfg    Config
	logger *zap.Logger
	bar    *barrier.Barrier

	mu           sync.Mutex
	state        State
	reason       string
	filled       float64
	cost         float64
	avgPrice     float64
	fee          float64
	currentPrice float64
	createdAt    time.Time
	activatedAt  time.Time
	listeners    []Listener
	records      []*orderRecord

	stopMu     sync.Mutex
	stopCh     chan struct{}
	exitAction barrier.Action
	stopReason string
}

func newBase(kind Kind, cfg Config, logger *zap.Logger) (*base, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	bar, err := cfg.buildBarrier()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := fmt.Sprintf("%s_%s", kind, uuid.NewString())
	return &base{
		id:        id,
		kind:      kind,
		cfg:       cfg,
		logger:    logger.With(zap.String("executor_id", id)),
		bar:       bar,
		state:     StateIdle,
		createdAt: time.Now().UTC(),
		stopCh:    make(chan struct{}),
	}, nil
}

// ID 返回执行器唯一标识。
func (b *base) ID() string { return b.id }

// Kind 返回执行器类型。
func (b *base) Kind() Kind { return b.kind }

// State 返回当前状态。
func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AddListener 注册生命周期事件监听器。
func (b *base) AddListener(listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, listener)
}

// Cancel 请求取消执行器。请求是协作式的：执行器在下一个轮询边界
// 观察到请求后先撤销未完成订单，再进入 CANCELLED。
func (b *base) Cancel(reason string) {
	if reason == "" {
		reason = "user_cancelled"
	}
	b.requestStop(barrier.ActionNone, reason)
}

// Summary 返回状态快照。
func (b *base) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Summary{
		ID:           b.id,
		Kind:         b.kind,
		State:        b.state,
		Symbol:       b.cfg.Symbol,
		Side:         b.cfg.Side,
		TargetSize:   b.cfg.Size,
		FilledSize:   b.filled,
		AvgFillPrice: b.avgPrice,
		Fee:          b.fee,
		CurrentPrice: b.currentPrice,
		Reason:       b.reason,
		CreatedAt:    b.createdAt,
	}
	if b.bar != nil {
		s.EffectiveStop = b.bar.EffectiveStop()
	}
	if !b.activatedAt.IsZero() {
		s.Elapsed = time.Since(b.activatedAt)
	}
	return s
}

// ========== 状态机 ==========

// transitionRunning 完成 IDLE → RUNNING 转移：记录激活时间、
// 武装屏障并发出启动事件。
func (b *base) transitionRunning() error {
	b.mu.Lock()
	if b.state != StateIdle {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("executor: 无法从 %s 启动", state)
	}
	b.state = StateRunning
	b.activatedAt = time.Now().UTC()
	activatedAt := b.activatedAt
	b.mu.Unlock()

	if b.bar != nil && b.cfg.Price > 0 {
		b.bar.Activate(b.cfg.Price, activatedAt)
	}

	b.logger.Info("执行器启动",
		zap.String("kind", string(b.kind)),
		zap.String("symbol", b.cfg.Symbol),
		zap.String("side", string(b.cfg.Side)),
		zap.Float64("size", b.cfg.Size),
	)
	b.emit(EventStart, map[string]interface{}{
		"symbol": b.cfg.Symbol,
		"side":   string(b.cfg.Side),
		"size":   b.cfg.Size,
	})
	return nil
}

func (b *base) complete(reason string) {
	if !b.transitionTerminal(StateCompleted, reason) {
		return
	}
	summary := b.Summary()
	b.logger.Info("执行器完成",
		zap.String("reason", reason),
		zap.Float64("filled_size", summary.FilledSize),
		zap.Float64("avg_fill_price", summary.AvgFillPrice),
	)
	b.emit(EventCompleted, map[string]interface{}{
		"reason":         reason,
		"filled_size":    summary.FilledSize,
		"avg_fill_price": summary.AvgFillPrice,
		"fee":            summary.Fee,
	})
}

func (b *base) fail(reason string, err error) {
	if !b.transitionTerminal(StateFailed, reason) {
		return
	}
	b.logger.Error("执行器失败", zap.String("reason", reason), zap.Error(err))
	payload := map[string]interface{}{"reason": reason}
	if err != nil {
		payload["error"] = err.Error()
	}
	b.emit(EventFailed, payload)
}

func (b *base) cancelled(reason string) {
	if !b.transitionTerminal(StateCancelled, reason) {
		return
	}
	b.logger.Info("执行器已取消", zap.String("reason", reason))
	b.emit(EventCancelled, map[string]interface{}{"reason": reason})
}

// transitionTerminal 执行 RUNNING → 终态的转移；终态之间不允许再转移。
func (b *base) transitionTerminal(target State, reason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Terminal() {
		return false
	}
	b.state = target
	b.reason = reason
	return true
}

// ========== 停止协调 ==========

// requestStop 记录一次退出请求（屏障触发或外部取消），只记录首个。
func (b *base) requestStop(action barrier.Action, reason string) {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()

	select {
	case <-b.stopCh:
		return
	default:
	}
	b.exitAction = action
	b.stopReason = reason
	close(b.stopCh)
}

func (b *base) stopRequested() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

func (b *base) stopRequest() (barrier.Action, string) {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	return b.exitAction, b.stopReason
}

// ========== 事件 ==========

func (b *base) emit(eventType EventType, payload map[string]interface{}) {
	b.mu.Lock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	event := Event{
		Type:       eventType,
		ExecutorID: b.id,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}

	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("事件监听器异常", zap.Any("panic", r))
				}
			}()
			listener(event)
		}()
	}
}

// ========== 成交记账 ==========

func (b *base) newRecord(orderID string, price float64) *orderRecord {
	rec := &orderRecord{orderID: orderID, price: price, lastStatus: exchange.StatusOpen}
	b.mu.Lock()
	b.records = append(b.records, rec)
	b.mu.Unlock()
	return rec
}

// applyFill 按增量更新聚合成交量与加权均价。
// 增量 = 本次观测的累计成交量 - 上次观测值；绝不能整份累加快照。
func (b *base) applyFill(rec *orderRecord, st *exchange.OrderState) {
	increment := st.Filled - rec.lastFilled
	feeIncrement := st.Fee - rec.lastFee

	rec.lastStatus = st.Status
	if st.AvgPrice > 0 {
		rec.lastPrice = st.AvgPrice
	}

	if increment <= 0 {
		rec.lastFilled = st.Filled
		return
	}
	rec.lastFilled = st.Filled

	price := st.AvgPrice
	if price <= 0 {
		price = rec.price
	}

	b.mu.Lock()
	b.filled += increment
	b.cost += increment * price
	if b.filled > 0 {
		b.avgPrice = b.cost / b.filled
	}
	if feeIncrement > 0 {
		b.fee += feeIncrement
	}
	filled := b.filled
	avgPrice := b.avgPrice
	b.mu.Unlock()

	// 市价建仓没有参考价时，以首笔成交均价武装屏障。
	if b.bar != nil && !b.bar.Active() {
		b.bar.Activate(avgPrice, time.Now().UTC())
	}

	b.emit(EventFill, map[string]interface{}{
		"order_id":       rec.orderID,
		"increment":      increment,
		"fill_price":     price,
		"filled_size":    filled,
		"avg_fill_price": avgPrice,
	})
}

// ========== 订单监控 ==========

// monitorOrder 轮询子订单直至其到达交易所终态、超时或收到退出请求。
// 同一个子订单不会被并发轮询，增量记账严格串行。
func (b *base) monitorOrder(ctx context.Context, rec *orderRecord, deadline time.Time) (exchange.OrderStatus, error) {
	pollErrors := 0
	ticker := time.NewTicker(b.cfg.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return rec.lastStatus, ctx.Err()
		case <-b.stopCh:
			return rec.lastStatus, nil
		case <-ticker.C:
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return rec.lastStatus, errOrderTimeout
		}

		st, err := b.cfg.Adapter.OrderStatus(ctx, rec.orderID, b.cfg.Symbol)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return rec.lastStatus, err
			}
			if errors.Is(err, exchange.ErrOrderNotFound) {
				continue
			}
			pollErrors++
			b.logger.Warn("查询订单状态失败",
				zap.String("order_id", rec.orderID),
				zap.Int("consecutive", pollErrors),
				zap.Error(err),
			)
			if pollErrors >= maxPollErrors {
				return rec.lastStatus, fmt.Errorf("executor: 连续 %d 次查询订单失败: %w", pollErrors, err)
			}
			continue
		}
		pollErrors = 0

		if st == nil {
			continue
		}

		b.applyFill(rec, st)

		if st.Status.Terminal() {
			return st.Status, nil
		}
	}
}

// cancelOpenOrders 尽力撤销所有未到终态的子订单。
// 撤单失败仅记录日志：订单可能已经成交或被交易所清理。
func (b *base) cancelOpenOrders(ctx context.Context) {
	b.mu.Lock()
	records := make([]*orderRecord, len(b.records))
	copy(records, b.records)
	b.mu.Unlock()

	for _, rec := range records {
		if rec.lastStatus.Terminal() {
			continue
		}
		if err := b.cfg.Adapter.CancelOrder(ctx, rec.orderID, b.cfg.Symbol); err != nil {
			b.logger.Warn("撤销订单失败",
				zap.String("order_id", rec.orderID),
				zap.Error(err),
			)
		} else {
			b.logger.Info("已撤销订单", zap.String("order_id", rec.orderID))
		}
	}
}

// ========== 屏障监控 ==========

// watchBarrier 持续获取最新价并评估三重屏障；触发时记录退出请求。
// 作为独立 goroutine 运行，只读取价格，不参与子订单轮询。
func (b *base) watchBarrier(ctx context.Context) {
	if b.bar == nil {
		return
	}

	ticker := time.NewTicker(b.cfg.pollInterval())
	defer ticker.Stop()

	ticks := 0
	b.refreshVolatility(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
		}

		if b.State() != StateRunning {
			return
		}

		price, err := b.cfg.Adapter.LastPrice(ctx, b.cfg.Symbol)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			b.logger.Warn("获取最新价失败", zap.Error(err))
			continue
		}

		b.mu.Lock()
		b.currentPrice = price
		b.mu.Unlock()

		ticks++
		if ticks%volRefreshTicks == 0 {
			b.refreshVolatility(ctx)
		}

		if action := b.bar.Check(price, time.Now().UTC()); action != barrier.ActionNone {
			b.logger.Info("触发退出屏障",
				zap.String("action", string(action)),
				zap.Float64("price", price),
			)
			b.requestStop(action, string(action))
			return
		}
	}
}

// refreshVolatility 为 atr/volatility 模式的移动止损补充最新 ATR。
func (b *base) refreshVolatility(ctx context.Context) {
	if b.cfg.Trailing == nil {
		return
	}
	if b.cfg.Trailing.Mode != barrier.ModeATR && b.cfg.Trailing.Mode != barrier.ModeVolatility {
		return
	}

	timeframe := b.cfg.ATRTimeframe
	if timeframe == "" {
		timeframe = "1m"
	}
	period := b.cfg.ATRPeriod
	if period <= 0 {
		period = indicator.DefaultATRPeriod
	}

	candles, err := b.cfg.Adapter.Candles(ctx, b.cfg.Symbol, timeframe, int64(period*3))
	if err != nil {
		b.logger.Warn("获取K线失败，沿用上次波动率", zap.Error(err))
		return
	}

	atr, err := indicator.ATR(indicator.NewSeries(candles), period)
	if err != nil {
		b.logger.Warn("计算 ATR 失败", zap.Error(err))
		return
	}
	b.bar.SetVolatility(atr)
}

// ========== 平仓 ==========

// closePosition 以市价反向平掉已累计的全部仓位，等待平仓成交后
// 将执行器置为 COMPLETED。
func (b *base) closePosition(ctx context.Context, reason string) {
	b.mu.Lock()
	size := b.filled
	b.mu.Unlock()

	b.cancelOpenOrders(ctx)

	if size <= 0 {
		b.complete(reason)
		return
	}

	orderID, err := b.cfg.Adapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: b.cfg.Symbol,
		Side:   b.cfg.exitSide(),
		Size:   size,
		Type:   exchange.OrderTypeMarket,
	})
	if err != nil {
		b.fail("close_order_rejected", err)
		return
	}

	b.logger.Info("已提交平仓订单",
		zap.String("order_id", orderID),
		zap.Float64("size", size),
		zap.String("reason", reason),
	)

	if err := b.waitForClose(ctx, orderID); err != nil {
		b.fail("close_order_failed", err)
		return
	}

	b.complete(reason)
}

// waitForClose 轮询平仓订单直至全部成交。平仓成交不计入建仓均价，
// 仅发布带 phase=close 的成交事件。
func (b *base) waitForClose(ctx context.Context, orderID string) error {
	pollErrors := 0
	lastFilled := 0.0
	ticker := time.NewTicker(b.cfg.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st, err := b.cfg.Adapter.OrderStatus(ctx, orderID, b.cfg.Symbol)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, exchange.ErrOrderNotFound) {
				continue
			}
			pollErrors++
			if pollErrors >= maxPollErrors {
				return fmt.Errorf("executor: 平仓订单查询连续失败: %w", err)
			}
			continue
		}
		pollErrors = 0

		if st == nil {
			continue
		}

		if increment := st.Filled - lastFilled; increment > 0 {
			lastFilled = st.Filled
			b.emit(EventFill, map[string]interface{}{
				"order_id":   orderID,
				"phase":      "close",
				"increment":  increment,
				"fill_price": st.AvgPrice,
			})
		}

		switch st.Status {
		case exchange.StatusFilled:
			return nil
		case exchange.StatusCancelled, exchange.StatusRejected:
			return fmt.Errorf("executor: 平仓订单未成交，状态 %s", st.Status)
		}
	}
}

// finishFromStop 处理退出请求的收尾：屏障触发走平仓，外部取消走撤单。
func (b *base) finishFromStop(ctx context.Context) {
	action, reason := b.stopRequest()
	if action != barrier.ActionNone {
		b.closePosition(ctx, reason)
		return
	}

	b.cancelOpenOrders(ctx)
	b.cancelled(reason)
}

// shutdown 在运行上下文被取消后做尽力而为的清理。
func (b *base) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b.cancelOpenOrders(ctx)
	b.cancelled("shutdown")
}

// awaitExit 阻塞等待屏障触发或外部取消，然后完成收尾。
// 调度已结束的执行器在此交由屏障接管退出。
func (b *base) awaitExit(ctx context.Context) {
	select {
	case <-ctx.Done():
		b.shutdown()
	case <-b.stopCh:
		b.finishFromStop(ctx)
	}
}

// afterSchedule 为 DCA/TWAP 在调度结束后统一收尾。
func (b *base) afterSchedule(ctx context.Context, prefix string) {
	if b.stopRequested() {
		b.finishFromStop(ctx)
		return
	}
	if ctx.Err() != nil {
		b.shutdown()
		return
	}
	if b.bar != nil {
		b.awaitExit(ctx)
		return
	}
	if b.filledSize() >= b.cfg.Size {
		b.complete(prefix + "_completed")
		return
	}
	b.cancelOpenOrders(ctx)
	b.cancelled(prefix + "_partial")
}

func (b *base) filledSize() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filled
}

// sleepInterval 等待调度间隔，期间可被取消或屏障触发打断。
func (b *base) sleepInterval(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-b.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
