// Package barrier 实现持仓退出决策：止盈、止损、时间限制三重屏障，
// 以及可选的移动止损扩展。
package barrier

import (
	"fmt"
	"sync"
	"time"
)

// Side 表示仓位方向，在构造时固定，决定所有比较的方向。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Action 表示屏障检查的结果。
type Action string

const (
	ActionNone       Action = "none"
	ActionStopLoss   Action = "stop_loss"
	ActionTakeProfit Action = "take_profit"
	ActionTimeLimit  Action = "time_limit"
)

// Spec 描述一组退出条件。价格为 0 表示对应屏障未设置。
type Spec struct {
	Side       Side
	TakeProfit float64
	StopLoss   float64
	TimeLimit  time.Duration
	Trailing   *TrailingStop
}

// Barrier 对单个持仓做退出判定。Check 对每个价格/时间 tick 调用一次。
//
// 多个条件同时满足时按 止损 > 止盈 > 时间限制 的顺序取先，优先保护本金。
// 价格监控、成交记账和状态快照在不同 goroutine 上访问同一个屏障，
// 所有方法都由内部互斥锁保护；Trailing 的状态只经由这把锁触达。
type Barrier struct {
	mu          sync.Mutex
	spec        Spec
	active      bool
	activatedAt time.Time
	vol         float64
}

// New 创建屏障实例。
func New(spec Spec) (*Barrier, error) {
	if spec.Side != SideLong && spec.Side != SideShort {
		return nil, fmt.Errorf("无效的仓位方向 %q", spec.Side)
	}
	return &Barrier{spec: spec}, nil
}

// Activate 激活屏障，记录启动时间并初始化移动止损。
func (b *Barrier) Activate(entryPrice float64, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.active = true
	b.activatedAt = now
	if b.spec.Trailing != nil {
		b.spec.Trailing.Activate(entryPrice)
	}
}

// Active 返回屏障是否已激活。
func (b *Barrier) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// SetVolatility 提供外部波动率（如 ATR），供 atr/volatility 模式的
// 移动止损在下一次 Check 时使用。
func (b *Barrier) SetVolatility(vol float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vol = vol
}

// Check 根据当前价格和时间判定是否触发退出。
// 移动止损一旦激活，其动态止损位会替代静态止损价参与止损判定。
func (b *Barrier) Check(price float64, now time.Time) Action {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active {
		return ActionNone
	}

	stop := b.spec.StopLoss
	trailingTriggered := false
	if b.spec.Trailing != nil {
		triggered, trailingStop := b.spec.Trailing.Update(price, b.vol)
		if b.spec.Trailing.Armed() && trailingStop > 0 {
			stop = trailingStop
			trailingTriggered = triggered
		}
	}

	if trailingTriggered || b.stopLossHit(price, stop) {
		return ActionStopLoss
	}
	if b.takeProfitHit(price) {
		return ActionTakeProfit
	}
	if b.spec.TimeLimit > 0 && now.Sub(b.activatedAt) >= b.spec.TimeLimit {
		return ActionTimeLimit
	}

	return ActionNone
}

// EffectiveStop 返回当前生效的止损价（移动止损激活后为动态值）。
func (b *Barrier) EffectiveStop() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.spec.Trailing != nil && b.spec.Trailing.Armed() {
		if stop, ok := b.spec.Trailing.Stop(); ok {
			return stop
		}
	}
	return b.spec.StopLoss
}

// Deadline 返回时间屏障的截止时间；未设置时间限制时返回零值。
func (b *Barrier) Deadline() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active || b.spec.TimeLimit <= 0 {
		return time.Time{}
	}
	return b.activatedAt.Add(b.spec.TimeLimit)
}

func (b *Barrier) stopLossHit(price, stop float64) bool {
	if stop <= 0 {
		return false
	}
	if b.spec.Side == SideLong {
		return price <= stop
	}
	return price >= stop
}

func (b *Barrier) takeProfitHit(price float64) bool {
	if b.spec.TakeProfit <= 0 {
		return false
	}
	if b.spec.Side == SideLong {
		return price >= b.spec.TakeProfit
	}
	return price <= b.spec.TakeProfit
}
