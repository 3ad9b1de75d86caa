// Package executor 将策略层的开平仓决策转化为受监督、自我终止的执行单元：
// 负责下单、跟踪成交、并在触发止盈/止损/时间限制/移动止损时自主离场。
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/barrier"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/exchange"
)

// Adapter 抽象交易所能力，由 internal/exchange 的客户端实现，
// 测试时可替换为模拟实现。
type Adapter interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	OrderStatus(ctx context.Context, orderID, symbol string) (*exchange.OrderState, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
	Candles(ctx context.Context, symbol, timeframe string, limit int64) ([]exchange.Candle, error)
}

// State 表示执行器生命周期状态。终态不可再转移。
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal 判断状态是否为终态。
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Kind 表示执行器类型。
type Kind string

const (
	KindOrder Kind = "order"
	KindDCA   Kind = "dca"
	KindTWAP  Kind = "twap"
	KindGrid  Kind = "grid"
)

// Config 描述一个执行器的全部参数，创建后不可变。
type Config struct {
	Adapter Adapter
	Symbol  string
	Side    barrier.Side
	Size    float64

	// Price 为参考价/限价；市价单可为 0。
	Price     float64
	OrderType exchange.OrderType

	// 退出条件，0 值表示未设置。
	TakeProfit float64
	StopLoss   float64
	TimeLimit  time.Duration
	Trailing   *barrier.TrailingConfig

	// 调度参数（DCA/TWAP/Grid）。
	NumOrders  int
	Interval   time.Duration // DCA 固定间隔
	Duration   time.Duration // TWAP 总时长
	GridUpper  float64
	GridLower  float64
	GridLevels int

	// 轮询节奏与超时。
	PollInterval time.Duration // 默认 500ms
	OrderTimeout time.Duration // OrderExecutor 等待成交的超时

	// atr/volatility 模式移动止损的波动率来源。
	ATRTimeframe string // 默认 1m
	ATRPeriod    int    // 默认 14
}

// ErrInvalidConfig 表示配置校验失败，执行器不会被创建。
var ErrInvalidConfig = errors.New("executor: 配置无效")

func (c Config) validate() error {
	var err error

	if c.Adapter == nil {
		err = multierr.Append(err, errors.New("adapter 不能为空"))
	}
	if c.Symbol == "" {
		err = multierr.Append(err, errors.New("symbol 不能为空"))
	}
	if c.Side != barrier.SideLong && c.Side != barrier.SideShort {
		err = multierr.Append(err, fmt.Errorf("无效的方向 %q", c.Side))
	}
	if c.Size <= 0 {
		err = multierr.Append(err, errors.New("size 必须大于0"))
	}
	switch c.OrderType {
	case exchange.OrderTypeMarket:
	case exchange.OrderTypeLimit, exchange.OrderTypePostOnly, exchange.OrderTypeIOC, exchange.OrderTypeFOK:
		if c.Price <= 0 {
			err = multierr.Append(err, errors.New("限价类订单必须提供价格"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("不支持的订单类型 %q", c.OrderType))
	}
	if c.TakeProfit < 0 || c.StopLoss < 0 {
		err = multierr.Append(err, errors.New("止盈/止损价不能为负"))
	}

	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	return nil
}

// entrySide 返回建仓方向对应的委托方向。
func (c Config) entrySide() exchange.OrderSide {
	if c.Side == barrier.SideLong {
		return exchange.OrderSideBuy
	}
	return exchange.OrderSideSell
}

// exitSide 返回平仓方向对应的委托方向。
func (c Config) exitSide() exchange.OrderSide {
	if c.Side == barrier.SideLong {
		return exchange.OrderSideSell
	}
	return exchange.OrderSideBuy
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 500 * time.Millisecond
}

// buildBarrier 根据配置构造屏障；未配置任何退出条件时返回 nil。
func (c Config) buildBarrier() (*barrier.Barrier, error) {
	var trailing *barrier.TrailingStop
	if c.Trailing != nil {
		tc := *c.Trailing
		tc.Side = c.Side
		ts, err := barrier.NewTrailingStop(tc)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
		}
		trailing = ts
	}

	if c.TakeProfit <= 0 && c.StopLoss <= 0 && c.TimeLimit <= 0 && trailing == nil {
		return nil, nil
	}

	return barrier.New(barrier.Spec{
		Side:       c.Side,
		TakeProfit: c.TakeProfit,
		StopLoss:   c.StopLoss,
		TimeLimit:  c.TimeLimit,
		Trailing:   trailing,
	})
}

// orderRecord 记录单个子订单的最近观测值。
// lastFilled 单调不减；聚合成交量只按增量累加，避免重复计数。
type orderRecord struct {
	orderID    string
	price      float64
	lastFilled float64
	lastFee    float64
	lastStatus exchange.OrderStatus
	lastPrice  float64
}

// Summary 为执行器状态快照，供编排器聚合展示。
type Summary struct {
	ID            string        `json:"id"`
	Kind          Kind          `json:"kind"`
	State         State         `json:"state"`
	Symbol        string        `json:"symbol"`
	Side          barrier.Side  `json:"side"`
	TargetSize    float64       `json:"target_size"`
	FilledSize    float64       `json:"filled_size"`
	AvgFillPrice  float64       `json:"avg_fill_price"`
	Fee           float64       `json:"fee"`
	CurrentPrice  float64       `json:"current_price"`
	EffectiveStop float64       `json:"effective_stop"`
	Reason        string        `json:"reason"`
	CreatedAt     time.Time     `json:"created_at"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Executor 是编排器眼中的执行器：启动后自我驱动，到达终态后结束。
type Executor interface {
	ID() string
	Kind() Kind
	State() State
	Run(ctx context.Context)
	Cancel(reason string)
	Summary() Summary
	AddListener(listener Listener)
}
