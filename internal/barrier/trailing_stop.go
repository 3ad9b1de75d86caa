package barrier

import (
	"errors"
	"fmt"
)

// Mode 表示移动止损的计算模式。
type Mode string

const (
	ModePercentage  Mode = "percentage"
	ModeFixedAmount Mode = "fixed_amount"
	ModeATR         Mode = "atr"
	ModeVolatility  Mode = "volatility"
)

// TrailingConfig 描述移动止损参数。
type TrailingConfig struct {
	Mode Mode
	Side Side

	// ActivationDistance 为激活阈值：percentage 模式下是相对入场价的
	// 涨跌幅，其余模式为绝对价格距离。
	ActivationDistance float64

	// TrailingDistance 为跟踪距离：percentage 模式下是比例，
	// fixed_amount 模式下是绝对金额，atr/volatility 模式下是波动率乘数。
	TrailingDistance float64
}

// TrailingStop 动态抬升止损位以锁定利润。止损位只会朝有利方向收紧，
// 一旦收紧就不会放松。
type TrailingStop struct {
	cfg     TrailingConfig
	entry   float64
	armed   bool
	stop    float64
	hasStop bool
}

// NewTrailingStop 创建移动止损。
func NewTrailingStop(cfg TrailingConfig) (*TrailingStop, error) {
	switch cfg.Mode {
	case ModePercentage, ModeFixedAmount, ModeATR, ModeVolatility:
	default:
		return nil, fmt.Errorf("不支持的移动止损模式 %q", cfg.Mode)
	}
	if cfg.Side != SideLong && cfg.Side != SideShort {
		return nil, fmt.Errorf("无效的仓位方向 %q", cfg.Side)
	}
	if cfg.ActivationDistance <= 0 || cfg.TrailingDistance <= 0 {
		return nil, errors.New("移动止损距离必须为正")
	}
	return &TrailingStop{cfg: cfg}, nil
}

// Activate 以入场价初始化移动止损。
func (t *TrailingStop) Activate(entryPrice float64) {
	t.entry = entryPrice
	t.armed = false
	t.stop = 0
	t.hasStop = false
}

// Update 根据最新价格推进移动止损。
// vol 仅在 atr/volatility 模式下使用，由调用方按 tick 提供。
// 返回是否触发以及当前生效的止损位。
func (t *TrailingStop) Update(price, vol float64) (bool, float64) {
	if t.entry <= 0 {
		return false, 0
	}

	if !t.armed {
		if t.favorableMove(price) >= t.cfg.ActivationDistance {
			t.armed = true
		} else {
			return false, 0
		}
	}

	if candidate, ok := t.candidate(price, vol); ok {
		if !t.hasStop || t.tighter(candidate) {
			t.stop = candidate
			t.hasStop = true
		}
	}

	if !t.hasStop {
		return false, 0
	}

	if t.cfg.Side == SideLong {
		return price <= t.stop, t.stop
	}
	return price >= t.stop, t.stop
}

// Armed 返回移动止损是否已激活。
func (t *TrailingStop) Armed() bool {
	return t.armed
}

// Stop 返回当前止损位；第二个返回值表示止损位是否已建立。
func (t *TrailingStop) Stop() (float64, bool) {
	return t.stop, t.hasStop
}

func (t *TrailingStop) favorableMove(price float64) float64 {
	var move float64
	if t.cfg.Side == SideLong {
		move = price - t.entry
	} else {
		move = t.entry - price
	}
	if move < 0 {
		move = 0
	}
	if t.cfg.Mode == ModePercentage {
		return move / t.entry
	}
	return move
}

func (t *TrailingStop) candidate(price, vol float64) (float64, bool) {
	var distance float64
	switch t.cfg.Mode {
	case ModePercentage:
		distance = price * t.cfg.TrailingDistance
	case ModeFixedAmount:
		distance = t.cfg.TrailingDistance
	case ModeATR, ModeVolatility:
		if vol <= 0 {
			return 0, false
		}
		distance = vol * t.cfg.TrailingDistance
	}

	if t.cfg.Side == SideLong {
		return price - distance, true
	}
	return price + distance, true
}

func (t *TrailingStop) tighter(candidate float64) bool {
	if t.cfg.Side == SideLong {
		return candidate > t.stop
	}
	return candidate < t.stop
}
