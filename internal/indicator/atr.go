// Package indicator 基于K线计算执行引擎需要的波动率指标。
package indicator

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/exchange"
)

// DefaultATRPeriod 为 ATR 默认周期。
const DefaultATRPeriod = 14

// Series 将K线数据拆分为便于指标计算的序列。
type Series struct {
	High  []float64
	Low   []float64
	Close []float64
}

// NewSeries 从交易所K线创建 Series，按时间升序排列。
func NewSeries(candles []exchange.Candle) Series {
	length := len(candles)
	series := Series{
		High:  make([]float64, length),
		Low:   make([]float64, length),
		Close: make([]float64, length),
	}

	for i := 0; i < length; i++ {
		series.High[i] = candles[i].High
		series.Low[i] = candles[i].Low
		series.Close[i] = candles[i].Close
	}

	return series
}

// ATR 计算平均真实波幅的最新值。
func ATR(series Series, period int) (float64, error) {
	if period <= 0 {
		period = DefaultATRPeriod
	}
	if len(series.Close) <= period {
		return 0, fmt.Errorf("indicator: K线数量 %d 不足以计算 ATR(%d)", len(series.Close), period)
	}

	values := talib.Atr(series.High, series.Low, series.Close, period)
	last := values[len(values)-1]
	if math.IsNaN(last) || last <= 0 {
		return 0, fmt.Errorf("indicator: ATR(%d) 计算结果无效", period)
	}

	return last, nil
}
