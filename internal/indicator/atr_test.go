package indicator

import (
	"math"
	"testing"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/exchange"
)

func constantRangeCandles(n int, rng float64) []exchange.Candle {
	candles := make([]exchange.Candle, n)
	for i := range candles {
		candles[i] = exchange.Candle{
			Open:  100,
			High:  100 + rng/2,
			Low:   100 - rng/2,
			Close: 100,
		}
	}
	return candles
}

func TestATR_ConstantRange(t *testing.T) {
	// 每根K线真实波幅恒为 2，ATR 应收敛到 2。
	atr, err := ATR(NewSeries(constantRangeCandles(50, 2)), 14)
	if err != nil {
		t.Fatalf("ATR returned error: %v", err)
	}
	if math.Abs(atr-2) > 0.01 {
		t.Fatalf("ATR = %v, want about 2", atr)
	}
}

func TestATR_InsufficientData(t *testing.T) {
	if _, err := ATR(NewSeries(constantRangeCandles(10, 2)), 14); err == nil {
		t.Fatal("expected error for too few candles")
	}
}

func TestATR_DefaultPeriod(t *testing.T) {
	atr, err := ATR(NewSeries(constantRangeCandles(50, 4)), 0)
	if err != nil {
		t.Fatalf("ATR returned error: %v", err)
	}
	if math.Abs(atr-4) > 0.02 {
		t.Fatalf("ATR = %v, want about 4", atr)
	}
}
