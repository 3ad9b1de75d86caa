package executor

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/barrier"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/exchange"
)

func TestGridExecutor_RefillsFilledLevel(t *testing.T) {
	adapter := newScriptedAdapter()
	adapter.statusScripts = [][]exchange.OrderState{
		{{Status: exchange.StatusFilled, Filled: 1, AvgPrice: 90}}, // 低档成交
		{{Status: exchange.StatusOpen}},                            // 高档持续挂着
		{{Status: exchange.StatusOpen}},                            // 低档补挂单
	}

	e, err := NewGridExecutor(Config{
		Adapter:      adapter,
		Symbol:       "ETH-USDT-SWAP",
		Side:         barrier.SideLong,
		Size:         2,
		GridLower:    90,
		GridUpper:    100,
		GridLevels:   2,
		PollInterval: time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewGridExecutor returned error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.Run(context.Background())
		close(done)
	}()

	// 等待低档成交后在同一价位补挂。
	deadline := time.Now().Add(2 * time.Second)
	for len(adapter.placedRequests()) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("filled level never refilled")
		}
		time.Sleep(time.Millisecond)
	}

	e.Cancel("strategy_exit")
	waitForState(t, e, StateCancelled, 2*time.Second)
	<-done

	placed := adapter.placedRequests()
	if placed[0].Price != 90 || placed[1].Price != 95 {
		t.Fatalf("ladder prices = (%v, %v), want (90, 95)", placed[0].Price, placed[1].Price)
	}
	refill := placed[2]
	if refill.Price != 90 || refill.Type != exchange.OrderTypeLimit || math.Abs(refill.Size-1) > 1e-9 {
		t.Fatalf("refill order = %+v, want limit buy 1 @ 90", refill)
	}

	if got := e.Summary().FilledSize; math.Abs(got-1) > 1e-9 {
		t.Fatalf("filled = %v, want 1", got)
	}

	// 取消时撤掉仍在挂的两个订单。
	cancelled := adapter.cancelledIDs()
	if len(cancelled) != 2 {
		t.Fatalf("cancelled = %v, want the two resting orders", cancelled)
	}
}

func TestGridExecutor_DropsFilledRecordsFromPolling(t *testing.T) {
	adapter := newScriptedAdapter()
	adapter.statusScripts = [][]exchange.OrderState{
		{{Status: exchange.StatusFilled, Filled: 1, AvgPrice: 90}},
		{{Status: exchange.StatusOpen}},
		{{Status: exchange.StatusOpen}},
	}

	e, err := NewGridExecutor(Config{
		Adapter:      adapter,
		Symbol:       "ETH-USDT-SWAP",
		Side:         barrier.SideLong,
		Size:         2,
		GridLower:    90,
		GridUpper:    100,
		GridLevels:   2,
		PollInterval: time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewGridExecutor returned error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.Run(context.Background())
		close(done)
	}()

	// 成交档位补挂后，其终态记录应退出轮询集合，只剩两个在挂订单。
	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("filled record never left the poll set")
		}
		e.mu.Lock()
		n := len(e.records)
		terminal := 0
		for _, rec := range e.records {
			if rec.lastStatus.Terminal() {
				terminal++
			}
		}
		e.mu.Unlock()
		if len(adapter.placedRequests()) == 3 && n == 2 && terminal == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	e.Cancel("strategy_exit")
	waitForState(t, e, StateCancelled, 2*time.Second)
	<-done

	// 记录被修剪不影响聚合成交量。
	if got := e.Summary().FilledSize; math.Abs(got-1) > 1e-9 {
		t.Fatalf("filled = %v, want 1", got)
	}
}

func TestGridExecutor_ShortLaddersFromUpperBound(t *testing.T) {
	adapter := newScriptedAdapter()

	e, err := NewGridExecutor(Config{
		Adapter:      adapter,
		Symbol:       "ETH-USDT-SWAP",
		Side:         barrier.SideShort,
		Size:         4,
		GridLower:    90,
		GridUpper:    100,
		GridLevels:   4,
		PollInterval: time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewGridExecutor returned error: %v", err)
	}

	want := []float64{100, 97.5, 95, 92.5}
	for i, price := range want {
		if got := e.levelPrice(i); math.Abs(got-price) > 1e-9 {
			t.Fatalf("levelPrice(%d) = %v, want %v", i, got, price)
		}
	}
}

func TestGridExecutor_ValidatesBounds(t *testing.T) {
	adapter := newScriptedAdapter()
	base := Config{
		Adapter: adapter,
		Symbol:  "ETH-USDT-SWAP",
		Side:    barrier.SideLong,
		Size:    2,
	}

	cfg := base
	cfg.GridLower = 90
	cfg.GridUpper = 100
	if _, err := NewGridExecutor(cfg, nil); err == nil {
		t.Fatal("expected error for missing levels")
	}

	cfg = base
	cfg.GridLevels = 2
	cfg.GridLower = 100
	cfg.GridUpper = 90
	if _, err := NewGridExecutor(cfg, nil); err == nil {
		t.Fatal("expected error for inverted bounds")
	}
}
