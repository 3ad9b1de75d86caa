package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/exchange"
)

// scriptedAdapter 按预设脚本应答订单查询与价格请求。
// 第 i 笔订单的每次状态轮询依次消费 statusScripts[i]，末项重复。
type scriptedAdapter struct {
	mu sync.Mutex

	statusScripts [][]exchange.OrderState
	prices        []float64

	placed      []exchange.OrderRequest
	placedIDs   []string
	cancelled   []string
	statusCalls map[string]int
	priceCalls  int
	placeErr    error
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{statusCalls: make(map[string]int)}
}

func (m *scriptedAdapter) PlaceOrder(_ context.Context, req exchange.OrderRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.placeErr != nil {
		return "", m.placeErr
	}
	m.placed = append(m.placed, req)
	id := fmt.Sprintf("ord-%d", len(m.placed))
	m.placedIDs = append(m.placedIDs, id)
	return id, nil
}

func (m *scriptedAdapter) CancelOrder(_ context.Context, orderID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *scriptedAdapter) OrderStatus(_ context.Context, orderID, _ string) (*exchange.OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, id := range m.placedIDs {
		if id == orderID {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(m.statusScripts) || len(m.statusScripts[idx]) == 0 {
		return nil, exchange.ErrOrderNotFound
	}

	script := m.statusScripts[idx]
	call := m.statusCalls[orderID]
	m.statusCalls[orderID]++
	if call >= len(script) {
		call = len(script) - 1
	}
	st := script[call]
	st.OrderID = orderID
	return &st, nil
}

func (m *scriptedAdapter) LastPrice(_ context.Context, _ string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prices) == 0 {
		return 0, fmt.Errorf("no price")
	}
	idx := m.priceCalls
	m.priceCalls++
	if idx >= len(m.prices) {
		idx = len(m.prices) - 1
	}
	return m.prices[idx], nil
}

func (m *scriptedAdapter) Candles(_ context.Context, _, _ string, _ int64) ([]exchange.Candle, error) {
	return nil, fmt.Errorf("no candles")
}

func (m *scriptedAdapter) placedRequests() []exchange.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]exchange.OrderRequest, len(m.placed))
	copy(out, m.placed)
	return out
}

func (m *scriptedAdapter) cancelledIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cancelled))
	copy(out, m.cancelled)
	return out
}

var _ Adapter = (*scriptedAdapter)(nil)

// waitForState 等待执行器进入期望状态，超时则失败。
func waitForState(t *testing.T, exec Executor, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if exec.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("executor state = %s, want %s", exec.State(), want)
}
