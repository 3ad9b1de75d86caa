package executor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/barrier"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/exchange"
)

func TestNew_CreatesEachKind(t *testing.T) {
	cfg := Config{
		Adapter:    newScriptedAdapter(),
		Symbol:     "ETH-USDT-SWAP",
		Side:       barrier.SideLong,
		Size:       4,
		OrderType:  exchange.OrderTypeMarket,
		NumOrders:  4,
		Interval:   time.Second,
		Duration:   time.Minute,
		GridLower:  90,
		GridUpper:  100,
		GridLevels: 4,
	}

	for _, kind := range []Kind{KindOrder, KindDCA, KindTWAP, KindGrid} {
		exec, err := New(kind, cfg, nil)
		if err != nil {
			t.Fatalf("New(%s) returned error: %v", kind, err)
		}
		if exec.Kind() != kind {
			t.Fatalf("Kind = %s, want %s", exec.Kind(), kind)
		}
		if exec.State() != StateIdle {
			t.Fatalf("new executor state = %s, want %s", exec.State(), StateIdle)
		}
		if !strings.HasPrefix(exec.ID(), string(kind)+"_") {
			t.Fatalf("ID %q missing kind prefix", exec.ID())
		}
	}
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(Kind("iceberg"), Config{}, nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New(iceberg) error = %v, want ErrInvalidConfig", err)
	}
}
