package barrier

import (
	"math/rand"
	"sync"
	"testing"
	"time"
)

func mustBarrier(t *testing.T, spec Spec) *Barrier {
	t.Helper()
	b, err := New(spec)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return b
}

func TestCheck_LongDirection(t *testing.T) {
	cases := []struct {
		price float64
		want  Action
	}{
		{105, ActionNone},
		{110, ActionTakeProfit},
		{111, ActionTakeProfit},
		{91, ActionNone},
		{90, ActionStopLoss},
		{89, ActionStopLoss},
	}

	for _, tc := range cases {
		b := mustBarrier(t, Spec{Side: SideLong, TakeProfit: 110, StopLoss: 90})
		now := time.Now()
		b.Activate(100, now)
		if got := b.Check(tc.price, now); got != tc.want {
			t.Errorf("long Check(%v) = %s, want %s", tc.price, got, tc.want)
		}
	}
}

func TestCheck_ShortDirection(t *testing.T) {
	cases := []struct {
		price float64
		want  Action
	}{
		{95, ActionNone},
		{90, ActionTakeProfit},
		{89, ActionTakeProfit},
		{109, ActionNone},
		{110, ActionStopLoss},
		{111, ActionStopLoss},
	}

	for _, tc := range cases {
		b := mustBarrier(t, Spec{Side: SideShort, TakeProfit: 90, StopLoss: 110})
		now := time.Now()
		b.Activate(100, now)
		if got := b.Check(tc.price, now); got != tc.want {
			t.Errorf("short Check(%v) = %s, want %s", tc.price, got, tc.want)
		}
	}
}

func TestCheck_DirectionTableRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	now := time.Now()

	for i := 0; i < 1000; i++ {
		price := 80 + rng.Float64()*40 // [80, 120)

		long := mustBarrier(t, Spec{Side: SideLong, TakeProfit: 110, StopLoss: 90})
		long.Activate(100, now)
		want := ActionNone
		switch {
		case price <= 90:
			want = ActionStopLoss
		case price >= 110:
			want = ActionTakeProfit
		}
		if got := long.Check(price, now); got != want {
			t.Fatalf("long Check(%v) = %s, want %s", price, got, want)
		}

		short := mustBarrier(t, Spec{Side: SideShort, TakeProfit: 90, StopLoss: 110})
		short.Activate(100, now)
		want = ActionNone
		switch {
		case price >= 110:
			want = ActionStopLoss
		case price <= 90:
			want = ActionTakeProfit
		}
		if got := short.Check(price, now); got != want {
			t.Fatalf("short Check(%v) = %s, want %s", price, got, want)
		}
	}
}

func TestCheck_StopLossBeatsTakeProfit(t *testing.T) {
	// 止损价高于止盈价的配置下，同一价格可同时满足两个条件，
	// 此时必须优先止损。
	b := mustBarrier(t, Spec{Side: SideLong, TakeProfit: 90, StopLoss: 100})
	now := time.Now()
	b.Activate(100, now)

	if got := b.Check(95, now); got != ActionStopLoss {
		t.Fatalf("Check = %s, want %s", got, ActionStopLoss)
	}
}

func TestCheck_TakeProfitBeatsTimeLimit(t *testing.T) {
	b := mustBarrier(t, Spec{Side: SideLong, TakeProfit: 110, TimeLimit: time.Second})
	start := time.Now()
	b.Activate(100, start)

	if got := b.Check(115, start.Add(2*time.Second)); got != ActionTakeProfit {
		t.Fatalf("Check = %s, want %s", got, ActionTakeProfit)
	}
}

func TestCheck_TimeLimit(t *testing.T) {
	b := mustBarrier(t, Spec{Side: SideLong, TakeProfit: 200, StopLoss: 50, TimeLimit: time.Minute})
	start := time.Now()
	b.Activate(100, start)

	if got := b.Check(100, start.Add(59*time.Second)); got != ActionNone {
		t.Fatalf("before deadline: Check = %s, want %s", got, ActionNone)
	}
	if got := b.Check(100, start.Add(61*time.Second)); got != ActionTimeLimit {
		t.Fatalf("after deadline: Check = %s, want %s", got, ActionTimeLimit)
	}
}

func TestCheck_InactiveReturnsNone(t *testing.T) {
	b := mustBarrier(t, Spec{Side: SideLong, TakeProfit: 110, StopLoss: 90})
	if got := b.Check(50, time.Now()); got != ActionNone {
		t.Fatalf("Check = %s, want %s", got, ActionNone)
	}
}

func TestCheck_ZeroPricesDisableBarriers(t *testing.T) {
	b := mustBarrier(t, Spec{Side: SideLong, TimeLimit: time.Hour})
	now := time.Now()
	b.Activate(100, now)

	if got := b.Check(0.0001, now); got != ActionNone {
		t.Fatalf("unset stop loss fired: %s", got)
	}
	if got := b.Check(1e9, now); got != ActionNone {
		t.Fatalf("unset take profit fired: %s", got)
	}
}

func TestCheck_TrailingReplacesStaticStop(t *testing.T) {
	ts, err := NewTrailingStop(TrailingConfig{
		Mode:               ModePercentage,
		Side:               SideLong,
		ActivationDistance: 0.02,
		TrailingDistance:   0.01,
	})
	if err != nil {
		t.Fatalf("NewTrailingStop returned error: %v", err)
	}

	b := mustBarrier(t, Spec{Side: SideLong, TakeProfit: 200, StopLoss: 90, Trailing: ts})
	now := time.Now()
	b.Activate(100, now)

	// 价格上涨 3% 激活移动止损，动态止损位抬到 103*0.99=101.97。
	if got := b.Check(103, now); got != ActionNone {
		t.Fatalf("Check(103) = %s, want %s", got, ActionNone)
	}
	if stop := b.EffectiveStop(); stop < 101 || stop > 102 {
		t.Fatalf("EffectiveStop = %v, want about 101.97", stop)
	}

	// 回落到 101 远高于静态止损 90，但已低于动态止损位。
	if got := b.Check(101, now); got != ActionStopLoss {
		t.Fatalf("Check(101) = %s, want %s", got, ActionStopLoss)
	}
}

func TestBarrier_ConcurrentCheckAndSnapshot(t *testing.T) {
	ts, err := NewTrailingStop(TrailingConfig{
		Mode:               ModePercentage,
		Side:               SideLong,
		ActivationDistance: 0.01,
		TrailingDistance:   0.005,
	})
	if err != nil {
		t.Fatalf("NewTrailingStop returned error: %v", err)
	}

	b := mustBarrier(t, Spec{Side: SideLong, TakeProfit: 1000, StopLoss: 50, TimeLimit: time.Hour, Trailing: ts})
	b.Activate(100, time.Now())

	// 价格监控推进移动止损的同时，另一个 goroutine 读取状态快照。
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		now := time.Now()
		for i := 0; i < 2000; i++ {
			price := 100 + float64(i%50)/10
			b.SetVolatility(float64(i%5) + 1)
			b.Check(price, now)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			_ = b.EffectiveStop()
			_ = b.Active()
			_ = b.Deadline()
		}
	}()
	wg.Wait()

	if !b.Active() {
		t.Fatal("barrier lost activation state")
	}
}

func TestNew_RejectsInvalidSide(t *testing.T) {
	if _, err := New(Spec{Side: Side("sideways")}); err == nil {
		t.Fatal("expected error for invalid side")
	}
}

func TestDeadline(t *testing.T) {
	b := mustBarrier(t, Spec{Side: SideShort, TimeLimit: time.Minute})
	if !b.Deadline().IsZero() {
		t.Fatal("expected zero deadline before activation")
	}

	start := time.Now()
	b.Activate(100, start)
	if got, want := b.Deadline(), start.Add(time.Minute); !got.Equal(want) {
		t.Fatalf("Deadline = %v, want %v", got, want)
	}

	noLimit := mustBarrier(t, Spec{Side: SideShort, StopLoss: 110})
	noLimit.Activate(100, start)
	if !noLimit.Deadline().IsZero() {
		t.Fatal("expected zero deadline when time limit unset")
	}
}
