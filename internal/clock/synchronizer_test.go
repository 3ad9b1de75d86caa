package clock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeServer 提供可控的服务器时间源。
type fakeServer struct {
	mu     sync.Mutex
	offset time.Duration
	err    error
}

func (f *fakeServer) serverTime(_ context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, f.err
	}
	return time.Now().Add(f.offset), nil
}

func (f *fakeServer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestSyncOnce_ComputesOffset(t *testing.T) {
	fake := &fakeServer{offset: 5 * time.Second}
	s := NewSynchronizer(fake.serverTime, time.Minute, nil)

	if err := s.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce returned error: %v", err)
	}

	offset := s.Offset()
	if offset < 4*time.Second || offset > 6*time.Second {
		t.Fatalf("Offset = %v, want about 5s", offset)
	}
	if s.LastSync().IsZero() {
		t.Fatal("LastSync not recorded")
	}

	ahead := s.Now().Sub(time.Now())
	if ahead < 4*time.Second || ahead > 6*time.Second {
		t.Fatalf("Now() ahead of local by %v, want about 5s", ahead)
	}
}

func TestSyncOnce_FailureKeepsLastOffset(t *testing.T) {
	fake := &fakeServer{offset: 3 * time.Second}
	s := NewSynchronizer(fake.serverTime, time.Minute, nil)

	if err := s.SyncOnce(context.Background()); err != nil {
		t.Fatalf("initial SyncOnce returned error: %v", err)
	}
	lastSync := s.LastSync()

	fake.setErr(errors.New("exchange unreachable"))
	if err := s.SyncOnce(context.Background()); err == nil {
		t.Fatal("expected error from failing server time source")
	}

	offset := s.Offset()
	if offset < 2*time.Second || offset > 4*time.Second {
		t.Fatalf("Offset after failure = %v, want last good value about 3s", offset)
	}
	if !s.LastSync().Equal(lastSync) {
		t.Fatal("LastSync advanced despite sync failure")
	}
}

func TestSyncOnce_NeverSyncedDefaultsToZeroOffset(t *testing.T) {
	fake := &fakeServer{err: errors.New("down")}
	s := NewSynchronizer(fake.serverTime, time.Minute, nil)

	_ = s.SyncOnce(context.Background())
	if s.Offset() != 0 {
		t.Fatalf("Offset = %v, want 0 before first successful sync", s.Offset())
	}
}
