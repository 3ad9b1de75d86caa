package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ServerTimeFunc 获取交易所服务器时间。
type ServerTimeFunc func(ctx context.Context) (time.Time, error)

// Synchronizer 维护本地时钟与交易所服务器时钟的偏移量，
// 保证所有带时间戳的出站请求使用同步后的时间。
type Synchronizer struct {
	serverTime ServerTimeFunc
	interval   time.Duration
	logger     *zap.Logger

	mu       sync.RWMutex
	offset   time.Duration // 服务器时间 - 本地时间
	lastSync time.Time
}

// NewSynchronizer 创建时间同步器。
func NewSynchronizer(serverTime ServerTimeFunc, interval time.Duration, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Synchronizer{
		serverTime: serverTime,
		interval:   interval,
		logger:     logger,
	}
}

// SyncOnce 执行一次同步。失败时保留上一次的有效偏移量，仅记录告警。
func (s *Synchronizer) SyncOnce(ctx context.Context) error {
	server, err := s.serverTime(ctx)
	if err != nil {
		s.logger.Warn("同步服务器时间失败，沿用上次偏移量", zap.Error(err))
		return err
	}

	local := time.Now()
	offset := server.Sub(local)

	s.mu.Lock()
	s.offset = offset
	s.lastSync = local
	s.mu.Unlock()

	s.logger.Debug("服务器时间同步完成", zap.Duration("offset", offset))
	return nil
}

// Run 按配置间隔周期性同步，直到 ctx 被取消。
func (s *Synchronizer) Run(ctx context.Context) {
	_ = s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.SyncOnce(ctx)
		}
	}
}

// Now 返回同步后的当前时间（本地时间 + 偏移量）。
func (s *Synchronizer) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Now().Add(s.offset)
}

// Offset 返回当前偏移量。
func (s *Synchronizer) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// LastSync 返回最近一次成功同步的本地时间。
func (s *Synchronizer) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}
