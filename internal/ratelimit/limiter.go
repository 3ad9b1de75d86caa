package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/config"
)

// bucket 实现令牌桶算法，令牌在取用时惰性补充。
type bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // 每秒补充的令牌数
	lastRefill time.Time
}

func newBucket(capacity int, refillRate float64) *bucket {
	return &bucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// tryAcquire 尝试取一个令牌；失败时返回距下一个令牌产生所需的等待时长。
func (b *bucket) tryAcquire() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	wait := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait
}

func (b *bucket) snapshot() BucketStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	return BucketStatus{
		Tokens:     b.tokens,
		Capacity:   b.capacity,
		RefillRate: b.refillRate,
		LastRefill: b.lastRefill,
	}
}

// BucketStatus 描述单个令牌桶的即时状态。
type BucketStatus struct {
	Tokens     float64
	Capacity   float64
	RefillRate float64
	LastRefill time.Time
}

// Limiter 按端点维护令牌桶，对外部 API 调用做准入控制。
//
// 同一个 Limiter 被所有执行器共享；Acquire 只会挂起调用方自身的
// goroutine，不会阻塞其他并发工作。
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rules   map[string]config.BucketRule
	def     config.BucketRule
	logger  *zap.Logger
}

// NewLimiter 根据限流配置创建 Limiter。
func NewLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Limiter{
		buckets: make(map[string]*bucket),
		rules:   cfg.Rules,
		def:     cfg.Default,
		logger:  logger,
	}

	for endpoint, rule := range cfg.Rules {
		l.buckets[endpoint] = newBucket(rule.Capacity, rule.RefillRate)
		logger.Info("限流规则已加载",
			zap.String("endpoint", endpoint),
			zap.Int("capacity", rule.Capacity),
			zap.Float64("refill_rate", rule.RefillRate),
		)
	}

	return l
}

// Acquire 为指定端点取一个令牌；令牌不足时挂起等待补充，
// 直到成功或 ctx 被取消。限流等待不是错误，不会向上层暴露失败。
func (l *Limiter) Acquire(ctx context.Context, endpoint string) error {
	b := l.bucketFor(endpoint)

	for {
		ok, wait := b.tryAcquire()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Snapshot 返回端点对应令牌桶的状态，用于监控。
func (l *Limiter) Snapshot(endpoint string) BucketStatus {
	return l.bucketFor(endpoint).snapshot()
}

func (l *Limiter) bucketFor(endpoint string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[endpoint]; ok {
		return b
	}

	rule := l.matchRule(endpoint)
	b := newBucket(rule.Capacity, rule.RefillRate)
	l.buckets[endpoint] = b
	return b
}

// matchRule 按最长前缀匹配规则，未命中时退回默认规则。
func (l *Limiter) matchRule(endpoint string) config.BucketRule {
	best := ""
	rule := l.def
	for pattern, r := range l.rules {
		if strings.HasPrefix(endpoint, pattern) && len(pattern) > len(best) {
			best = pattern
			rule = r
		}
	}
	return rule
}
