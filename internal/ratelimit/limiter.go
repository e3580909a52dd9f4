// Package ratelimit implements the fixed-window counters that gate write paths.
package ratelimit

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"quorum/internal/logging"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the window for the key resets.
	RetryAfter time.Duration
}

// Limiter counts calls per key inside a window. Implementations never fail:
// an unusable backend lets the call through.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) Decision
}

// Key builds "<action>:<part>[:<part>...]".
func Key(action string, parts ...string) string {
	return action + ":" + strings.Join(parts, ":")
}

type record struct {
	count   int
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *record]
}

// MemoryLimiter is a process-local limiter. Keys are spread over shards, each
// with its own mutex and a bounded LRU so memory stays capped.
type MemoryLimiter struct {
	shards []*shard
	now    func() time.Time
}

// NewMemoryLimiter creates a limiter with the given shard count and per-shard capacity
func NewMemoryLimiter(shards, capacity int) (*MemoryLimiter, error) {
	l := &MemoryLimiter{
		shards: make([]*shard, shards),
		now:    time.Now,
	}
	for i := range l.shards {
		c, err := lru.New[string, *record](capacity)
		if err != nil {
			return nil, err
		}
		l.shards[i] = &shard{entries: c}
	}
	return l, nil
}

func (l *MemoryLimiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	now := l.now()
	s := l.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries.Get(key)
	if !ok || now.After(rec.resetAt) {
		rec = &record{count: 1, resetAt: now.Add(window)}
		s.entries.Add(key, rec)
		return Decision{Allowed: true, Remaining: limit - 1, RetryAfter: window}
	}

	if rec.count >= limit {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: rec.resetAt.Sub(now)}
	}

	rec.count++
	return Decision{Allowed: true, Remaining: limit - rec.count, RetryAfter: rec.resetAt.Sub(now)}
}

// Sweep drops every expired record and returns how many were removed.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for _, key := range s.entries.Keys() {
			rec, ok := s.entries.Peek(key)
			if ok && now.After(rec.resetAt) {
				s.entries.Remove(key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	n := 0
	for _, s := range l.shards {
		n += s.entries.Len()
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (l *MemoryLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	log := logging.WithComponent("ratelimit")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				log.Debug("Swept expired rate limit keys", zap.Int("removed", n), zap.Int("remaining", l.Len()))
			}
		}
	}
}
