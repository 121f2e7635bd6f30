// Package ratelimit implements a per-key sliding-window request limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter keeps, per key, the timestamps of admitted requests inside the
// window. Keys are spread over independently locked shards.
type Limiter struct {
	clock  clock.Clock
	window time.Duration
	shards [shardCount]*shard
}

type shard struct {
	mu   sync.Mutex
	keys map[string]*queue
}

// queue holds admission timestamps oldest first.
type queue struct {
	hits []time.Time
}

func New(clk clock.Clock, window time.Duration) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	l := &Limiter{clock: clk, window: window}
	for i := range l.shards {
		l.shards[i] = &shard{keys: make(map[string]*queue)}
	}
	return l
}

func (l *Limiter) Window() time.Duration {
	return l.window
}

func (l *Limiter) shardFor(key string) *shard {
	return l.shards[xxhash.Sum64String(key)%shardCount]
}

// Allow admits the request for key if fewer than limit requests were admitted
// within the trailing window. A limit below 1 rejects every request.
func (l *Limiter) Allow(key string, limit int) Decision {
	if limit < 1 {
		return Decision{Allowed: false, Limit: 0, RetryAfter: l.window}
	}
	now := l.clock.Now()
	s := l.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.keys[key]
	if !ok {
		q = &queue{}
		s.keys[key] = q
	}
	q.purge(now, l.window)

	if len(q.hits) >= limit {
		retry := q.hits[0].Add(l.window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, Limit: limit, RetryAfter: retry}
	}

	q.hits = append(q.hits, now)
	return Decision{Allowed: true, Limit: limit, Remaining: limit - len(q.hits)}
}

func (q *queue) purge(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(q.hits) && !q.hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	// Copy down so the backing array does not grow without bound.
	n := copy(q.hits, q.hits[i:])
	q.hits = q.hits[:n]
}

// Evict drops keys with no timestamps left in the window and returns how
// many were removed.
func (l *Limiter) Evict() int {
	now := l.clock.Now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for key, q := range s.keys {
			q.purge(now, l.window)
			if len(q.hits) == 0 {
				delete(s.keys, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.keys)
		s.mu.Unlock()
	}
	return n
}

// Run evicts idle keys once per window until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := l.clock.Ticker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Evict()
		}
	}
}
