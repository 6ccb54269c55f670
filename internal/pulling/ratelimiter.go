package pulling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Token is an opaque, idempotent-release-safe capacity grant issued by
// PriorityRateLimiter.Acquire.
type Token struct {
	priority Priority
	released bool
}

// classLimiter bounds one priority class: a semaphore caps in-flight
// concurrency, an x/time/rate.Limiter caps throughput. Isolation across
// classes comes from each class owning its own pair (spec.md §4.1).
type classLimiter struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

// RateLimitConfig configures one priority class's capacity.
type RateLimitConfig struct {
	Concurrency int
	RPS         float64
	Burst       int
}

// PriorityRateLimiter gates dispatch per priority class. Higher priorities
// are never blocked by contention on lower ones because each class owns an
// independent pool (spec.md §4.1).
type PriorityRateLimiter struct {
	classes [priorityCount]*classLimiter
	logger  *zap.Logger

	mu       sync.Mutex
	inFlight map[*Token]struct{}
}

// NewPriorityRateLimiter builds a limiter with one configuration per
// priority class, indexed by the priority's discriminant (spec.md §9's
// "small fixed array indexed by the priority enum", not a hash map).
func NewPriorityRateLimiter(cfgs [priorityCount]RateLimitConfig, logger *zap.Logger) *PriorityRateLimiter {
	l := &PriorityRateLimiter{logger: logger, inFlight: make(map[*Token]struct{})}
	for i, cfg := range cfgs {
		concurrency := cfg.Concurrency
		if concurrency <= 0 {
			concurrency = 1
		}
		rl := rate.Limit(cfg.RPS)
		if cfg.RPS <= 0 {
			rl = rate.Inf
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = concurrency
		}
		l.classes[i] = &classLimiter{
			sem:     make(chan struct{}, concurrency),
			limiter: rate.NewLimiter(rl, burst),
		}
	}
	return l
}

// Acquire blocks until a slot is available for priority, then yields a
// token. Acquisition order within a class is FIFO among waiters because the
// underlying semaphore is a buffered channel and the rate limiter's
// internal waitlist is itself FIFO.
func (l *PriorityRateLimiter) Acquire(ctx context.Context, priority Priority) (*Token, error) {
	if !priority.Valid() {
		return nil, NewProgrammingError("invalid priority %d", priority)
	}
	class := l.classes[priority]

	start := time.Now()
	select {
	case class.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := class.limiter.Wait(ctx); err != nil {
		<-class.sem
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if wait := time.Since(start); wait > time.Millisecond && l.logger != nil {
		l.logger.Debug("rate limiter wait", zap.Stringer("priority", priority), zap.Duration("wait", wait))
	}

	tok := &Token{priority: priority}
	l.mu.Lock()
	l.inFlight[tok] = struct{}{}
	l.mu.Unlock()
	return tok, nil
}

// Release returns capacity for token. Releasing twice is a no-op; releasing
// a token this limiter never issued is a ProgrammingError (spec.md §4.1).
func (l *PriorityRateLimiter) Release(token *Token) error {
	if token == nil {
		return NewProgrammingError("release of nil token")
	}

	l.mu.Lock()
	_, known := l.inFlight[token]
	if known {
		delete(l.inFlight, token)
	}
	l.mu.Unlock()

	if !known {
		if token.released {
			return nil
		}
		return NewProgrammingError("release of foreign or already-released token")
	}

	token.released = true
	<-l.classes[token.priority].sem
	return nil
}
