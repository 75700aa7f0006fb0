package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter implements Limiter in process using a token bucket per identity.
// Counters are not shared between replicas.
type LocalLimiter struct {
	config    *Config
	limiters  map[string]*identityLimiter
	mu        sync.Mutex
	now       func() time.Time
	lastSweep time.Time
}

type identityLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates an in-process limiter
func NewLocalLimiter(config *Config) *LocalLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	return &LocalLimiter{
		config:   config,
		limiters: make(map[string]*identityLimiter),
		now:      time.Now,
	}
}

// WithClock overrides the time source
func (l *LocalLimiter) WithClock(now func() time.Time) *LocalLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// Limit records an attempt for identity
func (l *LocalLimiter) Limit(ctx context.Context, identity string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	identity = Identity(identity)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	il, ok := l.limiters[identity]
	if !ok {
		every := l.config.Window / time.Duration(max(1, l.config.Limit))
		il = &identityLimiter{limiter: rate.NewLimiter(rate.Every(every), max(1, l.config.Limit))}
		l.limiters[identity] = il
	}
	il.lastSeen = now

	allowed := il.limiter.AllowN(now, 1)
	tokens := il.limiter.TokensAt(now)

	reset := now
	if tokens < 1 {
		reset = now.Add(time.Duration((1 - tokens) * float64(time.Second) / float64(il.limiter.Limit())))
	}

	return &Result{
		Allowed:   allowed,
		Limit:     l.config.Limit,
		Remaining: max(0, int(tokens)),
		Reset:     reset,
	}, nil
}

// Len returns the number of tracked identities
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// sweep drops identities idle for longer than IdleTTL. Caller holds l.mu.
func (l *LocalLimiter) sweep(now time.Time) {
	if l.config.IdleTTL <= 0 || now.Sub(l.lastSweep) < l.config.IdleTTL {
		return
	}
	for id, il := range l.limiters {
		if now.Sub(il.lastSeen) > l.config.IdleTTL {
			delete(l.limiters, id)
		}
	}
	l.lastSweep = now
}
