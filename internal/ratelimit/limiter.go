package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a QPS limiter. A qps of zero or less means unlimited.
type Limiter struct {
	limiter *rate.Limiter
}

func New(qps float64, burst int) *Limiter {
	if qps <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(qps), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Keyed hands out one limiter per key, all with the same rate.
type Keyed struct {
	mu    sync.Mutex
	qps   float64
	burst int
	m     map[string]*Limiter
}

func NewKeyed(qps float64, burst int) *Keyed {
	return &Keyed{qps: qps, burst: burst, m: make(map[string]*Limiter)}
}

func (k *Keyed) Get(key string) *Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.m[key]
	if !ok {
		l = New(k.qps, k.burst)
		k.m[key] = l
	}
	return l
}

func (k *Keyed) Wait(ctx context.Context, key string) error {
	return k.Get(key).Wait(ctx)
}
