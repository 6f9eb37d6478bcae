package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"curator/internal/telemetry"
)

// Pool bounds how many task runs execute at once.
type Pool struct {
	sem      chan struct{}
	wg       sync.WaitGroup
	inflight atomic.Int64
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Go runs fn on its own goroutine once a slot is free. It blocks while the
// pool is full and returns ctx.Err() if ctx ends first, in which case fn
// never runs. Callers must not call Go once Wait may have started.
func (p *Pool) Go(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.wg.Add(1)
	p.inflight.Add(1)
	telemetry.InFlightGauge.Inc()
	go func() {
		defer func() {
			telemetry.InFlightGauge.Dec()
			p.inflight.Add(-1)
			<-p.sem
			p.wg.Done()
		}()
		fn()
	}()
	return nil
}

// Wait blocks until every started fn has returned.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) InFlight() int { return int(p.inflight.Load()) }

func (p *Pool) Size() int { return cap(p.sem) }
