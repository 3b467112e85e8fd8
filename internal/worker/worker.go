package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Submit after Stop.
var ErrPoolClosed = errors.New("worker pool closed")

// DefaultSize matches the default number of repositories fetched at once.
const DefaultSize = 8

type job struct {
	ctx context.Context
	fn  func(ctx context.Context)
}

// Pool is a fixed set of long-lived goroutines shared by every fetch in the
// process. Submitters block until a worker is free.
type Pool struct {
	size int
	jobs chan job
	quit chan struct{}
	log  *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func New(size int, log *zap.Logger) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{
		size: size,
		jobs: make(chan job),
		quit: make(chan struct{}),
		log:  log.Named("worker"),
	}
}

// Size is the number of worker goroutines.
func (p *Pool) Size() int { return p.size }

// Start launches the worker goroutines. Calling it again is a no-op.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.run(i)
		}
		p.log.Info("worker pool started", zap.Int("size", p.size))
	})
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			p.exec(id, j)
		}
	}
}

func (p *Pool) exec(id int, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("job panicked", zap.Int("worker", id), zap.Any("panic", r))
		}
	}()
	j.fn(j.ctx)
}

// Submit hands fn to a free worker. It blocks until one picks it up, ctx is
// done, or the pool stops. fn receives ctx and should honour it.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}
	select {
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
}

// Stop signals the workers to exit and waits for running jobs to return.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		p.log.Info("worker pool stopped")
	})
}
