package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/types"
	"github.com/rs/zerolog"
)

// workItem is what a per-worker pool's pull loop pushes and its
// handler goroutines consume.
type workItem = types.Contribution

// workerPool is a bounded, panic-recovering pool of goroutines pulling
// the oldest unclaimed Contribution (lowest id first; contributions
// carry no priority) for one destination worker
// and running it through handle, adapted from gqs/internal.WorkerPool[T]
// (a generic context-scoped worker pool) to this one concrete work
// item type rather than kept generic, since ingest only ever pulls
// Contributions.
type workerPool struct {
	worker       string
	concurrency  int
	queue        int
	pullInterval time.Duration

	pull   func(ctx context.Context) (workItem, bool, error)
	handle func(ctx context.Context, item workItem)
	logger zerolog.Logger

	in     chan workItem
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func newWorkerPool(worker string, concurrency, queue int, pullInterval time.Duration,
	pull func(ctx context.Context) (workItem, bool, error), handle func(ctx context.Context, item workItem)) *workerPool {
	return &workerPool{
		worker:       worker,
		concurrency:  concurrency,
		queue:        queue,
		pullInterval: pullInterval,
		pull:         pull,
		handle:       handle,
		logger:       log.WithComponent("ingest").With().Str("worker", worker).Logger(),
	}
}

func (p *workerPool) safeHandle(ctx context.Context, item workItem) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Uint64("contribution_id", item.ID).Msg("ingest worker panic recovered")
		}
	}()
	p.handle(ctx, item)
}

func (p *workerPool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.in:
			p.safeHandle(ctx, item)
		}
	}
}

func (p *workerPool) runPuller(ctx context.Context) {
	ticker := time.NewTicker(p.pullInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			item, ok, err := p.pull(ctx)
			if err != nil {
				p.logger.Error().Err(err).Msg("ingest pull failed")
				continue
			}
			if !ok {
				continue
			}
			select {
			case p.in <- item:
			case <-ctx.Done():
				return
			}
		}
	}
}

// start launches the pool's puller and worker goroutines; it must be
// called at most once per workerPool.
func (p *workerPool) start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.in = make(chan workItem, p.queue)
	p.wg.Add(p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		go p.runWorker(ctx)
	}
	go p.runPuller(ctx)
}

// stop cancels the pool's context and waits for in-flight handlers to
// drain.
func (p *workerPool) stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
