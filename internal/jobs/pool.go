package jobs

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when the backlog is at capacity.
	ErrQueueFull = eris.New("jobs: worker pool queue full")
	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = eris.New("jobs: worker pool stopped")
)

// Task is a unit of background work. ctx is cancelled when the pool is
// stopped without draining.
type Task func(ctx context.Context)

type queuedTask struct {
	name string
	run  Task
}

// Pool runs tasks on a fixed number of workers behind a bounded queue.
// Submit never blocks.
type Pool struct {
	queue  chan queuedTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewPool starts workers goroutines draining a queue of queueSize tasks.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan queuedTask, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		metrics.SetQueueDepth(len(p.queue))
		p.run(t)
	}
}

func (p *Pool) run(t queuedTask) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("jobs: task panicked", zap.String("task", t.name), zap.Any("panic", r))
		}
	}()
	t.run(p.ctx)
}

// Submit enqueues a task. It returns ErrQueueFull when the queue is at
// capacity and no worker is free to take it.
func (p *Pool) Submit(name string, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.queue <- queuedTask{name: name, run: t}:
		metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		metrics.IncPoolRejected()
		return eris.Wrapf(ErrQueueFull, "task %s", name)
	}
}

// QueueDepth returns the number of waiting tasks.
func (p *Pool) QueueDepth() int { return len(p.queue) }

// Stop rejects new tasks and waits for queued and running tasks to finish.
// If ctx ends first, running tasks are cancelled and Stop returns ctx's error.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return eris.Wrap(ctx.Err(), "jobs: pool stop")
	}
}
