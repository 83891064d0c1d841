// Package scheduler implements the decode task scheduler: a
// Background < Normal < Important priority pool serving FIFO within a
// class, and a bounded-timeout shutdown drain. Three buffered channels, one
// per priority class, are served by a priority-select dispatcher. Progress
// coalescing is done by decoder.Future, not by this package.
package scheduler

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/skryldev/imgbrowser/config"
	"github.com/skryldev/imgbrowser/decoder"
)

// task pairs a runnable with its handle so the dispatcher can mark it
// started right before running it (closing the tryTake window).
type task struct {
	handle *decoder.TaskHandle
	run    func(cancel <-chan struct{})
}

// Pool is a priority-ordered decode task scheduler. It implements
// decoder.Scheduler, so a Decoder can submit work to it without either
// package importing the other's concrete type.
type Pool struct {
	log *slog.Logger

	important  chan task
	normal     chan task
	background chan task

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once

	runningMu sync.Mutex
	running   map[*decoder.TaskHandle]struct{}

	size         int
	drainTimeout time.Duration
}

// New builds a Pool sized per cfg.Decode (PoolMultiplier * NumCPU, floored
// at MinPoolSize) and starts its workers.
func New(cfg config.Config, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	size := int(cfg.Decode.PoolMultiplier * float64(runtime.NumCPU()))
	if size < cfg.Decode.MinPoolSize {
		size = cfg.Decode.MinPoolSize
	}
	if size < 2 {
		size = 2
	}

	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 256
	}
	p := &Pool{
		log:          log,
		important:    make(chan task, queue),
		normal:       make(chan task, queue),
		background:   make(chan task, queue),
		shutdown:     make(chan struct{}),
		running:      make(map[*decoder.TaskHandle]struct{}),
		size:         size,
		drainTimeout: cfg.Decode.ShutdownDrainTimeout,
	}
	if p.drainTimeout <= 0 {
		p.drainTimeout = 5 * time.Second
	}

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues run at the given priority and returns its handle. It
// satisfies decoder.Scheduler.
func (p *Pool) Submit(prio decoder.Priority, run func(cancel <-chan struct{})) *decoder.TaskHandle {
	h := decoder.NewTaskHandle()
	t := task{handle: h, run: run}
	switch prio {
	case decoder.PriorityImportant:
		p.important <- t
	case decoder.PriorityNormal:
		p.normal <- t
	default:
		p.background <- t
	}
	return h
}

// worker repeatedly serves the highest-priority ready task, FIFO within a
// class: important, then normal, then background. Non-blocking selects on
// the important and then the normal channel come first, so a lower class is
// picked up only when every higher class is empty at that moment; the final
// blocking select waits on all three.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case t := <-p.important:
			p.run(t)
			continue
		default:
		}

		select {
		case <-p.shutdown:
			return
		case t := <-p.normal:
			p.run(t)
			continue
		default:
		}

		select {
		case <-p.shutdown:
			return
		case t := <-p.important:
			p.run(t)
		case t := <-p.normal:
			p.run(t)
		case t := <-p.background:
			p.run(t)
		}
	}
}

func (p *Pool) run(t task) {
	if !t.handle.Claim() {
		// Taken by cancelOrTake between submit and pickup; nothing to run.
		return
	}
	p.runningMu.Lock()
	p.running[t.handle] = struct{}{}
	p.runningMu.Unlock()
	defer func() {
		p.runningMu.Lock()
		delete(p.running, t.handle)
		p.runningMu.Unlock()
		if r := recover(); r != nil {
			p.log.Error("scheduler: task panicked", "recover", r)
		}
	}()
	t.run(t.handle.CancelCh())
}

// Stop drains the pool with a bounded timeout, then returns. Tasks still
// running past the timeout get the cancel flag and are left to finish in the
// background, logged as leaks but not awaited.
func (p *Pool) Stop(ctx context.Context) {
	p.once.Do(func() {
		close(p.shutdown)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.drainTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		p.cancelRunning()
		p.log.Warn("scheduler: shutdown drain timed out, leaked tasks were cancelled", "timeout", p.drainTimeout)
	case <-ctx.Done():
		p.cancelRunning()
		p.log.Warn("scheduler: shutdown drain aborted by context", "err", ctx.Err())
	}
}

func (p *Pool) cancelRunning() {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()
	for h := range p.running {
		h.Cancel()
	}
}

// Len reports the number of tasks currently queued (not yet picked up),
// summed across priority classes. Intended for diagnostics/tests.
func (p *Pool) Len() int {
	return len(p.important) + len(p.normal) + len(p.background)
}

// Size reports the number of worker goroutines the pool was started with.
func (p *Pool) Size() int { return p.size }
