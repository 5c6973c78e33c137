// ============================================================================
// Verification Worker Pool
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Function: Verify many independent claims concurrently
//
// Design:
//   Fixed number of Worker goroutines fed from one task channel; verdicts are
//   collected from one result channel. All workers share one availability
//   cache for the lifetime of the pool (one "pass").
//
//   ┌─────────────┐
//   │    CLI      │ --Submit()--> taskCh
//   └─────────────┘
//         ↑
//   ReceiveResult()
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh   ──→ resultCh
//   │  │Worker 3│←── taskCh
//   │  └────────┘ │
//   └─────────────┘
//
// Lifecycle:
//   NewPool() -> Start(n) -> Submit()/ReceiveResult() -> Stop()
//
// Shutdown:
//   Stop() closes stopCh before taking the write lock so Submit calls
//   blocked on a full queue return ErrPoolClosed, then closes taskCh under
//   the write lock. Submit sends under the read lock, so a send never races
//   the close.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ChuLiYu/claim-engine/internal/availability"
)

var (
	// ErrPoolClosed means the pool no longer accepts tasks.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted means Start has not been called.
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrUnknownMode means a task named no known check.
	ErrUnknownMode = errors.New("unknown verification mode")
	// ErrNilClaim means a task carried no claim.
	ErrNilClaim = errors.New("task has no claim")
)

// Pool runs verification workers
type Pool struct {
	checker Checker
	cache   *availability.Cache
	logger  zerolog.Logger

	workers  []*Worker
	taskCh   chan Task
	resultCh chan Result
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewPool creates a pool whose workers share cache. A nil cache gets a fresh one.
func NewPool(checker Checker, cache *availability.Cache, bufferSize int, logger zerolog.Logger) *Pool {
	if cache == nil {
		cache = availability.NewCache()
	}
	return &Pool{
		checker:  checker,
		cache:    cache,
		logger:   logger.With().Str("component", "worker-pool").Logger(),
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches workerCount workers.
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}
	if workerCount < 1 {
		workerCount = 1
	}

	for i := 0; i < workerCount; i++ {
		w := newWorker(i, p.checker, p.cache, p.taskCh, p.resultCh, p.logger)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run()
		}()
	}

	p.started = true
	p.logger.Debug().Int("workers", workerCount).Msg("pool started")
	return nil
}

// Submit queues a task, blocking while the queue is full.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}

	select {
	case p.taskCh <- task:
		return nil
	case <-p.stopCh:
		return ErrPoolClosed
	}
}

// ReceiveResult returns the next verdict.
func (p *Pool) ReceiveResult() (Result, error) {
	result, ok := <-p.resultCh
	if !ok {
		return Result{}, ErrPoolClosed
	}
	return result, nil
}

// VerifyAll submits tasks and collects one result per submitted task, in
// completion order. Submission stops early when ctx is done. Calls must not
// overlap with each other or with ReceiveResult.
func (p *Pool) VerifyAll(ctx context.Context, tasks []Task) ([]Result, error) {
	type outcome struct {
		n   int
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		n := 0
		for _, t := range tasks {
			if err := ctx.Err(); err != nil {
				done <- outcome{n, err}
				return
			}
			if err := p.Submit(t); err != nil {
				done <- outcome{n, err}
				return
			}
			n++
		}
		done <- outcome{n, nil}
	}()

	results := make([]Result, 0, len(tasks))
	expected := -1
	var submitErr error
	for expected < 0 || len(results) < expected {
		select {
		case o := <-done:
			expected, submitErr = o.n, o.err
		case r, ok := <-p.resultCh:
			if !ok {
				return results, ErrPoolClosed
			}
			results = append(results, r)
		}
	}
	return results, submitErr
}

// Stop closes the pool and waits for in-flight tasks. Results not yet
// received are discarded.
func (p *Pool) Stop() {
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if !started {
		return
	}

	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.taskCh)
	p.mu.Unlock()

	go func() {
		for range p.resultCh {
		}
	}()
	p.wg.Wait()
	close(p.resultCh)
}

// GetWorkerCount returns the number of workers.
func (p *Pool) GetWorkerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// IsStarted reports whether Start has been called.
func (p *Pool) IsStarted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

// Cache returns the shared availability cache.
func (p *Pool) Cache() *availability.Cache {
	return p.cache
}
