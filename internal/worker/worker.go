// ============================================================================
// Verification Worker
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Work unit that verifies claims, each Worker runs in its own goroutine
//
// How it works:
//   1. Receive task from taskCh (blocking wait)
//   2. Run the requested checks under the task's deadline
//   3. Send the verdict to resultCh
//   4. Repeat until taskCh is closed
//
// Checks:
//   computation  re-execute and compare claimCID / returnCode
//   da           probe the four input artifacts through the claim node
//   both         computation first; DA is skipped after an error
//
// Every worker shares the pool's availability cache.
//
// ============================================================================

package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChuLiYu/claim-engine/internal/availability"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// Checker runs the verification protocols. claim.Verifier implements it.
type Checker interface {
	VerifyComputation(ctx context.Context, claim *types.ClaimMessage) (bool, error)
	VerifyDataAvailability(ctx context.Context, claim *types.ClaimMessage, cache *availability.Cache) (bool, error)
}

// Worker represents a verification unit
type Worker struct {
	id       int
	checker  Checker
	cache    *availability.Cache
	taskCh   <-chan Task
	resultCh chan<- Result
	logger   zerolog.Logger
}

func newWorker(id int, checker Checker, cache *availability.Cache, taskCh <-chan Task, resultCh chan<- Result, logger zerolog.Logger) *Worker {
	return &Worker{
		id:       id,
		checker:  checker,
		cache:    cache,
		taskCh:   taskCh,
		resultCh: resultCh,
		logger:   logger.With().Int("worker", id).Logger(),
	}
}

// Run is the main loop of Worker. Results are never dropped: the caller
// must keep receiving until every submitted task is answered.
func (w *Worker) Run() {
	for task := range w.taskCh {
		start := time.Now()

		ctx, cancel := context.Background(), context.CancelFunc(func() {})
		if task.Timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		}
		result := w.execute(ctx, task)
		cancel()

		result.ID = task.ID
		result.Duration = time.Since(start)
		w.logger.Debug().
			Str("task", task.ID).
			Bool("accepted", result.Accepted()).
			Dur("took", result.Duration).
			Msg("verification finished")
		w.resultCh <- result
	}
}

func (w *Worker) execute(ctx context.Context, task Task) Result {
	var res Result
	if task.Claim == nil {
		res.Error = ErrNilClaim
		return res
	}

	if task.Mode == ModeComputation || task.Mode == ModeBoth {
		ok, err := w.checker.VerifyComputation(ctx, task.Claim)
		if err != nil {
			res.Error = err
			return res
		}
		res.Computation = &ok
	}
	if task.Mode == ModeDA || task.Mode == ModeBoth {
		ok, err := w.checker.VerifyDataAvailability(ctx, task.Claim, w.cache)
		if err != nil {
			res.Error = err
			return res
		}
		res.DataAvailability = &ok
	}
	if res.Computation == nil && res.DataAvailability == nil {
		res.Error = ErrUnknownMode
	}
	return res
}
