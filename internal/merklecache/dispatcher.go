package merklecache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChuLiYu/claim-engine/internal/metrics"
)

// Dispatcher makes Recorder writes fire-and-forget: each write runs in its own
// goroutine with its own deadline, and failures are only logged and counted.
type Dispatcher struct {
	rec     Recorder
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Collector

	wg sync.WaitGroup
}

// NewDispatcher wraps rec. A zero timeout defaults to 10s.
func NewDispatcher(rec Recorder, timeout time.Duration, logger zerolog.Logger, m *metrics.Collector) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		rec:     rec,
		timeout: timeout,
		logger:  logger.With().Str("component", "merklecache").Logger(),
		metrics: m,
	}
}

// Record schedules a write and returns immediately.
func (d *Dispatcher) Record(path string, log2Size int, root []byte) {
	if len(root) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.rec.RecordMerkleRoot(ctx, path, log2Size, root); err != nil {
			d.metrics.RecordCacheWriteFailure()
			d.logger.Warn().Err(err).
				Str("path", path).
				Int("log2_size", log2Size).
				Msg("merkle root cache write failed")
			return
		}
		d.logger.Debug().Str("path", path).Int("log2_size", log2Size).Msg("merkle root cached")
	}()
}

// Wait blocks until every scheduled write has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
