// ============================================================================
// Availability Prober Client
// ============================================================================
//
// Package: internal/availability
// File: client.go
// Purpose: Probe size, keccak256 and domain Merkle root of stored artifacts,
//          consulting the caller's per-pass cache first.
//
// Protocol:
//   hit  -> liveness probe (skipHash=true), result discarded, cached value returned
//   miss -> full probe, value cached, Merkle root forwarded to the root cache
//
// Concurrent misses on one ContentID share a single full probe; the callers
// that waited on it are treated as hits.
//
// Every failure wraps types.ErrAvailability and is fatal to the caller.
// Availability is never best-effort.
//
// ============================================================================

package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChuLiYu/claim-engine/internal/metrics"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// DefaultTimeout is the per-probe budget when none is configured.
const DefaultTimeout = 120 * time.Second

// Probe modes, used as metric labels.
const (
	ModeFull     = "full"
	ModeLiveness = "liveness"
)

// Prober fetches availability metadata for a content path.
// With skipHash set, only reachability matters and hashes may be omitted.
type Prober interface {
	Probe(ctx context.Context, path string, timeout time.Duration, skipHash bool) (types.AvailabilityInfo, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, path string, timeout time.Duration, skipHash bool) (types.AvailabilityInfo, error)

func (f ProberFunc) Probe(ctx context.Context, path string, timeout time.Duration, skipHash bool) (types.AvailabilityInfo, error) {
	return f(ctx, path, timeout, skipHash)
}

// RootRecorder receives newly computed Merkle roots. merklecache.Dispatcher
// implements it.
type RootRecorder interface {
	Record(path string, log2Size int, root []byte)
}

// Client probes through a Prober with deadlines, caching and metrics.
type Client struct {
	prober   Prober
	timeout  time.Duration
	recorder RootRecorder
	logger   zerolog.Logger
	metrics  *metrics.Collector
}

// NewClient returns a Client. recorder and m may be nil.
func NewClient(p Prober, timeout time.Duration, recorder RootRecorder, logger zerolog.Logger, m *metrics.Collector) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		prober:   p,
		timeout:  timeout,
		recorder: recorder,
		logger:   logger.With().Str("component", "availability").Logger(),
		metrics:  m,
	}
}

// Probe returns availability info for id, probing path. On a cache hit it only
// confirms path is still reachable.
func (c *Client) Probe(ctx context.Context, id types.ContentID, path string, cache *Cache) (types.AvailabilityInfo, error) {
	if path == "" {
		path = id.String()
	}

	if cached, ok := cache.Load(id); ok {
		return c.confirm(ctx, path, cached)
	}

	info, leader, err := cache.once(id, func() (types.AvailabilityInfo, error) {
		if cached, ok := cache.Load(id); ok {
			return cached, nil
		}
		info, err := c.call(ctx, path, false)
		if err != nil {
			return types.AvailabilityInfo{}, err
		}
		if _, err := info.SizeInt(); err != nil {
			return types.AvailabilityInfo{}, fmt.Errorf("%w: %s: %v", types.ErrAvailability, path, err)
		}
		actual, loaded := cache.LoadOrStore(id, info)
		if !loaded && c.recorder != nil {
			c.recorder.Record(path, info.Log2Size, info.MerkleRoot)
		}
		return actual, nil
	})
	if err != nil {
		return types.AvailabilityInfo{}, err
	}
	if !leader {
		// Another caller ran the full probe for id; this path still has to be reachable.
		return c.confirm(ctx, path, info)
	}
	return info, nil
}

// confirm runs a liveness probe of path and returns the cached value.
func (c *Client) confirm(ctx context.Context, path string, cached types.AvailabilityInfo) (types.AvailabilityInfo, error) {
	c.metrics.RecordProbeCacheHit()
	if _, err := c.call(ctx, path, true); err != nil {
		return types.AvailabilityInfo{}, err
	}
	return cached, nil
}

func (c *Client) call(ctx context.Context, path string, skipHash bool) (types.AvailabilityInfo, error) {
	mode := ModeFull
	if skipHash {
		mode = ModeLiveness
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	info, err := c.prober.Probe(ctx, path, c.timeout, skipHash)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	c.metrics.RecordProbe(mode, time.Since(start).Seconds(), err)
	if err != nil {
		c.logger.Error().Err(err).Str("path", path).Str("mode", mode).Msg("probe failed")
		return types.AvailabilityInfo{}, fmt.Errorf("%w: %s: %v", types.ErrAvailability, path, err)
	}

	c.logger.Debug().
		Str("path", path).
		Str("mode", mode).
		Str("size", info.Size).
		Int("log2", info.Log2Size).
		Dur("took", time.Since(start)).
		Msg("probe finished")
	return info, nil
}
