package cli

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ChuLiYu/claim-engine/internal/availability"
	"github.com/ChuLiYu/claim-engine/internal/claim"
	"github.com/ChuLiYu/claim-engine/internal/executor"
	"github.com/ChuLiYu/claim-engine/internal/merklecache"
	"github.com/ChuLiYu/claim-engine/internal/metrics"
	"github.com/ChuLiYu/claim-engine/internal/store"
)

// engine holds the clients one command invocation shares.
type engine struct {
	cfg      *Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collector

	store    store.ContentStore
	exec     *executor.Client
	probes   *availability.Client
	dispatch *merklecache.Dispatcher

	closers []io.Closer
}

func newLogger(cfg *Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(out).With().Timestamp().Logger().Level(level)
	if cfg.Log.Format == "console" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out})
	}
	return logger
}

func newEngine(cfg *Config, logger zerolog.Logger) (*engine, error) {
	e := &engine{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	e.metrics = metrics.NewCollector(e.registry)

	switch {
	case cfg.Store.API != "":
		e.store = store.NewHTTP(cfg.Store.API, &http.Client{Timeout: cfg.Store.Timeout})
	case cfg.Store.Dir != "":
		local, err := store.OpenBadger(cfg.Store.Dir)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		e.store = local
		e.closers = append(e.closers, local)
	default:
		e.store = store.NewMemory()
	}

	var exec executor.Executor = executor.NewLoopback(e.store)
	if cfg.Executor.Command != "" {
		exec = &executor.CommandExecutor{
			Path:          cfg.Executor.Command,
			Args:          cfg.Executor.Args,
			StoreEndpoint: cfg.Store.API,
			Host:          cfg.Executor.Host,
			Port:          cfg.Executor.Port,
		}
	}
	e.exec = executor.NewClient(exec, cfg.Executor.Timeout, logger, e.metrics)

	var rec merklecache.Recorder = merklecache.Nop{}
	if cfg.MerkleCache.Enabled {
		conn, err := grpc.NewClient(cfg.MerkleCache.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("connect merkle cache %s: %w", cfg.MerkleCache.Address, err)
		}
		e.closers = append(e.closers, conn)
		rec = merklecache.NewGrpcRecorder(conn)
	}
	e.dispatch = merklecache.NewDispatcher(rec, cfg.MerkleCache.Timeout, logger, e.metrics)

	var prober availability.Prober = availability.NewStoreProber(e.store)
	if cfg.Prober.Command != "" {
		prober = &availability.CommandProber{
			Path:          cfg.Prober.Command,
			Args:          cfg.Prober.Args,
			StoreEndpoint: cfg.Store.API,
		}
	}
	e.probes = availability.NewClient(prober, cfg.Prober.Timeout, e.dispatch, logger, e.metrics)

	if cfg.Metrics.Enabled {
		addr := ":" + strconv.Itoa(cfg.Metrics.Port)
		go func() {
			if err := metrics.StartServer(addr, e.registry); err != nil {
				logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
			}
		}()
		logger.Info().Str("addr", addr).Msg("serving /metrics")
	}

	return e, nil
}

func (e *engine) generator() *claim.Generator {
	return claim.NewGenerator(e.store, e.exec, e.probes, e.dispatch, e.logger, e.metrics)
}

func (e *engine) verifier() *claim.Verifier {
	return claim.NewVerifier(e.store, e.exec, e.probes, e.logger, e.metrics)
}

// Close waits for pending merkle-cache writes, then releases every resource.
func (e *engine) Close() error {
	if e.dispatch != nil {
		e.dispatch.Wait()
	}
	var result *multierror.Error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	e.closers = nil
	return result.ErrorOrNil()
}
