// ============================================================================
// claimd CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra front end for the claim engine
//
// Command Structure:
//   claimd                         # Root command
//   ├── generate                   # Produce a genesis or build-upon claim
//   ├── verify                     # Check claim files (computation / da / both)
//   ├── probe                      # Report availability of content references
//   ├── put                        # Add files to the content store
//   ├── merkle-cache               # Serve the Merkle-root cache over gRPC
//   ├── status                     # Show the effective configuration
//   ├── --config, -c               # Config file (default: configs/default.yaml)
//   └── --version                  # Display version information
//
// Every command loads the config, builds one engine (store, executor,
// prober, merkle-cache dispatcher, metrics), runs, then closes the engine.
// Closing waits for Merkle-root writes still in flight.
//
// Examples:
//   ./claimd put app.img court.img input.bin state.squashfs
//   ./claimd generate --app <cid> --court <cid> --input <cid> --state <cid> -o claim.json
//   ./claimd generate --prev claim.json --input <cid> -o next.json
//   ./claimd verify --mode both claim.json next.json
//
// Signal Handling:
//   SIGINT / SIGTERM cancel the running command's context. merkle-cache
//   stops its gRPC server gracefully.
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/claim-engine/internal/availability"
	"github.com/ChuLiYu/claim-engine/internal/claim"
	"github.com/ChuLiYu/claim-engine/internal/claimfile"
	"github.com/ChuLiYu/claim-engine/internal/dag"
	"github.com/ChuLiYu/claim-engine/internal/server"
	"github.com/ChuLiYu/claim-engine/internal/store"
	"github.com/ChuLiYu/claim-engine/internal/worker"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// ErrRejected is returned by verify when any claim was not accepted.
var ErrRejected = errors.New("claims rejected")

// BuildCLI returns the claimd root command.
func BuildCLI() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "claimd",
		Short: "claimd: generate and verify off-chain computation claims",
		Long: `claimd runs the claim engine of an optimistic computation network:
- builds the pre-state and governance DAGs for a task
- executes the task and emits a signed-ready claim
- re-executes claims to check computation validity
- probes claimed artifacts to check data availability`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildGenerateCommand(&configFile))
	rootCmd.AddCommand(buildVerifyCommand(&configFile))
	rootCmd.AddCommand(buildProbeCommand(&configFile))
	rootCmd.AddCommand(buildPutCommand(&configFile))
	rootCmd.AddCommand(buildMerkleCacheCommand(&configFile))
	rootCmd.AddCommand(buildStatusCommand(&configFile))

	return rootCmd
}

// withEngine loads the config, runs fn with a fresh engine and closes it.
func withEngine(cmd *cobra.Command, configFile string, fn func(ctx context.Context, e *engine) error) (err error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	e, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close engine: %w", cerr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, e)
}

func buildGenerateCommand(configFile *string) *cobra.Command {
	var (
		taskFile string
		task     claim.Task
		fakeIt   int
		prevFile string
		preCID   string
		rootCID  string
		nonce    string
		outFile  string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a claim for a task",
		Long: `Generate a genesis claim, or a build-upon claim when --prev or --pre is given.
Artifact references are a CID or "<cid>/<path>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := claim.Task{}
			if taskFile != "" {
				data, err := os.ReadFile(taskFile)
				if err != nil {
					return fmt.Errorf("failed to read task file: %w", err)
				}
				if err := yaml.Unmarshal(data, &t); err != nil {
					return fmt.Errorf("failed to parse task file: %w", err)
				}
			}
			mergeTaskFlags(cmd, &t, task)
			if cmd.Flags().Changed("fake-it") {
				code := fakeIt
				t.FakeReturnCode = &code
			}

			var prior *claim.BuildUpon
			if prevFile != "" {
				prev, err := claimfile.New(prevFile).Load()
				if err != nil {
					return err
				}
				prior = &claim.BuildUpon{PreCID: prev.ClaimCID, RootCID: prev.RootCID}
			}
			if preCID != "" || rootCID != "" || nonce != "" {
				if prior == nil {
					prior = &claim.BuildUpon{}
				}
				if preCID != "" {
					prior.PreCID = types.ContentID(preCID)
				}
				if rootCID != "" {
					prior.RootCID = types.ContentID(rootCID)
				}
				if nonce != "" {
					n, err := types.ParseHex(nonce)
					if err != nil {
						return fmt.Errorf("invalid --nonce: %w", err)
					}
					prior.Nonce = n
				}
			}
			// A build-upon task reuses the prior claim's governance by default.
			if prior != nil {
				if t.App == "" {
					t.App = prior.PreCID.Join(dag.LinkGov + "/" + dag.LinkApp)
				}
				if t.Court == "" {
					t.Court = prior.PreCID.Join(dag.LinkGov + "/" + dag.LinkCourt)
				}
			}

			return withEngine(cmd, *configFile, func(ctx context.Context, e *engine) error {
				gen := e.generator()
				cache := availability.NewCache()

				var (
					msg *types.ClaimMessage
					err error
				)
				if prior == nil {
					msg, err = gen.GenerateGenesisClaim(ctx, t, cache)
				} else {
					msg, err = gen.GenerateBuildUponClaim(ctx, t, *prior, cache)
				}
				if err != nil {
					return err
				}

				if outFile != "" {
					if err := claimfile.New(outFile).Write(msg); err != nil {
						return err
					}
					e.logger.Info().Str("file", outFile).Msg("claim written")
				}
				return printJSON(cmd.OutOrStdout(), msg)
			})
		},
	}

	cmd.Flags().StringVar(&taskFile, "task", "", "YAML task file; flags override its fields")
	cmd.Flags().StringVar(&task.App, "app", "", "application image reference")
	cmd.Flags().StringVar(&task.Court, "court", "", "court image reference")
	cmd.Flags().StringVar(&task.Input, "input", "", "input reference")
	cmd.Flags().StringVar(&task.State, "state", "", "prior state reference (build-upon defaults to <pre>/state.squashfs)")
	cmd.Flags().BoolVar(&task.VerifyKeccak, "verify-keccak", false, "ask the executor to check input keccak256")
	cmd.Flags().Uint64Var(&task.MaxCycles, "max-cycles", 0, "cycle limit recorded in the claim")
	cmd.Flags().StringVar(&task.SubmitterAddress, "submitter", "", "submitter address recorded in the claim")
	cmd.Flags().IntVar(&fakeIt, "fake-it", 0, "make the executor return this code without running")
	cmd.Flags().StringVar(&prevFile, "prev", "", "claim file to build upon")
	cmd.Flags().StringVar(&preCID, "pre", "", "claim CID to build upon")
	cmd.Flags().StringVar(&rootCID, "root", "", "root CID carried by a build-upon claim")
	cmd.Flags().StringVar(&nonce, "nonce", "", "hex nonce for a build-upon claim (default: stored on --pre)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the claim to this file")

	return cmd
}

func mergeTaskFlags(cmd *cobra.Command, dst *claim.Task, src claim.Task) {
	changed := cmd.Flags().Changed
	if changed("app") {
		dst.App = src.App
	}
	if changed("court") {
		dst.Court = src.Court
	}
	if changed("input") {
		dst.Input = src.Input
	}
	if changed("state") {
		dst.State = src.State
	}
	if changed("verify-keccak") {
		dst.VerifyKeccak = src.VerifyKeccak
	}
	if changed("max-cycles") {
		dst.MaxCycles = src.MaxCycles
	}
	if changed("submitter") {
		dst.SubmitterAddress = src.SubmitterAddress
	}
}

func buildVerifyCommand(configFile *string) *cobra.Command {
	var modeFlag string
	var workers int

	cmd := &cobra.Command{
		Use:   "verify <claim.json>...",
		Short: "Verify claim files",
		Long:  "Verify computation validity, data availability, or both, for each claim file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := worker.ParseMode(modeFlag)
			if err != nil {
				return err
			}

			return withEngine(cmd, *configFile, func(ctx context.Context, e *engine) error {
				tasks := make([]worker.Task, 0, len(args))
				for _, path := range args {
					c, err := claimfile.New(path).Load()
					if err != nil {
						return err
					}
					tasks = append(tasks, worker.Task{
						ID:      path,
						Claim:   c,
						Mode:    mode,
						Timeout: e.cfg.Verifier.TaskTimeout,
					})
				}

				n := e.cfg.Verifier.Workers
				if cmd.Flags().Changed("workers") {
					n = workers
				}
				pool := worker.NewPool(e.verifier(), availability.NewCache(), len(tasks), e.logger)
				if err := pool.Start(n); err != nil {
					return err
				}
				defer pool.Stop()

				results, err := pool.VerifyAll(ctx, tasks)
				if err != nil {
					return err
				}
				return reportResults(cmd.OutOrStdout(), results)
			})
		},
	}

	cmd.Flags().StringVar(&modeFlag, "mode", string(worker.ModeBoth), "checks to run: computation, da, both")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent verifications (default: verifier.workers)")

	return cmd
}

func reportResults(w io.Writer, results []worker.Result) error {
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })

	rejected := 0
	for _, r := range results {
		verdict := "ACCEPT"
		switch {
		case r.Error != nil:
			verdict = "ERROR"
		case !r.Accepted():
			verdict = "REJECT"
		}
		if verdict != "ACCEPT" {
			rejected++
		}

		fmt.Fprintf(w, "%-6s %s", verdict, r.ID)
		if r.Computation != nil {
			fmt.Fprintf(w, " computation=%t", *r.Computation)
		}
		if r.DataAvailability != nil {
			fmt.Fprintf(w, " da=%t", *r.DataAvailability)
		}
		if r.Error != nil {
			fmt.Fprintf(w, " error=%q", r.Error.Error())
		}
		fmt.Fprintf(w, " (%s)\n", r.Duration.Round(time.Millisecond))
	}

	if rejected > 0 {
		return fmt.Errorf("%w: %d of %d", ErrRejected, rejected, len(results))
	}
	return nil
}

func buildProbeCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <ref>...",
		Short: "Probe the availability of content references",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, *configFile, func(ctx context.Context, e *engine) error {
				cache := availability.NewCache()
				report := make(map[string]types.AvailabilityInfo, len(args))
				for _, ref := range args {
					id, err := store.ResolveRef(ctx, e.store, ref)
					if err != nil {
						return fmt.Errorf("resolve %s: %w", ref, err)
					}
					info, err := e.probes.Probe(ctx, id, id.String(), cache)
					if err != nil {
						return err
					}
					report[ref] = info
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func buildPutCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "put <file>...",
		Short: "Add files to the content store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, *configFile, func(ctx context.Context, e *engine) error {
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("failed to read %s: %w", path, err)
					}
					id, err := e.store.PutFile(ctx, data)
					if err != nil {
						return fmt.Errorf("put %s: %w", path, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", id, path)
				}
				return nil
			})
		},
	}
}

func buildMerkleCacheCommand(configFile *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "merkle-cache",
		Short: "Serve the Merkle-root cache over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, *configFile, func(ctx context.Context, e *engine) error {
				addr := e.cfg.MerkleCache.Listen
				if listen != "" {
					addr = listen
				}
				lis, err := net.Listen("tcp", addr)
				if err != nil {
					return fmt.Errorf("failed to listen: %w", err)
				}

				grpcServer := grpc.NewServer()
				server.NewServer(e.logger).Register(grpcServer)

				errCh := make(chan error, 1)
				go func() { errCh <- grpcServer.Serve(lis) }()
				e.logger.Info().Str("addr", lis.Addr().String()).Msg("merkle cache listening")

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
					e.logger.Info().Msg("shutting down merkle cache")
					grpcServer.GracefulStop()
					return nil
				}
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: merkle_cache.listen)")
	return cmd
}

func buildStatusCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			printStatus(cmd.OutOrStdout(), *configFile, cfg)
			return nil
		},
	}
}

func printStatus(w io.Writer, path string, cfg *Config) {
	or := func(s, fallback string) string {
		if s == "" {
			return fallback
		}
		return s
	}
	storeDesc := "in-memory"
	switch {
	case cfg.Store.API != "":
		storeDesc = "kubo " + cfg.Store.API
	case cfg.Store.Dir != "":
		storeDesc = "badger " + cfg.Store.Dir
	}

	fmt.Fprintln(w, "╔════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           claimd status                ║")
	fmt.Fprintln(w, "╚════════════════════════════════════════╝")
	fmt.Fprintf(w, "Config:        %s\n", path)
	fmt.Fprintf(w, "Store:         %s\n", storeDesc)
	fmt.Fprintf(w, "Executor:      %s (timeout %s)\n", or(cfg.Executor.Command, "loopback"), cfg.Executor.Timeout)
	fmt.Fprintf(w, "Prober:        %s (timeout %s)\n", or(cfg.Prober.Command, "store"), cfg.Prober.Timeout)
	if cfg.MerkleCache.Enabled {
		fmt.Fprintf(w, "Merkle cache:  %s\n", cfg.MerkleCache.Address)
	} else {
		fmt.Fprintln(w, "Merkle cache:  disabled")
	}
	if cfg.Metrics.Enabled {
		fmt.Fprintf(w, "Metrics:       :%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Fprintln(w, "Metrics:       disabled")
	}
	fmt.Fprintf(w, "Verifier:      %d workers, task timeout %s\n", cfg.Verifier.Workers, cfg.Verifier.TaskTimeout)
	fmt.Fprintf(w, "Log:           %s (%s)\n", cfg.Log.Level, cfg.Log.Format)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
