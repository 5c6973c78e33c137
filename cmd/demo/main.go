// Command demo runs the whole claim lifecycle in one process: an in-memory
// store, the loopback executor, a local Merkle-root cache server, a genesis
// claim, a build-upon claim, and verification of both plus a tampered copy.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ChuLiYu/claim-engine/internal/availability"
	"github.com/ChuLiYu/claim-engine/internal/claim"
	"github.com/ChuLiYu/claim-engine/internal/executor"
	"github.com/ChuLiYu/claim-engine/internal/merklecache"
	"github.com/ChuLiYu/claim-engine/internal/server"
	"github.com/ChuLiYu/claim-engine/internal/store"
	"github.com/ChuLiYu/claim-engine/internal/worker"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().
		Output(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel)

	if err := run(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "demo failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger zerolog.Logger) error {
	// Merkle-root cache side-service
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	cacheSrv := server.NewServer(logger)
	grpcServer := grpc.NewServer()
	cacheSrv.Register(grpcServer)
	go func() { _ = grpcServer.Serve(lis) }()
	defer grpcServer.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	s := store.NewMemory()
	dispatch := merklecache.NewDispatcher(merklecache.NewGrpcRecorder(conn), 5*time.Second, logger, nil)
	execClient := executor.NewClient(executor.NewLoopback(s), time.Minute, logger, nil)
	probes := availability.NewClient(availability.NewStoreProber(s), time.Minute, dispatch, logger, nil)
	gen := claim.NewGenerator(s, execClient, probes, dispatch, logger, nil)
	ver := claim.NewVerifier(s, execClient, probes, logger, nil)

	refs := make(map[string]string)
	for name, data := range map[string][]byte{
		"app":    []byte("demo application image"),
		"court":  []byte("demo court image"),
		"input1": []byte("first batch of inputs"),
		"input2": []byte("second batch of inputs"),
		"state":  []byte("empty machine state"),
	} {
		id, err := s.PutFile(ctx, data)
		if err != nil {
			return err
		}
		refs[name] = id.String()
	}
	fmt.Println("✓ Artifacts stored")

	cache := availability.NewCache()
	task := claim.Task{App: refs["app"], Court: refs["court"], Input: refs["input1"], State: refs["state"]}
	genesis, err := gen.GenerateGenesisClaim(ctx, task, cache)
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	printClaim("Genesis claim", genesis)

	task.Input, task.State = refs["input2"], ""
	next, err := gen.GenerateBuildUponClaim(ctx, task, claim.BuildUpon{PreCID: genesis.ClaimCID, RootCID: genesis.RootCID}, cache)
	if err != nil {
		return fmt.Errorf("build upon: %w", err)
	}
	printClaim("Build-upon claim", next)

	tampered := *next
	tampered.DAInfo = append([]types.ClaimDatum(nil), next.DAInfo...)
	tampered.DAInfo[0].Size++

	pool := worker.NewPool(ver, cache, 3, logger)
	if err := pool.Start(3); err != nil {
		return err
	}
	defer pool.Stop()

	results, err := pool.VerifyAll(ctx, []worker.Task{
		{ID: "genesis", Claim: genesis, Mode: worker.ModeBoth, Timeout: time.Minute},
		{ID: "build-upon", Claim: next, Mode: worker.ModeBoth, Timeout: time.Minute},
		{ID: "tampered", Claim: &tampered, Mode: worker.ModeDA, Timeout: time.Minute},
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n📊 Verification:\n")
	for _, r := range results {
		verdict := "accepted"
		if !r.Accepted() {
			verdict = "rejected"
		}
		if r.Error != nil {
			verdict = "error: " + r.Error.Error()
		}
		fmt.Printf("  %-11s %s\n", r.ID, verdict)
	}

	dispatch.Wait()
	fmt.Printf("\n✓ Merkle-root cache holds %d roots\n", cacheSrv.Len())
	return nil
}

func printClaim(title string, c *types.ClaimMessage) {
	fmt.Printf("\n%s\n", title)
	fmt.Printf("  claim: %s\n", c.ClaimCID)
	fmt.Printf("  pre:   %s\n", c.PreCID)
	fmt.Printf("  root:  %s\n", c.RootCID)
	fmt.Printf("  nonce: %s\n", c.Nonce)
	for _, d := range c.DAInfo {
		fmt.Printf("  %-22s size=%-5d log2=%d\n", d.Name, d.Size, d.Log2Size)
	}
}
