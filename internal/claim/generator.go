package claim

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/claim-engine/internal/availability"
	"github.com/ChuLiYu/claim-engine/internal/dag"
	"github.com/ChuLiYu/claim-engine/internal/executor"
	"github.com/ChuLiYu/claim-engine/internal/metrics"
	"github.com/ChuLiYu/claim-engine/internal/store"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// Claim kinds, used as metric labels.
const (
	KindGenesis   = "genesis"
	KindBuildUpon = "build_upon"
)

// Generator produces claims.
type Generator struct {
	store    store.ContentStore
	exec     *executor.Client
	probes   *availability.Client
	recorder availability.RootRecorder
	logger   zerolog.Logger
	metrics  *metrics.Collector
}

// NewGenerator wires a Generator. recorder and m may be nil.
func NewGenerator(s store.ContentStore, exec *executor.Client, probes *availability.Client, recorder availability.RootRecorder, logger zerolog.Logger, m *metrics.Collector) *Generator {
	return &Generator{
		store:    s,
		exec:     exec,
		probes:   probes,
		recorder: recorder,
		logger:   logger.With().Str("component", "generator").Logger(),
		metrics:  m,
	}
}

// GenerateGenesisClaim builds a fresh pre-state with a new nonce and claims
// the result of running task against it.
func (g *Generator) GenerateGenesisClaim(ctx context.Context, task Task, cache *availability.Cache) (*types.ClaimMessage, error) {
	return g.generate(ctx, task, nil, cache)
}

// GenerateBuildUponClaim claims the result of running task on top of a prior claim.
func (g *Generator) GenerateBuildUponClaim(ctx context.Context, task Task, prior BuildUpon, cache *availability.Cache) (*types.ClaimMessage, error) {
	if prior.PreCID.IsZero() {
		return nil, fmt.Errorf("build upon: pre CID is required")
	}
	if task.State == "" {
		task.State = prior.PreCID.Join(PathState)
	}
	return g.generate(ctx, task, &prior, cache)
}

// artifact is one probed input of the task.
type artifact struct {
	name string
	ref  string
	id   types.ContentID
	info types.AvailabilityInfo
}

func (g *Generator) generate(ctx context.Context, task Task, prior *BuildUpon, cache *availability.Cache) (*types.ClaimMessage, error) {
	kind := KindGenesis
	if prior != nil {
		kind = KindBuildUpon
	}
	logger := g.logger.With().Str("kind", kind).Logger()

	msg, reason, err := g.run(ctx, logger, task, prior, cache)
	if err != nil {
		g.metrics.RecordGenerationFailure(reason)
		logger.Error().Err(err).Str("reason", reason).Msg("claim generation failed")
		return nil, err
	}
	g.metrics.RecordClaimGenerated(kind)
	logger.Info().
		Str("claim", msg.ClaimCID.String()).
		Str("pre", msg.PreCID.String()).
		Int("da_entries", len(msg.DAInfo)).
		Msg("claim generated")
	return msg, nil
}

// run returns the claim, or a failure reason label and the error.
func (g *Generator) run(ctx context.Context, logger zerolog.Logger, task Task, prior *BuildUpon, cache *availability.Cache) (*types.ClaimMessage, string, error) {
	artifacts := []*artifact{
		{name: PathInput, ref: task.Input},
		{name: PathPrevState, ref: task.State},
		{name: PathApp, ref: task.App},
		{name: PathCourt, ref: task.Court},
	}
	for _, a := range artifacts {
		if a.ref == "" {
			return nil, "task", fmt.Errorf("task has no reference for %s", a.name)
		}
		id, err := store.ResolveRef(ctx, g.store, a.ref)
		if err != nil {
			return nil, "store", fmt.Errorf("resolve %s (%s): %w", a.name, a.ref, err)
		}
		a.id = id
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, a := range artifacts {
		a := a
		eg.Go(func() error {
			info, err := g.probes.Probe(egCtx, a.id, a.id.String(), cache)
			if err != nil {
				return fmt.Errorf("probe %s: %w", a.name, err)
			}
			a.info = info
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, "availability", err
	}

	byName := make(map[string]*artifact, len(artifacts))
	for _, a := range artifacts {
		byName[a.name] = a
	}
	input, state := byName[PathInput].id, byName[PathPrevState].id

	govCID, err := dag.BuildGovernanceNode(ctx, g.store, byName[PathApp].id, byName[PathCourt].id)
	if err != nil {
		return nil, "store", err
	}

	var preCID, rootCID types.ContentID
	var nonce types.HexBytes
	if prior == nil {
		if nonce, err = dag.NewNonce(); err != nil {
			return nil, "nonce", err
		}
		if preCID, err = dag.BuildPreStateNode(ctx, g.store, input, state, govCID, nonce); err != nil {
			return nil, "store", err
		}
	} else {
		preCID, rootCID, nonce = prior.PreCID, prior.RootCID, prior.Nonce
		stored, ok, err := g.storedNonce(ctx, preCID)
		if err != nil {
			return nil, "store", err
		}
		switch {
		case ok && len(nonce) > 0 && !nonce.Equal(stored):
			return nil, "nonce", fmt.Errorf("prior claim %s: %w: stored %s, supplied %s", preCID, ErrNonceMismatch, stored, nonce)
		case ok:
			nonce = stored
		case len(nonce) == 0:
			return nil, "nonce", fmt.Errorf("prior claim %s: %w", preCID, errNoNonce)
		}
	}

	req := executor.Request{
		PreCID:         preCID,
		InputCID:       input,
		GovCID:         govCID,
		Nonce:          nonce,
		BuildUpon:      prior != nil,
		FakeReturnCode: task.FakeReturnCode,
		VerifyKeccak:   task.VerifyKeccak,
	}
	res, err := g.exec.Execute(ctx, req)
	if err != nil {
		return nil, "executor", err
	}
	if res.ReturnCode != req.ExpectedReturnCode() {
		return nil, "return_code", &types.ReturnCodeMismatchError{Expected: req.ExpectedReturnCode(), Actual: res.ReturnCode}
	}
	if prior == nil {
		rootCID = res.ClaimCID
	}

	daInfo := make([]types.ClaimDatum, 0, len(artifacts)+2)
	for _, a := range artifacts {
		datum, err := types.NewClaimDatum(a.name, a.info)
		if err != nil {
			return nil, "availability", fmt.Errorf("%w: %s: %v", types.ErrAvailability, a.name, err)
		}
		daInfo = append(daInfo, datum)
	}
	daInfo = append(daInfo,
		types.ClaimDatum{
			Name:       PathState,
			Size:       res.StateSize,
			Log2Size:   res.Log2State,
			MerkleRoot: res.StateMerkleRoot,
		},
		types.ClaimDatum{
			Name:      PathOutputFile,
			Keccak256: res.OutputKeccak,
		},
	)

	// Roots are forwarded only once the claim is certain to be emitted.
	if g.recorder != nil {
		for _, d := range daInfo {
			g.recorder.Record(res.ClaimCID.Join(d.Name), d.Log2Size, d.MerkleRoot)
		}
	}

	logger.Debug().Str("gov", govCID.String()).Str("pre", preCID.String()).Msg("task executed")

	return &types.ClaimMessage{
		PreCID:           preCID,
		RootCID:          rootCID,
		ClaimCID:         res.ClaimCID,
		InputCID:         input,
		GovCID:           govCID,
		Nonce:            nonce,
		DAInfo:           daInfo,
		ReturnCode:       res.ReturnCode,
		MaxCycles:        task.MaxCycles,
		ClaimerPublicKey: task.ClaimerPublicKey,
		SubmitterAddress: task.SubmitterAddress,
	}, "", nil
}

// storedNonce reads the nonce on the prior claim node. Verification always
// re-executes with it, so it wins over a supplied one.
func (g *Generator) storedNonce(ctx context.Context, preCID types.ContentID) (types.HexBytes, bool, error) {
	pre, err := g.store.Get(ctx, preCID)
	if err != nil {
		return nil, false, fmt.Errorf("load prior claim %s: %w", preCID, err)
	}
	return dag.NodeNonce(pre)
}

var errNoNonce = errors.New("no nonce stored and none supplied")

// ErrNonceMismatch means a build-upon nonce differs from the one stored on the prior claim.
var ErrNonceMismatch = errors.New("nonce differs from the prior claim's")
