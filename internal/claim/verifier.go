package claim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/claim-engine/internal/availability"
	"github.com/ChuLiYu/claim-engine/internal/dag"
	"github.com/ChuLiYu/claim-engine/internal/executor"
	"github.com/ChuLiYu/claim-engine/internal/metrics"
	"github.com/ChuLiYu/claim-engine/internal/store"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// Verifier checks claims made by other nodes.
type Verifier struct {
	store   store.ContentStore
	exec    *executor.Client
	probes  *availability.Client
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewVerifier wires a Verifier. m may be nil.
func NewVerifier(s store.ContentStore, exec *executor.Client, probes *availability.Client, logger zerolog.Logger, m *metrics.Collector) *Verifier {
	return &Verifier{
		store:   s,
		exec:    exec,
		probes:  probes,
		logger:  logger.With().Str("component", "verifier").Logger(),
		metrics: m,
	}
}

// VerifyComputation re-executes the claimed task and accepts iff the claim
// CID and return code both match. The nonce comes from the pre-state node,
// falling back to claim.Nonce when none is stored.
//
// A claim CID that is malformed or absent from the store yields (false, nil),
// not ErrStore: such a claim is rejected. A missing pre-state node is still
// an error wrapping ErrStore.
func (v *Verifier) VerifyComputation(ctx context.Context, claim *types.ClaimMessage) (bool, error) {
	v.metrics.VerificationStarted()
	defer v.metrics.VerificationFinished()

	ok, err := v.verifyComputation(ctx, claim)
	v.metrics.RecordVerification(CheckComputation, outcome(ok, err))
	return ok, err
}

func (v *Verifier) verifyComputation(ctx context.Context, claim *types.ClaimMessage) (bool, error) {
	logger := v.logger.With().Str("check", CheckComputation).Str("claim", claim.ClaimCID.String()).Logger()

	pre, node, err := v.loadNodes(ctx, claim)
	if err != nil {
		return false, err
	}
	if node == nil {
		logger.Info().Msg("claim node not found, rejecting")
		return false, nil
	}
	if err := checkStructure(node, claim); err != nil {
		logger.Warn().Err(err).Msg("malformed claim")
		return false, err
	}
	logger.Debug().Str("gov", claim.GovCID.String()).Msg("governance node taken from claim unchecked")

	nonce, ok, err := dag.NodeNonce(pre)
	if err != nil {
		return false, fmt.Errorf("pre-state %s: %w", claim.PreCID, err)
	}
	if !ok {
		nonce = claim.Nonce
	}

	res, err := v.exec.Execute(ctx, executor.Request{
		PreCID:    claim.PreCID,
		InputCID:  claim.InputCID,
		GovCID:    claim.GovCID,
		Nonce:     nonce,
		BuildUpon: true,
	})
	if err != nil {
		return false, err
	}

	if res.ClaimCID != claim.ClaimCID || res.ReturnCode != claim.ReturnCode {
		logger.Info().
			Str("computed_claim", res.ClaimCID.String()).
			Int("computed_return_code", res.ReturnCode).
			Int("claimed_return_code", claim.ReturnCode).
			Msg("computation disagrees, rejecting")
		return false, nil
	}
	logger.Info().Msg("computation verified")
	return true, nil
}

// VerifyDataAvailability probes the four input artifacts through the claim
// node and accepts iff each matches the claim's DA entry.
func (v *Verifier) VerifyDataAvailability(ctx context.Context, claim *types.ClaimMessage, cache *availability.Cache) (bool, error) {
	v.metrics.VerificationStarted()
	defer v.metrics.VerificationFinished()

	ok, err := v.verifyDataAvailability(ctx, claim, cache)
	v.metrics.RecordVerification(CheckDA, outcome(ok, err))
	return ok, err
}

func (v *Verifier) verifyDataAvailability(ctx context.Context, claim *types.ClaimMessage, cache *availability.Cache) (bool, error) {
	logger := v.logger.With().Str("check", CheckDA).Str("claim", claim.ClaimCID.String()).Logger()

	_, node, err := v.loadNodes(ctx, claim)
	if err != nil {
		return false, err
	}
	if node == nil {
		logger.Info().Msg("claim node not found, rejecting")
		return false, nil
	}
	if err := checkStructure(node, claim); err != nil {
		logger.Warn().Err(err).Msg("malformed claim")
		return false, err
	}

	ids := make([]types.ContentID, len(ProbedPaths))
	for i, name := range ProbedPaths {
		id, err := v.store.Resolve(ctx, claim.ClaimCID, name)
		if errors.Is(err, types.ErrNotFound) {
			logger.Info().Str("artifact", name).Msg("path does not resolve, rejecting")
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("resolve %s: %w", claim.ClaimCID.Join(name), err)
		}
		ids[i] = id
	}

	observed := make([]types.AvailabilityInfo, len(ProbedPaths))
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range ProbedPaths {
		i := i
		eg.Go(func() error {
			info, err := v.probes.Probe(egCtx, ids[i], ids[i].String(), cache)
			if err != nil {
				return fmt.Errorf("probe %s: %w", ProbedPaths[i], err)
			}
			observed[i] = info
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logger.Error().Err(err).Msg("cannot verify availability")
		return false, err
	}

	for i, name := range ProbedPaths {
		got, err := types.NewClaimDatum(name, observed[i])
		if err != nil {
			return false, fmt.Errorf("%w: %s: %v", types.ErrAvailability, name, err)
		}
		if m := compareDatum(claim, got); m != nil {
			logger.Info().
				Str("artifact", m.Name).
				Str("field", m.Field).
				Str("claimed", m.Claimed).
				Str("observed", m.Observed).
				Msg("availability disagrees, rejecting")
			return false, nil
		}
	}
	logger.Info().Msg("availability verified")
	return true, nil
}

// loadNodes fetches the pre-state node, which must exist, and the claim node,
// which is nil when the claim points nowhere.
func (v *Verifier) loadNodes(ctx context.Context, claim *types.ClaimMessage) (*store.Node, *store.Node, error) {
	pre, err := v.store.Get(ctx, claim.PreCID)
	if err != nil {
		return nil, nil, fmt.Errorf("load pre-state %s: %w", claim.PreCID, err)
	}
	node, err := loadClaimNode(ctx, v.store, claim.ClaimCID)
	if err != nil {
		return nil, nil, err
	}
	return pre, node, nil
}

// compareDatum returns the first field on which the observed entry differs
// from the claim's entry of the same name. Keccak is compared only when the
// claim asserts one.
func compareDatum(claim *types.ClaimMessage, got types.ClaimDatum) *types.ArtifactMismatch {
	want, ok := claim.Datum(got.Name)
	if !ok {
		return &types.ArtifactMismatch{Name: got.Name, Field: "name", Claimed: "<absent>", Observed: got.Name}
	}
	switch {
	case want.Size != got.Size:
		return &types.ArtifactMismatch{Name: got.Name, Field: "size",
			Claimed: strconv.FormatInt(want.Size, 10), Observed: strconv.FormatInt(got.Size, 10)}
	case want.Log2Size != got.Log2Size:
		return &types.ArtifactMismatch{Name: got.Name, Field: "log2_size",
			Claimed: strconv.Itoa(want.Log2Size), Observed: strconv.Itoa(got.Log2Size)}
	case !bytes.Equal(want.MerkleRoot, got.MerkleRoot):
		return &types.ArtifactMismatch{Name: got.Name, Field: "merkle_root",
			Claimed: want.MerkleRoot.String(), Observed: got.MerkleRoot.String()}
	case len(want.Keccak256) > 0 && !bytes.Equal(want.Keccak256, got.Keccak256):
		return &types.ArtifactMismatch{Name: got.Name, Field: "keccak256",
			Claimed: want.Keccak256.String(), Observed: got.Keccak256.String()}
	}
	return nil
}

func outcome(ok bool, err error) string {
	switch {
	case err != nil:
		return metrics.OutcomeError
	case ok:
		return metrics.OutcomeAccept
	default:
		return metrics.OutcomeReject
	}
}
