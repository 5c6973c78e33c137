// ============================================================================
// Claim Engine
// ============================================================================
//
// Package: internal/claim
// Purpose: Generate claims and verify other nodes' claims.
//
// Files:
//   claim.go      shared types, DA path table, structural checks
//   generator.go  GenerateGenesisClaim / GenerateBuildUponClaim
//   verifier.go   VerifyComputation / VerifyDataAvailability
//
// Claim layout as seen from the claim node (claimCID):
//
//   /input                  task input
//   /prev/state.squashfs    state the task started from
//   /prev/gov/app.img       application image
//   /prev/gov/court.img     court image
//   /state.squashfs         state after execution   (synthetic DA entry)
//   /output.file            task output             (synthetic DA entry)
//
// Outcomes:
//   Generation returns a complete ClaimMessage or an error. Verification
//   returns false for protocol-level disagreement and an error only for
//   infrastructure failures or malformed claims.
//
// ============================================================================

package claim

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChuLiYu/claim-engine/internal/dag"
	"github.com/ChuLiYu/claim-engine/internal/store"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// DA entry names, relative to the claim node.
const (
	PathInput      = "/" + dag.LinkInput
	PathPrevState  = "/" + dag.LinkPrev + "/" + dag.LinkState
	PathApp        = "/" + dag.LinkPrev + "/" + dag.LinkGov + "/" + dag.LinkApp
	PathCourt      = "/" + dag.LinkPrev + "/" + dag.LinkGov + "/" + dag.LinkCourt
	PathState      = "/" + dag.LinkState
	PathOutputFile = "/" + dag.LinkOutput
)

// ProbedPaths are the artifacts probed on generation and verification, in
// the order their DA entries are emitted.
var ProbedPaths = []string{PathInput, PathPrevState, PathApp, PathCourt}

// Check names, used as metric labels.
const (
	CheckComputation = "computation"
	CheckDA          = "da"
)

// Task describes one unit of work. Artifact fields are content references,
// either a bare ContentID or "<cid>/<path>".
type Task struct {
	App   string `json:"app" yaml:"app"`
	Court string `json:"court" yaml:"court"`
	Input string `json:"input" yaml:"input"`
	// State is the prior state. Build-upon claims default it to the
	// previous claim's state.squashfs.
	State string `json:"state,omitempty" yaml:"state"`

	FakeReturnCode *int `json:"fake_return_code,omitempty" yaml:"fake_return_code"`
	VerifyKeccak   bool `json:"verify_keccak,omitempty" yaml:"verify_keccak"`

	MaxCycles        uint64         `json:"max_cycles,omitempty" yaml:"max_cycles"`
	ClaimerPublicKey types.HexBytes `json:"claimer_public_key,omitempty" yaml:"-"`
	SubmitterAddress string         `json:"submitter_address,omitempty" yaml:"submitter_address"`
}

// BuildUpon names the prior claim a new claim extends.
type BuildUpon struct {
	// PreCID is the prior claim's node; it plays the pre-state role.
	PreCID types.ContentID
	// RootCID is carried into the new claim unchanged.
	RootCID types.ContentID
	// Nonce defaults to the nonce stored on PreCID.
	Nonce types.HexBytes
}

// loadClaimNode fetches the claim node. A claimCID that is malformed or
// absent from the store yields (nil, nil): such a claim is simply wrong.
func loadClaimNode(ctx context.Context, s store.ContentStore, id types.ContentID) (*store.Node, error) {
	if _, err := id.Cid(); err != nil {
		return nil, nil
	}
	node, err := s.Get(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load claim node %s: %w", id, err)
	}
	return node, nil
}

// checkStructure confirms the claim node links back to the claim's pre-state
// and input.
func checkStructure(node *store.Node, claim *types.ClaimMessage) error {
	for _, want := range []struct {
		link string
		id   types.ContentID
	}{
		{dag.LinkPrev, claim.PreCID},
		{dag.LinkInput, claim.InputCID},
	} {
		got, _ := node.Link(want.link)
		if got != want.id {
			return &types.StructuralMismatchError{Link: want.link, Expected: want.id, Actual: got}
		}
	}
	return nil
}
