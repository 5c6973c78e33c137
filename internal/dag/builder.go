// ============================================================================
// DAG Builder
// ============================================================================
//
// Package: internal/dag
// File: builder.go
// Purpose: Build the content-addressed nodes a task runs against.
//
// Layout:
//
//   gov node              pre-state node (genesis only)
//   ├── app.img           ├── input
//   └── court.img         ├── state.squashfs
//                         ├── gov
//                         └── nonce (inline, hex)
//
// Build-upon claims skip the pre-state node: the previous claim node plays
// that role and already links prev/input/gov/state.squashfs.
//
// Store failures are returned as-is (wrapping types.ErrStore) and never
// retried here: a re-put after partial failure may leave pins diverged.
//
// ============================================================================

package dag

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/ChuLiYu/claim-engine/internal/store"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// Link and field names shared with the executor.
const (
	LinkApp    = "app.img"
	LinkCourt  = "court.img"
	LinkInput  = "input"
	LinkState  = "state.squashfs"
	LinkGov    = "gov"
	LinkPrev   = "prev"
	LinkOutput = "output.file"
	FieldNonce = "nonce"

	// NonceSize is the number of random bytes in a genesis nonce.
	NonceSize = 32
)

// NewNonce returns NonceSize fresh random bytes.
func NewNonce() (types.HexBytes, error) {
	b := make([]byte, NonceSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return b, nil
}

// BuildGovernanceNode stores the node linking the application and court images.
func BuildGovernanceNode(ctx context.Context, s store.ContentStore, appCID, courtCID types.ContentID) (types.ContentID, error) {
	node := store.NewNode().
		AddLink(LinkApp, appCID).
		AddLink(LinkCourt, courtCID)
	id, err := s.Put(ctx, node)
	if err != nil {
		return "", fmt.Errorf("build governance node: %w", err)
	}
	return id, nil
}

// BuildPreStateNode stores the genesis pre-state node.
func BuildPreStateNode(ctx context.Context, s store.ContentStore, inputCID, stateCID, govCID types.ContentID, nonce types.HexBytes) (types.ContentID, error) {
	if len(nonce) == 0 {
		return "", fmt.Errorf("build pre-state node: empty nonce")
	}
	node := store.NewNode().
		AddLink(LinkInput, inputCID).
		AddLink(LinkState, stateCID).
		AddLink(LinkGov, govCID).
		SetField(FieldNonce, nonce.String())
	id, err := s.Put(ctx, node)
	if err != nil {
		return "", fmt.Errorf("build pre-state node: %w", err)
	}
	return id, nil
}

// NodeNonce reads the hex nonce stored inline on node, if any.
func NodeNonce(node *store.Node) (types.HexBytes, bool, error) {
	raw, ok := node.Field(FieldNonce)
	if !ok || raw == "" {
		return nil, false, nil
	}
	nonce, err := types.ParseHex(raw)
	if err != nil {
		return nil, true, fmt.Errorf("nonce field: %w", err)
	}
	return nonce, true, nil
}
