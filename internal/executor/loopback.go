package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ChuLiYu/claim-engine/internal/dag"
	"github.com/ChuLiYu/claim-engine/internal/merkle"
	"github.com/ChuLiYu/claim-engine/internal/store"
)

// Loopback is an in-process reference executor. Its "program" appends the
// input to the prior state; the output file is keccak256(gov ‖ state ‖ nonce).
// It writes the new state, the output and the claim node into the store,
// exactly like an external executor would, so verifiers can resolve them.
type Loopback struct {
	store store.ContentStore
}

var _ Executor = (*Loopback)(nil)

// NewLoopback returns a Loopback executor over s.
func NewLoopback(s store.ContentStore) *Loopback {
	return &Loopback{store: s}
}

func (l *Loopback) Execute(ctx context.Context, req Request) ([]byte, error) {
	pre, err := l.store.Get(ctx, req.PreCID)
	if err != nil {
		return nil, fmt.Errorf("load pre-state: %w", err)
	}
	prevStateID, ok := pre.Link(dag.LinkState)
	if !ok {
		return nil, fmt.Errorf("pre-state %s has no %s link", req.PreCID, dag.LinkState)
	}
	prevState, err := l.store.GetFile(ctx, prevStateID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	input, err := l.store.GetFile(ctx, req.InputCID)
	if err != nil {
		return nil, fmt.Errorf("load input: %w", err)
	}
	if _, err := l.store.Resolve(ctx, req.GovCID, "/"+dag.LinkApp); err != nil {
		return nil, fmt.Errorf("load governance: %w", err)
	}

	returnCode := 0
	if req.FakeReturnCode != nil {
		returnCode = *req.FakeReturnCode
	}

	state := make([]byte, 0, len(prevState)+len(input))
	state = append(state, prevState...)
	state = append(state, input...)
	output := crypto.Keccak256([]byte(req.GovCID), state, req.Nonce)

	stateID, err := l.store.PutFile(ctx, state)
	if err != nil {
		return nil, err
	}
	outputID, err := l.store.PutFile(ctx, output)
	if err != nil {
		return nil, err
	}

	node := store.NewNode().
		AddLink(dag.LinkPrev, req.PreCID).
		AddLink(dag.LinkInput, req.InputCID).
		AddLink(dag.LinkGov, req.GovCID).
		AddLink(dag.LinkState, stateID).
		AddLink(dag.LinkOutput, outputID).
		SetField(dag.FieldNonce, req.Nonce.String())
	claimID, err := l.store.Put(ctx, node)
	if err != nil {
		return nil, err
	}

	log2 := merkle.Log2Size(int64(len(state)))
	root, err := merkle.RootHash(state, log2)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]interface{}{
		"returnCode":       returnCode,
		"claimCID":         claimID.String(),
		"stateSize":        json.Number(strconv.Itoa(len(state))),
		"log2State":        log2,
		"stateMerkle":      hexutil.Encode(root),
		"outputFileKeccak": hexutil.Encode(crypto.Keccak256(output)),
	})
}
