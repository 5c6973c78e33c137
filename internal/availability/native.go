package availability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ChuLiYu/claim-engine/internal/merkle"
	"github.com/ChuLiYu/claim-engine/internal/store"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// StoreProber probes artifacts in-process by fetching them from a ContentStore.
type StoreProber struct {
	store store.ContentStore
}

var _ Prober = (*StoreProber)(nil)

// NewStoreProber returns a prober over s.
func NewStoreProber(s store.ContentStore) *StoreProber {
	return &StoreProber{store: s}
}

func (p *StoreProber) Probe(ctx context.Context, path string, timeout time.Duration, skipHash bool) (types.AvailabilityInfo, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	id, err := store.ResolveRef(ctx, p.store, path)
	if err != nil {
		return types.AvailabilityInfo{}, err
	}
	data, err := p.store.GetFile(ctx, id)
	if err != nil {
		return types.AvailabilityInfo{}, err
	}

	info := types.AvailabilityInfo{
		Log2Size: merkle.Log2Size(int64(len(data))),
		Size:     strconv.Itoa(len(data)),
	}
	if skipHash {
		return info, nil
	}

	info.Keccak256 = crypto.Keccak256(data)
	root, err := merkle.RootHash(data, info.Log2Size)
	if err != nil {
		return types.AvailabilityInfo{}, fmt.Errorf("merkle root of %s: %w", path, err)
	}
	info.MerkleRoot = root
	return info, nil
}
