// ============================================================================
// Merkle-Root Cache Client
// ============================================================================
//
// Package: internal/merklecache
// File: recorder.go
// Purpose: Write computed domain Merkle roots to the side-service so future
//          probes of the same (path, log2Size) can skip recomputation.
//
// Wire format:
//   Unary RPC  /merklecache.MerkleRootCache/CacheMerkleRootHash
//   Request    google.protobuf.Struct {path, log2_size, root_hash (0x hex)}
//   Response   google.protobuf.Empty
//
// The cache is an optimization only. Callers go through Dispatcher, which
// never lets a failed write reach claim generation or verification.
//
// ============================================================================

package merklecache

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/claim-engine/pkg/types"
)

const (
	ServiceName = "merklecache.MerkleRootCache"
	methodName  = "CacheMerkleRootHash"

	// CacheMerkleRootHashMethod is the full RPC method name.
	CacheMerkleRootHashMethod = "/" + ServiceName + "/" + methodName
)

// Recorder writes one Merkle root to the cache.
type Recorder interface {
	RecordMerkleRoot(ctx context.Context, path string, log2Size int, root []byte) error
}

// Nop discards every write.
type Nop struct{}

func (Nop) RecordMerkleRoot(context.Context, string, int, []byte) error { return nil }

// GrpcRecorder is a Recorder for a remote side-service.
type GrpcRecorder struct {
	conn grpc.ClientConnInterface
}

var _ Recorder = (*GrpcRecorder)(nil)

// NewGrpcRecorder returns a recorder over an established connection.
func NewGrpcRecorder(conn grpc.ClientConnInterface) *GrpcRecorder {
	return &GrpcRecorder{conn: conn}
}

func (r *GrpcRecorder) RecordMerkleRoot(ctx context.Context, path string, log2Size int, root []byte) error {
	req, err := newRequest(path, log2Size, root)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrCacheWrite, err)
	}
	if err := r.conn.Invoke(ctx, CacheMerkleRootHashMethod, req, new(emptypb.Empty)); err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrCacheWrite, path, err)
	}
	return nil
}

func newRequest(path string, log2Size int, root []byte) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"path":      path,
		"log2_size": log2Size,
		"root_hash": hexutil.Encode(root),
	})
}
