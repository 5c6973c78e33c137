package server

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/claim-engine/internal/merklecache"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

func startServer(t *testing.T) (*Server, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(zerolog.Nop())
	gs := grpc.NewServer()
	srv.Register(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func TestRecorderWritesToServer(t *testing.T) {
	srv, conn := startServer(t)
	rec := merklecache.NewGrpcRecorder(conn)

	err := rec.RecordMerkleRoot(context.Background(), "bafyclaim/state.squashfs", 12, []byte{0xde, 0xad})
	require.NoError(t, err)

	root, ok := srv.Lookup("bafyclaim/state.squashfs", 12)
	require.True(t, ok)
	assert.Equal(t, types.HexBytes{0xde, 0xad}, root)
	assert.Equal(t, 1, srv.Len())

	_, ok = srv.Lookup("bafyclaim/state.squashfs", 13)
	assert.False(t, ok, "roots are keyed by path and log2 size")
}

func TestServerRejectsInvalidRequests(t *testing.T) {
	srv := NewServer(zerolog.Nop())
	cases := map[string]map[string]interface{}{
		"no path":      {"log2_size": 3, "root_hash": "0x01"},
		"no log2":      {"path": "p", "root_hash": "0x01"},
		"fractional":   {"path": "p", "log2_size": 3.5, "root_hash": "0x01"},
		"negative":     {"path": "p", "log2_size": -1, "root_hash": "0x01"},
		"empty root":   {"path": "p", "log2_size": 3, "root_hash": ""},
		"invalid root": {"path": "p", "log2_size": 3, "root_hash": "0xzz"},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			req, err := structpb.NewStruct(fields)
			require.NoError(t, err)
			_, err = srv.CacheMerkleRootHash(context.Background(), req)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
	assert.Equal(t, 0, srv.Len())
}

func TestRecorderReportsCacheWriteError(t *testing.T) {
	_, conn := startServer(t)
	rec := merklecache.NewGrpcRecorder(conn)

	err := rec.RecordMerkleRoot(context.Background(), "", 3, []byte{1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCacheWrite))
}
