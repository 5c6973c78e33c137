package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/claim-engine/internal/merklecache"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// MerkleRootCacheServer is the service interface behind CacheMerkleRootHash.
type MerkleRootCacheServer interface {
	CacheMerkleRootHash(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// Server is an in-memory Merkle-root cache side-service.
type Server struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[entryKey]*Entry
}

type entryKey struct {
	path     string
	log2Size int
}

// Entry is one cached root.
type Entry struct {
	Path     string
	Log2Size int
	Root     types.HexBytes
	LastSeen time.Time
}

var _ MerkleRootCacheServer = (*Server)(nil)

// NewServer creates an empty cache server.
func NewServer(logger zerolog.Logger) *Server {
	return &Server{
		logger:  logger.With().Str("component", "merkle-cache-server").Logger(),
		entries: make(map[entryKey]*Entry),
	}
}

// Register attaches the service to a gRPC server.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

// CacheMerkleRootHash stores a root for (path, log2_size). A later write for
// the same key replaces the root; roots are content-derived, so they agree.
func (s *Server) CacheMerkleRootHash(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fields := req.GetFields()

	path := fields["path"].GetStringValue()
	if path == "" {
		return nil, status.Error(codes.InvalidArgument, "path is required")
	}
	log2v, ok := fields["log2_size"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "log2_size is required")
	}
	log2Size := int(log2v.GetNumberValue())
	if float64(log2Size) != log2v.GetNumberValue() || log2Size < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "log2_size %v is not a non-negative integer", log2v.GetNumberValue())
	}
	root, err := types.ParseHex(fields["root_hash"].GetStringValue())
	if err != nil || len(root) == 0 {
		return nil, status.Error(codes.InvalidArgument, "root_hash must be non-empty hex")
	}

	s.mu.Lock()
	s.entries[entryKey{path, log2Size}] = &Entry{
		Path:     path,
		Log2Size: log2Size,
		Root:     root,
		LastSeen: time.Now(),
	}
	s.mu.Unlock()

	s.logger.Debug().Str("path", path).Int("log2_size", log2Size).Msg("cached merkle root")
	return &emptypb.Empty{}, nil
}

// Lookup returns the cached root for (path, log2Size).
func (s *Server) Lookup(path string, log2Size int) (types.HexBytes, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryKey{path, log2Size}]
	if !ok {
		return nil, false
	}
	return e.Root, true
}

// Len returns the number of cached roots.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func cacheMerkleRootHashHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if interceptor == nil {
		return srv.(MerkleRootCacheServer).CacheMerkleRootHash(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: merklecache.CacheMerkleRootHashMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MerkleRootCacheServer).CacheMerkleRootHash(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: merklecache.ServiceName,
	HandlerType: (*MerkleRootCacheServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CacheMerkleRootHash",
			Handler:    cacheMerkleRootHashHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "merklecache.proto",
}
