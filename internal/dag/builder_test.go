package dag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/claim-engine/internal/store"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

type failingStore struct{ store.ContentStore }

func (failingStore) Put(context.Context, *store.Node) (types.ContentID, error) {
	return "", types.ErrStore
}

func TestBuildGovernanceNode(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	app, _ := s.PutFile(ctx, []byte("app"))
	court, _ := s.PutFile(ctx, []byte("court"))

	gov, err := BuildGovernanceNode(ctx, s, app, court)
	require.NoError(t, err)

	node, err := s.Get(ctx, gov)
	require.NoError(t, err)
	assert.Len(t, node.Links, 2)
	got, _ := node.Link(LinkApp)
	assert.Equal(t, app, got)
	got, _ = node.Link(LinkCourt)
	assert.Equal(t, court, got)

	again, err := BuildGovernanceNode(ctx, s, app, court)
	require.NoError(t, err)
	assert.Equal(t, gov, again)
}

func TestBuildPreStateNode(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	input, _ := s.PutFile(ctx, []byte("input"))
	state, _ := s.PutFile(ctx, []byte("state"))
	app, _ := s.PutFile(ctx, []byte("app"))
	gov, err := BuildGovernanceNode(ctx, s, app, app)
	require.NoError(t, err)

	nonce, err := NewNonce()
	require.NoError(t, err)
	require.Len(t, nonce, NonceSize)

	pre, err := BuildPreStateNode(ctx, s, input, state, gov, nonce)
	require.NoError(t, err)

	node, err := s.Get(ctx, pre)
	require.NoError(t, err)
	for name, want := range map[string]types.ContentID{LinkInput: input, LinkState: state, LinkGov: gov} {
		got, ok := node.Link(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	stored, ok, err := NodeNonce(node)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, nonce.Equal(stored))

	resolved, err := s.Resolve(ctx, pre, "/gov/app.img")
	require.NoError(t, err)
	assert.Equal(t, app, resolved)
}

func TestBuildPreStateNodeRequiresNonce(t *testing.T) {
	_, err := BuildPreStateNode(context.Background(), store.NewMemory(), "a", "b", "c", nil)
	assert.Error(t, err)
}

func TestNewNonceIsFresh(t *testing.T) {
	a, err := NewNonce()
	require.NoError(t, err)
	b, err := NewNonce()
	require.NoError(t, err)
	assert.False(t, a.Equal(b))
}

func TestBuildSurfacesStoreError(t *testing.T) {
	_, err := BuildGovernanceNode(context.Background(), failingStore{}, "a", "b")
	assert.True(t, errors.Is(err, types.ErrStore))
}
