package merkle

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog2Size(t *testing.T) {
	cases := map[int64]int{0: 3, 1: 3, 8: 3, 9: 4, 16: 4, 17: 5, 1000: 10, 1024: 10, 1025: 11}
	for n, want := range cases {
		assert.Equal(t, want, Log2Size(n), "n=%d", n)
	}
}

func TestRootHashSingleWord(t *testing.T) {
	root, err := RootHash([]byte("abc"), 3)
	require.NoError(t, err)
	word := []byte{'a', 'b', 'c', 0, 0, 0, 0, 0}
	assert.Equal(t, crypto.Keccak256(word), root)
}

func TestRootHashPadsWithPristine(t *testing.T) {
	data := []byte("12345678")
	root, err := RootHash(data, 4)
	require.NoError(t, err)

	pristine := PristineHashes(4)
	assert.Equal(t, crypto.Keccak256(crypto.Keccak256(data), pristine[0]), root)
}

func TestRootHashEmptyIsPristine(t *testing.T) {
	root, err := RootHash(nil, 6)
	require.NoError(t, err)
	assert.Equal(t, PristineHashes(6)[3], root)

	zeros, err := RootHash(make([]byte, 64), 6)
	require.NoError(t, err)
	assert.Equal(t, root, zeros, "explicit zeros hash like absent data")
}

func TestRootHashRejectsOversize(t *testing.T) {
	_, err := RootHash(make([]byte, 17), 4)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = RootHash(nil, 2)
	assert.Error(t, err)
}

func TestRootHashGrowingTreeChangesRoot(t *testing.T) {
	data := []byte("some state bytes")
	a, err := RootHash(data, Log2Size(int64(len(data))))
	require.NoError(t, err)
	b, err := RootHash(data, Log2Size(int64(len(data)))+1)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
