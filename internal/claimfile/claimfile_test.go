package claimfile

// ============================================================================
// Claim file tests: atomic write, load, version and corruption handling
// ============================================================================

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/claim-engine/pkg/types"
)

const cidA = "bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku"

func sampleClaim() *types.ClaimMessage {
	return &types.ClaimMessage{
		PreCID:   cidA,
		RootCID:  cidA,
		ClaimCID: cidA,
		InputCID: cidA,
		GovCID:   cidA,
		Nonce:    types.HexBytes{0x01, 0x02, 0x03},
		DAInfo: []types.ClaimDatum{
			{Name: "/input", Size: 200, Log2Size: 8, Keccak256: types.HexBytes{0xaa}, MerkleRoot: types.HexBytes{0xbb}},
			{Name: "/output.file", Keccak256: types.HexBytes{0xcc}},
		},
		ReturnCode: 0,
		MaxCycles:  1 << 20,
	}
}

func TestWriteAndLoad(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "claims", "claim.json"))
	assert.False(t, f.Exists())

	require.NoError(t, f.Write(sampleClaim()))
	assert.True(t, f.Exists())

	loaded, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, sampleClaim(), loaded)

	_, err = os.Stat(f.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not be left behind")
}

func TestLoadMissing(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.json")).Load()
	assert.True(t, errors.Is(err, ErrClaimNotFound))
}

func TestLoadCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claim.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := New(path).Load()
	assert.True(t, errors.Is(err, ErrCorruptedClaim))
}

func TestLoadIncompatibleVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claim.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_ver":2,"claim":{}}`), 0o644))

	_, err := New(path).Load()
	assert.True(t, errors.Is(err, ErrIncompatibleVersion))
}

func TestDecodeBareClaim(t *testing.T) {
	claim, err := Decode([]byte(`{"pre_cid":"` + cidA + `","claim_cid":"` + cidA + `","return_code":1,"nonce":"0x0a","da_info":[]}`))
	require.NoError(t, err)
	assert.Equal(t, types.ContentID(cidA), claim.ClaimCID)
	assert.Equal(t, 1, claim.ReturnCode)
	assert.Equal(t, types.HexBytes{0x0a}, claim.Nonce)

	_, err = Decode([]byte(`{"unexpected":true}`))
	assert.True(t, errors.Is(err, ErrCorruptedClaim))

	_, err = Decode([]byte(`{"schema_ver":1}`))
	assert.True(t, errors.Is(err, ErrCorruptedClaim))
}

func TestWriteNilClaim(t *testing.T) {
	assert.Error(t, New(filepath.Join(t.TempDir(), "c.json")).Write(nil))
}

func TestConcurrentWrites(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "claim.json"))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(code int) {
			defer wg.Done()
			c := sampleClaim()
			c.ReturnCode = code
			assert.NoError(t, f.Write(c))
		}(i)
	}
	wg.Wait()

	loaded, err := f.Load()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, loaded.ReturnCode, 0)
	assert.Less(t, loaded.ReturnCode, 10)
}
