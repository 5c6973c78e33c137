package types

import (
	"encoding/json"
	"errors"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentID(t *testing.T) {
	id, err := ParseContentID("bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku")
	require.NoError(t, err)
	assert.Equal(t, "bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku", id.String())

	_, err = ParseContentID("Qclaim1")
	assert.True(t, errors.Is(err, ErrInvalidContentID))
}

func TestContentIDJoin(t *testing.T) {
	id := ContentID("bafyroot")
	assert.Equal(t, "bafyroot/prev/gov/app.img", id.Join("/prev/gov/app.img"))
	assert.Equal(t, "bafyroot/input", id.Join("input"))
	assert.Equal(t, "bafyroot", id.Join(""))
}

func TestHexBytesAcceptsOptionalPrefix(t *testing.T) {
	var a, b HexBytes
	require.NoError(t, json.Unmarshal([]byte(`"0xdeadbeef"`), &a))
	require.NoError(t, json.Unmarshal([]byte(`"deadbeef"`), &b))
	assert.True(t, a.Equal(b))

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"0xdeadbeef"`, string(out))

	var bad HexBytes
	assert.Error(t, json.Unmarshal([]byte(`"0xzz"`), &bad))
}

func TestNewClaimDatum(t *testing.T) {
	d, err := NewClaimDatum("/input", AvailabilityInfo{Log2Size: 10, Size: "1000", Keccak256: HexBytes{1}, MerkleRoot: HexBytes{2}})
	require.NoError(t, err)
	assert.Equal(t, ClaimDatum{Name: "/input", Size: 1000, Log2Size: 10, Keccak256: HexBytes{1}, MerkleRoot: HexBytes{2}}, d)

	_, err = NewClaimDatum("/input", AvailabilityInfo{Size: "lots"})
	assert.Error(t, err)
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, errors.Is(ErrNotFound, ErrStore))

	var err error = &ReturnCodeMismatchError{Expected: 0, Actual: 3}
	assert.True(t, errors.Is(err, ErrReturnCodeMismatch))
	assert.Contains(t, err.Error(), "expected 0, got 3")

	err = &StructuralMismatchError{Link: "prev", Expected: "a", Actual: "b"}
	assert.True(t, errors.Is(err, ErrStructuralMismatch))
}

func TestClaimMessageDatum(t *testing.T) {
	claim := ClaimMessage{DAInfo: []ClaimDatum{{Name: "/input", Size: 1}, {Name: "/output.file"}}}
	d, ok := claim.Datum("/input")
	require.True(t, ok)
	assert.Equal(t, int64(1), d.Size)
	_, ok = claim.Datum("/state.squashfs")
	assert.False(t, ok)
}

// Only types.go carries the package doc; file banners sit above the package clause.
func TestFileBannersPrecedePackageClause(t *testing.T) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "errors.go", nil, parser.ParseComments|parser.ImportsOnly)
	require.NoError(t, err)
	require.NotEmpty(t, f.Comments)

	assert.Nil(t, f.Doc, "errors.go must not carry a package doc")
	for _, group := range f.Comments {
		assert.Less(t, group.Pos(), f.Package, "comment at %s", fset.Position(group.Pos()))
	}
}
