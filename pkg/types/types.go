// Package types defines the domain model shared by claim generation and verification.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ipfs/go-cid"
)

// ContentID identifies an immutable artifact in the content store.
// Two ContentIDs are equal iff their referents are bit-identical.
type ContentID string

// ParseContentID validates s and returns its canonical string form.
func ParseContentID(s string) (ContentID, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidContentID, s, err)
	}
	return ContentID(c.String()), nil
}

// Cid returns the parsed go-cid representation.
func (id ContentID) Cid() (cid.Cid, error) {
	c, err := cid.Decode(string(id))
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %q: %v", ErrInvalidContentID, string(id), err)
	}
	return c, nil
}

func (id ContentID) String() string { return string(id) }

// IsZero reports whether id is unset.
func (id ContentID) IsZero() bool { return id == "" }

// Join appends a logical path (e.g. "/prev/gov/app.img") to id.
func (id ContentID) Join(path string) string {
	if path == "" {
		return string(id)
	}
	return string(id) + "/" + strings.TrimPrefix(path, "/")
}

// HexBytes is a byte slice carried as a hex string on the wire.
// Decoding accepts an optional 0x prefix.
type HexBytes []byte

func (h HexBytes) String() string { return hexutil.Encode(h) }

// Equal reports whether h and o hold the same bytes.
func (h HexBytes) Equal(o HexBytes) bool { return bytes.Equal(h, o) }

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.Encode(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hex bytes: %w", err)
	}
	b, err := ParseHex(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// ParseHex decodes a hex string with or without a 0x prefix.
func ParseHex(s string) (HexBytes, error) {
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("hex bytes %q: %w", s, err)
	}
	return b, nil
}

// AvailabilityInfo is the metadata a prober reports for one artifact.
type AvailabilityInfo struct {
	Log2Size   int      `json:"log2"`
	Keccak256  HexBytes `json:"keccak256"`
	MerkleRoot HexBytes `json:"cartesi_merkle_root"`
	Size       string   `json:"size"`
}

// SizeInt parses the decimal Size field.
func (a AvailabilityInfo) SizeInt() (int64, error) {
	n, err := strconv.ParseInt(a.Size, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("availability size %q: %w", a.Size, err)
	}
	return n, nil
}

// ClaimDatum is the comparable projection of AvailabilityInfo for one logical path.
type ClaimDatum struct {
	Name       string   `json:"name"`
	Size       int64    `json:"size"`
	Log2Size   int      `json:"log2_size"`
	Keccak256  HexBytes `json:"keccak256,omitempty"`
	MerkleRoot HexBytes `json:"merkle_root,omitempty"`
}

// NewClaimDatum tags info with the logical path name.
func NewClaimDatum(name string, info AvailabilityInfo) (ClaimDatum, error) {
	size, err := info.SizeInt()
	if err != nil {
		return ClaimDatum{}, err
	}
	return ClaimDatum{
		Name:       name,
		Size:       size,
		Log2Size:   info.Log2Size,
		Keccak256:  info.Keccak256,
		MerkleRoot: info.MerkleRoot,
	}, nil
}

// ClaimMessage is the unit of agreement or dispute between nodes.
type ClaimMessage struct {
	PreCID           ContentID    `json:"pre_cid"`
	RootCID          ContentID    `json:"root_cid"`
	ClaimCID         ContentID    `json:"claim_cid"`
	InputCID         ContentID    `json:"input_cid"`
	GovCID           ContentID    `json:"gov_cid"`
	Nonce            HexBytes     `json:"nonce"`
	DAInfo           []ClaimDatum `json:"da_info"`
	ReturnCode       int          `json:"return_code"`
	MaxCycles        uint64       `json:"max_cycles"`
	ClaimerPublicKey HexBytes     `json:"claimer_public_key,omitempty"`
	SubmitterAddress string       `json:"submitter_address,omitempty"`
}

// Datum returns the DA entry named name.
func (c *ClaimMessage) Datum(name string) (ClaimDatum, bool) {
	for _, d := range c.DAInfo {
		if d.Name == name {
			return d, true
		}
	}
	return ClaimDatum{}, false
}

// TaskResult is the structured output of one executor run.
type TaskResult struct {
	ReturnCode      int
	ClaimCID        ContentID
	StateSize       int64
	Log2State       int
	StateMerkleRoot HexBytes
	OutputKeccak    HexBytes
}
