package claimfile

// ============================================================================
// Claim files
// Purpose: persist ClaimMessages as JSON so they can be handed to verifiers.
//   1. Writes are atomic (temp file + rename); a reader never sees half a claim
//   2. Files carry a schema version checked on load
//   3. Bare ClaimMessage JSON (no envelope) is accepted on load
// ============================================================================

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// SchemaVersion is the current envelope version.
const SchemaVersion = 1

var (
	ErrCorruptedClaim      = errors.New("claim file is corrupted")
	ErrIncompatibleVersion = errors.New("claim file schema version is incompatible")
	ErrClaimNotFound       = errors.New("claim file not found")
)

// Envelope is the on-disk form of a claim.
type Envelope struct {
	SchemaVer   int                 `json:"schema_ver"`
	GeneratedAt time.Time           `json:"generated_at"`
	Claim       *types.ClaimMessage `json:"claim"`
}

// File reads and writes one claim file.
type File struct {
	path string
	mu   sync.Mutex
}

// New returns a File for path.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Exists reports whether the file is present.
func (f *File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Write atomically replaces the file with claim.
func (f *File) Write(claim *types.ClaimMessage) error {
	if claim == nil {
		return fmt.Errorf("write claim file: nil claim")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(Envelope{
		SchemaVer:   SchemaVersion,
		GeneratedAt: time.Now().UTC(),
		Claim:       claim,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal claim: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create claim directory: %w", err)
		}
	}

	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp claim file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename claim file: %w", err)
	}
	return nil
}

// Load reads the claim back.
func (f *File) Load() (*types.ClaimMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrClaimNotFound, f.path)
		}
		return nil, fmt.Errorf("failed to read claim file: %w", err)
	}
	return Decode(data)
}

// Decode parses an envelope or a bare ClaimMessage.
func Decode(data []byte) (*types.ClaimMessage, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedClaim, err)
	}

	if _, ok := probe["schema_ver"]; !ok {
		var claim types.ClaimMessage
		if err := strictUnmarshal(data, &claim); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedClaim, err)
		}
		return &claim, nil
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedClaim, err)
	}
	if env.SchemaVer != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, env.SchemaVer, SchemaVersion)
	}
	if env.Claim == nil {
		return nil, fmt.Errorf("%w: envelope has no claim", ErrCorruptedClaim)
	}
	return env.Claim, nil
}

func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
