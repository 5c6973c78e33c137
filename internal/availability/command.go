package availability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// CommandProber runs an external prober program per probe. The program reads
// IPFS_API, TIMEOUT (seconds), IPFS_PATH and SKIP_HASH from its environment
// and prints one JSON object {log2, keccak256, cartesi_merkle_root, size}.
type CommandProber struct {
	Path          string
	Args          []string
	StoreEndpoint string
}

var _ Prober = (*CommandProber)(nil)

func (p *CommandProber) Probe(ctx context.Context, path string, timeout time.Duration, skipHash bool) (types.AvailabilityInfo, error) {
	cmd := exec.CommandContext(ctx, p.Path, p.Args...)
	cmd.Env = append(os.Environ(),
		"IPFS_API="+p.StoreEndpoint,
		"TIMEOUT="+strconv.Itoa(int(timeout/time.Second)),
		"IPFS_PATH="+path,
		"SKIP_HASH="+strconv.FormatBool(skipHash),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = "..." + msg[len(msg)-512:]
		}
		return types.AvailabilityInfo{}, fmt.Errorf("run %s: %w: %s", p.Path, err, msg)
	}
	return ParseInfo(stdout.Bytes())
}

// wireInfo accepts numbers or decimal strings for size and log2.
type wireInfo struct {
	Log2       flexInt  `json:"log2"`
	Keccak256  string   `json:"keccak256"`
	MerkleRoot string   `json:"cartesi_merkle_root"`
	Size       *flexInt `json:"size"`
}

type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %s", data)
	}
	*f = flexInt(n)
	return nil
}

// ParseInfo decodes prober output.
func ParseInfo(out []byte) (types.AvailabilityInfo, error) {
	var w wireInfo
	if err := json.Unmarshal(bytes.TrimSpace(out), &w); err != nil {
		return types.AvailabilityInfo{}, fmt.Errorf("invalid prober output: %w", err)
	}
	if w.Size == nil {
		return types.AvailabilityInfo{}, fmt.Errorf("invalid prober output: missing size")
	}
	keccak, err := types.ParseHex(w.Keccak256)
	if err != nil {
		return types.AvailabilityInfo{}, fmt.Errorf("keccak256: %w", err)
	}
	root, err := types.ParseHex(w.MerkleRoot)
	if err != nil {
		return types.AvailabilityInfo{}, fmt.Errorf("cartesi_merkle_root: %w", err)
	}
	return types.AvailabilityInfo{
		Log2Size:   int(w.Log2),
		Keccak256:  keccak,
		MerkleRoot: root,
		Size:       strconv.FormatInt(int64(*w.Size), 10),
	}, nil
}
