// ============================================================================
// Error taxonomy
// Purpose: classify failures so callers can tell "claim rejected" apart from
// "infrastructure failed"
// ============================================================================

package types

import (
	"errors"
	"fmt"
)

var (
	// ErrStore indicates the content store is unreachable or failed an operation.
	ErrStore = errors.New("content store error")

	// ErrNotFound indicates an artifact or link does not exist. It wraps ErrStore.
	ErrNotFound = fmt.Errorf("%w: not found", ErrStore)

	// ErrInvalidContentID indicates a string that is not a content identifier.
	ErrInvalidContentID = errors.New("invalid content id")

	// ErrExecutor indicates the executor failed to run or produced malformed output.
	ErrExecutor = errors.New("executor error")

	// ErrReturnCodeMismatch indicates the executor ran but returned an unexpected code.
	ErrReturnCodeMismatch = errors.New("return code mismatch")

	// ErrAvailability indicates a prober timeout or an unreachable artifact.
	ErrAvailability = errors.New("availability error")

	// ErrStructuralMismatch indicates a claim whose links contradict its own fields.
	ErrStructuralMismatch = errors.New("structural mismatch")

	// ErrCacheWrite indicates a failed Merkle-root cache write. Never propagated.
	ErrCacheWrite = errors.New("merkle root cache write failed")
)

// ReturnCodeMismatchError carries the expected and observed executor return codes.
type ReturnCodeMismatchError struct {
	Expected int
	Actual   int
}

func (e *ReturnCodeMismatchError) Error() string {
	return fmt.Sprintf("return code mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ReturnCodeMismatchError) Unwrap() error { return ErrReturnCodeMismatch }

// StructuralMismatchError reports a claim node link that does not match the claim.
type StructuralMismatchError struct {
	Link     string
	Expected ContentID
	Actual   ContentID
}

func (e *StructuralMismatchError) Error() string {
	return fmt.Sprintf("structural mismatch: link %q is %q, claim says %q", e.Link, e.Actual, e.Expected)
}

func (e *StructuralMismatchError) Unwrap() error { return ErrStructuralMismatch }

// ArtifactMismatch describes the first field of a DA entry that failed comparison.
type ArtifactMismatch struct {
	Name     string
	Field    string
	Claimed  string
	Observed string
}

func (m *ArtifactMismatch) Error() string {
	return fmt.Sprintf("artifact %s: %s claimed %s, observed %s", m.Name, m.Field, m.Claimed, m.Observed)
}
