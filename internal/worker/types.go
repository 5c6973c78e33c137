package worker

import (
	"time"

	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// Mode selects which checks a task runs.
type Mode string

const (
	ModeComputation Mode = "computation"
	ModeDA          Mode = "da"
	ModeBoth        Mode = "both"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeComputation, ModeDA, ModeBoth:
		return m, nil
	}
	return "", ErrUnknownMode
}

// Task is one claim to verify.
type Task struct {
	ID      string              // claim source, e.g. a file path
	Claim   *types.ClaimMessage // claim under verification
	Mode    Mode                // checks to run
	Timeout time.Duration       // budget for all checks; zero means none
}

// Result is the verdict for one Task. A nil check pointer means the check
// did not run.
type Result struct {
	ID               string
	Computation      *bool
	DataAvailability *bool
	Error            error
	Duration         time.Duration
}

// Accepted reports whether every check that ran accepted the claim.
func (r Result) Accepted() bool {
	if r.Error != nil {
		return false
	}
	if r.Computation == nil && r.DataAvailability == nil {
		return false
	}
	for _, ok := range []*bool{r.Computation, r.DataAvailability} {
		if ok != nil && !*ok {
			return false
		}
	}
	return true
}
