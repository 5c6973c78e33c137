// ============================================================================
// Task Executor Client
// ============================================================================
//
// Package: internal/executor
// File: executor.go
// Purpose: Invoke deterministic (re-)execution of a task and parse its result.
//
// Contract:
//   - One synchronous invocation per call; no streaming, no retries.
//   - The executor's stdout must be a single JSON object with at least
//     returnCode, claimCID, stateSize, log2State, stateMerkle and
//     outputFileKeccak. Anything else is types.ErrExecutor.
//   - A return code other than the expected one is NOT an error here; it is
//     surfaced in TaskResult.ReturnCode and the caller decides.
//
// Implementations of Executor:
//   - CommandExecutor: runs an external program with environment parameters.
//   - Loopback: in-process reference executor over a ContentStore.
//   - Func: adapter for plain functions (tests, fault injection).
//
// ============================================================================

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChuLiYu/claim-engine/internal/metrics"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// Executor runs a task once and returns its raw JSON output.
type Executor interface {
	Execute(ctx context.Context, req Request) ([]byte, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, req Request) ([]byte, error)

func (f Func) Execute(ctx context.Context, req Request) ([]byte, error) { return f(ctx, req) }

// Request describes one executor invocation.
type Request struct {
	PreCID    types.ContentID
	InputCID  types.ContentID
	GovCID    types.ContentID
	Nonce     types.HexBytes
	BuildUpon bool

	// FakeReturnCode short-circuits the program to return this code.
	FakeReturnCode *int
	VerifyKeccak   bool
}

// ExpectedReturnCode is 0, or the fake code when one is set.
func (r Request) ExpectedReturnCode() int {
	if r.FakeReturnCode != nil {
		return *r.FakeReturnCode
	}
	return 0
}

// Env renders the request as executor environment variables.
func (r Request) Env() []string {
	env := []string{
		"PRE_CID=" + r.PreCID.String(),
		"INPUT_CID=" + r.InputCID.String(),
		"GOV_CID=" + r.GovCID.String(),
		"NONCE=" + r.Nonce.String(),
		"BUILD_UPON=" + strconv.FormatBool(r.BuildUpon),
	}
	if r.FakeReturnCode != nil {
		env = append(env, "FAKE_IT="+strconv.Itoa(*r.FakeReturnCode))
	}
	if r.VerifyKeccak {
		env = append(env, "VERIFY_KECCAK=true")
	}
	return env
}

// wireResult mirrors the executor's JSON; pointers detect missing fields.
type wireResult struct {
	ReturnCode       *int         `json:"returnCode"`
	ClaimCID         *string      `json:"claimCID"`
	StateSize        *json.Number `json:"stateSize"`
	Log2State        *int         `json:"log2State"`
	StateMerkle      *string      `json:"stateMerkle"`
	OutputFileKeccak *string      `json:"outputFileKeccak"`
}

// ParseResult strictly decodes executor output into a TaskResult.
func ParseResult(out []byte) (*types.TaskResult, error) {
	var w wireResult
	if err := json.Unmarshal(bytes.TrimSpace(out), &w); err != nil {
		return nil, fmt.Errorf("%w: invalid result JSON: %v", types.ErrExecutor, err)
	}

	missing := func(field string) error {
		return fmt.Errorf("%w: result missing %q", types.ErrExecutor, field)
	}
	switch {
	case w.ReturnCode == nil:
		return nil, missing("returnCode")
	case w.ClaimCID == nil:
		return nil, missing("claimCID")
	case w.StateSize == nil:
		return nil, missing("stateSize")
	case w.Log2State == nil:
		return nil, missing("log2State")
	case w.StateMerkle == nil:
		return nil, missing("stateMerkle")
	case w.OutputFileKeccak == nil:
		return nil, missing("outputFileKeccak")
	}

	claimCID, err := types.ParseContentID(*w.ClaimCID)
	if err != nil {
		return nil, fmt.Errorf("%w: claimCID: %v", types.ErrExecutor, err)
	}
	stateSize, err := w.StateSize.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: stateSize: %v", types.ErrExecutor, err)
	}
	root, err := types.ParseHex(*w.StateMerkle)
	if err != nil {
		return nil, fmt.Errorf("%w: stateMerkle: %v", types.ErrExecutor, err)
	}
	keccak, err := types.ParseHex(*w.OutputFileKeccak)
	if err != nil {
		return nil, fmt.Errorf("%w: outputFileKeccak: %v", types.ErrExecutor, err)
	}

	return &types.TaskResult{
		ReturnCode:      *w.ReturnCode,
		ClaimCID:        claimCID,
		StateSize:       stateSize,
		Log2State:       *w.Log2State,
		StateMerkleRoot: root,
		OutputKeccak:    keccak,
	}, nil
}

// Client wraps an Executor with a deadline, strict parsing, logging and metrics.
type Client struct {
	exec    Executor
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewClient returns a Client. A zero timeout leaves the deadline to ctx.
func NewClient(exec Executor, timeout time.Duration, logger zerolog.Logger, m *metrics.Collector) *Client {
	return &Client{
		exec:    exec,
		timeout: timeout,
		logger:  logger.With().Str("component", "executor").Logger(),
		metrics: m,
	}
}

// Execute invokes the executor once and parses its result.
func (c *Client) Execute(ctx context.Context, req Request) (*types.TaskResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := c.exec.Execute(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	var res *types.TaskResult
	if err == nil {
		res, err = ParseResult(out)
	} else {
		err = fmt.Errorf("%w: %v", types.ErrExecutor, err)
	}
	c.metrics.RecordExecution(time.Since(start).Seconds(), err)
	if err != nil {
		c.logger.Error().Err(err).
			Str("pre", req.PreCID.String()).
			Bool("build_upon", req.BuildUpon).
			Msg("execution failed")
		return nil, err
	}

	c.logger.Debug().
		Str("pre", req.PreCID.String()).
		Str("claim", res.ClaimCID.String()).
		Int("return_code", res.ReturnCode).
		Dur("took", time.Since(start)).
		Msg("execution finished")
	return res, nil
}
