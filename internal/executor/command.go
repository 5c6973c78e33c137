package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// CommandExecutor runs an external program per task. Parameters are passed as
// environment variables; the program writes its JSON result to stdout.
type CommandExecutor struct {
	Path string
	Args []string

	// StoreEndpoint is the content store RPC endpoint the program dereferences CIDs from.
	StoreEndpoint string
	// Host and Port address the execution backend.
	Host string
	Port int
}

var _ Executor = (*CommandExecutor)(nil)

func (e *CommandExecutor) Execute(ctx context.Context, req Request) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.Path, e.Args...)
	cmd.Env = append(os.Environ(),
		"IPFS_API="+e.StoreEndpoint,
		"EXECUTOR_HOST="+e.Host,
		"EXECUTOR_PORT="+strconv.Itoa(e.Port),
	)
	cmd.Env = append(cmd.Env, req.Env()...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	// A non-zero exit with a result on stdout still carries a return code.
	if err != nil && stdout.Len() == 0 {
		return nil, fmt.Errorf("run %s: %w: %s", e.Path, err, tail(stderr.String(), 512))
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
