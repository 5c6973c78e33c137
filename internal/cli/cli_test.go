package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/ChuLiYu/claim-engine/internal/availability"
	"github.com/ChuLiYu/claim-engine/internal/claim"
	"github.com/ChuLiYu/claim-engine/internal/claimfile"
	"github.com/ChuLiYu/claim-engine/internal/server"
	"github.com/ChuLiYu/claim-engine/pkg/types"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "claimd", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	commandNames := make(map[string]bool)
	for _, c := range cmd.Commands() {
		commandNames[c.Name()] = true
	}
	for _, name := range []string{"generate", "verify", "probe", "put", "merkle-cache", "status"} {
		assert.True(t, commandNames[name], "should have %q command", name)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestBuildGenerateCommand(t *testing.T) {
	var path string
	cmd := buildGenerateCommand(&path)

	for _, name := range []string{"task", "app", "court", "input", "state", "fake-it", "verify-keccak",
		"max-cycles", "submitter", "prev", "pre", "root", "nonce", "out"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "should have --%s", name)
	}
	assert.Equal(t, "o", cmd.Flags().Lookup("out").Shorthand)
	assert.NotNil(t, cmd.RunE)
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test_config.yaml")
	configContent := `
store:
  dir: "./test_store"
executor:
  command: "/usr/local/bin/executor"
  args: ["--fast"]
  port: 8081
  timeout: 5m
prober:
  timeout: 30s
merkle_cache:
  enabled: true
  address: "cache:50051"
metrics:
  enabled: true
  port: 8080
log:
  level: debug
  format: json
verifier:
  workers: 8
  task_timeout: 5s
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := loadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "./test_store", cfg.Store.Dir)
	assert.Equal(t, "/usr/local/bin/executor", cfg.Executor.Command)
	assert.Equal(t, []string{"--fast"}, cfg.Executor.Args)
	assert.Equal(t, 8081, cfg.Executor.Port)
	assert.Equal(t, "localhost", cfg.Executor.Host, "unset fields keep defaults")
	assert.Equal(t, 5*time.Minute, cfg.Executor.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Prober.Timeout)
	assert.True(t, cfg.MerkleCache.Enabled)
	assert.Equal(t, "cache:50051", cfg.MerkleCache.Address)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 8080, cfg.Metrics.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Verifier.Workers)
	assert.Equal(t, 5*time.Second, cfg.Verifier.TaskTimeout)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := loadConfig("/nonexistent/config.yaml")

	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
verifier:
  workers: "not a number"
  invalid yaml structure
    broken indentation
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0o644))

	cfg, err := loadConfig(configPath)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(""), 0o644))

	cfg, err := loadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_NoPath(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"remote store needs executor", func(c *Config) { c.Store.API = "http://127.0.0.1:5001" }, "store.api"},
		{"port range", func(c *Config) { c.Executor.Port = 70000 }, "executor.port"},
		{"prober timeout", func(c *Config) { c.Prober.Timeout = 0 }, "prober.timeout"},
		{"cache address", func(c *Config) { c.MerkleCache.Enabled = true; c.MerkleCache.Address = "" }, "merkle_cache.address"},
		{"workers", func(c *Config) { c.Verifier.Workers = 0 }, "verifier.workers"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir)

	out, err := run(t, "-c", configPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "claimd status")
	assert.Contains(t, out, "badger "+filepath.Join(dir, "store"))
	assert.Contains(t, out, "loopback")
	assert.Contains(t, out, "Merkle cache:  disabled")
	assert.Contains(t, out, "2 workers")
}

func TestStatusCommand_BadConfig(t *testing.T) {
	_, err := run(t, "-c", "/nonexistent/config.yaml", "status")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestVerifyCommand_UnknownMode(t *testing.T) {
	_, err := run(t, "-c", writeConfig(t, t.TempDir()), "verify", "--mode", "all", "claim.json")
	assert.Error(t, err)
}

// TestGenerateAndVerifyFlow drives put, generate, probe and verify against
// one persistent store, the way an operator would.
func TestGenerateAndVerifyFlow(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir)

	files := map[string][]byte{
		"app.img":        []byte("application image"),
		"court.img":      []byte("court image"),
		"input.bin":      make([]byte, 200),
		"state.squashfs": []byte("initial state of the machine"),
		"next.bin":       []byte("second input"),
	}
	args := []string{"-c", configPath, "put"}
	for name, data := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o644))
		args = append(args, path)
	}
	out, err := run(t, args...)
	require.NoError(t, err)
	cids := parsePut(t, out)
	require.Len(t, cids, len(files))

	// genesis
	claimPath := filepath.Join(dir, "claims", "genesis.json")
	out, err = run(t, "-c", configPath, "generate",
		"--app", cids["app.img"],
		"--court", cids["court.img"],
		"--input", cids["input.bin"],
		"--state", cids["state.squashfs"],
		"--max-cycles", "1000",
		"-o", claimPath)
	require.NoError(t, err)

	var printed types.ClaimMessage
	require.NoError(t, json.Unmarshal([]byte(out), &printed))
	genesis, err := claimfile.New(claimPath).Load()
	require.NoError(t, err)
	assert.Equal(t, genesis.ClaimCID, printed.ClaimCID)
	assert.Equal(t, genesis.ClaimCID, genesis.RootCID, "genesis claims are their own root")
	assert.Equal(t, types.ContentID(cids["input.bin"]), genesis.InputCID)
	assert.EqualValues(t, 1000, genesis.MaxCycles)
	assert.Len(t, genesis.DAInfo, 6)

	// probe through the claim DAG
	out, err = run(t, "-c", configPath, "probe", genesis.ClaimCID.Join("/input"))
	require.NoError(t, err)
	var report map[string]types.AvailabilityInfo
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	info := report[genesis.ClaimCID.Join("/input")]
	assert.Equal(t, "200", info.Size)
	assert.Equal(t, 8, info.Log2Size)

	// build upon genesis, governance inherited
	nextPath := filepath.Join(dir, "claims", "next.json")
	_, err = run(t, "-c", configPath, "generate", "--prev", claimPath, "--input", cids["next.bin"], "-o", nextPath)
	require.NoError(t, err)
	next, err := claimfile.New(nextPath).Load()
	require.NoError(t, err)
	assert.Equal(t, genesis.ClaimCID, next.PreCID)
	assert.Equal(t, genesis.RootCID, next.RootCID)
	assert.Equal(t, genesis.Nonce, next.Nonce)
	assert.Equal(t, genesis.GovCID, next.GovCID)

	out, err = run(t, "-c", configPath, "verify", claimPath, nextPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "ACCEPT"), out)
	assert.Contains(t, out, "computation=true da=true")

	// a claim with an altered return code is rejected
	tampered := *genesis
	tampered.ReturnCode = 1
	tamperedPath := filepath.Join(dir, "claims", "tampered.json")
	require.NoError(t, claimfile.New(tamperedPath).Write(&tampered))

	out, err = run(t, "-c", configPath, "verify", "--mode", "computation", claimPath, tamperedPath)
	assert.True(t, errors.Is(err, ErrRejected), "got %v", err)
	assert.Contains(t, out, "REJECT "+tamperedPath)
	assert.Contains(t, out, "ACCEPT "+claimPath)
}

func TestGenerateCommand_IncompleteTask(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir)

	taskPath := filepath.Join(dir, "task.yaml")
	require.NoError(t, os.WriteFile(taskPath, []byte("app: x\n"), 0o644))

	_, err := run(t, "-c", configPath, "generate", "--task", taskPath)
	assert.Error(t, err, "a task missing references fails generation")
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "claimd.yaml")
	content := "store:\n  dir: " + filepath.Join(dir, "store") + "\n" +
		"log:\n  level: error\n  format: json\n" +
		"verifier:\n  workers: 2\n  task_timeout: 30s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// parsePut maps file base names to the CIDs printed by put.
func parsePut(t *testing.T, out string) map[string]string {
	t.Helper()
	cids := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		require.Len(t, fields, 2, line)
		cids[filepath.Base(fields[1])] = fields[0]
	}
	return cids
}

func TestEngineForwardsRootsToMerkleCache(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cacheSrv := server.NewServer(zerolog.Nop())
	grpcServer := grpc.NewServer()
	cacheSrv.Register(grpcServer)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	cfg := DefaultConfig()
	cfg.MerkleCache.Enabled = true
	cfg.MerkleCache.Address = lis.Addr().String()
	require.NoError(t, cfg.Validate())

	e, err := newEngine(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	task := claim.Task{}
	for i, ref := range []*string{&task.App, &task.Court, &task.Input, &task.State} {
		id, err := e.store.PutFile(ctx, []byte("artifact "+strconv.Itoa(i)))
		require.NoError(t, err)
		*ref = id.String()
	}

	msg, err := e.generator().GenerateGenesisClaim(ctx, task, availability.NewCache())
	require.NoError(t, err)
	require.NoError(t, e.Close(), "close waits for pending writes")

	for _, d := range msg.DAInfo {
		if len(d.MerkleRoot) == 0 {
			continue
		}
		root, ok := cacheSrv.Lookup(msg.ClaimCID.Join(d.Name), d.Log2Size)
		assert.True(t, ok, d.Name)
		assert.Equal(t, d.MerkleRoot, root, d.Name)
	}
}
