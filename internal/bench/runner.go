// pattern: Imperative Shell

package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"benchtree/internal/workspace"
)

// RawResult is the unprocessed payload a benchmark target emits for one
// workspace. Aggregation and rendering happen elsewhere.
type RawResult struct {
	Workspace string          `json:"workspace"`
	Target    string          `json:"target"`
	Commit    string          `json:"commit"`
	Payload   json.RawMessage `json:"payload"`
	Duration  time.Duration   `json:"duration"`
}

// Runner dispatches benchmark targets inside a workspace's environment.
type Runner interface {
	// Requirements lists the packages every workspace environment needs
	// before this runner can execute in it.
	Requirements() []string
	// Run executes one target in one workspace and returns its raw payload.
	Run(ctx context.Context, ws *workspace.Workspace, target string) (*RawResult, error)
}

// ExecFunc runs a subprocess and returns stdout and stderr separately.
// Tests substitute a fake.
type ExecFunc func(ctx context.Context, dir, bin string, args ...string) (stdout, stderr string, err error)

// Exec is the production ExecFunc.
func Exec(ctx context.Context, dir, bin string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return strings.TrimSpace(out.String()), strings.TrimSpace(errBuf.String()), err
}

// SubprocessRunner runs each target as `<env-python> <bench-dir>/<target>.py`
// with the worktree as working directory, reading the raw result payload
// from stdout.
type SubprocessRunner struct {
	// Dir is the benchmark directory, relative to each worktree root.
	Dir string
	// Packages are the requirements this runner's targets need.
	Packages []string
	// Run executes the subprocess; defaults to Exec.
	Execute ExecFunc
}

func (r *SubprocessRunner) Requirements() []string { return r.Packages }

func (r *SubprocessRunner) Run(ctx context.Context, ws *workspace.Workspace, target string) (*RawResult, error) {
	execute := r.Execute
	if execute == nil {
		execute = Exec
	}

	script := filepath.Join(ws.Worktree.Root, r.Dir, target+".py")
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("benchmark target %q not found in %s", target, ws.Name)
	}

	start := time.Now()
	stdout, stderr, err := execute(ctx, ws.Worktree.Root, ws.Env.Executable, script)
	if err != nil {
		if stderr != "" {
			return nil, fmt.Errorf("target %q in %s: %s: %w", target, ws.Name, stderr, err)
		}
		return nil, fmt.Errorf("target %q in %s: %w", target, ws.Name, err)
	}

	payload := json.RawMessage(stdout)
	if !json.Valid(payload) {
		// Non-JSON output is still a result; wrap it so downstream
		// consumers always see valid JSON.
		wrapped, _ := json.Marshal(map[string]string{"raw": stdout})
		payload = wrapped
	}

	return &RawResult{
		Workspace: ws.Name,
		Target:    target,
		Commit:    ws.Worktree.Commit,
		Payload:   payload,
		Duration:  time.Since(start),
	}, nil
}

// Discover lists target names (without extension) found in the benchmark
// directory of the given worktree root.
func Discover(worktreeRoot, dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(worktreeRoot, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var targets []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".py") || strings.HasPrefix(name, "_") {
			continue
		}
		targets = append(targets, strings.TrimSuffix(name, ".py"))
	}
	sort.Strings(targets)
	return targets, nil
}
