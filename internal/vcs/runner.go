// pattern: Imperative Shell

package vcs

import (
	"context"
	"os/exec"
	"strings"
)

// Runner executes a git subcommand in dir and returns its combined output.
// Production code uses ExecRunner; tests substitute a fake.
type Runner func(ctx context.Context, dir string, args ...string) (string, error)

// ExecRunner returns a Runner that invokes the given git binary.
func ExecRunner(gitBin string) Runner {
	if gitBin == "" {
		gitBin = "git"
	}
	return func(ctx context.Context, dir string, args ...string) (string, error) {
		cmd := exec.CommandContext(ctx, gitBin, args...)
		cmd.Dir = dir
		output, err := cmd.CombinedOutput()
		out := strings.TrimSpace(string(output))
		if err != nil {
			return out, &GitError{Args: args, Output: out, Err: err}
		}
		return out, nil
	}
}
