// pattern: Functional Core

package vcs

import (
	"fmt"
	"strings"
)

// GitError is a typed failure from the version-control tool: a non-zero exit,
// or a reference that could not be resolved. Output carries the tool's
// diagnostic text when available.
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	op := "git"
	if len(e.Args) > 0 {
		op = "git " + strings.Join(e.Args, " ")
	}
	if e.Output != "" {
		return fmt.Sprintf("%s: %s", op, e.Output)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", op, e.Err)
	}
	return op + ": failed"
}

func (e *GitError) Unwrap() error { return e.Err }

// refError builds a GitError for a resolution failure with no subprocess
// behind it.
func refError(format string, args ...any) *GitError {
	return &GitError{Output: fmt.Sprintf(format, args...)}
}
