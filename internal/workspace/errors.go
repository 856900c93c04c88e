// pattern: Functional Core

package workspace

import "fmt"

// ConsistencyError is a typed failure of the store's own invariants:
// duplicate workspace names, attempts to delete the main workspace, and
// lookup misses.
type ConsistencyError struct {
	Msg string
}

func (e *ConsistencyError) Error() string { return e.Msg }

func consistencyf(format string, args ...any) *ConsistencyError {
	return &ConsistencyError{Msg: fmt.Sprintf(format, args...)}
}
