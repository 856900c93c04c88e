// pattern: Functional Core

package workspace

import (
	"path/filepath"
	"strings"

	"benchtree/internal/vcs"
	"benchtree/internal/venv"
)

// MainName is the reserved name of the workspace bound to the repository's
// main worktree. It always exists once the store is initialized and can
// never be deleted.
const MainName = "main"

// Workspace binds a human-assigned name to exactly one worktree and exactly
// one runtime environment. It is the unit the user operates on.
type Workspace struct {
	Name     string       `yaml:"-"` // store map key; set on load
	Worktree vcs.Worktree `yaml:"worktree"`
	Env      venv.Env     `yaml:"environment"`
}

// EnvInsideWorktree reports whether the workspace's environment lives under
// its worktree root. Externally linked environments do not, and must never
// be deleted together with the worktree.
func (w *Workspace) EnvInsideWorktree() bool {
	rel, err := filepath.Rel(w.Worktree.Root, w.Env.Root())
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Matches reports whether the identifier names this workspace directly or
// matches one of its worktree attributes of the given kind.
func (w *Workspace) Matches(kind vcs.RefKind, value string) bool {
	switch kind {
	case vcs.KindPath:
		return w.Worktree.Root == value
	case vcs.KindCommit:
		return value != "" && strings.HasPrefix(w.Worktree.Commit, value)
	case vcs.KindBranch:
		return w.Worktree.Branch == value
	case vcs.KindTag:
		return w.Worktree.Tag == value
	}
	return false
}
