// pattern: Imperative Shell

package vcs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Worktree is one isolated working-copy checkout of the repository.
// At most one of Branch/Tag is non-empty; Commit always holds the full SHA
// of whatever is checked out.
type Worktree struct {
	Root     string `yaml:"root"`
	Commit   string `yaml:"commit"`
	Branch   string `yaml:"branch,omitempty"`
	Tag      string `yaml:"tag,omitempty"`
	Locked   bool   `yaml:"locked"`
	Prunable bool   `yaml:"prunable"`
}

// Ref returns the worktree's symbolic ref when it has one, else the commit.
func (w *Worktree) Ref() string {
	if w.Branch != "" {
		return w.Branch
	}
	if w.Tag != "" {
		return w.Tag
	}
	return w.Commit
}

// Matches reports whether value identifies this worktree by root path,
// commit prefix, branch, or tag.
func (w *Worktree) Matches(value string) bool {
	if value == "" {
		return false
	}
	if w.Root == value {
		return true
	}
	if abs, err := filepath.Abs(value); err == nil && abs == w.Root {
		return true
	}
	if len(value) >= minAbbrevLen && strings.HasPrefix(w.Commit, value) {
		return true
	}
	return w.Branch == value || w.Tag == value
}

// AddOptions control worktree creation.
type AddOptions struct {
	Path     string // destination; derived from the ref when empty
	Force    bool   // allow a second worktree for an already-tracked ref
	Checkout bool   // populate the working copy (git default is true)
	Lock     bool   // lock the new worktree against pruning
	Pin      bool   // resolve the ref to a commit and check out detached
}

// Gateway wraps git's worktree primitives and reference queries. It holds no
// worktree state of its own: every call re-queries git, so the caller never
// observes stale results within one process.
type Gateway struct {
	repoRoot string
	run      Runner
	refs     *Disambiguator
}

// NewGateway creates a gateway for the repository rooted at repoRoot.
func NewGateway(repoRoot string, run Runner) *Gateway {
	g := &Gateway{repoRoot: repoRoot, run: run}
	g.refs = &Disambiguator{repoRoot: repoRoot, run: run}
	return g
}

// Refs returns the gateway's reference disambiguator.
func (g *Gateway) Refs() *Disambiguator { return g.refs }

// RepoRoot returns the main worktree's root directory.
func (g *Gateway) RepoRoot() string { return g.repoRoot }

// RepoName returns the repository directory's base name.
func (g *Gateway) RepoName() string { return filepath.Base(g.repoRoot) }

// List returns all worktrees known to git, main worktree first (git's own
// ordering guarantee for `worktree list`).
func (g *Gateway) List(ctx context.Context) ([]Worktree, error) {
	out, err := g.run(ctx, g.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	worktrees := parsePorcelain(out)
	// Detached checkouts may be sitting on a tag; git's porcelain output
	// cannot say so, only a points-at query can.
	for i := range worktrees {
		wt := &worktrees[i]
		if wt.Branch != "" || wt.Commit == "" {
			continue
		}
		tags, err := g.TagsAt(ctx, wt.Commit)
		if err != nil {
			return nil, err
		}
		if len(tags) > 0 {
			wt.Tag = tags[0]
		}
	}
	return worktrees, nil
}

// Add creates a new worktree checked out at ref and returns it.
func (g *Gateway) Add(ctx context.Context, ref string, opts AddOptions) (*Worktree, error) {
	resolved, kind, err := g.refs.Resolve(ctx, ref, opts.Pin)
	if err != nil {
		return nil, err
	}

	if !opts.Force {
		existing, err := g.List(ctx)
		if err != nil {
			return nil, err
		}
		for i := range existing {
			if existing[i].Matches(resolved) {
				return nil, refError("worktree for %q already exists at %s (use force to add another)", ref, existing[i].Root)
			}
		}
	}

	path := opts.Path
	if path == "" {
		path = g.DefaultPath(resolved)
	}

	args := []string{"worktree", "add"}
	if opts.Force {
		args = append(args, "--force")
	}
	if !opts.Checkout {
		args = append(args, "--no-checkout")
	}
	if opts.Lock {
		args = append(args, "--lock")
	}
	if kind == KindCommit || kind == KindTag {
		args = append(args, "--detach")
	}
	args = append(args, path, resolved)

	if _, err := g.run(ctx, g.repoRoot, args...); err != nil {
		return nil, err
	}

	commit, err := g.refs.ResolveCommit(ctx, resolved)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	wt := &Worktree{Root: abs, Commit: commit, Locked: opts.Lock}
	switch kind {
	case KindBranch:
		wt.Branch = resolved
	case KindTag:
		wt.Tag = resolved
	}
	return wt, nil
}

// DefaultPath derives the destination for a new worktree from the ref:
// <repo-name>@<ref> as a sibling of the main worktree, with slashes in the
// ref replaced by dashes to stay a single path segment.
func (g *Gateway) DefaultPath(ref string) string {
	return filepath.Join(filepath.Dir(g.repoRoot), g.RepoName()+"@"+EscapeRef(ref))
}

// EscapeRef substitutes every slash in a ref with a dash so the ref can be
// embedded in a single path segment.
func EscapeRef(ref string) string {
	return strings.ReplaceAll(ref, "/", "-")
}

// DiscoverRoot finds the main worktree root of the repository containing
// dir. When invoked from a linked worktree it still returns that worktree's
// own top level; callers managing a repo should start from the main
// checkout.
func DiscoverRoot(ctx context.Context, run Runner, dir string) (string, error) {
	out, err := run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Remove deletes a worktree. With force, uncommitted and untracked changes
// in the target are discarded.
func (g *Gateway) Remove(ctx context.Context, wt *Worktree, force bool) error {
	existing, err := g.List(ctx)
	if err != nil {
		return err
	}
	found := false
	for i := range existing {
		if existing[i].Root == wt.Root {
			found = true
			break
		}
	}
	if !found {
		return refError("no worktree at %s", wt.Root)
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, wt.Root)
	_, err = g.run(ctx, g.repoRoot, args...)
	return err
}

// Move renames a worktree's directory, letting git update its bookkeeping.
// Moving a worktree onto its current path is a no-op.
func (g *Gateway) Move(ctx context.Context, wt *Worktree, newPath string) error {
	abs, err := filepath.Abs(newPath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", newPath, err)
	}
	if abs == wt.Root {
		return nil
	}
	if _, err := g.run(ctx, g.repoRoot, "worktree", "move", wt.Root, abs); err != nil {
		return err
	}
	wt.Root = abs
	return nil
}

// Repair fixes up a worktree's administrative files after its directory was
// moved without git's knowledge.
func (g *Gateway) Repair(ctx context.Context, wt *Worktree) error {
	_, err := g.run(ctx, g.repoRoot, "worktree", "repair", wt.Root)
	return err
}

// Checkout switches the given worktree to ref in place and updates the
// worktree's commit and active branch/tag fields.
func (g *Gateway) Checkout(ctx context.Context, wt *Worktree, ref string, pin bool) error {
	resolved, kind, err := g.refs.Resolve(ctx, ref, pin)
	if err != nil {
		return err
	}
	args := []string{"checkout"}
	if kind == KindCommit || kind == KindTag {
		args = append(args, "--detach")
	}
	args = append(args, resolved)
	if _, err := g.run(ctx, wt.Root, args...); err != nil {
		return err
	}
	commit, err := g.refs.ResolveCommit(ctx, resolved)
	if err != nil {
		return err
	}
	wt.Commit = commit
	wt.Branch = ""
	wt.Tag = ""
	switch kind {
	case KindBranch:
		wt.Branch = resolved
	case KindTag:
		wt.Tag = resolved
	}
	return nil
}

// TagsAt returns the tags pointing at the given commit.
func (g *Gateway) TagsAt(ctx context.Context, commit string) ([]string, error) {
	out, err := g.run(ctx, g.repoRoot, "tag", "--points-at", commit)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// parsePorcelain parses `git worktree list --porcelain` output. Entries are
// blank-line separated attribute blocks; the first entry is the main
// worktree.
func parsePorcelain(out string) []Worktree {
	var worktrees []Worktree
	var current *Worktree
	flush := func() {
		if current != nil {
			worktrees = append(worktrees, *current)
			current = nil
		}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			flush()
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "worktree":
			flush()
			current = &Worktree{Root: value}
		case "HEAD":
			if current != nil {
				current.Commit = value
			}
		case "branch":
			if current != nil {
				current.Branch = strings.TrimPrefix(value, "refs/heads/")
			}
		case "locked":
			if current != nil {
				current.Locked = true
			}
		case "prunable":
			if current != nil {
				current.Prunable = true
			}
		}
	}
	flush()
	return worktrees
}

func splitLines(out string) []string {
	if out == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
