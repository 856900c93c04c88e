// pattern: Functional Core

package vcs

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// RefKind classifies what a user-supplied identifier turned out to be.
type RefKind int

const (
	KindPath RefKind = iota
	KindCommit
	KindBranch
	KindTag
)

func (k RefKind) String() string {
	switch k {
	case KindPath:
		return "path"
	case KindCommit:
		return "commit"
	case KindBranch:
		return "branch"
	case KindTag:
		return "tag"
	}
	return "unknown"
}

const (
	fullSHALen   = 40
	minAbbrevLen = 4
)

var hexRe = regexp.MustCompile(`^[0-9a-f]+$`)

// Disambiguator resolves free-form identifier strings to a ref kind and
// canonical value. Precedence, first match wins: existing worktree path,
// commit-SHA prefix, branch name (local or remote), tag name.
type Disambiguator struct {
	repoRoot string
	run      Runner
}

// NewDisambiguator creates a disambiguator for the repository at repoRoot.
func NewDisambiguator(repoRoot string, run Runner) *Disambiguator {
	return &Disambiguator{repoRoot: repoRoot, run: run}
}

// Classify determines the kind of the given token. A token matching nothing
// is an unrecoverable disambiguation failure.
func (d *Disambiguator) Classify(ctx context.Context, token string) (RefKind, error) {
	_, kind, err := d.Resolve(ctx, token, false)
	return kind, err
}

// Resolve classifies ref and returns its canonical value. Branch names
// matched through a remote-tracking ref come back stripped of the remote
// prefix. With pin set, any successful classification is additionally
// resolved to its full commit SHA and reclassified as a commit, detaching
// the result from its symbolic name.
func (d *Disambiguator) Resolve(ctx context.Context, ref string, pin bool) (string, RefKind, error) {
	resolved, kind, err := d.classify(ctx, ref)
	if err != nil {
		return "", 0, err
	}
	if pin && kind != KindPath {
		commit, err := d.ResolveCommit(ctx, resolved)
		if err != nil {
			return "", 0, err
		}
		return commit, KindCommit, nil
	}
	return resolved, kind, nil
}

func (d *Disambiguator) classify(ctx context.Context, token string) (string, RefKind, error) {
	if d.isWorktreePath(ctx, token) {
		abs, err := filepath.Abs(token)
		if err != nil {
			abs = token
		}
		return abs, KindPath, nil
	}

	if len(token) >= minAbbrevLen && len(token) <= fullSHALen && hexRe.MatchString(token) {
		return token, KindCommit, nil
	}

	branches, err := d.Branches(ctx)
	if err != nil {
		return "", 0, err
	}
	for _, b := range branches {
		if b == token {
			return token, KindBranch, nil
		}
	}
	remotes, err := d.RemoteBranches(ctx)
	if err != nil {
		return "", 0, err
	}
	for _, b := range remotes {
		if b == token {
			return token, KindBranch, nil
		}
	}

	tags, err := d.Tags(ctx)
	if err != nil {
		return "", 0, err
	}
	for _, t := range tags {
		if t == token {
			return token, KindTag, nil
		}
	}

	return "", 0, refError("cannot resolve %q: not a worktree path, commit, branch, or tag", token)
}

// ResolveCommit resolves any ref to its full commit SHA.
func (d *Disambiguator) ResolveCommit(ctx context.Context, ref string) (string, error) {
	out, err := d.run(ctx, d.repoRoot, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", err
	}
	commit := strings.TrimSpace(out)
	if len(commit) != fullSHALen || !hexRe.MatchString(commit) {
		return "", refError("unexpected rev-parse output for %q: %s", ref, commit)
	}
	return commit, nil
}

// Branches lists local branch names.
func (d *Disambiguator) Branches(ctx context.Context) ([]string, error) {
	out, err := d.run(ctx, d.repoRoot, "for-each-ref", "refs/heads", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// RemoteBranches lists remote-tracking branch names with the remote prefix
// stripped. "origin/HEAD" style symbolic entries are skipped.
func (d *Disambiguator) RemoteBranches(ctx context.Context) ([]string, error) {
	out, err := d.run(ctx, d.repoRoot, "for-each-ref", "refs/remotes", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, full := range splitLines(out) {
		_, name, ok := strings.Cut(full, "/")
		if !ok || name == "HEAD" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Tags lists tag names.
func (d *Disambiguator) Tags(ctx context.Context) ([]string, error) {
	out, err := d.run(ctx, d.repoRoot, "for-each-ref", "refs/tags", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// isWorktreePath reports whether token names an existing directory that is
// itself a worktree root.
func (d *Disambiguator) isWorktreePath(ctx context.Context, token string) bool {
	info, err := os.Stat(token)
	if err != nil || !info.IsDir() {
		return false
	}
	out, err := d.run(ctx, token, "rev-parse", "--show-toplevel")
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(token)
	if err != nil {
		return false
	}
	top := strings.TrimSpace(out)
	return top == abs || sameFile(top, abs)
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
