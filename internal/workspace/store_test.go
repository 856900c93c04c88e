package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"benchtree/internal/vcs"
	"benchtree/internal/venv"
)

const (
	commitMain    = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	commitFeature = "def456def456def456def456def456def456def4"
	commitTagged  = "cccccccccccccccccccccccccccccccccccccccc"
)

// fakeGit emulates the git invocations the store drives through the
// gateway. State mutates the way git would: worktree add/remove/move and
// checkout update the worktree list.
type fakeGit struct {
	repoRoot  string
	branches  map[string]string
	tags      map[string]string
	worktrees []vcs.Worktree
	calls     [][]string
}

func (f *fakeGit) runner() vcs.Runner {
	return func(_ context.Context, dir string, args ...string) (string, error) {
		f.calls = append(f.calls, args)
		return f.dispatch(dir, args)
	}
}

func (f *fakeGit) dispatch(dir string, args []string) (string, error) {
	joined := strings.Join(args, " ")
	switch {
	case joined == "worktree list --porcelain":
		var b strings.Builder
		for _, wt := range f.worktrees {
			b.WriteString("worktree " + wt.Root + "\nHEAD " + wt.Commit + "\n")
			if wt.Branch != "" {
				b.WriteString("branch refs/heads/" + wt.Branch + "\n")
			} else {
				b.WriteString("detached\n")
			}
			b.WriteString("\n")
		}
		return b.String(), nil

	case args[0] == "tag" && len(args) >= 3 && args[1] == "--points-at":
		var names []string
		for name, commit := range f.tags {
			if commit == args[2] {
				names = append(names, name)
			}
		}
		return strings.Join(names, "\n"), nil

	case args[0] == "for-each-ref" && args[1] == "refs/heads":
		var names []string
		for name := range f.branches {
			names = append(names, name)
		}
		return strings.Join(names, "\n"), nil

	case args[0] == "for-each-ref" && args[1] == "refs/remotes":
		return "", nil

	case args[0] == "for-each-ref" && args[1] == "refs/tags":
		var names []string
		for name := range f.tags {
			names = append(names, name)
		}
		return strings.Join(names, "\n"), nil

	case args[0] == "rev-parse" && args[1] == "--verify":
		ref := strings.TrimSuffix(args[2], "^{commit}")
		if commit, ok := f.branches[ref]; ok {
			return commit, nil
		}
		if commit, ok := f.tags[ref]; ok {
			return commit, nil
		}
		for _, wt := range f.worktrees {
			if strings.HasPrefix(wt.Commit, ref) {
				return wt.Commit, nil
			}
		}
		for _, commit := range []string{commitMain, commitFeature, commitTagged} {
			if strings.HasPrefix(commit, ref) {
				return commit, nil
			}
		}
		return "", &vcs.GitError{Args: args, Output: "fatal: needed a single revision"}

	case args[0] == "rev-parse" && args[1] == "--show-toplevel":
		for _, wt := range f.worktrees {
			if wt.Root == dir {
				return wt.Root, nil
			}
		}
		return "", &vcs.GitError{Args: args, Output: "fatal: not a git repository"}

	case args[0] == "worktree" && args[1] == "add":
		detached := false
		var positional []string
		for _, a := range args[2:] {
			if strings.HasPrefix(a, "--") {
				if a == "--detach" {
					detached = true
				}
				continue
			}
			positional = append(positional, a)
		}
		path, ref := positional[0], positional[1]
		wt := vcs.Worktree{Root: path}
		if commit, ok := f.branches[ref]; ok && !detached {
			wt.Branch = ref
			wt.Commit = commit
		} else {
			out, err := f.dispatch(dir, []string{"rev-parse", "--verify", ref + "^{commit}"})
			if err != nil {
				return "", err
			}
			wt.Commit = out
		}
		f.worktrees = append(f.worktrees, wt)
		return "", nil

	case args[0] == "worktree" && args[1] == "remove":
		target := args[len(args)-1]
		for i, wt := range f.worktrees {
			if wt.Root == target {
				f.worktrees = append(f.worktrees[:i], f.worktrees[i+1:]...)
				return "", nil
			}
		}
		return "", &vcs.GitError{Args: args, Output: "fatal: not a working tree"}

	case args[0] == "worktree" && args[1] == "move":
		for i, wt := range f.worktrees {
			if wt.Root == args[2] {
				f.worktrees[i].Root = args[3]
				return "", nil
			}
		}
		return "", &vcs.GitError{Args: args, Output: "fatal: not a working tree"}

	case args[0] == "checkout":
		ref := args[len(args)-1]
		for i, wt := range f.worktrees {
			if wt.Root == dir {
				out, err := f.dispatch(dir, []string{"rev-parse", "--verify", ref + "^{commit}"})
				if err != nil {
					return "", err
				}
				f.worktrees[i].Commit = out
				if _, ok := f.branches[ref]; ok && args[1] != "--detach" {
					f.worktrees[i].Branch = ref
				} else {
					f.worktrees[i].Branch = ""
				}
				return "", nil
			}
		}
		return "", &vcs.GitError{Args: args, Output: "fatal: not a working tree"}
	}
	return "", &vcs.GitError{Args: args, Output: "fake: unhandled command"}
}

func (f *fakeGit) sawCommand(parts ...string) bool {
	for _, call := range f.calls {
		if len(call) < len(parts) {
			continue
		}
		match := true
		for i, part := range parts {
			if call[i] != part {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// fakePython emulates interpreter/pip invocations for the provider.
type fakePython struct {
	failOn string
	calls  [][]string
}

func (f *fakePython) runner() venv.Runner {
	return func(_ context.Context, dir, bin string, args ...string) (string, error) {
		f.calls = append(f.calls, append([]string{bin}, args...))
		joined := strings.Join(args, " ")
		if f.failOn != "" && strings.Contains(joined, f.failOn) {
			return "error: " + f.failOn, errors.New("exit status 1")
		}
		switch {
		case len(args) == 1 && args[0] == "--version":
			return "Python 3.12.1", nil
		case joined == "-m pip list --format=freeze":
			return "pyperf==2.6.1", nil
		case strings.HasPrefix(joined, "-m venv"):
			dest := args[len(args)-1]
			if err := os.MkdirAll(filepath.Join(dest, "bin"), 0755); err != nil {
				return "", err
			}
			return "", nil
		}
		return "", nil
	}
}

type testEnv struct {
	store *Store
	git   *fakeGit
	py    *fakePython
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tmp := t.TempDir()
	repoRoot := filepath.Join(tmp, "repo")
	if err := os.MkdirAll(repoRoot, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	interp := filepath.Join(tmp, "python3")
	if err := os.WriteFile(interp, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("writing fake interpreter: %v", err)
	}

	git := &fakeGit{
		repoRoot: repoRoot,
		branches: map[string]string{"master": commitMain, "feature-x": commitFeature},
		tags:     map[string]string{"v1.0": commitTagged},
		worktrees: []vcs.Worktree{
			{Root: repoRoot, Commit: commitMain, Branch: "master"},
		},
	}
	py := &fakePython{}

	store := NewStore(
		vcs.NewGateway(repoRoot, git.runner()),
		venv.NewProvider(py.runner(), nil),
		Options{
			Path:         filepath.Join(repoRoot, ".benchtree", "workspaces.yaml"),
			Interpreter:  interp,
			Requirements: []string{"pyperf"},
		},
	)
	return &testEnv{store: store, git: git, py: py}
}

// seedMain installs the main workspace the way sync would have.
func (te *testEnv) seedMain() *Workspace {
	ws := &Workspace{
		Name:     MainName,
		Worktree: te.git.worktrees[0],
		Env: venv.Env{
			Executable: filepath.Join(te.git.repoRoot, ".venv", "bin", "python"),
			Version:    "3.12.1",
			Packages:   []string{"pyperf==2.6.1"},
		},
	}
	te.store.workspaces[MainName] = ws
	return ws
}

func TestRoundTripPersistence(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()
	te.store.workspaces["env_2"] = &Workspace{
		Name: "env_2",
		Worktree: vcs.Worktree{
			Root:   "/work/repo@feature-x",
			Commit: commitFeature,
			Branch: "feature-x",
			Locked: true,
		},
		Env: venv.Env{
			Executable: "/work/repo@feature-x/.venv/bin/python",
			Version:    "3.12.1",
			Packages:   []string{"numpy==1.26.0", "pyperf==2.6.1"},
			Locations:  []string{"/src/editable"},
		},
	}

	if err := te.store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := NewStore(te.store.gw, te.store.provider, te.store.opts)
	if err := reloaded.Load(false); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if reloaded.Len() != 2 {
		t.Fatalf("reloaded %d workspaces, want 2", reloaded.Len())
	}
	for name, want := range te.store.workspaces {
		got, ok := reloaded.workspaces[name]
		if !ok {
			t.Fatalf("workspace %q missing after reload", name)
		}
		if got.Name != name {
			t.Errorf("key %q holds workspace named %q", name, got.Name)
		}
		if got.Worktree != want.Worktree {
			t.Errorf("worktree mismatch for %q: got %+v, want %+v", name, got.Worktree, want.Worktree)
		}
		if got.Env.Executable != want.Env.Executable || got.Env.Version != want.Env.Version {
			t.Errorf("env mismatch for %q: got %+v, want %+v", name, got.Env, want.Env)
		}
		if len(got.Env.Packages) != len(want.Env.Packages) {
			t.Errorf("package list mismatch for %q: got %v, want %v", name, got.Env.Packages, want.Env.Packages)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	te := newTestEnv(t)

	if err := te.store.Load(true); err != nil {
		t.Errorf("Load with missingOK should tolerate absence: %v", err)
	}

	err := te.store.Load(false)
	if err == nil {
		t.Fatal("Load without missingOK should fail on a missing file")
	}
	var consErr *ConsistencyError
	if !errors.As(err, &consErr) {
		t.Errorf("error should be a ConsistencyError, got %T", err)
	}
}

func TestAutoName_SkipsTaken(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()

	if got := te.store.autoName(); got != "env_2" {
		t.Errorf("autoName = %q, want env_2", got)
	}

	te.store.workspaces["env_2"] = &Workspace{Name: "env_2"}
	te.store.workspaces["env_3"] = &Workspace{Name: "env_3"}
	if got := te.store.autoName(); got != "env_4" {
		t.Errorf("autoName = %q, want env_4", got)
	}
}

func TestNames_MainFirst(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()
	te.store.workspaces["env_3"] = &Workspace{Name: "env_3"}
	te.store.workspaces["env_2"] = &Workspace{Name: "env_2"}

	names := te.store.Names()
	want := []string{"main", "env_2", "env_3"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestGet_ByBranchAttribute(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()

	ws, err := te.store.Get(context.Background(), "master")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ws.Name != MainName {
		t.Errorf("Get(master) = %q, want main", ws.Name)
	}
}

func TestGet_ByCommitPrefix(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()

	ws, err := te.store.Get(context.Background(), commitMain[:8])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ws.Name != MainName {
		t.Errorf("Get by commit prefix = %q, want main", ws.Name)
	}
}

func TestGet_LiteralNameFallback(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()
	te.store.workspaces["env_2"] = &Workspace{Name: "env_2"}

	ws, err := te.store.Get(context.Background(), "env_2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ws.Name != "env_2" {
		t.Errorf("Get(env_2) = %q", ws.Name)
	}
}

func TestGet_NotFoundNamesAttribute(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()

	// v1.0 is a known tag but no workspace tracks it.
	_, err := te.store.Get(context.Background(), "v1.0")
	if err == nil {
		t.Fatal("Get should fail when no workspace matches")
	}
	var consErr *ConsistencyError
	if !errors.As(err, &consErr) {
		t.Fatalf("error should be a ConsistencyError, got %T", err)
	}
	if !strings.Contains(err.Error(), "tag") {
		t.Errorf("error should name the attribute kind: %v", err)
	}
}

func TestGet_UnknownIdentifier(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()

	_, err := te.store.Get(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("Get should fail for an unknown identifier")
	}
	if !strings.Contains(err.Error(), "does-not-exist") {
		t.Errorf("error should include the identifier: %v", err)
	}
}
