package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"benchtree/internal/vcs"
)

func TestCreate_AutoNamedBranchWorkspace(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()

	ws, err := te.store.Create(context.Background(), "feature-x", CreateOptions{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if ws.Name != "env_2" {
		t.Errorf("Name = %q, want env_2", ws.Name)
	}
	if ws.Worktree.Branch != "feature-x" {
		t.Errorf("Branch = %q, want feature-x", ws.Worktree.Branch)
	}
	if ws.Worktree.Commit != commitFeature {
		t.Errorf("Commit = %q, want %q", ws.Worktree.Commit, commitFeature)
	}
	if ws.Worktree.Tag != "" {
		t.Errorf("Tag should be empty, got %q", ws.Worktree.Tag)
	}
	if !te.store.Dirty() {
		t.Error("store should be dirty after create")
	}

	// The environment lives inside the worktree by default and carries the
	// benchmark requirements.
	if !ws.EnvInsideWorktree() {
		t.Errorf("environment at %s should be inside worktree %s", ws.Env.Root(), ws.Worktree.Root)
	}
	if len(ws.Env.Packages) == 0 {
		t.Error("environment should have the benchmark requirements installed")
	}
}

func TestCreate_DuplicateNameRejected(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()

	_, err := te.store.Create(context.Background(), "feature-x", CreateOptions{Name: MainName})
	if err == nil {
		t.Fatal("Create with a taken name should fail")
	}
	var consErr *ConsistencyError
	if !errors.As(err, &consErr) {
		t.Errorf("error should be a ConsistencyError, got %T", err)
	}
	// The failure happens before any side effect.
	if te.git.sawCommand("worktree", "add") {
		t.Error("no worktree should be created for a duplicate name")
	}
}

func TestCreate_RollbackOnInstallFailure(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()
	te.py.failOn = "pip install"

	before := len(te.git.worktrees)
	_, err := te.store.Create(context.Background(), "feature-x", CreateOptions{})
	if err == nil {
		t.Fatal("Create should fail when package installation fails")
	}
	if !strings.Contains(err.Error(), "pip install") {
		t.Errorf("original install error should surface: %v", err)
	}

	// The worktree added in step 1 is removed again.
	if len(te.git.worktrees) != before {
		t.Errorf("worktree count = %d, want %d after rollback", len(te.git.worktrees), before)
	}
	if !te.git.sawCommand("worktree", "remove") {
		t.Error("rollback should remove the created worktree")
	}

	// The environment created in step 2 is deleted again.
	envDir := filepath.Join(filepath.Dir(te.git.repoRoot), "repo@feature-x", conventionalEnvDir)
	if _, statErr := os.Stat(envDir); !os.IsNotExist(statErr) {
		t.Errorf("environment %s should be deleted by rollback", envDir)
	}

	// Nothing was inserted and nothing is pending persistence.
	if _, ok := te.store.workspaces["env_2"]; ok {
		t.Error("failed create must not insert a workspace")
	}
	if te.store.Dirty() {
		t.Error("failed create must leave the store clean")
	}
}

func TestCreate_LinkedEnvironmentNotDeletedOnRollback(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()
	te.py.failOn = "pip install"

	// A pre-existing environment outside any worktree.
	external := filepath.Join(t.TempDir(), "shared-env")
	for _, name := range []string{"python", "pip"} {
		path := filepath.Join(external, "bin", name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0755); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	_, err := te.store.Create(context.Background(), "feature-x", CreateOptions{LinkEnv: external})
	if err == nil {
		t.Fatal("Create should fail when package installation fails")
	}

	// The linked environment survives rollback.
	if _, statErr := os.Stat(filepath.Join(external, "bin", "python")); statErr != nil {
		t.Errorf("linked environment must not be deleted by rollback: %v", statErr)
	}
}

func TestCreate_PinnedDetachesFromBranch(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()

	ws, err := te.store.Create(context.Background(), "feature-x", CreateOptions{Pin: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ws.Worktree.Branch != "" {
		t.Errorf("pinned workspace should have no branch, got %q", ws.Worktree.Branch)
	}
	if ws.Worktree.Commit != commitFeature {
		t.Errorf("Commit = %q, want %q", ws.Worktree.Commit, commitFeature)
	}
}

func TestDelete_RemovesWorkspace(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()
	if _, err := te.store.Create(context.Background(), "feature-x", CreateOptions{}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := te.store.Delete(context.Background(), "env_2", false); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if te.store.Len() != 1 {
		t.Errorf("store has %d workspaces, want only main", te.store.Len())
	}
	if _, ok := te.store.workspaces[MainName]; !ok {
		t.Error("main workspace must survive")
	}
	if !te.git.sawCommand("worktree", "remove") {
		t.Error("delete should remove the worktree")
	}
}

func TestDelete_MainAlwaysRejected(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()

	for _, force := range []bool{false, true} {
		err := te.store.Delete(context.Background(), MainName, force)
		if err == nil {
			t.Fatalf("Delete(main, force=%v) must fail", force)
		}
		var consErr *ConsistencyError
		if !errors.As(err, &consErr) {
			t.Errorf("error should be a ConsistencyError, got %T", err)
		}
	}
	if _, ok := te.store.workspaces[MainName]; !ok {
		t.Error("main workspace must still exist")
	}
}

func TestDelete_ExternalEnvironmentKept(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()

	external := filepath.Join(t.TempDir(), "shared-env")
	for _, name := range []string{"python", "pip"} {
		path := filepath.Join(external, "bin", name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0755); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	if _, err := te.store.Create(context.Background(), "feature-x", CreateOptions{LinkEnv: external}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := te.store.Delete(context.Background(), "env_2", false); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(external, "bin", "python")); err != nil {
		t.Errorf("externally linked environment must not be deleted: %v", err)
	}
}

func TestSwitch_BranchToTag(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()
	if _, err := te.store.Create(context.Background(), "feature-x", CreateOptions{}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ws, err := te.store.Switch(context.Background(), "env_2", "v1.0", false)
	if err != nil {
		t.Fatalf("Switch failed: %v", err)
	}

	if ws.Worktree.Branch != "" {
		t.Errorf("Branch should be cleared, got %q", ws.Worktree.Branch)
	}
	if ws.Worktree.Tag != "v1.0" {
		t.Errorf("Tag = %q, want v1.0", ws.Worktree.Tag)
	}
	if ws.Worktree.Commit != commitTagged {
		t.Errorf("Commit = %q, want %q", ws.Worktree.Commit, commitTagged)
	}

	// The directory name embedded the old ref and is renamed to match.
	if base := filepath.Base(ws.Worktree.Root); base != "repo@v1.0" {
		t.Errorf("worktree directory = %q, want repo@v1.0", base)
	}

	// get(name) after switch observes the same state.
	got, err := te.store.Get(context.Background(), "env_2")
	if err != nil {
		t.Fatalf("Get after switch failed: %v", err)
	}
	branchSet := got.Worktree.Branch != ""
	tagSet := got.Worktree.Tag != ""
	if branchSet == tagSet {
		t.Errorf("exactly one of branch/tag must be set, got branch=%q tag=%q", got.Worktree.Branch, got.Worktree.Tag)
	}
}

func TestSync_AdoptsUnknownWorktrees(t *testing.T) {
	te := newTestEnv(t)

	extra := filepath.Join(filepath.Dir(te.git.repoRoot), "repo@feature-x")
	te.git.worktrees = append(te.git.worktrees, vcs.Worktree{
		Root: extra, Commit: commitFeature, Branch: "feature-x",
	})

	adopted, err := te.store.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	want := []string{"main", "env_2"}
	if len(adopted) != len(want) {
		t.Fatalf("adopted = %v, want %v", adopted, want)
	}
	for i := range want {
		if adopted[i] != want[i] {
			t.Errorf("adopted[%d] = %q, want %q", i, adopted[i], want[i])
		}
	}

	main := te.store.workspaces[MainName]
	if main == nil || main.Worktree.Root != te.git.repoRoot {
		t.Fatalf("main workspace should track the main worktree, got %+v", main)
	}
	second := te.store.workspaces["env_2"]
	if second == nil || second.Worktree.Branch != "feature-x" {
		t.Fatalf("env_2 should track feature-x, got %+v", second)
	}
}

func TestSync_SecondRunIsNoop(t *testing.T) {
	te := newTestEnv(t)

	if _, err := te.store.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}
	adopted, err := te.store.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}
	if len(adopted) != 0 {
		t.Errorf("second Sync adopted %v, want nothing", adopted)
	}
}

func TestSync_LinksConventionalEnvironment(t *testing.T) {
	te := newTestEnv(t)

	extra := filepath.Join(filepath.Dir(te.git.repoRoot), "repo@feature-x")
	for _, root := range []string{te.git.repoRoot, extra} {
		for _, name := range []string{"python", "pip"} {
			path := filepath.Join(root, conventionalEnvDir, "bin", name)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}
			if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0755); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
	}
	te.git.worktrees = append(te.git.worktrees, vcs.Worktree{
		Root: extra, Commit: commitFeature, Branch: "feature-x",
	})

	if _, err := te.store.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	ws := te.store.workspaces["env_2"]
	if ws == nil {
		t.Fatal("env_2 missing after sync")
	}
	wantExec := filepath.Join(extra, conventionalEnvDir, "bin", "python")
	if ws.Env.Executable != wantExec {
		t.Errorf("Executable = %q, want linked %q", ws.Env.Executable, wantExec)
	}

	// Linking must not create a fresh environment.
	for _, call := range te.py.calls {
		for _, arg := range call {
			if arg == "venv" {
				t.Fatalf("sync created an environment instead of linking: %v", call)
			}
		}
	}
}

// The end-to-end lifecycle: create an auto-named workspace for a branch,
// delete it, and verify main stays protected throughout.
func TestLifecycle_CreateDeleteProtectMain(t *testing.T) {
	te := newTestEnv(t)
	te.seedMain()

	ws, err := te.store.Create(context.Background(), "feature-x", CreateOptions{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ws.Name != "env_2" {
		t.Errorf("Name = %q, want env_2", ws.Name)
	}
	if ws.Worktree.Branch != "feature-x" || ws.Worktree.Commit != commitFeature {
		t.Errorf("worktree = %+v, want feature-x at %s", ws.Worktree, commitFeature)
	}

	if err := te.store.Delete(context.Background(), "env_2", false); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if te.store.Len() != 1 {
		t.Fatalf("store has %d workspaces, want only main", te.store.Len())
	}

	err = te.store.Delete(context.Background(), MainName, false)
	var consErr *ConsistencyError
	if !errors.As(err, &consErr) {
		t.Fatalf("Delete(main) = %v, want ConsistencyError", err)
	}
}
