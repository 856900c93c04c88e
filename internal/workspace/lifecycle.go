// pattern: Imperative Shell

package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"benchtree/internal/vcs"
	"benchtree/internal/venv"
)

// CreateOptions control workspace creation.
type CreateOptions struct {
	Name    string // workspace name; auto-generated (env_<n>) when empty
	Path    string // worktree destination; derived from the ref when empty
	LinkEnv string // adopt the environment at this path instead of creating one
	Force   bool   // allow a second worktree for an already-tracked ref
	Lock    bool   // lock the new worktree against pruning
	Pin     bool   // resolve the ref to a commit and check out detached
}

// Create builds a new workspace for ref: add a worktree, create or link an
// environment, install the benchmark requirements, and insert the result
// into the store. Each side-effecting step pushes a compensating action;
// on any failure the stack unwinds in reverse and the original error is
// re-raised. The store file is only written by the enclosing manager
// context after a clean exit, so a failed create leaves it untouched.
func (s *Store) Create(ctx context.Context, ref string, opts CreateOptions) (ws *Workspace, err error) {
	name := opts.Name
	if name == "" {
		name = s.autoName()
	}
	if _, exists := s.workspaces[name]; exists {
		return nil, consistencyf("workspace %q already exists", name)
	}

	rb := newRollback(s.log)
	defer func() {
		if err == nil {
			return
		}
		if unwindErr := rb.unwind(); unwindErr != nil {
			s.log.Error("cleanup after failed create incomplete", "workspace", name, "error", unwindErr)
		}
	}()

	wt, err := s.gw.Add(ctx, ref, vcs.AddOptions{
		Path:     opts.Path,
		Force:    opts.Force,
		Checkout: true,
		Lock:     opts.Lock,
		Pin:      opts.Pin,
	})
	if err != nil {
		return nil, err
	}
	rb.push("remove worktree "+wt.Root, func() error {
		return s.gw.Remove(context.Background(), wt, true)
	})

	var env *venv.Env
	if opts.LinkEnv != "" {
		// A linked environment pre-exists and is never deleted by rollback.
		env, err = s.provider.Link(ctx, opts.LinkEnv)
		if err != nil {
			return nil, err
		}
	} else {
		env, err = s.provider.Create(ctx, s.opts.Interpreter, s.envDir(wt), nil)
		if err != nil {
			return nil, err
		}
		created := env
		rb.push("delete environment "+created.Root(), func() error {
			return s.provider.Delete(created)
		})
	}

	if spec := s.benchInstallSpec(); spec != nil {
		if err := s.provider.Install(ctx, env, *spec); err != nil {
			return nil, err
		}
	}

	rb.commit()

	ws = &Workspace{Name: name, Worktree: *wt, Env: *env}
	s.workspaces[name] = ws
	s.dirty = true
	s.log.Info("workspace created", "name", name, "ref", ref, "root", wt.Root, "commit", wt.Commit)
	return ws, nil
}

// Delete removes the identified workspace: its environment first (only when
// it lives inside the worktree), then the worktree, then the store entry.
// Unlike create there is no rollback; every completed step is kept as
// forward progress and the store persists whatever state was reached. The
// main workspace can never be deleted.
func (s *Store) Delete(ctx context.Context, identifier string, force bool) error {
	ws, err := s.Get(ctx, identifier)
	if err != nil {
		return err
	}
	if ws.Name == MainName {
		return consistencyf("the %q workspace cannot be deleted", MainName)
	}

	// Mark dirty before any mutation so a failure partway through still
	// persists the progress made.
	s.dirty = true

	if ws.EnvInsideWorktree() {
		if err := s.provider.Delete(&ws.Env); err != nil {
			return err
		}
	}

	if err := s.gw.Remove(ctx, &ws.Worktree, force); err != nil {
		return err
	}

	delete(s.workspaces, ws.Name)
	s.log.Info("workspace deleted", "name", ws.Name, "root", ws.Worktree.Root)
	return nil
}

// Switch checks out newRef in the identified workspace's worktree, keeping
// exactly one of branch/tag active and the commit in sync. When the
// worktree's directory name embeds the old ref, the directory is renamed to
// embed the new one so paths stay self-descriptive.
func (s *Store) Switch(ctx context.Context, identifier, newRef string, pin bool) (*Workspace, error) {
	ws, err := s.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}

	oldRef := ws.Worktree.Ref()
	if err := s.gw.Checkout(ctx, &ws.Worktree, newRef, pin); err != nil {
		return nil, err
	}
	s.dirty = true

	oldToken := vcs.EscapeRef(oldRef)
	base := filepath.Base(ws.Worktree.Root)
	if oldToken != "" && strings.Contains(base, oldToken) {
		newBase := strings.Replace(base, oldToken, vcs.EscapeRef(ws.Worktree.Ref()), 1)
		newPath := filepath.Join(filepath.Dir(ws.Worktree.Root), newBase)
		if err := s.gw.Move(ctx, &ws.Worktree, newPath); err != nil {
			return nil, err
		}
	}

	s.log.Info("workspace switched", "name", ws.Name, "ref", newRef, "commit", ws.Worktree.Commit)
	return ws, nil
}

// Sync reconciles the store with the worktrees git actually knows about.
// Git's list is ground truth: every worktree not yet in the store is
// adopted, linking an environment found at the conventional subpath or
// creating a fresh one. The first-seen worktree becomes "main"; later ones
// get auto-generated names. Returns the names of adopted workspaces.
func (s *Store) Sync(ctx context.Context) ([]string, error) {
	worktrees, err := s.gw.List(ctx)
	if err != nil {
		return nil, err
	}

	var adopted []string
	for i := range worktrees {
		wt := worktrees[i]
		if s.byRoot(wt.Root) != nil {
			continue
		}

		name := MainName
		if i > 0 || s.workspaces[MainName] != nil {
			name = s.autoName()
		}

		env, err := s.adoptEnv(ctx, &wt)
		if err != nil {
			return adopted, fmt.Errorf("adopting %s: %w", wt.Root, err)
		}

		s.workspaces[name] = &Workspace{Name: name, Worktree: wt, Env: *env}
		s.dirty = true
		adopted = append(adopted, name)
		s.log.Info("workspace adopted", "name", name, "root", wt.Root)
	}
	return adopted, nil
}

// adoptEnv links the environment at the worktree's conventional subpath, or
// provisions a new one with the benchmark requirements installed.
func (s *Store) adoptEnv(ctx context.Context, wt *vcs.Worktree) (*venv.Env, error) {
	conventional := filepath.Join(wt.Root, conventionalEnvDir)
	if env, err := s.provider.Link(ctx, conventional); err == nil {
		return env, nil
	}
	env, err := s.provider.Create(ctx, s.opts.Interpreter, s.envDir(wt), nil)
	if err != nil {
		return nil, err
	}
	if spec := s.benchInstallSpec(); spec != nil {
		if err := s.provider.Install(ctx, env, *spec); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// byRoot returns the workspace whose worktree root matches, or nil.
func (s *Store) byRoot(root string) *Workspace {
	for _, ws := range s.workspaces {
		if ws.Worktree.Root == root {
			return ws
		}
	}
	return nil
}
