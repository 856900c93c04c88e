// pattern: Imperative Shell

package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"benchtree/internal/logging"
	"benchtree/internal/vcs"
	"benchtree/internal/venv"
)

// Options wires the store's collaborators and policies.
type Options struct {
	// Path is the store file location.
	Path string
	// Interpreter is the base interpreter used to create new environments.
	Interpreter string
	// EnvHome, when non-empty, is the directory under which new
	// environments are created; otherwise they live inside each worktree.
	EnvHome string
	// Requirements are the packages the benchmark-execution subsystem
	// needs inside every environment.
	Requirements []string
	// RequirementsFile, when non-empty, is installed into new
	// environments instead of Requirements.
	RequirementsFile string
	// PipOptions are applied to installs performed during create/sync.
	PipOptions []string
	// Logs provides scoped loggers; nil disables logging.
	Logs logging.LoggerProvider
}

// Store is the in-memory name → Workspace mapping, loaded from and
// persisted to the store file. It coordinates multi-step create/delete
// operations across the version-control gateway and the environment
// provider.
type Store struct {
	gw       *vcs.Gateway
	provider *venv.Provider
	opts     Options
	log      *logging.ScopedLogger

	workspaces map[string]*Workspace
	dirty      bool
}

// NewStore creates a store over the given gateway and provider. Call Load
// (or use a Manager context) before operating on it.
func NewStore(gw *vcs.Gateway, provider *venv.Provider, opts Options) *Store {
	logs := opts.Logs
	if logs == nil {
		logs = logging.NopProvider()
	}
	return &Store{
		gw:         gw,
		provider:   provider,
		opts:       opts,
		log:        logs.For("store"),
		workspaces: make(map[string]*Workspace),
	}
}

// conventionalEnvDir is the subpath inside a worktree where sync looks for
// an adoptable environment.
const conventionalEnvDir = ".venv"

// Load reads the store file. A missing file is an error unless missingOK;
// first-time initialization passes missingOK and starts empty.
func (s *Store) Load(missingOK bool) error {
	data, err := os.ReadFile(s.opts.Path)
	if err != nil {
		if os.IsNotExist(err) && missingOK {
			s.workspaces = make(map[string]*Workspace)
			return nil
		}
		if os.IsNotExist(err) {
			return consistencyf("workspace store %s does not exist (run sync first)", s.opts.Path)
		}
		return fmt.Errorf("reading store: %w", err)
	}

	decoded := make(map[string]*Workspace)
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("parsing store %s: %w", s.opts.Path, err)
	}
	for name, ws := range decoded {
		ws.Name = name
	}
	s.workspaces = decoded
	return nil
}

// Save rewrites the store file in full. The write goes through a temp file
// and rename so a crash never leaves a torn store behind.
func (s *Store) Save() error {
	data, err := yaml.Marshal(s.workspaces)
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}
	dir := filepath.Dir(s.opts.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".workspaces-*.yaml")
	if err != nil {
		return fmt.Errorf("writing store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.opts.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing store: %w", err)
	}
	s.dirty = false
	return nil
}

// Dirty reports whether the in-memory state has diverged from the file.
func (s *Store) Dirty() bool { return s.dirty }

// Len returns the number of workspaces.
func (s *Store) Len() int { return len(s.workspaces) }

// Names returns all workspace names, main first, the rest sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.workspaces))
	for name := range s.workspaces {
		if name != MainName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := s.workspaces[MainName]; ok {
		names = append([]string{MainName}, names...)
	}
	return names
}

// All returns all workspaces in Names order.
func (s *Store) All() []*Workspace {
	names := s.Names()
	out := make([]*Workspace, 0, len(names))
	for _, name := range names {
		out = append(out, s.workspaces[name])
	}
	return out
}

// Get resolves an identifier to exactly one workspace. The identifier is
// disambiguated first; when it classifies as a worktree attribute every
// workspace's worktree is scanned for it, otherwise it is taken as a
// literal workspace name.
func (s *Store) Get(ctx context.Context, identifier string) (*Workspace, error) {
	resolved, kind, err := s.gw.Refs().Resolve(ctx, identifier, false)
	if err != nil {
		// Not a known ref or path: fall back to a literal name.
		if ws, ok := s.workspaces[identifier]; ok {
			return ws, nil
		}
		return nil, consistencyf("no workspace named %q", identifier)
	}

	for _, name := range s.Names() {
		ws := s.workspaces[name]
		if ws.Matches(kind, resolved) {
			return ws, nil
		}
	}
	if ws, ok := s.workspaces[identifier]; ok {
		return ws, nil
	}
	return nil, consistencyf("no workspace with %s %q", kind, identifier)
}

// InstallPackages installs packages or a requirements file into the
// identified workspace's environment and records the refreshed state.
func (s *Store) InstallPackages(ctx context.Context, identifier string, spec venv.InstallSpec) error {
	ws, err := s.Get(ctx, identifier)
	if err != nil {
		return err
	}
	if err := s.provider.Install(ctx, &ws.Env, spec); err != nil {
		return err
	}
	s.dirty = true
	s.log.Info("packages installed", "workspace", ws.Name, "count", len(ws.Env.Packages))
	return nil
}

// UninstallPackages removes packages from the identified workspace's
// environment and records the refreshed state.
func (s *Store) UninstallPackages(ctx context.Context, identifier string, packages, opts []string) error {
	ws, err := s.Get(ctx, identifier)
	if err != nil {
		return err
	}
	if err := s.provider.Uninstall(ctx, &ws.Env, packages, opts); err != nil {
		return err
	}
	s.dirty = true
	s.log.Info("packages uninstalled", "workspace", ws.Name, "packages", packages)
	return nil
}

// autoName generates the next free env_<n> name. With n-1 existing entries
// the generated name is env_<n>.
func (s *Store) autoName() string {
	n := len(s.workspaces) + 1
	for {
		name := fmt.Sprintf("env_%d", n)
		if _, taken := s.workspaces[name]; !taken {
			return name
		}
		n++
	}
}

// envDir decides where a new workspace's environment is created: under the
// configured env home when set, inside the worktree otherwise.
func (s *Store) envDir(wt *vcs.Worktree) string {
	if s.opts.EnvHome != "" {
		return filepath.Join(s.opts.EnvHome, filepath.Base(wt.Root))
	}
	return filepath.Join(wt.Root, conventionalEnvDir)
}

// benchInstallSpec returns the install spec for the benchmark subsystem's
// requirements, or nil when there is nothing to install.
func (s *Store) benchInstallSpec() *venv.InstallSpec {
	if s.opts.RequirementsFile != "" {
		return &venv.InstallSpec{RequirementsFile: s.opts.RequirementsFile, Options: s.opts.PipOptions}
	}
	if len(s.opts.Requirements) > 0 {
		return &venv.InstallSpec{Packages: s.opts.Requirements, Options: s.opts.PipOptions}
	}
	return nil
}
