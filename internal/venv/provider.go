// pattern: Imperative Shell

package venv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Env describes one isolated runtime environment: the interpreter inside it,
// its version, and the installed package state as last refreshed.
type Env struct {
	Executable string   `yaml:"executable"`
	Version    string   `yaml:"version"`
	Packages   []string `yaml:"packages"`            // name==version, pip freeze order
	Locations  []string `yaml:"locations,omitempty"` // editable/local install locations
}

// Root returns the environment's top-level directory, derived from the
// interpreter path (<root>/<bindir>/<python>).
func (e *Env) Root() string {
	return filepath.Dir(filepath.Dir(e.Executable))
}

// EnvError is a typed failure from environment creation, linking, deletion,
// or package management. Output carries the underlying tool's diagnostics.
type EnvError struct {
	Op     string
	Output string
	Err    error
}

func (e *EnvError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("environment %s: %s", e.Op, e.Output)
	}
	if e.Err != nil {
		return fmt.Sprintf("environment %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("environment %s failed", e.Op)
}

func (e *EnvError) Unwrap() error { return e.Err }

// Runner executes a subprocess and returns its combined output.
type Runner func(ctx context.Context, dir, bin string, args ...string) (string, error)

// ExecRunner returns the production Runner.
func ExecRunner() Runner {
	return func(ctx context.Context, dir, bin string, args ...string) (string, error) {
		cmd := exec.CommandContext(ctx, bin, args...)
		cmd.Dir = dir
		output, err := cmd.CombinedOutput()
		return strings.TrimSpace(string(output)), err
	}
}

// InstallSpec names what to install: either an explicit package list or a
// requirements file, never both and never neither.
type InstallSpec struct {
	Packages         []string
	RequirementsFile string
	Options          []string
}

// Provider creates, links, deletes, and manages packages in virtualenvs.
type Provider struct {
	run         Runner
	defaultOpts []string // persistently configured pip options
}

// NewProvider creates a Provider. defaultOpts are pip options applied to
// every install/uninstall before caller-supplied ones.
func NewProvider(run Runner, defaultOpts []string) *Provider {
	if run == nil {
		run = ExecRunner()
	}
	return &Provider{run: run, defaultOpts: defaultOpts}
}

// Create builds a fresh virtualenv at dir using the given interpreter and
// returns its probed spec. The interpreter path is resolved through symlinks
// first: venv embeds the path it was invoked as, and an embedded symlink
// breaks every later invocation once the symlink goes away.
func (p *Provider) Create(ctx context.Context, interpreter, dir string, opts []string) (*Env, error) {
	resolved, err := filepath.EvalSymlinks(interpreter)
	if err != nil {
		return nil, &EnvError{Op: "create", Output: fmt.Sprintf("resolving interpreter %s: %v", interpreter, err)}
	}
	args := append([]string{"-m", "venv"}, opts...)
	args = append(args, dir)
	if out, err := p.run(ctx, "", resolved, args...); err != nil {
		return nil, &EnvError{Op: "create", Output: out, Err: err}
	}
	return p.probe(ctx, dir, "create")
}

// Link adopts an existing directory as an environment. The directory must
// already contain both an interpreter and a package-manager executable;
// anything else is rejected with the missing names.
func (p *Provider) Link(ctx context.Context, dir string) (*Env, error) {
	var missing []string
	for _, name := range []string{interpreterName(), pipName()} {
		if _, err := os.Stat(filepath.Join(dir, binDirName(), name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &EnvError{Op: "link", Output: fmt.Sprintf("%s is not a virtual environment: missing %s", dir, strings.Join(missing, ", "))}
	}
	return p.probe(ctx, dir, "link")
}

// Delete removes the environment directory tree.
func (p *Provider) Delete(env *Env) error {
	if err := os.RemoveAll(env.Root()); err != nil {
		return &EnvError{Op: "delete", Err: err}
	}
	return nil
}

// Install installs packages into env and refreshes its package state.
func (p *Provider) Install(ctx context.Context, env *Env, spec InstallSpec) error {
	args, err := p.packageArgs("install", spec)
	if err != nil {
		return err
	}
	if out, err := p.run(ctx, "", env.Executable, args...); err != nil {
		return &EnvError{Op: "install", Output: out, Err: err}
	}
	return p.Refresh(ctx, env)
}

// Uninstall removes packages from env and refreshes its package state.
func (p *Provider) Uninstall(ctx context.Context, env *Env, packages []string, opts []string) error {
	if len(packages) == 0 {
		return &EnvError{Op: "uninstall", Output: "no packages given"}
	}
	args := []string{"-m", "pip", "uninstall", "-y"}
	args = append(args, dedupeOptions(p.defaultOpts, opts)...)
	args = append(args, packages...)
	if out, err := p.run(ctx, "", env.Executable, args...); err != nil {
		return &EnvError{Op: "uninstall", Output: out, Err: err}
	}
	return p.Refresh(ctx, env)
}

// ListPackages queries pip for the environment's installed packages and the
// non-default install locations of editable installs.
func (p *Provider) ListPackages(ctx context.Context, env *Env) (packages, locations []string, err error) {
	out, err := p.run(ctx, "", env.Executable, "-m", "pip", "list", "--format=freeze")
	if err != nil {
		return nil, nil, &EnvError{Op: "list", Output: out, Err: err}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if loc, ok := strings.CutPrefix(line, "-e "); ok {
			locations = append(locations, loc)
			continue
		}
		packages = append(packages, line)
	}
	return packages, locations, nil
}

// Refresh re-reads the environment's package list into env.
func (p *Provider) Refresh(ctx context.Context, env *Env) error {
	packages, locations, err := p.ListPackages(ctx, env)
	if err != nil {
		return err
	}
	env.Packages = packages
	env.Locations = locations
	return nil
}

func (p *Provider) packageArgs(verb string, spec InstallSpec) ([]string, error) {
	if len(spec.Packages) > 0 && spec.RequirementsFile != "" {
		return nil, &EnvError{Op: verb, Output: "packages and requirements file are mutually exclusive"}
	}
	if len(spec.Packages) == 0 && spec.RequirementsFile == "" {
		return nil, &EnvError{Op: verb, Output: "either packages or a requirements file is required"}
	}
	args := []string{"-m", "pip", verb}
	args = append(args, dedupeOptions(p.defaultOpts, spec.Options)...)
	if spec.RequirementsFile != "" {
		args = append(args, "-r", spec.RequirementsFile)
	} else {
		args = append(args, spec.Packages...)
	}
	return args, nil
}

// probe builds an Env from an existing environment directory.
func (p *Provider) probe(ctx context.Context, dir, op string) (*Env, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	env := &Env{Executable: filepath.Join(abs, binDirName(), interpreterName())}
	out, err := p.run(ctx, "", env.Executable, "--version")
	if err != nil {
		return nil, &EnvError{Op: op, Output: out, Err: err}
	}
	env.Version = strings.TrimSpace(strings.TrimPrefix(out, "Python"))
	if err := p.Refresh(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}

// dedupeOptions appends caller options to the configured defaults, skipping
// any the defaults already carry.
func dedupeOptions(defaults, extra []string) []string {
	merged := append([]string(nil), defaults...)
	seen := make(map[string]bool, len(defaults))
	for _, opt := range defaults {
		seen[opt] = true
	}
	for _, opt := range extra {
		if !seen[opt] {
			merged = append(merged, opt)
			seen[opt] = true
		}
	}
	return merged
}

func binDirName() string {
	if runtime.GOOS == "windows" {
		return "Scripts"
	}
	return "bin"
}

func interpreterName() string {
	if runtime.GOOS == "windows" {
		return "python.exe"
	}
	return "python"
}

func pipName() string {
	if runtime.GOOS == "windows" {
		return "pip.exe"
	}
	return "pip"
}
