// pattern: Imperative Shell

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"benchtree/internal/bench"
	"benchtree/internal/config"
	"benchtree/internal/logging"
	"benchtree/internal/vcs"
	"benchtree/internal/venv"
	"benchtree/internal/workspace"
)

// Service holds the wired collaborators every command operates through.
// Construction happens once per invocation; nothing here is global.
type Service struct {
	Config   config.Config
	Gateway  *vcs.Gateway
	Provider *venv.Provider
	Manager  *workspace.Manager
	Runner   bench.Runner
	Logs     logging.LoggerProvider

	logManager *logging.Manager
}

// NewService discovers the repository from the working directory, loads
// configuration, and wires the gateway, provider, store, and manager.
func NewService(ctx context.Context) (*Service, error) {
	run := vcs.ExecRunner("")

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	repoRoot, err := vcs.DiscoverRoot(ctx, run, cwd)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadForRepo(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logManager, err := logging.NewManager(logging.Config{
		FilePath: filepath.Join(repoRoot, ".benchtree", "benchtree.log"),
		Level:    cfg.LogLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	gw := vcs.NewGateway(repoRoot, run)
	provider := venv.NewProvider(venv.ExecRunner(), cfg.PipOptions)
	runner := &bench.SubprocessRunner{Dir: cfg.Bench.Dir, Packages: cfg.Packages}

	store := workspace.NewStore(gw, provider, workspace.Options{
		Path:             cfg.ResolveStorePath(repoRoot),
		Interpreter:      cfg.Python,
		EnvHome:          cfg.EnvHome(),
		Requirements:     runner.Requirements(),
		RequirementsFile: cfg.Requirements,
		PipOptions:       cfg.PipOptions,
		Logs:             logManager,
	})

	return &Service{
		Config:     cfg,
		Gateway:    gw,
		Provider:   provider,
		Manager:    workspace.NewManager(store),
		Runner:     runner,
		Logs:       logManager,
		logManager: logManager,
	}, nil
}

// Close flushes and releases the service's resources.
func (s *Service) Close() {
	if s.logManager != nil {
		_ = s.logManager.Close()
	}
}

// Exit codes: typed, user-facing failures exit 1; anything unrecognized is
// a fatal crash with a distinct code, the signal that an unhandled case
// needs a new typed error.
const (
	exitFailure = 1
	exitFatal   = 70
)

// reportError prints a single-line diagnostic for err and returns the exit
// code to use.
func reportError(w io.Writer, err error) int {
	var gitErr *vcs.GitError
	var envErr *venv.EnvError
	var consErr *workspace.ConsistencyError
	if errors.As(err, &gitErr) || errors.As(err, &envErr) || errors.As(err, &consErr) {
		fmt.Fprintf(w, "benchtree: %v\n", err)
		return exitFailure
	}
	fmt.Fprintf(w, "benchtree: fatal: %v\n", err)
	return exitFatal
}

// exitOnError is the CLI error boundary: report and exit on failure.
func exitOnError(err error) {
	if err == nil {
		return
	}
	os.Exit(reportError(os.Stderr, err))
}
