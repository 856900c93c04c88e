// pattern: Imperative Shell
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"benchtree/internal/bench"
	"benchtree/internal/venv"
	"benchtree/internal/workspace"
)

// BuildApp constructs the CLI application with all commands registered.
func BuildApp(version string) *App {
	app := NewApp(version)

	app.AddCommand(&Command{
		Name:    "version",
		Summary: "Print the benchtree version",
		Usage:   "Usage: benchtree version",
		Run: func(args []string) error {
			fmt.Printf("benchtree %s\n", version)
			return nil
		},
	})

	app.AddCommand(&Command{
		Name:    "run",
		Summary: "Run benchmark targets across workspaces",
		Usage:   "Usage: benchtree run [--workspace <id>]... [target...]",
		Run:     runBenchmarks,
	})

	group := app.AddGroup("workspace", "Manage benchmark workspaces")
	registerWorkspaceCommands(group)

	return app
}

// withService builds the service and runs fn through the error boundary.
func withService(fn func(ctx context.Context, svc *Service) error) error {
	ctx := context.Background()
	svc, err := NewService(ctx)
	if err != nil {
		exitOnError(err)
		return err
	}
	defer svc.Close()
	if err := fn(ctx, svc); err != nil {
		exitOnError(err)
		return err
	}
	return nil
}

func registerWorkspaceCommands(group *Group) {
	group.AddCommand(&Command{
		Name:    "create",
		Summary: "Create a workspace for a ref",
		Usage:   "Usage: benchtree workspace create <ref> [--name <name>] [--path <dir>] [--link-env <dir>] [--force] [--lock] [--pin]",
		Run: func(args []string) error {
			fs := flag.NewFlagSet("workspace create", flag.ExitOnError)
			name := fs.String("name", "", "workspace name (default: auto-generated)")
			path := fs.String("path", "", "worktree destination directory")
			linkEnv := fs.String("link-env", "", "adopt an existing environment instead of creating one")
			force := fs.Bool("force", false, "allow a second worktree for an already-tracked ref")
			lock := fs.Bool("lock", false, "lock the new worktree against pruning")
			pin := fs.Bool("pin", false, "pin to the resolved commit (detached checkout)")
			if err := fs.Parse(args); err != nil {
				return err
			}
			if fs.NArg() != 1 {
				fmt.Fprintln(os.Stderr, "Usage: benchtree workspace create <ref> [options]")
				os.Exit(1)
			}

			return withService(func(ctx context.Context, svc *Service) error {
				return svc.Manager.Update(func(s *workspace.Store) error {
					ws, err := s.Create(ctx, fs.Arg(0), workspace.CreateOptions{
						Name:    *name,
						Path:    *path,
						LinkEnv: *linkEnv,
						Force:   *force,
						Lock:    *lock,
						Pin:     *pin,
					})
					if err != nil {
						return err
					}
					fmt.Printf("created workspace %s at %s (%s)\n", ws.Name, ws.Worktree.Root, shortCommit(ws.Worktree.Commit))
					return nil
				})
			})
		},
	})

	group.AddCommand(&Command{
		Name:    "delete",
		Summary: "Delete a workspace",
		Usage:   "Usage: benchtree workspace delete <name|ref|path> [--force]",
		Run: func(args []string) error {
			fs := flag.NewFlagSet("workspace delete", flag.ExitOnError)
			force := fs.Bool("force", false, "discard uncommitted changes in the worktree")
			if err := fs.Parse(args); err != nil {
				return err
			}
			if fs.NArg() != 1 {
				fmt.Fprintln(os.Stderr, "Usage: benchtree workspace delete <name|ref|path> [--force]")
				os.Exit(1)
			}

			return withService(func(ctx context.Context, svc *Service) error {
				return svc.Manager.Update(func(s *workspace.Store) error {
					if err := s.Delete(ctx, fs.Arg(0), *force); err != nil {
						return err
					}
					fmt.Printf("deleted workspace %s\n", fs.Arg(0))
					return nil
				})
			})
		},
	})

	group.AddCommand(&Command{
		Name:    "list",
		Summary: "List workspaces",
		Usage:   "Usage: benchtree workspace list",
		Run: func(args []string) error {
			return withService(func(ctx context.Context, svc *Service) error {
				return svc.Manager.View(func(s *workspace.Store) error {
					fmt.Print(renderList(s.All()))
					return nil
				})
			})
		},
	})

	group.AddCommand(&Command{
		Name:    "switch",
		Summary: "Switch a workspace to another ref",
		Usage:   "Usage: benchtree workspace switch <name|ref|path> <new-ref> [--pin]",
		Run: func(args []string) error {
			fs := flag.NewFlagSet("workspace switch", flag.ExitOnError)
			pin := fs.Bool("pin", false, "pin to the resolved commit (detached checkout)")
			if err := fs.Parse(args); err != nil {
				return err
			}
			if fs.NArg() != 2 {
				fmt.Fprintln(os.Stderr, "Usage: benchtree workspace switch <name|ref|path> <new-ref> [--pin]")
				os.Exit(1)
			}

			return withService(func(ctx context.Context, svc *Service) error {
				return svc.Manager.Update(func(s *workspace.Store) error {
					ws, err := s.Switch(ctx, fs.Arg(0), fs.Arg(1), *pin)
					if err != nil {
						return err
					}
					fmt.Printf("switched %s to %s (%s)\n", ws.Name, ws.Worktree.Ref(), shortCommit(ws.Worktree.Commit))
					return nil
				})
			})
		},
	})

	group.AddCommand(&Command{
		Name:    "sync",
		Summary: "Reconcile the store with git's worktrees",
		Usage:   "Usage: benchtree workspace sync",
		Run: func(args []string) error {
			return withService(func(ctx context.Context, svc *Service) error {
				return svc.Manager.Update(func(s *workspace.Store) error {
					adopted, err := s.Sync(ctx)
					if err != nil {
						return err
					}
					if len(adopted) == 0 {
						fmt.Println("store is up to date")
					} else {
						fmt.Printf("adopted %d workspace(s): %v\n", len(adopted), adopted)
					}
					return nil
				})
			})
		},
	})

	group.AddCommand(&Command{
		Name:    "install",
		Summary: "Install packages into a workspace's environment",
		Usage:   "Usage: benchtree workspace install <name|ref|path> [package...] [-r <file>] [--pip-opt <opt>]...",
		Run: func(args []string) error {
			fs := flag.NewFlagSet("workspace install", flag.ExitOnError)
			reqFile := fs.StringP("requirements", "r", "", "install from a requirements file")
			pipOpts := fs.StringArray("pip-opt", nil, "extra pip option (repeatable)")
			if err := fs.Parse(args); err != nil {
				return err
			}
			if fs.NArg() < 1 {
				fmt.Fprintln(os.Stderr, "Usage: benchtree workspace install <name|ref|path> [package...] [-r <file>]")
				os.Exit(1)
			}

			return withService(func(ctx context.Context, svc *Service) error {
				return svc.Manager.Update(func(s *workspace.Store) error {
					return s.InstallPackages(ctx, fs.Arg(0), venv.InstallSpec{
						Packages:         fs.Args()[1:],
						RequirementsFile: *reqFile,
						Options:          *pipOpts,
					})
				})
			})
		},
	})

	group.AddCommand(&Command{
		Name:    "uninstall",
		Summary: "Uninstall packages from a workspace's environment",
		Usage:   "Usage: benchtree workspace uninstall <name|ref|path> <package...> [--pip-opt <opt>]...",
		Run: func(args []string) error {
			fs := flag.NewFlagSet("workspace uninstall", flag.ExitOnError)
			pipOpts := fs.StringArray("pip-opt", nil, "extra pip option (repeatable)")
			if err := fs.Parse(args); err != nil {
				return err
			}
			if fs.NArg() < 2 {
				fmt.Fprintln(os.Stderr, "Usage: benchtree workspace uninstall <name|ref|path> <package...>")
				os.Exit(1)
			}

			return withService(func(ctx context.Context, svc *Service) error {
				return svc.Manager.Update(func(s *workspace.Store) error {
					return s.UninstallPackages(ctx, fs.Arg(0), fs.Args()[1:], *pipOpts)
				})
			})
		},
	})

	group.AddCommand(&Command{
		Name:    "repair",
		Summary: "Repair worktree bookkeeping after manual moves",
		Usage:   "Usage: benchtree workspace repair",
		Run: func(args []string) error {
			return withService(func(ctx context.Context, svc *Service) error {
				return svc.Manager.View(func(s *workspace.Store) error {
					for _, ws := range s.All() {
						if err := svc.Gateway.Repair(ctx, &ws.Worktree); err != nil {
							return err
						}
					}
					fmt.Printf("repaired %d worktree(s)\n", s.Len())
					return nil
				})
			})
		},
	})

	group.AddCommand(&Command{
		Name:    "watch",
		Summary: "Watch for out-of-band worktree changes and sync",
		Usage:   "Usage: benchtree workspace watch [--debounce <duration>]",
		Run: func(args []string) error {
			fs := flag.NewFlagSet("workspace watch", flag.ExitOnError)
			debounce := fs.Duration("debounce", 500*time.Millisecond, "settle time before reconciling")
			if err := fs.Parse(args); err != nil {
				return err
			}

			return withService(func(ctx context.Context, svc *Service) error {
				log := svc.Logs.For("watch")
				// Worktrees are created as siblings of the repo root by
				// default, so its parent is where drift shows up.
				dirs := []string{parentDir(svc.Gateway.RepoRoot())}
				return workspace.Watch(ctx, dirs, *debounce, log, func() {
					err := svc.Manager.Update(func(s *workspace.Store) error {
						adopted, err := s.Sync(ctx)
						if err != nil {
							return err
						}
						if len(adopted) > 0 {
							fmt.Printf("adopted %v\n", adopted)
						}
						return nil
					})
					if err != nil {
						fmt.Fprintf(os.Stderr, "benchtree: sync: %v\n", err)
					}
				})
			})
		},
	})
}

// runBenchmarks executes benchmark targets across workspaces, sequentially
// and in input order.
func runBenchmarks(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	wsFilter := fs.StringArray("workspace", nil, "workspace to run in (repeatable; default: all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withService(func(ctx context.Context, svc *Service) error {
		return svc.Manager.View(func(s *workspace.Store) error {
			selected, err := selectWorkspaces(ctx, s, *wsFilter)
			if err != nil {
				return err
			}

			for _, ws := range selected {
				targets := fs.Args()
				if len(targets) == 0 {
					targets, err = bench.Discover(ws.Worktree.Root, svc.Config.Bench.Dir)
					if err != nil {
						return err
					}
				}
				for _, target := range targets {
					result, err := svc.Runner.Run(ctx, ws, target)
					if err != nil {
						return err
					}
					fmt.Println(renderResult(result))
				}
			}
			return nil
		})
	})
}

// selectWorkspaces resolves the --workspace filters in input order, or
// returns all workspaces when no filter was given.
func selectWorkspaces(ctx context.Context, s *workspace.Store, filters []string) ([]*workspace.Workspace, error) {
	if len(filters) == 0 {
		return s.All(), nil
	}
	selected := make([]*workspace.Workspace, 0, len(filters))
	for _, id := range filters {
		ws, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		selected = append(selected, ws)
	}
	return selected, nil
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
