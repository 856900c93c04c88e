package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvHomeVar overrides where runtime environments are created and linked
// from, consulted before any configured default.
const EnvHomeVar = "BENCHTREE_VENV_HOME"

// repoConfigName is the per-repository config file, at the repo root.
const repoConfigName = ".benchtree.yaml"

type Config struct {
	StorePath    string      `yaml:"store_path"` // workspace store file, repo-relative
	Python       string      `yaml:"python"`     // interpreter used for new environments
	VenvHome     string      `yaml:"venv_home"`  // where environments live; empty means inside the worktree
	PipOptions   []string    `yaml:"pip_options"`
	Requirements string      `yaml:"requirements"` // requirements file installed into new environments
	Packages     []string    `yaml:"packages"`     // extra packages installed into new environments
	LogLevel     string      `yaml:"log_level"`
	Bench        BenchConfig `yaml:"bench"`
}

type BenchConfig struct {
	Dir     string   `yaml:"dir"`     // benchmark directory, repo-relative
	Targets []string `yaml:"targets"` // benchmark target names
}

func DefaultConfig() Config {
	return Config{
		StorePath: filepath.Join(".benchtree", "workspaces.yaml"),
		Python:    "python3",
		LogLevel:  "info",
		Bench:     BenchConfig{Dir: "benchmarks"},
	}
}

// Load reads the global config from the default location.
func Load() (Config, error) {
	return LoadFrom(getConfigPath())
}

// LoadForRepo prefers the repository's own config file, falling back to the
// global one.
func LoadForRepo(repoRoot string) (Config, error) {
	repoPath := filepath.Join(repoRoot, repoConfigName)
	if _, err := os.Stat(repoPath); err == nil {
		return LoadFrom(repoPath)
	}
	return Load()
}

// LoadFrom reads config from the given path. A missing file yields the
// defaults.
func LoadFrom(configPath string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), err
	}

	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(".benchtree", "workspaces.yaml")
	}
	if cfg.Python == "" {
		cfg.Python = "python3"
	}

	return cfg, nil
}

// GetenvFunc is the function signature for environment lookups.
type GetenvFunc func(key string) string

// EnvHome returns the directory under which environments are created or
// linked, or empty when they should live inside each worktree. The
// environment variable wins over the configured value.
func (c *Config) EnvHome() string {
	return c.EnvHomeWith(os.Getenv)
}

// EnvHomeWith is EnvHome with an injected environment lookup.
func (c *Config) EnvHomeWith(getenv GetenvFunc) string {
	if home := getenv(EnvHomeVar); home != "" {
		return home
	}
	return c.VenvHome
}

// ResolveStorePath returns the absolute store file path for a repository.
func (c *Config) ResolveStorePath(repoRoot string) string {
	if filepath.IsAbs(c.StorePath) {
		return c.StorePath
	}
	return filepath.Join(repoRoot, c.StorePath)
}

func getConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "benchtree", "config.yaml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "benchtree", "config.yaml")
	}

	return filepath.Join(home, ".config", "benchtree", "config.yaml")
}
