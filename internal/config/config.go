// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "LESSOND"
	configFileName = "lessond"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	LogLevel    string

	// WorkspaceRoot is the learner's working tree; every other relative
	// path is resolved against it.
	WorkspaceRoot string
	ConfigDir     string
	StateFile     string
	ProjectsFile  string
	CatalogueFile string
	CurriculumDir string
	LogFile       string
	DBPath        string
	ClientDir     string

	DefaultLocale       string
	ClearConsoleOnWatch bool
	WatchIgnore         []string

	RaceWait        time.Duration
	TestShell       string
	DockerContainer string // empty = run tests on the host
	DockerWorkdir   string

	// RunRetention bounds how long test run history is kept; 0 keeps it forever.
	RunRetention      time.Duration
	RetentionInterval time.Duration
	MetricsInterval   time.Duration
}

// Defaults registers the default value of every key on v.
func Defaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("frontend_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("workspace_root", ".")
	v.SetDefault("config_dir", ".lessond")
	v.SetDefault("state_file", "")
	v.SetDefault("projects_file", "")
	v.SetDefault("catalogue_file", "")
	v.SetDefault("curriculum_dir", filepath.Join("curriculum", "locales"))
	v.SetDefault("log_file", filepath.Join(".lessond", "tooling.log"))
	v.SetDefault("db_path", "")
	v.SetDefault("client_dir", "")
	v.SetDefault("default_locale", "english")
	v.SetDefault("clear_console_on_watch", true)
	v.SetDefault("watch_ignore", "")
	v.SetDefault("race_wait", 100*time.Millisecond)
	v.SetDefault("test_shell", "sh")
	v.SetDefault("docker_container", "")
	v.SetDefault("docker_workdir", "/home/learner/work")
	v.SetDefault("run_retention", 30*24*time.Hour)
	v.SetDefault("retention_interval", time.Hour)
	v.SetDefault("metrics_interval", 10*time.Second)
}

// Load reads configuration from LESSOND_* environment variables and an
// optional lessond.{toml,yaml,json} file in the working directory.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	Defaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configFileName)
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	root, err := filepath.Abs(v.GetString("workspace_root"))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	cfg := &Config{
		Port:                v.GetString("port"),
		FrontendURL:         v.GetString("frontend_url"),
		LogLevel:            v.GetString("log_level"),
		WorkspaceRoot:       root,
		ConfigDir:           resolve(root, v.GetString("config_dir")),
		CurriculumDir:       resolve(root, v.GetString("curriculum_dir")),
		LogFile:             resolve(root, v.GetString("log_file")),
		ClientDir:           v.GetString("client_dir"),
		DefaultLocale:       v.GetString("default_locale"),
		ClearConsoleOnWatch: v.GetBool("clear_console_on_watch"),
		WatchIgnore:         splitList(v.GetString("watch_ignore")),
		RaceWait:            v.GetDuration("race_wait"),
		TestShell:           v.GetString("test_shell"),
		DockerContainer:     v.GetString("docker_container"),
		DockerWorkdir:       v.GetString("docker_workdir"),
		RunRetention:        v.GetDuration("run_retention"),
		RetentionInterval:   v.GetDuration("retention_interval"),
		MetricsInterval:     v.GetDuration("metrics_interval"),
	}
	cfg.StateFile = resolveOr(root, v.GetString("state_file"), filepath.Join(cfg.ConfigDir, "state.json"))
	cfg.ProjectsFile = resolveOr(root, v.GetString("projects_file"), filepath.Join(cfg.ConfigDir, "projects.json"))
	cfg.CatalogueFile = resolveOr(root, v.GetString("catalogue_file"), filepath.Join(cfg.ConfigDir, "catalogue.json"))
	cfg.DBPath = resolveOr(root, v.GetString("db_path"), filepath.Join(cfg.ConfigDir, "runs.db"))
	if cfg.ClientDir != "" {
		cfg.ClientDir = resolve(root, cfg.ClientDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("WORKSPACE_ROOT cannot be empty")
	}
	if c.StateFile == "" || c.ProjectsFile == "" || c.CatalogueFile == "" {
		return fmt.Errorf("state document paths cannot be empty")
	}
	if c.RaceWait <= 0 {
		return fmt.Errorf("RACE_WAIT must be > 0")
	}
	if c.TestShell == "" {
		return fmt.Errorf("TEST_SHELL cannot be empty")
	}
	if c.RunRetention < 0 {
		return fmt.Errorf("RUN_RETENTION must be >= 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// WatchExclusions returns the absolute paths the file watcher must skip:
// the temp log file, the config directory, VCS and editor metadata, and
// any extra ignores.
func (c *Config) WatchExclusions() []string {
	out := []string{
		c.LogFile,
		c.ConfigDir,
		filepath.Join(c.WorkspaceRoot, ".git"),
		filepath.Join(c.WorkspaceRoot, ".vscode"),
	}
	for _, p := range c.WatchIgnore {
		out = append(out, resolve(c.WorkspaceRoot, p))
	}
	return out
}

func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func resolveOr(root, p, fallback string) string {
	if p == "" {
		return fallback
	}
	return resolve(root, p)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
