package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Default locations under the user's home directory.
const (
	DefaultDir        = ".codeloop"
	DefaultConfigFile = ".codeloop/config.json"
	DefaultDBFile     = ".codeloop/codeloop.db"
	DefaultReposDir   = ".codeloop/repos"
	DefaultStateFile  = ".codeloop/state.json"
)

// envBindings maps config keys to the environment variables recognised by the
// runtime. Environment values override the config file.
var envBindings = []struct{ key, env string }{
	{"database.driver", "DB_DRIVER"},
	{"database.path", "DB_PATH"},
	{"database.dsn", "DB_DSN"},
	{"model.type", "MODEL_TYPE"},
	{"model.name", "MODEL_NAME"},
	{"model.base_url", "MODEL_BASE_URL"},
	{"model.api_key", "MODEL_API_KEY"},
	{"model.file_path", "MODEL_FILE_PATH"},
	{"workers.count", "WORKER_COUNT"},
	{"workers.max_retries", "MAX_RETRIES"},
	{"workers.task_timeout", "TASK_TIMEOUT"},
	{"workers.test_command", "TEST_COMMAND"},
	{"workers.task_file", "TASK_FILE"},
	{"git.branch", "BRANCH"},
	{"git.auto_push", "AUTO_PUSH"},
	{"git.github_token", "GITHUB_TOKEN"},
	{"git.gitlab_token", "GITLAB_TOKEN"},
	{"http.host", "HTTP_HOST"},
	{"http.port", "HTTP_PORT"},
	{"supervisor.checkpoint_days", "CHECKPOINT_DAYS"},
	{"supervisor.state_save_interval", "STATE_SAVE_INTERVAL"},
	{"supervisor.max_log_entries", "MAX_LOG_ENTRIES"},
	{"reviewer.enabled", "REVIEWER_ENABLED"},
	{"reviewer.workers", "REVIEWER_WORKERS"},
	{"reviewer.interval", "REVIEW_INTERVAL"},
	{"reviewer.deep_interval", "DEEP_REVIEW_INTERVAL"},
	{"reviewer.create_followups", "CREATE_FOLLOWUP_TASKS"},
	{"reviewer.major_grace_days", "MAJOR_TASK_GRACE_PERIOD_DAYS"},
	{"repos.base_dir", "REPOS_BASE_DIR"},
	{"repos.max_connected", "MAX_CONNECTED_REPOS"},
	{"repos.auto_pull", "AUTO_PULL_UPDATES"},
	{"repos.auto_scan", "AUTO_SCAN_REPOS"},
	{"log.level", "LOG_LEVEL"},
}

// Load reads the config file (if present), applies defaults and environment
// overrides, and expands relative paths.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(Path())
	v.SetConfigType("json")

	setDefaults(v)
	for _, b := range envBindings {
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", b.env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Debug("config: no config file, using defaults", "path", Path())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandPaths(&cfg)
	return &cfg, nil
}

// Save writes cfg to the config file, creating the directory if needed.
func Save(cfg *Config) error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Dir returns the codeloop home directory (~/.codeloop).
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, DefaultDir)
}

// Path returns the config file location, honouring CODELOOP_CONFIG.
func Path() string {
	if p := os.Getenv("CODELOOP_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, DefaultConfigFile)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "")
	v.SetDefault("model.type", "http-local")
	v.SetDefault("model.name", "codellama")
	v.SetDefault("model.base_url", "http://localhost:11434")
	v.SetDefault("workers.count", 3)
	v.SetDefault("workers.max_retries", 3)
	v.SetDefault("workers.task_timeout", 300)
	v.SetDefault("workers.test_command", "go test ./...")
	v.SetDefault("workers.default_filename", "main.go")
	v.SetDefault("git.branch", "main")
	v.SetDefault("git.auto_push", false)
	v.SetDefault("git.author_name", "codeloop-agent")
	v.SetDefault("git.author_email", "codeloop-agent@localhost")
	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 6090)
	v.SetDefault("supervisor.checkpoint_days", 7)
	v.SetDefault("supervisor.state_save_interval", 3600)
	v.SetDefault("supervisor.max_log_entries", 10000)
	v.SetDefault("supervisor.completed_retention_days", 30)
	v.SetDefault("supervisor.reports_dir", "reports")
	v.SetDefault("reviewer.enabled", true)
	v.SetDefault("reviewer.workers", 2)
	v.SetDefault("reviewer.interval", 300)
	v.SetDefault("reviewer.deep_interval", 1800)
	v.SetDefault("reviewer.create_followups", true)
	v.SetDefault("reviewer.major_grace_days", 7)
	v.SetDefault("repos.max_connected", 10)
	v.SetDefault("repos.auto_pull", false)
	v.SetDefault("repos.auto_scan", false)
	v.SetDefault("log.level", "info")
}

// expandPaths fills in home-relative defaults for paths left empty.
func expandPaths(cfg *Config) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(home, DefaultDBFile)
	}
	if cfg.Repos.BaseDir == "" {
		cfg.Repos.BaseDir = filepath.Join(home, DefaultReposDir)
	}
	if cfg.Supervisor.StateFile == "" {
		cfg.Supervisor.StateFile = filepath.Join(home, DefaultStateFile)
	}
	for _, p := range []*string{
		&cfg.Database.Path, &cfg.Repos.BaseDir, &cfg.Supervisor.StateFile,
		&cfg.Model.FilePath, &cfg.Workers.TaskFile,
	} {
		*p = expandHome(home, *p)
	}
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// SlogLevel maps cfg.Log.Level onto a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
