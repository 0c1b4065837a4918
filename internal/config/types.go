package config

// Config is the root configuration structure for codeloop.
// Serialised to ~/.codeloop/config.json; every leaf is also bound to an
// environment variable (see Load).
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"   json:"database"`
	Model      ModelConfig      `mapstructure:"model"      json:"model"`
	Workers    WorkerConfig     `mapstructure:"workers"    json:"workers"`
	Git        GitConfig        `mapstructure:"git"        json:"git"`
	HTTP       HTTPConfig       `mapstructure:"http"       json:"http"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" json:"supervisor"`
	Reviewer   ReviewerConfig   `mapstructure:"reviewer"   json:"reviewer"`
	Repos      ReposConfig      `mapstructure:"repos"      json:"repos"`
	Log        LogConfig        `mapstructure:"log"        json:"log"`
}

// DatabaseConfig controls the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime). Env: DB_PATH.
	Path string `mapstructure:"path" json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn" json:"dsn"`
}

// ModelConfig selects and configures the generation backend.
type ModelConfig struct {
	// Type is "http-local" (default), "hosted" or "file-backed". Env: MODEL_TYPE.
	Type string `mapstructure:"type" json:"type"`
	// Name is the backend model name. Env: MODEL_NAME.
	Name string `mapstructure:"name" json:"name"`
	// BaseURL is the endpoint for http-local / hosted. Env: MODEL_BASE_URL.
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	// APIKey authenticates the hosted backend. Env: MODEL_API_KEY.
	APIKey string `mapstructure:"api_key" json:"api_key"`
	// FilePath is the response template for file-backed. Env: MODEL_FILE_PATH.
	FilePath string `mapstructure:"file_path" json:"file_path"`
}

// WorkerConfig controls the primary execution pool and the validator.
type WorkerConfig struct {
	// Count is the number of primary workers (>=1). Env: WORKER_COUNT.
	Count int `mapstructure:"count" json:"count"`
	// MaxRetries is the default retry budget per task. Env: MAX_RETRIES.
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
	// TaskTimeoutSec bounds model calls and the test run. Env: TASK_TIMEOUT.
	TaskTimeoutSec int `mapstructure:"task_timeout" json:"task_timeout"`
	// TestCommand runs inside the validator workspace.
	TestCommand string `mapstructure:"test_command" json:"test_command"`
	// DefaultFilename receives unnamed code blocks.
	DefaultFilename string `mapstructure:"default_filename" json:"default_filename"`
	// TaskFile, when set, is watched and loaded as a JSON/YAML task list.
	TaskFile string `mapstructure:"task_file" json:"task_file"`
}

// GitConfig controls commit behaviour and forge credentials.
type GitConfig struct {
	// Branch is the commit branch. Upstream deployments disagree on the
	// default ("main" vs "master"), so it stays configuration. Env: BRANCH.
	Branch string `mapstructure:"branch" json:"branch"`
	// AutoPush pushes after every successful commit. Env: AUTO_PUSH.
	AutoPush bool `mapstructure:"auto_push" json:"auto_push"`
	// GitHubToken authenticates github.com clones and API lookups.
	GitHubToken string `mapstructure:"github_token" json:"github_token"`
	// GitLabToken authenticates gitlab.com clones and API lookups.
	GitLabToken string `mapstructure:"gitlab_token" json:"gitlab_token"`
	// AuthorName / AuthorEmail sign the generated commits.
	AuthorName  string `mapstructure:"author_name"  json:"author_name"`
	AuthorEmail string `mapstructure:"author_email" json:"author_email"`
}

// HTTPConfig controls the control-plane listener.
type HTTPConfig struct {
	Host string `mapstructure:"host" json:"host"` // Env: HTTP_HOST
	Port int    `mapstructure:"port" json:"port"` // Env: HTTP_PORT
}

// SupervisorConfig controls snapshots, retention and the weekly checkpoint.
type SupervisorConfig struct {
	// CheckpointDays is the checkpoint cadence (>=1; 0 fires immediately,
	// used by tests). Env: CHECKPOINT_DAYS.
	CheckpointDays int `mapstructure:"checkpoint_days" json:"checkpoint_days"`
	// StateSaveIntervalSec is the snapshot cadence. Env: STATE_SAVE_INTERVAL.
	StateSaveIntervalSec int `mapstructure:"state_save_interval" json:"state_save_interval"`
	// MaxLogEntries bounds the events table. Env: MAX_LOG_ENTRIES.
	MaxLogEntries int `mapstructure:"max_log_entries" json:"max_log_entries"`
	// CompletedRetentionDays prunes terminal tasks older than this.
	CompletedRetentionDays int `mapstructure:"completed_retention_days" json:"completed_retention_days"`
	// StateFile is the human-readable snapshot fallback.
	StateFile string `mapstructure:"state_file" json:"state_file"`
	// ReportsDir receives weekly summary reports.
	ReportsDir string `mapstructure:"reports_dir" json:"reports_dir"`
}

// ReviewerConfig controls the tireless reviewer pool.
type ReviewerConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"` // Env: REVIEWER_ENABLED
	// Workers is the review pool size. Env: REVIEWER_WORKERS.
	Workers int `mapstructure:"workers" json:"workers"`
	// IntervalSec is the primary cadence. Env: REVIEW_INTERVAL.
	IntervalSec int `mapstructure:"interval" json:"interval"`
	// DeepIntervalSec is the deep cadence. Env: DEEP_REVIEW_INTERVAL.
	DeepIntervalSec int `mapstructure:"deep_interval" json:"deep_interval"`
	// CreateFollowups enqueues follow-up tasks for critical findings.
	// Env: CREATE_FOLLOWUP_TASKS.
	CreateFollowups bool `mapstructure:"create_followups" json:"create_followups"`
	// MajorGraceDays exempts fresh "major" tasks from review.
	// Env: MAJOR_TASK_GRACE_PERIOD_DAYS.
	MajorGraceDays int `mapstructure:"major_grace_days" json:"major_grace_days"`
}

// ReposConfig controls the repository registry.
type ReposConfig struct {
	// BaseDir holds cloned repositories and the sidecar file. Env: REPOS_BASE_DIR.
	BaseDir string `mapstructure:"base_dir" json:"base_dir"`
	// MaxConnected caps the number of bindings. Env: MAX_CONNECTED_REPOS.
	MaxConnected int `mapstructure:"max_connected" json:"max_connected"`
	// AutoPull refreshes cloned repos on startup. Env: AUTO_PULL_UPDATES.
	AutoPull bool `mapstructure:"auto_pull" json:"auto_pull"`
	// AutoScan scans newly connected repos for candidate tasks. Env: AUTO_SCAN_REPOS.
	AutoScan bool `mapstructure:"auto_scan" json:"auto_scan"`
}

// LogConfig controls slog output.
type LogConfig struct {
	// Level is debug|info|warn|error. Env: LOG_LEVEL.
	Level string `mapstructure:"level" json:"level"`
}
