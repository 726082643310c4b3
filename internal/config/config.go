package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Audience    AudienceConfig    `yaml:"audience"`
	Snowflake   SnowflakeConfig   `yaml:"snowflake"`
	AWS         AWSConfig         `yaml:"aws"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Suppression SuppressionConfig `yaml:"suppression"`
	Worker      WorkerConfig      `yaml:"worker"`
	Notify      NotifyConfig      `yaml:"notify"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns the host:port the server binds to.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds Postgres connection settings for the job queue.
// A non-empty URL wins over the discrete fields.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// RedisConfig holds Redis settings for live progress state, distributed
// rate limiting, and session locks. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AudienceConfig holds the audience service API configuration
type AudienceConfig struct {
	BaseURL        string      `yaml:"base_url"`
	AccountID      string      `yaml:"account_id"`
	ListID         string      `yaml:"list_id"`
	APIKey         string      `yaml:"api_key"`
	OAuth          OAuthConfig `yaml:"oauth"`
	TimeoutSeconds int         `yaml:"timeout_seconds"`
}

// OAuthConfig holds client-credentials settings. Used instead of the
// static API key when a token URL is configured.
type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// Timeout returns the configured timeout as a duration
func (c AudienceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SnowflakeConfig holds Snowflake settings for warehouse-backed sources
type SnowflakeConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Enabled   bool   `yaml:"enabled"`
}

// DSN returns the gosnowflake connection string.
func (c SnowflakeConfig) DSN() string {
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s", c.User, c.Password, c.Account, c.Database, c.Schema)
	if c.Warehouse != "" {
		dsn += "?warehouse=" + c.Warehouse
	}
	return dsn
}

// AWSConfig holds shared AWS settings for S3 sources, DynamoDB
// suppression, and SES notifications.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetProfile returns the AWS profile, with environment variable override
func (c AWSConfig) GetProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.Profile
}

// PipelineConfig holds the import pipeline tuning knobs
type PipelineConfig struct {
	BatchSize          int     `yaml:"batch_size"`
	Concurrency        int     `yaml:"concurrency"`
	MaxRetries         int     `yaml:"max_retries"`
	RetryBaseDelayMS   int     `yaml:"retry_base_delay_ms"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
	FailFast           bool    `yaml:"fail_fast"`
	DedupStrategy      string  `yaml:"dedup_strategy"`
	DuplicatePolicy    string  `yaml:"duplicate_policy"`
}

// RetryBaseDelay returns the base retry delay as a duration
func (c PipelineConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// CheckpointConfig holds checkpoint storage settings
type CheckpointConfig struct {
	Dir                     string `yaml:"dir"`
	AutoSaveIntervalSeconds int    `yaml:"auto_save_interval_seconds"`
	MaxPerSession           int    `yaml:"max_per_session"`
}

// AutoSaveInterval returns the auto-save interval as a duration
func (c CheckpointConfig) AutoSaveInterval() time.Duration {
	return time.Duration(c.AutoSaveIntervalSeconds) * time.Second
}

// SuppressionConfig selects the suppression backend. An empty backend
// disables suppression checks.
type SuppressionConfig struct {
	Backend     string `yaml:"backend"` // "redis", "dynamo", "file", or ""
	RedisKey    string `yaml:"redis_key"`
	DynamoTable string `yaml:"dynamo_table"`
	Path        string `yaml:"path"` // suppression export for the file backend
}

// WorkerConfig holds the job worker tuning knobs
type WorkerConfig struct {
	PollIntervalSeconds      int `yaml:"poll_interval_seconds"`
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
	StuckAfterMinutes        int `yaml:"stuck_after_minutes"`
	MaxJobRetries            int `yaml:"max_job_retries"`
	LockTTLSeconds           int `yaml:"lock_ttl_seconds"`
}

// PollInterval returns the queue poll interval as a duration
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat interval as a duration
func (c WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// StuckAfter returns the stale-job threshold as a duration
func (c WorkerConfig) StuckAfter() time.Duration {
	return time.Duration(c.StuckAfterMinutes) * time.Minute
}

// LockTTL returns the session lock TTL as a duration
func (c WorkerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// NotifyConfig holds the SES completion report settings
type NotifyConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"access_key"` // Empty uses the default credential chain
	SecretKey string   `yaml:"secret_key"`
	From      string   `yaml:"from"`
	To        []string `yaml:"to"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "list_loader"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Audience.TimeoutSeconds == 0 {
		cfg.Audience.TimeoutSeconds = 30
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 100
	}
	if cfg.Pipeline.Concurrency == 0 {
		cfg.Pipeline.Concurrency = 1
	}
	if cfg.Pipeline.MaxRetries == 0 {
		cfg.Pipeline.MaxRetries = 3
	}
	if cfg.Pipeline.RetryBaseDelayMS == 0 {
		cfg.Pipeline.RetryBaseDelayMS = 1000
	}
	if cfg.Pipeline.RateLimitPerSecond == 0 {
		cfg.Pipeline.RateLimitPerSecond = 10
	}
	if cfg.Pipeline.RateLimitBurst == 0 {
		cfg.Pipeline.RateLimitBurst = 20
	}
	if cfg.Pipeline.DedupStrategy == "" {
		cfg.Pipeline.DedupStrategy = "by_email"
	}
	if cfg.Pipeline.DuplicatePolicy == "" {
		cfg.Pipeline.DuplicatePolicy = "skip"
	}
	if cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = "./checkpoints"
	}
	if cfg.Checkpoint.AutoSaveIntervalSeconds == 0 {
		cfg.Checkpoint.AutoSaveIntervalSeconds = 30
	}
	if cfg.Checkpoint.MaxPerSession == 0 {
		cfg.Checkpoint.MaxPerSession = 10
	}
	if cfg.Worker.PollIntervalSeconds == 0 {
		cfg.Worker.PollIntervalSeconds = 5
	}
	if cfg.Worker.HeartbeatIntervalSeconds == 0 {
		cfg.Worker.HeartbeatIntervalSeconds = 30
	}
	if cfg.Worker.StuckAfterMinutes == 0 {
		cfg.Worker.StuckAfterMinutes = 10
	}
	if cfg.Worker.MaxJobRetries == 0 {
		cfg.Worker.MaxJobRetries = 3
	}
	if cfg.Worker.LockTTLSeconds == 0 {
		cfg.Worker.LockTTLSeconds = 120
	}
	if cfg.Notify.Region == "" {
		cfg.Notify.Region = cfg.AWS.Region
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
		cfg.Database.Enabled = true
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	// Audience service overrides
	if baseURL := os.Getenv("AUDIENCE_BASE_URL"); baseURL != "" {
		cfg.Audience.BaseURL = baseURL
	}
	if apiKey := os.Getenv("AUDIENCE_API_KEY"); apiKey != "" {
		cfg.Audience.APIKey = apiKey
	}
	if accountID := os.Getenv("AUDIENCE_ACCOUNT_ID"); accountID != "" {
		cfg.Audience.AccountID = accountID
	}
	if listID := os.Getenv("AUDIENCE_LIST_ID"); listID != "" {
		cfg.Audience.ListID = listID
	}
	if v := os.Getenv("AUDIENCE_OAUTH_TOKEN_URL"); v != "" {
		cfg.Audience.OAuth.TokenURL = v
	}
	if v := os.Getenv("AUDIENCE_OAUTH_CLIENT_ID"); v != "" {
		cfg.Audience.OAuth.ClientID = v
	}
	if v := os.Getenv("AUDIENCE_OAUTH_CLIENT_SECRET"); v != "" {
		cfg.Audience.OAuth.ClientSecret = v
	}

	// Snowflake overrides
	if v := os.Getenv("SNOWFLAKE_ACCOUNT"); v != "" {
		cfg.Snowflake.Account = v
	}
	if v := os.Getenv("SNOWFLAKE_USER"); v != "" {
		cfg.Snowflake.User = v
	}
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		cfg.Snowflake.Password = v
	}

	if dir := os.Getenv("CHECKPOINT_DIR"); dir != "" {
		cfg.Checkpoint.Dir = dir
	}

	if v := os.Getenv("SUPPRESSION_BACKEND"); v != "" {
		cfg.Suppression.Backend = v
	}
	if v := os.Getenv("SUPPRESSION_FILE"); v != "" {
		cfg.Suppression.Path = v
	}

	// Notify overrides
	if from := os.Getenv("NOTIFY_FROM"); from != "" {
		cfg.Notify.From = from
	}
	if to := os.Getenv("NOTIFY_TO"); to != "" {
		cfg.Notify.To = splitAndTrim(to)
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.Notify.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.Notify.SecretKey = secretKey
	}

	return cfg, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
