package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for leadrecon.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Export   ExportConfig   `yaml:"export"`
	Storage  StorageConfig  `yaml:"storage"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Notify   NotifyConfig   `yaml:"notify"`
	Lock     LockConfig     `yaml:"lock"`
	Redis    RedisConfig    `yaml:"redis"`
	Watch    WatchConfig    `yaml:"watch"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
	// MaxUploadMB caps the multipart body of an upload.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// GetHost returns the listen host. Containers listen on all interfaces.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Redact *bool  `yaml:"redact"`
}

// RedactEnabled defaults to true.
func (c LogConfig) RedactEnabled() bool {
	return c.Redact == nil || *c.Redact
}

// PipelineConfig locates the report exports and the reconciled snapshot.
type PipelineConfig struct {
	DataDir          string            `yaml:"data_dir"`
	Pattern          string            `yaml:"pattern"`
	SupplementalPath string            `yaml:"supplemental_path"`
	CachePath        string            `yaml:"cache_path"`
	ColumnOrder      []string          `yaml:"column_order"`
	ReportLabels     map[string]string `yaml:"report_labels"`
}

// SheetsConfig points at the shared Google spreadsheet.
type SheetsConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	KeyFile string `yaml:"key_file"`
	BaseURL string `yaml:"base_url"`
}

// ExportConfig controls the XLSX copy written after each run.
type ExportConfig struct {
	XLSXPath  string `yaml:"xlsx_path"`
	SheetName string `yaml:"sheet_name"`
}

// StorageConfig selects where snapshots and the run log live: "local"
// files or "aws" (S3 + DynamoDB).
type StorageConfig struct {
	Type          string `yaml:"type"`
	LocalPath     string `yaml:"local_path"`
	S3Bucket      string `yaml:"s3_bucket"`
	S3Prefix      string `yaml:"s3_prefix"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"` // empty uses the default credential chain
}

// GetAWSProfile resolves the profile, honouring AWS_PROFILE_OVERRIDE and
// falling back to the instance role on ECS/Lambda.
func (c StorageConfig) GetAWSProfile() string {
	if p := os.Getenv("AWS_PROFILE_OVERRIDE"); p != "" {
		if p == "none" || p == "iam" {
			return ""
		}
		return p
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// ArchiveConfig enables the Postgres archive of reconciled records.
type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DatabaseURL string `yaml:"database_url"`
}

// NotifyConfig e-mails the statistics report through SES after a run.
type NotifyConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"access_key"`
	SecretKey string   `yaml:"secret_key"`
	From      string   `yaml:"from"`
	To        []string `yaml:"to"`
	Subject   string   `yaml:"subject"`
}

type LockConfig struct {
	Key        string `yaml:"key"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// WatchConfig controls the data directory watcher.
type WatchConfig struct {
	DebounceMillis int `yaml:"debounce_ms"`
}

func (c WatchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// Load reads path and applies defaults. A missing file yields defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Pipeline.DataDir == "" {
		cfg.Pipeline.DataDir = "data"
	}
	if cfg.Pipeline.Pattern == "" {
		cfg.Pipeline.Pattern = "*.csv"
	}
	if cfg.Pipeline.CachePath == "" {
		cfg.Pipeline.CachePath = "sheets_data/cleaned_data_corrected.csv"
	}
	if cfg.Export.SheetName == "" {
		cfg.Export.SheetName = "לידים"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "sheets_data"
	}
	if cfg.Storage.S3Prefix == "" {
		cfg.Storage.S3Prefix = "leadrecon/"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "eu-central-1"
	}
	if cfg.Notify.Region == "" {
		cfg.Notify.Region = cfg.Storage.AWSRegion
	}
	if cfg.Notify.Subject == "" {
		cfg.Notify.Subject = "סיכום לידים"
	}
	if cfg.Lock.Key == "" {
		cfg.Lock.Key = "pipeline-run"
	}
	if cfg.Lock.TTLSeconds == 0 {
		cfg.Lock.TTLSeconds = 600
	}
	if cfg.Watch.DebounceMillis == 0 {
		cfg.Watch.DebounceMillis = 2000
	}
}

// LoadFromEnv loads .env into the environment, then path, then applies
// environment overrides.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	setString(&cfg.Sheets.URL, "SHEET_URL")
	setString(&cfg.Sheets.KeyFile, "JSON_KEYFILE")
	if cfg.Sheets.URL != "" && cfg.Sheets.KeyFile != "" {
		cfg.Sheets.Enabled = true
	}
	setString(&cfg.Pipeline.DataDir, "LEADRECON_DATA_DIR")
	setString(&cfg.Pipeline.SupplementalPath, "LEADRECON_SUPPLEMENTAL")
	setString(&cfg.Pipeline.CachePath, "LEADRECON_CACHE_PATH")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Storage.Type, "STORAGE_TYPE")
	setString(&cfg.Storage.S3Bucket, "S3_BUCKET")
	setString(&cfg.Storage.DynamoDBTable, "DYNAMODB_TABLE")
	setString(&cfg.Storage.AWSRegion, "AWS_REGION")
	setString(&cfg.Redis.URL, "REDIS_URL")
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Archive.DatabaseURL = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("NOTIFY_TO"); v != "" {
		cfg.Notify.To = splitList(v)
	}
	setString(&cfg.Notify.From, "NOTIFY_FROM")
	setString(&cfg.Notify.AccessKey, "AWS_SES_ACCESS_KEY")
	setString(&cfg.Notify.SecretKey, "AWS_SES_SECRET_KEY")
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
