package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

pipeline:
  data_dir: "/srv/exports"
  supplemental_path: "resources/legacy_leads.csv"
  column_order: ["טלפון", "מקור"]
  report_labels:
    leads-report: "לידים"

sheets:
  enabled: true
  url: "https://docs.google.com/spreadsheets/d/abc/edit"
  key_file: "key.json"

storage:
  type: "aws"
  s3_bucket: "olive-leads"
  dynamodb_table: "leadrecon-runs"

log:
  level: debug
  redact: false

watch:
  debounce_ms: 500
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "/srv/exports", cfg.Pipeline.DataDir)
	assert.Equal(t, "resources/legacy_leads.csv", cfg.Pipeline.SupplementalPath)
	assert.Equal(t, []string{"טלפון", "מקור"}, cfg.Pipeline.ColumnOrder)
	assert.Equal(t, "לידים", cfg.Pipeline.ReportLabels["leads-report"])
	assert.Equal(t, "*.csv", cfg.Pipeline.Pattern)

	assert.True(t, cfg.Sheets.Enabled)
	assert.Equal(t, "aws", cfg.Storage.Type)
	assert.Equal(t, "leadrecon/", cfg.Storage.S3Prefix)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.RedactEnabled())
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 32, cfg.Server.MaxUploadMB)
	assert.Equal(t, "data", cfg.Pipeline.DataDir)
	assert.Equal(t, "sheets_data/cleaned_data_corrected.csv", cfg.Pipeline.CachePath)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "pipeline-run", cfg.Lock.Key)
	assert.Equal(t, 10*time.Minute, cfg.Lock.TTL())
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce())
	assert.True(t, cfg.Log.RedactEnabled())
	assert.Equal(t, cfg.Storage.AWSRegion, cfg.Notify.Region)
}

func TestLoadInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [oops"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SHEET_URL", "https://docs.google.com/spreadsheets/d/xyz/edit")
	t.Setenv("JSON_KEYFILE", "/secrets/key.json")
	t.Setenv("LEADRECON_DATA_DIR", "/tmp/in")
	t.Setenv("DATABASE_URL", "postgres://localhost/leads")
	t.Setenv("NOTIFY_TO", "a@example.com, b@example.com")
	t.Setenv("PORT", "9191")

	cfg, err := LoadFromEnv("config.yaml")
	require.NoError(t, err)

	assert.True(t, cfg.Sheets.Enabled)
	assert.Equal(t, "/secrets/key.json", cfg.Sheets.KeyFile)
	assert.Equal(t, "/tmp/in", cfg.Pipeline.DataDir)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Notify.To)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestGetAWSProfile(t *testing.T) {
	c := StorageConfig{AWSProfile: "olive"}
	t.Setenv("AWS_PROFILE_OVERRIDE", "")
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	assert.Equal(t, "olive", c.GetAWSProfile())

	t.Setenv("AWS_PROFILE_OVERRIDE", "iam")
	assert.Equal(t, "", c.GetAWSProfile())
}
