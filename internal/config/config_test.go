package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "VERTEX_AI_REGION", "INVOICE_BUCKET",
	"GCS_SIGNING_EMAIL", "GCS_SIGNING_PRIVATE_KEY", "STORE_BACKEND",
	"FIRESTORE_COLLECTION", "FIRESTORE_DATABASE", "DATABASE_URL", "GEMINI_BACKEND", "GEMINI_MODEL",
	"GOOGLE_API_KEY", "SWEEP_SCHEDULE", "AUTO_SCAN_WORKFLOW_ID",
	"WORKFLOW_LOCATION", "PORT", "JWT_SECRET", "LOG_LEVEL", "UPLOAD_URL_TTL",
	"DOWNLOAD_URL_TTL", "RETRY_INITIAL_BACKOFF", "STALE_AFTER",
	"MAX_UPLOAD_BYTES", "RETRY_MAX", "SCAN_CONCURRENCY", "CONFIG_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

const sampleTOML = `
project_id = "trips-prod"
log_level = "debug"

[storage]
bucket = "trips-invoices"
upload_url_ttl = "10m"
max_upload_bytes = 1048576

[store]
backend = "Postgres"
database_url = "postgres://localhost/invoices"

[gemini]
backend = "api"
model = "gemini-2.5-pro"

[processing]
retry_max = 3
retry_initial_backoff = "250ms"
scan_concurrency = 8
stale_after = "30m"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "invoiceflow.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendFirestore, cfg.StoreBackend)
	assert.Equal(t, GeminiVertex, cfg.GeminiBackend)
	assert.Equal(t, "invoiceImages", cfg.FirestoreCollection)
	assert.Equal(t, 15*time.Minute, cfg.UploadURLTTL)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.InitialBackoff)
	assert.Equal(t, int64(20<<20), cfg.MaxUploadBytes)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "trips-prod", cfg.ProjectID)
	assert.Equal(t, "trips-invoices", cfg.InvoiceBucket)
	assert.Equal(t, 10*time.Minute, cfg.UploadURLTTL)
	assert.Equal(t, time.Hour, cfg.DownloadURLTTL, "undefined keys keep defaults")
	assert.Equal(t, int64(1048576), cfg.MaxUploadBytes)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, GeminiAPI, cfg.GeminiBackend)
	assert.Equal(t, "gemini-2.5-pro", cfg.GeminiModel)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, 8, cfg.ScanConcurrency)
	assert.Equal(t, 30*time.Minute, cfg.StaleAfter)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("INVOICE_BUCKET", "override-bucket")
	t.Setenv("RETRY_MAX", "0")
	t.Setenv("UPLOAD_URL_TTL", "90s")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, "override-bucket", cfg.InvoiceBucket)
	assert.Equal(t, 0, cfg.Retry.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.UploadURLTTL)
}

func TestFromEnvUsesConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", writeConfig(t, sampleTOML))
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "trips-prod", cfg.ProjectID)
}

func TestGoogleCloudProjectFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_CLOUD_PROJECT", "from-runtime")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-runtime", cfg.ProjectID)
}

func TestInvalidEnvValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("STALE_AFTER", "soon")
	t.Setenv("SCAN_CONCURRENCY", "many")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCAN_CONCURRENCY, STALE_AFTER")
}

func TestInvalidFileDuration(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "[storage]\nupload_url_ttl = \"later\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.upload_url_ttl")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate(NeedProject, NeedBucket, NeedStore)
	require.Error(t, err)
	assert.Equal(t, "missing required settings: PROJECT_ID, INVOICE_BUCKET", err.Error())

	cfg.StoreBackend = BackendPostgres
	cfg.ProjectID = "p"
	cfg.InvoiceBucket = "b"
	err = cfg.Validate(NeedStore)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	cfg.StoreBackend = BackendMemory
	cfg.GeminiBackend = GeminiAPI
	err = cfg.Validate(NeedStore, NeedGemini, NeedAuth)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_API_KEY, JWT_SECRET")

	cfg.GeminiBackend = "openai"
	assert.Error(t, cfg.Validate(NeedGemini))

	cfg.GeminiBackend = GeminiVertex
	cfg.ScanConcurrency = 0
	assert.Error(t, cfg.Validate(NeedGemini))
}

func TestLogLevel(t *testing.T) {
	clearEnv(t)
	assert.Equal(t, slog.LevelInfo, LogLevel())

	t.Setenv("LOG_LEVEL", "debug")
	assert.Equal(t, slog.LevelDebug, LogLevel())

	// A broken unrelated setting does not silence debug logging.
	t.Setenv("STALE_AFTER", "soon")
	assert.Equal(t, slog.LevelDebug, LogLevel())

	t.Setenv("STALE_AFTER", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CONFIG_FILE", writeConfig(t, sampleTOML))
	assert.Equal(t, slog.LevelDebug, LogLevel())
}
