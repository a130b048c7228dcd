// Package config assembles service configuration from defaults, an optional
// TOML file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/retry"
)

const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"

	GeminiVertex = "vertex"
	GeminiAPI    = "api"
)

// Config holds all settings shared by the functions, the API server and invoicectl.
type Config struct {
	ProjectID      string
	VertexAIRegion string

	InvoiceBucket     string
	SigningEmail      string
	SigningPrivateKey string
	UploadURLTTL      time.Duration
	DownloadURLTTL    time.Duration
	MaxUploadBytes    int64

	StoreBackend        string
	FirestoreCollection string
	FirestoreDatabase   string
	DatabaseURL         string

	GeminiBackend string
	GeminiModel   string
	GoogleAPIKey  string

	Retry           retry.Policy
	ScanConcurrency int

	SweepSchedule string
	StaleAfter    time.Duration

	AutoScanWorkflowID string
	WorkflowLocation   string

	Port      string
	JWTSecret string
	LogLevel  string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		VertexAIRegion:      "us-central1",
		UploadURLTTL:        15 * time.Minute,
		DownloadURLTTL:      time.Hour,
		MaxUploadBytes:      20 << 20,
		StoreBackend:        BackendFirestore,
		FirestoreCollection: "invoiceImages",
		GeminiBackend:       GeminiVertex,
		GeminiModel:         "gemini-2.5-flash",
		Retry:               retry.DefaultPolicy,
		ScanConcurrency:     4,
		SweepSchedule:       "@every 5m",
		StaleAfter:          15 * time.Minute,
		WorkflowLocation:    "us-central1",
		Port:                "8080",
		LogLevel:            "info",
	}
}

// FromEnv is Load without a config file, unless CONFIG_FILE points at one.
func FromEnv() (Config, error) {
	return Load(gcp.GetEnv("CONFIG_FILE", ""))
}

// Load reads the TOML file at path (if non-empty) and then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.GeminiBackend = strings.ToLower(cfg.GeminiBackend)
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"PROJECT_ID":              &c.ProjectID,
		"VERTEX_AI_REGION":        &c.VertexAIRegion,
		"INVOICE_BUCKET":          &c.InvoiceBucket,
		"GCS_SIGNING_EMAIL":       &c.SigningEmail,
		"GCS_SIGNING_PRIVATE_KEY": &c.SigningPrivateKey,
		"STORE_BACKEND":           &c.StoreBackend,
		"FIRESTORE_COLLECTION":    &c.FirestoreCollection,
		"FIRESTORE_DATABASE":      &c.FirestoreDatabase,
		"DATABASE_URL":            &c.DatabaseURL,
		"GEMINI_BACKEND":          &c.GeminiBackend,
		"GEMINI_MODEL":            &c.GeminiModel,
		"GOOGLE_API_KEY":          &c.GoogleAPIKey,
		"SWEEP_SCHEDULE":          &c.SweepSchedule,
		"AUTO_SCAN_WORKFLOW_ID":   &c.AutoScanWorkflowID,
		"WORKFLOW_LOCATION":       &c.WorkflowLocation,
		"PORT":                    &c.Port,
		"JWT_SECRET":              &c.JWTSecret,
		"LOG_LEVEL":               &c.LogLevel,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(gcp.GetEnv(key, "")); v != "" {
			*dst = v
		}
	}
	// Cloud Run and Cloud Functions expose the project under this name.
	if c.ProjectID == "" {
		c.ProjectID = strings.TrimSpace(gcp.GetEnv("GOOGLE_CLOUD_PROJECT", ""))
	}

	var invalid []string
	durations := map[string]*time.Duration{
		"UPLOAD_URL_TTL":        &c.UploadURLTTL,
		"DOWNLOAD_URL_TTL":      &c.DownloadURLTTL,
		"RETRY_INITIAL_BACKOFF": &c.Retry.InitialBackoff,
		"STALE_AFTER":           &c.StaleAfter,
	}
	for key, dst := range durations {
		v := strings.TrimSpace(gcp.GetEnv(key, ""))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			invalid = append(invalid, key)
			continue
		}
		*dst = d
	}

	ints := map[string]func(int64){
		"MAX_UPLOAD_BYTES": func(n int64) { c.MaxUploadBytes = n },
		"RETRY_MAX":        func(n int64) { c.Retry.MaxRetries = int(n) },
		"SCAN_CONCURRENCY": func(n int64) { c.ScanConcurrency = int(n) },
	}
	for key, set := range ints {
		v := strings.TrimSpace(gcp.GetEnv(key, ""))
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			invalid = append(invalid, key)
			continue
		}
		set(n)
	}

	if len(invalid) > 0 {
		sort.Strings(invalid)
		return fmt.Errorf("invalid values for env vars: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// Requirement names a group of settings a binary needs before it can start.
type Requirement int

const (
	NeedProject Requirement = iota
	NeedBucket
	NeedStore
	NeedGemini
	NeedAuth
)

// Validate checks that the settings behind every requirement are present.
func (c Config) Validate(reqs ...Requirement) error {
	var missing []string
	need := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	for _, r := range reqs {
		switch r {
		case NeedProject:
			need("PROJECT_ID", c.ProjectID)
		case NeedBucket:
			need("INVOICE_BUCKET", c.InvoiceBucket)
		case NeedStore:
			switch c.StoreBackend {
			case BackendFirestore:
				need("PROJECT_ID", c.ProjectID)
			case BackendPostgres:
				need("DATABASE_URL", c.DatabaseURL)
			case BackendMemory:
			default:
				return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
			}
		case NeedGemini:
			switch c.GeminiBackend {
			case GeminiVertex:
				need("PROJECT_ID", c.ProjectID)
				need("VERTEX_AI_REGION", c.VertexAIRegion)
			case GeminiAPI:
				need("GOOGLE_API_KEY", c.GoogleAPIKey)
			default:
				return fmt.Errorf("unsupported GEMINI_BACKEND %q", c.GeminiBackend)
			}
		case NeedAuth:
			need("JWT_SECRET", c.JWTSecret)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(dedupe(missing), ", "))
	}
	if c.ScanConcurrency < 1 {
		return fmt.Errorf("SCAN_CONCURRENCY must be at least 1")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LogLevel is the slog level for processes that configure logging before
// the rest of their configuration is loaded. A configuration that fails to
// load still honours LOG_LEVEL.
func LogLevel() slog.Level {
	cfg, err := FromEnv()
	if err != nil {
		return Config{LogLevel: gcp.GetEnv("LOG_LEVEL", "")}.SlogLevel()
	}
	return cfg.SlogLevel()
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// fileConfig mirrors the TOML layout.
type fileConfig struct {
	ProjectID      string `toml:"project_id"`
	VertexAIRegion string `toml:"vertex_ai_region"`
	LogLevel       string `toml:"log_level"`

	Storage struct {
		Bucket         string `toml:"bucket"`
		SigningEmail   string `toml:"signing_email"`
		UploadURLTTL   string `toml:"upload_url_ttl"`
		DownloadURLTTL string `toml:"download_url_ttl"`
		MaxUploadBytes int64  `toml:"max_upload_bytes"`
	} `toml:"storage"`

	Store struct {
		Backend             string `toml:"backend"`
		FirestoreCollection string `toml:"firestore_collection"`
		FirestoreDatabase   string `toml:"firestore_database"`
		DatabaseURL         string `toml:"database_url"`
	} `toml:"store"`

	Gemini struct {
		Backend string `toml:"backend"`
		Model   string `toml:"model"`
	} `toml:"gemini"`

	Processing struct {
		RetryMax            int    `toml:"retry_max"`
		RetryInitialBackoff string `toml:"retry_initial_backoff"`
		ScanConcurrency     int    `toml:"scan_concurrency"`
		SweepSchedule       string `toml:"sweep_schedule"`
		StaleAfter          string `toml:"stale_after"`
		AutoScanWorkflowID  string `toml:"auto_scan_workflow_id"`
		WorkflowLocation    string `toml:"workflow_location"`
	} `toml:"processing"`

	Server struct {
		Port string `toml:"port"`
	} `toml:"server"`
}

func (c *Config) applyFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		slog.Warn("Ignoring unknown config keys.", "path", path, "keys", fmt.Sprint(undecoded))
	}

	setStr := func(key, v string, dst *string) {
		if meta.IsDefined(strings.Split(key, ".")...) {
			*dst = strings.TrimSpace(v)
		}
	}
	setDur := func(key, v string, dst *time.Duration) error {
		if !meta.IsDefined(strings.Split(key, ".")...) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	setStr("project_id", raw.ProjectID, &c.ProjectID)
	setStr("vertex_ai_region", raw.VertexAIRegion, &c.VertexAIRegion)
	setStr("log_level", raw.LogLevel, &c.LogLevel)
	setStr("storage.bucket", raw.Storage.Bucket, &c.InvoiceBucket)
	setStr("storage.signing_email", raw.Storage.SigningEmail, &c.SigningEmail)
	setStr("store.backend", raw.Store.Backend, &c.StoreBackend)
	setStr("store.firestore_collection", raw.Store.FirestoreCollection, &c.FirestoreCollection)
	setStr("store.firestore_database", raw.Store.FirestoreDatabase, &c.FirestoreDatabase)
	setStr("store.database_url", raw.Store.DatabaseURL, &c.DatabaseURL)
	setStr("gemini.backend", raw.Gemini.Backend, &c.GeminiBackend)
	setStr("gemini.model", raw.Gemini.Model, &c.GeminiModel)
	setStr("processing.sweep_schedule", raw.Processing.SweepSchedule, &c.SweepSchedule)
	setStr("processing.auto_scan_workflow_id", raw.Processing.AutoScanWorkflowID, &c.AutoScanWorkflowID)
	setStr("processing.workflow_location", raw.Processing.WorkflowLocation, &c.WorkflowLocation)
	setStr("server.port", raw.Server.Port, &c.Port)

	if err := setDur("storage.upload_url_ttl", raw.Storage.UploadURLTTL, &c.UploadURLTTL); err != nil {
		return err
	}
	if err := setDur("storage.download_url_ttl", raw.Storage.DownloadURLTTL, &c.DownloadURLTTL); err != nil {
		return err
	}
	if err := setDur("processing.retry_initial_backoff", raw.Processing.RetryInitialBackoff, &c.Retry.InitialBackoff); err != nil {
		return err
	}
	if err := setDur("processing.stale_after", raw.Processing.StaleAfter, &c.StaleAfter); err != nil {
		return err
	}

	if meta.IsDefined("storage", "max_upload_bytes") {
		c.MaxUploadBytes = raw.Storage.MaxUploadBytes
	}
	if meta.IsDefined("processing", "retry_max") {
		c.Retry.MaxRetries = raw.Processing.RetryMax
	}
	if meta.IsDefined("processing", "scan_concurrency") {
		c.ScanConcurrency = raw.Processing.ScanConcurrency
	}
	return nil
}
