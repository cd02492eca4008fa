package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envKeys {
		t.Setenv(env, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "fieldtasks-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoad_RequiresBucketForS3(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when S3_BUCKET_NAME is missing")
	}
	if err.Error() != "s3_bucket_name is required for s3 persistence (env: S3_BUCKET_NAME)" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("S3_BUCKET_NAME", "field-papers")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 8080 {
		t.Errorf("expected HTTPPort 8080, got %d", cfg.HTTPPort)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("expected empty DatabaseURL, got %s", cfg.DatabaseURL)
	}
	if cfg.Persist != PersistS3 {
		t.Errorf("expected Persist s3, got %s", cfg.Persist)
	}
	if cfg.AWSRegion != "us-east-1" {
		t.Errorf("expected AWSRegion us-east-1, got %s", cfg.AWSRegion)
	}
	if cfg.APIBaseURL != "http://fieldpapers.org/" {
		t.Errorf("expected APIBaseURL http://fieldpapers.org/, got %s", cfg.APIBaseURL)
	}
	if cfg.PaperDir != "/opt/paper" {
		t.Errorf("expected PaperDir /opt/paper, got %s", cfg.PaperDir)
	}
	if cfg.DecoderDir != "/app/decoder" {
		t.Errorf("expected DecoderDir /app/decoder, got %s", cfg.DecoderDir)
	}
	if cfg.TaskTimeout != 120*time.Second {
		t.Errorf("expected TaskTimeout 120s, got %v", cfg.TaskTimeout)
	}
	if cfg.KillGrace != 5*time.Second {
		t.Errorf("expected KillGrace 5s, got %v", cfg.KillGrace)
	}
	if cfg.WorkerConcurrency <= 0 {
		t.Errorf("expected positive WorkerConcurrency, got %d", cfg.WorkerConcurrency)
	}
	if cfg.QueueSize != 256 {
		t.Errorf("expected QueueSize 256, got %d", cfg.QueueSize)
	}
	if cfg.RateLimit != 0 || cfg.RateLimitBurst != 10 {
		t.Errorf("expected RateLimit 0/10, got %v/%d", cfg.RateLimit, cfg.RateLimitBurst)
	}
	if cfg.WebhookTimeout != 10*time.Second {
		t.Errorf("expected WebhookTimeout 10s, got %v", cfg.WebhookTimeout)
	}
	if cfg.WebhookMaxElapsed != time.Minute {
		t.Errorf("expected WebhookMaxElapsed 1m, got %v", cfg.WebhookMaxElapsed)
	}
	if cfg.OTELEndpoint != "localhost:4317" {
		t.Errorf("expected OTELEndpoint localhost:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("PERSIST", "local")
	t.Setenv("STATIC_PATH", "/srv/static")
	t.Setenv("STATIC_URI_PREFIX", "https://static.example/")
	t.Setenv("TASK_TIMEOUT", "90")
	t.Setenv("KILL_GRACE", "250ms")
	t.Setenv("DIAGNOSTIC_LIMIT", "65536")
	t.Setenv("WORKER_CONCURRENCY", "5")
	t.Setenv("API_TOKEN", "secret")
	t.Setenv("RATE_LIMIT", "2.5")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.Persist != PersistLocal {
		t.Errorf("expected Persist local, got %s", cfg.Persist)
	}
	if cfg.StaticPath != "/srv/static" || cfg.StaticURIPrefix != "https://static.example/" {
		t.Errorf("unexpected static settings %s %s", cfg.StaticPath, cfg.StaticURIPrefix)
	}
	if cfg.TaskTimeout != 90*time.Second {
		t.Errorf("expected TaskTimeout 90s, got %v", cfg.TaskTimeout)
	}
	if cfg.KillGrace != 250*time.Millisecond {
		t.Errorf("expected KillGrace 250ms, got %v", cfg.KillGrace)
	}
	if cfg.DiagnosticLimit != 65536 {
		t.Errorf("expected DiagnosticLimit 65536, got %d", cfg.DiagnosticLimit)
	}
	if cfg.WorkerConcurrency != 5 {
		t.Errorf("expected WorkerConcurrency 5, got %d", cfg.WorkerConcurrency)
	}
	if cfg.APIToken != "secret" {
		t.Errorf("expected APIToken secret, got %s", cfg.APIToken)
	}
	if cfg.RateLimit != 2.5 {
		t.Errorf("expected RateLimit 2.5, got %v", cfg.RateLimit)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_InvalidPersist(t *testing.T) {
	clearEnv(t)
	t.Setenv("PERSIST", "ftp")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for invalid persist backend")
	}
	if !strings.Contains(err.Error(), `invalid persist backend "ftp"`) {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_LocalRequiresPrefix(t *testing.T) {
	clearEnv(t)
	t.Setenv("PERSIST", "local")
	t.Setenv("STATIC_PATH", "/srv/static")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when STATIC_URI_PREFIX is missing")
	}
	if !strings.Contains(err.Error(), "static_uri_prefix is required") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"PORT", "eighty"},
		{"TASK_TIMEOUT", "soon"},
		{"WORKER_CONCURRENCY", "many"},
		{"RATE_LIMIT", "fast"},
		{"WEBHOOK_MAX_ELAPSED", "-"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("S3_BUCKET_NAME", "field-papers")
			t.Setenv(tt.env, tt.value)

			_, err := Load("")
			if err == nil {
				t.Fatalf("expected error for %s=%s", tt.env, tt.value)
			}
			if !strings.Contains(err.Error(), tt.env) {
				t.Errorf("expected error to name %s, got %v", tt.env, err)
			}
		})
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
database_url: "postgres://config-file/db"
http_port: 7777
worker_concurrency: 10
persist: local
static_path: /var/www
static_uri_prefix: http://localhost/static/
task_timeout: 2m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.WorkerConcurrency != 10 {
		t.Errorf("expected WorkerConcurrency 10, got %d", cfg.WorkerConcurrency)
	}
	if cfg.Persist != PersistLocal {
		t.Errorf("expected Persist local, got %s", cfg.Persist)
	}
	if cfg.TaskTimeout != 2*time.Minute {
		t.Errorf("expected TaskTimeout 2m, got %v", cfg.TaskTimeout)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
database_url: "postgres://from-file/db"
http_port: 7777
s3_bucket_name: from-file
`)

	t.Setenv("DATABASE_URL", "postgres://from-env/db")
	t.Setenv("PORT", "8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://from-env/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
	if cfg.S3BucketName != "from-file" {
		t.Errorf("expected S3BucketName from file, got %s", cfg.S3BucketName)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("S3_BUCKET_NAME", "field-papers")

	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file")
	}
}
