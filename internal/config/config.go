// Package config loads service settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Persistence backends.
const (
	PersistLocal = "local"
	PersistS3    = "s3"
)

// Config holds all configuration values for the service.
type Config struct {
	// HTTP server port
	HTTPPort int

	// Database connection string. Empty keeps job history in memory.
	DatabaseURL string

	// Artifact storage
	Persist         string
	StaticPath      string
	StaticURIPrefix string
	S3BucketName    string
	AWSRegion       string

	// Task programs
	APIBaseURL      string
	PaperDir        string
	DecoderDir      string
	TaskTimeout     time.Duration
	KillGrace       time.Duration
	DiagnosticLimit int

	// Worker pool
	WorkerConcurrency int
	QueueSize         int

	// HTTP front end
	APIToken       string
	RateLimit      float64
	RateLimitBurst int

	// Webhook delivery
	WebhookTimeout    time.Duration
	WebhookMaxElapsed time.Duration

	OTELEndpoint string
	LogLevel     string
}

var envKeys = map[string]string{
	"http_port":           "PORT",
	"database_url":        "DATABASE_URL",
	"persist":             "PERSIST",
	"static_path":         "STATIC_PATH",
	"static_uri_prefix":   "STATIC_URI_PREFIX",
	"s3_bucket_name":      "S3_BUCKET_NAME",
	"aws_region":          "AWS_DEFAULT_REGION",
	"api_base_url":        "API_BASE_URL",
	"paper_dir":           "PAPER_DIR",
	"decoder_dir":         "DECODER_DIR",
	"task_timeout":        "TASK_TIMEOUT",
	"kill_grace":          "KILL_GRACE",
	"diagnostic_limit":    "DIAGNOSTIC_LIMIT",
	"worker_concurrency":  "WORKER_CONCURRENCY",
	"queue_size":          "QUEUE_SIZE",
	"api_token":           "API_TOKEN",
	"rate_limit":          "RATE_LIMIT",
	"rate_limit_burst":    "RATE_LIMIT_BURST",
	"webhook_timeout":     "WEBHOOK_TIMEOUT",
	"webhook_max_elapsed": "WEBHOOK_MAX_ELAPSED",
	"otel_endpoint":       "OTEL_EXPORTER_OTLP_ENDPOINT",
	"log_level":           "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8080)
	v.SetDefault("persist", PersistS3)
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("api_base_url", "http://fieldpapers.org/")
	v.SetDefault("paper_dir", "/opt/paper")
	v.SetDefault("decoder_dir", "/app/decoder")
	v.SetDefault("task_timeout", "120s")
	v.SetDefault("kill_grace", "5s")
	v.SetDefault("diagnostic_limit", 0)
	v.SetDefault("worker_concurrency", runtime.NumCPU())
	v.SetDefault("queue_size", 256)
	v.SetDefault("rate_limit", 0)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("webhook_timeout", "10s")
	v.SetDefault("webhook_max_elapsed", "1m")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from path (or ./fieldtasks.yaml when path is
// empty) and the environment. Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("fieldtasks")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	p := parser{v: v}
	cfg := &Config{
		HTTPPort:          p.getInt("http_port"),
		DatabaseURL:       v.GetString("database_url"),
		Persist:           strings.ToLower(v.GetString("persist")),
		StaticPath:        v.GetString("static_path"),
		StaticURIPrefix:   v.GetString("static_uri_prefix"),
		S3BucketName:      v.GetString("s3_bucket_name"),
		AWSRegion:         v.GetString("aws_region"),
		APIBaseURL:        v.GetString("api_base_url"),
		PaperDir:          v.GetString("paper_dir"),
		DecoderDir:        v.GetString("decoder_dir"),
		TaskTimeout:       p.getDuration("task_timeout"),
		KillGrace:         p.getDuration("kill_grace"),
		DiagnosticLimit:   p.getInt("diagnostic_limit"),
		WorkerConcurrency: p.getInt("worker_concurrency"),
		QueueSize:         p.getInt("queue_size"),
		APIToken:          v.GetString("api_token"),
		RateLimit:         p.getFloat("rate_limit"),
		RateLimitBurst:    p.getInt("rate_limit_burst"),
		WebhookTimeout:    p.getDuration("webhook_timeout"),
		WebhookMaxElapsed: p.getDuration("webhook_max_elapsed"),
		OTELEndpoint:      v.GetString("otel_endpoint"),
		LogLevel:          v.GetString("log_level"),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Persist {
	case PersistLocal:
		if c.StaticPath == "" {
			return fmt.Errorf("static_path is required for local persistence (env: %s)", envKeys["static_path"])
		}
		if c.StaticURIPrefix == "" {
			return fmt.Errorf("static_uri_prefix is required for local persistence (env: %s)", envKeys["static_uri_prefix"])
		}
	case PersistS3:
		if c.S3BucketName == "" {
			return fmt.Errorf("s3_bucket_name is required for s3 persistence (env: %s)", envKeys["s3_bucket_name"])
		}
	default:
		return fmt.Errorf("invalid persist backend %q: must be %q or %q", c.Persist, PersistLocal, PersistS3)
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.TaskTimeout < 0 || c.KillGrace < 0 {
		return fmt.Errorf("task_timeout and kill_grace must not be negative")
	}
	if c.DiagnosticLimit < 0 {
		return fmt.Errorf("invalid diagnostic_limit %d", c.DiagnosticLimit)
	}
	return nil
}

// parser converts raw viper values and keeps the first conversion error.
type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) fail(key string, raw any, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q (env: %s): %w", key, fmt.Sprint(raw), envKeys[key], err)
	}
}

func (p *parser) getInt(key string) int {
	raw := p.v.Get(key)
	switch val := raw.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			p.fail(key, raw, err)
		}
		return n
	case nil:
		return 0
	default:
		p.fail(key, raw, fmt.Errorf("unsupported type %T", raw))
		return 0
	}
}

func (p *parser) getFloat(key string) float64 {
	raw := p.v.Get(key)
	switch val := raw.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			p.fail(key, raw, err)
		}
		return f
	case nil:
		return 0
	default:
		p.fail(key, raw, fmt.Errorf("unsupported type %T", raw))
		return 0
	}
}

// getDuration accepts Go duration strings; bare numbers are seconds.
func (p *parser) getDuration(key string) time.Duration {
	raw := p.v.Get(key)
	switch val := raw.(type) {
	case time.Duration:
		return val
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case float64:
		return time.Duration(val * float64(time.Second))
	case string:
		s := strings.TrimSpace(val)
		if n, err := strconv.Atoi(s); err == nil {
			return time.Duration(n) * time.Second
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			p.fail(key, raw, err)
		}
		return d
	case nil:
		return 0
	default:
		p.fail(key, raw, fmt.Errorf("unsupported type %T", raw))
		return 0
	}
}
