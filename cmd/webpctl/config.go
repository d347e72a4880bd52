// cmd/webpctl/config.go
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tendant/simple-webp/internal/batch"
	"github.com/tendant/simple-webp/internal/bus"
	"github.com/tendant/simple-webp/internal/reconcile"
	"github.com/tendant/simple-webp/internal/request"
)

const (
	sinkDir   = "dir"
	sinkMinIO = "minio"
)

type Config struct {
	ServiceURL       string                `yaml:"service_url"`
	RequestTimeout   time.Duration         `yaml:"request_timeout"`
	MaxImages        int                   `yaml:"max_images"`
	ProbeConcurrency int                   `yaml:"probe_concurrency"`
	OutputDir        string                `yaml:"output_dir"`
	VerifySignature  bool                  `yaml:"verify_signature"`
	NATSURL          string                `yaml:"nats_url"`
	BatchSubject     string                `yaml:"subject_batch_done"`
	Sink             string                `yaml:"sink"`
	MinIO            reconcile.MinIOConfig `yaml:"minio"`
	PreviewDir       string                `yaml:"preview_dir"`
	PreviewSize      int                   `yaml:"preview_size"`
	LogLevel         string                `yaml:"log_level"`
	Settings         request.Settings      `yaml:"settings"`
}

func defaultConfig() Config {
	return Config{
		ServiceURL:      "http://localhost:8080",
		RequestTimeout:  60 * time.Second,
		MaxImages:       batch.DefaultCapacity,
		OutputDir:       "./data/webp",
		VerifySignature: true,
		BatchSubject:    bus.DefaultBatchSubject,
		Sink:            sinkDir,
		PreviewSize:     256,
		LogLevel:        "info",
		Settings:        request.DefaultSettings(),
	}
}

// LoadConfig applies defaults, then the optional YAML file at path, then
// environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.ServiceURL = getenv("SERVICE_URL", cfg.ServiceURL)
	cfg.OutputDir = getenv("OUTPUT_DIR", cfg.OutputDir)
	cfg.NATSURL = getenv("NATS_URL", cfg.NATSURL)
	cfg.BatchSubject = getenv("SUBJECT_BATCH_DONE", cfg.BatchSubject)
	cfg.Sink = strings.ToLower(getenv("SINK", cfg.Sink))
	cfg.PreviewDir = getenv("PREVIEW_DIR", cfg.PreviewDir)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.MinIO.Endpoint = getenv("MINIO_ENDPOINT", cfg.MinIO.Endpoint)
	cfg.MinIO.AccessKey = getenv("MINIO_ACCESS_KEY", cfg.MinIO.AccessKey)
	cfg.MinIO.SecretKey = getenv("MINIO_SECRET_KEY", cfg.MinIO.SecretKey)
	cfg.MinIO.Bucket = getenv("MINIO_BUCKET", cfg.MinIO.Bucket)
	cfg.MinIO.Prefix = getenv("MINIO_PREFIX", cfg.MinIO.Prefix)
	cfg.MinIO.UseSSL = getenvBool("MINIO_USE_SSL", cfg.MinIO.UseSSL)
	cfg.VerifySignature = getenvBool("VERIFY_SIGNATURE", cfg.VerifySignature)

	if v := getenv("REQUEST_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}

	ints := []struct {
		key       string
		dst       *int
		allowZero bool
	}{
		{"MAX_IMAGES", &cfg.MaxImages, false},
		{"PROBE_CONCURRENCY", &cfg.ProbeConcurrency, true},
		{"PREVIEW_SIZE", &cfg.PreviewSize, false},
		{"MAX_WIDTH", &cfg.Settings.MaxWidth, true},
		{"MAX_HEIGHT", &cfg.Settings.MaxHeight, true},
		{"QUALITY", &cfg.Settings.Quality, false},
	}
	for _, it := range ints {
		v := getenv(it.key, "")
		if v == "" {
			continue
		}
		n, err := parseInt(v, it.key, it.allowZero)
		if err != nil {
			return Config{}, err
		}
		*it.dst = n
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.ServiceURL) == "" {
		return fmt.Errorf("SERVICE_URL is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be greater than zero (got %s)", c.RequestTimeout)
	}
	if c.MaxImages <= 0 {
		return fmt.Errorf("MAX_IMAGES must be greater than zero (got %d)", c.MaxImages)
	}
	if c.ProbeConcurrency < 0 {
		return fmt.Errorf("PROBE_CONCURRENCY must not be negative (got %d)", c.ProbeConcurrency)
	}
	switch c.Sink {
	case sinkDir:
	case sinkMinIO:
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("MINIO_ENDPOINT and MINIO_BUCKET are required when SINK=minio")
		}
	default:
		return fmt.Errorf("unknown SINK %q (want %s or %s)", c.Sink, sinkDir, sinkMinIO)
	}
	return nil
}

func (c Config) level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseInt(value, name string, allowZero bool) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v < 0 && allowZero {
		return 0, fmt.Errorf("%s must not be negative (got %d)", name, v)
	}
	if v <= 0 && !allowZero {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}
