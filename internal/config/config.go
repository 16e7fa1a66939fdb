// Package config centralizes how the vidconvert binaries read environment
// variables and exposes them as strongly typed Go values.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration shared by every binary. Each binary
// only needs a subset; the Require* methods check the subset at startup.
type Config struct {
	Address string

	UploadBucket string
	InputBucket  string
	OutputBucket string

	MaxFileSize      int64
	SmallThresholdMB int
	UploadURLTTL     time.Duration
	DownloadURLTTL   time.Duration

	SmallProcessorURL string
	LargeProcessorURL string
	DispatchTimeout   time.Duration
	DispatchSecret    []byte
	ProcessorType     string

	DatabaseURL    string
	JobsCollection string

	StatusServiceURL string
	StatusTimeout    time.Duration
	NotifyWorkers    int
	NotifyQueue      int

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ProgressTTL   time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	WorkerConcurrency int
	TempDir           string
}

const (
	defaultAddress         = ":8080"
	defaultMaxFileSizeMB   = 1024
	defaultThresholdMB     = 100
	defaultUploadTTL       = 15 * time.Minute
	defaultDownloadTTL     = 7 * 24 * time.Hour
	defaultDispatchTimeout = 60 * time.Second
	defaultStatusTimeout   = 10 * time.Second
	defaultCollection      = "conversion-jobs"
	defaultProcessorType   = "small"
	defaultNotifyWorkers   = 1
	defaultNotifyQueue     = 64
	defaultWorkerCount     = 4
	defaultProgressTTL     = 24 * time.Hour
	defaultKafkaTopic      = "conversion-job-events"
	defaultS3Endpoint      = "localhost:9000"
	defaultRedisAddr       = "localhost:6379"
)

// Load reads configuration from environment variables falling back to
// defaults. A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Address: address(),

		UploadBucket: readEnv("UPLOAD_BUCKET", ""),
		InputBucket:  readEnv("INPUT_BUCKET", ""),
		OutputBucket: readEnv("OUTPUT_BUCKET", ""),

		MaxFileSize:      parseInt64("MAX_FILE_SIZE_MB", defaultMaxFileSizeMB) << 20,
		SmallThresholdMB: parseInt("SMALL_FILE_THRESHOLD_MB", defaultThresholdMB),
		UploadURLTTL:     parseDuration("UPLOAD_URL_TTL", defaultUploadTTL),
		DownloadURLTTL:   parseDuration("DOWNLOAD_URL_TTL", defaultDownloadTTL),

		SmallProcessorURL: readEnv("SMALL_PROCESSOR_URL", ""),
		LargeProcessorURL: readEnv("LARGE_PROCESSOR_URL", ""),
		DispatchTimeout:   parseDuration("DISPATCH_TIMEOUT", defaultDispatchTimeout),
		DispatchSecret:    parseSecret("DISPATCH_SIGNING_SECRET"),
		ProcessorType:     readEnv("PROCESSOR_TYPE", defaultProcessorType),

		DatabaseURL:    readEnv("DATABASE_URL", ""),
		JobsCollection: readEnv("JOBS_COLLECTION", defaultCollection),

		StatusServiceURL: strings.TrimRight(readEnv("STATUS_SERVICE_URL", ""), "/"),
		StatusTimeout:    parseDuration("STATUS_TIMEOUT", defaultStatusTimeout),
		NotifyWorkers:    parseInt("STATUS_NOTIFY_WORKERS", defaultNotifyWorkers),
		NotifyQueue:      parseInt("STATUS_NOTIFY_QUEUE", defaultNotifyQueue),

		S3Endpoint:  readEnv("S3_ENDPOINT", defaultS3Endpoint),
		S3AccessKey: readEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: readEnv("S3_SECRET_KEY", ""),
		S3Region:    readEnv("S3_REGION", "us-east-1"),
		S3UseSSL:    parseBool("S3_USE_SSL", false),

		RedisAddr:     readEnv("REDIS_ADDR", defaultRedisAddr),
		RedisPassword: readEnv("REDIS_PASSWORD", ""),
		RedisDB:       parseInt("REDIS_DB", 0),
		ProgressTTL:   parseDuration("PROGRESS_TTL", defaultProgressTTL),

		KafkaBrokers: parseList("KAFKA_BROKERS", ""),
		KafkaTopic:   readEnv("KAFKA_TOPIC", defaultKafkaTopic),

		WorkerConcurrency: parseInt("WORKER_CONCURRENCY", defaultWorkerCount),
		TempDir:           readEnv("TEMP_DIR", ""),
	}
	if cfg.InputBucket == "" {
		cfg.InputBucket = cfg.UploadBucket
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSizeMB << 20
	}
	if cfg.SmallThresholdMB <= 0 {
		cfg.SmallThresholdMB = defaultThresholdMB
	}
	if cfg.UploadURLTTL <= 0 {
		cfg.UploadURLTTL = defaultUploadTTL
	}
	if cfg.DownloadURLTTL <= 0 {
		cfg.DownloadURLTTL = defaultDownloadTTL
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultWorkerCount
	}
	if cfg.NotifyWorkers <= 0 {
		cfg.NotifyWorkers = defaultNotifyWorkers
	}
	if cfg.NotifyQueue <= 0 {
		cfg.NotifyQueue = defaultNotifyQueue
	}
	switch cfg.ProcessorType {
	case "small", "large":
	default:
		return nil, fmt.Errorf("PROCESSOR_TYPE must be small or large, got %q", cfg.ProcessorType)
	}
	return cfg, nil
}

// RequireUploadAPI checks the settings the upload authorization API needs.
func (c *Config) RequireUploadAPI() error {
	return required(map[string]string{
		"UPLOAD_BUCKET": c.UploadBucket,
		"DATABASE_URL":  c.DatabaseURL,
	})
}

// RequireRouter checks the settings the dispatch router needs.
func (c *Config) RequireRouter() error {
	return required(map[string]string{
		"UPLOAD_BUCKET":       c.UploadBucket,
		"DATABASE_URL":        c.DatabaseURL,
		"SMALL_PROCESSOR_URL": c.SmallProcessorURL,
		"LARGE_PROCESSOR_URL": c.LargeProcessorURL,
	})
}

// RequireExecutor checks the settings a conversion executor needs. With a
// status service configured the job store is not used, but the input bucket
// must be known up front because the remote record only carries the file name.
func (c *Config) RequireExecutor() error {
	vars := map[string]string{"OUTPUT_BUCKET": c.OutputBucket}
	if c.StatusServiceURL != "" {
		vars["INPUT_BUCKET"] = c.InputBucket
	} else {
		vars["DATABASE_URL"] = c.DatabaseURL
	}
	return required(vars)
}

func required(vars map[string]string) error {
	var errs []error
	for _, key := range sortedKeys(vars) {
		if vars[key] == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// address prefers HTTP_ADDRESS and falls back to the PORT convention used by
// container platforms.
func address() string {
	if v := readEnv("HTTP_ADDRESS", ""); v != "" {
		return v
	}
	if port := readEnv("PORT", ""); port != "" {
		return ":" + port
	}
	return defaultAddress
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	if val == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	// invalid input falls back to the default rather than failing startup
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "15m" or "168h".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}
