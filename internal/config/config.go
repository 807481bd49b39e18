package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the BatchFlow server.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Batch       BatchConfig
	ObjectStore ObjectStoreConfig
	Dataset     DatasetConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// BatchConfig configures the external batch-execution service and the
// resource ceilings enforced when registering job definitions.
type BatchConfig struct {
	Region       string
	JobQueue     string
	VCPUsMax     int32
	MemoryMaxMiB int32
}

type ObjectStoreConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	DatasetBucket string
	OutputBucket  string
}

type DatasetConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("BATCHFLOW_PORT", 8080),
			Env:  envString("BATCHFLOW_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Batch: BatchConfig{
			Region:       envString("AWS_REGION", "us-east-1"),
			JobQueue:     envString("BATCH_JOB_QUEUE", "analysis-queue"),
			VCPUsMax:     int32(envInt("BATCH_VCPUS_MAX", 8)),
			MemoryMaxMiB: int32(envInt("BATCH_MEMORY_MAX_MIB", 30720)),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:      os.Getenv("S3_ENDPOINT"),
			AccessKey:     os.Getenv("S3_ACCESS_KEY"),
			SecretKey:     os.Getenv("S3_SECRET_KEY"),
			UseSSL:        envBool("S3_USE_SSL", true),
			DatasetBucket: envString("S3_DATASET_BUCKET", "batchflow-datasets"),
			OutputBucket:  envString("S3_OUTPUT_BUCKET", "batchflow-outputs"),
		},
		Dataset: DatasetConfig{
			BaseURL: os.Getenv("DATASET_SERVICE_URL"),
			Token:   os.Getenv("DATASET_SERVICE_TOKEN"),
			Timeout: envDuration("DATASET_SERVICE_TIMEOUT", 60*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.ObjectStore.Endpoint == "" {
		return fmt.Errorf("S3_ENDPOINT is required")
	}
	if c.ObjectStore.AccessKey == "" || c.ObjectStore.SecretKey == "" {
		return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}

	if c.Dataset.BaseURL == "" {
		return fmt.Errorf("DATASET_SERVICE_URL is required")
	}
	if !strings.HasPrefix(c.Dataset.BaseURL, "http://") && !strings.HasPrefix(c.Dataset.BaseURL, "https://") {
		return fmt.Errorf("DATASET_SERVICE_URL must start with http:// or https://, got %q", c.Dataset.BaseURL)
	}

	if c.Batch.JobQueue == "" {
		return fmt.Errorf("BATCH_JOB_QUEUE must not be empty")
	}
	if c.Batch.VCPUsMax <= 0 || c.Batch.MemoryMaxMiB <= 0 {
		return fmt.Errorf("BATCH_VCPUS_MAX and BATCH_MEMORY_MAX_MIB must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
