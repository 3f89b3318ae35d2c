package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vecbuf/internal/insert"
	"github.com/hupe1980/vecbuf/internal/segment"
)

// Config is the file configuration of a vecbuf process.
type Config struct {
	InsertBufferSize   string           `yaml:"insert_buffer_size"`
	Admission          string           `yaml:"admission"`
	FlushInterval      time.Duration    `yaml:"flush_interval"`
	Workers            int              `yaml:"workers"`
	EncodeMemoryLimit  string           `yaml:"encode_memory_limit"`
	IOLimitBytesPerSec string           `yaml:"io_limit_bytes_per_sec"`
	Compression        string           `yaml:"compression"`
	LogLevel           string           `yaml:"log_level"`
	LogFormat          string           `yaml:"log_format"`
	Storage            StorageConfig    `yaml:"storage"`
	Checkpoint         CheckpointConfig `yaml:"checkpoint"`
}

// StorageConfig selects the blob store segments are written to.
type StorageConfig struct {
	// Type is one of "local", "memory", "s3" or "minio".
	Type      string `yaml:"type"`
	Dir       string `yaml:"dir"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

// CheckpointConfig selects where checkpoints are kept.
type CheckpointConfig struct {
	// Type is "blob" (next to the segments) or "dynamodb".
	Type   string `yaml:"type"`
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		InsertBufferSize:   "4GiB",
		Admission:          "poll",
		FlushInterval:      0,
		Workers:            1,
		EncodeMemoryLimit:  "0",
		IOLimitBytesPerSec: "0",
		Compression:        "lz4",
		LogLevel:           "info",
		LogFormat:          "text",
		Storage: StorageConfig{
			Type: "local",
			Dir:  "./data",
		},
		Checkpoint: CheckpointConfig{
			Type: "blob",
		},
	}
}

// Load reads path on top of the defaults, applies VECBUF_* environment
// overrides and validates the result. An empty path loads only the defaults
// and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnvironment(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvironment() error {
	if v := os.Getenv("VECBUF_INSERT_BUFFER_SIZE"); v != "" {
		c.InsertBufferSize = v
	}
	if v := os.Getenv("VECBUF_ADMISSION"); v != "" {
		c.Admission = v
	}
	if v := os.Getenv("VECBUF_FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VECBUF_FLUSH_INTERVAL: %w", err)
		}
		c.FlushInterval = d
	}
	if v := os.Getenv("VECBUF_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VECBUF_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("VECBUF_COMPRESSION"); v != "" {
		c.Compression = v
	}
	if v := os.Getenv("VECBUF_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("VECBUF_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	return nil
}

// Validate checks every field and returns all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if n, err := parseSize(c.InsertBufferSize); err != nil {
		errs = append(errs, fmt.Errorf("insert_buffer_size: %w", err))
	} else if n == 0 {
		errs = append(errs, errors.New("insert_buffer_size: must be positive"))
	}
	if _, err := parseSize(c.EncodeMemoryLimit); err != nil {
		errs = append(errs, fmt.Errorf("encode_memory_limit: %w", err))
	}
	if _, err := parseSize(c.IOLimitBytesPerSec); err != nil {
		errs = append(errs, fmt.Errorf("io_limit_bytes_per_sec: %w", err))
	}
	if _, err := insert.ParseAdmissionMode(c.Admission); err != nil {
		errs = append(errs, fmt.Errorf("admission: %w", err))
	}
	if _, err := segment.ParseCompression(c.Compression); err != nil {
		errs = append(errs, fmt.Errorf("compression: %w", err))
	}
	if c.FlushInterval < 0 {
		errs = append(errs, errors.New("flush_interval: must not be negative"))
	}
	if c.Workers < 0 {
		errs = append(errs, errors.New("workers: must not be negative"))
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir: required for local storage"))
		}
	case "memory":
	case "s3", "minio":
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket: required for %s storage", c.Storage.Type))
		}
		if c.Storage.Type == "minio" && c.Storage.Endpoint == "" {
			errs = append(errs, errors.New("storage.endpoint: required for minio storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type: unknown %q", c.Storage.Type))
	}

	switch c.Checkpoint.Type {
	case "", "blob":
	case "dynamodb":
		if c.Checkpoint.Table == "" {
			errs = append(errs, errors.New("checkpoint.table: required for dynamodb checkpoints"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.type: unknown %q", c.Checkpoint.Type))
	}

	return errors.Join(errs...)
}

// BufferSizeBytes returns the parsed insert buffer budget.
func (c *Config) BufferSizeBytes() int64 {
	n, _ := parseSize(c.InsertBufferSize)
	return int64(n)
}

// EncodeMemoryLimitBytes returns the parsed encode memory limit; 0 is unlimited.
func (c *Config) EncodeMemoryLimitBytes() int64 {
	n, _ := parseSize(c.EncodeMemoryLimit)
	return int64(n)
}

// IOLimit returns the parsed write throughput limit; 0 is unlimited.
func (c *Config) IOLimit() int64 {
	n, _ := parseSize(c.IOLimitBytesPerSec)
	return int64(n)
}

// AdmissionMode returns the parsed admission mode.
func (c *Config) AdmissionMode() insert.AdmissionMode {
	m, _ := insert.ParseAdmissionMode(c.Admission)
	return m
}

// CompressionType returns the parsed segment compression.
func (c *Config) CompressionType() segment.Compression {
	comp, _ := segment.ParseCompression(c.Compression)
	return comp
}

// parseSize accepts "0", plain byte counts and humanized sizes such as
// "64MiB" or "1.5 GB".
func parseSize(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %q too large", s)
	}
	return n, nil
}
