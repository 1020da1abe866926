package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Batch      BatchConfig      `yaml:"batch"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"` // long enough for a full chunk of comparisons
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// Addr returns the listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RecognizerConfig struct {
	URL         string        `yaml:"url"`           // face embedding server base URL
	Timeout     time.Duration `yaml:"timeout"`       // per-call timeout at the collaborator boundary
	CacheSize   int           `yaml:"cache_size"`    // detection results kept, keyed by image fingerprint
	MaxImageDim int           `yaml:"max_image_dim"` // images are downscaled above this before upload
}

type BatchConfig struct {
	SimilarityThreshold float64       `yaml:"similarity_threshold"` // percent, 0-100
	Concurrency         int           `yaml:"concurrency"`
	MaxTargetsPerChunk  int           `yaml:"max_targets_per_chunk"`
	MinImageSize        int64         `yaml:"min_image_size"`
	MaxImageSize        int64         `yaml:"max_image_size"`
	AllowedMIMETypes    []string      `yaml:"allowed_mime_types"`
	JobRetention        time.Duration `yaml:"job_retention"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration accepts Go duration strings ("90s", "24h").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

// Defaults returns the configuration embedded in defaults.yaml without any
// environment overrides applied.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	d := Defaults()

	return &Config{
		Server: ServerConfig{
			Host:           envString("WEB_HOST", d.Server.Host),
			Port:           envInt("WEB_PORT", d.Server.Port),
			ReadTimeout:    envDuration("WEB_READ_TIMEOUT", d.Server.ReadTimeout),
			WriteTimeout:   envDuration("WEB_WRITE_TIMEOUT", d.Server.WriteTimeout),
			IdleTimeout:    envDuration("WEB_IDLE_TIMEOUT", d.Server.IdleTimeout),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", d.Server.AllowedOrigins),
		},
		Recognizer: RecognizerConfig{
			URL:         envString("RECOGNIZER_URL", d.Recognizer.URL),
			Timeout:     envDuration("RECOGNIZER_TIMEOUT", d.Recognizer.Timeout),
			CacheSize:   envInt("RECOGNIZER_CACHE_SIZE", d.Recognizer.CacheSize),
			MaxImageDim: envInt("RECOGNIZER_MAX_IMAGE_DIM", d.Recognizer.MaxImageDim),
		},
		Batch: BatchConfig{
			SimilarityThreshold: envFloat("BATCH_SIMILARITY_THRESHOLD", d.Batch.SimilarityThreshold),
			Concurrency:         envInt("BATCH_CONCURRENCY", d.Batch.Concurrency),
			MaxTargetsPerChunk:  envInt("BATCH_MAX_TARGETS_PER_CHUNK", d.Batch.MaxTargetsPerChunk),
			MinImageSize:        envInt64("BATCH_MIN_IMAGE_SIZE", d.Batch.MinImageSize),
			MaxImageSize:        envInt64("BATCH_MAX_IMAGE_SIZE", d.Batch.MaxImageSize),
			AllowedMIMETypes:    envList("BATCH_ALLOWED_MIME_TYPES", d.Batch.AllowedMIMETypes),
			JobRetention:        envDuration("BATCH_JOB_RETENTION", d.Batch.JobRetention),
			SweepInterval:       envDuration("BATCH_SWEEP_INTERVAL", d.Batch.SweepInterval),
		},
		Logging: LoggingConfig{
			Level:  envString("LOG_LEVEL", d.Logging.Level),
			Format: envString("LOG_FORMAT", d.Logging.Format),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Recognizer.URL == "" {
		errs = append(errs, errors.New("RECOGNIZER_URL is required"))
	}
	if c.Batch.SimilarityThreshold < 0 || c.Batch.SimilarityThreshold > 100 {
		errs = append(errs, fmt.Errorf("similarity threshold must be within 0-100, got %v", c.Batch.SimilarityThreshold))
	}
	if c.Batch.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("batch concurrency must be positive, got %d", c.Batch.Concurrency))
	}
	if c.Batch.MaxTargetsPerChunk <= 0 {
		errs = append(errs, fmt.Errorf("max targets per chunk must be positive, got %d", c.Batch.MaxTargetsPerChunk))
	}
	if c.Batch.MinImageSize > c.Batch.MaxImageSize {
		errs = append(errs, fmt.Errorf("min image size %d exceeds max image size %d", c.Batch.MinImageSize, c.Batch.MaxImageSize))
	}
	if len(c.Batch.AllowedMIMETypes) == 0 {
		errs = append(errs, errors.New("at least one allowed MIME type is required"))
	}
	if c.Batch.JobRetention <= 0 {
		errs = append(errs, errors.New("job retention must be positive"))
	}
	return errors.Join(errs...)
}
