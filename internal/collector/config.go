package collector

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entropybridge/qrngd/infrastructure/config"
	"github.com/entropybridge/qrngd/infrastructure/resilience"
)

// SourceFileConfig is the YAML shape for one configured appliance endpoint.
type SourceFileConfig struct {
	Name             string  `yaml:"name"`
	URL              string  `yaml:"url"`
	PeriodSeconds    float64 `yaml:"period_seconds"`
	ChunkSize        int     `yaml:"chunk_size"`
	Weight           float64 `yaml:"weight"`
	FailureThreshold int     `yaml:"failure_threshold"`
}

// FileConfig is the optional YAML configuration file layered under env
// variable overrides. Secrets are never read from this file.
type FileConfig struct {
	Sources []SourceFileConfig `yaml:"sources"`
}

// Config is the fully resolved Collector configuration.
type Config struct {
	Sources []SourceConfig

	MixStrategy   Strategy
	MixDeadline   time.Duration

	AccumulatorCapacity int
	HighWaterFraction   float64

	BatchSize     int
	FlushInterval time.Duration

	PushURL            string
	PushTimeout        time.Duration
	RetryConfig        resilience.RetryConfig
	BreakerConfig      resilience.Config
	MaxPushesPerSecond float64

	HMACSecret []byte
}

// Load resolves Collector configuration from an optional YAML file
// (configPath, may be empty) layered under environment variables. The HMAC
// secret is always read from the environment, never from the file.
func Load(configPath string) (*Config, error) {
	var file FileConfig
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := &Config{
		MixStrategy:         Strategy(getEnv("COLLECTOR_MIX_STRATEGY", "xor")),
		MixDeadline:         getDurationEnv("COLLECTOR_MIX_DEADLINE", 2*time.Second),
		AccumulatorCapacity: getIntEnv("COLLECTOR_ACCUMULATOR_CAPACITY", 1<<20),
		HighWaterFraction:   getFloatEnv("COLLECTOR_HIGH_WATER_FRACTION", 0.8),
		BatchSize:           getIntEnv("COLLECTOR_BATCH_SIZE", 64*1024),
		FlushInterval:       getDurationEnv("COLLECTOR_FLUSH_INTERVAL", 5*time.Second),
		PushURL:             getEnv("COLLECTOR_PUSH_URL", "http://localhost:8090/push"),
		PushTimeout:         getDurationEnv("COLLECTOR_PUSH_TIMEOUT", 10*time.Second),
		MaxPushesPerSecond:  getFloatEnv("COLLECTOR_MAX_PUSHES_PER_SECOND", 0),
	}

	cfg.RetryConfig = resilience.RetryConfig{
		MaxAttempts:  getIntEnv("COLLECTOR_PUSH_MAX_ATTEMPTS", 5),
		InitialDelay: cfg.FlushInterval,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
	cfg.BreakerConfig = resilience.Config{
		MaxFailures: getIntEnv("COLLECTOR_BREAKER_MAX_FAILURES", 5),
		Timeout:     getDurationEnv("COLLECTOR_BREAKER_COOLDOWN", 30*time.Second),
		HalfOpenMax: getIntEnv("COLLECTOR_BREAKER_HALF_OPEN_MAX", 3),
	}

	secret, err := config.EnvOrSecretBytes("COLLECTOR_HMAC_SECRET")
	if err != nil {
		return nil, fmt.Errorf("load HMAC secret: %w", err)
	}
	cfg.HMACSecret = secret

	failureThreshold := getIntEnv("COLLECTOR_FAILURE_THRESHOLD", 5)
	for _, s := range file.Sources {
		period := time.Duration(s.PeriodSeconds * float64(time.Second))
		threshold := s.FailureThreshold
		if threshold <= 0 {
			threshold = failureThreshold
		}
		cfg.Sources = append(cfg.Sources, SourceConfig{
			Name:             s.Name,
			URL:              s.URL,
			Period:           period,
			ChunkSize:        s.ChunkSize,
			Weight:           s.Weight,
			FailureThreshold: threshold,
		})
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = sourcesFromEnv(failureThreshold)
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("no appliance sources configured")
	}

	return cfg, nil
}

// sourcesFromEnv builds a single source from COLLECTOR_SOURCE_URL-style
// environment variables, for single-appliance deployments with no YAML
// source list.
func sourcesFromEnv(failureThreshold int) []SourceConfig {
	url := getEnv("COLLECTOR_SOURCE_URL", "")
	if url == "" {
		return nil
	}
	return []SourceConfig{{
		Name:             getEnv("COLLECTOR_SOURCE_NAME", "default"),
		URL:              url,
		Period:           getDurationEnv("COLLECTOR_SOURCE_PERIOD", time.Second),
		ChunkSize:        getIntEnv("COLLECTOR_SOURCE_CHUNK_SIZE", 4096),
		Weight:           getFloatEnv("COLLECTOR_SOURCE_WEIGHT", 1.0),
		FailureThreshold: failureThreshold,
	}}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
