package gateway

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entropybridge/qrngd/infrastructure/config"
)

// PrincipalFileConfig is the YAML shape for one configured API credential.
type PrincipalFileConfig struct {
	Credential      string  `yaml:"credential"`
	RateCapacity    int     `yaml:"rate_capacity"`
	RateRefillPerS  float64 `yaml:"rate_refill_per_second"`
}

// FileConfig is the optional YAML configuration file layered under env
// variable overrides. The HMAC secret is never read from this file.
type FileConfig struct {
	Principals []PrincipalFileConfig `yaml:"principals"`
}

// Config is the fully resolved Gateway configuration.
type Config struct {
	ListenAddr string

	HMACSecret         []byte
	TTL                time.Duration
	ClockSkewTolerance time.Duration

	Principals map[string]struct{}

	RateLimitCapacity int
	RateLimitRefillPS float64

	BufferCapacity       int
	OverflowPolicy       OverflowPolicy
	MinHealthyFillPct    float64

	ReadinessStaleAfter time.Duration

	MetricsRequireAuth bool
}

// Load resolves Gateway configuration from an optional YAML file
// (configPath, may be empty) layered under environment variables.
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
		ListenAddr:          getEnv("GATEWAY_LISTEN_ADDR", ":8090"),
		TTL:                 getDurationEnv("GATEWAY_PACKET_TTL", 300*time.Second),
		ClockSkewTolerance:  getDurationEnv("GATEWAY_CLOCK_SKEW_TOLERANCE", 60*time.Second),
		RateLimitCapacity:   getIntEnv("GATEWAY_RATE_LIMIT_CAPACITY", 60),
		RateLimitRefillPS:   getFloatEnv("GATEWAY_RATE_LIMIT_REFILL_PER_SECOND", 1.0),
		BufferCapacity:      getIntEnv("GATEWAY_BUFFER_CAPACITY", 10<<20),
		MinHealthyFillPct:   getFloatEnv("GATEWAY_MIN_HEALTHY_FILL_PERCENT", 5.0),
		ReadinessStaleAfter: getDurationEnv("GATEWAY_READINESS_STALE_AFTER", 30*time.Second),
		MetricsRequireAuth:  getBoolEnv("GATEWAY_METRICS_REQUIRE_AUTH", false),
	}

	switch strings.ToLower(getEnv("GATEWAY_OVERFLOW_POLICY", "evict-oldest")) {
	case "discard-new":
		cfg.OverflowPolicy = DiscardNew
	default:
		cfg.OverflowPolicy = EvictOldest
	}

	secret, err := config.EnvOrSecretBytes("GATEWAY_HMAC_SECRET")
	if err != nil {
		return nil, fmt.Errorf("load HMAC secret: %w", err)
	}
	cfg.HMACSecret = secret

	cfg.Principals = make(map[string]struct{})
	for _, p := range file.Principals {
		if p.Credential != "" {
			cfg.Principals[p.Credential] = struct{}{}
		}
	}
	for _, cred := range config.SplitAndTrimCSV(getEnv("GATEWAY_PRINCIPALS", "")) {
		cfg.Principals[cred] = struct{}{}
	}
	if len(cfg.Principals) == 0 {
		return nil, fmt.Errorf("no API principals configured")
	}

	return cfg, nil
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

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
