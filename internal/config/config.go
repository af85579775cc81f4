// Package config loads the controller's ambient process configuration
// (logging, worker pool sizing, substrate retry tuning, tracing,
// discovery) from a YAML file, layered with environment overrides.
//
// This configuration is distinct from — and does not replace — the
// positional topologyFile/prefixFile arguments and the -comtrees file
// that carry the actual network and comtree state; those are parsed by the topology
// and comtree packages.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type FileLoggerConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	Compress   bool   `yaml:"compress"`
}

type LoggerConfig struct {
	Active   bool             `yaml:"active"`
	Level    string           `yaml:"level"`
	Encoding string           `yaml:"encoding"`
	Mode     string           `yaml:"mode"`
	File     FileLoggerConfig `yaml:"file"`
}

// SubstrateConfig tunes the ControllerRuntime worker pool and the
// ConfigurationProtocol retry contract.
type SubstrateConfig struct {
	Workers         int           `yaml:"workers"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryInterval   time.Duration `yaml:"retryInterval"`
	ReplyTimeout    time.Duration `yaml:"replyTimeout"`
	TimeoutScanTick time.Duration `yaml:"timeoutScanTick"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

type Route53Config struct {
	HostedZoneID string `yaml:"hostedZoneId"`
	DomainSuffix string `yaml:"domainSuffix"`
	TTL          int64  `yaml:"ttl"`
}

// DiscoveryConfig configures how this controller finds sibling
// controllers for admin-console introspection. It has no bearing on
// comtree state, which is never shared across controllers.
type DiscoveryConfig struct {
	Mode    string        `yaml:"mode"` // "static", "route53", "none"
	Peers   []string      `yaml:"peers"`
	Route53 Route53Config `yaml:"route53"`
}

type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Substrate SubstrateConfig `yaml:"substrate"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// Default returns the configuration used when no -config file is given.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{Active: true, Level: "info", Encoding: "console", Mode: "stderr"},
		Substrate: SubstrateConfig{
			Workers:         200,
			MaxRetries:      3,
			RetryInterval:   time.Second,
			ReplyTimeout:    2 * time.Second,
			TimeoutScanTick: 250 * time.Millisecond,
		},
		Discovery: DiscoveryConfig{Mode: "none"},
	}
}

// Load reads and parses the YAML configuration file at path.
//
// This performs only syntactic parsing; call Validate afterward
// to check for missing or out-of-range fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overrides selected fields from the environment.
// Supported variables:
//
//	FORESTCTL_LOG_LEVEL, FORESTCTL_LOG_ENCODING, FORESTCTL_LOG_MODE
//	FORESTCTL_WORKERS, FORESTCTL_MAX_RETRIES
//	FORESTCTL_DISCOVERY_MODE, FORESTCTL_DISCOVERY_PEERS (comma-separated)
//	FORESTCTL_TRACE_ENABLED, FORESTCTL_TRACE_EXPORTER, FORESTCTL_TRACE_ENDPOINT
func (cfg *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FORESTCTL_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("FORESTCTL_LOG_ENCODING"); v != "" {
		cfg.Logger.Encoding = v
	}
	if v := os.Getenv("FORESTCTL_LOG_MODE"); v != "" {
		cfg.Logger.Mode = v
	}
	if v := os.Getenv("FORESTCTL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Substrate.Workers = n
		}
	}
	if v := os.Getenv("FORESTCTL_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Substrate.MaxRetries = n
		}
	}
	if v := os.Getenv("FORESTCTL_DISCOVERY_MODE"); v != "" {
		cfg.Discovery.Mode = v
	}
	if v := os.Getenv("FORESTCTL_DISCOVERY_PEERS"); v != "" {
		cfg.Discovery.Peers = strings.Split(v, ",")
	}
	if v := os.Getenv("FORESTCTL_TRACE_ENABLED"); v != "" {
		v = strings.ToLower(v)
		cfg.Telemetry.Tracing.Enabled = v == "true" || v == "1" || v == "yes"
	}
	if v := os.Getenv("FORESTCTL_TRACE_EXPORTER"); v != "" {
		cfg.Telemetry.Tracing.Exporter = v
	}
	if v := os.Getenv("FORESTCTL_TRACE_ENDPOINT"); v != "" {
		cfg.Telemetry.Tracing.Endpoint = v
	}
}

// Validate performs structural validation of the loaded configuration.
// All problems found are accumulated and returned as a single error.
func (cfg *Config) Validate() error {
	var errs []string

	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.level: %s", cfg.Logger.Level))
	}
	switch cfg.Logger.Encoding {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.encoding: %s", cfg.Logger.Encoding))
	}
	switch cfg.Logger.Mode {
	case "stderr":
	case "file":
		if cfg.Logger.File.Path == "" {
			errs = append(errs, "logger.file.path is required when mode=file")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.mode: %s", cfg.Logger.Mode))
	}

	if cfg.Substrate.Workers <= 0 {
		errs = append(errs, "substrate.workers must be > 0")
	}
	if cfg.Substrate.MaxRetries <= 0 {
		errs = append(errs, "substrate.maxRetries must be > 0")
	}
	if cfg.Substrate.RetryInterval <= 0 {
		errs = append(errs, "substrate.retryInterval must be > 0")
	}
	if cfg.Substrate.ReplyTimeout <= 0 {
		errs = append(errs, "substrate.replyTimeout must be > 0")
	}

	switch cfg.Discovery.Mode {
	case "none", "static", "route53":
	default:
		errs = append(errs, fmt.Sprintf("invalid discovery.mode: %s", cfg.Discovery.Mode))
	}
	if cfg.Discovery.Mode == "route53" {
		if cfg.Discovery.Route53.HostedZoneID == "" {
			errs = append(errs, "discovery.route53.hostedZoneId is required when discovery.mode=route53")
		}
		if cfg.Discovery.Route53.DomainSuffix == "" {
			errs = append(errs, "discovery.route53.domainSuffix is required when discovery.mode=route53")
		}
	}

	if cfg.Telemetry.Tracing.Enabled {
		switch cfg.Telemetry.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			errs = append(errs, fmt.Sprintf("invalid telemetry.tracing.exporter: %s", cfg.Telemetry.Tracing.Exporter))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
