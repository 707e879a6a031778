// Package config loads the service configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("LEARNFLOW").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/learnflow/learnflow/internal/cache"
	"github.com/learnflow/learnflow/internal/server"
	"github.com/learnflow/learnflow/jobqueue"
	"github.com/learnflow/learnflow/llm/retry"
)

// Config is the complete service configuration.
type Config struct {
	Server server.Config `yaml:"server"`

	Redis RedisConfig `yaml:"redis"`

	Cache cache.Config `yaml:"cache"`

	Queue jobqueue.Config `yaml:"queue"`

	Worker jobqueue.WorkerConfig `yaml:"worker"`

	LLM LLMConfig `yaml:"llm"`

	Log LogConfig `yaml:"log"`

	Metrics MetricsConfig `yaml:"metrics"`
}

// RedisConfig configures the shared Redis connection.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

// LLMConfig configures structured generation across the backend chain.
type LLMConfig struct {
	// Attempts is the number of generation attempts per backend.
	Attempts int `yaml:"attempts"`

	// Retry shapes the backoff between attempts.
	Retry retry.Policy `yaml:"retry"`

	// Backends are tried in declaration order. The first entry is the
	// primary model, the rest are fallbacks.
	Backends []BackendConfig `yaml:"backends"`
}

// BackendConfig names one provider/model pair in the fallback chain.
type BackendConfig struct {
	// Provider is a label for logs and metrics (e.g. "openrouter").
	Provider string `yaml:"provider"`

	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond rate-limits calls to this backend; 0 disables.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level            string   `yaml:"level"`
	Format           string   `yaml:"format"`
	OutputPaths      []string `yaml:"output_paths"`
	EnableCaller     bool     `yaml:"enable_caller"`
	EnableStacktrace bool     `yaml:"enable_stacktrace"`
}

// MetricsConfig configures the Prometheus exposition.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the configuration used when no file or environment
// overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Server: server.DefaultConfig(),
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Cache:  cache.DefaultConfig(),
		Queue:  jobqueue.DefaultConfig(),
		Worker: jobqueue.DefaultWorkerConfig(),
		LLM: LLMConfig{
			Attempts: 3,
			Retry:    *retry.DefaultPolicy(),
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Metrics: MetricsConfig{
			Namespace: "learnflow",
		},
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Queue.Retention <= 0 {
		return fmt.Errorf("queue.retention must be positive")
	}
	if c.LLM.Attempts <= 0 {
		return fmt.Errorf("llm.attempts must be positive")
	}
	for i, b := range c.LLM.Backends {
		if b.BaseURL == "" {
			return fmt.Errorf("llm.backends[%d].base_url is required", i)
		}
		if b.Model == "" {
			return fmt.Errorf("llm.backends[%d].model is required", i)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// Loader builds a Config from defaults, file, and environment.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a config loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "LEARNFLOW"}
}

// WithConfigPath sets the YAML file path. A missing file is not an error;
// defaults and environment still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends an extra validation step.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Precedence: defaults, then YAML file,
// then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the config recursively. Environment keys are
// derived from yaml tags: server.read_timeout -> PREFIX_SERVER_READ_TIMEOUT.
// Slices of structs (the backend list) are only configurable via YAML.
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		yamlTag := fieldType.Tag.Get("yaml")
		name := strings.Split(yamlTag, ",")[0]
		if name == "" || name == "-" {
			continue
		}

		envKey := prefix + "_" + strings.ToUpper(name)

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}
