package backend

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Type selects a task backend implementation.
type Type string

const (
	// TypeRedis runs tasks over Redis streams.
	TypeRedis Type = "redis"
	// TypeTemporal runs tasks as Temporal workflows.
	TypeTemporal Type = "temporal"
	// TypeInMem runs tasks in-process. Development and tests only.
	TypeInMem Type = "inmem"
)

// Environment variables recognized by FromEnv.
const (
	EnvBackendType       = "TASK_BACKEND_TYPE"
	EnvWorkerName        = "TASK_WORKER_NAME"
	EnvWorkerConcurrency = "TASK_WORKER_CONCURRENCY"
	EnvQueues            = "TASK_QUEUES"
	EnvEnvironment       = "ENVIRONMENT"
	EnvRedisBrokerURL    = "TASK_REDIS_BROKER_URL"
	EnvRedisStreamMaxLen = "TASK_REDIS_STREAM_MAXLEN"
	EnvTemporalHost      = "TASK_TEMPORAL_HOST"
	EnvTemporalPort      = "TASK_TEMPORAL_PORT"
	EnvTemporalNamespace = "TASK_TEMPORAL_NAMESPACE"
)

type (
	// Config selects and parameterizes a backend. Each backend accepts only
	// its own section: configuring Redis fields for a Temporal backend (or
	// vice versa) is rejected at validation time rather than silently
	// ignored.
	Config struct {
		// Type selects the backend implementation.
		Type Type
		// WorkerName identifies this worker to the broker. Auto-generated
		// when empty.
		WorkerName string
		// Concurrency is the worker slot count. Defaults to 4.
		Concurrency int
		// Queues lists the queues a worker consumes. Populated from
		// TASK_QUEUES in development; production deployments pass queues
		// explicitly on the command line.
		Queues []string
		// Redis configures the Redis streams backend.
		Redis RedisConfig
		// Temporal configures the Temporal backend.
		Temporal TemporalConfig
	}

	// RedisConfig parameterizes the Redis streams backend.
	RedisConfig struct {
		// BrokerURL is the Redis connection URL. Required.
		BrokerURL string
		// StreamMaxLen bounds entries kept per queue stream. Zero uses the
		// stream default.
		StreamMaxLen int
	}

	// TemporalConfig parameterizes the Temporal backend.
	TemporalConfig struct {
		Host      string
		Port      int
		Namespace string
	}
)

func (c RedisConfig) empty() bool    { return c == RedisConfig{} }
func (c TemporalConfig) empty() bool { return c == TemporalConfig{} }

// ParseType canonicalizes s into a backend Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypeRedis, TypeTemporal, TypeInMem:
		return t, nil
	}
	return "", fmt.Errorf("unknown task backend type %q", s)
}

// FromEnv reads the backend configuration from the environment. A missing or
// malformed required variable yields an error naming it.
func FromEnv() (Config, error) {
	raw := os.Getenv(EnvBackendType)
	if raw == "" {
		return Config{}, fmt.Errorf("required environment variable %s is unset or empty", EnvBackendType)
	}
	t, err := ParseType(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", EnvBackendType, err)
	}
	cfg := Config{
		Type:        t,
		WorkerName:  os.Getenv(EnvWorkerName),
		Concurrency: 4,
	}
	if v := os.Getenv(EnvWorkerConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("%s must be a positive integer, got %q", EnvWorkerConcurrency, v)
		}
		cfg.Concurrency = n
	}
	if v := os.Getenv(EnvQueues); v != "" {
		if strings.EqualFold(os.Getenv(EnvEnvironment), "prod") {
			return Config{}, fmt.Errorf("%s is development-only; production workers take queues on the command line", EnvQueues)
		}
		for _, q := range strings.Split(v, ",") {
			if q = strings.TrimSpace(q); q != "" {
				cfg.Queues = append(cfg.Queues, q)
			}
		}
	}
	switch t {
	case TypeRedis:
		cfg.Redis.BrokerURL = os.Getenv(EnvRedisBrokerURL)
		if v := os.Getenv(EnvRedisStreamMaxLen); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return Config{}, fmt.Errorf("%s must be a non-negative integer, got %q", EnvRedisStreamMaxLen, v)
			}
			cfg.Redis.StreamMaxLen = n
		}
	case TypeTemporal:
		cfg.Temporal.Host = os.Getenv(EnvTemporalHost)
		cfg.Temporal.Namespace = os.Getenv(EnvTemporalNamespace)
		if v := os.Getenv(EnvTemporalPort); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return Config{}, fmt.Errorf("%s must be a positive integer, got %q", EnvTemporalPort, v)
			}
			cfg.Temporal.Port = n
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces per-type required fields and rejects sections that
// belong to a different backend.
func (c *Config) Validate() error {
	switch c.Type {
	case TypeRedis:
		if !c.Temporal.empty() {
			return fmt.Errorf("redis backend rejects temporal configuration fields")
		}
		if c.Redis.BrokerURL == "" {
			return fmt.Errorf("required environment variable %s is unset or empty", EnvRedisBrokerURL)
		}
	case TypeTemporal:
		if !c.Redis.empty() {
			return fmt.Errorf("temporal backend rejects redis configuration fields")
		}
		if c.Temporal.Host == "" {
			return fmt.Errorf("required environment variable %s is unset or empty", EnvTemporalHost)
		}
		if c.Temporal.Port == 0 {
			return fmt.Errorf("required environment variable %s is unset or empty", EnvTemporalPort)
		}
		if c.Temporal.Namespace == "" {
			return fmt.Errorf("required environment variable %s is unset or empty", EnvTemporalNamespace)
		}
	case TypeInMem:
		if !c.Redis.empty() || !c.Temporal.empty() {
			return fmt.Errorf("inmem backend rejects broker configuration fields")
		}
	default:
		return fmt.Errorf("unknown task backend type %q", c.Type)
	}
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	if c.WorkerName == "" {
		c.WorkerName = fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	}
	return nil
}
