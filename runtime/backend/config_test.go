package backend

import (
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		EnvBackendType, EnvWorkerName, EnvWorkerConcurrency, EnvQueues,
		EnvEnvironment, EnvRedisBrokerURL, EnvRedisStreamMaxLen,
		EnvTemporalHost, EnvTemporalPort, EnvTemporalNamespace,
	} {
		t.Setenv(env, "")
	}
}

func TestFromEnvRedis(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBackendType, "redis")
	t.Setenv(EnvRedisBrokerURL, "redis://localhost:6379")
	t.Setenv(EnvWorkerConcurrency, "8")
	t.Setenv(EnvQueues, "executor, api ")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Type != TypeRedis {
		t.Fatalf("type = %q, want redis", cfg.Type)
	}
	if cfg.Concurrency != 8 {
		t.Fatalf("concurrency = %d, want 8", cfg.Concurrency)
	}
	if len(cfg.Queues) != 2 || cfg.Queues[0] != "executor" || cfg.Queues[1] != "api" {
		t.Fatalf("queues = %v", cfg.Queues)
	}
	if cfg.WorkerName == "" {
		t.Fatal("worker name not auto-generated")
	}
}

func TestFromEnvErrorsNameTheVariable(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing type", nil, EnvBackendType},
		{"unknown type", map[string]string{EnvBackendType: "celery"}, EnvBackendType},
		{"redis without broker", map[string]string{EnvBackendType: "redis"}, EnvRedisBrokerURL},
		{"bad concurrency", map[string]string{
			EnvBackendType: "inmem", EnvWorkerConcurrency: "zero",
		}, EnvWorkerConcurrency},
		{"bad stream maxlen", map[string]string{
			EnvBackendType: "redis", EnvRedisBrokerURL: "redis://x", EnvRedisStreamMaxLen: "-1",
		}, EnvRedisStreamMaxLen},
		{"temporal without host", map[string]string{
			EnvBackendType: "temporal", EnvTemporalPort: "7233", EnvTemporalNamespace: "default",
		}, EnvTemporalHost},
		{"queues in prod", map[string]string{
			EnvBackendType: "inmem", EnvQueues: "executor", EnvEnvironment: "prod",
		}, EnvQueues},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			if err == nil {
				t.Fatal("FromEnv succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not name %s", err, tc.want)
			}
		})
	}
}

func TestValidateRejectsForeignSections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{"redis with temporal fields", Config{
			Type:  TypeRedis,
			Redis: RedisConfig{BrokerURL: "redis://x"},
			Temporal: TemporalConfig{
				Host: "temporal", Port: 7233, Namespace: "default",
			},
		}},
		{"temporal with redis fields", Config{
			Type:  TypeTemporal,
			Redis: RedisConfig{BrokerURL: "redis://x"},
			Temporal: TemporalConfig{
				Host: "temporal", Port: 7233, Namespace: "default",
			},
		}},
		{"inmem with broker fields", Config{
			Type:  TypeInMem,
			Redis: RedisConfig{BrokerURL: "redis://x"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := tc.cfg
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate succeeded, want rejection")
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Type: TypeInMem}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Concurrency != 4 {
		t.Fatalf("concurrency = %d, want 4", cfg.Concurrency)
	}
	if !strings.HasPrefix(cfg.WorkerName, "worker-") {
		t.Fatalf("worker name = %q, want worker- prefix", cfg.WorkerName)
	}
}
