// Command worker runs an execution worker bound to a task backend.
//
// The worker registers one backend task per operation, consumes the
// configured queues, and routes every task through the execution
// orchestrator. Startup runs the configuration, dependencies, and
// backend-connection health probes and refuses to start when any fails.
//
// # Configuration
//
// Environment variables:
//
//	TASK_BACKEND_TYPE        - redis | temporal | inmem (required)
//	TASK_WORKER_NAME         - worker identity (auto-generated when absent)
//	TASK_WORKER_CONCURRENCY  - worker slot count (default: 4)
//	TASK_QUEUES              - comma-separated queues, development only
//	ENVIRONMENT              - prod | dev; prod requires the -queues flag
//	TASK_REDIS_BROKER_URL    - redis backend broker URL
//	TASK_REDIS_STREAM_MAXLEN - redis backend stream cap
//	TASK_TEMPORAL_HOST       - temporal backend host
//	TASK_TEMPORAL_PORT       - temporal backend port
//	TASK_TEMPORAL_NAMESPACE  - temporal backend namespace
//	PLATFORM_SERVICE_URL     - platform RPC base URL (required)
//	PLATFORM_SERVICE_API_KEY - platform RPC key (required)
//	REDIS_HOST / REDIS_PORT / REDIS_USER / REDIS_PASSWORD
//	                         - log streaming, status gate, and LLM
//	                           rate-limit coordination (optional)
//	LLM_RATE_LIMIT_TPM       - initial shared tokens-per-minute budget
//	LLM_RATE_LIMIT_MAX_TPM   - budget ceiling the limiter probes toward
//	WORKSPACE_REMOTE_ROOT / WORKSPACE_TMP_ROOT / WORKSPACE_LOCAL_ROOT
//	                         - execution storage roots by source
//
// Outside prod a .env file in the working directory is loaded first.
//
// # Example
//
//	TASK_BACKEND_TYPE=redis TASK_REDIS_BROKER_URL=redis://localhost:6379 \
//	PLATFORM_SERVICE_URL=http://localhost:3001 PLATFORM_SERVICE_API_KEY=key \
//	go run ./cmd/worker
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"github.com/docstruct/docstruct/adapter"
	"github.com/docstruct/docstruct/executor/legacy"
	"github.com/docstruct/docstruct/features/factory"
	"github.com/docstruct/docstruct/features/llm/middleware"
	logpulse "github.com/docstruct/docstruct/features/logstream/pulse"
	"github.com/docstruct/docstruct/features/pulse"
	"github.com/docstruct/docstruct/platform"
	"github.com/docstruct/docstruct/runtime/backend"
	inmembackend "github.com/docstruct/docstruct/runtime/backend/inmem"
	redisbackend "github.com/docstruct/docstruct/runtime/backend/redis"
	temporalbackend "github.com/docstruct/docstruct/runtime/backend/temporal"
	"github.com/docstruct/docstruct/runtime/execution"
	"github.com/docstruct/docstruct/runtime/logstream"
	"github.com/docstruct/docstruct/runtime/telemetry"
	"github.com/docstruct/docstruct/runtime/worker"
	"github.com/docstruct/docstruct/storage"
)

func main() {
	queues := flag.String("queues", "", "comma-separated queues to consume (required in prod)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	prod := strings.EqualFold(os.Getenv("ENVIRONMENT"), "prod")
	if !prod {
		// Development convenience only; a missing .env is not an error.
		_ = godotenv.Load()
	}

	format := log.FormatJSON
	if !prod {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *debug {
		ctx = log.Context(ctx, log.WithDebug())
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *queues, prod); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context, queueFlag string, prod bool) error {
	logger := telemetry.NewClueLogger()

	cfg, err := backend.FromEnv()
	if err != nil {
		return err
	}
	if queueFlag != "" {
		cfg.Queues = splitQueues(queueFlag)
	}
	if prod && len(cfg.Queues) == 0 {
		return fmt.Errorf("production workers require -queues")
	}

	b, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}

	platformURL := os.Getenv("PLATFORM_SERVICE_URL")
	if platformURL == "" {
		return fmt.Errorf("required environment variable PLATFORM_SERVICE_URL is unset or empty")
	}
	platformKey := os.Getenv("PLATFORM_SERVICE_API_KEY")
	if platformKey == "" {
		return fmt.Errorf("required environment variable PLATFORM_SERVICE_API_KEY is unset or empty")
	}
	platformClient, err := platform.New(platformURL, platformKey)
	if err != nil {
		return fmt.Errorf("platform client: %w", err)
	}

	roots, err := storage.RootsFromEnv()
	if err != nil {
		return err
	}

	publisher, rdb, pingers, err := buildStreaming()
	if err != nil {
		return err
	}

	factoryOpts := []factory.Option{factory.WithLogger(logger)}
	if rdb != nil {
		wrap, err := buildRateLimiter(ctx, rdb)
		if err != nil {
			return err
		}
		factoryOpts = append(factoryOpts, factory.WithLLMMiddleware(wrap))
	}
	adapters, err := factory.New(platformClient, factoryOpts...)
	if err != nil {
		return err
	}

	report := backend.NewHealthChecker(&cfg, b, backend.WithPingers(pingers...)).Check(ctx)
	for _, probe := range report.Probes {
		logger.Info(ctx, "health probe", "probe", probe.Name,
			"healthy", probe.Healthy, "duration_ms", probe.DurationMS)
	}
	if !report.Healthy {
		return fmt.Errorf("startup health check failed")
	}

	reg := execution.NewRegistry()
	if err := legacy.Register(reg, legacy.Deps{
		Factory:   adapters,
		Roots:     roots,
		Logger:    logger,
		Publisher: publisher,
	}); err != nil {
		return err
	}

	orch := execution.NewOrchestrator(reg,
		execution.WithLogger(logger),
		execution.WithMetrics(telemetry.NewOTELMetrics()),
	)
	w, err := worker.New(b, orch, cfg, worker.WithLogger(logger))
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// buildBackend constructs the task backend selected by cfg.Type.
func buildBackend(cfg backend.Config, logger telemetry.Logger) (backend.Backend, error) {
	switch cfg.Type {
	case backend.TypeRedis:
		return redisbackend.New(cfg.Redis, redisbackend.WithLogger(logger))
	case backend.TypeTemporal:
		return temporalbackend.New(cfg.Temporal, temporalbackend.WithLogger(logger))
	case backend.TypeInMem:
		return inmembackend.New(), nil
	}
	return nil, fmt.Errorf("unknown task backend type %q", cfg.Type)
}

// buildStreaming wires the pulse log-event publisher when REDIS_HOST is set
// and returns the shared redis client for the other coordination features.
// Without it log events stay process-local.
func buildStreaming() (logstream.Publisher, *goredis.Client, []health.Pinger, error) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		return logstream.NewNoopPublisher(), nil, nil, nil
	}
	addr := host
	if port := os.Getenv("REDIS_PORT"); port != "" {
		addr = host + ":" + port
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Username: os.Getenv("REDIS_USER"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	client, err := pulse.New(pulse.Options{Redis: rdb})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pulse client: %w", err)
	}
	publisher, err := logpulse.NewPublisher(logpulse.Options{Client: client})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("log publisher: %w", err)
	}
	return publisher, rdb, []health.Pinger{redisPinger{rdb}}, nil
}

// llmRateLimitMapName is the replicated map holding the shared LLM
// tokens-per-minute budget.
const llmRateLimitMapName = "llm_rate_limits"

// buildRateLimiter joins the shared budget map on rdb and returns the LLM
// middleware that coordinates the tokens-per-minute limit across workers.
func buildRateLimiter(ctx context.Context, rdb *goredis.Client) (func(adapter.LLM) adapter.LLM, error) {
	m, err := rmap.Join(ctx, llmRateLimitMapName, rdb)
	if err != nil {
		return nil, fmt.Errorf("join llm rate-limit map: %w", err)
	}
	limiter := middleware.NewAdaptiveRateLimiter(ctx, m, "tokens_per_minute",
		envFloat("LLM_RATE_LIMIT_TPM"), envFloat("LLM_RATE_LIMIT_MAX_TPM"))
	return limiter.Middleware(), nil
}

// envFloat reads a float environment variable. Unset or malformed values read
// as zero, which the limiter replaces with its defaults.
func envFloat(name string) float64 {
	v, err := strconv.ParseFloat(os.Getenv(name), 64)
	if err != nil {
		return 0
	}
	return v
}

type redisPinger struct{ rdb *goredis.Client }

func (p redisPinger) Name() string { return "redis" }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

func splitQueues(s string) []string {
	var queues []string
	for _, q := range strings.Split(s, ",") {
		if q = strings.TrimSpace(q); q != "" {
			queues = append(queues, q)
		}
	}
	return queues
}
