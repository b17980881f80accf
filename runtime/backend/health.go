package backend

import (
	"context"
	"time"

	"goa.design/clue/health"
)

type (
	// ProbeResult is the outcome of one health probe.
	ProbeResult struct {
		Name       string `json:"name"`
		Healthy    bool   `json:"healthy"`
		DurationMS int64  `json:"duration_ms"`
		Error      string `json:"error,omitempty"`
	}

	// HealthReport aggregates the three startup probes. One unhealthy probe
	// fails the aggregate.
	HealthReport struct {
		Healthy bool          `json:"healthy"`
		Probes  []ProbeResult `json:"probes"`
	}

	// HealthChecker runs the configuration, dependencies, and
	// backend-connection probes in order.
	HealthChecker struct {
		cfg     *Config
		backend Backend
		pingers []health.Pinger
		now     func() time.Time
	}

	// HealthOption configures a HealthChecker.
	HealthOption func(*HealthChecker)
)

// WithPingers adds dependency pingers (Redis, Mongo, Temporal clients) to the
// dependencies probe.
func WithPingers(pingers ...health.Pinger) HealthOption {
	return func(h *HealthChecker) { h.pingers = append(h.pingers, pingers...) }
}

// WithHealthClock overrides the time source. Test support.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthChecker) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHealthChecker constructs a checker over cfg and b.
func NewHealthChecker(cfg *Config, b Backend, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{cfg: cfg, backend: b, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Check runs the three probes in order and returns the aggregate.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	report := HealthReport{Healthy: true}
	for _, probe := range []struct {
		name string
		run  func(context.Context) error
	}{
		{"configuration", h.probeConfiguration},
		{"dependencies", h.probeDependencies},
		{"backend_connection", h.probeBackendConnection},
	} {
		start := h.now()
		err := probe.run(ctx)
		res := ProbeResult{
			Name:       probe.name,
			Healthy:    err == nil,
			DurationMS: h.now().Sub(start).Milliseconds(),
		}
		if err != nil {
			res.Error = err.Error()
			report.Healthy = false
		}
		report.Probes = append(report.Probes, res)
	}
	return report
}

func (h *HealthChecker) probeConfiguration(context.Context) error {
	if h.cfg == nil {
		return ErrNotConnected
	}
	return h.cfg.Validate()
}

func (h *HealthChecker) probeDependencies(ctx context.Context) error {
	for _, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *HealthChecker) probeBackendConnection(ctx context.Context) error {
	if h.backend == nil {
		return ErrNotConnected
	}
	if h.backend.Connected() {
		return nil
	}
	return h.backend.Connect(ctx)
}
