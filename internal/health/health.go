// Package health answers whether the correlation engine is healthy enough for
// alerts to be created or decided.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Status struct {
	Healthy bool
	Reason  string
}

// Checker performs one live health probe. A returned error means the engine
// could not be reached; the gate decides what that means.
type Checker interface {
	Check(ctx context.Context) (Status, error)
}

// Gate is what command handlers consult.
type Gate interface {
	IsHealthy(ctx context.Context) Status
}

// GRPCChecker calls grpc.health.v1.Health/Check on the engine.
type GRPCChecker struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
}

func NewGRPCChecker(address, service string, opts ...grpc.DialOption) (*GRPCChecker, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating health client for %s: %w", address, err)
	}
	return &GRPCChecker{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: service,
	}, nil
}

func (c *GRPCChecker) Check(ctx context.Context) (Status, error) {
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: c.service})
	if err != nil {
		return Status{}, fmt.Errorf("health check rpc: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return Status{Healthy: false, Reason: "correlation engine reports " + resp.GetStatus().String()}, nil
	}
	return Status{Healthy: true}, nil
}

func (c *GRPCChecker) Close() error {
	return c.conn.Close()
}

// HTTPChecker GETs a JSON health endpoint. Only a 2xx whose body reports
// "healthy", "ok" or "SERVING" counts as healthy. A body that does not
// decode is an error.
type HTTPChecker struct {
	url    string
	client *http.Client
}

func NewHTTPChecker(url string, client *http.Client) *HTTPChecker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPChecker{url: url, client: client}
}

func (c *HTTPChecker) Check(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Status{}, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("error fetching health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Status{Healthy: false, Reason: fmt.Sprintf("correlation engine returned HTTP %d", resp.StatusCode)}, nil
	}

	var body struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Status{}, fmt.Errorf("decode health body: %w", err)
	}
	if body.Status == "" {
		return Status{Healthy: false, Reason: "correlation engine health response has no status"}, nil
	}
	if body.Status != "healthy" && body.Status != "ok" && body.Status != "SERVING" {
		reason := body.Reason
		if reason == "" {
			reason = "correlation engine reports " + body.Status
		}
		return Status{Healthy: false, Reason: reason}, nil
	}
	return Status{Healthy: true}, nil
}

// Static always returns the same answer. Used for local runs without an engine.
type Static struct {
	Status Status
}

func (s Static) Check(context.Context) (Status, error) {
	return s.Status, nil
}

// CachedGate caches the last probe result for ttl and collapses concurrent
// probes into one. Probe errors yield unhealthy unless failOpen is set.
type CachedGate struct {
	checker  Checker
	clock    clock.Clock
	ttl      time.Duration
	timeout  time.Duration
	failOpen bool
	logger   *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	cached    Status
	checkedAt time.Time
	valid     bool
}

type GateConfig struct {
	TTL      time.Duration
	Timeout  time.Duration
	FailOpen bool
}

func NewCachedGate(checker Checker, clk clock.Clock, cfg GateConfig) *CachedGate {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &CachedGate{
		checker:  checker,
		clock:    clk,
		ttl:      cfg.TTL,
		timeout:  cfg.Timeout,
		failOpen: cfg.FailOpen,
		logger:   slog.Default().With("component", "health_gate"),
	}
}

func (g *CachedGate) IsHealthy(ctx context.Context) Status {
	if st, ok := g.fromCache(); ok {
		return st
	}

	v, _, _ := g.group.Do("check", func() (any, error) {
		if st, ok := g.fromCache(); ok {
			return st, nil
		}
		st := g.probe(ctx)
		g.mu.Lock()
		g.cached = st
		g.checkedAt = g.clock.Now()
		g.valid = true
		g.mu.Unlock()
		return st, nil
	})
	return v.(Status)
}

func (g *CachedGate) fromCache() (Status, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.valid || g.ttl <= 0 {
		return Status{}, false
	}
	if g.clock.Since(g.checkedAt) >= g.ttl {
		return Status{}, false
	}
	return g.cached, true
}

func (g *CachedGate) probe(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	st, err := g.checker.Check(ctx)
	if err == nil {
		if !st.Healthy {
			g.logger.Warn("correlation engine unhealthy", "reason", st.Reason)
		}
		return st
	}

	if g.failOpen {
		g.logger.Warn("health check failed, failing open", "error", err)
		return Status{Healthy: true, Reason: "fail-open: " + err.Error()}
	}
	g.logger.Error("health check failed", "error", err)
	return Status{Healthy: false, Reason: "correlation engine unreachable"}
}

// Invalidate drops the cached result.
func (g *CachedGate) Invalidate() {
	g.mu.Lock()
	g.valid = false
	g.mu.Unlock()
}
