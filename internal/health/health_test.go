package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingChecker struct {
	calls  atomic.Int32
	status Status
	err    error
	delay  time.Duration
}

func (c *countingChecker) Check(ctx context.Context) (Status, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.status, c.err
}

func TestCachedGate_CachesWithinTTL(t *testing.T) {
	clk := clock.NewMock()
	checker := &countingChecker{status: Status{Healthy: true}}
	gate := NewCachedGate(checker, clk, GateConfig{TTL: 5 * time.Second})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if st := gate.IsHealthy(ctx); !st.Healthy {
			t.Fatalf("expected healthy, got %+v", st)
		}
	}
	if checker.calls.Load() != 1 {
		t.Errorf("expected 1 probe within TTL, got %d", checker.calls.Load())
	}

	clk.Add(5 * time.Second)
	gate.IsHealthy(ctx)
	if checker.calls.Load() != 2 {
		t.Errorf("expected a new probe after TTL, got %d", checker.calls.Load())
	}
}

func TestCachedGate_FailsClosedOnError(t *testing.T) {
	checker := &countingChecker{err: errors.New("connection refused")}
	gate := NewCachedGate(checker, clock.NewMock(), GateConfig{TTL: time.Second})

	st := gate.IsHealthy(context.Background())
	if st.Healthy {
		t.Fatal("expected unhealthy when probe fails")
	}
	if st.Reason == "" {
		t.Error("expected a reason")
	}
}

func TestCachedGate_FailOpen(t *testing.T) {
	checker := &countingChecker{err: errors.New("timeout")}
	gate := NewCachedGate(checker, clock.NewMock(), GateConfig{TTL: time.Second, FailOpen: true})

	if st := gate.IsHealthy(context.Background()); !st.Healthy {
		t.Fatalf("expected fail-open to report healthy, got %+v", st)
	}
}

func TestCachedGate_FailOpenDoesNotMaskUnhealthyAnswer(t *testing.T) {
	checker := &countingChecker{status: Status{Healthy: false, Reason: "degraded"}}
	gate := NewCachedGate(checker, clock.NewMock(), GateConfig{FailOpen: true})

	if st := gate.IsHealthy(context.Background()); st.Healthy || st.Reason != "degraded" {
		t.Errorf("expected explicit unhealthy answer to pass through, got %+v", st)
	}
}

func TestCachedGate_CollapsesConcurrentProbes(t *testing.T) {
	checker := &countingChecker{status: Status{Healthy: true}, delay: 50 * time.Millisecond}
	gate := NewCachedGate(checker, clock.NewMock(), GateConfig{TTL: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate.IsHealthy(context.Background())
		}()
	}
	wg.Wait()

	if n := checker.calls.Load(); n > 2 {
		t.Errorf("expected concurrent probes to collapse, got %d", n)
	}
}

func TestCachedGate_Invalidate(t *testing.T) {
	checker := &countingChecker{status: Status{Healthy: true}}
	gate := NewCachedGate(checker, clock.NewMock(), GateConfig{TTL: time.Minute})

	gate.IsHealthy(context.Background())
	gate.Invalidate()
	gate.IsHealthy(context.Background())
	if checker.calls.Load() != 2 {
		t.Errorf("expected probe after invalidate, got %d calls", checker.calls.Load())
	}
}

func startHealthServer(t *testing.T) (*grpchealth.Server, *GRPCChecker) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go srv.Serve(lis)

	checker, err := NewGRPCChecker("passthrough:///bufnet", "correlation.v1.CorrelationEngine",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewGRPCChecker failed: %v", err)
	}
	t.Cleanup(func() {
		checker.Close()
		srv.Stop()
	})
	return hs, checker
}

func TestGRPCChecker(t *testing.T) {
	hs, checker := startHealthServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hs.SetServingStatus("correlation.v1.CorrelationEngine", healthpb.HealthCheckResponse_SERVING)
	st, err := checker.Check(ctx)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !st.Healthy {
		t.Errorf("expected healthy, got %+v", st)
	}

	hs.SetServingStatus("correlation.v1.CorrelationEngine", healthpb.HealthCheckResponse_NOT_SERVING)
	st, err = checker.Check(ctx)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if st.Healthy {
		t.Error("expected unhealthy for NOT_SERVING")
	}
}

func TestGRPCChecker_UnknownServiceIsError(t *testing.T) {
	_, checker := startHealthServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := checker.Check(ctx); err == nil {
		t.Error("expected error for unregistered service")
	}
}

func TestHTTPChecker(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		healthy bool
		wantErr bool
	}{
		{"healthy body", http.StatusOK, `{"status":"healthy"}`, true, false},
		{"serving", http.StatusOK, `{"status":"SERVING"}`, true, false},
		{"degraded", http.StatusOK, `{"status":"degraded","reason":"neo4j down"}`, false, false},
		{"no status field", http.StatusOK, `{"uptime":42}`, false, false},
		{"empty body", http.StatusOK, ``, false, true},
		{"html error page", http.StatusOK, `<html>502 upstream proxy error page</html>`, false, true},
		{"server error", http.StatusServiceUnavailable, ``, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			st, err := NewHTTPChecker(srv.URL, srv.Client()).Check(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", st)
				}
				return
			}
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if st.Healthy != tt.healthy {
				t.Errorf("expected healthy=%v, got %+v", tt.healthy, st)
			}
		})
	}
}

func TestCachedGate_FailsClosedOnUndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>502 upstream proxy error page</html>`))
	}))
	defer srv.Close()

	gate := NewCachedGate(NewHTTPChecker(srv.URL, srv.Client()), clock.NewMock(), GateConfig{TTL: time.Second})
	if st := gate.IsHealthy(context.Background()); st.Healthy {
		t.Errorf("expected unhealthy for an unverifiable response, got %+v", st)
	}
}
