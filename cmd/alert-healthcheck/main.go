// Command alert-healthcheck probes a running emergency-alert server over
// gRPC health and exits non-zero unless it is SERVING. It is meant for
// container health checks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mr1hm/go-emergency-alerts/internal/config"
	internalgrpc "github.com/mr1hm/go-emergency-alerts/internal/grpc"
	"github.com/mr1hm/go-emergency-alerts/internal/health"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	addr := flag.String("addr", fmt.Sprintf("localhost:%d", cfg.GRPC.Port), "gRPC address of the server")
	timeout := flag.Duration("timeout", 3*time.Second, "probe timeout")
	flag.Parse()

	checker, err := health.NewGRPCChecker(*addr, internalgrpc.ServiceName)
	if err != nil {
		logging.Fatalf("Failed to create health client: %v", err)
	}
	defer checker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := checker.Check(ctx)
	if err != nil {
		slog.Error("health check failed", "addr", *addr, "error", err)
		checker.Close()
		os.Exit(1)
	}
	if !st.Healthy {
		slog.Error("server not serving", "addr", *addr, "reason", st.Reason)
		checker.Close()
		os.Exit(1)
	}
	slog.Info("server serving", "addr", *addr)
}
