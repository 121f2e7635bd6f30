package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-emergency-alerts/internal/alerting"
	"github.com/mr1hm/go-emergency-alerts/internal/api"
	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/dashboard"
	"github.com/mr1hm/go-emergency-alerts/internal/delivery"
	internalgrpc "github.com/mr1hm/go-emergency-alerts/internal/grpc"
	"github.com/mr1hm/go-emergency-alerts/internal/health"
	"github.com/mr1hm/go-emergency-alerts/internal/idgen"
	"github.com/mr1hm/go-emergency-alerts/internal/ingestion"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/monitor"
	"github.com/mr1hm/go-emergency-alerts/internal/notify"
	"github.com/mr1hm/go-emergency-alerts/internal/ratelimit"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.New()
	ids := idgen.UUID{}

	// Correlation engine health gate
	checker, closeChecker, err := newChecker(cfg.Health)
	if err != nil {
		logging.Fatalf("Failed to create health checker: %v", err)
	}
	defer closeChecker()
	gate := health.NewCachedGate(checker, clk, health.GateConfig{
		TTL:      cfg.Health.CacheTTL,
		Timeout:  cfg.Health.Timeout,
		FailOpen: cfg.Health.FailOpen,
	})
	if cfg.Health.FailOpen {
		slog.Warn("health gate is fail-open: commands proceed while the correlation engine is unreachable")
	}

	// Event fan-out: websocket hub plus optional redis
	hub := notify.NewHub()
	publishers := []notify.Publisher{hub}
	if cfg.Notify.RedisAddr != "" {
		rp, err := notify.NewRedisPublisher(ctx, cfg.Notify.RedisAddr, cfg.Notify.RedisChannel)
		if err != nil {
			logging.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rp.Close()
		publishers = append(publishers, rp)
	}
	notifier := notify.NewFanout(5*time.Second, publishers...)

	// Delivery
	var sender delivery.Sender = delivery.NewLogSender(ids)
	if cfg.SMTP.Host != "" {
		sender = delivery.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, ids)
	} else {
		slog.Warn("SMTP_HOST not set, deliveries are only logged")
	}
	dispatcher := delivery.NewDispatcher(db, db, sender, clk, ids)

	alerts := alerting.NewService(db, gate, dispatcher, notifier, clk, ids)
	thresholds := dashboard.DefaultThresholds()
	thresholds.SLAThreshold = cfg.Monitor.SLAThreshold
	thresholds.ApprovalTimeout = cfg.Monitor.ApprovalTimeout
	dash := dashboard.NewService(db, db, db, clk, thresholds)

	var wg sync.WaitGroup
	goRun := func(run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	// Background upkeep
	mon := monitor.New(db, dispatcher, notifier, clk, monitor.Config{
		Interval:        cfg.Monitor.Interval,
		SLAThreshold:    cfg.Monitor.SLAThreshold,
		ApprovalTimeout: cfg.Monitor.ApprovalTimeout,
	})
	goRun(mon.Run)

	// Start ingestion manager
	mgr := ingestion.NewManager(db, notifier, clk, cfg.Worker.Count, cfg.Worker.BufferSize)
	if cfg.Correlation.PollEnabled {
		mgr.AddPoller(ingestion.NewHTTPSource(cfg.Correlation.PollURL, nil), cfg.Correlation.PollInterval)
	}
	if len(cfg.Correlation.KafkaBrokers) > 0 {
		mgr.AddStream(ingestion.NewKafkaSource(cfg.Correlation.KafkaBrokers, cfg.Correlation.KafkaTopic, cfg.Correlation.KafkaGroupID))
	}
	mgr.Start(ctx)

	// Start gRPC health server
	grpcServer := internalgrpc.NewServer(db, clk, 10*time.Second)
	goRun(grpcServer.Run)
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", api.HeaderCorrelationID, api.HeaderPrincipalID, api.HeaderPrincipalRole},
		ExposeHeaders:    []string{"Content-Length", api.HeaderCorrelationID, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.CorrelationID(ids), api.Principal(), api.RequestLogger())
	policy := ratelimit.NewPolicy(
		toRules(cfg.RateLimit.Rules), cfg.RateLimit.DefaultLimit,
		cfg.RateLimit.TrustedPrincipals, cfg.RateLimit.BypassPaths,
	)
	router.Use(api.GlobalRateLimitMiddleware(cfg.RateLimit.GlobalRPS, policy))
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(clk, cfg.RateLimit.Window)
		goRun(limiter.Run)
		router.Use(api.RateLimitMiddleware(limiter, policy))
	}

	handler := api.NewHandler(alerts, dash, db, ids,
		api.WithEventStream(notify.NewWebSocketHandler(hub, cfg.Server.CORSOrigins)),
		api.WithReadiness(db),
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	cancel()
	mgr.Stop()
	wg.Wait()
	hub.Close() // Close all event streams gracefully
	grpcServer.Stop()

	slog.Info("shutdown complete")
}

func newChecker(cfg config.HealthConfig) (health.Checker, func(), error) {
	switch cfg.Mode {
	case config.HealthModeGRPC:
		c, err := health.NewGRPCChecker(cfg.Address, cfg.Service)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	case config.HealthModeHTTP:
		return health.NewHTTPChecker(cfg.Address, nil), func() {}, nil
	default:
		return health.Static{Status: health.Status{Healthy: true, Reason: "static"}}, func() {}, nil
	}
}

func toRules(in []config.RateRule) []ratelimit.Rule {
	out := make([]ratelimit.Rule, 0, len(in))
	for _, r := range in {
		out = append(out, ratelimit.Rule{Operation: r.Operation, Role: r.Role, Limit: r.Limit})
	}
	return out
}
