package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	GRPC        GRPCConfig
	DB          DatabaseConfig
	Logging     LoggingConfig
	Health      HealthConfig
	RateLimit   RateLimitConfig
	Worker      WorkerConfig
	Monitor     MonitorConfig
	Correlation CorrelationConfig
	Notify      NotifyConfig
	SMTP        SMTPConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

type GRPCConfig struct {
	Port int
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

const (
	HealthModeGRPC   = "grpc"
	HealthModeHTTP   = "http"
	HealthModeStatic = "static"
)

// HealthConfig points at the correlation engine whose health gates create,
// approve and reject.
type HealthConfig struct {
	Mode     string
	Address  string
	Service  string
	CacheTTL time.Duration
	Timeout  time.Duration
	// FailOpen treats an unreachable engine as healthy. It inverts the
	// fail-safe behavior and is meant for non-production environments.
	FailOpen bool
}

type RateLimitConfig struct {
	Enabled           bool
	Window            time.Duration
	DefaultLimit      int
	Rules             []RateRule
	TrustedPrincipals []string
	BypassPaths       []string
	GlobalRPS         int
}

// RateRule limits one operation for one role. Role "*" matches any role.
type RateRule struct {
	Operation string
	Role      string
	Limit     int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type MonitorConfig struct {
	Interval        time.Duration
	SLAThreshold    time.Duration
	ApprovalTimeout time.Duration
}

type CorrelationConfig struct {
	PollEnabled  bool
	PollURL      string
	PollInterval time.Duration
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
}

type NotifyConfig struct {
	RedisAddr    string
	RedisChannel string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

const defaultRateRules = "alert.create:operator=10,alert.create:*=5,alert.decide:approver=30,alert.decide:*=10,alert.cancel:*=10"

func Load() (*Config, error) {
	rules, err := ParseRateRules(getEnv("RATE_LIMIT_RULES", defaultRateRules))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "localhost"),
			Port:        getEnvInt("SERVER_PORT", 8080),
			CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/emergency-alerts.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Health: HealthConfig{
			Mode:     getEnv("HEALTH_MODE", HealthModeGRPC),
			Address:  getEnv("HEALTH_ADDRESS", "localhost:50061"),
			Service:  getEnv("HEALTH_SERVICE", "correlation.v1.CorrelationEngine"),
			CacheTTL: getEnvDuration("HEALTH_CACHE_TTL", 5*time.Second),
			Timeout:  getEnvDuration("HEALTH_TIMEOUT", 2*time.Second),
			FailOpen: getEnvBool("HEALTH_FAIL_OPEN", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
			Window:            getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			DefaultLimit:      getEnvInt("RATE_LIMIT_DEFAULT", 60),
			Rules:             rules,
			TrustedPrincipals: getEnvList("RATE_LIMIT_TRUSTED", nil),
			BypassPaths:       getEnvList("RATE_LIMIT_BYPASS_PATHS", []string{"/health", "/ready"}),
			GlobalRPS:         getEnvInt("RATE_LIMIT_GLOBAL_RPS", 50),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		Monitor: MonitorConfig{
			Interval:        getEnvDuration("MONITOR_INTERVAL", 15*time.Second),
			SLAThreshold:    getEnvDuration("SLA_THRESHOLD", 60*time.Second),
			ApprovalTimeout: getEnvDuration("APPROVAL_TIMEOUT", 5*time.Minute),
		},
		Correlation: CorrelationConfig{
			PollEnabled:  getEnvBool("CORRELATION_POLL_ENABLED", false),
			PollURL:      getEnv("CORRELATION_POLL_URL", "http://localhost:8090/api/correlations/active"),
			PollInterval: getEnvDuration("CORRELATION_POLL_INTERVAL", time.Minute),
			KafkaBrokers: getEnvList("KAFKA_BROKERS", nil),
			KafkaTopic:   getEnv("KAFKA_CORRELATION_TOPIC", "correlation-events"),
			KafkaGroupID: getEnv("KAFKA_GROUP_ID", "emergency-alerts"),
		},
		Notify: NotifyConfig{
			RedisAddr:    getEnv("REDIS_ADDR", ""),
			RedisChannel: getEnv("REDIS_CHANNEL", "alert-events"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "alerts@localhost"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Health.Mode {
	case HealthModeGRPC, HealthModeHTTP:
		if c.Health.Address == "" {
			return fmt.Errorf("health address is required for mode %s", c.Health.Mode)
		}
	case HealthModeStatic:
		if !c.Health.FailOpen {
			return fmt.Errorf("static health mode requires HEALTH_FAIL_OPEN=true")
		}
	default:
		return fmt.Errorf("invalid health mode: %s", c.Health.Mode)
	}
	if c.Health.CacheTTL < 0 || c.Health.CacheTTL > time.Minute {
		return fmt.Errorf("health cache TTL must be between 0 and 1 minute")
	}
	if c.Health.Timeout <= 0 {
		return fmt.Errorf("health timeout must be positive")
	}

	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate limit window must be at least 1 second")
	}
	if c.RateLimit.DefaultLimit < 1 {
		return fmt.Errorf("rate limit default must be at least 1")
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if c.Monitor.Interval < time.Second {
		return fmt.Errorf("monitor interval must be at least 1 second")
	}
	if c.Correlation.PollEnabled && c.Correlation.PollInterval < 10*time.Second {
		return fmt.Errorf("correlation poll interval must be at least 10 seconds")
	}

	return nil
}

// ParseRateRules parses "operation:role=limit" entries separated by commas.
func ParseRateRules(s string) ([]RateRule, error) {
	var rules []RateRule
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, limitStr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate rule %q: missing limit", entry)
		}
		op, role, ok := strings.Cut(key, ":")
		if !ok || op == "" || role == "" {
			return nil, fmt.Errorf("invalid rate rule %q: expected operation:role", entry)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
		if err != nil || limit < 1 {
			return nil, fmt.Errorf("invalid rate rule %q: limit must be a positive integer", entry)
		}
		rules = append(rules, RateRule{
			Operation: strings.TrimSpace(op),
			Role:      strings.ToLower(strings.TrimSpace(role)),
			Limit:     limit,
		})
	}
	return rules, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
