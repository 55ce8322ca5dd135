// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. Empty means no persistence and every subsystem
	// degrades to in-memory state.
	DatabaseURL string

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration
	DevTokens         bool // Accept colon-delimited "tenant:user:roles" tokens (development only).

	// Admin bootstrap.
	AdminAPIKey string // API key for the initial admin agent.

	// Verification engine settings.
	MaxConcurrentVerifications int
	DefaultVerifyTimeout       time.Duration
	MaxVerifyTimeout           time.Duration
	VerifyCacheTTL             time.Duration
	VerifyCacheSweepInterval   time.Duration
	MinConsensus               float64 // Cross-reference consensus threshold.

	// Security envelope settings.
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	MaxAuditEvents       int
	AuditRetentionDays   int

	// HTTP-layer rate limiting (token bucket).
	HTTPRateLimitEnabled bool
	HTTPRateLimitRPS     float64
	HTTPRateLimitBurst   int

	// Search provider keys. A provider is enabled when its key is present;
	// DuckDuckGo needs no key and is always available.
	BraveAPIKey          string
	GoogleAPIKey         string
	GoogleSearchEngineID string
	BingAPIKey           string
	SearchTimeout        time.Duration

	// Web navigator settings.
	CrawlerUserAgent      string
	FetchTimeout          time.Duration
	MaxRedirects          int
	MaxContentSizeMB      int
	RespectRobotsTxt      bool
	RobotsCacheTTL        time.Duration
	DomainRequestsPerMin  int
	DomainBackoffInitial  time.Duration
	DomainBackoffMax      time.Duration
	DomainBackoffMultiple float64
	ContentCacheTTL       time.Duration
	ContentCacheMaxMB     int

	// Health monitor settings.
	HealthCheckInterval     time.Duration
	MetricsCollectInterval  time.Duration
	MemoryAlertPercent      float64
	ErrorRateAlertPercent   float64
	ResponseTimeAlertMillis int64

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	MaxRequestBodyBytes int64
	ShutdownHTTPTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:         envInt("SAITEI_PORT", 8080),
		ReadTimeout:  envDuration("SAITEI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout: envDuration("SAITEI_WRITE_TIMEOUT", 30*time.Second),

		DatabaseURL: envStr("DATABASE_URL", ""),

		JWTPrivateKeyPath: envStr("SAITEI_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  envStr("SAITEI_JWT_PUBLIC_KEY", ""),
		JWTExpiration:     envDuration("SAITEI_JWT_EXPIRATION", 24*time.Hour),
		DevTokens:         envBool("SAITEI_DEV_TOKENS", false),

		AdminAPIKey: envStr("SAITEI_ADMIN_API_KEY", ""),

		MaxConcurrentVerifications: envInt("SAITEI_MAX_CONCURRENT_VERIFICATIONS", 10),
		DefaultVerifyTimeout:       envDuration("SAITEI_VERIFY_TIMEOUT", 30*time.Second),
		MaxVerifyTimeout:           envDuration("SAITEI_VERIFY_TIMEOUT_CAP", 2*time.Minute),
		VerifyCacheTTL:             envDuration("SAITEI_VERIFY_CACHE_TTL", time.Hour),
		VerifyCacheSweepInterval:   envDuration("SAITEI_VERIFY_CACHE_SWEEP", 5*time.Minute),
		MinConsensus:               envFloat("SAITEI_MIN_CONSENSUS", 0.6),

		RateLimitWindow:      envDuration("SAITEI_RATE_LIMIT_WINDOW", time.Minute),
		RateLimitMaxRequests: envInt("SAITEI_RATE_LIMIT_MAX_REQUESTS", 100),
		MaxAuditEvents:       envInt("SAITEI_MAX_AUDIT_EVENTS", 10_000),
		AuditRetentionDays:   envInt("SAITEI_AUDIT_RETENTION_DAYS", 90),

		HTTPRateLimitEnabled: envBool("SAITEI_HTTP_RATE_LIMIT", true),
		HTTPRateLimitRPS:     envFloat("SAITEI_HTTP_RATE_LIMIT_RPS", 10),
		HTTPRateLimitBurst:   envInt("SAITEI_HTTP_RATE_LIMIT_BURST", 30),

		BraveAPIKey:          envStr("BRAVE_SEARCH_API_KEY", ""),
		GoogleAPIKey:         envStr("GOOGLE_SEARCH_API_KEY", ""),
		GoogleSearchEngineID: envStr("GOOGLE_SEARCH_ENGINE_ID", ""),
		BingAPIKey:           envStr("BING_SEARCH_API_KEY", ""),
		SearchTimeout:        envDuration("SAITEI_SEARCH_TIMEOUT", 5*time.Second),

		CrawlerUserAgent:      envStr("SAITEI_CRAWLER_USER_AGENT", "saitei-navigator/1.0"),
		FetchTimeout:          envDuration("SAITEI_FETCH_TIMEOUT", 15*time.Second),
		MaxRedirects:          envInt("SAITEI_MAX_REDIRECTS", 5),
		MaxContentSizeMB:      envInt("SAITEI_MAX_CONTENT_SIZE_MB", 10),
		RespectRobotsTxt:      envBool("SAITEI_RESPECT_ROBOTS", true),
		RobotsCacheTTL:        envDuration("SAITEI_ROBOTS_CACHE_TTL", time.Hour),
		DomainRequestsPerMin:  envInt("SAITEI_DOMAIN_REQUESTS_PER_MIN", 30),
		DomainBackoffInitial:  envDuration("SAITEI_DOMAIN_BACKOFF_INITIAL", time.Second),
		DomainBackoffMax:      envDuration("SAITEI_DOMAIN_BACKOFF_MAX", 5*time.Minute),
		DomainBackoffMultiple: envFloat("SAITEI_DOMAIN_BACKOFF_MULTIPLIER", 2.0),
		ContentCacheTTL:       envDuration("SAITEI_CONTENT_CACHE_TTL", 6*time.Hour),
		ContentCacheMaxMB:     envInt("SAITEI_CONTENT_CACHE_MAX_MB", 100),

		HealthCheckInterval:     envDuration("SAITEI_HEALTH_CHECK_INTERVAL", 30*time.Second),
		MetricsCollectInterval:  envDuration("SAITEI_METRICS_INTERVAL", time.Minute),
		MemoryAlertPercent:      envFloat("SAITEI_MEMORY_ALERT_PERCENT", 85),
		ErrorRateAlertPercent:   envFloat("SAITEI_ERROR_RATE_ALERT_PERCENT", 10),
		ResponseTimeAlertMillis: int64(envInt("SAITEI_RESPONSE_TIME_ALERT_MS", 5000)),

		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "saitei"),
		OTELInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),

		MaxRequestBodyBytes: int64(envInt("SAITEI_MAX_REQUEST_BODY_BYTES", 1*1024*1024)),
		ShutdownHTTPTimeout: envDuration("SAITEI_SHUTDOWN_HTTP_TIMEOUT", 15*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and in range.
func (c Config) Validate() error {
	if c.MaxConcurrentVerifications <= 0 {
		return fmt.Errorf("config: SAITEI_MAX_CONCURRENT_VERIFICATIONS must be positive")
	}
	if c.MinConsensus <= 0.5 || c.MinConsensus > 1 {
		return fmt.Errorf("config: SAITEI_MIN_CONSENSUS must be in (0.5, 1]")
	}
	if c.RateLimitMaxRequests <= 0 {
		return fmt.Errorf("config: SAITEI_RATE_LIMIT_MAX_REQUESTS must be positive")
	}
	if c.MaxAuditEvents <= 0 {
		return fmt.Errorf("config: SAITEI_MAX_AUDIT_EVENTS must be positive")
	}
	if c.MaxContentSizeMB <= 0 {
		return fmt.Errorf("config: SAITEI_MAX_CONTENT_SIZE_MB must be positive")
	}
	if c.DomainBackoffMultiple < 1 {
		return fmt.Errorf("config: SAITEI_DOMAIN_BACKOFF_MULTIPLIER must be >= 1")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: SAITEI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.GoogleAPIKey != "" && c.GoogleSearchEngineID == "" {
		return fmt.Errorf("config: GOOGLE_SEARCH_ENGINE_ID is required when GOOGLE_SEARCH_API_KEY is set")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
