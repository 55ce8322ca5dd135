// Package saitei is the public API for embedding the Saitei adjudication server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := saitei.New(
//	    saitei.WithVersion(version),
//	    saitei.WithLogger(logger),
//	    saitei.WithStrategy(myStrategy{}),
//	    saitei.WithEventHook(myHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: saitei (root) imports
// internal/*, but internal/* never imports saitei (root). Public types
// (Request, Result, Event, etc.) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package saitei

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/saitei/internal/arbiter"
	"github.com/ashita-ai/saitei/internal/audit"
	"github.com/ashita-ai/saitei/internal/config"
	"github.com/ashita-ai/saitei/internal/health"
	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/ratelimit"
	"github.com/ashita-ai/saitei/internal/search"
	"github.com/ashita-ai/saitei/internal/security"
	"github.com/ashita-ai/saitei/internal/server"
	"github.com/ashita-ai/saitei/internal/storage"
	"github.com/ashita-ai/saitei/internal/strategy"
	"github.com/ashita-ai/saitei/internal/telemetry"
	"github.com/ashita-ai/saitei/internal/verify"
	"github.com/ashita-ai/saitei/internal/webnav"
	"github.com/ashita-ai/saitei/migrations"
)

// App is the Saitei server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB // nil when no DATABASE_URL
	srv          *server.Server
	arb          *arbiter.Arbiter
	engine       *verify.Engine
	cache        *verify.Cache
	navigator    *webnav.Navigator
	monitor      *health.Monitor
	auditLog     *audit.Log
	broker       *server.Broker
	window       *ratelimit.WindowLimiter
	httpLimiter  ratelimit.Limiter
	otelShutdown func(context.Context) error
	eventHooks   []EventHook
	logger       *slog.Logger
	version      string
}

// New initialises the Saitei server. It connects to the database (when
// configured), runs migrations, wires all subsystems, and returns a
// ready-to-run App. It does NOT start any goroutines or accept HTTP
// connections until Run() is called.
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("saitei starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database. Absent DATABASE_URL means every subsystem runs
	// on in-memory state only.
	var db *storage.DB
	if cfg.DatabaseURL != "" {
		db, err = storage.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
	} else {
		logger.Info("persistence: disabled (no DATABASE_URL)")
	}

	// Create JWT token manager.
	tokens, err := security.NewTokenManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		if db != nil {
			db.Close()
		}
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("security: %w", err)
	}

	// Audit log, mirrored to Postgres when available.
	var auditSink audit.Sink
	if db != nil {
		auditSink = db
	}
	auditLog := audit.New(logger, cfg.MaxAuditEvents, cfg.AuditRetentionDays, auditSink)

	// Security envelope with its per-identity fixed window.
	window := ratelimit.NewWindowLimiter(cfg.RateLimitWindow, cfg.RateLimitMaxRequests)
	envelope := security.NewEnvelope(logger, tokens, auditLog, window, cfg.DevTokens)
	if cfg.DevTokens {
		logger.Warn("security: dev tokens enabled (not for production)")
	}

	// Search providers: DuckDuckGo always, the rest when keyed, plus any
	// external providers from options.
	providers := buildSearchProviders(cfg, logger)
	for _, p := range o.providers {
		providers = append(providers, &searchProviderAdapter{p: p})
	}

	// Verification strategies in fixed priority order. External strategies
	// from options join (or replace) the built-ins by kind.
	strategies := []strategy.Strategy{
		strategy.NewFactChecking(),
		strategy.NewSourceCredibility(),
		strategy.NewCrossReference(logger, providers, cfg.MinConsensus),
		strategy.NewConsistencyCheck(),
		strategy.NewLogicalValidation(),
		strategy.NewStatisticalValidation(),
	}
	for _, s := range o.strategies {
		strategies = append(strategies, newStrategyAdapter(s))
	}

	// Result cache, mirrored to Postgres when available.
	cache := verify.NewCache(logger, cfg.VerifyCacheTTL)
	if db != nil {
		cache.SetStore(db)
	}

	engine := verify.NewEngine(logger, strategies, cache,
		cfg.MaxConcurrentVerifications, cfg.DefaultVerifyTimeout, cfg.MaxVerifyTimeout)

	// Web navigator.
	navigator := webnav.New(logger, webnav.Options{
		UserAgent:            cfg.CrawlerUserAgent,
		FetchTimeout:         cfg.FetchTimeout,
		MaxRedirects:         cfg.MaxRedirects,
		MaxContentBytes:      int64(cfg.MaxContentSizeMB) << 20,
		RespectRobots:        cfg.RespectRobotsTxt,
		RobotsTTL:            cfg.RobotsCacheTTL,
		DomainRequestsPerMin: cfg.DomainRequestsPerMin,
		BackoffInitial:       cfg.DomainBackoffInitial,
		BackoffMax:           cfg.DomainBackoffMax,
		BackoffMultiplier:    cfg.DomainBackoffMultiple,
		CacheTTL:             cfg.ContentCacheTTL,
		CacheMaxMB:           cfg.ContentCacheMaxMB,
	})
	if db != nil {
		navigator.SetStore(db)
	}

	// Arbiter with its event log and chain-of-thought record.
	events := arbiter.NewEventLog(0)
	thoughts := arbiter.NewThoughts(0)
	arb := arbiter.New(arbiter.Deps{
		Logger:   logger,
		Engine:   engine,
		Events:   events,
		Thoughts: thoughts,
		FlushCaches: func() int {
			return cache.Sweep() + navigator.ClearCaches()
		},
	})

	// Health monitor with component probes.
	monitor := health.NewMonitor(logger, cfg.HealthCheckInterval, cfg.MetricsCollectInterval,
		health.Thresholds{
			MemoryPercent:    cfg.MemoryAlertPercent,
			ErrorRatePercent: cfg.ErrorRateAlertPercent,
			ResponseTimeMs:   cfg.ResponseTimeAlertMillis,
		}, memoryLimitBytes())
	registerProbes(monitor, engine, navigator, auditLog, db, cfg)

	// SSE broker and event fan-out: every observer event reaches the
	// stream and every registered hook.
	broker := server.NewBroker(logger)
	events.OnAppend(func(e model.ObserverEvent) {
		broker.Publish(e)
		dispatchHooks(logger, o.eventHooks, toPublicEvent(e))
	})

	// Security violations surface on the observer stream.
	auditLog.OnViolation(func(e model.AuditEvent) {
		events.Append("security-violation", arbiter.SeverityWarn, "", e.Action, map[string]any{
			"tenant_id":  e.TenantID,
			"user_id":    e.UserID,
			"event_type": string(e.EventType),
		})
	})

	// Health events reach the stream too; metric snapshots are persisted
	// when a database is wired.
	monitor.OnEvent(func(event string, payload any) {
		severity := arbiter.SeverityDebug
		if event == health.EventAlertCreated {
			severity = arbiter.SeverityWarn
		}
		broker.Publish(model.ObserverEvent{
			ID:        uuid.New().String(),
			Timestamp: time.Now().UTC(),
			Type:      event,
			Severity:  severity,
			Message:   event,
			Fields:    map[string]any{"payload": payload},
		})
		if db != nil && event == health.EventMetricsCollected {
			if metrics, ok := payload.(model.SystemMetrics); ok {
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					status, _ := monitor.Status()
					if err := db.InsertHealthMetric(ctx, status, metrics); err != nil {
						logger.Warn("health metric persist failed", "error", err)
					}
				}()
			}
		}
	})

	// API key registry for the token exchange.
	keys := server.NewKeyRegistry()
	if cfg.AdminAPIKey != "" {
		if err := keys.Register(cfg.AdminAPIKey, server.KeyIdentity{
			AgentID:     "admin",
			TenantID:    "default-tenant",
			Roles:       []string{"admin"},
			Permissions: []string{"*"},
		}); err != nil {
			_ = window.Close()
			if db != nil {
				db.Close()
			}
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("admin seed: %w", err)
		}
	} else {
		logger.Warn("no SAITEI_ADMIN_API_KEY configured, token exchange has no admin agent")
	}
	for _, k := range o.agentKeys {
		if err := keys.Register(k.APIKey, server.KeyIdentity{
			AgentID:     k.AgentID,
			TenantID:    k.TenantID,
			Roles:       k.Roles,
			Permissions: k.Permissions,
		}); err != nil {
			_ = window.Close()
			if db != nil {
				db.Close()
			}
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("agent key %q: %w", k.AgentID, err)
		}
	}

	// Command policy for POST /observer/commands.
	commands := security.NewCommandPolicy(
		[]string{"status", "pause", "resume", "flush-caches"}, 0, 0)

	// HTTP-layer rate limiter (token bucket, separate from the envelope's
	// fixed window).
	var limiter ratelimit.Limiter
	if cfg.HTTPRateLimitEnabled {
		limiter = ratelimit.NewTokenBucket(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("http rate limiting: disabled")
	}

	handlers := server.NewHandlers(server.HandlersDeps{
		Envelope:            envelope,
		Tokens:              tokens,
		Arbiter:             arb,
		Events:              events,
		Thoughts:            thoughts,
		Engine:              engine,
		Monitor:             monitor,
		Navigator:           navigator,
		AuditLog:            auditLog,
		Commands:            commands,
		Keys:                keys,
		Broker:              broker,
		DB:                  db,
		Logger:              logger,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	srv := server.New(server.Config{
		Handlers:     handlers,
		Envelope:     envelope,
		Limiter:      limiter,
		Logger:       logger,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		arb:          arb,
		engine:       engine,
		cache:        cache,
		navigator:    navigator,
		monitor:      monitor,
		auditLog:     auditLog,
		broker:       broker,
		window:       window,
		httpLimiter:  limiter,
		otelShutdown: otelShutdown,
		eventHooks:   o.eventHooks,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the arbiter workers, the background sweeps, the health monitor,
// and the HTTP server, then blocks until ctx is cancelled or a fatal server
// error occurs. On return, Shutdown is called automatically; callers should
// not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	a.arb.Start()
	go a.cache.Run(ctx, a.cfg.VerifyCacheSweepInterval)
	go a.auditLog.Run(ctx, time.Hour)
	go a.monitor.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight,
// (2) stop the arbiter and wait for running tasks,
// (3) stop the rate limiter cleanup goroutines,
// (4) close the database pool and OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("saitei shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	a.arb.Stop()

	_ = a.window.Close()
	_ = a.httpLimiter.Close()

	_ = a.otelShutdown(context.Background())
	if a.db != nil {
		a.db.Close()
	}

	a.logger.Info("saitei stopped")
	return nil
}

// Verify runs one verification request directly through the engine,
// bypassing the HTTP surface. Embedders use this for in-process adjudication.
func (a *App) Verify(ctx context.Context, req Request) (Result, error) {
	result, err := a.engine.Verify(ctx, fromPublicRequest(req))
	if err != nil {
		return toPublicResult(result), err
	}
	return toPublicResult(result), nil
}

// Handler exposes the root HTTP handler for tests and custom servers.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// buildSearchProviders assembles the enabled providers. DuckDuckGo needs no
// key; the rest are enabled by the presence of theirs.
func buildSearchProviders(cfg config.Config, logger *slog.Logger) []search.Provider {
	client := &http.Client{Timeout: cfg.SearchTimeout}

	providers := []search.Provider{
		search.NewDuckDuckGo(client, cfg.SearchTimeout),
	}
	if cfg.BraveAPIKey != "" {
		providers = append(providers, search.NewBrave(client, cfg.BraveAPIKey, cfg.SearchTimeout))
	}
	if cfg.GoogleAPIKey != "" {
		providers = append(providers, search.NewGoogle(client, cfg.GoogleAPIKey, cfg.GoogleSearchEngineID, cfg.SearchTimeout))
	}
	if cfg.BingAPIKey != "" {
		providers = append(providers, search.NewBing(client, cfg.BingAPIKey, cfg.SearchTimeout))
	}
	logger.Info("search providers", "count", len(providers))
	return providers
}

// registerProbes wires the component probes the monitor polls on its check
// ticker. Probes hold only the component references they need.
func registerProbes(monitor *health.Monitor, engine *verify.Engine, navigator *webnav.Navigator, auditLog *audit.Log, db *storage.DB, cfg config.Config) {
	monitor.Register("verification_engine", func(ctx context.Context) model.HealthCheck {
		healthByKind := engine.Health()
		available := 0
		for _, h := range healthByKind {
			if h.Available {
				available++
			}
		}
		status := model.StatusHealthy
		message := ""
		switch {
		case available == 0:
			status = model.StatusUnhealthy
			message = "no verification strategies available"
		case available < len(healthByKind):
			status = model.StatusDegraded
			message = fmt.Sprintf("%d of %d strategies available", available, len(healthByKind))
		}
		return model.HealthCheck{
			Component: "verification_engine",
			Status:    status,
			Message:   message,
			Details:   map[string]any{"strategies_available": available, "strategies_total": len(healthByKind)},
		}
	})

	monitor.Register("web_navigator", func(ctx context.Context) model.HealthCheck {
		return navigator.Health(cfg.ErrorRateAlertPercent)
	})

	monitor.Register("audit_log", func(ctx context.Context) model.HealthCheck {
		used := auditLog.Len()
		status := model.StatusHealthy
		message := ""
		if used >= cfg.MaxAuditEvents {
			status = model.StatusDegraded
			message = "audit log at capacity, oldest events are being dropped"
		}
		return model.HealthCheck{
			Component: "audit_log",
			Status:    status,
			Message:   message,
			Details:   map[string]any{"events": used, "capacity": cfg.MaxAuditEvents},
		}
	})

	if db != nil {
		monitor.Register("database", func(ctx context.Context) model.HealthCheck {
			if err := db.Ping(ctx); err != nil {
				return model.HealthCheck{
					Component: "database",
					Status:    model.StatusUnhealthy,
					Message:   err.Error(),
				}
			}
			return model.HealthCheck{Component: "database", Status: model.StatusHealthy}
		})
	}
}

// dispatchHooks fires every hook asynchronously with a bounded context.
func dispatchHooks(logger *slog.Logger, hooks []EventHook, e Event) {
	if len(hooks) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, h := range hooks {
			if err := h.OnEvent(ctx, e); err != nil {
				logger.Warn("event hook failed", "event_type", e.Type, "error", err)
			}
		}
	}()
}

// memoryLimitBytes reads the runtime soft memory limit for the monitor's
// memory alert. An unset limit (MaxInt64) disables the alert.
func memoryLimitBytes() uint64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return 0
	}
	return uint64(limit)
}
