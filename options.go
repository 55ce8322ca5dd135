package saitei

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	logger      *slog.Logger
	version     string
	strategies  []Strategy
	providers   []SearchProvider
	eventHooks  []EventHook
	agentKeys   []AgentKey
}

// WithPort overrides the TCP port from config (SAITEI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the status endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithStrategy registers an additional verification strategy alongside the
// built-ins. Multiple strategies may be registered; kinds must not collide
// with the built-in ones.
func WithStrategy(s Strategy) Option {
	return func(o *resolvedOptions) { o.strategies = append(o.strategies, s) }
}

// WithSearchProvider registers an additional cross-reference search provider
// alongside the auto-detected ones.
func WithSearchProvider(p SearchProvider) Option {
	return func(o *resolvedOptions) { o.providers = append(o.providers, p) }
}

// WithEventHook registers an event hook to receive observer events.
// Multiple hooks may be registered; all registered hooks receive every event.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}

// WithAgentKey registers an API key credential for the POST /auth/token
// exchange, in addition to the admin key from config (SAITEI_ADMIN_API_KEY).
func WithAgentKey(key AgentKey) Option {
	return func(o *resolvedOptions) { o.agentKeys = append(o.agentKeys, key) }
}
