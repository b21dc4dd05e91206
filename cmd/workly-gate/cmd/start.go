package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/workly/workly-gate/internal/adapter/inbound/http"
	fileaudit "github.com/workly/workly-gate/internal/adapter/outbound/audit"
	"github.com/workly/workly-gate/internal/adapter/outbound/cel"
	"github.com/workly/workly-gate/internal/adapter/outbound/gotrue"
	"github.com/workly/workly-gate/internal/adapter/outbound/memory"
	"github.com/workly/workly-gate/internal/adapter/outbound/redis"
	"github.com/workly/workly-gate/internal/adapter/outbound/sqlite"
	"github.com/workly/workly-gate/internal/adapter/outbound/tracing"
	"github.com/workly/workly-gate/internal/adapter/outbound/upstream"
	"github.com/workly/workly-gate/internal/config"
	"github.com/workly/workly-gate/internal/domain/access"
	"github.com/workly/workly-gate/internal/domain/audit"
	"github.com/workly/workly-gate/internal/domain/auth"
	"github.com/workly/workly-gate/internal/domain/ratelimit"
	"github.com/workly/workly-gate/internal/domain/route"
	"github.com/workly/workly-gate/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gate",
	Long: `Start the Workly gate in front of the application.

Examples:
  # Start with config file settings
  workly-gate start

  # Start against a local Supabase stack with debug logging
  workly-gate start --dev

  # Start with a specific config file
  workly-gate --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, local Supabase defaults)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("workly-gate stopped")
	return nil
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.GateConfig, logger *slog.Logger) error {
	// 1. Tracing
	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Setup(tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     Version,
			Writer:      os.Stderr,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				logger.Warn("tracing shutdown failed", "error", err)
			}
		}()
		logger.Info("tracing enabled", "service", cfg.Tracing.ServiceName, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	// 2. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := http.NewMetrics(registry)

	// 3. Session provider
	provider, err := gotrue.NewClient(gotrue.Config{
		URL:          cfg.Provider.URL,
		AnonKey:      cfg.Provider.AnonKey,
		CookieName:   cfg.Provider.CookieName,
		CookieSecure: cfg.Provider.CookieSecure,
		ExpiryMargin: parseDurationOr(logger, "provider.expiry_margin", cfg.Provider.ExpiryMargin, 90*time.Second),
		Timeout:      parseDurationOr(logger, "provider.timeout", cfg.Provider.Timeout, 10*time.Second),
		Breaker: gotrue.BreakerConfig{
			MaxRequests:  cfg.Provider.Breaker.MaxRequests,
			Interval:     parseDurationOr(logger, "provider.breaker.interval", cfg.Provider.Breaker.Interval, time.Minute),
			Timeout:      parseDurationOr(logger, "provider.breaker.timeout", cfg.Provider.Breaker.Timeout, 30*time.Second),
			MinRequests:  cfg.Provider.Breaker.MinRequests,
			FailureRatio: cfg.Provider.Breaker.FailureRatio,
		},
	}, gotrue.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create session provider: %w", err)
	}
	logger.Info("session provider configured", "url", cfg.Provider.URL, "cookie", provider.CookieName())

	// 4. Access rules
	engineCfg := access.Config{
		LoginPath: cfg.Routes.LoginPath,
		HomePath:  cfg.Routes.HomePath,
	}
	if cfg.AdminPolicy.Expression != "" {
		policy, err := cel.NewAdminPolicy(cfg.AdminPolicy.Expression, logger)
		if err != nil {
			return fmt.Errorf("invalid admin policy: %w", err)
		}
		engineCfg.AdminPolicy = policy
		logger.Info("admin policy loaded", "expression", policy.Expression())
	}
	engine := access.NewEngine(engineCfg)
	classifier := route.NewClassifier(cfg.Routes.ProtectedPrefixes, cfg.Routes.AdminPrefixes)
	filter := route.NewPathFilter(cfg.Routes.BypassPrefixes)

	// 5. Audit
	auditStore, closeAuditStore, err := createAuditStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeAuditStore(); err != nil {
			logger.Warn("audit store close failed", "error", err)
		}
	}()

	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(parseDurationOr(logger, "audit.flush_interval", cfg.Audit.FlushInterval, time.Second)),
		service.WithSendTimeout(parseDurationOr(logger, "audit.send_timeout", cfg.Audit.SendTimeout, 100*time.Millisecond)),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
		service.WithDropHook(metrics.ObserveAuditDrop),
	)
	auditService.Start(ctx)
	// Stop drains the channel before the store closes.
	defer auditService.Stop()

	// 6. Rate limiting
	var (
		limiter      ratelimit.RateLimiter
		healthTarget any
		limiterKeys  func() int
	)
	if cfg.RateLimit.Enabled {
		switch cfg.RateLimit.Backend {
		case "redis":
			rl := redis.NewRateLimiter(goredis.NewClient(&goredis.Options{Addr: cfg.RateLimit.RedisAddr}))
			defer func() { _ = rl.Close() }()
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := rl.Ping(pctx); err != nil {
				logger.Warn("redis rate limiter unreachable, requests fail open until it answers", "addr", cfg.RateLimit.RedisAddr, "error", err)
			}
			cancel()
			limiter, healthTarget = rl, rl
			logger.Info("rate limiting enabled", "backend", "redis", "addr", cfg.RateLimit.RedisAddr, "ip_rate", cfg.RateLimit.IPRate)
		default:
			rl := memory.NewRateLimiter(
				memory.WithCleanup(
					parseDurationOr(logger, "rate_limit.cleanup_interval", cfg.RateLimit.CleanupInterval, 5*time.Minute),
					parseDurationOr(logger, "rate_limit.max_ttl", cfg.RateLimit.MaxTTL, time.Hour),
				),
				memory.WithRateLimiterLogger(logger),
			)
			rl.StartCleanup(ctx)
			defer rl.Stop()
			limiter, healthTarget, limiterKeys = rl, rl, rl.Size
			logger.Info("rate limiting enabled", "backend", "memory", "ip_rate", cfg.RateLimit.IPRate)
		}
	}
	http.RegisterGauges(registry, limiterKeys, auditService.ChannelDepth)

	// 7. Request pipeline
	stats := service.NewStatsService()
	refresher := service.NewSessionRefresher(provider, logger,
		service.WithRefreshObserver(metrics.ObserveRefresh),
	)
	accessService := service.NewAccessService(refresher, classifier, engine, logger,
		service.WithDecisionRecorder(auditService),
		service.WithDecisionObserver(func(category, decision string) {
			metrics.ObserveDecision(category, decision)
			stats.RecordDecision(category, decision)
		}),
	)
	gate := http.NewGate(accessService, filter)

	proxy, err := upstream.NewReverseProxy(cfg.Upstream.URL, logger,
		upstream.WithTimeout(parseDurationOr(logger, "upstream.timeout", cfg.Upstream.Timeout, 30*time.Second)),
	)
	if err != nil {
		return fmt.Errorf("failed to create upstream proxy: %w", err)
	}

	// 8. Operator endpoints
	keyStore := memory.NewKeyStore()
	for i, hash := range cfg.Operator.KeyHashes {
		keyStore.Add(auth.OperatorKey{Name: fmt.Sprintf("key-%d", i+1), Hash: hash})
	}
	opsOpts := []http.OpsOption{
		http.WithHealthChecker(http.NewHealthChecker(healthTarget, auditService, provider, Version)),
		http.WithGatherer(registry),
		http.WithStats(stats),
		http.WithOperatorKeys(auth.NewOperatorKeyService(keyStore)),
		http.WithRouteTable(classifier, filter, engine),
		http.WithOpsLogger(logger),
	}
	if qs, ok := auditStore.(audit.QueryStore); ok {
		opsOpts = append(opsOpts, http.WithDecisionStore(qs))
	}
	ops := http.NewOpsHandler(opsOpts...)

	// 9. Transport
	transportOpts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithMetrics(metrics),
		http.WithOpsHandler(ops.Routes()),
		http.WithShutdownTimeout(parseDurationOr(logger, "server.shutdown_timeout", cfg.Server.ShutdownTimeout, 10*time.Second)),
	}
	if limiter != nil {
		transportOpts = append(transportOpts, http.WithRateLimiter(limiter, ratelimit.PerMinute(cfg.RateLimit.IPRate)))
	}
	if cfg.Tracing.Enabled {
		transportOpts = append(transportOpts, http.WithTracing(nil))
	}
	transport := http.NewHTTPTransport(gate, proxy, transportOpts...)

	addr, err := transport.Listen()
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.HTTPAddr, err)
	}
	printBanner(os.Stderr, Version, addr.String(), cfg)

	return transport.Start(ctx)
}

// createAuditStore creates the decision store named by audit.output and
// returns its close function.
func createAuditStore(ctx context.Context, cfg *config.GateConfig, logger *slog.Logger) (audit.AuditStore, func() error, error) {
	switch output := cfg.Audit.Output; {
	case output == "stdout":
		logger.Debug("audit output: stdout", "buffer_size", cfg.Audit.BufferSize)
		store := memory.NewAuditStore(os.Stdout, cfg.Audit.BufferSize)
		return store, store.Close, nil

	case strings.HasPrefix(output, "file://"):
		dir := strings.TrimPrefix(output, "file://")
		store, err := fileaudit.NewFileStore(fileaudit.FileConfig{
			Dir:           dir,
			RetentionDays: cfg.Audit.RetentionDays,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
			CacheSize:     cfg.Audit.BufferSize,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open decision log %s: %w", dir, err)
		}
		logger.Debug("audit output: file", "dir", dir, "retention_days", cfg.Audit.RetentionDays)
		return store, store.Close, nil

	case strings.HasPrefix(output, "sqlite://"):
		path := strings.TrimPrefix(output, "sqlite://")
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit database %s: %w", path, err)
		}
		purgeCtx, cancel := context.WithCancel(ctx)
		go purgeLoop(purgeCtx, store, cfg.Audit.RetentionDays, logger)
		logger.Debug("audit output: sqlite", "path", path, "retention_days", cfg.Audit.RetentionDays)
		return store, func() error {
			cancel()
			return store.Close()
		}, nil

	default:
		return nil, nil, fmt.Errorf("invalid audit output: %s (must be 'stdout', 'file://dir' or 'sqlite://path')", output)
	}
}

// purgeLoop deletes database records older than retentionDays, once at
// start and then hourly.
func purgeLoop(ctx context.Context, store *sqlite.AuditStore, retentionDays int, logger *slog.Logger) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		if n, err := store.PurgeOlderThan(ctx, cutoff); err != nil {
			if ctx.Err() == nil {
				logger.Warn("audit purge failed", "error", err)
			}
		} else if n > 0 {
			logger.Info("audit purge completed", "deleted", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// parseDurationOr parses value, falling back to def with a warning.
// Validation has already rejected malformed values, so this only guards
// against empty strings.
func parseDurationOr(logger *slog.Logger, name, value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		if value != "" {
			logger.Warn("invalid duration, using default", "field", name, "value", value, "default", def)
		}
		return def
	}
	return d
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a startup banner with the listen address, upstream
// and mode.
func printBanner(w io.Writer, version, addr string, cfg *config.GateConfig) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	gateURL := "http://" + addr
	if strings.HasPrefix(addr, ":") {
		gateURL = "http://localhost" + addr
	}

	modeStr := green + "production" + reset
	if cfg.DevMode {
		modeStr = yellow + "development" + reset
	}

	limitStr := dim + "off" + reset
	if cfg.RateLimit.Enabled {
		limitStr = fmt.Sprintf("%d/min per IP (%s)", cfg.RateLimit.IPRate, cfg.RateLimit.Backend)
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %s%s Workly Gate %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "  %-14s %s\n", "Gate:", gateURL)
	fmt.Fprintf(w, "  %-14s %s\n", "Upstream:", cfg.Upstream.URL)
	fmt.Fprintf(w, "  %-14s %s\n", "Provider:", cfg.Provider.URL)
	fmt.Fprintf(w, "  %-14s %s%s\n", "Operator:", gateURL, http.OpsPrefix)
	fmt.Fprintf(w, "  %-14s %s\n", "Audit:", cfg.Audit.Output)
	fmt.Fprintf(w, "  %-14s %s\n", "Rate limit:", limitStr)
	fmt.Fprintf(w, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "\n")
}
