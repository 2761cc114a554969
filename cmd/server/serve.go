package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"casevault/backend/internal/api"
	"casevault/backend/internal/audit"
	"casevault/backend/internal/auth"
	"casevault/backend/internal/backend"
	"casevault/backend/internal/config"
	"casevault/backend/internal/invalidation"
	"casevault/backend/internal/logging"
	"casevault/backend/internal/mcp"
	"casevault/backend/internal/metrics"
	"casevault/backend/internal/repository"
	"casevault/backend/internal/seed"
	"casevault/backend/internal/services"
	"casevault/backend/internal/tenancy"
	"casevault/backend/internal/tls"
)

const serviceName = "casevault-router"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tenant routing HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	zlog := logger.Zap()
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"okta_domain", cfg.Auth.OktaDomain,
		"okta_client_id", cfg.Auth.ClientID,
		"dev_mode_bypass", cfg.DevModeBypass,
		"redis", cfg.Redis.Enable,
	)

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	// Instruments bind to the global provider, which is a no-op unless the
	// deployment installs an SDK provider and exporter.
	meterSink, err := audit.NewMeterSink(otel.Meter("casevault/backend/tenancy"))
	if err != nil {
		return fmt.Errorf("failed to create audit instruments: %w", err)
	}
	auditSink := audit.NewAsyncSink(audit.Fanout{
		audit.NewLogSink(zlog),
		audit.NewMetricsSink(m),
		meterSink,
	}, cfg.Audit.BufferSize, m.AuditDropped)

	cache := tenancy.NewConnectionCache(cfg.Router.CacheTTL,
		tenancy.WithLogger(zlog),
		tenancy.WithMetrics(m),
	)
	routerCfg := tenancy.RouterConfig{
		TTL:              cfg.Router.CacheTTL,
		LookupTimeout:    cfg.Router.LookupTimeout,
		EstablishTimeout: cfg.Router.EstablishTimeout,
	}
	router := tenancy.NewRouter(repo, cache,
		backend.NewPoolConnector(cfg.Backend.MaxConns, cfg.Backend.MinConns),
		routerCfg,
		tenancy.WithSink(auditSink),
		tenancy.WithRouterLogger(zlog),
		tenancy.WithRouterMetrics(m),
	)
	logger.Info("Router configured", "config", routerCfg.String())

	runCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go cache.Run(runCtx, cfg.Router.SweepInterval)

	var (
		broadcaster services.Broadcaster
		redisClient *redis.Client
	)
	if cfg.Redis.Enable {
		redisClient, err = invalidation.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		rb := invalidation.NewRedisBroadcaster(redisClient, cfg.Redis.Channel, zlog)
		broadcaster = rb
		go func() {
			if err := rb.Subscribe(runCtx, cache); err != nil {
				zlog.Error("Invalidation subscriber stopped", zap.Error(err))
			}
		}()
		logger.Info("Cross-replica invalidation enabled", "channel", cfg.Redis.Channel)
	}

	tenantService := services.NewTenantService(repo, cache, broadcaster, zlog)

	authz, err := auth.New(ctx, cfg, repo, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}

	e := newEcho(zlog)

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	srv := api.NewServer(router, tenantService, zlog)
	e.GET("/healthz", srv.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	e.GET("/openapi.yaml", api.SpecHandler(cfg.Auth.OktaDomain))

	apiGroup := e.Group("/api/v1", echo.WrapMiddleware(authz.RequireAuth))
	adminGroup := apiGroup.Group("/admin", echo.WrapMiddleware(authz.RequireAdmin))
	srv.RegisterRoutes(apiGroup, adminGroup)

	mcpServer := mcp.NewServer(tenantService, cache)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp*", echo.WrapHandler(mcpHandlers),
		echo.WrapMiddleware(authz.RequireAuth),
		echo.WrapMiddleware(authz.RequireAdmin),
	)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.TLS.Enable && cfg.TLS.SelfSigned {
		generated, err := tls.EnsureSelfSigned(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		if generated {
			logger.Warn("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile, "hostnames", cfg.TLS.Hostnames)
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Address, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	var errs error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			errs = multierr.Append(errs, fmt.Errorf("server error: %w", err))
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("server shutdown: %w", err))
			errs = multierr.Append(errs, server.Close())
		}
	}

	stopWorkers()
	cache.Close()
	auditSink.Close()
	if redisClient != nil {
		errs = multierr.Append(errs, redisClient.Close())
	}

	if errs != nil {
		return errs
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func newEcho(logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("Request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	}))
	return e
}

// openRepository returns the control-plane store and a function releasing it.
// The in-memory directory is seeded with development tenants.
func openRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, func(), error) {
	if cfg.DB.InMemory {
		logger.Warn("Using in-memory tenant directory; changes are lost on restart")
		repo := repository.NewMemoryDirectory(nil)
		base := fmt.Sprintf("postgres://%s:%s@%s:%d/", cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port)
		if err := seed.Apply(ctx, repo, seed.DevTenants(base, auth.DevPrincipalID), logger); err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("database initialization failed: %w", err)
	}
	logger.Info("Database connected", "host", cfg.DB.Host, "database", cfg.DB.Name)
	return repository.NewPostgresDirectory(pool), pool.Close, nil
}
