package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	internalhttp "github.com/EternisAI/silo-config/internal/api/http"
	"github.com/EternisAI/silo-config/internal/api/http/middleware"
	"github.com/EternisAI/silo-config/internal/audit"
	"github.com/EternisAI/silo-config/internal/auth"
	"github.com/EternisAI/silo-config/internal/db"
	grpcserver "github.com/EternisAI/silo-config/internal/grpc/server"
	grpctls "github.com/EternisAI/silo-config/internal/grpc/tls"
	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/EternisAI/silo-config/internal/metrics"
	"github.com/EternisAI/silo-config/internal/registration"
	"github.com/EternisAI/silo-config/internal/registry"
	"github.com/EternisAI/silo-config/internal/rotation"
	"github.com/EternisAI/silo-config/internal/secrets"
)

var AppVersion string

const shutdownTimeout = 10 * time.Second

func main() {
	InitConfig()

	slog.Info("Silo Config Server", "version", AppVersion)

	if err := run(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(promRegistry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	store, livenessStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sink := audit.NewLogSink(nil)

	trackerOpts := []liveness.Option{liveness.WithMetrics(m)}
	if livenessStore != nil {
		trackerOpts = append(trackerOpts, liveness.WithStore(livenessStore))
	}
	tracker := liveness.NewTracker(config.Liveness.Config, trackerOpts...)
	reporter := liveness.NewSelfReporter(tracker, AppVersion, "")

	var verified *secrets.VerifiedCache
	if config.Secrets.VerifiedCacheTTL > 0 {
		verified = secrets.NewVerifiedCache(config.Secrets.VerifiedCacheSize, config.Secrets.VerifiedCacheTTL)
	}
	regSvc := registration.NewService(store,
		registration.WithAuditSink(sink),
		registration.WithMetrics(m),
		registration.WithLiveness(tracker, config.Liveness.Poll),
		registration.WithVerifiedCache(verified))
	rotator := rotation.NewCoordinator(store,
		rotation.WithAuditSink(sink),
		rotation.WithMetrics(m))
	sweeper := rotation.NewSweeper(store, sink, config.Rotation.SweepInterval)

	var authSvc *auth.Service
	if config.Auth.Secret != "" {
		authSvc = auth.NewService(config.Auth.Operators, config.Auth.JWTConfig)
	} else {
		slog.Warn("auth.jwt_secret not set, operator login disabled")
	}

	limiter := middleware.NewIPRateLimiter(config.Http.RateLimit)

	creds, err := grpctls.ServerCredentials(config.Grpc.TLS)
	if err != nil {
		return fmt.Errorf("failed to load gRPC TLS credentials: %w", err)
	}
	grpcSrv := grpcserver.NewServer(config.Grpc.Port, regSvc, tracker, config.Http.AdminAPIKey, creds)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		Registration: regSvc,
		Rotation:     rotator,
		Tracker:      tracker,
		Auth:         authSvc,
		Metrics:      m,
		Gatherer:     promRegistry,
		Limiter:      limiter,
		AdminAPIKey:  config.Http.AdminAPIKey,
		Version:      AppVersion,
		RuntimeID:    reporter.RuntimeID(),
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Http.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcSrv.Start(); err != nil {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		tracker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		reporter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		limiter.StartCleanup(gctx, time.Minute)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var sg errgroup.Group
		sg.Go(func() error {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown error", "error", err)
				return err
			}
			slog.Info("HTTP server stopped")
			return nil
		})
		sg.Go(func() error {
			return grpcSrv.Stop(shutdownCtx)
		})
		return sg.Wait()
	})

	return g.Wait()
}

// openStore returns the Postgres registry when a database is configured and
// the in-memory one otherwise. The liveness store is nil in memory mode.
func openStore(ctx context.Context) (registry.Store, liveness.Store, error) {
	if !config.DB.Enabled() {
		slog.Warn("db.url not set, registrations are kept in memory only")
		return registry.NewMemoryStore(), nil, nil
	}

	if err := db.RunMigrations(config.DB.Url, config.DB.Schema); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	pool, err := db.InitDB(ctx, config.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return registry.NewPostgresStore(pool), registry.NewLivenessStore(pool), nil
}
