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

	grpcclient "github.com/EternisAI/silo-config/internal/grpc/client"
	"github.com/EternisAI/silo-config/pkg/settings"
	"github.com/EternisAI/silo-config/pkg/syncagent"
)

var AppVersion string

func main() {
	if len(os.Args) > 1 && os.Args[1] == "rotate-secret" {
		if err := runRotateSecret(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "rotate-secret:", err)
			os.Exit(1)
		}
		return
	}

	InitConfig()

	slog.Info("Silo Config Agent", "version", AppVersion, "client", config.Client.Name)

	if err := run(); err != nil {
		slog.Error("Agent exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schema, err := settings.LoadSchemaFile(config.Client.SchemaFile)
	if err != nil {
		return err
	}

	transport, closeTransport, err := newTransport()
	if err != nil {
		return err
	}
	defer closeTransport()

	agent, err := syncagent.New(syncagent.Config{
		ClientName:      config.Client.Name,
		Instance:        config.Client.Instance,
		Secret:          config.Client.Secret,
		Schema:          schema,
		PollInterval:    config.Sync.PollInterval,
		AllowOffline:    config.Sync.AllowOffline,
		Version:         AppVersion,
		StartupAttempts: config.Sync.StartupAttempts,
		RequestTimeout:  config.Sync.RequestTimeout,
	}, transport,
		syncagent.WithCache(syncagent.NewFileCache(config.Sync.CacheDir)),
		syncagent.WithObserver(func(changed []string, snap *syncagent.Snapshot) {
			slog.Info("Settings updated",
				"changed", changed,
				"provenance", snap.Provenance,
				"changed_at", snap.ChangedAt)
		}),
	)
	if err != nil {
		return err
	}

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync agent: %w", err)
	}
	defer agent.Stop()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
		MaxAge:       12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	setupRoutes(engine, agent, schema)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Http.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	return nil
}

func newTransport() (syncagent.Transport, func(), error) {
	switch config.Server.Transport {
	case "", "http":
		return syncagent.NewHTTPTransport(config.Server.URL, nil), func() {}, nil
	case "grpc":
		tr, err := grpcclient.NewTransport(config.Server.URL, &config.Server.TLS)
		if err != nil {
			return nil, nil, err
		}
		return tr, func() { _ = tr.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown server.transport %q (valid: http, grpc)", config.Server.Transport)
}
