// Command server is the NetSentry dashboard server binary. It loads a YAML
// configuration file, opens a PostgreSQL connection pool and the local
// SQLite alert spool, starts the background sync service and the WebSocket
// alert feed, exposes the REST API over HTTP, and shuts down gracefully on
// SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/netsentry/dashboard/internal/audit"
	"github.com/netsentry/dashboard/internal/config"
	"github.com/netsentry/dashboard/internal/reputation"
	"github.com/netsentry/dashboard/internal/server/rest"
	"github.com/netsentry/dashboard/internal/server/storage"
	"github.com/netsentry/dashboard/internal/server/websocket"
	"github.com/netsentry/dashboard/internal/spool"
	"github.com/netsentry/dashboard/internal/syncsvc"
)

func main() {
	configPath := flag.String("config", "netsentry.yaml", "Path to YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("netsentry dashboard server starting",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL storage ────────────────────────────────────────────────────
	store, err := storage.New(ctx, cfg.DatabaseURL, 0, 0)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close(context.Background())
	logger.Info("PostgreSQL storage connected")

	// ── Local alert spool ─────────────────────────────────────────────────────
	sp, err := spool.New(cfg.SpoolPath)
	if err != nil {
		logger.Error("failed to open alert spool", slog.Any("error", err))
		os.Exit(1)
	}
	defer sp.Close()
	logger.Info("alert spool opened",
		slog.String("path", cfg.SpoolPath),
		slog.Int("pending", sp.Depth()),
	)

	// ── Audit trail ───────────────────────────────────────────────────────────
	trail, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		logger.Error("failed to open audit trail", slog.Any("error", err))
		os.Exit(1)
	}
	defer trail.Close()

	// ── WebSocket feed + sync service ─────────────────────────────────────────
	broadcaster := websocket.NewBroadcaster(logger, 0)
	defer broadcaster.Close()

	syncer := syncsvc.New(sp, store, broadcaster,
		time.Duration(cfg.SyncIntervalSeconds)*time.Second,
		cfg.SyncBatchSize,
		logger,
	)
	if err := syncer.Start(ctx); err != nil {
		logger.Error("failed to start sync service", slog.Any("error", err))
		os.Exit(1)
	}
	defer syncer.Stop()

	// ── REST API server ───────────────────────────────────────────────────────
	var pubKey *rsa.PublicKey
	if cfg.JWTPublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.JWTPublicKeyPath)
		if err != nil {
			logger.Error("failed to read JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		pubKey, err = rest.ParseRSAPublicKey(pem)
		if err != nil {
			logger.Error("failed to parse JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("JWT validation enabled")
	} else {
		logger.Warn("jwt_public_key_path not configured; REST API authentication disabled (dev mode)")
	}

	policy := reputation.AutoBlockPolicy{
		FailureThreshold:   cfg.AutoBlock.FailureThreshold,
		PermanentThreshold: cfg.AutoBlock.PermanentThreshold,
		BlockDuration:      cfg.AutoBlock.BlockDuration(),
	}

	restSrv := rest.NewServer(store, sp, syncer, trail, policy, logger)
	wsHandler := websocket.NewHandler(broadcaster, logger)
	httpHandler := rest.NewRouter(restSrv, pubKey, wsHandler)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	// ── Wait for shutdown signal or fatal error ────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("HTTP server error", slog.Any("error", err))
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", slog.Any("error", err))
	}

	// Stop the syncer before cancelling the root context so its loop exits
	// through Stop and runs the final spool drain.
	syncer.Stop()
	cancel()

	logger.Info("netsentry dashboard server exited cleanly")
}

// newLogger constructs a *slog.Logger that writes JSON-structured log records
// to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
