package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"trading-console/internal/api"
	"trading-console/internal/bracket"
	"trading-console/internal/events"
	"trading-console/internal/gateway"
	"trading-console/internal/monitor"
	"trading-console/pkg/config"
	"trading-console/pkg/db"
	"trading-console/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// `trading-console token <operator> [ttl]` prints an API bearer token.
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		zap.String("port", cfg.Port),
		zap.String("gateway", fmt.Sprintf("%s:%d", cfg.GatewayHost, cfg.GatewayPort)),
		zap.String("db_path", cfg.DBPath))

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	sessionID := uuid.NewString()
	statusWriter := db.NewBatchWriter(database, 0, 0, logger.Named("journal"))
	defer func() {
		if err := statusWriter.Close(); err != nil {
			logger.Warn("journal_flush_failed", zap.Error(err))
		}
	}()
	journal := db.NewJournal(database, sessionID, db.WithBatchWriter(statusWriter))
	bus := events.NewBus()
	metrics := monitor.NewMetrics()

	presets, err := loadPresets(cfg.PresetsPath, logger)
	if err != nil {
		return err
	}

	session := gateway.NewFromEnv(cfg,
		gateway.WithSessionID(sessionID),
		gateway.WithLogger(logger.Named("gateway")),
		gateway.WithBus(bus),
		gateway.WithJournal(journal),
		gateway.WithWireObserver(metrics),
		gateway.WithRequestObserver(metrics),
	)
	defer session.Close()

	for kind := range session.PendingCounts() {
		if err := metrics.RegisterPending(kind, func() float64 {
			return float64(session.PendingCounts()[kind])
		}); err != nil {
			return fmt.Errorf("register pending gauge %s: %w", kind, err)
		}
	}

	mon := &monitor.Monitor{
		Bus:     bus,
		Sink:    monitor.LogSink{Log: logger.Named("alerts")},
		Metrics: metrics,
		Log:     logger.Named("monitor"),
	}
	mon.Start(ctx)

	if logging.ParseLevel(cfg.LogLevel) > zap.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(session,
		api.WithLogger(logger),
		api.WithBus(bus),
		api.WithHistory(journal),
		api.WithPresets(presets),
		api.WithMetricsHandler(metrics.Handler()),
		api.WithJWTSecret(cfg.JWTSecret),
		api.WithStats("runtime", func() any { return metrics.GetSnapshot() }),
		api.WithStats("journal", func() any { return statusWriter.Stats() }),
		api.WithStats("market", func() any { return session.Market().Stats() }),
		api.WithStats("bus", func() any {
			return gin.H{"subscribers": bus.Subscribers(), "dropped": bus.Dropped()}
		}),
	)
	if cfg.JWTSecret == "" {
		logger.Warn("api_auth_disabled", zap.String("hint", "set JWT_SECRET to require bearer tokens"))
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http_listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// A gateway that is down at startup is not fatal; operators can retry
	// through POST /api/session.
	gw := session.Config()
	if nextID, err := session.ConnectWait(ctx, gw.Host, gw.Port, gw.ClientID); err != nil {
		logger.Warn("initial_connect_failed", zap.Error(err))
	} else {
		logger.Info("gateway_ready", zap.Int64("next_valid_id", nextID))
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting_down")
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown", zap.Error(err))
	}
	return nil
}

// loadPresets treats a missing presets file as an empty set.
func loadPresets(path string, logger *zap.Logger) (bracket.Presets, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	presets, err := bracket.LoadPresets(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("presets_not_found", zap.String("path", path))
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load presets %s: %w", path, err)
	}
	logger.Info("presets_loaded", zap.String("path", path), zap.Int("count", len(presets)))
	return presets, nil
}

func printToken(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: trading-console token <operator> [ttl]")
	}
	ttl := 24 * time.Hour
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("parse ttl: %w", err)
		}
		ttl = d
	}
	token, err := api.IssueToken(args[0], cfg.JWTSecret, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}
