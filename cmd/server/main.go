package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stockbook/backend/internal/cache"
	"stockbook/backend/internal/config"
	"stockbook/backend/internal/httpapi"
	"stockbook/backend/internal/ledger"
	"stockbook/backend/internal/logger"
	"stockbook/backend/internal/metrics"
	"stockbook/backend/internal/service"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/store/memory"
	pgstore "stockbook/backend/internal/store/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stockbook",
		Short:         "Multi-tenant stock and sales back office",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema at DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}

	root.AddCommand(serveCmd, migrateCmd)
	return root
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	logger.Init(logger.Config{Env: cfg.Env, Level: cfg.LogLevel, ServiceName: "stockbook"})
	return cfg, nil
}

func runMigrate(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return err
	}
	log := logger.Named("migrate")
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		err := errors.New("DATABASE_URL is not set")
		log.Error("nothing to migrate", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres unavailable", zap.Error(err))
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		log.Error("migration failed", zap.Error(err))
		return err
	}
	log.Info("schema applied")
	return nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return err
	}
	log := logger.Named("server")
	defer func() { _ = logger.Sync() }()

	issueMode, err := validateSecurityConfig(cfg)
	if err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
			return err
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	stockCache := cache.StockCache(cache.NewMemoryStockCache(cfg.StockCacheTTL()))
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStockCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			log.Warn("redis unavailable, using in-process stock cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			stockCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis")
		}
	} else {
		log.Info("cache: in-process")
	}

	metricsHandler, err := metrics.Register(prometheus.DefaultRegisterer)
	if err != nil {
		log.Error("register metrics", zap.Error(err))
		return err
	}

	svc := service.New(repo, ledger.New(issueMode), stockCache, service.Options{
		MaxConflictRetries: cfg.MaxConflictRetries,
		StockCacheTTL:      cfg.StockCacheTTL(),
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, metricsHandler)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("stockbook listening", zap.String("addr", cfg.Address()), zap.String("issue_mode", string(issueMode)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	var runErr error
	select {
	case <-sig:
	case err, ok := <-serveErr:
		if ok {
			log.Error("server error", zap.Error(err))
			runErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
	return runErr
}

// validateSecurityConfig rejects a weak signing secret and returns the parsed
// stock issue mode.
func validateSecurityConfig(cfg config.Config) (ledger.Mode, error) {
	if len(cfg.AuthSecret) < 32 {
		return "", fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	mode, err := ledger.ParseMode(cfg.StockIssueMode)
	if err != nil {
		return "", fmt.Errorf("STOCK_ISSUE_MODE: %w", err)
	}
	return mode, nil
}
