// Package main is the entry point for the placement service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/limiquantix/placement/internal/config"
	"github.com/limiquantix/placement/internal/repository/etcd"
	"github.com/limiquantix/placement/internal/repository/postgres"
	"github.com/limiquantix/placement/internal/repository/redis"
	"github.com/limiquantix/placement/internal/repository/sqlite"
	"github.com/limiquantix/placement/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Println("Placement Service")
		fmt.Println("Version:", version)
		fmt.Println("Commit:", commit)
		fmt.Println("Build Date:", buildDate)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	server.Version = version
	logger.Info("Starting placement service",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("storage", cfg.Storage.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := setupInfrastructure(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize infrastructure", zap.Error(err))
	}

	srv := server.New(cfg, logger, opts...)

	if err := srv.SeedHosts(ctx); err != nil {
		logger.Fatal("Failed to seed hosts", zap.Error(err))
	}

	// Run server
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Goodbye!")
}

// setupInfrastructure connects the configured storage backend and the
// optional etcd and Redis integrations.
func setupInfrastructure(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]server.ServerOption, error) {
	var opts []server.ServerOption

	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithPostgreSQL(db))
	case config.StorageSQLite:
		db, err := sqlite.NewDB(cfg.SQLite.Path, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithSQLite(db))
	default:
		logger.Warn("Using in-memory storage, state is lost on restart")
	}

	if cfg.Etcd.Enabled {
		client, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithEtcd(client))
	}

	if cfg.Redis.Enabled {
		publisher, err := redis.NewPublisher(cfg.Redis, logger)
		if err != nil {
			// Notifications are best effort, so Redis is not required to start.
			logger.Warn("Redis unavailable, event forwarding disabled", zap.Error(err))
		} else {
			opts = append(opts, server.WithRedis(publisher))
		}
	}

	return opts, nil
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	if cfg.Output != "" {
		zapConfig.OutputPaths = []string{cfg.Output}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}
