package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/do"
	"github.com/serroba/purview/internal/container"
	"github.com/serroba/purview/internal/messaging"
	"go.uber.org/zap"
)

// Config is read from the environment.
type Config struct {
	RedisAddr   string `default:"localhost:6379" envconfig:"REDIS_ADDR"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	LogFormat   string `default:"console"        envconfig:"LOG_FORMAT"`
	LogLevel    string `default:"info"           envconfig:"LOG_LEVEL"`
}

func main() {
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	injector := container.New(&container.Options{
		RedisAddr:   cfg.RedisAddr,
		DatabaseURL: cfg.DatabaseURL,
		LogFormat:   cfg.LogFormat,
		LogLevel:    cfg.LogLevel,
		Analytics:   container.ModeRedis,
	})
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.PostgresPackage(injector)
	container.MessagingPackage(injector)
	container.AnalyticsStorePackage(injector)
	container.ConsumerGroupPackage(injector)

	logger := do.MustInvoke[*zap.Logger](injector)
	group := do.MustInvoke[*messaging.ConsumerGroup](injector)

	ctx, cancel := context.WithCancel(context.Background())

	if err := group.Start(ctx); err != nil {
		logger.Fatal("failed to start consumer group", zap.Error(err))
	}

	logger.Info("analytics consumer running", zap.Bool("postgres", cfg.DatabaseURL != ""))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()

	if err := injector.Shutdown(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
