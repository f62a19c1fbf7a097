// Financial chat kernel entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finchat-kernel/internal/assistant"
	"github.com/finchat-kernel/internal/cache"
	"github.com/finchat-kernel/internal/intent"
	"github.com/finchat-kernel/internal/server"
	"github.com/finchat-kernel/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting financial chat kernel")

	ttl, err := time.ParseDuration(getEnv("CACHE_TTL", "5m"))
	if err != nil {
		logger.Fatal("Invalid CACHE_TTL", zap.Error(err))
	}

	catalog, err := intent.LoadCatalog()
	if err != nil {
		logger.Fatal("Failed to load rule catalog", zap.Error(err))
	}
	classifier := intent.NewClassifier(catalog, intent.Config{
		DefaultSubject: intent.Subject(getEnv("DEFAULT_SUBJECT", "income")),
	}, logger)

	manager := cache.NewManager(cache.Config{TTL: ttl}, logger)

	// Optional cross-instance invalidation broadcast. Single-instance
	// deployments simply leave REDIS_URL unset.
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		manager.EnableBroadcast(redis.NewClient(opts), cache.DefaultChannel)
		defer manager.StopBroadcast()
	}

	recordStore, err := store.Open(getEnv("DB_PATH", "data/records.db"), logger)
	if err != nil {
		logger.Fatal("Failed to open record store", zap.Error(err))
	}
	defer recordStore.Close()

	svc, err := assistant.New(classifier, manager, recordStore, logger)
	if err != nil {
		logger.Fatal("Failed to create assistant", zap.Error(err))
	}
	recordStore.SetInvalidationHook(svc.Invalidate)

	port := getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server.New(svc, recordStore, logger).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("port", port))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)

	logger.Info("Shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
