// Command notifier consumes committed catalog events from RabbitMQ and logs
// them as notifications. Events are deduplicated by ID in Redis, or in
// memory when Redis is unreachable, so redeliveries are handled once.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/warp/storefront/cache"
	"github.com/warp/storefront/config"
	"github.com/warp/storefront/logger"
	"github.com/warp/storefront/messaging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer log.Sync()
	log = log.Named("notifier")

	if cfg.RabbitMQ.URL == "" {
		log.Error("rabbitmq.url is required")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		log.Error("connect rabbitmq", zap.Error(err))
		return 1
	}
	defer conn.Close()

	var dedupe messaging.Deduper
	redisDedupe, err := cache.NewRedisDeduper(ctx, cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Redis.DedupeTTL)
	if err != nil {
		log.Warn("redis unavailable, deduplicating in memory", zap.Error(err))
		dedupe = cache.NewMemoryDeduper(cfg.Redis.DedupeTTL)
	} else {
		defer redisDedupe.Close()
		dedupe = redisDedupe
	}

	consumer, err := messaging.NewConsumer(conn, cfg.RabbitMQ.Queue, dedupe, messaging.LogHandler(log), log)
	if err != nil {
		log.Error("init consumer", zap.Error(err))
		return 1
	}
	defer consumer.Close()

	errCh := make(chan error, 1)
	go func() {
		log.Info("notifier started", zap.String("queue", cfg.RabbitMQ.Queue))
		errCh <- consumer.Listen(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("consumer failed", zap.Error(err))
			return 1
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
		select {
		case err := <-errCh:
			if err != nil {
				log.Error("consumer stop failed", zap.Error(err))
				return 1
			}
		case <-time.After(cfg.HTTP.ShutdownTimeout):
			log.Warn("consumer shutdown timeout reached")
		}
	}

	log.Info("notifier stopped")
	return 0
}
