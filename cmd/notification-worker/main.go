package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/notification"
	"github.com/radieske/prediction-ledger/internal/shared/cache"
	"github.com/radieske/prediction-ledger/internal/shared/config"
	"github.com/radieske/prediction-ledger/internal/shared/kafka"
	"github.com/radieske/prediction-ledger/internal/shared/logger"
	"github.com/radieske/prediction-ledger/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "notification-worker"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	dlq := kafka.NewPublisher(cfg.Brokers())
	defer dlq.Close()

	pm := metrics.NewPipeline(prometheus.DefaultRegisterer, "notification")
	broadcaster := notification.NewRedisBroadcaster(redisClient)
	dedup := notification.NewRedisDeduper(redisClient, 24*time.Hour)

	// um consumer por tópico, mesmo consumer group
	routes := []struct{ topic, dlq string }{
		{cfg.TopicLedgerFeed, cfg.TopicLedgerFeedDLQ},
		{cfg.TopicBetSettled, cfg.TopicBetSettledDLQ},
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for _, rt := range routes {
		reader := kafka.NewReader(cfg.Brokers(), rt.topic, cfg.ConsumerGroupNotify)
		defer reader.Close()

		proc := &notification.Processor{
			Log:           log.With(zap.String("topic", rt.topic)),
			Reader:        reader,
			Broadcaster:   broadcaster,
			DLQ:           dlq,
			Dedup:         dedup,
			DLQTopic:      rt.dlq,
			FeedChannel:   cfg.RedisChannelFeed,
			NotifyChannel: cfg.RedisChannelNotify,
			MaxAttempts:   3,
			Backoff:       200 * time.Millisecond,
			OnConsumed:    pm.OnConsumed,
			OnPublished:   pm.OnPublished,
			OnError:       pm.OnError,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("processor stopped with error", zap.String("topic", rt.topic), zap.Error(err))
				cancel()
			}
		}()
	}

	log.Info("notification worker started")
	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("notification worker stopped")
}
