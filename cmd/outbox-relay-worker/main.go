package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	outbox "github.com/radieske/prediction-ledger/internal/outbox-relay"
	"github.com/radieske/prediction-ledger/internal/shared/config"
	"github.com/radieske/prediction-ledger/internal/shared/db"
	"github.com/radieske/prediction-ledger/internal/shared/kafka"
	"github.com/radieske/prediction-ledger/internal/shared/logger"
	"github.com/radieske/prediction-ledger/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "outbox-relay-worker"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	pub := kafka.NewPublisher(cfg.Brokers())
	defer pub.Close()

	pm := metrics.NewPipeline(prometheus.DefaultRegisterer, "outbox_relay")
	relay := &outbox.Relay{
		Log:          log,
		Source:       repo.NewPostgres(pg),
		Pub:          pub,
		TopicFeed:    cfg.TopicLedgerFeed,
		TopicSettled: cfg.TopicBetSettled,
		BatchSize:    cfg.OutboxBatchSize,
		Interval:     cfg.OutboxInterval,
		OnConsumed:   pm.OnConsumed,
		OnPublished:  pm.OnPublished,
		OnError:      pm.OnError,
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, func(ctx context.Context) error {
		return pg.PingContext(ctx)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("outbox relay started", zap.String("feed_topic", cfg.TopicLedgerFeed), zap.String("settled_topic", cfg.TopicBetSettled))
	if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("relay stopped with error", zap.Error(err))
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("outbox relay stopped")
}
