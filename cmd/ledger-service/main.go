package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/auth"
	"github.com/radieske/prediction-ledger/internal/ledger-service/betting"
	httpapi "github.com/radieske/prediction-ledger/internal/ledger-service/http"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ledger"
	"github.com/radieske/prediction-ledger/internal/ledger-service/market"
	"github.com/radieske/prediction-ledger/internal/ledger-service/projector"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/internal/ledger-service/settlement"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ws"
	"github.com/radieske/prediction-ledger/internal/shared/cache"
	"github.com/radieske/prediction-ledger/internal/shared/config"
	"github.com/radieske/prediction-ledger/internal/shared/db"
	"github.com/radieske/prediction-ledger/internal/shared/logger"
	"github.com/radieske/prediction-ledger/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ledger-service"
	}

	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// store: Postgres em produção, memória para desenvolvimento local
	var store repo.Store
	switch cfg.StoreDriver {
	case "memory":
		store = repo.NewMemory()
		log.Warn("using in-memory store, data is lost on restart")
	default:
		pg, err := db.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		if err := db.Migrate(ctx, pg); err != nil {
			log.Fatal("schema migration failed", zap.Error(err))
		}
		store = repo.NewPostgres(pg)
		log.Info("postgres connected")
	}

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("redis connected")

	m := metrics.NewLedger(prometheus.DefaultRegisterer)
	settle := settlement.New(store, log, m, cfg.SettlementPageSize)

	// liquidações interrompidas (crash no meio do lote) são retomadas antes de aceitar tráfego
	if sums, err := settle.ResumePending(ctx); err != nil {
		log.Error("resume pending settlements failed", zap.Error(err))
	} else if len(sums) > 0 {
		log.Info("pending settlements resumed", zap.Int("markets", len(sums)))
	}

	markets := market.New(store, log)
	markets.Voider = settle

	hub := ws.NewHub(log, func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(cfg.CORSOrigins, origin)
	})
	ws.StartRedisSubscriber(ctx, redisClient, hub, log, cfg.RedisChannelFeed, cfg.RedisChannelNotify)

	api := &httpapi.API{
		Store:          store,
		Ledger:         ledger.New(store, log, m),
		Markets:        markets,
		Bets:           betting.New(store, log, m),
		Settlement:     settle,
		Projector:      projector.New(store, projector.NewRedisCache(redisClient), cfg.LeaderboardCacheTTL, log),
		Tokens:         auth.NewTokens(cfg.JWTSecret),
		Hub:            hub,
		Log:            log,
		DefaultBalance: cfg.DefaultBalance,
		CORSOrigins:    cfg.CORSOrigins,
		BetLimiter:     httpapi.NewLimiter(cfg.BetRatePerSec, cfg.BetRateBurst),
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("ledger-service stopped")
}
