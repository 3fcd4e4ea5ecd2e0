package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	admin "github.com/radieske/prediction-ledger/internal/ledger-admin"
	"github.com/radieske/prediction-ledger/internal/ledger-service/auth"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ledger"
	"github.com/radieske/prediction-ledger/internal/ledger-service/projector"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/internal/ledger-service/settlement"
	"github.com/radieske/prediction-ledger/internal/shared/config"
	"github.com/radieske/prediction-ledger/internal/shared/db"
	"github.com/radieske/prediction-ledger/internal/shared/logger"
)

// ledger-admin: operações de manutenção direto no Postgres
// (reconciliação, ranking, retomada de liquidação, bootstrap de usuários)
func main() {
	cfg := config.Load()
	log, err := logger.New("ledger-admin", cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()
	if err := db.Migrate(ctx, pg); err != nil {
		log.Fatal("schema migration failed", zap.Error(err))
	}

	store := repo.NewPostgres(pg)
	deps := admin.Deps{
		Store:          store,
		Ledger:         ledger.New(store, log, nil),
		Settlement:     settlement.New(store, log, nil, cfg.SettlementPageSize),
		Projector:      projector.New(store, nil, 0, log),
		Tokens:         auth.NewTokens(cfg.JWTSecret),
		DefaultBalance: cfg.DefaultBalance,
	}

	if err := admin.Run(ctx, deps, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, admin.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		log.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
