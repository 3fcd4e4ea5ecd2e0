package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/internal/shared/metrics"
	"github.com/radieske/prediction-ledger/pkg/contracts/events"
)

// Service cuida de usuários e saldos fora do fluxo de apostas:
// cadastro com crédito inicial, ajustes do admin, ativação e reconciliação
type Service struct {
	Store   repo.Store
	Log     *zap.Logger
	Metrics *metrics.Ledger
	Now     func() time.Time
}

func New(store repo.Store, log *zap.Logger, m *metrics.Ledger) *Service {
	return &Service{Store: store, Log: log, Metrics: m, Now: time.Now}
}

type CreateUserInput struct {
	Username       string
	IsAdmin        bool
	InitialBalance int64
}

// CreateUser cadastra o usuário; o crédito inicial entra como admin_adjustment (ref signup)
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (domain.User, error) {
	name := strings.TrimSpace(in.Username)
	if name == "" || len(name) > 50 {
		return domain.User{}, domain.Errorf(domain.ErrValidation, "username must have 1..50 characters")
	}
	if in.InitialBalance < 0 {
		return domain.User{}, domain.Errorf(domain.ErrInvalidAmount, "initial balance must be >= 0")
	}

	now := s.Now()
	u := domain.User{ID: uuid.NewString(), Username: name, IsAdmin: in.IsAdmin, IsActive: true, CreatedAt: now}

	err := s.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		if err := tx.InsertUser(ctx, u); err != nil {
			return err
		}
		if in.InitialBalance == 0 {
			return nil
		}
		var err error
		u, _, err = Post(ctx, tx, Posting{
			User: u, Kind: domain.LedgerAdminAdjustment, Amount: in.InitialBalance,
			RefType: domain.RefSignup, RefID: u.ID, Reason: "initial balance", At: now,
		})
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	s.Metrics.Entry(string(domain.LedgerAdminAdjustment), in.InitialBalance)
	s.Log.Info("user created", zap.String("user_id", u.ID), zap.String("username", u.Username), zap.Int64("balance", u.Balance))
	return u, nil
}

// AdjustBalance aplica crédito/débito administrativo sob lock do usuário
func (s *Service) AdjustBalance(ctx context.Context, userID string, amount int64, reason, actorID string) (domain.User, domain.LedgerEntry, error) {
	if amount == 0 {
		return domain.User{}, domain.LedgerEntry{}, domain.ErrInvalidAmount
	}

	var (
		u     domain.User
		entry domain.LedgerEntry
	)
	now := s.Now()
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		locked, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if u, entry, err = Post(ctx, tx, Posting{
			User: locked, Kind: domain.LedgerAdminAdjustment, Amount: amount,
			RefType: domain.RefAdmin, RefID: actorID, Reason: reason, At: now,
		}); err != nil {
			return err
		}
		desc := fmt.Sprintf("%s's balance adjusted by %+d", u.Username, amount)
		_, err = tx.AppendFeed(ctx, domain.NewFeedEvent(events.KindBalanceAdjusted, true, u.ID, "", desc,
			events.BalanceAdjusted{Amount: amount, NewBalance: u.Balance, Reason: reason, ActorID: actorID}, now))
		return err
	})
	if err != nil {
		return domain.User{}, domain.LedgerEntry{}, err
	}

	s.Metrics.Entry(string(domain.LedgerAdminAdjustment), amount)
	s.Log.Info("balance adjusted",
		zap.String("user_id", userID), zap.String("actor_id", actorID),
		zap.Int64("amount", amount), zap.Int64("balance", u.Balance))
	return u, entry, nil
}

// SetActive ativa/desativa a conta; admin não pode desativar a si mesmo
func (s *Service) SetActive(ctx context.Context, userID string, active bool, actorID string) (domain.User, error) {
	if !active && userID == actorID {
		return domain.User{}, domain.Errorf(domain.ErrValidation, "cannot deactivate your own account")
	}
	var u domain.User
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		if u, err = tx.LockUser(ctx, userID); err != nil {
			return err
		}
		u.IsActive = active
		return tx.SetUserActive(ctx, userID, active)
	})
	if err != nil {
		return domain.User{}, err
	}
	s.Log.Info("user active flag changed", zap.String("user_id", userID), zap.Bool("active", active), zap.String("actor_id", actorID))
	return u, nil
}

// Drift é a diferença entre o saldo em cache e a soma do ledger
type Drift struct {
	UserID   string
	Username string
	Cached   int64
	Ledger   int64
	Fixed    bool
}

// Reconcile refaz a soma do ledger de cada usuário e compara com o saldo em cache.
// Com fix=true, o cache é reescrito a partir do ledger.
func (s *Service) Reconcile(ctx context.Context, fix bool) ([]Drift, error) {
	users, err := s.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	var drifts []Drift
	for _, listed := range users {
		if err := ctx.Err(); err != nil {
			return drifts, err
		}
		var d *Drift
		err := s.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
			u, err := tx.LockUser(ctx, listed.ID)
			if err != nil {
				return err
			}
			sum, err := tx.SumLedger(ctx, u.ID)
			if err != nil {
				return err
			}
			if sum == u.Balance {
				return nil
			}
			d = &Drift{UserID: u.ID, Username: u.Username, Cached: u.Balance, Ledger: sum}
			if fix && sum >= 0 {
				if err := tx.SetUserBalance(ctx, u.ID, sum); err != nil {
					return err
				}
				d.Fixed = true
			}
			return nil
		})
		if err != nil {
			return drifts, fmt.Errorf("reconcile %s: %w", listed.ID, err)
		}
		if d != nil {
			s.Log.Warn("balance drift",
				zap.String("user_id", d.UserID), zap.Int64("cached", d.Cached),
				zap.Int64("ledger", d.Ledger), zap.Bool("fixed", d.Fixed))
			drifts = append(drifts, *d)
		}
	}
	return drifts, nil
}

// History devolve os lançamentos do usuário na ordem de commit
func (s *Service) History(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	if _, err := s.Store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.Store.ListLedger(ctx, userID)
}
