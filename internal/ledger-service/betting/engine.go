package betting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ledger"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/internal/shared/metrics"
	"github.com/radieske/prediction-ledger/pkg/contracts/events"
)

// Engine aceita apostas: débito no ledger e inserção da aposta na mesma transação
type Engine struct {
	Store   repo.Store
	Log     *zap.Logger
	Metrics *metrics.Ledger
	Now     func() time.Time
}

func New(store repo.Store, log *zap.Logger, m *metrics.Ledger) *Engine {
	return &Engine{Store: store, Log: log, Metrics: m, Now: time.Now}
}

type PlaceBetInput struct {
	UserID      string
	SelectionID string
	Stake       int64
	// ExpectedOdds, se informado, precisa bater com a odd atual
	ExpectedOdds *decimal.Decimal
}

// PlaceBet valida o stake antes de tocar no estado e depois, numa transação:
// lock compartilhado no mercado, lock exclusivo no usuário, checagens,
// débito, aposta e evento bet_placed
func (e *Engine) PlaceBet(ctx context.Context, in PlaceBetInput) (domain.Bet, error) {
	if in.Stake <= 0 {
		e.Metrics.BetPlaced(string(domain.KindValidation), in.Stake)
		return domain.Bet{}, domain.Errorf(domain.ErrInvalidStake, "got %d", in.Stake)
	}

	var bet domain.Bet
	now := e.Now()
	err := e.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		peek, err := tx.GetSelection(ctx, in.SelectionID)
		if err != nil {
			return err
		}
		m, err := tx.ShareMarket(ctx, peek.MarketID)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketOpen {
			return domain.Errorf(domain.ErrMarketNotOpen, "market is %s", m.Status)
		}
		sel, ok := m.Selection(in.SelectionID)
		if !ok {
			return domain.Errorf(domain.ErrSelectionNotFound, "%s", in.SelectionID)
		}

		u, err := tx.LockUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if !u.IsActive {
			return domain.ErrUserInactive
		}
		if in.ExpectedOdds != nil && !in.ExpectedOdds.Equal(sel.Odds) {
			return domain.Errorf(domain.ErrOddsChanged, "current odds %s", domain.FormatOdds(sel.Odds))
		}

		payout, err := domain.Payout(in.Stake, sel.Odds)
		if err != nil {
			return err
		}
		bet = domain.Bet{
			ID:              uuid.NewString(),
			UserID:          u.ID,
			SelectionID:     sel.ID,
			MarketID:        m.ID,
			Stake:           in.Stake,
			OddsAtPlacement: sel.Odds,
			OddsVersion:     sel.OddsVersion,
			PotentialPayout: payout,
			Status:          domain.BetOpen,
			PlacedAt:        now,
		}
		if err := tx.InsertBet(ctx, bet); err != nil {
			return err
		}
		if u, _, err = ledger.Post(ctx, tx, ledger.Posting{
			User: u, Kind: domain.LedgerBetDebit, Amount: -in.Stake,
			RefType: domain.RefBet, RefID: bet.ID, Reason: "bet placed", At: now,
		}); err != nil {
			return err
		}

		desc := fmt.Sprintf("%s bet %d on %s", u.Username, in.Stake, sel.Label)
		_, err = tx.AppendFeed(ctx, domain.NewFeedEvent(events.KindBetPlaced, true, u.ID, m.ID, desc, events.BetPlaced{
			BetID: bet.ID, MarketID: m.ID, SelectionID: sel.ID, SelectionLabel: sel.Label,
			Stake: in.Stake, Odds: domain.FormatOdds(sel.Odds), PotentialPayout: bet.PotentialPayout,
		}, now))
		return err
	})
	if err != nil {
		e.Metrics.BetPlaced(string(domain.KindOf(err)), in.Stake)
		return domain.Bet{}, err
	}

	e.Metrics.BetPlaced("ok", bet.Stake)
	e.Metrics.Entry(string(domain.LedgerBetDebit), bet.Stake)
	e.Log.Info("bet placed",
		zap.String("bet_id", bet.ID), zap.String("user_id", bet.UserID), zap.String("market_id", bet.MarketID),
		zap.Int64("stake", bet.Stake), zap.String("odds", domain.FormatOdds(bet.OddsAtPlacement)))
	return bet, nil
}
