package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ledger"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/internal/shared/metrics"
	"github.com/radieske/prediction-ledger/pkg/contracts/events"
)

const DefaultPageSize = 200

// Engine liquida e anula mercados em três fases:
//  1. registra a resolução no mercado (lock exclusivo)
//  2. resolve cada aposta aberta na sua própria transação
//  3. move o mercado para settled/voided quando não resta aposta aberta
//
// Uma nova chamada com a mesma resolução retoma de onde parou.
type Engine struct {
	Store    repo.Store
	Log      *zap.Logger
	Metrics  *metrics.Ledger
	Now      func() time.Time
	PageSize int
}

func New(store repo.Store, log *zap.Logger, m *metrics.Ledger, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Engine{Store: store, Log: log, Metrics: m, Now: time.Now, PageSize: pageSize}
}

// Summary resume o estado da liquidação (totais do mercado, não só desta chamada)
type Summary struct {
	MarketID           string
	Resolution         domain.ResolutionKind
	WinningSelectionID string
	BetsProcessed      int
	WinnersPaid        int
	LosersMarked       int
	TotalCredited      int64
	BetsVoided         int
	CoinsRefunded      int64
	Failed             int // falhas nesta chamada
	Remaining          int // apostas ainda abertas
	Complete           bool
}

// Settle paga as apostas na seleção vencedora; o mercado precisa estar locked
func (e *Engine) Settle(ctx context.Context, marketID, winnerID string) (Summary, error) {
	return e.run(ctx, marketID, domain.Resolution{Kind: domain.ResolutionSettle, WinnerID: winnerID}, false)
}

// Void estorna todas as apostas abertas; aceita mercado open ou locked
func (e *Engine) Void(ctx context.Context, marketID string) (Summary, error) {
	return e.run(ctx, marketID, domain.Resolution{Kind: domain.ResolutionVoid}, false)
}

// VoidEvent anula todo mercado não terminal do evento, inclusive coming_soon.
// Mercado com settle pendente segue o settle e fica fora dos totais.
func (e *Engine) VoidEvent(ctx context.Context, eventID string) (domain.VoidTotals, error) {
	markets, err := e.Store.ListMarkets(ctx, repo.MarketFilter{EventID: eventID})
	if err != nil {
		return domain.VoidTotals{}, err
	}
	totals := domain.VoidTotals{Complete: true}
	var firstErr error
	for _, m := range markets {
		if m.Status.Terminal() {
			continue
		}
		if m.Resolution.Kind == domain.ResolutionSettle {
			e.Log.Warn("event cancelled with settlement pending",
				zap.String("event_id", eventID), zap.String("market_id", m.ID))
			continue
		}
		sum, err := e.run(ctx, m.ID, domain.Resolution{Kind: domain.ResolutionVoid}, true)
		if err != nil {
			e.Log.Error("event market void failed",
				zap.String("event_id", eventID), zap.String("market_id", m.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("void %s: %w", m.ID, err)
			}
			totals.Complete = false
			continue
		}
		totals.Markets++
		totals.BetsVoided += sum.BetsVoided
		totals.CoinsRefunded += sum.CoinsRefunded
		totals.Complete = totals.Complete && sum.Complete
	}
	e.Log.Info("event markets voided",
		zap.String("event_id", eventID), zap.Int("markets", totals.Markets),
		zap.Int("bets_voided", totals.BetsVoided), zap.Int64("coins_refunded", totals.CoinsRefunded))
	return totals, firstErr
}

// ResumePending conclui mercados com resolução registrada e apostas pendentes
func (e *Engine) ResumePending(ctx context.Context) ([]Summary, error) {
	markets, err := e.Store.ListMarkets(ctx, repo.MarketFilter{PendingOnly: true})
	if err != nil {
		return nil, err
	}
	var out []Summary
	for _, m := range markets {
		e.Log.Info("resuming settlement", zap.String("market_id", m.ID), zap.String("resolution", string(m.Resolution.Kind)))
		sum, err := e.run(ctx, m.ID, m.Resolution, false)
		if err != nil {
			return out, fmt.Errorf("resume %s: %w", m.ID, err)
		}
		out = append(out, sum)
	}
	return out, nil
}

// anyStatus libera void de mercado coming_soon (cascata de evento cancelado)
func (e *Engine) run(ctx context.Context, marketID string, res domain.Resolution, anyStatus bool) (sum Summary, err error) {
	started := time.Now()
	op := string(res.Kind)
	defer func() {
		outcome := "complete"
		switch {
		case err != nil:
			outcome = string(domain.KindOf(err))
		case !sum.Complete:
			outcome = "incomplete"
		}
		e.Metrics.SettlementRun(op, outcome, started)
	}()

	m, err := e.begin(ctx, marketID, res, anyStatus)
	if err != nil {
		return Summary{}, err
	}

	failed, err := e.resolveOpenBets(ctx, m, res)
	if err != nil {
		return Summary{}, err
	}

	sum, err = e.finish(ctx, marketID, res)
	if err != nil {
		return Summary{}, err
	}
	sum.Failed = failed

	e.Log.Info("settlement run finished",
		zap.String("market_id", marketID), zap.String("resolution", op),
		zap.Bool("complete", sum.Complete), zap.Int("remaining", sum.Remaining), zap.Int("failed", failed),
		zap.Int64("credited", sum.TotalCredited), zap.Int64("refunded", sum.CoinsRefunded))
	return sum, nil
}

// begin (fase 1) registra a resolução, ou valida que é a mesma já registrada
func (e *Engine) begin(ctx context.Context, marketID string, res domain.Resolution, anyStatus bool) (domain.Market, error) {
	var m domain.Market
	err := e.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		if m, err = tx.LockMarket(ctx, marketID); err != nil {
			return err
		}
		if m.Status.Terminal() {
			return domain.Errorf(domain.ErrAlreadyResolved, "market is %s", m.Status)
		}
		if m.Resolution.Kind != domain.ResolutionNone {
			if m.Resolution != res {
				return domain.Errorf(domain.ErrResolutionMismatch, "pending %s", describe(m.Resolution))
			}
			return nil
		}

		switch res.Kind {
		case domain.ResolutionSettle:
			if m.Status != domain.MarketLocked {
				return domain.Errorf(domain.ErrMarketNotLocked, "market is %s", m.Status)
			}
			if _, ok := m.Selection(res.WinnerID); !ok {
				return domain.Errorf(domain.ErrWinnerNotInMarket, "%s", res.WinnerID)
			}
			if err := tx.SetSelectionWinners(ctx, m.ID, res.WinnerID); err != nil {
				return err
			}
		case domain.ResolutionVoid:
			switch {
			case m.Status == domain.MarketLocked:
			case m.Status == domain.MarketOpen, anyStatus:
				if err := tx.SetMarketStatus(ctx, m.ID, domain.MarketLocked); err != nil {
					return err
				}
				m.Status = domain.MarketLocked
			default:
				return domain.Errorf(domain.ErrInvalidTransition, "cannot void a %s market", m.Status)
			}
		}
		m.Resolution = res
		return tx.SetMarketResolution(ctx, m.ID, res)
	})
	return m, err
}

// resolveOpenBets (fase 2) percorre as apostas abertas por keyset.
// Falha numa aposta não interrompe as demais; cancelamento do ctx sim.
func (e *Engine) resolveOpenBets(ctx context.Context, m domain.Market, res domain.Resolution) (int, error) {
	failed := 0
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		ids, err := e.Store.OpenBetIDs(ctx, m.ID, after, e.PageSize)
		if err != nil {
			return failed, err
		}
		if len(ids) == 0 {
			return failed, nil
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return failed, err
			}
			if err := e.resolveBet(ctx, m, id, res); err != nil {
				failed++
				e.Log.Error("bet resolution failed",
					zap.String("market_id", m.ID), zap.String("bet_id", id), zap.Error(err))
			}
		}
		after = ids[len(ids)-1]
	}
}

func (e *Engine) resolveBet(ctx context.Context, m domain.Market, betID string, res domain.Resolution) error {
	var (
		status domain.BetStatus
		kind   domain.LedgerKind
		amount int64
	)
	now := e.Now()
	err := e.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		b, err := tx.LockBet(ctx, betID)
		if err != nil {
			return err
		}
		if b.Status != domain.BetOpen {
			status = "" // já resolvida por outra execução
			return nil
		}
		u, err := tx.LockUser(ctx, b.UserID)
		if err != nil {
			return err
		}

		switch {
		case res.Kind == domain.ResolutionVoid:
			status, kind, amount = domain.BetVoided, domain.LedgerVoidRefund, b.Stake
		case b.SelectionID == res.WinnerID:
			status, kind, amount = domain.BetWon, domain.LedgerWinCredit, b.PotentialPayout
		default:
			status, kind, amount = domain.BetLost, "", 0
		}

		if err := tx.SetBetStatus(ctx, b.ID, status, now); err != nil {
			return err
		}
		if kind != "" {
			if _, _, err := ledger.Post(ctx, tx, ledger.Posting{
				User: u, Kind: kind, Amount: amount,
				RefType: domain.RefBet, RefID: b.ID, Reason: string(res.Kind), At: now,
			}); err != nil {
				return err
			}
		}

		desc := fmt.Sprintf("bet on %q %s", m.Question, status)
		_, err = tx.AppendFeed(ctx, domain.NewFeedEvent(events.KindBetSettled, false, u.ID, m.ID, desc, events.BetSettled{
			BetID: b.ID, UserID: u.ID, MarketID: m.ID, Status: string(status), Stake: b.Stake, Credited: amount,
		}, now))
		if err != nil {
			return err
		}
		typ, title, msg, _ := domain.BetNotificationText(status, b.Stake, amount)
		return tx.InsertNotification(ctx, domain.Notification{
			ID: uuid.NewString(), UserID: u.ID, Type: typ, Title: title, Message: msg,
			BetID: b.ID, MarketID: m.ID, CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}
	if status != "" {
		e.Metrics.BetResolved(string(status))
		if kind != "" {
			e.Metrics.Entry(string(kind), amount)
		}
	}
	return nil
}

// finish (fase 3) fecha o mercado se não há apostas abertas e calcula os totais
func (e *Engine) finish(ctx context.Context, marketID string, res domain.Resolution) (Summary, error) {
	sum := Summary{MarketID: marketID, Resolution: res.Kind, WinningSelectionID: res.WinnerID}
	err := e.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		m, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		bets, err := tx.MarketBets(ctx, marketID)
		if err != nil {
			return err
		}
		for _, b := range bets {
			switch b.Status {
			case domain.BetOpen:
				sum.Remaining++
			case domain.BetWon:
				sum.WinnersPaid++
				sum.TotalCredited += b.PotentialPayout
			case domain.BetLost:
				sum.LosersMarked++
			case domain.BetVoided:
				sum.BetsVoided++
				sum.CoinsRefunded += b.Stake
			}
		}
		sum.BetsProcessed = len(bets) - sum.Remaining

		if m.Status.Terminal() {
			sum.Complete = true
			return nil
		}
		if sum.Remaining > 0 {
			return nil
		}

		final, kind := domain.MarketSettled, events.KindMarketSettled
		var desc string
		var payload any
		if res.Kind == domain.ResolutionVoid {
			final, kind = domain.MarketVoided, events.KindMarketVoided
			desc = fmt.Sprintf("Market voided: %s (%d bets refunded)", m.Question, sum.BetsVoided)
			payload = events.MarketVoided{MarketID: m.ID, RefundedCount: sum.BetsVoided, TotalRefunded: sum.CoinsRefunded}
		} else {
			winner, _ := m.Selection(res.WinnerID)
			desc = fmt.Sprintf("Market settled: %s - winner: %s", m.Question, winner.Label)
			payload = events.MarketSettled{
				MarketID: m.ID, WinningSelection: winner.Label,
				WinnersPaid: sum.WinnersPaid, TotalCredited: sum.TotalCredited,
			}
		}
		if err := tx.SetMarketStatus(ctx, m.ID, final); err != nil {
			return err
		}
		if _, err := tx.AppendFeed(ctx, domain.NewFeedEvent(kind, true, "", m.ID, desc, payload, e.Now())); err != nil {
			return err
		}
		sum.Complete = true
		return nil
	})
	return sum, err
}

func describe(r domain.Resolution) string {
	if r.Kind == domain.ResolutionSettle {
		return "settle(" + r.WinnerID + ")"
	}
	return string(r.Kind)
}
