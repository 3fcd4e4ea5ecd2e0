//go:build integration

package settlement

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/betting"
	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ledger"
	"github.com/radieske/prediction-ledger/internal/ledger-service/market"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/internal/shared/db"
)

// go test -tags integration ./internal/ledger-service/settlement/ com POSTGRES_DSN apontando para um banco descartável

type pgFixture struct {
	pg      *repo.Postgres
	users   *ledger.Service
	markets *market.Service
	bets    *betting.Engine
	engine  *Engine
}

func newPGFixture(t *testing.T) (*pgFixture, func(query string, args ...any) error) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	conn, err := db.ConnectPostgres(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(context.Background(), conn))

	store := repo.NewPostgres(conn)
	log := zap.NewNop()
	f := &pgFixture{
		pg:      store,
		users:   ledger.New(store, log, nil),
		markets: market.New(store, log),
		bets:    betting.New(store, log, nil),
		engine:  New(store, log, nil, 3),
	}
	f.markets.Voider = f.engine
	exec := func(query string, args ...any) error {
		_, err := conn.ExecContext(context.Background(), query, args...)
		return err
	}
	return f, exec
}

func (f *pgFixture) user(t *testing.T, balance int64) domain.User {
	t.Helper()
	u, err := f.users.CreateUser(context.Background(), ledger.CreateUserInput{
		Username: "it-" + uuid.NewString()[:8], InitialBalance: balance,
	})
	require.NoError(t, err)
	return u
}

func (f *pgFixture) newMarket(t *testing.T, eventID string) domain.Market {
	t.Helper()
	ctx := context.Background()
	if eventID == "" {
		ev, err := f.markets.CreateEvent(ctx, market.EventInput{Title: "Integration"})
		require.NoError(t, err)
		eventID = ev.ID
	}
	m, err := f.markets.CreateMarket(ctx, market.CreateMarketInput{
		Scope: domain.Scope{EventID: eventID}, Question: "Winner?", MarketType: "match_winner", Status: domain.MarketOpen,
		Selections: []market.SelectionInput{
			{Label: "X", Odds: decimal.RequireFromString("2.00")},
			{Label: "Y", Odds: decimal.RequireFromString("2.00")},
		},
	})
	require.NoError(t, err)
	return m
}

func (f *pgFixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	u, err := f.pg.GetUser(context.Background(), id)
	require.NoError(t, err)
	entries, err := f.pg.ListLedger(context.Background(), id)
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	assert.Equal(t, u.Balance, sum, "cached balance matches ledger")
	return u.Balance
}

func TestPostgres_ConcurrentBetsNeverOverdraw(t *testing.T) {
	f, _ := newPGFixture(t)
	u := f.user(t, 100)
	m := f.newMarket(t, "")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.bets.PlaceBet(context.Background(), betting.PlaceBetInput{UserID: u.ID, SelectionID: m.Selections[0].ID, Stake: 30})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			fail++
			assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, fail)
	assert.Equal(t, int64(10), f.balance(t, u.ID))
}

func TestPostgres_ConcurrentSettlePaysOnce(t *testing.T) {
	f, _ := newPGFixture(t)
	m := f.newMarket(t, "")
	var users []domain.User
	for range 7 {
		u := f.user(t, 100)
		_, err := f.bets.PlaceBet(context.Background(), betting.PlaceBetInput{UserID: u.ID, SelectionID: m.Selections[0].ID, Stake: 50})
		require.NoError(t, err)
		users = append(users, u)
	}
	_, err := f.markets.TransitionMarket(context.Background(), m.ID, domain.MarketLocked)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Settle(context.Background(), m.ID, m.Selections[0].ID)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
			}
		}()
	}
	wg.Wait()

	got, err := f.pg.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketSettled, got.Status)
	for _, u := range users {
		assert.Equal(t, int64(150), f.balance(t, u.ID))
		inbox, err := f.pg.ListNotifications(context.Background(), repo.NotificationQuery{UserID: u.ID})
		require.NoError(t, err)
		require.Len(t, inbox, 1)
		assert.Equal(t, "bet_won", inbox[0].Type)
	}

	// segundo settle sequencial também não paga
	_, err = f.engine.Settle(context.Background(), m.ID, m.Selections[0].ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.Equal(t, int64(150), f.balance(t, users[0].ID))
}

func TestPostgres_LedgerConstraints(t *testing.T) {
	f, exec := newPGFixture(t)
	u := f.user(t, 100)
	m := f.newMarket(t, "")
	b, err := f.bets.PlaceBet(context.Background(), betting.PlaceBetInput{UserID: u.ID, SelectionID: m.Selections[0].ID, Stake: 10})
	require.NoError(t, err)

	credit := func() error {
		return f.pg.InTx(context.Background(), func(ctx context.Context, tx repo.Tx) error {
			locked, err := tx.LockUser(ctx, u.ID)
			if err != nil {
				return err
			}
			_, _, err = ledger.Post(ctx, tx, ledger.Posting{
				User: locked, Kind: domain.LedgerWinCredit, Amount: 20,
				RefType: domain.RefBet, RefID: b.ID, Reason: "settle", At: time.Now(),
			})
			return err
		})
	}
	require.NoError(t, credit())
	err = credit()
	assert.ErrorIs(t, err, domain.ErrDuplicate, "uq_ledger_bet_kind")
	assert.Equal(t, int64(110), f.balance(t, u.ID))

	err = exec(`UPDATE ledger_entries SET amount = amount + 1 WHERE user_id = $1`, u.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")
	err = exec(`DELETE FROM ledger_entries WHERE user_id = $1`, u.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")
}

func TestPostgres_CancelEventAndNotifications(t *testing.T) {
	f, _ := newPGFixture(t)
	ctx := context.Background()
	u := f.user(t, 1000)
	ev, err := f.markets.CreateEvent(ctx, market.EventInput{Title: "Cancelled derby"})
	require.NoError(t, err)
	m := f.newMarket(t, ev.ID)
	_, err = f.bets.PlaceBet(ctx, betting.PlaceBetInput{UserID: u.ID, SelectionID: m.Selections[0].ID, Stake: 100})
	require.NoError(t, err)

	_, totals, err := f.markets.TransitionEvent(ctx, ev.ID, domain.EventCancelled)
	require.NoError(t, err)
	assert.Equal(t, 1, totals.BetsVoided)
	assert.Equal(t, int64(100), totals.CoinsRefunded)

	_, err = f.bets.PlaceBet(ctx, betting.PlaceBetInput{UserID: u.ID, SelectionID: m.Selections[0].ID, Stake: 100})
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)
	assert.Equal(t, int64(1000), f.balance(t, u.ID))

	inbox, err := f.pg.ListNotifications(ctx, repo.NotificationQuery{UserID: u.ID, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "bet_voided", inbox[0].Type)

	other := f.user(t, 0)
	err = f.pg.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		_, err := tx.MarkNotificationRead(ctx, other.ID, inbox[0].ID)
		return err
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, f.pg.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		n, err := tx.MarkNotificationRead(ctx, u.ID, inbox[0].ID)
		assert.True(t, n.Read)
		return err
	}))
	inbox, err = f.pg.ListNotifications(ctx, repo.NotificationQuery{UserID: u.ID, UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, inbox)
}
