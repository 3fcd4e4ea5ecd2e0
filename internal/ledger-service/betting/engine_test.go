package betting

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ledger"
	"github.com/radieske/prediction-ledger/internal/ledger-service/market"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/pkg/contracts/events"
)

type fixture struct {
	store   *repo.Memory
	users   *ledger.Service
	markets *market.Service
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemory()
	log := zap.NewNop()
	return &fixture{
		store:   store,
		users:   ledger.New(store, log, nil),
		markets: market.New(store, log),
		engine:  New(store, log, nil),
	}
}

func (f *fixture) user(t *testing.T, name string, balance int64) domain.User {
	t.Helper()
	u, err := f.users.CreateUser(context.Background(), ledger.CreateUserInput{Username: name, InitialBalance: balance})
	require.NoError(t, err)
	return u
}

func (f *fixture) market(t *testing.T, status domain.MarketStatus, odds ...string) domain.Market {
	t.Helper()
	ctx := context.Background()
	tour, err := f.markets.CreateTournament(ctx, market.TournamentInput{Name: "Cup"})
	require.NoError(t, err)
	in := market.CreateMarketInput{
		Scope: domain.Scope{TournamentID: tour.ID}, Question: "Who wins?",
		MarketType: "tournament", Status: status,
	}
	for i, o := range odds {
		in.Selections = append(in.Selections, market.SelectionInput{Label: string(rune('A' + i)), Odds: decimal.RequireFromString(o)})
	}
	m, err := f.markets.CreateMarket(ctx, in)
	require.NoError(t, err)
	return m
}

func (f *fixture) assertFold(t *testing.T, userID string) {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	entries, err := f.store.ListLedger(context.Background(), userID)
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	assert.Equal(t, u.Balance, sum, "balance must equal ledger fold")
	if len(entries) > 0 {
		assert.Equal(t, u.Balance, entries[len(entries)-1].BalanceAfter)
	}
}

func TestPlaceBet_DebitsAndRecordsBet(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 1000)
	m := f.market(t, domain.MarketOpen, "2.50", "1.60")

	bet, err := f.engine.PlaceBet(context.Background(), PlaceBetInput{UserID: a.ID, SelectionID: m.Selections[0].ID, Stake: 200})
	require.NoError(t, err)

	assert.Equal(t, domain.BetOpen, bet.Status)
	assert.Equal(t, int64(500), bet.PotentialPayout)
	assert.Equal(t, "2.50", domain.FormatOdds(bet.OddsAtPlacement))
	assert.Equal(t, 1, bet.OddsVersion)
	assert.Equal(t, m.ID, bet.MarketID)

	u, err := f.store.GetUser(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(800), u.Balance)

	entries, err := f.store.ListLedger(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.LedgerBetDebit, entries[1].Kind)
	assert.Equal(t, int64(-200), entries[1].Amount)
	assert.Equal(t, bet.ID, entries[1].RefID)
	f.assertFold(t, a.ID)

	feed, err := f.store.ListFeed(context.Background(), repo.FeedQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, events.KindBetPlaced, feed[0].Kind)
	assert.Equal(t, "alice bet 200 on A", feed[0].Description)
}

func TestPlaceBet_RejectsNonPositiveStake(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 1000)
	m := f.market(t, domain.MarketOpen, "2.00", "2.00")

	for _, stake := range []int64{0, -5} {
		_, err := f.engine.PlaceBet(context.Background(), PlaceBetInput{UserID: a.ID, SelectionID: m.Selections[0].ID, Stake: stake})
		assert.ErrorIs(t, err, domain.ErrInvalidStake)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	}
	u, _ := f.store.GetUser(context.Background(), a.ID)
	assert.Equal(t, int64(1000), u.Balance)
}

func TestPlaceBet_BalanceBoundary(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 100)
	m := f.market(t, domain.MarketOpen, "2.00", "2.00")
	sel := m.Selections[0].ID

	_, err := f.engine.PlaceBet(context.Background(), PlaceBetInput{UserID: a.ID, SelectionID: sel, Stake: 101})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	bets, err := f.store.ListBets(context.Background(), repo.BetFilter{UserID: a.ID})
	require.NoError(t, err)
	assert.Empty(t, bets)

	_, err = f.engine.PlaceBet(context.Background(), PlaceBetInput{UserID: a.ID, SelectionID: sel, Stake: 100})
	require.NoError(t, err)
	u, _ := f.store.GetUser(context.Background(), a.ID)
	assert.Equal(t, int64(0), u.Balance)
	f.assertFold(t, a.ID)
}

func TestPlaceBet_MarketMustBeOpen(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 100)

	for _, st := range []domain.MarketStatus{domain.MarketComingSoon, domain.MarketLocked} {
		m := f.market(t, st, "2.00", "2.00")
		_, err := f.engine.PlaceBet(context.Background(), PlaceBetInput{UserID: a.ID, SelectionID: m.Selections[0].ID, Stake: 10})
		assert.ErrorIs(t, err, domain.ErrMarketNotOpen, st)
		assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	}
}

func TestPlaceBet_UnknownSelectionAndInactiveUser(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 100)
	m := f.market(t, domain.MarketOpen, "2.00", "2.00")

	_, err := f.engine.PlaceBet(context.Background(), PlaceBetInput{UserID: a.ID, SelectionID: "missing", Stake: 10})
	assert.ErrorIs(t, err, domain.ErrSelectionNotFound)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.users.SetActive(context.Background(), a.ID, false, "admin")
	require.NoError(t, err)
	_, err = f.engine.PlaceBet(context.Background(), PlaceBetInput{UserID: a.ID, SelectionID: m.Selections[0].ID, Stake: 10})
	assert.ErrorIs(t, err, domain.ErrUserInactive)
}

func TestPlaceBet_ExpectedOdds(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 100)
	m := f.market(t, domain.MarketOpen, "2.50", "1.50")

	stale := decimal.RequireFromString("2.00")
	_, err := f.engine.PlaceBet(context.Background(), PlaceBetInput{UserID: a.ID, SelectionID: m.Selections[0].ID, Stake: 10, ExpectedOdds: &stale})
	require.ErrorIs(t, err, domain.ErrOddsChanged)
	assert.Contains(t, err.Error(), "2.50")

	cur := decimal.RequireFromString("2.5")
	_, err = f.engine.PlaceBet(context.Background(), PlaceBetInput{UserID: a.ID, SelectionID: m.Selections[0].ID, Stake: 10, ExpectedOdds: &cur})
	assert.NoError(t, err)
}

func TestPlaceBet_ConcurrentDoubleSpend(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 100)
	m := f.market(t, domain.MarketOpen, "2.00", "2.00")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.engine.PlaceBet(context.Background(), PlaceBetInput{UserID: a.ID, SelectionID: m.Selections[i].ID, Stake: 100})
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, ok)
	u, _ := f.store.GetUser(context.Background(), a.ID)
	assert.Equal(t, int64(0), u.Balance)
	f.assertFold(t, a.ID)
}

func TestPlaceBet_ManyConcurrentPlacements(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 1000)
	b := f.user(t, "bob", 1000)
	m := f.market(t, domain.MarketOpen, "2.00", "3.00")

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := map[string]int{}
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := a
			if i%2 == 1 {
				u = b
			}
			_, err := f.engine.PlaceBet(context.Background(), PlaceBetInput{UserID: u.ID, SelectionID: m.Selections[i%2].ID, Stake: 30})
			if err == nil {
				mu.Lock()
				accepted[u.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, u := range []domain.User{a, b} {
		assert.Equal(t, 33, accepted[u.ID])
		got, _ := f.store.GetUser(context.Background(), u.ID)
		assert.Equal(t, int64(10), got.Balance)
		f.assertFold(t, u.ID)
	}
}
