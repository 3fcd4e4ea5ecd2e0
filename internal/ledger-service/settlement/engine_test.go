package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/betting"
	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ledger"
	"github.com/radieske/prediction-ledger/internal/ledger-service/market"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/pkg/contracts/events"
)

// flakyStore falha o lock de uma aposta específica (simula erro no meio do lote)
type flakyStore struct {
	*repo.Memory
	failBet string
}

func (f *flakyStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repo.Tx) error) error {
	return f.Memory.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		return fn(ctx, flakyTx{Tx: tx, failBet: f.failBet})
	})
}

type flakyTx struct {
	repo.Tx
	failBet string
}

func (t flakyTx) LockBet(ctx context.Context, id string) (domain.Bet, error) {
	if id == t.failBet {
		return domain.Bet{}, errors.New("connection reset")
	}
	return t.Tx.LockBet(ctx, id)
}

type fixture struct {
	mem     *repo.Memory
	store   *flakyStore
	users   *ledger.Service
	markets *market.Service
	bets    *betting.Engine
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := repo.NewMemory()
	store := &flakyStore{Memory: mem}
	log := zap.NewNop()
	f := &fixture{
		mem:     mem,
		store:   store,
		users:   ledger.New(store, log, nil),
		markets: market.New(store, log),
		bets:    betting.New(store, log, nil),
		engine:  New(store, log, nil, 2),
	}
	f.markets.Voider = f.engine
	return f
}

func (f *fixture) user(t *testing.T, name string, balance int64) domain.User {
	t.Helper()
	u, err := f.users.CreateUser(context.Background(), ledger.CreateUserInput{Username: name, InitialBalance: balance})
	require.NoError(t, err)
	return u
}

func (f *fixture) openMarket(t *testing.T, labels []string, odds []string) domain.Market {
	t.Helper()
	ctx := context.Background()
	ev, err := f.markets.CreateEvent(ctx, market.EventInput{Title: "Final"})
	require.NoError(t, err)
	in := market.CreateMarketInput{
		Scope: domain.Scope{EventID: ev.ID}, Question: "Winner?", MarketType: "match_winner", Status: domain.MarketOpen,
	}
	for i := range labels {
		in.Selections = append(in.Selections, market.SelectionInput{Label: labels[i], Odds: decimal.RequireFromString(odds[i])})
	}
	m, err := f.markets.CreateMarket(ctx, in)
	require.NoError(t, err)
	return m
}

func (f *fixture) place(t *testing.T, u domain.User, selID string, stake int64) domain.Bet {
	t.Helper()
	b, err := f.bets.PlaceBet(context.Background(), betting.PlaceBetInput{UserID: u.ID, SelectionID: selID, Stake: stake})
	require.NoError(t, err)
	return b
}

func (f *fixture) lock(t *testing.T, id string) {
	t.Helper()
	_, err := f.markets.TransitionMarket(context.Background(), id, domain.MarketLocked)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	u, err := f.mem.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.Balance
}

func (f *fixture) amounts(t *testing.T, id string) []int64 {
	t.Helper()
	entries, err := f.mem.ListLedger(context.Background(), id)
	require.NoError(t, err)
	var out []int64
	var sum int64
	for _, e := range entries {
		out = append(out, e.Amount)
		sum += e.Amount
	}
	assert.Equal(t, f.balance(t, id), sum)
	return out
}

func TestSettle_PaysWinner(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 1000)
	m := f.openMarket(t, []string{"X", "Y"}, []string{"2.50", "1.40"})
	bet := f.place(t, a, m.Selections[0].ID, 200)
	f.lock(t, m.ID)

	sum, err := f.engine.Settle(context.Background(), m.ID, m.Selections[0].ID)
	require.NoError(t, err)
	assert.True(t, sum.Complete)
	assert.Equal(t, 1, sum.WinnersPaid)
	assert.Equal(t, int64(500), sum.TotalCredited)
	assert.Equal(t, 1, sum.BetsProcessed)

	assert.Equal(t, int64(1300), f.balance(t, a.ID))
	assert.Equal(t, []int64{1000, -200, 500}, f.amounts(t, a.ID))

	bets, err := f.mem.ListBets(context.Background(), repo.BetFilter{UserID: a.ID})
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, bet.ID, bets[0].ID)
	assert.Equal(t, domain.BetWon, bets[0].Status)
	assert.NotNil(t, bets[0].SettledAt)

	got, err := f.mem.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketSettled, got.Status)
	require.NotNil(t, got.Selections[0].IsWinner)
	assert.True(t, *got.Selections[0].IsWinner)
	assert.False(t, *got.Selections[1].IsWinner)

	feed, err := f.mem.ListFeed(context.Background(), repo.FeedQuery{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, events.KindMarketSettled, feed[0].Kind)
}

func TestVoid_RefundsStake(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 1000)
	m := f.openMarket(t, []string{"X", "Y"}, []string{"2.50", "1.40"})
	f.place(t, a, m.Selections[0].ID, 200)

	// void aceita mercado ainda aberto
	sum, err := f.engine.Void(context.Background(), m.ID)
	require.NoError(t, err)
	assert.True(t, sum.Complete)
	assert.Equal(t, 1, sum.BetsVoided)
	assert.Equal(t, int64(200), sum.CoinsRefunded)

	assert.Equal(t, int64(1000), f.balance(t, a.ID))
	assert.Equal(t, []int64{1000, -200, 200}, f.amounts(t, a.ID))

	got, _ := f.mem.GetMarket(context.Background(), m.ID)
	assert.Equal(t, domain.MarketVoided, got.Status)

	_, err = f.engine.Void(context.Background(), m.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	_, err = f.engine.Settle(context.Background(), m.ID, m.Selections[0].ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.Equal(t, int64(1000), f.balance(t, a.ID))
}

func TestSettle_RequiresLockedAndKnownWinner(t *testing.T) {
	f := newFixture(t)
	m := f.openMarket(t, []string{"X", "Y"}, []string{"2.00", "2.00"})

	_, err := f.engine.Settle(context.Background(), m.ID, m.Selections[0].ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotLocked)

	f.lock(t, m.ID)
	_, err = f.engine.Settle(context.Background(), m.ID, "other-market-selection")
	assert.ErrorIs(t, err, domain.ErrWinnerNotInMarket)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.engine.Settle(context.Background(), "missing", m.Selections[0].ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestSettle_TwiceNeverPaysTwice(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 1000)
	m := f.openMarket(t, []string{"X", "Y"}, []string{"3.00", "1.20"})
	f.place(t, a, m.Selections[0].ID, 100)
	f.lock(t, m.ID)

	_, err := f.engine.Settle(context.Background(), m.ID, m.Selections[0].ID)
	require.NoError(t, err)
	_, err = f.engine.Settle(context.Background(), m.ID, m.Selections[0].ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.Equal(t, int64(1200), f.balance(t, a.ID))
}

func TestSettle_OutcomesAndPayoutBound(t *testing.T) {
	f := newFixture(t)
	m := f.openMarket(t, []string{"X", "Y", "Z"}, []string{"1.55", "2.10", "7.25"})

	type placed struct {
		user domain.User
		bet  domain.Bet
	}
	var all []placed
	for i := range 7 {
		u := f.user(t, "user"+string(rune('a'+i)), 1000)
		for j, stake := range []int64{7, 13, 101} {
			all = append(all, placed{u, f.place(t, u, m.Selections[(i+j)%3].ID, stake)})
		}
	}
	f.lock(t, m.ID)

	winner := m.Selections[0]
	sum, err := f.engine.Settle(context.Background(), m.ID, winner.ID)
	require.NoError(t, err)
	require.True(t, sum.Complete)
	assert.Equal(t, len(all), sum.BetsProcessed)
	assert.Equal(t, 0, sum.Remaining)

	var credited int64
	for _, p := range all {
		got, err := f.mem.ListBets(context.Background(), repo.BetFilter{UserID: p.user.ID, MarketID: m.ID})
		require.NoError(t, err)
		for _, b := range got {
			if b.ID != p.bet.ID {
				continue
			}
			if b.SelectionID == winner.ID {
				assert.Equal(t, domain.BetWon, b.Status)
				want, err := domain.Payout(b.Stake, winner.Odds)
				require.NoError(t, err)
				assert.Equal(t, want, b.PotentialPayout)
				assert.LessOrEqual(t, b.PotentialPayout, decimal.NewFromInt(b.Stake).Mul(winner.Odds).IntPart())
				credited += b.PotentialPayout
			} else {
				assert.Equal(t, domain.BetLost, b.Status)
			}
		}
	}
	assert.Equal(t, credited, sum.TotalCredited)

	for _, p := range all {
		entries, _ := f.mem.ListLedger(context.Background(), p.user.ID)
		wins, total := 0, int64(0)
		for _, e := range entries {
			total += e.Amount
			if e.Kind == domain.LedgerWinCredit {
				wins++
			}
		}
		assert.Equal(t, f.balance(t, p.user.ID), total)
		assert.Equal(t, 1, wins, "each user has exactly one winning bet")
	}
}

func TestSettle_PartialFailureResumes(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 1000)
	b := f.user(t, "bob", 1000)
	m := f.openMarket(t, []string{"X", "Y"}, []string{"2.00", "2.00"})
	f.place(t, a, m.Selections[0].ID, 100)
	stuck := f.place(t, b, m.Selections[0].ID, 100)
	f.place(t, b, m.Selections[1].ID, 50)
	f.lock(t, m.ID)

	f.store.failBet = stuck.ID
	sum, err := f.engine.Settle(context.Background(), m.ID, m.Selections[0].ID)
	require.NoError(t, err)
	assert.False(t, sum.Complete)
	assert.Equal(t, 1, sum.Remaining)
	assert.Equal(t, 1, sum.Failed)

	got, _ := f.mem.GetMarket(context.Background(), m.ID)
	assert.Equal(t, domain.MarketLocked, got.Status, "never settled while bets are open")

	_, err = f.markets.TransitionMarket(context.Background(), m.ID, domain.MarketOpen)
	assert.ErrorIs(t, err, domain.ErrResolutionPending)
	_, err = f.engine.Void(context.Background(), m.ID)
	assert.ErrorIs(t, err, domain.ErrResolutionMismatch)

	f.store.failBet = ""
	sums, err := f.engine.ResumePending(context.Background())
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.True(t, sums[0].Complete)
	assert.Equal(t, 2, sums[0].WinnersPaid)
	assert.Equal(t, 1, sums[0].LosersMarked)

	assert.Equal(t, int64(1100), f.balance(t, a.ID))
	assert.Equal(t, int64(1050), f.balance(t, b.ID))
	f.amounts(t, b.ID)
}

func TestSettle_CancelledContextLeavesResumableState(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice", 1000)
	m := f.openMarket(t, []string{"X", "Y"}, []string{"2.00", "2.00"})
	for range 5 {
		f.place(t, a, m.Selections[1].ID, 10)
	}
	f.lock(t, m.ID)

	res := domain.Resolution{Kind: domain.ResolutionVoid}
	_, err := f.engine.begin(context.Background(), m.ID, res, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.engine.resolveOpenBets(ctx, m, res)
	assert.ErrorIs(t, err, context.Canceled)

	got, _ := f.mem.GetMarket(context.Background(), m.ID)
	assert.Equal(t, domain.MarketLocked, got.Status)
	assert.Equal(t, domain.ResolutionVoid, got.Resolution.Kind)

	sum, err := f.engine.Void(context.Background(), m.ID)
	require.NoError(t, err)
	assert.True(t, sum.Complete)
	assert.Equal(t, 5, sum.BetsVoided)
	assert.Equal(t, int64(1000), f.balance(t, a.ID))
}

func TestSettle_ConcurrentInvocationsPayOnce(t *testing.T) {
	f := newFixture(t)
	var users []domain.User
	m := f.openMarket(t, []string{"X", "Y"}, []string{"2.00", "2.00"})
	for i := range 10 {
		u := f.user(t, "u"+string(rune('a'+i)), 100)
		f.place(t, u, m.Selections[0].ID, 50)
		users = append(users, u)
	}
	f.lock(t, m.ID)

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

	for _, u := range users {
		assert.Equal(t, int64(150), f.balance(t, u.ID))
	}
	got, _ := f.mem.GetMarket(context.Background(), m.ID)
	assert.Equal(t, domain.MarketSettled, got.Status)

	feed, _ := f.mem.ListFeed(context.Background(), repo.FeedQuery{Limit: 100})
	settled := 0
	for _, e := range feed {
		if e.Kind == events.KindMarketSettled {
			settled++
		}
	}
	assert.Equal(t, 1, settled)
}

func TestCancelEvent_VoidsEveryMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice", 1000)
	b := f.user(t, "bob", 1000)

	ev, err := f.markets.CreateEvent(ctx, market.EventInput{Title: "Derby"})
	require.NoError(t, err)
	newMarket := func(q string, status domain.MarketStatus) domain.Market {
		m, err := f.markets.CreateMarket(ctx, market.CreateMarketInput{
			Scope: domain.Scope{EventID: ev.ID}, Question: q, MarketType: "match_winner", Status: status,
			Selections: []market.SelectionInput{
				{Label: "Home", Odds: decimal.RequireFromString("1.90")},
				{Label: "Away", Odds: decimal.RequireFromString("2.10")},
			},
		})
		require.NoError(t, err)
		return m
	}
	open := newMarket("Winner?", domain.MarketOpen)
	locked := newMarket("First goal?", domain.MarketOpen)
	soon := newMarket("Corners?", domain.MarketComingSoon)
	pending := newMarket("Red card?", domain.MarketOpen)

	f.place(t, a, open.Selections[0].ID, 100)
	f.place(t, b, open.Selections[1].ID, 50)
	f.place(t, a, locked.Selections[1].ID, 30)
	f.lock(t, locked.ID)
	stuck := f.place(t, b, pending.Selections[0].ID, 20)
	f.lock(t, pending.ID)

	// settle registrado e interrompido antes das apostas
	f.store.failBet = stuck.ID
	_, err = f.engine.Settle(ctx, pending.ID, pending.Selections[0].ID)
	require.NoError(t, err)
	f.store.failBet = ""

	got, totals, err := f.markets.TransitionEvent(ctx, ev.ID, domain.EventCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.EventCancelled, got.Status)
	assert.Equal(t, 3, totals.Markets)
	assert.Equal(t, 3, totals.BetsVoided)
	assert.Equal(t, int64(180), totals.CoinsRefunded)
	assert.True(t, totals.Complete)

	for _, id := range []string{open.ID, locked.ID, soon.ID} {
		m, err := f.mem.GetMarket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.MarketVoided, m.Status, m.Question)
	}
	p, err := f.mem.GetMarket(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketLocked, p.Status)
	assert.Equal(t, domain.ResolutionSettle, p.Resolution.Kind)

	_, err = f.bets.PlaceBet(ctx, betting.PlaceBetInput{UserID: a.ID, SelectionID: open.Selections[0].ID, Stake: 100})
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)
	assert.Equal(t, int64(1000), f.balance(t, a.ID))
	assert.ElementsMatch(t, []int64{1000, -100, -30, 100, 30}, f.amounts(t, a.ID))

	inbox, err := f.mem.ListNotifications(ctx, repo.NotificationQuery{UserID: a.ID})
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	for _, n := range inbox {
		assert.Equal(t, "bet_voided", n.Type)
		assert.False(t, n.Read)
	}

	// repetir o cancelamento não estorna de novo
	_, totals, err = f.markets.TransitionEvent(ctx, ev.ID, domain.EventCancelled)
	require.NoError(t, err)
	assert.Zero(t, totals.Markets)
	assert.Equal(t, int64(1000), f.balance(t, a.ID))
}

func TestVoid_ComingSoonOnlyThroughEventCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, err := f.markets.CreateEvent(ctx, market.EventInput{Title: "Friendly"})
	require.NoError(t, err)
	m, err := f.markets.CreateMarket(ctx, market.CreateMarketInput{
		Scope: domain.Scope{EventID: ev.ID}, Question: "Winner?", MarketType: "match_winner",
		Selections: []market.SelectionInput{
			{Label: "A", Odds: decimal.RequireFromString("1.50")},
			{Label: "B", Odds: decimal.RequireFromString("2.50")},
		},
	})
	require.NoError(t, err)

	_, err = f.engine.Void(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	totals, err := f.engine.VoidEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Markets)
	assert.Zero(t, totals.BetsVoided)
	got, err := f.mem.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketVoided, got.Status)
}
