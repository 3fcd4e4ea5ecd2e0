package repo

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
)

func seedUser(t *testing.T, m *Memory, id, name string, balance int64) {
	t.Helper()
	err := m.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertUser(ctx, domain.User{ID: id, Username: name, Balance: balance, IsActive: true, CreatedAt: time.Now()})
	})
	require.NoError(t, err)
}

func TestMemory_RollbackDiscardsWrites(t *testing.T) {
	m := NewMemory()
	seedUser(t, m, "u1", "ana", 100)

	boom := errors.New("boom")
	err := m.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockUser(ctx, "u1"); err != nil {
			return err
		}
		if err := tx.SetUserBalance(ctx, "u1", 40); err != nil {
			return err
		}
		if _, err := tx.AppendLedger(ctx, domain.LedgerEntry{UserID: "u1", Kind: domain.LedgerBetDebit, Amount: -60, BalanceAfter: 40, RefType: domain.RefBet, RefID: "b1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	u, err := m.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)

	entries, err := m.ListLedger(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemory_WritesInvisibleUntilCommit(t *testing.T) {
	m := NewMemory()
	seedUser(t, m, "u1", "ana", 100)

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- m.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockUser(ctx, "u1"); err != nil {
				return err
			}
			if err := tx.SetUserBalance(ctx, "u1", 10); err != nil {
				return err
			}
			close(inside)
			<-release
			return nil
		})
	}()

	<-inside
	u, err := m.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)

	close(release)
	require.NoError(t, <-done)

	u, err = m.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.Balance)
}

func TestMemory_ExclusiveLockSerializes(t *testing.T) {
	m := NewMemory()
	seedUser(t, m, "u1", "ana", 0)

	var inCritical, maxSeen atomic.Int32
	errs := make(chan error, 20)
	for range 20 {
		go func() {
			errs <- m.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
				u, err := tx.LockUser(ctx, "u1")
				if err != nil {
					return err
				}
				n := inCritical.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(time.Millisecond)
				inCritical.Add(-1)
				return tx.SetUserBalance(ctx, "u1", u.Balance+1)
			})
		}()
	}
	for range 20 {
		require.NoError(t, <-errs)
	}

	u, err := m.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), u.Balance)
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestMemory_NoLockUpgrade(t *testing.T) {
	m := NewMemory()
	mk := domain.Market{
		ID: "m1", Scope: domain.Scope{EventID: "e1"}, Question: "q", MarketType: "custom", Status: domain.MarketOpen,
		Selections: []domain.Selection{
			{ID: "s1", Position: 0, Label: "A", Odds: decimal.RequireFromString("2"), OddsVersion: 1},
			{ID: "s2", Position: 1, Label: "B", Odds: decimal.RequireFromString("1.5"), OddsVersion: 1},
		},
	}
	require.NoError(t, m.InTx(context.Background(), func(ctx context.Context, tx Tx) error { return tx.InsertMarket(ctx, mk) }))

	err := m.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if _, err := tx.ShareMarket(ctx, "m1"); err != nil {
			return err
		}
		_, err := tx.LockMarket(ctx, "m1")
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upgrade")

	got, err := m.GetMarket(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, got.Selections, 2)
	assert.Equal(t, "A", got.Selections[0].Label)

	hist, err := m.OddsHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 1, hist[0].Version)
}

func TestMemory_Constraints(t *testing.T) {
	m := NewMemory()
	seedUser(t, m, "u1", "ana", 100)

	err := m.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertUser(ctx, domain.User{ID: "u2", Username: "ana"})
	})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	err = m.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.SetUserBalance(ctx, "u1", -1)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	credit := domain.LedgerEntry{UserID: "u1", Kind: domain.LedgerWinCredit, Amount: 50, BalanceAfter: 150, RefType: domain.RefBet, RefID: "b1"}
	require.NoError(t, m.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.AppendLedger(ctx, credit)
		return err
	}))
	err = m.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.AppendLedger(ctx, credit)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	_, err = m.GetUser(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestMemory_FeedAndOutbox(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		for i := range 5 {
			if _, err := tx.AppendFeed(ctx, domain.FeedEvent{Kind: "bet_placed", Public: i != 2, Description: "x"}); err != nil {
				return err
			}
		}
		return nil
	}))

	feed, err := m.ListFeed(context.Background(), FeedQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, int64(5), feed[0].ID)
	assert.Equal(t, int64(4), feed[1].ID)

	feed, err = m.ListFeed(context.Background(), FeedQuery{Limit: 10, BeforeID: 4})
	require.NoError(t, err)
	require.Len(t, feed, 2) // 3 é privado
	assert.Equal(t, int64(2), feed[0].ID)

	pending, err := m.ListUnpublished(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.NoError(t, m.MarkPublished(context.Background(), []int64{1, 2, 3}, time.Now()))

	pending, err = m.ListUnpublished(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(4), pending[0].ID)
}

func TestMemory_Notifications(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	t0 := time.Now()
	insert := func(id, user string, at time.Time) {
		require.NoError(t, m.InTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertNotification(ctx, domain.Notification{ID: id, UserID: user, Type: "bet_lost", CreatedAt: at})
		}))
	}
	insert("n1", "u1", t0)
	insert("n2", "u1", t0.Add(time.Second))
	insert("n3", "u2", t0)

	boom := errors.New("boom")
	err := m.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.MarkNotificationRead(ctx, "u1", "n1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.ListNotifications(ctx, NotificationQuery{UserID: "u1", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"n2", "n1"}, []string{got[0].ID, got[1].ID})

	err = m.InTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.MarkNotificationRead(ctx, "u2", "n1")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var read domain.Notification
	require.NoError(t, m.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		read, err = tx.MarkNotificationRead(ctx, "u1", "n1")
		return err
	}))
	assert.True(t, read.Read)

	got, err = m.ListNotifications(ctx, NotificationQuery{UserID: "u1", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n2", got[0].ID)

	got, err = m.ListNotifications(ctx, NotificationQuery{UserID: "u1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n2", got[0].ID)
}
