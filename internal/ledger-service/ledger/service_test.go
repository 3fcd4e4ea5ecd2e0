package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/pkg/contracts/events"
)

func newService(t *testing.T) (*Service, *repo.Memory) {
	store := repo.NewMemory()
	return New(store, zaptest.NewLogger(t), nil), store
}

func TestCreateUser_RecordsSignupGrant(t *testing.T) {
	s, store := newService(t)

	u, err := s.CreateUser(context.Background(), CreateUserInput{Username: " alice ", InitialBalance: 1000})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, int64(1000), u.Balance)
	assert.True(t, u.IsActive)

	entries, err := s.History(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LedgerAdminAdjustment, entries[0].Kind)
	assert.Equal(t, domain.RefSignup, entries[0].RefType)
	assert.Equal(t, int64(1000), entries[0].BalanceAfter)

	_, err = s.CreateUser(context.Background(), CreateUserInput{Username: "alice"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	_, err = s.CreateUser(context.Background(), CreateUserInput{Username: ""})
	assert.ErrorIs(t, err, domain.ErrValidation)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestAdjustBalance(t *testing.T) {
	s, store := newService(t)
	u, err := s.CreateUser(context.Background(), CreateUserInput{Username: "bob", InitialBalance: 100})
	require.NoError(t, err)

	got, entry, err := s.AdjustBalance(context.Background(), u.ID, 50, "bonus", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.Balance)
	assert.Equal(t, int64(150), entry.BalanceAfter)
	assert.Equal(t, domain.RefAdmin, entry.RefType)
	assert.Equal(t, "bonus", entry.Reason)

	_, _, err = s.AdjustBalance(context.Background(), u.ID, -151, "too much", "admin-1")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, _, err = s.AdjustBalance(context.Background(), u.ID, 0, "noop", "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, _, err = s.AdjustBalance(context.Background(), "missing", 10, "", "admin-1")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	got, _, err = s.AdjustBalance(context.Background(), u.ID, -150, "reset", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance)

	feed, err := store.ListFeed(context.Background(), repo.FeedQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, events.KindBalanceAdjusted, feed[0].Kind)
	assert.Equal(t, "bob's balance adjusted by -150", feed[0].Description)
}

func TestAdjustBalance_RejectsOverflow(t *testing.T) {
	s, _ := newService(t)
	u, err := s.CreateUser(context.Background(), CreateUserInput{Username: "carol", InitialBalance: 100})
	require.NoError(t, err)

	_, _, err = s.AdjustBalance(context.Background(), u.ID, math.MaxInt64-99, "too rich", "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	got, _, err := s.AdjustBalance(context.Background(), u.ID, math.MaxInt64-100, "just fits", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got.Balance)

	entries, err := s.History(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSetActive(t *testing.T) {
	s, _ := newService(t)
	admin, err := s.CreateUser(context.Background(), CreateUserInput{Username: "root", IsAdmin: true})
	require.NoError(t, err)
	u, err := s.CreateUser(context.Background(), CreateUserInput{Username: "carol", InitialBalance: 10})
	require.NoError(t, err)

	_, err = s.SetActive(context.Background(), admin.ID, false, admin.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := s.SetActive(context.Background(), u.ID, false, admin.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	got, err = s.SetActive(context.Background(), u.ID, true, admin.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestReconcile_DetectsAndFixesDrift(t *testing.T) {
	s, store := newService(t)
	ok, err := s.CreateUser(context.Background(), CreateUserInput{Username: "ok", InitialBalance: 300})
	require.NoError(t, err)
	bad, err := s.CreateUser(context.Background(), CreateUserInput{Username: "bad", InitialBalance: 300})
	require.NoError(t, err)

	// corrompe só o cache
	require.NoError(t, store.InTx(context.Background(), func(ctx context.Context, tx repo.Tx) error {
		return tx.SetUserBalance(ctx, bad.ID, 999)
	}))

	drifts, err := s.Reconcile(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, bad.ID, drifts[0].UserID)
	assert.Equal(t, int64(999), drifts[0].Cached)
	assert.Equal(t, int64(300), drifts[0].Ledger)
	assert.False(t, drifts[0].Fixed)

	drifts, err = s.Reconcile(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.True(t, drifts[0].Fixed)

	drifts, err = s.Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	u, err := store.GetUser(context.Background(), ok.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), u.Balance)
}
