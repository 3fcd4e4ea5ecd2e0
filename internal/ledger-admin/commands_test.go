package admin

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/auth"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ledger"
	"github.com/radieske/prediction-ledger/internal/ledger-service/projector"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/internal/ledger-service/settlement"
)

func newDeps() Deps {
	store := repo.NewMemory()
	log := zap.NewNop()
	return Deps{
		Store:          store,
		Ledger:         ledger.New(store, log, nil),
		Settlement:     settlement.New(store, log, nil, 0),
		Projector:      projector.New(store, nil, 0, log),
		Tokens:         auth.NewTokens("cli-secret"),
		DefaultBalance: 1000,
	}
}

func run(t *testing.T, d Deps, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), d, args, &out))
	return out.String()
}

func TestRun_CreateUserLeaderboardAndToken(t *testing.T) {
	d := newDeps()

	out := run(t, d, "create-user", "-username", "alice")
	assert.Contains(t, out, "balance=1000")
	run(t, d, "create-user", "-username", "bob", "-balance", "1500")

	out = run(t, d, "leaderboard")
	assert.Less(t, strings.Index(out, "bob"), strings.Index(out, "alice"))
	assert.Contains(t, out, "1500")

	users, err := d.Store.ListUsers(context.Background())
	require.NoError(t, err)
	tok := strings.TrimSpace(run(t, d, "token", "-user", users[0].ID))
	claims, err := d.Tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, users[0].ID, claims.Subject)
}

func TestRun_ReconcileAndResume(t *testing.T) {
	d := newDeps()
	run(t, d, "create-user", "-username", "carol")

	assert.Contains(t, run(t, d, "reconcile"), "no drift")
	assert.Contains(t, run(t, d, "resume-settlements"), "no pending settlements")
}

func TestRun_Usage(t *testing.T) {
	d := newDeps()
	var out bytes.Buffer
	assert.ErrorIs(t, Run(context.Background(), d, nil, &out), ErrUsage)
	assert.ErrorIs(t, Run(context.Background(), d, []string{"explode"}, &out), ErrUsage)
	assert.ErrorIs(t, Run(context.Background(), d, []string{"create-user"}, &out), ErrUsage)
	assert.Error(t, Run(context.Background(), d, []string{"token", "-user", "missing"}, &out))
}
