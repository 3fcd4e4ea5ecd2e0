package admin

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/radieske/prediction-ledger/internal/ledger-service/auth"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ledger"
	"github.com/radieske/prediction-ledger/internal/ledger-service/projector"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/internal/ledger-service/settlement"
)

// ErrUsage indica subcomando ou flags inválidos
var ErrUsage = errors.New("usage: ledger-admin <reconcile|leaderboard|resume-settlements|create-user|token> [flags]")

// Deps são os serviços usados pelos subcomandos
type Deps struct {
	Store          repo.Store
	Ledger         *ledger.Service
	Settlement     *settlement.Engine
	Projector      *projector.Projector
	Tokens         *auth.Tokens
	DefaultBalance int64
}

// Run executa o subcomando em args[0] e escreve o resultado em out
func Run(ctx context.Context, d Deps, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "reconcile":
		return reconcile(ctx, d, rest, out)
	case "leaderboard":
		return leaderboard(ctx, d, rest, out)
	case "resume-settlements":
		return resume(ctx, d, out)
	case "create-user":
		return createUser(ctx, d, rest, out)
	case "token":
		return token(ctx, d, rest, out)
	default:
		return fmt.Errorf("%w (unknown command %q)", ErrUsage, cmd)
	}
}

func reconcile(ctx context.Context, d Deps, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(out)
	fix := fs.Bool("fix", false, "rewrite cached balances to the ledger fold")
	if err := fs.Parse(args); err != nil {
		return err
	}

	drifts, err := d.Ledger.Reconcile(ctx, *fix)
	if err != nil {
		return err
	}
	if len(drifts) == 0 {
		fmt.Fprintln(out, "no drift: every balance matches its ledger")
		return nil
	}
	table := tablewriter.NewWriter(out)
	table.Header("User", "Username", "Cached", "Ledger", "Fixed")
	for _, dr := range drifts {
		table.Append(dr.UserID, dr.Username, itoa(dr.Cached), itoa(dr.Ledger), strconv.FormatBool(dr.Fixed))
	}
	return table.Render()
}

func leaderboard(ctx context.Context, d Deps, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("leaderboard", flag.ContinueOnError)
	fs.SetOutput(out)
	tournament := fs.String("tournament", "", "tournament id (P&L ranking)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	if *tournament != "" {
		rows, err := d.Projector.TournamentLeaderboard(ctx, *tournament)
		if err != nil {
			return err
		}
		table.Header("#", "Username", "Profit", "Staked", "Won", "Lost")
		for _, r := range rows {
			table.Append(strconv.Itoa(r.Rank), r.Username, itoa(r.Profit), itoa(r.Staked), strconv.Itoa(r.Won), strconv.Itoa(r.Lost))
		}
		return table.Render()
	}

	rows, err := d.Projector.Leaderboard(ctx)
	if err != nil {
		return err
	}
	table.Header("#", "Username", "Balance", "Bets", "Won")
	for _, r := range rows {
		table.Append(strconv.Itoa(r.Rank), r.Username, itoa(r.Balance), strconv.Itoa(r.TotalBets), strconv.Itoa(r.WonBets))
	}
	return table.Render()
}

func resume(ctx context.Context, d Deps, out io.Writer) error {
	sums, err := d.Settlement.ResumePending(ctx)
	if err != nil {
		return err
	}
	if len(sums) == 0 {
		fmt.Fprintln(out, "no pending settlements")
		return nil
	}
	table := tablewriter.NewWriter(out)
	table.Header("Market", "Resolution", "Processed", "Credited", "Refunded", "Failed", "Complete")
	for _, s := range sums {
		table.Append(s.MarketID, string(s.Resolution), strconv.Itoa(s.BetsProcessed),
			itoa(s.TotalCredited), itoa(s.CoinsRefunded), strconv.Itoa(s.Failed), strconv.FormatBool(s.Complete))
	}
	return table.Render()
}

func createUser(ctx context.Context, d Deps, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(out)
	username := fs.String("username", "", "username (required)")
	isAdmin := fs.Bool("admin", false, "grant admin role")
	balance := fs.Int64("balance", d.DefaultBalance, "initial coin grant")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("%w: -username is required", ErrUsage)
	}

	u, err := d.Ledger.CreateUser(ctx, ledger.CreateUserInput{Username: *username, IsAdmin: *isAdmin, InitialBalance: *balance})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created user %s (%s) balance=%d admin=%t\n", u.Username, u.ID, u.Balance, u.IsAdmin)
	return nil
}

func token(ctx context.Context, d Deps, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	userID := fs.String("user", "", "user id (required)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("%w: -user is required", ErrUsage)
	}

	u, err := d.Store.GetUser(ctx, *userID)
	if err != nil {
		return err
	}
	tok, err := d.Tokens.Sign(u.ID, u.Username, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, tok)
	return nil
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
