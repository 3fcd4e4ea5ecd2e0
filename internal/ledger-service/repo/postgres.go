package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
)

// Postgres implementa o Store sobre database/sql + lib/pq.
// Locks: SELECT ... FOR UPDATE / FOR SHARE dentro de BeginTx.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// InTx abre a transação, chama fn e faz commit; qualquer erro faz rollback
func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapPQ(err)
	}
	return nil
}

// mapPQ traduz violações de constraint em erros de domínio
func mapPQ(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23505": // unique_violation
		return domain.Errorf(domain.ErrDuplicate, "%s", pqErr.Constraint)
	case "23514": // check_violation
		if strings.Contains(pqErr.Constraint, "balance") {
			return domain.Errorf(domain.ErrInsufficientBalance, "%s", pqErr.Constraint)
		}
		return domain.Errorf(domain.ErrValidation, "%s", pqErr.Constraint)
	case "23503": // foreign_key_violation
		return domain.Errorf(domain.ErrNotFound, "%s", pqErr.Constraint)
	}
	return err
}

func notFound(err error, sentinel *domain.Error, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Errorf(sentinel, "%s", id)
	}
	return err
}

// queryer é satisfeito por *sql.DB e *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface{ Scan(dest ...any) error }

const userCols = `id, username, balance, is_admin, is_active, created_at`

func scanUser(s scanner) (domain.User, error) {
	var u domain.User
	err := s.Scan(&u.ID, &u.Username, &u.Balance, &u.IsAdmin, &u.IsActive, &u.CreatedAt)
	return u, err
}

const tournamentCols = `id, name, competition_id, status, created_at`

func scanTournament(s scanner) (domain.Tournament, error) {
	var t domain.Tournament
	var comp sql.NullInt64
	if err := s.Scan(&t.ID, &t.Name, &comp, &t.Status, &t.CreatedAt); err != nil {
		return t, err
	}
	if comp.Valid {
		c := int(comp.Int64)
		t.CompetitionID = &c
	}
	return t, nil
}

const eventCols = `id, tournament_id, title, status, starts_at, created_at`

func scanEvent(s scanner) (domain.Event, error) {
	var e domain.Event
	var tid sql.NullString
	var starts sql.NullTime
	if err := s.Scan(&e.ID, &tid, &e.Title, &e.Status, &starts, &e.CreatedAt); err != nil {
		return e, err
	}
	e.TournamentID = tid.String
	if starts.Valid {
		e.StartsAt = &starts.Time
	}
	return e, nil
}

const marketCols = `id, tournament_id, event_id, question, market_type, status, resolution, winning_selection_id, created_at`

func scanMarket(s scanner) (domain.Market, error) {
	var m domain.Market
	var tid, eid, res, win sql.NullString
	if err := s.Scan(&m.ID, &tid, &eid, &m.Question, &m.MarketType, &m.Status, &res, &win, &m.CreatedAt); err != nil {
		return m, err
	}
	m.Scope = domain.Scope{TournamentID: tid.String, EventID: eid.String}
	m.Resolution = domain.Resolution{Kind: domain.ResolutionKind(res.String), WinnerID: win.String}
	return m, nil
}

const selectionCols = `id, market_id, position, label, odds, odds_version, is_winner`

func scanSelection(s scanner) (domain.Selection, error) {
	var sel domain.Selection
	var win sql.NullBool
	if err := s.Scan(&sel.ID, &sel.MarketID, &sel.Position, &sel.Label, &sel.Odds, &sel.OddsVersion, &win); err != nil {
		return sel, err
	}
	if win.Valid {
		w := win.Bool
		sel.IsWinner = &w
	}
	return sel, nil
}

const betCols = `id, user_id, selection_id, market_id, stake, odds_at_placement, odds_version, potential_payout, status, placed_at, settled_at`

func scanBet(s scanner) (domain.Bet, error) {
	var b domain.Bet
	var settled sql.NullTime
	if err := s.Scan(&b.ID, &b.UserID, &b.SelectionID, &b.MarketID, &b.Stake, &b.OddsAtPlacement,
		&b.OddsVersion, &b.PotentialPayout, &b.Status, &b.PlacedAt, &settled); err != nil {
		return b, err
	}
	if settled.Valid {
		b.SettledAt = &settled.Time
	}
	return b, nil
}

const ledgerCols = `id, user_id, kind, amount, balance_after, ref_type, ref_id, reason, created_at`

func scanLedger(s scanner) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := s.Scan(&e.ID, &e.UserID, &e.Kind, &e.Amount, &e.BalanceAfter, &e.RefType, &e.RefID, &e.Reason, &e.CreatedAt)
	return e, err
}

const feedCols = `id, kind, public, user_id, market_id, description, payload, created_at, published_at`

func scanFeed(s scanner) (domain.FeedEvent, error) {
	var e domain.FeedEvent
	var uid, mid sql.NullString
	var payload []byte
	var pub sql.NullTime
	if err := s.Scan(&e.ID, &e.Kind, &e.Public, &uid, &mid, &e.Description, &payload, &e.CreatedAt, &pub); err != nil {
		return e, err
	}
	e.UserID, e.MarketID = uid.String, mid.String
	e.Payload = payload
	if pub.Valid {
		e.PublishedAt = &pub.Time
	}
	return e, nil
}

const notificationCols = `id, user_id, type, title, message, bet_id, market_id, is_read, created_at`

func scanNotification(s scanner) (domain.Notification, error) {
	var n domain.Notification
	var bid, mid sql.NullString
	if err := s.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &bid, &mid, &n.Read, &n.CreatedAt); err != nil {
		return n, err
	}
	n.BetID, n.MarketID = bid.String, mid.String
	return n, nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func loadSelections(ctx context.Context, q queryer, marketID string) ([]domain.Selection, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+selectionCols+` FROM selections WHERE market_id=$1 ORDER BY position, id`, marketID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSelection)
}

func getMarket(ctx context.Context, q queryer, id, suffix string) (domain.Market, error) {
	m, err := scanMarket(q.QueryRowContext(ctx, `SELECT `+marketCols+` FROM markets WHERE id=$1`+suffix, id))
	if err != nil {
		return m, notFound(err, domain.ErrMarketNotFound, id)
	}
	if m.Selections, err = loadSelections(ctx, q, id); err != nil {
		return m, err
	}
	return m, nil
}

// pgTx implementa Tx

type pgTx struct{ tx *sql.Tx }

func (t *pgTx) LockUser(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(t.tx.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return u, notFound(err, domain.ErrUserNotFound, id)
	}
	return u, nil
}

func (t *pgTx) LockMarket(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(ctx, t.tx, id, ` FOR UPDATE`)
}

func (t *pgTx) ShareMarket(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(ctx, t.tx, id, ` FOR SHARE`)
}

func (t *pgTx) LockBet(ctx context.Context, id string) (domain.Bet, error) {
	b, err := scanBet(t.tx.QueryRowContext(ctx, `SELECT `+betCols+` FROM bets WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return b, notFound(err, domain.ErrBetNotFound, id)
	}
	return b, nil
}

func (t *pgTx) LockTournament(ctx context.Context, id string) (domain.Tournament, error) {
	v, err := scanTournament(t.tx.QueryRowContext(ctx, `SELECT `+tournamentCols+` FROM tournaments WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return v, notFound(err, domain.ErrTournamentNotFound, id)
	}
	return v, nil
}

func (t *pgTx) LockEvent(ctx context.Context, id string) (domain.Event, error) {
	v, err := scanEvent(t.tx.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return v, notFound(err, domain.ErrEventNotFound, id)
	}
	return v, nil
}

func (t *pgTx) GetSelection(ctx context.Context, id string) (domain.Selection, error) {
	s, err := scanSelection(t.tx.QueryRowContext(ctx, `SELECT `+selectionCols+` FROM selections WHERE id=$1`, id))
	if err != nil {
		return s, notFound(err, domain.ErrSelectionNotFound, id)
	}
	return s, nil
}

func (t *pgTx) CountBetsOnSelection(ctx context.Context, selectionID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bets WHERE selection_id=$1`, selectionID).Scan(&n)
	return n, err
}

func (t *pgTx) MarketBets(ctx context.Context, marketID string) ([]domain.Bet, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+betCols+` FROM bets WHERE market_id=$1 ORDER BY id`, marketID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBet)
}

func (t *pgTx) SumLedger(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM ledger_entries WHERE user_id=$1`, userID).Scan(&sum)
	return sum, err
}

func (t *pgTx) InsertUser(ctx context.Context, u domain.User) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO users(id, username, balance, is_admin, is_active, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Username, u.Balance, u.IsAdmin, u.IsActive, u.CreatedAt)
	return mapPQ(err)
}

func (t *pgTx) SetUserBalance(ctx context.Context, id string, balance int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE users SET balance=$1 WHERE id=$2`, balance, id)
	return mapPQ(err)
}

func (t *pgTx) SetUserActive(ctx context.Context, id string, active bool) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE users SET is_active=$1 WHERE id=$2`, active, id)
	return err
}

func (t *pgTx) AppendLedger(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO ledger_entries(user_id, kind, amount, balance_after, ref_type, ref_id, reason, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		e.UserID, e.Kind, e.Amount, e.BalanceAfter, e.RefType, e.RefID, e.Reason, e.CreatedAt).Scan(&e.ID)
	return e, mapPQ(err)
}

func (t *pgTx) InsertBet(ctx context.Context, b domain.Bet) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO bets(id, user_id, selection_id, market_id, stake, odds_at_placement, odds_version, potential_payout, status, placed_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		b.ID, b.UserID, b.SelectionID, b.MarketID, b.Stake, b.OddsAtPlacement, b.OddsVersion, b.PotentialPayout, b.Status, b.PlacedAt)
	return mapPQ(err)
}

func (t *pgTx) SetBetStatus(ctx context.Context, id string, status domain.BetStatus, settledAt time.Time) error {
	var at any
	if status.Terminal() {
		at = settledAt
	}
	_, err := t.tx.ExecContext(ctx, `UPDATE bets SET status=$1, settled_at=$2 WHERE id=$3`, status, at, id)
	return err
}

func (t *pgTx) InsertTournament(ctx context.Context, v domain.Tournament) error {
	var comp any
	if v.CompetitionID != nil {
		comp = *v.CompetitionID
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO tournaments(id, name, competition_id, status, created_at) VALUES($1,$2,$3,$4,$5)`,
		v.ID, v.Name, comp, v.Status, v.CreatedAt)
	return mapPQ(err)
}

func (t *pgTx) SetTournamentStatus(ctx context.Context, id string, status domain.TournamentStatus) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE tournaments SET status=$1 WHERE id=$2`, status, id)
	return err
}

func (t *pgTx) InsertEvent(ctx context.Context, v domain.Event) error {
	var starts any
	if v.StartsAt != nil {
		starts = *v.StartsAt
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO events(id, tournament_id, title, status, starts_at, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		v.ID, nullString(v.TournamentID), v.Title, v.Status, starts, v.CreatedAt)
	return mapPQ(err)
}

func (t *pgTx) SetEventStatus(ctx context.Context, id string, status domain.EventStatus) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE events SET status=$1 WHERE id=$2`, status, id)
	return err
}

func (t *pgTx) InsertMarket(ctx context.Context, m domain.Market) error {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO markets(id, tournament_id, event_id, question, market_type, status, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$7)`,
		m.ID, nullString(m.Scope.TournamentID), nullString(m.Scope.EventID), m.Question, m.MarketType, m.Status, m.CreatedAt); err != nil {
		return mapPQ(err)
	}
	for _, s := range m.Selections {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO selections(id, market_id, position, label, odds, odds_version) VALUES($1,$2,$3,$4,$5,$6)`,
			s.ID, m.ID, s.Position, s.Label, s.Odds, s.OddsVersion); err != nil {
			return mapPQ(err)
		}
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO selection_odds_history(selection_id, version, odds, effective_at) VALUES($1,$2,$3,$4)`,
			s.ID, s.OddsVersion, s.Odds, m.CreatedAt); err != nil {
			return mapPQ(err)
		}
	}
	return nil
}

func (t *pgTx) SetMarketStatus(ctx context.Context, id string, status domain.MarketStatus) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE markets SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	return err
}

func (t *pgTx) SetMarketResolution(ctx context.Context, id string, r domain.Resolution) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE markets SET resolution=$1, winning_selection_id=$2, updated_at=NOW() WHERE id=$3`,
		nullString(string(r.Kind)), nullString(r.WinnerID), id)
	return err
}

func (t *pgTx) SetSelectionWinners(ctx context.Context, marketID, winnerID string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE selections SET is_winner = (id = $1) WHERE market_id=$2`, winnerID, marketID)
	return err
}

func (t *pgTx) UpdateSelectionOdds(ctx context.Context, selectionID string, odds decimal.Decimal, version int, at time.Time) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE selections SET odds=$1, odds_version=$2 WHERE id=$3`, odds, version, selectionID); err != nil {
		return mapPQ(err)
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO selection_odds_history(selection_id, version, odds, effective_at) VALUES($1,$2,$3,$4)`,
		selectionID, version, odds, at)
	return mapPQ(err)
}

func (t *pgTx) AppendFeed(ctx context.Context, e domain.FeedEvent) (domain.FeedEvent, error) {
	var payload any
	if len(e.Payload) > 0 {
		payload = []byte(e.Payload)
	}
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO feed_events(kind, public, user_id, market_id, description, payload, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		e.Kind, e.Public, nullString(e.UserID), nullString(e.MarketID), e.Description, payload, e.CreatedAt).Scan(&e.ID)
	return e, err
}

func (t *pgTx) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO notifications(id, user_id, type, title, message, bet_id, market_id, is_read, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, nullString(n.BetID), nullString(n.MarketID), n.Read, n.CreatedAt)
	return mapPQ(err)
}

func (t *pgTx) MarkNotificationRead(ctx context.Context, userID, id string) (domain.Notification, error) {
	n, err := scanNotification(t.tx.QueryRowContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id::text=$1 AND user_id=$2 RETURNING `+notificationCols, id, userID))
	if err != nil {
		return n, notFound(err, domain.ErrNotFound, "notification "+id)
	}
	return n, nil
}

// Reader

func (p *Postgres) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
	if err != nil {
		return u, notFound(err, domain.ErrUserNotFound, id)
	}
	return u, nil
}

func (p *Postgres) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+userCols+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanUser)
}

func (p *Postgres) GetTournament(ctx context.Context, id string) (domain.Tournament, error) {
	v, err := scanTournament(p.db.QueryRowContext(ctx, `SELECT `+tournamentCols+` FROM tournaments WHERE id=$1`, id))
	if err != nil {
		return v, notFound(err, domain.ErrTournamentNotFound, id)
	}
	return v, nil
}

func (p *Postgres) ListTournaments(ctx context.Context) ([]domain.Tournament, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+tournamentCols+` FROM tournaments ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTournament)
}

func (p *Postgres) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	v, err := scanEvent(p.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id=$1`, id))
	if err != nil {
		return v, notFound(err, domain.ErrEventNotFound, id)
	}
	return v, nil
}

func (p *Postgres) ListEvents(ctx context.Context, tournamentID string) ([]domain.Event, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE ($1 = '' OR tournament_id::text = $1) ORDER BY created_at, id`, tournamentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEvent)
}

func (p *Postgres) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(ctx, p.db, id, "")
}

func (p *Postgres) ListMarkets(ctx context.Context, f MarketFilter) ([]domain.Market, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.TournamentID != "" {
		add("tournament_id::text = $%d", f.TournamentID)
	}
	if f.EventID != "" {
		add("event_id::text = $%d", f.EventID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.PendingOnly {
		where = append(where, "status = 'locked' AND resolution IS NOT NULL")
	}
	q := `SELECT ` + marketCols + ` FROM markets`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	out, err := collect(rows, scanMarket)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Selections, err = loadSelections(ctx, p.db, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Postgres) GetSelection(ctx context.Context, id string) (domain.Selection, error) {
	s, err := scanSelection(p.db.QueryRowContext(ctx, `SELECT `+selectionCols+` FROM selections WHERE id=$1`, id))
	if err != nil {
		return s, notFound(err, domain.ErrSelectionNotFound, id)
	}
	return s, nil
}

func (p *Postgres) OddsHistory(ctx context.Context, selectionID string) ([]domain.OddsSnapshot, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT selection_id, version, odds, effective_at FROM selection_odds_history WHERE selection_id=$1 ORDER BY version`, selectionID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(s scanner) (domain.OddsSnapshot, error) {
		var o domain.OddsSnapshot
		err := s.Scan(&o.SelectionID, &o.Version, &o.Odds, &o.EffectiveAt)
		return o, err
	})
}

func (p *Postgres) ListBets(ctx context.Context, f BetFilter) ([]domain.Bet, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "$?", fmt.Sprintf("$%d", len(args))))
	}
	if f.UserID != "" {
		add("b.user_id::text = $?", f.UserID)
	}
	if f.MarketID != "" {
		add("b.market_id::text = $?", f.MarketID)
	}
	if f.Status != "" {
		add("b.status = $?", string(f.Status))
	}
	if f.TournamentID != "" {
		add("(m.tournament_id::text = $? OR e.tournament_id::text = $?)", f.TournamentID)
	}
	q := `SELECT b.` + strings.ReplaceAll(betCols, ", ", ", b.") + `
		FROM bets b
		JOIN markets m ON m.id = b.market_id
		LEFT JOIN events e ON e.id = m.event_id`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY b.placed_at DESC, b.id DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBet)
}

func (p *Postgres) BetCountsByUser(ctx context.Context) (map[string]BetCounts, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT user_id, COUNT(*), COUNT(*) FILTER (WHERE status = 'won') FROM bets GROUP BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]BetCounts{}
	for rows.Next() {
		var id string
		var c BetCounts
		if err := rows.Scan(&id, &c.Total, &c.Won); err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, rows.Err()
}

func (p *Postgres) OpenBetIDs(ctx context.Context, marketID, afterID string, limit int) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id::text FROM bets
		 WHERE market_id=$1 AND status='open' AND id::text > $2
		 ORDER BY id::text LIMIT $3`, marketID, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(s scanner) (string, error) {
		var id string
		err := s.Scan(&id)
		return id, err
	})
}

func (p *Postgres) ListLedger(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+ledgerCols+` FROM ledger_entries WHERE user_id=$1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLedger)
}

func (p *Postgres) ListFeed(ctx context.Context, q FeedQuery) ([]domain.FeedEvent, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+feedCols+` FROM feed_events
		 WHERE public AND ($1::bigint = 0 OR id < $1::bigint)
		 ORDER BY id DESC LIMIT $2 OFFSET $3`, q.BeforeID, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanFeed)
}

func (p *Postgres) ListNotifications(ctx context.Context, q NotificationQuery) ([]domain.Notification, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+notificationCols+` FROM notifications
		 WHERE user_id=$1 AND (NOT $2 OR NOT is_read)
		 ORDER BY created_at DESC, id DESC LIMIT NULLIF($3, 0)`, q.UserID, q.UnreadOnly, q.Limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanNotification)
}

func (p *Postgres) ListUnpublished(ctx context.Context, limit int) ([]domain.FeedEvent, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+feedCols+` FROM feed_events WHERE published_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanFeed)
}

func (p *Postgres) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE feed_events SET published_at=$1 WHERE id = ANY($2) AND published_at IS NULL`, at, pq.Array(ids))
	return err
}
