package projector

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
)

const (
	DefaultFeedLimit = 20
	MaxFeedLimit     = 100
)

// Projector calcula leaderboards, feed e estatísticas a partir do estado gravado.
// Nada aqui escreve no store.
type Projector struct {
	Store repo.Reader
	Cache Cache // opcional
	TTL   time.Duration
	Log   *zap.Logger
	Now   func() time.Time
}

func New(store repo.Reader, cache Cache, ttl time.Duration, log *zap.Logger) *Projector {
	return &Projector{Store: store, Cache: cache, TTL: ttl, Log: log, Now: time.Now}
}

type LeaderboardRow struct {
	Rank      int    `json:"rank"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Balance   int64  `json:"balance"`
	TotalBets int    `json:"total_bets"`
	WonBets   int    `json:"won_bets"`
}

// Leaderboard: usuários ativos e não-admin por saldo desc; empate pela conta mais antiga.
// Rank é a posição (1-based), então empates recebem ranks distintos.
func (p *Projector) Leaderboard(ctx context.Context) ([]LeaderboardRow, error) {
	var rows []LeaderboardRow
	if p.cached(ctx, keyGlobal(), &rows) {
		return rows, nil
	}

	users, err := p.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := p.Store.BetCountsByUser(ctx)
	if err != nil {
		return nil, err
	}

	ranked := eligible(users)
	slices.SortStableFunc(ranked, func(a, b domain.User) int {
		return cmp.Or(cmp.Compare(b.Balance, a.Balance), a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	rows = make([]LeaderboardRow, 0, len(ranked))
	for i, u := range ranked {
		c := counts[u.ID]
		rows = append(rows, LeaderboardRow{
			Rank: i + 1, UserID: u.ID, Username: u.Username, Balance: u.Balance,
			TotalBets: c.Total, WonBets: c.Won,
		})
	}
	p.store(ctx, keyGlobal(), rows)
	return rows, nil
}

type TournamentRow struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Profit   int64  `json:"profit"`
	Staked   int64  `json:"staked"`
	Won      int    `json:"won"`
	Lost     int    `json:"lost"`
}

// TournamentLeaderboard ordena por P&L realizado nos mercados do torneio e dos seus eventos.
// Apostas abertas e anuladas ficam de fora; quem não tem aposta liquidada é omitido.
func (p *Projector) TournamentLeaderboard(ctx context.Context, tournamentID string) ([]TournamentRow, error) {
	if _, err := p.Store.GetTournament(ctx, tournamentID); err != nil {
		return nil, err
	}
	var rows []TournamentRow
	if p.cached(ctx, keyTournament(tournamentID), &rows) {
		return rows, nil
	}

	bets, err := p.Store.ListBets(ctx, repo.BetFilter{TournamentID: tournamentID})
	if err != nil {
		return nil, err
	}
	users, err := p.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	agg := map[string]*TournamentRow{}
	for _, b := range bets {
		if b.Status != domain.BetWon && b.Status != domain.BetLost {
			continue
		}
		r, ok := agg[b.UserID]
		if !ok {
			r = &TournamentRow{UserID: b.UserID}
			agg[b.UserID] = r
		}
		r.Staked += b.Stake
		if b.Status == domain.BetWon {
			r.Won++
			r.Profit += b.PotentialPayout - b.Stake
		} else {
			r.Lost++
			r.Profit -= b.Stake
		}
	}

	ranked := eligible(users)
	byID := make(map[string]domain.User, len(ranked))
	for _, u := range ranked {
		byID[u.ID] = u
	}
	rows = make([]TournamentRow, 0, len(agg))
	for id, r := range agg {
		u, ok := byID[id]
		if !ok {
			continue
		}
		r.Username = u.Username
		rows = append(rows, *r)
	}
	slices.SortFunc(rows, func(a, b TournamentRow) int {
		ua, ub := byID[a.UserID], byID[b.UserID]
		return cmp.Or(cmp.Compare(b.Profit, a.Profit), ua.CreatedAt.Compare(ub.CreatedAt), cmp.Compare(a.UserID, b.UserID))
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	p.store(ctx, keyTournament(tournamentID), rows)
	return rows, nil
}

type FeedRequest struct {
	Limit    int
	Offset   int
	BeforeID int64
}

// Feed devolve eventos públicos do mais novo para o mais antigo
func (p *Projector) Feed(ctx context.Context, req FeedRequest) ([]domain.FeedEvent, error) {
	limit := req.Limit
	switch {
	case limit <= 0:
		limit = DefaultFeedLimit
	case limit > MaxFeedLimit:
		limit = MaxFeedLimit
	}
	return p.Store.ListFeed(ctx, repo.FeedQuery{Limit: limit, Offset: max(req.Offset, 0), BeforeID: req.BeforeID})
}

type DailyPoint struct {
	Date   string `json:"date"`
	Profit int64  `json:"profit"`
	Stake  int64  `json:"stake"`
}

type UserStats struct {
	TotalBets     int          `json:"total_bets"`
	OpenBets      int          `json:"open_bets"`
	WonBets       int          `json:"won_bets"`
	LostBets      int          `json:"lost_bets"`
	VoidedBets    int          `json:"voided_bets"`
	WinRate       float64      `json:"win_rate"`
	RecentWinRate float64      `json:"recent_win_rate"`
	TotalStaked   int64        `json:"total_staked"`
	TotalWon      int64        `json:"total_won"`
	TotalProfit   int64        `json:"total_profit"`
	ROI           float64      `json:"roi"`
	DailyChart    []DailyPoint `json:"daily_chart"`
}

// Stats: taxas sobre apostas liquidadas (won/lost); lucro realizado; gráfico dos últimos 30 dias
func (p *Projector) Stats(ctx context.Context, userID string) (UserStats, error) {
	if _, err := p.Store.GetUser(ctx, userID); err != nil {
		return UserStats{}, err
	}
	bets, err := p.Store.ListBets(ctx, repo.BetFilter{UserID: userID})
	if err != nil {
		return UserStats{}, err
	}

	since := p.Now().AddDate(0, 0, -30)
	var st UserStats
	var settledStake int64
	var recentWon, recentSettled int
	daily := map[string]*DailyPoint{}
	for _, b := range bets {
		st.TotalBets++
		var pnl int64
		switch b.Status {
		case domain.BetOpen:
			st.OpenBets++
		case domain.BetWon:
			st.WonBets++
			st.TotalWon += b.PotentialPayout
			pnl = b.PotentialPayout - b.Stake
		case domain.BetLost:
			st.LostBets++
			pnl = -b.Stake
		case domain.BetVoided:
			st.VoidedBets++
		}
		if b.Status != domain.BetVoided {
			st.TotalStaked += b.Stake
		}
		settled := b.Status == domain.BetWon || b.Status == domain.BetLost
		if settled {
			settledStake += b.Stake
			st.TotalProfit += pnl
		}

		if b.PlacedAt.Before(since) {
			continue
		}
		if settled {
			recentSettled++
			if b.Status == domain.BetWon {
				recentWon++
			}
		}
		day := b.PlacedAt.UTC().Format(time.DateOnly)
		d, ok := daily[day]
		if !ok {
			d = &DailyPoint{Date: day}
			daily[day] = d
		}
		d.Stake += b.Stake
		d.Profit += pnl
	}

	st.WinRate = pct(st.WonBets, st.WonBets+st.LostBets)
	st.RecentWinRate = pct(recentWon, recentSettled)
	if settledStake > 0 {
		st.ROI = round1(float64(st.TotalProfit) / float64(settledStake) * 100)
	}
	st.DailyChart = make([]DailyPoint, 0, len(daily))
	for _, d := range daily {
		st.DailyChart = append(st.DailyChart, *d)
	}
	slices.SortFunc(st.DailyChart, func(a, b DailyPoint) int { return cmp.Compare(a.Date, b.Date) })
	return st, nil
}

type Streak struct {
	Current      int `json:"current_streak"`
	Best         int `json:"best_streak"`
	TotalSettled int `json:"total_settled"`
}

// Streak conta vitórias seguidas sobre apostas won/lost na ordem de liquidação
func (p *Projector) Streak(ctx context.Context, userID string) (Streak, error) {
	if _, err := p.Store.GetUser(ctx, userID); err != nil {
		return Streak{}, err
	}
	bets, err := p.Store.ListBets(ctx, repo.BetFilter{UserID: userID})
	if err != nil {
		return Streak{}, err
	}
	settled := slices.DeleteFunc(bets, func(b domain.Bet) bool {
		return (b.Status != domain.BetWon && b.Status != domain.BetLost) || b.SettledAt == nil
	})
	// mais antiga primeiro
	slices.SortStableFunc(settled, func(a, b domain.Bet) int {
		return cmp.Or(a.SettledAt.Compare(*b.SettledAt), cmp.Compare(a.ID, b.ID))
	})

	var s Streak
	s.TotalSettled = len(settled)
	run := 0
	for _, b := range settled {
		if b.Status == domain.BetWon {
			run++
			s.Best = max(s.Best, run)
		} else {
			run = 0
		}
	}
	s.Current = run
	return s, nil
}

func eligible(users []domain.User) []domain.User {
	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		if u.IsActive && !u.IsAdmin {
			out = append(out, u)
		}
	}
	return out
}

func pct(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return round1(float64(n) / float64(d) * 100)
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }

func (p *Projector) cached(ctx context.Context, key string, dst any) bool {
	if p.Cache == nil || p.TTL <= 0 {
		return false
	}
	ok, err := p.Cache.Get(ctx, key, dst)
	if err != nil {
		p.Log.Warn("leaderboard cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (p *Projector) store(ctx context.Context, key string, v any) {
	if p.Cache == nil || p.TTL <= 0 {
		return
	}
	if err := p.Cache.Set(ctx, key, v, p.TTL); err != nil {
		p.Log.Warn("leaderboard cache set failed", zap.String("key", key), zap.Error(err))
	}
}
