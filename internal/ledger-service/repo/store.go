package repo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
)

// Store é a porta de persistência do ledger.
// Implementações: Postgres (lib/pq) e Memory (testes / STORE_DRIVER=memory).
type Store interface {
	Reader
	Outbox

	// InTx executa fn numa transação; erro de fn (ou panic) faz rollback.
	// Locks obtidos via Tx são mantidos até o commit/rollback.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// Reader são leituras sem lock do estado já commitado
type Reader interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetTournament(ctx context.Context, id string) (domain.Tournament, error)
	ListTournaments(ctx context.Context) ([]domain.Tournament, error)
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	ListEvents(ctx context.Context, tournamentID string) ([]domain.Event, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, f MarketFilter) ([]domain.Market, error)
	GetSelection(ctx context.Context, id string) (domain.Selection, error)
	OddsHistory(ctx context.Context, selectionID string) ([]domain.OddsSnapshot, error)
	ListBets(ctx context.Context, f BetFilter) ([]domain.Bet, error)
	BetCountsByUser(ctx context.Context) (map[string]BetCounts, error)
	// OpenBetIDs pagina por keyset (id > afterID, ordem crescente)
	OpenBetIDs(ctx context.Context, marketID, afterID string, limit int) ([]string, error)
	ListLedger(ctx context.Context, userID string) ([]domain.LedgerEntry, error)
	ListFeed(ctx context.Context, q FeedQuery) ([]domain.FeedEvent, error)
	// ListNotifications devolve a caixa de entrada do usuário, mais recentes primeiro
	ListNotifications(ctx context.Context, q NotificationQuery) ([]domain.Notification, error)
}

// Outbox expõe os eventos ainda não publicados no Kafka
type Outbox interface {
	ListUnpublished(ctx context.Context, limit int) ([]domain.FeedEvent, error)
	MarkPublished(ctx context.Context, ids []int64, at time.Time) error
}

// Tx é a unidade de serialização. Ordem global de lock: market -> bet -> user.
// Nenhuma implementação promove lock compartilhado a exclusivo.
type Tx interface {
	LockUser(ctx context.Context, id string) (domain.User, error)
	LockMarket(ctx context.Context, id string) (domain.Market, error)
	ShareMarket(ctx context.Context, id string) (domain.Market, error)
	LockBet(ctx context.Context, id string) (domain.Bet, error)
	LockTournament(ctx context.Context, id string) (domain.Tournament, error)
	LockEvent(ctx context.Context, id string) (domain.Event, error)

	GetSelection(ctx context.Context, id string) (domain.Selection, error)
	CountBetsOnSelection(ctx context.Context, selectionID string) (int, error)
	MarketBets(ctx context.Context, marketID string) ([]domain.Bet, error)
	SumLedger(ctx context.Context, userID string) (int64, error)

	InsertUser(ctx context.Context, u domain.User) error
	SetUserBalance(ctx context.Context, id string, balance int64) error
	SetUserActive(ctx context.Context, id string, active bool) error
	// AppendLedger atribui ID (sequência de commit) e devolve a entrada gravada
	AppendLedger(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error)

	InsertBet(ctx context.Context, b domain.Bet) error
	SetBetStatus(ctx context.Context, id string, status domain.BetStatus, settledAt time.Time) error

	InsertTournament(ctx context.Context, t domain.Tournament) error
	SetTournamentStatus(ctx context.Context, id string, status domain.TournamentStatus) error
	InsertEvent(ctx context.Context, e domain.Event) error
	SetEventStatus(ctx context.Context, id string, status domain.EventStatus) error

	// InsertMarket grava mercado, seleções e o snapshot inicial das odds
	InsertMarket(ctx context.Context, m domain.Market) error
	SetMarketStatus(ctx context.Context, id string, status domain.MarketStatus) error
	SetMarketResolution(ctx context.Context, id string, r domain.Resolution) error
	SetSelectionWinners(ctx context.Context, marketID, winnerID string) error
	UpdateSelectionOdds(ctx context.Context, selectionID string, odds decimal.Decimal, version int, at time.Time) error

	AppendFeed(ctx context.Context, e domain.FeedEvent) (domain.FeedEvent, error)

	InsertNotification(ctx context.Context, n domain.Notification) error
	// MarkNotificationRead só enxerga notificações do próprio usuário (ErrNotFound caso contrário)
	MarkNotificationRead(ctx context.Context, userID, id string) (domain.Notification, error)
}

type MarketFilter struct {
	TournamentID string
	EventID      string
	Status       domain.MarketStatus
	// PendingOnly: mercados locked com resolução registrada
	PendingOnly bool
}

type BetFilter struct {
	UserID   string
	MarketID string
	Status   domain.BetStatus
	// TournamentID inclui mercados do torneio e dos seus eventos
	TournamentID string
	Limit        int
}

type BetCounts struct {
	Total int
	Won   int
}

type NotificationQuery struct {
	UserID     string
	UnreadOnly bool
	Limit      int
}

type FeedQuery struct {
	Limit    int
	Offset   int
	BeforeID int64 // 0 = sem cursor
}
