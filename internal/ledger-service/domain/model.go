package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// User é o dono do saldo. Balance é cache da soma do ledger.
type User struct {
	ID        string
	Username  string
	Balance   int64
	IsAdmin   bool
	IsActive  bool
	CreatedAt time.Time
}

type Tournament struct {
	ID            string
	Name          string
	CompetitionID *int
	Status        TournamentStatus
	CreatedAt     time.Time
}

type Event struct {
	ID           string
	TournamentID string // vazio = evento avulso
	Title        string
	Status       EventStatus
	StartsAt     *time.Time
	CreatedAt    time.Time
}

// VoidTotals soma as anulações em cascata de um evento cancelado
type VoidTotals struct {
	Markets       int
	BetsVoided    int
	CoinsRefunded int64
	Complete      bool
}

// Scope aponta o dono do mercado: exatamente um dos dois
type Scope struct {
	TournamentID string
	EventID      string
}

func (s Scope) Valid() bool { return (s.TournamentID == "") != (s.EventID == "") }

// Resolution registra a decisão de liquidação em andamento.
// Gravada antes de processar as apostas para que a retomada use a mesma decisão.
type Resolution struct {
	Kind     ResolutionKind
	WinnerID string // só para settle
}

type ResolutionKind string

const (
	ResolutionNone   ResolutionKind = ""
	ResolutionSettle ResolutionKind = "settle"
	ResolutionVoid   ResolutionKind = "void"
)

type Market struct {
	ID         string
	Scope      Scope
	Question   string
	MarketType MarketType
	Status     MarketStatus
	Resolution Resolution
	Selections []Selection // ordenadas por Position
	CreatedAt  time.Time
}

// Selection retorna a seleção do mercado pelo id
func (m Market) Selection(id string) (Selection, bool) {
	for _, s := range m.Selections {
		if s.ID == id {
			return s, true
		}
	}
	return Selection{}, false
}

type Selection struct {
	ID          string
	MarketID    string
	Position    int
	Label       string
	Odds        decimal.Decimal
	OddsVersion int
	IsWinner    *bool // nil = ainda não liquidado
}

// OddsSnapshot é uma versão imutável das odds de uma seleção
type OddsSnapshot struct {
	SelectionID string
	Version     int
	Odds        decimal.Decimal
	EffectiveAt time.Time
}

type Bet struct {
	ID              string
	UserID          string
	SelectionID     string
	MarketID        string
	Stake           int64
	OddsAtPlacement decimal.Decimal
	OddsVersion     int
	PotentialPayout int64
	Status          BetStatus
	PlacedAt        time.Time
	SettledAt       *time.Time
}

type LedgerKind string

const (
	LedgerBetDebit        LedgerKind = "bet_debit"
	LedgerWinCredit       LedgerKind = "win_credit"
	LedgerVoidRefund      LedgerKind = "void_refund"
	LedgerAdminAdjustment LedgerKind = "admin_adjustment"
)

const (
	RefBet    = "bet"
	RefAdmin  = "admin"
	RefSignup = "signup"
)

// LedgerEntry é append-only; o saldo é a soma de Amount por usuário
type LedgerEntry struct {
	ID           int64
	UserID       string
	Kind         LedgerKind
	Amount       int64
	BalanceAfter int64
	RefType      string
	RefID        string
	Reason       string
	CreatedAt    time.Time
}

// FeedEvent alimenta o feed público e o outbox (Kafka)
type FeedEvent struct {
	ID          int64
	Kind        string
	Public      bool
	UserID      string
	MarketID    string
	Description string
	Payload     json.RawMessage
	CreatedAt   time.Time
	PublishedAt *time.Time
}
