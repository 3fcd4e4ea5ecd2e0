package dto

import (
	"encoding/json"
	"time"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/settlement"
)

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Balance   int64     `json:"balance"`
	IsAdmin   bool      `json:"is_admin"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func FromUser(u domain.User) User {
	return User{ID: u.ID, Username: u.Username, Balance: u.Balance, IsAdmin: u.IsAdmin, IsActive: u.IsActive, CreatedAt: u.CreatedAt}
}

type Tournament struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CompetitionID *int      `json:"competition_id,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

func FromTournament(t domain.Tournament) Tournament {
	return Tournament{ID: t.ID, Name: t.Name, CompetitionID: t.CompetitionID, Status: string(t.Status), CreatedAt: t.CreatedAt}
}

type Event struct {
	ID           string     `json:"id"`
	TournamentID string     `json:"tournament_id,omitempty"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func FromEvent(e domain.Event) Event {
	return Event{ID: e.ID, TournamentID: e.TournamentID, Title: e.Title, Status: string(e.Status), StartsAt: e.StartsAt, CreatedAt: e.CreatedAt}
}

// EventStatus é a resposta da mudança de status; Void só aparece no cancelamento
type EventStatus struct {
	Event
	Void *EventVoid `json:"void,omitempty"`
}

type EventVoid struct {
	MarketsVoided int   `json:"markets_voided"`
	BetsVoided    int   `json:"bets_voided"`
	CoinsRefunded int64 `json:"coins_refunded"`
	Complete      bool  `json:"complete"`
}

func FromEventStatus(e domain.Event, v domain.VoidTotals) EventStatus {
	out := EventStatus{Event: FromEvent(e)}
	if e.Status == domain.EventCancelled {
		out.Void = &EventVoid{MarketsVoided: v.Markets, BetsVoided: v.BetsVoided, CoinsRefunded: v.CoinsRefunded, Complete: v.Complete}
	}
	return out
}

type Selection struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Odds        string `json:"odds"`
	OddsVersion int    `json:"odds_version"`
	IsWinner    *bool  `json:"is_winner"`
}

func FromSelection(s domain.Selection) Selection {
	return Selection{ID: s.ID, Label: s.Label, Odds: domain.FormatOdds(s.Odds), OddsVersion: s.OddsVersion, IsWinner: s.IsWinner}
}

type Market struct {
	ID                 string      `json:"id"`
	TournamentID       string      `json:"tournament_id,omitempty"`
	EventID            string      `json:"event_id,omitempty"`
	Question           string      `json:"question"`
	MarketType         string      `json:"market_type"`
	Status             string      `json:"status"`
	PendingResolution  string      `json:"pending_resolution,omitempty"`
	WinningSelectionID string      `json:"winning_selection_id,omitempty"`
	Selections         []Selection `json:"selections"`
	CreatedAt          time.Time   `json:"created_at"`
}

func FromMarket(m domain.Market) Market {
	out := Market{
		ID: m.ID, TournamentID: m.Scope.TournamentID, EventID: m.Scope.EventID,
		Question: m.Question, MarketType: string(m.MarketType), Status: string(m.Status),
		WinningSelectionID: m.Resolution.WinnerID, CreatedAt: m.CreatedAt,
		Selections: make([]Selection, 0, len(m.Selections)),
	}
	if !m.Status.Terminal() {
		out.PendingResolution = string(m.Resolution.Kind)
	}
	for _, s := range m.Selections {
		out.Selections = append(out.Selections, FromSelection(s))
	}
	return out
}

type Bet struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	MarketID        string     `json:"market_id"`
	SelectionID     string     `json:"selection_id"`
	Stake           int64      `json:"stake"`
	OddsAtPlacement string     `json:"odds_at_placement"`
	OddsVersion     int        `json:"odds_version"`
	PotentialPayout int64      `json:"potential_payout"`
	Status          string     `json:"status"`
	PlacedAt        time.Time  `json:"placed_at"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
}

func FromBet(b domain.Bet) Bet {
	return Bet{
		ID: b.ID, UserID: b.UserID, MarketID: b.MarketID, SelectionID: b.SelectionID,
		Stake: b.Stake, OddsAtPlacement: domain.FormatOdds(b.OddsAtPlacement), OddsVersion: b.OddsVersion,
		PotentialPayout: b.PotentialPayout, Status: string(b.Status), PlacedAt: b.PlacedAt, SettledAt: b.SettledAt,
	}
}

type LedgerEntry struct {
	ID           int64     `json:"id"`
	Kind         string    `json:"kind"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	RefType      string    `json:"ref_type"`
	RefID        string    `json:"ref_id"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func FromLedgerEntry(e domain.LedgerEntry) LedgerEntry {
	return LedgerEntry{
		ID: e.ID, Kind: string(e.Kind), Amount: e.Amount, BalanceAfter: e.BalanceAfter,
		RefType: e.RefType, RefID: e.RefID, Reason: e.Reason, CreatedAt: e.CreatedAt,
	}
}

type FeedEvent struct {
	ID          int64           `json:"id"`
	Kind        string          `json:"kind"`
	UserID      string          `json:"user_id,omitempty"`
	MarketID    string          `json:"market_id,omitempty"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func FromFeedEvent(e domain.FeedEvent) FeedEvent {
	return FeedEvent{ID: e.ID, Kind: e.Kind, UserID: e.UserID, MarketID: e.MarketID, Description: e.Description, Payload: e.Payload, CreatedAt: e.CreatedAt}
}

type OddsSnapshot struct {
	Version     int       `json:"version"`
	Odds        string    `json:"odds"`
	EffectiveAt time.Time `json:"effective_at"`
}

type SelectionWithHistory struct {
	Selection
	History []OddsSnapshot `json:"history"`
}

type AdjustBalanceResponse struct {
	User  User        `json:"user"`
	Entry LedgerEntry `json:"entry"`
}

type SettlementSummary struct {
	MarketID           string `json:"market_id"`
	Resolution         string `json:"resolution"`
	WinningSelectionID string `json:"winning_selection_id,omitempty"`
	BetsProcessed      int    `json:"bets_processed"`
	WinnersPaid        int    `json:"winners_paid"`
	LosersMarked       int    `json:"losers_marked"`
	TotalCredited      int64  `json:"total_credited"`
	BetsVoided         int    `json:"bets_voided"`
	CoinsRefunded      int64  `json:"coins_refunded"`
	Failed             int    `json:"failed"`
	Remaining          int    `json:"remaining"`
	Complete           bool   `json:"complete"`
}

func FromSummary(s settlement.Summary) SettlementSummary {
	return SettlementSummary{
		MarketID: s.MarketID, Resolution: string(s.Resolution), WinningSelectionID: s.WinningSelectionID,
		BetsProcessed: s.BetsProcessed, WinnersPaid: s.WinnersPaid, LosersMarked: s.LosersMarked,
		TotalCredited: s.TotalCredited, BetsVoided: s.BetsVoided, CoinsRefunded: s.CoinsRefunded,
		Failed: s.Failed, Remaining: s.Remaining, Complete: s.Complete,
	}
}

type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	BetID     string    `json:"bet_id,omitempty"`
	MarketID  string    `json:"market_id,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func FromNotification(n domain.Notification) Notification {
	return Notification{
		ID: n.ID, Type: n.Type, Title: n.Title, Message: n.Message,
		BetID: n.BetID, MarketID: n.MarketID, IsRead: n.Read, CreatedAt: n.CreatedAt,
	}
}

// Map converte uma lista com a função dada
func Map[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}
