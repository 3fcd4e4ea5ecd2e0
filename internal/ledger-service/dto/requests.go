package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type PlaceBetRequest struct {
	SelectionID  string           `json:"selection_id"`
	Stake        int64            `json:"stake"`
	ExpectedOdds *decimal.Decimal `json:"expected_odds,omitempty"` // odd que o cliente viu
}

type CreateUserRequest struct {
	Username       string `json:"username"`
	IsAdmin        bool   `json:"is_admin"`
	InitialBalance *int64 `json:"initial_balance,omitempty"` // vazio = DEFAULT_BALANCE
}

type AdjustBalanceRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type CreateTournamentRequest struct {
	Name          string `json:"name"`
	CompetitionID *int   `json:"competition_id,omitempty"`
}

type CreateEventRequest struct {
	TournamentID string     `json:"tournament_id,omitempty"`
	Title        string     `json:"title"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type SelectionRequest struct {
	Label string          `json:"label"`
	Odds  decimal.Decimal `json:"odds"`
}

type CreateMarketRequest struct {
	TournamentID string             `json:"tournament_id,omitempty"`
	EventID      string             `json:"event_id,omitempty"`
	Question     string             `json:"question"`
	MarketType   string             `json:"market_type"`
	Status       string             `json:"status,omitempty"`
	Selections   []SelectionRequest `json:"selections"`
}

type UpdateOddsRequest struct {
	Odds decimal.Decimal `json:"odds"`
}

type SettleRequest struct {
	WinningSelectionID string `json:"winning_selection_id"`
}
