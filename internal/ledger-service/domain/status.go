package domain

import "slices"

type MarketStatus string

const (
	MarketComingSoon MarketStatus = "coming_soon"
	MarketOpen       MarketStatus = "open"
	MarketLocked     MarketStatus = "locked"
	MarketSettled    MarketStatus = "settled"
	MarketVoided     MarketStatus = "voided"
)

func (s MarketStatus) Valid() bool {
	switch s {
	case MarketComingSoon, MarketOpen, MarketLocked, MarketSettled, MarketVoided:
		return true
	}
	return false
}

// Terminal: settled e voided são absorventes
func (s MarketStatus) Terminal() bool { return s == MarketSettled || s == MarketVoided }

// transições genéricas; settled/voided só via liquidação
var marketTransitions = map[MarketStatus][]MarketStatus{
	MarketComingSoon: {MarketOpen},
	MarketOpen:       {MarketLocked},
	MarketLocked:     {MarketOpen},
}

// CheckMarketTransition valida uma transição genérica de status
func CheckMarketTransition(from, to MarketStatus) error {
	if !to.Valid() {
		return Errorf(ErrInvalidStatus, "%q", to)
	}
	if to.Terminal() {
		return Errorf(ErrRequiresSettlement, "use settle/void to move %s -> %s", from, to)
	}
	if !slices.Contains(marketTransitions[from], to) {
		return Errorf(ErrInvalidTransition, "cannot transition from %q to %q (allowed: %v)", from, to, marketTransitions[from])
	}
	return nil
}

// InitialMarketStatus: status aceitos na criação
func InitialMarketStatus(s MarketStatus) bool {
	return s == MarketComingSoon || s == MarketOpen || s == MarketLocked
}

type MarketType string

var marketTypes = []MarketType{
	"match_result", "match_winner", "player_prop", "tournament", "special",
	"over_under", "both_teams_score", "first_scorer", "custom",
}

func (t MarketType) Valid() bool { return slices.Contains(marketTypes, t) }

type BetStatus string

const (
	BetOpen   BetStatus = "open"
	BetWon    BetStatus = "won"
	BetLost   BetStatus = "lost"
	BetVoided BetStatus = "voided"
)

func (s BetStatus) Valid() bool {
	switch s {
	case BetOpen, BetWon, BetLost, BetVoided:
		return true
	}
	return false
}

func (s BetStatus) Terminal() bool { return s == BetWon || s == BetLost || s == BetVoided }

type TournamentStatus string

const (
	TournamentUpcoming  TournamentStatus = "upcoming"
	TournamentActive    TournamentStatus = "active"
	TournamentCompleted TournamentStatus = "completed"
)

var tournamentTransitions = map[TournamentStatus][]TournamentStatus{
	TournamentUpcoming: {TournamentActive},
	TournamentActive:   {TournamentCompleted},
}

func CheckTournamentTransition(from, to TournamentStatus) error {
	switch to {
	case TournamentUpcoming, TournamentActive, TournamentCompleted:
	default:
		return Errorf(ErrInvalidStatus, "%q", to)
	}
	if !slices.Contains(tournamentTransitions[from], to) {
		return Errorf(ErrInvalidTransition, "cannot transition tournament from %q to %q", from, to)
	}
	return nil
}

type EventStatus string

const (
	EventUpcoming  EventStatus = "upcoming"
	EventLive      EventStatus = "live"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

var eventTransitions = map[EventStatus][]EventStatus{
	EventUpcoming: {EventLive, EventCancelled},
	EventLive:     {EventCompleted, EventCancelled},
}

func CheckEventTransition(from, to EventStatus) error {
	switch to {
	case EventUpcoming, EventLive, EventCompleted, EventCancelled:
	default:
		return Errorf(ErrInvalidStatus, "%q", to)
	}
	if !slices.Contains(eventTransitions[from], to) {
		return Errorf(ErrInvalidTransition, "cannot transition event from %q to %q", from, to)
	}
	return nil
}
