package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// NewFeedEvent monta um evento do feed/outbox com payload JSON
func NewFeedEvent(kind string, public bool, userID, marketID, description string, payload any, at time.Time) FeedEvent {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return FeedEvent{
		Kind:        kind,
		Public:      public,
		UserID:      userID,
		MarketID:    marketID,
		Description: description,
		Payload:     raw,
		CreatedAt:   at,
	}
}

// Notification é a mensagem privada da caixa de entrada do usuário
type Notification struct {
	ID        string
	UserID    string
	Type      string // bet_won | bet_lost | bet_voided
	Title     string
	Message   string
	BetID     string
	MarketID  string
	Read      bool
	CreatedAt time.Time
}

// BetNotificationText monta tipo, título e texto do aviso de aposta resolvida
func BetNotificationText(status BetStatus, stake, credited int64) (typ, title, message string, ok bool) {
	switch status {
	case BetWon:
		return "bet_won", "Bet won!", fmt.Sprintf("Your %d coin bet won %d coins.", stake, credited), true
	case BetLost:
		return "bet_lost", "Bet lost", fmt.Sprintf("Your %d coin bet did not win.", stake), true
	case BetVoided:
		return "bet_voided", "Bet refunded", fmt.Sprintf("The market was voided and your %d coins were refunded.", stake), true
	}
	return "", "", "", false
}
