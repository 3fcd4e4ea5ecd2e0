package events

import (
	"encoding/json"
	"time"
)

// Kinds de evento publicados pelo ledger (tabela feed_events)
const (
	KindBetPlaced       = "bet_placed"
	KindBetSettled      = "bet_settled"
	KindMarketCreated   = "market_created"
	KindMarketOpened    = "market_opened"
	KindMarketLocked    = "market_locked"
	KindMarketSettled   = "market_settled"
	KindMarketVoided    = "market_voided"
	KindBalanceAdjusted = "balance_adjusted"
)

// Envelope é o formato publicado no Kafka pelo outbox relay.
// EventID é a sequência do feed; consumidores deduplicam por ele (entrega at-least-once).
type Envelope struct {
	EventID     int64           `json:"event_id"`
	Kind        string          `json:"kind"`
	UserID      string          `json:"user_id,omitempty"`
	MarketID    string          `json:"market_id,omitempty"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
