package events

// Payloads gravados em feed_events.payload, por kind

type BetPlaced struct {
	BetID           string `json:"bet_id"`
	MarketID        string `json:"market_id"`
	SelectionID     string `json:"selection_id"`
	SelectionLabel  string `json:"selection_label"`
	Stake           int64  `json:"stake"`
	Odds            string `json:"odds"`
	PotentialPayout int64  `json:"potential_payout"`
}

// BetSettled é emitido por aposta, na mesma transação do crédito/estorno
type BetSettled struct {
	BetID    string `json:"bet_id"`
	UserID   string `json:"user_id"`
	MarketID string `json:"market_id"`
	Status   string `json:"status"` // won | lost | voided
	Stake    int64  `json:"stake"`
	Credited int64  `json:"credited"`
}

type MarketStatusChanged struct {
	MarketID   string `json:"market_id"`
	MarketType string `json:"market_type"`
	From       string `json:"from,omitempty"`
	To         string `json:"to"`
}

type MarketSettled struct {
	MarketID         string `json:"market_id"`
	WinningSelection string `json:"winning_selection"`
	WinnersPaid      int    `json:"winners_paid"`
	TotalCredited    int64  `json:"total_credited"`
}

type MarketVoided struct {
	MarketID      string `json:"market_id"`
	RefundedCount int    `json:"refunded_count"`
	TotalRefunded int64  `json:"total_refunded"`
}

type BalanceAdjusted struct {
	Amount     int64  `json:"amount"`
	NewBalance int64  `json:"new_balance"`
	Reason     string `json:"reason,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
}

// Notification é a mensagem empurrada ao usuário via Redis -> websocket
type Notification struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"` // bet_won | bet_lost | bet_voided
	Title   string `json:"title"`
	Message string `json:"message"`
	BetID   string `json:"bet_id"`
}
