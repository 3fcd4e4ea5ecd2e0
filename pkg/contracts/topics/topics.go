package topics

const (
	// Feed público (bet_placed, market_*, balance_adjusted)
	LedgerFeed = "ledger_feed"

	// Resultado individual de apostas (won/lost/voided)
	BetSettled = "bet_settled"

	// DLQs
	LedgerFeedDLQ = "ledger_feed_dlq"
	BetSettledDLQ = "bet_settled_dlq"

	// Canais Redis Pub/Sub consumidos pelo websocket do ledger-service
	ChannelFeedBroadcast     = "feed_broadcast"
	ChannelUserNotifications = "user_notifications"
)
