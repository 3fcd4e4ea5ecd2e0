package ws

// ClientMsg é a mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
// Channel: "market:<id>" (o canal "feed" e o do próprio usuário já vêm assinados)
type ClientMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// ServerMsg embrulha o que é empurrado ao cliente
type ServerMsg struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

const ChannelFeed = "feed"

func ChannelUser(userID string) string     { return "user:" + userID }
func ChannelMarket(marketID string) string { return "market:" + marketID }
