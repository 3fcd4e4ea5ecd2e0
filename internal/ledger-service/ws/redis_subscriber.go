package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/pkg/contracts/events"
)

// Dispatch roteia uma mensagem do Redis para os canais do Hub:
// feed -> "feed" (+ "market:<id>"), notificação -> "user:<id>"
func Dispatch(hub *Hub, feedChannel, redisChannel string, payload []byte) error {
	if redisChannel == feedChannel {
		var env events.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return err
		}
		hub.Broadcast(ChannelFeed, env)
		if env.MarketID != "" {
			hub.Broadcast(ChannelMarket(env.MarketID), env)
		}
		return nil
	}
	var n events.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return err
	}
	hub.Broadcast(ChannelUser(n.UserID), n)
	return nil
}

// StartRedisSubscriber escuta os canais de feed e de notificações no Redis
// e repassa ao Hub, até o ctx ser cancelado
func StartRedisSubscriber(ctx context.Context, r *redis.Client, hub *Hub, log *zap.Logger, feedChannel, notifyChannel string) {
	sub := r.Subscribe(ctx, feedChannel, notifyChannel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := Dispatch(hub, feedChannel, msg.Channel, []byte(msg.Payload)); err != nil {
					log.Warn("ws subscriber unmarshal error", zap.String("channel", msg.Channel), zap.Error(err))
				}
			}
		}
	}()
}
