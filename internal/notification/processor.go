package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/pkg/contracts/events"
)

// MessageReader é o subconjunto do *kafka.Reader usado aqui (commit manual)
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Broadcaster publica no Redis Pub/Sub lido pelo hub WebSocket do ledger-service
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// DLQ recebe mensagens que esgotaram as tentativas
type DLQ interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Deduper marca event_ids já entregues (entrega do relay é at-least-once)
type Deduper interface {
	Seen(ctx context.Context, eventID int64) (bool, error)
	Mark(ctx context.Context, eventID int64) error
}

// Processor consome um tópico do ledger e repassa ao Redis:
// feed público -> FeedChannel; bet_settled -> notificação em NotifyChannel
type Processor struct {
	Log         *zap.Logger
	Reader      MessageReader
	Broadcaster Broadcaster
	DLQ         DLQ
	Dedup       Deduper // opcional

	DLQTopic      string
	FeedChannel   string
	NotifyChannel string
	MaxAttempts   int
	Backoff       time.Duration

	OnConsumed  func()       // métricas
	OnPublished func(int)    // métricas
	OnError     func(string) // métricas por fase
}

// Run: busca, processa com retry, manda para a DLQ se falhar e só então faz commit
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka fetch failed", zap.Error(err))
			p.onError("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if p.OnConsumed != nil {
			p.OnConsumed()
		}

		if err := p.handleWithRetry(ctx, m.Value); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Error("message sent to dlq",
				zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
			if derr := p.DLQ.Publish(ctx, p.DLQTopic, string(m.Key), m.Value); derr != nil {
				// sem commit: a mensagem volta na próxima leitura
				p.onError("dlq")
				p.Log.Error("dlq publish failed", zap.Error(derr))
				continue
			}
		}
		if err := p.Reader.CommitMessages(ctx, m); err != nil {
			p.onError("commit")
			p.Log.Warn("kafka commit failed", zap.Error(err))
		}
	}
}

func (p *Processor) handleWithRetry(ctx context.Context, value []byte) error {
	attempts := max(p.MaxAttempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff * time.Duration(i)):
			}
		}
		if err = p.Handle(ctx, value); err == nil {
			return nil
		}
		if isPermanent(err) {
			return err
		}
		p.Log.Warn("handle failed, retrying", zap.Int("attempt", i+1), zap.Error(err))
	}
	return err
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	_, ok := err.(permanentError)
	return ok
}

// Handle processa um envelope; mensagem malformada é erro permanente (vai direto à DLQ)
func (p *Processor) Handle(ctx context.Context, value []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		p.onError("decode")
		return permanentError{fmt.Errorf("decode envelope: %w", err)}
	}

	if p.Dedup != nil {
		seen, err := p.Dedup.Seen(ctx, env.EventID)
		if err != nil {
			p.onError("dedup")
			return fmt.Errorf("dedup check: %w", err)
		}
		if seen {
			p.Log.Debug("duplicate event skipped", zap.Int64("event_id", env.EventID))
			return nil
		}
	}

	channel, payload := p.FeedChannel, value
	if env.Kind == events.KindBetSettled {
		n, err := BuildNotification(env)
		if err != nil {
			p.onError("decode")
			return permanentError{err}
		}
		if payload, err = json.Marshal(n); err != nil {
			return permanentError{err}
		}
		channel = p.NotifyChannel
	}

	if err := p.Broadcaster.Publish(ctx, channel, payload); err != nil {
		p.onError("broadcast")
		return fmt.Errorf("broadcast on %s: %w", channel, err)
	}
	if p.OnPublished != nil {
		p.OnPublished(1)
	}
	if p.Dedup != nil {
		if err := p.Dedup.Mark(ctx, env.EventID); err != nil {
			// já foi entregue; no pior caso o usuário recebe em dobro
			p.Log.Warn("dedup mark failed", zap.Int64("event_id", env.EventID), zap.Error(err))
		}
	}
	return nil
}

// BuildNotification transforma um bet_settled na notificação do dono da aposta
func BuildNotification(env events.Envelope) (events.Notification, error) {
	var bs events.BetSettled
	if err := json.Unmarshal(env.Payload, &bs); err != nil {
		return events.Notification{}, fmt.Errorf("decode bet_settled payload: %w", err)
	}
	n := events.Notification{UserID: bs.UserID, BetID: bs.BetID}
	if n.UserID == "" {
		n.UserID = env.UserID
	}
	var ok bool
	n.Type, n.Title, n.Message, ok = domain.BetNotificationText(domain.BetStatus(bs.Status), bs.Stake, bs.Credited)
	if !ok {
		return events.Notification{}, fmt.Errorf("unknown bet status %q", bs.Status)
	}
	return n, nil
}

func (p *Processor) onError(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}
