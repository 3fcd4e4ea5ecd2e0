package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/pkg/contracts/events"
)

// Publisher é o lado Kafka do relay (shared/kafka.Publisher em produção)
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Relay lê feed_events ainda não publicados e os envia ao Kafka em ordem de id.
// Entrega at-least-once: um crash entre Publish e MarkPublished reenvia o lote;
// consumidores deduplicam pelo event_id do envelope.
type Relay struct {
	Log    *zap.Logger
	Source repo.Outbox
	Pub    Publisher

	TopicFeed    string // eventos públicos
	TopicSettled string // bet_settled, por usuário
	BatchSize    int
	Interval     time.Duration
	Now          func() time.Time

	OnConsumed  func()       // métricas
	OnPublished func(int)    // métricas
	OnError     func(string) // métricas por fase
}

// Run faz polling até o ctx ser cancelado; lote cheio dispara nova rodada na hora
func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		n, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.Log.Warn("outbox relay round failed", zap.Error(err))
		}
		if err == nil && n >= r.batch() {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Relay) batch() int {
	if r.BatchSize <= 0 {
		return 100
	}
	return r.BatchSize
}

// RunOnce publica um lote e devolve quantos eventos foram marcados.
// Para no primeiro erro de publicação para não furar a ordem por chave.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.Source.ListUnpublished(ctx, r.batch())
	if err != nil {
		r.onError("list")
		return 0, fmt.Errorf("list unpublished: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var (
		done   []int64
		pubErr error
	)
	for _, ev := range pending {
		if r.OnConsumed != nil {
			r.OnConsumed()
		}
		topic, key := r.route(ev)
		b, err := json.Marshal(Envelope(ev))
		if err != nil {
			r.onError("encode")
			pubErr = fmt.Errorf("encode event %d: %w", ev.ID, err)
			break
		}
		if err := r.Pub.Publish(ctx, topic, key, b); err != nil {
			r.onError("publish")
			pubErr = fmt.Errorf("publish event %d: %w", ev.ID, err)
			break
		}
		done = append(done, ev.ID)
	}

	if len(done) > 0 {
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		// ctx próprio: o que já foi ao Kafka precisa ser marcado mesmo no shutdown
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.Source.MarkPublished(mctx, done, now()); err != nil {
			r.onError("mark")
			return 0, fmt.Errorf("mark published: %w", err)
		}
		if r.OnPublished != nil {
			r.OnPublished(len(done))
		}
		r.Log.Debug("outbox batch published", zap.Int("count", len(done)), zap.Int64("last_id", done[len(done)-1]))
	}
	return len(done), pubErr
}

// route: bet_settled vai para o tópico de liquidação com chave = usuário;
// o resto do feed público vai com chave = mercado (ou usuário, em ajustes de saldo)
func (r *Relay) route(ev domain.FeedEvent) (topic, key string) {
	if ev.Kind == events.KindBetSettled {
		return r.TopicSettled, ev.UserID
	}
	key = ev.MarketID
	if key == "" {
		key = ev.UserID
	}
	return r.TopicFeed, key
}

func (r *Relay) onError(stage string) {
	if r.OnError != nil {
		r.OnError(stage)
	}
}

// Envelope converte a linha do feed no contrato publicado
func Envelope(ev domain.FeedEvent) events.Envelope {
	return events.Envelope{
		EventID:     ev.ID,
		Kind:        ev.Kind,
		UserID:      ev.UserID,
		MarketID:    ev.MarketID,
		Description: ev.Description,
		Payload:     ev.Payload,
		CreatedAt:   ev.CreatedAt,
	}
}
