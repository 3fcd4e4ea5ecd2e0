package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter cria um writer; topic vazio permite definir o tópico por mensagem
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // mesma chave -> mesma partição (ordem por mercado/usuário)
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
	}
}

func NewReader(brokers []string, topic string, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
}

// WriteTo publica no tópico informado (writer criado sem Topic fixo)
func WriteTo(ctx context.Context, w *kafka.Writer, topic, key string, payload []byte) error {
	return w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	})
}

// Publisher publica em qualquer tópico com um único writer
type Publisher struct{ W *kafka.Writer }

func NewPublisher(brokers []string) *Publisher { return &Publisher{W: NewWriter(brokers, "")} }

func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := WriteTo(ctx, p.W, topic, key, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.W.Close() }
