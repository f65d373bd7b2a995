// Package events streams committed exchange activity to off-chain consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type Kind string

const (
	KindOrder   Kind = "order"
	KindTrade   Kind = "trade"
	KindReceipt Kind = "receipt"
)

// Event is one committed record. Key orders events per entity on the topic.
type Event struct {
	Kind    Kind   `json:"kind"`
	Height  int64  `json:"height"`
	Key     string `json:"key"`
	Payload any    `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
	Close() error
}

// NopPublisher drops everything.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
func (NopPublisher) Close() error                            { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages to a single topic.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evs ...Event) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode %s event %s: %w", ev.Kind, ev.Key, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(string(ev.Kind) + ":" + ev.Key),
			Value: value,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(ev.Kind)},
			},
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
