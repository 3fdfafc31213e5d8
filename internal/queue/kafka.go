package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"faceattend/internal/logger"
)

const typeHeader = "type"

// Kafka publishes to and consumes from one topic.
type Kafka struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	group   string
	log     logrus.FieldLogger
}

// NewKafka creates a topic-bound queue. group is the consumer group used by Consume.
func NewKafka(brokers []string, topic, group string, log logrus.FieldLogger) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		brokers: brokers,
		topic:   topic,
		group:   group,
		log:     logger.OrStandard(log),
	}
}

// Publish writes msg keyed by msg.Key so that one identity's messages stay ordered.
func (k *Kafka) Publish(ctx context.Context, msg Message) error {
	return k.writer.WriteMessages(ctx, toKafka(msg))
}

// Consume reads with a consumer group and commits each message once it has
// been handed to the caller.
func (k *Kafka) Consume(ctx context.Context) (<-chan Message, error) {
	if len(k.brokers) == 0 || k.topic == "" {
		return nil, errors.New("queue: kafka brokers and topic are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       k.topic,
		GroupID:     k.group,
		StartOffset: kafka.FirstOffset,
	})
	out := make(chan Message)
	go func() {
		defer close(out)
		defer reader.Close()
		for {
			km, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				k.log.WithError(err).Error("fetch queue message failed")
				continue
			}
			msg, err := fromKafka(km)
			if err != nil {
				k.log.WithError(err).Warn("dropping malformed queue message")
				_ = reader.CommitMessages(ctx, km)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
			if err := reader.CommitMessages(ctx, km); err != nil && ctx.Err() == nil {
				k.log.WithError(err).Error("commit queue message failed")
			}
		}
	}()
	return out, nil
}

// Close flushes pending writes.
func (k *Kafka) Close() error { return k.writer.Close() }

func toKafka(msg Message) kafka.Message {
	return kafka.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Body,
		Headers: []kafka.Header{{Key: typeHeader, Value: []byte(msg.Type)}},
	}
}

func fromKafka(km kafka.Message) (Message, error) {
	msg := Message{Key: string(km.Key)}
	for _, h := range km.Headers {
		if h.Key == typeHeader {
			msg.Type = string(h.Value)
		}
	}
	if msg.Type == "" {
		return Message{}, errors.New("queue: message without type header")
	}
	if !json.Valid(km.Value) {
		return Message{}, errors.New("queue: message body is not JSON")
	}
	msg.Body = km.Value
	return msg, nil
}
