// Package queue carries background work from the API to the worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Message is one unit of work. Key groups related messages (e.g. per identity).
type Message struct {
	Type string          `json:"type"`
	Key  string          `json:"key,omitempty"`
	Body json.RawMessage `json:"body"`
}

// NewMessage marshals body into a message of the given type.
func NewMessage(typ, key string, body any) (Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("queue: encode %s: %w", typ, err)
	}
	return Message{Type: typ, Key: key, Body: raw}, nil
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("queue: decode %s: %w", m.Type, err)
	}
	return nil
}

// Publisher sends messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publisher
	// Consume streams messages until ctx ends, then closes the channel.
	Consume(ctx context.Context) (<-chan Message, error)
	Close() error
}

// InMemory is a channel-backed queue for dev and tests.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{ch: make(chan Message, size)}
}

// ErrFull is returned by InMemory.Publish when the buffer has no room.
var ErrFull = errors.New("queue: in-memory buffer full")

// Publish enqueues a message without waiting for a consumer.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (q *InMemory) Close() error { return nil }
