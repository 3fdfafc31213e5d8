package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type marked struct {
	Identity string `json:"identity"`
}

func TestMessage_EncodeDecode(t *testing.T) {
	msg, err := NewMessage("attendance.marked", "E001", marked{Identity: "E001"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"identity":"E001"}`, string(msg.Body))

	var got marked
	require.NoError(t, msg.Decode(&got))
	assert.Equal(t, "E001", got.Identity)

	assert.Error(t, Message{Type: "x", Body: json.RawMessage(`{`)}.Decode(&got))
}

func TestInMemory_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(4)

	require.NoError(t, q.Publish(ctx, Message{Type: "a"}))
	require.NoError(t, q.Publish(ctx, Message{Type: "b"}))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", (<-ch).Type)
	assert.Equal(t, "b", (<-ch).Type)

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestInMemory_PublishNeverWaitsForConsumer(t *testing.T) {
	q := NewInMemory(64)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		var err error
		for i := 0; i < 65; i++ {
			err = q.Publish(ctx, Message{Type: "attendance.marked"})
		}
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrFull)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
}

func TestInMemory_PublishHonoursContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "late"}), context.Canceled)
}

func TestRedisQueue_Publish(t *testing.T) {
	client, mock := redismock.NewClientMock()
	log, _ := test.NewNullLogger()
	q := NewRedisQueue(client, "", log)

	msg := Message{Type: "attendance.marked", Key: "E001", Body: json.RawMessage(`{"identity":"E001"}`)}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	mock.ExpectLPush(DefaultRedisKey, data).SetVal(1)

	require.NoError(t, q.Publish(context.Background(), msg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKafkaMessageMapping(t *testing.T) {
	msg := Message{Type: "attendance.marked", Key: "E001", Body: json.RawMessage(`{"identity":"E001"}`)}
	km := toKafka(msg)
	assert.Equal(t, []byte("E001"), km.Key)

	back, err := fromKafka(km)
	require.NoError(t, err)
	assert.Equal(t, msg, back)

	_, err = fromKafka(kafka.Message{Value: []byte(`{}`)})
	assert.Error(t, err)

	_, err = fromKafka(kafka.Message{Value: []byte(`nope`), Headers: []kafka.Header{{Key: typeHeader, Value: []byte("x")}}})
	assert.Error(t, err)
}

func TestKafka_ConsumeRequiresTopic(t *testing.T) {
	_, err := NewKafka(nil, "", "g", nil).Consume(context.Background())
	assert.Error(t, err)
}
