package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	for _, typ := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(ctx, Message{Type: typ, Body: json.RawMessage(`{}`)}))
	}

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case m := <-msgs:
			got = append(got, m.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestInMemoryConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(1)
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer channel not closed")
	}
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "x"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "y"}), context.DeadlineExceeded)
}

func TestEnvelope(t *testing.T) {
	s, err := encode(Message{Type: "attendance.recorded", Body: json.RawMessage(`{"session_id":"s1"}`)})
	require.NoError(t, err)

	msg, err := decode(s)
	require.NoError(t, err)
	assert.Equal(t, "attendance.recorded", msg.Type)
	assert.JSONEq(t, `{"session_id":"s1"}`, string(msg.Body))

	_, err = decode(`{"body":{}}`)
	assert.Error(t, err)
	_, err = decode(`not json`)
	assert.Error(t, err)
}
