package attendance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classsync/internal/queue"
)

func TestQueuePublisherRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(1)
	pub := NewQueuePublisher(q)
	at := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, pub.Publish(ctx, Event{
		Type:       EventSessionClosed,
		SessionID:  "s1",
		Recipients: []string{"a", "b"},
		Absent:     2,
		At:         at,
	}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-msgs:
		assert.Equal(t, EventSessionClosed, msg.Type)
		evt, err := DecodeEvent(msg)
		require.NoError(t, err)
		assert.Equal(t, "s1", evt.SessionID)
		assert.Equal(t, []string{"a", "b"}, evt.Recipients)
		assert.Equal(t, 2, evt.Absent)
		assert.True(t, evt.At.Equal(at))
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
}

func TestEventOmitsEndsAtUnlessSet(t *testing.T) {
	b, err := json.Marshal(Event{Type: EventSessionClosed, SessionID: "s1"})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "ends_at")

	end := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	b, err = json.Marshal(Event{Type: EventSessionStarted, EndsAt: &end})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"ends_at":"2026-02-01T09:00:00Z"`)
}

func TestDecodeEventFallsBackToMessageType(t *testing.T) {
	evt, err := DecodeEvent(queue.Message{Type: EventJoinRequested, Body: []byte(`{"course_id":"c"}`)})
	require.NoError(t, err)
	assert.Equal(t, EventJoinRequested, evt.Type)

	_, err = DecodeEvent(queue.Message{Body: []byte(`not json`)})
	assert.Error(t, err)
}

func TestErrorKinds(t *testing.T) {
	err := NotFound("session")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "session")

	assert.ErrorIs(t, ErrAlreadyCheckedIn, ErrConflict)
	assert.NotErrorIs(t, ErrAlreadyCheckedIn, ErrAlreadyEnrolled)
	assert.Equal(t, Kind(""), KindOf(context.Canceled))
}
