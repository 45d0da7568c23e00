package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewMemoryBroker()

	a, err := b.Subscribe(ctx, "room")
	require.NoError(t, err)
	c, err := b.Subscribe(ctx, "room")
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "elsewhere")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "room", []byte("hello")))

	assert.Equal(t, "hello", string(<-a))
	assert.Equal(t, "hello", string(<-c))
	select {
	case msg := <-other:
		t.Fatalf("unexpected message on other channel: %s", msg)
	default:
	}
}

func TestMemoryBrokerUnsubscribeOnCancel(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "room")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.subs) == 0
	}, time.Second, 10*time.Millisecond)
	assert.NoError(t, b.Publish(context.Background(), "room", []byte("late")))
}

func TestMemoryBrokerDropsForSlowSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewMemoryBroker()
	ch, err := b.Subscribe(ctx, "room")
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, b.Publish(ctx, "room", []byte("x")))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestHubStreamsChannel(t *testing.T) {
	b := NewMemoryBroker()
	hub := NewHub(b, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, SessionChannel("s1"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, b.Publish(context.Background(), SessionChannel("s1"), []byte(`{"type":"attendance.recorded"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"attendance.recorded"}`, string(msg))
}
