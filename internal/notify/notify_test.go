package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classsync/internal/attendance"
	"classsync/internal/live"
	"classsync/internal/queue"
)

type sent struct {
	recipient, title, message, kind string
}

type recordingSink struct {
	mu   sync.Mutex
	sent []sent
	fail map[string]bool
}

func (s *recordingSink) Send(_ context.Context, recipientID, title, message, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[recipientID] {
		return errors.New("delivery failed")
	}
	s.sent = append(s.sent, sent{recipientID, title, message, kind})
	return nil
}

func (s *recordingSink) all() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.sent...)
}

func TestHandleAttendanceRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{}
	broker := live.NewMemoryBroker()
	feed, err := broker.Subscribe(ctx, live.SessionChannel("s1"))
	require.NoError(t, err)

	d := NewDispatcher(sink, broker, nil)
	evt := attendance.Event{
		Type:        attendance.EventAttendanceRecorded,
		CourseTitle: "Algorithms",
		SessionID:   "s1",
		SessionName: "Week 1",
		StudentID:   "st1",
		Recipients:  []string{"st1"},
		Present:     1,
	}
	require.NoError(t, d.Handle(ctx, evt))

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "st1", got[0].recipient)
	assert.Equal(t, KindAttendance, got[0].kind)
	assert.Contains(t, got[0].message, "Week 1")

	select {
	case payload := <-feed:
		var out attendance.Event
		require.NoError(t, json.Unmarshal(payload, &out))
		assert.Equal(t, attendance.EventAttendanceRecorded, out.Type)
		assert.Equal(t, 1, out.Present)
	case <-time.After(time.Second):
		t.Fatal("no live broadcast")
	}
}

func TestHandleSessionClosedNotifiesAbsenteesAndLecturer(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil, nil)
	err := d.Handle(context.Background(), attendance.Event{
		Type:       attendance.EventSessionClosed,
		LecturerID: "lec",
		SessionID:  "s1",
		Recipients: []string{"a", "b"},
		Present:    3,
		Absent:     2,
	})
	require.NoError(t, err)

	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, "Marked absent", got[0].title)
	assert.Equal(t, "Marked absent", got[1].title)
	assert.Equal(t, "lec", got[2].recipient)
	assert.Contains(t, got[2].message, "3 present and 2 absent")
}

func TestHandleSessionStartedMentionsEndTime(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil, nil)
	end := time.Date(2026, 2, 1, 9, 45, 0, 0, time.UTC)

	require.NoError(t, d.Handle(context.Background(), attendance.Event{
		Type: attendance.EventSessionStarted, CourseTitle: "Physics", SessionName: "Lab 2",
		Recipients: []string{"st"}, EndsAt: &end,
	}))
	require.NoError(t, d.Handle(context.Background(), attendance.Event{
		Type: attendance.EventSessionStarted, CourseTitle: "Physics", SessionName: "Lab 3",
		Recipients: []string{"st"},
	}))

	got := sink.all()
	require.Len(t, got, 2)
	assert.Contains(t, got[0].message, "open until 09:45 UTC")
	assert.Equal(t, "Physics: Lab 3 is open. Check in with the session code.", got[1].message)
}

func TestHandleJoinDecided(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil, nil)

	require.NoError(t, d.Handle(context.Background(), attendance.Event{
		Type: attendance.EventJoinDecided, CourseTitle: "Physics", Status: "rejected", Recipients: []string{"st"},
	}))
	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "Join request declined", got[0].title)
}

func TestHandleContinuesAfterFailedRecipient(t *testing.T) {
	sink := &recordingSink{fail: map[string]bool{"a": true}}
	d := NewDispatcher(sink, nil, nil)
	err := d.Handle(context.Background(), attendance.Event{
		Type:       attendance.EventSessionStarted,
		Recipients: []string{"a", "b"},
	})
	assert.Error(t, err)
	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].recipient)
}

func TestRunConsumesQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(8)
	pub := attendance.NewQueuePublisher(q)
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, q)
	}()

	require.NoError(t, q.Publish(ctx, queue.Message{Type: "garbage", Body: json.RawMessage(`"not an event"`)}))
	require.NoError(t, pub.Publish(ctx, attendance.Event{
		Type: attendance.EventJoinRequested, CourseTitle: "Chemistry", Recipients: []string{"lec"},
	}))

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "New join request", sink.all()[0].title)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestStoreSinkAndInbox(t *testing.T) {
	ctx := context.Background()
	store := attendance.NewMemoryStore()
	sink := NewStoreSink(store)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	sink.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	require.NoError(t, sink.Send(ctx, "u1", "first", "m1", KindJoin))
	require.NoError(t, sink.Send(ctx, "u1", "second", "m2", KindAttendance))
	require.NoError(t, sink.Send(ctx, "u2", "other", "m3", KindAttendance))

	inbox := NewInbox(store)
	me := attendance.Caller{ID: "u1", Role: attendance.RoleStudent}
	list, err := inbox.List(ctx, me, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Title, "newest first")
	assert.False(t, list[0].Read)

	require.NoError(t, inbox.MarkRead(ctx, me, list[0].ID))
	err = inbox.MarkRead(ctx, attendance.Caller{ID: "u2"}, list[1].ID)
	assert.Equal(t, attendance.KindNotFound, attendance.KindOf(err), "cannot read someone else's notification")

	list, err = inbox.List(ctx, me, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)

	_, err = inbox.List(ctx, attendance.Caller{}, 10)
	assert.True(t, errors.Is(err, attendance.ErrUnauthenticated))
}
