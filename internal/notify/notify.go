package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"classsync/internal/attendance"
)

// Notification kinds.
const (
	KindAttendance = "attendance"
	KindSession    = "session"
	KindJoin       = "join"
)

// Sink delivers one message to one recipient.
type Sink interface {
	Send(ctx context.Context, recipientID, title, message, kind string) error
}

// StoreSink keeps notifications as rows for the in-app inbox.
type StoreSink struct {
	store attendance.Store
	now   func() time.Time
}

// NewStoreSink creates a sink writing to store.
func NewStoreSink(store attendance.Store) *StoreSink {
	return &StoreSink{store: store, now: time.Now}
}

// Send implements Sink.
func (s *StoreSink) Send(ctx context.Context, recipientID, title, message, kind string) error {
	n := attendance.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Title:       title,
		Message:     message,
		Kind:        kind,
		CreatedAt:   s.now().UTC(),
	}
	return s.store.InTx(ctx, func(tx attendance.Tx) error {
		return tx.InsertNotification(&n)
	})
}

const defaultInboxLimit = 50

// Inbox reads and acknowledges a caller's notifications.
type Inbox struct {
	store attendance.Store
}

// NewInbox creates an inbox over store.
func NewInbox(store attendance.Store) *Inbox {
	return &Inbox{store: store}
}

// List returns the caller's newest notifications.
func (i *Inbox) List(ctx context.Context, caller attendance.Caller, limit int) ([]attendance.Notification, error) {
	if caller.ID == "" {
		return nil, attendance.ErrUnauthenticated
	}
	if limit <= 0 || limit > 200 {
		limit = defaultInboxLimit
	}
	var out []attendance.Notification
	err := i.store.InTx(ctx, func(tx attendance.Tx) error {
		var err error
		out, err = tx.NotificationsFor(caller.ID, limit)
		return err
	})
	return out, err
}

// MarkRead flags one of the caller's notifications as read.
func (i *Inbox) MarkRead(ctx context.Context, caller attendance.Caller, id string) error {
	if caller.ID == "" {
		return attendance.ErrUnauthenticated
	}
	return i.store.InTx(ctx, func(tx attendance.Tx) error {
		return tx.MarkNotificationRead(id, caller.ID)
	})
}
