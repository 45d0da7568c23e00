package attendance

import (
	"context"
	"encoding/json"
	"time"

	"classsync/internal/queue"
)

// Event types emitted after a transaction commits.
const (
	EventAttendanceRecorded = "attendance.recorded"
	EventSessionStarted     = "session.started"
	EventSessionClosed      = "session.closed"
	EventJoinRequested      = "join.requested"
	EventJoinDecided        = "join.decided"
)

// Event describes a committed state change for downstream consumers
// (notifications, live feed).
type Event struct {
	Type                 string     `json:"type"`
	CourseID             string     `json:"course_id,omitempty"`
	CourseTitle          string     `json:"course_title,omitempty"`
	LecturerID           string     `json:"lecturer_id,omitempty"`
	SessionID            string     `json:"session_id,omitempty"`
	SessionName          string     `json:"session_name,omitempty"`
	StudentID            string     `json:"student_id,omitempty"`
	RecordID             string     `json:"record_id,omitempty"`
	JoinRequestID        string     `json:"join_request_id,omitempty"`
	Status               string     `json:"status,omitempty"`
	Recipients           []string   `json:"recipients,omitempty"`
	Present              int        `json:"present"`
	Absent               int        `json:"absent"`
	AttendancePercentage float64    `json:"attendance_percentage"`
	EndsAt               *time.Time `json:"ends_at,omitempty"`
	At                   time.Time  `json:"at"`
}

// Publisher hands events to whatever delivers them.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// QueuePublisher publishes events as queue messages.
type QueuePublisher struct {
	q queue.Queue
}

// NewQueuePublisher wraps q.
func NewQueuePublisher(q queue.Queue) *QueuePublisher {
	return &QueuePublisher{q: q}
}

// Publish implements Publisher.
func (p *QueuePublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.q.Publish(ctx, queue.Message{Type: evt.Type, Body: body})
}

// DecodeEvent parses a queue message produced by QueuePublisher.
func DecodeEvent(msg queue.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return Event{}, err
	}
	if evt.Type == "" {
		evt.Type = msg.Type
	}
	return evt, nil
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, Event) error { return nil }
