package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"classsync/internal/attendance"
	"classsync/internal/live"
	"classsync/internal/metrics"
	"classsync/internal/queue"
)

// Dispatcher turns committed attendance events into notifications and live
// feed updates.
type Dispatcher struct {
	sink   Sink
	broker live.Broker
	log    *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil broker disables the live feed.
func NewDispatcher(sink Sink, broker live.Broker, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{sink: sink, broker: broker, log: log}
}

// Run consumes q until ctx ends. A failing message is logged and skipped.
func (d *Dispatcher) Run(ctx context.Context, q queue.Queue) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	d.log.Info("dispatcher started")
	for msg := range msgs {
		evt, err := attendance.DecodeEvent(msg)
		if err != nil {
			d.log.Warn("undecodable event", zap.String("type", msg.Type), zap.Error(err))
			continue
		}
		if err := d.Handle(ctx, evt); err != nil {
			d.log.Warn("event handling failed", zap.String("type", evt.Type), zap.Error(err))
		}
	}
	d.log.Info("dispatcher stopped")
	return nil
}

// Handle delivers one event. Every recipient is attempted; the first error
// is returned.
func (d *Dispatcher) Handle(ctx context.Context, evt attendance.Event) error {
	var firstErr error
	for _, n := range messagesFor(evt) {
		err := d.sink.Send(ctx, n.recipient, n.title, n.message, n.kind)
		result := "ok"
		if err != nil {
			result = "error"
			if firstErr == nil {
				firstErr = err
			}
		}
		metrics.Notifications.WithLabelValues(n.kind, result).Inc()
	}

	if d.broker != nil && evt.SessionID != "" && onSessionFeed(evt.Type) {
		payload, err := json.Marshal(evt)
		if err == nil {
			err = d.broker.Publish(ctx, live.SessionChannel(evt.SessionID), payload)
		}
		if err != nil {
			d.log.Warn("live broadcast failed", zap.String("session_id", evt.SessionID), zap.Error(err))
		}
	}
	return firstErr
}

func onSessionFeed(evtType string) bool {
	switch evtType {
	case attendance.EventAttendanceRecorded, attendance.EventSessionStarted, attendance.EventSessionClosed:
		return true
	}
	return false
}

type message struct {
	recipient string
	title     string
	message   string
	kind      string
}

func messagesFor(evt attendance.Event) []message {
	var out []message
	switch evt.Type {
	case attendance.EventAttendanceRecorded:
		for _, r := range evt.Recipients {
			out = append(out, message{r, "Attendance recorded",
				fmt.Sprintf("You were marked present for %s in %s.", evt.SessionName, evt.CourseTitle), KindAttendance})
		}
	case attendance.EventSessionStarted:
		body := fmt.Sprintf("%s: %s is open. Check in with the session code.", evt.CourseTitle, evt.SessionName)
		if evt.EndsAt != nil {
			body = fmt.Sprintf("%s: %s is open until %s UTC. Check in with the session code.",
				evt.CourseTitle, evt.SessionName, evt.EndsAt.UTC().Format("15:04"))
		}
		for _, r := range evt.Recipients {
			out = append(out, message{r, "Attendance is open", body, KindSession})
		}
	case attendance.EventSessionClosed:
		for _, r := range evt.Recipients {
			out = append(out, message{r, "Marked absent",
				fmt.Sprintf("You were marked absent for %s in %s.", evt.SessionName, evt.CourseTitle), KindAttendance})
		}
		if evt.LecturerID != "" {
			out = append(out, message{evt.LecturerID, "Session closed",
				fmt.Sprintf("%s in %s closed with %d present and %d absent (%.1f%%).",
					evt.SessionName, evt.CourseTitle, evt.Present, evt.Absent, evt.AttendancePercentage), KindSession})
		}
	case attendance.EventJoinRequested:
		for _, r := range evt.Recipients {
			out = append(out, message{r, "New join request",
				fmt.Sprintf("A student asked to join %s.", evt.CourseTitle), KindJoin})
		}
	case attendance.EventJoinDecided:
		title, body := "Join request approved", fmt.Sprintf("You are now enrolled in %s.", evt.CourseTitle)
		if evt.Status == string(attendance.JoinRejected) {
			title, body = "Join request declined", fmt.Sprintf("Your request to join %s was declined.", evt.CourseTitle)
		}
		for _, r := range evt.Recipients {
			out = append(out, message{r, title, body, KindJoin})
		}
	}
	return out
}
