package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classsync/internal/geo"
	"classsync/internal/metrics"
)

const (
	defaultCodeLength     = 6
	defaultPublishTimeout = 3 * time.Second
	defaultSessionName    = "Attendance session"
)

// Service owns the course, enrollment and attendance session lifecycle.
type Service struct {
	store          Store
	events         Publisher
	log            *zap.Logger
	now            func() time.Time
	codeLength     int
	publishTimeout time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeLength sets the length of generated session and join codes.
func WithCodeLength(n int) Option {
	return func(s *Service) {
		if n >= 4 {
			s.codeLength = n
		}
	}
}

// WithPublishTimeout bounds how long a post-commit publish may block.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// NewService creates a service. A nil publisher drops events; a nil logger
// logs nothing.
func NewService(store Store, events Publisher, log *zap.Logger, opts ...Option) *Service {
	if events == nil {
		events = discardPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:          store,
		events:         events,
		log:            log,
		now:            time.Now,
		codeLength:     defaultCodeLength,
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time { return s.now().UTC() }

// StartSessionInput describes a new attendance window.
type StartSessionInput struct {
	CourseID        string  `json:"course_id" binding:"required"`
	Name            string  `json:"name"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	RadiusMeters    float64 `json:"radius_meters"`
	DurationMinutes int     `json:"duration_minutes"`
}

// StartSession opens a session on a course owned by the caller. Every active
// enrollment has its total session count incremented in the same transaction.
func (s *Service) StartSession(ctx context.Context, caller Caller, in StartSessionInput) (Session, error) {
	if caller.ID == "" {
		return Session{}, ErrUnauthenticated
	}
	if in.RadiusMeters <= 0 {
		return Session{}, invalidInput("radius must be greater than zero")
	}
	if in.DurationMinutes <= 0 {
		return Session{}, invalidInput("duration must be greater than zero")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = defaultSessionName
	}

	var (
		sess     Session
		course   Course
		enrolled []string
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		course, err = tx.CourseByID(in.CourseID)
		if KindOf(err) == KindNotFound {
			return ErrNotCourseOwner
		}
		if err != nil {
			return err
		}
		if course.LecturerID != caller.ID {
			return ErrNotCourseOwner
		}
		if course.Status != CourseActive {
			return ErrCourseInactive
		}

		code, err := uniqueSessionCode(tx, s.codeLength)
		if err != nil {
			return err
		}
		students, err := tx.ActiveStatsByCourse(course.ID)
		if err != nil {
			return err
		}

		now := s.clock()
		enrolled = make([]string, 0, len(students))
		for _, st := range students {
			enrolled = append(enrolled, st.StudentID)
		}
		sess = Session{
			ID:                    uuid.NewString(),
			CourseID:              course.ID,
			Name:                  name,
			Code:                  code,
			Latitude:              in.Latitude,
			Longitude:             in.Longitude,
			RadiusMeters:          in.RadiusMeters,
			StartTime:             now,
			EndTime:               now.Add(time.Duration(in.DurationMinutes) * time.Minute),
			IsActive:              true,
			EnrolledStudents:      StringList(enrolled),
			PresentStudents:       StringList{},
			TotalStudentsEnrolled: len(enrolled),
			CreatedAt:             now,
		}
		if err := tx.InsertSession(&sess); err != nil {
			return err
		}

		for _, st := range students {
			st.TotalSessions++
			st.recompute(now)
			if err := tx.UpdateStats(st); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	metrics.SessionsStarted.Inc()
	s.log.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("course_id", sess.CourseID),
		zap.Int("enrolled", sess.TotalStudentsEnrolled),
	)
	s.emit(ctx, Event{
		Type:        EventSessionStarted,
		CourseID:    course.ID,
		CourseTitle: course.Title,
		LecturerID:  course.LecturerID,
		SessionID:   sess.ID,
		SessionName: sess.Name,
		Recipients:  enrolled,
		EndsAt:      &sess.EndTime,
		At:          sess.StartTime,
	})
	return sess, nil
}

// CheckInInput is a student's check-in attempt.
type CheckInInput struct {
	Code      string  `json:"code" binding:"required"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CheckIn records the caller as present. The gates run in order and the first
// failure aborts without writing anything.
func (s *Service) CheckIn(ctx context.Context, caller Caller, in CheckInInput) (Record, error) {
	rec, evt, err := s.checkIn(ctx, caller, in)
	if err != nil {
		outcome := string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		metrics.CheckIns.WithLabelValues(outcome).Inc()
		return Record{}, err
	}

	metrics.CheckIns.WithLabelValues("ok").Inc()
	if rec.DistanceMeters != nil {
		metrics.CheckInDistance.Observe(*rec.DistanceMeters)
	}
	s.log.Info("attendance recorded",
		zap.String("session_id", rec.SessionID),
		zap.String("student_id", rec.StudentID),
	)
	s.emit(ctx, evt)
	return rec, nil
}

func (s *Service) checkIn(ctx context.Context, caller Caller, in CheckInInput) (Record, Event, error) {
	if caller.ID == "" {
		return Record{}, Event{}, ErrUnauthenticated
	}
	code := normalizeCode(in.Code)
	if code == "" {
		return Record{}, Event{}, invalidInput("session code is required")
	}
	pos := geo.Point{Lat: in.Latitude, Lng: in.Longitude}

	var (
		rec Record
		evt Event
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		now := s.clock()

		sess, err := tx.SessionByCode(code)
		if err != nil {
			return err
		}
		if !sess.OpenAt(now) {
			return ErrSessionClosed
		}

		if !sess.EnrolledStudents.Contains(caller.ID) {
			return ErrNotEnrolled
		}
		st, err := tx.StatsFor(caller.ID, sess.CourseID)
		if KindOf(err) == KindNotFound {
			return ErrNotEnrolled
		}
		if err != nil {
			return err
		}
		if !st.Active {
			return ErrNotEnrolled
		}

		dist := geo.Distance(sess.Centroid(), pos)
		if !geo.Within(sess.Centroid(), pos, sess.RadiusMeters) {
			return newError(KindOutOfRange, fmt.Sprintf(
				"you are %.0fm from the session location, allowed radius is %.0fm", dist, sess.RadiusMeters))
		}

		if _, err := tx.RecordFor(sess.ID, caller.ID); err == nil {
			return ErrAlreadyCheckedIn
		} else if KindOf(err) != KindNotFound {
			return err
		}

		lat, lng := in.Latitude, in.Longitude
		rec = Record{
			ID:             uuid.NewString(),
			SessionID:      sess.ID,
			CourseID:       sess.CourseID,
			StudentID:      caller.ID,
			Status:         StatusPresent,
			CheckedInAt:    &now,
			Latitude:       &lat,
			Longitude:      &lng,
			DistanceMeters: &dist,
			CreatedAt:      now,
		}
		if err := tx.InsertRecord(&rec); err != nil {
			return err
		}

		sess.PresentStudents = append(sess.PresentStudents, caller.ID)
		sess.recompute()
		if err := tx.UpdateSession(sess); err != nil {
			return err
		}

		st.SessionsAttended++
		st.recompute(now)
		if err := tx.UpdateStats(st); err != nil {
			return err
		}

		course, err := tx.CourseByID(sess.CourseID)
		if err != nil {
			return err
		}
		evt = Event{
			Type:                 EventAttendanceRecorded,
			CourseID:             course.ID,
			CourseTitle:          course.Title,
			LecturerID:           course.LecturerID,
			SessionID:            sess.ID,
			SessionName:          sess.Name,
			StudentID:            caller.ID,
			RecordID:             rec.ID,
			Recipients:           []string{caller.ID},
			Present:              len(sess.PresentStudents),
			AttendancePercentage: sess.AttendancePercentage,
			At:                   now,
		}
		return nil
	})
	return rec, evt, err
}

// EndSession closes a session owned by the caller, marking every counted
// student without a record as absent.
func (s *Service) EndSession(ctx context.Context, caller Caller, sessionID string) (Session, error) {
	if caller.ID == "" {
		return Session{}, ErrUnauthenticated
	}
	var (
		sess Session
		evt  Event
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		sess, err = tx.SessionByID(sessionID)
		if err != nil {
			return err
		}
		course, err := tx.CourseByID(sess.CourseID)
		if err != nil {
			return err
		}
		if course.LecturerID != caller.ID {
			return ErrNotCourseOwner
		}
		if !sess.IsActive {
			return ErrSessionAlreadyClosed
		}
		sess, evt, err = s.close(tx, course, sess)
		return err
	})
	if err != nil {
		return Session{}, err
	}
	s.afterClose(ctx, evt, "ended")
	return sess, nil
}

// CloseExpired closes every open session whose window has passed. Each session
// is closed in its own transaction; the number closed is returned.
func (s *Service) CloseExpired(ctx context.Context) (int, error) {
	var expired []Session
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		expired, err = tx.ExpiredSessions(s.clock())
		return err
	})
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, candidate := range expired {
		var evt Event
		err := s.store.InTx(ctx, func(tx Tx) error {
			sess, err := tx.SessionByID(candidate.ID)
			if err != nil {
				return err
			}
			if !sess.IsActive {
				// closed by the lecturer in the meantime
				return nil
			}
			course, err := tx.CourseByID(sess.CourseID)
			if err != nil {
				return err
			}
			_, evt, err = s.close(tx, course, sess)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return closed, ctx.Err()
			}
			s.log.Warn("close expired session failed", zap.String("session_id", candidate.ID), zap.Error(err))
			continue
		}
		if evt.Type == "" {
			continue
		}
		closed++
		s.afterClose(ctx, evt, "expired")
	}
	return closed, nil
}

// close marks absentees and deactivates sess inside tx.
func (s *Service) close(tx Tx, course Course, sess Session) (Session, Event, error) {
	now := s.clock()

	records, err := tx.RecordsBySession(sess.ID)
	if err != nil {
		return Session{}, Event{}, err
	}
	recorded := make(map[string]bool, len(records))
	for _, r := range records {
		recorded[r.StudentID] = true
	}

	absent := []string{}
	for _, id := range sess.EnrolledStudents {
		if recorded[id] {
			continue
		}
		rec := Record{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			CourseID:  sess.CourseID,
			StudentID: id,
			Status:    StatusAbsent,
			CreatedAt: now,
		}
		if err := tx.InsertRecord(&rec); err != nil {
			return Session{}, Event{}, err
		}
		// removed students keep their counters and still get the absence
		st, err := tx.StatsFor(id, sess.CourseID)
		if err != nil {
			return Session{}, Event{}, err
		}
		st.recompute(now)
		if err := tx.UpdateStats(st); err != nil {
			return Session{}, Event{}, err
		}
		absent = append(absent, id)
	}

	sess.IsActive = false
	sess.ClosedAt = &now
	sess.recompute()
	if err := tx.UpdateSession(sess); err != nil {
		return Session{}, Event{}, err
	}

	evt := Event{
		Type:                 EventSessionClosed,
		CourseID:             course.ID,
		CourseTitle:          course.Title,
		LecturerID:           course.LecturerID,
		SessionID:            sess.ID,
		SessionName:          sess.Name,
		Recipients:           absent,
		Present:              len(sess.PresentStudents),
		Absent:               len(absent),
		AttendancePercentage: sess.AttendancePercentage,
		At:                   now,
	}
	return sess, evt, nil
}

func (s *Service) afterClose(ctx context.Context, evt Event, reason string) {
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
	s.log.Info("session closed",
		zap.String("session_id", evt.SessionID),
		zap.String("reason", reason),
		zap.Int("present", evt.Present),
		zap.Int("absent", evt.Absent),
	)
	s.emit(ctx, evt)
}

// SessionView is a session together with its status derived at read time.
type SessionView struct {
	Session
	Status SessionStatus `json:"status"`
}

func (s *Service) view(sess Session, owner bool) SessionView {
	v := SessionView{Session: sess, Status: sess.Status(s.clock())}
	if !owner {
		v.Code = ""
	}
	return v
}

// GetSession returns a session to its course lecturer or an enrolled student.
// Students do not see the session code.
func (s *Service) GetSession(ctx context.Context, caller Caller, sessionID string) (SessionView, error) {
	if caller.ID == "" {
		return SessionView{}, ErrUnauthenticated
	}
	var (
		sess   Session
		course Course
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		sess, err = tx.SessionByID(sessionID)
		if err != nil {
			return err
		}
		course, err = visibleCourse(tx, caller, sess.CourseID)
		return err
	})
	if err != nil {
		return SessionView{}, err
	}
	return s.view(sess, course.LecturerID == caller.ID), nil
}

// OwnedSession returns a session of a course the caller lectures.
func (s *Service) OwnedSession(ctx context.Context, caller Caller, sessionID string) (Session, error) {
	if caller.ID == "" {
		return Session{}, ErrUnauthenticated
	}
	var sess Session
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		sess, err = tx.SessionByID(sessionID)
		if err != nil {
			return err
		}
		_, err = ownedCourse(tx, caller, sess.CourseID)
		return err
	})
	return sess, err
}

// SessionsForCourse lists a course's sessions in start order.
func (s *Service) SessionsForCourse(ctx context.Context, caller Caller, courseID string) ([]SessionView, error) {
	if caller.ID == "" {
		return nil, ErrUnauthenticated
	}
	var (
		sessions []Session
		course   Course
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		if course, err = visibleCourse(tx, caller, courseID); err != nil {
			return err
		}
		sessions, err = tx.SessionsByCourse(courseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	owner := course.LecturerID == caller.ID
	out := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, s.view(sess, owner))
	}
	return out, nil
}

// SessionRecords lists every attendance record of a session for its lecturer.
func (s *Service) SessionRecords(ctx context.Context, caller Caller, sessionID string) ([]Record, error) {
	if caller.ID == "" {
		return nil, ErrUnauthenticated
	}
	var records []Record
	err := s.store.InTx(ctx, func(tx Tx) error {
		sess, err := tx.SessionByID(sessionID)
		if err != nil {
			return err
		}
		if _, err := ownedCourse(tx, caller, sess.CourseID); err != nil {
			return err
		}
		records, err = tx.RecordsBySession(sessionID)
		return err
	})
	return records, err
}

// CourseSummary aggregates attendance across a course for its lecturer.
func (s *Service) CourseSummary(ctx context.Context, caller Caller, courseID string) (CourseSummary, error) {
	if caller.ID == "" {
		return CourseSummary{}, ErrUnauthenticated
	}
	var (
		sessions []Session
		students []StudentCourseStats
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := ownedCourse(tx, caller, courseID); err != nil {
			return err
		}
		var err error
		if sessions, err = tx.SessionsByCourse(courseID); err != nil {
			return err
		}
		students, err = tx.ActiveStatsByCourse(courseID)
		return err
	})
	if err != nil {
		return CourseSummary{}, err
	}
	return Summarize(courseID, sessions, students, s.clock()), nil
}

// MyStats returns the caller's enrollments with their attendance counters.
func (s *Service) MyStats(ctx context.Context, caller Caller) ([]StudentCourseStats, error) {
	if caller.ID == "" {
		return nil, ErrUnauthenticated
	}
	if caller.Role != RoleStudent {
		return nil, ErrNotStudent
	}
	var out []StudentCourseStats
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.StatsByStudent(caller.ID)
		return err
	})
	return out, err
}

// emit publishes evt after commit. Failures are logged and never surfaced.
func (s *Service) emit(ctx context.Context, evt Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, evt); err != nil {
		metrics.EventsPublished.WithLabelValues(evt.Type, "error").Inc()
		s.log.Warn("event publish failed", zap.String("type", evt.Type), zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues(evt.Type, "ok").Inc()
}
