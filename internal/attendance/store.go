package attendance

import (
	"context"
	"time"
)

// Store runs units of work against durable state. InTx applies every write
// made through tx atomically, or none of them when fn returns an error.
// Concurrent transactions touching the same rows are serialized.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of reads and writes available inside one transaction.
// Lookups of a single row return a KindNotFound error when it is missing;
// inserts that break a uniqueness rule return a KindConflict error.
type Tx interface {
	InsertUser(u *User) error
	UserByID(id string) (User, error)
	UserByEmail(email string) (User, error)

	InsertCourse(c *Course) error
	CourseByID(id string) (Course, error)
	CourseByCode(code string) (Course, error)
	CourseByJoinCode(joinCode string) (Course, error)
	CoursesByLecturer(lecturerID string) ([]Course, error)
	CoursesByStudent(studentID string) ([]Course, error)
	UpdateCourseStatus(id string, status CourseStatus) error

	InsertRosterEntry(e *RosterEntry) error
	RosterEntryByID(id string) (RosterEntry, error)
	RosterByCourse(courseID string) ([]RosterEntry, error)
	LinkRosterEntry(id, studentID string) error

	InsertStats(st *StudentCourseStats) error
	StatsFor(studentID, courseID string) (StudentCourseStats, error)
	ActiveStatsByCourse(courseID string) ([]StudentCourseStats, error)
	StatsByStudent(studentID string) ([]StudentCourseStats, error)
	UpdateStats(st StudentCourseStats) error

	InsertSession(s *Session) error
	SessionByID(id string) (Session, error)
	// SessionByCode returns the most recently created session using code.
	SessionByCode(code string) (Session, error)
	SessionsByCourse(courseID string) ([]Session, error)
	ExpiredSessions(now time.Time) ([]Session, error)
	UpdateSession(s Session) error

	InsertRecord(r *Record) error
	RecordFor(sessionID, studentID string) (Record, error)
	RecordsBySession(sessionID string) ([]Record, error)

	InsertJoinRequest(j *JoinRequest) error
	JoinRequestByID(id string) (JoinRequest, error)
	PendingJoinRequest(courseID, studentID string) (JoinRequest, error)
	JoinRequestsByCourse(courseID string, status JoinStatus) ([]JoinRequest, error)
	UpdateJoinRequest(j JoinRequest) error

	InsertNotification(n *Notification) error
	NotificationsFor(recipientID string, limit int) ([]Notification, error)
	MarkNotificationRead(id, recipientID string) error
}
