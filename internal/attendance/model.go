package attendance

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"classsync/internal/geo"
)

// Role is the caller's role, carried in the access token.
type Role string

const (
	RoleLecturer Role = "lecturer"
	RoleStudent  Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleLecturer || r == RoleStudent }

// Caller identifies who is invoking an operation. A zero Caller is anonymous.
type Caller struct {
	ID   string
	Role Role
}

// User is a registered account.
type User struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CourseStatus is the administrative state of a course.
type CourseStatus string

const (
	CourseActive    CourseStatus = "active"
	CourseArchived  CourseStatus = "archived"
	CourseCompleted CourseStatus = "completed"
)

// Course is owned by exactly one lecturer.
type Course struct {
	ID         string       `db:"id" json:"id"`
	LecturerID string       `db:"lecturer_id" json:"lecturer_id"`
	Title      string       `db:"title" json:"title"`
	Code       string       `db:"code" json:"code"`
	JoinCode   string       `db:"join_code" json:"join_code"`
	Status     CourseStatus `db:"status" json:"status"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// RosterEntry is an expected student on a course's attendance list, optionally
// linked to an authenticated student account.
type RosterEntry struct {
	ID            string    `db:"id" json:"id"`
	CourseID      string    `db:"course_id" json:"course_id"`
	Name          string    `db:"name" json:"name"`
	StudentNumber string    `db:"student_number" json:"student_number"`
	Linked        bool      `db:"linked" json:"linked"`
	StudentID     *string   `db:"student_id" json:"student_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// SessionStatus is derived from IsActive and the session window at read time.
type SessionStatus string

const (
	SessionOpen    SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
	SessionClosed  SessionStatus = "closed"
)

// Session is one GPS-bounded attendance window for a course.
type Session struct {
	ID                    string     `db:"id" json:"id"`
	CourseID              string     `db:"course_id" json:"course_id"`
	Name                  string     `db:"name" json:"name"`
	Code                  string     `db:"code" json:"code"`
	Latitude              float64    `db:"latitude" json:"latitude"`
	Longitude             float64    `db:"longitude" json:"longitude"`
	RadiusMeters          float64    `db:"radius_meters" json:"radius_meters"`
	StartTime             time.Time  `db:"start_time" json:"start_time"`
	EndTime               time.Time  `db:"end_time" json:"end_time"`
	IsActive              bool       `db:"is_active" json:"is_active"`
	EnrolledStudents      StringList `db:"enrolled_students" json:"enrolled_students"`
	PresentStudents       StringList `db:"present_students" json:"present_students"`
	TotalStudentsEnrolled int        `db:"total_students_enrolled" json:"total_students_enrolled"`
	AttendancePercentage  float64    `db:"attendance_percentage" json:"attendance_percentage"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	ClosedAt              *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// Centroid returns the session's check-in anchor.
func (s Session) Centroid() geo.Point {
	return geo.Point{Lat: s.Latitude, Lng: s.Longitude}
}

// OpenAt reports whether a check-in at now falls inside the session window.
func (s Session) OpenAt(now time.Time) bool {
	return s.IsActive && !now.Before(s.StartTime) && !now.After(s.EndTime)
}

// Status derives the session state at now.
func (s Session) Status(now time.Time) SessionStatus {
	switch {
	case !s.IsActive:
		return SessionClosed
	case now.After(s.EndTime):
		return SessionExpired
	default:
		return SessionOpen
	}
}

// RecordStatus is the outcome recorded for one student in one session.
type RecordStatus string

const (
	StatusPresent RecordStatus = "present"
	StatusAbsent  RecordStatus = "absent"
)

// Record is the single attendance outcome of a (session, student) pair.
type Record struct {
	ID             string       `db:"id" json:"id"`
	SessionID      string       `db:"session_id" json:"session_id"`
	CourseID       string       `db:"course_id" json:"course_id"`
	StudentID      string       `db:"student_id" json:"student_id"`
	Status         RecordStatus `db:"status" json:"status"`
	CheckedInAt    *time.Time   `db:"checked_in_at" json:"checked_in_at,omitempty"`
	Latitude       *float64     `db:"latitude" json:"latitude,omitempty"`
	Longitude      *float64     `db:"longitude" json:"longitude,omitempty"`
	DistanceMeters *float64     `db:"distance_meters" json:"distance_meters,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// StudentCourseStats is a student's enrollment in a course together with the
// running counters behind their attendance percentage.
type StudentCourseStats struct {
	ID                   string    `db:"id" json:"id"`
	StudentID            string    `db:"student_id" json:"student_id"`
	CourseID             string    `db:"course_id" json:"course_id"`
	Active               bool      `db:"active" json:"active"`
	SessionsAttended     int       `db:"sessions_attended" json:"sessions_attended"`
	TotalSessions        int       `db:"total_sessions" json:"total_sessions"`
	AttendancePercentage float64   `db:"attendance_percentage" json:"attendance_percentage"`
	EnrolledAt           time.Time `db:"enrolled_at" json:"enrolled_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// JoinStatus is the state of a join request.
type JoinStatus string

const (
	JoinPending  JoinStatus = "pending"
	JoinApproved JoinStatus = "approved"
	JoinRejected JoinStatus = "rejected"
)

// JoinRequest is a student's request to enroll in a course.
type JoinRequest struct {
	ID            string     `db:"id" json:"id"`
	CourseID      string     `db:"course_id" json:"course_id"`
	StudentID     string     `db:"student_id" json:"student_id"`
	Message       string     `db:"message" json:"message,omitempty"`
	Status        JoinStatus `db:"status" json:"status"`
	RosterEntryID *string    `db:"roster_entry_id" json:"roster_entry_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	DecidedAt     *time.Time `db:"decided_at" json:"decided_at,omitempty"`
}

// Notification is an in-app message kept for its recipient.
type Notification struct {
	ID          string    `db:"id" json:"id"`
	RecipientID string    `db:"recipient_id" json:"recipient_id"`
	Title       string    `db:"title" json:"title"`
	Message     string    `db:"message" json:"message"`
	Kind        string    `db:"kind" json:"kind"`
	Read        bool      `db:"is_read" json:"read"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// StringList is stored as a JSON array in a text column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("string list: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("string list: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

// Contains reports whether id is in the list.
func (l StringList) Contains(id string) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}
