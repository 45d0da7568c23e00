package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const maxTxAttempts = 5

// SQLStore persists attendance data through database/sql. Postgres (pgx)
// transactions run at serializable isolation and are retried on
// serialization failures; SQLite relies on immediate write locks.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open database. The schema must already be migrated.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) postgres() bool {
	return s.db.DriverName() == "pgx" || s.db.DriverName() == "postgres"
}

// InTx implements Store.
func (s *SQLStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	var opts *sql.TxOptions
	if s.postgres() {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, opts, fn)
		if err == nil || !retryable(err) {
			return err
		}
		select {
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

func (s *SQLStore) runTx(ctx context.Context, opts *sql.TxOptions, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(&sqlTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements Store.
func (s *SQLStore) Close() error { return s.db.Close() }

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return sqliteBusy(err)
}

func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return sqliteUnique(err)
}

type sqlTx struct {
	ctx context.Context
	tx  *sqlx.Tx
}

func (t *sqlTx) exec(query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, t.tx.Rebind(query), args...)
}

func (t *sqlTx) get(dest any, entity, query string, args ...any) error {
	err := t.tx.GetContext(t.ctx, dest, t.tx.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound(entity)
	}
	return err
}

func (t *sqlTx) selectAll(dest any, query string, args ...any) error {
	return t.tx.SelectContext(t.ctx, dest, t.tx.Rebind(query), args...)
}

// insert runs query and maps a uniqueness violation to conflict.
func (t *sqlTx) insert(conflict error, query string, args ...any) error {
	_, err := t.exec(query, args...)
	if err != nil && uniqueViolation(err) {
		return conflict
	}
	return err
}

// update runs query and reports a missing row as not found.
func (t *sqlTx) update(entity, query string, args ...any) error {
	res, err := t.exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return NotFound(entity)
	}
	return nil
}

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// users

const userColumns = `id, name, email, password_hash, role, created_at`

func (t *sqlTx) InsertUser(u *User) error {
	return t.insert(Conflict("email already registered"),
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, strings.ToLower(u.Email), u.PasswordHash, u.Role, utc(u.CreatedAt))
}

func (t *sqlTx) UserByID(id string) (User, error) {
	var u User
	err := t.get(&u, "user", `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return u, err
}

func (t *sqlTx) UserByEmail(email string) (User, error) {
	var u User
	err := t.get(&u, "user", `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email))
	return u, err
}

// courses

const courseColumns = `id, lecturer_id, title, code, join_code, status, created_at`

func (t *sqlTx) InsertCourse(c *Course) error {
	return t.insert(Conflict("course code already exists"),
		`INSERT INTO courses (`+courseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.LecturerID, c.Title, c.Code, c.JoinCode, c.Status, utc(c.CreatedAt))
}

func (t *sqlTx) CourseByID(id string) (Course, error) {
	var c Course
	err := t.get(&c, "course", `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id)
	return c, err
}

func (t *sqlTx) CourseByCode(code string) (Course, error) {
	var c Course
	err := t.get(&c, "course", `SELECT `+courseColumns+` FROM courses WHERE code = ?`, code)
	return c, err
}

func (t *sqlTx) CourseByJoinCode(joinCode string) (Course, error) {
	var c Course
	err := t.get(&c, "course", `SELECT `+courseColumns+` FROM courses WHERE join_code = ?`, joinCode)
	return c, err
}

func (t *sqlTx) CoursesByLecturer(lecturerID string) ([]Course, error) {
	out := []Course{}
	err := t.selectAll(&out, `SELECT `+courseColumns+` FROM courses WHERE lecturer_id = ? ORDER BY created_at, id`, lecturerID)
	return out, err
}

func (t *sqlTx) CoursesByStudent(studentID string) ([]Course, error) {
	out := []Course{}
	err := t.selectAll(&out, `
		SELECT c.id, c.lecturer_id, c.title, c.code, c.join_code, c.status, c.created_at
		FROM courses c
		JOIN student_course_stats s ON s.course_id = c.id
		WHERE s.student_id = ? AND s.active = ?
		ORDER BY c.created_at, c.id`, studentID, true)
	return out, err
}

func (t *sqlTx) UpdateCourseStatus(id string, status CourseStatus) error {
	return t.update("course", `UPDATE courses SET status = ? WHERE id = ?`, status, id)
}

// roster

const rosterColumns = `id, course_id, name, student_number, linked, student_id, created_at`

func (t *sqlTx) InsertRosterEntry(e *RosterEntry) error {
	return t.insert(Conflict("roster entry already exists"),
		`INSERT INTO roster_entries (`+rosterColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CourseID, e.Name, e.StudentNumber, e.Linked, e.StudentID, utc(e.CreatedAt))
}

func (t *sqlTx) RosterEntryByID(id string) (RosterEntry, error) {
	var e RosterEntry
	err := t.get(&e, "roster entry", `SELECT `+rosterColumns+` FROM roster_entries WHERE id = ?`, id)
	return e, err
}

func (t *sqlTx) RosterByCourse(courseID string) ([]RosterEntry, error) {
	out := []RosterEntry{}
	err := t.selectAll(&out, `SELECT `+rosterColumns+` FROM roster_entries WHERE course_id = ? ORDER BY created_at, id`, courseID)
	return out, err
}

func (t *sqlTx) LinkRosterEntry(id, studentID string) error {
	return t.update("roster entry", `UPDATE roster_entries SET linked = ?, student_id = ? WHERE id = ?`, true, studentID, id)
}

// stats

const statsColumns = `id, student_id, course_id, active, sessions_attended, total_sessions, attendance_percentage, enrolled_at, updated_at`

func (t *sqlTx) InsertStats(st *StudentCourseStats) error {
	return t.insert(Conflict("enrollment already exists"),
		`INSERT INTO student_course_stats (`+statsColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.StudentID, st.CourseID, st.Active, st.SessionsAttended, st.TotalSessions,
		st.AttendancePercentage, utc(st.EnrolledAt), utc(st.UpdatedAt))
}

func (t *sqlTx) StatsFor(studentID, courseID string) (StudentCourseStats, error) {
	var st StudentCourseStats
	err := t.get(&st, "enrollment",
		`SELECT `+statsColumns+` FROM student_course_stats WHERE student_id = ? AND course_id = ?`, studentID, courseID)
	return st, err
}

func (t *sqlTx) ActiveStatsByCourse(courseID string) ([]StudentCourseStats, error) {
	out := []StudentCourseStats{}
	err := t.selectAll(&out,
		`SELECT `+statsColumns+` FROM student_course_stats WHERE course_id = ? AND active = ? ORDER BY enrolled_at, id`, courseID, true)
	return out, err
}

func (t *sqlTx) StatsByStudent(studentID string) ([]StudentCourseStats, error) {
	out := []StudentCourseStats{}
	err := t.selectAll(&out,
		`SELECT `+statsColumns+` FROM student_course_stats WHERE student_id = ? ORDER BY enrolled_at, id`, studentID)
	return out, err
}

func (t *sqlTx) UpdateStats(st StudentCourseStats) error {
	return t.update("enrollment", `
		UPDATE student_course_stats
		SET active = ?, sessions_attended = ?, total_sessions = ?, attendance_percentage = ?, enrolled_at = ?, updated_at = ?
		WHERE id = ?`,
		st.Active, st.SessionsAttended, st.TotalSessions, st.AttendancePercentage, utc(st.EnrolledAt), utc(st.UpdatedAt), st.ID)
}

// sessions

const sessionColumns = `id, course_id, name, code, latitude, longitude, radius_meters, start_time, end_time, is_active,
	enrolled_students, present_students, total_students_enrolled, attendance_percentage, created_at, closed_at`

func (t *sqlTx) InsertSession(s *Session) error {
	return t.insert(Conflict("session already exists"),
		`INSERT INTO attendance_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CourseID, s.Name, s.Code, s.Latitude, s.Longitude, s.RadiusMeters, utc(s.StartTime), utc(s.EndTime),
		s.IsActive, s.EnrolledStudents, s.PresentStudents, s.TotalStudentsEnrolled, s.AttendancePercentage, utc(s.CreatedAt), utcPtr(s.ClosedAt))
}

func (t *sqlTx) SessionByID(id string) (Session, error) {
	var s Session
	err := t.get(&s, "session", `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = ?`, id)
	return s, err
}

func (t *sqlTx) SessionByCode(code string) (Session, error) {
	var s Session
	err := t.get(&s, "session",
		`SELECT `+sessionColumns+` FROM attendance_sessions WHERE code = ? ORDER BY created_at DESC, id DESC LIMIT 1`, code)
	return s, err
}

func (t *sqlTx) SessionsByCourse(courseID string) ([]Session, error) {
	out := []Session{}
	err := t.selectAll(&out,
		`SELECT `+sessionColumns+` FROM attendance_sessions WHERE course_id = ? ORDER BY start_time, id`, courseID)
	return out, err
}

func (t *sqlTx) ExpiredSessions(now time.Time) ([]Session, error) {
	out := []Session{}
	err := t.selectAll(&out,
		`SELECT `+sessionColumns+` FROM attendance_sessions WHERE is_active = ? AND end_time < ? ORDER BY end_time, id`, true, utc(now))
	return out, err
}

func (t *sqlTx) UpdateSession(s Session) error {
	return t.update("session", `
		UPDATE attendance_sessions
		SET is_active = ?, present_students = ?, total_students_enrolled = ?, attendance_percentage = ?, closed_at = ?
		WHERE id = ?`,
		s.IsActive, s.PresentStudents, s.TotalStudentsEnrolled, s.AttendancePercentage, utcPtr(s.ClosedAt), s.ID)
}

// records

const recordColumns = `id, session_id, course_id, student_id, status, checked_in_at, latitude, longitude, distance_meters, created_at`

func (t *sqlTx) InsertRecord(r *Record) error {
	return t.insert(ErrAlreadyCheckedIn,
		`INSERT INTO attendance_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.CourseID, r.StudentID, r.Status, utcPtr(r.CheckedInAt), r.Latitude, r.Longitude,
		r.DistanceMeters, utc(r.CreatedAt))
}

func (t *sqlTx) RecordFor(sessionID, studentID string) (Record, error) {
	var r Record
	err := t.get(&r, "attendance record",
		`SELECT `+recordColumns+` FROM attendance_records WHERE session_id = ? AND student_id = ?`, sessionID, studentID)
	return r, err
}

func (t *sqlTx) RecordsBySession(sessionID string) ([]Record, error) {
	out := []Record{}
	err := t.selectAll(&out,
		`SELECT `+recordColumns+` FROM attendance_records WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	return out, err
}

// join requests

const joinColumns = `id, course_id, student_id, message, status, roster_entry_id, created_at, decided_at`

func (t *sqlTx) InsertJoinRequest(j *JoinRequest) error {
	return t.insert(ErrJoinPending,
		`INSERT INTO join_requests (`+joinColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.CourseID, j.StudentID, j.Message, j.Status, j.RosterEntryID, utc(j.CreatedAt), utcPtr(j.DecidedAt))
}

func (t *sqlTx) JoinRequestByID(id string) (JoinRequest, error) {
	var j JoinRequest
	err := t.get(&j, "join request", `SELECT `+joinColumns+` FROM join_requests WHERE id = ?`, id)
	return j, err
}

func (t *sqlTx) PendingJoinRequest(courseID, studentID string) (JoinRequest, error) {
	var j JoinRequest
	err := t.get(&j, "join request",
		`SELECT `+joinColumns+` FROM join_requests WHERE course_id = ? AND student_id = ? AND status = ?`,
		courseID, studentID, JoinPending)
	return j, err
}

func (t *sqlTx) JoinRequestsByCourse(courseID string, status JoinStatus) ([]JoinRequest, error) {
	out := []JoinRequest{}
	query := `SELECT ` + joinColumns + ` FROM join_requests WHERE course_id = ?`
	args := []any{courseID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	err := t.selectAll(&out, query+` ORDER BY created_at, id`, args...)
	return out, err
}

func (t *sqlTx) UpdateJoinRequest(j JoinRequest) error {
	return t.update("join request",
		`UPDATE join_requests SET status = ?, roster_entry_id = ?, decided_at = ? WHERE id = ?`,
		j.Status, j.RosterEntryID, utcPtr(j.DecidedAt), j.ID)
}

// notifications

const notificationColumns = `id, recipient_id, title, message, kind, is_read, created_at`

func (t *sqlTx) InsertNotification(n *Notification) error {
	return t.insert(Conflict("notification already exists"),
		`INSERT INTO notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, n.Title, n.Message, n.Kind, n.Read, utc(n.CreatedAt))
}

func (t *sqlTx) NotificationsFor(recipientID string, limit int) ([]Notification, error) {
	out := []Notification{}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{recipientID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	err := t.selectAll(&out, query, args...)
	return out, err
}

func (t *sqlTx) MarkNotificationRead(id, recipientID string) error {
	return t.update("notification",
		`UPDATE notifications SET is_read = ? WHERE id = ? AND recipient_id = ?`, true, id, recipientID)
}
