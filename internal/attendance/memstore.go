package attendance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps all state in process. Transactions are serialized behind
// one mutex and run against a copy of the state that replaces the live state
// only when the transaction succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// InTx implements Store.
func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.state.clone()
	if err := fn(&memTx{st: next}); err != nil {
		return err
	}
	m.state = next
	return nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

type memState struct {
	users         map[string]User
	courses       map[string]Course
	roster        map[string]RosterEntry
	stats         map[string]StudentCourseStats
	sessions      map[string]Session
	records       map[string]Record
	joins         map[string]JoinRequest
	notifications map[string]Notification
}

func newMemState() *memState {
	return &memState{
		users:         map[string]User{},
		courses:       map[string]Course{},
		roster:        map[string]RosterEntry{},
		stats:         map[string]StudentCourseStats{},
		sessions:      map[string]Session{},
		records:       map[string]Record{},
		joins:         map[string]JoinRequest{},
		notifications: map[string]Notification{},
	}
}

func (s *memState) clone() *memState {
	out := newMemState()
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.courses {
		out.courses[k] = v
	}
	for k, v := range s.roster {
		out.roster[k] = v
	}
	for k, v := range s.stats {
		out.stats[k] = v
	}
	for k, v := range s.sessions {
		out.sessions[k] = copySession(v)
	}
	for k, v := range s.records {
		out.records[k] = v
	}
	for k, v := range s.joins {
		out.joins[k] = v
	}
	for k, v := range s.notifications {
		out.notifications[k] = v
	}
	return out
}

func copySession(s Session) Session {
	s.EnrolledStudents = append(StringList{}, s.EnrolledStudents...)
	s.PresentStudents = append(StringList{}, s.PresentStudents...)
	return s
}

type memTx struct {
	st *memState
}

// users

func (t *memTx) InsertUser(u *User) error {
	for _, v := range t.st.users {
		if strings.EqualFold(v.Email, u.Email) {
			return Conflict("email already registered")
		}
	}
	t.st.users[u.ID] = *u
	return nil
}

func (t *memTx) UserByID(id string) (User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return User{}, NotFound("user")
	}
	return u, nil
}

func (t *memTx) UserByEmail(email string) (User, error) {
	for _, v := range t.st.users {
		if strings.EqualFold(v.Email, email) {
			return v, nil
		}
	}
	return User{}, NotFound("user")
}

// courses

func (t *memTx) InsertCourse(c *Course) error {
	for _, v := range t.st.courses {
		if v.Code == c.Code {
			return Conflict("course code already exists")
		}
		if v.JoinCode == c.JoinCode {
			return Conflict("join code already exists")
		}
	}
	t.st.courses[c.ID] = *c
	return nil
}

func (t *memTx) CourseByID(id string) (Course, error) {
	c, ok := t.st.courses[id]
	if !ok {
		return Course{}, NotFound("course")
	}
	return c, nil
}

func (t *memTx) CourseByCode(code string) (Course, error) {
	for _, v := range t.st.courses {
		if v.Code == code {
			return v, nil
		}
	}
	return Course{}, NotFound("course")
}

func (t *memTx) CourseByJoinCode(joinCode string) (Course, error) {
	for _, v := range t.st.courses {
		if v.JoinCode == joinCode {
			return v, nil
		}
	}
	return Course{}, NotFound("course")
}

func (t *memTx) CoursesByLecturer(lecturerID string) ([]Course, error) {
	out := []Course{}
	for _, v := range t.st.courses {
		if v.LecturerID == lecturerID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (t *memTx) CoursesByStudent(studentID string) ([]Course, error) {
	out := []Course{}
	for _, st := range t.st.stats {
		if st.StudentID != studentID || !st.Active {
			continue
		}
		if c, ok := t.st.courses[st.CourseID]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (t *memTx) UpdateCourseStatus(id string, status CourseStatus) error {
	c, ok := t.st.courses[id]
	if !ok {
		return NotFound("course")
	}
	c.Status = status
	t.st.courses[id] = c
	return nil
}

// roster

func (t *memTx) InsertRosterEntry(e *RosterEntry) error {
	t.st.roster[e.ID] = *e
	return nil
}

func (t *memTx) RosterEntryByID(id string) (RosterEntry, error) {
	e, ok := t.st.roster[id]
	if !ok {
		return RosterEntry{}, NotFound("roster entry")
	}
	return e, nil
}

func (t *memTx) RosterByCourse(courseID string) ([]RosterEntry, error) {
	out := []RosterEntry{}
	for _, v := range t.st.roster {
		if v.CourseID == courseID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (t *memTx) LinkRosterEntry(id, studentID string) error {
	e, ok := t.st.roster[id]
	if !ok {
		return NotFound("roster entry")
	}
	e.Linked = true
	e.StudentID = &studentID
	t.st.roster[id] = e
	return nil
}

// stats

func (t *memTx) InsertStats(st *StudentCourseStats) error {
	for _, v := range t.st.stats {
		if v.StudentID == st.StudentID && v.CourseID == st.CourseID {
			return Conflict("enrollment already exists")
		}
	}
	t.st.stats[st.ID] = *st
	return nil
}

func (t *memTx) StatsFor(studentID, courseID string) (StudentCourseStats, error) {
	for _, v := range t.st.stats {
		if v.StudentID == studentID && v.CourseID == courseID {
			return v, nil
		}
	}
	return StudentCourseStats{}, NotFound("enrollment")
}

func (t *memTx) ActiveStatsByCourse(courseID string) ([]StudentCourseStats, error) {
	out := []StudentCourseStats{}
	for _, v := range t.st.stats {
		if v.CourseID == courseID && v.Active {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i].EnrolledAt, out[j].EnrolledAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (t *memTx) StatsByStudent(studentID string) ([]StudentCourseStats, error) {
	out := []StudentCourseStats{}
	for _, v := range t.st.stats {
		if v.StudentID == studentID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i].EnrolledAt, out[j].EnrolledAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (t *memTx) UpdateStats(st StudentCourseStats) error {
	if _, ok := t.st.stats[st.ID]; !ok {
		return NotFound("enrollment")
	}
	t.st.stats[st.ID] = st
	return nil
}

// sessions

func (t *memTx) InsertSession(s *Session) error {
	t.st.sessions[s.ID] = copySession(*s)
	return nil
}

func (t *memTx) SessionByID(id string) (Session, error) {
	s, ok := t.st.sessions[id]
	if !ok {
		return Session{}, NotFound("session")
	}
	return copySession(s), nil
}

func (t *memTx) SessionByCode(code string) (Session, error) {
	var (
		found  Session
		exists bool
	)
	for _, v := range t.st.sessions {
		if v.Code != code {
			continue
		}
		if !exists || before(found.CreatedAt, v.CreatedAt, found.ID, v.ID) {
			found, exists = v, true
		}
	}
	if !exists {
		return Session{}, NotFound("session")
	}
	return copySession(found), nil
}

func (t *memTx) SessionsByCourse(courseID string) ([]Session, error) {
	out := []Session{}
	for _, v := range t.st.sessions {
		if v.CourseID == courseID {
			out = append(out, copySession(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i].StartTime, out[j].StartTime, out[i].ID, out[j].ID) })
	return out, nil
}

func (t *memTx) ExpiredSessions(now time.Time) ([]Session, error) {
	out := []Session{}
	for _, v := range t.st.sessions {
		if v.IsActive && v.EndTime.Before(now) {
			out = append(out, copySession(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i].EndTime, out[j].EndTime, out[i].ID, out[j].ID) })
	return out, nil
}

func (t *memTx) UpdateSession(s Session) error {
	if _, ok := t.st.sessions[s.ID]; !ok {
		return NotFound("session")
	}
	t.st.sessions[s.ID] = copySession(s)
	return nil
}

// records

func (t *memTx) InsertRecord(r *Record) error {
	for _, v := range t.st.records {
		if v.SessionID == r.SessionID && v.StudentID == r.StudentID {
			return ErrAlreadyCheckedIn
		}
	}
	t.st.records[r.ID] = *r
	return nil
}

func (t *memTx) RecordFor(sessionID, studentID string) (Record, error) {
	for _, v := range t.st.records {
		if v.SessionID == sessionID && v.StudentID == studentID {
			return v, nil
		}
	}
	return Record{}, NotFound("attendance record")
}

func (t *memTx) RecordsBySession(sessionID string) ([]Record, error) {
	out := []Record{}
	for _, v := range t.st.records {
		if v.SessionID == sessionID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

// join requests

func (t *memTx) InsertJoinRequest(j *JoinRequest) error {
	t.st.joins[j.ID] = *j
	return nil
}

func (t *memTx) JoinRequestByID(id string) (JoinRequest, error) {
	j, ok := t.st.joins[id]
	if !ok {
		return JoinRequest{}, NotFound("join request")
	}
	return j, nil
}

func (t *memTx) PendingJoinRequest(courseID, studentID string) (JoinRequest, error) {
	for _, v := range t.st.joins {
		if v.CourseID == courseID && v.StudentID == studentID && v.Status == JoinPending {
			return v, nil
		}
	}
	return JoinRequest{}, NotFound("join request")
}

func (t *memTx) JoinRequestsByCourse(courseID string, status JoinStatus) ([]JoinRequest, error) {
	out := []JoinRequest{}
	for _, v := range t.st.joins {
		if v.CourseID == courseID && (status == "" || v.Status == status) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (t *memTx) UpdateJoinRequest(j JoinRequest) error {
	if _, ok := t.st.joins[j.ID]; !ok {
		return NotFound("join request")
	}
	t.st.joins[j.ID] = j
	return nil
}

// notifications

func (t *memTx) InsertNotification(n *Notification) error {
	t.st.notifications[n.ID] = *n
	return nil
}

func (t *memTx) NotificationsFor(recipientID string, limit int) ([]Notification, error) {
	out := []Notification{}
	for _, v := range t.st.notifications {
		if v.RecipientID == recipientID {
			out = append(out, v)
		}
	}
	// newest first
	sort.Slice(out, func(i, j int) bool { return before(out[j].CreatedAt, out[i].CreatedAt, out[j].ID, out[i].ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) MarkNotificationRead(id, recipientID string) error {
	n, ok := t.st.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return NotFound("notification")
	}
	n.Read = true
	t.st.notifications[id] = n
	return nil
}

// before orders by time, then id.
func before(a, b time.Time, aID, bID string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID < bID
}
