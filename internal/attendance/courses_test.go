package attendance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCourse(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "CSC305", f.course.Code)
	assert.Equal(t, CourseActive, f.course.Status)
	assert.Len(t, f.course.JoinCode, defaultCodeLength)

	_, err := f.svc.CreateCourse(f.ctx, f.lecturer, CreateCourseInput{Title: "Dup", Code: " CSC305 "})
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = f.svc.CreateCourse(f.ctx, Caller{ID: "s", Role: RoleStudent}, CreateCourseInput{Title: "x", Code: "y"})
	assert.ErrorIs(t, err, ErrNotLecturer)

	_, err = f.svc.CreateCourse(f.ctx, f.lecturer, CreateCourseInput{Title: " ", Code: "abc"})
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestListAndGetCourses(t *testing.T) {
	f := newFixture(t)
	students := f.enroll(1)

	mine, err := f.svc.ListCourses(f.ctx, f.lecturer)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	enrolled, err := f.svc.ListCourses(f.ctx, students[0])
	require.NoError(t, err)
	require.Len(t, enrolled, 1)
	assert.Equal(t, f.course.ID, enrolled[0].ID)

	_, err = f.svc.GetCourse(f.ctx, students[0], f.course.ID)
	assert.NoError(t, err)
	_, err = f.svc.GetCourse(f.ctx, Caller{ID: "other", Role: RoleStudent}, f.course.ID)
	assert.ErrorIs(t, err, ErrNotEnrolled)
	_, err = f.svc.GetCourse(f.ctx, f.lecturer, "missing")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestSetCourseStatusTransitions(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.SetCourseStatus(f.ctx, f.lecturer, f.course.ID, CourseArchived)
	require.NoError(t, err)
	assert.Equal(t, CourseArchived, c.Status)

	c, err = f.svc.SetCourseStatus(f.ctx, f.lecturer, f.course.ID, CourseActive)
	require.NoError(t, err)
	assert.Equal(t, CourseActive, c.Status)

	_, err = f.svc.SetCourseStatus(f.ctx, f.lecturer, f.course.ID, CourseCompleted)
	require.NoError(t, err)

	_, err = f.svc.SetCourseStatus(f.ctx, f.lecturer, f.course.ID, CourseActive)
	assert.Equal(t, KindInvalidState, KindOf(err))

	_, err = f.svc.SetCourseStatus(f.ctx, f.lecturer, f.course.ID, CourseStatus("deleted"))
	assert.Equal(t, KindInvalidInput, KindOf(err))

	_, err = f.svc.SetCourseStatus(f.ctx, Caller{ID: "x", Role: RoleLecturer}, f.course.ID, CourseArchived)
	assert.ErrorIs(t, err, ErrNotCourseOwner)
}

func TestRosterLinkOnApproval(t *testing.T) {
	f := newFixture(t)

	entries, err := f.svc.AddRosterEntries(f.ctx, f.lecturer, f.course.ID, []RosterInput{
		{Name: "Ada Obi", StudentNumber: "U001"},
		{Name: "Bayo Ade", StudentNumber: "U002"},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	_, err = f.svc.AddRosterEntries(f.ctx, f.lecturer, f.course.ID, []RosterInput{{Name: ""}})
	assert.Equal(t, KindInvalidInput, KindOf(err))

	ada := Caller{ID: "ada", Role: RoleStudent}
	req, err := f.svc.RequestJoin(f.ctx, ada, f.course.JoinCode, "")
	require.NoError(t, err)
	approved, err := f.svc.ApproveJoin(f.ctx, f.lecturer, req.ID, entries[0].ID)
	require.NoError(t, err)
	require.NotNil(t, approved.RosterEntryID)
	assert.Equal(t, entries[0].ID, *approved.RosterEntryID)

	roster, err := f.svc.Roster(f.ctx, f.lecturer, f.course.ID)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	for _, e := range roster {
		if e.ID == entries[0].ID {
			assert.True(t, e.Linked)
			require.NotNil(t, e.StudentID)
			assert.Equal(t, "ada", *e.StudentID)
		} else {
			assert.False(t, e.Linked)
		}
	}

	bayo := Caller{ID: "bayo", Role: RoleStudent}
	req, err = f.svc.RequestJoin(f.ctx, bayo, f.course.JoinCode, "")
	require.NoError(t, err)
	_, err = f.svc.ApproveJoin(f.ctx, f.lecturer, req.ID, entries[0].ID)
	assert.ErrorIs(t, err, ErrRosterEntryLinked)

	// the failed approval left nothing behind
	_, err = f.svc.GetCourse(f.ctx, bayo, f.course.ID)
	assert.ErrorIs(t, err, ErrNotEnrolled)
	pending, err := f.svc.JoinRequests(f.ctx, f.lecturer, f.course.ID, JoinPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRemoveAndReapproveKeepsCounters(t *testing.T) {
	f := newFixture(t)
	students := f.enroll(1)
	st := students[0]

	sess := f.start(50, 15)
	_, err := f.checkIn(st, sess.Code, centre)
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveStudent(f.ctx, f.lecturer, f.course.ID, st.ID))
	err = f.svc.RemoveStudent(f.ctx, f.lecturer, f.course.ID, st.ID)
	assert.Equal(t, KindNotFound, KindOf(err))

	req, err := f.svc.RequestJoin(f.ctx, st, f.course.JoinCode, "back again")
	require.NoError(t, err)
	_, err = f.svc.ApproveJoin(f.ctx, f.lecturer, req.ID, "")
	require.NoError(t, err)

	got := f.stats(st.ID)
	assert.True(t, got.Active)
	assert.Equal(t, 1, got.SessionsAttended)
	assert.Equal(t, 1, got.TotalSessions)
}

func TestRequestJoinRules(t *testing.T) {
	f := newFixture(t)
	st := Caller{ID: "s1", Role: RoleStudent}

	_, err := f.svc.RequestJoin(f.ctx, f.lecturer, f.course.JoinCode, "")
	assert.ErrorIs(t, err, ErrNotStudent)

	_, err = f.svc.RequestJoin(f.ctx, st, "NOPE99", "")
	assert.Equal(t, KindNotFound, KindOf(err))

	req, err := f.svc.RequestJoin(f.ctx, st, " "+f.course.JoinCode+" ", "hi")
	require.NoError(t, err)
	assert.Equal(t, JoinPending, req.Status)
	assert.Equal(t, "hi", req.Message)

	_, err = f.svc.RequestJoin(f.ctx, st, f.course.JoinCode, "")
	assert.ErrorIs(t, err, ErrJoinPending)

	requested := f.events.ofType(EventJoinRequested)
	require.Len(t, requested, 1)
	assert.Equal(t, []string{f.lecturer.ID}, requested[0].Recipients)

	_, err = f.svc.ApproveJoin(f.ctx, f.lecturer, req.ID, "")
	require.NoError(t, err)
	_, err = f.svc.RequestJoin(f.ctx, st, f.course.JoinCode, "")
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)

	_, err = f.svc.ApproveJoin(f.ctx, f.lecturer, req.ID, "")
	assert.ErrorIs(t, err, ErrJoinDecided)

	_, err = f.svc.SetCourseStatus(f.ctx, f.lecturer, f.course.ID, CourseArchived)
	require.NoError(t, err)
	_, err = f.svc.RequestJoin(f.ctx, Caller{ID: "s2", Role: RoleStudent}, f.course.JoinCode, "")
	assert.ErrorIs(t, err, ErrCourseInactive)
}

func TestRejectJoin(t *testing.T) {
	f := newFixture(t)
	st := Caller{ID: "s1", Role: RoleStudent}
	req, err := f.svc.RequestJoin(f.ctx, st, f.course.JoinCode, "")
	require.NoError(t, err)

	_, err = f.svc.RejectJoin(f.ctx, Caller{ID: "other", Role: RoleLecturer}, req.ID)
	assert.ErrorIs(t, err, ErrNotCourseOwner)

	rejected, err := f.svc.RejectJoin(f.ctx, f.lecturer, req.ID)
	require.NoError(t, err)
	assert.Equal(t, JoinRejected, rejected.Status)
	require.NotNil(t, rejected.DecidedAt)

	decided := f.events.ofType(EventJoinDecided)
	require.Len(t, decided, 1)
	assert.Equal(t, string(JoinRejected), decided[0].Status)
	assert.Equal(t, []string{"s1"}, decided[0].Recipients)

	_, err = f.svc.GetCourse(f.ctx, st, f.course.ID)
	assert.ErrorIs(t, err, ErrNotEnrolled)

	// a rejected student may ask again
	_, err = f.svc.RequestJoin(f.ctx, st, f.course.JoinCode, "")
	assert.NoError(t, err)

	all, err := f.svc.JoinRequests(f.ctx, f.lecturer, f.course.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.JoinRequests(f.ctx, f.lecturer, f.course.ID, JoinStatus("maybe"))
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestMemoryStoreRollsBackFailedTx(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertCourse(&Course{ID: "c1", Code: "A", JoinCode: "J"}); err != nil {
			return err
		}
		return Conflict("boom")
	})
	require.Error(t, err)

	err = store.InTx(ctx, func(tx Tx) error {
		_, err := tx.CourseByID("c1")
		return err
	})
	assert.Equal(t, KindNotFound, KindOf(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, store.InTx(cancelled, func(Tx) error { return nil }), context.Canceled)
}
