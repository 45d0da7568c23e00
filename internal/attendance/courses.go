package attendance

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateCourseInput describes a new course.
type CreateCourseInput struct {
	Title string `json:"title" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// RosterInput is one expected student on a course's attendance list.
type RosterInput struct {
	Name          string `json:"name" binding:"required"`
	StudentNumber string `json:"student_number"`
}

// ownedCourse loads a course the caller lectures.
func ownedCourse(tx Tx, caller Caller, courseID string) (Course, error) {
	c, err := tx.CourseByID(courseID)
	if err != nil {
		return Course{}, err
	}
	if c.LecturerID != caller.ID {
		return Course{}, ErrNotCourseOwner
	}
	return c, nil
}

// visibleCourse loads a course the caller lectures or is actively enrolled in.
func visibleCourse(tx Tx, caller Caller, courseID string) (Course, error) {
	c, err := tx.CourseByID(courseID)
	if err != nil {
		return Course{}, err
	}
	if c.LecturerID == caller.ID {
		return c, nil
	}
	st, err := tx.StatsFor(caller.ID, courseID)
	if KindOf(err) == KindNotFound || (err == nil && !st.Active) {
		return Course{}, ErrNotEnrolled
	}
	if err != nil {
		return Course{}, err
	}
	return c, nil
}

// CreateCourse creates an active course owned by the calling lecturer.
func (s *Service) CreateCourse(ctx context.Context, caller Caller, in CreateCourseInput) (Course, error) {
	if caller.ID == "" {
		return Course{}, ErrUnauthenticated
	}
	if caller.Role != RoleLecturer {
		return Course{}, ErrNotLecturer
	}
	title := strings.TrimSpace(in.Title)
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if title == "" || code == "" {
		return Course{}, invalidInput("title and code are required")
	}

	var c Course
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.CourseByCode(code); err == nil {
			return Conflict("course code already exists")
		} else if KindOf(err) != KindNotFound {
			return err
		}
		joinCode, err := uniqueJoinCode(tx, s.codeLength)
		if err != nil {
			return err
		}
		c = Course{
			ID:         uuid.NewString(),
			LecturerID: caller.ID,
			Title:      title,
			Code:       code,
			JoinCode:   joinCode,
			Status:     CourseActive,
			CreatedAt:  s.clock(),
		}
		return tx.InsertCourse(&c)
	})
	if err != nil {
		return Course{}, err
	}
	s.log.Info("course created", zap.String("course_id", c.ID), zap.String("code", c.Code))
	return c, nil
}

// ListCourses returns the courses a lecturer owns or a student is enrolled in.
func (s *Service) ListCourses(ctx context.Context, caller Caller) ([]Course, error) {
	if caller.ID == "" {
		return nil, ErrUnauthenticated
	}
	var out []Course
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		if caller.Role == RoleLecturer {
			out, err = tx.CoursesByLecturer(caller.ID)
		} else {
			out, err = tx.CoursesByStudent(caller.ID)
		}
		return err
	})
	return out, err
}

// GetCourse returns a course visible to the caller.
func (s *Service) GetCourse(ctx context.Context, caller Caller, courseID string) (Course, error) {
	if caller.ID == "" {
		return Course{}, ErrUnauthenticated
	}
	var c Course
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		c, err = visibleCourse(tx, caller, courseID)
		return err
	})
	return c, err
}

var courseTransitions = map[CourseStatus][]CourseStatus{
	CourseActive:   {CourseArchived, CourseCompleted},
	CourseArchived: {CourseActive},
}

func canTransition(from, to CourseStatus) bool {
	for _, next := range courseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SetCourseStatus moves a course between its administrative states.
func (s *Service) SetCourseStatus(ctx context.Context, caller Caller, courseID string, status CourseStatus) (Course, error) {
	if caller.ID == "" {
		return Course{}, ErrUnauthenticated
	}
	switch status {
	case CourseActive, CourseArchived, CourseCompleted:
	default:
		return Course{}, invalidInput("unknown course status " + string(status))
	}
	var c Course
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		c, err = ownedCourse(tx, caller, courseID)
		if err != nil {
			return err
		}
		if !canTransition(c.Status, status) {
			return newError(KindInvalidState, "course cannot move from "+string(c.Status)+" to "+string(status))
		}
		if err := tx.UpdateCourseStatus(c.ID, status); err != nil {
			return err
		}
		c.Status = status
		return nil
	})
	if err != nil {
		return Course{}, err
	}
	s.log.Info("course status changed", zap.String("course_id", c.ID), zap.String("status", string(status)))
	return c, nil
}

// AddRosterEntries appends expected students to a course's attendance list.
func (s *Service) AddRosterEntries(ctx context.Context, caller Caller, courseID string, entries []RosterInput) ([]RosterEntry, error) {
	if caller.ID == "" {
		return nil, ErrUnauthenticated
	}
	if len(entries) == 0 {
		return nil, invalidInput("at least one roster entry is required")
	}
	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return nil, invalidInput("roster entry name is required")
		}
	}
	out := make([]RosterEntry, 0, len(entries))
	err := s.store.InTx(ctx, func(tx Tx) error {
		out = out[:0]
		if _, err := ownedCourse(tx, caller, courseID); err != nil {
			return err
		}
		now := s.clock()
		for _, in := range entries {
			e := RosterEntry{
				ID:            uuid.NewString(),
				CourseID:      courseID,
				Name:          strings.TrimSpace(in.Name),
				StudentNumber: strings.TrimSpace(in.StudentNumber),
				CreatedAt:     now,
			}
			if err := tx.InsertRosterEntry(&e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Roster lists a course's attendance list for its lecturer.
func (s *Service) Roster(ctx context.Context, caller Caller, courseID string) ([]RosterEntry, error) {
	if caller.ID == "" {
		return nil, ErrUnauthenticated
	}
	var out []RosterEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := ownedCourse(tx, caller, courseID); err != nil {
			return err
		}
		var err error
		out, err = tx.RosterByCourse(courseID)
		return err
	})
	return out, err
}

// RemoveStudent deactivates a student's enrollment. Counters are kept so a
// later re-approval resumes them.
func (s *Service) RemoveStudent(ctx context.Context, caller Caller, courseID, studentID string) error {
	if caller.ID == "" {
		return ErrUnauthenticated
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		if _, err := ownedCourse(tx, caller, courseID); err != nil {
			return err
		}
		st, err := tx.StatsFor(studentID, courseID)
		if err != nil {
			return err
		}
		if !st.Active {
			return NotFound("enrollment")
		}
		st.Active = false
		st.UpdatedAt = s.clock()
		return tx.UpdateStats(st)
	})
}
