package attendance

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestJoin files a pending request for the caller to join the course with
// joinCode.
func (s *Service) RequestJoin(ctx context.Context, caller Caller, joinCode, message string) (JoinRequest, error) {
	if caller.ID == "" {
		return JoinRequest{}, ErrUnauthenticated
	}
	if caller.Role != RoleStudent {
		return JoinRequest{}, ErrNotStudent
	}
	joinCode = normalizeCode(joinCode)
	if joinCode == "" {
		return JoinRequest{}, invalidInput("join code is required")
	}

	var (
		req    JoinRequest
		course Course
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		course, err = tx.CourseByJoinCode(joinCode)
		if err != nil {
			return err
		}
		if course.Status != CourseActive {
			return ErrCourseInactive
		}
		if st, err := tx.StatsFor(caller.ID, course.ID); err == nil && st.Active {
			return ErrAlreadyEnrolled
		} else if err != nil && KindOf(err) != KindNotFound {
			return err
		}
		if _, err := tx.PendingJoinRequest(course.ID, caller.ID); err == nil {
			return ErrJoinPending
		} else if KindOf(err) != KindNotFound {
			return err
		}
		req = JoinRequest{
			ID:        uuid.NewString(),
			CourseID:  course.ID,
			StudentID: caller.ID,
			Message:   strings.TrimSpace(message),
			Status:    JoinPending,
			CreatedAt: s.clock(),
		}
		return tx.InsertJoinRequest(&req)
	})
	if err != nil {
		return JoinRequest{}, err
	}

	s.emit(ctx, Event{
		Type:          EventJoinRequested,
		CourseID:      course.ID,
		CourseTitle:   course.Title,
		LecturerID:    course.LecturerID,
		StudentID:     caller.ID,
		JoinRequestID: req.ID,
		Status:        string(JoinPending),
		Recipients:    []string{course.LecturerID},
		At:            req.CreatedAt,
	})
	return req, nil
}

// JoinRequests lists a course's join requests, filtered by status when set.
func (s *Service) JoinRequests(ctx context.Context, caller Caller, courseID string, status JoinStatus) ([]JoinRequest, error) {
	if caller.ID == "" {
		return nil, ErrUnauthenticated
	}
	switch status {
	case "", JoinPending, JoinApproved, JoinRejected:
	default:
		return nil, invalidInput("unknown join request status " + string(status))
	}
	var out []JoinRequest
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := ownedCourse(tx, caller, courseID); err != nil {
			return err
		}
		var err error
		out, err = tx.JoinRequestsByCourse(courseID, status)
		return err
	})
	return out, err
}

// ApproveJoin enrolls the requesting student, creating or reactivating their
// stats row. A non-empty rosterEntryID links that roster entry to the student.
func (s *Service) ApproveJoin(ctx context.Context, caller Caller, requestID, rosterEntryID string) (JoinRequest, error) {
	return s.decideJoin(ctx, caller, requestID, JoinApproved, rosterEntryID)
}

// RejectJoin declines a pending join request.
func (s *Service) RejectJoin(ctx context.Context, caller Caller, requestID string) (JoinRequest, error) {
	return s.decideJoin(ctx, caller, requestID, JoinRejected, "")
}

func (s *Service) decideJoin(ctx context.Context, caller Caller, requestID string, decision JoinStatus, rosterEntryID string) (JoinRequest, error) {
	if caller.ID == "" {
		return JoinRequest{}, ErrUnauthenticated
	}
	var (
		req    JoinRequest
		course Course
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		req, err = tx.JoinRequestByID(requestID)
		if err != nil {
			return err
		}
		course, err = ownedCourse(tx, caller, req.CourseID)
		if err != nil {
			return err
		}
		if req.Status != JoinPending {
			return ErrJoinDecided
		}

		now := s.clock()
		if decision == JoinApproved {
			if err := s.enroll(tx, req.StudentID, course.ID); err != nil {
				return err
			}
			if rosterEntryID != "" {
				if err := linkRoster(tx, course.ID, rosterEntryID, req.StudentID); err != nil {
					return err
				}
				req.RosterEntryID = &rosterEntryID
			}
		}
		req.Status = decision
		req.DecidedAt = &now
		return tx.UpdateJoinRequest(req)
	})
	if err != nil {
		return JoinRequest{}, err
	}

	s.log.Info("join request decided",
		zap.String("join_request_id", req.ID),
		zap.String("course_id", req.CourseID),
		zap.String("status", string(decision)),
	)
	s.emit(ctx, Event{
		Type:          EventJoinDecided,
		CourseID:      course.ID,
		CourseTitle:   course.Title,
		LecturerID:    course.LecturerID,
		StudentID:     req.StudentID,
		JoinRequestID: req.ID,
		Status:        string(decision),
		Recipients:    []string{req.StudentID},
		At:            *req.DecidedAt,
	})
	return req, nil
}

// enroll creates the stats row or reactivates an inactive one. A reactivated
// enrollment keeps its counters and restarts its enrollment time.
func (s *Service) enroll(tx Tx, studentID, courseID string) error {
	now := s.clock()
	st, err := tx.StatsFor(studentID, courseID)
	switch {
	case err == nil && st.Active:
		return ErrAlreadyEnrolled
	case err == nil:
		st.Active = true
		st.EnrolledAt = now
		st.recompute(now)
		return tx.UpdateStats(st)
	case KindOf(err) != KindNotFound:
		return err
	}
	st = StudentCourseStats{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		CourseID:   courseID,
		Active:     true,
		EnrolledAt: now,
		UpdatedAt:  now,
	}
	return tx.InsertStats(&st)
}

func linkRoster(tx Tx, courseID, entryID, studentID string) error {
	e, err := tx.RosterEntryByID(entryID)
	if err != nil {
		return err
	}
	if e.CourseID != courseID {
		return NotFound("roster entry")
	}
	if e.Linked {
		return ErrRosterEntryLinked
	}
	return tx.LinkRosterEntry(entryID, studentID)
}
