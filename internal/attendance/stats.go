package attendance

import "time"

// Percentage returns part/whole*100. A zero or negative whole yields 0 for
// every percentage in the system: session, student and course level.
func Percentage(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// recompute refreshes the derived percentage from the raw counters.
func (st *StudentCourseStats) recompute(now time.Time) {
	st.AttendancePercentage = Percentage(st.SessionsAttended, st.TotalSessions)
	st.UpdatedAt = now
}

// recompute refreshes the session percentage from the present list and the
// enrolled snapshot.
func (s *Session) recompute() {
	s.AttendancePercentage = Percentage(len(s.PresentStudents), s.TotalStudentsEnrolled)
}

// SessionStats is the per-session line of a course summary.
type SessionStats struct {
	SessionID            string        `json:"session_id"`
	Name                 string        `json:"name"`
	StartTime            time.Time     `json:"start_time"`
	Status               SessionStatus `json:"status"`
	Present              int           `json:"present"`
	Enrolled             int           `json:"enrolled"`
	AttendancePercentage float64       `json:"attendance_percentage"`
}

// CourseSummary aggregates attendance over every session of a course.
type CourseSummary struct {
	CourseID             string               `json:"course_id"`
	TotalSessions        int                  `json:"total_sessions"`
	Attended             int                  `json:"attended"`
	Expected             int                  `json:"expected"`
	AttendancePercentage float64              `json:"attendance_percentage"`
	Sessions             []SessionStats       `json:"sessions"`
	Students             []StudentCourseStats `json:"students"`
}

// Summarize builds course-level stats: attended / expected * 100 across all
// sessions, where expected is the sum of the enrolled snapshots.
func Summarize(courseID string, sessions []Session, students []StudentCourseStats, now time.Time) CourseSummary {
	sum := CourseSummary{
		CourseID:      courseID,
		TotalSessions: len(sessions),
		Sessions:      make([]SessionStats, 0, len(sessions)),
		Students:      students,
	}
	if sum.Students == nil {
		sum.Students = []StudentCourseStats{}
	}
	for _, s := range sessions {
		present := len(s.PresentStudents)
		sum.Attended += present
		sum.Expected += s.TotalStudentsEnrolled
		sum.Sessions = append(sum.Sessions, SessionStats{
			SessionID:            s.ID,
			Name:                 s.Name,
			StartTime:            s.StartTime,
			Status:               s.Status(now),
			Present:              present,
			Enrolled:             s.TotalStudentsEnrolled,
			AttendancePercentage: Percentage(present, s.TotalStudentsEnrolled),
		})
	}
	sum.AttendancePercentage = Percentage(sum.Attended, sum.Expected)
	return sum
}
