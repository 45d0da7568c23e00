package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentage(t *testing.T) {
	tests := []struct {
		part, whole int
		want        float64
	}{
		{0, 0, 0},
		{3, 0, 0},
		{1, -1, 0},
		{1, 10, 10},
		{2, 3, 200.0 / 3},
		{5, 5, 100},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Percentage(tt.part, tt.whole), 1e-9, "%d/%d", tt.part, tt.whole)
	}
}

func TestSummarize(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions := []Session{
		{ID: "a", PresentStudents: StringList{"x", "y"}, TotalStudentsEnrolled: 4, EndTime: now.Add(-time.Hour)},
		{ID: "b", PresentStudents: StringList{"x"}, TotalStudentsEnrolled: 4, IsActive: true, EndTime: now.Add(time.Hour)},
		{ID: "c", PresentStudents: StringList{}, TotalStudentsEnrolled: 0},
	}

	sum := Summarize("course", sessions, nil, now)
	assert.Equal(t, 3, sum.TotalSessions)
	assert.Equal(t, 3, sum.Attended)
	assert.Equal(t, 8, sum.Expected)
	assert.InDelta(t, 37.5, sum.AttendancePercentage, 1e-9)
	assert.NotNil(t, sum.Students)

	assert.Equal(t, SessionClosed, sum.Sessions[0].Status)
	assert.Equal(t, SessionOpen, sum.Sessions[1].Status)
	assert.InDelta(t, 25.0, sum.Sessions[1].AttendancePercentage, 1e-9)
	assert.Zero(t, sum.Sessions[2].AttendancePercentage)
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize("course", nil, nil, time.Now())
	assert.Zero(t, sum.AttendancePercentage)
	assert.Empty(t, sum.Sessions)
}

func TestSessionStatus(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s := Session{IsActive: true, StartTime: start, EndTime: start.Add(10 * time.Minute)}

	assert.Equal(t, SessionOpen, s.Status(start))
	assert.True(t, s.OpenAt(start))
	assert.True(t, s.OpenAt(s.EndTime))
	assert.False(t, s.OpenAt(start.Add(-time.Second)))
	assert.Equal(t, SessionExpired, s.Status(s.EndTime.Add(time.Second)))
	assert.False(t, s.OpenAt(s.EndTime.Add(time.Second)))

	s.IsActive = false
	assert.Equal(t, SessionClosed, s.Status(start))
	assert.False(t, s.OpenAt(start))
}

func TestStringListScan(t *testing.T) {
	var l StringList
	assert.NoError(t, l.Scan(`["a","b"]`))
	assert.Equal(t, StringList{"a", "b"}, l)
	assert.True(t, l.Contains("b"))

	assert.NoError(t, l.Scan([]byte(`null`)))
	assert.Equal(t, StringList{}, l)

	assert.NoError(t, l.Scan(nil))
	assert.Empty(t, l)

	assert.Error(t, l.Scan(42))

	v, err := StringList(nil).Value()
	assert.NoError(t, err)
	assert.Equal(t, "[]", v)
}
