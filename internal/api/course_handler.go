package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classsync/internal/attendance"
)

func (h *Handler) createCourse(c *gin.Context) {
	var req attendance.CreateCourseInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	course, err := h.Attendance.CreateCourse(c.Request.Context(), caller(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"course": course})
}

func (h *Handler) listCourses(c *gin.Context) {
	courses, err := h.Attendance.ListCourses(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

func (h *Handler) getCourse(c *gin.Context) {
	course, err := h.Attendance.GetCourse(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"course": course})
}

func (h *Handler) setCourseStatus(c *gin.Context) {
	var req struct {
		Status attendance.CourseStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	course, err := h.Attendance.SetCourseStatus(c.Request.Context(), caller(c), c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"course": course})
}

func (h *Handler) addRoster(c *gin.Context) {
	var req struct {
		Entries []attendance.RosterInput `json:"entries" binding:"required,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	entries, err := h.Attendance.AddRosterEntries(c.Request.Context(), caller(c), c.Param("id"), req.Entries)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entries": entries})
}

func (h *Handler) roster(c *gin.Context) {
	entries, err := h.Attendance.Roster(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) removeStudent(c *gin.Context) {
	if err := h.Attendance.RemoveStudent(c.Request.Context(), caller(c), c.Param("id"), c.Param("studentId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) requestJoin(c *gin.Context) {
	var req struct {
		JoinCode string `json:"join_code" binding:"required"`
		Message  string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	jr, err := h.Attendance.RequestJoin(c.Request.Context(), caller(c), req.JoinCode, req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"join_request": jr})
}

func (h *Handler) listJoinRequests(c *gin.Context) {
	status := attendance.JoinStatus(c.Query("status"))
	reqs, err := h.Attendance.JoinRequests(c.Request.Context(), caller(c), c.Param("id"), status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"join_requests": reqs})
}

func (h *Handler) approveJoin(c *gin.Context) {
	var req struct {
		RosterEntryID string `json:"roster_entry_id"`
	}
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	jr, err := h.Attendance.ApproveJoin(c.Request.Context(), caller(c), c.Param("id"), req.RosterEntryID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"join_request": jr})
}

func (h *Handler) rejectJoin(c *gin.Context) {
	jr, err := h.Attendance.RejectJoin(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"join_request": jr})
}

func (h *Handler) courseSummary(c *gin.Context) {
	summary, err := h.Attendance.CourseSummary(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (h *Handler) myStats(c *gin.Context) {
	stats, err := h.Attendance.MyStats(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
