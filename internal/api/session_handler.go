package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"classsync/internal/attendance"
	"classsync/internal/live"
)

const qrSize = 256

func (h *Handler) startSession(c *gin.Context) {
	var req attendance.StartSessionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.Attendance.StartSession(c.Request.Context(), caller(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess, "session_id": sess.ID, "code": sess.Code})
}

func (h *Handler) endSession(c *gin.Context) {
	sess, err := h.Attendance.EndSession(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (h *Handler) getSession(c *gin.Context) {
	view, err := h.Attendance.GetSession(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": view})
}

func (h *Handler) courseSessions(c *gin.Context) {
	views, err := h.Attendance.SessionsForCourse(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

func (h *Handler) sessionRecords(c *gin.Context) {
	records, err := h.Attendance.SessionRecords(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// sessionQR renders the session code as a PNG for projection in class.
func (h *Handler) sessionQR(c *gin.Context) {
	sess, err := h.Attendance.OwnedSession(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	png, err := qrcode.Encode(sess.Code, qrcode.Medium, qrSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) checkIn(c *gin.Context) {
	var req attendance.CheckInInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.Attendance.CheckIn(c.Request.Context(), caller(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record": rec, "record_id": rec.ID})
}

func (h *Handler) liveFeed(c *gin.Context) {
	sess, err := h.Attendance.OwnedSession(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.Hub.Serve(c.Writer, c.Request, live.SessionChannel(sess.ID))
}
