package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classsync/internal/account"
	"classsync/internal/attendance"
	"classsync/internal/auth"
	"classsync/internal/live"
	"classsync/internal/notify"
)

// Handler serves the HTTP API over the domain services.
type Handler struct {
	Attendance *attendance.Service
	Accounts   *account.Service
	Inbox      *notify.Inbox
	Hub        *live.Hub
	Log        *zap.Logger
}

func caller(c *gin.Context) attendance.Caller {
	return attendance.Caller{ID: auth.CallerID(c), Role: attendance.Role(auth.CallerRole(c))}
}

var kindStatus = map[attendance.Kind]int{
	attendance.KindUnauthenticated: http.StatusUnauthorized,
	attendance.KindUnauthorized:    http.StatusForbidden,
	attendance.KindNotFound:        http.StatusNotFound,
	attendance.KindInvalidState:    http.StatusConflict,
	attendance.KindConflict:        http.StatusConflict,
	attendance.KindOutOfRange:      http.StatusUnprocessableEntity,
	attendance.KindInvalidInput:    http.StatusBadRequest,
}

// fail writes err with the status of its kind. Unclassified errors are
// logged and hidden behind a 500.
func (h *Handler) fail(c *gin.Context, err error) {
	var domainErr *attendance.Error
	if errors.As(err, &domainErr) {
		c.JSON(kindStatus[domainErr.Kind], gin.H{"error": domainErr.Error(), "kind": domainErr.Kind})
		return
	}
	_ = c.Error(err)
	h.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": attendance.KindInvalidInput})
}
