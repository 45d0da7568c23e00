package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classsync/internal/auth"
	"classsync/internal/httpmiddleware"
)

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) bool

// RouterConfig carries the settings the router needs.
type RouterConfig struct {
	JWTIssuer       string
	JWTSigningKey   string
	CORSOrigins     []string
	RateLimitPerMin int
	// Health names each dependency reported by /healthz.
	Health map[string]Checker
}

// NewRouter wires middleware and routes.
func NewRouter(cfg RouterConfig, h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(h.Log, "/healthz", "/metrics"))
	r.Use(httpmiddleware.Metrics())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, rateKey(cfg))
	r.Use(limiter.GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", healthz(cfg.Health))

	v1 := r.Group("/v1")
	v1.POST("/auth/register", h.register)
	v1.POST("/auth/login", h.login)
	v1.POST("/auth/refresh", h.refresh)

	authed := v1.Group("", auth.Authenticate(cfg.JWTSigningKey, cfg.JWTIssuer))
	lecturer := auth.RequireRole("lecturer")
	student := auth.RequireRole("student")

	authed.GET("/me", h.me)
	authed.GET("/me/stats", student, h.myStats)

	authed.POST("/courses", lecturer, h.createCourse)
	authed.GET("/courses", h.listCourses)
	authed.GET("/courses/:id", h.getCourse)
	authed.PATCH("/courses/:id/status", lecturer, h.setCourseStatus)
	authed.POST("/courses/:id/roster", lecturer, h.addRoster)
	authed.GET("/courses/:id/roster", lecturer, h.roster)
	authed.DELETE("/courses/:id/students/:studentId", lecturer, h.removeStudent)
	authed.GET("/courses/:id/join-requests", lecturer, h.listJoinRequests)
	authed.GET("/courses/:id/sessions", h.courseSessions)
	authed.GET("/courses/:id/summary", lecturer, h.courseSummary)

	authed.POST("/join-requests", student, h.requestJoin)
	authed.POST("/join-requests/:id/approve", lecturer, h.approveJoin)
	authed.POST("/join-requests/:id/reject", lecturer, h.rejectJoin)

	authed.POST("/sessions", lecturer, h.startSession)
	authed.GET("/sessions/:id", h.getSession)
	authed.POST("/sessions/:id/end", lecturer, h.endSession)
	authed.GET("/sessions/:id/records", lecturer, h.sessionRecords)
	authed.GET("/sessions/:id/qr", lecturer, h.sessionQR)
	authed.GET("/sessions/:id/live", lecturer, h.liveFeed)
	authed.POST("/checkins", student, h.checkIn)

	authed.GET("/notifications", h.notifications)
	authed.POST("/notifications/:id/read", h.markNotificationRead)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	cfg.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	cfg.MaxAge = 24 * time.Hour
	return cfg
}

// rateKey limits authenticated callers by user id and everyone else by IP.
func rateKey(cfg RouterConfig) func(c *gin.Context) string {
	return func(c *gin.Context) string {
		if tok := c.GetHeader("Authorization"); len(tok) > len("Bearer ") {
			if claims, err := auth.Parse(tok[len("Bearer "):], cfg.JWTSigningKey, cfg.JWTIssuer, auth.AccessToken); err == nil {
				return "user:" + claims.Subject
			}
		}
		return "ip:" + c.ClientIP()
	}
}

func healthz(checks map[string]Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		body := gin.H{}
		status := http.StatusOK
		for name, check := range checks {
			ok := check(ctx)
			body[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		body["status"] = "ok"
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	}
}
