package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-signing-key-with-enough-bytes"

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("user-1", "student", "classsync", testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	claims, err := Parse(pair.AccessToken, testKey, "classsync", AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "student", claims.Role)

	_, err = Parse(pair.AccessToken, testKey, "classsync", RefreshToken)
	assert.Error(t, err, "access token must not refresh")

	claims, err = Parse(pair.RefreshToken, testKey, "classsync", RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, RefreshToken, claims.Type)
}

func TestParseRejects(t *testing.T) {
	pair, err := Issue("user-1", "lecturer", "classsync", testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "another-key", "classsync", AccessToken)
	assert.Error(t, err)

	_, err = Parse(pair.AccessToken, testKey, "someone-else", AccessToken)
	assert.Error(t, err)

	expired, err := Issue("user-1", "lecturer", "classsync", testKey, -time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = Parse(expired.AccessToken, testKey, "classsync", AccessToken)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Authenticate(testKey, "classsync"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": CallerID(c), "role": CallerRole(c)})
	})
	r.GET("/lecturers", Authenticate(testKey, "classsync"), RequireRole("lecturer"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	pair, err := Issue("user-7", "student", "classsync", testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no token", "/me", "", http.StatusUnauthorized},
		{"bearer", "/me", "Bearer " + pair.AccessToken, http.StatusOK},
		{"query token", "/me?token=" + pair.AccessToken, "", http.StatusOK},
		{"refresh token", "/me", "Bearer " + pair.RefreshToken, http.StatusUnauthorized},
		{"wrong role", "/lecturers", "Bearer " + pair.AccessToken, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
