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

var settings = Settings{
	SigningKey:    "test-key",
	Issuer:        "campus-attendance",
	SessionSecret: "test-session-secret-32-bytes-long",
	TTL:           time.Hour,
}

func router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Sessions(settings))
	r.POST("/login/", func(c *gin.Context) {
		if err := Login(c, settings, "lec-1", "Jane Doe"); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	})
	r.GET("/logout/", func(c *gin.Context) {
		_ = Logout(c)
		c.Status(http.StatusNoContent)
	})
	r.GET("/dashboard/", LecturerAuth(settings), func(c *gin.Context) {
		c.String(http.StatusOK, LecturerID(c))
	})
	return r
}

func TestIssueAndParse(t *testing.T) {
	token, exp, err := Issue("lec-1", RoleLecturer, "Jane", "iss", "key", time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	claims, err := Parse(token, "key", "iss")
	require.NoError(t, err)
	assert.Equal(t, "lec-1", claims.Subject)
	assert.Equal(t, "Jane", claims.Name)

	_, err = Parse(token, "other-key", "iss")
	assert.Error(t, err)
	_, err = Parse(token, "key", "other-issuer")
	assert.Error(t, err)

	expired, _, err := Issue("lec-1", RoleLecturer, "", "iss", "key", -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired, "key", "iss")
	assert.Error(t, err)
}

func TestAnonymousBrowserIsRedirected(t *testing.T) {
	w := httptest.NewRecorder()
	router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard/", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login/?next=%2Fdashboard%2F", w.Header().Get("Location"))
}

func TestAnonymousAJAXGetsJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/dashboard/", nil)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	w := httptest.NewRecorder()
	router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"authentication required"}`, w.Body.String())
}

func TestSessionCookieLogin(t *testing.T) {
	r := router()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login/", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/dashboard/", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "lec-1", w.Body.String())
}

func TestBearerToken(t *testing.T) {
	token, _, err := Issue("lec-2", RoleLecturer, "", settings.Issuer, settings.SigningKey, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/dashboard/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "lec-2", w.Body.String())

	student, _, err := Issue("s-1", "student", "", settings.Issuer, settings.SigningKey, time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/dashboard/", nil)
	req.Header.Set("Authorization", "Bearer "+student)
	w = httptest.NewRecorder()
	router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
