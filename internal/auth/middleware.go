package auth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const (
	sessionName = "attendance_session"
	tokenKey    = "token"
	claimsKey   = "claims"
	loginPath   = "/login/"
)

// Settings configures token signing and the session cookie.
type Settings struct {
	SigningKey    string
	Issuer        string
	SessionSecret string
	TTL           time.Duration
	Secure        bool
}

// Sessions installs the cookie-backed session store.
func Sessions(s Settings) gin.HandlerFunc {
	store := cookie.NewStore([]byte(s.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(s.TTL.Seconds()),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sessions.Sessions(sessionName, store)
}

// Login issues a lecturer token and stores it in the session.
func Login(c *gin.Context, s Settings, lecturerID, name string) error {
	token, _, err := Issue(lecturerID, RoleLecturer, name, s.Issuer, s.SigningKey, s.TTL)
	if err != nil {
		return err
	}
	sess := sessions.Default(c)
	sess.Clear()
	sess.Set(tokenKey, token)
	return sess.Save()
}

// Logout drops the session.
func Logout(c *gin.Context) error {
	sess := sessions.Default(c)
	sess.Clear()
	sess.Options(sessions.Options{Path: "/", MaxAge: -1})
	return sess.Save()
}

// Current returns the lecturer claims from the session or a bearer header.
func Current(c *gin.Context, s Settings) (Claims, error) {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(Claims); ok {
			return claims, nil
		}
	}
	token := bearer(c)
	if token == "" {
		if v, ok := sessions.Default(c).Get(tokenKey).(string); ok {
			token = v
		}
	}
	if token == "" {
		return Claims{}, errors.New("not logged in")
	}
	claims, err := Parse(token, s.SigningKey, s.Issuer)
	if err != nil {
		return Claims{}, err
	}
	if claims.Role != RoleLecturer {
		return Claims{}, errors.New("not a lecturer")
	}
	return claims, nil
}

// LecturerAuth requires a lecturer. Browsers are redirected to the login page;
// AJAX and API callers get 401 JSON.
func LecturerAuth(s Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := Current(c, s)
		if err != nil {
			if WantsJSON(c) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
				return
			}
			c.Redirect(http.StatusFound, loginPath+"?next="+url.QueryEscape(c.Request.URL.RequestURI()))
			c.Abort()
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// LecturerID returns the authenticated lecturer, or "" outside LecturerAuth.
func LecturerID(c *gin.Context) string {
	v, ok := c.Get(claimsKey)
	if !ok {
		return ""
	}
	claims, _ := v.(Claims)
	return claims.Subject
}

// WantsJSON reports an AJAX request or one that asks for JSON.
func WantsJSON(c *gin.Context) bool {
	if c.GetHeader("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "application/json") || bearer(c) != ""
}

func bearer(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("bearer "):])
}
