package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/mirror"
)

//go:embed templates/*.html
var templateFS embed.FS

// Mirror is the read side of the remote document store used by the pages.
type Mirror interface {
	IsConnected(ctx context.Context) bool
	FetchForSession(ctx context.Context, sessionID string) []map[string]any
	Diagnose(ctx context.Context) mirror.Diagnosis
}

// Portal reports whether the lecturer portal is configured.
type Portal interface {
	Enabled() bool
}

// Probe reports whether a dependency answers.
type Probe func(ctx context.Context) bool

// Deps wires the handlers.
type Deps struct {
	Service *attendance.Service
	Mirror  Mirror
	Portal  Portal
	Auth    auth.Settings
	// SiteBaseURL overrides the base derived from the request host.
	SiteBaseURL string
	// SubmitLimit guards the student submission route. Optional.
	SubmitLimit gin.HandlerFunc
	// Probes are reported by /healthz and /api/status/, keyed by name.
	Probes map[string]Probe
	Logger *zap.Logger
}

// Handler serves the student and lecturer pages.
type Handler struct {
	svc     *attendance.Service
	mirror  Mirror
	portal  Portal
	auth    auth.Settings
	baseURL string
	probes  map[string]Probe
	log     *zap.Logger
}

// NewRouter builds the gin engine with middleware, templates and every route.
func NewRouter(d Deps) *gin.Engine {
	h := &Handler{
		svc:     d.Service,
		mirror:  d.Mirror,
		portal:  d.Portal,
		auth:    d.Auth,
		baseURL: strings.TrimRight(d.SiteBaseURL, "/"),
		probes:  d.Probes,
		log:     d.Logger,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(auth.Sessions(d.Auth))
	r.SetHTMLTemplate(template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.healthz)
	r.GET("/api/status/", h.apiStatus)

	r.GET("/", h.home)
	submit := []gin.HandlerFunc{h.submitAttendance}
	if d.SubmitLimit != nil {
		submit = append([]gin.HandlerFunc{d.SubmitLimit}, submit...)
	}
	r.GET("/attend/:id/", h.attendForm)
	r.POST("/attend/:id/", submit...)

	r.GET("/login/", h.loginForm)
	r.POST("/login/", h.login)
	r.GET("/logout/", h.logout)

	lecturer := r.Group("/", auth.LecturerAuth(d.Auth))
	lecturer.GET("/dashboard/", h.dashboard)
	lecturer.GET("/session/create/", h.createSessionForm)
	lecturer.POST("/session/create/", h.createSession)
	lecturer.GET("/session/:id/", h.sessionDetail)
	lecturer.POST("/session/:id/toggle/", h.toggleSession)
	lecturer.GET("/session/:id/download-qr/", h.downloadQR)
	lecturer.GET("/unit/create/", h.createUnitForm)
	lecturer.POST("/unit/create/", h.createUnit)
	return r
}

var funcs = template.FuncMap{
	"pct": func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"when": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("2006-01-02 15:04")
	},
	"field": func(errs any, name string) string {
		m, _ := errs.(map[string]string)
		return m[name]
	},
}

// render adds the flash messages and login state every page shows.
func (h *Handler) render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["Flashes"] = h.flashes(c)
	if _, err := auth.Current(c, h.auth); err == nil {
		data["LoggedIn"] = true
	}
	c.HTML(status, name, data)
}

func (h *Handler) flash(c *gin.Context, msg string) {
	sess := sessions.Default(c)
	sess.AddFlash(msg)
	if err := sess.Save(); err != nil {
		h.log.Warn("save flash", zap.Error(err))
	}
}

func (h *Handler) flashes(c *gin.Context) []string {
	sess := sessions.Default(c)
	raw := sess.Flashes()
	if len(raw) == 0 {
		return nil
	}
	_ = sess.Save()
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// siteURL is the configured base, or the scheme and host the request came in on.
func (h *Handler) siteURL(c *gin.Context) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, attendance.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, attendance.ErrInvalid),
		errors.Is(err, attendance.ErrDuplicateSlot),
		errors.Is(err, attendance.ErrSessionCapacity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail renders err as a page or, for AJAX callers, as {success:false, error|errors}.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "Something went wrong. Please try again."
	}
	if errors.Is(err, attendance.ErrNotFound) {
		msg = "The page you requested does not exist."
	}
	if auth.WantsJSON(c) {
		body := gin.H{"success": false, "error": msg}
		var verr *attendance.ValidationError
		if errors.As(err, &verr) {
			body = gin.H{"success": false, "errors": verr.Fields}
		}
		c.AbortWithStatusJSON(status, body)
		return
	}
	h.render(c, status, "error.html", gin.H{"Title": http.StatusText(status), "Status": status, "Message": msg})
	c.Abort()
}

func fieldErrors(err error) map[string]string {
	var verr *attendance.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return map[string]string{"form": err.Error()}
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, probe := range h.probes {
		ok := probe(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) apiStatus(c *gin.Context) {
	ctx := c.Request.Context()
	diag := h.mirror.Diagnose(ctx)
	body := gin.H{
		"mirror_connected": diag.Connected,
		"mirror":           diag,
		"portal_enabled":   h.portal != nil && h.portal.Enabled(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}
	for name, probe := range h.probes {
		body[name] = probe(ctx)
	}
	c.JSON(http.StatusOK, body)
}
