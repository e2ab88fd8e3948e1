package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campusattend/internal/attendance"
	"campusattend/internal/auth"
)

func (h *Handler) loginForm(c *gin.Context) {
	if _, err := auth.Current(c, h.auth); err == nil {
		c.Redirect(http.StatusFound, "/dashboard/")
		return
	}
	h.render(c, http.StatusOK, "login.html", gin.H{"Title": "Lecturer login", "Next": c.Query("next")})
}

func (h *Handler) login(c *gin.Context) {
	next := safeNext(c.PostForm("next"))
	lec, err := h.svc.Authenticate(c.Request.Context(), c.PostForm("username"), c.PostForm("password"))
	if err != nil {
		if !errors.Is(err, attendance.ErrInvalidCredentials) {
			h.fail(c, err)
			return
		}
		if auth.WantsJSON(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": err.Error()})
			return
		}
		h.render(c, http.StatusUnauthorized, "login.html", gin.H{
			"Title": "Lecturer login", "Next": next, "Error": "Invalid username or password.",
			"Username": c.PostForm("username"),
		})
		return
	}
	if err := auth.Login(c, h.auth, lec.ID, lec.DisplayName()); err != nil {
		h.fail(c, fmt.Errorf("start session: %w", err))
		return
	}
	h.flash(c, "Welcome back, "+lec.DisplayName()+"!")
	if auth.WantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"success": true, "redirect": next})
		return
	}
	c.Redirect(http.StatusFound, next)
}

// safeNext only follows local paths.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return "/dashboard/"
	}
	return next
}

func (h *Handler) logout(c *gin.Context) {
	if err := auth.Logout(c); err != nil {
		h.log.Warn("logout", zap.Error(err))
	}
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) dashboard(c *gin.Context) {
	d, err := h.svc.Dashboard(c.Request.Context(), auth.LecturerID(c))
	if errors.Is(err, attendance.ErrNotFound) {
		_ = auth.Logout(c)
		c.Redirect(http.StatusFound, "/login/")
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.render(c, http.StatusOK, "dashboard.html", gin.H{"Title": "Dashboard", "Dashboard": d})
}

func (h *Handler) sessionFormData(c *gin.Context, in attendance.NewSession, errs map[string]string) (gin.H, error) {
	units, err := h.svc.Units(c.Request.Context(), auth.LecturerID(c))
	if err != nil {
		return nil, err
	}
	return gin.H{
		"Title":      "Create session",
		"Units":      units,
		"ClassYears": attendance.ClassYears,
		"Form":       in,
		"Errors":     errs,
	}, nil
}

func (h *Handler) createSessionForm(c *gin.Context) {
	data, err := h.sessionFormData(c, attendance.NewSession{Semester: 1, UnitID: c.Query("unit")}, nil)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.render(c, http.StatusOK, "create_session.html", data)
}

func (h *Handler) createSession(c *gin.Context) {
	var in attendance.NewSession
	if err := c.ShouldBind(&in); err != nil {
		h.sessionFailed(c, in, &attendance.ValidationError{Fields: map[string]string{"form": "Invalid form submission."}})
		return
	}
	sess, err := h.svc.CreateSession(c.Request.Context(), auth.LecturerID(c), in, h.siteURL(c))
	if err != nil {
		h.sessionFailed(c, in, err)
		return
	}
	if auth.WantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"session_id":     sess.ID,
			"session_number": sess.Number(),
			"redirect":       "/session/" + sess.ID + "/",
		})
		return
	}
	h.flash(c, "Session created successfully!")
	c.Redirect(http.StatusFound, "/session/"+sess.ID+"/")
}

func (h *Handler) sessionFailed(c *gin.Context, in attendance.NewSession, err error) {
	status := statusFor(err)
	if status != http.StatusBadRequest {
		h.fail(c, err)
		return
	}
	if auth.WantsJSON(c) {
		var verr *attendance.ValidationError
		if errors.As(err, &verr) {
			c.JSON(status, gin.H{"success": false, "errors": verr.Fields, "error": err.Error()})
			return
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	data, lerr := h.sessionFormData(c, in, fieldErrors(err))
	if lerr != nil {
		h.fail(c, lerr)
		return
	}
	h.render(c, status, "create_session.html", data)
}

func (h *Handler) sessionDetail(c *gin.Context) {
	ctx := c.Request.Context()
	view, err := h.svc.SessionDetail(ctx, auth.LecturerID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.render(c, http.StatusOK, "session_detail.html", gin.H{
		"Title":         view.Unit.Code + " session",
		"View":          view,
		"AttendURL":     h.siteURL(c) + "/attend/" + view.Session.ID + "/",
		"MirrorDocs":    h.mirror.FetchForSession(ctx, view.Session.ID),
		"MirrorUp":      h.mirror.IsConnected(ctx),
		"TotalLectures": h.svc.TotalLectures(),
	})
}

func (h *Handler) toggleSession(c *gin.Context) {
	sess, err := h.svc.ToggleSession(c.Request.Context(), auth.LecturerID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	state := "deactivated"
	if sess.IsActive {
		state = "activated"
	}
	if auth.WantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"success": true, "is_active": sess.IsActive})
		return
	}
	h.flash(c, "Session "+state+" successfully!")
	c.Redirect(http.StatusFound, "/session/"+sess.ID+"/")
}

func (h *Handler) downloadQR(c *gin.Context) {
	ctx := c.Request.Context()
	png, sess, err := h.svc.SessionQR(ctx, auth.LecturerID(c), c.Param("id"), h.siteURL(c))
	if err != nil {
		if statusFor(err) != http.StatusInternalServerError {
			h.fail(c, err)
			return
		}
		h.log.Error("qr unavailable", zap.String("session_id", c.Param("id")), zap.Error(err))
		h.flash(c, "QR code not found.")
		c.Redirect(http.StatusFound, "/session/"+c.Param("id")+"/")
		return
	}
	name := "qr_" + sess.ID + ".png"
	if _, unit, err := h.svc.Session(ctx, sess.ID); err == nil {
		name = fmt.Sprintf("qr_%s_%s.png", unit.Code, sess.DateString())
	}
	disposition := "inline"
	if c.Query("download") == "1" {
		disposition = "attachment"
	}
	c.Header("Content-Disposition", fmt.Sprintf(`%s; filename="%s"`, disposition, name))
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) createUnitForm(c *gin.Context) {
	h.render(c, http.StatusOK, "create_unit.html", gin.H{"Title": "Create unit"})
}

func (h *Handler) createUnit(c *gin.Context) {
	var in attendance.NewUnit
	if err := c.ShouldBind(&in); err != nil {
		h.unitFailed(c, in, &attendance.ValidationError{Fields: map[string]string{"form": "Invalid form submission."}})
		return
	}
	unit, err := h.svc.CreateUnit(c.Request.Context(), auth.LecturerID(c), in)
	if err != nil {
		h.unitFailed(c, in, err)
		return
	}
	if auth.WantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"success": true, "unit": unit})
		return
	}
	h.flash(c, "Unit "+unit.Code+" created successfully!")
	c.Redirect(http.StatusFound, "/dashboard/")
}

func (h *Handler) unitFailed(c *gin.Context, in attendance.NewUnit, err error) {
	if !errors.Is(err, attendance.ErrInvalid) {
		h.fail(c, err)
		return
	}
	if auth.WantsJSON(c) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": fieldErrors(err)})
		return
	}
	h.render(c, http.StatusBadRequest, "create_unit.html", gin.H{"Title": "Create unit", "Form": in, "Errors": fieldErrors(err)})
}
