package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"campusattend/internal/attendance"
	"campusattend/internal/auth"
)

func (h *Handler) home(c *gin.Context) {
	h.render(c, http.StatusOK, "home.html", gin.H{"Title": "Campus Attendance"})
}

func (h *Handler) attendForm(c *gin.Context) {
	sess, unit, err := h.svc.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !sess.IsActive {
		h.render(c, http.StatusOK, "session_closed.html", gin.H{"Title": "Session closed", "Session": sess, "Unit": unit})
		return
	}
	h.render(c, http.StatusOK, "attend.html", gin.H{"Title": "Mark attendance", "Session": sess, "Unit": unit, "Form": attendance.Submission{}})
}

func (h *Handler) submitAttendance(c *gin.Context) {
	sub := attendance.Submission{
		SessionID:       c.Param("id"),
		Name:            c.PostForm("student_name"),
		AdmissionNumber: c.PostForm("admission_number"),
	}
	if sub.Name == "" {
		sub.Name = c.PostForm("name")
	}

	rc, err := h.svc.Submit(c.Request.Context(), sub)
	data := gin.H{"Session": rc.Session, "Unit": rc.Unit, "Student": rc.Student, "Percentage": rc.Percentage}
	switch {
	case err == nil:
		if auth.WantsJSON(c) {
			c.JSON(http.StatusOK, gin.H{"success": true, "attendance_id": rc.Attendance.ID, "percentage": rc.Percentage})
			return
		}
		data["Title"] = "Attendance recorded"
		h.render(c, http.StatusOK, "success.html", data)
	case errors.Is(err, attendance.ErrAlreadyMarked):
		if auth.WantsJSON(c) {
			c.JSON(http.StatusOK, gin.H{"success": false, "already_marked": true, "error": err.Error()})
			return
		}
		data["Title"] = "Already marked"
		h.render(c, http.StatusOK, "already_marked.html", data)
	case errors.Is(err, attendance.ErrSessionClosed):
		if auth.WantsJSON(c) {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
			return
		}
		data["Title"] = "Session closed"
		h.render(c, http.StatusOK, "session_closed.html", data)
	case errors.Is(err, attendance.ErrInvalid):
		if auth.WantsJSON(c) {
			h.fail(c, err)
			return
		}
		sess, unit, lerr := h.svc.Session(c.Request.Context(), sub.SessionID)
		if lerr != nil {
			h.fail(c, lerr)
			return
		}
		data["Session"], data["Unit"] = sess, unit
		data["Title"] = "Mark attendance"
		data["Errors"] = fieldErrors(err)
		data["Form"] = sub
		h.render(c, http.StatusBadRequest, "attend.html", data)
	default:
		h.fail(c, err)
	}
}
