// Package dualsync replicates local attendance rows to the document mirror and the
// lecturer portal, and runs the bounded worker pool that drains pending sync jobs.
package dualsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"campusattend/internal/attendance"
	"campusattend/internal/metrics"
	"campusattend/internal/mirror"
	"campusattend/internal/portal"
	"campusattend/internal/remote"
)

const (
	targetMirror = "mirror"
	targetPortal = "portal"
)

// Mirror records usage in the document store.
type Mirror interface {
	Record(ctx context.Context, sessionID string, p mirror.Payload) remote.Result
}

// Portal pushes one record to the lecturer portal.
type Portal interface {
	SyncAttendance(ctx context.Context, rec portal.Record) remote.Result
}

// Outcome reports one sync run. Success means at least one target confirmed.
type Outcome struct {
	AttendanceID string        `json:"attendance_id,omitempty"`
	Created      bool          `json:"created"`
	Percentage   float64       `json:"attendance_percentage"`
	Mirror       remote.Result `json:"mirror"`
	Portal       remote.Result `json:"portal"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
}

// Orchestrator runs the local write and both remote copies.
type Orchestrator struct {
	store         attendance.Store
	mirror        Mirror
	portal        Portal
	totalLectures int
	log           *zap.Logger
	now           func() time.Time
}

// NewOrchestrator wires the store and both targets.
func NewOrchestrator(store attendance.Store, m Mirror, p Portal, totalLectures int, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{store: store, mirror: m, portal: p, totalLectures: totalLectures, log: log, now: time.Now}
}

// Sync makes sure the (student, session) row exists and pushes it to both targets
// concurrently. Each target's flag flips only on its own confirmed success.
func (o *Orchestrator) Sync(ctx context.Context, studentID, sessionID string) Outcome {
	start := o.now()
	defer func() { metrics.SyncDuration.Observe(time.Since(start).Seconds()) }()

	att, created, err := o.store.GetOrCreateAttendance(ctx, studentID, sessionID)
	if err != nil {
		o.log.Error("local attendance write failed", zap.String("student_id", studentID),
			zap.String("session_id", sessionID), zap.Error(err))
		return Outcome{Error: fmt.Sprintf("local store: %v", err)}
	}
	out := Outcome{AttendanceID: att.ID, Created: created}

	in, err := o.load(ctx, att)
	if err != nil {
		o.log.Error("load sync context", zap.String("attendance_id", att.ID), zap.Error(err))
		out.Error = err.Error()
		return out
	}
	out.Percentage = in.percentage

	var g errgroup.Group
	g.Go(func() error {
		out.Mirror = guard(func() remote.Result {
			return o.mirror.Record(ctx, in.session.ID, in.mirrorPayload(o.now()))
		})
		return nil
	})
	g.Go(func() error {
		out.Portal = guard(func() remote.Result {
			return o.portal.SyncAttendance(ctx, in.portalRecord(att.ID, o.now()))
		})
		return nil
	})
	_ = g.Wait()

	o.recordMirror(ctx, att.ID, out.Mirror)
	o.recordPortal(ctx, att.ID, out.Portal)
	out.Success = out.Mirror.Success || out.Portal.Success

	o.log.Info("attendance sync",
		zap.String("attendance_id", att.ID),
		zap.Bool("mirror", out.Mirror.Success),
		zap.Bool("portal", out.Portal.Success),
		zap.Bool("success", out.Success))
	return out
}

type syncInput struct {
	student    attendance.Student
	session    attendance.Session
	unit       attendance.Unit
	lecturer   string
	percentage float64
}

func (o *Orchestrator) load(ctx context.Context, att attendance.Attendance) (syncInput, error) {
	var in syncInput
	var err error
	if in.student, err = o.store.StudentByID(ctx, att.StudentID); err != nil {
		return in, fmt.Errorf("load student: %w", err)
	}
	if in.session, err = o.store.SessionByID(ctx, att.SessionID); err != nil {
		return in, fmt.Errorf("load session: %w", err)
	}
	if in.unit, err = o.store.UnitByID(ctx, in.session.UnitID); err != nil {
		return in, fmt.Errorf("load unit: %w", err)
	}
	in.lecturer = in.session.LecturerName
	if in.lecturer == "" {
		if l, err := o.store.LecturerByID(ctx, in.session.LecturerID); err == nil {
			in.lecturer = l.DisplayName()
		}
	}
	count, err := o.store.CountAttendance(ctx, in.student.ID, in.unit.ID)
	if err != nil {
		return in, fmt.Errorf("count attendance: %w", err)
	}
	in.percentage = attendance.Percentage(count, o.totalLectures)
	return in, nil
}

func (in syncInput) mirrorPayload(now time.Time) mirror.Payload {
	return mirror.Payload{
		LecturerID:   in.session.LecturerID,
		LecturerName: in.lecturer,
		UnitCode:     in.unit.Code,
		UnitName:     in.unit.Name,
		Venue:        in.session.Venue,
		Timestamp:    now.UTC(),
	}
}

func (in syncInput) portalRecord(attendanceID string, now time.Time) portal.Record {
	return portal.Record{
		AttendanceID: attendanceID,
		Student: portal.StudentInfo{
			AdmissionNumber: in.student.AdmissionNumber,
			Name:            in.student.Name,
			Email:           in.student.Email,
			Phone:           in.student.Phone,
		},
		Attendance: portal.AttendanceInfo{
			UnitCode:             in.unit.Code,
			UnitName:             in.unit.Name,
			Date:                 in.session.DateString(),
			TimeSlot:             in.session.TimeSlot(),
			Venue:                in.session.Venue,
			LecturerName:         in.lecturer,
			Timestamp:            now.UTC().Format(time.RFC3339),
			AttendancePercentage: in.percentage,
		},
	}
}

func (o *Orchestrator) recordMirror(ctx context.Context, id string, res remote.Result) {
	countOutcome(targetMirror, res)
	body, _ := json.Marshal(res)
	if err := o.store.UpdateRemoteSync(ctx, id, res.Synced(), res.DocumentID, body); err != nil {
		o.log.Error("save mirror sync state", zap.String("attendance_id", id), zap.Error(err))
	}
}

func (o *Orchestrator) recordPortal(ctx context.Context, id string, res remote.Result) {
	countOutcome(targetPortal, res)
	body, _ := json.Marshal(res)
	if err := o.store.UpdatePortalSync(ctx, id, res.Synced(), body); err != nil {
		o.log.Error("save portal sync state", zap.String("attendance_id", id), zap.Error(err))
	}
}

// guard turns a panicking target call into a failed result.
func guard(call func() remote.Result) (res remote.Result) {
	defer func() {
		if v := recover(); v != nil {
			res = remote.Recovered(v)
		}
	}()
	return call()
}

func countOutcome(target string, res remote.Result) {
	outcome := "success"
	if !res.Success {
		outcome = string(res.Kind)
		if outcome == "" {
			outcome = string(remote.KindUnexpected)
		}
	}
	metrics.RemoteSync.WithLabelValues(target, outcome).Inc()
}
