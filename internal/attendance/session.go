package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"campusattend/internal/metrics"
	"campusattend/internal/remote"
)

const numberRetries = 3

// NewSession is the lecturer's input for a session.
type NewSession struct {
	UnitID       string `json:"unit_id" form:"unit" validate:"required"`
	Date         string `json:"date" form:"date" validate:"required,datetime=2006-01-02"`
	StartTime    string `json:"start_time" form:"start_time" validate:"required,datetime=15:04"`
	EndTime      string `json:"end_time" form:"end_time" validate:"required,datetime=15:04"`
	Venue        string `json:"venue" form:"venue" validate:"required,max=200"`
	LecturerName string `json:"lecturer_name" form:"lecturer_name" validate:"max=200"`
	ClassYear    string `json:"class_year" form:"class_year"`
	Semester     int    `json:"semester" form:"semester" validate:"required,oneof=1 2"`
}

// NextSessionNumber returns the smallest number in [1, MaxSessionNumber] not in used.
func NextSessionNumber(used []int) (int, bool) {
	taken := make(map[int]bool, len(used))
	for _, n := range used {
		taken[n] = true
	}
	for n := 1; n <= MaxSessionNumber; n++ {
		if !taken[n] {
			return n, true
		}
	}
	return 0, false
}

func clockTime(v string) string {
	t, err := time.Parse(timeLayout, strings.TrimSpace(v))
	if err != nil {
		return strings.TrimSpace(v)
	}
	return t.Format(timeLayout)
}

func (in *NewSession) normalize() {
	in.Venue = strings.TrimSpace(in.Venue)
	in.LecturerName = NormalizeName(in.LecturerName)
	in.ClassYear = strings.TrimSpace(in.ClassYear)
	if in.ClassYear == "" {
		in.ClassYear = ClassYears[0]
	}
	in.StartTime = clockTime(in.StartTime)
	in.EndTime = clockTime(in.EndTime)
	in.Date = strings.TrimSpace(in.Date)
}

func (in NewSession) parse() (time.Time, error) {
	if err := check(in); err != nil {
		return time.Time{}, err
	}
	if !slices.Contains(ClassYears, in.ClassYear) {
		return time.Time{}, invalid("class_year", "Select a valid choice.")
	}
	if in.EndTime <= in.StartTime {
		return time.Time{}, invalid("end_time", "End time must be after start time.")
	}
	date, err := time.Parse(dateLayout, in.Date)
	if err != nil {
		return time.Time{}, invalid("date", "Enter a valid date.")
	}
	return date, nil
}

// CreateSession validates input, assigns the next free lecture number for the unit and
// semester, persists the session and attaches its scannable code.
func (s *Service) CreateSession(ctx context.Context, lecturerID string, in NewSession, baseURL string) (Session, error) {
	in.normalize()
	date, err := in.parse()
	if err != nil {
		return Session{}, err
	}

	unit, err := s.store.UnitByID(ctx, in.UnitID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, invalid("unit", "Select a valid choice.")
		}
		return Session{}, err
	}
	if unit.LecturerID != lecturerID {
		return Session{}, ErrForbidden
	}

	taken, err := s.store.SessionSlotTaken(ctx, unit.ID, in.Semester, date, in.StartTime)
	if err != nil {
		return Session{}, fmt.Errorf("check session slot: %w", err)
	}
	if taken {
		return Session{}, ErrDuplicateSlot
	}

	lecturerName := in.LecturerName
	if lecturerName == "" {
		if l, err := s.store.LecturerByID(ctx, lecturerID); err == nil {
			lecturerName = l.DisplayName()
		}
	}
	sess := Session{
		UnitID:       unit.ID,
		LecturerID:   lecturerID,
		Date:         date,
		StartTime:    in.StartTime,
		EndTime:      in.EndTime,
		Venue:        in.Venue,
		LecturerName: lecturerName,
		ClassYear:    in.ClassYear,
		Semester:     in.Semester,
		IsActive:     true,
	}
	if err := s.insertNumbered(ctx, &sess); err != nil {
		return Session{}, err
	}
	metrics.SessionsCreated.Inc()

	if ref, err := s.attachQR(ctx, sess.ID, baseURL); err != nil {
		s.log.Error("qr artifact", zap.String("session_id", sess.ID), zap.Error(err))
	} else {
		sess.QRRef = ref
	}
	return sess, nil
}

// insertNumbered assigns the smallest free number and inserts. A concurrent writer that
// takes the same number forces a rescan.
func (s *Service) insertNumbered(ctx context.Context, sess *Session) error {
	for attempt := 0; attempt < numberRetries; attempt++ {
		used, err := s.store.SessionNumbersInUse(ctx, sess.UnitID, sess.Semester)
		if err != nil {
			return fmt.Errorf("load session numbers: %w", err)
		}
		n, ok := NextSessionNumber(used)
		if !ok {
			return ErrSessionCapacity
		}
		sess.ID = ""
		sess.SessionNumber = &n

		err = s.store.InsertSession(ctx, sess)
		switch {
		case err == nil:
			return nil
		case IsConflict(err, ConstraintSessionSlot):
			return ErrDuplicateSlot
		case IsConflict(err, ConstraintSessionNumber):
			s.log.Debug("session number taken, rescanning", zap.Int("number", n), zap.Int("attempt", attempt+1))
			continue
		default:
			return fmt.Errorf("insert session: %w", err)
		}
	}
	return fmt.Errorf("assign session number: %w", ErrConflict)
}

func (s *Service) attachQR(ctx context.Context, sessionID, baseURL string) (string, error) {
	if s.artifacts == nil {
		return "", errors.New("no artifact store configured")
	}
	ref, err := s.artifacts.Generate(ctx, sessionID, baseURL)
	if err != nil {
		return "", err
	}
	if err := s.store.SetSessionQR(ctx, sessionID, ref); err != nil {
		return "", fmt.Errorf("save qr reference: %w", err)
	}
	return ref, nil
}

// ownedSession loads a session and checks its owner.
func (s *Service) ownedSession(ctx context.Context, lecturerID, sessionID string) (Session, error) {
	sess, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.LecturerID != lecturerID {
		return Session{}, ErrForbidden
	}
	return sess, nil
}

// Session returns a session without an ownership check.
func (s *Service) Session(ctx context.Context, sessionID string) (Session, Unit, error) {
	sess, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		return Session{}, Unit{}, err
	}
	unit, err := s.store.UnitByID(ctx, sess.UnitID)
	if err != nil {
		return Session{}, Unit{}, fmt.Errorf("load unit: %w", err)
	}
	return sess, unit, nil
}

// ToggleSession flips is_active. Only the owning lecturer may do so.
func (s *Service) ToggleSession(ctx context.Context, lecturerID, sessionID string) (Session, error) {
	sess, err := s.ownedSession(ctx, lecturerID, sessionID)
	if err != nil {
		return Session{}, err
	}
	sess.IsActive = !sess.IsActive
	if err := s.store.SetSessionActive(ctx, sess.ID, sess.IsActive); err != nil {
		return Session{}, fmt.Errorf("toggle session: %w", err)
	}
	return sess, nil
}

// DeleteSession purges a session and its marks. Maintenance only.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}

// AttendanceRow is one recorded mark with its student.
type AttendanceRow struct {
	Attendance
	Student    Student
	Percentage float64
	Mirror     SyncStatus
	Portal     SyncStatus
}

// Sync states shown per target.
const (
	SyncSynced  = "synced"
	SyncPending = "pending" // no answer recorded yet
	SyncSent    = "sent"    // accepted without a reference
	SyncSkipped = "skipped"
	SyncFailed  = "failed"
)

// SyncStatus is the last answer one remote target gave for a mark.
type SyncStatus struct {
	State  string
	Kind   remote.Kind
	Detail string
}

// syncStatus reads the stored result of the last sync attempt.
func syncStatus(synced bool, raw json.RawMessage) SyncStatus {
	if synced {
		return SyncStatus{State: SyncSynced}
	}
	var res remote.Result
	if len(raw) == 0 || json.Unmarshal(raw, &res) != nil || res == (remote.Result{}) {
		return SyncStatus{State: SyncPending}
	}
	switch {
	case res.Success:
		return SyncStatus{State: SyncSent, Detail: res.Message}
	case res.Skipped:
		return SyncStatus{State: SyncSkipped, Kind: res.Kind, Detail: res.Message}
	default:
		return SyncStatus{State: SyncFailed, Kind: res.Kind, Detail: res.Error}
	}
}

// RosterEntry is one enrolled student and whether they marked this session.
type RosterEntry struct {
	Student    Student
	Present    bool
	MarkedAt   *time.Time
	Percentage float64
}

// SessionView is the lecturer's detail page model.
type SessionView struct {
	Session  Session
	Unit     Unit
	Rows     []AttendanceRow
	Roster   []RosterEntry
	Present  int
	Unsynced int
}

// SessionDetail returns marks, the enrolled roster and sync state. Owner only.
func (s *Service) SessionDetail(ctx context.Context, lecturerID, sessionID string) (SessionView, error) {
	sess, err := s.ownedSession(ctx, lecturerID, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	unit, err := s.store.UnitByID(ctx, sess.UnitID)
	if err != nil {
		return SessionView{}, fmt.Errorf("load unit: %w", err)
	}
	marks, err := s.store.AttendanceForSession(ctx, sess.ID)
	if err != nil {
		return SessionView{}, fmt.Errorf("load attendance: %w", err)
	}
	view := SessionView{Session: sess, Unit: unit, Present: len(marks)}

	pct := make(map[string]float64)
	percentage := func(studentID string) float64 {
		if p, ok := pct[studentID]; ok {
			return p
		}
		p, err := s.AttendancePercentage(ctx, studentID, unit.ID, s.totalLectures)
		if err != nil {
			s.log.Warn("attendance percentage", zap.String("student_id", studentID), zap.Error(err))
		}
		pct[studentID] = p
		return p
	}

	markedAt := make(map[string]time.Time, len(marks))
	for _, a := range marks {
		st, err := s.store.StudentByID(ctx, a.StudentID)
		if err != nil {
			return SessionView{}, fmt.Errorf("load student: %w", err)
		}
		if !a.FullySynced() {
			view.Unsynced++
		}
		markedAt[a.StudentID] = a.MarkedAt
		view.Rows = append(view.Rows, AttendanceRow{
			Attendance: a,
			Student:    st,
			Percentage: percentage(st.ID),
			Mirror:     syncStatus(a.SyncedToRemoteStore, a.RemoteResponse),
			Portal:     syncStatus(a.SyncedToPortal, a.PortalResponse),
		})
	}

	enrolled, err := s.store.EnrolledStudents(ctx, unit.ID)
	if err != nil {
		return SessionView{}, fmt.Errorf("load roster: %w", err)
	}
	for _, st := range enrolled {
		entry := RosterEntry{Student: st, Percentage: percentage(st.ID)}
		if at, ok := markedAt[st.ID]; ok {
			entry.Present = true
			entry.MarkedAt = &at
		}
		view.Roster = append(view.Roster, entry)
	}
	// present first, then by name
	sort.SliceStable(view.Roster, func(i, j int) bool {
		if view.Roster[i].Present != view.Roster[j].Present {
			return view.Roster[i].Present
		}
		return view.Roster[i].Student.Name < view.Roster[j].Student.Name
	})
	return view, nil
}

// SessionQR returns the PNG for an owned session, regenerating a missing artifact.
func (s *Service) SessionQR(ctx context.Context, lecturerID, sessionID, baseURL string) ([]byte, Session, error) {
	sess, err := s.ownedSession(ctx, lecturerID, sessionID)
	if err != nil {
		return nil, Session{}, err
	}
	if s.artifacts == nil {
		return nil, sess, errors.New("no artifact store configured")
	}
	if sess.QRRef != "" {
		png, err := s.artifacts.Load(ctx, sess.QRRef)
		if err == nil {
			return png, sess, nil
		}
		s.log.Warn("stored qr unreadable, regenerating", zap.String("session_id", sess.ID), zap.Error(err))
	}
	ref, err := s.attachQR(ctx, sess.ID, baseURL)
	if err != nil {
		return nil, sess, err
	}
	sess.QRRef = ref
	png, err := s.artifacts.Load(ctx, ref)
	return png, sess, err
}

// RegenerateQR re-renders and stores the code for any session.
func (s *Service) RegenerateQR(ctx context.Context, sessionID, baseURL string) (string, error) {
	if _, err := s.store.SessionByID(ctx, sessionID); err != nil {
		return "", err
	}
	return s.attachQR(ctx, sessionID, baseURL)
}

// SessionSummary is a dashboard row.
type SessionSummary struct {
	Session
	UnitCode string
	UnitName string
	Present  int
}

// Dashboard lists a lecturer's units and sessions.
type Dashboard struct {
	Lecturer Lecturer
	Units    []Unit
	Sessions []SessionSummary
}

// Dashboard collects the lecturer's units and sessions with present counts.
func (s *Service) Dashboard(ctx context.Context, lecturerID string) (Dashboard, error) {
	lec, err := s.store.LecturerByID(ctx, lecturerID)
	if err != nil {
		return Dashboard{}, err
	}
	units, err := s.store.UnitsByLecturer(ctx, lecturerID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load units: %w", err)
	}
	byID := make(map[string]Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}
	sessions, err := s.store.SessionsByLecturer(ctx, lecturerID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load sessions: %w", err)
	}
	d := Dashboard{Lecturer: lec, Units: units}
	for _, sess := range sessions {
		marks, err := s.store.AttendanceForSession(ctx, sess.ID)
		if err != nil {
			return Dashboard{}, fmt.Errorf("load attendance: %w", err)
		}
		u := byID[sess.UnitID]
		d.Sessions = append(d.Sessions, SessionSummary{Session: sess, UnitCode: u.Code, UnitName: u.Name, Present: len(marks)})
	}
	return d, nil
}
