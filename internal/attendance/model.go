package attendance

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	// MaxSessionNumber is the number of lecture slots per unit and semester.
	MaxSessionNumber = 13
	// DefaultTotalLectures is the denominator used for attendance percentages.
	DefaultTotalLectures = 12

	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// ClassYears are the accepted values for Session.ClassYear.
var ClassYears = []string{"Year 1", "Year 2", "Year 3", "Year 4", "Year 5"}

// Lecturer is a staff account that owns units and sessions.
type Lecturer struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	StaffID      string    `json:"staff_id"`
	Department   string    `json:"department"`
	Phone        string    `json:"phone,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DisplayName falls back to the username when no full name was recorded.
func (l Lecturer) DisplayName() string {
	if l.FullName != "" {
		return l.FullName
	}
	return l.Username
}

// Unit is a course owned by one lecturer.
type Unit struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	LecturerID  string    `json:"lecturer_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session is one scheduled meeting of a unit.
type Session struct {
	ID            string    `json:"id"`
	UnitID        string    `json:"unit_id"`
	LecturerID    string    `json:"lecturer_id"`
	Date          time.Time `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	Venue         string    `json:"venue"`
	LecturerName  string    `json:"lecturer_name,omitempty"`
	ClassYear     string    `json:"class_year"`
	Semester      int       `json:"semester"`
	SessionNumber *int      `json:"session_number,omitempty"`
	IsActive      bool      `json:"is_active"`
	QRRef         string    `json:"qr_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DateString renders the session date as YYYY-MM-DD.
func (s Session) DateString() string { return s.Date.Format(dateLayout) }

// TimeSlot renders "start - end".
func (s Session) TimeSlot() string { return s.StartTime + " - " + s.EndTime }

// Number returns the lecture number or 0 when unassigned.
func (s Session) Number() int {
	if s.SessionNumber == nil {
		return 0
	}
	return *s.SessionNumber
}

// Student is identified by admission number and enrolled implicitly on first attendance.
type Student struct {
	ID              string    `json:"id"`
	AdmissionNumber string    `json:"admission_number"`
	Name            string    `json:"name"`
	Email           string    `json:"email,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Attendance links one student to one session, with per-target sync state.
type Attendance struct {
	ID                  string          `json:"id"`
	StudentID           string          `json:"student_id"`
	SessionID           string          `json:"session_id"`
	MarkedAt            time.Time       `json:"marked_at"`
	SyncedToRemoteStore bool            `json:"synced_to_remote_store"`
	RemoteDocID         string          `json:"remote_doc_id,omitempty"`
	RemoteResponse      json.RawMessage `json:"remote_response,omitempty"`
	SyncedToPortal      bool            `json:"synced_to_portal"`
	PortalResponse      json.RawMessage `json:"portal_response,omitempty"`
}

// FullySynced reports whether both remote targets confirmed the record.
func (a Attendance) FullySynced() bool {
	return a.SyncedToRemoteStore && a.SyncedToPortal
}

// NormalizeAdmission trims and upper-cases an admission number.
func NormalizeAdmission(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeName collapses runs of whitespace.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Percentage is 100*count/total, unclamped, and 0 when total is not positive.
func Percentage(count, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(count) / float64(total)
}
