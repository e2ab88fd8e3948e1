package attendance

import (
	"context"
	"time"
)

// Store is the local, authoritative persistence layer. Implementations enforce the
// unique constraints named in errors.go and report violations as *ConflictError.
type Store interface {
	CreateLecturer(ctx context.Context, l *Lecturer) error
	LecturerByID(ctx context.Context, id string) (Lecturer, error)
	LecturerByUsername(ctx context.Context, username string) (Lecturer, error)

	CreateUnit(ctx context.Context, u *Unit) error
	UnitByID(ctx context.Context, id string) (Unit, error)
	UnitCodeExists(ctx context.Context, code string) (bool, error)
	UnitsByLecturer(ctx context.Context, lecturerID string) ([]Unit, error)

	InsertSession(ctx context.Context, s *Session) error
	SessionByID(ctx context.Context, id string) (Session, error)
	SessionsByLecturer(ctx context.Context, lecturerID string) ([]Session, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]Session, error)
	SessionNumbersInUse(ctx context.Context, unitID string, semester int) ([]int, error)
	SessionSlotTaken(ctx context.Context, unitID string, semester int, date time.Time, startTime string) (bool, error)
	SetSessionActive(ctx context.Context, id string, active bool) error
	SetSessionQR(ctx context.Context, id, ref string) error
	DeleteSession(ctx context.Context, id string) error

	// GetOrCreateStudent is atomic on the admission number.
	GetOrCreateStudent(ctx context.Context, admission, name string) (Student, bool, error)
	StudentByID(ctx context.Context, id string) (Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	Enroll(ctx context.Context, studentID, unitID string) error
	EnrolledStudents(ctx context.Context, unitID string) ([]Student, error)

	// GetOrCreateAttendance is atomic on (student, session); a racing loser gets the existing row.
	GetOrCreateAttendance(ctx context.Context, studentID, sessionID string) (Attendance, bool, error)
	AttendanceByID(ctx context.Context, id string) (Attendance, error)
	AttendanceForSession(ctx context.Context, sessionID string) ([]Attendance, error)
	// CountAttendance counts a student's marks, restricted to one unit unless unitID is empty.
	CountAttendance(ctx context.Context, studentID, unitID string) (int, error)
	// UpdateRemoteSync never clears a flag that is already set; an empty docID keeps the stored one.
	UpdateRemoteSync(ctx context.Context, id string, synced bool, docID string, response []byte) error
	UpdatePortalSync(ctx context.Context, id string, synced bool, response []byte) error
	UnsyncedAttendance(ctx context.Context, limit int) ([]Attendance, error)
}

// SessionFilter narrows ListSessions. Results are newest date first.
type SessionFilter struct {
	MissingQR bool
	Limit     int
}
