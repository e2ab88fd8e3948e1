package attendance

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("you do not have permission to modify this resource")
	ErrInvalid            = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAlreadyMarked      = errors.New("attendance already marked for this session")
	ErrSessionClosed      = errors.New("session is not accepting attendance")
	ErrDuplicateSlot      = errors.New("a session already exists for this unit, semester, date and start time")
	ErrSessionCapacity    = fmt.Errorf("all %d lecture slots are already used for this unit and semester", MaxSessionNumber)
	ErrConflict           = errors.New("unique constraint violated")
)

// Unique constraint names shared by the Postgres schema and MemStore.
const (
	ConstraintLecturerUsername = "lecturers_username_key"
	ConstraintLecturerStaffID  = "lecturers_staff_id_key"
	ConstraintUnitCode         = "units_code_key"
	ConstraintSessionNumber    = "unique_unit_semester_session"
	ConstraintSessionSlot      = "unique_unit_semester_datetime"
	ConstraintAdmission        = "students_admission_number_key"
	ConstraintAttendance       = "attendance_student_session_key"
)

// ConflictError reports which unique constraint rejected a write.
type ConflictError struct {
	Constraint string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict, e.Constraint)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IsConflict reports whether err is a unique violation on the named constraint.
func IsConflict(err error, constraint string) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Constraint == constraint
}

// ValidationError carries per-field messages for form and JSON responses.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
