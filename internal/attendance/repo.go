package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// mapErr turns driver errors into package errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &ConflictError{Constraint: pgErr.ConstraintName}
	}
	return err
}

// -------- Lecturers --------

const lecturerColumns = `id, username, full_name, password_hash, COALESCE(staff_id, ''), department, phone, created_at`

func scanLecturer(row interface{ Scan(...any) error }) (Lecturer, error) {
	var l Lecturer
	err := row.Scan(&l.ID, &l.Username, &l.FullName, &l.PasswordHash, &l.StaffID, &l.Department, &l.Phone, &l.CreatedAt)
	return l, mapErr(err)
}

// CreateLecturer inserts a lecturer account.
func (r *Repository) CreateLecturer(ctx context.Context, l *Lecturer) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO lecturers (id, username, full_name, password_hash, staff_id, department, phone)
		VALUES ($1,$2,$3,$4,NULLIF($5, ''),$6,$7)
		RETURNING created_at
	`, l.ID, l.Username, l.FullName, l.PasswordHash, l.StaffID, l.Department, l.Phone)
	return mapErr(row.Scan(&l.CreatedAt))
}

// LecturerByID returns a lecturer by primary key.
func (r *Repository) LecturerByID(ctx context.Context, id string) (Lecturer, error) {
	return scanLecturer(r.db.QueryRowContext(ctx, `SELECT `+lecturerColumns+` FROM lecturers WHERE id = $1`, id))
}

// LecturerByUsername returns a lecturer by login name.
func (r *Repository) LecturerByUsername(ctx context.Context, username string) (Lecturer, error) {
	return scanLecturer(r.db.QueryRowContext(ctx, `SELECT `+lecturerColumns+` FROM lecturers WHERE username = $1`, username))
}

// -------- Units --------

const unitColumns = `id, code, name, description, lecturer_id, created_at`

func scanUnit(row interface{ Scan(...any) error }) (Unit, error) {
	var u Unit
	err := row.Scan(&u.ID, &u.Code, &u.Name, &u.Description, &u.LecturerID, &u.CreatedAt)
	return u, mapErr(err)
}

// CreateUnit inserts a unit; a taken code surfaces as a ConflictError.
func (r *Repository) CreateUnit(ctx context.Context, u *Unit) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO units (id, code, name, description, lecturer_id)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, u.ID, u.Code, u.Name, u.Description, u.LecturerID)
	return mapErr(row.Scan(&u.CreatedAt))
}

// UnitByID returns a single unit.
func (r *Repository) UnitByID(ctx context.Context, id string) (Unit, error) {
	return scanUnit(r.db.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id))
}

// UnitCodeExists checks code uniqueness ahead of an insert.
func (r *Repository) UnitCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM units WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

// UnitsByLecturer lists a lecturer's units by code.
func (r *Repository) UnitsByLecturer(ctx context.Context, lecturerID string) ([]Unit, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+unitColumns+` FROM units WHERE lecturer_id = $1 ORDER BY code`, lecturerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// -------- Sessions --------

const sessionColumns = `s.id, s.unit_id, s.lecturer_id, s.date, s.start_time, s.end_time, s.venue, s.lecturer_name,
	s.class_year, s.semester, s.session_number, s.is_active, s.qr_ref, s.created_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		s   Session
		num sql.NullInt32
	)
	err := row.Scan(&s.ID, &s.UnitID, &s.LecturerID, &s.Date, &s.StartTime, &s.EndTime, &s.Venue, &s.LecturerName,
		&s.ClassYear, &s.Semester, &num, &s.IsActive, &s.QRRef, &s.CreatedAt)
	if err != nil {
		return Session{}, mapErr(err)
	}
	if num.Valid {
		n := int(num.Int32)
		s.SessionNumber = &n
	}
	return s, nil
}

func (r *Repository) querySessions(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// InsertSession writes a new session. Either session unique constraint surfaces as a ConflictError.
func (r *Repository) InsertSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	var num any
	if s.SessionNumber != nil {
		num = *s.SessionNumber
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, unit_id, lecturer_id, date, start_time, end_time, venue, lecturer_name,
			class_year, semester, session_number, is_active, qr_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at
	`, s.ID, s.UnitID, s.LecturerID, s.Date, s.StartTime, s.EndTime, s.Venue, s.LecturerName,
		s.ClassYear, s.Semester, num, s.IsActive, s.QRRef)
	return mapErr(row.Scan(&s.CreatedAt))
}

// SessionByID returns a single session.
func (r *Repository) SessionByID(ctx context.Context, id string) (Session, error) {
	return scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = $1`, id))
}

// SessionsByLecturer lists sessions in unit/semester/number order.
func (r *Repository) SessionsByLecturer(ctx context.Context, lecturerID string) ([]Session, error) {
	return r.querySessions(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s JOIN units u ON u.id = s.unit_id
		WHERE s.lecturer_id = $1
		ORDER BY u.code, s.semester, s.session_number NULLS LAST, s.date, s.start_time
	`, lecturerID)
}

// ListSessions returns sessions newest first, optionally only those without a QR artifact.
func (r *Repository) ListSessions(ctx context.Context, f SessionFilter) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s`
	args := []any{}
	if f.MissingQR {
		query += ` WHERE s.qr_ref = ''`
	}
	query += ` ORDER BY s.date DESC, s.created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return r.querySessions(ctx, query, args...)
}

// SessionNumbersInUse returns assigned numbers for a unit and semester.
func (r *Repository) SessionNumbersInUse(ctx context.Context, unitID string, semester int) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_number FROM sessions
		WHERE unit_id = $1 AND semester = $2 AND session_number IS NOT NULL
	`, unitID, semester)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var used []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		used = append(used, n)
	}
	return used, rows.Err()
}

// SessionSlotTaken checks the (unit, semester, date, start_time) constraint ahead of an insert.
func (r *Repository) SessionSlotTaken(ctx context.Context, unitID string, semester int, date time.Time, startTime string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM sessions WHERE unit_id = $1 AND semester = $2 AND date = $3 AND start_time = $4)
	`, unitID, semester, date, startTime).Scan(&exists)
	return exists, err
}

func (r *Repository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSessionActive sets the active flag.
func (r *Repository) SetSessionActive(ctx context.Context, id string, active bool) error {
	return r.execOne(ctx, `UPDATE sessions SET is_active = $2 WHERE id = $1`, id, active)
}

// SetSessionQR stores the QR artifact reference.
func (r *Repository) SetSessionQR(ctx context.Context, id, ref string) error {
	return r.execOne(ctx, `UPDATE sessions SET qr_ref = $2 WHERE id = $1`, id, ref)
}

// DeleteSession purges a session and, by cascade, its attendance.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	return r.execOne(ctx, `DELETE FROM sessions WHERE id = $1`, id)
}

// -------- Students --------

const studentColumns = `id, admission_number, name, email, phone, created_at`

func scanStudent(row interface{ Scan(...any) error }) (Student, error) {
	var st Student
	err := row.Scan(&st.ID, &st.AdmissionNumber, &st.Name, &st.Email, &st.Phone, &st.CreatedAt)
	return st, mapErr(err)
}

func (r *Repository) queryStudents(ctx context.Context, query string, args ...any) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// GetOrCreateStudent inserts the student unless the admission number already exists.
func (r *Repository) GetOrCreateStudent(ctx context.Context, admission, name string) (Student, bool, error) {
	st, err := scanStudent(r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, admission_number, name)
		VALUES ($1,$2,$3)
		ON CONFLICT (admission_number) DO NOTHING
		RETURNING `+studentColumns,
		uuid.NewString(), admission, name))
	if err == nil {
		return st, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Student{}, false, err
	}
	st, err = scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE admission_number = $1`, admission))
	return st, false, err
}

// StudentByID returns a single student.
func (r *Repository) StudentByID(ctx context.Context, id string) (Student, error) {
	return scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
}

// ListStudents returns all students by name.
func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	return r.queryStudents(ctx, `SELECT `+studentColumns+` FROM students ORDER BY name`)
}

// Enroll adds a unit to the student's enrollment set.
func (r *Repository) Enroll(ctx context.Context, studentID, unitID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO student_units (student_id, unit_id)
		VALUES ($1, $2)
		ON CONFLICT (student_id, unit_id) DO NOTHING
	`, studentID, unitID)
	return mapErr(err)
}

// EnrolledStudents lists students enrolled in a unit.
func (r *Repository) EnrolledStudents(ctx context.Context, unitID string) ([]Student, error) {
	cols := "st." + strings.ReplaceAll(studentColumns, ", ", ", st.")
	return r.queryStudents(ctx, `
		SELECT `+cols+`
		FROM students st JOIN student_units su ON su.student_id = st.id
		WHERE su.unit_id = $1
		ORDER BY st.name
	`, unitID)
}

// -------- Attendance --------

const attendanceColumns = `id, student_id, session_id, marked_at, synced_to_remote_store, remote_doc_id,
	remote_response, synced_to_portal, portal_response`

func scanAttendance(row interface{ Scan(...any) error }) (Attendance, error) {
	var (
		a              Attendance
		remote, portal []byte
	)
	err := row.Scan(&a.ID, &a.StudentID, &a.SessionID, &a.MarkedAt, &a.SyncedToRemoteStore, &a.RemoteDocID,
		&remote, &a.SyncedToPortal, &portal)
	if err != nil {
		return Attendance{}, mapErr(err)
	}
	a.RemoteResponse = remote
	a.PortalResponse = portal
	return a, nil
}

func (r *Repository) queryAttendance(ctx context.Context, query string, args ...any) ([]Attendance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// GetOrCreateAttendance inserts the mark unless (student, session) already exists.
func (r *Repository) GetOrCreateAttendance(ctx context.Context, studentID, sessionID string) (Attendance, bool, error) {
	a, err := scanAttendance(r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, student_id, session_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (student_id, session_id) DO NOTHING
		RETURNING `+attendanceColumns,
		uuid.NewString(), studentID, sessionID))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Attendance{}, false, err
	}
	a, err = scanAttendance(r.db.QueryRowContext(ctx, `
		SELECT `+attendanceColumns+` FROM attendance WHERE student_id = $1 AND session_id = $2
	`, studentID, sessionID))
	return a, false, err
}

// AttendanceByID returns a single mark.
func (r *Repository) AttendanceByID(ctx context.Context, id string) (Attendance, error) {
	return scanAttendance(r.db.QueryRowContext(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE id = $1`, id))
}

// AttendanceForSession lists marks for a session, newest first.
func (r *Repository) AttendanceForSession(ctx context.Context, sessionID string) ([]Attendance, error) {
	return r.queryAttendance(ctx, `
		SELECT `+attendanceColumns+` FROM attendance WHERE session_id = $1 ORDER BY marked_at DESC
	`, sessionID)
}

// CountAttendance counts a student's marks, optionally within one unit.
func (r *Repository) CountAttendance(ctx context.Context, studentID, unitID string) (int, error) {
	var n int
	var err error
	if unitID == "" {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance WHERE student_id = $1`, studentID).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM attendance a JOIN sessions s ON s.id = a.session_id
			WHERE a.student_id = $1 AND s.unit_id = $2
		`, studentID, unitID).Scan(&n)
	}
	return n, err
}

// UpdateRemoteSync records a document store outcome.
func (r *Repository) UpdateRemoteSync(ctx context.Context, id string, synced bool, docID string, response []byte) error {
	return r.execOne(ctx, `
		UPDATE attendance
		SET synced_to_remote_store = synced_to_remote_store OR $2,
			remote_doc_id = COALESCE(NULLIF($3, ''), remote_doc_id),
			remote_response = $4::jsonb
		WHERE id = $1
	`, id, synced, docID, jsonText(response))
}

// UpdatePortalSync records a portal outcome.
func (r *Repository) UpdatePortalSync(ctx context.Context, id string, synced bool, response []byte) error {
	return r.execOne(ctx, `
		UPDATE attendance
		SET synced_to_portal = synced_to_portal OR $2,
			portal_response = $3::jsonb
		WHERE id = $1
	`, id, synced, jsonText(response))
}

// UnsyncedAttendance lists marks missing at least one remote confirmation, oldest first.
func (r *Repository) UnsyncedAttendance(ctx context.Context, limit int) ([]Attendance, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryAttendance(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE NOT synced_to_remote_store OR NOT synced_to_portal
		ORDER BY marked_at
		LIMIT $1
	`, limit)
}

func jsonText(b []byte) string {
	if len(b) == 0 {
		return "{}"
	}
	return string(b)
}
