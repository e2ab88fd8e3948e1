package store

import (
	"context"
	"fmt"
)

// schema is applied statement by statement on startup. Constraint names are
// referenced by the attendance package when mapping unique violations.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS lecturers (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL,
		full_name     TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		staff_id      TEXT,
		department    TEXT NOT NULL DEFAULT '',
		phone         TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT lecturers_username_key UNIQUE (username),
		CONSTRAINT lecturers_staff_id_key UNIQUE (staff_id)
	)`,
	`CREATE TABLE IF NOT EXISTS units (
		id          TEXT PRIMARY KEY,
		code        TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		lecturer_id TEXT NOT NULL REFERENCES lecturers(id) ON DELETE CASCADE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT units_code_key UNIQUE (code)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		unit_id        TEXT NOT NULL REFERENCES units(id) ON DELETE CASCADE,
		lecturer_id    TEXT NOT NULL REFERENCES lecturers(id) ON DELETE CASCADE,
		date           DATE NOT NULL,
		start_time     TEXT NOT NULL,
		end_time       TEXT NOT NULL,
		venue          TEXT NOT NULL,
		lecturer_name  TEXT NOT NULL DEFAULT '',
		class_year     TEXT NOT NULL,
		semester       INT NOT NULL,
		session_number INT CHECK (session_number BETWEEN 1 AND 13),
		is_active      BOOLEAN NOT NULL DEFAULT TRUE,
		qr_ref         TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT unique_unit_semester_session UNIQUE (unit_id, semester, session_number),
		CONSTRAINT unique_unit_semester_datetime UNIQUE (unit_id, semester, date, start_time)
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_lecturer_idx ON sessions (lecturer_id)`,
	`CREATE TABLE IF NOT EXISTS students (
		id               TEXT PRIMARY KEY,
		admission_number TEXT NOT NULL,
		name             TEXT NOT NULL,
		email            TEXT NOT NULL DEFAULT '',
		phone            TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT students_admission_number_key UNIQUE (admission_number)
	)`,
	`CREATE TABLE IF NOT EXISTS student_units (
		student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		unit_id    TEXT NOT NULL REFERENCES units(id) ON DELETE CASCADE,
		PRIMARY KEY (student_id, unit_id)
	)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id                     TEXT PRIMARY KEY,
		student_id             TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		session_id             TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		marked_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
		synced_to_remote_store BOOLEAN NOT NULL DEFAULT FALSE,
		remote_doc_id          TEXT NOT NULL DEFAULT '',
		remote_response        JSONB NOT NULL DEFAULT '{}',
		synced_to_portal       BOOLEAN NOT NULL DEFAULT FALSE,
		portal_response        JSONB NOT NULL DEFAULT '{}',
		CONSTRAINT attendance_student_session_key UNIQUE (student_id, session_id)
	)`,
	`CREATE INDEX IF NOT EXISTS attendance_unsynced_idx ON attendance (marked_at)
		WHERE NOT synced_to_remote_store OR NOT synced_to_portal`,
}

// Migrate creates missing tables and indexes. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
