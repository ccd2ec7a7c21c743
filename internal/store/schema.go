package store

import (
	"context"
	"fmt"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS students (
	id                  TEXT PRIMARY KEY,
	registration_number TEXT UNIQUE,
	full_name           TEXT,
	email               TEXT UNIQUE,
	phone_number        TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS attendance_sessions (
	id         TEXT PRIMARY KEY,
	qr_id      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at TIMESTAMPTZ NOT NULL,
	class_id   TEXT,
	teacher_id TEXT
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES attendance_sessions(id),
	student_id     TEXT NOT NULL REFERENCES students(id),
	scan_timestamp TIMESTAMPTZ NOT NULL,
	latitude       DOUBLE PRECISION,
	longitude      DOUBLE PRECISION,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT attendance_records_session_student_key UNIQUE (session_id, student_id)
);

CREATE INDEX IF NOT EXISTS idx_attendance_records_session ON attendance_records(session_id, scan_timestamp);
`

// SQLite only parses TIMESTAMP/DATETIME declared columns back into time.Time.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS students (
	id                  TEXT PRIMARY KEY,
	registration_number TEXT UNIQUE,
	full_name           TEXT,
	email               TEXT UNIQUE,
	phone_number        TEXT,
	created_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS attendance_sessions (
	id         TEXT PRIMARY KEY,
	qr_id      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at TIMESTAMP NOT NULL,
	class_id   TEXT,
	teacher_id TEXT
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES attendance_sessions(id),
	student_id     TEXT NOT NULL REFERENCES students(id),
	scan_timestamp TIMESTAMP NOT NULL,
	latitude       REAL,
	longitude      REAL,
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (session_id, student_id)
);

CREATE INDEX IF NOT EXISTS idx_attendance_records_session ON attendance_records(session_id, scan_timestamp);
`

// Migrate creates the tables when they do not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if d.Driver == DriverSQLite {
		schema = sqliteSchema
	}
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
