package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// ErrDuplicate is returned when a record for the (session, student) pair already exists.
var ErrDuplicate = errors.New("attendance: record already exists")

const recordsUniqueConstraint = "attendance_records_session_student_key"

// Repository persists attendance data in Postgres or SQLite.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a repo.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// GetSession returns the session with id, or nil when there is none.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := r.db.GetContext(ctx, &s, r.db.Rebind(`
		SELECT id, qr_id, created_at, expires_at, class_id, teacher_id
		FROM attendance_sessions WHERE id = ?
	`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &s, nil
}

// CreateSession writes a new session.
func (r *Repository) CreateSession(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO attendance_sessions (id, qr_id, created_at, expires_at, class_id, teacher_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`), s.ID, s.QRToken, s.CreatedAt, s.ExpiresAt, s.ClassID, s.TeacherID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// HasRecord reports whether the student already has a record in the session.
func (r *Repository) HasRecord(ctx context.Context, sessionID, studentID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`
		SELECT EXISTS (
			SELECT 1 FROM attendance_records WHERE session_id = ? AND student_id = ?
		)
	`), sessionID, studentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check record: %w", err)
	}
	return exists, nil
}

// RecordAttendance ensures the student exists and inserts rec in one transaction.
// Existing student fields are kept; only missing ones are filled from st.
// The insert relies on the (session_id, student_id) unique key and returns ErrDuplicate
// when another submission got there first.
func (r *Repository) RecordAttendance(ctx context.Context, st Student, rec *Record) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO students (id, registration_number, full_name, email, phone_number)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			registration_number = COALESCE(students.registration_number, excluded.registration_number),
			full_name = COALESCE(students.full_name, excluded.full_name),
			email = COALESCE(students.email, excluded.email),
			phone_number = COALESCE(students.phone_number, excluded.phone_number),
			updated_at = CURRENT_TIMESTAMP
	`), st.ID, st.RegistrationNumber, st.FullName, st.Email, st.Phone); err != nil {
		return fmt.Errorf("upsert student %s: %w", st.ID, err)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO attendance_records (id, session_id, student_id, scan_timestamp, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`), rec.ID, rec.SessionID, rec.StudentID, rec.ScanTimestamp, rec.Latitude, rec.Longitude)
	if err != nil {
		if isRecordConflict(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}

	if err := tx.Commit(); err != nil {
		if isRecordConflict(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListRecords returns the records of a session in scan order.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	records := []Record{}
	err := r.db.SelectContext(ctx, &records, r.db.Rebind(`
		SELECT id, session_id, student_id, scan_timestamp, latitude, longitude, created_at
		FROM attendance_records
		WHERE session_id = ?
		ORDER BY scan_timestamp, id
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// GetStudent returns a student by id, or nil when unknown.
func (r *Repository) GetStudent(ctx context.Context, id string) (*Student, error) {
	var st Student
	err := r.db.GetContext(ctx, &st, r.db.Rebind(`
		SELECT id, registration_number, full_name, email, phone_number, created_at, updated_at
		FROM students WHERE id = ?
	`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get student %s: %w", id, err)
	}
	return &st, nil
}

// isRecordConflict detects a unique violation on the (session_id, student_id) key.
func isRecordConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == recordsUniqueConstraint
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
			strings.Contains(liteErr.Error(), "attendance_records.session_id")
	}
	return false
}
