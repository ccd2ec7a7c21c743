package attendance

import (
	"crypto/subtle"
	"strings"
	"time"

	"snapattend/internal/apperrors"
)

// MessageSuccess is returned when a record has been stored.
const MessageSuccess = "Attendance marked successfully!"

// Session is a bounded time window during which attendance may be recorded.
type Session struct {
	ID        string    `db:"id" json:"id"`
	QRToken   string    `db:"qr_id" json:"qr_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	ClassID   *string   `db:"class_id" json:"class_id,omitempty"`
	TeacherID *string   `db:"teacher_id" json:"teacher_id,omitempty"`
}

// Valid reports whether qrToken matches and now is strictly before the expiry.
func (s Session) Valid(qrToken string, now time.Time) bool {
	if subtle.ConstantTimeCompare([]byte(s.QRToken), []byte(qrToken)) != 1 {
		return false
	}
	return now.Before(s.ExpiresAt)
}

// Record is one student's presence in one session.
type Record struct {
	ID            string    `db:"id" json:"id"`
	SessionID     string    `db:"session_id" json:"session_id"`
	StudentID     string    `db:"student_id" json:"student_id"`
	ScanTimestamp time.Time `db:"scan_timestamp" json:"scan_timestamp"`
	Latitude      *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude     *float64  `db:"longitude" json:"longitude,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Student is the profile of a student known to the service.
type Student struct {
	ID                 string    `db:"id" json:"id"`
	RegistrationNumber *string   `db:"registration_number" json:"registration_number,omitempty"`
	FullName           *string   `db:"full_name" json:"full_name,omitempty"`
	Email              *string   `db:"email" json:"email,omitempty"`
	Phone              *string   `db:"phone_number" json:"phone_number,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Submission is one attendance attempt as presented by a student.
type Submission struct {
	SessionID     string
	QRToken       string
	StudentID     string `validate:"required"`
	ScanTimestamp time.Time
	Latitude      *float64 `validate:"omitempty,gte=-90,lte=90"`
	Longitude     *float64 `validate:"omitempty,gte=-180,lte=180"`
	FullName      *string  `validate:"omitempty,max=200"`
	Email         *string  `validate:"omitempty,email"`
	Phone         *string  `validate:"omitempty,max=32"`
}

// Outcome is the structured result of a submission. It never carries a raw error.
type Outcome struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Code    apperrors.Code `json:"code,omitempty"`
	Record  *Record        `json:"record,omitempty"`
}

func failure(e *apperrors.Error) Outcome {
	return Outcome{Success: false, Message: e.Message, Code: e.Code}
}

// RegistrationNumberFromEmail extracts REG from addresses shaped like name.reg@domain.
func RegistrationNumberFromEmail(email string) (string, bool) {
	local, _, ok := strings.Cut(email, "@")
	if !ok {
		return "", false
	}
	parts := strings.Split(local, ".")
	if len(parts) != 2 || parts[1] == "" {
		return "", false
	}
	for _, r := range parts[1] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "", false
		}
	}
	return strings.ToUpper(parts[1]), true
}
