package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"snapattend/internal/apperrors"
)

// Store is the persistence the service needs. Repository implements it.
type Store interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	CreateSession(ctx context.Context, s *Session) error
	HasRecord(ctx context.Context, sessionID, studentID string) (bool, error)
	RecordAttendance(ctx context.Context, st Student, rec *Record) error
	ListRecords(ctx context.Context, sessionID string) ([]Record, error)
	GetStudent(ctx context.Context, id string) (*Student, error)
}

// OutcomeObserver receives the code of every finished submission.
type OutcomeObserver interface {
	ObserveSubmission(code string)
}

// RecordListener is told about every accepted submission after it has been stored.
type RecordListener interface {
	Recorded(ctx context.Context, s Session, r Record)
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithObserver reports submission outcomes to o.
func WithObserver(o OutcomeObserver) Option {
	return func(s *Service) { s.observer = o }
}

// WithListener notifies l of accepted submissions.
func WithListener(l RecordListener) Option {
	return func(s *Service) { s.listener = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service validates submissions and issues sessions.
type Service struct {
	store      Store
	sessionTTL time.Duration
	validate   *validator.Validate
	now        func() time.Time
	observer   OutcomeObserver
	listener   RecordListener
	logger     *zap.Logger
}

// NewService creates a service backed by a store.
func NewService(store Store, sessionTTL time.Duration, opts ...Option) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 5 * time.Minute
	}
	s := &Service{
		store:      store,
		sessionTTL: sessionTTL,
		validate:   validator.New(),
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	s.validate.RegisterStructValidation(coordinatesPaired, Submission{})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// coordinatesPaired rejects a latitude without a longitude and vice versa.
func coordinatesPaired(sl validator.StructLevel) {
	sub := sl.Current().Interface().(Submission)
	if (sub.Latitude == nil) != (sub.Longitude == nil) {
		sl.ReportError(sub.Latitude, "Latitude", "latitude", "paired", "")
	}
}

// Submit decides whether to accept an attendance submission.
//
// The session check (existence, token, expiry) runs before the duplicate check, which runs
// before the insert. Concurrent duplicates are settled by the storage unique key. Submit never
// returns an error: every failure, including a panic in the store, becomes a failed Outcome.
func (s *Service) Submit(ctx context.Context, sub Submission) (out Outcome) {
	log := s.logger.With(zap.String("session_id", sub.SessionID), zap.String("student_id", sub.StudentID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("attendance submission panicked", zap.Any("panic", r))
			out = failure(apperrors.ErrStorage)
		}
		if s.observer != nil {
			code := string(out.Code)
			if out.Success {
				code = "OK"
			}
			s.observer.ObserveSubmission(code)
		}
	}()

	if err := s.validate.Struct(sub); err != nil {
		log.Debug("submission rejected", zap.Error(err))
		return failure(apperrors.ErrInvalidSubmission)
	}

	now := s.now()
	session, err := s.store.GetSession(ctx, sub.SessionID)
	if err != nil {
		log.Error("session lookup failed", zap.Error(err))
		return failure(apperrors.ErrStorage)
	}
	if session == nil || !session.Valid(sub.QRToken, now) {
		return failure(apperrors.ErrSessionNotFound)
	}

	exists, err := s.store.HasRecord(ctx, sub.SessionID, sub.StudentID)
	if err != nil {
		log.Error("duplicate check failed", zap.Error(err))
		return failure(apperrors.ErrStorage)
	}
	if exists {
		return failure(apperrors.ErrDuplicateSubmission)
	}

	scanned := sub.ScanTimestamp
	if scanned.IsZero() {
		scanned = now
	}
	rec := &Record{
		ID:            uuid.NewString(),
		SessionID:     sub.SessionID,
		StudentID:     sub.StudentID,
		ScanTimestamp: scanned.UTC(),
		Latitude:      sub.Latitude,
		Longitude:     sub.Longitude,
		CreatedAt:     now.UTC(),
	}
	if err := s.store.RecordAttendance(ctx, profileOf(sub), rec); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return failure(apperrors.ErrDuplicateSubmission)
		}
		log.Error("record insert failed", zap.Error(err))
		return failure(apperrors.ErrStorage)
	}

	log.Info("attendance recorded", zap.String("record_id", rec.ID))
	s.notify(ctx, log, *session, *rec)
	return Outcome{Success: true, Message: MessageSuccess, Record: rec}
}

// notify runs the listener after the record is committed. A listener failure never changes
// the outcome.
func (s *Service) notify(ctx context.Context, log *zap.Logger, session Session, rec Record) {
	if s.listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("record listener panicked", zap.String("record_id", rec.ID), zap.Any("panic", r))
		}
	}()
	s.listener.Recorded(ctx, session, rec)
}

func profileOf(sub Submission) Student {
	st := Student{
		ID:       sub.StudentID,
		FullName: sub.FullName,
		Email:    sub.Email,
		Phone:    sub.Phone,
	}
	if sub.Email != nil {
		if reg, ok := RegistrationNumberFromEmail(*sub.Email); ok {
			st.RegistrationNumber = &reg
		}
	}
	return st
}

// SessionRequest describes a session a teacher opens.
type SessionRequest struct {
	TeacherID string
	ClassID   string
	TTL       time.Duration
}

// CreateSession opens a session with a fresh QR token.
func (s *Service) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.sessionTTL
	}
	now := s.now().UTC()
	session := &Session{
		ID:        uuid.NewString(),
		QRToken:   uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if req.TeacherID != "" {
		session.TeacherID = &req.TeacherID
	}
	if req.ClassID != "" {
		session.ClassID = &req.ClassID
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, err)
	}
	s.logger.Info("session opened", zap.String("session_id", session.ID), zap.Time("expires_at", session.ExpiresAt))
	return session, nil
}

// Session returns a session by id.
func (s *Service) Session(ctx context.Context, id string) (*Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, err)
	}
	if session == nil {
		return nil, apperrors.WithMessage(apperrors.ErrNotFound, fmt.Sprintf("session %s not found", id))
	}
	return session, nil
}

// Records lists the records of a session.
func (s *Service) Records(ctx context.Context, sessionID string) ([]Record, error) {
	records, err := s.store.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, err)
	}
	return records, nil
}

// Student returns the stored profile of a student.
func (s *Service) Student(ctx context.Context, id string) (*Student, error) {
	st, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, err)
	}
	if st == nil {
		return nil, apperrors.WithMessage(apperrors.ErrNotFound, "student not found")
	}
	return st, nil
}
