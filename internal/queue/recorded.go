package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"snapattend/internal/attendance"
)

// TypeAttendanceRecorded is published after every accepted submission.
const TypeAttendanceRecorded = "attendance.recorded"

// Recorded is the body of an attendance.recorded message.
type Recorded struct {
	RecordID         string    `json:"record_id"`
	SessionID        string    `json:"session_id"`
	StudentID        string    `json:"student_id"`
	ScanTimestamp    time.Time `json:"scan_timestamp"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

// NewRecordedMessage wraps ev in a message.
func NewRecordedMessage(ev Recorded) (Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeAttendanceRecorded, Body: body}, nil
}

// DecodeRecorded reads the body of an attendance.recorded message.
func DecodeRecorded(msg Message) (Recorded, error) {
	if msg.Type != TypeAttendanceRecorded {
		return Recorded{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var ev Recorded
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		return Recorded{}, fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	if ev.SessionID == "" || ev.StudentID == "" {
		return Recorded{}, fmt.Errorf("%s without session or student", msg.Type)
	}
	return ev, nil
}

const publishTimeout = 2 * time.Second

// Notifier publishes accepted submissions. Publishing failures are logged and never affect
// the submission outcome.
type Notifier struct {
	q      Queue
	logger *zap.Logger
}

// NewNotifier creates a notifier on q.
func NewNotifier(q Queue, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{q: q, logger: logger}
}

// Recorded implements attendance.RecordListener.
func (n *Notifier) Recorded(ctx context.Context, s attendance.Session, r attendance.Record) {
	msg, err := NewRecordedMessage(Recorded{
		RecordID:         r.ID,
		SessionID:        r.SessionID,
		StudentID:        r.StudentID,
		ScanTimestamp:    r.ScanTimestamp,
		SessionExpiresAt: s.ExpiresAt,
	})
	if err == nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err = n.q.Publish(pubCtx, msg)
		cancel()
	}
	if err != nil {
		n.logger.Warn("publish attendance.recorded failed", zap.String("record_id", r.ID), zap.Error(err))
	}
}

// RosterEntry is one student on a live roster.
type RosterEntry struct {
	StudentID string    `json:"student_id"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Roster keeps a sorted set of students per session in Redis, scored by scan time.
type Roster struct {
	client *redis.Client
}

// NewRoster creates a roster on client.
func NewRoster(client *redis.Client) *Roster {
	return &Roster{client: client}
}

// RosterKey is the sorted set holding a session's roster.
func RosterKey(sessionID string) string {
	return "session:" + sessionID + ":roster"
}

// Add places the student on the roster and lets the set expire with the session.
func (r *Roster) Add(ctx context.Context, ev Recorded) error {
	key := RosterKey(ev.SessionID)
	pipe := r.client.TxPipeline()
	pipe.ZAddNX(ctx, key, redis.Z{Score: float64(ev.ScanTimestamp.UnixMilli()), Member: ev.StudentID})
	if !ev.SessionExpiresAt.IsZero() {
		pipe.ExpireAt(ctx, key, ev.SessionExpiresAt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("roster add: %w", err)
	}
	return nil
}

// List returns the roster in scan order.
func (r *Roster) List(ctx context.Context, sessionID string) ([]RosterEntry, error) {
	zs, err := r.client.ZRangeWithScores(ctx, RosterKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("roster list: %w", err)
	}
	out := make([]RosterEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, RosterEntry{StudentID: member, ScannedAt: time.UnixMilli(int64(z.Score)).UTC()})
	}
	return out, nil
}
