package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapattend/internal/attendance"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	scanned := time.Date(2026, 3, 2, 8, 59, 0, 0, time.UTC)
	n := NewNotifier(q, nil)
	n.Recorded(ctx,
		attendance.Session{ID: "S1", ExpiresAt: scanned.Add(time.Minute)},
		attendance.Record{ID: "R1", SessionID: "S1", StudentID: "U1", ScanTimestamp: scanned})

	select {
	case msg := <-msgs:
		ev, err := DecodeRecorded(msg)
		require.NoError(t, err)
		assert.Equal(t, "R1", ev.RecordID)
		assert.Equal(t, "U1", ev.StudentID)
		assert.True(t, ev.ScanTimestamp.Equal(scanned))
		assert.True(t, ev.SessionExpiresAt.Equal(scanned.Add(time.Minute)))
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	cancel()
	_, open := <-msgs
	assert.False(t, open)
}

func TestInMemoryPublishNeverBlocks(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "x"}))
	assert.ErrorIs(t, q.Publish(context.Background(), Message{Type: "x"}), ErrQueueFull)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "x"}), context.Canceled)
}

func TestDecodeRecordedRejects(t *testing.T) {
	_, err := DecodeRecorded(Message{Type: "other", Body: []byte(`{}`)})
	assert.Error(t, err)
	_, err = DecodeRecorded(Message{Type: TypeAttendanceRecorded, Body: []byte(`{"session_id":"S1"}`)})
	assert.Error(t, err)
	_, err = DecodeRecorded(Message{Type: TypeAttendanceRecorded, Body: []byte(`not json`)})
	assert.Error(t, err)
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRedisQueueAndRoster(t *testing.T) {
	client := redisClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := "test:queue:" + time.Now().Format("150405.000000")
	q := NewRedisQueue(client, key)
	defer client.Del(context.Background(), key)

	now := time.Now().UTC().Truncate(time.Millisecond)
	msg, err := NewRecordedMessage(Recorded{RecordID: "R1", SessionID: key, StudentID: "U1", ScanTimestamp: now, SessionExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	got := <-msgs
	ev, err := DecodeRecorded(got)
	require.NoError(t, err)

	roster := NewRoster(client)
	defer client.Del(context.Background(), RosterKey(key))
	require.NoError(t, roster.Add(ctx, ev))
	require.NoError(t, roster.Add(ctx, ev))

	entries, err := roster.List(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "U1", entries[0].StudentID)
	assert.True(t, entries[0].ScannedAt.Equal(now))

	ttl, err := client.TTL(ctx, RosterKey(key)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Minute)
}
