package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapattend/internal/apperrors"
	"snapattend/internal/identity"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "snapattend"
)

func TestIssueParse(t *testing.T) {
	now := time.Now()
	tok, err := Issue(Principal{Subject: "U1", Role: RoleStudent, Email: "a@b.c", DeviceID: "dev-1"}, testIssuer, testKey, time.Minute, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Minute), tok.ExpiresAt, time.Second)

	claims, err := Parse(tok.Token, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "U1", claims.Subject)
	assert.Equal(t, RoleStudent, claims.Role)
	assert.Equal(t, "dev-1", claims.DeviceID)
	assert.NotEmpty(t, claims.ID)
}

func TestParseRejects(t *testing.T) {
	now := time.Now()
	good, err := Issue(Principal{Subject: "U1"}, testIssuer, testKey, time.Minute, now)
	require.NoError(t, err)
	expired, err := Issue(Principal{Subject: "U1"}, testIssuer, testKey, time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)

	_, err = Parse(good.Token, "other-key", testIssuer)
	assert.Error(t, err)
	_, err = Parse(good.Token, testKey, "someone-else")
	assert.Error(t, err)
	_, err = Parse(expired.Token, testKey, testIssuer)
	assert.Error(t, err)

	_, err = Issue(Principal{}, testIssuer, testKey, time.Minute, now)
	assert.Error(t, err)
}

func TestCooldown(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cd := StartCooldown(now, 10*time.Minute)

	assert.False(t, cd.Permit(now))
	assert.False(t, cd.Permit(now.Add(9*time.Minute)))
	assert.Equal(t, time.Minute, cd.Remaining(now.Add(9*time.Minute)))
	assert.True(t, cd.Permit(now.Add(10*time.Minute)))
	assert.Zero(t, cd.Remaining(now.Add(11*time.Minute)))

	assert.True(t, Cooldown{}.Permit(now))
}

func TestRedisCooldownStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()

	store := NewRedisCooldownStore(client)
	store.prefix = "test-cooldown:"
	defer store.Clear(ctx, "dev-1")

	cd, err := store.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, cd.Until.IsZero())

	want := StartCooldown(time.Now(), time.Minute)
	require.NoError(t, store.Put(ctx, "dev-1", want))
	got, err := store.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, want.Until.UnixMilli(), got.Until.UnixMilli())

	ttl, err := client.TTL(ctx, "test-cooldown:dev-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, store.Clear(ctx, "dev-1"))
	got, err = store.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, got.Permit(time.Now()))
}

type stubVerifier struct {
	id  identity.Identity
	err error
}

func (v stubVerifier) Verify(context.Context, string) (identity.Identity, error) { return v.id, v.err }

func newTestSessions(v identity.Verifier, store CooldownStore, now *time.Time) *Sessions {
	s := NewSessions(v, store, SessionConfig{
		Issuer: testIssuer, SigningKey: testKey, AccessTTL: time.Minute, LogoutCooldown: 10 * time.Minute,
	}, nil)
	s.now = func() time.Time { return *now }
	return s
}

func TestSessionsCooldownLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryCooldownStore()
	s := newTestSessions(stubVerifier{id: identity.Identity{Subject: "U1", Role: RoleStudent}}, store, &now)

	login, err := s.Exchange(ctx, "id-token", "dev-1")
	require.NoError(t, err)
	claims, err := Parse(login.Token, testKey, testIssuer)
	require.NoError(t, err)

	cd, err := s.Logout(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), cd.Until)

	now = now.Add(5 * time.Minute)
	_, err = s.Exchange(ctx, "id-token", "dev-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCooldownActive)
	assert.Contains(t, err.Error(), "5m0s")

	// A new device id does not escape the cooldown.
	_, err = s.Exchange(ctx, "id-token", "dev-2")
	assert.ErrorIs(t, err, apperrors.ErrCooldownActive)

	now = now.Add(5 * time.Minute)
	_, err = s.Exchange(ctx, "id-token", "dev-2")
	require.NoError(t, err)
	got, _ := store.Get(ctx, "U1")
	assert.True(t, got.Until.IsZero())
}

func TestSessionsExchangeErrors(t *testing.T) {
	now := time.Now()
	ctx := context.Background()

	s := newTestSessions(stubVerifier{err: identity.ErrInvalidToken}, NewMemoryCooldownStore(), &now)
	_, err := s.Exchange(ctx, "bad", "dev-1")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = s.Exchange(ctx, "bad", " ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	s = newTestSessions(stubVerifier{err: errors.New("provider down")}, NewMemoryCooldownStore(), &now)
	_, err = s.Exchange(ctx, "tok", "dev-1")
	assert.ErrorIs(t, err, apperrors.ErrInternal)
}

func TestBearerAndRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/teacher", Bearer(testKey, testIssuer), RequireRole(RoleTeacher), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})

	teacher, err := Issue(Principal{Subject: "T1", Role: RoleTeacher}, testIssuer, testKey, time.Minute, time.Now())
	require.NoError(t, err)
	student, err := Issue(Principal{Subject: "U1", Role: RoleStudent}, testIssuer, testKey, time.Minute, time.Now())
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + student.Token, http.StatusForbidden},
		{"teacher", "bearer " + teacher.Token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/teacher", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status != http.StatusOK {
				assert.Contains(t, w.Body.String(), `"success":false`)
			}
		})
	}
}
