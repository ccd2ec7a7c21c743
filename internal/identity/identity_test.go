package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedSecretVerifier(t *testing.T) {
	now := time.Now()
	tok, err := SignSharedSecret("s3cret", Identity{Subject: "U1", Email: "asha.21bce1234@uni.example", Name: "Asha"}, time.Hour, now)
	require.NoError(t, err)

	id, err := NewSharedSecretVerifier("s3cret").Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{Subject: "U1", Email: "asha.21bce1234@uni.example", Name: "Asha", Role: "student"}, id)
}

func TestSharedSecretVerifierTeacherRole(t *testing.T) {
	tok, err := SignSharedSecret("s3cret", Identity{Subject: "T1", Role: "Teacher"}, time.Hour, time.Now())
	require.NoError(t, err)

	id, err := NewSharedSecretVerifier("s3cret").Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "teacher", id.Role)
}

func TestSharedSecretVerifierRejects(t *testing.T) {
	now := time.Now()
	good, err := SignSharedSecret("s3cret", Identity{Subject: "U1"}, time.Hour, now)
	require.NoError(t, err)
	expired, err := SignSharedSecret("s3cret", Identity{Subject: "U1"}, time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	noSubject, err := SignSharedSecret("s3cret", Identity{}, time.Hour, now)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "U1"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	cases := map[string]struct {
		secret string
		token  string
	}{
		"wrong secret": {"other", good},
		"expired":      {"s3cret", expired},
		"no subject":   {"s3cret", noSubject},
		"no expiry":    {"s3cret", noExpiry},
		"garbage":      {"s3cret", "not-a-token"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewSharedSecretVerifier(tc.secret).Verify(context.Background(), tc.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
