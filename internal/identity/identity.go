// Package identity verifies ID tokens minted by the external identity provider.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/api/option"
)

// ErrInvalidToken is returned for any token the provider does not vouch for.
var ErrInvalidToken = errors.New("identity: invalid id token")

const defaultRole = "student"

// Identity is the verified user behind an ID token.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Role    string
}

// Verifier checks an ID token and returns who it belongs to.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (Identity, error)
}

func roleOr(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return defaultRole
	}
	return role
}

// FirebaseVerifier checks Firebase Authentication ID tokens. The role comes from a "role"
// custom claim and defaults to student.
type FirebaseVerifier struct {
	client *fbauth.Client
}

// NewFirebaseVerifier initialises the Admin SDK. With an empty credentials file the
// application default credentials are used.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

// Verify checks the token signature, audience and expiry with Firebase.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	tok, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claim := func(name string) string {
		s, _ := tok.Claims[name].(string)
		return s
	}
	return Identity{
		Subject: tok.UID,
		Email:   claim("email"),
		Name:    claim("name"),
		Role:    roleOr(claim("role")),
	}, nil
}

// SharedSecretClaims are the claims of an HS256 ID token from a provider that shares a secret
// with this service.
type SharedSecretClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SharedSecretVerifier checks HS256 ID tokens signed with a shared secret.
type SharedSecretVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewSharedSecretVerifier creates a verifier for secret.
func NewSharedSecretVerifier(secret string) *SharedSecretVerifier {
	return &SharedSecretVerifier{secret: []byte(secret), now: time.Now}
}

// Verify parses and validates the token.
func (v *SharedSecretVerifier) Verify(_ context.Context, idToken string) (Identity, error) {
	var claims SharedSecretClaims
	parsed, err := jwt.ParseWithClaims(idToken, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Role:    roleOr(claims.Role),
	}, nil
}

// SignSharedSecret mints an ID token for the shared-secret provider. Used by the dev tooling
// and tests.
func SignSharedSecret(secret string, id Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := SharedSecretClaims{
		Email: id.Email,
		Name:  id.Name,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
