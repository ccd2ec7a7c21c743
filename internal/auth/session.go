package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"snapattend/internal/apperrors"
	"snapattend/internal/identity"
)

// SessionConfig holds token settings for the session exchange.
type SessionConfig struct {
	Issuer         string
	SigningKey     string
	AccessTTL      time.Duration
	LogoutCooldown time.Duration
}

// Sessions trades provider ID tokens for access tokens and enforces the logout cooldown.
type Sessions struct {
	verifier  identity.Verifier
	cooldowns CooldownStore
	cfg       SessionConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewSessions wires the exchange.
func NewSessions(v identity.Verifier, store CooldownStore, cfg SessionConfig, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	return &Sessions{verifier: v, cooldowns: store, cfg: cfg, now: time.Now, logger: logger}
}

// Login is a successful exchange.
type Login struct {
	AccessToken
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// Exchange verifies idToken, consults the cooldown of the verified subject and issues an access
// token bound to deviceID. The cooldown is consumed on success.
func (s *Sessions) Exchange(ctx context.Context, idToken, deviceID string) (Login, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Login{}, apperrors.WithMessage(apperrors.ErrValidation, "device_id is required")
	}
	id, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return Login{}, apperrors.Wrap(apperrors.WithMessage(apperrors.ErrUnauthorized, "invalid id token"), err)
		}
		return Login{}, apperrors.Wrap(apperrors.ErrInternal, err)
	}

	now := s.now()
	cd, err := s.cooldowns.Get(ctx, id.Subject)
	if err != nil {
		return Login{}, apperrors.Wrap(apperrors.ErrInternal, err)
	}
	if !cd.Permit(now) {
		wait := cd.Remaining(now).Round(time.Second)
		return Login{}, apperrors.WithMessage(apperrors.ErrCooldownActive,
			fmt.Sprintf("Please wait %s before logging in again.", wait))
	}

	tok, err := Issue(Principal{
		Subject:  id.Subject,
		Role:     id.Role,
		Email:    id.Email,
		Name:     id.Name,
		DeviceID: deviceID,
	}, s.cfg.Issuer, s.cfg.SigningKey, s.cfg.AccessTTL, now)
	if err != nil {
		return Login{}, apperrors.Wrap(apperrors.ErrInternal, err)
	}
	if !cd.Until.IsZero() {
		if err := s.cooldowns.Clear(ctx, id.Subject); err != nil {
			s.logger.Warn("cooldown clear failed", zap.String("subject", id.Subject), zap.Error(err))
		}
	}
	s.logger.Info("session issued", zap.String("subject", id.Subject), zap.String("role", id.Role))
	return Login{AccessToken: tok, Subject: id.Subject, Role: id.Role}, nil
}

// Logout starts the cooldown for the user the token was issued to. A fresh device id does not
// escape it.
func (s *Sessions) Logout(ctx context.Context, claims Claims) (Cooldown, error) {
	cd := StartCooldown(s.now(), s.cfg.LogoutCooldown)
	if claims.Subject == "" || s.cfg.LogoutCooldown <= 0 {
		return Cooldown{}, nil
	}
	if err := s.cooldowns.Put(ctx, claims.Subject, cd); err != nil {
		return Cooldown{}, apperrors.Wrap(apperrors.ErrInternal, err)
	}
	s.logger.Info("logout cooldown started", zap.String("subject", claims.Subject),
		zap.String("device_id", claims.DeviceID), zap.Time("until", cd.Until))
	return cd, nil
}
