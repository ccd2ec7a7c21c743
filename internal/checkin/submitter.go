package checkin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"snapattend/internal/apperrors"
)

// HTTPSubmitter posts check-ins to the attendance API.
type HTTPSubmitter struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPSubmitter creates a submitter authenticated with an access token.
func NewHTTPSubmitter(baseURL, token string) *HTTPSubmitter {
	return &HTTPSubmitter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Submit posts req. Rejections by the service come back as a failed Outcome with a nil error;
// an error means the service could not be reached or answered garbage.
func (s *HTTPSubmitter) Submit(ctx context.Context, req Request) (Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/attendance", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return Outcome{}, fmt.Errorf("post attendance: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{}, fmt.Errorf("read response: %w", err)
	}
	var out Outcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return Outcome{}, fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	if out.Message == "" {
		return Outcome{}, errors.New("empty response from attendance service")
	}
	return out, nil
}

// Login exchanges a provider ID token for an access token and keeps it for later submissions.
func (s *HTTPSubmitter) Login(ctx context.Context, idToken, deviceID string) (time.Time, error) {
	body, err := json.Marshal(map[string]string{"id_token": idToken, "device_id": deviceID})
	if err != nil {
		return time.Time{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/auth/session", bytes.NewReader(body))
	if err != nil {
		return time.Time{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return time.Time{}, fmt.Errorf("post session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var e apperrors.Response
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&e); err != nil || e.Message == "" {
			return time.Time{}, fmt.Errorf("login: %s", resp.Status)
		}
		return time.Time{}, apperrors.New(e.Code, resp.StatusCode, e.Message)
	}
	var tok struct {
		AccessToken string    `json:"access_token"`
		ExpiresAt   time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tok); err != nil {
		return time.Time{}, fmt.Errorf("decode session: %w", err)
	}
	if tok.AccessToken == "" {
		return time.Time{}, errors.New("login: empty access token")
	}
	s.Token = tok.AccessToken
	return tok.ExpiresAt, nil
}

// StaticLocator reports a fixed position, e.g. one passed on the command line.
type StaticLocator struct {
	Location *Location
}

// Locate returns the configured position or an error when none is set.
func (l StaticLocator) Locate(context.Context) (Location, error) {
	if l.Location == nil {
		return Location{}, errors.New("no location configured")
	}
	return *l.Location, nil
}
