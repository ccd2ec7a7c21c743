// Package checkin drives a student's check-in: locate, scan, submit.
package checkin

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"snapattend/internal/apperrors"
	"snapattend/internal/scan"
)

// State is a step of the check-in flow.
type State string

const (
	StateReady    State = "ready"
	StateLocating State = "locating"
	StateScanning State = "scanning"
	StateSending  State = "sending"
	StateSent     State = "sent"
)

const (
	msgLocationFailed = "Could not retrieve your location. Please enable location services and try again."
	msgNetworkFailed  = "A network error occurred. Please try again."
	msgScanCancelled  = "Scan cancelled."
)

// ErrNotReady is returned by Run when a check-in is already in progress or has not been reset.
var ErrNotReady = errors.New("checkin: flow is not ready")

// Location is a device position.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Locator returns the device position.
type Locator interface {
	Locate(ctx context.Context) (Location, error)
}

// Scanner produces one scan payload.
type Scanner interface {
	Scan(ctx context.Context) (scan.Payload, error)
}

// Submitter delivers a request to the attendance service.
type Submitter interface {
	Submit(ctx context.Context, req Request) (Outcome, error)
}

// Request is the body posted to the attendance endpoint.
type Request struct {
	SessionID     string    `json:"session_id"`
	QRToken       string    `json:"qr_id"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
	Latitude      *float64  `json:"latitude,omitempty"`
	Longitude     *float64  `json:"longitude,omitempty"`
	FullName      string    `json:"full_name,omitempty"`
	Phone         string    `json:"phone,omitempty"`
}

// Outcome is what the student sees at the end of a check-in.
type Outcome struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Code    apperrors.Code `json:"code,omitempty"`
}

func failed(err error) Outcome {
	e := apperrors.FromError(err)
	return Outcome{Message: e.Message, Code: e.Code}
}

// Profile holds the optional student fields sent with each submission.
type Profile struct {
	FullName string
	Phone    string
}

// Config assembles a Flow.
type Config struct {
	Locator         Locator
	Scanner         Scanner
	Submitter       Submitter
	Profile         Profile
	RequireLocation bool
	Logger          *zap.Logger
	Now             func() time.Time
	// OnState, when set, is called on every transition.
	OnState func(State)
}

// Flow moves linearly through ready, locating, scanning, sending and sent. Every run ends in
// sent, successful or not; Reset goes back to ready.
type Flow struct {
	cfg Config

	mu    sync.Mutex
	state State
	last  *Outcome
}

// NewFlow returns a flow in the ready state.
func NewFlow(cfg Config) *Flow {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Flow{cfg: cfg, state: StateReady}
}

// State returns the current step.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Last returns the outcome of the finished run, if any.
func (f *Flow) Last() (Outcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return Outcome{}, false
	}
	return *f.last, true
}

// Reset returns a finished flow to ready so the student can retry.
func (f *Flow) Reset() error {
	f.mu.Lock()
	if f.state != StateReady && f.state != StateSent {
		f.mu.Unlock()
		return ErrNotReady
	}
	f.last = nil
	f.state = StateReady
	f.mu.Unlock()
	f.notify(StateReady)
	return nil
}

func (f *Flow) set(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	f.notify(s)
}

func (f *Flow) notify(s State) {
	if f.cfg.OnState != nil {
		f.cfg.OnState(s)
	}
}

func (f *Flow) finish(out Outcome) Outcome {
	f.mu.Lock()
	f.last = &out
	f.state = StateSent
	f.mu.Unlock()
	f.notify(StateSent)
	return out
}

// Run performs one check-in. It only fails with ErrNotReady; every other failure is reported
// in the returned Outcome.
func (f *Flow) Run(ctx context.Context) (Outcome, error) {
	f.mu.Lock()
	if f.state != StateReady {
		f.mu.Unlock()
		return Outcome{}, ErrNotReady
	}
	f.state = StateLocating
	f.mu.Unlock()
	f.notify(StateLocating)

	log := f.cfg.Logger
	req := Request{FullName: f.cfg.Profile.FullName, Phone: f.cfg.Profile.Phone}

	if f.cfg.Locator != nil {
		loc, err := f.cfg.Locator.Locate(ctx)
		switch {
		case err == nil:
			req.Latitude, req.Longitude = &loc.Latitude, &loc.Longitude
		case f.cfg.RequireLocation:
			log.Warn("location unavailable", zap.Error(err))
			return f.finish(failed(apperrors.WithMessage(apperrors.ErrResourceUnavailable, msgLocationFailed))), nil
		default:
			log.Info("continuing without location", zap.Error(err))
		}
	} else if f.cfg.RequireLocation {
		return f.finish(failed(apperrors.WithMessage(apperrors.ErrResourceUnavailable, msgLocationFailed))), nil
	}

	f.set(StateScanning)
	payload, err := f.cfg.Scanner.Scan(ctx)
	if err != nil {
		log.Warn("scan failed", zap.Error(err))
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return f.finish(failed(apperrors.WithMessage(apperrors.ErrInternal, msgScanCancelled))), nil
		}
		return f.finish(failed(err)), nil
	}
	req.SessionID = payload.SessionID
	req.QRToken = payload.QRToken
	req.ScanTimestamp = f.cfg.Now().UTC()

	f.set(StateSending)
	out, err := f.cfg.Submitter.Submit(ctx, req)
	if err != nil {
		log.Warn("submission failed", zap.Error(err))
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return f.finish(failed(appErr)), nil
		}
		return f.finish(failed(apperrors.WithMessage(apperrors.ErrInternal, msgNetworkFailed))), nil
	}
	return f.finish(out), nil
}

// LoopScanner runs a scan loop until it yields or ctx ends.
type LoopScanner struct {
	Loop *scan.Loop
}

// Scan starts the loop and waits for its single result.
func (s LoopScanner) Scan(ctx context.Context) (scan.Payload, error) {
	sc, err := s.Loop.Start(ctx)
	if err != nil {
		return scan.Payload{}, err
	}
	select {
	case r, ok := <-sc.Result():
		if !ok {
			if err := ctx.Err(); err != nil {
				return scan.Payload{}, err
			}
			return scan.Payload{}, context.Canceled
		}
		return r.Payload, r.Err
	case <-ctx.Done():
		sc.Cancel()
		return scan.Payload{}, ctx.Err()
	}
}
