package scan

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"snapattend/internal/apperrors"
)

// DefaultInterval samples at roughly the display refresh rate.
const DefaultInterval = 33 * time.Millisecond

// Attempt is one decode attempt against a frame.
type Attempt struct {
	Seq     int
	Text    string
	Found   bool
	Payload Payload
	Err     error
}

// Terminal reports whether the attempt ends the scan.
func (a Attempt) Terminal() bool {
	return a.Err != nil || a.Payload != (Payload{})
}

// Result is the single outcome of a scan: a payload or a terminal error.
type Result struct {
	Payload Payload
	Err     error
}

// Loop samples a camera until it sees a session QR code.
type Loop struct {
	camera   Camera
	decoder  Decoder
	interval time.Duration
	logger   *zap.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithInterval sets the sampling interval.
func WithInterval(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithLogger sets the loop logger.
func WithLogger(lg *zap.Logger) LoopOption {
	return func(l *Loop) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewLoop creates a loop over camera and decoder.
func NewLoop(camera Camera, decoder Decoder, opts ...LoopOption) *Loop {
	l := &Loop{camera: camera, decoder: decoder, interval: DefaultInterval, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Attempts yields decode attempts against stream, one per tick. Ticks on which the stream is
// not ready are skipped. The sequence ends after a terminal attempt, when ctx is done, or when
// the consumer stops ranging. It does not close the stream.
func (l *Loop) Attempts(ctx context.Context, stream Stream) iter.Seq[Attempt] {
	return func(yield func(Attempt) bool) {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		seq := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			// A tick may race with cancellation; cancellation wins.
			if ctx.Err() != nil {
				return
			}
			if !stream.Ready() {
				continue
			}
			frame, err := stream.Frame(ctx)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrNotReady) {
				continue
			}
			seq++
			a := Attempt{Seq: seq}
			if err != nil {
				a.Err = err
				yield(a)
				return
			}
			a.Text, a.Found = l.decoder.Decode(frame)
			if a.Found {
				a.Payload, a.Err = ParsePayload(a.Text)
			}
			if !yield(a) || a.Terminal() {
				return
			}
		}
	}
}

// Start opens the camera and begins sampling in the background. A camera that cannot be
// opened fails with RESOURCE_UNAVAILABLE and no loop is started.
func (l *Loop) Start(ctx context.Context) (*Scan, error) {
	stream, err := l.camera.Open(ctx)
	if err != nil {
		if !errors.Is(err, apperrors.ErrResourceUnavailable) {
			err = unavailable(err)
		}
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Scan{
		result: make(chan Result, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.run(runCtx, l, stream)
	return s, nil
}

// Scan is a running capture loop.
type Scan struct {
	result chan Result
	done   chan struct{}
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
	outcome   *Result
}

func (s *Scan) run(ctx context.Context, l *Loop, stream Stream) {
	defer close(s.done)
	defer close(s.result)
	defer func() {
		if err := stream.Close(); err != nil {
			l.logger.Warn("camera release failed", zap.Error(err))
		}
	}()

	for a := range l.Attempts(ctx, stream) {
		if !a.Terminal() {
			if a.Found {
				l.logger.Debug("qr decoded", zap.Int("attempt", a.Seq))
			}
			continue
		}
		s.deliver(Result{Payload: a.Payload, Err: a.Err})
		if a.Err != nil {
			l.logger.Info("scan ended with error", zap.Int("attempt", a.Seq), zap.Error(a.Err))
		} else {
			l.logger.Info("scan complete", zap.Int("attempt", a.Seq), zap.String("session_id", a.Payload.SessionID))
		}
		return
	}
}

func (s *Scan) deliver(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.outcome = &r
	s.result <- r
}

// Result yields at most one value, then closes once the camera has been released.
func (s *Scan) Result() <-chan Result { return s.result }

// Done is closed after the loop has stopped and released the camera.
func (s *Scan) Done() <-chan struct{} { return s.done }

// Cancel stops sampling and releases the camera. No result is delivered once Cancel has
// returned. Calling Cancel after the scan finished is a no-op.
func (s *Scan) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
	<-s.done
}

// Wait blocks until the scan ends and returns its outcome. A scan stopped without a result
// returns context.Canceled.
func (s *Scan) Wait() (Payload, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return Payload{}, context.Canceled
	}
	return s.outcome.Payload, s.outcome.Err
}
