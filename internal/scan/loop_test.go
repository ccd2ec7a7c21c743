package scan

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapattend/internal/apperrors"
)

type fakeStream struct {
	notReadyFor atomic.Int32
	frameErr    error
	frames      atomic.Int32
	closed      atomic.Int32
}

func (s *fakeStream) Ready() bool {
	if s.notReadyFor.Load() > 0 {
		s.notReadyFor.Add(-1)
		return false
	}
	return true
}

func (s *fakeStream) Frame(context.Context) (image.Image, error) {
	s.frames.Add(1)
	if s.frameErr != nil {
		return nil, s.frameErr
	}
	return image.NewGray(image.Rect(0, 0, 8, 8)), nil
}

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeCamera struct {
	stream  *fakeStream
	openErr error
}

func (c *fakeCamera) Open(ctx context.Context) (Stream, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.stream, nil
}

// scriptDecoder returns the scripted texts in order, then "no detection" forever.
type scriptDecoder struct {
	mu     sync.Mutex
	script []string
	calls  int
}

func (d *scriptDecoder) Decode(image.Image) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.script) == 0 {
		return "", false
	}
	next := d.script[0]
	d.script = d.script[1:]
	return next, next != ""
}

func (d *scriptDecoder) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func startLoop(t *testing.T, cam Camera, dec Decoder) *Scan {
	t.Helper()
	s, err := NewLoop(cam, dec, WithInterval(time.Millisecond)).Start(context.Background())
	require.NoError(t, err)
	return s
}

func collect(t *testing.T, s *Scan) []Result {
	t.Helper()
	var out []Result
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-s.Result():
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatal("scan did not finish")
			return nil
		}
	}
}

func TestLoopEmitsPayload(t *testing.T) {
	stream := &fakeStream{}
	dec := &scriptDecoder{script: []string{"", "", `{"sessionId":"S1","qrId":"qr-1"}`}}
	s := startLoop(t, &fakeCamera{stream: stream}, dec)

	results := collect(t, s)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, Payload{SessionID: "S1", QRToken: "qr-1"}, results[0].Payload)
	assert.Equal(t, int32(1), stream.closed.Load())
	assert.Equal(t, 3, dec.Calls())

	p, err := s.Wait()
	require.NoError(t, err)
	assert.Equal(t, "S1", p.SessionID)
}

func TestLoopMalformedPayloadStops(t *testing.T) {
	stream := &fakeStream{}
	dec := &scriptDecoder{script: []string{"not json", `{"sessionId":"S1","qrId":"qr-1"}`}}
	s := startLoop(t, &fakeCamera{stream: stream}, dec)

	results := collect(t, s)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, apperrors.ErrMalformedPayload)
	assert.Equal(t, int32(1), stream.closed.Load())
	assert.Equal(t, 1, dec.Calls())
}

func TestLoopNeverEndsWithoutCode(t *testing.T) {
	stream := &fakeStream{}
	dec := &scriptDecoder{}
	s := startLoop(t, &fakeCamera{stream: stream}, dec)

	select {
	case r, ok := <-s.Result():
		t.Fatalf("unexpected result %+v (open=%v)", r, ok)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Greater(t, dec.Calls(), 1)
	assert.Zero(t, stream.closed.Load())

	s.Cancel()
	_, ok := <-s.Result()
	assert.False(t, ok)
	assert.Equal(t, int32(1), stream.closed.Load())

	calls := dec.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, dec.Calls())

	_, err := s.Wait()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoopOpenFailure(t *testing.T) {
	cam := &fakeCamera{openErr: errors.New("permission denied")}
	s, err := NewLoop(cam, &scriptDecoder{}).Start(context.Background())
	assert.Nil(t, s)
	assert.ErrorIs(t, err, apperrors.ErrResourceUnavailable)
}

func TestLoopSkipsUntilReady(t *testing.T) {
	stream := &fakeStream{}
	stream.notReadyFor.Store(5)
	dec := &scriptDecoder{script: []string{`{"sessionId":"S1","qrId":"qr-1"}`}}
	s := startLoop(t, &fakeCamera{stream: stream}, dec)

	results := collect(t, s)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, int32(1), stream.frames.Load())
}

func TestLoopFrameErrorIsTerminal(t *testing.T) {
	stream := &fakeStream{frameErr: unavailable(errors.New("device unplugged"))}
	s := startLoop(t, &fakeCamera{stream: stream}, &scriptDecoder{})

	results := collect(t, s)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, apperrors.ErrResourceUnavailable)
	assert.Equal(t, int32(1), stream.closed.Load())
}

func TestLoopParentContextStops(t *testing.T) {
	stream := &fakeStream{}
	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewLoop(&fakeCamera{stream: stream}, &scriptDecoder{}, WithInterval(time.Millisecond)).Start(ctx)
	require.NoError(t, err)

	cancel()
	assert.Empty(t, collect(t, s))
	assert.Equal(t, int32(1), stream.closed.Load())
}

func TestCancelAfterFinishIsNoop(t *testing.T) {
	stream := &fakeStream{}
	dec := &scriptDecoder{script: []string{`{"sessionId":"S1","qrId":"qr-1"}`}}
	s := startLoop(t, &fakeCamera{stream: stream}, dec)

	p, err := s.Wait()
	require.NoError(t, err)
	s.Cancel()
	assert.Equal(t, "qr-1", p.QRToken)
	assert.Equal(t, int32(1), stream.closed.Load())
}

func TestAttemptsStopsWhenConsumerBreaks(t *testing.T) {
	stream := &fakeStream{}
	l := NewLoop(&fakeCamera{stream: stream}, &scriptDecoder{}, WithInterval(time.Millisecond))

	var seen []int
	for a := range l.Attempts(context.Background(), stream) {
		assert.False(t, a.Terminal())
		seen = append(seen, a.Seq)
		if len(seen) == 3 {
			break
		}
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
	// Attempts never owns the stream.
	assert.Zero(t, stream.closed.Load())
}
