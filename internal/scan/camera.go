package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"snapattend/internal/apperrors"
)

// ErrNotReady means the stream has no frame yet. The loop retries on the next tick.
var ErrNotReady = errors.New("scan: frame not ready")

var errCameraBusy = errors.New("camera already in use")

// Camera hands out a frame stream. Only one stream per camera may be open at a time.
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open camera.
type Stream interface {
	Ready() bool
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

func unavailable(err error) error {
	return apperrors.Wrap(apperrors.ErrResourceUnavailable, err)
}

// FileCamera reads frames from a file that a capture tool keeps overwriting, for example
// `ffmpeg -f v4l2 -i /dev/video0 -update 1 -r 15 frame.jpg`.
type FileCamera struct {
	Path string
	busy atomic.Bool
}

// Open checks that the frame directory is reachable and claims the camera.
func (c *FileCamera) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	dir := filepath.Dir(c.Path)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, unavailable(fmt.Errorf("frame directory: %w", err))
	}
	if !info.IsDir() {
		return nil, unavailable(fmt.Errorf("%s is not a directory", dir))
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, unavailable(errCameraBusy)
	}
	return &fileStream{cam: c}, nil
}

type fileStream struct {
	cam    *FileCamera
	closed atomic.Bool
}

func (s *fileStream) Ready() bool {
	info, err := os.Stat(s.cam.Path)
	return err == nil && info.Size() > 0
}

func (s *fileStream) Frame(context.Context) (image.Image, error) {
	raw, err := os.ReadFile(s.cam.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrNotReady
	case errors.Is(err, fs.ErrPermission):
		return nil, unavailable(err)
	case err != nil:
		return nil, unavailable(err)
	}
	img, err := DecodeFrame(bytes.NewReader(raw))
	if err != nil {
		// The writer may be halfway through replacing the file.
		return nil, ErrNotReady
	}
	return img, nil
}

func (s *fileStream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.cam.busy.Store(false)
	}
	return nil
}

// SnapshotCamera polls the JPEG snapshot endpoint of an IP camera.
type SnapshotCamera struct {
	URL    string
	Client *http.Client
	busy   atomic.Bool
}

// Open fetches one frame to confirm the camera answers and that access is granted.
func (c *SnapshotCamera) Open(ctx context.Context) (Stream, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, unavailable(errCameraBusy)
	}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	s := &snapshotStream{cam: c, client: client}
	if _, err := s.fetch(ctx); err != nil && !errors.Is(err, ErrNotReady) {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

type snapshotStream struct {
	cam    *SnapshotCamera
	client *http.Client
	closed atomic.Bool
}

func (s *snapshotStream) Ready() bool { return !s.closed.Load() }

// Frame fetches one snapshot. The request is abandoned as soon as ctx ends.
func (s *snapshotStream) Frame(ctx context.Context) (image.Image, error) { return s.fetch(ctx) }

func (s *snapshotStream) fetch(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cam.URL, nil)
	if err != nil {
		return nil, unavailable(err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, unavailable(fmt.Errorf("camera permission denied: %s", resp.Status))
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrNotReady
	case resp.StatusCode != http.StatusOK:
		return nil, unavailable(fmt.Errorf("camera snapshot: %s", resp.Status))
	}
	img, err := DecodeFrame(resp.Body)
	if err != nil {
		return nil, ErrNotReady
	}
	return img, nil
}

func (s *snapshotStream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.client.CloseIdleConnections()
		s.cam.busy.Store(false)
	}
	return nil
}
