package framesource

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"sync"
	"time"

	_ "golang.org/x/image/webp"

	"qrattend/internal/attendance"
)

// Camera is a live frame source. Release must be called once scanning stops
// so the device is available to the next session.
type Camera interface {
	RequestPermission(ctx context.Context) error
	Capture(ctx context.Context) (attendance.ScanAttempt, error)
	Release() error
}

// SnapshotCamera reads still frames from an HTTP snapshot endpoint, as exposed
// by IP cameras and webcam bridges.
type SnapshotCamera struct {
	URL      string
	Username string
	Password string
	HTTP     *http.Client

	mu       sync.Mutex
	granted  bool
	released bool
}

// NewSnapshotCamera creates a camera with a short per-frame timeout.
func NewSnapshotCamera(url, username, password string) *SnapshotCamera {
	return &SnapshotCamera{
		URL:      url,
		Username: username,
		Password: password,
		HTTP:     &http.Client{Timeout: 5 * time.Second},
	}
}

// RequestPermission probes the endpoint once. Authorization failures map to
// ErrPermissionDenied, anything that means "no camera here" to ErrDeviceUnavailable.
func (c *SnapshotCamera) RequestPermission(ctx context.Context) error {
	resp, err := c.get(ctx)
	if err != nil {
		return fmt.Errorf("probe %s: %v: %w", c.URL, err, attendance.ErrDeviceUnavailable)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("camera refused access (%s): %w", resp.Status, attendance.ErrPermissionDenied)
	case resp.StatusCode >= 300:
		return fmt.Errorf("camera probe returned %s: %w", resp.Status, attendance.ErrDeviceUnavailable)
	}

	c.mu.Lock()
	c.granted = true
	c.released = false
	c.mu.Unlock()
	return nil
}

// Capture fetches and decodes one frame.
func (c *SnapshotCamera) Capture(ctx context.Context) (attendance.ScanAttempt, error) {
	c.mu.Lock()
	ready := c.granted && !c.released
	c.mu.Unlock()
	if !ready {
		return attendance.ScanAttempt{}, fmt.Errorf("camera not acquired: %w", attendance.ErrDeviceUnavailable)
	}

	resp, err := c.get(ctx)
	if err != nil {
		return attendance.ScanAttempt{}, fmt.Errorf("snapshot request failed: %v: %w", err, attendance.ErrDeviceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return attendance.ScanAttempt{}, fmt.Errorf("snapshot error %s: %w", resp.Status, attendance.ErrDeviceUnavailable)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return attendance.ScanAttempt{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return attendance.NewScanAttempt(img, attendance.SourceCamera), nil
}

// Release drops pooled connections and marks the device free.
func (c *SnapshotCamera) Release() error {
	c.mu.Lock()
	c.released = true
	c.granted = false
	c.mu.Unlock()
	c.HTTP.CloseIdleConnections()
	return nil
}

func (c *SnapshotCamera) get(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	return c.HTTP.Do(req)
}
