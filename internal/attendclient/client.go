package attendclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"qrattend/internal/attendance"
)

// ErrUnauthorized is returned when the API rejects the station's credentials.
var ErrUnauthorized = errors.New("attendance api: unauthorized")

// Client calls the remote attendance REST API.
type Client struct {
	BaseURL      string
	HTTP         *http.Client
	ScanLocation string
	DeviceInfo   string

	mu    sync.RWMutex
	token string
}

// New creates a client. Timeouts are left to the http.Client.
func New(baseURL string, timeout time.Duration, scanLocation, deviceInfo string) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		HTTP:         &http.Client{Timeout: timeout},
		ScanLocation: scanLocation,
		DeviceInfo:   deviceInfo,
	}
}

// SetToken sets the bearer token used on every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges operator credentials for a bearer token and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Token string `json:"token"`
		Data  struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	token := out.Token
	if token == "" {
		token = out.Data.Token
	}
	if token == "" {
		return "", errors.New("login response carried no token")
	}
	c.SetToken(token)
	return token, nil
}

// Mark submits a classified identifier to the marking endpoint. Transport
// failures are folded into a transient ServerError so callers only handle
// the outcome.
func (c *Client) Mark(ctx context.Context, id attendance.Identifier) attendance.Outcome {
	resp, err := c.do(ctx, http.MethodPost, "/attendance/scan", markRequest{
		QRCodeData:   id.Payload(),
		ScanLocation: c.ScanLocation,
		DeviceInfo:   c.DeviceInfo,
	})
	if err != nil {
		return attendance.ServerError{Identifier: id, Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return attendance.ServerError{Identifier: id, StatusCode: resp.StatusCode, Message: err.Error(), Transient: true}
	}

	var body markResponse
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &body); err != nil && resp.StatusCode < 300 {
			return attendance.ServerError{Identifier: id, StatusCode: resp.StatusCode, Message: "failed to decode response: " + err.Error()}
		}
	}
	return mapMarkResponse(resp.StatusCode, body, id)
}

// QRCode is the stored QR payload for a student.
type QRCode struct {
	StudentID string `json:"studentId"`
	Data      string `json:"qrCode"`
	ImageURL  string `json:"qrCodeUrl,omitempty"`
}

// StudentQR fetches the previously generated QR code for a student.
func (c *Client) StudentQR(ctx context.Context, studentID string) (*QRCode, error) {
	resp, err := c.do(ctx, http.MethodGet, "/students/"+url.PathEscape(studentID)+"/qr-code", nil)
	if err != nil {
		return nil, fmt.Errorf("qr lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	var out struct {
		QRCode
		Wrapped *QRCode `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	qr := out.QRCode
	if out.Wrapped != nil {
		qr = *out.Wrapped
	}
	if qr.StudentID == "" {
		qr.StudentID = studentID
	}
	return &qr, nil
}

// DownloadQR fetches the QR image for a student.
func (c *Client) DownloadQR(ctx context.Context, studentID string) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/students/"+url.PathEscape(studentID)+"/qr-code/download", nil)
	if err != nil {
		return nil, "", fmt.Errorf("qr download request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, "", err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read qr image: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// MarkNotificationSent records that a parent notification link was opened.
func (c *Client) MarkNotificationSent(ctx context.Context, attendanceID, messageID string) error {
	path := "/attendance/" + url.PathEscape(attendanceID) + "/messages/" + url.PathEscape(messageID) + "/sent"
	resp, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return fmt.Errorf("notification ack request failed: %w", err)
	}
	defer resp.Body.Close()
	return statusError(resp)
}

// Health checks if the API is reachable.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return fmt.Errorf("attendance api unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("attendance api unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.DeviceInfo != "" {
		req.Header.Set("User-Agent", c.DeviceInfo)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.HTTP.Do(req)
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return attendance.ErrNotFound
	case resp.StatusCode >= 300:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("attendance api error %s: %s: %w", resp.Status, string(bodyBytes), attendance.ErrServer)
	}
	return nil
}
