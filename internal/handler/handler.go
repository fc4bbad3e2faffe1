package handler

import (
	"context"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/attendclient"
	"qrattend/internal/auth"
	"qrattend/internal/feedback"
	"qrattend/internal/framesource"
	"qrattend/internal/scanner"
)

// Scanner is the station session driven over HTTP.
type Scanner interface {
	Start(ctx context.Context) error
	Stop()
	Status() scanner.Status
	ScanImage(ctx context.Context, u framesource.Upload) (attendance.Outcome, error)
}

// Students proxies QR code lookups to the attendance API.
type Students interface {
	StudentQR(ctx context.Context, studentID string) (*attendclient.QRCode, error)
	DownloadQR(ctx context.Context, studentID string) ([]byte, string, error)
}

// Feed lists recent operator messages.
type Feed interface {
	Recent() []feedback.Entry
}

// multipartOverhead is the room left for form boundaries and part headers on
// top of the file size limit.
const multipartOverhead = 64 << 10

// HealthCheck reports an error when a dependency is down.
type HealthCheck func(ctx context.Context) error

// Handler serves the station API.
type Handler struct {
	Scanner  Scanner
	Students Students
	Feed     Feed
	Issuer   *auth.Issuer
	Checks   map[string]HealthCheck
	MaxBytes int64
}

// Register mounts every route on r. Middleware that applies to all routes is
// left to the caller.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)
	r.POST("/v1/devices/register", h.registerDevice)
	r.POST("/v1/devices/refresh", h.refreshDevice)

	v1 := r.Group("/v1", auth.DeviceAuth(h.Issuer))
	v1.POST("/scanner/start", h.startScanner)
	v1.POST("/scanner/stop", h.stopScanner)
	v1.GET("/scanner/status", h.scannerStatus)
	v1.POST("/scans/upload", h.uploadScan)
	v1.GET("/feedback", h.listFeedback)
	v1.GET("/students/:id/qr-code", h.studentQR)
	v1.GET("/students/:id/qr-code/download", h.downloadQR)
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Checks {
		healthy := check(c.Request.Context()) == nil
		body[name] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := h.Issuer.Issue(strings.TrimSpace(req.DeviceID))
	if err != nil {
		log.Printf("ERROR: token issue for %s failed: %v", req.DeviceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, tokenResponse(tokens))
}

func (h *Handler) refreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tokens, err := h.Issuer.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse(tokens))
}

func tokenResponse(t auth.TokenPair) gin.H {
	return gin.H{
		"access_token":  t.AccessToken,
		"refresh_token": t.RefreshToken,
		"expires_at":    t.AccessExp.Unix(),
	}
}

func (h *Handler) startScanner(c *gin.Context) {
	if err := h.Scanner.Start(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Scanner.Status())
}

func (h *Handler) stopScanner(c *gin.Context) {
	h.Scanner.Stop()
	c.JSON(http.StatusOK, h.Scanner.Status())
}

func (h *Handler) scannerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Scanner.Status())
}

func (h *Handler) uploadScan(c *gin.Context) {
	limit := h.MaxBytes
	if limit <= 0 {
		limit = framesource.DefaultMaxUploadBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": attendance.ErrFileTooLarge.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	defer file.Close()

	// one byte over the limit is enough for validation to reject it
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
		return
	}

	out, err := h.Scanner.ScanImage(c.Request.Context(), framesource.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if out == nil {
		writeError(c, err)
		return
	}
	body := outcomeBody(out)
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(statusFor(err), body)
}

func (h *Handler) listFeedback(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": h.Feed.Recent()})
}

func (h *Handler) studentQR(c *gin.Context) {
	qr, err := h.Students.StudentQR(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, qr)
}

func (h *Handler) downloadQR(c *gin.Context) {
	id := c.Param("id")
	data, contentType, err := h.Students.DownloadQR(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": "qr-" + id + ".png"})
	if disposition == "" {
		disposition = "attachment"
	}
	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, contentType, data)
}

func outcomeBody(out attendance.Outcome) gin.H {
	body := gin.H{"outcome": out.Kind()}
	switch v := out.(type) {
	case attendance.Success:
		body["identifier"] = v.Identifier.Label()
		body["student"] = v.Student
		body["attendance"] = v.Attendance
	case attendance.Duplicate:
		body["identifier"] = v.Identifier.Label()
		body["message"] = v.Message
		if v.Student != nil {
			body["student"] = v.Student
		}
	case attendance.NotFound:
		body["identifier"] = v.Identifier.Label()
		body["message"] = v.Message
	case attendance.ServerError:
		body["identifier"] = v.Identifier.Label()
		body["message"] = v.Message
	}
	return body
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// statusFor maps pipeline errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, attendance.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, attendance.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, attendance.ErrEmptyUpload):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrNoQRCode), errors.Is(err, attendance.ErrUnrecognizedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrBusy):
		return http.StatusLocked
	case errors.Is(err, attendance.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, attendance.ErrDeviceUnavailable), errors.Is(err, scanner.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, attendance.ErrTransient), errors.Is(err, attendance.ErrServer),
		errors.Is(err, attendclient.ErrUnauthorized):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
