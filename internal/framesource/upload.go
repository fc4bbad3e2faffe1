package framesource

import (
	"bytes"
	"fmt"
	"image"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"qrattend/internal/attendance"
)

// DefaultMaxUploadBytes is the ceiling for an uploaded image.
const DefaultMaxUploadBytes int64 = 5 << 20

// DefaultMaxPixels caps the decoded size of an upload. A small file can
// declare very large dimensions.
const DefaultMaxPixels int64 = 4096 * 4096

// DefaultAllowedTypes lists the image types accepted for upload scanning.
var DefaultAllowedTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp"}

// Upload is a user supplied image file.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// UploadLimits is the allow-list and size ceiling applied before decoding.
type UploadLimits struct {
	MaxBytes     int64
	MaxPixels    int64
	AllowedTypes []string
}

// DefaultUploadLimits returns the 5 MB / common image type policy.
func DefaultUploadLimits() UploadLimits {
	return UploadLimits{MaxBytes: DefaultMaxUploadBytes, MaxPixels: DefaultMaxPixels, AllowedTypes: DefaultAllowedTypes}
}

// Validate checks type and size without decoding any pixels.
func (l UploadLimits) Validate(u Upload) error {
	if len(u.Data) == 0 {
		return fmt.Errorf("%s: %w", nameOf(u), attendance.ErrEmptyUpload)
	}

	if declared := normalizeType(u.ContentType); declared != "" && !l.allowed(declared) {
		return fmt.Errorf("%s is %s, expected one of %s: %w",
			nameOf(u), declared, strings.Join(l.types(), ", "), attendance.ErrUnsupportedType)
	}

	max := l.MaxBytes
	if max <= 0 {
		max = DefaultMaxUploadBytes
	}
	if int64(len(u.Data)) > max {
		return fmt.Errorf("%s is %d bytes, limit is %d: %w", nameOf(u), len(u.Data), max, attendance.ErrFileTooLarge)
	}

	sniffed := mimetype.Detect(u.Data)
	ok := false
	for _, t := range l.types() {
		if sniffed.Is(t) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%s content is %s: %w", nameOf(u), sniffed.String(), attendance.ErrUnsupportedType)
	}
	return nil
}

// Attempt validates the upload and decodes it into exactly one ScanAttempt.
func (l UploadLimits) Attempt(u Upload) (attendance.ScanAttempt, error) {
	if err := l.Validate(u); err != nil {
		return attendance.ScanAttempt{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(u.Data))
	if err != nil {
		return attendance.ScanAttempt{}, fmt.Errorf("decode %s: %v: %w", nameOf(u), err, attendance.ErrUnsupportedType)
	}
	maxPixels := l.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return attendance.ScanAttempt{}, fmt.Errorf("%s is %dx%d pixels, limit is %d: %w",
			nameOf(u), cfg.Width, cfg.Height, maxPixels, attendance.ErrFileTooLarge)
	}

	img, _, err := image.Decode(bytes.NewReader(u.Data))
	if err != nil {
		return attendance.ScanAttempt{}, fmt.Errorf("decode %s: %v: %w", nameOf(u), err, attendance.ErrUnsupportedType)
	}
	return attendance.NewScanAttempt(img, attendance.SourceUpload), nil
}

func (l UploadLimits) types() []string {
	if len(l.AllowedTypes) == 0 {
		return DefaultAllowedTypes
	}
	return l.AllowedTypes
}

func (l UploadLimits) allowed(mediaType string) bool {
	for _, t := range l.types() {
		if strings.EqualFold(t, mediaType) {
			return true
		}
	}
	return false
}

func normalizeType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(contentType)
	}
	mediaType = strings.ToLower(mediaType)
	// generic binary says nothing about the file; leave it to sniffing
	if mediaType == "application/octet-stream" {
		return ""
	}
	return mediaType
}

func nameOf(u Upload) string {
	if u.Filename == "" {
		return "upload"
	}
	return u.Filename
}
