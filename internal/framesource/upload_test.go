package framesource

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"qrattend/internal/attendance"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestValidateRejectsBMPBeforeDecode(t *testing.T) {
	u := Upload{Filename: "card.bmp", ContentType: "image/bmp", Data: []byte("BM\x36\x00\x00\x00\x00\x00\x00\x00")}

	attempt, err := DefaultUploadLimits().Attempt(u)
	if !errors.Is(err, attendance.ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
	if !strings.Contains(err.Error(), "file type not supported") {
		t.Fatalf("expected descriptive error, got %q", err.Error())
	}
	if attempt.ID != "" {
		t.Fatalf("no attempt should be created, got %+v", attempt)
	}
}

func TestValidateRejectsOversize(t *testing.T) {
	limits := UploadLimits{MaxBytes: 16}
	u := Upload{Filename: "big.png", ContentType: "image/png", Data: pngBytes(t, 8, 8)}

	if err := limits.Validate(u); !errors.Is(err, attendance.ErrFileTooLarge) {
		t.Fatalf("expected file too large, got %v", err)
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	if err := DefaultUploadLimits().Validate(Upload{ContentType: "image/png"}); !errors.Is(err, attendance.ErrEmptyUpload) {
		t.Fatalf("expected empty upload, got %v", err)
	}
}

func TestValidateSniffsMislabelledContent(t *testing.T) {
	u := Upload{Filename: "notes.png", ContentType: "image/png", Data: []byte("plain text pretending to be a picture")}
	if err := DefaultUploadLimits().Validate(u); !errors.Is(err, attendance.ErrUnsupportedType) {
		t.Fatalf("expected sniffed type rejection, got %v", err)
	}
}

func TestAttemptDecodesAcceptedImage(t *testing.T) {
	u := Upload{Filename: "qr.png", ContentType: "application/octet-stream", Data: pngBytes(t, 12, 7)}

	attempt, err := DefaultUploadLimits().Attempt(u)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if attempt.Width != 12 || attempt.Height != 7 || len(attempt.Pix) != 4*12*7 {
		t.Fatalf("unexpected attempt geometry %dx%d len %d", attempt.Width, attempt.Height, len(attempt.Pix))
	}
	if attempt.Source != attendance.SourceUpload || attempt.ID == "" {
		t.Fatalf("unexpected attempt metadata %+v", attempt)
	}
}

// withDimensions rewrites the IHDR chunk of a PNG so it declares w x h
// without carrying the pixels.
func withDimensions(data []byte, w, h uint32) []byte {
	out := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestAttemptRejectsOversizedDimensions(t *testing.T) {
	data := withDimensions(pngBytes(t, 8, 8), 8000, 8000)
	u := Upload{Filename: "bomb.png", ContentType: "image/png", Data: data}

	if err := DefaultUploadLimits().Validate(u); err != nil {
		t.Fatalf("small file should pass byte validation: %v", err)
	}
	attempt, err := DefaultUploadLimits().Attempt(u)
	if !errors.Is(err, attendance.ErrFileTooLarge) {
		t.Fatalf("expected file too large, got %v", err)
	}
	if attempt.Pix != nil {
		t.Fatalf("no pixels should be allocated")
	}
}

func TestAttemptHonoursPixelLimit(t *testing.T) {
	limits := DefaultUploadLimits()
	limits.MaxPixels = 100
	u := Upload{Filename: "card.png", ContentType: "image/png", Data: pngBytes(t, 20, 20)}
	if _, err := limits.Attempt(u); !errors.Is(err, attendance.ErrFileTooLarge) {
		t.Fatalf("expected file too large, got %v", err)
	}
	limits.MaxPixels = 400
	if _, err := limits.Attempt(u); err != nil {
		t.Fatalf("image at the limit should decode: %v", err)
	}
}
