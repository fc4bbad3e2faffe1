package attendance

import (
	"image"
	"image/draw"
	"time"

	"github.com/google/uuid"
)

// Sources of a ScanAttempt.
const (
	SourceCamera = "camera"
	SourceUpload = "upload"
)

// ScanAttempt is a single pixel buffer handed to the decoder. It is discarded
// after one decode.
type ScanAttempt struct {
	ID     string
	Source string
	Width  int
	Height int
	Pix    []byte // RGBA, row major, 4 bytes per pixel
	At     time.Time
}

// NewScanAttempt copies img into an RGBA buffer.
func NewScanAttempt(img image.Image, source string) ScanAttempt {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) || rgba.Stride != 4*b.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return ScanAttempt{
		ID:     uuid.NewString(),
		Source: source,
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    rgba.Pix[:4*b.Dx()*b.Dy()],
		At:     time.Now().UTC(),
	}
}

// Image views the buffer as an *image.RGBA. ok is false when the buffer does
// not match the declared dimensions.
func (a ScanAttempt) Image() (*image.RGBA, bool) {
	if a.Width <= 0 || a.Height <= 0 || len(a.Pix) != 4*a.Width*a.Height {
		return nil, false
	}
	return &image.RGBA{
		Pix:    a.Pix,
		Stride: 4 * a.Width,
		Rect:   image.Rect(0, 0, a.Width, a.Height),
	}, true
}
