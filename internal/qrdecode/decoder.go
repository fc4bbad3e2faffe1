package qrdecode

import (
	"log"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"qrattend/internal/attendance"
)

// Decoder locates and decodes one QR symbol in a pixel buffer.
type Decoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// New creates a decoder. tryHarder trades speed for recall on busy frames.
func New(tryHarder bool) *Decoder {
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_CHARACTER_SET: "UTF-8",
	}
	if tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return &Decoder{hints: hints}
}

// Decode returns the payload text and true, or "" and false when no symbol
// could be read. Malformed buffers are reported as not found.
func (d *Decoder) Decode(attempt attendance.ScanAttempt) (text string, ok bool) {
	img, valid := attempt.Image()
	if !valid {
		return "", false
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("WARNING: qr decoder panic on attempt %s: %v", attempt.ID, r)
			text, ok = "", false
		}
	}()

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil || result == nil {
		return "", false
	}
	return result.GetText(), true
}
