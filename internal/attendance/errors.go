package attendance

import "errors"

// Error taxonomy shared by every stage of the scan pipeline.
var (
	ErrPermissionDenied   = errors.New("camera permission denied")
	ErrDeviceUnavailable  = errors.New("camera device unavailable")
	ErrUnsupportedType    = errors.New("file type not supported")
	ErrFileTooLarge       = errors.New("file too large")
	ErrEmptyUpload        = errors.New("empty upload")
	ErrUnrecognizedFormat = errors.New("unrecognized format")
	ErrNoQRCode           = errors.New("no QR code found")
	ErrNotFound           = errors.New("student not found")
	ErrDuplicate          = errors.New("attendance already marked")
	ErrTransient          = errors.New("network request failed")
	ErrServer             = errors.New("server error")
	ErrBusy               = errors.New("scanner busy")
)

// IsValidation reports whether err was caused by bad input rather than a fault.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrFileTooLarge) ||
		errors.Is(err, ErrEmptyUpload) ||
		errors.Is(err, ErrUnrecognizedFormat) ||
		errors.Is(err, ErrNoQRCode)
}
