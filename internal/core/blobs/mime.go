package blobs

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxBlobSize is the largest attachment accepted for upload (50 MiB)
const MaxBlobSize = 50 << 20

var (
	// ErrEmptyBlob is returned for attachments without data
	ErrEmptyBlob = errors.New("blob data cannot be empty")

	// ErrBlobTooLarge is returned for attachments over MaxBlobSize
	ErrBlobTooLarge = errors.New("blob exceeds maximum size")
)

// NormalizeMimeType converts non-standard MIME types to their standard equivalents
// and strips parameters. Common case: many clients send image/jpg instead of image/jpeg.
func NormalizeMimeType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}
	switch mimeType {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/x-png":
		return "image/png"
	default:
		return mimeType
	}
}

// ResolveMimeType returns the normalized declared type, sniffing the payload when
// the declared type is missing or generic
func ResolveMimeType(declared string, data []byte) string {
	normalized := NormalizeMimeType(declared)
	if normalized != "" && normalized != "application/octet-stream" {
		return normalized
	}
	return NormalizeMimeType(mimetype.Detect(data).String())
}

// ValidateSize checks an attachment payload length against MaxBlobSize
func ValidateSize(size int64) error {
	if size <= 0 {
		return ErrEmptyBlob
	}
	if size > MaxBlobSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrBlobTooLarge, size, MaxBlobSize)
	}
	return nil
}
