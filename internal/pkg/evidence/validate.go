package evidence

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
)

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

var allowedMime = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// ValidateReceipt checks the filename extension and the first bytes (head) of a
// receipt against the accepted photo and PDF types. Returns the detected mime type.
func ValidateReceipt(filename string, head []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := mimeByExt[ext]; !ok {
		return "", apperr.Validation("receipt must be a JPG, PNG, WEBP or PDF file")
	}

	detected := http.DetectContentType(head)

	// Block scriptable types regardless of extension
	if strings.HasPrefix(detected, "text/html") || strings.HasPrefix(detected, "text/xml") ||
		strings.HasPrefix(detected, "application/xml") || detected == "image/svg+xml" {
		return "", apperr.Validation("receipt content type %s is not allowed", detected)
	}

	if allowedMime[detected] {
		return detected, nil
	}
	return "", apperr.Validation("receipt content type %s is not supported", detected)
}
