package upload

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedType = errors.New("file type is not supported")
	ErrScriptable      = errors.New("HTML, XML and SVG content is not allowed")
	ErrTooLarge        = errors.New("file is too large")
	ErrEmpty           = errors.New("file is empty")
)

var imageExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	// SVG stays excluded without a sanitizer
}

var imageMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// attachments additionally accept PDFs and plain text
var attachmentExt = map[string]bool{
	".pdf": true,
	".txt": true,
}

var attachmentMime = map[string]bool{
	"application/pdf":           true,
	"text/plain; charset=utf-8": true,
}

// ValidateImageBySniff checks the extension of filename and the sniffed type
// of head against the image whitelist. Returns the detected mime.
func ValidateImageBySniff(filename string, head []byte) (string, error) {
	return sniff(filename, head, imageExt, imageMime)
}

// ValidateAttachmentBySniff accepts images, PDFs and plain text.
func ValidateAttachmentBySniff(filename string, head []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if imageExt[ext] {
		return sniff(filename, head, imageExt, imageMime)
	}
	return sniff(filename, head, attachmentExt, attachmentMime)
}

// CheckSize rejects empty files and files above max bytes.
func CheckSize(size, max int64) error {
	if size <= 0 {
		return ErrEmpty
	}
	if max > 0 && size > max {
		return ErrTooLarge
	}
	return nil
}

func sniff(filename string, head []byte, exts, mimes map[string]bool) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !exts[ext] {
		return "", ErrUnsupportedType
	}

	detected := http.DetectContentType(head)

	if strings.HasPrefix(detected, "text/html") || strings.HasPrefix(detected, "application/xhtml") {
		return "", ErrScriptable
	}
	if strings.HasPrefix(detected, "text/xml") || strings.HasPrefix(detected, "application/xml") || detected == "image/svg+xml" {
		return "", ErrScriptable
	}

	if mimes[detected] {
		return detected, nil
	}
	return "", ErrUnsupportedType
}
