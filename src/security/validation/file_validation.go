package validation

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/username/carteira/src/logger"
)

// Supported upload formats.
const (
	FileKindCSV  = "csv"
	FileKindXLSX = "xlsx"
)

// AllowedClientContentTypes is a map for quick lookup of allowed client-declared MIME types.
var AllowedClientContentTypes = map[string]bool{
	"text/csv":                 true,
	"application/csv":          true,
	"text/plain":               true,
	"application/vnd.ms-excel": true, // browsers often label .csv this way
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/octet-stream": true, // some clients send no specific type; content is checked below
}

var (
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// ValidateClientContentType checks the Content-Type header provided by the client.
func ValidateClientContentType(contentType string) error {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if ct == "" {
		return nil
	}
	if !AllowedClientContentTypes[ct] {
		logger.L.Warn("Disallowed client-declared Content-Type", "contentType", contentType)
		return fmt.Errorf("%w: file type '%s' is not allowed, upload a .csv or .xlsx file", ErrValidationFailed, contentType)
	}
	return nil
}

// isBinaryContent reports null bytes or invalid UTF-8, which a CSV never has.
func isBinaryContent(buf []byte) bool {
	if bytes.IndexByte(buf, 0) != -1 {
		return true
	}
	// The sniff window may cut a multi-byte rune in half.
	for i := 0; i < utf8.UTFMax && len(buf) > 0; i++ {
		if utf8.Valid(buf) {
			return false
		}
		buf = buf[:len(buf)-1]
	}
	return true
}

// DetectFileKind inspects the first bytes of an upload and returns FileKindXLSX
// or FileKindCSV. The filename extension must agree with the content.
func DetectFileKind(content []byte, filename string) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("%w: file is empty", ErrValidationFailed)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	head := content
	if len(head) > 1024 {
		head = head[:1024]
	}

	switch {
	case bytes.HasPrefix(head, zipMagic):
		if ext != ".xlsx" {
			return "", fmt.Errorf("%w: spreadsheet content does not match extension '%s'", ErrValidationFailed, ext)
		}
		return FileKindXLSX, nil
	case bytes.HasPrefix(head, oleMagic):
		return "", fmt.Errorf("%w: legacy .xls workbooks are not supported, save the file as .xlsx", ErrValidationFailed)
	}

	if isBinaryContent(head) {
		logger.L.Warn("File rejected: binary content detected in text upload", "filename", filename)
		return "", fmt.Errorf("%w: file appears to be binary, not CSV", ErrValidationFailed)
	}

	detected := strings.ToLower(strings.Split(http.DetectContentType(head), ";")[0])
	if detected != "text/plain" && detected != "text/csv" {
		logger.L.Warn("Disallowed detected file content type", "detectedContentType", detected)
		return "", fmt.Errorf("%w: detected file content type '%s' is not allowed", ErrValidationFailed, detected)
	}
	if ext != ".csv" && ext != ".txt" {
		return "", fmt.Errorf("%w: text upload must have a .csv extension", ErrValidationFailed)
	}
	return FileKindCSV, nil
}
