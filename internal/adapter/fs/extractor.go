package fs

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"nexqa/internal/domain"
	"nexqa/internal/port"
)

var _ port.TextExtractor = (*PlainTextExtractor)(nil)

// MaxFileSize bounds a single extracted file.
const MaxFileSize = 32 << 20

// PlainTextExtensions lists the extensions read verbatim.
var PlainTextExtensions = []string{".txt", ".md", ".markdown", ".csv", ".log", ".json", ".yaml", ".yml"}

// PlainTextExtractor reads UTF-8 text files. Binary formats such as PDF or
// spreadsheets are rejected with an UnsupportedDocumentType error.
type PlainTextExtractor struct {
	extensions map[string]bool
}

func NewPlainTextExtractor() *PlainTextExtractor {
	ext := make(map[string]bool, len(PlainTextExtensions))
	for _, e := range PlainTextExtensions {
		ext[e] = true
	}
	return &PlainTextExtractor{extensions: ext}
}

func (e *PlainTextExtractor) Supports(path string) bool {
	return e.extensions[strings.ToLower(filepath.Ext(path))]
}

func (e *PlainTextExtractor) Extract(path string) (string, error) {
	if !e.Supports(path) {
		return "", domain.Errorf(domain.KindUnsupportedDocument, "extract",
			"unsupported document type %q for %s", filepath.Ext(path), filepath.Base(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", domain.Wrap(domain.KindValidation, "extract", err)
	}
	if info.Size() > MaxFileSize {
		return "", domain.Errorf(domain.KindValidation, "extract",
			"%s is %d bytes, above the %d byte limit", filepath.Base(path), info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", domain.Wrap(domain.KindValidation, "extract", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if bytes.IndexByte(data, 0) >= 0 {
		return "", domain.Errorf(domain.KindUnsupportedDocument, "extract", "%s looks like a binary file", filepath.Base(path))
	}
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), "�"), nil
	}
	return string(data), nil
}
