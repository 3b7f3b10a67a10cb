package knowledge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// Extraction errors.
var (
	ErrUnsupportedFile = errors.New("unsupported file")
	ErrNoText          = errors.New("no extractable text")
)

// ExtractText returns the plain text of an uploaded file. PDFs are parsed;
// anything else must already be UTF-8 text.
func ExtractText(fileName string, data []byte) (string, error) {
	var text string
	if strings.EqualFold(filepath.Ext(fileName), ".pdf") || bytes.HasPrefix(data, []byte("%PDF-")) {
		t, err := extractPDF(data)
		if err != nil {
			return "", err
		}
		text = t
	} else {
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is neither PDF nor UTF-8 text", ErrUnsupportedFile, fileName)
		}
		text = string(data)
	}

	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrNoText, fileName)
	}
	return text, nil
}

func extractPDF(data []byte) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed pdf: %v", ErrUnsupportedFile, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", ErrUnsupportedFile, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: read pdf text: %v", ErrUnsupportedFile, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
