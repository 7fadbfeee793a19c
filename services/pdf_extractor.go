package services

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// ExtractPDFText pulls the plain text out of one PDF file and sanitizes
// it for chunking. Scanned or image-only PDFs come back empty, which
// the corpus builder treats as "nothing to index" for that file.
func ExtractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	return sanitizeText(buf.String()), nil
}

// sanitizeText collapses runs of whitespace and strips control
// characters that PDF extraction tends to leave behind.
func sanitizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := false
	for _, r := range text {
		switch {
		case r == '\n':
			b.WriteRune('\n')
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
			// drop
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
