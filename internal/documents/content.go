package documents

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

const pdfType = "application/pdf"

var textTypes = map[string]bool{
	"text/plain":       true,
	"text/markdown":    true,
	"text/html":        true,
	"application/json": true,
}

// normalizeContentType resolves the media type of an upload, sniffing the
// data when the declared type is missing or generic.
func normalizeContentType(declared string, data []byte) (string, error) {
	declared = strings.TrimSpace(declared)
	if declared == "" || declared == "application/octet-stream" {
		declared = http.DetectContentType(data)
	}

	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", ErrInvalidFile
	}
	if !textTypes[mediaType] && mediaType != pdfType {
		return "", ErrUnsupportedType
	}
	return mediaType, nil
}

// countPages validates a PDF upload and returns its page count.
func countPages(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: unreadable pdf: %w", ErrInvalidFile, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: pdf has no pages", ErrInvalidFile)
	}
	return n, nil
}

// extractText returns the readable text of a stored document. HTML is
// flattened to its text nodes.
func extractText(contentType string, data []byte) (string, error) {
	if contentType != "text/html" {
		return strings.TrimSpace(string(data)), nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	doc.Find("script, style").Remove()

	var lines []string
	for line := range strings.Lines(doc.Find("body").Text()) {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
