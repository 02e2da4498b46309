// Package document turns an uploaded disclosure into the plain text the
// scorer consumes.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// MaxSize is the largest upload accepted.
const MaxSize = 10 << 20

var (
	ErrEmpty           = errors.New("document is empty")
	ErrTooLarge        = errors.New("document exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported document type")
)

type Upload struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Kind classifies the upload by content type, falling back to the file
// extension when the client sent no useful type.
func (u Upload) Kind() string {
	mediaType, _, err := mime.ParseMediaType(u.ContentType)
	if err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	switch strings.ToLower(filepath.Ext(u.Filename)) {
	case ".html", ".htm":
		return "text/html"
	case ".txt", ".md", "":
		return "text/plain"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}

// Text extracts readable text. HTML has scripts and styles removed and
// whitespace collapsed.
func Text(u Upload) (string, error) {
	if len(u.Body) > MaxSize {
		return "", ErrTooLarge
	}

	var text string
	switch kind := u.Kind(); kind {
	case "text/plain", "text/markdown":
		// an untyped upload may still be binary
		if !utf8.Valid(u.Body) {
			return "", fmt.Errorf("%w: %s is not valid utf-8 text", ErrUnsupportedType, kind)
		}
		text = string(u.Body)
	case "text/html", "application/xhtml+xml":
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(u.Body))
		if err != nil {
			return "", fmt.Errorf("parsing html: %w", err)
		}
		doc.Find("script, style, noscript").Remove()
		text = doc.Find("body").Text()
		if strings.TrimSpace(text) == "" {
			text = doc.Text()
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, kind)
	}

	text = collapseSpace(text)
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if f := strings.Fields(line); len(f) > 0 {
			out = append(out, strings.Join(f, " "))
		}
	}
	return strings.Join(out, "\n")
}
