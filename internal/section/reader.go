// Package section turns a manual PDF into per-page text and splits that
// text into sections and subsections along numbered heading lines.
package section

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrCorruptDocument marks PDFs no text could be extracted from. Documents
// failing this way are reported and skipped, never partially indexed.
var ErrCorruptDocument = errors.New("unreadable pdf")

// PageText is the extracted plain text of one page.
type PageText struct {
	Number int // 1-based
	Text   string
}

// ReadPages extracts plain text page by page so headings can be anchored to
// the page they appear on. Pages whose text cannot be decoded keep their
// slot with empty text; a document yielding no text at all is corrupt.
func ReadPages(path string) (pages []PageText, err error) {
	// The pdf library panics on some malformed xref tables instead of
	// returning an error.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("parse %s: %v: %w", path, r, ErrCorruptDocument)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	r, err := pdf.NewReader(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", path, err, ErrCorruptDocument)
	}

	total := r.NumPage()
	pages = make([]PageText, 0, total)
	sawText := false
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, PageText{Number: i})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			pages = append(pages, PageText{Number: i})
			continue
		}
		if strings.TrimSpace(text) != "" {
			sawText = true
		}
		pages = append(pages, PageText{Number: i, Text: text})
	}
	if !sawText {
		return nil, fmt.Errorf("%s has no extractable text: %w", path, ErrCorruptDocument)
	}
	return pages, nil
}
