// Package pdf loads PDF documents into per-page text.
package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/hyperjump/kotae/internal/models"
)

// Load parses PDF bytes and returns one Page per native page, tagged with
// docID and a 1-based page number. Pages whose extracted text is empty are
// still returned so page numbering matches the source document.
func Load(content []byte, docID string) ([]models.Page, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	numPages := r.NumPage()
	pages := make([]models.Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, models.Page{DocumentID: docID, Number: i})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pages = append(pages, models.Page{
			DocumentID: docID,
			Number:     i,
			Text:       strings.TrimSpace(text),
		})
	}
	return pages, nil
}
