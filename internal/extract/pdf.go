package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pageFooter matches running footers such as "Page 3 of 12" that policy
// wordings repeat on every page.
var pageFooter = regexp.MustCompile(`(?im)^\s*page\s+\d+(\s+of\s+\d+)?\s*$`)

// extractPDF returns the text of every non-empty page. Pages are separated by
// a blank line so a clause never runs into the next page's heading.
func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		text = strings.TrimSpace(pageFooter.ReplaceAllString(text, ""))
		if text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
