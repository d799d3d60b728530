// Package text provides plain-text helpers for article content.
package text

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText extracts the visible text of an HTML fragment. Script and style
// elements are dropped and runs of whitespace collapse to one space.
// Input that does not parse is returned with whitespace collapsed.
func PlainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapseSpace(html)
	}
	doc.Find("script, style, noscript").Remove()
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
