package yt

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var brRegex = regexp.MustCompile(`(?i)<br\s*/?>`)

// plainText renders the textDisplay HTML of a comment as plain text: line
// breaks kept, tags dropped, entities decoded. Threads are requested with
// textFormat=html, so a literal '<' typed by a user arrives as &lt;.
func plainText(html string) string {
	html = strings.ReplaceAll(html, "\r\n", "\n")
	html = brRegex.ReplaceAllString(html, "\n")
	if !strings.ContainsAny(html, "<&") {
		return html
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return doc.Text()
}
