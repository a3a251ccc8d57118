// Package extractor turns verification page markup and text into a
// structured invoice field set.
package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// DefaultSelector scopes text extraction to the whole document body.
const DefaultSelector = "body"

// skipped holds elements whose text is never visible.
var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
	"title":    true,
}

// VisibleText returns the visible text of rawHTML under the elements matched
// by selector, one text node per line. When nothing matches, the whole
// document is used so a wrong selector degrades to a wider read instead of an
// empty one.
func VisibleText(rawHTML, selector string) (string, error) {
	if selector == "" {
		selector = DefaultSelector
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", err
	}

	scope := doc.FindMatcher(sel)
	if scope.Length() == 0 {
		scope = doc.Selection
	}

	var b strings.Builder
	for _, n := range scope.Nodes {
		collectText(n, &b)
	}
	return strings.TrimSpace(b.String()), nil
}

// collectText walks n depth first and appends every non-blank text node on
// its own line.
func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.ElementNode:
		if skipped[n.Data] {
			return
		}
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			b.WriteString(t)
			b.WriteByte('\n')
		}
		return
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}
