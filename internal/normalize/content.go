package normalize

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/oscarsorensen/FirstListing/internal/reader"
)

func isContentRegion(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Article:
		return true
	case atom.Div:
		return classMatches(n, "description", "content", "detail", "property-info", "features")
	case atom.Section:
		return classMatches(n, "main", "property", "listing")
	}
	return false
}

// mainContent joins the largest distinct content regions, each clipped.
func mainContent(doc *html.Node) string {
	var blocks []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && isContentRegion(n) {
			if text := collapse(nodeText(n)); runeLen(text) > minContentRunes {
				clipped := text
				if runes := []rune(text); len(runes) > contentBlockRunes {
					clipped = strings.TrimSpace(string(runes[:contentBlockRunes]))
				}
				blocks = append(blocks, clipped)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	blocks = capList(blocks, len(blocks))
	sort.SliceStable(blocks, func(i, j int) bool {
		return runeLen(blocks[i]) > runeLen(blocks[j])
	})
	if len(blocks) > contentBlocks {
		blocks = blocks[:contentBlocks]
	}
	return reader.CleanText(strings.Join(blocks, "\n\n"))
}
