package normalize

import (
	"regexp"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type contextRule struct {
	pattern     *regexp.Regexp
	minRunes    int
	needsDigits bool
}

var (
	priceContext = contextRule{
		pattern:     regexp.MustCompile(`(?i).{0,50}(?:€|eur|precio|price).{0,50}`),
		minRunes:    6,
		needsDigits: true,
	}
	areaContext = contextRule{
		pattern:     regexp.MustCompile(`(?i).{0,60}(?:m²|m2|sqm|superficie|construidos|built).{0,60}`),
		minRunes:    6,
		needsDigits: true,
	}
	roomContext = contextRule{
		pattern:     regexp.MustCompile(`(?i).{0,50}(?:bedroom|dormitorio|habitaci[oó]n|room|hab\.|dorm\.).{0,50}`),
		minRunes:    4,
		needsDigits: true,
	}
	bathroomContext = contextRule{
		pattern:     regexp.MustCompile(`(?i).{0,50}(?:bathroom|baño|bano|bath|aseo|wc).{0,50}`),
		minRunes:    4,
		needsDigits: true,
	}

	agentLabelPattern = regexp.MustCompile(`(?i)(?:agente|agencia|inmobiliaria|agent|agency|broker)[:\s]+(.{5,80})`)
)

func findContexts(segments []string, rule contextRule) []string {
	var out []string
	for _, segment := range segments {
		for _, match := range rule.pattern.FindAllString(segment, -1) {
			match = collapse(match)
			if runeLen(match) < rule.minRunes {
				continue
			}
			if rule.needsDigits && !hasDigit(match) {
				continue
			}
			out = append(out, match)
		}
	}
	return out
}

func agentContexts(doc *html.Node, segments []string) []string {
	var out []string
	keep := func(text string) {
		text = collapse(text)
		if n := runeLen(text); n > 3 && n < 100 {
			out = append(out, text)
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Div && classMatches(n, "agent", "agency", "broker", "contact", "seller"):
				keep(nodeText(n))
			case n.DataAtom == atom.Span && classMatches(n, "agent", "agency"):
				keep(nodeText(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, segment := range segments {
		for _, m := range agentLabelPattern.FindAllStringSubmatch(segment, -1) {
			keep(m[1])
		}
	}
	return out
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
