package provenance

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText reduces markup or plain text to comparable form: tags
// stripped, entities decoded, NFKC folded, lowercased, whitespace collapsed.
// Inline tags join their neighbours without a space. Executable scripts and
// styles are dropped; JSON-LD blocks count as page text.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	z := html.NewTokenizer(strings.NewReader(s))
	skipping := false
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return fold(b.String())
		case html.TextToken:
			if !skipping {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			if isHidden(a) {
				switch tt {
				case html.StartTagToken:
					skipping = a != atom.Script || !hasAttr || !isDataScript(z)
				case html.EndTagToken:
					skipping = false
				}
				b.WriteByte(' ')
				continue
			}
			if !isInline(a) {
				b.WriteByte(' ')
			}
		}
	}
}

func fold(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

func isHidden(a atom.Atom) bool {
	return a == atom.Script || a == atom.Style
}

// isDataScript reports whether the current script tag carries JSON rather
// than code.
func isDataScript(z *html.Tokenizer) bool {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "type" {
			kind := strings.ToLower(strings.TrimSpace(string(val)))
			return strings.HasSuffix(kind, "json")
		}
		if !more {
			return false
		}
	}
}

func isInline(a atom.Atom) bool {
	switch a {
	case atom.A, atom.Abbr, atom.B, atom.Bdi, atom.Bdo, atom.Cite, atom.Code, atom.Data,
		atom.Em, atom.Font, atom.I, atom.Mark, atom.Q, atom.S, atom.Small, atom.Span,
		atom.Strong, atom.Sub, atom.Sup, atom.Time, atom.U, atom.Var, atom.Wbr:
		return true
	}
	return false
}
