// Package provenance discards extracted fields that cannot be traced to
// literal page content.
package provenance

import (
	"slices"
	"strings"
	"unicode"

	"github.com/oscarsorensen/FirstListing/internal/coerce"
	"github.com/oscarsorensen/FirstListing/internal/listing"
)

const minSnippetRunes = 3

// Rejection records a field nulled by validation.
type Rejection struct {
	Field  listing.Field `json:"field"`
	Reason string        `json:"reason"`
}

// Page holds the normalized content of one page for repeated lookups.
type Page struct {
	text string
}

// NewPage normalizes raw page HTML once.
func NewPage(rawHTML string) Page {
	return Page{text: NormalizeText(rawHTML)}
}

// Contains reports whether snippet, normalized, appears in the page.
func (p Page) Contains(snippet string) bool {
	needle := NormalizeText(snippet)
	if len([]rune(needle)) < minSnippetRunes {
		return false
	}
	return strings.Contains(p.text, needle)
}

// Validate returns a copy of fields with every untraceable field nulled.
// In strict mode a filled field without a snippet is untraceable; in
// permissive mode such fields pass unchecked. Declared snippets are always
// checked. Fields listed in unchecked keep their values without a snippet
// lookup.
func Validate(fields listing.FieldSet, rawHTML string, mode listing.Mode, unchecked ...listing.Field) (listing.FieldSet, []Rejection) {
	out := fields.Clone()
	page := NewPage(rawHTML)

	var rejections []Rejection
	reject := func(field listing.Field, reason string) {
		out.Clear(field)
		rejections = append(rejections, Rejection{Field: field, Reason: reason})
	}

	for _, field := range listing.Fields {
		value := out.Value(field)
		if coerce.Text(value) == nil {
			out.Clear(field)
			continue
		}
		if slices.Contains(unchecked, field) {
			continue
		}

		snippet, hasSnippet := out.Source(field)
		hasSnippet = hasSnippet && strings.TrimSpace(snippet) != ""
		if !hasSnippet {
			if mode == listing.ModeStrict {
				reject(field, "missing source snippet")
			}
			continue
		}

		if !page.Contains(snippet) {
			reject(field, "source snippet not found in page")
			continue
		}

		if field.IsNumeric() {
			if !containsDigit(snippet) {
				reject(field, "source snippet has no digit")
				continue
			}
			if coerce.Int(value) == nil {
				reject(field, "value is not an integer")
				continue
			}
		}

		if field == listing.FieldListingType {
			kind := strings.ToLower(strings.TrimSpace(*coerce.Text(value)))
			if kind != listing.ListingTypeSale && kind != listing.ListingTypeRent {
				reject(field, "listing type is not sale or rent")
				continue
			}
			out.Set(field, kind)
		}
	}

	return out, rejections
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
