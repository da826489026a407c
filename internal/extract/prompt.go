package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/oscarsorensen/FirstListing/internal/listing"
	"github.com/oscarsorensen/FirstListing/internal/normalize"
)

const (
	fieldsSystemPrompt      = "You extract real-estate listing fields. Respond only with valid JSON."
	descriptionSystemPrompt = "You copy real-estate listing descriptions verbatim. Respond only with the description text or the word null."

	maxPromptHeaders = 5
)

const fieldRules = `RULES
Use only visible content of the primary property on the page.
Ignore similar properties, featured listings, carousels, navigation, footers, forms and modals.
Never invent, estimate or infer a value. If a field is not explicitly present, return null.

title: the listing headline as written.
description: the full visible property description, copied verbatim. Do not shorten or summarize.
price: integer only. Remove currency symbols and thousand separators. "495.000€" -> 495000.
sqm: built, interior or living area only. Never the plot area.
plot_sqm: land or plot area only.
rooms: number of bedrooms.
bathrooms: number of bathrooms.
listing_type: "sale" for sale, resale or venta; "rent" for rental or alquiler; otherwise null.
address: human-readable location only (street, city, zone).
reference_id: the listing reference or agency code, from the same block as the price.
Never combine numbers from different blocks. If several numbers exist, use the one nearest its label.
`

const strictSourceRules = `SOURCE RULES
For every field you fill, set "<field>_source" to a short excerpt copied character for character
from the page that contains the value. If you cannot quote the page, set both the field and its
source to null.
`

const outputRules = `OUTPUT
Return exactly one flat JSON object with exactly these keys. No markdown, no explanation,
no arrays, no nested objects.
`

func responseTemplate(mode listing.Mode) string {
	var b strings.Builder
	b.WriteString("{\n")
	for i, field := range listing.Fields {
		fmt.Fprintf(&b, "  %q: null", string(field))
		if mode == listing.ModeStrict {
			fmt.Fprintf(&b, ",\n  %q: null", field.SourceKey())
		}
		if i < len(listing.Fields)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}

func buildFieldsPrompt(bundle normalize.Bundle, mode listing.Mode, textRunes int) string {
	var b strings.Builder
	b.WriteString("Extract real-estate fields from the property page sections below.\n\n")
	b.WriteString(fieldRules)
	b.WriteString("\n")
	if mode == listing.ModeStrict {
		b.WriteString(strictSourceRules)
		b.WriteString("\n")
	}
	b.WriteString(outputRules)
	b.WriteString(responseTemplate(mode))
	b.WriteString("\n\nPAGE SECTIONS FOLLOW.\n\n")
	b.WriteString(renderBundle(bundle, textRunes))
	return b.String()
}

func renderBundle(bundle normalize.Bundle, textRunes int) string {
	var b strings.Builder
	section := func(name string, lines ...string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&b, "=== %s ===\n", name)
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if bundle.StructuredData != nil {
		if encoded, err := json.MarshalIndent(bundle.StructuredData, "", "  "); err == nil {
			section("JSON-LD STRUCTURED DATA", string(encoded))
		}
	}
	if bundle.Title != "" {
		section("PAGE TITLE", bundle.Title)
	}
	section("META TAGS", relevantMeta(bundle.Meta)...)
	headers := bundle.Headers
	if len(headers) > maxPromptHeaders {
		headers = headers[:maxPromptHeaders]
	}
	section("HEADINGS", headers...)
	section("PRICE CONTEXTS", bundle.PriceContexts...)
	section("AREA CONTEXTS", bundle.AreaContexts...)
	section("ROOM CONTEXTS", bundle.RoomContexts...)
	section("BATHROOM CONTEXTS", bundle.BathroomContexts...)
	section("AGENT/AGENCY INFO", bundle.AgentContexts...)
	section("PHONE NUMBERS", bundle.PhoneContexts...)
	section("EMAIL ADDRESSES", bundle.EmailContexts...)
	if bundle.MainContent != "" {
		section("MAIN CONTENT", bundle.MainContent)
	}
	if text := textPrefix(bundle.Text, textRunes); text != "" {
		section(fmt.Sprintf("CLEAN TEXT (first %d chars)", textRunes), text)
	}
	return b.String()
}

func relevantMeta(meta map[string]string) []string {
	keys := make([]string, 0, len(meta))
	for key := range meta {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "description") || strings.Contains(lower, "title") || strings.Contains(lower, "property") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+": "+meta[key])
	}
	return lines
}

// textPrefix returns the first n runes of text when it is long enough to be
// worth sending.
func textPrefix(text string, n int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= 100 || n <= 0 {
		return ""
	}
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

func buildDescriptionPrompt(bundle normalize.Bundle) string {
	var b strings.Builder
	b.WriteString(`Extract the complete property description from this real estate listing.

RULES:
1. Return the full property description as written. Do not shorten or summarize.
2. Combine all description text found in the sources.
3. Remove navigation text, form labels and UI elements.
4. Keep the description in its original language.
5. If no description is found, return: null

Return ONLY the description text (or the word null), nothing else.

`)
	if bundle.StructuredData != nil {
		if desc, ok := bundle.StructuredData["description"].(string); ok && strings.TrimSpace(desc) != "" {
			fmt.Fprintf(&b, "JSON-LD description: %s\n\n", strings.TrimSpace(desc))
		}
	}
	if desc := bundle.Meta["description"]; desc != "" {
		fmt.Fprintf(&b, "Meta description: %s\n\n", desc)
	} else if desc := bundle.Meta["og:description"]; desc != "" {
		fmt.Fprintf(&b, "Meta description: %s\n\n", desc)
	}
	if bundle.MainContent != "" {
		fmt.Fprintf(&b, "Main content:\n%s\n", bundle.MainContent)
	} else if text := textPrefix(bundle.Text, 3000); text != "" {
		fmt.Fprintf(&b, "Page text:\n%s\n", text)
	}
	return b.String()
}
