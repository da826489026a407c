// Package normalize turns a raw listing page into a bounded bundle of
// labeled snippets for the field extractor. It never fails: anything it
// cannot find is left empty.
package normalize

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/oscarsorensen/FirstListing/internal/reader"
)

const (
	maxContextItems = 5
	maxContactItems = 3
	maxHeaders      = 10

	contentBlockRunes = 1000
	contentBlocks     = 3
	minContentRunes   = 50
)

// Input is the raw material of one page.
type Input struct {
	HTML   string
	Text   string
	JSONLD *string
	URL    string
}

// Bundle is the normalized view of a page handed to the extractor.
type Bundle struct {
	Title            string            `json:"title"`
	Meta             map[string]string `json:"meta"`
	Headers          []string          `json:"headers"`
	PriceContexts    []string          `json:"price_contexts"`
	AreaContexts     []string          `json:"area_contexts"`
	RoomContexts     []string          `json:"room_contexts"`
	BathroomContexts []string          `json:"bathroom_contexts"`
	AgentContexts    []string          `json:"agent_contexts"`
	PhoneContexts    []string          `json:"phone_contexts"`
	EmailContexts    []string          `json:"email_contexts"`
	MainContent      string            `json:"main_content"`

	// StructuredData is the first real-estate JSON-LD object, from the
	// supplied payload or the page's own ld+json scripts.
	StructuredData map[string]any `json:"-"`
	// Text is the supplied plain text, whitespace-cleaned.
	Text string `json:"-"`
}

// Build normalizes one page.
func Build(in Input) Bundle {
	bundle := Bundle{
		Meta: map[string]string{},
		Text: reader.CleanText(in.Text),
	}

	if in.JSONLD != nil {
		bundle.StructuredData = FilterJSONLD(*in.JSONLD)
	}

	var doc *html.Node
	if strings.TrimSpace(in.HTML) != "" {
		if parsed, err := html.Parse(strings.NewReader(in.HTML)); err == nil {
			doc = parsed
		}
	}

	if doc != nil {
		if bundle.StructuredData == nil {
			for _, script := range ldJSONScripts(doc) {
				if data := FilterJSONLD(script); data != nil {
					bundle.StructuredData = data
					break
				}
			}
		}

		removeNoise(doc)

		bundle.Title = documentTitle(doc)
		bundle.Meta = metaTags(doc)
		bundle.Headers = capList(headings(doc), maxHeaders)

		segments := textSegments(doc)
		bundle.PriceContexts = capList(findContexts(segments, priceContext), maxContextItems)
		bundle.AreaContexts = capList(findContexts(segments, areaContext), maxContextItems)
		bundle.RoomContexts = capList(findContexts(segments, roomContext), maxContextItems)
		bundle.BathroomContexts = capList(findContexts(segments, bathroomContext), maxContextItems)
		bundle.AgentContexts = capList(agentContexts(doc, segments), maxContextItems)
		bundle.PhoneContexts = capList(phoneNumbers(doc, segments), maxContactItems)
		bundle.EmailContexts = capList(emailAddresses(doc, segments), maxContactItems)
		bundle.MainContent = mainContent(doc)
	}

	if bundle.MainContent == "" {
		bundle.MainContent = fallbackContent(in)
	}
	return bundle
}

func fallbackContent(in Input) string {
	limit := contentBlockRunes * contentBlocks
	if strings.TrimSpace(in.HTML) != "" {
		if text, err := reader.ExtractText(in.HTML, in.URL); err == nil {
			clipped, _ := reader.TruncateText(text, limit)
			return clipped
		}
	}
	clipped, _ := reader.TruncateText(reader.CleanText(in.Text), limit)
	return clipped
}

// capList removes blanks and duplicates, keeping first occurrences, and
// truncates to limit.
func capList(items []string, limit int) []string {
	out := make([]string, 0, min(len(items), limit))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}
