package extract

import (
	"strings"

	"github.com/oscarsorensen/FirstListing/internal/listing"
)

// fieldAliases lists alternate response keys per canonical field, in
// preference order after the canonical key itself.
var fieldAliases = map[listing.Field][]string{
	listing.FieldTitle:        {"name", "headline"},
	listing.FieldDescription:  {"description_text"},
	listing.FieldPrice:        {"price_eur", "asking_price"},
	listing.FieldSqm:          {"built_sqm", "built_area", "area_sqm", "size_sqm"},
	listing.FieldPlotSqm:      {"plot", "plot_size", "land_sqm", "plot_area"},
	listing.FieldRooms:        {"bedrooms", "beds", "dormitorios", "habitaciones"},
	listing.FieldBathrooms:    {"baths", "banos", "baños"},
	listing.FieldPropertyType: {"type", "property_kind"},
	listing.FieldListingType:  {"operation", "transaction_type"},
	listing.FieldAddress:      {"location"},
	listing.FieldReferenceID:  {"reference", "ref", "ref_id", "reference_code"},
	listing.FieldAgentName:    {"agency", "agency_name", "agent"},
	listing.FieldAgentPhone:   {"phone", "agency_phone"},
	listing.FieldAgentEmail:   {"email", "agency_email"},
}

func candidateKeys(field listing.Field) []string {
	return append([]string{string(field)}, fieldAliases[field]...)
}

// resolveFields maps a decoded response object onto canonical fields. The
// first alias holding a non-empty value wins; its snippet travels with it.
func resolveFields(object map[string]any) listing.FieldSet {
	out := listing.NewFieldSet()
	for _, field := range listing.Fields {
		var (
			value any
			key   string
		)
		for _, candidate := range candidateKeys(field) {
			if v, ok := object[candidate]; ok && !isEmptyValue(v) {
				value, key = v, candidate
				break
			}
		}
		out.Set(field, value)
		if key == "" {
			continue
		}
		if snippet, ok := object[key+"_source"].(string); ok && strings.TrimSpace(snippet) != "" {
			out.Sources[field] = strings.TrimSpace(snippet)
		} else if key != string(field) {
			if snippet, ok := object[field.SourceKey()].(string); ok && strings.TrimSpace(snippet) != "" {
				out.Sources[field] = strings.TrimSpace(snippet)
			}
		}
	}
	return out
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}
