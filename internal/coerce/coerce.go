// Package coerce converts validated raw field values into record values.
// It never infers: a value that is not there stays nil.
package coerce

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/oscarsorensen/FirstListing/internal/listing"
)

var (
	decimalText = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)
	groupedText = regexp.MustCompile(`^[+-]?\d{1,3}\.\d{3}$`)
)

var placeholders = map[string]struct{}{
	"none": {},
	"null": {},
	"nil":  {},
	"n/a":  {},
	"na":   {},
}

// Text renders a scalar as trimmed text. Blank and placeholder values give nil.
func Text(value any) *string {
	var s string
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		s = v
	case json.Number:
		s = v.String()
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, ok := placeholders[strings.ToLower(s)]; ok {
		return nil
	}
	return &s
}

// Int parses an integer. JSON numbers and decimal text such as "250000.00"
// are truncated; other text keeps only its digits, and text without digits
// gives nil, never zero. A lone dot before three digits ("450.000") groups
// thousands.
func Int(value any) *int64 {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return intPtr(n)
		}
		if f, err := v.Float64(); err == nil {
			return fromFloat(f)
		}
	case float64:
		return fromFloat(v)
	case int:
		return intPtr(int64(v))
	case int64:
		return intPtr(v)
	}

	text := Text(value)
	if text == nil {
		return nil
	}
	if decimalText.MatchString(*text) && !groupedText.MatchString(*text) {
		if f, err := strconv.ParseFloat(*text, 64); err == nil {
			return fromFloat(f)
		}
	}
	digits := Digits(*text)
	if digits == "" {
		return nil
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// Digits keeps the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ListingType keeps sale and rent; any other non-empty value becomes unknown.
func ListingType(value any) *string {
	text := Text(value)
	if text == nil {
		return nil
	}
	kind := strings.ToLower(*text)
	switch kind {
	case listing.ListingTypeSale, listing.ListingTypeRent:
	default:
		kind = listing.ListingTypeUnknown
	}
	return &kind
}

// Record builds the record for a page from a validated field set.
func Record(pageID int64, fields listing.FieldSet, mode listing.Mode) listing.Record {
	return listing.Record{
		PageID:         pageID,
		Title:          Text(fields.Value(listing.FieldTitle)),
		Description:    Text(fields.Value(listing.FieldDescription)),
		Price:          Int(fields.Value(listing.FieldPrice)),
		Sqm:            Int(fields.Value(listing.FieldSqm)),
		PlotSqm:        Int(fields.Value(listing.FieldPlotSqm)),
		Rooms:          Int(fields.Value(listing.FieldRooms)),
		Bathrooms:      Int(fields.Value(listing.FieldBathrooms)),
		PropertyType:   Text(fields.Value(listing.FieldPropertyType)),
		ListingType:    ListingType(fields.Value(listing.FieldListingType)),
		Address:        Text(fields.Value(listing.FieldAddress)),
		ReferenceID:    Text(fields.Value(listing.FieldReferenceID)),
		AgentName:      Text(fields.Value(listing.FieldAgentName)),
		AgentPhone:     Text(fields.Value(listing.FieldAgentPhone)),
		AgentEmail:     Text(fields.Value(listing.FieldAgentEmail)),
		ExtractionMode: mode,
	}
}

func fromFloat(f float64) *int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil
	}
	return intPtr(int64(f))
}

func intPtr(n int64) *int64 {
	return &n
}
