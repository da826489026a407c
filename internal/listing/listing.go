// Package listing holds the domain types shared by the extraction and
// duplicate-linkage stages.
package listing

import (
	"fmt"
	"strings"
	"time"
)

// Field names a canonical extracted field.
type Field string

const (
	FieldTitle        Field = "title"
	FieldDescription  Field = "description"
	FieldPrice        Field = "price"
	FieldSqm          Field = "sqm"
	FieldPlotSqm      Field = "plot_sqm"
	FieldRooms        Field = "rooms"
	FieldBathrooms    Field = "bathrooms"
	FieldPropertyType Field = "property_type"
	FieldListingType  Field = "listing_type"
	FieldAddress      Field = "address"
	FieldReferenceID  Field = "reference_id"
	FieldAgentName    Field = "agent_name"
	FieldAgentPhone   Field = "agent_phone"
	FieldAgentEmail   Field = "agent_email"
)

// Fields is the fixed extraction contract, in prompt order.
var Fields = []Field{
	FieldTitle,
	FieldDescription,
	FieldPrice,
	FieldSqm,
	FieldPlotSqm,
	FieldRooms,
	FieldBathrooms,
	FieldPropertyType,
	FieldListingType,
	FieldAddress,
	FieldReferenceID,
	FieldAgentName,
	FieldAgentPhone,
	FieldAgentEmail,
}

// IsNumeric reports whether the field is stored as an integer.
func (f Field) IsNumeric() bool {
	switch f {
	case FieldPrice, FieldSqm, FieldPlotSqm, FieldRooms, FieldBathrooms:
		return true
	default:
		return false
	}
}

// SourceKey is the response key carrying the provenance snippet for f.
func (f Field) SourceKey() string {
	return string(f) + "_source"
}

// Listing types accepted by the extraction contract.
const (
	ListingTypeSale    = "sale"
	ListingTypeRent    = "rent"
	ListingTypeUnknown = "unknown"
)

// Mode selects how extracted fields are trusted.
type Mode string

const (
	// ModeStrict requires every field to carry a snippet found in the page.
	ModeStrict Mode = "strict"
	// ModePermissive accepts fields without snippets.
	ModePermissive Mode = "permissive"
)

// ParseMode parses a mode name; blank means strict.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ModeStrict):
		return ModeStrict, nil
	case string(ModePermissive):
		return ModePermissive, nil
	default:
		return "", fmt.Errorf("unknown extraction mode %q (want strict or permissive)", raw)
	}
}

// RawPage is a crawled page as handed over by the crawler.
type RawPage struct {
	ID          int64
	URL         string
	Domain      string
	HTML        string
	Text        string
	JSONLD      *string
	FirstSeenAt time.Time
	FetchedAt   time.Time
}

// FieldSet is the transient result of one extraction call.
type FieldSet struct {
	Values  map[Field]any
	Sources map[Field]string
}

// NewFieldSet returns an empty field set.
func NewFieldSet() FieldSet {
	return FieldSet{
		Values:  make(map[Field]any, len(Fields)),
		Sources: make(map[Field]string),
	}
}

// Value returns the raw value of f, or nil.
func (s FieldSet) Value(f Field) any {
	if s.Values == nil {
		return nil
	}
	return s.Values[f]
}

// Source returns the declared provenance snippet of f.
func (s FieldSet) Source(f Field) (string, bool) {
	if s.Sources == nil {
		return "", false
	}
	snippet, ok := s.Sources[f]
	return snippet, ok
}

// Set stores a value for f.
func (s *FieldSet) Set(f Field, value any) {
	if s.Values == nil {
		s.Values = make(map[Field]any, len(Fields))
	}
	s.Values[f] = value
}

// Clear nulls f.
func (s *FieldSet) Clear(f Field) {
	s.Set(f, nil)
}

// Clone returns a deep copy of the maps.
func (s FieldSet) Clone() FieldSet {
	out := NewFieldSet()
	for k, v := range s.Values {
		out.Values[k] = v
	}
	for k, v := range s.Sources {
		out.Sources[k] = v
	}
	return out
}

// Record is the canonical, persisted listing. Its identity is the raw page id.
type Record struct {
	PageID int64

	Title        *string
	Description  *string
	Price        *int64
	Sqm          *int64
	PlotSqm      *int64
	Rooms        *int64
	Bathrooms    *int64
	PropertyType *string
	ListingType  *string
	Address      *string
	ReferenceID  *string
	AgentName    *string
	AgentPhone   *string
	AgentEmail   *string

	DescriptionLanguage *string
	ExtractionMode      Mode

	CreatedAt time.Time
	UpdatedAt time.Time

	// Joined from the raw page; read-only.
	URL    string
	Domain string
	SeenAt time.Time
}

// HasDescription reports whether the record carries non-blank description text.
func (r Record) HasDescription() bool {
	return r.Description != nil && strings.TrimSpace(*r.Description) != ""
}

// Candidate is a scored duplicate candidate for a base record.
type Candidate struct {
	Record        Record
	MatchScore    int
	MatchedFields []Field
	// Verdict is set when the candidate was adjudicated.
	Verdict *Adjudication
}

// Adjudication is the model verdict for one base/candidate pair.
type Adjudication struct {
	PageID       int64    `json:"page_id"`
	SameProperty *bool    `json:"same_property"`
	Confidence   *float64 `json:"confidence"`
	Reason       string   `json:"reason"`
}
