// Package match finds stored listings that likely describe the same property
// as a base listing: a weighted structural score first, then an optional
// model verdict over the descriptions of the best candidates.
package match

import (
	"sort"
	"strings"

	"github.com/oscarsorensen/FirstListing/internal/listing"
)

const (
	DefaultThreshold  = 3
	DefaultMaxResults = 20
)

// Weight is the score a field contributes on an exact non-null match.
type Weight struct {
	Field  listing.Field
	Points int
}

// Weights are checked in this order; MatchedFields follow it.
var Weights = []Weight{
	{Field: listing.FieldReferenceID, Points: 5},
	{Field: listing.FieldPrice, Points: 3},
	{Field: listing.FieldSqm, Points: 3},
	{Field: listing.FieldRooms, Points: 2},
	{Field: listing.FieldBathrooms, Points: 2},
	{Field: listing.FieldPropertyType, Points: 1},
	{Field: listing.FieldListingType, Points: 1},
}

// MaxScore is the sum of all weights.
func MaxScore() int {
	total := 0
	for _, w := range Weights {
		total += w.Points
	}
	return total
}

type ScorerOptions struct {
	Threshold  int
	MaxResults int
}

type Scorer struct {
	opts ScorerOptions
}

func NewScorer(opts ScorerOptions) *Scorer {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	return &Scorer{opts: opts}
}

// Score returns the weighted match score of candidate against base and the
// fields that contributed.
func (s *Scorer) Score(base, candidate listing.Record) (int, []listing.Field) {
	score := 0
	var matched []listing.Field
	for _, w := range Weights {
		if fieldsMatch(w.Field, base, candidate) {
			score += w.Points
			matched = append(matched, w.Field)
		}
	}
	return score, matched
}

// Rank scores every record other than base and returns those reaching the
// threshold: highest score first, then most recently seen, then lowest page id.
func (s *Scorer) Rank(base listing.Record, records []listing.Record) []listing.Candidate {
	var out []listing.Candidate
	for _, rec := range records {
		if rec.PageID == base.PageID {
			continue
		}
		score, matched := s.Score(base, rec)
		if score < s.opts.Threshold {
			continue
		}
		out = append(out, listing.Candidate{
			Record:        rec,
			MatchScore:    score,
			MatchedFields: matched,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		if !a.Record.SeenAt.Equal(b.Record.SeenAt) {
			return a.Record.SeenAt.After(b.Record.SeenAt)
		}
		return a.Record.PageID < b.Record.PageID
	})

	if len(out) > s.opts.MaxResults {
		out = out[:s.opts.MaxResults]
	}
	return out
}

func fieldsMatch(field listing.Field, a, b listing.Record) bool {
	switch field {
	case listing.FieldReferenceID:
		return textEqual(a.ReferenceID, b.ReferenceID, false)
	case listing.FieldPrice:
		return intEqual(a.Price, b.Price)
	case listing.FieldSqm:
		return intEqual(a.Sqm, b.Sqm)
	case listing.FieldRooms:
		return intEqual(a.Rooms, b.Rooms)
	case listing.FieldBathrooms:
		return intEqual(a.Bathrooms, b.Bathrooms)
	case listing.FieldPropertyType:
		return textEqual(a.PropertyType, b.PropertyType, true)
	case listing.FieldListingType:
		return textEqual(knownListingType(a.ListingType), knownListingType(b.ListingType), true)
	default:
		return false
	}
}

func intEqual(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}

func textEqual(a, b *string, foldCase bool) bool {
	if a == nil || b == nil {
		return false
	}
	x, y := strings.TrimSpace(*a), strings.TrimSpace(*b)
	if x == "" || y == "" {
		return false
	}
	if foldCase {
		return strings.EqualFold(x, y)
	}
	return x == y
}

// knownListingType treats "unknown" as absent.
func knownListingType(v *string) *string {
	if v == nil || strings.EqualFold(strings.TrimSpace(*v), listing.ListingTypeUnknown) {
		return nil
	}
	return v
}
