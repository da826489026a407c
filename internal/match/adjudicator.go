package match

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/oscarsorensen/FirstListing/internal/listing"
	"github.com/oscarsorensen/FirstListing/internal/llm"
	"github.com/oscarsorensen/FirstListing/internal/schema"
)

const (
	DefaultMaxCandidates     = 5
	DefaultAdjudicateTimeout = 60 * time.Second
	adjudicateMaxTokens      = 256

	ReasonNoCandidateDescription = "No description available for this candidate."
	ReasonNoBaseDescription      = "No description available for the base listing."

	adjudicateSystemPrompt = "You are a real estate duplicate detector. Respond only with valid JSON."
)

// DescriptionLookup loads the stored description of a page.
type DescriptionLookup interface {
	GetDescription(ctx context.Context, pageID int64) (*string, error)
}

type AdjudicatorOptions struct {
	MaxCandidates int
	Timeout       time.Duration
}

// Adjudicator asks a model whether two descriptions are the same property.
type Adjudicator struct {
	generator    llm.Generator
	descriptions DescriptionLookup
	opts         AdjudicatorOptions
	logger       zerolog.Logger
}

// NewAdjudicator builds an adjudicator. A nil descriptions lookup uses the
// descriptions carried by the records.
func NewAdjudicator(generator llm.Generator, descriptions DescriptionLookup, opts AdjudicatorOptions, logger zerolog.Logger) *Adjudicator {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultAdjudicateTimeout
	}
	return &Adjudicator{
		generator:    generator,
		descriptions: descriptions,
		opts:         opts,
		logger:       logger,
	}
}

// Adjudicate returns one verdict per leading candidate, in candidate order.
// A failed pair gets an unknown verdict carrying the failure; the others
// still run.
func (a *Adjudicator) Adjudicate(ctx context.Context, base listing.Record, candidates []listing.Candidate) []listing.Adjudication {
	if len(candidates) > a.opts.MaxCandidates {
		candidates = candidates[:a.opts.MaxCandidates]
	}
	out := make([]listing.Adjudication, 0, len(candidates))

	baseDescription, err := a.description(ctx, base)
	if err != nil || baseDescription == "" {
		reason := ReasonNoBaseDescription
		if err != nil {
			reason = fmt.Sprintf("Could not load the base description: %v", err)
		}
		for _, c := range candidates {
			out = append(out, listing.Adjudication{PageID: c.Record.PageID, Reason: reason})
		}
		return out
	}

	for _, c := range candidates {
		out = append(out, a.adjudicatePair(ctx, baseDescription, c.Record))
	}
	return out
}

func (a *Adjudicator) adjudicatePair(ctx context.Context, baseDescription string, candidate listing.Record) listing.Adjudication {
	result := listing.Adjudication{PageID: candidate.PageID}

	description, err := a.description(ctx, candidate)
	if err != nil {
		result.Reason = fmt.Sprintf("Could not load the candidate description: %v", err)
		return result
	}
	if description == "" {
		result.Reason = ReasonNoCandidateDescription
		return result
	}

	text, err := a.generator.Generate(ctx, llm.Request{
		Prompt:          buildComparePrompt(baseDescription, description),
		System:          adjudicateSystemPrompt,
		JSON:            true,
		MaxOutputTokens: adjudicateMaxTokens,
		Timeout:         a.opts.Timeout,
	})
	if err != nil {
		a.logger.Warn().Err(err).Int64("page_id", candidate.PageID).Msg("adjudication call failed")
		result.Reason = fmt.Sprintf("Adjudication failed: %v", err)
		return result
	}

	verdict, _, err := llm.Recover(text, schema.ValidateAdjudication)
	if err != nil {
		a.logger.Warn().Err(err).Int64("page_id", candidate.PageID).Msg("adjudication response rejected")
		result.Reason = fmt.Sprintf("Adjudication failed: %v", err)
		return result
	}

	result.SameProperty = verdict.SameProperty
	result.Confidence = verdict.Confidence
	result.Reason = verdict.Reason
	return result
}

func (a *Adjudicator) description(ctx context.Context, rec listing.Record) (string, error) {
	text := rec.Description
	if a.descriptions != nil {
		loaded, err := a.descriptions.GetDescription(ctx, rec.PageID)
		if err != nil {
			return "", err
		}
		text = loaded
	}
	if text == nil {
		return "", nil
	}
	return strings.TrimSpace(*text), nil
}

func buildComparePrompt(descA, descB string) string {
	return fmt.Sprintf(`Compare these two real estate listing descriptions. Decide, strictly from the two texts, whether they describe the same physical property.

Description A:
%s

Description B:
%s

Return ONLY valid JSON with these three keys:
{
  "same_property": true or false,
  "confidence": a decimal between 0.0 and 1.0,
  "reason": "one short sentence explaining your decision"
}`, descA, descB)
}
