// Package extract asks a text-generation model for the fixed listing field
// contract and maps its answer onto canonical fields.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oscarsorensen/FirstListing/internal/listing"
	"github.com/oscarsorensen/FirstListing/internal/llm"
	"github.com/oscarsorensen/FirstListing/internal/normalize"
	"github.com/oscarsorensen/FirstListing/internal/schema"
)

const (
	DefaultMaxOutputTokens      = 768
	DefaultTimeout              = 120 * time.Second
	DefaultDescriptionMaxTokens = 2048
	DefaultDescriptionTimeout   = 180 * time.Second
	DefaultTextPrefixRunes      = 2000

	minDescriptionRunes = 10
)

// Options configures an Extractor.
type Options struct {
	Mode listing.Mode
	// DescriptionStage issues a second call for the description only.
	DescriptionStage     bool
	MaxOutputTokens      int
	Timeout              time.Duration
	DescriptionMaxTokens int
	DescriptionTimeout   time.Duration
	TextPrefixRunes      int
}

func normalizeOptions(opts Options) Options {
	if opts.Mode == "" {
		opts.Mode = listing.ModeStrict
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.DescriptionMaxTokens <= 0 {
		opts.DescriptionMaxTokens = DefaultDescriptionMaxTokens
	}
	if opts.DescriptionTimeout <= 0 {
		opts.DescriptionTimeout = DefaultDescriptionTimeout
	}
	if opts.TextPrefixRunes <= 0 {
		opts.TextPrefixRunes = DefaultTextPrefixRunes
	}
	return opts
}

// Result is one successful extraction.
type Result struct {
	Fields listing.FieldSet
	// Strategy names the response recovery step that produced Fields.
	Strategy string
	// DescriptionErr is set when the description stage failed; Fields then
	// keeps the description of the main call.
	DescriptionErr error
	// Unchecked lists fields whose values need no source snippet. The
	// description stage may join text from several places on the page.
	Unchecked []listing.Field
}

type Extractor struct {
	generator llm.Generator
	opts      Options
}

func New(generator llm.Generator, opts Options) *Extractor {
	return &Extractor{
		generator: generator,
		opts:      normalizeOptions(opts),
	}
}

// Mode reports the provenance mode the extractor prompts for.
func (e *Extractor) Mode() listing.Mode {
	return e.opts.Mode
}

// With returns an extractor sharing e's generator with the mode and the
// description stage replaced. An empty mode or a nil stage keeps e's value.
func (e *Extractor) With(mode listing.Mode, descriptionStage *bool) *Extractor {
	opts := e.opts
	if mode != "" {
		opts.Mode = mode
	}
	if descriptionStage != nil {
		opts.DescriptionStage = *descriptionStage
	}
	return &Extractor{generator: e.generator, opts: opts}
}

// Extract runs the field call, plus the description call when enabled.
// Errors wrap llm.ErrTransport, llm.ErrProtocol or llm.ErrUnparsableResponse.
func (e *Extractor) Extract(ctx context.Context, bundle normalize.Bundle) (Result, error) {
	if e == nil || e.generator == nil {
		return Result{}, fmt.Errorf("extractor is not configured")
	}

	text, err := e.generator.Generate(ctx, llm.Request{
		Prompt:          buildFieldsPrompt(bundle, e.opts.Mode, e.opts.TextPrefixRunes),
		System:          fieldsSystemPrompt,
		JSON:            true,
		MaxOutputTokens: e.opts.MaxOutputTokens,
		Timeout:         e.opts.Timeout,
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate fields: %w", err)
	}

	object, strategy, err := llm.Recover(text, schema.ValidateExtraction)
	if err != nil {
		return Result{}, fmt.Errorf("parse fields: %w", err)
	}

	result := Result{
		Fields:   resolveFields(object),
		Strategy: strategy,
	}

	if e.opts.DescriptionStage {
		description, err := e.extractDescription(ctx, bundle)
		switch {
		case err != nil:
			result.DescriptionErr = err
		case description == nil:
			result.Fields.Clear(listing.FieldDescription)
			delete(result.Fields.Sources, listing.FieldDescription)
		default:
			result.Fields.Set(listing.FieldDescription, *description)
			delete(result.Fields.Sources, listing.FieldDescription)
			result.Unchecked = append(result.Unchecked, listing.FieldDescription)
		}
	}

	return result, nil
}

func (e *Extractor) extractDescription(ctx context.Context, bundle normalize.Bundle) (*string, error) {
	text, err := e.generator.Generate(ctx, llm.Request{
		Prompt:          buildDescriptionPrompt(bundle),
		System:          descriptionSystemPrompt,
		MaxOutputTokens: e.opts.DescriptionMaxTokens,
		Timeout:         e.opts.DescriptionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("generate description: %w", err)
	}
	return parseDescription(text), nil
}

func parseDescription(text string) *string {
	description := strings.TrimSpace(text)
	description = strings.Trim(description, "\"")
	description = strings.TrimSpace(description)
	if strings.EqualFold(description, "null") || len([]rune(description)) < minDescriptionRunes {
		return nil
	}
	return &description
}
