package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/oscarsorensen/FirstListing/internal/listing"
	"github.com/oscarsorensen/FirstListing/internal/llm"
)

type stubGenerator struct {
	mu      sync.Mutex
	calls   []llm.Request
	respond func(req llm.Request) (string, error)
}

func (s *stubGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	return s.respond(req)
}

type stubDescriptions map[int64]*string

func (s stubDescriptions) GetDescription(_ context.Context, pageID int64) (*string, error) {
	if pageID < 0 {
		return nil, errors.New("db down")
	}
	return s[pageID], nil
}

func candidate(pageID int64, description *string) listing.Candidate {
	return listing.Candidate{Record: listing.Record{PageID: pageID, Description: description}, MatchScore: 8}
}

func TestAdjudicateSkipsCandidateWithoutDescription(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{respond: func(llm.Request) (string, error) {
		return `{"same_property": true, "confidence": 0.9, "reason": "Same villa."}`, nil
	}}
	a := NewAdjudicator(gen, nil, AdjudicatorOptions{}, zerolog.Nop())

	base := listing.Record{PageID: 1, Description: str("Villa con piscina y vistas al mar.")}
	got := a.Adjudicate(context.Background(), base, []listing.Candidate{
		candidate(2, nil),
		candidate(3, str("   ")),
	})

	if len(gen.calls) != 0 {
		t.Fatalf("expected no model calls, got %d", len(gen.calls))
	}
	for _, r := range got {
		if r.SameProperty != nil || r.Confidence != nil {
			t.Fatalf("expected unknown verdict, got %+v", r)
		}
		if r.Reason != "No description available for this candidate." {
			t.Fatalf("unexpected reason %q", r.Reason)
		}
	}
}

func TestAdjudicateBaseWithoutDescription(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{respond: func(llm.Request) (string, error) { return "", errors.New("unexpected") }}
	a := NewAdjudicator(gen, nil, AdjudicatorOptions{}, zerolog.Nop())

	got := a.Adjudicate(context.Background(), listing.Record{PageID: 1}, []listing.Candidate{candidate(2, str("Piso céntrico"))})
	if len(gen.calls) != 0 {
		t.Fatalf("expected no model calls")
	}
	if len(got) != 1 || got[0].Reason != ReasonNoBaseDescription || got[0].PageID != 2 {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestAdjudicateIsolatesFailures(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{respond: func(req llm.Request) (string, error) {
		switch {
		case strings.Contains(req.Prompt, "timeout-desc"):
			return "", fmt.Errorf("%w: deadline exceeded", llm.ErrTransport)
		case strings.Contains(req.Prompt, "garbage-desc"):
			return "I think so", nil
		default:
			return "```json\n{\"same_property\": false, \"confidence\": 1.5, \"reason\": \"Different plot size.\"}\n```", nil
		}
	}}
	a := NewAdjudicator(gen, nil, AdjudicatorOptions{}, zerolog.Nop())

	base := listing.Record{PageID: 1, Description: str("Base villa description")}
	got := a.Adjudicate(context.Background(), base, []listing.Candidate{
		candidate(2, str("timeout-desc")),
		candidate(3, str("garbage-desc")),
		candidate(4, str("Other villa")),
	})

	if len(got) != 3 || len(gen.calls) != 3 {
		t.Fatalf("expected 3 results and calls, got %d and %d", len(got), len(gen.calls))
	}
	if got[0].SameProperty != nil || !strings.Contains(got[0].Reason, "Adjudication failed") {
		t.Fatalf("unexpected transport failure result %+v", got[0])
	}
	if got[1].SameProperty != nil || !strings.Contains(got[1].Reason, "unparsable") {
		t.Fatalf("unexpected parse failure result %+v", got[1])
	}
	if got[2].SameProperty == nil || *got[2].SameProperty {
		t.Fatalf("expected false verdict, got %+v", got[2])
	}
	if got[2].Confidence != nil {
		t.Fatalf("expected out-of-range confidence to be dropped")
	}
	if got[2].Reason != "Different plot size." {
		t.Fatalf("unexpected reason %q", got[2].Reason)
	}

	req := gen.calls[2]
	if !req.JSON || req.Timeout != DefaultAdjudicateTimeout || !strings.Contains(req.Prompt, "Description A:\nBase villa description") {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestAdjudicateLimitsCandidatesAndUsesLookup(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{respond: func(llm.Request) (string, error) {
		return `{"same_property": true, "confidence": 0.7, "reason": "Same layout."}`, nil
	}}
	lookup := stubDescriptions{
		1: str("Base from store"),
		2: str("Candidate two"),
		3: nil,
	}
	a := NewAdjudicator(gen, lookup, AdjudicatorOptions{MaxCandidates: 3}, zerolog.Nop())

	got := a.Adjudicate(context.Background(), listing.Record{PageID: 1}, []listing.Candidate{
		candidate(2, nil),
		candidate(3, str("stale description ignored")),
		candidate(-1, nil),
		candidate(5, nil),
	})

	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	if got[0].SameProperty == nil || !*got[0].SameProperty || got[0].Confidence == nil || *got[0].Confidence != 0.7 {
		t.Fatalf("unexpected verdict %+v", got[0])
	}
	if got[1].Reason != ReasonNoCandidateDescription {
		t.Fatalf("expected stored description to win, got %+v", got[1])
	}
	if !strings.Contains(got[2].Reason, "db down") {
		t.Fatalf("expected lookup failure reason, got %+v", got[2])
	}
	if len(gen.calls) != 1 {
		t.Fatalf("expected a single call, got %d", len(gen.calls))
	}
}
