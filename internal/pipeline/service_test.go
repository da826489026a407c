package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/oscarsorensen/FirstListing/internal/db"
	"github.com/oscarsorensen/FirstListing/internal/extract"
	"github.com/oscarsorensen/FirstListing/internal/listing"
	"github.com/oscarsorensen/FirstListing/internal/llm"
	"github.com/oscarsorensen/FirstListing/internal/match"
)

type fakeStore struct {
	mu        sync.Mutex
	pages     map[int64]listing.RawPage
	records   map[int64]listing.Record
	failWrite map[int64]bool
	upserts   int
}

func newFakeStore(pages ...listing.RawPage) *fakeStore {
	s := &fakeStore{
		pages:     map[int64]listing.RawPage{},
		records:   map[int64]listing.Record{},
		failWrite: map[int64]bool{},
	}
	for _, p := range pages {
		s.pages[p.ID] = p
	}
	return s
}

func (s *fakeStore) PagesForExtraction(_ context.Context, limit int, force bool) ([]listing.RawPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []listing.RawPage
	for id := int64(1); id <= int64(len(s.pages)) && len(out) < limit; id++ {
		page, ok := s.pages[id]
		if !ok {
			continue
		}
		if _, done := s.records[id]; done && !force {
			continue
		}
		out = append(out, page)
	}
	return out, nil
}

func (s *fakeStore) GetRawPage(_ context.Context, pageID int64) (listing.RawPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	if !ok {
		return listing.RawPage{}, db.ErrNoRows
	}
	return page, nil
}

func (s *fakeStore) UpsertListingRecord(_ context.Context, rec listing.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failWrite[rec.PageID] {
		return false, fmt.Errorf("%w: unique violation", db.ErrStorage)
	}
	_, exists := s.records[rec.PageID]
	s.records[rec.PageID] = rec
	return !exists, nil
}

func (s *fakeStore) GetRecordByPageID(_ context.Context, pageID int64) (listing.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[pageID]
	if !ok {
		return listing.Record{}, db.ErrNoRows
	}
	return rec, nil
}

func (s *fakeStore) ListRecordsExcept(_ context.Context, pageID int64) ([]listing.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []listing.Record
	for id, rec := range s.records {
		if id != pageID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeStore) GetDescription(_ context.Context, pageID int64) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[pageID].Description, nil
}

type stubGenerator struct {
	mu      sync.Mutex
	calls   int
	respond func(req llm.Request) (string, error)
}

func (s *stubGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.respond(req)
}

const villaHTML = `<html><head><title>Villa Sol</title></head><body>
<h1>Villa Sol</h1>
<p>Precio: 450.000 €</p>
<p>Superficie 180 m²</p>
<p>Ref: VS-101</p>
</body></html>`

const villaResponse = `{
  "title": "Villa Sol", "title_source": "Villa Sol",
  "price": 450000, "price_source": "Precio: 450.000 €",
  "sqm": "180 m²", "sqm_source": "Superficie 180 m²",
  "reference_id": "VS-101", "reference_id_source": "Ref: VS-101",
  "rooms": 4, "rooms_source": "4 dormitorios"
}`

func villaPage(id int64, title string) listing.RawPage {
	return listing.RawPage{
		ID:   id,
		URL:  fmt.Sprintf("https://agency.example/listing/%d", id),
		HTML: strings.ReplaceAll(villaHTML, "Villa Sol", title),
	}
}

func newTestService(store Store, gen llm.Generator) *Service {
	extractor := extract.New(gen, extract.Options{Mode: listing.ModeStrict})
	return NewService(store, extractor, nil, nil, zerolog.Nop())
}

func TestProcessPagesIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newFakeStore(villaPage(1, "Villa Sol"))
	gen := &stubGenerator{respond: func(llm.Request) (string, error) { return villaResponse, nil }}
	svc := newTestService(store, gen)

	first, err := svc.ProcessPages(context.Background(), ExtractOptions{PageID: 1})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := svc.ProcessPages(context.Background(), ExtractOptions{PageID: 1})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if first.Inserted != 1 || second.Updated != 1 || second.Inserted != 0 {
		t.Fatalf("unexpected counters: first=%+v second=%+v", first, second)
	}
	if first.RunID == "" || first.RunID == second.RunID {
		t.Fatalf("expected distinct run ids, got %q and %q", first.RunID, second.RunID)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(store.records))
	}

	rec := store.records[1]
	if rec.Price == nil || *rec.Price != 450000 {
		t.Fatalf("unexpected price %v", rec.Price)
	}
	if rec.Sqm == nil || *rec.Sqm != 180 {
		t.Fatalf("unexpected sqm %v", rec.Sqm)
	}
	if rec.ReferenceID == nil || *rec.ReferenceID != "VS-101" {
		t.Fatalf("unexpected reference %v", rec.ReferenceID)
	}
	if rec.Rooms != nil {
		t.Fatalf("expected untraceable rooms to be dropped, got %d", *rec.Rooms)
	}
	if rec.ExtractionMode != listing.ModeStrict {
		t.Fatalf("unexpected mode %q", rec.ExtractionMode)
	}

	status := first.Pages[0]
	if len(status.Rejected) != 1 || status.Rejected[0].Field != listing.FieldRooms {
		t.Fatalf("expected rooms rejection, got %+v", status.Rejected)
	}
	if line := status.Line(); line != "page_id=1 status=inserted rejected=rooms" {
		t.Fatalf("unexpected status line %q", line)
	}
}

func TestProcessPagesIsolatesFailures(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		villaPage(1, "Villa Sol"),
		villaPage(2, "Villa Broken"),
		villaPage(3, "Villa Luna"),
	)
	store.failWrite[3] = true
	gen := &stubGenerator{respond: func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "Villa Broken") {
			return "", fmt.Errorf("%w: connection refused", llm.ErrTransport)
		}
		return villaResponse, nil
	}}
	svc := newTestService(store, gen)

	var reported []PageStatus
	result, err := svc.ProcessPages(context.Background(), ExtractOptions{
		Limit:       10,
		Concurrency: 2,
		Report:      func(s PageStatus) { reported = append(reported, s) },
	})
	if err != nil {
		t.Fatalf("batch should not fail: %v", err)
	}
	if result.Processed != 3 || result.Inserted != 1 || result.Failed != 2 {
		t.Fatalf("unexpected counters %+v", result)
	}
	if len(reported) != 3 {
		t.Fatalf("expected 3 reported statuses, got %d", len(reported))
	}

	byPage := map[int64]PageStatus{}
	for _, s := range result.Pages {
		byPage[s.PageID] = s
	}
	if !errors.Is(byPage[2].Err, llm.ErrTransport) {
		t.Fatalf("expected transport error for page 2, got %v", byPage[2].Err)
	}
	if !errors.Is(byPage[3].Err, db.ErrStorage) {
		t.Fatalf("expected storage error for page 3, got %v", byPage[3].Err)
	}
	if !strings.HasPrefix(byPage[2].Line(), "page_id=2 status=failed reason=") {
		t.Fatalf("unexpected failure line %q", byPage[2].Line())
	}
	if _, ok := store.records[1]; !ok {
		t.Fatalf("expected page 1 to be stored")
	}
}

func TestProcessPagesStopsBetweenPages(t *testing.T) {
	t.Parallel()

	store := newFakeStore(villaPage(1, "A"), villaPage(2, "B"), villaPage(3, "C"))
	gen := &stubGenerator{respond: func(llm.Request) (string, error) { return villaResponse, nil }}
	svc := newTestService(store, gen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := svc.ProcessPages(ctx, ExtractOptions{
		Limit:  3,
		Report: func(PageStatus) { cancel() },
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if result.Processed != 1 || store.upserts != 1 {
		t.Fatalf("expected one finished page, got processed=%d upserts=%d", result.Processed, store.upserts)
	}
}

func TestProcessPagesUnknownPage(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore(), &stubGenerator{respond: func(llm.Request) (string, error) {
		return "", errors.New("unexpected call")
	}})
	if _, err := svc.ProcessPages(context.Background(), ExtractOptions{PageID: 99}); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
}

func TestProcessPagesKeepsStageDescriptionInStrictMode(t *testing.T) {
	t.Parallel()

	page := listing.RawPage{
		ID:  1,
		URL: "https://agency.example/listing/1",
		HTML: `<html><body>
<div class="description">Villa luminosa con piscina y jardín privado.</div>
<div class="price">450.000 €</div>
<div class="features">Garaje para dos coches y trastero.</div>
</body></html>`,
	}
	description := "Villa luminosa con piscina y jardín privado.\n\nGaraje para dos coches y trastero."
	gen := &stubGenerator{respond: func(req llm.Request) (string, error) {
		if req.JSON {
			return `{"price": 450000, "price_source": "450.000 €"}`, nil
		}
		return description, nil
	}}
	stage := true
	store := newFakeStore(page)
	svc := newTestService(store, gen)

	result, err := svc.ProcessPages(context.Background(), ExtractOptions{PageID: 1, DescriptionStage: &stage})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("expected the description stage to run, got %d calls", gen.calls)
	}
	if len(result.Pages[0].Rejected) != 0 {
		t.Fatalf("unexpected rejections %+v", result.Pages[0].Rejected)
	}
	rec := store.records[1]
	if rec.Description == nil || *rec.Description != description {
		t.Fatalf("expected joined description to survive strict mode, got %v", rec.Description)
	}
	if rec.Price == nil || *rec.Price != 450000 {
		t.Fatalf("unexpected price %v", rec.Price)
	}
}

func TestProcessPagesModeOverride(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{respond: func(llm.Request) (string, error) {
		return `{"title": "Villa Sol", "title_source": "Villa Sol", "agent_name": "Costa Homes"}`, nil
	}}
	store := newFakeStore(villaPage(1, "Villa Sol"))
	svc := newTestService(store, gen)

	strict, err := svc.ProcessPages(context.Background(), ExtractOptions{PageID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.records[1].AgentName != nil || len(strict.Pages[0].Rejected) != 1 {
		t.Fatalf("expected configured strict mode to reject the agent, got %+v", strict.Pages[0].Rejected)
	}

	permissive, err := svc.ProcessPages(context.Background(), ExtractOptions{PageID: 1, Mode: listing.ModePermissive})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := store.records[1]
	if rec.AgentName == nil || *rec.AgentName != "Costa Homes" || len(permissive.Pages[0].Rejected) != 0 {
		t.Fatalf("expected permissive override to keep the agent, got %v %+v", rec.AgentName, permissive.Pages[0].Rejected)
	}
	if rec.ExtractionMode != listing.ModePermissive {
		t.Fatalf("unexpected mode %q", rec.ExtractionMode)
	}
}

func TestFindDuplicatesWithoutRecord(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore(villaPage(1, "Villa Sol")), &stubGenerator{})
	_, err := svc.FindDuplicates(context.Background(), 1, false)
	if !errors.Is(err, ErrNoListingRecord) {
		t.Fatalf("expected ErrNoListingRecord, got %v", err)
	}
}

func str(s string) *string { return &s }
func num(n int64) *int64   { return &n }

func TestFindDuplicatesScoresAndAdjudicates(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.records[1] = listing.Record{PageID: 1, Price: num(450000), Sqm: num(180), Description: str("Villa con piscina")}
	store.records[2] = listing.Record{PageID: 2, Price: num(450000), Sqm: num(180), Rooms: num(4), SeenAt: now, Description: str("Villa with pool")}
	store.records[3] = listing.Record{PageID: 3, Price: num(99000), SeenAt: now}

	gen := &stubGenerator{respond: func(llm.Request) (string, error) {
		return `{"same_property": true, "confidence": 0.85, "reason": "Same price and pool."}`, nil
	}}
	adjudicator := match.NewAdjudicator(gen, store, match.AdjudicatorOptions{}, zerolog.Nop())
	svc := NewService(store, extract.New(gen, extract.Options{}), match.NewScorer(match.ScorerOptions{}), adjudicator, zerolog.Nop())

	plain, err := svc.FindDuplicates(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plain.Candidates) != 1 || plain.Candidates[0].Record.PageID != 2 || plain.Candidates[0].MatchScore != 6 {
		t.Fatalf("unexpected candidates %+v", plain.Candidates)
	}
	if plain.Candidates[0].Verdict != nil || gen.calls != 0 {
		t.Fatalf("expected no adjudication without the flag")
	}

	judged, err := svc.FindDuplicates(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	verdict := judged.Candidates[0].Verdict
	if verdict == nil || verdict.PageID != 2 || verdict.SameProperty == nil || !*verdict.SameProperty {
		t.Fatalf("expected verdict attached to candidate, got %+v", judged.Candidates[0])
	}
}

func TestFindDuplicatesAdjudicateWithoutAdjudicator(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.records[1] = listing.Record{PageID: 1}
	svc := newTestService(store, &stubGenerator{})
	if _, err := svc.FindDuplicates(context.Background(), 1, true); err == nil {
		t.Fatalf("expected error when adjudication is not configured")
	}
}
