package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/oscarsorensen/FirstListing/internal/db"
	"github.com/oscarsorensen/FirstListing/internal/listing"
	"github.com/oscarsorensen/FirstListing/internal/pipeline"
)

type fakeListings struct {
	extractCalls []pipeline.ExtractOptions
	adjudicate   []bool
	duplicates   map[int64]pipeline.Duplicates
	extractErr   error
}

func (f *fakeListings) ProcessPages(_ context.Context, opts pipeline.ExtractOptions) (pipeline.ExtractResult, error) {
	f.extractCalls = append(f.extractCalls, opts)
	if f.extractErr != nil {
		return pipeline.ExtractResult{}, f.extractErr
	}
	return pipeline.ExtractResult{
		RunID:     "run-1",
		Processed: 2,
		Inserted:  1,
		Failed:    1,
		Pages: []pipeline.PageStatus{
			{PageID: 1, Status: pipeline.StatusInserted, Strategy: "direct"},
			{PageID: 2, Status: pipeline.StatusFailed, Err: errors.New("generation transport error: timeout")},
		},
	}, nil
}

func (f *fakeListings) FindDuplicates(_ context.Context, pageID int64, adjudicate bool) (pipeline.Duplicates, error) {
	f.adjudicate = append(f.adjudicate, adjudicate)
	dups, ok := f.duplicates[pageID]
	if !ok {
		return pipeline.Duplicates{}, fmt.Errorf("%w %d", pipeline.ErrNoListingRecord, pageID)
	}
	return dups, nil
}

type fakeRecords map[int64]listing.Record

func (f fakeRecords) GetRecordByPageID(_ context.Context, pageID int64) (listing.Record, error) {
	rec, ok := f[pageID]
	if !ok {
		return listing.Record{}, db.ErrNoRows
	}
	return rec, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func str(s string) *string { return &s }
func num(n int64) *int64   { return &n }

func newTestServer(listings *fakeListings, records fakeRecords, pinger Pinger) http.Handler {
	srv := NewServer(Deps{Listings: listings, Records: records, Database: pinger}, zerolog.Nop(), Options{})
	return srv.Handler()
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, jsendResponse) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec, resp := doRequest(t, newTestServer(&fakeListings{}, nil, fakePinger{}), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || resp.Status != "success" {
		t.Fatalf("unexpected health response: %d %+v", rec.Code, resp)
	}

	rec, resp = doRequest(t, newTestServer(&fakeListings{}, nil, fakePinger{err: errors.New("down")}), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable || resp.Status != "error" {
		t.Fatalf("expected unavailable response, got %d %+v", rec.Code, resp)
	}
}

func TestGetListing(t *testing.T) {
	t.Parallel()

	records := fakeRecords{7: {PageID: 7, Price: num(320000), Title: str("Ático en el centro"), ExtractionMode: listing.ModeStrict}}
	h := newTestServer(&fakeListings{}, records, nil)

	rec, resp := doRequest(t, h, http.MethodGet, "/api/v1/listings/7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	data, _ := resp.Data.(map[string]any)
	if data["price"] != float64(320000) || data["title"] != "Ático en el centro" || data["extraction_mode"] != "strict" {
		t.Fatalf("unexpected listing payload %+v", data)
	}
	if _, ok := data["rooms"]; !ok {
		t.Fatalf("expected null fields to be present")
	}

	rec, resp = doRequest(t, h, http.MethodGet, "/api/v1/listings/8", "")
	if rec.Code != http.StatusNotFound || resp.Message != "Page 8 has no extracted listing record" {
		t.Fatalf("unexpected missing response %d %+v", rec.Code, resp)
	}

	rec, resp = doRequest(t, h, http.MethodGet, "/api/v1/listings/abc", "")
	if rec.Code != http.StatusBadRequest || resp.Status != "fail" {
		t.Fatalf("unexpected validation response %d %+v", rec.Code, resp)
	}
}

func TestGetDuplicates(t *testing.T) {
	t.Parallel()

	same := true
	confidence := 0.8
	listings := &fakeListings{duplicates: map[int64]pipeline.Duplicates{
		1: {
			Base: listing.Record{PageID: 1},
			Candidates: []listing.Candidate{{
				Record:        listing.Record{PageID: 2, URL: "https://b.example/2"},
				MatchScore:    8,
				MatchedFields: []listing.Field{listing.FieldPrice, listing.FieldSqm, listing.FieldRooms},
				Verdict:       &listing.Adjudication{PageID: 2, SameProperty: &same, Confidence: &confidence, Reason: "Same pool."},
			}},
		},
	}}
	h := newTestServer(listings, nil, nil)

	rec, resp := doRequest(t, h, http.MethodGet, "/api/v1/listings/1/duplicates?adjudicate=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if len(listings.adjudicate) != 1 || !listings.adjudicate[0] {
		t.Fatalf("expected adjudication to be requested")
	}
	data, _ := resp.Data.(map[string]any)
	candidates, _ := data["candidates"].([]any)
	if len(candidates) != 1 {
		t.Fatalf("unexpected candidates %+v", data)
	}
	first, _ := candidates[0].(map[string]any)
	if first["match_score"] != float64(8) || first["url"] != "https://b.example/2" {
		t.Fatalf("unexpected candidate %+v", first)
	}
	verdict, _ := first["verdict"].(map[string]any)
	if verdict["same_property"] != true || verdict["confidence"] != 0.8 || verdict["reason"] != "Same pool." {
		t.Fatalf("expected verdict on the candidate, got %+v", first)
	}
	if _, ok := data["adjudications"]; ok {
		t.Fatalf("unexpected separate adjudications list %+v", data)
	}

	rec, resp = doRequest(t, h, http.MethodGet, "/api/v1/listings/5/duplicates", "")
	if rec.Code != http.StatusNotFound || !strings.Contains(resp.Message, "no extracted listing record") {
		t.Fatalf("expected explicit missing-record error, got %d %+v", rec.Code, resp)
	}

	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/listings/1/duplicates?adjudicate=maybe", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for invalid flag, got %d", rec.Code)
	}
}

func TestPostExtract(t *testing.T) {
	t.Parallel()

	listings := &fakeListings{}
	h := newTestServer(listings, nil, nil)

	rec, resp := doRequest(t, h, http.MethodPost, "/api/v1/extract", `{"limit": 5, "force": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if got := listings.extractCalls[0]; got.Limit != 5 || !got.Force || got.PageID != 0 {
		t.Fatalf("unexpected options %+v", got)
	}
	data, _ := resp.Data.(map[string]any)
	pages, _ := data["pages"].([]any)
	if data["run_id"] != "run-1" || len(pages) != 2 {
		t.Fatalf("unexpected extract payload %+v", data)
	}
	failed, _ := pages[1].(map[string]any)
	if failed["status"] != "failed" || !strings.Contains(failed["error"].(string), "timeout") {
		t.Fatalf("unexpected failed page %+v", failed)
	}

	rec, _ = doRequest(t, h, http.MethodPost, "/api/v1/extract", "")
	if rec.Code != http.StatusOK || listings.extractCalls[1].Limit != pipeline.DefaultExtractLimit {
		t.Fatalf("expected empty body to use defaults, got %d", rec.Code)
	}

	rec, resp = doRequest(t, h, http.MethodPost, "/api/v1/extract", `{"limit": 500, "page_id": -1}`)
	if rec.Code != http.StatusBadRequest || resp.Message != "Validation failed" {
		t.Fatalf("unexpected validation response %d %+v", rec.Code, resp)
	}

	rec, _ = doRequest(t, h, http.MethodPost, "/api/v1/extract", `{"pages": 3}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown fields to be rejected, got %d", rec.Code)
	}
}

func TestPostExtractOverrides(t *testing.T) {
	t.Parallel()

	listings := &fakeListings{}
	h := newTestServer(listings, nil, nil)

	rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/extract", `{"mode": "Permissive", "description_stage": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	got := listings.extractCalls[0]
	if got.Mode != listing.ModePermissive || got.DescriptionStage == nil || !*got.DescriptionStage {
		t.Fatalf("unexpected options %+v", got)
	}

	rec, _ = doRequest(t, h, http.MethodPost, "/api/v1/extract", `{"limit": 2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := listings.extractCalls[1]; got.Mode != "" || got.DescriptionStage != nil {
		t.Fatalf("expected configured mode and stage to apply, got %+v", got)
	}

	rec, resp := doRequest(t, h, http.MethodPost, "/api/v1/extract", `{"mode": "lenient"}`)
	if rec.Code != http.StatusBadRequest || resp.Message != "Validation failed" {
		t.Fatalf("unexpected validation response %d %+v", rec.Code, resp)
	}
	if len(listings.extractCalls) != 2 {
		t.Fatalf("invalid mode must not start a batch")
	}
}

func TestPostExtractUnknownPage(t *testing.T) {
	t.Parallel()

	listings := &fakeListings{extractErr: fmt.Errorf("%w: 42", pipeline.ErrPageNotFound)}
	rec, resp := doRequest(t, newTestServer(listings, nil, nil), http.MethodPost, "/api/v1/extract", `{"page_id": 42}`)
	if rec.Code != http.StatusNotFound || resp.Message != "Raw page 42 not found" {
		t.Fatalf("unexpected response %d %+v", rec.Code, resp)
	}
}

func TestUnknownRouteUsesJSend(t *testing.T) {
	t.Parallel()

	rec, resp := doRequest(t, newTestServer(&fakeListings{}, nil, nil), http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusNotFound || resp.Status != "fail" {
		t.Fatalf("unexpected response %d %+v", rec.Code, resp)
	}
}
