package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/oscarsorensen/FirstListing/internal/coerce"
	"github.com/oscarsorensen/FirstListing/internal/db"
	"github.com/oscarsorensen/FirstListing/internal/extract"
	"github.com/oscarsorensen/FirstListing/internal/globaltime"
	"github.com/oscarsorensen/FirstListing/internal/langdetect"
	"github.com/oscarsorensen/FirstListing/internal/listing"
	"github.com/oscarsorensen/FirstListing/internal/match"
	"github.com/oscarsorensen/FirstListing/internal/normalize"
	"github.com/oscarsorensen/FirstListing/internal/provenance"
)

const (
	DefaultExtractLimit = 10
	DefaultConcurrency  = 1
	maxConcurrency      = 16
)

var (
	// ErrNoListingRecord means the base page has not been extracted yet.
	ErrNoListingRecord = errors.New("no listing record for page")
	// ErrPageNotFound means the requested raw page does not exist.
	ErrPageNotFound = errors.New("raw page not found")
)

// Page statuses reported per processed page.
const (
	StatusInserted = "inserted"
	StatusUpdated  = "updated"
	StatusFailed   = "failed"
)

// Store is the persistence the pipeline needs. *db.Pool implements it.
type Store interface {
	PagesForExtraction(ctx context.Context, limit int, force bool) ([]listing.RawPage, error)
	GetRawPage(ctx context.Context, pageID int64) (listing.RawPage, error)
	UpsertListingRecord(ctx context.Context, rec listing.Record) (bool, error)
	GetRecordByPageID(ctx context.Context, pageID int64) (listing.Record, error)
	ListRecordsExcept(ctx context.Context, pageID int64) ([]listing.Record, error)
	GetDescription(ctx context.Context, pageID int64) (*string, error)
}

type Service struct {
	store       Store
	extractor   *extract.Extractor
	scorer      *match.Scorer
	adjudicator *match.Adjudicator
	logger      zerolog.Logger
}

func NewService(store Store, extractor *extract.Extractor, scorer *match.Scorer, adjudicator *match.Adjudicator, logger zerolog.Logger) *Service {
	if scorer == nil {
		scorer = match.NewScorer(match.ScorerOptions{})
	}
	return &Service{
		store:       store,
		extractor:   extractor,
		scorer:      scorer,
		adjudicator: adjudicator,
		logger:      logger,
	}
}

type ExtractOptions struct {
	Limit int
	// PageID selects one page and bypasses the staleness filter.
	PageID      int64
	Force       bool
	Concurrency int
	// Mode and DescriptionStage override the extractor's configuration for
	// this batch when set.
	Mode             listing.Mode
	DescriptionStage *bool
	// Report, when set, receives each page status as it completes.
	Report func(PageStatus)
}

// PageStatus is the outcome of one page in a batch.
type PageStatus struct {
	PageID   int64
	URL      string
	Status   string
	Strategy string
	Rejected []provenance.Rejection
	Err      error
	Duration time.Duration
}

// Line renders the status as a single log line.
func (s PageStatus) Line() string {
	if s.Err != nil {
		return fmt.Sprintf("page_id=%d status=%s reason=%q", s.PageID, s.Status, s.Err.Error())
	}
	line := fmt.Sprintf("page_id=%d status=%s", s.PageID, s.Status)
	if len(s.Rejected) > 0 {
		fields := make([]string, 0, len(s.Rejected))
		for _, r := range s.Rejected {
			fields = append(fields, string(r.Field))
		}
		line += " rejected=" + strings.Join(fields, ",")
	}
	return line
}

type ExtractResult struct {
	RunID     string
	Processed int
	Inserted  int
	Updated   int
	Failed    int
	Pages     []PageStatus
}

// ProcessPages runs normalize, extract, validate, coerce and persist for a
// batch of pages. A page failure is recorded in its status and never stops
// the batch. Cancellation is honoured between pages only.
func (s *Service) ProcessPages(ctx context.Context, opts ExtractOptions) (ExtractResult, error) {
	if s == nil || s.store == nil || s.extractor == nil {
		return ExtractResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	opts = normalizeExtractOptions(opts)
	extractor := s.extractor.With(opts.Mode, opts.DescriptionStage)

	result := ExtractResult{RunID: uuid.NewString()}
	logger := s.logger.With().Str("run_id", result.RunID).Logger()

	pages, err := s.selectPages(ctx, opts)
	if err != nil {
		return result, err
	}
	logger.Info().
		Int("pages", len(pages)).
		Int("limit", opts.Limit).
		Bool("force", opts.Force).
		Str("mode", string(extractor.Mode())).
		Msg("extraction batch started")

	statuses := make([]PageStatus, len(pages))
	started := make([]bool, len(pages))
	var reportMu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(opts.Concurrency)
	for i, page := range pages {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A worker slot may free up after cancellation.
			if ctx.Err() != nil {
				return nil
			}
			started[i] = true
			status := s.processPage(ctx, logger, extractor, page)
			statuses[i] = status
			if opts.Report != nil {
				reportMu.Lock()
				opts.Report(status)
				reportMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, status := range statuses {
		if !started[i] {
			continue
		}
		result.Processed++
		switch status.Status {
		case StatusInserted:
			result.Inserted++
		case StatusUpdated:
			result.Updated++
		default:
			result.Failed++
		}
		result.Pages = append(result.Pages, status)
	}

	logger.Info().
		Int("processed", result.Processed).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Msg("extraction batch finished")

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("extraction batch interrupted after %d pages: %w", result.Processed, err)
	}
	return result, nil
}

func normalizeExtractOptions(opts ExtractOptions) ExtractOptions {
	if opts.Limit <= 0 {
		opts.Limit = DefaultExtractLimit
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Concurrency > maxConcurrency {
		opts.Concurrency = maxConcurrency
	}
	return opts
}

func (s *Service) selectPages(ctx context.Context, opts ExtractOptions) ([]listing.RawPage, error) {
	if opts.PageID > 0 {
		page, err := s.store.GetRawPage(ctx, opts.PageID)
		if err != nil {
			if db.IsNoRows(err) {
				return nil, fmt.Errorf("%w: %d", ErrPageNotFound, opts.PageID)
			}
			return nil, fmt.Errorf("load raw page %d: %w", opts.PageID, err)
		}
		return []listing.RawPage{page}, nil
	}

	pages, err := s.store.PagesForExtraction(ctx, opts.Limit, opts.Force)
	if err != nil {
		return nil, fmt.Errorf("select pages for extraction: %w", err)
	}
	return pages, nil
}

// processPage runs the per-page chain. It detaches from the batch context so
// a page that has started finishes its model calls and its write.
func (s *Service) processPage(ctx context.Context, logger zerolog.Logger, extractor *extract.Extractor, page listing.RawPage) PageStatus {
	ctx = context.WithoutCancel(ctx)
	startedAt := globaltime.UTC()
	status := PageStatus{PageID: page.ID, URL: page.URL}

	finish := func() PageStatus {
		status.Duration = globaltime.UTC().Sub(startedAt)
		event := logger.Info()
		if status.Err != nil {
			event = logger.Warn().Err(status.Err)
		}
		event.
			Int64("page_id", status.PageID).
			Str("url", status.URL).
			Str("status", status.Status).
			Int("rejected", len(status.Rejected)).
			Dur("duration", status.Duration).
			Msg("page processed")
		return status
	}

	bundle := normalize.Build(normalize.Input{
		HTML:   page.HTML,
		Text:   page.Text,
		JSONLD: page.JSONLD,
		URL:    page.URL,
	})

	extracted, err := extractor.Extract(ctx, bundle)
	if err != nil {
		status.Status = StatusFailed
		status.Err = err
		return finish()
	}
	status.Strategy = extracted.Strategy
	if extracted.DescriptionErr != nil {
		logger.Warn().Err(extracted.DescriptionErr).Int64("page_id", page.ID).Msg("description stage failed")
	}

	mode := extractor.Mode()
	fields, rejected := provenance.Validate(extracted.Fields, page.HTML, mode, extracted.Unchecked...)
	status.Rejected = rejected
	for _, r := range rejected {
		logger.Debug().
			Int64("page_id", page.ID).
			Str("field", string(r.Field)).
			Str("reason", r.Reason).
			Msg("field rejected")
	}

	record := coerce.Record(page.ID, fields, mode)
	record.DescriptionLanguage = langdetect.DescriptionLanguage(record.Description)

	inserted, err := s.store.UpsertListingRecord(ctx, record)
	if err != nil {
		status.Status = StatusFailed
		status.Err = fmt.Errorf("store listing record: %w", err)
		return finish()
	}
	status.Status = StatusUpdated
	if inserted {
		status.Status = StatusInserted
	}
	return finish()
}

// Duplicates is the result of a duplicate lookup for one base page.
type Duplicates struct {
	Base       listing.Record
	Candidates []listing.Candidate
}

// FindDuplicates scores every other record against the base page's record
// and, when asked, adjudicates the leading candidates, attaching each verdict
// to its candidate. It returns
// ErrNoListingRecord when the base page has no record yet.
func (s *Service) FindDuplicates(ctx context.Context, pageID int64, adjudicate bool) (Duplicates, error) {
	if s == nil || s.store == nil {
		return Duplicates{}, fmt.Errorf("pipeline service is not initialized")
	}

	base, err := s.store.GetRecordByPageID(ctx, pageID)
	if err != nil {
		if db.IsNoRows(err) {
			return Duplicates{}, fmt.Errorf("%w %d", ErrNoListingRecord, pageID)
		}
		return Duplicates{}, fmt.Errorf("load base record %d: %w", pageID, err)
	}

	records, err := s.store.ListRecordsExcept(ctx, pageID)
	if err != nil {
		return Duplicates{}, fmt.Errorf("load comparison records: %w", err)
	}

	out := Duplicates{
		Base:       base,
		Candidates: s.scorer.Rank(base, records),
	}
	adjudicated := 0
	if adjudicate {
		if s.adjudicator == nil {
			return out, fmt.Errorf("adjudication requested but no adjudicator is configured")
		}
		adjudicated = attachVerdicts(out.Candidates, s.adjudicator.Adjudicate(ctx, base, out.Candidates))
	}

	s.logger.Info().
		Int64("page_id", pageID).
		Int("compared", len(records)).
		Int("candidates", len(out.Candidates)).
		Int("adjudicated", adjudicated).
		Msg("duplicate lookup completed")
	return out, nil
}

func attachVerdicts(candidates []listing.Candidate, verdicts []listing.Adjudication) int {
	byPage := make(map[int64]listing.Adjudication, len(verdicts))
	for _, v := range verdicts {
		byPage[v.PageID] = v
	}
	attached := 0
	for i := range candidates {
		v, ok := byPage[candidates[i].Record.PageID]
		if !ok {
			continue
		}
		candidates[i].Verdict = &v
		attached++
	}
	return attached
}
