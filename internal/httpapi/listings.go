package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/oscarsorensen/FirstListing/internal/db"
	"github.com/oscarsorensen/FirstListing/internal/globaltime"
	"github.com/oscarsorensen/FirstListing/internal/listing"
	"github.com/oscarsorensen/FirstListing/internal/pipeline"
	"github.com/oscarsorensen/FirstListing/internal/provenance"
)

const (
	maxExtractLimit    = 50
	healthCheckTimeout = 3 * time.Second
)

type listingItem struct {
	PageID              int64     `json:"page_id"`
	URL                 string    `json:"url,omitempty"`
	Domain              string    `json:"domain,omitempty"`
	Title               *string   `json:"title"`
	Description         *string   `json:"description"`
	Price               *int64    `json:"price"`
	Sqm                 *int64    `json:"sqm"`
	PlotSqm             *int64    `json:"plot_sqm"`
	Rooms               *int64    `json:"rooms"`
	Bathrooms           *int64    `json:"bathrooms"`
	PropertyType        *string   `json:"property_type"`
	ListingType         *string   `json:"listing_type"`
	Address             *string   `json:"address"`
	ReferenceID         *string   `json:"reference_id"`
	AgentName           *string   `json:"agent_name"`
	AgentPhone          *string   `json:"agent_phone"`
	AgentEmail          *string   `json:"agent_email"`
	DescriptionLanguage *string   `json:"description_language"`
	ExtractionMode      string    `json:"extraction_mode"`
	SeenAt              time.Time `json:"seen_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type verdictItem struct {
	SameProperty *bool    `json:"same_property"`
	Confidence   *float64 `json:"confidence"`
	Reason       string   `json:"reason"`
}

type candidateItem struct {
	PageID        int64           `json:"page_id"`
	URL           string          `json:"url,omitempty"`
	MatchScore    int             `json:"match_score"`
	MatchedFields []listing.Field `json:"matched_fields"`
	Verdict       *verdictItem    `json:"verdict,omitempty"`
	Listing       listingItem     `json:"listing"`
}

type duplicatesResponse struct {
	Base       listingItem     `json:"base"`
	Candidates []candidateItem `json:"candidates"`
}

type extractRequest struct {
	PageID *int64  `json:"page_id"`
	Limit  *int    `json:"limit"`
	Force  bool    `json:"force"`
	Mode   *string `json:"mode"`
	// DescriptionStage overrides the configured description stage when set.
	DescriptionStage *bool `json:"description_stage"`
}

type pageStatusItem struct {
	PageID   int64                  `json:"page_id"`
	URL      string                 `json:"url,omitempty"`
	Status   string                 `json:"status"`
	Strategy string                 `json:"strategy,omitempty"`
	Rejected []provenance.Rejection `json:"rejected,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

type extractResponse struct {
	RunID     string           `json:"run_id"`
	Processed int              `json:"processed"`
	Inserted  int              `json:"inserted"`
	Updated   int              `json:"updated"`
	Failed    int              `json:"failed"`
	Pages     []pageStatusItem `json:"pages"`
}

func (s *Server) handleHealth(c echo.Context) error {
	data := map[string]any{
		"service": "firstlisting",
		"time":    globaltime.UTC(),
	}
	if s.deps.Database != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
		defer cancel()
		if err := s.deps.Database.Ping(ctx); err != nil {
			s.logger.Error().Err(err).Msg("database ping failed")
			return errorWithStatus(c, http.StatusServiceUnavailable, "Database unavailable")
		}
		data["database"] = "ok"
	}
	return success(c, data)
}

func (s *Server) handleListing(c echo.Context) error {
	pageID, err := parsePageID(c.Param("page_id"))
	if err != nil {
		return failValidation(c, map[string]string{"page_id": err.Error()})
	}

	rec, err := s.deps.Records.GetRecordByPageID(c.Request().Context(), pageID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, noRecordMessage(pageID))
		}
		s.logger.Error().Err(err).Int64("page_id", pageID).Msg("load listing record failed")
		return internalError(c, "Failed to load listing")
	}
	return success(c, toListingItem(rec))
}

func (s *Server) handleDuplicates(c echo.Context) error {
	pageID, err := parsePageID(c.Param("page_id"))
	if err != nil {
		return failValidation(c, map[string]string{"page_id": err.Error()})
	}
	adjudicate, err := parseBool(c.QueryParam("adjudicate"))
	if err != nil {
		return failValidation(c, map[string]string{"adjudicate": err.Error()})
	}

	dups, err := s.deps.Listings.FindDuplicates(c.Request().Context(), pageID, adjudicate)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoListingRecord) {
			return failNotFound(c, noRecordMessage(pageID))
		}
		s.logger.Error().Err(err).Int64("page_id", pageID).Msg("duplicate lookup failed")
		return internalError(c, "Failed to find duplicates")
	}

	resp := duplicatesResponse{
		Base:       toListingItem(dups.Base),
		Candidates: make([]candidateItem, 0, len(dups.Candidates)),
	}
	for _, cand := range dups.Candidates {
		item := candidateItem{
			PageID:        cand.Record.PageID,
			URL:           cand.Record.URL,
			MatchScore:    cand.MatchScore,
			MatchedFields: cand.MatchedFields,
			Listing:       toListingItem(cand.Record),
		}
		if v := cand.Verdict; v != nil {
			item.Verdict = &verdictItem{SameProperty: v.SameProperty, Confidence: v.Confidence, Reason: v.Reason}
		}
		resp.Candidates = append(resp.Candidates, item)
	}
	return success(c, resp)
}

func (s *Server) handleExtract(c echo.Context) error {
	var req extractRequest
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return fail(c, http.StatusBadRequest, "Invalid JSON body", nil)
	}

	fieldErrors := map[string]string{}
	opts := pipeline.ExtractOptions{
		Force:            req.Force,
		Limit:            pipeline.DefaultExtractLimit,
		DescriptionStage: req.DescriptionStage,
	}
	if req.PageID != nil {
		if *req.PageID <= 0 {
			fieldErrors["page_id"] = "must be a positive integer"
		}
		opts.PageID = *req.PageID
	}
	if req.Limit != nil {
		if *req.Limit < 1 || *req.Limit > maxExtractLimit {
			fieldErrors["limit"] = fmt.Sprintf("must be between 1 and %d", maxExtractLimit)
		}
		opts.Limit = *req.Limit
	}
	if req.Mode != nil {
		mode, err := listing.ParseMode(*req.Mode)
		if err != nil {
			fieldErrors["mode"] = "must be strict or permissive"
		}
		opts.Mode = mode
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	result, err := s.deps.Listings.ProcessPages(c.Request().Context(), opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, pipeline.ErrPageNotFound) {
			return failNotFound(c, fmt.Sprintf("Raw page %d not found", opts.PageID))
		}
		s.logger.Error().Err(err).Msg("extraction request failed")
		return internalError(c, "Extraction failed")
	}

	resp := extractResponse{
		RunID:     result.RunID,
		Processed: result.Processed,
		Inserted:  result.Inserted,
		Updated:   result.Updated,
		Failed:    result.Failed,
		Pages:     make([]pageStatusItem, 0, len(result.Pages)),
	}
	for _, page := range result.Pages {
		item := pageStatusItem{
			PageID:   page.PageID,
			URL:      page.URL,
			Status:   page.Status,
			Strategy: page.Strategy,
			Rejected: page.Rejected,
		}
		if page.Err != nil {
			item.Error = page.Err.Error()
		}
		resp.Pages = append(resp.Pages, item)
	}
	return success(c, resp)
}

func noRecordMessage(pageID int64) string {
	return fmt.Sprintf("Page %d has no extracted listing record", pageID)
}

func toListingItem(rec listing.Record) listingItem {
	return listingItem{
		PageID:              rec.PageID,
		URL:                 rec.URL,
		Domain:              rec.Domain,
		Title:               rec.Title,
		Description:         rec.Description,
		Price:               rec.Price,
		Sqm:                 rec.Sqm,
		PlotSqm:             rec.PlotSqm,
		Rooms:               rec.Rooms,
		Bathrooms:           rec.Bathrooms,
		PropertyType:        rec.PropertyType,
		ListingType:         rec.ListingType,
		Address:             rec.Address,
		ReferenceID:         rec.ReferenceID,
		AgentName:           rec.AgentName,
		AgentPhone:          rec.AgentPhone,
		AgentEmail:          rec.AgentEmail,
		DescriptionLanguage: rec.DescriptionLanguage,
		ExtractionMode:      string(rec.ExtractionMode),
		SeenAt:              rec.SeenAt,
		UpdatedAt:           rec.UpdatedAt,
	}
}

func parsePageID(raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return value, nil
}

func parseBool(raw string) (bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(trimmed)
	if err != nil {
		return false, fmt.Errorf("must be true or false")
	}
	return value, nil
}
