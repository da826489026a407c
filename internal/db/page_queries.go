package db

import (
	"context"
	"fmt"

	"github.com/oscarsorensen/FirstListing/internal/listing"
)

const rawPageColumns = `
	rp.raw_page_id,
	rp.url,
	rp.domain,
	rp.html,
	rp.text,
	rp.jsonld,
	rp.first_seen_at,
	rp.fetched_at`

// PagesForExtraction returns pages without a listing record or re-fetched
// since their record was last written, newest fetch first. force ignores the
// staleness filter.
func (p *Pool) PagesForExtraction(ctx context.Context, limit int, force bool) ([]listing.RawPage, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT` + rawPageColumns + `
FROM listings.raw_pages rp
LEFT JOIN listings.listing_records lr
	ON lr.listing_id = rp.raw_page_id
WHERE $1::boolean
   OR lr.listing_id IS NULL
   OR rp.fetched_at > lr.updated_at
ORDER BY rp.fetched_at DESC, rp.raw_page_id DESC
LIMIT $2
`

	rows, err := p.Query(ctx, q, force, limit)
	if err != nil {
		return nil, fmt.Errorf("query pages for extraction: %w", err)
	}
	defer rows.Close()

	pages := make([]listing.RawPage, 0, limit)
	for rows.Next() {
		page, err := scanRawPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan raw page: %w", err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw pages: %w", err)
	}
	return pages, nil
}

// GetRawPage loads one page by id. Missing pages return ErrNoRows.
func (p *Pool) GetRawPage(ctx context.Context, pageID int64) (listing.RawPage, error) {
	const q = `
SELECT` + rawPageColumns + `
FROM listings.raw_pages rp
WHERE rp.raw_page_id = $1
`

	page, err := scanRawPage(p.QueryRow(ctx, q, pageID))
	if err != nil {
		if IsNoRows(err) {
			return listing.RawPage{}, ErrNoRows
		}
		return listing.RawPage{}, fmt.Errorf("query raw page %d: %w", pageID, err)
	}
	return page, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRawPage(row scanner) (listing.RawPage, error) {
	var page listing.RawPage
	err := row.Scan(
		&page.ID,
		&page.URL,
		&page.Domain,
		&page.HTML,
		&page.Text,
		&page.JSONLD,
		&page.FirstSeenAt,
		&page.FetchedAt,
	)
	page.FirstSeenAt = page.FirstSeenAt.UTC()
	page.FetchedAt = page.FetchedAt.UTC()
	return page, err
}
