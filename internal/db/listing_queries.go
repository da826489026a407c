package db

import (
	"context"
	"fmt"

	"github.com/oscarsorensen/FirstListing/internal/listing"
)

const recordColumns = `
	lr.listing_id,
	lr.title,
	lr.description,
	lr.price,
	lr.sqm,
	lr.plot_sqm,
	lr.rooms,
	lr.bathrooms,
	lr.property_type,
	lr.listing_type,
	lr.address,
	lr.reference_id,
	lr.agent_name,
	lr.agent_phone,
	lr.agent_email,
	lr.description_language,
	lr.extraction_mode,
	lr.created_at,
	lr.updated_at,
	rp.url,
	rp.domain,
	rp.fetched_at`

// UpsertListingRecord writes the record for its page, replacing every field
// of an existing row. Stray rows bound to the same page under another id are
// removed first. It reports whether a new row was inserted.
func (p *Pool) UpsertListingRecord(ctx context.Context, rec listing.Record) (bool, error) {
	if rec.PageID <= 0 {
		return false, fmt.Errorf("record page id must be > 0")
	}
	mode := rec.ExtractionMode
	if mode == "" {
		mode = listing.ModeStrict
	}

	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return false, wrapStorage("begin upsert transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	const deleteStray = `
DELETE FROM listings.listing_records
WHERE raw_page_id = $1
  AND listing_id <> $1
`
	if _, err := tx.Exec(ctx, deleteStray, rec.PageID); err != nil {
		return false, wrapStorage("delete stray listing records", err)
	}

	const upsert = `
INSERT INTO listings.listing_records (
	listing_id,
	raw_page_id,
	title,
	description,
	price,
	sqm,
	plot_sqm,
	rooms,
	bathrooms,
	property_type,
	listing_type,
	address,
	reference_id,
	agent_name,
	agent_phone,
	agent_email,
	description_language,
	extraction_mode,
	created_at,
	updated_at
)
VALUES ($1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())
ON CONFLICT (listing_id)
DO UPDATE SET
	raw_page_id = EXCLUDED.raw_page_id,
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	price = EXCLUDED.price,
	sqm = EXCLUDED.sqm,
	plot_sqm = EXCLUDED.plot_sqm,
	rooms = EXCLUDED.rooms,
	bathrooms = EXCLUDED.bathrooms,
	property_type = EXCLUDED.property_type,
	listing_type = EXCLUDED.listing_type,
	address = EXCLUDED.address,
	reference_id = EXCLUDED.reference_id,
	agent_name = EXCLUDED.agent_name,
	agent_phone = EXCLUDED.agent_phone,
	agent_email = EXCLUDED.agent_email,
	description_language = EXCLUDED.description_language,
	extraction_mode = EXCLUDED.extraction_mode,
	updated_at = now()
RETURNING (xmax = 0) AS inserted
`

	var inserted bool
	if err := tx.QueryRow(
		ctx,
		upsert,
		rec.PageID,
		rec.Title,
		rec.Description,
		rec.Price,
		rec.Sqm,
		rec.PlotSqm,
		rec.Rooms,
		rec.Bathrooms,
		rec.PropertyType,
		rec.ListingType,
		rec.Address,
		rec.ReferenceID,
		rec.AgentName,
		rec.AgentPhone,
		rec.AgentEmail,
		rec.DescriptionLanguage,
		string(mode),
	).Scan(&inserted); err != nil {
		return false, wrapStorage("upsert listing record", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, wrapStorage("commit listing record", err)
	}
	committed = true
	return inserted, nil
}

// GetRecordByPageID loads the record of one page. Missing records return ErrNoRows.
func (p *Pool) GetRecordByPageID(ctx context.Context, pageID int64) (listing.Record, error) {
	const q = `
SELECT` + recordColumns + `
FROM listings.listing_records lr
JOIN listings.raw_pages rp
	ON rp.raw_page_id = lr.raw_page_id
WHERE lr.listing_id = $1
`

	rec, err := scanRecord(p.QueryRow(ctx, q, pageID))
	if err != nil {
		if IsNoRows(err) {
			return listing.Record{}, ErrNoRows
		}
		return listing.Record{}, fmt.Errorf("query listing record %d: %w", pageID, err)
	}
	return rec, nil
}

// ListRecordsExcept returns every stored record other than the given page's.
func (p *Pool) ListRecordsExcept(ctx context.Context, pageID int64) ([]listing.Record, error) {
	const q = `
SELECT` + recordColumns + `
FROM listings.listing_records lr
JOIN listings.raw_pages rp
	ON rp.raw_page_id = lr.raw_page_id
WHERE lr.listing_id <> $1
ORDER BY rp.fetched_at DESC, lr.listing_id ASC
`

	rows, err := p.Query(ctx, q, pageID)
	if err != nil {
		return nil, fmt.Errorf("query listing records: %w", err)
	}
	defer rows.Close()

	var out []listing.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listing records: %w", err)
	}
	return out, nil
}

// GetDescription returns the stored description of a page, nil when unset.
func (p *Pool) GetDescription(ctx context.Context, pageID int64) (*string, error) {
	const q = `
SELECT description
FROM listings.listing_records
WHERE listing_id = $1
`

	var description *string
	if err := p.QueryRow(ctx, q, pageID).Scan(&description); err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query description %d: %w", pageID, err)
	}
	return description, nil
}

func scanRecord(row scanner) (listing.Record, error) {
	var (
		rec  listing.Record
		mode string
	)
	err := row.Scan(
		&rec.PageID,
		&rec.Title,
		&rec.Description,
		&rec.Price,
		&rec.Sqm,
		&rec.PlotSqm,
		&rec.Rooms,
		&rec.Bathrooms,
		&rec.PropertyType,
		&rec.ListingType,
		&rec.Address,
		&rec.ReferenceID,
		&rec.AgentName,
		&rec.AgentPhone,
		&rec.AgentEmail,
		&rec.DescriptionLanguage,
		&mode,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.URL,
		&rec.Domain,
		&rec.SeenAt,
	)
	rec.ExtractionMode = listing.Mode(mode)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.SeenAt = rec.SeenAt.UTC()
	return rec, err
}
