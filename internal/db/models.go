package db

import "time"

// RawPage maps listings.raw_pages. Rows are written by the crawler.
type RawPage struct {
	RawPageID   int64     `gorm:"column:raw_page_id;primaryKey;autoIncrement"`
	URL         string    `gorm:"column:url;type:text;not null;uniqueIndex"`
	Domain      string    `gorm:"column:domain;type:text;not null;default:''"`
	HTML        string    `gorm:"column:html;type:text;not null;default:''"`
	Text        string    `gorm:"column:text;type:text;not null;default:''"`
	JSONLD      *string   `gorm:"column:jsonld;type:text"`
	FirstSeenAt time.Time `gorm:"column:first_seen_at;type:timestamptz;not null;default:now()"`
	FetchedAt   time.Time `gorm:"column:fetched_at;type:timestamptz;not null;default:now()"`
}

func (RawPage) TableName() string { return "listings.raw_pages" }

// ListingRecord maps listings.listing_records. listing_id equals raw_page_id.
type ListingRecord struct {
	ListingID           int64     `gorm:"column:listing_id;primaryKey;autoIncrement:false"`
	RawPageID           int64     `gorm:"column:raw_page_id;type:bigint;not null;index"`
	Title               *string   `gorm:"column:title;type:text"`
	Description         *string   `gorm:"column:description;type:text"`
	Price               *int64    `gorm:"column:price;type:bigint"`
	Sqm                 *int64    `gorm:"column:sqm;type:bigint"`
	PlotSqm             *int64    `gorm:"column:plot_sqm;type:bigint"`
	Rooms               *int64    `gorm:"column:rooms;type:bigint"`
	Bathrooms           *int64    `gorm:"column:bathrooms;type:bigint"`
	PropertyType        *string   `gorm:"column:property_type;type:text"`
	ListingType         *string   `gorm:"column:listing_type;type:text"`
	Address             *string   `gorm:"column:address;type:text"`
	ReferenceID         *string   `gorm:"column:reference_id;type:text"`
	AgentName           *string   `gorm:"column:agent_name;type:text"`
	AgentPhone          *string   `gorm:"column:agent_phone;type:text"`
	AgentEmail          *string   `gorm:"column:agent_email;type:text"`
	DescriptionLanguage *string   `gorm:"column:description_language;type:text"`
	ExtractionMode      string    `gorm:"column:extraction_mode;type:text;not null;default:strict"`
	CreatedAt           time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt           time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ListingRecord) TableName() string { return "listings.listing_records" }

func autoMigrateModels() []any {
	return []any{
		&RawPage{},
		&ListingRecord{},
	}
}
