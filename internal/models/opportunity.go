package models

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// Opportunity represents a grant opportunity synced from the grants.gov extract.
type Opportunity struct {
	bun.BaseModel `bun:"table:grant_opportunities,alias:o"`

	ID                    int64      `bun:"id,pk,autoincrement" json:"id"`
	OpportunityID         string     `bun:"opportunity_id,unique,notnull" json:"opportunity_id"`
	OpportunityNumber     *string    `bun:"opportunity_number" json:"opportunity_number,omitempty"`
	Title                 string     `bun:"title,notnull" json:"title"`
	AgencyCode            *string    `bun:"agency_code" json:"agency_code,omitempty"`
	AgencyName            *string    `bun:"agency_name" json:"agency_name,omitempty"`
	Category              *string    `bun:"category" json:"category,omitempty"`
	FundingInstrumentType *string    `bun:"funding_instrument_type" json:"funding_instrument_type,omitempty"`
	Description           *string    `bun:"description" json:"description,omitempty"`
	CFDANumbers           *string    `bun:"cfda_numbers" json:"cfda_numbers,omitempty"`
	AwardCeiling          *int64     `bun:"award_ceiling" json:"award_ceiling,omitempty"`
	AwardFloor            *int64     `bun:"award_floor" json:"award_floor,omitempty"`
	EstimatedTotalFunding *int64     `bun:"estimated_total_funding" json:"estimated_total_funding,omitempty"`
	ExpectedAwards        *int64     `bun:"expected_awards" json:"expected_awards,omitempty"`
	PostDate              *time.Time `bun:"post_date" json:"post_date,omitempty"`
	CloseDate             *time.Time `bun:"close_date" json:"close_date,omitempty"`
	EligibleApplicants    *string    `bun:"eligible_applicants" json:"eligible_applicants,omitempty"`
	EligibilityText       *string    `bun:"eligibility_text" json:"eligibility_text,omitempty"`
	AdditionalInfoURL     *string    `bun:"additional_info_url" json:"additional_info_url,omitempty"`
	GrantorContactEmail   *string    `bun:"grantor_contact_email" json:"grantor_contact_email,omitempty"`
	LastSyncedAt          time.Time  `bun:"last_synced_at,nullzero,notnull,default:current_timestamp" json:"last_synced_at"`
	CreatedAt             time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt             time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

var _ bun.BeforeAppendModelHook = (*Opportunity)(nil)

// BeforeAppendModel keeps the bookkeeping timestamps current.
func (o *Opportunity) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now()
	switch query.(type) {
	case *bun.InsertQuery:
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		o.UpdatedAt = now
		if o.LastSyncedAt.IsZero() {
			o.LastSyncedAt = now
		}
	case *bun.UpdateQuery:
		o.UpdatedAt = now
	}
	return nil
}

// Validate checks that the fields required for an upsert are present.
func (o *Opportunity) Validate() error {
	if o.OpportunityID == "" {
		return errors.New("opportunity id is required")
	}
	if o.Title == "" {
		return errors.New("title is required")
	}
	return nil
}

// HasDeadline reports whether the opportunity carries a close date.
func (o *Opportunity) HasDeadline() bool {
	return o.CloseDate != nil
}

// IsActiveAt reports whether the opportunity is still open at cutoff.
// A missing close date means there is no deadline.
func (o *Opportunity) IsActiveAt(cutoff time.Time) bool {
	if o.CloseDate == nil {
		return true
	}
	return !o.CloseDate.Before(cutoff)
}
