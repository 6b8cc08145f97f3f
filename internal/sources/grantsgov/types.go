package grantsgov

import (
	"time"
)

// SourceFile identifies one bulk extract on the feed host.
type SourceFile struct {
	Name          string
	URL           string
	ExtractedDate *time.Time
	// Size is the advertised Content-Length, or -1 when unknown.
	Size int64
}

// Extract is a downloaded source file.
type Extract struct {
	SourceFile
	Data []byte
}

// Record is one decoded opportunity before it is mapped to a model.
type Record struct {
	OpportunityID         string
	OpportunityNumber     *string
	Title                 string
	AgencyCode            *string
	AgencyName            *string
	Category              *string
	FundingInstrumentType *string
	Description           *string
	CFDANumbers           *string
	AwardCeiling          *int64
	AwardFloor            *int64
	EstimatedTotalFunding *int64
	ExpectedAwards        *int64
	PostDate              *time.Time
	CloseDate             *time.Time
	EligibleApplicants    []string
	EligibilityText       *string
	AdditionalInfoURL     *string
	GrantorContactEmail   *string
}

// Valid reports whether the record carries both an identifier and a title.
func (r *Record) Valid() bool {
	return r.OpportunityID != "" && r.Title != ""
}

// DecodeStats summarises one decode pass.
type DecodeStats struct {
	Seen    int
	Decoded int
	Dropped int
}
