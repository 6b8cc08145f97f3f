package grantsgov

import (
	"strings"
	"time"

	"github.com/mkoziy/grants/syncer/internal/eligibility"
	"github.com/mkoziy/grants/syncer/internal/models"
)

// Candidate returns the eligibility view of the record.
func (r *Record) Candidate() eligibility.Candidate {
	c := eligibility.Candidate{
		ApplicantCodes: r.EligibleApplicants,
		CloseDate:      r.CloseDate,
	}
	if r.EligibilityText != nil {
		c.EligibilityText = *r.EligibilityText
	}
	if r.Category != nil {
		c.Category = *r.Category
	}
	return c
}

// ToOpportunity maps the record onto the stored model, stamping syncedAt.
func (r *Record) ToOpportunity(syncedAt time.Time) *models.Opportunity {
	o := &models.Opportunity{
		OpportunityID:         r.OpportunityID,
		OpportunityNumber:     r.OpportunityNumber,
		Title:                 r.Title,
		AgencyCode:            r.AgencyCode,
		AgencyName:            r.AgencyName,
		Category:              r.Category,
		FundingInstrumentType: r.FundingInstrumentType,
		Description:           r.Description,
		CFDANumbers:           r.CFDANumbers,
		AwardCeiling:          r.AwardCeiling,
		AwardFloor:            r.AwardFloor,
		EstimatedTotalFunding: r.EstimatedTotalFunding,
		ExpectedAwards:        r.ExpectedAwards,
		PostDate:              r.PostDate,
		CloseDate:             r.CloseDate,
		EligibilityText:       r.EligibilityText,
		AdditionalInfoURL:     r.AdditionalInfoURL,
		GrantorContactEmail:   r.GrantorContactEmail,
		LastSyncedAt:          syncedAt.UTC(),
	}
	if len(r.EligibleApplicants) > 0 {
		codes := strings.Join(r.EligibleApplicants, ", ")
		o.EligibleApplicants = &codes
	}
	return o
}
