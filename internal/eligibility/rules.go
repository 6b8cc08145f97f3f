// Package eligibility decides which grant opportunities are open to nonprofits
// and which are still active.
package eligibility

import (
	"strings"
	"time"
)

// Rules is the keyword configuration behind the nonprofit heuristic.
// Matching is case-insensitive substring matching.
type Rules struct {
	// NonprofitCodes are grants.gov eligible-applicant codes that admit nonprofits.
	NonprofitCodes []string `yaml:"nonprofit_codes" split_words:"true"`
	// DeferCodes point at the eligibility text instead of deciding on their own.
	// They never count as nonprofit codes, even when listed in both.
	DeferCodes []string `yaml:"defer_codes" split_words:"true"`
	// NonprofitKeywords mark eligibility text as open to nonprofit applicants.
	NonprofitKeywords []string `yaml:"nonprofit_keywords" split_words:"true"`
	// GovernmentOnlyPatterns mark eligibility text as restricted to government entities.
	GovernmentOnlyPatterns []string `yaml:"government_only_patterns" split_words:"true"`
}

// DefaultRules returns the keyword set used when none is configured.
func DefaultRules() Rules {
	return Rules{
		NonprofitCodes: []string{
			"12", // nonprofits having a 501(c)(3) status with the IRS
			"13", // nonprofits without 501(c)(3) status
			"99", // unrestricted
		},
		DeferCodes: []string{
			"25", // others (see eligibility text)
		},
		NonprofitKeywords: []string{
			"nonprofit",
			"non-profit",
			"not-for-profit",
			"not for profit",
			"501(c)(3)",
			"501(c)",
			"community-based organization",
			"faith-based organization",
		},
		GovernmentOnlyPatterns: []string{
			"government entities only",
			"governments only",
			"government agencies only",
			"federal agencies only",
			"state agencies only",
			"limited to state",
			"limited to federal",
			"only state and local",
		},
	}
}

// WithDefaults fills empty rule lists from DefaultRules.
func (r Rules) WithDefaults() Rules {
	def := DefaultRules()
	if len(r.NonprofitCodes) == 0 {
		r.NonprofitCodes = def.NonprofitCodes
	}
	if len(r.DeferCodes) == 0 {
		r.DeferCodes = def.DeferCodes
	}
	if len(r.NonprofitKeywords) == 0 {
		r.NonprofitKeywords = def.NonprofitKeywords
	}
	if len(r.GovernmentOnlyPatterns) == 0 {
		r.GovernmentOnlyPatterns = def.GovernmentOnlyPatterns
	}
	return r
}

// StatusCutoff is the cutoff for reporting how many opportunities are active.
func StatusCutoff(now time.Time) time.Time {
	return now
}

// PruneCutoff is the cutoff for classification and deletion during a sync.
// It trails now by a day so something closing today is not removed early.
func PruneCutoff(now time.Time) time.Time {
	return now.Add(-24 * time.Hour)
}

// IsActive reports whether closeDate is absent or not before cutoff.
func IsActive(closeDate *time.Time, cutoff time.Time) bool {
	return closeDate == nil || !closeDate.Before(cutoff)
}

func containsAny(text string, terms []string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			return term, true
		}
	}
	return "", false
}
