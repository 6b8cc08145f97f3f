package eligibility

import "time"

// Class is the filter outcome for one opportunity.
type Class string

const (
	Include Class = "include"
	Exclude Class = "exclude"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonNonprofitCode     Reason = "nonprofit_applicant_code"
	ReasonNonprofitText     Reason = "nonprofit_keyword"
	ReasonGovernmentOnly    Reason = "government_only"
	ReasonExpired           Reason = "expired"
	ReasonNoNonprofitSignal Reason = "no_nonprofit_signal"
)

// Candidate is the subset of an opportunity the filter looks at.
type Candidate struct {
	ApplicantCodes  []string
	EligibilityText string
	Category        string
	CloseDate       *time.Time
}

// Decision is the classification of one Candidate.
type Decision struct {
	Class   Class
	Reason  Reason
	Matched string
}

// Included reports whether the opportunity should be upserted.
func (d Decision) Included() bool {
	return d.Class == Include
}

// Filter applies Rules to candidates.
type Filter struct {
	rules Rules
	codes map[string]struct{}
}

// NewFilter builds a filter; empty rule lists fall back to the defaults.
func NewFilter(rules Rules) *Filter {
	rules = rules.WithDefaults()
	codes := make(map[string]struct{}, len(rules.NonprofitCodes))
	for _, c := range rules.NonprofitCodes {
		codes[c] = struct{}{}
	}
	for _, c := range rules.DeferCodes {
		delete(codes, c)
	}
	return &Filter{rules: rules, codes: codes}
}

// Rules returns the effective rules.
func (f *Filter) Rules() Rules {
	return f.rules
}

// Classify tags c include or exclude. Activity is judged against cutoff;
// eligibility checks applicant codes first, then the free text. Defer codes
// fall through to the text.
func (f *Filter) Classify(c Candidate, cutoff time.Time) Decision {
	if !IsActive(c.CloseDate, cutoff) {
		return Decision{Class: Exclude, Reason: ReasonExpired}
	}
	for _, code := range c.ApplicantCodes {
		if _, ok := f.codes[code]; ok {
			return Decision{Class: Include, Reason: ReasonNonprofitCode, Matched: code}
		}
	}
	text := c.EligibilityText
	if c.Category != "" {
		text = text + " " + c.Category
	}
	if term, ok := containsAny(text, f.rules.GovernmentOnlyPatterns); ok {
		return Decision{Class: Exclude, Reason: ReasonGovernmentOnly, Matched: term}
	}
	if term, ok := containsAny(text, f.rules.NonprofitKeywords); ok {
		return Decision{Class: Include, Reason: ReasonNonprofitText, Matched: term}
	}
	return Decision{Class: Exclude, Reason: ReasonNoNonprofitSignal}
}
