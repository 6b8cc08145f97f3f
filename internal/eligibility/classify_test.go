package eligibility

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.AddDate(0, 2, 0)
	f := NewFilter(Rules{})

	tests := []struct {
		name   string
		c      Candidate
		class  Class
		reason Reason
	}{
		{
			name:   "nonprofit text without deadline",
			c:      Candidate{EligibilityText: "Open to nonprofit organizations serving rural areas"},
			class:  Include,
			reason: ReasonNonprofitText,
		},
		{
			name:   "government only text",
			c:      Candidate{EligibilityText: "State and local government entities only", CloseDate: &future},
			class:  Exclude,
			reason: ReasonGovernmentOnly,
		},
		{
			name:   "nonprofit applicant code wins over text",
			c:      Candidate{ApplicantCodes: []string{"00", "12"}, EligibilityText: "Federal agencies only"},
			class:  Include,
			reason: ReasonNonprofitCode,
		},
		{
			name:   "see eligibility text code defers to government text",
			c:      Candidate{ApplicantCodes: []string{"25"}, EligibilityText: "State and local government entities only"},
			class:  Exclude,
			reason: ReasonGovernmentOnly,
		},
		{
			name:   "see eligibility text code with nonprofit text",
			c:      Candidate{ApplicantCodes: []string{"25"}, EligibilityText: "Eligible applicants include 501(c)(3) organizations"},
			class:  Include,
			reason: ReasonNonprofitText,
		},
		{
			name:   "see eligibility text code alone",
			c:      Candidate{ApplicantCodes: []string{"25"}},
			class:  Exclude,
			reason: ReasonNoNonprofitSignal,
		},
		{
			name:   "expired",
			c:      Candidate{EligibilityText: "nonprofit", CloseDate: &past},
			class:  Exclude,
			reason: ReasonExpired,
		},
		{
			name:   "no signal",
			c:      Candidate{ApplicantCodes: []string{"00", "01"}, EligibilityText: "See announcement"},
			class:  Exclude,
			reason: ReasonNoNonprofitSignal,
		},
		{
			name:   "keyword in category",
			c:      Candidate{Category: "Community-Based Organization support"},
			class:  Include,
			reason: ReasonNonprofitText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.Classify(tt.c, PruneCutoff(now))
			if d.Class != tt.class || d.Reason != tt.reason {
				t.Fatalf("expected %s/%s, got %s/%s", tt.class, tt.reason, d.Class, d.Reason)
			}
			if d.Included() != (tt.class == Include) {
				t.Fatalf("Included() disagrees with class %s", d.Class)
			}
		})
	}
}

func TestCutoffsStayDistinct(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	closesThisMorning := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

	if IsActive(&closesThisMorning, StatusCutoff(now)) {
		t.Fatalf("status cutoff should treat this morning as closed")
	}
	if !IsActive(&closesThisMorning, PruneCutoff(now)) {
		t.Fatalf("prune cutoff should keep something that closed today")
	}
	if !IsActive(nil, now.AddDate(50, 0, 0)) {
		t.Fatalf("no close date is always active")
	}
}

func TestCustomRulesOverrideDefaults(t *testing.T) {
	f := NewFilter(Rules{NonprofitKeywords: []string{"charity"}})
	d := f.Classify(Candidate{EligibilityText: "Registered CHARITY applicants"}, time.Now())
	if !d.Included() || d.Matched != "charity" {
		t.Fatalf("expected custom keyword match, got %+v", d)
	}
	if len(f.Rules().NonprofitCodes) == 0 {
		t.Fatalf("expected default codes to be kept")
	}
	if d := f.Classify(Candidate{EligibilityText: "nonprofit"}, time.Now()); d.Included() {
		t.Fatalf("default keywords should be replaced by configured ones")
	}
}

func TestDeferCodesOverrideNonprofitCodes(t *testing.T) {
	f := NewFilter(Rules{NonprofitCodes: []string{"12", "25"}})
	d := f.Classify(Candidate{ApplicantCodes: []string{"25"}, EligibilityText: "Federal agencies only"}, time.Now())
	if d.Class != Exclude || d.Reason != ReasonGovernmentOnly {
		t.Fatalf("expected exclude/government_only, got %s/%s", d.Class, d.Reason)
	}
	if got := f.Rules().DeferCodes; len(got) != 1 || got[0] != "25" {
		t.Fatalf("expected default defer codes, got %v", got)
	}
}
