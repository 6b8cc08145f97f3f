package grantsgov

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// recordElements are the element names that hold one opportunity each.
var recordElements = map[string]bool{
	"Opportunity":                   true,
	"OpportunitySynopsisDetail_1_0": true,
}

// ErrStop may be returned by a record callback to end decoding early
// without an error.
var ErrStop = errors.New("stop decoding")

// Decoder streams opportunity records out of an extract document.
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a decoder. Dropped records are logged at warn level.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger.With("component", "decoder")}
}

// Decode reads r and calls fn for every valid record in document order.
// Records missing an identifier or title are counted as dropped. A malformed
// document yields a *ParseError; an error from fn is returned unchanged.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, fn func(Record) error) (DecodeStats, error) {
	var stats DecodeStats
	dec := xml.NewDecoder(r)
	dec.Strict = true

	sawRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, &ParseError{Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		if !recordElements[se.Name.Local] {
			continue
		}

		var raw rawElement
		if err := dec.DecodeElement(&raw, &se); err != nil {
			return stats, &ParseError{Err: fmt.Errorf("record %d: %w", stats.Seen+1, err)}
		}
		stats.Seen++
		if stats.Seen%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}

		rec := recordFromNode(raw.flatten())
		if !rec.Valid() {
			stats.Dropped++
			d.logger.Warn("dropping record", "index", stats.Seen, "id", rec.OpportunityID)
			continue
		}
		stats.Decoded++

		if err := fn(rec); err != nil {
			if errors.Is(err, ErrStop) {
				return stats, nil
			}
			return stats, err
		}
	}
	if !sawRoot {
		return stats, &ParseError{Err: errors.New("document has no root element")}
	}
	return stats, nil
}

// DecodeAll collects every valid record.
func (d *Decoder) DecodeAll(ctx context.Context, r io.Reader) ([]Record, DecodeStats, error) {
	var out []Record
	stats, err := d.Decode(ctx, r, func(rec Record) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

func recordFromNode(n node) Record {
	return Record{
		OpportunityID:         textValue(n.lookup("OpportunityID", "OpportunityId", "ID")),
		OpportunityNumber:     text(n.lookup("OpportunityNumber")),
		Title:                 textValue(n.lookup("OpportunityTitle", "Title")),
		AgencyCode:            text(n.lookup("AgencyCode")),
		AgencyName:            text(n.lookup("AgencyName")),
		Category:              text(n.lookup("OpportunityCategory", "Category")),
		FundingInstrumentType: text(n.lookup("FundingInstrumentType")),
		Description:           text(n.lookup("Description", "Synopsis")),
		CFDANumbers:           joined(n.lookup("CFDANumbers", "CFDANumber")),
		AwardCeiling:          number(n.lookup("AwardCeiling")),
		AwardFloor:            number(n.lookup("AwardFloor")),
		EstimatedTotalFunding: number(n.lookup("EstimatedTotalProgramFunding", "EstimatedTotalFunding")),
		ExpectedAwards:        number(n.lookup("ExpectedNumberOfAwards", "ExpectedAwards")),
		PostDate:              date(n.lookup("PostDate", "PostingDate")),
		CloseDate:             date(n.lookup("CloseDate", "ApplicationsDueDate")),
		EligibleApplicants:    list(n.lookup("EligibleApplicants", "EligibleApplicant")),
		EligibilityText:       text(n.lookup("AdditionalInformationOnEligibility", "EligibilityText")),
		AdditionalInfoURL:     text(n.lookup("AdditionalInformationURL", "AdditionalInfoURL")),
		GrantorContactEmail:   text(n.lookup("GrantorContactEmail")),
	}
}
