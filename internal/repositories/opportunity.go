package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/mkoziy/grants/syncer/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("repositories: not found")

// GetOpportunity fetches an opportunity by its external identifier.
func GetOpportunity(ctx context.Context, db bun.IDB, opportunityID string) (*models.Opportunity, error) {
	opp := new(models.Opportunity)
	err := db.NewSelect().
		Model(opp).
		Where("opportunity_id = ?", opportunityID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return opp, err
}

// CountExisting reports how many of ids are already stored.
func CountExisting(ctx context.Context, db bun.IDB, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return db.NewSelect().
		Model((*models.Opportunity)(nil)).
		Where("opportunity_id IN (?)", bun.In(ids)).
		Count(ctx)
}

// UpsertOpportunities performs a batch upsert keyed by opportunity_id.
// created_at survives the update so re-running the same batch is a no-op
// apart from the sync timestamps.
func UpsertOpportunities(ctx context.Context, db bun.IDB, opps []*models.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}
	_, err := db.NewInsert().
		Model(&opps).
		On("CONFLICT (opportunity_id) DO UPDATE").
		Set("opportunity_number = EXCLUDED.opportunity_number").
		Set("title = EXCLUDED.title").
		Set("agency_code = EXCLUDED.agency_code").
		Set("agency_name = EXCLUDED.agency_name").
		Set("category = EXCLUDED.category").
		Set("funding_instrument_type = EXCLUDED.funding_instrument_type").
		Set("description = EXCLUDED.description").
		Set("cfda_numbers = EXCLUDED.cfda_numbers").
		Set("award_ceiling = EXCLUDED.award_ceiling").
		Set("award_floor = EXCLUDED.award_floor").
		Set("estimated_total_funding = EXCLUDED.estimated_total_funding").
		Set("expected_awards = EXCLUDED.expected_awards").
		Set("post_date = EXCLUDED.post_date").
		Set("close_date = EXCLUDED.close_date").
		Set("eligible_applicants = EXCLUDED.eligible_applicants").
		Set("eligibility_text = EXCLUDED.eligibility_text").
		Set("additional_info_url = EXCLUDED.additional_info_url").
		Set("grantor_contact_email = EXCLUDED.grantor_contact_email").
		Set("last_synced_at = EXCLUDED.last_synced_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	return err
}

// DeleteClosedBefore hard-deletes opportunities whose close date is before cutoff.
// Rows without a close date are never touched.
func DeleteClosedBefore(ctx context.Context, db bun.IDB, cutoff time.Time) (int, error) {
	res, err := db.NewDelete().
		Model((*models.Opportunity)(nil)).
		Where("close_date IS NOT NULL").
		Where("close_date < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

// DeleteMissing removes opportunities whose identifier is not in keep.
// An empty keep set deletes nothing rather than wiping the table.
func DeleteMissing(ctx context.Context, db bun.IDB, keep []string) (int, error) {
	if len(keep) == 0 {
		return 0, nil
	}
	res, err := db.NewDelete().
		Model((*models.Opportunity)(nil)).
		Where("opportunity_id NOT IN (?)", bun.In(keep)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

// CountOpportunities returns the number of stored opportunities.
func CountOpportunities(ctx context.Context, db bun.IDB) (int, error) {
	return db.NewSelect().Model((*models.Opportunity)(nil)).Count(ctx)
}

// CountActiveAt counts opportunities with no close date or one at or after cutoff.
func CountActiveAt(ctx context.Context, db bun.IDB, cutoff time.Time) (int, error) {
	return db.NewSelect().
		Model((*models.Opportunity)(nil)).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("close_date IS NULL").WhereOr("close_date >= ?", cutoff.UTC())
		}).
		Count(ctx)
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
