package db

import (
	"context"

	"ms-credentials/internal/models"
)

// CountByState returns how many credentials of an event sit in each state.
func (d *DB) CountByState(ctx context.Context, eventID string) (map[models.CredentialState]int, error) {
	var rows []struct {
		State models.CredentialState `bun:"state"`
		Count int                    `bun:"count"`
	}
	err := d.Bun.NewSelect().
		Model((*models.TicketCredential)(nil)).
		Column("state").
		ColumnExpr("COUNT(*) AS count").
		Where("event_id = ?", eventID).
		Group("state").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	counts := map[models.CredentialState]int{
		models.CredentialActive:    0,
		models.CredentialUsed:      0,
		models.CredentialCancelled: 0,
		models.CredentialExpired:   0,
	}
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}
