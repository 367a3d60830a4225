package datastore

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ClaimNext returns up to limit unclaimed sources strictly after the keyset
// cursor, ordered by duration descending so heavy work is scheduled first,
// and atomically transitions each one to pending. The conditional update
// makes claims exclusive: a source observed as claimed by one worker is
// never returned to another. The returned cursor advances past the fetched
// batch regardless of how many rows were won.
func (ds *DataStore) ClaimNext(ctx context.Context, limit int, cursor *ClaimCursor) ([]Source, *ClaimCursor, error) {
	var claimed []Source
	var next *ClaimCursor

	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", StatusUnclaimed)
		if cursor != nil {
			q = q.Where("duration_ms < ? OR (duration_ms = ? AND id < ?)",
				cursor.DurationMs, cursor.DurationMs, cursor.ID)
		}

		var batch []Source
		if err := q.Order("duration_ms DESC, id DESC").Limit(limit).Find(&batch).Error; err != nil {
			return fmt.Errorf("fetching claim batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		last := batch[len(batch)-1]
		next = &ClaimCursor{DurationMs: last.DurationMs, ID: last.ID}

		for i := range batch {
			res := tx.Model(&Source{}).
				Where("id = ? AND status = ?", batch[i].ID, StatusUnclaimed).
				Update("status", StatusPending)
			if res.Error != nil {
				return fmt.Errorf("claiming source %s: %w", batch[i].ID, res.Error)
			}
			if res.RowsAffected == 1 {
				batch[i].Status = StatusPending
				claimed = append(claimed, batch[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return claimed, next, nil
}

// ResetPending returns pending sources to the unclaimed pool. This is
// operator tooling for recovering after worker crashes; the engine itself
// never un-claims.
func (ds *DataStore) ResetPending(ctx context.Context) (int64, error) {
	res := ds.DB.WithContext(ctx).Model(&Source{}).
		Where("status = ?", StatusPending).
		Update("status", StatusUnclaimed)
	if res.Error != nil {
		return 0, fmt.Errorf("resetting pending sources: %w", res.Error)
	}
	return res.RowsAffected, nil
}
