package datastore

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"
)

// DeleteSource removes a source and its fingerprint from the index and
// reverses the aggregate contributions its rows made, so deletion is the
// exact inverse of ingest. Stat rows whose counts reach zero are removed.
// Sources that were matched against the deleted one lose their referent;
// since a matched verdict always carries the original it duplicates, they
// are released back to the unclaimed pool for re-processing instead of
// being left matched with nothing to point at.
func (ds *DataStore) DeleteSource(ctx context.Context, sourceID string) error {
	return ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var perHash []struct {
			Hash string
			N    int64
		}
		err := tx.Model(&Occurrence{}).
			Select("hash, COUNT(*) AS n").
			Where("source_id = ?", sourceID).
			Group("hash").
			Scan(&perHash).Error
		if err != nil {
			return fmt.Errorf("deleting source %s: counting occurrences: %w", sourceID, err)
		}

		sort.Slice(perHash, func(i, j int) bool { return perHash[i].Hash < perHash[j].Hash })

		hashes := make([]string, 0, len(perHash))
		for _, row := range perHash {
			hashes = append(hashes, row.Hash)
			err := tx.Model(&HashStat{}).Where("hash = ?", row.Hash).Updates(map[string]any{
				"total_count":  gorm.Expr("total_count - ?", row.N),
				"source_count": gorm.Expr("source_count - 1"),
			}).Error
			if err != nil {
				return fmt.Errorf("deleting source %s: reversing stat for hash %s: %w", sourceID, row.Hash, err)
			}
		}

		if len(hashes) > 0 {
			err = tx.Where("hash IN ? AND (total_count <= 0 OR source_count <= 0)", hashes).
				Delete(&HashStat{}).Error
			if err != nil {
				return fmt.Errorf("deleting source %s: pruning empty stats: %w", sourceID, err)
			}
		}

		if err := tx.Where("source_id = ?", sourceID).Delete(&Occurrence{}).Error; err != nil {
			return fmt.Errorf("deleting source %s: removing occurrences: %w", sourceID, err)
		}

		err = tx.Model(&Source{}).
			Where("original_ref = ?", sourceID).
			Updates(map[string]any{"original_ref": nil, "status": StatusUnclaimed}).Error
		if err != nil {
			return fmt.Errorf("deleting source %s: releasing duplicates: %w", sourceID, err)
		}

		if err := tx.Delete(&Source{}, "id = ?", sourceID).Error; err != nil {
			return fmt.Errorf("deleting source %s: %w", sourceID, err)
		}
		return nil
	})
}
