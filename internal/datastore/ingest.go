package datastore

import (
	"context"
	"fmt"
	"sort"

	"github.com/sonicgen/sonicgen/internal/landmark"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertOccurrences stores a source's fingerprint in the index and keeps the
// per-hash aggregates consistent. The operation is idempotent: re-ingesting
// the same rows inserts nothing and leaves every HashStat untouched. Rows
// are written in chunks, each chunk in its own transaction, so a crash
// mid-ingest leaves a consistent prefix that a retry completes.
//
// Returns the number of rows actually inserted.
func (ds *DataStore) InsertOccurrences(ctx context.Context, sourceID string, rows []landmark.Occurrence, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		chunkSize = 10000
	}

	// Collapse duplicate (hash, t_ref) pairs from the extractor output so
	// chunk accounting matches what the unique key will accept.
	type key struct {
		hash string
		tRef uint32
	}
	seen := make(map[key]struct{}, len(rows))
	deduped := make([]landmark.Occurrence, 0, len(rows))
	for _, row := range rows {
		k := key{row.Hash, row.TRef}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		deduped = append(deduped, row)
	}

	// Hashes whose source_count this ingest already bumped. A hash may span
	// chunks; the source-level count must move at most once per ingest.
	counted := make(map[string]struct{})

	inserted := 0
	for start := 0; start < len(deduped); start += chunkSize {
		end := start + chunkSize
		if end > len(deduped) {
			end = len(deduped)
		}
		chunk := deduped[start:end]

		err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			n, err := insertChunk(tx, sourceID, chunk, counted)
			if err != nil {
				return err
			}
			inserted += n
			return nil
		})
		if err != nil {
			return inserted, fmt.Errorf("inserting occurrences for source %s: %w", sourceID, err)
		}
	}
	return inserted, nil
}

// insertChunk writes one chunk of occurrence rows and applies the matching
// aggregate deltas inside the caller's transaction.
func insertChunk(tx *gorm.DB, sourceID string, chunk []landmark.Occurrence, counted map[string]struct{}) (int, error) {
	hashes := make([]string, 0, len(chunk))
	hashSet := make(map[string]struct{}, len(chunk))
	for _, row := range chunk {
		if _, ok := hashSet[row.Hash]; !ok {
			hashSet[row.Hash] = struct{}{}
			hashes = append(hashes, row.Hash)
		}
	}

	// Find which rows of the chunk already exist so stat deltas reflect
	// only genuinely new rows.
	var existing []Occurrence
	err := tx.Where("source_id = ? AND hash IN ?", sourceID, hashes).
		Find(&existing).Error
	if err != nil {
		return 0, fmt.Errorf("checking existing rows: %w", err)
	}
	existingSet := make(map[Occurrence]struct{}, len(existing))
	hadHash := make(map[string]struct{}, len(existing))
	for _, row := range existing {
		existingSet[Occurrence{Hash: row.Hash, SourceID: sourceID, TRef: row.TRef}] = struct{}{}
		hadHash[row.Hash] = struct{}{}
	}

	newRows := make([]Occurrence, 0, len(chunk))
	totalDelta := make(map[string]int64, len(hashes))
	var sourceDelta []string
	for _, row := range chunk {
		occ := Occurrence{Hash: row.Hash, SourceID: sourceID, TRef: row.TRef}
		if _, ok := existingSet[occ]; ok {
			continue
		}
		newRows = append(newRows, occ)
		totalDelta[row.Hash]++
		_, had := hadHash[row.Hash]
		_, already := counted[row.Hash]
		if !had && !already {
			counted[row.Hash] = struct{}{}
			sourceDelta = append(sourceDelta, row.Hash)
		}
	}
	if len(newRows) == 0 {
		return 0, nil
	}

	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&newRows).Error; err != nil {
		return 0, fmt.Errorf("inserting rows: %w", err)
	}

	sourceSet := make(map[string]struct{}, len(sourceDelta))
	for _, h := range sourceDelta {
		sourceSet[h] = struct{}{}
	}

	// Apply stat deltas in sorted hash order so concurrent ingests take row
	// locks in a consistent order.
	sortedHashes := make([]string, 0, len(totalDelta))
	for h := range totalDelta {
		sortedHashes = append(sortedHashes, h)
	}
	sort.Strings(sortedHashes)

	for _, h := range sortedHashes {
		var srcInc int64
		if _, ok := sourceSet[h]; ok {
			srcInc = 1
		}
		if err := upsertHashStat(tx, h, totalDelta[h], srcInc); err != nil {
			return 0, err
		}
	}
	return len(newRows), nil
}

// upsertHashStat applies an additive delta to one hash aggregate, creating
// the row when the hash is new to the index. Try-update-then-insert is
// portable across both backends; the conflict branch covers a concurrent
// ingest creating the row between the two statements.
func upsertHashStat(tx *gorm.DB, hash string, totalInc, sourceInc int64) error {
	res := tx.Model(&HashStat{}).Where("hash = ?", hash).Updates(map[string]any{
		"total_count":  gorm.Expr("total_count + ?", totalInc),
		"source_count": gorm.Expr("source_count + ?", sourceInc),
	})
	if res.Error != nil {
		return fmt.Errorf("updating stat for hash %s: %w", hash, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	stat := HashStat{Hash: hash, TotalCount: totalInc, SourceCount: sourceInc}
	res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&stat)
	if res.Error != nil {
		return fmt.Errorf("creating stat for hash %s: %w", hash, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// Lost the insert race; the row exists now.
	err := tx.Model(&HashStat{}).Where("hash = ?", hash).Updates(map[string]any{
		"total_count":  gorm.Expr("total_count + ?", totalInc),
		"source_count": gorm.Expr("source_count + ?", sourceInc),
	}).Error
	if err != nil {
		return fmt.Errorf("updating stat for hash %s after insert race: %w", hash, err)
	}
	return nil
}

// SetStatus transitions a source through its lifecycle. Transitions are
// monotonic: terminal statuses never change, and pending can only be entered
// through ClaimNext. A matched verdict must carry the canonical source it
// duplicates; the reference is normalized so chains of duplicates always
// point at the root original.
func (ds *DataStore) SetStatus(ctx context.Context, sourceID, status string, originalRef *string) error {
	if status == StatusMatched && originalRef == nil {
		return fmt.Errorf("setting status for source %s: matched requires an original reference", sourceID)
	}
	if status != StatusMatched && originalRef != nil {
		return fmt.Errorf("setting status for source %s: original reference only valid for matched", sourceID)
	}

	return ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Source
		if err := tx.First(&current, "id = ?", sourceID).Error; err != nil {
			return fmt.Errorf("setting status for source %s: %w", sourceID, err)
		}
		if !validTransition(current.Status, status) {
			return fmt.Errorf("setting status for source %s: invalid transition %s -> %s",
				sourceID, current.Status, status)
		}

		ref := originalRef
		if ref != nil {
			root, err := resolveRootRef(tx, *ref)
			if err != nil {
				return fmt.Errorf("setting status for source %s: %w", sourceID, err)
			}
			if root == sourceID {
				return fmt.Errorf("setting status for source %s: original reference resolves to itself", sourceID)
			}
			ref = &root
		}

		res := tx.Model(&Source{}).
			Where("id = ? AND status = ?", sourceID, current.Status).
			Updates(map[string]any{"status": status, "original_ref": ref})
		if res.Error != nil {
			return fmt.Errorf("setting status for source %s: %w", sourceID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("setting status for source %s: concurrent transition detected", sourceID)
		}
		return nil
	})
}

// validTransition encodes the lifecycle order.
func validTransition(from, to string) bool {
	if IsTerminalStatus(from) {
		return false
	}
	switch from {
	case StatusUnclaimed:
		// Claiming goes through ClaimNext; a direct flag of a broken
		// source is still allowed.
		return to == StatusFlagged
	case StatusPending:
		return IsTerminalStatus(to)
	}
	return false
}

// resolveRootRef follows original_ref links until it reaches a source with
// none, so a matched reference always lands on the root original.
func resolveRootRef(tx *gorm.DB, id string) (string, error) {
	visited := make(map[string]struct{})
	for {
		if _, ok := visited[id]; ok {
			return "", fmt.Errorf("original reference cycle at %s", id)
		}
		visited[id] = struct{}{}

		var src Source
		if err := tx.First(&src, "id = ?", id).Error; err != nil {
			return "", fmt.Errorf("resolving original reference %s: %w", id, err)
		}
		if src.OriginalRef == nil {
			return src.ID, nil
		}
		id = *src.OriginalRef
	}
}
