package datastore

import (
	"context"
	"fmt"
	"sort"

	"github.com/sonicgen/sonicgen/internal/landmark"
	"github.com/sonicgen/sonicgen/internal/search"
	"gorm.io/gorm"
)

// probeBatchSize bounds the IN clause of one index probe.
const probeBatchSize = 500

// FindCandidates runs the server-side half of a match query: filter out
// globally over-common hashes, probe the inverted index for the rest, bucket
// hits by (source, time offset) and return the strongest aligned sources.
//
// A hash counts at most once per bucket no matter how many of its
// occurrences land there, and buckets within the delta tolerance of a
// source's best offset are merged into it. An empty index yields an empty
// candidate list, not an error.
func (ds *DataStore) FindCandidates(ctx context.Context, query []landmark.Occurrence, params QueryParams) ([]search.Candidate, error) {
	if len(query) == 0 {
		return nil, nil
	}
	db := ds.DB.WithContext(ctx)

	// Query frames per hash. One hash can anchor several query frames and
	// each pairing votes for its own offset.
	queryFrames := make(map[string][]uint32)
	for _, occ := range query {
		queryFrames[occ.Hash] = append(queryFrames[occ.Hash], occ.TRef)
	}
	hashes := make([]string, 0, len(queryFrames))
	for h := range queryFrames {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	hashes, err := dropStopWords(db, hashes, params.IgnoreFraction)
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	type bucketKey struct {
		sourceID string
		delta    int64
	}
	// Hash sets per bucket, so merging tolerance-adjacent buckets later
	// still counts each hash once.
	buckets := make(map[bucketKey]map[string]struct{})

	for start := 0; start < len(hashes); start += probeBatchSize {
		end := start + probeBatchSize
		if end > len(hashes) {
			end = len(hashes)
		}

		hits, err := ds.FetchOccurrencesForHashes(ctx, hashes[start:end], params.MaxHitsPerHash)
		if err != nil {
			return nil, err
		}

		for _, hit := range hits {
			for _, qT := range queryFrames[hit.Hash] {
				key := bucketKey{hit.SourceID, int64(hit.TRef) - int64(qT)}
				set, ok := buckets[key]
				if !ok {
					set = make(map[string]struct{})
					buckets[key] = set
				}
				set[hit.Hash] = struct{}{}
			}
		}
	}

	// Group surviving buckets per source.
	perSource := make(map[string]map[int64]map[string]struct{})
	for key, set := range buckets {
		if len(set) < params.MinMatches {
			continue
		}
		deltas, ok := perSource[key.sourceID]
		if !ok {
			deltas = make(map[int64]map[string]struct{})
			perSource[key.sourceID] = deltas
		}
		deltas[key.delta] = set
	}

	candidates := make([]search.Candidate, 0, len(perSource))
	for sourceID, deltas := range perSource {
		best := bestDelta(deltas)

		merged := make(map[string]struct{})
		for delta, set := range deltas {
			if abs64(delta-best) > int64(params.DeltaTolerance) {
				continue
			}
			for h := range set {
				merged[h] = struct{}{}
			}
		}
		candidates = append(candidates, search.Candidate{
			SourceID: sourceID,
			Delta:    best,
			Matched:  len(merged),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Matched != candidates[j].Matched {
			return candidates[i].Matched > candidates[j].Matched
		}
		return candidates[i].SourceID < candidates[j].SourceID
	})
	if params.LimitCandidates > 0 && len(candidates) > params.LimitCandidates {
		candidates = candidates[:params.LimitCandidates]
	}
	return candidates, nil
}

// dropStopWords removes the globally most frequent hashes from a query.
// The top fraction of the hash vocabulary, ranked by total count with hash
// value breaking ties, carries almost no discriminative signal and would
// dominate probe cost.
func dropStopWords(db *gorm.DB, hashes []string, ignoreFraction float64) ([]string, error) {
	if ignoreFraction <= 0 {
		return hashes, nil
	}

	var vocab int64
	if err := db.Model(&HashStat{}).Count(&vocab).Error; err != nil {
		return nil, fmt.Errorf("counting hash vocabulary: %w", err)
	}
	k := int64(float64(vocab) * ignoreFraction)
	if k <= 0 {
		return hashes, nil
	}

	// The k-th row under (total_count DESC, hash ASC) is the cutoff; every
	// hash ranking at or before it is a stop word.
	var cutoff HashStat
	err := db.Model(&HashStat{}).
		Order("total_count DESC, hash ASC").
		Offset(int(k - 1)).
		First(&cutoff).Error
	if err != nil {
		return nil, fmt.Errorf("finding stop word cutoff: %w", err)
	}

	var stats []HashStat
	if err := db.Where("hash IN ?", hashes).Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("fetching query hash stats: %w", err)
	}
	statByHash := make(map[string]HashStat, len(stats))
	for _, s := range stats {
		statByHash[s.Hash] = s
	}

	kept := hashes[:0]
	for _, h := range hashes {
		s, ok := statByHash[h]
		if !ok {
			// Absent from the index; keep, the probe returns nothing.
			kept = append(kept, h)
			continue
		}
		if s.TotalCount > cutoff.TotalCount ||
			(s.TotalCount == cutoff.TotalCount && s.Hash <= cutoff.Hash) {
			continue
		}
		kept = append(kept, h)
	}
	return kept, nil
}

// bestDelta picks a source's alignment offset: the delta with the most
// distinct hashes, smallest absolute offset breaking ties.
func bestDelta(deltas map[int64]map[string]struct{}) int64 {
	var best int64
	bestCount := -1
	for delta, set := range deltas {
		switch {
		case len(set) > bestCount:
			best, bestCount = delta, len(set)
		case len(set) == bestCount && abs64(delta) < abs64(best):
			best = delta
		case len(set) == bestCount && abs64(delta) == abs64(best) && delta < best:
			best = delta
		}
	}
	return best
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
