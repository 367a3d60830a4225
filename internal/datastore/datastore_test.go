package datastore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/landmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "index.db")

	store := &SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addTestSource(t *testing.T, store *SQLiteStore, externalID string, durationMs int64) Source {
	t.Helper()
	source := Source{
		ID:         uuid.New().String(),
		ExternalID: externalID,
		DurationMs: durationMs,
	}
	require.NoError(t, store.AddSource(context.Background(), &source))
	return source
}

// occurrenceRun builds n occurrences with distinct hashes, anchored at
// consecutive frames starting at base.
func occurrenceRun(n int, base uint32) []landmark.Occurrence {
	rows := make([]landmark.Occurrence, n)
	for i := range rows {
		rows[i] = landmark.Occurrence{
			Hash: landmark.EncodeHash(i%2000, (i+7)%2000, 1+i%200),
			TRef: base + uint32(i),
		}
	}
	return rows
}

func hashStat(t *testing.T, store *SQLiteStore, hash string) (HashStat, bool) {
	t.Helper()
	var stat HashStat
	err := store.DB.First(&stat, "hash = ?", hash).Error
	if err != nil {
		return HashStat{}, false
	}
	return stat, true
}

func TestAddAndGetSource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	source := addTestSource(t, store, "video-1", 180000)
	assert.Equal(t, StatusUnclaimed, source.Status)

	got, err := store.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, source.ExternalID, got.ExternalID)
	assert.Equal(t, source.DurationMs, got.DurationMs)

	byExt, err := store.GetSourceByExternalID(ctx, "video-1")
	require.NoError(t, err)
	assert.Equal(t, source.ID, byExt.ID)

	// external ids are unique
	dup := Source{ID: uuid.New().String(), ExternalID: "video-1"}
	assert.Error(t, store.AddSource(ctx, &dup))
}

func TestInsertOccurrencesIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := addTestSource(t, store, "video-1", 60000)

	rows := occurrenceRun(500, 0)

	inserted, err := store.InsertOccurrences(ctx, source.ID, rows, 100)
	require.NoError(t, err)
	assert.Equal(t, 500, inserted)

	// Re-ingest inserts nothing and leaves every aggregate untouched.
	inserted, err = store.InsertOccurrences(ctx, source.ID, rows, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), counts.Occurrences)

	stat, ok := hashStat(t, store, rows[0].Hash)
	require.True(t, ok)
	assert.Equal(t, int64(1), stat.TotalCount)
	assert.Equal(t, int64(1), stat.SourceCount)
}

func TestInsertOccurrencesCollapsesDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := addTestSource(t, store, "video-1", 60000)

	h := landmark.EncodeHash(10, 20, 5)
	rows := []landmark.Occurrence{
		{Hash: h, TRef: 1},
		{Hash: h, TRef: 1}, // duplicate emission
		{Hash: h, TRef: 2},
	}

	inserted, err := store.InsertOccurrences(ctx, source.ID, rows, 10000)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	stat, ok := hashStat(t, store, h)
	require.True(t, ok)
	assert.Equal(t, int64(2), stat.TotalCount)
	assert.Equal(t, int64(1), stat.SourceCount)
}

func TestInsertOccurrencesHashSpanningChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := addTestSource(t, store, "video-1", 60000)

	// Same hash in every chunk; source_count must still move only once.
	h := landmark.EncodeHash(1, 2, 3)
	rows := []landmark.Occurrence{
		{Hash: h, TRef: 0},
		{Hash: h, TRef: 1},
		{Hash: h, TRef: 2},
		{Hash: h, TRef: 3},
	}

	inserted, err := store.InsertOccurrences(ctx, source.ID, rows, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, inserted)

	stat, ok := hashStat(t, store, h)
	require.True(t, ok)
	assert.Equal(t, int64(4), stat.TotalCount)
	assert.Equal(t, int64(1), stat.SourceCount)
}

func TestInsertOccurrencesSharedHashAcrossSources(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := addTestSource(t, store, "video-a", 60000)
	b := addTestSource(t, store, "video-b", 60000)

	h := landmark.EncodeHash(5, 6, 7)
	_, err := store.InsertOccurrences(ctx, a.ID, []landmark.Occurrence{{Hash: h, TRef: 10}}, 100)
	require.NoError(t, err)
	_, err = store.InsertOccurrences(ctx, b.ID, []landmark.Occurrence{{Hash: h, TRef: 20}}, 100)
	require.NoError(t, err)

	stat, ok := hashStat(t, store, h)
	require.True(t, ok)
	assert.Equal(t, int64(2), stat.TotalCount)
	assert.Equal(t, int64(2), stat.SourceCount)
}

func TestDeleteSourceSymmetry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := addTestSource(t, store, "video-a", 60000)
	b := addTestSource(t, store, "video-b", 60000)

	shared := landmark.EncodeHash(100, 200, 50)
	onlyA := landmark.EncodeHash(101, 201, 51)

	_, err := store.InsertOccurrences(ctx, a.ID, []landmark.Occurrence{
		{Hash: shared, TRef: 1},
		{Hash: shared, TRef: 2},
		{Hash: onlyA, TRef: 3},
	}, 100)
	require.NoError(t, err)
	_, err = store.InsertOccurrences(ctx, b.ID, []landmark.Occurrence{
		{Hash: shared, TRef: 9},
	}, 100)
	require.NoError(t, err)

	require.NoError(t, store.DeleteSource(ctx, a.ID))

	// A's rows and its exclusive stats are gone.
	_, err = store.GetSource(ctx, a.ID)
	assert.Error(t, err)
	rows, err := store.FetchOccurrencesBySource(ctx, a.ID, 100)
	require.NoError(t, err)
	assert.Empty(t, rows)
	_, ok := hashStat(t, store, onlyA)
	assert.False(t, ok)

	// The shared hash keeps exactly B's contribution.
	stat, ok := hashStat(t, store, shared)
	require.True(t, ok)
	assert.Equal(t, int64(1), stat.TotalCount)
	assert.Equal(t, int64(1), stat.SourceCount)
}

func TestDeleteSourceReleasesDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	original := addTestSource(t, store, "video-a", 60000)
	dup := addTestSource(t, store, "video-b", 60000)

	claimAll(t, store)
	require.NoError(t, store.SetStatus(ctx, original.ID, StatusFingerprinted, nil))
	require.NoError(t, store.SetStatus(ctx, dup.ID, StatusMatched, &original.ID))

	require.NoError(t, store.DeleteSource(ctx, original.ID))

	// A matched source always names the original it duplicates; with the
	// original gone the duplicate returns to the pool for re-processing.
	got, err := store.GetSource(ctx, dup.ID)
	require.NoError(t, err)
	assert.Nil(t, got.OriginalRef)
	assert.Equal(t, StatusUnclaimed, got.Status)

	claimed := claimAll(t, store)
	require.Len(t, claimed, 1)
	assert.Equal(t, dup.ID, claimed[0].ID)
}

// claimAll moves every unclaimed source to pending.
func claimAll(t *testing.T, store *SQLiteStore) []Source {
	t.Helper()
	var all []Source
	var cursor *ClaimCursor
	for {
		claimed, next, err := store.ClaimNext(context.Background(), 100, cursor)
		require.NoError(t, err)
		if next == nil {
			return all
		}
		all = append(all, claimed...)
		cursor = next
	}
}

func TestClaimNextOrderAndExclusivity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		addTestSource(t, store, fmt.Sprintf("video-%d", i), int64(1000*(i+1)))
	}

	first, cursor, err := store.ClaimNext(ctx, 2, nil)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	require.Len(t, first, 2)
	// longest first
	assert.Equal(t, int64(5000), first[0].DurationMs)
	assert.Equal(t, int64(4000), first[1].DurationMs)
	for _, s := range first {
		assert.Equal(t, StatusPending, s.Status)
	}

	// The next page never overlaps the first.
	second, _, err := store.ClaimNext(ctx, 10, cursor)
	require.NoError(t, err)
	require.Len(t, second, 3)
	seen := map[string]struct{}{}
	for _, s := range append(first, second...) {
		_, dup := seen[s.ID]
		require.False(t, dup, "source %s claimed twice", s.ID)
		seen[s.ID] = struct{}{}
	}

	// Backlog drained.
	_, next, err := store.ClaimNext(ctx, 10, nil)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestResetPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addTestSource(t, store, "video-a", 1000)
	addTestSource(t, store, "video-b", 2000)
	claimed := claimAll(t, store)
	require.Len(t, claimed, 2)

	n, err := store.ResetPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.SourcesByState[StatusUnclaimed])
}

func TestSetStatusLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := addTestSource(t, store, "video-a", 1000)

	// unclaimed sources cannot jump straight to a fingerprinted state
	assert.Error(t, store.SetStatus(ctx, source.ID, StatusFingerprinted, nil))

	claimAll(t, store)

	// matched requires an original reference
	assert.Error(t, store.SetStatus(ctx, source.ID, StatusMatched, nil))
	// and no other status accepts one
	ref := uuid.New().String()
	assert.Error(t, store.SetStatus(ctx, source.ID, StatusFingerprinted, &ref))

	require.NoError(t, store.SetStatus(ctx, source.ID, StatusFingerprinted, nil))

	// terminal statuses never change
	assert.Error(t, store.SetStatus(ctx, source.ID, StatusFlagged, nil))
	got, err := store.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFingerprinted, got.Status)
}

func TestSetStatusNormalizesOriginalRef(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	root := addTestSource(t, store, "video-root", 3000)
	mid := addTestSource(t, store, "video-mid", 2000)
	leaf := addTestSource(t, store, "video-leaf", 1000)

	claimAll(t, store)
	require.NoError(t, store.SetStatus(ctx, root.ID, StatusFingerprinted, nil))
	require.NoError(t, store.SetStatus(ctx, mid.ID, StatusMatched, &root.ID))

	// Matching against a duplicate resolves to the duplicate's root.
	require.NoError(t, store.SetStatus(ctx, leaf.ID, StatusMatched, &mid.ID))

	got, err := store.GetSource(ctx, leaf.ID)
	require.NoError(t, err)
	require.NotNil(t, got.OriginalRef)
	assert.Equal(t, root.ID, *got.OriginalRef)
}

func defaultQueryParams() QueryParams {
	return QueryParams{
		IgnoreFraction:  0,
		MinMatches:      4,
		MaxHitsPerHash:  100,
		LimitCandidates: 10,
		DeltaTolerance:  1,
	}
}

func TestFindCandidatesEmptyIndex(t *testing.T) {
	store := newTestStore(t)

	candidates, err := store.FindCandidates(context.Background(), occurrenceRun(20, 0), defaultQueryParams())
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestFindCandidatesOffsetMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := addTestSource(t, store, "video-a", 60000)

	// Index the source at frames 100.., query the same hashes at frames 0..
	const delta = 100
	indexed := occurrenceRun(50, delta)
	_, err := store.InsertOccurrences(ctx, source.ID, indexed, 1000)
	require.NoError(t, err)

	query := make([]landmark.Occurrence, len(indexed))
	for i, occ := range indexed {
		query[i] = landmark.Occurrence{Hash: occ.Hash, TRef: occ.TRef - delta}
	}

	candidates, err := store.FindCandidates(ctx, query, defaultQueryParams())
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, source.ID, candidates[0].SourceID)
	assert.Equal(t, int64(delta), candidates[0].Delta)
	assert.Equal(t, len(query), candidates[0].Matched)
}

func TestFindCandidatesSelfMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := addTestSource(t, store, "video-a", 60000)

	// Querying a source's own fingerprint aligns perfectly at delta zero.
	rows := occurrenceRun(40, 0)
	_, err := store.InsertOccurrences(ctx, source.ID, rows, 1000)
	require.NoError(t, err)

	candidates, err := store.FindCandidates(ctx, rows, defaultQueryParams())
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, source.ID, candidates[0].SourceID)
	assert.Equal(t, int64(0), candidates[0].Delta)
	assert.Equal(t, len(rows), candidates[0].Matched)
}

func TestFindCandidatesMinMatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := addTestSource(t, store, "video-a", 60000)

	indexed := occurrenceRun(3, 10)
	_, err := store.InsertOccurrences(ctx, source.ID, indexed, 1000)
	require.NoError(t, err)

	query := make([]landmark.Occurrence, len(indexed))
	for i, occ := range indexed {
		query[i] = landmark.Occurrence{Hash: occ.Hash, TRef: occ.TRef - 10}
	}

	// Only 3 aligned hashes, below the minimum of 4.
	candidates, err := store.FindCandidates(ctx, query, defaultQueryParams())
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestFindCandidatesDeltaToleranceMerge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := addTestSource(t, store, "video-a", 60000)

	// Six hashes aligned at delta 100, four more with one frame of jitter.
	aligned := occurrenceRun(6, 100)
	jittered := make([]landmark.Occurrence, 4)
	for i := range jittered {
		jittered[i] = landmark.Occurrence{
			Hash: landmark.EncodeHash(500+i, 600+i, 20),
			TRef: uint32(200 + i + 101),
		}
	}
	_, err := store.InsertOccurrences(ctx, source.ID, append(aligned, jittered...), 1000)
	require.NoError(t, err)

	query := make([]landmark.Occurrence, 0, 10)
	for _, occ := range aligned {
		query = append(query, landmark.Occurrence{Hash: occ.Hash, TRef: occ.TRef - 100})
	}
	for i, occ := range jittered {
		query = append(query, landmark.Occurrence{Hash: occ.Hash, TRef: uint32(200 + i)})
	}

	candidates, err := store.FindCandidates(ctx, query, defaultQueryParams())
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, int64(100), candidates[0].Delta)
	assert.Equal(t, 10, candidates[0].Matched)
}

func TestFindCandidatesExcludesStopWords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := addTestSource(t, store, "video-a", 60000)

	// Ten discriminative hashes plus one hash that occurs in every source.
	ubiquitous := landmark.EncodeHash(1500, 1600, 200)
	rows := append(occurrenceRun(10, 100), landmark.Occurrence{Hash: ubiquitous, TRef: 150})
	_, err := store.InsertOccurrences(ctx, source.ID, rows, 1000)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		other := addTestSource(t, store, fmt.Sprintf("video-noise-%d", i), 60000)
		_, err := store.InsertOccurrences(ctx, other.ID, []landmark.Occurrence{
			{Hash: ubiquitous, TRef: uint32(10 * i)},
		}, 1000)
		require.NoError(t, err)
	}

	// The query aligns all eleven hashes at delta 100. With a tenth of the
	// vocabulary ignored the ubiquitous hash ranks as the one stop word, so
	// it contributes nothing, and the match still succeeds on the rest.
	query := make([]landmark.Occurrence, 0, 11)
	for _, occ := range rows[:10] {
		query = append(query, landmark.Occurrence{Hash: occ.Hash, TRef: occ.TRef - 100})
	}
	query = append(query, landmark.Occurrence{Hash: ubiquitous, TRef: 50})

	params := defaultQueryParams()
	params.IgnoreFraction = 0.1
	candidates, err := store.FindCandidates(ctx, query, params)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, source.ID, candidates[0].SourceID)
	assert.Equal(t, int64(100), candidates[0].Delta)
	assert.Equal(t, 10, candidates[0].Matched)

	// No noise source survives on the stop word alone.
	for _, c := range candidates {
		assert.Equal(t, source.ID, c.SourceID)
	}
}

func TestFindCandidatesUnrelatedQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := addTestSource(t, store, "video-a", 60000)

	_, err := store.InsertOccurrences(ctx, source.ID, occurrenceRun(50, 0), 1000)
	require.NoError(t, err)

	// A query sharing no hashes with the index yields nothing.
	unrelated := make([]landmark.Occurrence, 20)
	for i := range unrelated {
		unrelated[i] = landmark.Occurrence{
			Hash: landmark.EncodeHash(1000+i, 1100+i, 100),
			TRef: uint32(i),
		}
	}

	candidates, err := store.FindCandidates(ctx, unrelated, defaultQueryParams())
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestFindCandidatesRanking(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	strong := addTestSource(t, store, "video-strong", 60000)
	weak := addTestSource(t, store, "video-weak", 60000)

	rows := occurrenceRun(20, 50)
	_, err := store.InsertOccurrences(ctx, strong.ID, rows, 1000)
	require.NoError(t, err)
	_, err = store.InsertOccurrences(ctx, weak.ID, rows[:5], 1000)
	require.NoError(t, err)

	query := make([]landmark.Occurrence, len(rows))
	for i, occ := range rows {
		query[i] = landmark.Occurrence{Hash: occ.Hash, TRef: occ.TRef - 50}
	}

	candidates, err := store.FindCandidates(ctx, query, defaultQueryParams())
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, strong.ID, candidates[0].SourceID)
	assert.Equal(t, 20, candidates[0].Matched)
	assert.Equal(t, weak.ID, candidates[1].SourceID)
	assert.Equal(t, 5, candidates[1].Matched)
}

func TestDropStopWords(t *testing.T) {
	store := newTestStore(t)

	stats := []HashStat{
		{Hash: "aaaaaaaaaa", TotalCount: 100, SourceCount: 10},
		{Hash: "bbbbbbbbbb", TotalCount: 50, SourceCount: 8},
		{Hash: "cccccccccc", TotalCount: 2, SourceCount: 1},
		{Hash: "dddddddddd", TotalCount: 1, SourceCount: 1},
	}
	require.NoError(t, store.DB.Create(&stats).Error)

	// Half the vocabulary is ignored: the two most frequent hashes.
	hashes := []string{"aaaaaaaaaa", "bbbbbbbbbb", "cccccccccc", "dddddddddd", "eeeeeeeeee"}
	kept, err := dropStopWords(store.DB, hashes, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []string{"cccccccccc", "dddddddddd", "eeeeeeeeee"}, kept)

	// A zero fraction keeps everything.
	hashes = []string{"aaaaaaaaaa", "bbbbbbbbbb"}
	kept, err = dropStopWords(store.DB, hashes, 0)
	require.NoError(t, err)
	assert.Len(t, kept, 2)
}

func TestFetchOccurrencesForHashesCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := addTestSource(t, store, "video-a", 60000)

	h := landmark.EncodeHash(7, 8, 9)
	rows := make([]landmark.Occurrence, 10)
	for i := range rows {
		rows[i] = landmark.Occurrence{Hash: h, TRef: uint32(i)}
	}
	_, err := store.InsertOccurrences(ctx, source.ID, rows, 1000)
	require.NoError(t, err)

	got, err := store.FetchOccurrencesForHashes(ctx, []string{h}, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
