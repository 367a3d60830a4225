// Package search turns ranked candidates from the index into a match
// decision. The index performs stop-word filtering, probing, bucketing and
// delta smoothing; this package applies the final length-aware threshold.
package search

// Candidate is one (source, delta) bucket returned by the index, after
// per-source delta smoothing, ranked by matched count descending.
type Candidate struct {
	SourceID string
	Delta    int64 // t_ref in index minus t_ref in query, in frames
	Matched  int   // distinct query hashes agreeing on this delta
}

// Decision is the outcome of matching one query against the index.
type Decision struct {
	Matched  bool
	SourceID string  // canonical source, set when Matched
	OffsetMs int64   // time offset of the query inside the source, set when Matched
	Score    float64 // matched count over query size
}

// Decide applies the match threshold to the top candidate. querySize is the
// length of the sampled query list; hop and sampleRate convert the winning
// delta to milliseconds. An empty candidate list or empty query yields a
// clean no-match, never an error.
func Decide(candidates []Candidate, querySize int, threshold float64, hop, sampleRate int) Decision {
	if len(candidates) == 0 || querySize == 0 {
		return Decision{}
	}

	best := candidates[0]
	score := float64(best.Matched) / float64(querySize)
	if score < threshold {
		return Decision{Score: score}
	}

	return Decision{
		Matched:  true,
		SourceID: best.SourceID,
		OffsetMs: best.Delta * int64(hop) * 1000 / int64(sampleRate),
		Score:    score,
	}
}
