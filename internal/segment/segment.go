// Package segment implements query-path segment sampling: long fingerprints
// are thinned to evenly spaced contiguous windows at a length-dependent
// density before being sent to candidate search.
package segment

import (
	"math"

	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/errors"
	"github.com/sonicgen/sonicgen/internal/landmark"
)

// ErrTooShort is returned when a fingerprint is below the matchable
// minimum. Callers mark the source too_short instead of matching.
var ErrTooShort = errors.NewStd("fingerprint too short to match")

// Plan describes the sampling density chosen for one fingerprint length.
type Plan struct {
	Length           int // total hashes in the sampled query
	NumSegments      int
	HashesPerSegment int
}

// Sampler chooses sampling plans by piecewise-linear interpolation between
// the configured anchors.
type Sampler struct {
	cfg conf.SamplerSettings
}

// NewSampler creates a Sampler with the given settings. The anchor list is
// assumed sorted by length ascending (conf validation normalizes it).
func NewSampler(cfg conf.SamplerSettings) *Sampler {
	return &Sampler{cfg: cfg}
}

// PlanFor returns the sampling plan for a fingerprint of the given length,
// or ErrTooShort when the length is below the matchable minimum.
func (s *Sampler) PlanFor(length int) (Plan, error) {
	if length < s.cfg.MinMatchable {
		return Plan{}, ErrTooShort
	}

	numSegments := interpolate(s.cfg.Anchors, length, func(a conf.SamplerAnchor) int { return a.Segments })
	perSegment := interpolate(s.cfg.Anchors, length, func(a conf.SamplerAnchor) int { return a.HashesPerSegment })

	// A plan can never ask for more hashes than the fingerprint holds.
	if perSegment > length {
		perSegment = length
	}

	return Plan{
		Length:           numSegments * perSegment,
		NumSegments:      numSegments,
		HashesPerSegment: perSegment,
	}, nil
}

// Sample thins fp to evenly spaced contiguous windows per the plan for its
// length. Each entry keeps its original t_ref. Returns ErrTooShort below
// the matchable minimum.
func (s *Sampler) Sample(fp []landmark.Occurrence) ([]landmark.Occurrence, Plan, error) {
	plan, err := s.PlanFor(len(fp))
	if err != nil {
		return nil, Plan{}, err
	}

	out := make([]landmark.Occurrence, 0, plan.Length)
	for k := 0; k < plan.NumSegments; k++ {
		start := segmentStart(len(fp), plan, k)
		out = append(out, fp[start:start+plan.HashesPerSegment]...)
	}
	return out, plan, nil
}

// segmentStart returns the start index of segment k: the windows are spread
// so the first starts at 0 and the last ends at the fingerprint's end.
func segmentStart(length int, plan Plan, k int) int {
	if plan.NumSegments <= 1 {
		return 0
	}
	return k * (length - plan.HashesPerSegment) / (plan.NumSegments - 1)
}

// interpolate evaluates one axis of the anchor curve at the given length:
// linear between neighboring anchors, rounded to nearest, clamped to the
// first and last anchor outside the covered range.
func interpolate(anchors []conf.SamplerAnchor, length int, axis func(conf.SamplerAnchor) int) int {
	if len(anchors) == 0 {
		return 0
	}
	if length <= anchors[0].Length {
		return axis(anchors[0])
	}
	last := anchors[len(anchors)-1]
	if length >= last.Length {
		return axis(last)
	}
	for i := 0; i < len(anchors)-1; i++ {
		lo, hi := anchors[i], anchors[i+1]
		if length < lo.Length || length >= hi.Length {
			continue
		}
		t := float64(length-lo.Length) / float64(hi.Length-lo.Length)
		v := float64(axis(lo)) + t*float64(axis(hi)-axis(lo))
		return int(math.Round(v))
	}
	return axis(last)
}
