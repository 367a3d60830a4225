// conf/validate.go settings validation
package conf

import (
	"errors"
	"fmt"
	"sort"
)

// ValidateSettings checks the loaded settings for values the engine cannot
// operate with. It normalizes the sampler anchor list to ascending length
// order so interpolation can assume it.
func ValidateSettings(s *Settings) error {
	var errs []error

	if s.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.samplerate must be positive, got %d", s.Audio.SampleRate))
	}
	if s.Spectral.NFFT <= 0 || s.Spectral.NFFT&(s.Spectral.NFFT-1) != 0 {
		errs = append(errs, fmt.Errorf("spectral.nfft must be a positive power of two, got %d", s.Spectral.NFFT))
	}
	if s.Spectral.Hop <= 0 {
		errs = append(errs, fmt.Errorf("spectral.hop must be positive, got %d", s.Spectral.Hop))
	}
	if s.Landmark.PeakNeighborhoodFreq <= 0 || s.Landmark.PeakNeighborhoodTime <= 0 {
		errs = append(errs, errors.New("landmark peak neighborhood radii must be positive"))
	}
	if s.Landmark.PeakPercentile < 0 || s.Landmark.PeakPercentile > 100 {
		errs = append(errs, fmt.Errorf("landmark.peakpercentile must be within [0, 100], got %g", s.Landmark.PeakPercentile))
	}
	// The hash token packs dt into 8 bits and the frequency bins into 16
	// bits each, so the fan window and FFT size are bounded by the encoding.
	if s.Landmark.FanDT < 1 || s.Landmark.FanDT > 255 {
		errs = append(errs, fmt.Errorf("landmark.fandt must be within [1, 255], got %d", s.Landmark.FanDT))
	}
	if s.Spectral.NFFT/2+1 > 1<<16 {
		errs = append(errs, fmt.Errorf("spectral.nfft yields %d bins, exceeding the hash encoding", s.Spectral.NFFT/2+1))
	}
	if s.Landmark.FanDF < 0 {
		errs = append(errs, fmt.Errorf("landmark.fandf must be non-negative, got %d", s.Landmark.FanDF))
	}
	if s.Landmark.FanOut < 1 {
		errs = append(errs, fmt.Errorf("landmark.fanout must be at least 1, got %d", s.Landmark.FanOut))
	}

	if s.Sampler.MinMatchable < 1 {
		errs = append(errs, fmt.Errorf("sampler.minmatchable must be at least 1, got %d", s.Sampler.MinMatchable))
	}
	if len(s.Sampler.Anchors) == 0 {
		errs = append(errs, errors.New("sampler.anchors must not be empty"))
	}
	sort.Slice(s.Sampler.Anchors, func(i, j int) bool {
		return s.Sampler.Anchors[i].Length < s.Sampler.Anchors[j].Length
	})
	for _, a := range s.Sampler.Anchors {
		if a.Segments < 1 || a.HashesPerSegment < 1 || a.Length < 1 {
			errs = append(errs, fmt.Errorf("sampler anchor %+v has non-positive values", a))
			break
		}
	}

	if s.Match.IgnoreFraction < 0 || s.Match.IgnoreFraction >= 1 {
		errs = append(errs, fmt.Errorf("match.ignorefraction must be within [0, 1), got %g", s.Match.IgnoreFraction))
	}
	if s.Match.MinMatches < 1 {
		errs = append(errs, fmt.Errorf("match.minmatches must be at least 1, got %d", s.Match.MinMatches))
	}
	if s.Match.MaxHitsPerHash < 1 {
		errs = append(errs, fmt.Errorf("match.maxhitsperhash must be at least 1, got %d", s.Match.MaxHitsPerHash))
	}
	if s.Match.LimitCandidates < 1 {
		errs = append(errs, fmt.Errorf("match.limitcandidates must be at least 1, got %d", s.Match.LimitCandidates))
	}
	if s.Match.DeltaTolerance < 0 {
		errs = append(errs, fmt.Errorf("match.deltatolerance must be non-negative, got %d", s.Match.DeltaTolerance))
	}
	if s.Match.MatchThreshold <= 0 || s.Match.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("match.matchthreshold must be within (0, 1], got %g", s.Match.MatchThreshold))
	}

	if s.Ingest.InsertChunk < 1 {
		errs = append(errs, fmt.Errorf("ingest.insertchunk must be at least 1, got %d", s.Ingest.InsertChunk))
	}
	if s.Ingest.Workers < 1 {
		errs = append(errs, fmt.Errorf("ingest.workers must be at least 1, got %d", s.Ingest.Workers))
	}
	if s.Ingest.ClaimBatch < 1 {
		errs = append(errs, fmt.Errorf("ingest.claimbatch must be at least 1, got %d", s.Ingest.ClaimBatch))
	}

	if !s.Output.SQLite.Enabled && !s.Output.MySQL.Enabled {
		errs = append(errs, errors.New("no index backend enabled, enable output.sqlite or output.mysql"))
	}

	return errors.Join(errs...)
}
