package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Audio.SampleRate = 22050
	s.Spectral.NFFT = 2048
	s.Spectral.Hop = 512
	s.Landmark = LandmarkSettings{
		PeakNeighborhoodFreq: 20,
		PeakNeighborhoodTime: 20,
		PeakPercentile:       75,
		FanDT:                200,
		FanDF:                100,
		FanOut:               10,
	}
	s.Sampler = SamplerSettings{
		MinMatchable: 10000,
		Anchors: []SamplerAnchor{
			{Length: 10000, Segments: 3, HashesPerSegment: 1000},
			{Length: 50000, Segments: 5, HashesPerSegment: 1500},
		},
	}
	s.Match = MatchSettings{
		IgnoreFraction:  0.01,
		MinMatches:      6,
		MaxHitsPerHash:  1000,
		LimitCandidates: 50,
		DeltaTolerance:  1,
		MatchThreshold:  0.10,
	}
	s.Ingest = IngestSettings{
		MinFingerprintCount: 10000,
		InsertChunk:         10000,
		Workers:             4,
		ClaimBatch:          8,
		PerSourceTimeout:    10 * time.Minute,
		RetryMaxElapsed:     30 * time.Second,
	}
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = "test.db"
	return s
}

func TestValidateSettingsAcceptsDefaults(t *testing.T) {
	assert.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsRejections(t *testing.T) {
	tests := []struct {
		name  string
		mutate func(*Settings)
	}{
		{"non power of two nfft", func(s *Settings) { s.Spectral.NFFT = 2000 }},
		{"zero hop", func(s *Settings) { s.Spectral.Hop = 0 }},
		{"fan dt exceeds hash encoding", func(s *Settings) { s.Landmark.FanDT = 256 }},
		{"zero fan out", func(s *Settings) { s.Landmark.FanOut = 0 }},
		{"percentile out of range", func(s *Settings) { s.Landmark.PeakPercentile = 101 }},
		{"empty anchors", func(s *Settings) { s.Sampler.Anchors = nil }},
		{"ignore fraction of one", func(s *Settings) { s.Match.IgnoreFraction = 1 }},
		{"zero threshold", func(s *Settings) { s.Match.MatchThreshold = 0 }},
		{"no backend", func(s *Settings) {
			s.Output.SQLite.Enabled = false
			s.Output.MySQL.Enabled = false
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := validSettings()
			tc.mutate(s)
			assert.Error(t, ValidateSettings(s))
		})
	}
}

func TestValidateSettingsSortsAnchors(t *testing.T) {
	s := validSettings()
	s.Sampler.Anchors = []SamplerAnchor{
		{Length: 50000, Segments: 5, HashesPerSegment: 1500},
		{Length: 10000, Segments: 3, HashesPerSegment: 1000},
	}

	require.NoError(t, ValidateSettings(s))
	assert.Equal(t, 10000, s.Sampler.Anchors[0].Length)
	assert.Equal(t, 50000, s.Sampler.Anchors[1].Length)
}
