package query

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sonicgen/sonicgen/internal/audiofile"
	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/datastore"
	"github.com/sonicgen/sonicgen/internal/errors"
	"github.com/sonicgen/sonicgen/internal/landmark"
	"github.com/sonicgen/sonicgen/internal/search"
	"github.com/sonicgen/sonicgen/internal/segment"
	"github.com/sonicgen/sonicgen/internal/spectral"
)

// Command creates the query command for ad-hoc clip identification.
func Command(settings *conf.Settings) *cobra.Command {
	var showCandidates bool

	cmd := &cobra.Command{
		Use:   "query [clip.wav]",
		Short: "Identify the canonical source of an audio clip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, settings, args[0], showCandidates)
		},
	}

	cmd.Flags().BoolVar(&showCandidates, "candidates", false, "Print the ranked candidate list")

	return cmd
}

func runQuery(cmd *cobra.Command, settings *conf.Settings, path string, showCandidates bool) error {
	samples, _, err := audiofile.ReadFile(path, settings.Audio.SampleRate)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	analyzer := spectral.NewAnalyzer(settings.Audio.SampleRate, settings.Spectral.NFFT, settings.Spectral.Hop)
	extractor := landmark.NewExtractor(settings.Landmark)
	fp := extractor.Fingerprint(analyzer.Spectrogram(samples))
	if len(fp) == 0 {
		return fmt.Errorf("no landmarks extracted from %s", path)
	}

	// Short clips are queried with their full fingerprint; sampling only
	// thins fingerprints long enough to afford it.
	sampler := segment.NewSampler(settings.Sampler)
	query, _, err := sampler.Sample(fp)
	if err != nil {
		if !errors.Is(err, segment.ErrTooShort) {
			return err
		}
		query = fp
	}

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no index backend enabled")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	candidates, err := store.FindCandidates(cmd.Context(), query, datastore.QueryParams{
		IgnoreFraction:  settings.Match.IgnoreFraction,
		MinMatches:      settings.Match.MinMatches,
		MaxHitsPerHash:  settings.Match.MaxHitsPerHash,
		LimitCandidates: settings.Match.LimitCandidates,
		DeltaTolerance:  settings.Match.DeltaTolerance,
	})
	if err != nil {
		return err
	}

	if showCandidates {
		for _, c := range candidates {
			fmt.Printf("%s  delta=%d  matched=%d\n", c.SourceID, c.Delta, c.Matched)
		}
	}

	decision := search.Decide(candidates, len(query),
		settings.Match.MatchThreshold, settings.Spectral.Hop, settings.Audio.SampleRate)
	if !decision.Matched {
		fmt.Printf("no match (score %.3f, %d query hashes)\n", decision.Score, len(query))
		return nil
	}

	source, err := store.GetSource(cmd.Context(), decision.SourceID)
	if err != nil {
		return err
	}
	fmt.Printf("matched %s (%s) at offset %d ms, score %.3f\n",
		source.ExternalID, source.ID, decision.OffsetMs, decision.Score)
	return nil
}
