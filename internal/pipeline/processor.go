// Package pipeline drives sources through the fingerprinting lifecycle:
// claim, fetch, decode, fingerprint, match against the index, then either
// link the source to its original or ingest it as a new canonical entry.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sonicgen/sonicgen/internal/audiofile"
	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/datastore"
	"github.com/sonicgen/sonicgen/internal/errors"
	"github.com/sonicgen/sonicgen/internal/landmark"
	"github.com/sonicgen/sonicgen/internal/logging"
	"github.com/sonicgen/sonicgen/internal/search"
	"github.com/sonicgen/sonicgen/internal/segment"
	"github.com/sonicgen/sonicgen/internal/spectral"
)

// Processor fingerprints one source at a time against a shared index.
type Processor struct {
	settings  *conf.Settings
	store     datastore.Interface
	fetcher   Fetcher
	analyzer  *spectral.Analyzer
	extractor *landmark.Extractor
	sampler   *segment.Sampler
	logger    *slog.Logger
}

// NewProcessor wires a processor from settings.
func NewProcessor(settings *conf.Settings, store datastore.Interface, fetcher Fetcher) *Processor {
	logger := logging.ForService("pipeline")
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		settings:  settings,
		store:     store,
		fetcher:   fetcher,
		analyzer:  spectral.NewAnalyzer(settings.Audio.SampleRate, settings.Spectral.NFFT, settings.Spectral.Hop),
		extractor: landmark.NewExtractor(settings.Landmark),
		sampler:   segment.NewSampler(settings.Sampler),
		logger:    logger,
	}
}

// Result summarizes the outcome of processing one source.
type Result struct {
	SourceID    string
	Status      string
	OriginalID  string // set when Status is matched
	OffsetMs    int64  // set when Status is matched
	Fingerprint int    // hashes extracted
	Inserted    int    // rows written, zero for matched sources
	Elapsed     time.Duration
}

// ProcessSource runs one pending source through the full pipeline and
// records its terminal status. Decode and fetch failures flag the source;
// index errors that outlast the retry budget leave it pending so a later
// run can pick it up again.
func (p *Processor) ProcessSource(ctx context.Context, source *datastore.Source) (Result, error) {
	start := time.Now()
	result := Result{SourceID: source.ID}

	if p.settings.Ingest.PerSourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.settings.Ingest.PerSourceTimeout)
		defer cancel()
	}

	fp, err := p.fingerprint(ctx, source)
	if err != nil {
		result.Status = datastore.StatusFlagged
		result.Elapsed = time.Since(start)
		if stErr := p.store.SetStatus(context.WithoutCancel(ctx), source.ID, datastore.StatusFlagged, nil); stErr != nil {
			return result, errors.Join(err, stErr)
		}
		return result, err
	}
	result.Fingerprint = len(fp)

	if len(fp) < p.settings.Ingest.MinFingerprintCount {
		result.Status = datastore.StatusTooShort
		result.Elapsed = time.Since(start)
		return result, p.store.SetStatus(ctx, source.ID, datastore.StatusTooShort, nil)
	}

	var decision search.Decision
	query, plan, err := p.sampler.Sample(fp)
	switch {
	case err == nil:
		p.logger.Debug("sampled query",
			"source_id", source.ID,
			"fingerprint", len(fp),
			"segments", plan.NumSegments,
			"query_size", len(query))

		decision, err = p.match(ctx, query)
		if err != nil {
			result.Elapsed = time.Since(start)
			if ctx.Err() != nil {
				// Out of time budget for this source.
				result.Status = datastore.StatusFlagged
				if stErr := p.store.SetStatus(context.WithoutCancel(ctx), source.ID, datastore.StatusFlagged, nil); stErr != nil {
					return result, errors.Join(err, stErr)
				}
				return result, err
			}
			// Retry budget exhausted; the source stays pending.
			result.Status = datastore.StatusPending
			return result, err
		}
	case errors.Is(err, segment.ErrTooShort):
		// Long enough to store, too short to match reliably. Skip the
		// index lookup and store it as a new canonical entry.
	default:
		result.Status = datastore.StatusPending
		result.Elapsed = time.Since(start)
		return result, err
	}

	if decision.Matched && decision.SourceID != source.ID {
		result.Status = datastore.StatusMatched
		result.OriginalID = decision.SourceID
		result.OffsetMs = decision.OffsetMs
		result.Elapsed = time.Since(start)
		return result, p.store.SetStatus(ctx, source.ID, datastore.StatusMatched, &decision.SourceID)
	}

	inserted, err := p.ingest(ctx, source.ID, fp)
	if err != nil {
		result.Elapsed = time.Since(start)
		if ctx.Err() != nil {
			result.Status = datastore.StatusFlagged
			if stErr := p.store.SetStatus(context.WithoutCancel(ctx), source.ID, datastore.StatusFlagged, nil); stErr != nil {
				return result, errors.Join(err, stErr)
			}
			return result, err
		}
		result.Status = datastore.StatusPending
		return result, err
	}
	result.Inserted = inserted
	result.Status = datastore.StatusFingerprinted
	result.Elapsed = time.Since(start)
	return result, p.store.SetStatus(ctx, source.ID, datastore.StatusFingerprinted, nil)
}

// IngestSource fingerprints a pending source and stores it unconditionally,
// skipping the duplicate lookup. Operator tooling uses it for sources known
// to be new canonical entries.
func (p *Processor) IngestSource(ctx context.Context, source *datastore.Source) (Result, error) {
	start := time.Now()
	result := Result{SourceID: source.ID}

	if p.settings.Ingest.PerSourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.settings.Ingest.PerSourceTimeout)
		defer cancel()
	}

	fp, err := p.fingerprint(ctx, source)
	if err != nil {
		result.Status = datastore.StatusFlagged
		result.Elapsed = time.Since(start)
		if stErr := p.store.SetStatus(context.WithoutCancel(ctx), source.ID, datastore.StatusFlagged, nil); stErr != nil {
			return result, errors.Join(err, stErr)
		}
		return result, err
	}
	result.Fingerprint = len(fp)

	if len(fp) < p.settings.Ingest.MinFingerprintCount {
		result.Status = datastore.StatusTooShort
		result.Elapsed = time.Since(start)
		return result, p.store.SetStatus(ctx, source.ID, datastore.StatusTooShort, nil)
	}

	inserted, err := p.ingest(ctx, source.ID, fp)
	if err != nil {
		result.Elapsed = time.Since(start)
		if ctx.Err() != nil {
			result.Status = datastore.StatusFlagged
			if stErr := p.store.SetStatus(context.WithoutCancel(ctx), source.ID, datastore.StatusFlagged, nil); stErr != nil {
				return result, errors.Join(err, stErr)
			}
			return result, err
		}
		result.Status = datastore.StatusPending
		return result, err
	}
	result.Inserted = inserted
	result.Status = datastore.StatusFingerprinted
	result.Elapsed = time.Since(start)
	return result, p.store.SetStatus(ctx, source.ID, datastore.StatusFingerprinted, nil)
}

// fingerprint fetches and decodes the source's audio and extracts its full
// landmark fingerprint.
func (p *Processor) fingerprint(ctx context.Context, source *datastore.Source) ([]landmark.Occurrence, error) {
	path, err := p.fetcher.Fetch(ctx, source)
	if err != nil {
		return nil, err
	}

	samples, info, err := audiofile.ReadFile(path, p.settings.Audio.SampleRate)
	if err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryAudio).
			SourceContext(source.ID, "decode").
			Context("path", path).
			Build()
	}
	p.logger.Debug("decoded audio",
		"source_id", source.ID,
		"path", path,
		"duration_ms", info.DurationMs(),
		"samples", len(samples))

	spec := p.analyzer.Spectrogram(samples)
	return p.extractor.Fingerprint(spec), nil
}

// match queries the index with the sampled fingerprint and applies the
// decision threshold. Index errors are retried with exponential backoff up
// to the configured elapsed budget.
func (p *Processor) match(ctx context.Context, query []landmark.Occurrence) (search.Decision, error) {
	params := datastore.QueryParams{
		IgnoreFraction:  p.settings.Match.IgnoreFraction,
		MinMatches:      p.settings.Match.MinMatches,
		MaxHitsPerHash:  p.settings.Match.MaxHitsPerHash,
		LimitCandidates: p.settings.Match.LimitCandidates,
		DeltaTolerance:  p.settings.Match.DeltaTolerance,
	}

	var candidates []search.Candidate
	op := func() error {
		var err error
		candidates, err = p.store.FindCandidates(ctx, query, params)
		return err
	}
	if err := backoff.Retry(op, p.retryPolicy(ctx)); err != nil {
		return search.Decision{}, errors.New(err).
			Component("pipeline").
			Category(errors.CategorySearch).
			Build()
	}

	return search.Decide(candidates, len(query),
		p.settings.Match.MatchThreshold,
		p.settings.Spectral.Hop,
		p.settings.Audio.SampleRate), nil
}

// ingest writes the full fingerprint with retries.
func (p *Processor) ingest(ctx context.Context, sourceID string, fp []landmark.Occurrence) (int, error) {
	var inserted int
	op := func() error {
		var err error
		inserted, err = p.store.InsertOccurrences(ctx, sourceID, fp, p.settings.Ingest.InsertChunk)
		return err
	}
	if err := backoff.Retry(op, p.retryPolicy(ctx)); err != nil {
		return inserted, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryIngest).
			SourceContext(sourceID, "ingest").
			Build()
	}
	return inserted, nil
}

func (p *Processor) retryPolicy(ctx context.Context) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = p.settings.Ingest.RetryMaxElapsed
	return backoff.WithContext(policy, ctx)
}
