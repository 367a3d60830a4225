package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/datastore"
	"github.com/sonicgen/sonicgen/internal/logging"
)

// Dispatcher claims unclaimed sources in keyset batches and fans them out to
// a fixed pool of processing workers. Sources are claimed longest first so
// the heaviest work starts as early as possible.
type Dispatcher struct {
	settings  *conf.Settings
	store     datastore.Interface
	processor *Processor
	logger    *slog.Logger
}

// NewDispatcher wires a dispatcher and its processor from settings.
func NewDispatcher(settings *conf.Settings, store datastore.Interface, fetcher Fetcher) *Dispatcher {
	logger := logging.ForService("dispatcher")
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		settings:  settings,
		store:     store,
		processor: NewProcessor(settings, store, fetcher),
		logger:    logger,
	}
}

// Stats counts outcomes of one dispatcher run.
type Stats struct {
	mu       sync.Mutex
	byStatus map[string]int
	failed   int
}

func newStats() *Stats {
	return &Stats{byStatus: make(map[string]int)}
}

func (s *Stats) record(status string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStatus[status]++
	if err != nil {
		s.failed++
	}
}

// ByStatus returns the per-status outcome counts.
func (s *Stats) ByStatus() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.byStatus))
	for k, v := range s.byStatus {
		out[k] = v
	}
	return out
}

// Failed returns how many sources ended with an error.
func (s *Stats) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Run processes the unclaimed backlog until it is drained or the context is
// canceled. Workers drain in-flight sources before Run returns, so claimed
// work is never abandoned mid-source by a graceful shutdown.
func (d *Dispatcher) Run(ctx context.Context) (*Stats, error) {
	workers := d.settings.Ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	claimBatch := d.settings.Ingest.ClaimBatch
	if claimBatch <= 0 {
		claimBatch = workers
	}

	stats := newStats()
	work := make(chan datastore.Source)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for source := range work {
				d.processOne(ctx, id, source, stats)
			}
		}(i)
	}

	var cursor *datastore.ClaimCursor
	var runErr error
feed:
	for {
		claimed, next, err := d.store.ClaimNext(ctx, claimBatch, cursor)
		if err != nil {
			runErr = fmt.Errorf("claiming sources: %w", err)
			break
		}
		if next == nil {
			break
		}
		cursor = next

		for _, source := range claimed {
			select {
			case work <- source:
			case <-ctx.Done():
				// Unsent claims stay pending; ResetPending recovers them.
				runErr = ctx.Err()
				break feed
			}
		}
	}

	close(work)
	wg.Wait()

	d.logger.Info("dispatcher run finished",
		"outcomes", stats.ByStatus(),
		"failed", stats.Failed())
	return stats, runErr
}

// processOne runs a single source through the processor, converting panics
// into a flagged status so one bad source cannot take down the pool.
func (d *Dispatcher) processOne(ctx context.Context, workerID int, source datastore.Source, stats *Stats) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("worker panic, flagging source",
				"worker", workerID,
				"source_id", source.ID,
				"panic", r)
			if err := d.store.SetStatus(ctx, source.ID, datastore.StatusFlagged, nil); err != nil {
				d.logger.Error("failed to flag source after panic",
					"source_id", source.ID, "error", err)
			}
			stats.record(datastore.StatusFlagged, fmt.Errorf("panic: %v", r))
		}
	}()

	result, err := d.processor.ProcessSource(ctx, &source)
	stats.record(result.Status, err)

	switch {
	case err != nil:
		d.logger.Error("source processing failed",
			"worker", workerID,
			"source_id", source.ID,
			"status", result.Status,
			"error", err)
	case result.Status == datastore.StatusMatched:
		d.logger.Info("source matched",
			"worker", workerID,
			"source_id", source.ID,
			"original_id", result.OriginalID,
			"offset_ms", result.OffsetMs,
			"elapsed", result.Elapsed)
	default:
		d.logger.Info("source processed",
			"worker", workerID,
			"source_id", source.ID,
			"status", result.Status,
			"fingerprint", result.Fingerprint,
			"inserted", result.Inserted,
			"elapsed", result.Elapsed)
	}
}
