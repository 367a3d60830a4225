// interfaces.go: this code defines the interface for the index operations
package datastore

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/landmark"
	"github.com/sonicgen/sonicgen/internal/search"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ClaimCursor is the keyset position of a claim scan: the duration and id
// of the last source returned. A nil cursor fetches from the head.
type ClaimCursor struct {
	DurationMs int64
	ID         string
}

// QueryParams controls the server-side candidate search.
type QueryParams struct {
	IgnoreFraction  float64 // fraction of globally most frequent hashes to exclude
	MinMatches      int     // minimum hits for a bucket to survive pre-filtering
	MaxHitsPerHash  int     // cap on occurrences probed per query hash
	LimitCandidates int     // maximum candidates returned
	DeltaTolerance  int     // frames of delta jitter merged into the best bucket
}

// IndexCounts summarizes the index for operator tooling.
type IndexCounts struct {
	Sources        int64
	Occurrences    int64
	HashStats      int64
	SourcesByState map[string]int64
}

// Interface abstracts the underlying index implementation and defines the
// operations the engine performs against it.
type Interface interface {
	Open() error
	Close() error

	AddSource(ctx context.Context, source *Source) error
	GetSource(ctx context.Context, id string) (Source, error)
	GetSourceByExternalID(ctx context.Context, externalID string) (Source, error)
	ClaimNext(ctx context.Context, limit int, cursor *ClaimCursor) ([]Source, *ClaimCursor, error)
	SetStatus(ctx context.Context, sourceID, status string, originalRef *string) error
	ResetPending(ctx context.Context) (int64, error)

	InsertOccurrences(ctx context.Context, sourceID string, rows []landmark.Occurrence, chunkSize int) (int, error)
	FindCandidates(ctx context.Context, query []landmark.Occurrence, params QueryParams) ([]search.Candidate, error)
	DeleteSource(ctx context.Context, sourceID string) error

	FetchOccurrencesBySource(ctx context.Context, sourceID string, limit int) ([]Occurrence, error)
	FetchOccurrencesForHashes(ctx context.Context, hashes []string, limitPerHash int) ([]Occurrence, error)
	Counts(ctx context.Context) (IndexCounts, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a datastore instance based on the provided settings.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// AddSource registers a new source in the index. A fresh source starts
// unclaimed unless the caller set a status explicitly.
func (ds *DataStore) AddSource(ctx context.Context, source *Source) error {
	if source.Status == "" {
		source.Status = StatusUnclaimed
	}
	if err := ds.DB.WithContext(ctx).Create(source).Error; err != nil {
		return fmt.Errorf("adding source %s: %w", source.ExternalID, err)
	}
	return nil
}

// GetSource retrieves a source by its id.
func (ds *DataStore) GetSource(ctx context.Context, id string) (Source, error) {
	var source Source
	if err := ds.DB.WithContext(ctx).First(&source, "id = ?", id).Error; err != nil {
		return Source{}, fmt.Errorf("getting source %s: %w", id, err)
	}
	return source, nil
}

// GetSourceByExternalID retrieves a source by its external id.
func (ds *DataStore) GetSourceByExternalID(ctx context.Context, externalID string) (Source, error) {
	var source Source
	if err := ds.DB.WithContext(ctx).First(&source, "external_id = ?", externalID).Error; err != nil {
		return Source{}, fmt.Errorf("getting source by external id %s: %w", externalID, err)
	}
	return source, nil
}

// FetchOccurrencesBySource retrieves up to limit occurrence rows of one
// source, in (hash, t_ref) order.
func (ds *DataStore) FetchOccurrencesBySource(ctx context.Context, sourceID string, limit int) ([]Occurrence, error) {
	var rows []Occurrence
	err := ds.DB.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("hash ASC, t_ref ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetching occurrences for source %s: %w", sourceID, err)
	}
	return rows, nil
}

// FetchOccurrencesForHashes retrieves occurrences of specific hash values,
// capped per hash. Used by inspection tooling.
func (ds *DataStore) FetchOccurrencesForHashes(ctx context.Context, hashes []string, limitPerHash int) ([]Occurrence, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	var rows []Occurrence
	err := ds.DB.WithContext(ctx).Raw(`
		SELECT hash, source_id, t_ref FROM (
			SELECT hash, source_id, t_ref,
			       ROW_NUMBER() OVER (PARTITION BY hash ORDER BY source_id ASC, t_ref ASC) AS rn
			FROM occurrences
			WHERE hash IN ?
		) ranked
		WHERE rn <= ?
		ORDER BY hash ASC, source_id ASC, t_ref ASC`, hashes, limitPerHash).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetching occurrences for hashes: %w", err)
	}
	return rows, nil
}

// Counts returns the index summary.
func (ds *DataStore) Counts(ctx context.Context) (IndexCounts, error) {
	counts := IndexCounts{SourcesByState: make(map[string]int64)}
	db := ds.DB.WithContext(ctx)

	if err := db.Model(&Source{}).Count(&counts.Sources).Error; err != nil {
		return counts, fmt.Errorf("counting sources: %w", err)
	}
	if err := db.Model(&Occurrence{}).Count(&counts.Occurrences).Error; err != nil {
		return counts, fmt.Errorf("counting occurrences: %w", err)
	}
	if err := db.Model(&HashStat{}).Count(&counts.HashStats).Error; err != nil {
		return counts, fmt.Errorf("counting hash stats: %w", err)
	}

	var byStatus []struct {
		Status string
		N      int64
	}
	if err := db.Model(&Source{}).Select("status, COUNT(*) AS n").Group("status").Scan(&byStatus).Error; err != nil {
		return counts, fmt.Errorf("counting sources by status: %w", err)
	}
	for _, row := range byStatus {
		counts.SourcesByState[row.Status] = row.N
	}
	return counts, nil
}

// performAutoMigration migrates the index schema.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Source{}, &Occurrence{}, &HashStat{}); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}

	return nil
}

// createGormLogger returns a GORM logger for index queries.
func createGormLogger(debug bool) logger.Interface {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      level,
			Colorful:      true,
		},
	)
}
