// model.go this code defines the data model for the fingerprint index
package datastore

import "time"

// Source lifecycle statuses. Transitions are monotonic: a source moves from
// unclaimed to pending when a worker claims it, then to exactly one
// terminal status, and never leaves a terminal status.
const (
	StatusUnclaimed     = "unclaimed"
	StatusPending       = "pending"
	StatusFingerprinted = "fingerprinted"
	StatusMatched       = "matched"
	StatusTooShort      = "too_short"
	StatusFlagged       = "flagged"
)

// IsTerminalStatus reports whether a status ends the source lifecycle.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusFingerprinted, StatusMatched, StatusTooShort, StatusFlagged:
		return true
	}
	return false
}

// Source represents one canonical audio asset known to the index.
type Source struct {
	ID          string  `gorm:"primaryKey;type:varchar(36)"`
	ExternalID  string  `gorm:"uniqueIndex;not null;type:varchar(64)"` // e.g. the YouTube video id
	Title       string  `gorm:"type:varchar(255)"`
	DurationMs  int64   `gorm:"index:idx_sources_claim,priority:2"`
	OriginalRef *string `gorm:"type:varchar(36);index"` // canonical source this one duplicates, nil for originals
	Status      string  `gorm:"type:varchar(16);not null;default:unclaimed;index:idx_sources_claim,priority:1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Occurrence is one emission of a landmark hash at one frame inside one
// source. The composite primary key makes ingest idempotent.
type Occurrence struct {
	Hash     string `gorm:"primaryKey;type:char(10);index:idx_occurrences_hash"`
	SourceID string `gorm:"primaryKey;type:varchar(36);index:idx_occurrences_source"`
	TRef     uint32 `gorm:"primaryKey;autoIncrement:false"`
}

// HashStat is the maintained aggregate for one hash across the whole index:
// how many occurrences carry it and how many distinct sources contain it.
// Rows are removed when either count reaches zero.
type HashStat struct {
	Hash        string `gorm:"primaryKey;type:char(10)"`
	TotalCount  int64  `gorm:"not null;index:idx_hash_stats_total"`
	SourceCount int64  `gorm:"not null"`
}
