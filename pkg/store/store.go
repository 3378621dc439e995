// Package store defines the persistence contract of the pipeline.
package store

import (
	"errors"

	"github.com/netlens/netlens/pkg/model"
)

// SchemaVersion is bumped whenever the schema changes. Migration is additive
// and idempotent; the store never drops or rewrites existing data.
const SchemaVersion = 2

var (
	// ErrNoBatch is returned by batch operations outside a transaction.
	ErrNoBatch = errors.New("no batch in progress")
	// ErrBatchOpen is returned when a batch is already in progress.
	ErrBatchOpen = errors.New("batch already in progress")
	// ErrSessionNotFound is returned for lookups of unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// BatchStore is the surface the batch writer needs: one transactional
// multi-row insert per flush.
type BatchStore interface {
	BeginBatch() error
	InsertRecord(rec *model.PacketRecord) error
	InsertStatistic(stat *model.StatRecord) error
	CommitBatch() error
	RollbackBatch() error
}

// SessionStore manages capture session rows.
type SessionStore interface {
	CreateSession(name string, metadata map[string]string) (int64, error)
	EndSession(id int64, packetCount, totalBytes int64, endTime float64) error
	GetSession(id int64) (*model.Session, error)
	ListSessions() ([]*model.Session, error)
}

// Store is the full persistence surface.
type Store interface {
	BatchStore
	SessionStore

	// CleanupOlderThan removes packets and statistics older than the given
	// number of days, plus sessions that ended before the cutoff. It
	// returns the number of rows deleted.
	CleanupOlderThan(days int) (int64, error)

	Close() error
}
