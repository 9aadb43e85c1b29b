// Package store provides storage backends for DonorPipe.
//
// It holds the local donor table used by the "local" data gateway and the
// inbound message dedup records. SQLite and PostgreSQL are supported, plus an
// in-memory store for tests and throwaway runs.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/google/uuid"
)

// Store is the full set of persistence operations a backend provides.
type Store interface {
	DonorRepo
	DedupRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // data source name for the database
}

// Option defines a functional option for configuring a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore is a simple in-memory store for donors and dedup records.
type InMemoryStore struct {
	mu     sync.RWMutex
	donors []Donor
	dedup  map[string]DedupRecord
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{dedup: make(map[string]DedupRecord)}
}

func (s *InMemoryStore) InsertDonor(ctx context.Context, rec models.DonorRecord) (models.DonorRef, error) {
	d := newDonor(rec, time.Now())
	s.mu.Lock()
	s.donors = append(s.donors, d)
	s.mu.Unlock()
	return d.Ref(), nil
}

func (s *InMemoryStore) GetDonorByUserID(ctx context.Context, userID models.UserID) (*models.DonorRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.donors {
		if d.UserID == userID {
			ref := d.Ref()
			return &ref, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) SearchDonors(ctx context.Context, bloodGroup, location string) ([]models.DonorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DonorMatch
	for _, d := range s.donors {
		if d.BloodGroup == bloodGroup && d.Location.Contains(location) {
			out = append(out, d.Match())
		}
	}
	return out, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, ParticipantID: userID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func newDonor(rec models.DonorRecord, now time.Time) Donor {
	return Donor{
		ID:          uuid.NewString(),
		DonorRecord: rec,
		CreatedAt:   now,
	}
}

var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
