// Package store provides storage backends for DonorPipe.
//
// This file implements a PostgreSQL-backed store for donors and dedup records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/DonorPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) InsertDonor(ctx context.Context, rec models.DonorRecord) (models.DonorRef, error) {
	d := newDonor(rec, time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO donors (id, user_id, name, phone_number, blood_group, last_donation_date, locality, panchayat, district, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.UserID, d.Name, d.PhoneNumber, d.BloodGroup, d.LastDonationDate,
		d.Location.Locality, d.Location.Panchayat, d.Location.District, d.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore InsertDonor failed", "error", err, "user_id", rec.UserID)
		return models.DonorRef{}, fmt.Errorf("failed to insert donor for %s: %w", rec.UserID, err)
	}
	slog.Debug("PostgresStore InsertDonor succeeded", "user_id", rec.UserID, "id", d.ID)
	return d.Ref(), nil
}

func (s *PostgresStore) GetDonorByUserID(ctx context.Context, userID models.UserID) (*models.DonorRef, error) {
	var ref models.DonorRef
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM donors WHERE user_id = $1 ORDER BY created_at LIMIT 1`, userID).
		Scan(&ref.ID, &ref.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetDonorByUserID failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to look up donor %s: %w", userID, err)
	}
	return &ref, nil
}

func (s *PostgresStore) SearchDonors(ctx context.Context, bloodGroup, location string) ([]models.DonorMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, phone_number, locality, panchayat, district FROM donors
		 WHERE blood_group = $1 AND lower(locality || ', ' || panchayat || ', ' || district) LIKE $2 ESCAPE '\'
		 ORDER BY created_at`,
		bloodGroup, likeContains(location))
	if err != nil {
		slog.Error("PostgresStore SearchDonors query failed", "error", err)
		return nil, fmt.Errorf("failed to query donors: %w", err)
	}
	defer rows.Close()

	var matches []models.DonorMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan donor row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate donor rows: %w", err)
	}
	slog.Debug("PostgresStore SearchDonors succeeded", "blood_group", bloodGroup, "count", len(matches))
	return matches, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
