// Package store provides storage backends for DonorPipe.
//
// This file implements an SQLite-backed store for donors and dedup records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/DonorPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) InsertDonor(ctx context.Context, rec models.DonorRecord) (models.DonorRef, error) {
	d := newDonor(rec, time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO donors (id, user_id, name, phone_number, blood_group, last_donation_date, locality, panchayat, district, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.Name, d.PhoneNumber, d.BloodGroup, d.LastDonationDate,
		d.Location.Locality, d.Location.Panchayat, d.Location.District, d.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore InsertDonor failed", "error", err, "user_id", rec.UserID)
		return models.DonorRef{}, fmt.Errorf("failed to insert donor for %s: %w", rec.UserID, err)
	}
	slog.Debug("SQLiteStore InsertDonor succeeded", "user_id", rec.UserID, "id", d.ID)
	return d.Ref(), nil
}

func (s *SQLiteStore) GetDonorByUserID(ctx context.Context, userID models.UserID) (*models.DonorRef, error) {
	var ref models.DonorRef
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM donors WHERE user_id = ? ORDER BY created_at LIMIT 1`, userID).
		Scan(&ref.ID, &ref.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetDonorByUserID failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to look up donor %s: %w", userID, err)
	}
	return &ref, nil
}

func (s *SQLiteStore) SearchDonors(ctx context.Context, bloodGroup, location string) ([]models.DonorMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, phone_number, locality, panchayat, district FROM donors
		 WHERE blood_group = ? AND lower(locality || ', ' || panchayat || ', ' || district) LIKE ? ESCAPE '\'
		 ORDER BY created_at`,
		bloodGroup, likeContains(location))
	if err != nil {
		slog.Error("SQLiteStore SearchDonors query failed", "error", err)
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
	slog.Debug("SQLiteStore SearchDonors succeeded", "blood_group", bloodGroup, "count", len(matches))
	return matches, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
