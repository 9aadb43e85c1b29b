// Package store provides the DonorRepo interface for the local donor table.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

// Donor is a stored donor row.
type Donor struct {
	ID string `json:"id"`
	models.DonorRecord
	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the id/name pair handed back to the conversation layer.
func (d Donor) Ref() models.DonorRef {
	return models.DonorRef{ID: d.ID, Name: d.Name}
}

// Match returns the fields shown to a requester.
func (d Donor) Match() models.DonorMatch {
	return models.DonorMatch{Name: d.Name, PhoneNumber: d.PhoneNumber, Location: d.Location}
}

// DonorRepo defines the interface for donor persistence.
type DonorRepo interface {
	// InsertDonor stores a new donor and returns its reference.
	InsertDonor(ctx context.Context, rec models.DonorRecord) (models.DonorRef, error)

	// GetDonorByUserID returns the first donor registered by userID, or nil if none exists.
	GetDonorByUserID(ctx context.Context, userID models.UserID) (*models.DonorRef, error)

	// SearchDonors returns donors with exactly bloodGroup whose rendered location
	// contains location, ignoring case. An empty location matches every donor.
	SearchDonors(ctx context.Context, bloodGroup, location string) ([]models.DonorMatch, error)
}

// likeContains builds a LIKE pattern matching values that contain sub, with '\' as the escape character.
func likeContains(sub string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(strings.TrimSpace(sub))) + "%"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(rows rowScanner) (models.DonorMatch, error) {
	var m models.DonorMatch
	err := rows.Scan(&m.Name, &m.PhoneNumber, &m.Location.Locality, &m.Location.Panchayat, &m.Location.District)
	return m, err
}
