// Package gateway is the boundary to the external donor data service.
//
// The conversation engine treats every operation here as an opaque remote call.
// Implementations exist for a Hygraph GraphQL endpoint, a Supabase (PostgREST)
// table and the local SQL store.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

// Error variables for better error handling and testability
var (
	// ErrGateway wraps every failure contacting the data service.
	ErrGateway = errors.New("data gateway failure")
	// ErrTimeout is returned when a call exceeds the configured deadline. It wraps ErrGateway.
	ErrTimeout = fmt.Errorf("%w: timeout", ErrGateway)
	// ErrUnknownKind is returned by New for an unrecognized gateway kind.
	ErrUnknownKind = errors.New("unknown gateway kind")
)

// Gateway defines the donor data operations the conversation engine depends on.
type Gateway interface {
	// LookupDonorByUserID returns the donor registered for userID, or nil if there is none.
	LookupDonorByUserID(ctx context.Context, userID models.UserID) (*models.DonorRef, error)
	// CreateDonor registers a new donor.
	CreateDonor(ctx context.Context, rec models.DonorRecord) (models.DonorRef, error)
	// FindDonors returns donors with the given blood group whose location contains location.
	FindDonors(ctx context.Context, bloodGroup, location string) ([]models.DonorMatch, error)
}

// wrap marks err as a gateway failure unless it already is one.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrGateway) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrGateway, err)
}
