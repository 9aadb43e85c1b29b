package gateway

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/BTreeMap/DonorPipe/internal/store"
)

// LocalGateway serves donor operations from the local SQL store.
type LocalGateway struct {
	repo store.DonorRepo
}

// NewLocalGateway creates a gateway over repo.
func NewLocalGateway(repo store.DonorRepo) *LocalGateway {
	return &LocalGateway{repo: repo}
}

func (g *LocalGateway) LookupDonorByUserID(ctx context.Context, userID models.UserID) (*models.DonorRef, error) {
	ref, err := g.repo.GetDonorByUserID(ctx, userID)
	return ref, wrap("lookupDonorByUserId", err)
}

func (g *LocalGateway) CreateDonor(ctx context.Context, rec models.DonorRecord) (models.DonorRef, error) {
	ref, err := g.repo.InsertDonor(ctx, rec)
	if err != nil {
		return models.DonorRef{}, wrap("createDonor", err)
	}
	slog.Debug("LocalGateway.CreateDonor: stored", "user_id", rec.UserID, "id", ref.ID)
	return ref, nil
}

func (g *LocalGateway) FindDonors(ctx context.Context, bloodGroup, location string) ([]models.DonorMatch, error) {
	matches, err := g.repo.SearchDonors(ctx, bloodGroup, location)
	return matches, wrap("findDonors", err)
}

var _ Gateway = (*LocalGateway)(nil)
