package gateway

import (
	"context"
	"fmt"

	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/supabase-community/supabase-go"
)

const supabaseDonorsTable = "donors"

// donorRow is a row of the Supabase "donors" table.
type donorRow struct {
	ID               string `json:"id,omitempty"`
	TelegramID       string `json:"telegram_id"`
	Name             string `json:"name"`
	PhoneNumber      string `json:"phone_number"`
	BloodGroup       string `json:"blood_group"`
	LastDonationDate string `json:"last_donation_date"`
	Locality         string `json:"locality"`
	Panchayat        string `json:"panchayat"`
	District         string `json:"district"`
}

func (r donorRow) location() models.Location {
	return models.Location{Locality: r.Locality, Panchayat: r.Panchayat, District: r.District}
}

// SupabaseGateway stores donors in a Supabase table through PostgREST.
type SupabaseGateway struct {
	client *supabase.Client
}

// NewSupabaseGateway creates a gateway for the project at url.
func NewSupabaseGateway(url, key string) (*SupabaseGateway, error) {
	if url == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if key == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseGateway{client: client}, nil
}

func (g *SupabaseGateway) LookupDonorByUserID(ctx context.Context, userID models.UserID) (*models.DonorRef, error) {
	var rows []donorRow
	err := withContext(ctx, func() error {
		_, err := g.client.From(supabaseDonorsTable).
			Select("id,name", "", false).
			Eq("telegram_id", userID.String()).
			Limit(1, "").
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, wrap("lookupDonorByUserId", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &models.DonorRef{ID: rows[0].ID, Name: rows[0].Name}, nil
}

func (g *SupabaseGateway) CreateDonor(ctx context.Context, rec models.DonorRecord) (models.DonorRef, error) {
	row := donorRow{
		TelegramID:       rec.UserID.String(),
		Name:             rec.Name,
		PhoneNumber:      rec.PhoneNumber,
		BloodGroup:       rec.BloodGroup,
		LastDonationDate: rec.LastDonationDate,
		Locality:         rec.Location.Locality,
		Panchayat:        rec.Location.Panchayat,
		District:         rec.Location.District,
	}
	var created []donorRow
	err := withContext(ctx, func() error {
		_, err := g.client.From(supabaseDonorsTable).
			Insert(row, false, "", "representation", "").
			ExecuteTo(&created)
		return err
	})
	if err != nil {
		return models.DonorRef{}, wrap("createDonor", err)
	}
	if len(created) == 0 {
		return models.DonorRef{}, wrap("createDonor", fmt.Errorf("insert returned no rows"))
	}
	return models.DonorRef{ID: created[0].ID, Name: created[0].Name}, nil
}

// FindDonors filters by blood group in the query and by location locally,
// so a comma-separated location matches the same way it does in the other backends.
func (g *SupabaseGateway) FindDonors(ctx context.Context, bloodGroup, location string) ([]models.DonorMatch, error) {
	var rows []donorRow
	err := withContext(ctx, func() error {
		_, err := g.client.From(supabaseDonorsTable).
			Select("name,phone_number,locality,panchayat,district", "", false).
			Eq("blood_group", bloodGroup).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, wrap("findDonors", err)
	}
	var matches []models.DonorMatch
	for _, r := range rows {
		loc := r.location()
		if loc.Contains(location) {
			matches = append(matches, models.DonorMatch{Name: r.Name, PhoneNumber: r.PhoneNumber, Location: loc})
		}
	}
	return matches, nil
}

// withContext runs fn but returns early when ctx is done. The supabase client takes no context.
func withContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Gateway = (*SupabaseGateway)(nil)
