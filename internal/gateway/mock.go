package gateway

import (
	"context"
	"sync"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

// FindCall records one FindDonors invocation on a MockGateway.
type FindCall struct {
	BloodGroup string
	Location   string
}

// MockGateway is an in-memory Gateway for tests. It records every call.
// Set the Err fields to make the matching operation fail.
type MockGateway struct {
	mu sync.Mutex

	Donors  map[models.UserID]models.DonorRef
	Matches []models.DonorMatch

	LookupErr error
	CreateErr error
	FindErr   error

	Created []models.DonorRecord
	Finds   []FindCall
	Lookups []models.UserID

	// CreateHook runs inside CreateDonor before it returns.
	CreateHook func(models.DonorRecord)
}

// NewMockGateway creates an empty MockGateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{Donors: make(map[models.UserID]models.DonorRef)}
}

// LookupDonorByUserID implements Gateway.
func (m *MockGateway) LookupDonorByUserID(ctx context.Context, userID models.UserID) (*models.DonorRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lookups = append(m.Lookups, userID)
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	if ref, ok := m.Donors[userID]; ok {
		return &ref, nil
	}
	return nil, nil
}

// CreateDonor implements Gateway.
func (m *MockGateway) CreateDonor(ctx context.Context, rec models.DonorRecord) (models.DonorRef, error) {
	m.mu.Lock()
	m.Created = append(m.Created, rec)
	hook := m.CreateHook
	err := m.CreateErr
	m.mu.Unlock()
	if hook != nil {
		hook(rec)
	}
	if err != nil {
		return models.DonorRef{}, err
	}
	ref := models.DonorRef{ID: "donor-" + rec.UserID.String(), Name: rec.Name}
	m.mu.Lock()
	m.Donors[rec.UserID] = ref
	m.mu.Unlock()
	return ref, nil
}

// FindDonors implements Gateway.
func (m *MockGateway) FindDonors(ctx context.Context, bloodGroup, location string) ([]models.DonorMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Finds = append(m.Finds, FindCall{BloodGroup: bloodGroup, Location: location})
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	return append([]models.DonorMatch(nil), m.Matches...), nil
}

// CreatedCount returns the number of CreateDonor calls.
func (m *MockGateway) CreatedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Created)
}

// FindCount returns the number of FindDonors calls.
func (m *MockGateway) FindCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Finds)
}

var _ Gateway = (*MockGateway)(nil)
