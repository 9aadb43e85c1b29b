package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

// DefaultTimeout bounds every gateway call made by the conversation engine.
const DefaultTimeout = 10 * time.Second

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout wraps next so each call runs under its own deadline.
// An expired deadline is reported as ErrTimeout. A non-positive d returns next unchanged.
func WithTimeout(next Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return next
	}
	return &timeoutGateway{next: next, timeout: d}
}

func (g *timeoutGateway) LookupDonorByUserID(ctx context.Context, userID models.UserID) (*models.DonorRef, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ref, err := g.next.LookupDonorByUserID(ctx, userID)
	return ref, g.check(ctx, "lookupDonorByUserId", err)
}

func (g *timeoutGateway) CreateDonor(ctx context.Context, rec models.DonorRecord) (models.DonorRef, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ref, err := g.next.CreateDonor(ctx, rec)
	return ref, g.check(ctx, "createDonor", err)
}

func (g *timeoutGateway) FindDonors(ctx context.Context, bloodGroup, location string) ([]models.DonorMatch, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	matches, err := g.next.FindDonors(ctx, bloodGroup, location)
	return matches, g.check(ctx, "findDonors", err)
}

func (g *timeoutGateway) check(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s after %s: %w", op, g.timeout, ErrTimeout)
	}
	return err
}
