package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/BTreeMap/DonorPipe/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService is an in-process messaging.Service.
type fakeService struct {
	in chan models.InboundMessage

	mu      sync.Mutex
	replies []models.Reply
}

func newFakeService() *fakeService {
	return &fakeService{in: make(chan models.InboundMessage, 100)}
}

func (f *fakeService) ValidateAndCanonicalizeRecipient(r string) (string, error) { return r, nil }
func (f *fakeService) Start(ctx context.Context) error                           { return nil }
func (f *fakeService) Stop() error                                               { close(f.in); return nil }
func (f *fakeService) Inbound() <-chan models.InboundMessage                     { return f.in }

func (f *fakeService) SendReply(ctx context.Context, reply models.Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply)
	return nil
}

func (f *fakeService) repliesFor(userID models.UserID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.replies {
		if r.To == userID {
			out = append(out, r.Text)
		}
	}
	return out
}

func TestRunner_PreservesPerUserOrder(t *testing.T) {
	h := newHarness(t)
	svc := newFakeService()
	r := NewRunner(h.d, svc, WithWorkers(4), WithRunnerClock(func() time.Time { return t0 }))

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	for u := 0; u < 5; u++ {
		userID := models.UserID(fmt.Sprintf("user-%d", u))
		for _, text := range []string{"/requestblood", "O+", "abc", "2"} {
			svc.in <- models.NewInboundMessage(userID, "", text, t0)
		}
	}
	require.NoError(t, svc.Stop())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after the inbound channel closed")
	}

	for u := 0; u < 5; u++ {
		userID := models.UserID(fmt.Sprintf("user-%d", u))
		assert.Equal(t, []string{
			"What is your blood group? (e.g., A+, B-, O+)",
			"How many units of blood do you need?",
			"Please enter a valid number of units (a whole number greater than zero).",
			"Enter your location (Locality, Panchayat, District):",
		}, svc.repliesFor(userID), "user %s", userID)
	}
}

func TestRunner_SkipsEmptyReplies(t *testing.T) {
	h := newHarness(t)
	svc := newFakeService()
	r := NewRunner(h.d, svc, WithWorkers(1), WithRunnerClock(func() time.Time { return t0 }))

	svc.in <- models.InboundMessage{Kind: models.InboundKindText, Text: "no user"}
	for i := 0; i < ratelimit.DefaultMaxRequests+1; i++ {
		svc.in <- models.NewInboundMessage("u", "", "hi", t0)
	}
	require.NoError(t, svc.Stop())
	require.NoError(t, r.Run(context.Background()))

	replies := svc.repliesFor("u")
	require.Len(t, replies, ratelimit.DefaultMaxRequests+1)
	assert.Equal(t, models.ReplyTooManyRequests, replies[len(replies)-1])
	assert.Empty(t, svc.repliesFor(""))
}

func TestRunner_StopsOnContextCancel(t *testing.T) {
	h := newHarness(t)
	svc := newFakeService()
	r := NewRunner(h.d, svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	<-acquired
	unlockB()
	assert.Equal(t, 0, k.size())
}
