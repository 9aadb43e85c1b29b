package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/flow"
	"github.com/BTreeMap/DonorPipe/internal/gateway"
	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/BTreeMap/DonorPipe/internal/ratelimit"
	"github.com/BTreeMap/DonorPipe/internal/session"
	"github.com/BTreeMap/DonorPipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1700000000, 0)

type harness struct {
	d        *Dispatcher
	sessions session.Store
	gw       *gateway.MockGateway
	limiter  *ratelimit.SlidingWindow
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	sessions, err := session.NewStore(session.StoreTypeMemory)
	require.NoError(t, err)
	gw := gateway.NewMockGateway()
	limiter := ratelimit.NewSlidingWindow()
	wizard := flow.NewWizard(sessions, gw)
	return &harness{
		d:        NewDispatcher(limiter, wizard, gw, opts...),
		sessions: sessions,
		gw:       gw,
		limiter:  limiter,
	}
}

func (h *harness) send(userID models.UserID, text string, at time.Time) models.Reply {
	return h.d.Handle(context.Background(), models.NewInboundMessage(userID, "Jane Doe", text, at), at)
}

func (h *harness) session(t *testing.T, userID models.UserID) *models.ConversationSession {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), userID)
	require.NoError(t, err)
	return s
}

func TestDispatcher_FreeTextWithoutSessionGetsHelp(t *testing.T) {
	h := newHarness(t)

	reply := h.send("1", "hello", t0)
	assert.Equal(t, models.UserID("1"), reply.To)
	assert.Equal(t, flow.Welcome("Jane Doe"), reply.Text)
	assert.Nil(t, h.session(t, "1"))
}

func TestDispatcher_StartGreetsReturningDonor(t *testing.T) {
	h := newHarness(t)
	h.gw.Donors["1"] = models.DonorRef{ID: "d1", Name: "Jane Doe"}

	reply := h.send("1", "/start", t0)
	assert.Equal(t, flow.WelcomeBack("Jane Doe"), reply.Text)
	assert.Equal(t, []models.UserID{"1"}, h.gw.Lookups)
}

func TestDispatcher_GreetingFallsBackWhenLookupFails(t *testing.T) {
	h := newHarness(t)
	h.gw.LookupErr = errors.New("unreachable")

	reply := h.send("1", "/help", t0)
	assert.Equal(t, flow.Welcome("Jane Doe"), reply.Text)
}

func TestDispatcher_GreetingWithoutDisplayName(t *testing.T) {
	h := newHarness(t)
	reply := h.d.Handle(context.Background(), models.NewInboundMessage("1", "", "hi", t0), t0)
	assert.True(t, strings.HasPrefix(reply.Text, "Welcome there!"))
}

func TestDispatcher_RegistrationScenario(t *testing.T) {
	h := newHarness(t)
	answers := []string{"/beadonor", "9999999999", "A+", "2023-05-01", "Kochi, North, Ernakulam"}

	var reply models.Reply
	for i, a := range answers {
		reply = h.send("42", a, t0.Add(time.Duration(i)*10*time.Second))
	}
	assert.Equal(t, flow.ReplyRegistered, reply.Text)

	require.Equal(t, 1, h.gw.CreatedCount())
	rec := h.gw.Created[0]
	assert.Equal(t, "A+", rec.BloodGroup)
	assert.Equal(t, models.Location{Locality: "Kochi", Panchayat: "North", District: "Ernakulam"}, rec.Location)
	assert.Equal(t, "Jane Doe", rec.Name)
	assert.Nil(t, h.session(t, "42"))

	// The sixth message, once the first has left the window, is a fresh idle interaction.
	reply = h.send("42", "what now?", t0.Add(61*time.Second))
	assert.Equal(t, flow.WelcomeBack("Jane Doe"), reply.Text)
	assert.Nil(t, h.session(t, "42"))
	assert.Equal(t, 1, h.gw.CreatedCount())
}

func TestDispatcher_InvalidUnitsReprompts(t *testing.T) {
	h := newHarness(t)

	h.send("7", "/requestblood", t0)
	h.send("7", "B-", t0)
	reply := h.send("7", "abc", t0)

	assert.Equal(t, flow.RepromptUnits, reply.Text)
	sess := h.session(t, "7")
	require.NotNil(t, sess)
	assert.Equal(t, 1, sess.StepIndex)
	assert.Equal(t, map[models.FieldName]string{models.FieldBloodGroup: "B-"}, sess.Answers)
	assert.Zero(t, h.gw.FindCount())
	assert.Zero(t, h.gw.CreatedCount())
}

func TestDispatcher_NewFlowDiscardsOldSession(t *testing.T) {
	h := newHarness(t)

	h.send("3", "/beadonor", t0)
	h.send("3", "9999999999", t0)
	reply := h.send("3", "/requestblood", t0)
	assert.Equal(t, "What is your blood group? (e.g., A+, B-, O+)", reply.Text)
	assert.Equal(t, models.BloodGroups, reply.QuickReplies)

	sess := h.session(t, "3")
	require.NotNil(t, sess)
	assert.Equal(t, models.FlowKindRequest, sess.FlowKind)
	assert.Empty(t, sess.Answers)
}

func TestDispatcher_RequestScenario(t *testing.T) {
	h := newHarness(t)
	h.gw.Matches = []models.DonorMatch{{Name: "Asha", PhoneNumber: "111", Location: models.Location{Locality: "Kochi"}}}

	h.send("9", "/requestblood", t0)
	h.send("9", "O+", t0)
	h.send("9", "2", t0)
	reply := h.send("9", "Kochi", t0)

	assert.True(t, strings.HasPrefix(reply.Text, "We found eligible donors for your request:"))
	assert.Equal(t, []gateway.FindCall{{BloodGroup: "O+", Location: "Kochi"}}, h.gw.Finds)
	assert.Nil(t, h.session(t, "9"))
}

func TestDispatcher_RateLimitsSixthMessage(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < ratelimit.DefaultMaxRequests; i++ {
		reply := h.send("5", "hello", t0.Add(time.Duration(i)*time.Second))
		assert.NotEqual(t, models.ReplyTooManyRequests, reply.Text)
	}
	reply := h.send("5", "/beadonor", t0.Add(10*time.Second))
	assert.Equal(t, models.ReplyTooManyRequests, reply.Text)
	assert.Nil(t, h.session(t, "5"), "a rejected interaction must not start a flow")

	// Other users are unaffected.
	assert.NotEqual(t, models.ReplyTooManyRequests, h.send("6", "hello", t0.Add(10*time.Second)).Text)

	// After the window elapses the user is admitted again.
	reply = h.send("5", "hello", t0.Add(61*time.Second))
	assert.NotEqual(t, models.ReplyTooManyRequests, reply.Text)
}

func TestDispatcher_UnknownCommandIsText(t *testing.T) {
	h := newHarness(t)
	h.send("8", "/beadonor", t0)
	reply := h.send("8", "/unknown", t0)
	// The phone step is free text, so the unknown command is taken as an answer.
	assert.Equal(t, "Please provide your blood group (e.g., A+, B-, O+).", reply.Text)

	reply = h.send("9", "/unknown", t0)
	assert.Equal(t, flow.Welcome("Jane Doe"), reply.Text)
}

func TestDispatcher_StartLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t)
	h.send("8", "/requestblood", t0)
	h.send("8", "O+", t0)

	reply := h.send("8", "/start", t0)
	assert.Equal(t, flow.Welcome("Jane Doe"), reply.Text)

	sess := h.session(t, "8")
	require.NotNil(t, sess)
	assert.Equal(t, 1, sess.StepIndex)
}

func TestDispatcher_GatewayFailureClearsSession(t *testing.T) {
	h := newHarness(t)
	h.gw.FindErr = gateway.ErrTimeout

	h.send("4", "/requestblood", t0)
	h.send("4", "O+", t0)
	h.send("4", "1", t0)
	reply := h.send("4", "Kochi", t0)

	assert.Equal(t, flow.ReplyGatewayFailure, reply.Text)
	assert.Nil(t, h.session(t, "4"))
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	h := newHarness(t)
	h.gw.CreateHook = func(models.DonorRecord) { panic("driver exploded") }

	for _, a := range []string{"/beadonor", "1", "A+", "2023-01-01"} {
		h.send("2", a, t0)
	}
	reply := h.send("2", "Kochi", t0.Add(time.Second))

	assert.Equal(t, models.ReplyGenericError, reply.Text)
	assert.Nil(t, h.session(t, "2"))

	// The user can start over afterwards.
	reply = h.send("2", "/requestblood", t0.Add(61*time.Second))
	assert.Equal(t, "What is your blood group? (e.g., A+, B-, O+)", reply.Text)
}

func TestDispatcher_DuplicateMessagesIgnored(t *testing.T) {
	h := newHarness(t, WithDedup(store.NewInMemoryStore()))

	msg := models.NewInboundMessage("1", "Jane", "/beadonor", t0)
	msg.MessageID = "tg:1:100"

	first := h.d.Handle(context.Background(), msg, t0)
	assert.Equal(t, "Please provide your phone number.", first.Text)

	second := h.d.Handle(context.Background(), msg, t0)
	assert.True(t, second.Empty())
	assert.Equal(t, 1, h.limiter.Count("1"), "duplicates must not consume rate budget")
}

func TestDispatcher_InvalidMessageIgnored(t *testing.T) {
	h := newHarness(t)
	reply := h.d.Handle(context.Background(), models.InboundMessage{Kind: models.InboundKindText, Text: "x"}, t0)
	assert.True(t, reply.Empty())
}

func TestDispatcher_SameUserSerialized(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	limited := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := h.send("1", "hello", t0)
			if reply.Text == models.ReplyTooManyRequests {
				mu.Lock()
				limited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 15, limited)
	assert.Zero(t, h.d.locks.size(), "idle users must not keep lock entries")
}
