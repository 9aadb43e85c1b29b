package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/gateway"
	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/BTreeMap/DonorPipe/internal/session"
)

// Opts holds configuration options for a Wizard.
type Opts struct {
	Clock func() time.Time
}

// Option defines a functional option for configuring a Wizard.
type Option func(*Opts)

// WithClock overrides the time source used for session timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) {
		o.Clock = clock
	}
}

// Wizard drives sessions through their flow's steps and runs the terminal action.
// Callers must serialize calls for the same user.
type Wizard struct {
	sessions session.Store
	gateway  gateway.Gateway
	clock    func() time.Time
}

// NewWizard creates a Wizard backed by the given session store and data gateway.
func NewWizard(sessions session.Store, gw gateway.Gateway, opts ...Option) *Wizard {
	cfg := Opts{Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Wizard{sessions: sessions, gateway: gw, clock: cfg.Clock}
}

// Start begins a flow for userID, discarding any unfinished session, and returns the first prompt.
func (w *Wizard) Start(ctx context.Context, userID models.UserID, displayName string, kind models.FlowKind) (models.Reply, error) {
	def, ok := Get(kind)
	if !ok {
		return models.Reply{}, fmt.Errorf("unknown flow kind %q", kind)
	}
	sess := models.NewConversationSession(userID, displayName, kind, w.clock())
	if err := w.sessions.Put(ctx, sess); err != nil {
		return models.Reply{}, fmt.Errorf("failed to store session: %w", err)
	}
	slog.Debug("Wizard.Start: session created", "user_id", userID, "flow", kind)
	return promptFor(userID, def.Steps[0]), nil
}

// Advance feeds one free-text answer to the user's active session.
// The returned bool is false when the user has no session; the reply is then empty.
func (w *Wizard) Advance(ctx context.Context, userID models.UserID, raw string) (models.Reply, bool, error) {
	sess, err := w.sessions.Get(ctx, userID)
	if err != nil {
		return models.Reply{}, false, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return models.Reply{}, false, nil
	}

	def, ok := Get(sess.FlowKind)
	if !ok {
		w.discard(ctx, userID)
		return models.Reply{}, true, fmt.Errorf("session references unknown flow kind %q", sess.FlowKind)
	}

	step, ok := def.Step(sess.StepIndex)
	if !ok && sess.StepIndex != def.Len() {
		w.discard(ctx, userID)
		return models.Reply{}, true, fmt.Errorf("session step %d out of range for flow %q", sess.StepIndex, sess.FlowKind)
	}
	if ok {
		value, err := step.Validate(raw)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				slog.Debug("Wizard.Advance: answer rejected", "user_id", userID, "flow", sess.FlowKind, "step", sess.StepIndex, "field", verr.Field)
				reply := promptFor(userID, step)
				reply.Text = verr.Reprompt
				return reply, true, nil
			}
			return models.Reply{}, true, err
		}
		sess.Answers[step.Field] = value
		sess.StepIndex++
		sess.UpdatedAt = w.clock()

		if next, ok := def.Step(sess.StepIndex); ok {
			if err := w.sessions.Put(ctx, sess); err != nil {
				return models.Reply{}, true, fmt.Errorf("failed to store session: %w", err)
			}
			slog.Debug("Wizard.Advance: step completed", "user_id", userID, "flow", sess.FlowKind, "next_step", sess.StepIndex)
			return promptFor(userID, next), true, nil
		}
	}

	// Finalizing: the session is removed whatever the outcome.
	defer w.discard(ctx, userID)
	text := w.finalize(ctx, sess)
	return models.Reply{To: userID, Text: text}, true, nil
}

// Discard drops any session held for userID.
func (w *Wizard) Discard(ctx context.Context, userID models.UserID) {
	w.discard(ctx, userID)
}

func (w *Wizard) discard(ctx context.Context, userID models.UserID) {
	if err := w.sessions.Remove(context.WithoutCancel(ctx), userID); err != nil {
		slog.Error("Wizard: failed to remove session", "user_id", userID, "error", err)
	}
}

func (w *Wizard) finalize(ctx context.Context, sess *models.ConversationSession) string {
	switch sess.FlowKind {
	case models.FlowKindRegistration:
		rec := models.DonorRecord{
			UserID:           sess.UserID,
			Name:             sess.DisplayName,
			PhoneNumber:      sess.Answers[models.FieldPhoneNumber],
			BloodGroup:       sess.Answers[models.FieldBloodGroup],
			LastDonationDate: sess.Answers[models.FieldLastDonationDate],
			Location:         models.ParseLocation(sess.Answers[models.FieldLocation]),
		}
		ref, err := w.gateway.CreateDonor(ctx, rec)
		if err != nil {
			slog.Error("Wizard.finalize: createDonor failed", "user_id", sess.UserID, "error", err)
			return ReplyGatewayFailure
		}
		slog.Info("Wizard.finalize: donor registered", "user_id", sess.UserID, "donor_id", ref.ID)
		return ReplyRegistered

	case models.FlowKindRequest:
		bloodGroup := sess.Answers[models.FieldBloodGroup]
		location := sess.Answers[models.FieldLocation]
		matches, err := w.gateway.FindDonors(ctx, bloodGroup, location)
		if err != nil {
			slog.Error("Wizard.finalize: findDonors failed", "user_id", sess.UserID, "error", err)
			return ReplyGatewayFailure
		}
		slog.Info("Wizard.finalize: donor search completed", "user_id", sess.UserID, "blood_group", bloodGroup, "units", sess.Answers[models.FieldUnitsNeeded], "matches", len(matches))
		return FormatMatches(matches)

	default:
		slog.Error("Wizard.finalize: unknown flow kind", "user_id", sess.UserID, "flow", sess.FlowKind)
		return models.ReplyGenericError
	}
}

func promptFor(userID models.UserID, step Step) models.Reply {
	return models.Reply{To: userID, Text: step.Prompt, QuickReplies: step.QuickReplies}
}
