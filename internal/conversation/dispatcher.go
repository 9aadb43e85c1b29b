// Package conversation routes inbound user interactions through rate limiting,
// the intake wizards and the greeting, and produces the reply for each one.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/flow"
	"github.com/BTreeMap/DonorPipe/internal/gateway"
	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/BTreeMap/DonorPipe/internal/ratelimit"
	"github.com/BTreeMap/DonorPipe/internal/store"
)

// defaultDisplayName is used in greetings when the transport supplies no name.
const defaultDisplayName = "there"

// Opts holds configuration options for a Dispatcher.
type Opts struct {
	Dedup store.DedupRepo
}

// Option defines a functional option for configuring a Dispatcher.
type Option func(*Opts)

// WithDedup drops inbound messages whose transport message id was already seen.
func WithDedup(repo store.DedupRepo) Option {
	return func(o *Opts) {
		o.Dedup = repo
	}
}

// Dispatcher is the per-interaction entry point. It is safe for concurrent use;
// interactions from the same user are handled one at a time.
type Dispatcher struct {
	limiter ratelimit.Limiter
	wizard  *flow.Wizard
	gateway gateway.Gateway
	dedup   store.DedupRepo
	locks   *keyedMutex
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(limiter ratelimit.Limiter, wizard *flow.Wizard, gw gateway.Gateway, opts ...Option) *Dispatcher {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		limiter: limiter,
		wizard:  wizard,
		gateway: gw,
		dedup:   cfg.Dedup,
		locks:   newKeyedMutex(),
	}
}

// Handle processes one inbound interaction and returns the reply to send.
// An empty reply means nothing should be sent.
func (d *Dispatcher) Handle(ctx context.Context, msg models.InboundMessage, now time.Time) (reply models.Reply) {
	if err := msg.Validate(); err != nil {
		slog.Warn("Dispatcher.Handle: invalid inbound message", "error", err)
		return models.Reply{}
	}

	if !d.recordInbound(ctx, msg) {
		return models.Reply{}
	}

	unlock := d.locks.Lock(msg.UserID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher.Handle: panic recovered", "user_id", msg.UserID, "panic", r)
			d.wizard.Discard(ctx, msg.UserID)
			reply = models.Reply{To: msg.UserID, Text: models.ReplyGenericError}
		}
	}()

	if !d.limiter.Admit(ctx, msg.UserID, now) {
		slog.Info("Dispatcher.Handle: rate limited", "user_id", msg.UserID)
		return models.Reply{To: msg.UserID, Text: models.ReplyTooManyRequests}
	}

	reply, err := d.route(ctx, msg)
	if err != nil {
		slog.Error("Dispatcher.Handle: failed to handle message", "user_id", msg.UserID, "kind", msg.Kind, "command", msg.Command, "error", err)
		d.wizard.Discard(ctx, msg.UserID)
		return models.Reply{To: msg.UserID, Text: models.ReplyGenericError}
	}
	return reply
}

// recordInbound reports whether msg should be processed. Dedup store failures let the message through.
func (d *Dispatcher) recordInbound(ctx context.Context, msg models.InboundMessage) bool {
	if d.dedup == nil || msg.MessageID == "" {
		return true
	}
	fresh, err := d.dedup.RecordInbound(ctx, msg.MessageID, msg.UserID.String())
	if err != nil {
		slog.Error("Dispatcher.Handle: dedup check failed", "message_id", msg.MessageID, "error", err)
		return true
	}
	if !fresh {
		slog.Debug("Dispatcher.Handle: duplicate message ignored", "message_id", msg.MessageID, "user_id", msg.UserID)
		return false
	}
	return true
}

func (d *Dispatcher) markProcessed(ctx context.Context, msg models.InboundMessage) {
	if d.dedup == nil || msg.MessageID == "" {
		return
	}
	if err := d.dedup.MarkProcessed(ctx, msg.MessageID); err != nil {
		slog.Warn("Dispatcher.Handle: failed to mark message processed", "message_id", msg.MessageID, "error", err)
	}
}

func (d *Dispatcher) route(ctx context.Context, msg models.InboundMessage) (models.Reply, error) {
	defer d.markProcessed(ctx, msg)

	if msg.Kind == models.InboundKindCommand {
		switch msg.Command {
		case models.CommandStart, models.CommandHelp:
			return d.greeting(ctx, msg), nil
		case models.CommandBeADonor:
			return d.wizard.Start(ctx, msg.UserID, msg.DisplayName, models.FlowKindRegistration)
		case models.CommandRequestBlood:
			return d.wizard.Start(ctx, msg.UserID, msg.DisplayName, models.FlowKindRequest)
		}
		// Unknown commands are ordinary text.
	}

	reply, active, err := d.wizard.Advance(ctx, msg.UserID, msg.Text)
	if err != nil {
		return models.Reply{}, fmt.Errorf("wizard advance: %w", err)
	}
	if active {
		return reply, nil
	}
	return d.greeting(ctx, msg), nil
}

// greeting welcomes back registered donors and lists the commands for everyone else.
// A failed lookup falls back to the command list.
func (d *Dispatcher) greeting(ctx context.Context, msg models.InboundMessage) models.Reply {
	name := msg.DisplayName
	if name == "" {
		name = defaultDisplayName
	}
	donor, err := d.gateway.LookupDonorByUserID(ctx, msg.UserID)
	if err != nil {
		slog.Warn("Dispatcher.greeting: donor lookup failed", "user_id", msg.UserID, "error", err)
	}
	if donor != nil {
		return models.Reply{To: msg.UserID, Text: flow.WelcomeBack(name)}
	}
	return models.Reply{To: msg.UserID, Text: flow.Welcome(name)}
}
