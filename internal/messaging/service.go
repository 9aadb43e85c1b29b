package messaging

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches every non-digit character.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable chat transport.
// It delivers replies and exposes inbound user interactions on a channel.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendReply delivers a reply to reply.To.
	SendReply(ctx context.Context, reply models.Reply) error

	// Start begins any background processing (e.g., polling for updates).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the inbound channel.
	Stop() error

	// Inbound returns a channel of user interactions.
	Inbound() <-chan models.InboundMessage
}

// RenderText flattens a reply for transports without reply keyboards.
// Quick replies are appended as a single options line.
func RenderText(reply models.Reply) string {
	if len(reply.QuickReplies) == 0 {
		return reply.Text
	}
	return reply.Text + "\n\nOptions: " + strings.Join(reply.QuickReplies, ", ")
}

// inboundQueue is the inbound channel shared by every transport, with stop-safe emission.
type inboundQueue struct {
	name    string
	ch      chan models.InboundMessage
	mu      sync.RWMutex
	stopped bool
}

func newInboundQueue(name string) *inboundQueue {
	return &inboundQueue{name: name, ch: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

// emit pushes msg unless the queue is stopped or stays full for DefaultChannelTimeout.
// It reports whether msg was queued.
func (q *inboundQueue) emit(msg models.InboundMessage) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		logDrop(q.name, msg, "service stopped")
		return false
	}
	select {
	case q.ch <- msg:
		return true
	case <-time.After(DefaultChannelTimeout):
		logDrop(q.name, msg, "inbound channel blocked")
		return false
	}
}

// stop closes the channel once. Holding the write lock waits for in-flight emits.
func (q *inboundQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.ch)
}

func (q *inboundQueue) isStopped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stopped
}

func logDrop(service string, msg models.InboundMessage, reason string) {
	slog.Warn(service+": dropping inbound message", "user_id", msg.UserID, "message_id", msg.MessageID, "reason", reason)
}
