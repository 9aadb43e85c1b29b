package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/BTreeMap/DonorPipe/internal/telegram"
)

// TelegramService implements Service using a Telegram bot with long polling.
type TelegramService struct {
	client  telegram.TelegramSender
	inbound *inboundQueue
}

// NewTelegramService creates a new TelegramService wrapping the given client.
func NewTelegramService(client telegram.TelegramSender) *TelegramService {
	s := &TelegramService{
		client:  client,
		inbound: newInboundQueue("TelegramService"),
	}
	client.OnText(s.handleUpdate)
	return s
}

// ValidateAndCanonicalizeRecipient accepts a numeric Telegram user or chat id.
func (s *TelegramService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := strings.TrimSpace(recipient)
	if canonical == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if _, err := strconv.ParseInt(canonical, 10, 64); err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q", recipient)
	}
	return canonical, nil
}

// Start launches long polling in the background.
func (s *TelegramService) Start(ctx context.Context) error {
	slog.Debug("TelegramService Start invoked")
	go s.client.Start()
	go func() {
		<-ctx.Done()
		s.client.Stop()
	}()
	return nil
}

// Stop ends polling and closes the inbound channel.
func (s *TelegramService) Stop() error {
	slog.Info("TelegramService Stop invoked")
	if s.inbound.isStopped() {
		return nil
	}
	s.client.Stop()
	s.inbound.stop()
	return nil
}

// SendReply sends the reply text with its quick replies as a reply keyboard.
func (s *TelegramService) SendReply(ctx context.Context, reply models.Reply) error {
	if s.inbound.isStopped() {
		return ErrServiceStopped
	}
	to, err := s.ValidateAndCanonicalizeRecipient(reply.To.String())
	if err != nil {
		slog.Error("TelegramService SendReply validation error", "error", err, "to", reply.To)
		return err
	}
	chatID, _ := strconv.ParseInt(to, 10, 64)
	return s.client.SendMessage(ctx, chatID, reply.Text, reply.QuickReplies)
}

// Inbound returns the channel of user interactions.
func (s *TelegramService) Inbound() <-chan models.InboundMessage {
	return s.inbound.ch
}

func (s *TelegramService) handleUpdate(u telegram.Update) {
	userID := models.UserID(strconv.FormatInt(u.UserID, 10))
	msg := models.NewInboundMessage(userID, u.DisplayName(), u.Text, u.Time)
	msg.MessageID = "tg:" + userID.String() + ":" + strconv.Itoa(u.MessageID)
	if err := msg.Validate(); err != nil {
		slog.Debug("TelegramService ignoring update", "error", err)
		return
	}
	if s.inbound.emit(msg) {
		slog.Debug("TelegramService inbound message forwarded", "user_id", msg.UserID, "kind", msg.Kind)
	}
}

var _ Service = (*TelegramService)(nil)
