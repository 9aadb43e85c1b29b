package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/BTreeMap/DonorPipe/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio WhatsApp API.
// Inbound messages arrive through TwilioWebhookHandler.
type TwilioService struct {
	client  twiliowhatsapp.TwilioWhatsAppSender // Could be real Twilio client or MockClient
	inbound *inboundQueue
}

// NewTwilioService creates a new TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{
		client:  client,
		inbound: newInboundQueue("TwilioService"),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone("TwilioService", recipient)
}

// Start is a no-op for Twilio (inbound arrives via webhook)
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel and stops the service
func (s *TwilioService) Stop() error {
	s.inbound.stop()
	return nil
}

// SendReply sends the reply via Twilio, flattening quick replies into the text.
func (s *TwilioService) SendReply(ctx context.Context, reply models.Reply) error {
	if s.inbound.isStopped() {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(reply.To.String())
	if err != nil {
		slog.Error("TwilioService SendReply validation error", "error", err, "to", reply.To)
		return err
	}
	return s.client.SendMessage(ctx, "+"+canonicalTo, RenderText(reply))
}

// Inbound returns the channel for incoming messages.
func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.inbound.ch
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them into the Inbound() channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	userID, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	msg := models.NewInboundMessage(models.UserID(userID), r.FormValue("ProfileName"), body, time.Now())
	if sid := r.FormValue("MessageSid"); sid != "" {
		msg.MessageID = "twilio:" + sid
	}
	slog.Info("Inbound WhatsApp message from Twilio", "user_id", msg.UserID, "kind", msg.Kind)

	if !s.inbound.emit(msg) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// canonicalizePhone removes all non-numeric characters and requires at least 6 digits.
func canonicalizePhone(service, recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	if recipient != canonical {
		slog.Debug(service+" canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

var _ Service = (*TwilioService)(nil)
