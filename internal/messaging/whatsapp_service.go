package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/BTreeMap/DonorPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // Access to underlying client for event handling
	inbound  *inboundQueue
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		inbound: newInboundQueue("WhatsAppService"),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone("WhatsAppService", recipient)
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	handlerID := s.waClient.GetClient().AddEventHandler(s.handleEvent)
	go func() {
		<-ctx.Done()
		s.waClient.GetClient().RemoveEventHandler(handlerID)
		slog.Debug("WhatsAppService event handler removed")
	}()
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	s.inbound.stop()
	return nil
}

// SendReply sends the reply text, with quick replies flattened into an options line.
func (s *WhatsAppService) SendReply(ctx context.Context, reply models.Reply) error {
	if s.inbound.isStopped() {
		return ErrServiceStopped
	}
	to, err := s.ValidateAndCanonicalizeRecipient(reply.To.String())
	if err != nil {
		slog.Error("WhatsAppService SendReply validation error", "error", err, "to", reply.To)
		return err
	}
	if err := s.client.SendMessage(ctx, to, RenderText(reply)); err != nil {
		slog.Error("WhatsAppService SendReply error", "error", err, "to", to)
		return err
	}
	return nil
}

// Inbound returns the channel of user interactions.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound.ch
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	default:
		// Receipts, presence and connection events carry no user input.
	}
}

// handleIncomingMessage converts incoming text messages to inbound interactions
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	// Extract text content
	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	msg := models.NewInboundMessage(models.UserID(evt.Info.Sender.User), evt.Info.PushName, messageText, evt.Info.Timestamp)
	msg.MessageID = "wa:" + string(evt.Info.ID)
	if err := msg.Validate(); err != nil {
		return
	}

	if s.inbound.emit(msg) {
		slog.Info("WhatsAppService incoming message forwarded", "user_id", msg.UserID)
	}
}

var _ Service = (*WhatsAppService)(nil)
