// Package telegram wraps the telebot client for Telegram integration in DonorPipe.
//
// It provides long-polling update delivery and message sending with optional reply keyboards.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
)

// DefaultPollTimeout is the long-polling timeout used when none is configured.
const DefaultPollTimeout = 10 * time.Second

// Update is one inbound text message from a Telegram user.
type Update struct {
	UserID    int64
	FirstName string
	LastName  string
	MessageID int
	Text      string
	Time      time.Time
}

// DisplayName joins first and last name the way users see themselves.
func (u Update) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// TelegramSender is an interface for the Telegram bot client (for production and testing).
type TelegramSender interface {
	// SendMessage sends text to a chat. Non-empty options are shown as a one-time reply keyboard;
	// otherwise any earlier keyboard is removed.
	SendMessage(ctx context.Context, chatID int64, text string, options []string) error
	// OnText registers the handler for every inbound text message, commands included.
	OnText(handler func(Update))
	// Start polls for updates until Stop is called. It blocks.
	Start()
	// Stop ends polling.
	Stop()
}

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token       string
	PollTimeout time.Duration
	APIURL      string
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token issued by BotFather.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithPollTimeout sets the long-polling timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Opts) { o.PollTimeout = d }
}

// WithAPIURL overrides the Bot API endpoint.
func WithAPIURL(url string) Option {
	return func(o *Opts) { o.APIURL = url }
}

// Client wraps a telebot.Bot.
type Client struct {
	bot *tele.Bot

	mu      sync.Mutex
	running bool
}

// NewClient creates a Telegram client. It contacts the Bot API to validate the token.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{PollTimeout: DefaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token must be provided")
	}

	bot, err := tele.NewBot(tele.Settings{
		URL:         cfg.APIURL,
		Token:       cfg.Token,
		Poller:      &tele.LongPoller{Timeout: cfg.PollTimeout},
		// Handlers run inline so one chat's messages reach OnText in update order.
		Synchronous: true,
		OnError: func(err error, c tele.Context) {
			slog.Error("Telegram handler error", "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	slog.Info("Telegram client created", "username", bot.Me.Username)
	return &Client{bot: bot}, nil
}

// SendMessage implements TelegramSender.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, options []string) error {
	if text == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Send(tele.ChatID(chatID), text, replyMarkup(options)); err != nil {
		slog.Error("Telegram SendMessage failed", "chat_id", chatID, "error", err)
		return fmt.Errorf("failed to send message to %d: %w", chatID, err)
	}
	slog.Debug("Telegram message sent", "chat_id", chatID, "body_length", len(text))
	return nil
}

// OnText implements TelegramSender.
func (c *Client) OnText(handler func(Update)) {
	c.bot.Handle(tele.OnText, func(tc tele.Context) error {
		sender := tc.Sender()
		msg := tc.Message()
		if sender == nil || msg == nil {
			return nil
		}
		handler(Update{
			UserID:    sender.ID,
			FirstName: sender.FirstName,
			LastName:  sender.LastName,
			MessageID: msg.ID,
			Text:      msg.Text,
			Time:      msg.Time(),
		})
		return nil
	})
}

// Start implements TelegramSender.
func (c *Client) Start() {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	c.bot.Start()
}

// Stop implements TelegramSender. telebot blocks in Stop unless polling was started,
// so only the first call after Start reaches the bot.
func (c *Client) Stop() {
	c.mu.Lock()
	running := c.running
	c.running = false
	c.mu.Unlock()
	if running {
		c.bot.Stop()
	}
}

func replyMarkup(options []string) *tele.ReplyMarkup {
	if len(options) == 0 {
		return &tele.ReplyMarkup{RemoveKeyboard: true}
	}
	markup := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	var rows []tele.Row
	for i := 0; i < len(options); i += keyboardColumns {
		end := min(i+keyboardColumns, len(options))
		btns := make([]tele.Btn, 0, end-i)
		for _, opt := range options[i:end] {
			btns = append(btns, markup.Text(opt))
		}
		rows = append(rows, markup.Row(btns...))
	}
	markup.Reply(rows...)
	return markup
}

const keyboardColumns = 4

// MockClient records sent messages and lets tests inject updates.
type MockClient struct {
	mu      sync.Mutex
	Sent    []SentMessage
	handler func(Update)
	stop    chan struct{}
	once    sync.Once
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	ChatID  int64
	Text    string
	Options []string
}

func NewMockClient() *MockClient {
	return &MockClient{stop: make(chan struct{})}
}

func (m *MockClient) SendMessage(ctx context.Context, chatID int64, text string, options []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{ChatID: chatID, Text: text, Options: options})
	return nil
}

func (m *MockClient) OnText(handler func(Update)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *MockClient) Start() {
	<-m.stop
}

func (m *MockClient) Stop() {
	m.once.Do(func() { close(m.stop) })
}

// Deliver feeds an update to the registered handler as if it came from Telegram.
func (m *MockClient) Deliver(u Update) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(u)
	}
}

// Messages returns a copy of the sent messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
