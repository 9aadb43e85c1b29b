// Package models defines the core data structures for DonorPipe.
//
// It includes the inbound/outbound message shapes exchanged with chat transports,
// the API response envelope and the donor records exchanged with the data gateway.
package models

import (
	"errors"
	"strings"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID  = errors.New("user id cannot be empty")
	ErrEmptyMessage = errors.New("message text cannot be empty")
)

// UserID identifies a chat participant. It is the key for all per-user state.
type UserID string

// String returns the raw identifier.
func (u UserID) String() string {
	return string(u)
}

// InboundKind distinguishes slash commands from free text.
type InboundKind string

const (
	// InboundKindCommand is a message of the form "/name ...".
	InboundKindCommand InboundKind = "command"
	// InboundKindText is any other message.
	InboundKindText InboundKind = "text"
)

// Recognized command names (without the leading slash).
const (
	CommandStart        = "start"
	CommandHelp         = "help"
	CommandBeADonor     = "beadonor"
	CommandRequestBlood = "requestblood"
)

// InboundMessage is the transport-independent shape of one user interaction.
type InboundMessage struct {
	UserID      UserID      `json:"user_id"`
	DisplayName string      `json:"display_name,omitempty"`
	Kind        InboundKind `json:"kind"`
	Command     string      `json:"command,omitempty"` // lower-cased, without slash or bot suffix
	Text        string      `json:"text"`
	MessageID   string      `json:"message_id,omitempty"` // transport message id, used for dedup
	Time        int64       `json:"time"`
}

// NewInboundMessage classifies raw text as a command or free text.
// A command is "/name", optionally followed by "@botname" and arguments.
func NewInboundMessage(userID UserID, displayName, text string, at time.Time) InboundMessage {
	msg := InboundMessage{
		UserID:      userID,
		DisplayName: strings.TrimSpace(displayName),
		Kind:        InboundKindText,
		Text:        text,
		Time:        at.Unix(),
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "/") && len(trimmed) > 1 && trimmed[1] != ' ' {
		name := strings.Fields(trimmed[1:])[0]
		if idx := strings.IndexByte(name, '@'); idx >= 0 {
			name = name[:idx]
		}
		if name != "" {
			msg.Kind = InboundKindCommand
			msg.Command = strings.ToLower(name)
		}
	}
	return msg
}

// Validate checks the fields every transport must populate.
func (m InboundMessage) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if m.Kind == InboundKindText && m.Text == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Reply is the outbound text for one user, with optional quick-reply options.
type Reply struct {
	To           UserID   `json:"to"`
	Text         string   `json:"text"`
	QuickReplies []string `json:"quick_replies,omitempty"`
}

// Empty reports whether there is nothing to send.
func (r Reply) Empty() bool {
	return r.Text == ""
}

// Fixed reply texts used outside the wizard.
const (
	ReplyTooManyRequests = "Too many requests. Please wait a minute and try again."
	ReplyGenericError    = "An error occurred. Please try again."
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusIgnored indicates the inbound was accepted but produced no reply (e.g. duplicate).
	APIStatusIgnored APIStatus = "ignored"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Ignored creates a response for an inbound that was accepted without producing a reply.
func Ignored(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusIgnored).
		WithMessage(message).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
