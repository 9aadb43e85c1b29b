// Package api provides HTTP handlers for DonorPipe endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/conversation"
	"github.com/BTreeMap/DonorPipe/internal/models"
)

// maxMessageBodyBytes bounds the JSON body of POST /message.
const maxMessageBodyBytes = 64 << 10

// Server serves the HTTP surface of DonorPipe.
type Server struct {
	dispatcher    *conversation.Dispatcher
	twilioWebhook http.HandlerFunc
	clock         func() time.Time
}

// NewServer creates a Server that answers webhook messages through d.
func NewServer(d *conversation.Dispatcher) *Server {
	return &Server{dispatcher: d, clock: time.Now}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/message", s.messageHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	if s.twilioWebhook != nil {
		mux.HandleFunc("/twilio/webhook", s.twilioWebhook)
	}
	return mux
}

// messageRequest is the body of POST /message.
type messageRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
	MessageID   string `json:"message_id"`
}

// messageHandler runs one inbound message through the dispatcher and returns the reply.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.messageHandler: processing request", "method", r.Method, "path", r.URL.Path)
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("DonorPipe is running. POST a message to talk to the bot.", nil))
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.messageHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.messageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	now := s.clock()
	msg := models.NewInboundMessage(models.UserID(req.UserID), req.DisplayName, req.Text, now)
	if req.MessageID != "" {
		msg.MessageID = "http:" + req.MessageID
	}
	if err := msg.Validate(); err != nil {
		slog.Warn("Server.messageHandler: invalid message", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	reply := s.dispatcher.Handle(r.Context(), msg, now)
	if reply.Empty() {
		slog.Debug("Server.messageHandler: no reply produced", "user_id", msg.UserID)
		writeJSONResponse(w, http.StatusOK, models.Ignored("No reply"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}
