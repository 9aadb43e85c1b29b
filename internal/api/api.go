// Package api provides the HTTP server and the bootstrap wiring for DonorPipe.
//
// Run builds every module (registry store, session store, rate limiter, data gateway,
// wizard, dispatcher and the chat transport) from per-module options, then serves the
// HTTP endpoints and pumps the transport's inbound messages until the process is signalled.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/conversation"
	"github.com/BTreeMap/DonorPipe/internal/flow"
	"github.com/BTreeMap/DonorPipe/internal/gateway"
	"github.com/BTreeMap/DonorPipe/internal/messaging"
	"github.com/BTreeMap/DonorPipe/internal/ratelimit"
	"github.com/BTreeMap/DonorPipe/internal/session"
	"github.com/BTreeMap/DonorPipe/internal/store"
	"github.com/BTreeMap/DonorPipe/internal/telegram"
	"github.com/BTreeMap/DonorPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/DonorPipe/internal/whatsapp"
	"github.com/redis/go-redis/v9"
)

// Default server settings.
const (
	DefaultServerAddress   = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
)

// Transport names the chat channel users talk through.
type Transport string

const (
	TransportTelegram Transport = "telegram"
	TransportWhatsApp Transport = "whatsapp"
	TransportTwilio   Transport = "twilio"
	// TransportNone serves only the HTTP webhook.
	TransportNone Transport = "none"
)

// ErrUnknownTransport is returned by Run for an unrecognized transport name.
var ErrUnknownTransport = errors.New("unknown transport")

// Opts holds configuration options for the API server and bootstrap.
type Opts struct {
	Addr               string
	Transport          Transport
	Gateway            gateway.Kind
	RedisURL           string
	SessionIdleTimeout time.Duration
	Workers            int
}

// Option defines a functional option for configuring the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTransport selects the chat transport.
func WithTransport(t Transport) Option {
	return func(o *Opts) {
		o.Transport = t
	}
}

// WithGateway selects the data gateway implementation.
func WithGateway(kind gateway.Kind) Option {
	return func(o *Opts) {
		o.Gateway = kind
	}
}

// WithRedisURL keeps sessions and rate windows in Redis instead of process memory.
func WithRedisURL(url string) Option {
	return func(o *Opts) {
		o.RedisURL = url
	}
}

// WithSessionIdleTimeout sets how long an untouched session survives. Zero disables eviction.
func WithSessionIdleTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.SessionIdleTimeout = d
	}
}

// WithWorkers sets the number of inbound shard workers.
func WithWorkers(n int) Option {
	return func(o *Opts) {
		o.Workers = n
	}
}

// TransportOptions carries the per-transport client options.
type TransportOptions struct {
	Telegram []telegram.Option
	WhatsApp []whatsapp.Option
	Twilio   []twiliowhatsapp.Option
}

// Run initializes all modules and blocks until SIGINT/SIGTERM or a fatal server error.
func Run(transportOpts TransportOptions, storeOpts []store.Option, gatewayOpts []gateway.Option, apiOpts ...Option) error {
	cfg := Opts{
		Addr:               DefaultServerAddress,
		Transport:          TransportTelegram,
		Gateway:            gateway.KindLocal,
		SessionIdleTimeout: session.DefaultIdleTimeout,
	}
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	slog.Debug("api.Run: configuration", "addr", cfg.Addr, "transport", cfg.Transport, "gateway", cfg.Gateway,
		"redis_set", cfg.RedisURL != "", "session_idle_timeout", cfg.SessionIdleTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("api.Run: failed to close store", "error", err)
		}
	}()

	sessions, limiter, closeState, err := openConversationState(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeState()

	gw, err := gateway.New(cfg.Gateway, append(gatewayOpts, gateway.WithDonorRepo(st))...)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	wizard := flow.NewWizard(sessions, gw)
	dispatcher := conversation.NewDispatcher(limiter, wizard, gw, conversation.WithDedup(st))

	svc, err := newService(cfg.Transport, transportOpts)
	if err != nil {
		return err
	}

	server := NewServer(dispatcher)
	if tw, ok := svc.(*messaging.TwilioService); ok {
		server.twilioWebhook = tw.TwilioWebhookHandler
	}
	return server.serve(ctx, cfg, svc)
}

// serve runs the transport, its runner and the HTTP listener until ctx is done.
func (s *Server) serve(ctx context.Context, cfg Opts, svc messaging.Service) error {
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 2)
	runnerDone := make(chan struct{})
	if svc != nil {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s transport: %w", cfg.Transport, err)
		}
		var runnerOpts []conversation.RunnerOption
		if cfg.Workers > 0 {
			runnerOpts = append(runnerOpts, conversation.WithWorkers(cfg.Workers))
		}
		runner := conversation.NewRunner(s.dispatcher, svc, runnerOpts...)
		go func() {
			defer close(runnerDone)
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("runner stopped: %w", err)
			}
		}()
	} else {
		close(runnerDone)
	}

	go func() {
		slog.Info("Server.serve: listening", "addr", cfg.Addr, "transport", cfg.Transport)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Server.serve: shutdown signal received")
	case runErr = <-errCh:
		slog.Error("Server.serve: stopping after failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.serve: http shutdown failed", "error", err)
	}
	if svc != nil {
		if err := svc.Stop(); err != nil {
			slog.Error("Server.serve: transport stop failed", "error", err)
		}
	}
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		slog.Warn("Server.serve: runner did not drain before shutdown timeout")
	}
	return runErr
}

// openStore picks the registry backend from the configured DSN; no DSN means in-memory.
func openStore(opts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Info("api.openStore: no DSN configured, using in-memory registry")
		return store.NewInMemoryStore(), nil
	case store.DetectDSNType(cfg.DSN) == "postgres":
		return store.NewPostgresStore(opts...)
	default:
		return store.NewSQLiteStore(opts...)
	}
}

// openConversationState builds the session store and rate limiter, in Redis when configured.
func openConversationState(ctx context.Context, cfg Opts) (session.Store, ratelimit.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		sessions, err := session.NewStore(session.StoreTypeMemory, session.WithIdleTimeout(cfg.SessionIdleTimeout))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create session store: %w", err)
		}
		return sessions, ratelimit.NewSlidingWindow(), func() { sessions.Close() }, nil
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	sessions, err := session.NewStore(session.StoreTypeRedis,
		session.WithRedisClient(client),
		session.WithIdleTimeout(cfg.SessionIdleTimeout))
	if err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("failed to create session store: %w", err)
	}
	slog.Info("api.openConversationState: using redis for sessions and rate windows", "addr", redisOpts.Addr)
	return sessions, ratelimit.NewRedisLimiter(client), func() {
		sessions.Close()
		client.Close()
	}, nil
}

// newService constructs the messaging service for the selected transport, or nil for TransportNone.
func newService(t Transport, opts TransportOptions) (messaging.Service, error) {
	switch t {
	case TransportTelegram:
		client, err := telegram.NewClient(opts.Telegram...)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram client: %w", err)
		}
		return messaging.NewTelegramService(client), nil
	case TransportWhatsApp:
		client, err := whatsapp.NewClient(opts.WhatsApp...)
		if err != nil {
			return nil, fmt.Errorf("failed to create whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(opts.Twilio...)
		if err != nil {
			return nil, fmt.Errorf("failed to create twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	case TransportNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, t)
	}
}
