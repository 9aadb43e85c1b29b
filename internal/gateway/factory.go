package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/store"
)

// Kind selects a Gateway implementation.
type Kind string

const (
	KindHygraph  Kind = "hygraph"
	KindSupabase Kind = "supabase"
	KindLocal    Kind = "local"
)

// Opts holds configuration options for New.
type Opts struct {
	HygraphURL   string
	HygraphToken string
	SupabaseURL  string
	SupabaseKey  string
	Repo         store.DonorRepo
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// Option defines a functional option for configuring a Gateway.
type Option func(*Opts)

// WithHygraph sets the Hygraph content API endpoint and token.
func WithHygraph(url, token string) Option {
	return func(o *Opts) {
		o.HygraphURL = url
		o.HygraphToken = token
	}
}

// WithSupabase sets the Supabase project URL and API key.
func WithSupabase(url, key string) Option {
	return func(o *Opts) {
		o.SupabaseURL = url
		o.SupabaseKey = key
	}
}

// WithDonorRepo sets the store used by the local gateway.
func WithDonorRepo(repo store.DonorRepo) Option {
	return func(o *Opts) {
		o.Repo = repo
	}
}

// WithHTTPClient sets the HTTP client used by the Hygraph gateway.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = client
	}
}

// WithCallTimeout bounds each gateway call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// New builds the gateway of the given kind, wrapped with the configured call timeout.
func New(kind Kind, opts ...Option) (Gateway, error) {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		gw  Gateway
		err error
	)
	switch kind {
	case KindHygraph:
		gw, err = NewHygraphGateway(cfg.HygraphURL, cfg.HygraphToken, cfg.HTTPClient)
	case KindSupabase:
		gw, err = NewSupabaseGateway(cfg.SupabaseURL, cfg.SupabaseKey)
	case KindLocal:
		if cfg.Repo == nil {
			return nil, fmt.Errorf("local gateway requires a donor repository")
		}
		gw = NewLocalGateway(cfg.Repo)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("Gateway.New: data gateway configured", "kind", kind, "timeout", cfg.Timeout)
	return WithTimeout(gw, cfg.Timeout), nil
}
