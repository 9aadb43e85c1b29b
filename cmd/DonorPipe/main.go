package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/api"
	"github.com/BTreeMap/DonorPipe/internal/gateway"
	"github.com/BTreeMap/DonorPipe/internal/lockfile"
	"github.com/BTreeMap/DonorPipe/internal/session"
	"github.com/BTreeMap/DonorPipe/internal/store"
	"github.com/BTreeMap/DonorPipe/internal/telegram"
	"github.com/BTreeMap/DonorPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/DonorPipe/internal/util"
	"github.com/BTreeMap/DonorPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DonorPipe state data
	DefaultStateDir = "/var/lib/donorpipe"
	// DefaultDBFileName is the default SQLite donor registry filename
	DefaultDBFileName = "donorpipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.Debug)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Two instances writing the same SQLite files would corrupt them.
	if usesLocalFiles(flags) {
		lock, err := lockfile.Acquire(*flags.stateDir)
		if err != nil {
			slog.Error("Failed to lock state directory", "error", err)
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	transportOpts := buildTransportOptions(flags, config)
	storeOpts := buildStoreOptions(flags)
	gatewayOpts := buildGatewayOptions(flags, config)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping DonorPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "gateway", len(gatewayOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "",
		"transport", *flags.transport, "gateway", *flags.gateway, "api_addr", *flags.apiAddr)
	if err := api.Run(transportOpts, storeOpts, gatewayOpts, apiOpts...); err != nil {
		slog.Error("DonorPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("DonorPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	Debug              bool
	Transport          string
	TelegramToken      string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string
	WhatsAppDSN        string
	Gateway            string
	HygraphURL         string
	HygraphToken       string
	SupabaseURL        string
	SupabaseKey        string
	DatabaseURL        string
	StateDir           string
	RedisURL           string
	SessionIdleTimeout time.Duration
	GatewayTimeout     time.Duration
	APIAddr            string
	Workers            int
}

// Flags holds command line flag values
type Flags struct {
	transport          *string
	telegramToken      *string
	qrOutput           *string
	numeric            *bool
	whatsappDSN        *string
	gateway            *string
	hygraphURL         *string
	stateDir           *string
	dbDSN              *string
	redisURL           *string
	sessionIdleTimeout *time.Duration
	gatewayTimeout     *time.Duration
	apiAddr            *string
	workers            *int
}

// initializeLogger sets up structured logging; debug level only when requested.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Debug:              util.ParseBoolEnv("DONORPIPE_DEBUG", false),
		Transport:          util.GetEnv("DONORPIPE_TRANSPORT", string(api.TransportTelegram)),
		TelegramToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
		WhatsAppDSN:        os.Getenv("WHATSAPP_DB_DSN"),
		Gateway:            os.Getenv("DONORPIPE_GATEWAY"),
		HygraphURL:         os.Getenv("HYGRAPH_API_URL"),
		HygraphToken:       os.Getenv("HYGRAPH_API_TOKEN"),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseKey:        os.Getenv("SUPABASE_KEY"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StateDir:           util.GetEnv("DONORPIPE_STATE_DIR", DefaultStateDir),
		RedisURL:           os.Getenv("REDIS_URL"),
		SessionIdleTimeout: util.ParseDurationEnv("SESSION_IDLE_TIMEOUT", session.DefaultIdleTimeout),
		GatewayTimeout:     util.ParseDurationEnv("GATEWAY_TIMEOUT", gateway.DefaultTimeout),
		APIAddr:            util.GetEnv("API_ADDR", api.DefaultServerAddress),
		Workers:            util.ParseIntEnv("DONORPIPE_WORKERS", 0),
	}

	// Pick the gateway from whichever backend is configured.
	if config.Gateway == "" {
		switch {
		case config.HygraphURL != "":
			config.Gateway = string(gateway.KindHygraph)
		case config.SupabaseURL != "":
			config.Gateway = string(gateway.KindSupabase)
		default:
			config.Gateway = string(gateway.KindLocal)
		}
		slog.Debug("No DONORPIPE_GATEWAY set, inferred from environment", "gateway", config.Gateway)
	}

	slog.Debug("environment variables loaded",
		"DONORPIPE_TRANSPORT", config.Transport,
		"TELEGRAM_BOT_TOKEN_SET", config.TelegramToken != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DONORPIPE_GATEWAY", config.Gateway,
		"HYGRAPH_API_URL_SET", config.HygraphURL != "",
		"SUPABASE_URL_SET", config.SupabaseURL != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"DONORPIPE_STATE_DIR", config.StateDir,
		"REDIS_URL_SET", config.RedisURL != "",
		"SESSION_IDLE_TIMEOUT", config.SessionIdleTimeout,
		"GATEWAY_TIMEOUT", config.GatewayTimeout,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
// File-backed DSNs left unset are derived from the final state directory.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		transport:          fs.String("transport", config.Transport, "chat transport: telegram, whatsapp, twilio or none (overrides $DONORPIPE_TRANSPORT)"),
		telegramToken:      fs.String("telegram-token", config.TelegramToken, "Telegram bot token (overrides $TELEGRAM_BOT_TOKEN)"),
		qrOutput:           fs.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:            fs.Bool("numeric-code", false, "use a numeric WhatsApp pairing code instead of a QR code"),
		whatsappDSN:        fs.String("whatsapp-dsn", config.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)"),
		gateway:            fs.String("gateway", config.Gateway, "donor data gateway: hygraph, supabase or local (overrides $DONORPIPE_GATEWAY)"),
		hygraphURL:         fs.String("hygraph-url", config.HygraphURL, "Hygraph content API endpoint (overrides $HYGRAPH_API_URL)"),
		stateDir:           fs.String("state-dir", config.StateDir, "state directory for DonorPipe data (overrides $DONORPIPE_STATE_DIR)"),
		dbDSN:              fs.String("db-dsn", config.DatabaseURL, "donor registry DSN, postgres URL or SQLite path (overrides $DATABASE_URL)"),
		redisURL:           fs.String("redis-url", config.RedisURL, "Redis URL for sessions and rate windows (overrides $REDIS_URL)"),
		sessionIdleTimeout: fs.Duration("session-idle-timeout", config.SessionIdleTimeout, "evict sessions idle this long, 0 disables (overrides $SESSION_IDLE_TIMEOUT)"),
		gatewayTimeout:     fs.Duration("gateway-timeout", config.GatewayTimeout, "bound on each gateway call (overrides $GATEWAY_TIMEOUT)"),
		apiAddr:            fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		workers:            fs.Int("workers", config.Workers, "inbound worker count, 0 uses the default (overrides $DONORPIPE_WORKERS)"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if *flags.dbDSN == "" {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", *flags.dbDSN)
	}
	if *flags.whatsappDSN == "" {
		*flags.whatsappDSN = filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName)
	}

	switch api.Transport(*flags.transport) {
	case api.TransportTelegram, api.TransportWhatsApp, api.TransportTwilio, api.TransportNone:
	default:
		return Flags{}, fmt.Errorf("%w: %q", api.ErrUnknownTransport, *flags.transport)
	}
	switch gateway.Kind(*flags.gateway) {
	case gateway.KindHygraph, gateway.KindSupabase, gateway.KindLocal:
	default:
		return Flags{}, fmt.Errorf("%w: %q", gateway.ErrUnknownKind, *flags.gateway)
	}
	if api.Transport(*flags.transport) == api.TransportTelegram && *flags.telegramToken == "" {
		return Flags{}, errors.New("telegram transport requires a bot token ($TELEGRAM_BOT_TOKEN or -telegram-token)")
	}

	slog.Debug("flags parsed",
		"transport", *flags.transport,
		"telegramTokenSet", *flags.telegramToken != "",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"gateway", *flags.gateway,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisURLSet", *flags.redisURL != "",
		"sessionIdleTimeout", *flags.sessionIdleTimeout,
		"gatewayTimeout", *flags.gatewayTimeout,
		"apiAddr", *flags.apiAddr,
		"workers", *flags.workers)

	return flags, nil
}

// isFileDSN reports whether dsn points at a local SQLite file.
func isFileDSN(dsn string) bool {
	return dsn != "" && store.DetectDSNType(dsn) != "postgres"
}

// usesLocalFiles reports whether this process will write SQLite files in the state directory.
func usesLocalFiles(flags Flags) bool {
	if isFileDSN(*flags.dbDSN) {
		return true
	}
	return api.Transport(*flags.transport) == api.TransportWhatsApp && isFileDSN(*flags.whatsappDSN)
}

// ensureDirectoriesExist creates parent directories for file-based databases.
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if isFileDSN(*flags.dbDSN) {
		dirs = append(dirs, filepath.Dir(strings.TrimPrefix(*flags.dbDSN, "file:")))
	}
	if api.Transport(*flags.transport) == api.TransportWhatsApp && isFileDSN(*flags.whatsappDSN) {
		path, _, _ := strings.Cut(strings.TrimPrefix(*flags.whatsappDSN, "file:"), "?")
		dirs = append(dirs, filepath.Dir(path))
	}
	for _, dir := range dirs {
		slog.Debug("Creating directory for file-based state", "dir", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// buildTransportOptions constructs the chat client options for every transport.
func buildTransportOptions(flags Flags, config Config) api.TransportOptions {
	var opts api.TransportOptions
	if *flags.telegramToken != "" {
		opts.Telegram = append(opts.Telegram, telegram.WithToken(*flags.telegramToken))
	}

	if *flags.qrOutput != "" {
		opts.WhatsApp = append(opts.WhatsApp, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		opts.WhatsApp = append(opts.WhatsApp, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDSN != "" {
		opts.WhatsApp = append(opts.WhatsApp, whatsapp.WithDBDSN(*flags.whatsappDSN))
	}

	if config.TwilioAccountSID != "" {
		opts.Twilio = append(opts.Twilio, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		opts.Twilio = append(opts.Twilio, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFromNumber != "" {
		opts.Twilio = append(opts.Twilio, twiliowhatsapp.WithFromWhats(config.TwilioFromNumber))
	}
	return opts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

// buildGatewayOptions constructs data gateway options
func buildGatewayOptions(flags Flags, config Config) []gateway.Option {
	var gwOpts []gateway.Option
	if *flags.hygraphURL != "" {
		gwOpts = append(gwOpts, gateway.WithHygraph(*flags.hygraphURL, config.HygraphToken))
	}
	if config.SupabaseURL != "" {
		gwOpts = append(gwOpts, gateway.WithSupabase(config.SupabaseURL, config.SupabaseKey))
	}
	gwOpts = append(gwOpts, gateway.WithCallTimeout(*flags.gatewayTimeout))
	return gwOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithTransport(api.Transport(*flags.transport)),
		api.WithGateway(gateway.Kind(*flags.gateway)),
		api.WithSessionIdleTimeout(*flags.sessionIdleTimeout),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.redisURL != "" {
		apiOpts = append(apiOpts, api.WithRedisURL(*flags.redisURL))
	}
	if *flags.workers > 0 {
		apiOpts = append(apiOpts, api.WithWorkers(*flags.workers))
	}
	return apiOpts
}
