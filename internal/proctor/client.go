// Package proctor is the client for the remote proctoring vendor API. It
// signs requests, follows paginated list endpoints, normalizes vendor records
// against the LMS directory and caches results per request and per session.
package proctor

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctoring/internal/audit"
	"github.com/stemsi/exstem-proctoring/internal/cache"
)

// Config holds the vendor connection settings and cache lifetimes.
type Config struct {
	BaseURL        string
	APIVersionPath string
	PluginVersion  string
	InstanceID     string

	// Default credentials, used when the caller has none of its own.
	AppID  string
	APIKey string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxRedirects   int
	MaxRecursion   int
	BreakerEnabled bool

	RequestCacheTTL             time.Duration
	SessionCacheTTL             time.Duration
	SessionStartTTL             time.Duration
	FailureDedupeTTL            time.Duration
	ParticipantsRefreshInterval time.Duration

	BulkConcurrency   int
	BulkRatePerSecond int
}

func (c Config) withDefaults() Config {
	if c.APIVersionPath == "" {
		c.APIVersionPath = "api"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 60 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
	if c.MaxRecursion <= 0 {
		c.MaxRecursion = 250
	}
	if c.RequestCacheTTL <= 0 {
		c.RequestCacheTTL = 5 * time.Minute
	}
	if c.SessionCacheTTL <= 0 {
		c.SessionCacheTTL = 2 * time.Hour
	}
	if c.SessionStartTTL <= 0 {
		c.SessionStartTTL = 10 * time.Minute
	}
	if c.FailureDedupeTTL <= 0 {
		c.FailureDedupeTTL = 2 * time.Hour
	}
	if c.BulkConcurrency <= 0 {
		c.BulkConcurrency = 8
	}
	if c.BulkRatePerSecond <= 0 {
		c.BulkRatePerSecond = 20
	}
	return c
}

// Credentials identify the LMS site to the vendor.
type Credentials struct {
	AppID  string
	APIKey string
}

// Validate checks both parts without network access.
func (c Credentials) Validate() error {
	if err := ValidateAppID(c.AppID); err != nil {
		return err
	}
	return ValidateAPIKey(c.APIKey)
}

// Deps are the host collaborators of a Client.
type Deps struct {
	Directory Directory
	// Sink receives failed remote calls. Nil disables reporting.
	Sink audit.Sink
	// SessionStore is the session scope used when the context carries none.
	SessionStore cache.Store
	// HTTPClient replaces the default client, mostly for tests.
	HTTPClient *http.Client
	// LoggerFor returns the logger of one layer ("proctor", "transport",
	// "parser", "paginate"), so each can carry its own level. When nil,
	// layers derive from Log.
	LoggerFor func(component string) zerolog.Logger
	Log       zerolog.Logger
}

func (d Deps) loggerFor() func(string) zerolog.Logger {
	if d.LoggerFor != nil {
		return d.LoggerFor
	}
	base := d.Log
	return func(component string) zerolog.Logger {
		return base.With().Str("component", component).Logger()
	}
}

// Client is the vendor API facade. It is safe for concurrent use.
type Client struct {
	cfg       Config
	transport *transport
	parser    *Parser
	dir       Directory
	session   cache.Store
	log       zerolog.Logger
	pageLog   zerolog.Logger
	now       func() time.Time
}

func New(cfg Config, deps Deps) *Client {
	cfg = cfg.withDefaults()
	session := deps.SessionStore
	if session == nil {
		session = cache.NewMemory(cfg.SessionCacheTTL)
	}
	loggerFor := deps.loggerFor()

	return &Client{
		cfg:       cfg,
		transport: newTransport(cfg, deps.HTTPClient, deps.Sink, session, loggerFor("transport")),
		parser:    NewParser(deps.Directory, loggerFor("parser")),
		dir:       deps.Directory,
		session:   session,
		log:       loggerFor("proctor"),
		pageLog:   loggerFor("paginate"),
		now:       time.Now,
	}
}

// DefaultCredentials returns the configured site credentials.
func (c *Client) DefaultCredentials() Credentials {
	return Credentials{AppID: c.cfg.AppID, APIKey: c.cfg.APIKey}
}

// Parser exposes the normalizer used by the client.
func (c *Client) Parser() *Parser {
	return c.parser
}

// RequestSignature signs a request the way the client does. It exists for
// callers that build vendor URLs themselves, such as embedded widgets.
func (c *Client) RequestSignature(requestURI, method string, timestamp int64, nonce string, creds Credentials) (string, error) {
	return Sign(requestURI, method, timestamp, nonce, creds.APIKey, creds.AppID)
}

// Ping checks that the vendor answers. It is unauthenticated.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	resp, err := c.transport.GetUnsigned(ctx, "/ping", "")
	if err != nil {
		return false, err
	}
	return !resp.NotFound(), nil
}

// requestScope returns ctx with a request scope attached, opening a fresh one
// when the caller did not.
func (c *Client) requestScope(ctx context.Context) (context.Context, cache.Store) {
	if s := cache.RequestFrom(ctx); s != nil {
		return ctx, s
	}
	s := cache.NewMemory(c.cfg.RequestCacheTTL)
	return cache.Begin(ctx, s), s
}

func (c *Client) sessionStore(ctx context.Context) cache.Store {
	return cache.SessionFrom(ctx, c.session)
}
