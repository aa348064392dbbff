// package tasks implements the account connector: inbound room commands and the feed polling cycle.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/feedbridge/internal/models"
	"github.com/desertthunder/feedbridge/internal/repositories"
	"github.com/desertthunder/feedbridge/internal/services"
	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/desertthunder/feedbridge/internal/telemetry"
	"golang.org/x/oauth2"
)

// Core is the set of relay callbacks a connector drives.
//
// All callbacks are invoked from the relay's event loop.
type Core interface {
	// Schedule runs fn once after delay without blocking the caller.
	Schedule(delay time.Duration, fn func(context.Context))

	// SendRoomMessage broadcasts body into room as nick. A zero stamp means "now".
	// An empty nick sends as the relay itself.
	SendRoomMessage(room, nick, body string, stamp time.Time)

	// SendUserMessage delivers body privately to the room's occupant as nick.
	SendUserMessage(room, nick, body string, stamp time.Time)

	// SendUserPresence marks nick present or away in room.
	SendUserPresence(room, nick string, present bool)
}

// Store persists account changes made by a connector.
//
// Satisfied by [repositories.Store].
type Store interface {
	WithSession(ctx context.Context, fn func(*repositories.Session) error) error
}

// Handled is the result of [Connector.HandleInbound]: unhandled, or handled by a named service.
type Handled struct {
	service string
}

// Unhandled means the message was not for this connector or could not be relayed.
var Unhandled = Handled{}

// HandledBy marks a message as handled by the service tag.
func HandledBy(tag string) Handled {
	return Handled{service: tag}
}

// OK reports whether the message was handled.
func (h Handled) OK() bool { return h.service != "" }

// Service returns the handling service tag, empty when unhandled.
func (h Handled) Service() string { return h.service }

// Connector adapts one bound account to its feed service.
//
// A Connector is driven from a single event loop and is not safe for concurrent use.
type Connector struct {
	store      Store
	account    *models.Account
	room       string
	svc        shared.ServiceConfig
	feed       services.Feed
	interval   time.Duration
	staleAfter time.Duration
	authors    map[string]*author
	now        func() time.Time
	logger     *log.Logger

	httpClient *http.Client
}

// Option configures a [Connector].
type Option func(*Connector)

// WithFeed replaces the HTTP feed client.
func WithFeed(feed services.Feed) Option {
	return func(c *Connector) { c.feed = feed }
}

// WithLogger sets the parent logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Connector) { c.logger = l }
}

// WithClock replaces the time source used for presence staleness.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) { c.now = now }
}

// WithHTTPClient sets the base HTTP client of the feed client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Connector) { c.httpClient = hc }
}

// NewConnector builds the connector for account relaying into room.
//
// The configured service must match the account's (tag, scheme) pair or [shared.ErrConfiguration]
// is returned. Accounts without usable credentials fail with [shared.ErrAuthentication].
func NewConnector(ctx context.Context, store Store, account *models.Account, room string, cfg *shared.Config, opts ...Option) (*Connector, error) {
	telemetry.Init()

	svc, ok := cfg.Service(account.Tag, account.Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s for account %s", shared.ErrUnknownService, account.Scheme, account.Tag, account.JID)
	}

	acct := *account
	c := &Connector{
		store:      store,
		account:    &acct,
		room:       room,
		svc:        svc,
		interval:   cfg.Relay.PollInterval.Duration,
		staleAfter: cfg.Relay.StaleAfter.Duration,
		authors:    make(map[string]*author),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.interval <= 0 {
		c.interval = 60 * time.Second
	}
	if c.staleAfter <= 0 {
		c.staleAfter = 300 * time.Second
	}
	if c.logger == nil {
		c.logger = shared.NewLogger(nil)
	}
	c.logger = shared.WithLogger(c.logger, "service", svc.Tag, "jid", account.JID, "room", room)

	if !account.HasCredentials() {
		return nil, fmt.Errorf("%w: account %s on %s", shared.ErrMissingCredentials, account.JID, account.ServiceName)
	}

	if c.feed == nil {
		client, err := services.New(ctx, svc, account.Key, account.Secret, services.Options{
			HTTPClient:     c.httpClient,
			Timeout:        cfg.Relay.RequestTimeout.Duration,
			OnTokenRefresh: c.persistToken,
			Logger:         c.logger,
		})
		if err != nil {
			if errors.Is(err, shared.ErrConfiguration) || errors.Is(err, shared.ErrAuthentication) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: failed to create feed client: %v", shared.ErrAuthentication, err)
		}
		c.feed = client
	}
	return c, nil
}

// Tag returns the service tag.
func (c *Connector) Tag() string { return c.svc.Tag }

// Room returns the room this connector relays into.
func (c *Connector) Room() string { return c.room }

// Account returns a copy of the connector's account, including the current cursor.
func (c *Connector) Account() models.Account { return *c.account }

// commit persists the connector's account row.
func (c *Connector) commit(ctx context.Context) error {
	return c.store.WithSession(ctx, func(s *repositories.Session) error {
		return s.Commit(ctx, c.account)
	})
}

// persistToken stores a refreshed OAuth token as the account's credential pair.
func (c *Connector) persistToken(tok *oauth2.Token) {
	c.account.Key = tok.AccessToken
	if tok.RefreshToken != "" {
		c.account.Secret = tok.RefreshToken
	}

	if err := c.commit(context.Background()); err != nil {
		c.logger.Error("failed to persist refreshed token", "error", err)
		return
	}
	c.logger.Info("refreshed token persisted")
}
