package relay

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/feedbridge/internal/models"
	"github.com/desertthunder/feedbridge/internal/repositories"
	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/desertthunder/feedbridge/internal/tasks"
	"github.com/desertthunder/feedbridge/internal/telemetry"
	"github.com/desertthunder/feedbridge/internal/transport"
)

// MUC item values used for the relay's own presence.
const (
	AffiliationMember = "member"
	RoleParticipant   = "participant"
	RoleNone          = "none"
)

// Transport sends stanzas to the chat server and runs delayed work on the event loop.
//
// Satisfied by [transport.Component].
type Transport interface {
	Schedule(delay time.Duration, fn func(context.Context))
	SendMessage(msg transport.Message) bool
	SendPresence(p transport.Presence) bool
}

// Connector is the relay's view of an account connector.
type Connector interface {
	Tag() string
	HandleInbound(ctx context.Context, core tasks.Core, body string) tasks.Handled
	PerformUpdates(ctx context.Context, core tasks.Core, showHistory bool) tasks.UpdateResult
}

// Factory builds the connector of account for room.
type Factory func(ctx context.Context, account *models.Account, room string) (Connector, error)

// Store is the read side of the persistence layer used on room joins.
//
// Satisfied by [repositories.Store].
type Store interface {
	WithSession(ctx context.Context, fn func(*repositories.Session) error) error
}

// Options configures a [Relay].
type Options struct {
	Transport Transport
	Store     Store
	Config    *shared.Config
	Factory   Factory // defaults to [ConnectorFactory]
	Logger    *log.Logger
	Nick      string // defaults to the configured component nick
}

// bindingKey identifies one occupant's binding to a room by bare addresses.
type bindingKey struct {
	jid  string
	room string
}

// binding is the relay's state for one occupant of one room.
type binding struct {
	room       string
	occupant   string
	nick       string
	present    bool
	connectors []Connector
}

// RoomInfo is a snapshot of one room binding.
type RoomInfo struct {
	Room     string   `json:"room"`
	Occupant string   `json:"occupant"`
	Nick     string   `json:"nick"`
	Present  bool     `json:"present"`
	Services []string `json:"services"`
}

// Relay owns the room bindings and routes connector callbacks back to their occupant.
//
// Stanza handlers and connector callbacks run on the transport's event loop. Only [Relay.Rooms]
// may be called from other goroutines.
type Relay struct {
	transport Transport
	store     Store
	factory   Factory
	nick      string
	logger    *log.Logger

	mu       sync.RWMutex
	bindings map[bindingKey]*binding
}

// New creates a relay.
func New(opts Options) *Relay {
	telemetry.Init()

	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Nick == "" && opts.Config != nil {
		opts.Nick = opts.Config.Component.Nick
	}
	if opts.Nick == "" {
		opts.Nick = "feedbridge"
	}

	r := &Relay{
		transport: opts.Transport,
		store:     opts.Store,
		factory:   opts.Factory,
		nick:      opts.Nick,
		logger:    shared.WithLogger(opts.Logger, "component", "relay"),
		bindings:  make(map[bindingKey]*binding),
	}
	if r.factory == nil {
		r.factory = ConnectorFactory(opts.Store, opts.Config, opts.Logger)
	}
	return r
}

// ConnectorFactory builds [tasks.Connector] instances backed by store and cfg.
func ConnectorFactory(store Store, cfg *shared.Config, logger *log.Logger) Factory {
	return func(ctx context.Context, account *models.Account, room string) (Connector, error) {
		c, err := tasks.NewConnector(ctx, store, account, room, cfg, tasks.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Rooms returns a snapshot of the bindings ordered by room address and occupant.
func (r *Relay) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]RoomInfo, 0, len(r.bindings))
	for _, b := range r.bindings {
		info := RoomInfo{Room: b.room, Occupant: b.occupant, Nick: b.nick, Present: b.present, Services: []string{}}
		for _, c := range b.connectors {
			info.Services = append(info.Services, c.Tag())
		}
		rooms = append(rooms, info)
	}
	slices.SortFunc(rooms, func(a, b RoomInfo) int {
		return cmp.Or(cmp.Compare(a.Room, b.Room), cmp.Compare(a.Occupant, b.Occupant))
	})
	return rooms
}

func (r *Relay) lookup(key bindingKey) *binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings[key]
}

func (r *Relay) updateGauges() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connectors := 0
	for _, b := range r.bindings {
		connectors += len(b.connectors)
	}
	telemetry.SetBindings(len(r.bindings), connectors)
}
