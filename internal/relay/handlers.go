package relay

import (
	"context"

	"github.com/desertthunder/feedbridge/internal/formatter"
	"github.com/desertthunder/feedbridge/internal/models"
	"github.com/desertthunder/feedbridge/internal/repositories"
	"github.com/desertthunder/feedbridge/internal/transport"
)

// HandlePresence binds, refreshes or marks an occupant's room binding from their presence.
//
// The room is the bare "to" address and the occupant's nick its resource. Each occupant of a
// room has a binding of its own. Their first available presence announces the relay to them
// and starts a connector for every account of theirs that has credentials. Later presences only
// refresh the occupant and nick. Unavailable presence is acknowledged, and the binding's
// connectors keep polling.
func (r *Relay) HandlePresence(ctx context.Context, p transport.Presence) {
	key := bindingKey{jid: transport.Bare(p.From), room: transport.Bare(p.To)}
	if key.room == "" || key.jid == "" {
		r.logger.Debug("ignoring presence without addresses", "from", p.From, "to", p.To)
		return
	}
	logger := r.logger.With("room", key.room, "occupant", p.From)

	if !p.Available() {
		r.leave(key, p)
		logger.Info("occupant left room")
		return
	}

	if !r.bind(key, p) {
		logger.Debug("room binding refreshed", "nick", transport.Resource(p.To))
		return
	}
	logger.Info("room bound", "nick", transport.Resource(p.To))

	r.transport.SendPresence(transport.Presence{
		From: transport.Join(key.room, r.nick),
		To:   p.From,
		MUC: &transport.MUCUser{
			Affiliation: AffiliationMember,
			Role:        RoleParticipant,
			Statuses:    []int{transport.StatusSelfPresence},
		},
	})

	accounts, err := r.accountsFor(ctx, key.jid)
	if err != nil {
		logger.Error("failed to load accounts", "error", err)
		return
	}

	core := r.coreFor(key)
	for _, account := range accounts {
		if !account.HasCredentials() {
			logger.Debug("skipping account without credentials", "service", account.ServiceName)
			continue
		}

		c, err := r.factory(ctx, account, key.room)
		if err != nil {
			logger.Warn("failed to start connector", "service", account.ServiceName, "error", err)
			continue
		}

		c.PerformUpdates(ctx, core, true)
		r.register(key, c)
		logger.Info("connector started", "service", c.Tag())
	}
	r.updateGauges()
}

// HandleMessage dispatches a room message to the connectors of the sender's own binding.
//
// Messages from anyone without a binding to the room reach no connector.
func (r *Relay) HandleMessage(ctx context.Context, msg transport.Message) {
	key := bindingKey{jid: transport.Bare(msg.From), room: transport.Bare(msg.To)}
	b := r.lookup(key)
	if b == nil || msg.Body == "" {
		if b == nil && key.jid != "" {
			r.logger.Debug("dropping message from unbound sender", "room", key.room, "from", msg.From)
		}
		return
	}

	core := r.coreFor(key)
	var tags []string
	for _, c := range b.connectors {
		if h := c.HandleInbound(ctx, core, msg.Body); h.OK() {
			tags = append(tags, h.Service())
		}
	}
	if len(tags) == 0 {
		return
	}

	r.transport.SendMessage(transport.Message{
		From: transport.Join(key.room, r.nick),
		To:   b.occupant,
		Type: transport.MessageGroupchat,
		Body: formatter.HandledNotice(tags),
	})
}

// bind records the occupant's full address and nick and reports whether the binding is new.
func (r *Relay) bind(key bindingKey, p transport.Presence) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[key]
	if !ok {
		b = &binding{room: key.room}
		r.bindings[key] = b
	}
	b.occupant = p.From
	b.nick = transport.Resource(p.To)
	b.present = true
	return !ok
}

func (r *Relay) leave(key bindingKey, p transport.Presence) {
	r.mu.Lock()
	if b, ok := r.bindings[key]; ok {
		b.present = false
	}
	r.mu.Unlock()

	r.transport.SendPresence(transport.Presence{
		From: p.To,
		To:   p.From,
		Type: transport.PresenceUnavailable,
		MUC: &transport.MUCUser{
			Affiliation: AffiliationMember,
			Role:        RoleNone,
			Statuses:    []int{transport.StatusSelfPresence},
		},
	})
}

func (r *Relay) register(key bindingKey, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bindings[key]; ok {
		b.connectors = append(b.connectors, c)
	}
}

// accountsFor ensures the user row exists and returns its accounts.
func (r *Relay) accountsFor(ctx context.Context, jid string) ([]*models.Account, error) {
	var accounts []*models.Account
	err := r.store.WithSession(ctx, func(s *repositories.Session) error {
		if _, err := s.FindOrCreateUser(ctx, jid); err != nil {
			return err
		}
		var err error
		accounts, err = s.FindAccounts(ctx, repositories.AccountFilter{JID: jid}, false)
		return err
	})
	return accounts, err
}
