package relay

import (
	"context"
	"time"

	"github.com/desertthunder/feedbridge/internal/tasks"
	"github.com/desertthunder/feedbridge/internal/transport"
)

// occupantCore is the [tasks.Core] handed to the connectors of one binding.
//
// Every stanza it sends is addressed to that binding's occupant.
type occupantCore struct {
	relay *Relay
	jid   string
}

var _ tasks.Core = occupantCore{}

func (r *Relay) coreFor(key bindingKey) occupantCore {
	return occupantCore{relay: r, jid: key.jid}
}

// Schedule runs fn on the event loop after delay.
func (c occupantCore) Schedule(delay time.Duration, fn func(context.Context)) {
	c.relay.transport.Schedule(delay, fn)
}

// SendRoomMessage broadcasts body into room as nick, or as the relay when nick is empty.
func (c occupantCore) SendRoomMessage(room, nick, body string, stamp time.Time) {
	c.relay.sendMessage(c.key(room), nick, body, transport.MessageGroupchat, stamp)
}

// SendUserMessage delivers body privately to the occupant.
func (c occupantCore) SendUserMessage(room, nick, body string, stamp time.Time) {
	c.relay.sendMessage(c.key(room), nick, body, transport.MessageChat, stamp)
}

// SendUserPresence marks nick available or away in room.
func (c occupantCore) SendUserPresence(room, nick string, present bool) {
	from, to, ok := c.relay.resolve(c.key(room), nick)
	if !ok {
		return
	}

	p := transport.Presence{From: from, To: to}
	if !present {
		p.Show = transport.ShowAway
	}
	c.relay.transport.SendPresence(p)
}

func (c occupantCore) key(room string) bindingKey {
	return bindingKey{jid: c.jid, room: transport.Bare(room)}
}

func (r *Relay) sendMessage(key bindingKey, nick, body, kind string, stamp time.Time) {
	from, to, ok := r.resolve(key, nick)
	if !ok {
		return
	}

	msg := transport.Message{From: from, To: to, Type: kind, Body: body}
	if !stamp.IsZero() {
		msg.Delay = &transport.Delay{From: from, Stamp: stamp.UTC().Truncate(time.Second)}
	}
	r.transport.SendMessage(msg)
}

// resolve maps a binding and display nick to the sender address and the occupant.
func (r *Relay) resolve(key bindingKey, nick string) (from, to string, ok bool) {
	b := r.lookup(key)
	if b == nil {
		r.logger.Debug("dropping stanza for unbound room", "room", key.room, "occupant", key.jid)
		return "", "", false
	}
	if nick == "" {
		nick = r.nick
	}
	return transport.Join(key.room, nick), b.occupant, true
}
