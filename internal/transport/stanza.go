package transport

import (
	"strings"
	"time"
)

// Message types.
const (
	MessageGroupchat = "groupchat"
	MessageChat      = "chat"
)

// Presence types and show values.
const (
	PresenceUnavailable = "unavailable"
	ShowAway            = "xa"
)

// MUC status code marking a presence as the receiver's own.
const StatusSelfPresence = 110

// Message is a chat message stanza.
type Message struct {
	ID   string `json:"id,omitempty"`
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type,omitempty"`
	Body string `json:"body"`

	// Delay marks delayed delivery of historical content.
	Delay *Delay `json:"delay,omitempty"`
}

// Delay is a delayed-delivery element.
type Delay struct {
	From  string    `json:"from,omitempty"`
	Stamp time.Time `json:"stamp"`
}

// Presence is a presence stanza. An empty Type means available.
type Presence struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Type string   `json:"type,omitempty"`
	Show string   `json:"show,omitempty"`
	MUC  *MUCUser `json:"muc,omitempty"`
}

// Available reports whether the presence announces availability.
func (p Presence) Available() bool {
	return p.Type == ""
}

// MUCUser is the multi-user-chat item carried by room presences.
type MUCUser struct {
	Affiliation string `json:"affiliation,omitempty"`
	Role        string `json:"role,omitempty"`
	Statuses    []int  `json:"statuses,omitempty"`
}

// Frame is one websocket frame exchanged with the chat server. Exactly one field is set.
type Frame struct {
	Message  *Message  `json:"message,omitempty"`
	Presence *Presence `json:"presence,omitempty"`
}

// Kind names the stanza carried by the frame.
func (f Frame) Kind() string {
	switch {
	case f.Message != nil:
		return "message"
	case f.Presence != nil:
		return "presence"
	default:
		return ""
	}
}

// Bare strips the resource from an address.
func Bare(jid string) string {
	if i := strings.IndexByte(jid, '/'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// Resource returns the part of an address after the first slash.
func Resource(jid string) string {
	if i := strings.IndexByte(jid, '/'); i >= 0 {
		return jid[i+1:]
	}
	return ""
}

// Join builds bare/resource, or bare when resource is empty.
func Join(bare, resource string) string {
	if resource == "" {
		return bare
	}
	return bare + "/" + resource
}
