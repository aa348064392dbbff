// Package transport links the relay to the chat server.
//
// # Stanzas
//
// [Message] and [Presence] are the two stanza kinds the relay exchanges with the server.
// On the wire each one travels as a JSON [Frame] over a websocket:
//
//	{"message":{"from":"...","to":"...","type":"groupchat","body":"..."}}
//	{"presence":{"from":"...","to":"...","type":"unavailable"}}
//
// Addresses are "bare/resource"; [Bare], [Resource] and [Join] split and build them.
//
// # Event Loop
//
// A [Loop] runs inbound handlers and scheduled callbacks one at a time on a single goroutine.
// A panicking handler is logged and counted, and the loop carries on.
//
// # Component Link
//
// A [Component] dials the server, authenticating with its name and shared secret in the
// handshake headers, and keeps the link up with ping/pong keepalive and capped exponential
// backoff between redials. [Component.Send] never blocks: when the outbound queue is full
// the stanza is dropped with a warning.
package transport
