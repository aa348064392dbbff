// Package relay is the relay core: it binds chat rooms to account connectors.
//
// # Bindings
//
// A binding belongs to one occupant of one room and is keyed by both bare addresses. It is
// created the first time that occupant sends available presence to the room. The relay then
// announces itself to them and starts one connector per credentialed account of theirs, each
// running a first polling cycle with history. Two users in one room get two bindings, and so
// does one user in two rooms.
//
// # Dispatch
//
// A room message goes to the connectors of the sender's own binding only. When any of them
// handles it, the sender receives one notice naming the services that did.
//
// # Callbacks
//
// Each binding hands its connectors a [tasks.Core] that addresses room messages, private
// messages and author presence ("room/nick") to that binding's occupant, and schedules the
// connector's next cycle on the event loop.
package relay
