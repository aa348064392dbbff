package tasks

import (
	"time"

	"github.com/desertthunder/feedbridge/internal/telemetry"
)

// author is the simulated presence of one feed author.
type author struct {
	nick     string
	lastSeen time.Time
	away     bool
}

// updatePresence derives an author's presence from content timestamps.
//
// A new author becomes present. A known author goes away when the new stamp trails their
// newest stamp by more than the staleness threshold, and one that was away comes back on
// content within it. Replaying history in ascending order therefore keeps its authors present.
// The last-seen stamp only moves forward. Events are emitted only on changes.
func (c *Connector) updatePresence(core Core, nick, handle string, stamp time.Time) {
	if stamp.IsZero() {
		stamp = c.now()
	}

	a, ok := c.authors[handle]
	if !ok {
		c.authors[handle] = &author{nick: nick, lastSeen: stamp}
		c.emitPresence(core, nick, true)
		return
	}
	a.nick = nick

	switch stale := a.lastSeen.Sub(stamp) > c.staleAfter; {
	case stale && !a.away:
		a.away = true
		c.emitPresence(core, nick, false)
	case !stale && a.away:
		a.away = false
		c.emitPresence(core, nick, true)
	}

	if stamp.After(a.lastSeen) {
		a.lastSeen = stamp
	}
}

func (c *Connector) emitPresence(core Core, nick string, present bool) {
	state := "available"
	if !present {
		state = "away"
	}
	telemetry.PresenceEvents.WithLabelValues(c.Tag(), state).Inc()
	core.SendUserPresence(c.room, nick, present)
}
