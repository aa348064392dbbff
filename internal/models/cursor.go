package models

import (
	"strconv"
	"strings"
)

// InitialCursor means "fetch full history" for both streams.
var InitialCursor = Cursor{}

// Cursor marks the last relayed entry id of the timeline and direct-message streams.
//
// Persisted as "<timeline>:<direct>".
type Cursor struct {
	Timeline int64
	Direct   int64
}

// ParseCursor parses a persisted cursor. Anything malformed parses as [InitialCursor].
func ParseCursor(state string) Cursor {
	parts := strings.Split(state, ":")
	if len(parts) != 2 {
		return InitialCursor
	}

	timeline, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || timeline < 0 {
		return InitialCursor
	}
	direct, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || direct < 0 {
		return InitialCursor
	}

	return Cursor{Timeline: timeline, Direct: direct}
}

// String formats the cursor for persistence.
func (c Cursor) String() string {
	return strconv.FormatInt(c.Timeline, 10) + ":" + strconv.FormatInt(c.Direct, 10)
}

// IsInitial reports whether nothing has been relayed yet on either stream.
func (c Cursor) IsInitial() bool {
	return c == InitialCursor
}

// Advance returns the component-wise maximum of c and the given ids. A cursor never moves backwards.
func (c Cursor) Advance(timeline, direct int64) Cursor {
	if timeline > c.Timeline {
		c.Timeline = timeline
	}
	if direct > c.Direct {
		c.Direct = direct
	}
	return c
}
