package tasks

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/desertthunder/feedbridge/internal/formatter"
	"github.com/desertthunder/feedbridge/internal/models"
	"github.com/desertthunder/feedbridge/internal/services"
	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/desertthunder/feedbridge/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// UpdateResult summarizes one polling cycle.
type UpdateResult struct {
	Timeline int           // timeline entries relayed
	Direct   int           // direct messages relayed
	Cursor   models.Cursor // cursor after the cycle
	Err      error         // feed failure that aborted the cycle
}

// PerformUpdates runs one polling cycle and always schedules the next one.
//
// New timeline entries and direct messages since the cursor are relayed in ascending id order.
// With showHistory, every distinct author first gets a presence burst and relayed bodies carry
// their original timestamp. The cursor then advances to the highest id seen per stream and is
// persisted; a persistence failure is logged and does not undo the relay.
//
// A feed failure is reported into the room once and leaves the cursor untouched.
func (c *Connector) PerformUpdates(ctx context.Context, core Core, showHistory bool) UpdateResult {
	tag := c.Tag()
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "connector.perform_updates",
		attribute.String("service", tag), attribute.Bool("show_history", showHistory))
	defer span.End()

	defer core.Schedule(c.interval, func(ctx context.Context) {
		c.PerformUpdates(ctx, core, false)
	})

	result := c.poll(ctx, core, showHistory)

	telemetry.RecordError(span, result.Err)
	telemetry.PollCycles.WithLabelValues(tag, telemetry.Outcome(result.Err)).Inc()
	telemetry.PollDuration.WithLabelValues(tag).Observe(time.Since(start).Seconds())
	return result
}

func (c *Connector) poll(ctx context.Context, core Core, showHistory bool) UpdateResult {
	tag := c.Tag()
	cursor := c.account.Cursor()

	entries, dms, err := c.fetch(ctx, cursor)
	if err != nil {
		c.logger.Warn("failed to fetch updates", "error", err)
		core.SendRoomMessage(c.room, "", formatter.ErrorNotice(tag, err), time.Time{})
		return UpdateResult{Cursor: cursor, Err: err}
	}

	slices.SortStableFunc(entries, func(a, b services.Entry) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortStableFunc(dms, func(a, b services.DirectMessage) int { return cmp.Compare(a.ID, b.ID) })

	if showHistory {
		c.presenceBurst(core, entries, dms)
	}

	var lastTimeline, lastDirect int64
	for _, e := range entries {
		nick := formatter.Nick(e.Author, tag)
		c.updatePresence(core, nick, e.Author.Handle, e.CreatedAt)
		core.SendRoomMessage(c.room, nick, formatter.FormatEntry(tag, e), stampFor(showHistory, e.CreatedAt))
		lastTimeline = e.ID
	}
	for _, dm := range dms {
		nick := formatter.Nick(dm.Sender, tag)
		c.updatePresence(core, nick, dm.Sender.Handle, dm.CreatedAt)
		core.SendUserMessage(c.room, nick, formatter.FormatDirect(tag, dm), stampFor(showHistory, dm.CreatedAt))
		lastDirect = dm.ID
	}

	telemetry.RelayedMessages.WithLabelValues(tag, telemetry.StreamTimeline).Add(float64(len(entries)))
	telemetry.RelayedMessages.WithLabelValues(tag, telemetry.StreamDirect).Add(float64(len(dms)))

	next := cursor.Advance(lastTimeline, lastDirect)
	if next != cursor {
		c.account.State = next.String()
		err := c.commit(ctx)
		telemetry.CursorCommits.WithLabelValues(telemetry.Outcome(err)).Inc()
		switch {
		case errors.Is(err, shared.ErrNotFound):
			c.logger.Warn("account no longer exists, cursor not persisted", "cursor", next)
		case err != nil:
			c.logger.Error("failed to persist cursor", "cursor", next, "error", err)
		}
	}

	c.logger.Debug("updates relayed", "timeline", len(entries), "direct", len(dms), "cursor", next)
	return UpdateResult{Timeline: len(entries), Direct: len(dms), Cursor: next}
}

// fetch reads both streams since the cursor. Zero ids fetch the full history.
func (c *Connector) fetch(ctx context.Context, cursor models.Cursor) ([]services.Entry, []services.DirectMessage, error) {
	entries, err := c.feed.HomeTimeline(ctx, cursor.Timeline)
	if err != nil {
		return nil, nil, err
	}
	dms, err := c.feed.DirectMessages(ctx, cursor.Direct)
	if err != nil {
		return nil, nil, err
	}
	return entries, dms, nil
}

// presenceBurst announces each distinct author of the batch once, in order of first appearance.
func (c *Connector) presenceBurst(core Core, entries []services.Entry, dms []services.DirectMessage) {
	seen := make(map[string]bool)
	announce := func(a services.Author, stamp time.Time) {
		if seen[a.Handle] {
			return
		}
		seen[a.Handle] = true
		c.updatePresence(core, formatter.Nick(a, c.Tag()), a.Handle, stamp)
	}

	for _, e := range entries {
		announce(e.Author, e.CreatedAt)
	}
	for _, dm := range dms {
		announce(dm.Sender, dm.CreatedAt)
	}
}

// stampFor returns the delayed-delivery stamp; near-real-time relays carry none.
func stampFor(showHistory bool, createdAt time.Time) time.Time {
	if !showHistory {
		return time.Time{}
	}
	return createdAt
}
