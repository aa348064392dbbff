package tasks

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/feedbridge/internal/formatter"
	"github.com/desertthunder/feedbridge/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Inbound commands addressed at a referenced entry.
const (
	CommandFavor   = "/favor"
	CommandRetweet = "/retweet"
	CommandBlock   = "/block"
	CommandReport  = "/report"
)

// command is a parsed `@tag:author:id:text` message.
type command struct {
	Tag    string
	Author string
	ID     int64
	Text   string
}

// parseCommand splits an addressed message into at most four fields, so the text may contain colons.
func parseCommand(body string) (command, bool) {
	fields := strings.SplitN(strings.TrimPrefix(body, formatter.Sigil), ":", 4)
	if len(fields) != 4 {
		return command{}, false
	}

	author := strings.TrimSpace(fields[1])
	id, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
	if author == "" || err != nil || id <= 0 {
		return command{}, false
	}

	return command{Tag: fields[0], Author: author, ID: id, Text: strings.TrimSpace(fields[3])}, true
}

// replyText prefixes text with a mention of author unless it already mentions them.
func replyText(author, text string) string {
	mention := formatter.Sigil + author
	if strings.Contains(strings.ToLower(text), strings.ToLower(mention)) {
		return text
	}
	return mention + " " + text
}

// HandleInbound relays one room message to the feed.
//
// Plain messages are posted verbatim. Messages starting with the sigil are only ours when they
// name this connector's tag; those are parsed as `@tag:author:id:command_or_text` and run as a
// command against the referenced entry or posted as a threaded reply. Malformed commands are
// ignored. Feed failures are reported into the room and yield [Unhandled].
func (c *Connector) HandleInbound(ctx context.Context, core Core, body string) Handled {
	tag := c.Tag()
	ctx, span := telemetry.StartSpan(ctx, "connector.handle_inbound", attribute.String("service", tag))
	defer span.End()

	if !strings.HasPrefix(body, formatter.Sigil) {
		_, err := c.feed.Post(ctx, body)
		return c.inboundResult(core, "post", err)
	}

	if !strings.HasPrefix(body, formatter.Sigil+tag+":") {
		return Unhandled
	}

	cmd, ok := parseCommand(body)
	if !ok || cmd.Text == "" {
		c.logger.Debug("ignoring malformed command", "body", body)
		return Unhandled
	}

	if _, err := c.feed.GetEntry(ctx, cmd.ID); err != nil {
		telemetry.RecordError(span, err)
		return c.inboundResult(core, "lookup", err)
	}

	var (
		action string
		err    error
	)
	switch strings.ToLower(cmd.Text) {
	case CommandFavor:
		action, err = "favor", c.feed.Favorite(ctx, cmd.ID)
	case CommandRetweet:
		action, err = "retweet", c.feed.Retweet(ctx, cmd.ID)
	case CommandBlock:
		action, err = "block", c.feed.Block(ctx, cmd.Author)
	case CommandReport:
		action, err = "report", c.feed.ReportSpam(ctx, cmd.Author)
	default:
		action = "reply"
		_, err = c.feed.Reply(ctx, replyText(cmd.Author, cmd.Text), cmd.ID)
	}

	telemetry.RecordError(span, err)
	return c.inboundResult(core, action, err)
}

func (c *Connector) inboundResult(core Core, action string, err error) Handled {
	telemetry.InboundMessages.WithLabelValues(c.Tag(), action, telemetry.Outcome(err)).Inc()
	if err != nil {
		c.logger.Warn("inbound message failed", "action", action, "error", err)
		core.SendRoomMessage(c.room, "", formatter.ErrorNotice(c.Tag(), err), time.Time{})
		return Unhandled
	}

	c.logger.Debug("inbound message relayed", "action", action)
	return HandledBy(c.Tag())
}
