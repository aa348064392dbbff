package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/desertthunder/feedbridge/internal/telemetry"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Handshake headers carrying the component credentials.
const (
	HeaderComponent = "X-Component-Name"
	HeaderSecret    = "X-Component-Secret"
)

// Handler receives inbound stanzas on the event loop.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message)
	HandlePresence(ctx context.Context, p Presence)
}

// ReconnectConfig controls redial backoff.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int // 0 means retry until the context ends
}

// DefaultReconnectConfig returns the backoff used when none is given.
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// next returns the delay following d, capped at MaxDelay.
func (r *ReconnectConfig) next(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * r.Multiplier)
	if d > r.MaxDelay {
		d = r.MaxDelay
	}
	return d
}

// ComponentOptions configures a [Component].
type ComponentOptions struct {
	URL       string // websocket endpoint of the chat server
	Name      string // component address
	Secret    string
	QueueSize int
	Reconnect *ReconnectConfig
	Dialer    *websocket.Dialer
	Logger    *log.Logger
}

// Component is the link between the relay and the chat server.
//
// Inbound frames are decoded and posted to the [Loop]. Outbound frames go through a bounded
// queue drained by a single writer; the queue survives reconnects.
type Component struct {
	opts   ComponentOptions
	loop   *Loop
	send   chan []byte
	logger *log.Logger
}

// NewComponent creates a component that delivers inbound stanzas through loop.
func NewComponent(opts ComponentOptions, loop *Loop) *Component {
	telemetry.Init()

	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Reconnect == nil {
		opts.Reconnect = DefaultReconnectConfig()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &Component{
		opts:   opts,
		loop:   loop,
		send:   make(chan []byte, opts.QueueSize),
		logger: shared.WithLogger(opts.Logger, "component", "link", "name", opts.Name),
	}
}

// Schedule runs fn on the component's loop after delay.
func (c *Component) Schedule(delay time.Duration, fn func(context.Context)) {
	c.loop.Schedule(delay, fn)
}

// SendMessage queues a message stanza.
func (c *Component) SendMessage(msg Message) bool {
	return c.Send(Frame{Message: &msg})
}

// SendPresence queues a presence stanza.
func (c *Component) SendPresence(p Presence) bool {
	return c.Send(Frame{Presence: &p})
}

// Send queues a frame without blocking. A full queue drops the frame and returns false.
func (c *Component) Send(frame Frame) bool {
	raw, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("failed to encode frame", "error", err)
		return false
	}

	select {
	case c.send <- raw:
		telemetry.StanzasSent.WithLabelValues(frame.Kind()).Inc()
		return true
	default:
		telemetry.StanzasDropped.Inc()
		c.logger.Warn("send queue full, dropping stanza", "kind", frame.Kind())
		return false
	}
}

// Run keeps the link up until ctx ends, redialing with exponential backoff.
//
// A handshake rejected with 401 or 403 is returned as [shared.ErrAuthentication] without retrying.
func (c *Component) Run(ctx context.Context, h Handler) error {
	rc := c.opts.Reconnect
	delay := rc.InitialDelay
	attempts := 0

	for {
		conn, err := c.dial(ctx)
		telemetry.ComponentDialed.WithLabelValues(telemetry.Outcome(err)).Inc()
		switch {
		case errors.Is(err, shared.ErrAuthentication):
			return err
		case err != nil:
			attempts++
			c.logger.Warn("failed to connect to chat server", "attempt", attempts, "retry_in", delay, "error", err)
			if rc.MaxAttempts > 0 && attempts >= rc.MaxAttempts {
				return fmt.Errorf("failed to connect after %d attempts: %w", attempts, err)
			}
		default:
			attempts = 0
			delay = rc.InitialDelay
			c.logger.Info("connected to chat server", "url", c.opts.URL)

			telemetry.SetComponentUp(true)
			c.session(ctx, conn, h)
			telemetry.SetComponentUp(false)
			c.logger.Warn("disconnected from chat server")
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if attempts > 0 {
			delay = rc.next(delay)
		}
	}
}

func (c *Component) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set(HeaderComponent, c.opts.Name)
	header.Set(HeaderSecret, c.opts.Secret)

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: chat server rejected component %s (HTTP %d)", shared.ErrAuthentication, c.opts.Name, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// session runs the pumps of one connection and returns when either side fails or ctx ends.
func (c *Component) session(ctx context.Context, conn *websocket.Conn, h Handler) {
	stop := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		c.writePump(ctx, conn, stop)
	}()

	c.readPump(conn, h)
	close(stop)
	<-writerDone
}

func (c *Component) writePump(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case raw := <-c.send:
			if !c.write(conn, websocket.TextMessage, raw) {
				return
			}
		case <-ticker.C:
			if !c.write(conn, websocket.PingMessage, nil) {
				return
			}
		case <-ctx.Done():
			c.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-stop:
			return
		}
	}
}

func (c *Component) write(conn *websocket.Conn, msgType int, data []byte) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			c.logger.Warn("failed to write frame", "error", err)
		}
		return false
	}
	return true
}

func (c *Component) readPump(conn *websocket.Conn, h Handler) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("failed to read frame", "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("ignoring malformed frame", "error", err)
			continue
		}

		switch {
		case frame.Message != nil:
			msg := *frame.Message
			c.loop.Post(func(ctx context.Context) { h.HandleMessage(ctx, msg) })
		case frame.Presence != nil:
			p := *frame.Presence
			c.loop.Post(func(ctx context.Context) { h.HandlePresence(ctx, p) })
		default:
			c.logger.Debug("ignoring empty frame")
		}
	}
}
