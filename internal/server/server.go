// package server contains the HTTP surface of the relay: health, metrics and the OAuth callback
package server

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/feedbridge/internal/relay"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an [http.Handler] that knows the paths it serves.
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the path patterns this handler serves
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers a custom Handler implementation
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// RoomLister reports the relay's current room bindings.
//
// Satisfied by [relay.Relay].
type RoomLister interface {
	Rooms() []relay.RoomInfo
}

// NewRouter builds the relay's operational router: /healthz and /metrics behind logging and
// panic recovery.
func NewRouter(rooms RoomLister, logger *log.Logger) *BasicRouter {
	r := NewBasicRouter()
	r.Use(RecoverMiddleware(logger), LoggingMiddleware(logger))
	r.Handler(NewHealthHandler(rooms))
	r.Handle(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// NewHTTPServer wraps handler in an [http.Server] listening on host:port.
func NewHTTPServer(host string, port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
