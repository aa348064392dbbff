// Package server provides the relay's HTTP surface.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Operational Endpoints
//
// [NewRouter] serves /healthz, a JSON snapshot of room bindings from [HealthHandler], and /metrics
// in the Prometheus exposition format. Requests are logged by [LoggingMiddleware] and panics are
// turned into 500 responses by [RecoverMiddleware].
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the OAuth2 authorization code callback used by `accounts link`.
// It validates the state parameter, exchanges the authorization code for tokens, and sends the
// result through a channel. Only the first callback is processed.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
