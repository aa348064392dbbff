package server

import (
	"net/http"
	"slices"
	"strings"
)

// BasicRouter implements [Router] on top of [http.ServeMux] method patterns.
//
// A path registered for one method answers other methods with 405 and an Allow header.
type BasicRouter struct {
	mux         *http.ServeMux
	middlewares []Middleware
	patterns    []string
}

func NewBasicRouter() *BasicRouter {
	return &BasicRouter{
		mux:         http.NewServeMux(),
		middlewares: []Middleware{},
	}
}

// Use appends middleware; it only wraps handlers registered afterwards.
func (r *BasicRouter) Use(middleware ...Middleware) {
	r.middlewares = append(r.middlewares, middleware...)
}

// Handle registers handler for "METHOD path". GET also serves HEAD.
func (r *BasicRouter) Handle(method, path string, handler http.Handler) {
	r.register(strings.ToUpper(method)+" "+path, handler)
}

// Handler registers every route of a [Handler] for any method; the handler checks methods itself.
func (r *BasicRouter) Handler(handler Handler) {
	for _, route := range handler.Routes() {
		r.register(route, handler)
	}
}

func (r *BasicRouter) register(pattern string, handler http.Handler) {
	r.mux.Handle(pattern, r.Apply(handler))
	r.patterns = append(r.patterns, pattern)
}

// Routes returns the registered patterns in order.
func (r *BasicRouter) Routes() []string {
	routes := slices.Clone(r.patterns)
	slices.Sort(routes)
	return routes
}

func (r *BasicRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Apply wraps handler with the registered middleware; the first added runs outermost.
func (r *BasicRouter) Apply(handler http.Handler) http.Handler {
	wrapped := handler
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		wrapped = r.middlewares[i](wrapped)
	}
	return wrapped
}
