package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Router is the route registration surface used by the routes package.
// Group middleware applies to every route registered inside fn.
type Router interface {
	GET(path string, handler http.HandlerFunc)
	POST(path string, handler http.HandlerFunc)
	PUT(path string, handler http.HandlerFunc)
	DELETE(path string, handler http.HandlerFunc)

	Group(prefix string, fn func(Router), middlewares ...Middleware)
	Use(middlewares ...Middleware)

	Handler() http.Handler
	Walk(fn func(method, path string, handler http.Handler) error) error
}

type chiRouter struct {
	mux chi.Router
}

var _ Router = (*chiRouter)(nil)

// NewChiRouter returns a chi-backed Router. Trailing slashes are stripped so
// "/api/v1/plans/" and "/api/v1/plans" resolve to the same route.
func NewChiRouter() Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.CleanPath)
	r.Use(chimw.StripSlashes)
	return &chiRouter{mux: r}
}

func (r *chiRouter) GET(path string, h http.HandlerFunc)    { r.mux.Get(path, h) }
func (r *chiRouter) POST(path string, h http.HandlerFunc)   { r.mux.Post(path, h) }
func (r *chiRouter) PUT(path string, h http.HandlerFunc)    { r.mux.Put(path, h) }
func (r *chiRouter) DELETE(path string, h http.HandlerFunc) { r.mux.Delete(path, h) }

func (r *chiRouter) Group(prefix string, fn func(Router), middlewares ...Middleware) {
	r.mux.Route(prefix, func(cr chi.Router) {
		for _, mw := range middlewares {
			cr.Use(mw)
		}
		fn(&chiRouter{mux: cr})
	})
}

func (r *chiRouter) Use(middlewares ...Middleware) {
	for _, mw := range middlewares {
		r.mux.Use(mw)
	}
}

func (r *chiRouter) Handler() http.Handler {
	return r.mux
}

// Walk visits every registered route, skipping chi's internal "/*" mounts.
func (r *chiRouter) Walk(fn func(method, path string, handler http.Handler) error) error {
	return chi.Walk(r.mux, func(method, route string, handler http.Handler, _ ...func(http.Handler) http.Handler) error {
		if route == "/*" {
			return nil
		}
		return fn(method, route, handler)
	})
}
