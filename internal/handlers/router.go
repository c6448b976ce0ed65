package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shopeasy/storefront/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// routeGroup is a sub-tree of the API. An empty path registers on the API root, which the
// custom-method checkout routes (/checkout:advance) need.
type routeGroup struct {
	name      string
	path      string
	registrar RouteRegistrar
}

type routerConfig struct {
	basePath    string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 30 * time.Second
	errorNotFoundCode = "route_not_found"
)

// groupOrder fixes the registration order; every group is mounted even when unconfigured.
var groupOrder = []routeGroup{
	{name: "products", path: "/products"},
	{name: "cart", path: "/cart"},
	{name: "checkout", path: ""},
	{name: "addresses", path: "/addresses"},
	{name: "orders", path: "/orders"},
}

// NewRouter builds the storefront API router: request ids, real client IPs, a request timeout,
// JSON 404/405 bodies, health endpoints and the /api/v1 groups.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		timeout:  defaultTimeout,
		groups:   make(map[string]routeGroup),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, def := range groupOrder {
			group, ok := cfg.groups[def.name]
			switch {
			case ok && def.path == "":
				group.registrar(api)
			case ok:
				api.Route(def.path, func(sub chi.Router) { group.registrar(sub) })
			case def.path == "":
				api.HandleFunc("/"+def.name, notImplemented(def.name))
			default:
				api.Route(def.path, func(sub chi.Router) {
					sub.HandleFunc("/*", notImplemented(def.name))
					sub.HandleFunc("/", notImplemented(def.name))
				})
			}
		}
	})
	return r
}

func withGroup(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		if reg == nil {
			delete(cfg.groups, name)
			return
		}
		cfg.groups[name] = routeGroup{name: name, registrar: reg}
	}
}

// WithMiddlewares appends global middleware after the request id, real IP and timeout layers.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithProductRoutes mounts the catalog registrar under /products.
func WithProductRoutes(reg RouteRegistrar) Option { return withGroup("products", reg) }

// WithCartRoutes mounts the cart registrar under /cart.
func WithCartRoutes(reg RouteRegistrar) Option { return withGroup("cart", reg) }

// WithCheckoutRoutes hands the checkout registrar the API root router.
func WithCheckoutRoutes(reg RouteRegistrar) Option { return withGroup("checkout", reg) }

// WithAddressRoutes mounts the address book registrar under /addresses.
func WithAddressRoutes(reg RouteRegistrar) Option { return withGroup("addresses", reg) }

// WithOrderRoutes mounts the order registrar under /orders.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup("orders", reg) }

func notImplemented(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
}
