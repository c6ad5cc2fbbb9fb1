package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relaylabs/envelope/internal/httpapi/middleware"
)

// RouterConfig holds the handlers and middleware the router wires
// together. Auth is optional — when nil, /ws is mounted unauthenticated,
// which is only ever legal because the caller built the Auth with
// AllowUnauthenticated before constructing this config (see cmd/gateway).
type RouterConfig struct {
	AllowedOrigins []string
	Auth           *middleware.Auth
	Health         http.Handler
	WS             http.Handler
}

// NewRouter builds the gateway's HTTP surface: GET /healthz (unauthenticated)
// and GET /ws (behind Auth.Authenticate).
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Handle("/healthz", cfg.Health).Methods(http.MethodGet, http.MethodOptions)

	ws := r.NewRoute().Subrouter()
	if cfg.Auth != nil {
		ws.Use(cfg.Auth.Authenticate)
	}
	ws.Handle("/ws", cfg.WS).Methods(http.MethodGet)

	return r
}
