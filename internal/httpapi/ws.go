package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/relaylabs/envelope/internal/bus"
	"github.com/relaylabs/envelope/internal/consumer"
	"github.com/relaylabs/envelope/internal/dispatch"
	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/httpapi/middleware"
	"github.com/relaylabs/envelope/internal/layer"
	"github.com/relaylabs/envelope/internal/registry"
)

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := false
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			break
		}
		originSet[o] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return false
			}
			_, ok := originSet[origin]
			return ok
		},
	}
}

// WSHandler upgrades GET /ws into a consumer.Session and runs it for the
// lifetime of the connection.
type WSHandler struct {
	layer      layer.ChannelLayer
	transport  envelope.Transport
	catalog    *registry.Catalog
	dispatcher *dispatch.Dispatcher
	bus        *bus.Bus
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler wires the collaborators every accepted session needs.
func NewWSHandler(l layer.ChannelLayer, transport envelope.Transport, catalog *registry.Catalog, dispatcher *dispatch.Dispatcher, b *bus.Bus, logger *slog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		layer:      l,
		transport:  transport,
		catalog:    catalog,
		dispatcher: dispatcher,
		bus:        b,
		logger:     logger,
		upgrader:   newUpgrader(allowedOrigins),
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userPK := middleware.UserPK(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("httpapi: websocket upgrade failed", "error", err)
		return
	}

	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = "en"
	}

	sess := consumer.New(conn, userPK, lang, h.layer, h.transport, h.catalog, h.dispatcher, h.bus, h.logger)

	ctx := context.Background()
	if err := sess.Accept(ctx); err != nil {
		h.logger.Warn("httpapi: session accept failed", "error", err)
	}
}
