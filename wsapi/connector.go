package wsapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"carpool/carpool"
	log "carpool/cloudlog"
	"carpool/wscodes"
)

// Connector facilitates connecting users to the hub: it authenticates the upgrade request and
// gives every connection its own API session.
type Connector struct {
	hub      *Hub
	newAPI   func() *carpool.API
	upgrader websocket.Upgrader
}

// NewConnector returns a connector registering clients with hub. newAPI must return a fresh
// API without a session for every call.
func NewConnector(hub *Hub, newAPI func() *carpool.API) *Connector {
	return &Connector{
		hub:    hub,
		newAPI: newAPI,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (hc *Connector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hc.ServeWs(w, r)
}

// ServeWs upgrades the request. A bearer ID token resumes that user's session; without one the
// session is created anonymously on the first request that needs it.
func (hc *Connector) ServeWs(w http.ResponseWriter, r *http.Request) {
	api := hc.newAPI()
	if token := bearerToken(r); token != "" {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		if _, err := api.Resume(ctx, token); err != nil {
			log.Printf("rejecting websocket from %s: %v", r.RemoteAddr, err)
			status, _ := wscodes.ForError(err)
			http.Error(w, status, http.StatusUnauthorized)
			return
		}
	}

	conn, err := hc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	client := NewClient(uuid.NewString(), api, conn, hc.hub)
	if !hc.hub.registerClient(client) {
		conn.Close()
		return
	}
	client.Start()
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
