// Package wsapi is the websocket gateway in front of the carpool API. Every connection owns one
// API session; observations requested over a connection live until they are unobserved or the
// connection goes away.
package wsapi

import (
	"context"

	log "carpool/cloudlog"
	"carpool/metrics"
)

// Hub maintains the set of active clients and closes them when it stops.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Register requests from the connector.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Count requests; the number of clients is sent back on the given chan.
	count chan chan int

	// Closed when Run returns.
	stopped chan struct{}
}

// NewHub returns a hub that serves clients once Run is called.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		stopped:    make(chan struct{}),
	}
}

// Run listens on all channels until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	log.Print("start hub")
	defer func() {
		for client := range h.clients {
			h.removeClient(client)
		}
		close(h.stopped)
		log.Print("close hub")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
			metrics.Connections.Inc()
			log.Printf("client %s connected", client.id)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.removeClient(client)
			}
			client.close()
		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// registerClient adds client to the hub. It returns false if the hub has stopped.
func (h *Hub) registerClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.stopped:
		return false
	}
}

// unregisterClient removes client from the hub and closes it.
func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
		client.close()
	}
}

// Clients returns the number of connected clients, 0 once the hub has stopped.
func (h *Hub) Clients() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.stopped:
		return 0
	}
}

func (h *Hub) removeClient(client *Client) {
	delete(h.clients, client)
	metrics.Connections.Dec()
	client.close()
	log.Printf("client %s disconnected", client.id)
}
