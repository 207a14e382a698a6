package wsapi

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"carpool/carpool"
	log "carpool/cloudlog"
	"carpool/scope"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Time allowed for one request against the backend.
	requestTimeout = 30 * time.Second
)

// Client is a middleman between the websocket connection and one carpool API session. It is
// the owner of every observation started over the connection: closing the connection tears
// them all down.
type Client struct {
	id  string
	api *carpool.API
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan *Message

	// ctx bounds the observations of the connection; cancelled on close.
	ctx    context.Context
	cancel context.CancelFunc

	life *scope.Lifetime

	// Closed when the client is shut down. Senders select on it instead of send ever being
	// closed.
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]scope.Closer
}

var _ scope.Owner = (*Client)(nil)

// NewClient returns a client for conn acting through api. Start begins serving it.
func NewClient(id string, api *carpool.API, conn *websocket.Conn, hub *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     id,
		api:    api,
		hub:    hub,
		conn:   conn,
		send:   make(chan *Message, 256),
		ctx:    ctx,
		cancel: cancel,
		life:   scope.NewLifetime(),
		done:   make(chan struct{}),
		subs:   map[string]scope.Closer{},
	}
}

// ID identifies the connection in logs.
func (c *Client) ID() string {
	return c.id
}

// OnTeardown implements scope.Owner.
func (c *Client) OnTeardown(fn func()) {
	c.life.OnTeardown(fn)
}

// IsClosed returns true if the client is closed and shouldn't be interacted with anymore.
func (c *Client) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Start begins the read and write goroutines for the connection.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// close ends every observation of the client. writePump then says goodbye and closes the
// connection, which ends readPump. Safe to call many times.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.life.End()
	})
}

// readPump pumps messages from the websocket connection to the processor.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer c.hub.unregisterClient(c)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		var message Message
		err := c.conn.ReadJSON(&message)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("client %s read error: %v", c.id, err)
			}
			return
		}
		// Requests run concurrently; an observation holds its goroutine until it ends.
		go c.handle(&message)
	}
}

// writePump pumps messages from the processor to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				log.Printf("client %s write error: %v", c.id, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// push queues message for the peer. It returns false once the client is closed.
func (c *Client) push(message *Message) bool {
	if message == nil {
		return true
	}
	select {
	case c.send <- message:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) handle(message *Message) {
	c.push(c.processMessage(message))
}

// track registers a live observation under id so UNOBSERVE can find it.
func (c *Client) track(id string, h scope.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[id] = h
}

// untrack forgets the observation and returns it, nil if unknown.
func (c *Client) untrack(id string) scope.Closer {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.subs[id]
	if !ok {
		return nil
	}
	delete(c.subs, id)
	return h
}
