package devserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ngld/sitebuild/pkg/sitelog"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

// Message is pushed to every connected browser
type Message struct {
	// Command is either "reload" or "css"
	Command string `json:"command"`
	// Path is the changed stylesheet relative to the site root, only set for "css"
	Path string `json:"path,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Hub keeps track of all live-reload connections
type Hub struct {
	lock    sync.Mutex
	clients map[chan Message]struct{}
	done    chan struct{}
	closed  bool
}

// NewHub returns a hub without clients
func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan Message]struct{}),
		done:    make(chan struct{}),
	}
}

// Close disconnects all clients
func (h *Hub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()

	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

// Reload tells every browser to reload the page
func (h *Hub) Reload() {
	h.broadcast(Message{Command: "reload"})
}

// InjectCSS tells every browser to swap the given stylesheet without reloading the page
func (h *Hub) InjectCSS(path string) {
	h.broadcast(Message{Command: "css", Path: path})
}

// Clients returns the number of connected browsers
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg Message) {
	h.lock.Lock()
	defer h.lock.Unlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// the client is stuck; it will get the next message
		}
	}
}

func (h *Hub) subscribe() chan Message {
	ch := make(chan Message, 8)

	h.lock.Lock()
	h.clients[ch] = struct{}{}
	h.lock.Unlock()

	return ch
}

func (h *Hub) unsubscribe(ch chan Message) {
	h.lock.Lock()
	delete(h.clients, ch)
	h.lock.Unlock()
}

// ServeHTTP upgrades the request to a websocket and forwards hub messages until the browser
// disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sitelog.Log(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// unblocks the read loop below
		defer conn.Close()
		defer cancel()

		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
				return
			case msg := <-ch:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	sitelog.Log(ctx).Debug().Msg("live reload client connected")

	// the browser never sends anything; reading only detects the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	<-writerDone
	sitelog.Log(ctx).Debug().Msg("live reload client disconnected")
}
