// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"net/http"
	"sync"

	"pvrec/internal/log"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: closed")

// WebSocketTransport broadcasts events as JSON to every connected client.
// Send never blocks: when the broadcast queue is full the event is dropped
// and counted.
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	done      chan struct{}
	wg        sync.WaitGroup
	server    *http.Server
	dropped   uint64
	closeOnce sync.Once
}

// NewWebSocketTransport creates a transport and starts its broadcast loop.
// Call ListenAndServe to expose it on addr, or mount Handler elsewhere.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Local observers only.
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, 256),
		done:      make(chan struct{}),
	}

	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// Handler returns the upgrade handler, served at /ws by ListenAndServe.
func (wst *WebSocketTransport) Handler() http.Handler {
	return http.HandlerFunc(wst.handleWebSocket)
}

// ListenAndServe blocks serving /ws on the configured address until Close.
func (wst *WebSocketTransport) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.Handle("/ws", wst.Handler())

	wst.clientsMu.Lock()
	wst.server = &http.Server{
		Addr:    wst.addr,
		Handler: mux,
	}
	srv := wst.server
	wst.clientsMu.Unlock()

	log.Infof("transport: websocket server on %s", wst.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("transport: websocket upgrade: %v", err)
		return
	}

	wst.clientsMu.Lock()
	select {
	case <-wst.done:
		wst.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	wst.clients[conn] = true
	n := len(wst.clients)
	wst.clientsMu.Unlock()
	log.Debugf("transport: websocket client connected, total: %d", n)

	// Clients only listen; a read error means they went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.removeClient(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) removeClient(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	if wst.clients[conn] {
		delete(wst.clients, conn)
		conn.Close()
	}
	n := len(wst.clients)
	wst.clientsMu.Unlock()
	log.Debugf("transport: websocket client disconnected, total: %d", n)
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Dropped returns the number of events dropped on a full queue.
func (wst *WebSocketTransport) Dropped() uint64 {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return wst.dropped
}

// handleBroadcasts sends messages to all connected clients
func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for {
		select {
		case <-wst.done:
			return
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				if err := client.WriteJSON(data); err != nil {
					log.Debugf("transport: websocket write: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Send queues data for broadcast.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.done:
		return ErrClosed
	default:
	}
	select {
	case wst.broadcast <- data:
	default:
		wst.clientsMu.Lock()
		wst.dropped++
		wst.clientsMu.Unlock()
	}
	return nil
}

// Close disconnects all clients and shuts the server down.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		close(wst.done)
		wst.wg.Wait()

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		srv := wst.server
		wst.clientsMu.Unlock()

		if srv != nil {
			err = srv.Close()
		}
		log.Debugf("transport: websocket transport closed")
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
