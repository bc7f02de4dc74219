// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"rosettas/internal/log"

	"github.com/gorilla/websocket"
)

const (
	broadcastBuffer = 256
	writeWait       = time.Second
)

// WebSocketTransport implements the Transport interface for WebSocket
// connections. Every value passed to Send is written as JSON to all clients
// connected on /ws.
//
// Thread Safety:
// - Uses mutex for client map access
// - Send never blocks; values are dropped while the broadcast queue is full
type WebSocketTransport struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	server    *http.Server
	listener  net.Listener
	logger    *log.Logger

	closeMu sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	done    chan struct{}
}

// NewWebSocketTransport binds addr and starts serving /ws. Binding errors are
// returned immediately.
func NewWebSocketTransport(addr string) (*WebSocketTransport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	wst := &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Local monitoring clients come from any origin.
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, broadcastBuffer),
		listener:  ln,
		logger:    log.New("websocket"),
		done:      make(chan struct{}),
	}

	wst.start()
	return wst, nil
}

// Addr returns the address the server is listening on.
func (wst *WebSocketTransport) Addr() net.Addr {
	return wst.listener.Addr()
}

func (wst *WebSocketTransport) start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wst.handleWebSocket)

	wst.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		wst.logger.Infof("Serving frames on ws://%s/ws", wst.listener.Addr())
		if err := wst.server.Serve(wst.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wst.logger.Errorf("Server error: %v", err)
		}
	}()

	go wst.handleBroadcasts()
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.logger.Warnf("Upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	wst.logger.Infof("Client connected from %s, total: %d", conn.RemoteAddr(), total)

	// Clients only listen; the read loop detects disconnects.
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
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()

	if ok {
		conn.Close()
		wst.logger.Infof("Client disconnected, total: %d", total)
	}
}

// ClientCount returns the number of connected clients.
func (wst *WebSocketTransport) ClientCount() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Dropped returns the number of values discarded because the queue was full.
func (wst *WebSocketTransport) Dropped() uint64 {
	return wst.dropped.Load()
}

// handleBroadcasts sends messages to all connected clients
func (wst *WebSocketTransport) handleBroadcasts() {
	defer close(wst.done)
	for data := range wst.broadcast {
		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.WriteJSON(data); err != nil {
				wst.logger.Warnf("Error sending to %s: %v", client.RemoteAddr(), err)
				client.Close()
				delete(wst.clients, client)
			}
		}
		wst.clientsMu.Unlock()
	}
}

// Send queues data for broadcast. A full queue drops the value.
func (wst *WebSocketTransport) Send(data any) error {
	wst.closeMu.RLock()
	defer wst.closeMu.RUnlock()
	if wst.closed {
		return ErrClosed
	}

	select {
	case wst.broadcast <- data:
	default:
		wst.dropped.Add(1)
	}
	return nil
}

// Close shuts down the server and disconnects every client.
func (wst *WebSocketTransport) Close() error {
	wst.closeMu.Lock()
	if wst.closed {
		wst.closeMu.Unlock()
		return nil
	}
	wst.closed = true
	close(wst.broadcast)
	wst.closeMu.Unlock()

	<-wst.done
	wst.logger.Infof("Closing server")

	wst.clientsMu.Lock()
	for client := range wst.clients {
		client.Close()
	}
	wst.clients = make(map[*websocket.Conn]bool)
	wst.clientsMu.Unlock()

	return wst.server.Close()
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
