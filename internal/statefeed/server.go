// Package statefeed pushes daemon state changes to UI clients over a local
// WebSocket endpoint. Clients connect to ws://<feed_addr>/feed and receive a
// JSON event every time the recording state, the note collection, or an open
// note changes. The feed is one-way; commands travel through internal/ipc.
package statefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiroq/lectured/internal/diaglog"
)

// Event is a single state-change notification.
type Event struct {
	Type      string          `json:"type"` // "recording", "collection", "note"
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Server accepts WebSocket clients and broadcasts events to all of them.
type Server struct {
	addr     string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	last    map[string]Event // replayed to new clients so they start in sync
	closed  bool

	httpServer *http.Server

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// NewServer creates a feed server listening on addr.
func NewServer(addr string) *Server {
	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			// The feed binds to loopback; any local client may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
		last:    make(map[string]Event),
	}
}

// SetLogger installs a structured diagnostic logger.
func (s *Server) SetLogger(logger *diaglog.Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	s.logger = logger
}

func (s *Server) log(event string, payload map[string]interface{}) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentStateFeed,
			Event:     event,
			Payload:   payload,
		})
	}
}

// Start begins serving in a background goroutine. It returns once the
// listener is registered; serve errors after shutdown are ignored.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleFeed)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log("feed_serve_error", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

// Close disconnects all clients and stops the HTTP server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.mu.Unlock()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Broadcast marshals data and sends a typed event to every connected client.
// Slow or dead clients are dropped rather than blocking the broadcast.
func (s *Server) Broadcast(eventType string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      raw,
	}
	msg, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.last[eventType] = event

	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(s.clients, conn)
			s.log(diaglog.EventFeedClientGone, map[string]interface{}{"error": err.Error()})
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Replay and registration happen under the same lock Broadcast writes
	// under: the connection allows only one concurrent writer, and Broadcast
	// must not reach the conn until its replay is complete.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	for _, event := range s.last {
		msg, merr := json.Marshal(event)
		if merr != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if werr := conn.WriteMessage(websocket.TextMessage, msg); werr != nil {
			s.mu.Unlock()
			conn.Close()
			return
		}
	}
	s.clients[conn] = true
	s.mu.Unlock()

	s.log(diaglog.EventFeedClientConnect, map[string]interface{}{
		"remote": r.RemoteAddr,
	})

	// Read loop exists only to detect the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				if _, ok := s.clients[conn]; ok {
					conn.Close()
					delete(s.clients, conn)
				}
				closed := s.closed
				s.mu.Unlock()
				if !closed {
					s.log(diaglog.EventFeedClientGone, nil)
				}
				return
			}
		}
	}()
}
