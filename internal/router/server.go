// Package router distributes session events to WebSocket connections
// under wildcard and exclusivity subscription rules, and translates
// client requests into session manager calls.
package router

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"agent-relay/internal/protocol"
	"agent-relay/internal/session"
	"agent-relay/internal/watcher"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	clientSendBufCap = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Server owns the WebSocket connections, their subscription sets, and the
// exclusive-pattern table. It consumes the manager's tagged event stream
// and delivers each event to exactly the connections that asked for it.
type Server struct {
	manager   *session.Manager
	fileWatch *watcher.Watcher
	staticDir string

	clientsMu sync.RWMutex
	clients   map[*client]bool

	// exclusiveMu guards the pattern → current holder table.
	// Last exclusive subscriber wins.
	exclusiveMu sync.Mutex
	exclusive   map[string]*client
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	mu        sync.Mutex
	patterns  map[string]bool // all subscribed patterns
	exclusive map[string]bool // patterns this client claimed exclusively
}

// New creates a router server.
func New(manager *session.Manager, fileWatch *watcher.Watcher, staticDir string) *Server {
	return &Server{
		manager:   manager,
		fileWatch: fileWatch,
		staticDir: staticDir,
		clients:   make(map[*client]bool),
		exclusive: make(map[string]*client),
	}
}

// Run consumes the manager's event stream and distributes it until the
// stream ends. Call in a goroutine.
func (s *Server) Run() {
	for ev := range s.manager.Events() {
		s.Deliver(ev.Name, protocol.EventPush{
			Event:     ev.Name,
			SessionID: ev.SessionID,
			Payload:   ev.Payload,
		})
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /sessions/{id}/prompt", s.handleSendPrompt)
	mux.HandleFunc("POST /sessions/{id}/interrupt", s.handleInterrupt)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleCloseSession)

	// Static file serving.
	if s.staticDir != "" {
		fileServer := http.FileServer(http.Dir(s.staticDir))
		mux.Handle("/", fileServer)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := s.addClient(conn)

	go c.writePump()
	go c.readPump()
}

// addClient registers a connection with an empty subscription set.
func (s *Server) addClient(conn *websocket.Conn) *client {
	c := &client{
		conn:      conn,
		send:      make(chan []byte, clientSendBufCap),
		server:    s,
		patterns:  make(map[string]bool),
		exclusive: make(map[string]bool),
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	return c
}

// removeClient clears a disconnected client's subscriptions wholesale and
// releases any exclusive claims it held.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	if !s.clients[c] {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, c)
	s.clientsMu.Unlock()

	s.exclusiveMu.Lock()
	for pattern, holder := range s.exclusive {
		if holder == c {
			delete(s.exclusive, pattern)
		}
	}
	s.exclusiveMu.Unlock()

	close(c.send)
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue pushes raw bytes to one client, dropping if its buffer is full.
func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		// Client buffer full, skip.
	}
}

// Deliver sends an event to every connection with a matching pattern,
// honoring exclusive-delivery rules.
func (s *Server) Deliver(name string, push protocol.EventPush) {
	msg, err := protocol.NewMessage(protocol.TypeEvent, "", push)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		if s.clientMatches(c, name) {
			c.enqueue(data)
		}
	}
}

// OnWorkspaceChange is the file watcher callback; it feeds workspace
// events into the same delivery path as session events.
func (s *Server) OnWorkspaceChange(sessionID string, fileCount int) {
	s.Deliver(watcher.EventFilesChanged, protocol.EventPush{
		Event:     watcher.EventFilesChanged,
		SessionID: sessionID,
		Payload:   watcher.FilesChangedPayload{FileCount: fileCount},
	})
}

// reply sends a direct response to the issuing connection only. This
// holds even when other connections subscribe to the same event name.
func (s *Server) reply(c *client, msgType, id string, payload any) {
	msg, err := protocol.NewMessage(msgType, id, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (s *Server) replyError(c *client, id, code, message string) {
	msg, err := protocol.NewErrorMessage(id, code, message)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}
