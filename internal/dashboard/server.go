// Package dashboard provides a real-time WebSocket status feed for the
// sync daemon.
//
// Every connected client is greeted with the latest statistics and then
// receives run results, per-change outcomes and pending counts as they
// happen. A client that cannot keep up is disconnected rather than slowing
// down the daemon.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeRunComplete indicates a reconcile run was applied
	MessageTypeRunComplete MessageType = "run_complete"

	// MessageTypeChange indicates a single change was applied or failed
	MessageTypeChange MessageType = "change"

	// MessageTypePending indicates the deferred changes of a side changed
	MessageTypePending MessageType = "pending"

	// MessageTypeStats indicates updated daemon statistics
	MessageTypeStats MessageType = "stats"
)

// Message is one frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// clientQueueSize bounds the frames waiting for one client.
const clientQueueSize = 64

const writeTimeout = 5 * time.Second

type client struct {
	conn  *websocket.Conn
	queue chan []byte
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string

	// Port to listen on (default: 7420, 0 picks a free port)
	Port int

	// Logger for server activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   7420,
		Logger: log.Default(),
	}
}

// Server accepts dashboard clients and fans messages out to them.
type Server struct {
	addr     string
	logger   *log.Logger
	listener net.Listener
	http     *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	stats   []byte // last stats frame, the greeting of new clients
	closed  bool

	wg sync.WaitGroup
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	greeting, _ := json.Marshal(Message{Type: MessageTypeStats})
	return &Server{
		addr:    net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		logger:  logger,
		clients: make(map[*client]struct{}),
		stats:   greeting,
	}
}

// Start listens and serves /ws, /stats and /health in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Dashboard server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		close(c.queue)
		delete(s.clients, c)
	}
	s.mu.Unlock()

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("dashboard shutdown: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	return err
}

// Broadcast queues msg for every connected client. A zero timestamp is
// set to now. Stats messages also become the greeting of later clients.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if msg.Type == MessageTypeStats {
		s.stats = frame
	}
	for c := range s.clients {
		select {
		case c.queue <- frame:
		default:
			s.logger.Println("Warning: dashboard client too slow, disconnecting")
			s.dropLocked(c)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, queue: make(chan []byte, clientQueueSize)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	// The greeting is queued under the lock so no broadcast can overtake it.
	c.queue <- s.stats
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()

	s.logger.Printf("Client connected (total: %d)", n)

	ctx := conn.CloseRead(context.Background())
	s.writeLoop(ctx, c)
}

// writeLoop sends queued frames until the queue is closed or the client
// goes away.
func (s *Server) writeLoop(ctx context.Context, c *client) {
	defer func() {
		s.mu.Lock()
		s.dropLocked(c)
		n := len(s.clients)
		s.mu.Unlock()
		s.logger.Printf("Client disconnected (total: %d)", n)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.queue:
			if !ok {
				_ = c.conn.Close(websocket.StatusGoingAway, "closing")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// dropLocked unregisters c and closes its queue. s.mu must be held.
func (s *Server) dropLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.queue)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	frame := s.stats
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(frame)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}{"ok", s.ClientCount()})
}

// Addr returns the listening address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
