// Package control provides the jeand control plane: line-delimited JSON
// RPC plus pushed events over a unix socket.
package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
)

// HandlerFunc is the signature for API method handlers.
type HandlerFunc func(params json.RawMessage) (any, error)

// Request represents an incoming API request.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     string          `json:"id,omitempty"`
}

// ErrorInfo is a structured RPC error. Code carries the taxonomy
// (not_found, conflict, busy, transient) so clients can recover
// instead of treating every failure as opaque.
type ErrorInfo struct {
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Response represents an outgoing API response.
type Response struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorInfo      `json:"error,omitempty"`
	ID    string          `json:"id,omitempty"`
}

// Event represents a pushed event to clients.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event of the given type.
func NewEvent(eventType string, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{Type: eventType, Payload: data}
}

// Server handles incoming connections on the unix socket.
type Server struct {
	socketPath string
	listener   net.Listener
	handlers   map[string]HandlerFunc
	mu         sync.RWMutex
	clients    map[net.Conn]*sync.Mutex // per-conn write lock
	done       chan struct{}
}

// NewServer creates a new control server.
func NewServer(socketPath string) *Server {
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		clients:    make(map[net.Conn]*sync.Mutex),
		done:       make(chan struct{}),
	}
}

// Handle registers a handler for a method.
func (s *Server) Handle(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// Start begins listening for connections.
func (s *Server) Start() error {
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener
	os.Chmod(s.socketPath, 0700)

	go s.acceptLoop()
	return nil
}

// Stop closes the server and all client connections.
func (s *Server) Stop() error {
	close(s.done)

	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	os.Remove(s.socketPath)
	return nil
}

// Broadcast sends an event to all connected clients. The transport makes
// no redelivery promise, which is why clients pair event subscription
// with fallback polling.
func (s *Server) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.RLock()
	defer s.mu.RUnlock()

	for conn, wmu := range s.clients {
		wmu.Lock()
		conn.Write(data)
		wmu.Unlock()
	}
}

func (s *Server) acceptLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}

		s.mu.Lock()
		s.clients[conn] = &sync.Mutex{}
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.sendError(conn, "", fmt.Errorf("invalid request: %w", err))
			continue
		}

		s.mu.RLock()
		handler, ok := s.handlers[req.Method]
		s.mu.RUnlock()

		if !ok {
			s.sendError(conn, req.ID, fmt.Errorf("unknown method: %s", req.Method))
			continue
		}

		data, err := handler(req.Params)
		if err != nil {
			s.sendError(conn, req.ID, err)
			continue
		}

		s.sendResponse(conn, req.ID, data)
	}
}

func (s *Server) writeTo(conn net.Conn, data []byte) {
	s.mu.RLock()
	wmu, ok := s.clients[conn]
	s.mu.RUnlock()
	if !ok {
		return
	}
	wmu.Lock()
	conn.Write(append(data, '\n'))
	wmu.Unlock()
}

func (s *Server) sendResponse(conn net.Conn, id string, data any) {
	raw, _ := json.Marshal(data)
	encoded, _ := json.Marshal(Response{Data: raw, ID: id})
	s.writeTo(conn, encoded)
}

func (s *Server) sendError(conn net.Conn, id string, err error) {
	encoded, _ := json.Marshal(Response{Error: wireError(err), ID: id})
	s.writeTo(conn, encoded)
}
