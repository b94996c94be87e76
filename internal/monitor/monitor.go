// Package monitor serves live run progress over HTTP and WebSocket: frame
// summaries are pushed to connected clients as each frame completes.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"dicengine/internal/engine"
)

// Server exposes run status endpoints and a WebSocket frame feed. It
// implements engine.FrameListener.
type Server struct {
	log      *slog.Logger
	port     int
	upgrader websocket.Upgrader
	hub      *WebSocketHub

	mu      sync.RWMutex
	runID   string
	started time.Time
	latest  *engine.FrameSummary
	frames  []engine.FrameSummary
}

// WebSocketHub fans frame updates out to connected clients.
type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// RunStatus is the /api/status payload.
type RunStatus struct {
	RunID          string               `json:"run_id"`
	Started        time.Time            `json:"started"`
	FramesComplete int                  `json:"frames_complete"`
	Latest         *engine.FrameSummary `json:"latest,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
}

// NewServer builds a monitor for one run.
func NewServer(log *slog.Logger, port int, runID string) *Server {
	hub := &WebSocketHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
	return &Server{
		log:  log,
		port: port,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hub:     hub,
		runID:   runID,
		started: time.Now(),
	}
}

// Start serves until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)

	router := mux.NewRouter()
	router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/api/frames", s.handleFrames).Methods("GET")
	router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}
	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	s.log.Info("monitor listening", "port", s.port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// OnFrameComplete records the summary and pushes it to WebSocket clients.
func (s *Server) OnFrameComplete(summary engine.FrameSummary) {
	s.mu.Lock()
	s.latest = &summary
	s.frames = append(s.frames, summary)
	s.mu.Unlock()

	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}
	select {
	case s.hub.broadcast <- payload:
	default:
		s.log.Warn("monitor broadcast buffer full, dropping frame update", "frame", summary.Frame)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	status := RunStatus{
		RunID:          s.runID,
		Started:        s.started,
		FramesComplete: len(s.frames),
		Latest:         s.latest,
		Timestamp:      time.Now(),
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	frames := append([]engine.FrameSummary(nil), s.frames...)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(frames)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.register <- conn

	go func() {
		defer func() {
			s.hub.unregister <- conn
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (h *WebSocketHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
			}
			return
		case conn := <-h.register:
			h.clients[conn] = true
		case conn := <-h.unregister:
			delete(h.clients, conn)
		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
		}
	}
}
