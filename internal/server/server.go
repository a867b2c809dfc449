package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/caramat/internal/controller"
	"github.com/shaunagostinho/caramat/internal/engine"
)

// Engine is the intent surface the HTTP API drives. *engine.Engine
// implements it.
type Engine interface {
	RequestAutotune() error
	RequestCycle(cfg engine.CycleConfig) error
	SubmitGains(g controller.GainTriple) error
	Stop() (bool, error)
}

// Server exposes the engine over HTTP and pushes engine output to
// WebSocket clients. It implements engine.Observer.
type Server struct {
	cfg *Config

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	stateMu    sync.RWMutex
	snapshot   *engine.Snapshot
	lastStatus string
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Snapshot *engine.Snapshot `json:"snapshot,omitempty"`
	Status   string           `json:"status,omitempty"`
	Fault    string           `json:"fault,omitempty"`
	Stamp    int64            `json:"stamp"` // Unix ms
}

// New creates a new Server.
func New(cfg *Config) *Server {
	return &Server{
		cfg:     cfg,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Status implements engine.Observer.
func (s *Server) Status(msg string) {
	log.Printf("[engine] %s", msg)
	s.stateMu.Lock()
	s.lastStatus = msg
	s.stateMu.Unlock()
	s.broadcast(Frame{Status: msg, Stamp: time.Now().UnixMilli()})
}

// Snapshot implements engine.Observer.
func (s *Server) Snapshot(snap engine.Snapshot) {
	s.stateMu.Lock()
	s.snapshot = &snap
	s.stateMu.Unlock()
	s.broadcast(Frame{Snapshot: &snap, Stamp: time.Now().UnixMilli()})
}

// Fault implements engine.Observer.
func (s *Server) Fault(err error) {
	s.broadcast(Frame{Fault: err.Error(), Stamp: time.Now().UnixMilli()})
}

// Handler builds the HTTP routes for eng.
func (s *Server) Handler(eng Engine) http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/autotune", func(w http.ResponseWriter, r *http.Request) {
		if err := eng.RequestAutotune(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
	}).Methods(http.MethodPost)
	api.HandleFunc("/gains", func(w http.ResponseWriter, r *http.Request) {
		var g controller.GainTriple
		if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := eng.SubmitGains(g); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
	}).Methods(http.MethodPost)
	api.HandleFunc("/cycle", func(w http.ResponseWriter, r *http.Request) {
		cfg := s.cfg.CycleDefaults()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := eng.RequestCycle(cfg); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
	}).Methods(http.MethodPost)
	api.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		ok, err := eng.Stop()
		if err != nil {
			writeError(w, err)
			return
		}
		code := http.StatusOK
		if !ok {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]bool{"stopped": ok})
	}).Methods(http.MethodPost)
	api.HandleFunc("/config", s.getConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", s.postConfig).Methods(http.MethodPost)

	r.HandleFunc("/ws", s.handleWS)
	return r
}

// Run serves the API until ctx is cancelled.
func (s *Server) Run(ctx context.Context, eng Engine) error {
	addr := s.cfg.ListenAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(eng),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusResponse struct {
	Snapshot *engine.Snapshot `json:"snapshot"`
	Status   string           `json:"status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.stateMu.RLock()
	resp := statusResponse{Snapshot: s.snapshot, Status: s.lastStatus}
	s.stateMu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) postConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.cfg.UpdateFromJSON(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.cfg.Save(); err != nil {
		log.Printf("[config] save failed: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Send the latest state so new clients don't wait a full period.
	s.stateMu.RLock()
	initial := Frame{Snapshot: s.snapshot, Status: s.lastStatus, Stamp: time.Now().UnixMilli()}
	s.stateMu.RUnlock()
	if data, err := json.Marshal(initial); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive; clients don't send commands here)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			close(client.send)
			n := len(s.clients)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine and controller errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case engine.IsStateError(err):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidCycleConfig):
		code = http.StatusBadRequest
	case controller.IsIOError(err), controller.IsProtocolError(err):
		code = http.StatusBadGateway
	}
	http.Error(w, err.Error(), code)
}
